package gen

import (
	"fmt"
	"reflect"

	"github.com/chazu/replay/startup"
)

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// frame is the execution state of one procedure invocation.
type frame struct {
	prog   *Program
	ctx    *startup.Context
	shared []any
	locals []any
	proc   *Proc
}

func newFrame(p *Program, ctx *startup.Context, shared []any, proc *Proc) *frame {
	return &frame{
		prog:   p,
		ctx:    ctx,
		shared: shared,
		locals: make([]any, proc.locals),
		proc:   proc,
	}
}

func (f *frame) run() error {
	for _, in := range f.proc.instrs {
		if err := in.exec(f); err != nil {
			return fmt.Errorf("gen: %s: %s: %w", f.proc.name, in, err)
		}
	}
	return nil
}

// callValue invokes a method or function value with coerced arguments.
// A trailing error result, when non-nil, aborts the call; the first
// remaining result (if any) is returned.
func callValue(f *frame, fn reflect.Value, args []Local) (any, error) {
	ft := fn.Type()
	fixed := ft.NumIn()
	if ft.IsVariadic() {
		fixed--
	}
	if ft.IsVariadic() {
		if len(args) < fixed {
			return nil, fmt.Errorf("want at least %d args, have %d", fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, fmt.Errorf("want %d args, have %d", fixed, len(args))
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var want reflect.Type
		if i < fixed {
			want = ft.In(i)
		} else {
			want = ft.In(ft.NumIn() - 1).Elem()
		}
		v, err := coerce(f.locals[a], want)
		if err != nil {
			return nil, fmt.Errorf("arg %d: %w", i, err)
		}
		in[i] = v
	}
	out := fn.Call(in)
	if n := len(out); n > 0 && ft.Out(n-1) == errorType {
		if !out[n-1].IsNil() {
			return nil, out[n-1].Interface().(error)
		}
		out = out[:n-1]
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0].Interface(), nil
}

// Coerce adapts a runtime value to the wanted type. It is the
// conversion every instruction applies to its operands, exported for
// backends that replay instruction semantics outside the interpreter.
func Coerce(v any, want reflect.Type) (reflect.Value, error) {
	return coerce(v, want)
}

// coerce adapts a runtime value to the wanted type: assignment when
// possible, numeric conversion, pointer deref, or an addressable copy
// when a pointer is wanted.
func coerce(v any, want reflect.Type) (reflect.Value, error) {
	if want == nil {
		return reflect.ValueOf(v), nil
	}
	if v == nil {
		return reflect.Zero(want), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(want) {
		return rv, nil
	}
	// numeric widening/narrowing between scalar kinds
	if convertibleScalar(rv.Type(), want) {
		return rv.Convert(want), nil
	}
	// *T -> T
	if rv.Kind() == reflect.Pointer && rv.Type().Elem().AssignableTo(want) {
		if rv.IsNil() {
			return reflect.Zero(want), nil
		}
		return rv.Elem(), nil
	}
	// T -> *T via an addressable copy
	if want.Kind() == reflect.Pointer && rv.Type().AssignableTo(want.Elem()) {
		ptr := reflect.New(want.Elem())
		ptr.Elem().Set(rv)
		return ptr, nil
	}
	return reflect.Value{}, fmt.Errorf("cannot use %s as %s", rv.Type(), want)
}

func convertibleScalar(have, want reflect.Type) bool {
	if !have.ConvertibleTo(want) {
		return false
	}
	return isScalarKind(have.Kind()) && isScalarKind(want.Kind()) &&
		(want.Kind() != reflect.String || have.Kind() == reflect.String)
}

func isScalarKind(k reflect.Kind) bool {
	switch k {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}
