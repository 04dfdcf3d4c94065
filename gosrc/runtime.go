package gosrc

import (
	"fmt"
	"reflect"

	"github.com/chazu/replay/gen"
)

// Runtime helpers called by generated source. They mirror the
// interpreter's instruction semantics one to one.

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// NewInstance allocates a pointer to a fresh zero value of the named
// type.
func NewInstance(types *gen.TypeRegistry, name string) (any, error) {
	t, err := types.Load(name)
	if err != nil {
		return nil, err
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return reflect.New(t).Interface(), nil
}

// CallMethod invokes a method by name on the receiver's dynamic type.
func CallMethod(recv any, method string, args ...any) (any, error) {
	if recv == nil {
		return nil, fmt.Errorf("gosrc: method %s on nil receiver", method)
	}
	m := reflect.ValueOf(recv).MethodByName(method)
	if !m.IsValid() {
		return nil, fmt.Errorf("gosrc: type %T has no method %s", recv, method)
	}
	return call(m, args)
}

// CallFunc invokes a registered function.
func CallFunc(funcs *gen.FuncRegistry, name string, args ...any) (any, error) {
	fn, err := funcs.Load(name)
	if err != nil {
		return nil, err
	}
	return call(fn, args)
}

func call(fn reflect.Value, args []any) (any, error) {
	ft := fn.Type()
	fixed := ft.NumIn()
	if ft.IsVariadic() {
		fixed--
	}
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		var want reflect.Type
		if i < fixed {
			want = ft.In(i)
		} else {
			want = ft.In(ft.NumIn() - 1).Elem()
		}
		v, err := gen.Coerce(a, want)
		if err != nil {
			return nil, fmt.Errorf("gosrc: arg %d: %w", i, err)
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

// NewContainer allocates a slice (of the given length) or array of the
// named type, returning a pointer to it.
func NewContainer(types *gen.TypeRegistry, name string, length int) (any, error) {
	t, err := types.Load(name)
	if err != nil {
		return nil, err
	}
	ptr := reflect.New(t)
	if t.Kind() == reflect.Slice {
		ptr.Elem().Set(reflect.MakeSlice(t, length, length))
	}
	return ptr.Interface(), nil
}

// IndexSet writes a value into slot i of a container pointer.
func IndexSet(container any, i int, val any) error {
	ptr := reflect.ValueOf(container)
	if ptr.Kind() != reflect.Pointer {
		return fmt.Errorf("gosrc: index set on non-pointer %T", container)
	}
	slot := ptr.Elem().Index(i)
	v, err := gen.Coerce(val, slot.Type())
	if err != nil {
		return err
	}
	slot.Set(v)
	return nil
}

// SliceAppend appends through a slice pointer.
func SliceAppend(slice any, val any) error {
	ptr := reflect.ValueOf(slice)
	if ptr.Kind() != reflect.Pointer || ptr.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("gosrc: slice append on %T", slice)
	}
	v, err := gen.Coerce(val, ptr.Elem().Type().Elem())
	if err != nil {
		return err
	}
	ptr.Elem().Set(reflect.Append(ptr.Elem(), v))
	return nil
}

// NewMap allocates an empty map of the named type.
func NewMap(types *gen.TypeRegistry, name string) (any, error) {
	t, err := types.Load(name)
	if err != nil {
		return nil, err
	}
	if t.Kind() != reflect.Map {
		return nil, fmt.Errorf("gosrc: new map for non-map type %s", t)
	}
	return reflect.MakeMap(t).Interface(), nil
}

// MapPut stores an entry into a map.
func MapPut(m any, k, v any) error {
	mv := reflect.ValueOf(m)
	if mv.Kind() != reflect.Map {
		return fmt.Errorf("gosrc: map put on %T", m)
	}
	kv, err := gen.Coerce(k, mv.Type().Key())
	if err != nil {
		return err
	}
	vv, err := gen.Coerce(v, mv.Type().Elem())
	if err != nil {
		return err
	}
	mv.SetMapIndex(kv, vv)
	return nil
}

// SetField writes a value into a named field through a struct pointer.
func SetField(obj any, field string, val any) error {
	ptr := reflect.ValueOf(obj)
	if ptr.Kind() != reflect.Pointer || ptr.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("gosrc: set field on %T", obj)
	}
	fv := ptr.Elem().FieldByName(field)
	if !fv.IsValid() {
		return fmt.Errorf("gosrc: type %s has no field %s", ptr.Elem().Type(), field)
	}
	v, err := gen.Coerce(val, fv.Type())
	if err != nil {
		return err
	}
	fv.Set(v)
	return nil
}

// NewPointer allocates a pointer of the named pointer type holding val.
func NewPointer(types *gen.TypeRegistry, name string, val any) (any, error) {
	t, err := types.Load(name)
	if err != nil {
		return nil, err
	}
	if t.Kind() != reflect.Pointer {
		return nil, fmt.Errorf("gosrc: new pointer for non-pointer type %s", t)
	}
	ptr := reflect.New(t.Elem())
	v, err := gen.Coerce(val, t.Elem())
	if err != nil {
		return nil, err
	}
	ptr.Elem().Set(v)
	return ptr.Interface(), nil
}

// LoadType resolves a registered type name.
func LoadType(types *gen.TypeRegistry, name string) (any, error) {
	t, err := types.Load(name)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// SharedLoad reads a slot of the shared array with an optional cast.
func SharedLoad(types *gen.TypeRegistry, array []any, index int, cast string) (any, error) {
	if index >= len(array) {
		return nil, fmt.Errorf("gosrc: shared array read out of range: %d of %d", index, len(array))
	}
	v := array[index]
	if cast == "" {
		return v, nil
	}
	t, err := types.Load(cast)
	if err != nil {
		return nil, err
	}
	cv, err := gen.Coerce(v, t)
	if err != nil {
		return nil, fmt.Errorf("gosrc: shared[%d]: %w", index, err)
	}
	return cv.Interface(), nil
}
