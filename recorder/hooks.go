package recorder

import (
	"fmt"
	"reflect"

	"github.com/chazu/replay/gen"
)

// Substitution converts between an otherwise-unrecordable type and a
// recordable stand-in. Serialize runs at build time; Deserialize runs at
// startup on a freshly constructed provider, so providers must be usable
// as zero values.
type Substitution interface {
	Serialize(from any) (any, error)
	Deserialize(to any) (any, error)
}

// ObjectLoader is a pluggable recognizer+emitter for values the recorder
// cannot serialize structurally. CanHandle is consulted in registration
// order; the first loader that claims a value emits its creation
// fragment.
type ObjectLoader interface {
	CanHandle(obj any, staticInit bool) bool
	Emit(proc *gen.Proc, obj any, staticInit bool) (gen.Local, error)
}

type substitutionHolder struct {
	from, to     reflect.Type
	provider     Substitution
	providerType reflect.Type
}

type nonDefaultCtorHolder struct {
	factory   reflect.Value
	ref       gen.FuncRef
	extractor func(any) []any
}

type ctorHolder struct {
	factory    reflect.Value
	ref        gen.FuncRef
	paramNames []string
	recordable bool
}

type enumHolder struct {
	ref gen.FuncRef
}

// RegisterSubstitution maps values of type from to a recordable stand-in
// of type to through the given provider.
func (r *Recorder) RegisterSubstitution(from, to reflect.Type, provider Substitution) {
	pt := reflect.TypeOf(provider)
	r.types.Register(pt)
	holder := &substitutionHolder{from: from, to: to, provider: provider, providerType: pt}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.substitutions[from] = holder
}

// RegisterNonDefaultConstructor registers a factory function for the
// type it returns, together with an extractor that, given a build-time
// instance, produces the ordered factory arguments to replay at startup.
func (r *Recorder) RegisterNonDefaultConstructor(factory any, extractor func(any) []any) error {
	fv := reflect.ValueOf(factory)
	rt, err := factoryResultType(fv)
	if err != nil {
		return err
	}
	ref := r.registerFunc("ctor", rt, fv)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nonDefault[rt] = &nonDefaultCtorHolder{factory: fv, ref: ref, extractor: extractor}
	return nil
}

// RegisterConstructor registers a factory as a constructor candidate for
// the type it returns. paramNames name the factory parameters in order;
// they are matched against property and field names when the type is
// serialized through a constructor.
func (r *Recorder) RegisterConstructor(factory any, paramNames ...string) error {
	return r.registerCtor(factory, paramNames, false)
}

// RegisterRecordableConstructor is RegisterConstructor for a factory
// explicitly marked as the one to record through, taking precedence when
// several candidates exist.
func (r *Recorder) RegisterRecordableConstructor(factory any, paramNames ...string) error {
	return r.registerCtor(factory, paramNames, true)
}

func (r *Recorder) registerCtor(factory any, paramNames []string, recordable bool) error {
	fv := reflect.ValueOf(factory)
	rt, err := factoryResultType(fv)
	if err != nil {
		return err
	}
	if got, want := len(paramNames), fv.Type().NumIn(); got != want {
		return fmt.Errorf("recorder: constructor for %s has %d parameters but %d names were given",
			rt, want, got)
	}
	ref := r.registerFunc("ctor", rt, fv)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[rt] = append(r.constructors[rt], &ctorHolder{
		factory:    fv,
		ref:        ref,
		paramNames: paramNames,
		recordable: recordable,
	})
	return nil
}

// MarkClassAsConstructorRecordable marks a type so serialization picks
// its unique widest registered constructor, matching parameters by name.
func (r *Recorder) MarkClassAsConstructorRecordable(t reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recordableClasses[t] = true
}

// RegisterObjectLoader adds a pluggable object loader.
func (r *Recorder) RegisterObjectLoader(loader ObjectLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders = append(r.loaders, loader)
}

// RegisterConstant makes value available to injected recorder factory
// parameters of the given type.
func (r *Recorder) RegisterConstant(t reflect.Type, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.constants[t] = value
}

// RegisterEnum registers an enum-like type through its parse function,
// func(string) (E, error) or func(string) E. Values of E must implement
// fmt.Stringer; they are recorded by name and reconstructed by parse.
func (r *Recorder) RegisterEnum(parse any) error {
	fv := reflect.ValueOf(parse)
	ft := fv.Type()
	if ft.Kind() != reflect.Func || ft.NumIn() != 1 || ft.In(0).Kind() != reflect.String {
		return fmt.Errorf("recorder: enum parse must be func(string) (E[, error]), got %T", parse)
	}
	rt, err := factoryResultType(fv)
	if err != nil {
		return err
	}
	ref := r.registerFunc("enum", rt, fv)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enums[rt] = enumHolder{ref: ref}
	return nil
}

// RegisterRecorderFactory registers the factory used to construct a
// recorder at startup in place of its zero value. Factory parameters are
// resolved from the constant registry, then the config creator.
func (r *Recorder) RegisterRecorderFactory(recorderType reflect.Type, factory any) error {
	fv := reflect.ValueOf(factory)
	if fv.Kind() != reflect.Func {
		return fmt.Errorf("recorder: recorder factory must be a function, got %T", factory)
	}
	ref := r.registerFunc("recorder", recorderType, fv)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorderFactories[recorderType] = &ctorHolder{factory: fv, ref: ref}
	return nil
}

// ClassProxy returns a stand-in type for a class that is not loadable at
// build time. Arguments of this type are recorded under the original
// name, which the deploying process resolves through its type registry.
// Primitive names return the real type directly.
func (r *Recorder) ClassProxy(name string) reflect.Type {
	switch name {
	case "bool":
		return reflect.TypeOf(false)
	case "int":
		return reflect.TypeOf(int(0))
	case "int8":
		return reflect.TypeOf(int8(0))
	case "int16":
		return reflect.TypeOf(int16(0))
	case "int32":
		return reflect.TypeOf(int32(0))
	case "int64":
		return reflect.TypeOf(int64(0))
	case "uint":
		return reflect.TypeOf(uint(0))
	case "uint8":
		return reflect.TypeOf(uint8(0))
	case "uint16":
		return reflect.TypeOf(uint16(0))
	case "uint32":
		return reflect.TypeOf(uint32(0))
	case "uint64":
		return reflect.TypeOf(uint64(0))
	case "float32":
		return reflect.TypeOf(float32(0))
	case "float64":
		return reflect.TypeOf(float64(0))
	case "string":
		return reflect.TypeOf("")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.classProxies[name]; ok {
		return t
	}
	// A one-field struct whose tag carries the original name. The tag
	// makes each proxy a distinct type.
	t := reflect.StructOf([]reflect.StructField{{
		Name: "ClassProxy",
		Type: reflect.TypeOf(""),
		Tag:  reflect.StructTag(`replay:"` + name + `"`),
	}})
	r.classProxies[name] = t
	r.proxyNames[t] = name
	return t
}

// registerFunc places a function into the program func registry under a
// stable per-recorder name and returns its ref. The sequence number
// keeps constructor candidates for one type distinct.
func (r *Recorder) registerFunc(kind string, t reflect.Type, fv reflect.Value) gen.FuncRef {
	r.mu.Lock()
	seq := r.funcCount
	r.funcCount++
	r.mu.Unlock()
	name := fmt.Sprintf("%s.%s#%d", kind, gen.TypeName(t), seq)
	if err := r.funcs.Register(name, fv.Interface()); err != nil {
		panic(err)
	}
	return gen.FuncRef(name)
}

// factoryResultType returns the first non-error result type of a factory
// function.
func factoryResultType(fv reflect.Value) (reflect.Type, error) {
	if fv.Kind() != reflect.Func {
		return nil, fmt.Errorf("recorder: factory must be a function, got %s", fv.Kind())
	}
	ft := fv.Type()
	if ft.NumOut() == 0 {
		return nil, fmt.Errorf("recorder: factory %s returns nothing", ft)
	}
	return ft.Out(0), nil
}
