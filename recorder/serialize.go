package recorder

import (
	"fmt"
	"net/url"
	"reflect"
	"time"

	"github.com/chazu/replay/gen"
	"github.com/chazu/replay/startup"
)

// maxRecordedString bounds recorded string literals.
const maxRecordedString = 65535

// loadObjectInstance lowers one argument into a deferred parameter,
// deduplicating through the identity map so shared subgraphs materialize
// once.
func (r *Recorder) loadObjectInstance(param any, existing *identityMap, expected reflect.Type, relaxed bool) (deferredParameter, error) {
	if r.loadComplete {
		return nil, fmt.Errorf("all parameters have already been loaded, it is too late to record %v", param)
	}
	if dp, ok := existing.get(param); ok {
		return dp, nil
	}
	dp, err := r.loadObjectInstanceImpl(param, existing, expected, relaxed)
	if err != nil {
		return nil, err
	}
	existing.put(param, dp)
	return dp, nil
}

// loadObjectInstanceImpl chooses the node kind for a value. The branch
// order is significant: loaders and substitutions see a value before the
// structural branches do.
func (r *Recorder) loadObjectInstanceImpl(param any, existing *identityMap, expected reflect.Type, relaxed bool) (deferredParameter, error) {
	// nil is easy
	if isNilValue(param) {
		return &inlineParam{loadFn: func(fc *fixedContext) (gen.Local, error) {
			return fc.proc.LoadNull(), nil
		}}, nil
	}

	// pluggable loaders (config objects and the like)
	if loaded := r.findLoaded(param); loaded != nil {
		return loaded, nil
	}

	// empty containers keep their recorded type without element work
	if dp, ok, err := r.handleEmptyContainer(param); ok || err != nil {
		return dp, err
	}

	rv := reflect.ValueOf(param)
	dynamic := rv.Type()

	// substitutions, matched on the dynamic then the expected type
	holder := r.substitutions[dynamic]
	if holder == nil && expected != nil {
		holder = r.substitutions[expected]
	}
	if holder != nil {
		return r.loadSubstituted(param, existing, expected, relaxed, holder)
	}

	switch v := param.(type) {
	case startup.Optional:
		return r.loadOptional(v, existing, expected, relaxed)

	case string:
		if len(v) > maxRecordedString {
			return nil, fmt.Errorf("string too large to record (%d bytes): %.32q...", len(v), v)
		}
		return &inlineParam{loadFn: func(fc *fixedContext) (gen.Local, error) {
			return fc.proc.LoadConst(v), nil
		}}, nil

	case *url.URL:
		text := v.String()
		return &inlineParam{loadFn: func(fc *fixedContext) (gen.Local, error) {
			s := fc.proc.LoadConst(text)
			return fc.proc.CallFunc(gen.BuiltinParseURL, s), nil
		}}, nil

	case url.URL:
		return r.loadObjectInstanceImpl(&v, existing, expected, relaxed)

	case *ReturnedProxy:
		if !v.IsStaticInit() && r.staticInit {
			return nil, fmt.Errorf("invalid proxy passed to recorder: %s was created in a runtime recorder method, while this recorder is for static init", v)
		}
		key := v.Key()
		return &inlineParam{loadFn: func(fc *fixedContext) (gen.Local, error) {
			return fc.proc.CtxGet(key), nil
		}}, nil

	case time.Duration:
		text := v.String()
		return &inlineParam{loadFn: func(fc *fixedContext) (gen.Local, error) {
			s := fc.proc.LoadConst(text)
			return fc.proc.CallFunc(gen.BuiltinParseDuration, s), nil
		}}, nil

	case reflect.Type:
		return r.loadTypeValue(v)
	}

	// registered enum kinds record by name, rebuild by parse
	if holder, ok := r.enums[dynamic]; ok {
		stringer, ok := param.(fmt.Stringer)
		if !ok {
			return nil, fmt.Errorf("enum type %s does not implement fmt.Stringer", dynamic)
		}
		name := stringer.String()
		ref := holder.ref
		return &inlineParam{loadFn: func(fc *fixedContext) (gen.Local, error) {
			s := fc.proc.LoadConst(name)
			return fc.proc.CallFunc(ref, s), nil
		}}, nil
	}

	// scalars load as literals with their dynamic (possibly named) type
	switch rv.Kind() {
	case reflect.String:
		if rv.Len() > maxRecordedString {
			return nil, fmt.Errorf("string too large to record (%d bytes)", rv.Len())
		}
		fallthrough
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return &inlineParam{loadFn: func(fc *fixedContext) (gen.Local, error) {
			return fc.proc.LoadConst(param), nil
		}}, nil
	}

	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		return r.loadSequence(rv, existing, relaxed)
	case reflect.Map, reflect.Struct, reflect.Pointer:
		return r.loadComplexObject(param, existing, expected, relaxed)
	}

	return nil, fmt.Errorf("unsupported value of type %s: %v", dynamic, param)
}

func isNilValue(param any) bool {
	if param == nil {
		return true
	}
	rv := reflect.ValueOf(param)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// findLoaded consults the registered object loaders, first claim wins.
func (r *Recorder) findLoaded(param any) *arrayStoredParam {
	for _, loader := range r.loaders {
		if loader.CanHandle(param, r.staticInit) {
			l := loader
			dp, err := r.newArrayStored(param, reflect.TypeOf(param))
			if err != nil {
				return nil
			}
			dp.createFn = func(fc *fixedContext) (gen.Local, error) {
				return l.Emit(fc.proc, param, r.staticInit)
			}
			return dp
		}
	}
	return nil
}

// handleEmptyContainer loads zero-length slices and maps as fresh empty
// containers of their recorded type.
func (r *Recorder) handleEmptyContainer(param any) (deferredParameter, bool, error) {
	rv := reflect.ValueOf(param)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.Len() != 0 {
			return nil, false, nil
		}
		ref := gen.TypeRef(r.types.Register(rv.Type()))
		return &inlineParam{loadFn: func(fc *fixedContext) (gen.Local, error) {
			return fc.proc.CallFunc(gen.BuiltinIndirect, fc.proc.NewContainer(ref, 0)), nil
		}}, true, nil
	case reflect.Map:
		if rv.Len() != 0 {
			return nil, false, nil
		}
		ref := gen.TypeRef(r.types.Register(rv.Type()))
		return &inlineParam{loadFn: func(fc *fixedContext) (gen.Local, error) {
			return fc.proc.NewMap(ref), nil
		}}, true, nil
	}
	return nil, false, nil
}

// loadSubstituted serializes through the provider now and emits a
// deserialize call for startup.
func (r *Recorder) loadSubstituted(param any, existing *identityMap, expected reflect.Type, relaxed bool, holder *substitutionHolder) (deferredParameter, error) {
	res, err := holder.provider.Serialize(param)
	if err != nil {
		return nil, fmt.Errorf("failed to substitute %v: %w", param, err)
	}
	serialized, err := r.loadObjectInstance(res, existing, holder.to, relaxed)
	if err != nil {
		return nil, err
	}
	dp, err := r.newArrayStored(param, expected)
	if err != nil {
		return nil, err
	}
	providerRef := gen.TypeRef(gen.TypeName(holder.providerType))
	dp.prepFn = serialized.prepare
	dp.createFn = func(fc *fixedContext) (gen.Local, error) {
		prov := fc.proc.NewInstance(providerRef)
		ser, err := fc.loadDeferred(serialized)
		if err != nil {
			return gen.NoLocal, err
		}
		return fc.proc.CallMethod(prov, "Deserialize", ser), nil
	}
	return dp, nil
}

// loadOptional rebuilds a present optional through the nullable factory:
// a proxy-backed inner value that exists at build time may still be nil
// at startup.
func (r *Recorder) loadOptional(v startup.Optional, existing *identityMap, expected reflect.Type, relaxed bool) (deferredParameter, error) {
	dp, err := r.newArrayStored(v, expected)
	if err != nil {
		return nil, err
	}
	if !v.IsPresent() {
		dp.createFn = func(fc *fixedContext) (gen.Local, error) {
			return fc.proc.CallFunc(gen.BuiltinEmptyOptional), nil
		}
		return dp, nil
	}
	inner, err := r.loadObjectInstance(v.Get(), existing, nil, relaxed)
	if err != nil {
		return nil, err
	}
	dp.prepFn = inner.prepare
	dp.createFn = func(fc *fixedContext) (gen.Local, error) {
		l, err := fc.loadDeferred(inner)
		if err != nil {
			return gen.NoLocal, err
		}
		return fc.proc.CallFunc(gen.BuiltinOptionalOfNullable, l), nil
	}
	return dp, nil
}

// loadTypeValue records a reflect.Type argument. Named types load by
// registered name (class proxies by their original name); composite
// kinds are rebuilt from their components at deploy time.
func (r *Recorder) loadTypeValue(t reflect.Type) (deferredParameter, error) {
	if name, ok := r.proxyNames[t]; ok {
		return &inlineParam{loadFn: func(fc *fixedContext) (gen.Local, error) {
			return fc.proc.LoadType(name), nil
		}}, nil
	}
	if t.Name() != "" {
		name := r.types.Register(t)
		return &inlineParam{loadFn: func(fc *fixedContext) (gen.Local, error) {
			return fc.proc.LoadType(name), nil
		}}, nil
	}
	switch t.Kind() {
	case reflect.Slice:
		elem, err := r.loadTypeValue(t.Elem())
		if err != nil {
			return nil, err
		}
		return typeCombinator(gen.BuiltinSliceOf, nil, elem), nil
	case reflect.Pointer:
		elem, err := r.loadTypeValue(t.Elem())
		if err != nil {
			return nil, err
		}
		return typeCombinator(gen.BuiltinPointerTo, nil, elem), nil
	case reflect.Array:
		elem, err := r.loadTypeValue(t.Elem())
		if err != nil {
			return nil, err
		}
		n := t.Len()
		return &inlineParam{
			prepFn: elem.prepare,
			loadFn: func(fc *fixedContext) (gen.Local, error) {
				c := fc.proc.LoadConst(n)
				e, err := fc.loadDeferred(elem)
				if err != nil {
					return gen.NoLocal, err
				}
				return fc.proc.CallFunc(gen.BuiltinArrayOf, c, e), nil
			},
		}, nil
	case reflect.Map:
		key, err := r.loadTypeValue(t.Key())
		if err != nil {
			return nil, err
		}
		elem, err := r.loadTypeValue(t.Elem())
		if err != nil {
			return nil, err
		}
		return typeCombinator(gen.BuiltinMapOf, key, elem), nil
	}
	return nil, fmt.Errorf("unsupported type argument: %s", t)
}

func typeCombinator(fn gen.FuncRef, first, second deferredParameter) deferredParameter {
	return &inlineParam{
		prepFn: func(sc *splitContext) error {
			if first != nil {
				if err := first.prepare(sc); err != nil {
					return err
				}
			}
			return second.prepare(sc)
		},
		loadFn: func(fc *fixedContext) (gen.Local, error) {
			var args []gen.Local
			if first != nil {
				l, err := fc.loadDeferred(first)
				if err != nil {
					return gen.NoLocal, err
				}
				args = append(args, l)
			}
			l, err := fc.loadDeferred(second)
			if err != nil {
				return gen.NoLocal, err
			}
			args = append(args, l)
			return fc.proc.CallFunc(fn, args...), nil
		},
	}
}

// loadSequence lowers a non-empty slice or array: recurse on every
// element, then emit one creation fragment. Slices grow through a slice
// builder and fixed-length arrays allocate up front and write each slot,
// all within the one creation group; the node yields the dereferenced
// slice or array value.
func (r *Recorder) loadSequence(rv reflect.Value, existing *identityMap, relaxed bool) (deferredParameter, error) {
	t := rv.Type()
	length := rv.Len()
	elems := make([]deferredParameter, length)
	for i := 0; i < length; i++ {
		ev := rv.Index(i).Interface()
		dp, err := r.loadObjectInstance(ev, existing, t.Elem(), relaxed)
		if err != nil {
			return nil, err
		}
		elems[i] = dp
	}
	dp, err := r.newArrayStored(rv.Interface(), t)
	if err != nil {
		return nil, err
	}
	ref := gen.TypeRef(r.types.Register(t))
	dp.prepFn = func(sc *splitContext) error {
		for _, e := range elems {
			if err := e.prepare(sc); err != nil {
				return err
			}
		}
		return nil
	}
	dp.createFn = func(fc *fixedContext) (gen.Local, error) {
		if t.Kind() == reflect.Slice {
			out := fc.proc.NewSliceBuilder(ref, length)
			for _, e := range elems {
				l, err := fc.loadDeferred(e)
				if err != nil {
					return gen.NoLocal, err
				}
				fc.proc.SliceAppend(out, l)
			}
			return fc.proc.CallFunc(gen.BuiltinIndirect, out), nil
		}
		out := fc.proc.NewContainer(ref, length)
		for i, e := range elems {
			l, err := fc.loadDeferred(e)
			if err != nil {
				return gen.NoLocal, err
			}
			fc.proc.IndexSet(out, i, l)
		}
		return fc.proc.CallFunc(gen.BuiltinIndirect, out), nil
	}
	return dp, nil
}
