package recorder

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/chazu/replay/gen"
)

// serializationStep is one action performed on a complex object after
// its construction: an element add, a map put, a setter call or a field
// write. Each step's handle runs in its own instruction group, so steps
// may land in different procedures.
type serializationStep struct {
	prep   func(sc *splitContext) error
	handle func(fc *fixedContext, out gen.Local) error
}

// loadComplexObject lowers a map, struct or pointer that no earlier
// dispatch branch claimed. The returned node guarantees construction and
// every population step run before any consumer loads the value; the
// under-construction node is pre-registered in the identity map so
// self-referential graphs resolve to the same instance.
func (r *Recorder) loadComplexObject(param any, existing *identityMap, expected reflect.Type, relaxed bool) (deferredParameter, error) {
	rv := reflect.ValueOf(param)
	switch rv.Kind() {
	case reflect.Map:
		return r.loadMapObject(rv, existing, expected, relaxed)
	case reflect.Pointer:
		if rv.Type().Elem().Kind() == reflect.Struct {
			return r.loadStructObject(rv, existing, expected, relaxed)
		}
		return r.loadPointerObject(rv, existing, expected, relaxed)
	case reflect.Struct:
		return r.loadStructObject(rv, existing, expected, relaxed)
	}
	return nil, fmt.Errorf("unsupported value of type %s: %v", rv.Type(), param)
}

// loadMapObject reconstructs a map: fresh map of the recorded type, one
// put step per entry in sorted key order so emission is deterministic.
func (r *Recorder) loadMapObject(rv reflect.Value, existing *identityMap, expected reflect.Type, relaxed bool) (deferredParameter, error) {
	t := rv.Type()
	if _, ordered := t.MethodByName("Less"); ordered {
		return nil, fmt.Errorf("cannot record %s: its ordering cannot be reconstructed at startup", t)
	}
	ref := gen.TypeRef(r.types.Register(t))

	objectValue, err := r.newArrayStored(rv.Interface(), expected)
	if err != nil {
		return nil, err
	}
	objectValue.createFn = func(fc *fixedContext) (gen.Local, error) {
		return fc.proc.NewMap(ref), nil
	}
	// visible to the entries before they are loaded, so a map containing
	// itself resolves to the same startup instance
	existing.put(rv.Interface(), objectValue)

	keys := rv.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return renderKey(keys[i]) < renderKey(keys[j])
	})
	var steps []*serializationStep
	for _, k := range keys {
		kdp, err := r.loadObjectInstance(k.Interface(), existing, t.Key(), relaxed)
		if err != nil {
			return nil, err
		}
		vdp, err := r.loadObjectInstance(rv.MapIndex(k).Interface(), existing, t.Elem(), relaxed)
		if err != nil {
			return nil, err
		}
		steps = append(steps, &serializationStep{
			prep: func(sc *splitContext) error {
				if err := kdp.prepare(sc); err != nil {
					return err
				}
				return vdp.prepare(sc)
			},
			handle: func(fc *fixedContext, out gen.Local) error {
				kl, err := fc.loadDeferred(kdp)
				if err != nil {
					return err
				}
				vl, err := fc.loadDeferred(vdp)
				if err != nil {
					return err
				}
				fc.proc.MapPut(out, kl, vl)
				return nil
			},
		})
	}
	return r.finishComplex(rv.Interface(), expected, objectValue, nil, steps, false)
}

func renderKey(k reflect.Value) string {
	return fmt.Sprintf("%#v", k.Interface())
}

// loadPointerObject handles pointers to non-struct values: reconstruct
// the element and box it.
func (r *Recorder) loadPointerObject(rv reflect.Value, existing *identityMap, expected reflect.Type, relaxed bool) (deferredParameter, error) {
	t := rv.Type()
	inner, err := r.loadObjectInstance(rv.Elem().Interface(), existing, t.Elem(), relaxed)
	if err != nil {
		return nil, err
	}
	dp, err := r.newArrayStored(rv.Interface(), expected)
	if err != nil {
		return nil, err
	}
	ref := gen.TypeRef(r.types.Register(t))
	dp.prepFn = inner.prepare
	dp.createFn = func(fc *fixedContext) (gen.Local, error) {
		l, err := fc.loadDeferred(inner)
		if err != nil {
			return gen.NoLocal, err
		}
		return fc.proc.NewPointer(ref, l), nil
	}
	return dp, nil
}

// loadStructObject serializes a user value object: pick a construction
// strategy, then populate the remaining state through setters and field
// writes.
func (r *Recorder) loadStructObject(rv reflect.Value, existing *identityMap, expected reflect.Type, relaxed bool) (deferredParameter, error) {
	param := rv.Interface()
	var pv reflect.Value
	if rv.Kind() == reflect.Pointer {
		pv = rv
	} else {
		pv = reflect.New(rv.Type())
		pv.Elem().Set(rv)
	}
	st := pv.Type().Elem()
	pt := pv.Type()
	ptrRef := gen.TypeRef(r.types.Register(pt))

	// choose how the object is constructed
	ctor, nonDef, err := r.selectConstructor(st, pt)
	if err != nil {
		return nil, fmt.Errorf("%w (object %v)", err, param)
	}

	var (
		ctorArgs  []deferredParameter
		ctorPreps []deferredParameter
		nameMap   = make(map[string]int)
		factory   gen.FuncRef
		factoryFn reflect.Value
	)
	switch {
	case nonDef != nil:
		factory = nonDef.ref
		factoryFn = nonDef.factory
		extracted := nonDef.extractor(param)
		ft := nonDef.factory.Type()
		if len(extracted) != ft.NumIn() {
			return nil, fmt.Errorf("unable to serialize %v: the wrong number of parameters were generated for %s (%d, want %d)",
				param, ft, len(extracted), ft.NumIn())
		}
		ctorArgs = make([]deferredParameter, len(extracted))
		for i, obj := range extracted {
			dp, err := r.loadObjectInstance(obj, existing, ft.In(i), relaxed)
			if err != nil {
				return nil, err
			}
			ctorArgs[i] = dp
			ctorPreps = append(ctorPreps, dp)
		}
	case ctor != nil:
		factory = ctor.ref
		factoryFn = ctor.factory
		ctorArgs = make([]deferredParameter, ctor.factory.Type().NumIn())
		for i, name := range ctor.paramNames {
			if name == "" {
				return nil, fmt.Errorf("missing parameter name %d on constructor for %s", i, st)
			}
			nameMap[name] = i
		}
	}

	objectValue, err := r.newArrayStored(param, expected)
	if err != nil {
		return nil, err
	}
	// the under-construction value is always handled through the pointer
	// so population steps mutate the one instance
	objectValue.declared = ptrRef
	objectValue.createFn = func(fc *fixedContext) (gen.Local, error) {
		if factory == "" {
			return fc.proc.NewInstance(ptrRef), nil
		}
		args := make([]gen.Local, len(ctorArgs))
		for i, dp := range ctorArgs {
			if dp == nil {
				return gen.NoLocal, fmt.Errorf("recorder: constructor argument %d for %s was never resolved", i, st)
			}
			l, err := fc.loadDeferred(dp)
			if err != nil {
				return gen.NoLocal, err
			}
			args[i] = l
		}
		out := fc.proc.CallFunc(factory, args...)
		if factoryFn.Type().Out(0).Kind() != reflect.Pointer {
			out = fc.proc.NewPointer(ptrRef, out)
		}
		return out, nil
	}
	existing.put(param, objectValue)

	steps, morePreps, err := r.structSteps(pv, existing, relaxed, ctor != nil || nonDef != nil, nameMap, ctorArgs)
	if err != nil {
		return nil, err
	}
	ctorPreps = append(ctorPreps, morePreps...)

	if len(nameMap) > 0 {
		var missing []string
		for name := range nameMap {
			missing = append(missing, name)
		}
		sort.Strings(missing)
		return nil, fmt.Errorf("could not find parameters for constructor of %s: could not read values for %v", st, missing)
	}

	// struct values round-trip as values; only pointer arguments keep
	// the pointer form
	deref := rv.Kind() != reflect.Pointer
	return r.finishComplex(param, expected, objectValue, ctorPreps, steps, deref)
}

// selectConstructor applies the construction priority order: registered
// non-default constructor, marked-recordable widest factory, unique
// factory, recordable-flagged factory.
func (r *Recorder) selectConstructor(st, pt reflect.Type) (*ctorHolder, *nonDefaultCtorHolder, error) {
	if h := r.lookupNonDefault(st, pt); h != nil {
		return nil, h, nil
	}
	candidates := append(append([]*ctorHolder{}, r.constructors[st]...), r.constructors[pt]...)
	if r.recordableClasses[st] || r.recordableClasses[pt] {
		var widest *ctorHolder
		ties := 0
		for _, c := range candidates {
			switch {
			case widest == nil || c.factory.Type().NumIn() > widest.factory.Type().NumIn():
				widest = c
				ties = 0
			case c.factory.Type().NumIn() == widest.factory.Type().NumIn():
				ties++
			}
		}
		if widest == nil || ties > 0 {
			return nil, nil, fmt.Errorf("unable to determine the recordable constructor to use for %s", st)
		}
		return widest, nil, nil
	}
	if len(candidates) == 1 {
		return candidates[0], nil, nil
	}
	for _, c := range candidates {
		if c.recordable {
			return c, nil, nil
		}
	}
	return nil, nil, nil
}

func (r *Recorder) lookupNonDefault(st, pt reflect.Type) *nonDefaultCtorHolder {
	if h, ok := r.nonDefault[st]; ok {
		return h
	}
	if h, ok := r.nonDefault[pt]; ok {
		return h
	}
	return nil
}

// structSteps walks properties then exported fields, producing the
// population steps and resolving name-matched constructor parameters.
func (r *Recorder) structSteps(pv reflect.Value, existing *identityMap, relaxed bool, hasCtor bool, nameMap map[string]int, ctorArgs []deferredParameter) ([]*serializationStep, []deferredParameter, error) {
	st := pv.Type().Elem()
	param := pv.Interface()
	var steps []*serializationStep
	var preps []deferredParameter
	handled := make(map[string]bool)

	for _, prop := range propertiesOf(pv.Type()) {
		if prop.hasField && ignoredField(prop.field) {
			continue
		}
		ctorIdx, isCtorParam := takeParam(nameMap, prop.name)

		if prop.readOnly() && !isCtorParam {
			value := pv.MethodByName(prop.getter.Name).Call(nil)[0]
			switch prop.ptype.Kind() {
			case reflect.Map:
				// add into the container the constructed object already has
				handled[strings.ToLower(prop.name)] = true
				if value.IsNil() || value.Len() == 0 {
					continue
				}
				step, stepPreps, err := r.readOnlyMapStep(prop, value, existing, relaxed)
				if err != nil {
					return nil, nil, err
				}
				steps = append(steps, step)
				preps = append(preps, stepPreps...)
			case reflect.Slice:
				handled[strings.ToLower(prop.name)] = true
				if value.IsNil() || value.Len() == 0 {
					continue
				}
				if relaxed {
					log.Debugf("skipping read-only slice property %s on %s", prop.name, st)
					continue
				}
				return nil, nil, fmt.Errorf("cannot serialise property %q on object %v: the slice is reachable only through a read-only accessor", prop.name, param)
			default:
				if !relaxed && !hasCtor && prop.hasField {
					return nil, nil, fmt.Errorf("cannot serialise property %q on object %v as the property is read only", prop.name, param)
				}
			}
			continue
		}

		ptype := prop.ptype
		if !isCtorParam {
			setterType := prop.setter.Type.In(1)
			if setterType != ptype {
				if !relaxed {
					return nil, nil, fmt.Errorf(
						"cannot serialise property %q on object %v of type %s: getter and setter are of different types (getter %s, setter %s)",
						prop.name, param, st, ptype, setterType)
				}
				if ptype.AssignableTo(setterType) {
					ptype = setterType
				} else {
					log.Debugf("skipping mismatched property %s on %s", prop.name, st)
					continue
				}
			}
		}

		value := pv.MethodByName(prop.getter.Name).Call(nil)[0]
		if isNilReflect(value) && !isCtorParam {
			// properties are nil by default, nothing to replay
			handled[strings.ToLower(prop.name)] = true
			continue
		}
		dp, err := r.loadObjectInstance(value.Interface(), existing, ptype, relaxed)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't load value of type %s for property %q on object %v: %w", ptype, prop.name, param, err)
		}
		handled[strings.ToLower(prop.name)] = true
		if isCtorParam {
			ctorArgs[ctorIdx] = dp
			preps = append(preps, dp)
			continue
		}
		setter := prop.setter.Name
		steps = append(steps, &serializationStep{
			prep: dp.prepare,
			handle: func(fc *fixedContext, out gen.Local) error {
				l, err := fc.loadDeferred(dp)
				if err != nil {
					return err
				}
				fc.proc.CallMethod(out, setter, l)
				return nil
			},
		})
	}

	for _, field := range exportedFields(st) {
		if handled[strings.ToLower(field.Name)] {
			continue
		}
		ctorIdx, isCtorParam := takeParam(nameMap, field.Name)
		value := pv.Elem().FieldByIndex(field.Index).Interface()
		dp, err := r.loadObjectInstance(value, existing, field.Type, relaxed)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't load value for field %q on object %v: %w", field.Name, param, err)
		}
		if isCtorParam {
			ctorArgs[ctorIdx] = dp
			preps = append(preps, dp)
			continue
		}
		name := field.Name
		steps = append(steps, &serializationStep{
			prep: dp.prepare,
			handle: func(fc *fixedContext, out gen.Local) error {
				l, err := fc.loadDeferred(dp)
				if err != nil {
					return err
				}
				fc.proc.SetField(out, name, l)
				return nil
			},
		})
	}
	return steps, preps, nil
}

// readOnlyMapStep populates a map reachable only through its getter.
// The entries add to whatever initial value construction produced.
func (r *Recorder) readOnlyMapStep(prop property, value reflect.Value, existing *identityMap, relaxed bool) (*serializationStep, []deferredParameter, error) {
	t := value.Type()
	keys := value.MapKeys()
	sort.Slice(keys, func(i, j int) bool { return renderKey(keys[i]) < renderKey(keys[j]) })
	type entry struct{ k, v deferredParameter }
	var entries []entry
	var preps []deferredParameter
	for _, k := range keys {
		kdp, err := r.loadObjectInstance(k.Interface(), existing, t.Key(), relaxed)
		if err != nil {
			return nil, nil, err
		}
		vdp, err := r.loadObjectInstance(value.MapIndex(k).Interface(), existing, t.Elem(), relaxed)
		if err != nil {
			return nil, nil, err
		}
		entries = append(entries, entry{kdp, vdp})
		preps = append(preps, kdp, vdp)
	}
	getter := prop.getter.Name
	step := &serializationStep{
		prep: func(sc *splitContext) error {
			for _, e := range entries {
				if err := e.k.prepare(sc); err != nil {
					return err
				}
				if err := e.v.prepare(sc); err != nil {
					return err
				}
			}
			return nil
		},
		handle: func(fc *fixedContext, out gen.Local) error {
			m := fc.proc.CallMethod(out, getter)
			for _, e := range entries {
				kl, err := fc.loadDeferred(e.k)
				if err != nil {
					return err
				}
				vl, err := fc.loadDeferred(e.v)
				if err != nil {
					return err
				}
				fc.proc.MapPut(m, kl, vl)
			}
			return nil
		},
	}
	return step, preps, nil
}

// finishComplex wraps construction and steps into the node consumers
// load: preparing it runs constructor-argument preparation, the creation
// fragment, then every population step, each in its own group.
func (r *Recorder) finishComplex(param any, expected reflect.Type, objectValue *arrayStoredParam, ctorPreps []deferredParameter, steps []*serializationStep, deref bool) (deferredParameter, error) {
	outer, err := r.newArrayStored(param, expected)
	if err != nil {
		return nil, err
	}
	outer.prepFn = func(sc *splitContext) error {
		for _, dp := range ctorPreps {
			if err := dp.prepare(sc); err != nil {
				return err
			}
		}
		if err := objectValue.prepare(sc); err != nil {
			return err
		}
		for _, step := range steps {
			if err := step.prep(sc); err != nil {
				return err
			}
			s := step
			err := sc.writeInstruction(func(fc *fixedContext) error {
				out, err := fc.loadDeferred(objectValue)
				if err != nil {
					return err
				}
				return s.handle(fc, out)
			})
			if err != nil {
				return err
			}
		}
		return nil
	}
	outer.createFn = func(fc *fixedContext) (gen.Local, error) {
		l, err := fc.loadDeferred(objectValue)
		if err != nil {
			return gen.NoLocal, err
		}
		if deref {
			l = fc.proc.CallFunc(gen.BuiltinIndirect, l)
		}
		return l, nil
	}
	return outer, nil
}

// takeParam removes a constructor parameter by name, matching
// case-insensitively so Go property names pair with parameter names.
func takeParam(m map[string]int, name string) (int, bool) {
	if idx, ok := m[name]; ok {
		delete(m, name)
		return idx, true
	}
	for k, idx := range m {
		if strings.EqualFold(k, name) {
			delete(m, k)
			return idx, true
		}
	}
	return 0, false
}

func isNilReflect(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.Interface:
		return v.IsNil()
	}
	return false
}
