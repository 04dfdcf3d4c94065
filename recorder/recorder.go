package recorder

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/replay/gen"
	"github.com/chazu/replay/startup"
)

var log = commonlog.GetLogger("replay.recorder")

// defaultBasePackage prefixes generated program names.
const defaultBasePackage = "replay.recorded."

// ConfigCreator resolves an injected recorder factory parameter that no
// registered constant covers. Returning nil means "cannot inject".
type ConfigCreator func(reflect.Type) any

// Option configures a Recorder.
type Option func(*Recorder)

// WithValueEquality switches argument deduplication from identity to
// value equality for comparable values.
func WithValueEquality() Option {
	return func(r *Recorder) { r.useIdentity = false }
}

// WithBasePackage overrides the generated program name prefix.
func WithBasePackage(pkg string) Option {
	return func(r *Recorder) { r.basePackage = pkg }
}

// WithTypeRegistry shares a type registry between recorders so their
// programs resolve the same names.
func WithTypeRegistry(t *gen.TypeRegistry) Option {
	return func(r *Recorder) { r.types = t }
}

// WithConfigCreator installs the injected-parameter resolver used when a
// recorder factory parameter matches no registered constant.
func WithConfigCreator(fn ConfigCreator) Option {
	return func(r *Recorder) { r.configCreator = fn }
}

// Recorder records invocations against recorder objects and emits the
// startup program that replays them. One instance corresponds to one
// generated procedure family; emission is single-threaded, while the
// proxy caches and registries tolerate concurrent build-step access.
type Recorder struct {
	staticInit    bool
	buildStepName string
	methodName    string
	basePackage   string
	className     string
	useIdentity   bool
	configCreator ConfigCreator

	types *gen.TypeRegistry
	funcs *gen.FuncRegistry

	mu             sync.Mutex
	proxies        map[reflect.Type]*RecordingProxy
	recorderValues map[reflect.Type]*newRecorder
	instructions   []instruction

	substitutions     map[reflect.Type]*substitutionHolder
	nonDefault        map[reflect.Type]*nonDefaultCtorHolder
	constructors      map[reflect.Type][]*ctorHolder
	recordableClasses map[reflect.Type]bool
	recorderFactories map[reflect.Type]*ctorHolder
	loaders           []ObjectLoader
	constants         map[reflect.Type]any
	enums             map[reflect.Type]enumHolder
	classProxies      map[string]reflect.Type
	proxyNames        map[reflect.Type]string
	relaxedMethods    map[string]bool

	deferredCount int
	funcCount     int
	loadComplete  bool
}

// New creates a recorder for one build step method. staticInit selects
// the phase: static-init recorders may not consume proxies minted by
// runtime recorders.
func New(staticInit bool, buildStepName, methodName string, opts ...Option) *Recorder {
	r := &Recorder{
		staticInit:        staticInit,
		buildStepName:     buildStepName,
		methodName:        methodName,
		basePackage:       defaultBasePackage,
		useIdentity:       true,
		proxies:           make(map[reflect.Type]*RecordingProxy),
		recorderValues:    make(map[reflect.Type]*newRecorder),
		substitutions:     make(map[reflect.Type]*substitutionHolder),
		nonDefault:        make(map[reflect.Type]*nonDefaultCtorHolder),
		constructors:      make(map[reflect.Type][]*ctorHolder),
		recordableClasses: make(map[reflect.Type]bool),
		recorderFactories: make(map[reflect.Type]*ctorHolder),
		constants:         make(map[reflect.Type]any),
		enums:             make(map[reflect.Type]enumHolder),
		classProxies:      make(map[string]reflect.Type),
		proxyNames:        make(map[reflect.Type]string),
		relaxedMethods:    make(map[string]bool),
	}
	for _, o := range opts {
		o(r)
	}
	if r.types == nil {
		r.types = gen.NewTypeRegistry()
	}
	r.funcs = gen.NewFuncRegistry()
	hash := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	r.className = r.basePackage + buildStepName + "$" + methodName + hash
	return r
}

// TypeRegistry returns the registry the recorder and its programs share.
func (r *Recorder) TypeRegistry() *gen.TypeRegistry { return r.types }

// FuncRegistry returns the function registry emitted programs resolve
// calls through. Extensions register their startup functions here.
func (r *Recorder) FuncRegistry() *gen.FuncRegistry { return r.funcs }

// ClassName returns the generated program name.
func (r *Recorder) ClassName() string { return r.className }

// IsEmpty reports whether anything has been recorded.
func (r *Recorder) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instructions) == 0
}

// MarkRelaxedValidation relaxes property validation for the arguments of
// one recorder method.
func (r *Recorder) MarkRelaxedValidation(recorder any, method string) error {
	p, err := r.GetRecordingProxy(recorder)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relaxedMethods[p.typ.String()+"."+method] = true
	return nil
}

func (r *Recorder) appendInstruction(in instruction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instructions = append(r.instructions, in)
}

func (r *Recorder) nextSlot() int {
	i := r.deferredCount
	r.deferredCount++
	return i
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// instruction is one recorded action: a stored method call or a
// new-instance request.
type instruction interface{ isInstruction() }

type storedCall struct {
	recorderType reflect.Type
	method       reflect.Method
	args         []any
	deferred     []deferredParameter
	returnedProxy *ReturnedProxy
	proxyID      string
}

func (*storedCall) isInstruction() {}

type newInstanceCall struct {
	typeName string
	proxyID  string
}

func (*newInstanceCall) isInstruction() {}

// NewInstance records "construct typeName by zero value, wrap in a
// RuntimeValue, publish under a fresh key" and returns the proxy for the
// published value. The type must be resolvable through the program type
// registry at deploy time.
func (r *Recorder) NewInstance(typeName string) *ReturnedProxy {
	proxy := r.mintProxy(reflect.TypeOf((*startup.RuntimeValue)(nil)))
	r.appendInstruction(&newInstanceCall{typeName: typeName, proxyID: proxy.key})
	return proxy
}

// ---------------------------------------------------------------------------
// Recorder instances
// ---------------------------------------------------------------------------

// newRecorder is the deferred value producing the recorder instance the
// replayed calls are invoked on: the zero value of the recorder struct,
// or a registered factory whose parameters are resolved from constants
// and the config creator.
type newRecorder struct {
	arrayStoredParam
	typ     reflect.Type
	factory *ctorHolder
	params  []deferredParameter
}

func (r *Recorder) recorderValue(t reflect.Type) (*newRecorder, error) {
	if v, ok := r.recorderValues[t]; ok {
		return v, nil
	}
	base, err := r.newArrayStored(nil, t)
	if err != nil {
		return nil, err
	}
	nr := &newRecorder{arrayStoredParam: *base, typ: t, factory: r.recorderFactories[t]}
	nr.declared = gen.TypeRef(r.types.Register(t))
	nr.prepFn = func(sc *splitContext) error {
		for _, p := range nr.params {
			if err := p.prepare(sc); err != nil {
				return err
			}
		}
		return nil
	}
	nr.createFn = func(fc *fixedContext) (gen.Local, error) {
		if nr.factory == nil {
			return fc.proc.NewInstance(nr.declared), nil
		}
		args := make([]gen.Local, len(nr.params))
		for i, p := range nr.params {
			l, err := fc.loadDeferred(p)
			if err != nil {
				return gen.NoLocal, err
			}
			args[i] = l
		}
		return fc.proc.CallFunc(nr.factory.ref, args...), nil
	}
	r.recorderValues[t] = nr
	return nr, nil
}

// preWrite resolves the factory's injected parameters into deferred
// values before emission begins.
func (nr *newRecorder) preWrite(r *Recorder, identity *identityMap) error {
	if nr.factory == nil {
		return nil
	}
	ft := nr.factory.factory.Type()
	for i := 0; i < ft.NumIn(); i++ {
		pt := ft.In(i)
		if c, ok := r.constants[pt]; ok {
			dp, err := r.loadObjectInstance(c, identity, pt, false)
			if err != nil {
				return err
			}
			nr.params = append(nr.params, dp)
			continue
		}
		var obj any
		if r.configCreator != nil {
			obj = r.configCreator(pt)
		}
		if obj == nil {
			return fmt.Errorf("recorder: cannot inject parameter %d of type %s into recorder factory for %s: no constant and no config creator value", i, pt, nr.typ)
		}
		if rv, ok := obj.(*startup.RuntimeValue); ok {
			if r.staticInit {
				nr.params = append(nr.params, &inlineParam{loadFn: func(fc *fixedContext) (gen.Local, error) {
					return fc.proc.CallFunc(gen.BuiltinEmptyRuntimeValue), nil
				}})
				continue
			}
			inner, err := rv.Value()
			if err != nil {
				return err
			}
			loaded := r.findLoaded(inner)
			if loaded == nil {
				return fmt.Errorf("recorder: cannot inject object of type %s into recorder factory for %s", pt, nr.typ)
			}
			nr.params = append(nr.params, &inlineParam{
				prepFn: loaded.prepare,
				loadFn: func(fc *fixedContext) (gen.Local, error) {
					l, err := fc.loadDeferred(loaded)
					if err != nil {
						return gen.NoLocal, err
					}
					return fc.proc.CallFunc(gen.BuiltinNewRuntimeValue, l), nil
				},
			})
			continue
		}
		loaded := r.findLoaded(obj)
		if loaded == nil {
			return fmt.Errorf("recorder: cannot inject object of type %s into recorder factory for %s", pt, nr.typ)
		}
		nr.params = append(nr.params, loaded)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Emission
// ---------------------------------------------------------------------------

// WriteProgram prepares every recorded argument and writes the startup
// program: one entry procedure plus continuation procedures of at most
// 300 instruction groups, all sharing one object array allocated by the
// dedicated factory procedure. Emission is repeatable: the same recorded
// history produces an identical program on every call.
func (r *Recorder) WriteProgram() (*gen.Program, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// fresh per-emission state so a second write replays identically
	r.loadComplete = false
	r.deferredCount = 0
	r.recorderValues = make(map[reflect.Type]*newRecorder)

	prog := gen.NewProgram(r.className, r.types, r.funcs)
	entry := prog.Entry()
	if r.buildStepName != "" && r.methodName != "" {
		entry.SetStepName(r.buildStepName + "." + r.methodName)
	}

	identity := newIdentityMap(r.useIdentity)

	// First pass: lower every argument into a deferred value so the
	// reconstruction of an invocation can be split over several
	// procedures, and create the recorder instances.
	for _, in := range r.instructions {
		call, ok := in.(*storedCall)
		if !ok {
			continue
		}
		if _, err := r.recorderValue(call.recorderType); err != nil {
			return nil, err
		}
		mt := call.method.Type
		relaxed := r.relaxedMethods[call.recorderType.String()+"."+call.method.Name]
		for i, arg := range call.args {
			expected := paramType(mt, i)
			dp, err := r.loadObjectInstance(arg, identity, expected, relaxed)
			if err != nil {
				return nil, fmt.Errorf("recorder: failed to record call to %s.%s: %w",
					call.recorderType, call.method.Name, err)
			}
			call.deferred[i] = dp
		}
	}
	for _, nr := range r.recorderValues {
		if err := nr.preWrite(r, identity); err != nil {
			return nil, err
		}
	}

	// From here on no new deferred value may be allocated.
	r.loadComplete = true

	sc := newSplitContext(prog)
	for _, in := range r.instructions {
		switch call := in.(type) {
		case *storedCall:
			for _, dp := range call.deferred {
				if err := dp.prepare(sc); err != nil {
					return nil, err
				}
			}
			instance := r.recorderValues[call.recorderType]
			if err := instance.prepare(sc); err != nil {
				return nil, err
			}
			err := sc.writeInstruction(func(fc *fixedContext) error {
				args := make([]gen.Local, len(call.deferred))
				for i, dp := range call.deferred {
					l, err := fc.loadDeferred(dp)
					if err != nil {
						return err
					}
					args[i] = l
				}
				recv, err := fc.loadDeferred(&instance.arrayStoredParam)
				if err != nil {
					return err
				}
				result := fc.proc.CallMethod(recv, call.method.Name, args...)
				if call.returnedProxy != nil {
					fc.proc.CtxPut(call.proxyID, result)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		case *newInstanceCall:
			err := sc.writeInstruction(func(fc *fixedContext) error {
				val := fc.proc.NewInstance(gen.TypeRef(call.typeName))
				rv := fc.proc.CallFunc(gen.BuiltinNewRuntimeValue, val)
				fc.proc.CtxPut(call.proxyID, rv)
				return nil
			})
			if err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("recorder: unknown instruction %T", in)
		}
	}

	prog.ArrayFactory().AllocShared(r.deferredCount)
	log.Debugf("emitted %s: %d instruction(s), %d shared slot(s), %d procedure(s)",
		r.className, len(r.instructions), r.deferredCount, len(prog.Procs()))
	return prog, nil
}

// WriteProgramTo emits the program and hands it to a class output.
func (r *Recorder) WriteProgramTo(out gen.ClassOutput) error {
	prog, err := r.WriteProgram()
	if err != nil {
		return err
	}
	return out.Write(prog)
}

// paramType returns the declared type of argument i of a method,
// accounting for the receiver and variadic tails.
func paramType(mt reflect.Type, i int) reflect.Type {
	idx := i + 1 // skip receiver
	if mt.IsVariadic() && idx >= mt.NumIn()-1 {
		return mt.In(mt.NumIn() - 1).Elem()
	}
	return mt.In(idx)
}

// ---------------------------------------------------------------------------
// Identity map
// ---------------------------------------------------------------------------

// identityMap deduplicates argument objects within one emission. The
// default is identity: pointer-shaped values (pointers, maps, slices,
// channels, funcs) dedup by address, so shared subgraphs materialize
// once and reference identity survives the round trip. Value equality
// can be selected instead, deduplicating comparable values.
type identityMap struct {
	useIdentity bool
	entries     map[identityKey]deferredParameter
}

type identityKey struct {
	typ  reflect.Type
	ptr  uintptr
	len  int
	val  any
}

func newIdentityMap(useIdentity bool) *identityMap {
	return &identityMap{useIdentity: useIdentity, entries: make(map[identityKey]deferredParameter)}
}

func (m *identityMap) keyFor(v any) (identityKey, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return identityKey{typ: rv.Type(), ptr: rv.Pointer()}, true
	case reflect.Slice:
		return identityKey{typ: rv.Type(), ptr: rv.Pointer(), len: rv.Len()}, true
	}
	if !m.useIdentity && rv.IsValid() && rv.Comparable() {
		return identityKey{typ: rv.Type(), val: v}, true
	}
	return identityKey{}, false
}

func (m *identityMap) get(v any) (deferredParameter, bool) {
	k, ok := m.keyFor(v)
	if !ok {
		return nil, false
	}
	dp, ok := m.entries[k]
	return dp, ok
}

func (m *identityMap) put(v any, dp deferredParameter) {
	if k, ok := m.keyFor(v); ok {
		m.entries[k] = dp
	}
}
