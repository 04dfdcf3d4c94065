package gen

import (
	"fmt"

	"github.com/chazu/replay/startup"
)

// Local is a procedure-scoped result handle: an index into the executing
// frame's locals. NoLocal marks "no result" (void calls).
type Local int

// NoLocal is the absent result handle.
const NoLocal Local = -1

// EntryProcName is the name of the entry procedure of every program.
const EntryProcName = "deploy"

// CreateArrayProcName is the name of the factory procedure that allocates
// the shared object array.
const CreateArrayProcName = "$replay$createArray"

// ClassOutput receives finished programs. The recorder writes through
// this interface so alternative backends (Go source, caching) can consume
// the same emission.
type ClassOutput interface {
	Write(p *Program) error
}

// Program is one emitted startup unit: an entry procedure, the shared
// array factory, and the continuation procedures holding the recorded
// work, together with the registries deploy-time resolution goes through.
type Program struct {
	Name  string
	Types *TypeRegistry
	Funcs *FuncRegistry

	procs   []*Proc
	byName  map[string]*Proc
	entry   *Proc
	factory *Proc
}

// NewProgram creates a program with its entry and array-factory
// procedures in place. Nil registries are replaced with fresh ones.
func NewProgram(name string, types *TypeRegistry, funcs *FuncRegistry) *Program {
	if types == nil {
		types = NewTypeRegistry()
	}
	if funcs == nil {
		funcs = NewFuncRegistry()
	}
	p := &Program{
		Name:   name,
		Types:  types,
		Funcs:  funcs,
		byName: make(map[string]*Proc),
	}
	p.entry = p.NewProc(EntryProcName, 1)
	p.factory = p.NewProc(CreateArrayProcName, 1)
	return p
}

// Entry returns the entry procedure.
func (p *Program) Entry() *Proc { return p.entry }

// ArrayFactory returns the shared-array factory procedure.
func (p *Program) ArrayFactory() *Proc { return p.factory }

// NewProc allocates a procedure. params is the number of formal
// parameters: 1 for (ctx), 2 for (ctx, array) continuations.
func (p *Program) NewProc(name string, params int) *Proc {
	proc := &Proc{name: name, params: params, prog: p}
	p.procs = append(p.procs, proc)
	p.byName[name] = proc
	return proc
}

// Proc returns a procedure by name.
func (p *Program) Proc(name string) (*Proc, bool) {
	proc, ok := p.byName[name]
	return proc, ok
}

// Procs returns all procedures in creation order.
func (p *Program) Procs() []*Proc { return p.procs }

// Continuations returns the procedures holding recorded work, in the
// order the entry procedure invokes them.
func (p *Program) Continuations() []*Proc {
	var out []*Proc
	for _, proc := range p.procs {
		if proc != p.entry && proc != p.factory {
			out = append(out, proc)
		}
	}
	return out
}

// Deploy executes the program against a startup context. It implements
// startup.Task: the factory procedure allocates the shared array, then
// the entry procedure runs, invoking each continuation in order.
func (p *Program) Deploy(ctx *startup.Context) error {
	ff := newFrame(p, ctx, nil, p.factory)
	if err := ff.run(); err != nil {
		return err
	}
	ef := newFrame(p, ctx, ff.shared, p.entry)
	return ef.run()
}

// ---------------------------------------------------------------------------
// Proc: a procedure under construction
// ---------------------------------------------------------------------------

// Proc is a single generated procedure: an ordered instruction list with
// group boundaries and monotonically allocated locals.
type Proc struct {
	name   string
	params int
	instrs []instr
	groups int
	locals int
	prog   *Program
}

// Name returns the procedure name.
func (pr *Proc) Name() string { return pr.name }

// GroupCount returns the number of instruction groups written so far.
func (pr *Proc) GroupCount() int { return pr.groups }

// InstructionCount returns the number of instructions written so far.
func (pr *Proc) InstructionCount() int { return len(pr.instrs) }

// BeginGroup marks the start of an instruction group. Groups are the
// atomic unit of the method splitter: everything between two marks lives
// in this procedure.
func (pr *Proc) BeginGroup() {
	pr.groups++
	pr.instrs = append(pr.instrs, iGroup{})
}

func (pr *Proc) newLocal() Local {
	l := Local(pr.locals)
	pr.locals++
	return l
}

func (pr *Proc) emit(in instr) {
	pr.instrs = append(pr.instrs, in)
}

// LoadConst loads a literal value (scalars, strings, byte slices).
func (pr *Proc) LoadConst(v any) Local {
	dst := pr.newLocal()
	pr.emit(iConst{dst: dst, val: v})
	return dst
}

// LoadNull loads the nil value.
func (pr *Proc) LoadNull() Local {
	dst := pr.newLocal()
	pr.emit(iConst{dst: dst, val: nil})
	return dst
}

// CtxGet reads a value from the startup context.
func (pr *Proc) CtxGet(key string) Local {
	dst := pr.newLocal()
	pr.emit(iCtxGet{dst: dst, key: key})
	return dst
}

// CtxPut publishes a value into the startup context.
func (pr *Proc) CtxPut(key string, v Local) {
	pr.emit(iCtxPut{key: key, src: v})
}

// SetStepName records the current build step name on the context.
func (pr *Proc) SetStepName(name string) {
	pr.emit(iStepName{name: name})
}

// NewInstance allocates a fresh zero value of the named type and yields a
// pointer to it. A pointer-typed ref allocates the pointed-to type.
func (pr *Proc) NewInstance(t TypeRef) Local {
	dst := pr.newLocal()
	pr.emit(iNewInstance{dst: dst, typ: t})
	return dst
}

// CallMethod invokes a method by name on the receiver's dynamic type. A
// trailing error result aborts deployment; the first non-error result, if
// any, is the instruction's value.
func (pr *Proc) CallMethod(recv Local, name string, args ...Local) Local {
	dst := pr.newLocal()
	pr.emit(iCallMethod{dst: dst, recv: recv, method: name, args: args})
	return dst
}

// CallFunc invokes a registered function. Same result convention as
// CallMethod.
func (pr *Proc) CallFunc(fn FuncRef, args ...Local) Local {
	dst := pr.newLocal()
	pr.emit(iCallFunc{dst: dst, fn: fn, args: args})
	return dst
}

// NewContainer allocates a slice (with the given length) or array of the
// named type and yields a pointer to it, so population can span
// procedures while sharing one backing store.
func (pr *Proc) NewContainer(t TypeRef, length int) Local {
	dst := pr.newLocal()
	pr.emit(iNewContainer{dst: dst, typ: t, length: length})
	return dst
}

// IndexSet writes a value into slot i of a container pointer produced by
// NewContainer.
func (pr *Proc) IndexSet(container Local, i int, v Local) {
	pr.emit(iIndexSet{container: container, index: i, val: v})
}

// NewSliceBuilder allocates an empty slice of the named type with the
// given capacity and yields a pointer to it.
func (pr *Proc) NewSliceBuilder(t TypeRef, capacity int) Local {
	dst := pr.newLocal()
	pr.emit(iNewSliceBuilder{dst: dst, typ: t, capacity: capacity})
	return dst
}

// SliceAppend appends a value through a slice pointer.
func (pr *Proc) SliceAppend(slice Local, v Local) {
	pr.emit(iSliceAppend{slice: slice, val: v})
}

// NewMap allocates an empty map of the named type.
func (pr *Proc) NewMap(t TypeRef) Local {
	dst := pr.newLocal()
	pr.emit(iNewMap{dst: dst, typ: t})
	return dst
}

// MapPut stores an entry into a map.
func (pr *Proc) MapPut(m, k, v Local) {
	pr.emit(iMapPut{m: m, k: k, v: v})
}

// SetField writes a value into a named field through a struct pointer.
func (pr *Proc) SetField(obj Local, field string, v Local) {
	pr.emit(iSetField{obj: obj, field: field, val: v})
}

// NewPointer allocates a pointer of the named pointer type holding the
// given value.
func (pr *Proc) NewPointer(t TypeRef, v Local) Local {
	dst := pr.newLocal()
	pr.emit(iNewPointer{dst: dst, typ: t, val: v})
	return dst
}

// LoadType resolves a registered type name to its reflect.Type at
// deploy time.
func (pr *Proc) LoadType(name string) Local {
	dst := pr.newLocal()
	pr.emit(iLoadType{dst: dst, name: name})
	return dst
}

// SharedLoad reads a slot of the shared object array, coercing to the
// declared type when one is known.
func (pr *Proc) SharedLoad(index int, cast TypeRef) Local {
	dst := pr.newLocal()
	pr.emit(iSharedLoad{dst: dst, index: index, cast: cast})
	return dst
}

// SharedStore writes a value into a slot of the shared object array.
func (pr *Proc) SharedStore(index int, v Local) {
	pr.emit(iSharedStore{index: index, src: v})
}

// InvokeProc invokes another procedure of the same program with the
// current context and shared array. Used by the entry procedure to chain
// continuations.
func (pr *Proc) InvokeProc(name string) {
	pr.emit(iInvokeProc{name: name})
}

// AllocShared emits the single factory instruction sizing the shared
// object array.
func (pr *Proc) AllocShared(size int) {
	pr.emit(iAllocShared{size: size})
}

func (pr *Proc) String() string {
	return fmt.Sprintf("proc %s/%d", pr.name, pr.params)
}
