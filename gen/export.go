package gen

// InstrInfo is the renderer-facing view of one instruction. Backends
// that translate programs into another form (Go source, listings)
// switch on Op; only the fields the op uses are set.
type InstrInfo struct {
	Op     string
	Dst    Local
	Src    Local
	Recv   Local
	Args   []Local
	Key    string
	Name   string
	Method string
	Field  string
	Type   TypeRef
	Fn     FuncRef
	Index  int
	Length int
	Const  any
}

// Instruction ops, as they appear in InstrInfo.Op.
const (
	OpGroup       = "group"
	OpConst       = "const"
	OpCtxGet      = "ctx-get"
	OpCtxPut      = "ctx-put"
	OpStepName    = "step-name"
	OpNew         = "new"
	OpCall        = "call"
	OpCallFunc    = "call-func"
	OpNewContainer = "new-container"
	OpIndexSet    = "index-set"
	OpNewSlice    = "new-slice"
	OpSliceAppend = "slice-append"
	OpNewMap      = "new-map"
	OpMapPut      = "map-put"
	OpSetField    = "set-field"
	OpNewPointer  = "new-pointer"
	OpLoadType    = "load-type"
	OpSharedLoad  = "shared-load"
	OpSharedStore = "shared-store"
	OpInvokeProc  = "invoke-proc"
	OpAllocShared = "alloc-shared"
)

// Export returns the renderer view of the procedure's instructions.
func (pr *Proc) Export() []InstrInfo {
	out := make([]InstrInfo, 0, len(pr.instrs))
	for _, in := range pr.instrs {
		out = append(out, in.info())
	}
	return out
}

// Params returns the number of formal parameters.
func (pr *Proc) Params() int { return pr.params }

// Locals returns the number of locals the procedure uses.
func (pr *Proc) Locals() int { return pr.locals }

func (iGroup) info() InstrInfo { return InstrInfo{Op: OpGroup} }

func (i iConst) info() InstrInfo {
	return InstrInfo{Op: OpConst, Dst: i.dst, Const: i.val}
}

func (i iCtxGet) info() InstrInfo {
	return InstrInfo{Op: OpCtxGet, Dst: i.dst, Key: i.key}
}

func (i iCtxPut) info() InstrInfo {
	return InstrInfo{Op: OpCtxPut, Src: i.src, Key: i.key}
}

func (i iStepName) info() InstrInfo {
	return InstrInfo{Op: OpStepName, Name: i.name}
}

func (i iNewInstance) info() InstrInfo {
	return InstrInfo{Op: OpNew, Dst: i.dst, Type: i.typ}
}

func (i iCallMethod) info() InstrInfo {
	return InstrInfo{Op: OpCall, Dst: i.dst, Recv: i.recv, Method: i.method, Args: i.args}
}

func (i iCallFunc) info() InstrInfo {
	return InstrInfo{Op: OpCallFunc, Dst: i.dst, Fn: i.fn, Args: i.args}
}

func (i iNewContainer) info() InstrInfo {
	return InstrInfo{Op: OpNewContainer, Dst: i.dst, Type: i.typ, Length: i.length}
}

func (i iIndexSet) info() InstrInfo {
	return InstrInfo{Op: OpIndexSet, Recv: i.container, Index: i.index, Src: i.val}
}

func (i iNewSliceBuilder) info() InstrInfo {
	return InstrInfo{Op: OpNewSlice, Dst: i.dst, Type: i.typ, Length: i.capacity}
}

func (i iSliceAppend) info() InstrInfo {
	return InstrInfo{Op: OpSliceAppend, Recv: i.slice, Src: i.val}
}

func (i iNewMap) info() InstrInfo {
	return InstrInfo{Op: OpNewMap, Dst: i.dst, Type: i.typ}
}

func (i iMapPut) info() InstrInfo {
	return InstrInfo{Op: OpMapPut, Recv: i.m, Args: []Local{i.k, i.v}}
}

func (i iSetField) info() InstrInfo {
	return InstrInfo{Op: OpSetField, Recv: i.obj, Field: i.field, Src: i.val}
}

func (i iNewPointer) info() InstrInfo {
	return InstrInfo{Op: OpNewPointer, Dst: i.dst, Type: i.typ, Src: i.val}
}

func (i iLoadType) info() InstrInfo {
	return InstrInfo{Op: OpLoadType, Dst: i.dst, Name: i.name}
}

func (i iSharedLoad) info() InstrInfo {
	return InstrInfo{Op: OpSharedLoad, Dst: i.dst, Index: i.index, Type: i.cast}
}

func (i iSharedStore) info() InstrInfo {
	return InstrInfo{Op: OpSharedStore, Index: i.index, Src: i.src}
}

func (i iInvokeProc) info() InstrInfo {
	return InstrInfo{Op: OpInvokeProc, Name: i.name}
}

func (i iAllocShared) info() InstrInfo {
	return InstrInfo{Op: OpAllocShared, Length: i.size}
}
