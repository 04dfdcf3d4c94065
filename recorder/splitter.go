package recorder

import (
	"fmt"

	"github.com/chazu/replay/gen"
)

// maxInstructionGroups bounds the number of instruction groups per
// generated procedure. There is no fixed size for a group, but in
// practice this keeps every procedure well under the backend's method
// size limits.
const maxInstructionGroups = 300

// splitContext manages the creation of continuation procedures. It
// tracks the number of instruction groups written into the current
// procedure and allocates a new one when the threshold is hit. Each new
// procedure is invoked from the entry procedure, so recorded order is
// preserved.
type splitContext struct {
	prog  *gen.Program
	entry *gen.Proc

	procCount int
	count     int
	current   *gen.Proc
	cache     map[int]gen.Local
}

func newSplitContext(prog *gen.Program) *splitContext {
	return &splitContext{prog: prog, entry: prog.Entry()}
}

func (sc *splitContext) newProc() {
	sc.count = 0
	name := fmt.Sprintf("%s_%d", gen.EntryProcName, sc.procCount)
	sc.procCount++
	sc.current = sc.prog.NewProc(name, 2)
	sc.entry.InvokeProc(name)
	sc.cache = make(map[int]gen.Local)
}

func (sc *splitContext) fixed() *fixedContext {
	if sc.current == nil || sc.count >= maxInstructionGroups {
		sc.newProc()
	}
	sc.count++
	return &fixedContext{sc: sc, proc: sc.current, cache: sc.cache}
}

// writeInstruction writes one instruction group. Everything emitted by w
// is scoped to a single procedure.
func (sc *splitContext) writeInstruction(w func(fc *fixedContext) error) error {
	fc := sc.fixed()
	fc.proc.BeginGroup()
	return w(fc)
}

// loadDeferred loads a deferred parameter at the top level, counting a
// group of its own.
func (sc *splitContext) loadDeferred(p deferredParameter) (gen.Local, error) {
	fc := sc.fixed()
	fc.proc.BeginGroup()
	return fc.loadDeferred(p)
}

// fixedContext pins one procedure while a group is written into it, even
// if preparing nested values rolls the split context over to a new
// procedure in the meantime. It memoizes shared-array reads so a slot is
// fetched at most once per procedure.
type fixedContext struct {
	sc    *splitContext
	proc  *gen.Proc
	cache map[int]gen.Local
}

func (fc *fixedContext) loadDeferred(p deferredParameter) (gen.Local, error) {
	as, stored := p.(*arrayStoredParam)
	if !stored {
		return p.load(fc)
	}
	if as.arrayIndex >= 0 {
		if l, ok := fc.cache[as.arrayIndex]; ok {
			return l, nil
		}
	}
	loaded, err := as.load(fc)
	if err != nil {
		return gen.NoLocal, err
	}
	if as.arrayIndex < 0 {
		// still procedure-local, nothing to memoize
		return loaded, nil
	}
	if fc.sc.current == fc.proc {
		fc.cache[as.arrayIndex] = loaded
		return loaded, nil
	}
	// preparation moved the split context on; re-read in this procedure
	ret := fc.proc.SharedLoad(as.arrayIndex, as.declared)
	fc.cache[as.arrayIndex] = ret
	return ret, nil
}
