package recorder

import (
	"fmt"
	"reflect"

	"github.com/chazu/replay/gen"
)

// deferredParameter is a plan node describing how to reconstruct one
// argument at startup. prepare wires the node's subgraph and emits its
// creation code (if any) into whichever procedure is current; load is
// called once per use site.
type deferredParameter interface {
	prepare(sc *splitContext) error
	load(fc *fixedContext) (gen.Local, error)
}

// ---------------------------------------------------------------------------
// Inline nodes: re-emitted at every use site
// ---------------------------------------------------------------------------

// inlineParam produces its value by direct emission: literals, context
// lookups, enum parses. prepFn, when set, prepares sub-values first.
type inlineParam struct {
	prepared bool
	prepFn   func(sc *splitContext) error
	loadFn   func(fc *fixedContext) (gen.Local, error)
}

func (p *inlineParam) prepare(sc *splitContext) error {
	if p.prepared {
		return nil
	}
	p.prepared = true
	if p.prepFn != nil {
		return p.prepFn(sc)
	}
	return nil
}

func (p *inlineParam) load(fc *fixedContext) (gen.Local, error) {
	return p.loadFn(fc)
}

// ---------------------------------------------------------------------------
// Array-stored nodes: created once, parked in the shared array
// ---------------------------------------------------------------------------

// arrayStoredParam runs its creation fragment once in the procedure that
// is current at first prepare. Loads from that procedure reuse the local
// result handle; the first load from any other procedure assigns the
// node's slot in the shared object array, stashes the value there from
// the original procedure, and reads it back with a cast to the declared
// type when one is known.
type arrayStoredParam struct {
	rec *Recorder

	prepared   bool
	arrayIndex int
	declared   gen.TypeRef

	// prepFn wires sub-values; createFn emits the creation fragment.
	prepFn   func(sc *splitContext) error
	createFn func(fc *fixedContext) (gen.Local, error)

	originalProc  *gen.Proc
	originalLocal gen.Local
}

// newArrayStored allocates an array-stored node for target. The declared
// type (used for the read-back cast) prefers the target's dynamic type;
// proxies and nil targets use the expected type, and have none when it
// is nil.
func (r *Recorder) newArrayStored(target any, expected reflect.Type) (*arrayStoredParam, error) {
	if r.loadComplete {
		return nil, fmt.Errorf("recorder: too late to allocate a deferred value for %v: emission already began", target)
	}
	p := &arrayStoredParam{rec: r, arrayIndex: -1}
	var dt reflect.Type
	switch {
	case target != nil && !isProxyValue(target):
		dt = reflect.TypeOf(target)
	case expected != nil:
		dt = expected
	}
	if dt != nil {
		p.declared = gen.TypeRef(r.types.Register(dt))
	}
	return p, nil
}

func isProxyValue(v any) bool {
	_, ok := v.(*ReturnedProxy)
	return ok
}

func (p *arrayStoredParam) prepare(sc *splitContext) error {
	if p.prepared {
		return nil
	}
	p.prepared = true
	if p.prepFn != nil {
		if err := p.prepFn(sc); err != nil {
			return err
		}
	}
	return sc.writeInstruction(func(fc *fixedContext) error {
		local, err := p.createFn(fc)
		if err != nil {
			return err
		}
		p.originalLocal = local
		p.originalProc = fc.proc
		return nil
	})
}

func (p *arrayStoredParam) load(fc *fixedContext) (gen.Local, error) {
	if !p.prepared {
		if err := p.prepare(fc.sc); err != nil {
			return gen.NoLocal, err
		}
	}
	if fc.proc == p.originalProc {
		return p.originalLocal, nil
	}
	if p.arrayIndex == -1 {
		p.arrayIndex = p.rec.nextSlot()
		p.originalProc.SharedStore(p.arrayIndex, p.originalLocal)
	}
	return fc.proc.SharedLoad(p.arrayIndex, p.declared), nil
}
