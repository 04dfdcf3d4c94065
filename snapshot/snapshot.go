// Package snapshot is an object loader that records values as canonical
// CBOR blobs. Types opt in by registration; a claimed value is encoded
// at build time, the blob is embedded in the emitted program, and the
// startup instruction decodes it into a fresh value of the registered
// type. This gives flat data objects a recording path without writing a
// substitution pair.
package snapshot

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/replay/gen"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("snapshot: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// DecodeFuncName is the registered function the emitted decode call goes
// through.
const DecodeFuncName = "snapshot.decode"

// Loader snapshots registered types through CBOR. It implements
// recorder.ObjectLoader.
type Loader struct {
	mu       sync.RWMutex
	types    map[reflect.Type]bool
	registry *gen.TypeRegistry
}

// NewLoader creates a loader and registers its decode function with the
// given registries so emitted programs can resolve it.
func NewLoader(types *gen.TypeRegistry, funcs *gen.FuncRegistry) (*Loader, error) {
	l := &Loader{types: make(map[reflect.Type]bool), registry: types}
	err := funcs.Register(DecodeFuncName, func(blob []byte, t reflect.Type) (any, error) {
		return Decode(blob, t)
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// RegisterType opts a type into snapshotting. Pointer and value forms
// are both claimed.
func (l *Loader) RegisterType(t reflect.Type) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	l.registry.Register(t)
	l.registry.Register(reflect.PointerTo(t))
	l.mu.Lock()
	defer l.mu.Unlock()
	l.types[t] = true
}

// CanHandle claims values of registered types.
func (l *Loader) CanHandle(obj any, staticInit bool) bool {
	t := reflect.TypeOf(obj)
	if t == nil {
		return false
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.types[t]
}

// Emit encodes the value and emits the decode call that rebuilds it at
// startup.
func (l *Loader) Emit(proc *gen.Proc, obj any, staticInit bool) (gen.Local, error) {
	blob, err := Marshal(obj)
	if err != nil {
		return gen.NoLocal, err
	}
	t := reflect.TypeOf(obj)
	wasPointer := t.Kind() == reflect.Pointer
	if wasPointer {
		t = t.Elem()
	}
	name := gen.TypeName(t)
	blobLocal := proc.LoadConst(blob)
	typeLocal := proc.LoadType(name)
	decoded := proc.CallFunc(DecodeFuncName, blobLocal, typeLocal)
	if !wasPointer {
		return decoded, nil
	}
	return proc.NewPointer(gen.TypeRef(gen.TypeName(reflect.PointerTo(t))), decoded), nil
}

// Marshal encodes a value to canonical CBOR bytes.
func Marshal(obj any) ([]byte, error) {
	data, err := cborEncMode.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal %T: %w", obj, err)
	}
	return data, nil
}

// Decode rebuilds a value of the given type from a snapshot blob.
func Decode(blob []byte, t reflect.Type) (any, error) {
	ptr := reflect.New(t)
	if err := cbor.Unmarshal(blob, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("snapshot: unmarshal %s: %w", t, err)
	}
	return ptr.Elem().Interface(), nil
}
