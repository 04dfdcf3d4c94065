package recorder

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"github.com/chazu/replay/startup"
)

// ReturnedProxy is the opaque stand-in for a value a recorded call will
// produce at startup. It carries the key the value is published under
// and the phase of the recorder that minted it. The only things a proxy
// is good for are logging it and passing it back into a recorder.
type ReturnedProxy struct {
	key        string
	staticInit bool
	returnType reflect.Type
}

// Key returns the startup-context key the value will be published under.
func (p *ReturnedProxy) Key() string { return p.key }

// IsStaticInit reports whether the proxy was minted by a static-init
// recorder.
func (p *ReturnedProxy) IsStaticInit() bool { return p.staticInit }

// String is safe to call; accidental logging never triggers a recording.
func (p *ReturnedProxy) String() string {
	return fmt.Sprintf("runtime proxy of %s with key %s", p.returnType, p.key)
}

// Equal is identity comparison: a proxy only equals itself.
func (p *ReturnedProxy) Equal(other *ReturnedProxy) bool { return p == other }

// Invoke always fails: a returned value has not been created yet at
// build time, so there is nothing to call methods on.
func (p *ReturnedProxy) Invoke(method string, args ...any) (any, error) {
	return nil, fmt.Errorf(
		"recorder: cannot invoke %s() directly on a value returned from the recorder; pass it back into the recorder as a parameter", method)
}

// RecordingProxy intercepts method calls on a recorder type. Every
// Invoke appends a stored call to the owning Recorder instead of
// executing anything.
type RecordingProxy struct {
	rec *Recorder
	typ reflect.Type // pointer-to-struct recorder type
}

// Type returns the proxied recorder type.
func (p *RecordingProxy) Type() reflect.Type { return p.typ }

// Invoke records a call to the named recorder method. For non-void
// methods it returns a fresh ReturnedProxy standing in for the future
// result; the proxy can be passed back into any recorder of a
// compatible phase.
func (p *RecordingProxy) Invoke(method string, args ...any) (any, error) {
	r := p.rec
	m, ok := p.typ.MethodByName(method)
	if !ok {
		return nil, fmt.Errorf("recorder: %s has no method %s", p.typ, method)
	}
	mt := m.Type
	want := mt.NumIn() - 1 // excluding the receiver
	if mt.IsVariadic() {
		if len(args) < want-1 {
			return nil, fmt.Errorf("recorder: %s.%s wants at least %d arguments, got %d",
				p.typ, method, want-1, len(args))
		}
	} else if len(args) != want {
		return nil, fmt.Errorf("recorder: %s.%s wants %d arguments, got %d",
			p.typ, method, want, len(args))
	}

	if r.staticInit {
		for i, a := range args {
			if rp, ok := a.(*ReturnedProxy); ok && !rp.IsStaticInit() {
				return nil, fmt.Errorf(
					"recorder: invalid proxy passed to %s.%s: parameter %d was created in a runtime recorder method, while this recorder is for static init; the object will not exist when this method runs",
					p.typ, method, i)
			}
		}
	}

	call := &storedCall{
		recorderType: p.typ,
		method:       m,
		args:         args,
		deferred:     make([]deferredParameter, len(args)),
	}
	r.appendInstruction(call)
	log.Debugf("recorded %s.%s with %d argument(s)", p.typ, method, len(args))

	if mt.NumOut() == 0 {
		return nil, nil
	}
	ret := mt.Out(0)
	if !isProxiable(ret) {
		return nil, fmt.Errorf(
			"recorder: cannot use %s.%s as a recorder method: return type %s cannot be proxied; return *startup.RuntimeValue instead",
			p.typ, method, ret)
	}
	proxy := r.mintProxy(ret)
	call.returnedProxy = proxy
	call.proxyID = proxy.key
	return proxy, nil
}

// isProxiable reports whether a return type can be stood in for by a
// ReturnedProxy: interface types and the runtime value wrapper. Concrete
// types are the Go analogue of final classes and cannot be proxied.
func isProxiable(t reflect.Type) bool {
	if t == reflect.TypeOf((*startup.RuntimeValue)(nil)) {
		return true
	}
	return t.Kind() == reflect.Interface
}

func (r *Recorder) mintProxy(returnType reflect.Type) *ReturnedProxy {
	key := "proxykey." + strings.ReplaceAll(uuid.New().String(), "-", "")
	return &ReturnedProxy{key: key, staticInit: r.staticInit, returnType: returnType}
}

// GetRecordingProxy returns the recording proxy for a recorder type,
// given either the pointer type itself or any value of it (a typed nil
// works). Repeated calls return the same proxy.
func (r *Recorder) GetRecordingProxy(recorder any) (*RecordingProxy, error) {
	var t reflect.Type
	switch v := recorder.(type) {
	case reflect.Type:
		t = v
	default:
		t = reflect.TypeOf(recorder)
	}
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("recorder: recorder must be a pointer-to-struct type, got %v", t)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.proxies[t]; ok {
		return p, nil
	}
	p := &RecordingProxy{rec: r, typ: t}
	r.proxies[t] = p
	r.types.Register(t)
	return p, nil
}
