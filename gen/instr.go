package gen

import (
	"fmt"
	"reflect"
	"strings"
)

// instr is a single executable, renderable instruction. Rendering is
// deterministic: two emissions of the same recorded history produce
// byte-identical listings.
type instr interface {
	exec(f *frame) error
	info() InstrInfo
	String() string
}

func locs(ls []Local) string {
	parts := make([]string, len(ls))
	for i, l := range ls {
		parts[i] = fmt.Sprintf("r%d", l)
	}
	return strings.Join(parts, ", ")
}

// iGroup is the group boundary marker.
type iGroup struct{}

func (iGroup) exec(*frame) error { return nil }
func (iGroup) String() string    { return "GROUP" }

type iConst struct {
	dst Local
	val any
}

func (i iConst) exec(f *frame) error {
	f.locals[i.dst] = i.val
	return nil
}

func (i iConst) String() string {
	if i.val == nil {
		return fmt.Sprintf("CONST r%d, nil", i.dst)
	}
	return fmt.Sprintf("CONST r%d, %#v", i.dst, i.val)
}

type iCtxGet struct {
	dst Local
	key string
}

func (i iCtxGet) exec(f *frame) error {
	f.locals[i.dst] = f.ctx.GetValue(i.key)
	return nil
}

func (i iCtxGet) String() string { return fmt.Sprintf("CTX_GET r%d, %q", i.dst, i.key) }

type iCtxPut struct {
	key string
	src Local
}

func (i iCtxPut) exec(f *frame) error {
	f.ctx.PutValue(i.key, f.locals[i.src])
	return nil
}

func (i iCtxPut) String() string { return fmt.Sprintf("CTX_PUT %q, r%d", i.key, i.src) }

type iStepName struct {
	name string
}

func (i iStepName) exec(f *frame) error {
	f.ctx.SetCurrentBuildStepName(i.name)
	return nil
}

func (i iStepName) String() string { return fmt.Sprintf("STEP_NAME %q", i.name) }

type iNewInstance struct {
	dst Local
	typ TypeRef
}

func (i iNewInstance) exec(f *frame) error {
	t, err := f.prog.Types.Load(string(i.typ))
	if err != nil {
		return err
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	f.locals[i.dst] = reflect.New(t).Interface()
	return nil
}

func (i iNewInstance) String() string { return fmt.Sprintf("NEW r%d, %s", i.dst, i.typ) }

type iCallMethod struct {
	dst    Local
	recv   Local
	method string
	args   []Local
}

func (i iCallMethod) exec(f *frame) error {
	recv := f.locals[i.recv]
	if recv == nil {
		return fmt.Errorf("method %s on nil receiver", i.method)
	}
	m := reflect.ValueOf(recv).MethodByName(i.method)
	if !m.IsValid() {
		return fmt.Errorf("type %T has no method %s", recv, i.method)
	}
	res, err := callValue(f, m, i.args)
	if err != nil {
		return err
	}
	if i.dst != NoLocal {
		f.locals[i.dst] = res
	}
	return nil
}

func (i iCallMethod) String() string {
	return fmt.Sprintf("CALL r%d, r%d.%s(%s)", i.dst, i.recv, i.method, locs(i.args))
}

type iCallFunc struct {
	dst  Local
	fn   FuncRef
	args []Local
}

func (i iCallFunc) exec(f *frame) error {
	fn, err := f.prog.Funcs.Load(string(i.fn))
	if err != nil {
		return err
	}
	res, err := callValue(f, fn, i.args)
	if err != nil {
		return err
	}
	if i.dst != NoLocal {
		f.locals[i.dst] = res
	}
	return nil
}

func (i iCallFunc) String() string {
	return fmt.Sprintf("CALLF r%d, %s(%s)", i.dst, i.fn, locs(i.args))
}

type iNewContainer struct {
	dst    Local
	typ    TypeRef
	length int
}

func (i iNewContainer) exec(f *frame) error {
	t, err := f.prog.Types.Load(string(i.typ))
	if err != nil {
		return err
	}
	ptr := reflect.New(t)
	if t.Kind() == reflect.Slice {
		ptr.Elem().Set(reflect.MakeSlice(t, i.length, i.length))
	}
	f.locals[i.dst] = ptr.Interface()
	return nil
}

func (i iNewContainer) String() string {
	return fmt.Sprintf("NEW_CONTAINER r%d, %s, len=%d", i.dst, i.typ, i.length)
}

type iIndexSet struct {
	container Local
	index     int
	val       Local
}

func (i iIndexSet) exec(f *frame) error {
	ptr := reflect.ValueOf(f.locals[i.container])
	if ptr.Kind() != reflect.Pointer {
		return fmt.Errorf("INDEX_SET on non-pointer %T", f.locals[i.container])
	}
	slot := ptr.Elem().Index(i.index)
	v, err := coerce(f.locals[i.val], slot.Type())
	if err != nil {
		return err
	}
	slot.Set(v)
	return nil
}

func (i iIndexSet) String() string {
	return fmt.Sprintf("INDEX_SET r%d[%d], r%d", i.container, i.index, i.val)
}

type iNewSliceBuilder struct {
	dst      Local
	typ      TypeRef
	capacity int
}

func (i iNewSliceBuilder) exec(f *frame) error {
	t, err := f.prog.Types.Load(string(i.typ))
	if err != nil {
		return err
	}
	if t.Kind() != reflect.Slice {
		return fmt.Errorf("slice builder for non-slice type %s", t)
	}
	ptr := reflect.New(t)
	ptr.Elem().Set(reflect.MakeSlice(t, 0, i.capacity))
	f.locals[i.dst] = ptr.Interface()
	return nil
}

func (i iNewSliceBuilder) String() string {
	return fmt.Sprintf("NEW_SLICE r%d, %s, cap=%d", i.dst, i.typ, i.capacity)
}

type iSliceAppend struct {
	slice Local
	val   Local
}

func (i iSliceAppend) exec(f *frame) error {
	ptr := reflect.ValueOf(f.locals[i.slice])
	if ptr.Kind() != reflect.Pointer || ptr.Elem().Kind() != reflect.Slice {
		return fmt.Errorf("SLICE_APPEND on %T", f.locals[i.slice])
	}
	elem := ptr.Elem().Type().Elem()
	v, err := coerce(f.locals[i.val], elem)
	if err != nil {
		return err
	}
	ptr.Elem().Set(reflect.Append(ptr.Elem(), v))
	return nil
}

func (i iSliceAppend) String() string {
	return fmt.Sprintf("SLICE_APPEND r%d, r%d", i.slice, i.val)
}

type iNewMap struct {
	dst Local
	typ TypeRef
}

func (i iNewMap) exec(f *frame) error {
	t, err := f.prog.Types.Load(string(i.typ))
	if err != nil {
		return err
	}
	if t.Kind() != reflect.Map {
		return fmt.Errorf("NEW_MAP for non-map type %s", t)
	}
	f.locals[i.dst] = reflect.MakeMap(t).Interface()
	return nil
}

func (i iNewMap) String() string { return fmt.Sprintf("NEW_MAP r%d, %s", i.dst, i.typ) }

type iMapPut struct {
	m, k, v Local
}

func (i iMapPut) exec(f *frame) error {
	m := reflect.ValueOf(f.locals[i.m])
	if m.Kind() != reflect.Map {
		return fmt.Errorf("MAP_PUT on %T", f.locals[i.m])
	}
	k, err := coerce(f.locals[i.k], m.Type().Key())
	if err != nil {
		return err
	}
	v, err := coerce(f.locals[i.v], m.Type().Elem())
	if err != nil {
		return err
	}
	m.SetMapIndex(k, v)
	return nil
}

func (i iMapPut) String() string { return fmt.Sprintf("MAP_PUT r%d[r%d], r%d", i.m, i.k, i.v) }

type iSetField struct {
	obj   Local
	field string
	val   Local
}

func (i iSetField) exec(f *frame) error {
	ptr := reflect.ValueOf(f.locals[i.obj])
	if ptr.Kind() != reflect.Pointer || ptr.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("SET_FIELD on %T", f.locals[i.obj])
	}
	fv := ptr.Elem().FieldByName(i.field)
	if !fv.IsValid() {
		return fmt.Errorf("type %s has no field %s", ptr.Elem().Type(), i.field)
	}
	v, err := coerce(f.locals[i.val], fv.Type())
	if err != nil {
		return err
	}
	fv.Set(v)
	return nil
}

func (i iSetField) String() string {
	return fmt.Sprintf("SET_FIELD r%d.%s, r%d", i.obj, i.field, i.val)
}

type iSharedLoad struct {
	dst   Local
	index int
	cast  TypeRef
}

func (i iSharedLoad) exec(f *frame) error {
	if i.index >= len(f.shared) {
		return fmt.Errorf("shared array read out of range: %d of %d", i.index, len(f.shared))
	}
	v := f.shared[i.index]
	if i.cast != "" {
		t, err := f.prog.Types.Load(string(i.cast))
		if err != nil {
			return err
		}
		cv, err := coerce(v, t)
		if err != nil {
			return fmt.Errorf("shared[%d]: %w", i.index, err)
		}
		v = cv.Interface()
	}
	f.locals[i.dst] = v
	return nil
}

func (i iSharedLoad) String() string {
	if i.cast == "" {
		return fmt.Sprintf("SHARED_LOAD r%d, [%d]", i.dst, i.index)
	}
	return fmt.Sprintf("SHARED_LOAD r%d, [%d] as %s", i.dst, i.index, i.cast)
}

type iSharedStore struct {
	index int
	src   Local
}

func (i iSharedStore) exec(f *frame) error {
	if i.index >= len(f.shared) {
		return fmt.Errorf("shared array write out of range: %d of %d", i.index, len(f.shared))
	}
	f.shared[i.index] = f.locals[i.src]
	return nil
}

func (i iSharedStore) String() string { return fmt.Sprintf("SHARED_STORE [%d], r%d", i.index, i.src) }

type iNewPointer struct {
	dst Local
	typ TypeRef
	val Local
}

func (i iNewPointer) exec(f *frame) error {
	t, err := f.prog.Types.Load(string(i.typ))
	if err != nil {
		return err
	}
	if t.Kind() != reflect.Pointer {
		return fmt.Errorf("NEW_PTR for non-pointer type %s", t)
	}
	ptr := reflect.New(t.Elem())
	v, err := coerce(f.locals[i.val], t.Elem())
	if err != nil {
		return err
	}
	ptr.Elem().Set(v)
	f.locals[i.dst] = ptr.Interface()
	return nil
}

func (i iNewPointer) String() string {
	return fmt.Sprintf("NEW_PTR r%d, %s, r%d", i.dst, i.typ, i.val)
}

type iLoadType struct {
	dst  Local
	name string
}

func (i iLoadType) exec(f *frame) error {
	t, err := f.prog.Types.Load(i.name)
	if err != nil {
		return err
	}
	f.locals[i.dst] = t
	return nil
}

func (i iLoadType) String() string { return fmt.Sprintf("LOAD_TYPE r%d, %q", i.dst, i.name) }

type iInvokeProc struct {
	name string
}

func (i iInvokeProc) exec(f *frame) error {
	proc, ok := f.prog.Proc(i.name)
	if !ok {
		return fmt.Errorf("no procedure %q", i.name)
	}
	sub := newFrame(f.prog, f.ctx, f.shared, proc)
	return sub.run()
}

func (i iInvokeProc) String() string { return fmt.Sprintf("INVOKE %s", i.name) }

type iAllocShared struct {
	size int
}

func (i iAllocShared) exec(f *frame) error {
	f.shared = make([]any, i.size)
	return nil
}

func (i iAllocShared) String() string { return fmt.Sprintf("ALLOC_SHARED %d", i.size) }
