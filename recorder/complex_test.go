package recorder

import (
	"reflect"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type widgetBean struct {
	Label  string
	Count  int
	Secret string `record:"-"`
}

type gadget struct {
	label string
}

func (g *gadget) Label() string     { return g.label }
func (g *gadget) SetLabel(s string) { g.label = s }

type registry struct {
	entries map[string]int
}

func (r *registry) Entries() map[string]int {
	if r.entries == nil {
		r.entries = make(map[string]int)
	}
	return r.entries
}

type sealed struct {
	value string
}

func (s *sealed) Value() string { return s.value }

type mismatched struct {
	count int
}

func (m *mismatched) Count() int       { return m.count }
func (m *mismatched) SetCount(c int64) { m.count = int(c) }

func TestFieldPopulatedBean(t *testing.T) {
	r, sink, proxy := newTestRecorder(t, false)
	mustInvoke(t, proxy, "TakeAny", &widgetBean{Label: "w", Count: 3, Secret: "hidden"})
	deploy(t, r)

	got := sink.calls[0].args[0].(*widgetBean)
	if got.Label != "w" || got.Count != 3 {
		t.Errorf("unexpected bean %+v", got)
	}
	if got.Secret != "" {
		t.Errorf("ignored field was recorded: %q", got.Secret)
	}
}

func TestBeanValueForm(t *testing.T) {
	r, sink, proxy := newTestRecorder(t, false)
	mustInvoke(t, proxy, "TakeAny", widgetBean{Label: "v", Count: 1})
	deploy(t, r)

	got := sink.calls[0].args[0].(widgetBean)
	if got.Label != "v" || got.Count != 1 {
		t.Errorf("unexpected bean %+v", got)
	}
}

func TestSetterPopulatedObject(t *testing.T) {
	r, sink, proxy := newTestRecorder(t, false)
	g := &gadget{}
	g.SetLabel("via setter")
	mustInvoke(t, proxy, "TakeAny", g)
	deploy(t, r)

	got := sink.calls[0].args[0].(*gadget)
	if got.Label() != "via setter" {
		t.Errorf("unexpected gadget label %q", got.Label())
	}
}

func TestMapRoundTrip(t *testing.T) {
	r, sink, proxy := newTestRecorder(t, false)
	arg := map[string][]int{"a": {1, 2}, "b": {3}}
	mustInvoke(t, proxy, "TakeAny", arg)
	deploy(t, r)

	got := sink.calls[0].args[0].(map[string][]int)
	if diff := cmp.Diff(arg, got); diff != "" {
		t.Errorf("map mismatch (-want +got):\n%s", diff)
	}
}

func TestSelfReferentialMap(t *testing.T) {
	r, sink, proxy := newTestRecorder(t, false)
	m := map[string]any{"label": "outer"}
	m["self"] = m
	mustInvoke(t, proxy, "TakeAny", m)
	deploy(t, r)

	got := sink.calls[0].args[0].(map[string]any)
	if got["label"] != "outer" {
		t.Errorf("unexpected map %v", got["label"])
	}
	inner, ok := got["self"].(map[string]any)
	if !ok {
		t.Fatalf("expected self entry to be a map, got %T", got["self"])
	}
	if reflect.ValueOf(inner).Pointer() != reflect.ValueOf(got).Pointer() {
		t.Error("self-referential map lost identity at startup")
	}
}

func TestSharedSubgraphMaterializedOnce(t *testing.T) {
	r, sink, proxy := newTestRecorder(t, false)
	shared := map[string]int{"k": 1}
	mustInvoke(t, proxy, "TakeAny", []any{shared, shared})
	deploy(t, r)

	got := sink.calls[0].args[0].([]any)
	a := reflect.ValueOf(got[0]).Pointer()
	b := reflect.ValueOf(got[1]).Pointer()
	if a != b {
		t.Error("a shared map reconstructed as two distinct maps")
	}
}

func TestReadOnlyMapPropertyPopulated(t *testing.T) {
	r, sink, proxy := newTestRecorder(t, false)
	reg := &registry{}
	reg.Entries()["x"] = 1
	reg.Entries()["y"] = 2
	mustInvoke(t, proxy, "TakeAny", reg)
	deploy(t, r)

	got := sink.calls[0].args[0].(*registry)
	want := map[string]int{"x": 1, "y": 2}
	if diff := cmp.Diff(want, got.Entries()); diff != "" {
		t.Errorf("registry mismatch (-want +got):\n%s", diff)
	}
}

func TestReadOnlyPropertyStrictModeFails(t *testing.T) {
	r, _, proxy := newTestRecorder(t, false)
	mustInvoke(t, proxy, "TakeAny", &sealed{value: "x"})
	_, err := r.WriteProgram()
	if err == nil || !strings.Contains(err.Error(), "read only") {
		t.Errorf("expected read-only property error, got %v", err)
	}
}

func TestReadOnlyPropertyRelaxed(t *testing.T) {
	r, sink, proxy := newTestRecorder(t, false)
	if err := r.MarkRelaxedValidation((*demoRecorder)(nil), "TakeAny"); err != nil {
		t.Fatalf("MarkRelaxedValidation failed: %v", err)
	}
	mustInvoke(t, proxy, "TakeAny", &sealed{value: "x"})
	deploy(t, r)

	// the unreachable state is dropped, the object itself survives
	if _, ok := sink.calls[0].args[0].(*sealed); !ok {
		t.Errorf("expected *sealed, got %T", sink.calls[0].args[0])
	}
}

func TestGetterSetterMismatchStrictModeFails(t *testing.T) {
	r, _, proxy := newTestRecorder(t, false)
	mustInvoke(t, proxy, "TakeAny", &mismatched{count: 1})
	_, err := r.WriteProgram()
	if err == nil || !strings.Contains(err.Error(), "different types") {
		t.Errorf("expected mismatch error, got %v", err)
	}
}

func TestConstructorParameterNamesRequired(t *testing.T) {
	r := New(false, "s", "m")
	err := r.RegisterConstructor(newPerson, "name")
	if err == nil || !strings.Contains(err.Error(), "names") {
		t.Errorf("expected missing-names error, got %v", err)
	}
}

type oddity struct {
	name string
}

func newOddity(name, mystery string) *oddity { return &oddity{name: name} }

func (o *oddity) Name() string { return o.name }

func TestUnusedConstructorParameter(t *testing.T) {
	r, _, proxy := newTestRecorder(t, false)
	if err := r.RegisterConstructor(newOddity, "name", "mystery"); err != nil {
		t.Fatalf("RegisterConstructor failed: %v", err)
	}
	mustInvoke(t, proxy, "TakeAny", newOddity("a", "b"))
	_, err := r.WriteProgram()
	if err == nil || !strings.Contains(err.Error(), "mystery") {
		t.Errorf("expected unused-parameter error naming mystery, got %v", err)
	}
}

func TestAmbiguousRecordableConstructor(t *testing.T) {
	r, _, proxy := newTestRecorder(t, false)
	if err := r.RegisterConstructor(func(name string, age int) *person { return newPerson(name, age) }, "name", "age"); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterConstructor(func(age int, name string) *person { return newPerson(name, age) }, "age", "name"); err != nil {
		t.Fatal(err)
	}
	r.MarkClassAsConstructorRecordable(reflect.TypeOf(&person{}))

	mustInvoke(t, proxy, "TakePerson", newPerson("x", 1))
	_, err := r.WriteProgram()
	if err == nil || !strings.Contains(err.Error(), "recordable constructor") {
		t.Errorf("expected ambiguous-constructor error, got %v", err)
	}
}

func TestRecordableFlaggedConstructorWins(t *testing.T) {
	r, sink, proxy := newTestRecorder(t, false)
	calledFlagged := false
	if err := r.RegisterConstructor(func(name string, age int) *person { return newPerson(name, age) }, "name", "age"); err != nil {
		t.Fatal(err)
	}
	if err := r.RegisterRecordableConstructor(func(name string, age int) *person {
		calledFlagged = true
		return newPerson(name, age)
	}, "name", "age"); err != nil {
		t.Fatal(err)
	}
	mustInvoke(t, proxy, "TakePerson", newPerson("f", 9))
	deploy(t, r)

	if !calledFlagged {
		t.Error("the recordable-flagged constructor was not used")
	}
	got := sink.calls[0].args[0].(*person)
	if got.Name() != "f" || got.Age() != 9 {
		t.Errorf("unexpected person %+v", got)
	}
}

type wrapped struct {
	inner string
}

func makeWrapped(inner string) wrapped { return wrapped{inner: inner} }

func (w wrapped) Inner() string { return w.inner }

func TestNonDefaultConstructor(t *testing.T) {
	r, sink, proxy := newTestRecorder(t, false)
	err := r.RegisterNonDefaultConstructor(makeWrapped, func(obj any) []any {
		return []any{obj.(wrapped).Inner()}
	})
	if err != nil {
		t.Fatalf("RegisterNonDefaultConstructor failed: %v", err)
	}
	mustInvoke(t, proxy, "TakeAny", makeWrapped("deep"))
	deploy(t, r)

	got := sink.calls[0].args[0].(wrapped)
	if got.Inner() != "deep" {
		t.Errorf("expected deep, got %q", got.Inner())
	}
}

func TestNonDefaultConstructorArityMismatch(t *testing.T) {
	r, _, proxy := newTestRecorder(t, false)
	err := r.RegisterNonDefaultConstructor(makeWrapped, func(obj any) []any {
		return []any{"a", "b"}
	})
	if err != nil {
		t.Fatal(err)
	}
	mustInvoke(t, proxy, "TakeAny", makeWrapped("x"))
	_, werr := r.WriteProgram()
	if werr == nil || !strings.Contains(werr.Error(), "wrong number of parameters") {
		t.Errorf("expected arity error, got %v", werr)
	}
}

type orderedMap map[string]int

func (orderedMap) Less(other any) bool { return false }

func TestOrderedMapRejected(t *testing.T) {
	r, _, proxy := newTestRecorder(t, false)
	mustInvoke(t, proxy, "TakeAny", orderedMap{"a": 1})
	_, err := r.WriteProgram()
	if err == nil || !strings.Contains(err.Error(), "ordering") {
		t.Errorf("expected ordering rejection, got %v", err)
	}
}
