package snapshot

import (
	"reflect"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/chazu/replay/gen"
	"github.com/chazu/replay/gosrc"
	"github.com/chazu/replay/startup"
)

type settings struct {
	Host  string
	Port  int
	Tags  []string
	Extra map[string]string
}

func TestMarshalDecodeRoundTrip(t *testing.T) {
	in := settings{
		Host:  "localhost",
		Port:  8080,
		Tags:  []string{"a", "b"},
		Extra: map[string]string{"k": "v"},
	}
	blob, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	out, err := Decode(blob, reflect.TypeOf(settings{}))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if diff := cmp.Diff(in, out.(settings)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestMarshalIsCanonical(t *testing.T) {
	in := settings{Extra: map[string]string{"a": "1", "b": "2", "c": "3"}}
	first, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	second, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(first) != string(second) {
		t.Error("canonical encoding produced different bytes for the same value")
	}
}

func TestLoaderClaimsRegisteredTypes(t *testing.T) {
	types := gen.NewTypeRegistry()
	funcs := gen.NewFuncRegistry()
	l, err := NewLoader(types, funcs)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	l.RegisterType(reflect.TypeOf(settings{}))

	if !l.CanHandle(settings{}, false) {
		t.Error("loader does not claim the registered value form")
	}
	if !l.CanHandle(&settings{}, true) {
		t.Error("loader does not claim the registered pointer form")
	}
	if l.CanHandle("something else", false) {
		t.Error("loader claims unregistered values")
	}
	if l.CanHandle(nil, false) {
		t.Error("loader claims nil")
	}
}

func TestLoaderEmitRebuildsValue(t *testing.T) {
	prog := gen.NewProgram("snapshot.test", nil, nil)
	prog.ArrayFactory().AllocShared(0)
	l, err := NewLoader(prog.Types, prog.Funcs)
	if err != nil {
		t.Fatalf("NewLoader failed: %v", err)
	}
	l.RegisterType(reflect.TypeOf(settings{}))

	in := &settings{Host: "h", Port: 1, Tags: []string{"t"}}
	cont := prog.NewProc("deploy_0", 2)
	prog.Entry().InvokeProc("deploy_0")
	cont.BeginGroup()
	local, err := l.Emit(cont, in, false)
	if err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	cont.CtxPut("out", local)

	ctx := startup.NewContext()
	if err := prog.Deploy(ctx); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	got, ok := ctx.GetValue("out").(*settings)
	if !ok {
		t.Fatalf("expected *settings, got %T", ctx.GetValue("out"))
	}
	if got == in {
		t.Error("snapshot should rebuild a fresh value, not reuse the recorded one")
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}

	// the embedded blob must survive the Go source backend too
	if _, err := gosrc.Render(prog, "recorded"); err != nil {
		t.Errorf("Render failed on a snapshot-bearing program: %v", err)
	}
}
