package gen

import (
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/replay/startup"
)

type widget struct {
	Label string
	Count int
}

func (w *widget) SetLabel(s string) { w.Label = s }

func buildSimpleProgram(t *testing.T) *Program {
	t.Helper()
	p := NewProgram("test.program", nil, nil)
	p.ArrayFactory().AllocShared(1)

	cont := p.NewProc("deploy_0", 2)
	p.Entry().InvokeProc("deploy_0")

	cont.BeginGroup()
	ref := TypeRef(p.Types.Register(reflect.TypeOf(&widget{})))
	w := cont.NewInstance(ref)
	label := cont.LoadConst("hello")
	cont.CallMethod(w, "SetLabel", label)
	count := cont.LoadConst(42)
	cont.SetField(w, "Count", count)
	cont.SharedStore(0, w)
	cont.CtxPut("the-widget", w)
	return p
}

func TestProgramDeploy(t *testing.T) {
	p := buildSimpleProgram(t)
	ctx := startup.NewContext()
	if err := p.Deploy(ctx); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	w, ok := ctx.GetValue("the-widget").(*widget)
	if !ok {
		t.Fatalf("expected *widget in context, got %T", ctx.GetValue("the-widget"))
	}
	if w.Label != "hello" || w.Count != 42 {
		t.Errorf("unexpected widget state: %+v", w)
	}
}

func TestProgramStepName(t *testing.T) {
	p := NewProgram("test.program", nil, nil)
	p.ArrayFactory().AllocShared(0)
	p.Entry().SetStepName("step.method")
	ctx := startup.NewContext()
	if err := p.Deploy(ctx); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if got := ctx.CurrentBuildStepName(); got != "step.method" {
		t.Errorf("expected step.method, got %q", got)
	}
}

func TestSharedArrayAcrossProcs(t *testing.T) {
	p := NewProgram("test.shared", nil, nil)
	p.ArrayFactory().AllocShared(1)

	first := p.NewProc("deploy_0", 2)
	second := p.NewProc("deploy_1", 2)
	p.Entry().InvokeProc("deploy_0")
	p.Entry().InvokeProc("deploy_1")

	first.BeginGroup()
	v := first.LoadConst("shared value")
	first.SharedStore(0, v)

	second.BeginGroup()
	got := second.SharedLoad(0, "")
	second.CtxPut("out", got)

	ctx := startup.NewContext()
	if err := p.Deploy(ctx); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if ctx.GetValue("out") != "shared value" {
		t.Errorf("expected shared value, got %v", ctx.GetValue("out"))
	}
}

func TestSharedLoadCast(t *testing.T) {
	p := NewProgram("test.cast", nil, nil)
	p.ArrayFactory().AllocShared(1)
	ref := TypeRef(p.Types.Register(reflect.TypeOf([]string{})))

	cont := p.NewProc("deploy_0", 2)
	p.Entry().InvokeProc("deploy_0")
	cont.BeginGroup()
	c := cont.NewContainer(ref, 2)
	x := cont.LoadConst("x")
	cont.IndexSet(c, 0, x)
	y := cont.LoadConst("y")
	cont.IndexSet(c, 1, y)
	cont.SharedStore(0, c)
	// the cast derefs the container pointer to its value form
	out := cont.SharedLoad(0, ref)
	cont.CtxPut("list", out)

	ctx := startup.NewContext()
	if err := p.Deploy(ctx); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	list, ok := ctx.GetValue("list").([]string)
	if !ok {
		t.Fatalf("expected []string, got %T", ctx.GetValue("list"))
	}
	if len(list) != 2 || list[0] != "x" || list[1] != "y" {
		t.Errorf("unexpected list %v", list)
	}
}

func TestSliceBuilderAcrossProcs(t *testing.T) {
	p := NewProgram("test.builder", nil, nil)
	p.ArrayFactory().AllocShared(1)
	ref := TypeRef(p.Types.Register(reflect.TypeOf([]string{})))

	first := p.NewProc("deploy_0", 2)
	second := p.NewProc("deploy_1", 2)
	p.Entry().InvokeProc("deploy_0")
	p.Entry().InvokeProc("deploy_1")

	first.BeginGroup()
	b := first.NewSliceBuilder(ref, 2)
	x := first.LoadConst("x")
	first.SliceAppend(b, x)
	first.SharedStore(0, b)

	// population continues in a later procedure through the same builder
	second.BeginGroup()
	ptr := second.SharedLoad(0, "")
	y := second.LoadConst("y")
	second.SliceAppend(ptr, y)
	out := second.SharedLoad(0, ref)
	second.CtxPut("list", out)

	ctx := startup.NewContext()
	if err := p.Deploy(ctx); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	list, ok := ctx.GetValue("list").([]string)
	if !ok {
		t.Fatalf("expected []string, got %T", ctx.GetValue("list"))
	}
	if len(list) != 2 || list[0] != "x" || list[1] != "y" {
		t.Errorf("unexpected list %v", list)
	}
}

func TestCallFuncErrorAborts(t *testing.T) {
	p := NewProgram("test.err", nil, nil)
	p.ArrayFactory().AllocShared(0)
	cont := p.NewProc("deploy_0", 2)
	p.Entry().InvokeProc("deploy_0")
	cont.BeginGroup()
	bad := cont.LoadConst("this is not a duration")
	cont.CallFunc(BuiltinParseDuration, bad)

	err := p.Deploy(startup.NewContext())
	if err == nil {
		t.Fatal("expected deploy error")
	}
	if !strings.Contains(err.Error(), "deploy_0") {
		t.Errorf("error should name the procedure: %v", err)
	}
}

func TestUnknownTypeError(t *testing.T) {
	p := NewProgram("test.unknown", nil, nil)
	p.ArrayFactory().AllocShared(0)
	cont := p.NewProc("deploy_0", 2)
	p.Entry().InvokeProc("deploy_0")
	cont.BeginGroup()
	cont.NewInstance("never.Registered")

	err := p.Deploy(startup.NewContext())
	if err == nil || !strings.Contains(err.Error(), "never.Registered") {
		t.Fatalf("expected unknown-type error naming the type, got %v", err)
	}
}

func TestDisassembleDeterministic(t *testing.T) {
	a := Disassemble(buildSimpleProgram(t))
	b := Disassemble(buildSimpleProgram(t))
	if a != b {
		t.Error("disassembly of identically built programs differs")
	}
	for _, want := range []string{"program test.program", "proc deploy", "NEW ", "SET_FIELD", "CTX_PUT"} {
		if !strings.Contains(a, want) {
			t.Errorf("disassembly missing %q:\n%s", want, a)
		}
	}
}

func TestBuiltinsRoundTrip(t *testing.T) {
	p := NewProgram("test.builtins", nil, nil)
	p.ArrayFactory().AllocShared(0)
	cont := p.NewProc("deploy_0", 2)
	p.Entry().InvokeProc("deploy_0")

	cont.BeginGroup()
	u := cont.LoadConst("https://a/b")
	cont.CtxPut("url", cont.CallFunc(BuiltinParseURL, u))
	d := cont.LoadConst("1h2m3s")
	cont.CtxPut("dur", cont.CallFunc(BuiltinParseDuration, d))
	v := cont.LoadConst(7)
	cont.CtxPut("opt", cont.CallFunc(BuiltinOptionalOfNullable, v))

	ctx := startup.NewContext()
	if err := p.Deploy(ctx); err != nil {
		t.Fatalf("Deploy failed: %v", err)
	}
	if got := ctx.GetValue("dur"); got.(interface{ String() string }).String() != "1h2m3s" {
		t.Errorf("unexpected duration %v", got)
	}
	opt, ok := ctx.GetValue("opt").(startup.Optional)
	if !ok || !opt.IsPresent() || opt.Get() != 7 {
		t.Errorf("unexpected optional %v", ctx.GetValue("opt"))
	}
}
