package gosrc

import (
	"reflect"
	"strings"
	"testing"

	"github.com/chazu/replay/gen"
)

type sample struct {
	Label string
}

func buildProgram() *gen.Program {
	p := gen.NewProgram("replay.recorded.step$deploy1a2b3c4d", nil, nil)
	p.ArrayFactory().AllocShared(1)
	cont := p.NewProc("deploy_0", 2)
	p.Entry().SetStepName("step.deploy")
	p.Entry().InvokeProc("deploy_0")

	cont.BeginGroup()
	ref := gen.TypeRef(p.Types.Register(reflect.TypeOf(&sample{})))
	s := cont.NewInstance(ref)
	label := cont.LoadConst("hello")
	cont.SetField(s, "Label", label)
	cont.SharedStore(0, s)
	cont.CtxPut("out", s)
	return p
}

func TestRenderShape(t *testing.T) {
	src, err := Render(buildProgram(), "recorded")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	code := string(src)
	for _, want := range []string{
		"package recorded",
		"Code generated by replay. DO NOT EDIT.",
		"func (t *TaskReplayRecordedStepDeploy1a2b3c4d) Deploy(ctx *startup.Context) error",
		"func (t *TaskReplayRecordedStepDeploy1a2b3c4d) createArray() []any",
		"func (t *TaskReplayRecordedStepDeploy1a2b3c4d) deploy_0(ctx *startup.Context, array []any) error",
		`ctx.SetCurrentBuildStepName("step.deploy")`,
		"gosrc.NewInstance",
		"gosrc.SetField",
		`ctx.PutValue("out"`,
	} {
		if !strings.Contains(code, want) {
			t.Errorf("rendered source missing %q:\n%s", want, code)
		}
	}
}

func TestRenderByteSliceConst(t *testing.T) {
	p := gen.NewProgram("replay.recorded.blob$deploy", nil, nil)
	p.ArrayFactory().AllocShared(0)
	cont := p.NewProc("deploy_0", 2)
	p.Entry().InvokeProc("deploy_0")
	cont.BeginGroup()
	blob := cont.LoadConst([]byte{0x01, 0xff, 0x00})
	cont.CtxPut("blob", blob)

	src, err := Render(p, "recorded")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.Contains(string(src), "[]byte{") {
		t.Errorf("rendered source missing byte-slice literal:\n%s", src)
	}
}

func TestRenderDeterministic(t *testing.T) {
	a, err := Render(buildProgram(), "recorded")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	b, err := Render(buildProgram(), "recorded")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if string(a) != string(b) {
		t.Error("rendering the same program twice produced different source")
	}
}

func TestOutputCollects(t *testing.T) {
	out := NewOutput("recorded")
	p := buildProgram()
	if err := out.Write(p); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, ok := out.Rendered[p.Name]; !ok {
		t.Errorf("program %s was not collected", p.Name)
	}
}

func TestTaskTypeName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"replay.recorded.step$deploy", "TaskReplayRecordedStepDeploy"},
		{"a$b", "TaskAB"},
		{"", "Task"},
	}
	for _, tt := range tests {
		if got := taskTypeName(tt.in); got != tt.want {
			t.Errorf("taskTypeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRuntimeHelpersMirrorInterpreter(t *testing.T) {
	types := gen.NewTypeRegistry()
	name := types.Register(reflect.TypeOf(&sample{}))

	obj, err := NewInstance(types, name)
	if err != nil {
		t.Fatalf("NewInstance failed: %v", err)
	}
	if err := SetField(obj, "Label", "x"); err != nil {
		t.Fatalf("SetField failed: %v", err)
	}
	if obj.(*sample).Label != "x" {
		t.Errorf("unexpected sample %+v", obj)
	}

	sliceName := types.Register(reflect.TypeOf([]int{}))
	c, err := NewContainer(types, sliceName, 2)
	if err != nil {
		t.Fatalf("NewContainer failed: %v", err)
	}
	if err := IndexSet(c, 0, 1); err != nil {
		t.Fatalf("IndexSet failed: %v", err)
	}
	if err := IndexSet(c, 1, 2); err != nil {
		t.Fatalf("IndexSet failed: %v", err)
	}
	got, err := SharedLoad(types, []any{c}, 0, sliceName)
	if err != nil {
		t.Fatalf("SharedLoad failed: %v", err)
	}
	if s := got.([]int); len(s) != 2 || s[0] != 1 || s[1] != 2 {
		t.Errorf("unexpected slice %v", got)
	}

	mapName := types.Register(reflect.TypeOf(map[string]int{}))
	m, err := NewMap(types, mapName)
	if err != nil {
		t.Fatalf("NewMap failed: %v", err)
	}
	if err := MapPut(m, "k", 7); err != nil {
		t.Fatalf("MapPut failed: %v", err)
	}
	if m.(map[string]int)["k"] != 7 {
		t.Errorf("unexpected map %v", m)
	}
}
