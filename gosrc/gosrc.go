// Package gosrc renders an emitted program as a compilable Go source
// file. The generated type implements startup.Task; each instruction
// becomes one statement calling the exported runtime helpers, with type
// and function references resolved through the program registries the
// task is constructed with.
package gosrc

import (
	"fmt"
	"reflect"

	"github.com/dave/jennifer/jen"

	"github.com/chazu/replay/gen"
)

const (
	modulePath  = "github.com/chazu/replay"
	genPath     = modulePath + "/gen"
	gosrcPath   = modulePath + "/gosrc"
	startupPath = modulePath + "/startup"
)

// Output is a gen.ClassOutput that renders every written program.
type Output struct {
	PackageName string
	Rendered    map[string][]byte
}

// NewOutput creates an Output rendering into the given package name.
func NewOutput(pkgName string) *Output {
	return &Output{PackageName: pkgName, Rendered: make(map[string][]byte)}
}

// Write renders the program and stores the source under its name.
func (o *Output) Write(p *gen.Program) error {
	src, err := Render(p, o.PackageName)
	if err != nil {
		return err
	}
	o.Rendered[p.Name] = src
	return nil
}

// Render produces the Go source for one program. Output is
// deterministic for a given program.
func Render(p *gen.Program, pkgName string) ([]byte, error) {
	f := jen.NewFile(pkgName)
	f.HeaderComment("Code generated by replay. DO NOT EDIT.")

	taskName := taskTypeName(p.Name)

	f.Commentf("%s replays the startup program %q.", taskName, p.Name)
	f.Type().Id(taskName).Struct(
		jen.Id("Types").Op("*").Qual(genPath, "TypeRegistry"),
		jen.Id("Funcs").Op("*").Qual(genPath, "FuncRegistry"),
	)

	entry := p.Entry()
	factory := p.ArrayFactory()

	// Deploy: allocate the shared array, then run the entry body.
	deployBody := []jen.Code{
		jen.Id("array").Op(":=").Id("t").Dot("createArray").Call(),
	}
	entryStmts, err := renderProc(entry, true)
	if err != nil {
		return nil, err
	}
	deployBody = append(deployBody, entryStmts...)
	deployBody = append(deployBody, jen.Return(jen.Nil()))
	f.Func().Params(jen.Id("t").Op("*").Id(taskName)).Id("Deploy").
		Params(jen.Id("ctx").Op("*").Qual(startupPath, "Context")).Error().
		Block(deployBody...)

	// the array factory holds exactly one sizing instruction
	size := 0
	for _, in := range factory.Export() {
		if in.Op == gen.OpAllocShared {
			size = in.Length
		}
	}
	f.Func().Params(jen.Id("t").Op("*").Id(taskName)).Id("createArray").
		Params().Index().Any().
		Block(jen.Return(jen.Make(jen.Index().Any(), jen.Lit(size))))

	for _, proc := range p.Continuations() {
		stmts, err := renderProc(proc, false)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, jen.Return(jen.Nil()))
		f.Func().Params(jen.Id("t").Op("*").Id(taskName)).Id(procFuncName(proc.Name())).
			Params(
				jen.Id("ctx").Op("*").Qual(startupPath, "Context"),
				jen.Id("array").Index().Any(),
			).Error().
			Block(stmts...)
	}

	var out []byte
	buf := &bytesBuffer{}
	if err := f.Render(buf); err != nil {
		return nil, fmt.Errorf("gosrc: render %s: %w", p.Name, err)
	}
	out = buf.data
	return out, nil
}

// renderProc translates one procedure's instructions into statements.
func renderProc(proc *gen.Proc, entry bool) ([]jen.Code, error) {
	var stmts []jen.Code
	if proc.Locals() > 0 {
		stmts = append(stmts,
			jen.Var().Id("r").Index().Any().Op("=").Make(jen.Index().Any(), jen.Lit(proc.Locals())),
			jen.Id("_").Op("=").Id("r"),
		)
	}
	for _, in := range proc.Export() {
		code, err := renderInstr(in, entry)
		if err != nil {
			return nil, err
		}
		if code != nil {
			stmts = append(stmts, code)
		}
	}
	return stmts, nil
}

func renderInstr(in gen.InstrInfo, entry bool) (jen.Code, error) {
	reg := func(l gen.Local) *jen.Statement { return jen.Id("r").Index(jen.Lit(int(l))) }
	helper := func(name string, args ...jen.Code) *jen.Statement {
		return jen.Qual(gosrcPath, name).Call(args...)
	}
	checked := func(dst gen.Local, call *jen.Statement) *jen.Statement {
		return jen.If(
			jen.List(jen.Id("v"), jen.Err()).Op(":=").Add(call),
			jen.Err().Op("!=").Nil(),
		).Block(
			jen.Return(jen.Err()),
		).Else().Block(
			reg(dst).Op("=").Id("v"),
		)
	}
	argList := func(args []gen.Local) []jen.Code {
		out := make([]jen.Code, len(args))
		for i, a := range args {
			out[i] = reg(a)
		}
		return out
	}

	switch in.Op {
	case gen.OpGroup:
		return jen.Comment("-- group --"), nil
	case gen.OpConst:
		lit, err := constExpr(in.Const)
		if err != nil {
			return nil, err
		}
		return reg(in.Dst).Op("=").Add(lit), nil
	case gen.OpCtxGet:
		return reg(in.Dst).Op("=").Id("ctx").Dot("GetValue").Call(jen.Lit(in.Key)), nil
	case gen.OpCtxPut:
		return jen.Id("ctx").Dot("PutValue").Call(jen.Lit(in.Key), reg(in.Src)), nil
	case gen.OpStepName:
		return jen.Id("ctx").Dot("SetCurrentBuildStepName").Call(jen.Lit(in.Name)), nil
	case gen.OpNew:
		return checked(in.Dst, helper("NewInstance", jen.Id("t").Dot("Types"), jen.Lit(string(in.Type)))), nil
	case gen.OpCall:
		args := append([]jen.Code{reg(in.Recv), jen.Lit(in.Method)}, argList(in.Args)...)
		return checked(in.Dst, helper("CallMethod", args...)), nil
	case gen.OpCallFunc:
		args := append([]jen.Code{jen.Id("t").Dot("Funcs"), jen.Lit(string(in.Fn))}, argList(in.Args)...)
		return checked(in.Dst, helper("CallFunc", args...)), nil
	case gen.OpNewContainer:
		return checked(in.Dst, helper("NewContainer", jen.Id("t").Dot("Types"), jen.Lit(string(in.Type)), jen.Lit(in.Length))), nil
	case gen.OpIndexSet:
		return jen.If(
			jen.Err().Op(":=").Add(helper("IndexSet", reg(in.Recv), jen.Lit(in.Index), reg(in.Src))),
			jen.Err().Op("!=").Nil(),
		).Block(jen.Return(jen.Err())), nil
	case gen.OpNewSlice:
		return checked(in.Dst, helper("NewContainer", jen.Id("t").Dot("Types"), jen.Lit(string(in.Type)), jen.Lit(0))), nil
	case gen.OpSliceAppend:
		return jen.If(
			jen.Err().Op(":=").Add(helper("SliceAppend", reg(in.Recv), reg(in.Src))),
			jen.Err().Op("!=").Nil(),
		).Block(jen.Return(jen.Err())), nil
	case gen.OpNewMap:
		return checked(in.Dst, helper("NewMap", jen.Id("t").Dot("Types"), jen.Lit(string(in.Type)))), nil
	case gen.OpMapPut:
		return jen.If(
			jen.Err().Op(":=").Add(helper("MapPut", reg(in.Recv), reg(in.Args[0]), reg(in.Args[1]))),
			jen.Err().Op("!=").Nil(),
		).Block(jen.Return(jen.Err())), nil
	case gen.OpSetField:
		return jen.If(
			jen.Err().Op(":=").Add(helper("SetField", reg(in.Recv), jen.Lit(in.Field), reg(in.Src))),
			jen.Err().Op("!=").Nil(),
		).Block(jen.Return(jen.Err())), nil
	case gen.OpNewPointer:
		return checked(in.Dst, helper("NewPointer", jen.Id("t").Dot("Types"), jen.Lit(string(in.Type)), reg(in.Src))), nil
	case gen.OpLoadType:
		return checked(in.Dst, helper("LoadType", jen.Id("t").Dot("Types"), jen.Lit(in.Name))), nil
	case gen.OpSharedLoad:
		return checked(in.Dst, helper("SharedLoad", jen.Id("t").Dot("Types"), jen.Id("array"), jen.Lit(in.Index), jen.Lit(string(in.Type)))), nil
	case gen.OpSharedStore:
		return jen.Id("array").Index(jen.Lit(in.Index)).Op("=").Add(reg(in.Src)), nil
	case gen.OpInvokeProc:
		return jen.If(
			jen.Err().Op(":=").Id("t").Dot(procFuncName(in.Name)).Call(jen.Id("ctx"), jen.Id("array")),
			jen.Err().Op("!=").Nil(),
		).Block(jen.Return(jen.Err())), nil
	case gen.OpAllocShared:
		// handled by createArray
		return nil, nil
	}
	return nil, fmt.Errorf("gosrc: unknown op %q", in.Op)
}

// constExpr renders a literal constant. Emitted programs carry scalar
// constants and the byte-slice blobs object loaders embed; anything else
// is a render error.
func constExpr(v any) (*jen.Statement, error) {
	if v == nil {
		return jen.Nil(), nil
	}
	if blob, ok := v.([]byte); ok {
		vals := make([]jen.Code, len(blob))
		for i, b := range blob {
			vals[i] = jen.Lit(int(b))
		}
		return jen.Index().Byte().Values(vals...), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return jen.Lit(rv.String()), nil
	case reflect.Bool:
		return jen.Lit(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return jen.Lit(int(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return jen.Lit(uint(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return jen.Lit(rv.Float()), nil
	case reflect.Complex64, reflect.Complex128:
		c := rv.Complex()
		return jen.Id("complex").Call(jen.Lit(real(c)), jen.Lit(imag(c))), nil
	}
	return nil, fmt.Errorf("gosrc: cannot render constant of type %T", v)
}

// taskTypeName derives an exported identifier from a program name like
// "replay.recorded.step$method1a2b3c4d".
func taskTypeName(name string) string {
	out := []rune("Task")
	up := true
	for _, r := range name {
		switch {
		case r == '.' || r == '$' || r == '-' || r == '_':
			up = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			if up && r >= 'a' && r <= 'z' {
				r -= 'a' - 'A'
			}
			up = false
			out = append(out, r)
		}
	}
	return string(out)
}

func procFuncName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		if r == '$' {
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

type bytesBuffer struct{ data []byte }

func (b *bytesBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
