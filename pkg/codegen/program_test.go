package codegen

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/config"
	"github.com/xplshn/x64gen/pkg/token"
)

func method(name string, params []ast.Param, ret *ast.Type, stmts ...*ast.Node) *ast.Node {
	return ast.NewFuncDecl(tok, name, params, ret, ast.NewBlock(tok, stmts))
}

func ident(name string, t *ast.Type) *ast.Node { return ast.NewIdent(tok, name, t) }

func ret(e *ast.Node) *ast.Node { return ast.NewReturn(tok, e) }

func generate(t *testing.T, prog *ast.Program, cfg *config.Config) *Output {
	t.Helper()
	out, err := Generate(prog, cfg)
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	return out
}

func TestGenerateMinimalMain(t *testing.T) {
	prog := &ast.Program{Methods: []*ast.Node{method("main", nil, ast.TypeI32, ret(num(0)))}}
	got := generate(t, prog, nil).Text
	want := "bits 64\ndefault rel\n\nglobal main\n\nsection .text\n\n" +
		"main:\n" +
		asmLines("push rbp", "mov rbp, rsp", "sub rsp, 32", "mov eax, 0") +
		".L0_ret:\n" +
		asmLines("leave", "ret")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateMethodsAndExterns(t *testing.T) {
	i32 := ast.TypeI32
	add := method("add", []ast.Param{{Name: "a", Type: i32}, {Name: "b", Type: i32}}, i32,
		ret(bin(token.Plus, ident("a", i32), ident("b", i32))))
	main := method("main", nil, i32,
		ast.NewExprStmt(tok, ast.NewFuncCall(tok, "puts", []*ast.Node{ast.NewString(tok, "hi")}, i32)),
		ret(ast.NewFuncCall(tok, "add", []*ast.Node{num(1), num(2)}, i32)))
	puts := ast.NewExtrnDecl(tok, "puts", []ast.Param{{Name: "s", Type: ast.NewPointer(ast.TypeU8)}}, i32, false)

	got := generate(t, &ast.Program{Externs: []*ast.Node{puts}, Methods: []*ast.Node{add, main}}, nil).Text

	if !strings.Contains(got, "global main\nextern puts\n") {
		t.Errorf("missing extern declaration:\n%s", got)
	}
	mainAt, addAt := strings.Index(got, "\nmain:\n"), strings.Index(got, "\n.add_i32_i32~i32:\n")
	if mainAt < 0 || addAt < 0 || mainAt > addAt {
		t.Fatalf("main must come first: main at %d, add at %d:\n%s", mainAt, addAt, got)
	}
	wantAdd := ".add_i32_i32~i32:\n" + asmLines(
		"push rbp",
		"mov rbp, rsp",
		"sub rsp, 64",
		"mov dword [rbp - 4], ecx",
		"mov dword [rbp - 8], edx",
		"mov eax, dword [rbp - 4]",
		"add eax, dword [rbp - 8]",
	) + ".L0_ret:\n"
	if !strings.Contains(got, wantAdd) {
		t.Errorf("add body mismatch, want:\n%s\ngot:\n%s", wantAdd, got)
	}
	if !strings.Contains(got, "    call puts\n") || !strings.Contains(got, "    call .add_i32_i32~i32\n") {
		t.Errorf("missing calls:\n%s", got)
	}
	label := NewDataSection().StringLiteral("hi")
	if !strings.Contains(got, "\nsection .data\n"+label+": db 104, 105, 0\n") {
		t.Errorf("missing string literal %s:\n%s", label, got)
	}
}

func TestGenerateWithoutMain(t *testing.T) {
	prog := &ast.Program{Methods: []*ast.Node{method("helper", nil, ast.TypeVoid)}}
	_, err := Generate(prog, nil)
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != Resolution {
		t.Fatalf("expected a resolution error, got %v", err)
	}
}

func TestGenerateDuplicateMethod(t *testing.T) {
	prog := &ast.Program{Methods: []*ast.Node{
		method("main", nil, ast.TypeI32, ret(num(0))),
		method("main", nil, ast.TypeI32, ret(num(1))),
	}}
	_, err := Generate(prog, nil)
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != Resolution {
		t.Fatalf("expected a resolution error, got %v", err)
	}
}

func TestGenerateLoop(t *testing.T) {
	i32 := ast.TypeI32
	i := ident("i", i32)
	body := ast.NewBlock(tok, []*ast.Node{
		ast.NewAssign(tok, ident("i", i32), bin(token.Plus, ident("i", i32), num(1))),
	})
	main := method("main", nil, i32,
		ast.NewVarDecl(tok, "i", i32, num(0)),
		ast.NewWhile(tok, ast.NewBinaryOp(tok, token.Lt, i, num(3), ast.TypeBool), body),
		ret(ident("i", i32)))

	got := generate(t, &ast.Program{Methods: []*ast.Node{main}}, nil).Text
	want := "main:\n" + asmLines(
		"push rbp",
		"mov rbp, rsp",
		"sub rsp, 64",
		"mov dword [rbp - 4], 0",
		".L0_1:",
		"mov eax, dword [rbp - 4]",
		"cmp eax, 3",
		"setl al",
		"test al, al",
		"je .L0_2",
		"mov eax, dword [rbp - 4]",
		"add eax, 1",
		"mov dword [rbp - 4], eax",
		"jmp .L0_1",
		".L0_2:",
		"mov eax, dword [rbp - 4]",
		".L0_ret:",
		"leave",
		"ret",
	)
	if !strings.HasSuffix(got, want) {
		t.Errorf("loop mismatch, want suffix:\n%s\ngot:\n%s", want, got)
	}
}

func TestGenerateSavesCalleeSavedRegisters(t *testing.T) {
	main := method("main", nil, ast.TypeI32, ret(fourQuads()))
	got := generate(t, &ast.Program{Methods: []*ast.Node{main}}, nil).Text
	if !strings.Contains(got, asmLines("sub rsp, 64", "mov qword [rbp - 8], rdi")) {
		t.Errorf("rdi is not saved after the prologue:\n%s", got)
	}
	if !strings.HasSuffix(got, ".L0_ret:\n"+asmLines("mov rdi, qword [rbp - 8]", "leave", "ret")) {
		t.Errorf("rdi is not restored before the epilogue:\n%s", got)
	}
}

func TestGenerateWarnsOnUnreachableCode(t *testing.T) {
	prog := func() *ast.Program {
		return &ast.Program{Methods: []*ast.Node{method("main", nil, ast.TypeI32, ret(num(0)), ret(num(1)))}}
	}
	out := generate(t, prog(), nil)
	if len(out.Warnings) != 1 || out.Warnings[0].Kind != config.WarnUnreachableCode {
		t.Fatalf("expected one unreachable-code warning, got %+v", out.Warnings)
	}
	if strings.Contains(out.Text, "mov eax, 1") {
		t.Errorf("unreachable statement was lowered:\n%s", out.Text)
	}

	cfg := config.NewConfig()
	cfg.SetWarning(config.WarnUnreachableCode, false)
	if out := generate(t, prog(), cfg); len(out.Warnings) != 0 {
		t.Errorf("disabled warning was recorded: %+v", out.Warnings)
	}
}

func TestGenerateParallelMatchesSequential(t *testing.T) {
	var methods []*ast.Node
	for _, name := range []string{"one", "two", "three", "four"} {
		methods = append(methods, method(name, nil, ast.TypeI32, ret(fourQuads())))
	}
	methods = append(methods, method("main", nil, ast.TypeI32,
		ast.NewExprStmt(tok, ast.NewFuncCall(tok, "three", nil, ast.TypeI32)),
		ret(num(0))))
	prog := &ast.Program{Methods: methods}

	seq := config.NewConfig()
	par := config.NewConfig()
	par.Jobs = 4
	want := generate(t, prog, seq).Text
	for i := 0; i < 5; i++ {
		if diff := cmp.Diff(want, generate(t, prog, par).Text); diff != "" {
			t.Fatalf("parallel output differs (-sequential +parallel):\n%s", diff)
		}
	}
}

func TestGenerateStructLayout(t *testing.T) {
	pt := ast.NewStruct("Point", []ast.Field{{Name: "x", Type: ast.TypeI8}, {Name: "y", Type: ast.TypeI32}})
	main := method("main", nil, ast.TypeI32,
		ast.NewVarDecl(tok, "p", pt, nil),
		ret(ast.NewMemberAccess(tok, ident("p", pt), "y", ast.TypeI32)))
	got := generate(t, &ast.Program{Structs: []*ast.Type{pt}, Methods: []*ast.Node{main}}, nil).Text

	want := "\nsection .data\nstruc Point\n    .x: resb 1\n    resb 3\n    .y: resd 1\nendstruc\n"
	if !strings.HasSuffix(got, want) {
		t.Errorf("struct layout mismatch, want suffix:\n%s\ngot:\n%s", want, got)
	}
	if !strings.Contains(got, "    mov eax, dword [rbp - 4]\n") {
		t.Errorf("member load mismatch:\n%s", got)
	}
}

func TestBackendReportsWarnings(t *testing.T) {
	prog := &ast.Program{Methods: []*ast.Node{method("main", nil, ast.TypeI32, ret(num(0)), ret(num(1)))}}
	var reported []Warning
	b := &nasmBackend{report: func(_ *config.Config, w Warning) { reported = append(reported, w) }}
	buf, err := b.Generate(prog, config.NewConfig())
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte("bits 64\n")) {
		t.Errorf("unexpected output:\n%s", buf)
	}
	if len(reported) != 1 {
		t.Errorf("expected one reported warning, got %+v", reported)
	}
}

func TestGenerateUndeclaredCallProducesNothing(t *testing.T) {
	main := method("main", nil, ast.TypeI32, ret(ast.NewFuncCall(tok, "missing", nil, ast.TypeI32)))
	out, err := Generate(&ast.Program{Methods: []*ast.Node{main}}, nil)
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != Resolution {
		t.Fatalf("expected a resolution error, got %v", err)
	}
	if out != nil {
		t.Errorf("a failed generation returned output:\n%s", out.Text)
	}
}

func TestGenerateWarnsOnUnusedLocals(t *testing.T) {
	prog := func() *ast.Program {
		return &ast.Program{Methods: []*ast.Node{method("main", nil, ast.TypeI32,
			ast.NewVarDecl(tok, "x", ast.TypeI32, num(1)),
			ast.NewVarDecl(tok, "y", ast.TypeI32, num(2)),
			ret(ident("y", ast.TypeI32)))}}
	}
	out := generate(t, prog(), nil)
	if len(out.Warnings) != 1 || out.Warnings[0].Kind != config.WarnExtra {
		t.Fatalf("expected one unused-variable warning, got %+v", out.Warnings)
	}
	if want := "variable 'x' is declared but never used"; out.Warnings[0].Msg != want {
		t.Errorf("warning message = %q, want %q", out.Warnings[0].Msg, want)
	}

	cfg := config.NewConfig()
	cfg.SetWarning(config.WarnExtra, false)
	if out := generate(t, prog(), cfg); len(out.Warnings) != 0 {
		t.Errorf("disabled warning was recorded: %+v", out.Warnings)
	}
}

func TestGenerateHonorsShadowSpace(t *testing.T) {
	helper := method("helper", nil, ast.TypeVoid)
	main := method("main", nil, ast.TypeI32,
		ast.NewExprStmt(tok, ast.NewFuncCall(tok, "helper", nil, ast.TypeVoid)),
		ret(num(0)))
	cfg := config.NewConfig()
	cfg.ShadowSpace = 64
	got := generate(t, &ast.Program{Methods: []*ast.Node{helper, main}}, cfg).Text

	if !strings.Contains(got, "main:\n"+asmLines("push rbp", "mov rbp, rsp", "sub rsp, 64")) {
		t.Errorf("frame does not cover the shadow space:\n%s", got)
	}
	if !strings.Contains(got, asmLines("sub rsp, 64", "call .helper_void~void", "add rsp, 64")) {
		t.Errorf("call does not reserve the shadow space:\n%s", got)
	}
}

func TestGenerateSamplePrograms(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "..", "tests", "*.json"))
	if err != nil {
		t.Fatal(err)
	}
	if len(files) == 0 {
		t.Skip("no sample programs")
	}
	for _, path := range files {
		t.Run(filepath.Base(path), func(t *testing.T) {
			f, err := os.Open(path)
			if err != nil {
				t.Fatal(err)
			}
			defer f.Close()
			prog, err := ast.DecodeProgram(f)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out := generate(t, prog, config.NewConfig()); !strings.Contains(out.Text, "\nmain:\n") {
				t.Errorf("no main in output:\n%s", out.Text)
			}
		})
	}
}
