package codegen

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/x64gen/pkg/abi"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/register"
	"github.com/xplshn/x64gen/pkg/token"
)

func declare(t *testing.T, table *abi.Table, sigs ...*abi.Signature) *abi.Table {
	t.Helper()
	for _, s := range sigs {
		if err := table.Declare(s); err != nil {
			t.Fatalf("Declare(%s) failed: %v", s, err)
		}
	}
	return table
}

func TestCallExternVariadicFloat(t *testing.T) {
	table := declare(t, abi.NewTable(), &abi.Signature{
		Name:     "printf",
		Params:   []*ast.Type{ast.NewPointer(ast.TypeU8)},
		Return:   ast.TypeI32,
		Extern:   true,
		Variadic: true,
	})
	c := newTestContext(t, table, nil)
	call := ast.NewFuncCall(tok, "printf", []*ast.Node{
		ast.NewString(tok, "x"),
		ast.NewFloat(tok, 1.5, ast.TypeF64),
	}, ast.TypeI32)

	got := lowerInto(t, c, call, register.Accumulator.To(4))
	labels := NewDataSection()
	want := asmLines(
		"sub rsp, 32",
		"lea rax, [rel "+labels.StringLiteral("x")+"]",
		"mov qword [rsp], rax",
		"movsd xmm0, qword [rel "+labels.Float(1.5, 8)+"]",
		"movsd qword [rsp + 8], xmm0",
		"mov rcx, qword [rsp]",
		"movsd xmm1, qword [rsp + 8]",
		"mov rdx, qword [rsp + 8]",
		"call printf",
		"add rsp, 32",
	)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("printf call mismatch (-want +got):\n%s", diff)
	}
	if c.data.Len() != 2 {
		t.Errorf("expected the string and the float in the data section, got %d entries", c.data.Len())
	}
}

func TestCallPassesFifthArgumentOnStack(t *testing.T) {
	i64s := []*ast.Type{ast.TypeI64, ast.TypeI64, ast.TypeI64, ast.TypeI64, ast.TypeI64}
	sig := &abi.Signature{Name: "sum5", Params: i64s, Return: ast.TypeI64}
	c := newTestContext(t, declare(t, abi.NewTable(), sig), nil)

	var args []*ast.Node
	for i := int64(1); i <= 5; i++ {
		args = append(args, ast.NewNumber(tok, i, ast.TypeI64))
	}
	got := lowerInto(t, c, ast.NewFuncCall(tok, "sum5", args, ast.TypeI64), register.Accumulator)
	want := asmLines(
		"sub rsp, 48",
		"mov rax, 1",
		"mov qword [rsp], rax",
		"mov rax, 2",
		"mov qword [rsp + 8], rax",
		"mov rax, 3",
		"mov qword [rsp + 16], rax",
		"mov rax, 4",
		"mov qword [rsp + 24], rax",
		"mov rax, 5",
		"mov qword [rsp + 32], rax",
		"mov rcx, qword [rsp]",
		"mov rdx, qword [rsp + 8]",
		"mov r8, qword [rsp + 16]",
		"mov r9, qword [rsp + 24]",
		"call .sum5_i64_i64_i64_i64_i64~i64",
		"add rsp, 48",
	)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("five argument call mismatch (-want +got):\n%s", diff)
	}
	if c.depth != 0 {
		t.Errorf("depth = %d after the call, want 0", c.depth)
	}
}

func TestCallSavesLiveVolatileRegisters(t *testing.T) {
	c := newTestContext(t, declare(t, abi.NewTable(), &abi.Signature{Name: "f", Return: ast.TypeI32}), nil)
	c.Allocate("x", ast.TypeI32)
	n := ast.NewBinaryOp(tok, token.Plus,
		ast.NewIdent(tok, "x", ast.TypeI32),
		ast.NewFuncCall(tok, "f", nil, ast.TypeI32),
		ast.TypeI32)

	got := lowerInto(t, c, n, register.Accumulator.To(4))
	want := asmLines(
		"mov eax, dword [rbp - 4]",
		"push rax",
		"sub rsp, 40",
		"call .f_void~i32",
		"mov ecx, eax",
		"add rsp, 40",
		"pop rax",
		"add eax, ecx",
	)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("x + f() mismatch (-want +got):\n%s", diff)
	}
}

func TestCallUnresolved(t *testing.T) {
	c := newTestContext(t, nil, nil)
	_, err := c.LowerExpr(ast.NewFuncCall(tok, "nope", nil, ast.TypeI32), Prepare{Reg: register.Accumulator.To(4)})
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != Resolution {
		t.Fatalf("expected a resolution error, got %v", err)
	}
	var unresolved *abi.UnresolvedError
	if !errors.As(err, &unresolved) || unresolved.Name != "nope" {
		t.Errorf("expected the wrapped *abi.UnresolvedError, got %v", err)
	}
}

func TestCallRejectsStructArgument(t *testing.T) {
	pt := ast.NewStruct("Point", []ast.Field{{Name: "x", Type: ast.TypeI32}, {Name: "y", Type: ast.TypeI32}})
	table := declare(t, abi.NewTable(), &abi.Signature{Name: "show", Params: []*ast.Type{pt}, Return: ast.TypeVoid})
	c := newTestContext(t, table, nil)
	c.Allocate("p", pt)
	_, err := c.LowerExpr(ast.NewFuncCall(tok, "show", []*ast.Node{ast.NewIdent(tok, "p", pt)}, ast.TypeVoid), Value{})
	var ce *Error
	if !errors.As(err, &ce) || ce.Kind != TypeMismatch {
		t.Fatalf("expected a type error, got %v", err)
	}
}
