package abi

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/register"
)

func TestMangle(t *testing.T) {
	tests := []struct {
		sig  Signature
		want string
	}{
		{Signature{Name: "main", Return: ast.TypeI32}, "main"},
		{Signature{Name: "add", Params: []*ast.Type{ast.TypeI32, ast.TypeI32}, Return: ast.TypeI32}, ".add_i32_i32~i32"},
		{Signature{Name: "tick", Return: ast.TypeVoid}, ".tick_void~void"},
		{Signature{Name: "first", Params: []*ast.Type{ast.NewPointer(ast.TypeU8)}, Return: ast.TypeU8}, ".first_ptru8~u8"},
		{Signature{Name: "sum", Params: []*ast.Type{ast.NewArray(ast.TypeF64, 4)}, Return: ast.TypeF64}, ".sum_ptrf64~f64"},
		{Signature{Name: "printf", Params: []*ast.Type{ast.NewPointer(ast.TypeU8)}, Return: ast.TypeI32, Extern: true, Variadic: true}, "printf"},
	}
	for _, tt := range tests {
		if got := tt.sig.Mangle(); got != tt.want {
			t.Errorf("Mangle(%s) = %q, want %q", tt.sig.String(), got, tt.want)
		}
	}
}

func TestResolveIsPositionalAndDeterministic(t *testing.T) {
	args := []*ast.Type{ast.TypeI32, ast.TypeF64, ast.NewPointer(ast.TypeI8), ast.TypeF32, ast.TypeI64, ast.TypeF64}
	first, err := Resolve(args, false)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := Resolve(args, false)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("Resolve is not deterministic (-first +second):\n%s", diff)
	}
	want := []Slot{
		{Kind: InRegister, Reg: register.Register{Family: register.RCX, Size: 4}, Index: 0},
		{Kind: InRegister, Reg: register.Register{Family: register.XMM1, Size: 8}, Index: 1},
		{Kind: InRegister, Reg: register.Register{Family: register.R8, Size: 8}, Index: 2},
		{Kind: InRegister, Reg: register.Register{Family: register.XMM3, Size: 4}, Index: 3},
		{Kind: OnStack, Index: 4},
		{Kind: OnStack, Index: 5},
	}
	if diff := cmp.Diff(want, first); diff != "" {
		t.Errorf("slots mismatch (-want +got):\n%s", diff)
	}
	if first[5].Offset() != 40 {
		t.Errorf("sixth argument offset = %d, want 40", first[5].Offset())
	}
}

func TestResolveExternPairsFloats(t *testing.T) {
	slots, err := Resolve([]*ast.Type{ast.NewPointer(ast.TypeU8), ast.TypeF64}, true)
	if err != nil {
		t.Fatal(err)
	}
	if slots[0].HasPair {
		t.Error("pointer argument should not be paired")
	}
	s := slots[1]
	if !s.HasPair || s.Reg.Family != register.XMM1 || s.Pair != (register.Register{Family: register.RDX, Size: 8}) {
		t.Errorf("float slot = %+v, want xmm1 paired with rdx", s)
	}
}

func TestResolveRejectsUnsizedArguments(t *testing.T) {
	if _, err := Resolve([]*ast.Type{ast.TypeI32, ast.TypeVoid}, false); !errors.Is(err, register.ErrInvalidSize) {
		t.Errorf("void argument: got %v, want %v", err, register.ErrInvalidSize)
	}
}

func TestArgumentArea(t *testing.T) {
	tests := []struct {
		n    int
		want int64
	}{
		{0, 32}, {3, 32}, {4, 32}, {5, 40}, {7, 56},
	}
	for _, tt := range tests {
		if got := ArgumentArea(tt.n, ShadowSpace); got != tt.want {
			t.Errorf("ArgumentArea(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestArgTypesPromotesVariadicFloats(t *testing.T) {
	sig := &Signature{Name: "printf", Params: []*ast.Type{ast.NewPointer(ast.TypeU8)}, Extern: true, Variadic: true}
	got := sig.ArgTypes([]*ast.Type{ast.NewPointer(ast.TypeU8), ast.TypeF32, ast.NewArray(ast.TypeI32, 2)})
	want := []string{"*u8", "f64", "*i32"}
	for i := range want {
		if got[i].String() != want[i] {
			t.Errorf("arg %d travels as %s, want %s", i, got[i], want[i])
		}
	}
}

func TestReturnRegister(t *testing.T) {
	if r, ok := ReturnRegister(ast.TypeI16); !ok || r.String() != "ax" {
		t.Errorf("i16 returns in %v", r)
	}
	if r, ok := ReturnRegister(ast.TypeF32); !ok || r.String() != "xmm0" {
		t.Errorf("f32 returns in %v", r)
	}
	if _, ok := ReturnRegister(ast.TypeVoid); ok {
		t.Error("void has a return register")
	}
}

func TestLookupErrors(t *testing.T) {
	tab := NewTable()
	add32 := &Signature{Name: "add", Params: []*ast.Type{ast.TypeI32, ast.TypeI32}, Return: ast.TypeI32}
	add64 := &Signature{Name: "add", Params: []*ast.Type{ast.TypeI64, ast.TypeI64}, Return: ast.TypeI64}
	for _, s := range []*Signature{add32, add64} {
		if err := tab.Declare(s); err != nil {
			t.Fatal(err)
		}
	}
	if err := tab.Declare(&Signature{Name: "add", Params: []*ast.Type{ast.TypeI32, ast.TypeI32}, Return: ast.TypeI32}); err == nil {
		t.Error("duplicate declaration accepted")
	}

	got, err := tab.Lookup("add", []*ast.Type{ast.TypeI64, ast.TypeI64})
	if err != nil || got != add64 {
		t.Errorf("Lookup(add, i64, i64) = %v, %v", got, err)
	}

	var unresolved *UnresolvedError
	if _, err := tab.Lookup("sub", nil); !errors.As(err, &unresolved) {
		t.Errorf("unknown method: got %v", err)
	}

	var nomatch *NoMatchingOverloadError
	if _, err := tab.Lookup("add", []*ast.Type{ast.TypeF32, ast.TypeF32}); !errors.As(err, &nomatch) {
		t.Errorf("no overload: got %v", err)
	} else if len(nomatch.Candidates) != 2 || len(nomatch.Provided) != 2 {
		t.Errorf("no overload error lost context: %+v", nomatch)
	}

	tab2 := NewTable()
	_ = tab2.Declare(&Signature{Name: "log", Params: []*ast.Type{ast.TypeI32}, Return: ast.TypeVoid, Variadic: true})
	_ = tab2.Declare(&Signature{Name: "log", Params: []*ast.Type{ast.TypeI32, ast.TypeI32}, Return: ast.TypeVoid})
	var ambiguous *AmbiguousOverloadError
	if _, err := tab2.Lookup("log", []*ast.Type{ast.TypeI32, ast.TypeI32}); !errors.As(err, &ambiguous) {
		t.Errorf("ambiguous call: got %v", err)
	}
}
