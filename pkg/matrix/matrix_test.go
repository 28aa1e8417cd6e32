package matrix

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/x64gen/pkg/asm"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/register"
	"github.com/xplshn/x64gen/pkg/token"
)

func defaultMatrix(t *testing.T) *Matrix {
	t.Helper()
	m, err := Default()
	if err != nil {
		t.Fatalf("building cast matrix: %v", err)
	}
	return m
}

func rax(size int) register.Register { return register.Register{Family: register.RAX, Size: size} }

func TestCastMatrixTotality(t *testing.T) {
	m := defaultMatrix(t)
	numeric := append(append([]string{}, intKeys...), floatKeys...)
	want := 0
	for _, from := range numeric {
		for _, to := range numeric {
			if from == to {
				if _, err := m.Lookup(from, to); err == nil {
					t.Errorf("identity cast %s accepted", from)
				}
				continue
			}
			want++
			if _, err := m.Lookup(from, to); err != nil {
				t.Errorf("Lookup(%s, %s): %v", from, to, err)
			}
		}
	}
	for _, to := range intKeys {
		want++
		if _, err := m.Lookup("bool", to); err != nil {
			t.Errorf("Lookup(bool, %s): %v", to, err)
		}
	}
	want += 4 // ptr <-> i64/u64
	if m.Len() != want {
		t.Errorf("matrix has %d entries, want %d", m.Len(), want)
	}
}

func TestNewRejectsIdentityAndDuplicates(t *testing.T) {
	if _, err := New([]CastEntry{{From: "i32", To: "i32", Kind: CastReview}}); err == nil {
		t.Error("identity contribution accepted")
	}
	if _, err := New(FloatCasts(), FloatCasts()); err == nil {
		t.Error("duplicate contribution accepted")
	}
}

func cast(t *testing.T, from, to *ast.Type, src Operand, dst register.Register) asm.Result {
	t.Helper()
	res, err := defaultMatrix(t).CastFromTo(from, to, src, dst)
	if err != nil {
		t.Fatalf("CastFromTo(%s, %s): %v", from, to, err)
	}
	return res
}

func TestThirtyTwoToSixtyFourStaging(t *testing.T) {
	mem := MemOperand(4, "[rbp - 4]")
	tests := []struct {
		name     string
		from, to *ast.Type
		want     string
	}{
		{"u32 to i64", ast.TypeU32, ast.TypeI64, "    mov r11d, dword [rbp - 4]\n    mov eax, r11d\n"},
		{"i32 to u64", ast.TypeI32, ast.TypeU64, "    mov r11d, dword [rbp - 4]\n    movsxd rax, r11d\n"},
		{"i32 to i64", ast.TypeI32, ast.TypeI64, "    movsxd rax, dword [rbp - 4]\n"},
		{"u32 to u64", ast.TypeU32, ast.TypeU64, "    mov eax, dword [rbp - 4]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := cast(t, tt.from, tt.to, mem, rax(8))
			if diff := cmp.Diff(tt.want, res.Text()); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			if reg, ok := res.Register(); !ok || reg != rax(8) {
				t.Errorf("result register = %v, %v", reg, ok)
			}
		})
	}
}

func TestNarrowingReviews(t *testing.T) {
	res := cast(t, ast.TypeI64, ast.TypeI8, RegOperand(rax(8)), rax(1))
	if res.Kind() != asm.KindMultilineResulted || res.Text() != "" || res.Operand() != "al" {
		t.Errorf("register narrowing = %v %q %q", res.Kind(), res.Text(), res.Operand())
	}
	res = cast(t, ast.TypeI32, ast.TypeU16, MemOperand(4, "[rbp - 8]"), rax(2))
	if res.Kind() != asm.KindInline || res.Operand() != "word [rbp - 8]" {
		t.Errorf("memory narrowing = %v %q", res.Kind(), res.Operand())
	}
	res = cast(t, ast.TypeI32, ast.TypeU8, ImmOperand(300), rax(1))
	if res.Operand() != "44" {
		t.Errorf("immediate narrowing = %q, want 44", res.Operand())
	}
	res = cast(t, ast.TypeI8, ast.TypeI32, ImmOperand(-1), rax(4))
	if res.Kind() != asm.KindInline || res.Operand() != "-1" {
		t.Errorf("immediate widening = %v %q", res.Kind(), res.Operand())
	}
}

func TestWidening(t *testing.T) {
	cl := register.Register{Family: register.RCX, Size: 1}
	res := cast(t, ast.TypeI8, ast.TypeI32, RegOperand(cl), rax(4))
	if res.Text() != "    movsx eax, cl\n" {
		t.Errorf("i8->i32 = %q", res.Text())
	}
	res = cast(t, ast.TypeU16, ast.TypeI64, MemOperand(2, "[rbp - 2]"), rax(8))
	if res.Text() != "    movzx rax, word [rbp - 2]\n" {
		t.Errorf("u16->i64 = %q", res.Text())
	}
}

func TestFloatCastsUseScratch(t *testing.T) {
	xmm1 := register.Register{Family: register.XMM1, Size: 8}
	res := cast(t, ast.TypeF32, ast.TypeF64, MemOperand(4, "[rbp - 4]"), xmm1)
	want := "    cvtss2sd xmm7, dword [rbp - 4]\n    movsd xmm1, xmm7\n"
	if diff := cmp.Diff(want, res.Text()); diff != "" {
		t.Errorf("f32->f64 (-want +got):\n%s", diff)
	}

	res = cast(t, ast.TypeI16, ast.TypeF32, RegOperand(register.Register{Family: register.RCX, Size: 2}), xmm1.To(4))
	want = "    movsx r11d, cx\n    cvtsi2ss xmm7, r11d\n    movss xmm1, xmm7\n"
	if diff := cmp.Diff(want, res.Text()); diff != "" {
		t.Errorf("i16->f32 (-want +got):\n%s", diff)
	}

	res = cast(t, ast.TypeF64, ast.TypeU8, RegOperand(xmm1), rax(1))
	want = "    movsd xmm7, xmm1\n    cvttsd2si r11d, xmm7\n    mov eax, r11d\n"
	if diff := cmp.Diff(want, res.Text()); diff != "" {
		t.Errorf("f64->u8 (-want +got):\n%s", diff)
	}
	if res.Operand() != "al" {
		t.Errorf("f64->u8 result in %s, want al", res.Operand())
	}
}

func TestBoolGoesThroughByte(t *testing.T) {
	m := defaultMatrix(t)
	b, err := m.Lookup("bool", "i32")
	if err != nil {
		t.Fatal(err)
	}
	u, _ := m.Lookup("u8", "i32")
	if b.Kind != u.Kind || b.Mnemonic != u.Mnemonic {
		t.Errorf("bool->i32 = %+v, u8->i32 = %+v", b, u)
	}
	if _, err := m.Lookup("i32", "bool"); err == nil {
		t.Error("i32 -> bool should not be a cast")
	}
	var uce *UnsupportedCastError
	if _, err := m.CastFromTo(ast.TypeF32, ast.TypeBool, ImmOperand(0), rax(1)); !errors.As(err, &uce) {
		t.Errorf("f32 -> bool: got %v", err)
	}
}

func TestOperationSelection(t *testing.T) {
	m := defaultMatrix(t)
	tests := []struct {
		l    *ast.Type
		op   token.Type
		r    *ast.Type
		fam  OpFamily
		mn   string
		cc   string
		res  string
	}{
		{ast.TypeI32, token.Star, ast.TypeI32, OpMul, "imul", "", "i32"},
		{ast.TypeU32, token.Star, ast.TypeU32, OpUnsignedMul, "mul", "", "u32"},
		{ast.TypeI64, token.Slash, ast.TypeI64, OpDiv, "idiv", "", "i64"},
		{ast.TypeU16, token.Rem, ast.TypeU16, OpRem, "div", "", "u16"},
		{ast.TypeI32, token.Lt, ast.TypeI32, OpCompare, "cmp", "setl", "bool"},
		{ast.TypeU32, token.Lt, ast.TypeU32, OpCompare, "cmp", "setb", "bool"},
		{ast.TypeF64, token.Plus, ast.TypeF64, OpFloatArith, "addsd", "", "f64"},
		{ast.TypeF32, token.Gte, ast.TypeF32, OpFloatCompare, "comiss", "setae", "bool"},
		{ast.TypeBool, token.Or, ast.TypeBool, OpLogical, "or", "", "bool"},
		{ast.NewPointer(ast.TypeI32), token.Plus, ast.TypeI64, OpArith, "add", "", "*i32"},
	}
	for _, tt := range tests {
		e, err := m.Operation(tt.l, tt.op, tt.r)
		if err != nil {
			t.Errorf("Operation(%s %s %s): %v", tt.l, tt.op, tt.r, err)
			continue
		}
		if e.Family != tt.fam || e.Mnemonic != tt.mn || e.SetCC != tt.cc {
			t.Errorf("Operation(%s %s %s) = %+v", tt.l, tt.op, tt.r, e)
		}
		if got := m.ResultType(tt.l, e).String(); got != tt.res {
			t.Errorf("ResultType(%s %s %s) = %s, want %s", tt.l, tt.op, tt.r, got, tt.res)
		}
	}

	var uoe *UnsupportedOperationError
	if _, err := m.Operation(ast.TypeF32, token.Rem, ast.TypeF32); !errors.As(err, &uoe) {
		t.Errorf("f32 %% f32: got %v", err)
	}
	if _, err := m.Operation(ast.TypeI32, token.Plus, ast.TypeI64); !strings.Contains(err.Error(), "not defined") {
		t.Errorf("i32 + i64: got %v", err)
	}
}
