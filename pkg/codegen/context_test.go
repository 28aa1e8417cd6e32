package codegen

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/register"
)

func TestFreeRegisterSkipsHeldFamilies(t *testing.T) {
	c := newTestContext(t, nil, nil)
	c.PushRegister(register.Register{Family: register.RAX, Size: 8})
	c.PushRegister(register.Register{Family: register.RCX, Size: 4})

	r, err := c.FreeRegister(false, 4)
	if err != nil {
		t.Fatal(err)
	}
	if r.String() != "edi" {
		t.Errorf("FreeRegister = %s, want edi", r)
	}
	if diff := cmp.Diff([]register.Family{register.RDI}, c.savedFamilies()); diff != "" {
		t.Errorf("callee-saved bookkeeping mismatch (-want +got):\n%s", diff)
	}

	r, err = c.FreeRegister(false, 4, register.Register{Family: register.RDI})
	if err != nil {
		t.Fatal(err)
	}
	if r.String() != "edx" {
		t.Errorf("FreeRegister excluding rdi = %s, want edx", r)
	}
}

func TestFreeRegisterExhaustion(t *testing.T) {
	c := newTestContext(t, nil, nil)
	for {
		r, err := c.FreeRegister(true, 8)
		if err != nil {
			if !errors.Is(err, register.ErrExhausted) {
				t.Fatalf("expected register.ErrExhausted, got %v", err)
			}
			break
		}
		if r.Same(register.FloatScratch) {
			t.Fatalf("the float scratch register was handed out")
		}
		c.PushRegister(r)
	}
	if len(c.registerToUse) != 7 {
		t.Errorf("expected 7 float registers before exhaustion, got %d", len(c.registerToUse))
	}
}

func TestRegisterStackEmpty(t *testing.T) {
	c := newTestContext(t, nil, nil)
	if _, err := c.PopRegister(); err == nil {
		t.Fatal("PopRegister on an empty stack succeeded")
	}
	c.PushRegister(register.Accumulator)
	top, err := c.LastRegister()
	if err != nil || !top.Same(register.Accumulator) {
		t.Fatalf("LastRegister = %v, %v", top, err)
	}
}

func TestAllocateAligns(t *testing.T) {
	c := newTestContext(t, nil, nil)
	tests := []struct {
		name string
		typ  *ast.Type
		want Variable
	}{
		{"flag", ast.TypeBool, Variable{Offset: 1, ByteSize: 1, Count: 1}},
		{"n", ast.TypeI32, Variable{Offset: 8, ByteSize: 4, Count: 1}},
		{"p", ast.NewPointer(ast.TypeI8), Variable{Offset: 16, ByteSize: 8, Count: 1}},
		{"w", ast.TypeI16, Variable{Offset: 18, ByteSize: 2, Count: 1}},
		{"xs", ast.NewArray(ast.TypeI32, 3), Variable{Offset: 32, ByteSize: 4, Count: 3}},
	}
	for _, tt := range tests {
		got := c.Allocate(tt.name, tt.typ)
		if got.Type != tt.typ {
			t.Errorf("Allocate(%s) recorded type %s, want %s", tt.name, got.Type, tt.typ)
		}
		got.Type = nil
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("Allocate(%s %s) mismatch (-want +got):\n%s", tt.name, tt.typ, diff)
		}
		if got.Offset%tt.typ.Align() != 0 {
			t.Errorf("%s at offset %d is not %d-aligned", tt.name, got.Offset, tt.typ.Align())
		}
	}
}

func TestScopesRestoreVariables(t *testing.T) {
	c := newTestContext(t, nil, nil)
	outer := c.Allocate("x", ast.TypeI64)
	restore := c.enterScope()
	inner := c.Allocate("x", ast.TypeI64)
	if got, _ := c.Lookup("x"); got != inner {
		t.Errorf("inner x = %+v, want %+v", got, inner)
	}
	restore()
	if got, _ := c.Lookup("x"); got != outer {
		t.Errorf("x after the scope = %+v, want %+v", got, outer)
	}
	if c.position != 16 {
		t.Errorf("frame slots are not reused, position = %d, want 16", c.position)
	}
}

func TestLabelsAreUniquePerMethod(t *testing.T) {
	c := newTestContext(t, nil, nil)
	if a, b := c.newLabel(), c.newLabel(); a != ".L0_1" || b != ".L0_2" {
		t.Errorf("labels = %s, %s", a, b)
	}
	if c.retLabel != ".L0_ret" {
		t.Errorf("retLabel = %s", c.retLabel)
	}
}

func TestDataSectionDeduplicates(t *testing.T) {
	d := NewDataSection()
	a, b := d.StringLiteral("hello"), d.StringLiteral("hello")
	if a != b {
		t.Errorf("equal strings got different labels %s and %s", a, b)
	}
	if f32, f64 := d.Float(0.5, 4), d.Float(0.5, 8); f32 == f64 {
		t.Errorf("floats of different widths share label %s", f32)
	}
	if d.Len() != 3 {
		t.Errorf("Len = %d, want 3", d.Len())
	}

	other := NewDataSection()
	other.StringLiteral("hello")
	other.StringLiteral("bye")
	d.Merge(other)
	if d.Len() != 4 {
		t.Errorf("Len after Merge = %d, want 4", d.Len())
	}

	var sb strings.Builder
	d.Render(&sb)
	want := a + ": db 104, 101, 108, 108, 111, 0\n" +
		d.Float(0.5, 4) + ": dd 0x3f000000\n" +
		d.Float(0.5, 8) + ": dq 0x3fe0000000000000\n" +
		other.StringLiteral("bye") + ": db 98, 121, 101, 0\n"
	if diff := cmp.Diff(want, sb.String()); diff != "" {
		t.Errorf("Render mismatch (-want +got):\n%s", diff)
	}
}

func TestStructLiteralData(t *testing.T) {
	pt := ast.NewStruct("Point", []ast.Field{{Name: "x", Type: ast.TypeI32}, {Name: "y", Type: ast.TypeI32}})
	d := NewDataSection()
	label, ok := d.StructLiteral(pt, []ast.FieldInit{{Name: "y", Value: num(7)}})
	if !ok {
		t.Fatal("constant struct literal was rejected")
	}
	var sb strings.Builder
	d.Render(&sb)
	if !strings.HasPrefix(sb.String(), label+":\n    istruc Point") {
		t.Errorf("unexpected struct literal rendering:\n%s", sb.String())
	}

	x := ast.NewIdent(tok, "x", ast.TypeI32)
	if _, ok := d.StructLiteral(pt, []ast.FieldInit{{Name: "x", Value: x}}); ok {
		t.Error("non-constant struct literal was accepted")
	}
}
