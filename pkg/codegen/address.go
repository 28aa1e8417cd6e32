package codegen

import (
	"fmt"
	"strings"

	"github.com/xplshn/x64gen/pkg/asm"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/register"
)

// address is a memory location being computed. Registers it references
// stay on the register stack (held of them were pushed by locate) until
// release is called.
type address struct {
	base  string
	disp  int64
	index string
	held  int
}

func (a address) String() string {
	var s strings.Builder
	s.WriteString("[" + a.base)
	switch {
	case a.disp < 0:
		fmt.Fprintf(&s, " - %d", -a.disp)
	case a.disp > 0:
		fmt.Fprintf(&s, " + %d", a.disp)
	}
	if a.index != "" {
		s.WriteString(" + " + a.index)
	}
	s.WriteString("]")
	return s.String()
}

func (a address) inRegisters() bool { return a.base != "rbp" || a.index != "" }

func memory(size int, a address) string { return register.SizeKeyword(size) + " " + a.String() }

func (c *Context) release(a address) {
	for i := 0; i < a.held; i++ {
		_, _ = c.PopRegister()
	}
}

// locate computes the address of an lvalue. hint, when valid, is a 64-bit
// register the caller owns and that may serve as the base register.
func (c *Context) locate(b *strings.Builder, n *ast.Node, hint register.Register) (address, error) {
	switch d := n.Data.(type) {
	case ast.IdentNode:
		v, ok := c.Lookup(d.Name)
		if !ok {
			return address{}, newError(Resolution, n, "undefined variable '%s'", d.Name)
		}
		return address{base: "rbp", disp: -v.Offset}, nil

	case ast.IndirectionNode:
		if !d.Expr.Typ.IsPointer() {
			return address{}, newError(TypeMismatch, n, "cannot dereference %s", d.Expr.Typ)
		}
		return c.locatePointer(b, d.Expr, hint)

	case ast.SubscriptNode:
		var a address
		var err error
		switch {
		case d.Array.Typ.IsPointer():
			a, err = c.locatePointer(b, d.Array, hint)
		case d.Array.Typ.IsArray():
			a, err = c.locate(b, d.Array, hint)
		default:
			return address{}, newError(TypeMismatch, n, "cannot index %s", d.Array.Typ)
		}
		if err != nil {
			return a, err
		}
		if !d.Index.Typ.IsInteger() {
			return a, newError(TypeMismatch, d.Index, "array index of type %s", d.Index.Typ)
		}
		esize := d.Array.Typ.Base.Size()
		if num, ok := d.Index.Data.(ast.NumberNode); ok {
			a.disp += esize * num.Value
			return a, nil
		}
		return c.indexRegister(b, a, d.Index, esize)

	case ast.MemberAccessNode:
		st := d.Expr.Typ
		var a address
		var err error
		if st.IsPointer() {
			st = st.Base
			a, err = c.locatePointer(b, d.Expr, hint)
		} else {
			a, err = c.locate(b, d.Expr, hint)
		}
		if err != nil {
			return a, err
		}
		f, ok := st.Field(d.Member)
		if !ok {
			return a, newError(TypeMismatch, n, "%s has no field '%s'", st, d.Member)
		}
		a.disp += f.Offset
		return a, nil
	}
	return address{}, newError(TypeMismatch, n, "%s is not addressable", n)
}

// locatePointer evaluates a pointer expression into a base register.
func (c *Context) locatePointer(b *strings.Builder, ptr *ast.Node, hint register.Register) (address, error) {
	r, held := hint, 0
	if !r.Valid() {
		var err error
		if r, err = c.FreeRegister(false, 8); err != nil {
			return address{}, wrap(Internal, ptr, err)
		}
		c.PushRegister(r)
		held = 1
	}
	res, err := c.lowerExpr(ptr, Prepare{Reg: r.To(8)})
	if err != nil {
		return address{}, err
	}
	if _, err := res.ApplyWith(b).Allow(asm.KindMultilineResulted).For(ptr).Finish(); err != nil {
		return address{}, wrap(Internal, ptr, err)
	}
	return address{base: r.To(8).String(), held: held}, nil
}

// indexRegister adds a runtime index scaled by the element size to a.
func (c *Context) indexRegister(b *strings.Builder, a address, idx *ast.Node, esize int64) (address, error) {
	r, err := c.FreeRegister(false, 8)
	if err != nil {
		return a, wrap(Internal, idx, err)
	}
	c.PushRegister(r)
	a.held++

	it, isz := idx.Typ, regSize(idx.Typ)
	res, err := c.lowerExpr(idx, Prepare{Reg: r.To(isz)})
	if err != nil {
		return a, err
	}
	if _, err := res.ApplyWith(b).Allow(asm.KindMultilineResulted).For(idx).Finish(); err != nil {
		return a, wrap(Internal, idx, err)
	}
	switch {
	case isz == 8:
	case isz == 4 && it.IsSigned():
		ins(b, "movsxd %s, %s", r, r.To(4))
	case isz == 4:
		ins(b, "mov %s, %s", r.To(4), r.To(4))
	case it.IsSigned():
		ins(b, "movsx %s, %s", r, r.To(isz))
	default:
		ins(b, "movzx %s, %s", r, r.To(isz))
	}
	if esize != 1 {
		ins(b, "imul %s, %d", r, esize)
	}
	if a.index == "" {
		a.index = r.String()
		return a, nil
	}
	ins(b, "add %s, %s", a.index, r)
	_, _ = c.PopRegister()
	a.held--
	return a, nil
}

// load reads the scalar at an lvalue into a register, or hands the memory
// operand back inline when it needs no registers.
func (c *Context) load(n *ast.Node) (asm.Result, error) {
	t := n.Typ
	if t.IsArray() {
		return c.decay(n)
	}
	if !t.IsScalar() {
		return asm.Result{}, newError(TypeMismatch, n, "value of type %s cannot be held in a register", t)
	}
	r, err := c.dest(t)
	if err != nil {
		return asm.Result{}, wrap(Internal, n, err)
	}
	pushed := c.hold(r)
	defer c.unhold(pushed)

	var hint register.Register
	if !r.IsFloat() {
		hint = r.To(8)
	}
	var b strings.Builder
	a, err := c.locate(&b, n, hint)
	if err != nil {
		return asm.Result{}, err
	}
	size := regSize(t)
	if !a.inRegisters() {
		return asm.Inline(memory(size, a)), nil
	}
	move(&b, r, memory(size, a))
	c.release(a)
	return asm.MultilineResulted(b.String(), r), nil
}

// decay produces a pointer to the first element of an array lvalue.
func (c *Context) decay(n *ast.Node) (asm.Result, error) {
	res, err := c.lowerAddress(n)
	if err != nil || res.Kind() != asm.KindInline {
		return res, err
	}
	r, err := c.dest(ast.NewPointer(n.Typ.Base))
	if err != nil {
		return asm.Result{}, wrap(Internal, n, err)
	}
	var b strings.Builder
	ins(&b, "lea %s, %s", r, res.Operand())
	return asm.MultilineResulted(b.String(), r), nil
}

// lowerAddress produces the address of an lvalue: inline when it is a
// plain frame slot, in a 64-bit register otherwise.
func (c *Context) lowerAddress(n *ast.Node) (asm.Result, error) {
	r, err := c.dest(ast.NewPointer(n.Typ))
	if err != nil {
		return asm.Result{}, wrap(Internal, n, err)
	}
	pushed := c.hold(r)
	defer c.unhold(pushed)

	var b strings.Builder
	a, err := c.locate(&b, n, r)
	if err != nil {
		return asm.Result{}, err
	}
	if !a.inRegisters() {
		return asm.Inline(a.String()), nil
	}
	if a.base != r.String() || a.disp != 0 || a.index != "" {
		ins(&b, "lea %s, %s", r, a)
	}
	c.release(a)
	return asm.MultilineResulted(b.String(), r), nil
}
