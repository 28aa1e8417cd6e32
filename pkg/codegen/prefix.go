package codegen

import (
	"fmt"
	"strings"

	"github.com/xplshn/x64gen/pkg/asm"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/config"
	"github.com/xplshn/x64gen/pkg/matrix"
	"github.com/xplshn/x64gen/pkg/register"
	"github.com/xplshn/x64gen/pkg/token"
)

func addressable(n *ast.Node) bool {
	switch n.Data.(type) {
	case ast.IdentNode, ast.SubscriptNode, ast.MemberAccessNode, ast.IndirectionNode:
		return true
	}
	return false
}

func (c *Context) lowerAddressOf(n *ast.Node, d ast.AddressOfNode) (asm.Result, error) {
	x := d.LValue
	r, err := c.dest(n.Typ)
	if err != nil {
		return asm.Result{}, wrap(Internal, n, err)
	}
	if _, ok := x.Data.(ast.IndirectionNode); ok {
		res, err := c.lowerExpr(x, Nested{})
		if err != nil {
			return asm.Result{}, err
		}
		return settle(res, r), nil
	}
	pushed := c.hold(r)
	defer c.unhold(pushed)

	var b strings.Builder
	if addressable(x) {
		res, err := c.lowerExpr(x, Lvalue{})
		if err != nil {
			return asm.Result{}, err
		}
		op, err := res.ApplyWith(&b).Allow(asm.KindInline, asm.KindMultilineResulted).For(x).Finish()
		if err != nil {
			return asm.Result{}, wrap(Internal, x, err)
		}
		switch {
		case res.Kind() == asm.KindInline:
			ins(&b, "lea %s, %s", r, op)
		case op != r.String():
			ins(&b, "mov %s, %s", r, op)
		}
		return asm.MultilineResulted(b.String(), r), nil
	}

	// Not in memory: spill the value into an anonymous slot and take its address.
	if !x.Typ.IsScalar() {
		return asm.Result{}, newError(TypeMismatch, n, "cannot take the address of %s", x)
	}
	size := regSize(x.Typ)
	off := c.Reserve(int64(size), x.Typ.Align())
	tmp := r.To(size)
	if x.Typ.IsFloat() {
		if tmp, err = c.FreeRegister(true, size); err != nil {
			return asm.Result{}, wrap(Internal, x, err)
		}
	}
	res, err := c.lowerExpr(x, Prepare{Reg: tmp})
	if err != nil {
		return asm.Result{}, err
	}
	if _, err := res.ApplyWith(&b).Allow(asm.KindMultilineResulted).For(x).Finish(); err != nil {
		return asm.Result{}, wrap(Internal, x, err)
	}
	slot := address{base: "rbp", disp: -off}
	store(&b, memory(size, slot), tmp)
	ins(&b, "lea %s, %s", r, slot)
	return asm.MultilineResulted(b.String(), r), nil
}

func (c *Context) lowerCast(n *ast.Node, d ast.TypeCastNode) (asm.Result, error) {
	from, to := d.Expr.Typ, d.TargetType
	if matrix.Key(from) != "" && matrix.Key(from) == matrix.Key(to) {
		return c.lower(d.Expr, Value{})
	}
	if !to.IsScalar() || !(from.IsScalar() || from.IsArray()) {
		return asm.Result{}, newError(TypeMismatch, n, "cannot cast %s to %s", from, to)
	}
	entry, err := c.matrix.Lookup(matrix.Key(from), matrix.Key(to))
	if err != nil {
		return asm.Result{}, wrap(TypeMismatch, n, err)
	}

	dst, err := c.dest(to)
	if err != nil {
		return asm.Result{}, wrap(Internal, n, err)
	}
	pushed := c.hold(dst)
	defer c.unhold(pushed)

	src := dst.To(regSize(from))
	if from.IsFloat() != dst.IsFloat() {
		if src, err = c.FreeRegister(from.IsFloat(), regSize(from)); err != nil {
			return asm.Result{}, wrap(Internal, n, err)
		}
	}
	c.PushRegister(src)
	inner, err := c.lower(d.Expr, Value{})
	_, _ = c.PopRegister()
	if err != nil {
		return asm.Result{}, err
	}

	var operand matrix.Operand
	switch inner.Kind() {
	case asm.KindInline:
		if v, ok := immediate(inner.Operand()); ok {
			operand = matrix.ImmOperand(v)
		} else if _, addr, ok := splitMemory(inner.Operand()); ok {
			operand = matrix.MemOperand(regSize(from), addr)
		} else {
			return asm.Result{}, newError(Internal, d.Expr, "unrecognised operand %q", inner.Operand())
		}
	case asm.KindMultilineResulted:
		r, _ := inner.Register()
		operand = matrix.RegOperand(r)
	default:
		return asm.Result{}, wrap(Internal, d.Expr, &asm.UnexpectedVariance{
			Expected: []asm.Kind{asm.KindInline, asm.KindMultilineResulted}, Actual: inner.Kind(), Node: d.Expr,
		})
	}

	res, err := c.matrix.CastFromTo(from, to, operand, dst)
	if err != nil {
		return asm.Result{}, wrap(TypeMismatch, n, err)
	}
	switch entry.Kind {
	case matrix.CastFloatFloat, matrix.CastIntToFloat, matrix.CastFloatToInt:
		c.touch(register.FloatScratch.Family)
	}
	c.castWarnings(n, from, to)
	if inner.Text() != "" {
		res = res.Prepend(inner.Text())
	}
	return res, nil
}

func (c *Context) castWarnings(n *ast.Node, from, to *ast.Type) {
	fs, ts := regSize(from), regSize(to)
	switch {
	case from.IsFloat() && to.IsFloat():
		if ts < fs {
			c.warn(config.WarnFloatPrecision, n, "conversion from %s to %s loses precision", from, to)
		}
	case from.IsFloat():
		c.warn(config.WarnNarrowing, n, "conversion from %s to %s discards the fraction", from, to)
	case to.IsFloat():
		if fs >= ts {
			c.warn(config.WarnFloatPrecision, n, "conversion from %s to %s may lose precision", from, to)
		}
	case ts < fs:
		c.warn(config.WarnNarrowing, n, "cast from %s to %s truncates the value", from, to)
	}
}

func (c *Context) lowerUnary(n *ast.Node, d ast.UnaryOpNode) (asm.Result, error) {
	t := n.Typ
	switch d.Op {
	case token.Minus:
		if !t.IsInteger() && !t.IsFloat() {
			return asm.Result{}, newError(TypeMismatch, n, "cannot negate %s", t)
		}
		if i, f, isFloat, ok := constant(n); ok {
			if t.IsFloat() {
				if !isFloat {
					f = float64(i)
				}
				size := regSize(t)
				return asm.Inline(fmt.Sprintf("%s [rel %s]", register.SizeKeyword(size), c.data.Float(f, size))), nil
			}
			if !isFloat {
				return c.lowerNumber(n, i)
			}
		}
	case token.Not:
		if t.Kind != ast.TYPE_BOOL || d.Expr.Typ.Kind != ast.TYPE_BOOL {
			return asm.Result{}, newError(TypeMismatch, n, "'!' needs a bool operand, got %s", d.Expr.Typ)
		}
		if v, ok := d.Expr.Data.(ast.BoolNode); ok {
			if v.Value {
				return asm.Inline("0"), nil
			}
			return asm.Inline("1"), nil
		}
	case token.Complement:
		if !t.IsInteger() {
			return asm.Result{}, newError(TypeMismatch, n, "'~' needs an integer operand, got %s", t)
		}
		if v, ok := d.Expr.Data.(ast.NumberNode); ok {
			return c.lowerNumber(n, ^v.Value)
		}
	default:
		return asm.Result{}, newError(TypeMismatch, n, "unknown prefix operator '%s'", d.Op)
	}

	r, err := c.dest(t)
	if err != nil {
		return asm.Result{}, wrap(Internal, n, err)
	}
	var b strings.Builder
	res, err := c.lowerExpr(d.Expr, Prepare{Reg: r})
	if err != nil {
		return asm.Result{}, err
	}
	if _, err := res.ApplyWith(&b).Allow(asm.KindMultilineResulted).For(d.Expr).Finish(); err != nil {
		return asm.Result{}, wrap(Internal, d.Expr, err)
	}
	switch {
	case d.Op == token.Not:
		ins(&b, "xor %s, 1", r)
	case d.Op == token.Complement:
		ins(&b, "not %s", r)
	case r.IsFloat():
		x := register.FloatScratch
		c.touch(x.Family)
		sfx := "sd"
		if r.Size == 4 {
			sfx = "ss"
		}
		ins(&b, "xorps %s, %s", x, x)
		ins(&b, "sub%s %s, %s", sfx, x, r)
		ins(&b, "mov%s %s, %s", sfx, r, x)
	default:
		ins(&b, "neg %s", r)
	}
	return asm.MultilineResulted(b.String(), r), nil
}
