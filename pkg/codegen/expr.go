package codegen

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xplshn/x64gen/pkg/asm"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/matrix"
	"github.com/xplshn/x64gen/pkg/register"
)

// LowerExpr lowers the expression n under opt.
func (c *Context) LowerExpr(n *ast.Node, opt Option) (asm.Result, error) {
	return c.lowerExpr(n, opt)
}

func (c *Context) lowerExpr(n *ast.Node, opt Option) (asm.Result, error) {
	switch o := opt.(type) {
	case Prepare:
		if !o.Reg.Valid() {
			return asm.Result{}, newError(Internal, n, "prepare register %v is not a valid register", o.Reg)
		}
		c.PushRegister(o.Reg)
		res, err := c.lower(n, o)
		if _, perr := c.PopRegister(); err == nil {
			err = perr
		}
		if err != nil {
			return asm.Result{}, err
		}
		return settle(res, o.Reg), nil
	case Value, Lvalue, Nested:
		return c.lower(n, opt)
	default:
		return asm.Result{}, newError(Internal, n, "unknown lowering option %T", opt)
	}
}

func (c *Context) lower(n *ast.Node, opt Option) (asm.Result, error) {
	if n == nil {
		return asm.Result{}, newError(Internal, nil, "missing expression")
	}
	if _, ok := opt.(Lvalue); ok {
		return c.lowerAddress(n)
	}

	switch d := n.Data.(type) {
	case ast.NumberNode:
		return c.lowerNumber(n, d.Value)
	case ast.FloatNode:
		size := regSize(n.Typ)
		return asm.Inline(fmt.Sprintf("%s [rel %s]", register.SizeKeyword(size), c.data.Float(d.Value, size))), nil
	case ast.BoolNode:
		if d.Value {
			return asm.Inline("1"), nil
		}
		return asm.Inline("0"), nil
	case ast.StringNode:
		r, err := c.dest(n.Typ)
		if err != nil {
			return asm.Result{}, wrap(Internal, n, err)
		}
		var b strings.Builder
		ins(&b, "lea %s, [rel %s]", r, c.data.StringLiteral(d.Value))
		return asm.MultilineResulted(b.String(), r), nil
	case ast.IdentNode:
		return c.lowerIdent(n, d.Name)
	case ast.SubscriptNode, ast.MemberAccessNode:
		return c.load(n)
	case ast.IndirectionNode:
		if _, ok := opt.(Nested); ok {
			return c.lowerAddress(n)
		}
		return c.load(n)
	case ast.AddressOfNode:
		return c.lowerAddressOf(n, d)
	case ast.TypeCastNode:
		return c.lowerCast(n, d)
	case ast.UnaryOpNode:
		return c.lowerUnary(n, d)
	case ast.BinaryOpNode:
		return c.lowerBinary(n, d)
	case ast.FuncCallNode:
		return c.lowerCall(n, d)
	case ast.StructLitNode:
		return asm.Result{}, newError(TypeMismatch, n, "struct literals are only allowed as initializers")
	}
	return asm.Result{}, newError(Internal, n, "cannot lower %s as an expression", n)
}

func (c *Context) lowerNumber(n *ast.Node, v int64) (asm.Result, error) {
	if n.Typ.IsFloat() {
		size := regSize(n.Typ)
		return asm.Inline(fmt.Sprintf("%s [rel %s]", register.SizeKeyword(size), c.data.Float(float64(v), size))), nil
	}
	size := regSize(n.Typ)
	if size == 0 {
		return asm.Result{}, newError(TypeMismatch, n, "integer literal of type %s", n.Typ)
	}
	return asm.Inline(strconv.FormatInt(matrix.Fold(v, size, n.Typ.IsSigned()), 10)), nil
}

func (c *Context) lowerIdent(n *ast.Node, name string) (asm.Result, error) {
	v, ok := c.Lookup(name)
	if !ok {
		return asm.Result{}, newError(Resolution, n, "undefined variable '%s'", name)
	}
	switch {
	case v.Type.IsArray():
		r, err := c.dest(v.Type)
		if err != nil {
			return asm.Result{}, wrap(Internal, n, err)
		}
		var b strings.Builder
		ins(&b, "lea %s, [rbp - %d]", r, v.Offset)
		return asm.MultilineResulted(b.String(), r), nil
	case !v.Type.IsScalar():
		return asm.Result{}, newError(TypeMismatch, n, "'%s' of type %s cannot be used as a value", name, v.Type)
	}
	return asm.Inline(memory(regSize(v.Type), address{base: "rbp", disp: -v.Offset})), nil
}

// regSize is the width of the register a value of t occupies.
func regSize(t *ast.Type) int {
	if t.IsArray() || t.IsPointer() {
		return 8
	}
	return int(t.Size())
}

// dest picks the register a value of type t is produced in: the top of the
// register stack when its class fits, a free register otherwise.
func (c *Context) dest(t *ast.Type) (register.Register, error) {
	float, size := t.IsFloat(), regSize(t)
	if top, err := c.LastRegister(); err == nil && top.IsFloat() == float {
		return top.To(size), nil
	}
	return c.FreeRegister(float, size)
}

// hold pushes r unless its family is already on the register stack.
func (c *Context) hold(r register.Register) bool {
	if c.inUse(r.Family) {
		return false
	}
	c.PushRegister(r)
	return true
}

func (c *Context) unhold(pushed bool) {
	if pushed {
		_, _ = c.PopRegister()
	}
}

// settle moves a result into reg.
func settle(res asm.Result, reg register.Register) asm.Result {
	switch res.Kind() {
	case asm.KindInline:
		var b strings.Builder
		move(&b, reg, res.Operand())
		return asm.MultilineResulted(b.String(), reg)
	case asm.KindMultilineResulted:
		got, _ := res.Register()
		if got.Same(reg) {
			return res
		}
		var b strings.Builder
		moveReg(&b, reg, got.To(reg.Size))
		return asm.MultilineResulted(b.String(), reg).Prepend(res.Text())
	}
	return res
}

func floatMove(size int) string {
	if size == 4 {
		return "movss"
	}
	return "movsd"
}

// move loads an inline operand into dst.
func move(b *strings.Builder, dst register.Register, operand string) {
	if dst.IsFloat() {
		ins(b, "%s %s, %s", floatMove(dst.Size), dst, operand)
		return
	}
	ins(b, "mov %s, %s", dst, operand)
}

func moveReg(b *strings.Builder, dst, src register.Register) {
	switch {
	case dst.Same(src):
	case dst.IsFloat() && src.IsFloat():
		ins(b, "%s %s, %s", floatMove(dst.Size), dst, src)
	case dst.IsFloat():
		ins(b, "movq %s, %s", dst, src.To(8))
	case src.IsFloat():
		ins(b, "movq %s, %s", dst.To(8), src)
	default:
		ins(b, "mov %s, %s", dst, src)
	}
}

// store writes src into a memory operand.
func store(b *strings.Builder, mem string, src register.Register) {
	if src.IsFloat() {
		ins(b, "%s %s, %s", floatMove(src.Size), mem, src)
		return
	}
	ins(b, "mov %s, %s", mem, src)
}

// immediate reports whether an inline operand is an integer constant.
func immediate(operand string) (int64, bool) {
	v, err := strconv.ParseInt(operand, 10, 64)
	return v, err == nil
}

// encodable reports whether an operand can be used as the source of a
// two-operand instruction of the given width.
func encodable(operand string, size int) bool {
	v, ok := immediate(operand)
	return !ok || size < 8 || (v >= math.MinInt32 && v <= math.MaxInt32)
}

// splitMemory separates a sized memory operand into keyword and address.
func splitMemory(operand string) (string, string, bool) {
	kw, addr, ok := strings.Cut(operand, " ")
	if !ok || !strings.HasPrefix(addr, "[") {
		return "", "", false
	}
	return kw, addr, true
}
