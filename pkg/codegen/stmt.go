package codegen

import (
	"strconv"
	"strings"

	"github.com/xplshn/x64gen/pkg/abi"
	"github.com/xplshn/x64gen/pkg/asm"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/config"
	"github.com/xplshn/x64gen/pkg/matrix"
	"github.com/xplshn/x64gen/pkg/register"
)

// lowerBlock lowers a statement list. top marks the body of the method, where
// a trailing return falls through to the epilogue instead of jumping to it.
func (c *Context) lowerBlock(b *strings.Builder, stmts []*ast.Node, top bool) error {
	for i, s := range stmts {
		if c.feature(config.FeatAsmComments) {
			ins(b, "; %s", s)
		}
		if err := c.lowerStmt(b, s, top && i == len(stmts)-1); err != nil {
			return err
		}
		if s.Type == ast.Return && i < len(stmts)-1 {
			c.warn(config.WarnUnreachableCode, stmts[i+1], "unreachable code after return")
			break
		}
	}
	return nil
}

func (c *Context) lowerStmt(b *strings.Builder, n *ast.Node, last bool) error {
	switch d := n.Data.(type) {
	case ast.VarDeclNode:
		return c.lowerLet(b, n, d)
	case ast.AssignNode:
		return c.lowerAssign(b, n, d)
	case ast.ReturnNode:
		return c.lowerReturn(b, n, d, last)
	case ast.ExprStmtNode:
		return c.lowerExprStmt(b, d.Expr)
	case ast.IfNode:
		return c.lowerIf(b, d)
	case ast.WhileNode:
		return c.lowerWhile(b, d)
	case ast.BlockNode:
		restore := c.enterScope()
		defer restore()
		return c.lowerBlock(b, d.Stmts, last)
	}
	return newError(Internal, n, "cannot lower %s as a statement", n)
}

// into evaluates n into r and appends the code to b.
func (c *Context) into(b *strings.Builder, n *ast.Node, r register.Register) error {
	res, err := c.lowerExpr(n, Prepare{Reg: r})
	if err != nil {
		return err
	}
	_, err = c.emit(b, res, n, asm.KindMultilineResulted)
	return err
}

// storeConstant writes an integer constant straight into memory when it
// fits the instruction's immediate field.
func storeConstant(b *strings.Builder, n *ast.Node, t *ast.Type, a address) bool {
	if t.IsFloat() || !t.IsScalar() {
		return false
	}
	i, _, isFloat, ok := constant(n)
	if !ok || isFloat {
		return false
	}
	size := regSize(t)
	v := strconv.FormatInt(matrix.Fold(i, size, t.IsSigned()), 10)
	if !encodable(v, size) {
		return false
	}
	ins(b, "mov %s, %s", memory(size, a), v)
	return true
}

func (c *Context) lowerLet(b *strings.Builder, n *ast.Node, d ast.VarDeclNode) error {
	if err := c.declare(b, n, d); err != nil {
		return err
	}
	c.locals = append(c.locals, local{name: d.Name, offset: c.variables[d.Name].Offset, node: n})
	return nil
}

func (c *Context) declare(b *strings.Builder, n *ast.Node, d ast.VarDeclNode) error {
	t := d.Type
	switch {
	case t.IsVoid():
		return newError(TypeMismatch, n, "variable '%s' of type void", d.Name)
	case d.Init == nil:
		c.Allocate(d.Name, t)
		return nil
	case t.IsStruct():
		return c.initStruct(b, n, d)
	case t.IsArray():
		return newError(TypeMismatch, n, "array '%s' cannot be initialized from an expression", d.Name)
	}

	// The initializer sees the scope before the declaration.
	reg := accumulatorFor(t)
	_, _, _, isConst := constant(d.Init)
	if !isConst {
		if err := c.into(b, d.Init, reg); err != nil {
			return err
		}
	}
	v := c.Allocate(d.Name, t)
	slot := address{base: "rbp", disp: -v.Offset}
	if isConst {
		if storeConstant(b, d.Init, t, slot) {
			return nil
		}
		if err := c.into(b, d.Init, reg); err != nil {
			return err
		}
	}
	store(b, memory(reg.Size, slot), reg)
	return nil
}

func (c *Context) initStruct(b *strings.Builder, n *ast.Node, d ast.VarDeclNode) error {
	t := d.Type
	lit, isLit := d.Init.Data.(ast.StructLitNode)
	if !isLit {
		if !d.Init.Typ.Equal(t) {
			return newError(TypeMismatch, n, "cannot initialize %s from %s", t, d.Init.Typ)
		}
		src, err := c.locate(b, d.Init, register.Register{})
		if err != nil {
			return err
		}
		v := c.Allocate(d.Name, t)
		copyBytes(b, address{base: "rbp", disp: -v.Offset}, src, t.Size())
		c.release(src)
		return nil
	}

	if label, ok := c.data.StructLiteral(t, lit.Fields); ok {
		v := c.Allocate(d.Name, t)
		copyBytes(b, address{base: "rbp", disp: -v.Offset}, address{base: "rel " + label}, t.Size())
		return nil
	}

	v := c.Allocate(d.Name, t)
	base := address{base: "rbp", disp: -v.Offset}
	zeroBytes(b, base, t.Size())
	for _, f := range lit.Fields {
		field, ok := t.Field(f.Name)
		if !ok {
			return newError(TypeMismatch, f.Value, "%s has no field '%s'", t, f.Name)
		}
		if !field.Type.IsScalar() {
			return newError(TypeMismatch, f.Value, "field '%s' of type %s needs a constant initializer", f.Name, field.Type)
		}
		at := base
		at.disp += field.Offset
		if storeConstant(b, f.Value, field.Type, at) {
			continue
		}
		reg := accumulatorFor(field.Type)
		if err := c.into(b, f.Value, reg); err != nil {
			return err
		}
		store(b, memory(reg.Size, at), reg)
	}
	return nil
}

// chunk is the widest move that fits in the remaining bytes.
func chunk(rest int64) int {
	switch {
	case rest >= 8:
		return 8
	case rest >= 4:
		return 4
	case rest >= 2:
		return 2
	}
	return 1
}

// copyBytes copies size bytes between two addresses through the scratch
// register.
func copyBytes(b *strings.Builder, dst, src address, size int64) {
	for off := int64(0); off < size; {
		n := chunk(size - off)
		s, d := src, dst
		s.disp += off
		d.disp += off
		ins(b, "mov %s, %s", register.Scratch.To(n), memory(n, s))
		ins(b, "mov %s, %s", memory(n, d), register.Scratch.To(n))
		off += int64(n)
	}
}

func zeroBytes(b *strings.Builder, dst address, size int64) {
	for off := int64(0); off < size; {
		n := chunk(size - off)
		d := dst
		d.disp += off
		ins(b, "mov %s, 0", memory(n, d))
		off += int64(n)
	}
}

func (c *Context) lowerAssign(b *strings.Builder, n *ast.Node, d ast.AssignNode) error {
	t := d.Lhs.Typ
	switch {
	case !addressable(d.Lhs):
		return newError(TypeMismatch, n, "cannot assign to %s", d.Lhs)
	case t.IsStruct():
		return c.assignStruct(b, n, d)
	case t.IsArray():
		return newError(TypeMismatch, n, "cannot assign to array %s", d.Lhs)
	}

	if id, ok := d.Lhs.Data.(ast.IdentNode); ok {
		v, found := c.Lookup(id.Name)
		if !found {
			return newError(Resolution, d.Lhs, "undefined variable '%s'", id.Name)
		}
		if storeConstant(b, d.Rhs, t, address{base: "rbp", disp: -v.Offset}) {
			return nil
		}
	}

	reg := accumulatorFor(t)
	if err := c.into(b, d.Rhs, reg); err != nil {
		return err
	}
	c.PushRegister(reg)
	a, err := c.locate(b, d.Lhs, register.Register{})
	if err != nil {
		return err
	}
	store(b, memory(reg.Size, a), reg)
	c.release(a)
	_, _ = c.PopRegister()
	return nil
}

func (c *Context) assignStruct(b *strings.Builder, n *ast.Node, d ast.AssignNode) error {
	t := d.Lhs.Typ
	var src address
	if lit, ok := d.Rhs.Data.(ast.StructLitNode); ok {
		label, ok := c.data.StructLiteral(t, lit.Fields)
		if !ok {
			return newError(TypeMismatch, d.Rhs, "struct literal in assignment must be constant")
		}
		src = address{base: "rel " + label}
	} else {
		if !d.Rhs.Typ.Equal(t) {
			return newError(TypeMismatch, n, "cannot assign %s to %s", d.Rhs.Typ, t)
		}
		var err error
		if src, err = c.locate(b, d.Rhs, register.Register{}); err != nil {
			return err
		}
	}
	dst, err := c.locate(b, d.Lhs, register.Register{})
	if err != nil {
		return err
	}
	copyBytes(b, dst, src, t.Size())
	c.release(dst)
	c.release(src)
	return nil
}

func (c *Context) lowerReturn(b *strings.Builder, n *ast.Node, d ast.ReturnNode, last bool) error {
	ret := c.sig.Return
	switch {
	case d.Expr != nil && ret.IsVoid():
		return newError(TypeMismatch, n, "'%s' returns no value", c.sig.Name)
	case d.Expr == nil && !ret.IsVoid():
		return newError(TypeMismatch, n, "'%s' must return %s", c.sig.Name, ret)
	case d.Expr != nil:
		reg, _ := abi.ReturnRegister(ret)
		if err := c.into(b, d.Expr, reg); err != nil {
			return err
		}
	}
	if !last {
		ins(b, "jmp %s", c.retLabel)
	}
	return nil
}

func (c *Context) lowerExprStmt(b *strings.Builder, e *ast.Node) error {
	if e.Typ.IsVoid() || e.Typ.IsStruct() {
		res, err := c.lowerExpr(e, Value{})
		if err != nil {
			return err
		}
		_, err = c.emit(b, res, e, asm.KindMultiline, asm.KindMultilineResulted, asm.KindInline)
		return err
	}
	return c.into(b, e, accumulatorFor(e.Typ))
}

// condition evaluates a bool into al and sets the flags from it.
func (c *Context) condition(b *strings.Builder, n *ast.Node) error {
	if n.Typ == nil || n.Typ.Kind != ast.TYPE_BOOL {
		return newError(TypeMismatch, n, "condition of type %s, expected bool", n.Typ)
	}
	al := register.Accumulator.To(1)
	if err := c.into(b, n, al); err != nil {
		return err
	}
	ins(b, "test %s, %s", al, al)
	return nil
}

func (c *Context) lowerIf(b *strings.Builder, d ast.IfNode) error {
	if err := c.condition(b, d.Cond); err != nil {
		return err
	}
	end := c.newLabel()
	if d.ElseBody == nil {
		ins(b, "je %s", end)
		if err := c.lowerStmt(b, d.ThenBody, false); err != nil {
			return err
		}
		emitLabel(b, end)
		return nil
	}
	other := c.newLabel()
	ins(b, "je %s", other)
	if err := c.lowerStmt(b, d.ThenBody, false); err != nil {
		return err
	}
	ins(b, "jmp %s", end)
	emitLabel(b, other)
	if err := c.lowerStmt(b, d.ElseBody, false); err != nil {
		return err
	}
	emitLabel(b, end)
	return nil
}

func (c *Context) lowerWhile(b *strings.Builder, d ast.WhileNode) error {
	cond, end := c.newLabel(), c.newLabel()
	emitLabel(b, cond)
	if err := c.condition(b, d.Cond); err != nil {
		return err
	}
	ins(b, "je %s", end)
	if err := c.lowerStmt(b, d.Body, false); err != nil {
		return err
	}
	ins(b, "jmp %s", cond)
	emitLabel(b, end)
	return nil
}
