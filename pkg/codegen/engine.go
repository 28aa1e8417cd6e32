package codegen

import (
	"strings"

	"github.com/charmbracelet/log"
	"github.com/xplshn/x64gen/pkg/asm"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/config"
	"github.com/xplshn/x64gen/pkg/matrix"
	"github.com/xplshn/x64gen/pkg/register"
)

// binOp is one operator application being lowered. work holds the left
// operand and has the operand class; dest receives the result and has the
// result class. They are the same family unless a float comparison produces
// a bool.
type binOp struct {
	node  *ast.Node
	left  *ast.Node
	right *ast.Node
	entry matrix.OperationEntry
	dest  register.Register
	work  register.Register
}

func (c *Context) lowerBinary(n *ast.Node, d ast.BinaryOpNode) (asm.Result, error) {
	lt, rt := d.Left.Typ, d.Right.Typ
	if ls, rs := regSize(lt), regSize(rt); ls != rs || ls == 0 {
		return asm.Result{}, newError(TypeMismatch, n, "operand sizes differ: %s is %d bytes, %s is %d bytes", lt, ls, rt, rs)
	}
	entry, err := c.matrix.Operation(lt, d.Op, rt)
	if err != nil {
		return asm.Result{}, wrap(TypeMismatch, n, err)
	}

	dest, err := c.dest(c.matrix.ResultType(lt, entry))
	if err != nil {
		return asm.Result{}, wrap(Internal, n, err)
	}
	pushed := c.hold(dest)
	defer c.unhold(pushed)

	float, size := lt.IsFloat(), regSize(lt)
	work := dest.To(size)
	if dest.IsFloat() != float {
		if work, err = c.FreeRegister(float, size); err != nil {
			return asm.Result{}, wrap(Internal, n, err)
		}
	}
	op := &binOp{node: n, left: d.Left, right: d.Right, entry: entry, dest: dest, work: work}

	switch leftLeaf, rightLeaf := ast.IsLeaf(d.Left), ast.IsLeaf(d.Right); {
	case rightLeaf:
		return c.leftThenLeaf(op)
	case leftLeaf:
		return c.leafThenComposite(op)
	}
	if c.feature(config.FeatFastPath) {
		if res, ok, err := c.fastPath(op); ok || err != nil {
			return res, err
		}
	}
	return c.spill(op)
}

// scratchFor is the staging register of a class, used when the pool is empty.
func (c *Context) scratchFor(float bool, size int) register.Register {
	if float {
		c.touch(register.FloatScratch.Family)
		return register.FloatScratch.To(size)
	}
	return register.Scratch.To(size)
}

func (c *Context) emit(b *strings.Builder, res asm.Result, n *ast.Node, kinds ...asm.Kind) (string, error) {
	op, err := res.ApplyWith(b).Allow(kinds...).For(n).Finish()
	return op, wrap(Internal, n, err)
}

// leftThenLeaf covers leaf/leaf and composite/leaf: the left side goes into
// work, the right leaf is lowered as a value into a second register that is
// reserved before anything is emitted.
func (c *Context) leftThenLeaf(op *binOp) (asm.Result, error) {
	var b strings.Builder
	float, size := op.work.IsFloat(), op.work.Size

	c.PushRegister(op.work)
	second, err := c.freeRegister(float, size, false)
	if err != nil {
		log.Debug("register pool exhausted, using scratch", "node", op.node, "method", c.methodID)
		second = c.scratchFor(float, size)
	}

	res, err := c.lowerExpr(op.left, Prepare{Reg: op.work})
	if err != nil {
		return asm.Result{}, err
	}
	if _, err := c.emit(&b, res, op.left, asm.KindMultilineResulted); err != nil {
		return asm.Result{}, err
	}

	c.PushRegister(second)
	res, err = c.lowerExpr(op.right, Value{})
	if err != nil {
		return asm.Result{}, err
	}
	operand, err := c.emit(&b, res, op.right, asm.KindInline, asm.KindMultilineResulted)
	if err != nil {
		return asm.Result{}, err
	}
	if res.Kind() == asm.KindMultilineResulted {
		c.touch(second.Family)
	}
	_, _ = c.PopRegister()
	_, _ = c.PopRegister()

	out, err := c.apply(&b, op.node, op.entry, op.work, op.dest, operand)
	if err != nil {
		return asm.Result{}, err
	}
	return asm.MultilineResulted(b.String(), out), nil
}

// leafThenComposite lowers the leaf into work and keeps it reserved while
// the composite side recurses into a second register. Without a second
// register it falls back to spilling.
func (c *Context) leafThenComposite(op *binOp) (asm.Result, error) {
	var b strings.Builder
	float, size := op.work.IsFloat(), op.work.Size

	c.PushRegister(op.work)
	second, err := c.FreeRegister(float, size)
	if err != nil {
		_, _ = c.PopRegister()
		log.Debug("no register for composite operand, spilling", "node", op.node, "method", c.methodID)
		return c.spill(op)
	}

	res, err := c.lowerExpr(op.left, Prepare{Reg: op.work})
	if err != nil {
		return asm.Result{}, err
	}
	if _, err := c.emit(&b, res, op.left, asm.KindMultilineResulted); err != nil {
		return asm.Result{}, err
	}

	c.PushRegister(second)
	res, err = c.lowerExpr(op.right, Prepare{Reg: second})
	if err != nil {
		return asm.Result{}, err
	}
	operand, err := c.emit(&b, res, op.right, asm.KindMultilineResulted)
	if err != nil {
		return asm.Result{}, err
	}
	_, _ = c.PopRegister()
	_, _ = c.PopRegister()

	out, err := c.apply(&b, op.node, op.entry, op.work, op.dest, operand)
	if err != nil {
		return asm.Result{}, err
	}
	return asm.MultilineResulted(b.String(), out), nil
}

// spill evaluates both composite sides into work, parking the left value on
// the machine stack while the right one is computed.
func (c *Context) spill(op *binOp) (asm.Result, error) {
	var b strings.Builder
	float, size := op.work.IsFloat(), op.work.Size

	c.PushRegister(op.work)
	res, err := c.lowerExpr(op.left, Prepare{Reg: op.work})
	if err != nil {
		return asm.Result{}, err
	}
	if _, err := c.emit(&b, res, op.left, asm.KindMultilineResulted); err != nil {
		return asm.Result{}, err
	}
	c.emitPush(&b, op.work)
	zero(&b, op.work)

	res, err = c.lowerExpr(op.right, Prepare{Reg: op.work})
	if err != nil {
		return asm.Result{}, err
	}
	if _, err := c.emit(&b, res, op.right, asm.KindMultilineResulted); err != nil {
		return asm.Result{}, err
	}
	c.emitPush(&b, op.work)

	second, err := c.FreeRegister(float, size)
	if err != nil {
		second = c.scratchFor(float, size)
	}
	c.emitPop(&b, second)
	c.emitPop(&b, op.work)
	_, _ = c.PopRegister()
	log.Debug("spilled left operand", "node", op.node, "method", c.methodID, "second", second)

	out, err := c.apply(&b, op.node, op.entry, op.work, op.dest, second.String())
	if err != nil {
		return asm.Result{}, err
	}
	return asm.MultilineResulted(b.String(), out), nil
}

func simpleFamily(f matrix.OpFamily) bool {
	switch f {
	case matrix.OpArith, matrix.OpLogical, matrix.OpFloatArith, matrix.OpMul:
		return true
	}
	return false
}

// fastPath evaluates (a op b) op (c op d) into four registers without
// touching the machine stack. ok is false when the shape does not match or
// fewer than four registers are free; nothing has been emitted then.
func (c *Context) fastPath(op *binOp) (asm.Result, bool, error) {
	ld, lok := op.left.Data.(ast.BinaryOpNode)
	rd, rok := op.right.Data.(ast.BinaryOpNode)
	if !lok || !rok {
		return asm.Result{}, false, nil
	}
	float, size := op.work.IsFloat(), op.work.Size
	leaves := []*ast.Node{ld.Left, ld.Right, rd.Left, rd.Right}
	for _, leaf := range leaves {
		if !ast.IsLeaf(leaf) || leaf.Typ.IsFloat() != float || regSize(leaf.Typ) != size {
			return asm.Result{}, false, nil
		}
	}
	le, err := c.matrix.Operation(ld.Left.Typ, ld.Op, ld.Right.Typ)
	if err != nil || !simpleFamily(le.Family) {
		return asm.Result{}, false, nil
	}
	re, err := c.matrix.Operation(rd.Left.Typ, rd.Op, rd.Right.Typ)
	if err != nil || !simpleFamily(re.Family) {
		return asm.Result{}, false, nil
	}

	regs := []register.Register{op.work}
	c.PushRegister(op.work)
	for len(regs) < 4 {
		r, err := c.FreeRegister(float, size)
		if err != nil {
			for range regs {
				_, _ = c.PopRegister()
			}
			log.Debug("fast path needs four registers, falling back", "node", op.node, "method", c.methodID)
			return asm.Result{}, false, nil
		}
		c.PushRegister(r)
		regs = append(regs, r)
	}

	var b strings.Builder
	for i, leaf := range leaves {
		res, err := c.lowerExpr(leaf, Prepare{Reg: regs[i]})
		if err != nil {
			return asm.Result{}, true, err
		}
		if _, err := c.emit(&b, res, leaf, asm.KindMultilineResulted); err != nil {
			return asm.Result{}, true, err
		}
	}
	for range regs {
		_, _ = c.PopRegister()
	}

	if _, err := c.apply(&b, op.left, le, regs[0], regs[0], regs[1].String()); err != nil {
		return asm.Result{}, true, err
	}
	if _, err := c.apply(&b, op.right, re, regs[2], regs[2], regs[3].String()); err != nil {
		return asm.Result{}, true, err
	}
	out, err := c.apply(&b, op.node, op.entry, op.work, op.dest, regs[2].String())
	if err != nil {
		return asm.Result{}, true, err
	}
	return asm.MultilineResulted(b.String(), out), true, nil
}
