package codegen

import (
	"strings"

	"github.com/samber/lo"
	"github.com/xplshn/x64gen/pkg/abi"
	"github.com/xplshn/x64gen/pkg/asm"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/register"
)

func stackSlot(i int) address { return address{base: "rsp", disp: int64(i) * abi.SlotSize} }

// accumulatorFor is the register statements and call arguments evaluate
// values of type t into.
func accumulatorFor(t *ast.Type) register.Register {
	if t.IsFloat() {
		return register.FloatReturn.To(regSize(t))
	}
	return register.Accumulator.To(regSize(t))
}

// lowerCall saves the live caller-saved registers, reserves an aligned
// argument area, stages every argument in its slot, loads the lanes and
// calls. The result lands in the destination register.
func (c *Context) lowerCall(n *ast.Node, d ast.FuncCallNode) (asm.Result, error) {
	argTypes := lo.Map(d.Args, func(a *ast.Node, _ int) *ast.Type { return a.Typ })
	sig, err := c.table.Lookup(d.Name, argTypes)
	if err != nil {
		return asm.Result{}, wrap(Resolution, n, err)
	}
	if i := lo.IndexOf(lo.Map(argTypes, func(t *ast.Type, _ int) bool { return t.IsStruct() }), true); i >= 0 {
		return asm.Result{}, newError(TypeMismatch, d.Args[i], "struct arguments must be passed by pointer")
	}
	if sig.Return.IsStruct() {
		return asm.Result{}, newError(TypeMismatch, n, "'%s' returns a struct by value", sig.Name)
	}
	types := sig.ArgTypes(argTypes)
	slots, err := abi.Resolve(types, sig.Extern)
	if err != nil {
		return asm.Result{}, wrap(TypeMismatch, n, err)
	}

	var dest register.Register
	var keep []register.Family
	hasResult := !sig.Return.IsVoid()
	if hasResult {
		if dest, err = c.dest(sig.Return); err != nil {
			return asm.Result{}, wrap(Internal, n, err)
		}
		keep = append(keep, dest.Family)
	}

	var b strings.Builder
	saved := c.liveVolatile(keep...)
	for _, r := range saved {
		c.emitPush(&b, r)
	}
	area := abi.ArgumentArea(len(types), c.shadowSpace())
	if align := c.stackAlignment(); (c.depth+area)%align != 0 {
		area += align - (c.depth+area)%align
	}
	ins(&b, "sub rsp, %d", area)
	c.depth += area

	for i, arg := range d.Args {
		reg := accumulatorFor(arg.Typ)
		res, err := c.lowerExpr(arg, Prepare{Reg: reg})
		if err != nil {
			return asm.Result{}, err
		}
		if _, err := c.emit(&b, res, arg, asm.KindMultilineResulted); err != nil {
			return asm.Result{}, err
		}
		if t := types[i]; t.IsFloat() && regSize(t) != reg.Size {
			ins(&b, "cvtss2sd %s, %s", reg, reg)
			reg = reg.To(regSize(t))
		}
		store(&b, memory(reg.Size, stackSlot(i)), reg)
	}

	for i, s := range slots {
		if s.Kind != abi.InRegister {
			continue
		}
		move(&b, s.Reg, memory(s.Reg.Size, stackSlot(i)))
		if s.HasPair {
			ins(&b, "mov %s, %s", s.Pair, memory(8, stackSlot(i)))
		}
	}
	ins(&b, "call %s", sig.Mangle())

	if hasResult {
		ret, _ := abi.ReturnRegister(sig.Return)
		moveReg(&b, dest, ret)
	}
	ins(&b, "add rsp, %d", area)
	c.depth -= area
	for i := len(saved) - 1; i >= 0; i-- {
		c.emitPop(&b, saved[i])
	}

	if !hasResult {
		return asm.Multiline(b.String()), nil
	}
	return asm.MultilineResulted(b.String(), dest), nil
}
