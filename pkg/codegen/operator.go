package codegen

import (
	"strings"

	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/matrix"
	"github.com/xplshn/x64gen/pkg/register"
)

// apply emits work = work op operand and returns the register holding the
// result. Comparisons set dest instead.
func (c *Context) apply(b *strings.Builder, n *ast.Node, e matrix.OperationEntry, work, dest register.Register, operand string) (register.Register, error) {
	switch e.Family {
	case matrix.OpArith, matrix.OpLogical, matrix.OpFloatArith:
		ins(b, "%s %s, %s", e.Mnemonic, work, encoded(b, operand, work.Size))
		return work, nil
	case matrix.OpMul:
		return c.applyMul(b, work, operand), nil
	case matrix.OpUnsignedMul, matrix.OpDiv, matrix.OpRem:
		return c.applyAccumulator(b, e, work, operand), nil
	case matrix.OpShift:
		return c.applyShift(b, e, work, operand), nil
	case matrix.OpCompare, matrix.OpFloatCompare:
		if dest.IsFloat() {
			return register.Register{}, newError(Internal, n, "comparison result in float register %s", dest)
		}
		ins(b, "%s %s, %s", e.Mnemonic, work, encoded(b, operand, work.Size))
		ins(b, "%s %s", e.SetCC, dest.To(1))
		return dest.To(1), nil
	}
	return register.Register{}, newError(Internal, n, "no lowering for operator family %d", e.Family)
}

// encoded stages a 64-bit immediate that does not fit a sign-extended
// 32-bit field through the scratch register.
func encoded(b *strings.Builder, operand string, size int) string {
	if encodable(operand, size) {
		return operand
	}
	ins(b, "mov %s, %s", register.Scratch, operand)
	return register.Scratch.String()
}

func (c *Context) applyMul(b *strings.Builder, work register.Register, operand string) register.Register {
	if work.Size > 1 {
		ins(b, "imul %s, %s", work, encoded(b, operand, work.Size))
		return work
	}
	// There is no two-operand 8-bit imul.
	wide := work.To(4)
	ins(b, "movsx %s, %s", wide, work)
	if _, ok := immediate(operand); !ok {
		ins(b, "movsx %s, %s", register.Scratch.To(4), operand)
		operand = register.Scratch.To(4).String()
	}
	ins(b, "imul %s, %s", wide, operand)
	return work
}

// applyAccumulator lowers the instructions with implicit rax/rdx operands.
// 8 and 16-bit operands are widened to 32 bits first.
func (c *Context) applyAccumulator(b *strings.Builder, e matrix.OperationEntry, work register.Register, operand string) register.Register {
	size := work.Size
	wide := max(size, 4)
	acc := register.Accumulator.To(wide)
	rdx := register.Register{Family: register.RDX, Size: wide}
	scratch := register.Scratch.To(wide)
	extend := "movzx"
	if e.Signed {
		extend = "movsx"
	}

	switch _, imm := immediate(operand); {
	case imm:
		ins(b, "mov %s, %s", scratch, operand)
	case size < 4:
		ins(b, "%s %s, %s", extend, scratch, operand)
	default:
		ins(b, "mov %s, %s", scratch, operand)
	}

	var saved []register.Register
	for _, f := range []register.Family{register.RAX, register.RDX} {
		if f != work.Family && c.inUse(f) {
			r := register.Register{Family: f, Size: 8}
			c.emitPush(b, r)
			saved = append(saved, r)
		}
	}

	switch {
	case size < 4:
		ins(b, "%s %s, %s", extend, acc, work)
	case work.Family != register.RAX:
		ins(b, "mov %s, %s", acc, work)
	}
	switch {
	case e.Family == matrix.OpUnsignedMul:
	case e.Signed && wide == 8:
		ins(b, "cqo")
	case e.Signed:
		ins(b, "cdq")
	default:
		ins(b, "xor edx, edx")
	}
	ins(b, "%s %s", e.Mnemonic, scratch)

	result := acc
	if e.Family == matrix.OpRem {
		result = rdx
	}
	if !result.Same(work) {
		ins(b, "mov %s, %s", work.To(wide), result)
	}
	for i := len(saved) - 1; i >= 0; i-- {
		c.emitPop(b, saved[i])
	}
	return work
}

// applyShift moves a variable count into cl, the only count register.
func (c *Context) applyShift(b *strings.Builder, e matrix.OperationEntry, work register.Register, operand string) register.Register {
	if v, ok := immediate(operand); ok {
		ins(b, "%s %s, %d", e.Mnemonic, work, v&63)
		return work
	}
	scratch := register.Scratch.To(work.Size)
	ins(b, "mov %s, %s", scratch, operand)

	rcx := register.Register{Family: register.RCX, Size: 8}
	if work.Same(rcx) {
		ins(b, "xchg %s, %s", rcx, register.Scratch)
		ins(b, "%s %s, cl", e.Mnemonic, scratch)
		ins(b, "mov %s, %s", work, scratch)
		return work
	}
	saved := c.inUse(register.RCX)
	if saved {
		c.emitPush(b, rcx)
	}
	ins(b, "mov ecx, %s", register.Scratch.To(4))
	ins(b, "%s %s, cl", e.Mnemonic, work)
	if saved {
		c.emitPop(b, rcx)
	}
	return work
}
