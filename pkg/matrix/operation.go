package matrix

import (
	"fmt"

	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/token"
)

type OpFamily int

const (
	OpArith        OpFamily = iota // two-operand integer instruction
	OpMul                          // signed imul
	OpUnsignedMul                  // mul through the accumulator
	OpDiv                          // idiv/div, quotient
	OpRem                          // idiv/div, remainder
	OpShift                        // count staged in cl
	OpCompare                      // cmp + setcc
	OpFloatArith                   // scalar sse arithmetic
	OpFloatCompare                 // comiss/comisd + setcc
	OpLogical                      // bool and/or/xor
)

type OperationEntry struct {
	Op       token.Type
	Family   OpFamily
	Mnemonic string
	SetCC    string
	Signed   bool
	// Result is the matrix key of the result; empty means the left operand type.
	Result string
}

type opKey struct {
	left  string
	op    token.Type
	right string
}

type UnsupportedOperationError struct {
	Left, Right string
	Op          token.Type
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("operator '%s' is not defined for %s and %s", e.Op, e.Left, e.Right)
}

var (
	signedSetCC   = map[token.Type]string{token.EqEq: "sete", token.Neq: "setne", token.Lt: "setl", token.Lte: "setle", token.Gt: "setg", token.Gte: "setge"}
	unsignedSetCC = map[token.Type]string{token.EqEq: "sete", token.Neq: "setne", token.Lt: "setb", token.Lte: "setbe", token.Gt: "seta", token.Gte: "setae"}
	bitwise       = map[token.Type]string{token.Plus: "add", token.Minus: "sub", token.And: "and", token.Or: "or", token.Xor: "xor"}
)

func buildOperations() map[opKey]OperationEntry {
	ops := make(map[opKey]OperationEntry)
	put := func(l string, op token.Type, r string, e OperationEntry) {
		e.Op = op
		ops[opKey{l, op, r}] = e
	}

	for _, l := range intKeys {
		for _, r := range intKeys {
			if keySizes[l] != keySizes[r] {
				continue
			}
			signed := isSignedKey(l)
			for op, mn := range bitwise {
				put(l, op, r, OperationEntry{Family: OpArith, Mnemonic: mn, Signed: signed})
			}
			if signed {
				put(l, token.Star, r, OperationEntry{Family: OpMul, Mnemonic: "imul", Signed: true})
				put(l, token.Slash, r, OperationEntry{Family: OpDiv, Mnemonic: "idiv", Signed: true})
				put(l, token.Rem, r, OperationEntry{Family: OpRem, Mnemonic: "idiv", Signed: true})
				put(l, token.Shr, r, OperationEntry{Family: OpShift, Mnemonic: "sar", Signed: true})
			} else {
				put(l, token.Star, r, OperationEntry{Family: OpUnsignedMul, Mnemonic: "mul"})
				put(l, token.Slash, r, OperationEntry{Family: OpDiv, Mnemonic: "div"})
				put(l, token.Rem, r, OperationEntry{Family: OpRem, Mnemonic: "div"})
				put(l, token.Shr, r, OperationEntry{Family: OpShift, Mnemonic: "shr"})
			}
			put(l, token.Shl, r, OperationEntry{Family: OpShift, Mnemonic: "shl", Signed: signed})
			setcc := unsignedSetCC
			if signed {
				setcc = signedSetCC
			}
			for op, cc := range setcc {
				put(l, op, r, OperationEntry{Family: OpCompare, Mnemonic: "cmp", SetCC: cc, Signed: signed, Result: "bool"})
			}
		}
	}

	for _, f := range floatKeys {
		sfx := "ss"
		if f == "f64" {
			sfx = "sd"
		}
		put(f, token.Plus, f, OperationEntry{Family: OpFloatArith, Mnemonic: "add" + sfx, Signed: true})
		put(f, token.Minus, f, OperationEntry{Family: OpFloatArith, Mnemonic: "sub" + sfx, Signed: true})
		put(f, token.Star, f, OperationEntry{Family: OpFloatArith, Mnemonic: "mul" + sfx, Signed: true})
		put(f, token.Slash, f, OperationEntry{Family: OpFloatArith, Mnemonic: "div" + sfx, Signed: true})
		for op, cc := range unsignedSetCC {
			put(f, op, f, OperationEntry{Family: OpFloatCompare, Mnemonic: "comi" + sfx, SetCC: cc, Result: "bool"})
		}
	}

	logical := map[token.Type]string{token.And: "and", token.AndAnd: "and", token.Or: "or", token.OrOr: "or", token.Xor: "xor"}
	for op, mn := range logical {
		put("bool", op, "bool", OperationEntry{Family: OpLogical, Mnemonic: mn})
	}
	put("bool", token.EqEq, "bool", OperationEntry{Family: OpCompare, Mnemonic: "cmp", SetCC: "sete", Result: "bool"})
	put("bool", token.Neq, "bool", OperationEntry{Family: OpCompare, Mnemonic: "cmp", SetCC: "setne", Result: "bool"})

	for _, i := range []string{"i64", "u64"} {
		put("ptr", token.Plus, i, OperationEntry{Family: OpArith, Mnemonic: "add"})
		put("ptr", token.Minus, i, OperationEntry{Family: OpArith, Mnemonic: "sub"})
	}
	put("ptr", token.Minus, "ptr", OperationEntry{Family: OpArith, Mnemonic: "sub", Result: "i64"})
	for op, cc := range unsignedSetCC {
		put("ptr", op, "ptr", OperationEntry{Family: OpCompare, Mnemonic: "cmp", SetCC: cc, Result: "bool"})
	}
	return ops
}

// Operation selects the instruction family and mnemonic for l op r.
func (m *Matrix) Operation(l *ast.Type, op token.Type, r *ast.Type) (OperationEntry, error) {
	lk, rk := Key(l), Key(r)
	e, ok := m.ops[opKey{lk, op, rk}]
	if !ok {
		return OperationEntry{}, &UnsupportedOperationError{Left: l.String(), Right: r.String(), Op: op}
	}
	return e, nil
}

// ResultType is the type l op r evaluates to.
func (m *Matrix) ResultType(l *ast.Type, e OperationEntry) *ast.Type {
	switch e.Result {
	case "":
		return l
	case "bool":
		return ast.TypeBool
	}
	t, _ := ast.Primitive(e.Result)
	return t
}
