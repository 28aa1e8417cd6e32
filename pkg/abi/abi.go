// Package abi implements the Windows x64 calling convention: argument lane
// assignment, return registers, method name mangling and overload lookup.
package abi

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/register"
)

const (
	// ShadowSpace is the register home area every caller reserves.
	ShadowSpace = 32
	SlotSize    = 8
	LaneCount   = len(register.IntLanes)
)

// Signature describes a callable: its parameter and return types plus the
// extern and variadic flags. Params of array type are passed as pointers.
type Signature struct {
	Name     string
	Params   []*ast.Type
	Return   *ast.Type
	Extern   bool
	Variadic bool
}

// Mangle renders the label of a method: `.{name}_{p1}_..._{pN}~{ret}`, with
// `void` for an empty parameter list and `*` spelled `ptr`. Externs and main
// keep their plain name.
func (s *Signature) Mangle() string {
	if s.Extern || s.Name == "main" {
		return s.Name
	}
	params := "void"
	if len(s.Params) > 0 {
		params = strings.Join(lo.Map(s.Params, func(t *ast.Type, _ int) string { return mangleType(t.Decay()) }), "_")
	}
	return fmt.Sprintf(".%s_%s~%s", s.Name, params, mangleType(s.Return))
}

func mangleType(t *ast.Type) string {
	if t.IsVoid() {
		return "void"
	}
	return strings.ReplaceAll(t.String(), "*", "ptr")
}

func (s *Signature) String() string {
	params := lo.Map(s.Params, func(t *ast.Type, _ int) string { return t.String() })
	if s.Variadic {
		params = append(params, "...")
	}
	return fmt.Sprintf("%s(%s) %s", s.Name, strings.Join(params, ", "), s.Return)
}

// ArgTypes returns the types the arguments travel as: arrays decay to
// pointers and float arguments in the variadic tail are promoted to f64.
func (s *Signature) ArgTypes(args []*ast.Type) []*ast.Type {
	return lo.Map(args, func(t *ast.Type, i int) *ast.Type {
		t = t.Decay()
		if s.Variadic && i >= len(s.Params) && t.Kind == ast.TYPE_FLOAT {
			return ast.TypeF64
		}
		return t
	})
}

type SlotKind int

const (
	InRegister SlotKind = iota
	OnStack
)

// Slot is the home of one argument. Pair is set for float arguments of
// extern callees, which also receive the value in the lane's integer register.
type Slot struct {
	Kind    SlotKind
	Reg     register.Register
	Pair    register.Register
	HasPair bool
	// Index is the argument position; stack arguments live at [rsp + 8*Index]
	// at the call instruction, above the shadow space.
	Index int
}

// Offset is the displacement of the argument's slot from rsp at the call.
func (s Slot) Offset() int64 { return int64(s.Index) * SlotSize }

// Resolve assigns lanes by position: argument i uses lane i, taking the
// lane's float register for floats and its integer register otherwise.
// Arguments past the last lane go to the stack.
func Resolve(args []*ast.Type, extern bool) ([]Slot, error) {
	slots := make([]Slot, len(args))
	for i, t := range args {
		t = t.Decay()
		slots[i].Index = i
		if i >= LaneCount {
			slots[i].Kind = OnStack
			continue
		}
		lane, err := register.Resize(register.Register{Family: register.IntLanes[i], Size: 8}, int(t.Size()))
		if err != nil {
			return nil, fmt.Errorf("argument %d of type %s: %w", i, t, err)
		}
		if !t.IsFloat() {
			slots[i].Reg = lane
			continue
		}
		if slots[i].Reg, err = register.ToFloatRegister(lane); err != nil {
			return nil, err
		}
		if extern {
			slots[i].Pair, _ = register.ToGeneralPurposeRegister(slots[i].Reg)
			slots[i].HasPair = true
		}
	}
	return slots, nil
}

// ReturnRegister is rax sized to the return type for integers, pointers and
// bools, xmm0 for floats, and nothing for void.
func ReturnRegister(t *ast.Type) (register.Register, bool) {
	switch {
	case t.IsVoid():
		return register.Register{}, false
	case t.IsFloat():
		return register.Register{Family: register.XMM0, Size: int(t.Size())}, true
	case t.IsScalar(), t.IsArray():
		return register.Register{Family: register.RAX, Size: int(t.Decay().Size())}, true
	}
	return register.Register{}, false
}

// ArgumentArea is the bytes a caller reserves below the return address for
// n arguments: the shadow space, or one slot per argument past it.
func ArgumentArea(n int, shadow int64) int64 {
	return max(int64(n)*SlotSize, shadow)
}
