// Package register models the x86-64 register file as seen by the code
// generator: general purpose families viewed at 8/16/32/64 bits and the xmm
// families viewed as scalar single or double precision.
package register

import (
	"errors"
	"fmt"
)

// Family identifies the 64-bit (or 128-bit for xmm) register a view aliases.
type Family int

const (
	RAX Family = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15
	XMM0
	XMM1
	XMM2
	XMM3
	XMM4
	XMM5
	XMM6
	XMM7
	XMM8
	XMM9
	XMM10
	XMM11
	XMM12
	XMM13
	XMM14
	XMM15
	familyCount
)

var (
	ErrInvalidSize = errors.New("invalid register size")
	ErrExhausted   = errors.New("register pool exhausted")
	ErrNoLane      = errors.New("register is not bound to an argument lane")
)

// gpNames holds the 8, 16, 32 and 64-bit names of every general purpose family.
var gpNames = [...][4]string{
	RAX: {"al", "ax", "eax", "rax"},
	RCX: {"cl", "cx", "ecx", "rcx"},
	RDX: {"dl", "dx", "edx", "rdx"},
	RBX: {"bl", "bx", "ebx", "rbx"},
	RSP: {"spl", "sp", "esp", "rsp"},
	RBP: {"bpl", "bp", "ebp", "rbp"},
	RSI: {"sil", "si", "esi", "rsi"},
	RDI: {"dil", "di", "edi", "rdi"},
	R8:  {"r8b", "r8w", "r8d", "r8"},
	R9:  {"r9b", "r9w", "r9d", "r9"},
	R10: {"r10b", "r10w", "r10d", "r10"},
	R11: {"r11b", "r11w", "r11d", "r11"},
	R12: {"r12b", "r12w", "r12d", "r12"},
	R13: {"r13b", "r13w", "r13d", "r13"},
	R14: {"r14b", "r14w", "r14d", "r14"},
	R15: {"r15b", "r15w", "r15d", "r15"},
}

// Register is one size view of a physical register. It is a plain value:
// resizing returns a new Register and never mutates the receiver.
type Register struct {
	Family Family
	Size   int
}

func (f Family) IsFloat() bool { return f >= XMM0 && f < familyCount }

func (r Register) IsFloat() bool { return r.Family.IsFloat() }

func validSize(f Family, size int) bool {
	if f < 0 || f >= familyCount {
		return false
	}
	if f.IsFloat() {
		return size == 4 || size == 8 || size == 16
	}
	switch size {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

func (r Register) Valid() bool { return validSize(r.Family, r.Size) }

func sizeIndex(size int) int {
	switch size {
	case 1:
		return 0
	case 2:
		return 1
	case 4:
		return 2
	default:
		return 3
	}
}

func (r Register) String() string {
	if !r.Valid() {
		return fmt.Sprintf("<invalid register %d/%d>", r.Family, r.Size)
	}
	if r.IsFloat() {
		return fmt.Sprintf("xmm%d", r.Family-XMM0)
	}
	return gpNames[r.Family][sizeIndex(r.Size)]
}

// New returns the register of family f viewed at size bytes.
func New(f Family, size int) (Register, error) {
	if !validSize(f, size) {
		return Register{}, fmt.Errorf("%w: %d bytes for family %d", ErrInvalidSize, size, f)
	}
	return Register{Family: f, Size: size}, nil
}

// Resize returns the same-family register at the requested size.
func Resize(r Register, size int) (Register, error) { return New(r.Family, size) }

// To is Resize for sizes already validated by the type system. An invalid
// size yields a Register whose Valid method reports false.
func (r Register) To(size int) Register { return Register{Family: r.Family, Size: size} }

// Same reports whether both views alias the same physical register.
func (r Register) Same(o Register) bool { return r.Family == o.Family }

// SizeKeyword is the NASM memory operand size for a byte width.
func SizeKeyword(size int) string {
	switch size {
	case 1:
		return "byte"
	case 2:
		return "word"
	case 4:
		return "dword"
	case 8:
		return "qword"
	case 16:
		return "oword"
	}
	return ""
}

// Scratch registers are never handed out by an iterator. R11 stages operands
// for casts, wide immediates and the accumulator instructions; XMM7 is the
// conversion scratch for every float cast.
var (
	Scratch      = Register{Family: R11, Size: 8}
	FloatScratch = Register{Family: XMM7, Size: 8}
	Accumulator  = Register{Family: RAX, Size: 8}
	FloatReturn  = Register{Family: XMM0, Size: 8}
)

// Windows x64 argument lanes. Lane i binds both IntLanes[i] and FloatLanes[i].
var (
	IntLanes   = [4]Family{RCX, RDX, R8, R9}
	FloatLanes = [4]Family{XMM0, XMM1, XMM2, XMM3}
)

// LaneOf returns the argument lane a family is bound to.
func LaneOf(f Family) (int, bool) {
	for i := range IntLanes {
		if IntLanes[i] == f || FloatLanes[i] == f {
			return i, true
		}
	}
	return 0, false
}

// ToFloatRegister maps a general purpose lane register onto the xmm register
// bound to the same lane. Scalar sizes 4 and 8 are kept, anything else
// becomes a double view.
func ToFloatRegister(r Register) (Register, error) {
	if r.IsFloat() {
		return r, nil
	}
	lane, ok := LaneOf(r.Family)
	if !ok {
		return Register{}, fmt.Errorf("%w: %s", ErrNoLane, r)
	}
	size := r.Size
	if size != 4 {
		size = 8
	}
	return Register{Family: FloatLanes[lane], Size: size}, nil
}

// ToGeneralPurposeRegister maps an xmm lane register onto the 64-bit general
// purpose register bound to the same lane.
func ToGeneralPurposeRegister(r Register) (Register, error) {
	if !r.IsFloat() {
		return r, nil
	}
	lane, ok := LaneOf(r.Family)
	if !ok {
		return Register{}, fmt.Errorf("%w: %s", ErrNoLane, r)
	}
	return Register{Family: IntLanes[lane], Size: 8}, nil
}

// IsVolatile reports whether the Windows x64 ABI lets a callee clobber f.
func IsVolatile(f Family) bool {
	switch f {
	case RAX, RCX, RDX, R8, R9, R10, R11, XMM0, XMM1, XMM2, XMM3, XMM4, XMM5:
		return true
	}
	return false
}
