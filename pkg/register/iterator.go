package register

import "fmt"

var (
	generalOrder = []Family{RAX, RCX, RDI, RDX, RSI, R8, R9, R10}
	floatOrder   = []Family{XMM0, XMM1, XMM2, XMM3, XMM4, XMM5, XMM6}
)

// Iterator walks a register class in its fixed precedence order. A fresh
// iterator is created for every allocation request.
type Iterator struct {
	order []Family
	size  int
	pos   int
}

// IterFromByteSize positions an iterator at the first general purpose
// register of n bytes.
func IterFromByteSize(n int) (*Iterator, error) {
	switch n {
	case 1, 2, 4, 8:
		return &Iterator{order: generalOrder, size: n}, nil
	}
	return nil, fmt.Errorf("%w: no general purpose registers of %d bytes", ErrInvalidSize, n)
}

// IterFloat positions an iterator at the first xmm register viewed as a
// single (4) or double (8) precision scalar.
func IterFloat(n int) (*Iterator, error) {
	if n != 4 && n != 8 {
		return nil, fmt.Errorf("%w: no float registers of %d bytes", ErrInvalidSize, n)
	}
	return &Iterator{order: floatOrder, size: n}, nil
}

// IterFor picks the general purpose or float iterator.
func IterFor(float bool, n int) (*Iterator, error) {
	if float {
		return IterFloat(n)
	}
	return IterFromByteSize(n)
}

func (it *Iterator) Next() (Register, bool) {
	if it.pos >= len(it.order) {
		return Register{}, false
	}
	r := Register{Family: it.order[it.pos], Size: it.size}
	it.pos++
	return r, true
}

// Len is the number of registers left to visit.
func (it *Iterator) Len() int { return len(it.order) - it.pos }

// IsCalleeSaved reports the pool registers a method must preserve for its
// caller when it uses them.
func IsCalleeSaved(f Family) bool {
	switch f {
	case RDI, RSI, RBX, R12, R13, R14, R15, XMM6, XMM7:
		return true
	}
	return false
}
