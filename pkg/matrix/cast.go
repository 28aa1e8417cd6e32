// Package matrix holds the two read-only tables instruction selection is
// driven by: the (from, to) cast matrix and the (left, operator, right)
// operation matrix. Both are built once and shared by every method context.
package matrix

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/xplshn/x64gen/pkg/asm"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/register"
)

type CastKind int

const (
	CastReview       CastKind = iota // reinterpret the low bits, no instruction
	CastSignExtend                   // movsx / movsxd
	CastZeroExtend                   // movzx, or the implicit zero-extend of a 32-bit mov
	CastStagedExtend                 // 32 -> 64 across signedness, staged through r11d
	CastFloatFloat
	CastIntToFloat
	CastFloatToInt
)

type CastEntry struct {
	From, To string
	Kind     CastKind
	Mnemonic string
}

type UnsupportedCastError struct {
	From, To string
	Reason   string
}

func (e *UnsupportedCastError) Error() string {
	return fmt.Sprintf("unsupported cast from %s to %s: %s", e.From, e.To, e.Reason)
}

var (
	intKeys   = []string{"i8", "i16", "i32", "i64", "u8", "u16", "u32", "u64"}
	floatKeys = []string{"f32", "f64"}
	keySizes  = map[string]int{
		"i8": 1, "i16": 2, "i32": 4, "i64": 8, "u8": 1, "u16": 2, "u32": 4, "u64": 8,
		"f32": 4, "f64": 8, "bool": 1, "ptr": 8,
	}
)

func isSignedKey(k string) bool { return k[0] == 'i' }

// Key is the matrix name of a type. Every pointer and array shares "ptr".
func Key(t *ast.Type) string {
	switch {
	case t == nil:
		return ""
	case t.IsPointer(), t.IsArray():
		return "ptr"
	case t.IsInteger(), t.IsFloat(), t.Kind == ast.TYPE_BOOL:
		return t.Name
	}
	return ""
}

// Matrix is immutable after New returns.
type Matrix struct {
	casts map[[2]string]CastEntry
	ops   map[opKey]OperationEntry
}

// New builds the matrix from per-family cast contributions. Identity casts
// and pairs contributed twice are construction errors.
func New(contributions ...[]CastEntry) (*Matrix, error) {
	m := &Matrix{casts: make(map[[2]string]CastEntry), ops: buildOperations()}
	for _, entries := range contributions {
		for _, e := range entries {
			if e.From == e.To {
				return nil, &UnsupportedCastError{From: e.From, To: e.To, Reason: "identity cast contributed"}
			}
			k := [2]string{e.From, e.To}
			if _, dup := m.casts[k]; dup {
				return nil, fmt.Errorf("cast %s -> %s contributed twice", e.From, e.To)
			}
			m.casts[k] = e
		}
	}
	return m, nil
}

// Default returns the process-wide matrix built from every numeric family.
var Default = sync.OnceValues(func() (*Matrix, error) {
	return New(IntCasts(), IntFloatCasts(), FloatCasts(), BoolCasts(), PointerCasts())
})

func IntCasts() []CastEntry {
	var out []CastEntry
	for _, from := range intKeys {
		for _, to := range intKeys {
			if from == to {
				continue
			}
			fs, ts := keySizes[from], keySizes[to]
			e := CastEntry{From: from, To: to}
			switch {
			case ts <= fs:
				e.Kind, e.Mnemonic = CastReview, "mov"
			case fs == 4 && ts == 8 && isSignedKey(from) != isSignedKey(to):
				e.Kind, e.Mnemonic = CastStagedExtend, "mov"
				if isSignedKey(from) {
					e.Mnemonic = "movsxd"
				}
			case isSignedKey(from) && fs == 4:
				e.Kind, e.Mnemonic = CastSignExtend, "movsxd"
			case isSignedKey(from):
				e.Kind, e.Mnemonic = CastSignExtend, "movsx"
			case fs == 4:
				e.Kind, e.Mnemonic = CastZeroExtend, "mov"
			default:
				e.Kind, e.Mnemonic = CastZeroExtend, "movzx"
			}
			out = append(out, e)
		}
	}
	return out
}

func IntFloatCasts() []CastEntry {
	var out []CastEntry
	for _, i := range intKeys {
		out = append(out,
			CastEntry{From: i, To: "f32", Kind: CastIntToFloat, Mnemonic: "cvtsi2ss"},
			CastEntry{From: i, To: "f64", Kind: CastIntToFloat, Mnemonic: "cvtsi2sd"},
			CastEntry{From: "f32", To: i, Kind: CastFloatToInt, Mnemonic: "cvttss2si"},
			CastEntry{From: "f64", To: i, Kind: CastFloatToInt, Mnemonic: "cvttsd2si"},
		)
	}
	return out
}

func FloatCasts() []CastEntry {
	return []CastEntry{
		{From: "f32", To: "f64", Kind: CastFloatFloat, Mnemonic: "cvtss2sd"},
		{From: "f64", To: "f32", Kind: CastFloatFloat, Mnemonic: "cvtsd2ss"},
	}
}

// BoolCasts reuse the u8 entries: a bool is a byte holding 0 or 1.
func BoolCasts() []CastEntry {
	out := []CastEntry{{From: "bool", To: "u8", Kind: CastReview, Mnemonic: "mov"}}
	for _, e := range IntCasts() {
		if e.From == "u8" {
			e.From = "bool"
			out = append(out, e)
		}
	}
	return out
}

func PointerCasts() []CastEntry {
	return []CastEntry{
		{From: "ptr", To: "i64", Kind: CastReview, Mnemonic: "mov"},
		{From: "ptr", To: "u64", Kind: CastReview, Mnemonic: "mov"},
		{From: "i64", To: "ptr", Kind: CastReview, Mnemonic: "mov"},
		{From: "u64", To: "ptr", Kind: CastReview, Mnemonic: "mov"},
	}
}

// Lookup returns the entry for a pair of matrix keys.
func (m *Matrix) Lookup(from, to string) (CastEntry, error) {
	if from == to {
		return CastEntry{}, &UnsupportedCastError{From: from, To: to, Reason: "identity cast"}
	}
	e, ok := m.casts[[2]string{from, to}]
	if !ok {
		return CastEntry{}, &UnsupportedCastError{From: from, To: to, Reason: "no conversion between these types"}
	}
	return e, nil
}

// Len is the number of cast pairs in the matrix.
func (m *Matrix) Len() int { return len(m.casts) }

// Operand is where a cast source currently lives.
type Operand struct {
	Text  string // operand text at the source width
	Addr  string // memory address without size keyword
	Reg   register.Register
	InReg bool
	Imm   bool
	Value int64
}

func RegOperand(r register.Register) Operand { return Operand{Text: r.String(), Reg: r, InReg: true} }

func MemOperand(size int, addr string) Operand {
	return Operand{Text: register.SizeKeyword(size) + " " + addr, Addr: addr}
}

func ImmOperand(v int64) Operand { return Operand{Text: strconv.FormatInt(v, 10), Imm: true, Value: v} }

// Fold truncates or extends an integer constant to size bytes.
func Fold(v int64, size int, signed bool) int64 {
	bits := uint(size * 8)
	if bits >= 64 {
		return v
	}
	v &= int64(1)<<bits - 1
	if signed && v&(int64(1)<<(bits-1)) != 0 {
		v -= int64(1) << bits
	}
	return v
}

func floatMove(size int) string {
	if size == 4 {
		return "movss"
	}
	return "movsd"
}

func ins(b *strings.Builder, format string, args ...any) {
	b.WriteString("    ")
	fmt.Fprintf(b, format, args...)
	b.WriteByte('\n')
}

// CastFromTo converts src of type from into type to. Results that need
// instructions land in dst, which must already be sized for the target type
// and belong to the target class. Review casts hand the source back re-viewed
// at the target width.
func (m *Matrix) CastFromTo(from, to *ast.Type, src Operand, dst register.Register) (asm.Result, error) {
	fk, tk := Key(from), Key(to)
	e, err := m.Lookup(fk, tk)
	if err != nil {
		return asm.Result{}, err
	}
	fs, ts := keySizes[fk], keySizes[tk]
	fromSigned := isSignedKey(fk)
	var b strings.Builder
	scratch := register.Scratch
	xscratch := register.FloatScratch

	switch e.Kind {
	case CastReview:
		switch {
		case src.Imm:
			return asm.Inline(strconv.FormatInt(Fold(src.Value, ts, isSignedKey(tk)), 10)), nil
		case src.InReg:
			return asm.MultilineResulted("", src.Reg.To(ts)), nil
		}
		return asm.Inline(register.SizeKeyword(ts) + " " + src.Addr), nil

	case CastSignExtend, CastZeroExtend, CastStagedExtend:
		if src.Imm {
			return asm.Inline(strconv.FormatInt(Fold(src.Value, fs, fromSigned), 10)), nil
		}
		switch {
		case e.Kind == CastStagedExtend:
			ins(&b, "mov %s, %s", scratch.To(4), src.Text)
			if fromSigned {
				ins(&b, "movsxd %s, %s", dst.To(8), scratch.To(4))
			} else {
				ins(&b, "mov %s, %s", dst.To(4), scratch.To(4))
			}
		case e.Mnemonic == "mov":
			// writing the 32-bit view clears the upper half
			ins(&b, "mov %s, %s", dst.To(4), src.Text)
		default:
			ins(&b, "%s %s, %s", e.Mnemonic, dst.To(ts), src.Text)
		}
		return asm.MultilineResulted(b.String(), dst.To(ts)), nil

	case CastFloatFloat:
		ins(&b, "%s %s, %s", e.Mnemonic, xscratch, src.Text)
		ins(&b, "%s %s, %s", floatMove(ts), dst.To(ts), xscratch)
		return asm.MultilineResulted(b.String(), dst.To(ts)), nil

	case CastIntToFloat:
		operand := src.Text
		switch {
		case src.Imm:
			ins(&b, "mov %s, %d", scratch, Fold(src.Value, fs, fromSigned))
			operand = scratch.String()
		case fs < 4:
			ext := "movzx"
			if fromSigned {
				ext = "movsx"
			}
			ins(&b, "%s %s, %s", ext, scratch.To(4), src.Text)
			operand = scratch.To(4).String()
		case fs == 4 && !fromSigned:
			ins(&b, "mov %s, %s", scratch.To(4), src.Text)
			operand = scratch.String()
		}
		ins(&b, "%s %s, %s", e.Mnemonic, xscratch, operand)
		ins(&b, "%s %s, %s", floatMove(ts), dst.To(ts), xscratch)
		return asm.MultilineResulted(b.String(), dst.To(ts)), nil

	case CastFloatToInt:
		if !(src.InReg && src.Reg.Family == xscratch.Family) {
			ins(&b, "%s %s, %s", floatMove(fs), xscratch, src.Text)
		}
		switch {
		case ts == 8 || (ts == 4 && isSignedKey(tk)):
			ins(&b, "%s %s, %s", e.Mnemonic, dst.To(ts), xscratch)
		case ts == 4:
			ins(&b, "%s %s, %s", e.Mnemonic, dst.To(8), xscratch)
		default:
			ins(&b, "%s %s, %s", e.Mnemonic, scratch.To(4), xscratch)
			ins(&b, "mov %s, %s", dst.To(4), scratch.To(4))
		}
		return asm.MultilineResulted(b.String(), dst.To(ts)), nil
	}
	return asm.Result{}, &UnsupportedCastError{From: fk, To: tk, Reason: "unknown cast kind"}
}
