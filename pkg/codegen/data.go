package codegen

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/matrix"
	"github.com/xplshn/x64gen/pkg/token"
)

type dataEntry struct {
	label string
	body  string
}

// DataSection collects the literals of one context. Labels are derived from
// the content, so equal literals share a label within and across contexts.
type DataSection struct {
	entries []dataEntry
	seen    map[string]bool
}

func NewDataSection() *DataSection { return &DataSection{seen: make(map[string]bool)} }

func (d *DataSection) add(label, body string) string {
	if !d.seen[label] {
		d.seen[label] = true
		d.entries = append(d.entries, dataEntry{label: label, body: body})
	}
	return label
}

// StringLiteral returns the label of a NUL terminated copy of s.
func (d *DataSection) StringLiteral(s string) string {
	label := fmt.Sprintf("str_%016x", xxhash.Sum64String(s))
	parts := make([]string, 0, len(s)+1)
	for i := 0; i < len(s); i++ {
		parts = append(parts, strconv.Itoa(int(s[i])))
	}
	parts = append(parts, "0")
	return d.add(label, "db "+strings.Join(parts, ", "))
}

// Float returns the label of a size-byte float constant.
func (d *DataSection) Float(v float64, size int) string {
	var raw [9]byte
	raw[0] = byte(size)
	binary.LittleEndian.PutUint64(raw[1:], math.Float64bits(v))
	label := fmt.Sprintf("flt_%016x", xxhash.Sum64(raw[:]))
	return d.add(label, floatDirective(v, size))
}

func floatDirective(v float64, size int) string {
	if size == 4 {
		return fmt.Sprintf("dd 0x%08x", math.Float32bits(float32(v)))
	}
	return fmt.Sprintf("dq 0x%016x", math.Float64bits(v))
}

func intDirective(v int64, size int64) string {
	v = matrix.Fold(v, int(size), true)
	switch size {
	case 1:
		return fmt.Sprintf("db %d", v)
	case 2:
		return fmt.Sprintf("dw %d", v)
	case 4:
		return fmt.Sprintf("dd %d", v)
	}
	return fmt.Sprintf("dq %d", v)
}

// constant evaluates a literal, looking through unary minus.
func constant(n *ast.Node) (i int64, f float64, isFloat, ok bool) {
	switch d := n.Data.(type) {
	case ast.NumberNode:
		return d.Value, float64(d.Value), false, true
	case ast.FloatNode:
		return int64(d.Value), d.Value, true, true
	case ast.BoolNode:
		if d.Value {
			return 1, 1, false, true
		}
		return 0, 0, false, true
	case ast.UnaryOpNode:
		if d.Op != token.Minus {
			return 0, 0, false, false
		}
		i, f, isFloat, ok = constant(d.Expr)
		return -i, -f, isFloat, ok
	}
	return 0, 0, false, false
}

func literalDirective(t *ast.Type, n *ast.Node) (string, bool) {
	i, f, isFloat, ok := constant(n)
	if !ok || !t.IsScalar() {
		return "", false
	}
	if t.IsFloat() {
		if !isFloat {
			f = float64(i)
		}
		return floatDirective(f, int(t.Size())), true
	}
	if isFloat {
		return "", false
	}
	return intDirective(i, t.Size()), true
}

// StructLiteral returns the label of an istruc built from constant field
// initializers. It reports false when an initializer is not a constant.
func (d *DataSection) StructLiteral(t *ast.Type, fields []ast.FieldInit) (string, bool) {
	byName := make(map[string]*ast.Node, len(fields))
	for _, f := range fields {
		byName[f.Name] = f.Value
	}
	var b strings.Builder
	fmt.Fprintf(&b, "istruc %s\n", t.Name)
	for _, f := range t.Fields {
		n, ok := byName[f.Name]
		if !ok {
			continue
		}
		dir, ok := literalDirective(f.Type, n)
		if !ok {
			return "", false
		}
		fmt.Fprintf(&b, "        at %s.%s, %s\n", t.Name, f.Name, dir)
	}
	b.WriteString("    iend")
	body := b.String()
	label := fmt.Sprintf("lit_%016x", xxhash.Sum64String(body))
	return d.add(label, body), true
}

// Merge appends the entries of o that d does not hold yet.
func (d *DataSection) Merge(o *DataSection) {
	for _, e := range o.entries {
		d.add(e.label, e.body)
	}
}

func (d *DataSection) Len() int { return len(d.entries) }

// Render writes every entry in first-use order.
func (d *DataSection) Render(b *strings.Builder) {
	for _, e := range d.entries {
		if strings.HasPrefix(e.body, "istruc") {
			fmt.Fprintf(b, "%s:\n    %s\n", e.label, e.body)
			continue
		}
		fmt.Fprintf(b, "%s: %s\n", e.label, e.body)
	}
}

func reserveDirective(size int64) string {
	switch size {
	case 2:
		return "resw"
	case 4:
		return "resd"
	case 8:
		return "resq"
	}
	return "resb"
}

// renderLayout writes the struc declaration of a struct type.
func renderLayout(b *strings.Builder, t *ast.Type) {
	fmt.Fprintf(b, "struc %s\n", t.Name)
	var off int64
	for _, f := range t.Fields {
		if f.Offset > off {
			fmt.Fprintf(b, "    resb %d\n", f.Offset-off)
		}
		switch {
		case f.Type.IsScalar():
			fmt.Fprintf(b, "    .%s: %s 1\n", f.Name, reserveDirective(f.Type.Size()))
		case f.Type.IsArray() && f.Type.Base.IsScalar():
			fmt.Fprintf(b, "    .%s: %s %d\n", f.Name, reserveDirective(f.Type.Base.Size()), f.Type.Len)
		default:
			fmt.Fprintf(b, "    .%s: resb %d\n", f.Name, f.Type.Size())
		}
		off = f.Offset + f.Type.Size()
	}
	if t.Size() > off {
		fmt.Fprintf(b, "    resb %d\n", t.Size()-off)
	}
	b.WriteString("endstruc\n")
}
