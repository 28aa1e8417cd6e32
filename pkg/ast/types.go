package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// TypeKind defines the kind of a Type
type TypeKind int

const (
	TYPE_INT TypeKind = iota
	TYPE_UINT
	TYPE_FLOAT
	TYPE_BOOL
	TYPE_POINTER
	TYPE_ARRAY
	TYPE_STRUCT
	TYPE_VOID
)

// Field is a struct member with its byte offset from the start of the struct.
type Field struct {
	Name   string
	Type   *Type
	Offset int64
}

// Type is a checked type as handed over by the front end.
type Type struct {
	Kind   TypeKind
	Name   string // primitive or struct name
	Base   *Type  // pointee or element type
	Len    int64  // array length
	Fields []Field
	size   int64
	align  int64
}

// Pre-defined types
var (
	TypeI8   = &Type{Kind: TYPE_INT, Name: "i8", size: 1, align: 1}
	TypeI16  = &Type{Kind: TYPE_INT, Name: "i16", size: 2, align: 2}
	TypeI32  = &Type{Kind: TYPE_INT, Name: "i32", size: 4, align: 4}
	TypeI64  = &Type{Kind: TYPE_INT, Name: "i64", size: 8, align: 8}
	TypeU8   = &Type{Kind: TYPE_UINT, Name: "u8", size: 1, align: 1}
	TypeU16  = &Type{Kind: TYPE_UINT, Name: "u16", size: 2, align: 2}
	TypeU32  = &Type{Kind: TYPE_UINT, Name: "u32", size: 4, align: 4}
	TypeU64  = &Type{Kind: TYPE_UINT, Name: "u64", size: 8, align: 8}
	TypeF32  = &Type{Kind: TYPE_FLOAT, Name: "f32", size: 4, align: 4}
	TypeF64  = &Type{Kind: TYPE_FLOAT, Name: "f64", size: 8, align: 8}
	TypeBool = &Type{Kind: TYPE_BOOL, Name: "bool", size: 1, align: 1}
	TypeVoid = &Type{Kind: TYPE_VOID, Name: "void"}
)

var primitives = map[string]*Type{
	"i8": TypeI8, "i16": TypeI16, "i32": TypeI32, "i64": TypeI64,
	"u8": TypeU8, "u16": TypeU16, "u32": TypeU32, "u64": TypeU64,
	"f32": TypeF32, "f64": TypeF64, "bool": TypeBool, "void": TypeVoid,
}

// Primitive looks up a predefined type by name.
func Primitive(name string) (*Type, bool) {
	t, ok := primitives[name]
	return t, ok
}

func NewPointer(base *Type) *Type {
	return &Type{Kind: TYPE_POINTER, Base: base, size: 8, align: 8}
}

func NewArray(elem *Type, n int64) *Type {
	return &Type{Kind: TYPE_ARRAY, Base: elem, Len: n, size: elem.Size() * n, align: elem.Align()}
}

// NewStruct lays the fields out C-style: each at its natural alignment, the
// total size rounded up to the largest alignment.
func NewStruct(name string, fields []Field) *Type {
	t := &Type{Kind: TYPE_STRUCT, Name: name, align: 1}
	var off int64
	for _, f := range fields {
		a := f.Type.Align()
		off = alignUp(off, a)
		t.Fields = append(t.Fields, Field{Name: f.Name, Type: f.Type, Offset: off})
		off += f.Type.Size()
		if a > t.align {
			t.align = a
		}
	}
	t.size = alignUp(off, t.align)
	return t
}

func alignUp(n, a int64) int64 {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}

func (t *Type) Size() int64 {
	if t == nil {
		return 0
	}
	return t.size
}

func (t *Type) Align() int64 {
	if t == nil || t.align == 0 {
		return 1
	}
	return t.align
}

func (t *Type) IsInteger() bool { return t != nil && (t.Kind == TYPE_INT || t.Kind == TYPE_UINT) }
func (t *Type) IsSigned() bool  { return t != nil && t.Kind == TYPE_INT }
func (t *Type) IsFloat() bool   { return t != nil && t.Kind == TYPE_FLOAT }
func (t *Type) IsPointer() bool { return t != nil && t.Kind == TYPE_POINTER }
func (t *Type) IsArray() bool   { return t != nil && t.Kind == TYPE_ARRAY }
func (t *Type) IsStruct() bool  { return t != nil && t.Kind == TYPE_STRUCT }
func (t *Type) IsVoid() bool    { return t == nil || t.Kind == TYPE_VOID }

// IsScalar reports whether a value of t fits a single register.
func (t *Type) IsScalar() bool {
	if t == nil {
		return false
	}
	switch t.Kind {
	case TYPE_INT, TYPE_UINT, TYPE_FLOAT, TYPE_BOOL, TYPE_POINTER:
		return true
	}
	return false
}

// Field returns the member called name.
func (t *Type) Field(name string) (Field, bool) {
	for _, f := range t.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Decay turns arrays into pointers to their first element, the way they are
// passed to and returned from methods.
func (t *Type) Decay() *Type {
	if t.IsArray() {
		return NewPointer(t.Base)
	}
	return t
}

func (t *Type) String() string {
	if t == nil {
		return "void"
	}
	switch t.Kind {
	case TYPE_POINTER:
		return "*" + t.Base.String()
	case TYPE_ARRAY:
		return fmt.Sprintf("[%d]%s", t.Len, t.Base.String())
	}
	return t.Name
}

// Equal compares types structurally.
func (t *Type) Equal(o *Type) bool {
	if t == nil || o == nil {
		return t.IsVoid() && o.IsVoid()
	}
	return t.String() == o.String()
}

// ParseType reads the textual form used by the interchange format:
// primitives, `*T`, `[N]T` and struct names.
func ParseType(s string, structs map[string]*Type) (*Type, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, fmt.Errorf("empty type")
	case strings.HasPrefix(s, "*"):
		base, err := ParseType(s[1:], structs)
		if err != nil {
			return nil, err
		}
		return NewPointer(base), nil
	case strings.HasPrefix(s, "["):
		end := strings.IndexByte(s, ']')
		if end < 0 {
			return nil, fmt.Errorf("malformed array type %q", s)
		}
		n, err := strconv.ParseInt(s[1:end], 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("malformed array length in %q", s)
		}
		elem, err := ParseType(s[end+1:], structs)
		if err != nil {
			return nil, err
		}
		if elem.IsVoid() {
			return nil, fmt.Errorf("array of void in %q", s)
		}
		return NewArray(elem, n), nil
	}
	if t, ok := primitives[s]; ok {
		return t, nil
	}
	if t, ok := structs[s]; ok {
		return t, nil
	}
	return nil, fmt.Errorf("unknown type %q", s)
}
