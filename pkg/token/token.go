package token

type Type int

const (
	EOF Type = iota
	Ident
	Number
	FloatNumber
	String
	True
	False
	LParen
	RParen
	LBracket
	RBracket
	Dot
	Eq
	Plus
	Minus
	Star
	Slash
	Rem
	And
	Or
	Xor
	Shl
	Shr
	EqEq
	Neq
	Lt
	Gt
	Gte
	Lte
	AndAnd
	OrOr
	Not
	Complement
	Amp
	As
)

// OpMap maps operator spellings found in the typed AST interchange format to
// their token type.
var OpMap = map[string]Type{
	"+":  Plus,
	"-":  Minus,
	"*":  Star,
	"/":  Slash,
	"%":  Rem,
	"&":  And,
	"|":  Or,
	"^":  Xor,
	"<<": Shl,
	">>": Shr,
	"==": EqEq,
	"!=": Neq,
	"<":  Lt,
	">":  Gt,
	">=": Gte,
	"<=": Lte,
	"&&": AndAnd,
	"||": OrOr,
	"!":  Not,
	"~":  Complement,
}

// Reverse mapping from Type to the operator spelling
var TypeStrings = make(map[Type]string)

func init() {
	for str, typ := range OpMap {
		TypeStrings[typ] = str
	}
	TypeStrings[Amp] = "&"
	TypeStrings[As] = "as"
}

func (t Type) String() string {
	if s, ok := TypeStrings[t]; ok {
		return s
	}
	return "?"
}

// IsComparison reports whether the operator yields a boolean from two operands.
func (t Type) IsComparison() bool {
	switch t {
	case EqEq, Neq, Lt, Gt, Gte, Lte:
		return true
	}
	return false
}

type Token struct {
	Type      Type
	Value     string
	FileIndex int
	Line      int
	Column    int
	Len       int
}
