// Package ast defines the typed Abstract Syntax Tree handed to the code
// generator by the front end. Every expression node carries its checked type.
package ast

import (
	"fmt"

	"github.com/xplshn/x64gen/pkg/token"
)

// NodeType defines the kind of a node in the AST
type NodeType int

const (
	// Expressions
	Number NodeType = iota
	FloatNumber
	Bool
	String
	Ident
	BinaryOp
	UnaryOp
	Indirection
	AddressOf
	TypeCast
	FuncCall
	Subscript
	MemberAccess
	StructLit

	// Statements
	VarDecl
	Assign
	Return
	ExprStmt
	If
	While
	Block

	FuncDecl
)

var nodeNames = map[NodeType]string{
	Number: "number", FloatNumber: "float", Bool: "bool", String: "string", Ident: "identifier",
	BinaryOp: "binary", UnaryOp: "unary", Indirection: "dereference", AddressOf: "address-of",
	TypeCast: "cast", FuncCall: "call", Subscript: "index", MemberAccess: "member", StructLit: "struct literal",
	VarDecl: "let", Assign: "assignment", Return: "return", ExprStmt: "expression statement",
	If: "if", While: "while", Block: "block", FuncDecl: "method",
}

func (t NodeType) String() string {
	if s, ok := nodeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// Node represents a node in the Abstract Syntax Tree
type Node struct {
	Type   NodeType
	Tok    token.Token
	Parent *Node
	Data   interface{}
	Typ    *Type
}

func (n *Node) String() string {
	if n == nil {
		return "<nil node>"
	}
	s := n.Type.String()
	switch d := n.Data.(type) {
	case BinaryOpNode:
		s += fmt.Sprintf(" '%s'", d.Op)
	case UnaryOpNode:
		s += fmt.Sprintf(" '%s'", d.Op)
	case IdentNode:
		s += fmt.Sprintf(" '%s'", d.Name)
	case FuncCallNode:
		s += fmt.Sprintf(" '%s'", d.Name)
	case FuncDeclNode:
		s += fmt.Sprintf(" '%s'", d.Name)
	}
	if n.Tok.Line > 0 {
		s += fmt.Sprintf(" at %d:%d", n.Tok.Line, n.Tok.Column)
	}
	return s
}

// --- Node Data Structs ---
type NumberNode struct{ Value int64 }
type FloatNode struct{ Value float64 }
type BoolNode struct{ Value bool }
type StringNode struct{ Value string }
type IdentNode struct{ Name string }
type BinaryOpNode struct{ Op token.Type; Left, Right *Node }
type UnaryOpNode struct{ Op token.Type; Expr *Node }
type IndirectionNode struct{ Expr *Node }
type AddressOfNode struct{ LValue *Node }
type TypeCastNode struct{ Expr *Node; TargetType *Type }
type FuncCallNode struct{ Name string; Args []*Node }
type SubscriptNode struct{ Array, Index *Node }
type MemberAccessNode struct{ Expr *Node; Member string }
type FieldInit struct{ Name string; Value *Node }
type StructLitNode struct{ Fields []FieldInit }
type VarDeclNode struct{ Name string; Type *Type; Init *Node }
type AssignNode struct{ Lhs, Rhs *Node }
type ReturnNode struct{ Expr *Node }
type ExprStmtNode struct{ Expr *Node }
type IfNode struct{ Cond, ThenBody, ElseBody *Node }
type WhileNode struct{ Cond, Body *Node }
type BlockNode struct{ Stmts []*Node }
type Param struct{ Name string; Type *Type }
type FuncDeclNode struct {
	Name       string
	Params     []Param
	ReturnType *Type
	Body       *Node
	IsExtern   bool
	HasVarargs bool
}

// Program is one compilation unit: struct layouts, extern declarations and
// method definitions in declaration order.
type Program struct {
	File    string
	Structs []*Type
	Externs []*Node
	Methods []*Node
}

// --- Node Constructors ---

func newNode(tok token.Token, nodeType NodeType, typ *Type, data interface{}, children ...*Node) *Node {
	node := &Node{Type: nodeType, Tok: tok, Data: data, Typ: typ}
	for _, child := range children {
		if child != nil {
			child.Parent = node
		}
	}
	return node
}

func NewNumber(tok token.Token, value int64, typ *Type) *Node {
	return newNode(tok, Number, typ, NumberNode{Value: value})
}
func NewFloat(tok token.Token, value float64, typ *Type) *Node {
	return newNode(tok, FloatNumber, typ, FloatNode{Value: value})
}
func NewBool(tok token.Token, value bool) *Node {
	return newNode(tok, Bool, TypeBool, BoolNode{Value: value})
}
func NewString(tok token.Token, value string) *Node {
	return newNode(tok, String, NewPointer(TypeU8), StringNode{Value: value})
}
func NewIdent(tok token.Token, name string, typ *Type) *Node {
	return newNode(tok, Ident, typ, IdentNode{Name: name})
}
func NewBinaryOp(tok token.Token, op token.Type, left, right *Node, typ *Type) *Node {
	return newNode(tok, BinaryOp, typ, BinaryOpNode{Op: op, Left: left, Right: right}, left, right)
}
func NewUnaryOp(tok token.Token, op token.Type, expr *Node) *Node {
	typ := expr.Typ
	if op == token.Not {
		typ = TypeBool
	}
	return newNode(tok, UnaryOp, typ, UnaryOpNode{Op: op, Expr: expr}, expr)
}
func NewIndirection(tok token.Token, expr *Node) *Node {
	var typ *Type
	if expr.Typ != nil {
		typ = expr.Typ.Base
	}
	return newNode(tok, Indirection, typ, IndirectionNode{Expr: expr}, expr)
}
func NewAddressOf(tok token.Token, lvalue *Node) *Node {
	return newNode(tok, AddressOf, NewPointer(lvalue.Typ), AddressOfNode{LValue: lvalue}, lvalue)
}
func NewTypeCast(tok token.Token, expr *Node, targetType *Type) *Node {
	return newNode(tok, TypeCast, targetType, TypeCastNode{Expr: expr, TargetType: targetType}, expr)
}
func NewFuncCall(tok token.Token, name string, args []*Node, typ *Type) *Node {
	return newNode(tok, FuncCall, typ, FuncCallNode{Name: name, Args: args}, args...)
}
func NewSubscript(tok token.Token, array, index *Node) *Node {
	var typ *Type
	if array.Typ != nil {
		typ = array.Typ.Base
	}
	return newNode(tok, Subscript, typ, SubscriptNode{Array: array, Index: index}, array, index)
}
func NewMemberAccess(tok token.Token, expr *Node, member string, typ *Type) *Node {
	return newNode(tok, MemberAccess, typ, MemberAccessNode{Expr: expr, Member: member}, expr)
}
func NewStructLit(tok token.Token, typ *Type, fields []FieldInit) *Node {
	node := newNode(tok, StructLit, typ, StructLitNode{Fields: fields})
	for _, f := range fields {
		f.Value.Parent = node
	}
	return node
}
func NewVarDecl(tok token.Token, name string, typ *Type, init *Node) *Node {
	return newNode(tok, VarDecl, typ, VarDeclNode{Name: name, Type: typ, Init: init}, init)
}
func NewAssign(tok token.Token, lhs, rhs *Node) *Node {
	return newNode(tok, Assign, nil, AssignNode{Lhs: lhs, Rhs: rhs}, lhs, rhs)
}
func NewReturn(tok token.Token, expr *Node) *Node {
	return newNode(tok, Return, nil, ReturnNode{Expr: expr}, expr)
}
func NewExprStmt(tok token.Token, expr *Node) *Node {
	return newNode(tok, ExprStmt, nil, ExprStmtNode{Expr: expr}, expr)
}
func NewIf(tok token.Token, cond, thenBody, elseBody *Node) *Node {
	return newNode(tok, If, nil, IfNode{Cond: cond, ThenBody: thenBody, ElseBody: elseBody}, cond, thenBody, elseBody)
}
func NewWhile(tok token.Token, cond, body *Node) *Node {
	return newNode(tok, While, nil, WhileNode{Cond: cond, Body: body}, cond, body)
}
func NewBlock(tok token.Token, stmts []*Node) *Node {
	return newNode(tok, Block, nil, BlockNode{Stmts: stmts}, stmts...)
}
func NewFuncDecl(tok token.Token, name string, params []Param, ret *Type, body *Node) *Node {
	return newNode(tok, FuncDecl, ret, FuncDeclNode{Name: name, Params: params, ReturnType: ret, Body: body}, body)
}
func NewExtrnDecl(tok token.Token, name string, params []Param, ret *Type, variadic bool) *Node {
	return newNode(tok, FuncDecl, ret, FuncDeclNode{Name: name, Params: params, ReturnType: ret, IsExtern: true, HasVarargs: variadic})
}

// IsLeaf reports whether an expression is lowered without the binary
// strategies: anything but a binary node, looking through prefix operators.
func IsLeaf(n *Node) bool {
	switch d := n.Data.(type) {
	case BinaryOpNode:
		return false
	case UnaryOpNode:
		return IsLeaf(d.Expr)
	case IndirectionNode:
		return IsLeaf(d.Expr)
	case AddressOfNode:
		return IsLeaf(d.LValue)
	case TypeCastNode:
		return IsLeaf(d.Expr)
	}
	return true
}
