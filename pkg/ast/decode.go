package ast

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/xplshn/x64gen/pkg/token"
)

// The interchange format written by the front end after type checking.
type wireProgram struct {
	File    string       `json:"file"`
	Structs []wireStruct `json:"structs"`
	Externs []wireMethod `json:"externs"`
	Methods []wireMethod `json:"methods"`
}

type wireStruct struct {
	Name   string      `json:"name"`
	Fields []wireParam `json:"fields"`
}

type wireParam struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type wireMethod struct {
	Name     string      `json:"name"`
	Pos      []int       `json:"pos"`
	Params   []wireParam `json:"params"`
	Ret      string      `json:"ret"`
	Variadic bool        `json:"variadic"`
	Body     []*wireNode `json:"body"`
}

type wireFieldInit struct {
	Name  string    `json:"name"`
	Value *wireNode `json:"value"`
}

type wireNode struct {
	Kind   string          `json:"kind"`
	Type   string          `json:"type"`
	Pos    []int           `json:"pos"`
	Op     string          `json:"op"`
	Value  json.Number     `json:"value"`
	Text   string          `json:"text"`
	Name   string          `json:"name"`
	Field  string          `json:"field"`
	Expr   *wireNode       `json:"expr"`
	Lhs    *wireNode       `json:"lhs"`
	Rhs    *wireNode       `json:"rhs"`
	Index  *wireNode       `json:"index"`
	Init   *wireNode       `json:"init"`
	Cond   *wireNode       `json:"cond"`
	Args   []*wireNode     `json:"args"`
	Then   []*wireNode     `json:"then"`
	Else   []*wireNode     `json:"else"`
	Body   []*wireNode     `json:"body"`
	Fields []wireFieldInit `json:"fields"`
}

// DecodeError points at the offending entry of the interchange document.
type DecodeError struct {
	Tok token.Token
	Msg string
}

func (e *DecodeError) Error() string {
	if e.Tok.Line > 0 {
		return fmt.Sprintf("%d:%d: %s", e.Tok.Line, e.Tok.Column, e.Msg)
	}
	return e.Msg
}

type decoder struct {
	structs map[string]*Type
}

// DecodeProgram reads a typed program from its JSON interchange form.
func DecodeProgram(r io.Reader) (*Program, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var wp wireProgram
	if err := dec.Decode(&wp); err != nil {
		return nil, fmt.Errorf("decoding typed AST: %w", err)
	}

	d := &decoder{structs: make(map[string]*Type)}
	prog := &Program{File: wp.File}
	for _, ws := range wp.Structs {
		if _, dup := d.structs[ws.Name]; dup {
			return nil, &DecodeError{Msg: fmt.Sprintf("struct '%s' declared twice", ws.Name)}
		}
		fields := make([]Field, 0, len(ws.Fields))
		for _, wf := range ws.Fields {
			ft, err := ParseType(wf.Type, d.structs)
			if err != nil {
				return nil, &DecodeError{Msg: fmt.Sprintf("struct '%s' field '%s': %v", ws.Name, wf.Name, err)}
			}
			fields = append(fields, Field{Name: wf.Name, Type: ft})
		}
		st := NewStruct(ws.Name, fields)
		d.structs[ws.Name] = st
		prog.Structs = append(prog.Structs, st)
	}

	for _, we := range wp.Externs {
		params, ret, err := d.signature(we)
		if err != nil {
			return nil, err
		}
		prog.Externs = append(prog.Externs, NewExtrnDecl(pos(we.Pos), we.Name, params, ret, we.Variadic))
	}

	for _, wm := range wp.Methods {
		params, ret, err := d.signature(wm)
		if err != nil {
			return nil, err
		}
		body, err := d.block(pos(wm.Pos), wm.Body)
		if err != nil {
			return nil, err
		}
		prog.Methods = append(prog.Methods, NewFuncDecl(pos(wm.Pos), wm.Name, params, ret, body))
	}
	return prog, nil
}

func pos(p []int) token.Token {
	tok := token.Token{FileIndex: 0}
	if len(p) > 0 {
		tok.Line = p[0]
	}
	if len(p) > 1 {
		tok.Column = p[1]
	}
	if len(p) > 2 {
		tok.Len = p[2]
	}
	return tok
}

func (d *decoder) typ(s string, tok token.Token) (*Type, error) {
	t, err := ParseType(s, d.structs)
	if err != nil {
		return nil, &DecodeError{Tok: tok, Msg: err.Error()}
	}
	return t, nil
}

func (d *decoder) signature(wm wireMethod) ([]Param, *Type, error) {
	tok := pos(wm.Pos)
	params := make([]Param, 0, len(wm.Params))
	for _, wp := range wm.Params {
		pt, err := d.typ(wp.Type, tok)
		if err != nil {
			return nil, nil, err
		}
		params = append(params, Param{Name: wp.Name, Type: pt})
	}
	ret := TypeVoid
	if wm.Ret != "" {
		var err error
		if ret, err = d.typ(wm.Ret, tok); err != nil {
			return nil, nil, err
		}
	}
	return params, ret, nil
}

func (d *decoder) block(tok token.Token, ws []*wireNode) (*Node, error) {
	stmts := make([]*Node, 0, len(ws))
	for _, w := range ws {
		s, err := d.stmt(w)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, s)
	}
	return NewBlock(tok, stmts), nil
}

func (d *decoder) optExpr(w *wireNode) (*Node, error) {
	if w == nil {
		return nil, nil
	}
	return d.expr(w)
}

func (d *decoder) stmt(w *wireNode) (*Node, error) {
	if w == nil {
		return nil, &DecodeError{Msg: "null statement"}
	}
	tok := pos(w.Pos)
	switch w.Kind {
	case "let":
		t, err := d.typ(w.Type, tok)
		if err != nil {
			return nil, err
		}
		init, err := d.optExpr(w.Init)
		if err != nil {
			return nil, err
		}
		return NewVarDecl(tok, w.Name, t, init), nil
	case "assign":
		lhs, err := d.expr(w.Lhs)
		if err != nil {
			return nil, err
		}
		rhs, err := d.expr(w.Rhs)
		if err != nil {
			return nil, err
		}
		return NewAssign(tok, lhs, rhs), nil
	case "return":
		e, err := d.optExpr(w.Expr)
		if err != nil {
			return nil, err
		}
		return NewReturn(tok, e), nil
	case "expr":
		e, err := d.expr(w.Expr)
		if err != nil {
			return nil, err
		}
		return NewExprStmt(tok, e), nil
	case "if":
		cond, err := d.expr(w.Cond)
		if err != nil {
			return nil, err
		}
		then, err := d.block(tok, w.Then)
		if err != nil {
			return nil, err
		}
		var els *Node
		if w.Else != nil {
			if els, err = d.block(tok, w.Else); err != nil {
				return nil, err
			}
		}
		return NewIf(tok, cond, then, els), nil
	case "while":
		cond, err := d.expr(w.Cond)
		if err != nil {
			return nil, err
		}
		body, err := d.block(tok, w.Body)
		if err != nil {
			return nil, err
		}
		return NewWhile(tok, cond, body), nil
	case "block":
		return d.block(tok, w.Body)
	}
	return nil, &DecodeError{Tok: tok, Msg: fmt.Sprintf("unknown statement kind '%s'", w.Kind)}
}

func (d *decoder) expr(w *wireNode) (*Node, error) {
	if w == nil {
		return nil, &DecodeError{Msg: "missing expression"}
	}
	tok := pos(w.Pos)
	tok.Value = w.Op

	var t *Type
	if w.Type != "" {
		var err error
		if t, err = d.typ(w.Type, tok); err != nil {
			return nil, err
		}
	}
	need := func() error {
		if t == nil {
			return &DecodeError{Tok: tok, Msg: fmt.Sprintf("%s expression has no type", w.Kind)}
		}
		return nil
	}

	switch w.Kind {
	case "int":
		if err := need(); err != nil {
			return nil, err
		}
		v, err := strconv.ParseInt(w.Value.String(), 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(w.Value.String(), 0, 64)
			if uerr != nil {
				return nil, &DecodeError{Tok: tok, Msg: fmt.Sprintf("bad integer literal '%s'", w.Value)}
			}
			v = int64(u)
		}
		return NewNumber(tok, v, t), nil
	case "float":
		if err := need(); err != nil {
			return nil, err
		}
		v, err := w.Value.Float64()
		if err != nil {
			return nil, &DecodeError{Tok: tok, Msg: fmt.Sprintf("bad float literal '%s'", w.Value)}
		}
		return NewFloat(tok, v, t), nil
	case "bool":
		return NewBool(tok, w.Value.String() == "1" || w.Text == "true"), nil
	case "string":
		return NewString(tok, w.Text), nil
	case "ident":
		if err := need(); err != nil {
			return nil, err
		}
		return NewIdent(tok, w.Name, t), nil
	case "binary":
		if err := need(); err != nil {
			return nil, err
		}
		op, ok := token.OpMap[w.Op]
		if !ok {
			return nil, &DecodeError{Tok: tok, Msg: fmt.Sprintf("unknown binary operator '%s'", w.Op)}
		}
		lhs, err := d.expr(w.Lhs)
		if err != nil {
			return nil, err
		}
		rhs, err := d.expr(w.Rhs)
		if err != nil {
			return nil, err
		}
		return NewBinaryOp(tok, op, lhs, rhs, t), nil
	case "unary":
		op, ok := token.OpMap[w.Op]
		if !ok || (op != token.Minus && op != token.Not && op != token.Complement) {
			return nil, &DecodeError{Tok: tok, Msg: fmt.Sprintf("unknown unary operator '%s'", w.Op)}
		}
		e, err := d.expr(w.Expr)
		if err != nil {
			return nil, err
		}
		return NewUnaryOp(tok, op, e), nil
	case "deref":
		e, err := d.expr(w.Expr)
		if err != nil {
			return nil, err
		}
		if !e.Typ.IsPointer() {
			return nil, &DecodeError{Tok: tok, Msg: "dereference of non-pointer"}
		}
		return NewIndirection(tok, e), nil
	case "addr":
		e, err := d.expr(w.Expr)
		if err != nil {
			return nil, err
		}
		return NewAddressOf(tok, e), nil
	case "cast":
		if err := need(); err != nil {
			return nil, err
		}
		e, err := d.expr(w.Expr)
		if err != nil {
			return nil, err
		}
		return NewTypeCast(tok, e, t), nil
	case "call":
		if t == nil {
			t = TypeVoid
		}
		args := make([]*Node, 0, len(w.Args))
		for _, wa := range w.Args {
			a, err := d.expr(wa)
			if err != nil {
				return nil, err
			}
			args = append(args, a)
		}
		return NewFuncCall(tok, w.Name, args, t), nil
	case "index":
		base, err := d.expr(w.Expr)
		if err != nil {
			return nil, err
		}
		idx, err := d.expr(w.Index)
		if err != nil {
			return nil, err
		}
		if !base.Typ.IsArray() && !base.Typ.IsPointer() {
			return nil, &DecodeError{Tok: tok, Msg: "indexing a value that is neither array nor pointer"}
		}
		return NewSubscript(tok, base, idx), nil
	case "member":
		e, err := d.expr(w.Expr)
		if err != nil {
			return nil, err
		}
		st := e.Typ
		if st.IsPointer() {
			st = st.Base
		}
		if !st.IsStruct() {
			return nil, &DecodeError{Tok: tok, Msg: fmt.Sprintf("member access '.%s' on non-struct", w.Field)}
		}
		f, ok := st.Field(w.Field)
		if !ok {
			return nil, &DecodeError{Tok: tok, Msg: fmt.Sprintf("struct '%s' has no field '%s'", st.Name, w.Field)}
		}
		return NewMemberAccess(tok, e, w.Field, f.Type), nil
	case "struct":
		if err := need(); err != nil {
			return nil, err
		}
		inits := make([]FieldInit, 0, len(w.Fields))
		for _, wf := range w.Fields {
			v, err := d.expr(wf.Value)
			if err != nil {
				return nil, err
			}
			inits = append(inits, FieldInit{Name: wf.Name, Value: v})
		}
		return NewStructLit(tok, t, inits), nil
	}
	return nil, &DecodeError{Tok: tok, Msg: fmt.Sprintf("unknown expression kind '%s'", w.Kind)}
}
