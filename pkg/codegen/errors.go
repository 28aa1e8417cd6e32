package codegen

import (
	"errors"
	"fmt"

	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/token"
)

type ErrorKind int

const (
	// Internal errors are broken invariants of the generator itself:
	// register exhaustion, unexpected result shapes, empty register stacks.
	Internal ErrorKind = iota
	// Resolution errors are references the symbol table cannot satisfy.
	Resolution
	// TypeMismatch errors are typed trees the backend cannot lower.
	TypeMismatch
)

func (k ErrorKind) String() string {
	switch k {
	case Internal:
		return "internal error"
	case Resolution:
		return "unresolved reference"
	case TypeMismatch:
		return "type error"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a code generation failure attached to the node that caused it.
type Error struct {
	Kind ErrorKind
	Tok  token.Token
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := e.Kind.String()
	if e.Tok.Line > 0 {
		s = fmt.Sprintf("%d:%d: %s", e.Tok.Line, e.Tok.Column, s)
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

func tokOf(n *ast.Node) token.Token {
	if n == nil {
		return token.Token{}
	}
	return n.Tok
}

func newError(kind ErrorKind, n *ast.Node, format string, args ...any) *Error {
	return &Error{Kind: kind, Tok: tokOf(n), Msg: fmt.Sprintf(format, args...)}
}

// wrap attaches err to n unless it already carries a position.
func wrap(kind ErrorKind, n *ast.Node, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	return &Error{Kind: kind, Tok: tokOf(n), Err: err}
}
