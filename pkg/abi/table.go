package abi

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/xplshn/x64gen/pkg/ast"
)

type UnresolvedError struct{ Name string }

func (e *UnresolvedError) Error() string { return fmt.Sprintf("unresolved method '%s'", e.Name) }

type NoMatchingOverloadError struct {
	Name       string
	Candidates []*Signature
	Provided   []*ast.Type
}

func (e *NoMatchingOverloadError) Error() string {
	return fmt.Sprintf("no overload of '%s' accepts (%s); candidates: %s",
		e.Name, typeList(e.Provided), signatureList(e.Candidates))
}

type AmbiguousOverloadError struct {
	Name       string
	Candidates []*Signature
	Provided   []*ast.Type
}

func (e *AmbiguousOverloadError) Error() string {
	return fmt.Sprintf("call to '%s' with (%s) is ambiguous between %s",
		e.Name, typeList(e.Provided), signatureList(e.Candidates))
}

func typeList(ts []*ast.Type) string {
	return strings.Join(lo.Map(ts, func(t *ast.Type, _ int) string { return t.String() }), ", ")
}

func signatureList(sigs []*Signature) string {
	return strings.Join(lo.Map(sigs, func(s *Signature, _ int) string { return s.String() }), "; ")
}

// Table is the symbol table of callables. It is filled before generation
// starts and only read afterwards, so method contexts share it freely.
type Table struct {
	methods map[string][]*Signature
	order   []*Signature
}

func NewTable() *Table { return &Table{methods: make(map[string][]*Signature)} }

// Declare adds a signature. Two declarations with the same mangled label
// are an error, as is overloading an extern.
func (t *Table) Declare(sig *Signature) error {
	existing := t.methods[sig.Name]
	if len(existing) > 0 && (sig.Extern || existing[0].Extern) {
		return fmt.Errorf("extern '%s' cannot be overloaded", sig.Name)
	}
	if lo.ContainsBy(existing, func(s *Signature) bool { return s.Mangle() == sig.Mangle() }) {
		return fmt.Errorf("method %s declared twice", sig)
	}
	t.methods[sig.Name] = append(existing, sig)
	t.order = append(t.order, sig)
	return nil
}

// Externs returns the extern signatures in declaration order.
func (t *Table) Externs() []*Signature {
	return lo.Filter(t.order, func(s *Signature, _ int) bool { return s.Extern })
}

func accepts(sig *Signature, args []*ast.Type) bool {
	if len(args) < len(sig.Params) || (!sig.Variadic && len(args) != len(sig.Params)) {
		return false
	}
	for i, p := range sig.Params {
		if !p.Decay().Equal(args[i].Decay()) {
			return false
		}
	}
	return true
}

// Lookup resolves a call by name and argument types.
func (t *Table) Lookup(name string, args []*ast.Type) (*Signature, error) {
	candidates, ok := t.methods[name]
	if !ok {
		return nil, &UnresolvedError{Name: name}
	}
	matches := lo.Filter(candidates, func(s *Signature, _ int) bool { return accepts(s, args) })
	switch len(matches) {
	case 0:
		return nil, &NoMatchingOverloadError{Name: name, Candidates: candidates, Provided: args}
	case 1:
		return matches[0], nil
	}
	return nil, &AmbiguousOverloadError{Name: name, Candidates: matches, Provided: args}
}
