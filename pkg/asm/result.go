// Package asm defines the result every lowering step hands back to its
// consumer, and the combinator consumers use to append and validate it.
package asm

import (
	"fmt"
	"strings"

	"github.com/xplshn/x64gen/pkg/register"
)

type Kind int

const (
	// KindInline: the value is directly usable as an operand and no
	// instructions were needed.
	KindInline Kind = iota
	// KindMultilineResulted: instructions were emitted and the value now
	// lives in a register.
	KindMultilineResulted
	// KindMultiline: instructions were emitted and no value is produced.
	KindMultiline
)

func (k Kind) String() string {
	switch k {
	case KindInline:
		return "Inline"
	case KindMultilineResulted:
		return "MultilineResulted"
	case KindMultiline:
		return "Multiline"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

type Result struct {
	kind    Kind
	text    string
	operand string
	reg     register.Register
}

func Inline(operand string) Result { return Result{kind: KindInline, operand: operand} }

func MultilineResulted(text string, reg register.Register) Result {
	return Result{kind: KindMultilineResulted, text: text, operand: reg.String(), reg: reg}
}

func Multiline(text string) Result { return Result{kind: KindMultiline, text: text} }

func (r Result) Kind() Kind { return r.kind }

// Text is the emitted instruction text, empty for Inline results.
func (r Result) Text() string { return r.text }

// Operand is the inline operand or the name of the holding register.
func (r Result) Operand() string { return r.operand }

// Register is the holding register of a MultilineResulted result.
func (r Result) Register() (register.Register, bool) {
	return r.reg, r.kind == KindMultilineResulted
}

// Prepend returns the result with text placed before its own.
func (r Result) Prepend(text string) Result {
	if text == "" {
		return r
	}
	if r.kind == KindInline {
		panic("asm: cannot prepend instructions to an inline result")
	}
	r.text = text + r.text
	return r
}

// UnexpectedVariance reports a result shape the consumer did not declare.
type UnexpectedVariance struct {
	Expected []Kind
	Actual   Kind
	Node     fmt.Stringer
}

func (e *UnexpectedVariance) Error() string {
	names := make([]string, len(e.Expected))
	for i, k := range e.Expected {
		names[i] = k.String()
	}
	where := "<unknown node>"
	if e.Node != nil {
		where = e.Node.String()
	}
	return fmt.Sprintf("unexpected %s result for %s, expected one of [%s]", e.Actual, where, strings.Join(names, ", "))
}

// Application carries a result through ApplyWith/Allow/For/Finish.
type Application struct {
	res     Result
	buf     *strings.Builder
	allowed []Kind
	node    fmt.Stringer
}

// ApplyWith starts consuming r into buf.
func (r Result) ApplyWith(buf *strings.Builder) *Application {
	return &Application{res: r, buf: buf}
}

func (a *Application) Allow(kinds ...Kind) *Application {
	a.allowed = append(a.allowed, kinds...)
	return a
}

// For names the node the result belongs to, for error reporting.
func (a *Application) For(node fmt.Stringer) *Application {
	a.node = node
	return a
}

// Finish appends the emitted text unconditionally. It returns the inline
// operand or the holding register name when the variant was allowed, the
// empty string for an allowed Multiline, and *UnexpectedVariance otherwise.
func (a *Application) Finish() (string, error) {
	a.buf.WriteString(a.res.text)
	for _, k := range a.allowed {
		if k == a.res.kind {
			return a.res.operand, nil
		}
	}
	return "", &UnexpectedVariance{Expected: a.allowed, Actual: a.res.kind, Node: a.node}
}
