package codegen

import "github.com/xplshn/x64gen/pkg/register"

// Option tells a lowering step what shape of result its consumer wants.
// The set is closed: Value, Prepare, Lvalue and Nested.
type Option interface{ option() }

// Value accepts the cheapest form: an inline operand when one exists,
// otherwise a register taken from the top of the register stack.
type Value struct{}

// Prepare forces the result into Reg. Reg is pushed on the register stack
// for the duration of the lowering.
type Prepare struct{ Reg register.Register }

// Lvalue asks for the address of an addressable node instead of its value.
type Lvalue struct{}

// Nested asks a dereference for the address it names instead of the
// pointee. Address-of uses it so &*p costs a single load of p.
type Nested struct{}

func (Value) option()   {}
func (Prepare) option() {}
func (Lvalue) option()  {}
func (Nested) option()  {}
