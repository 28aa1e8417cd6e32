package codegen

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/samber/lo"
	"github.com/xplshn/x64gen/pkg/abi"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/config"
	"github.com/xplshn/x64gen/pkg/matrix"
	"github.com/xplshn/x64gen/pkg/register"
	"github.com/xplshn/x64gen/pkg/token"
	"github.com/xplshn/x64gen/pkg/util"
)

// Variable is a frame slot. It lives at [rbp - Offset]; for arrays ByteSize
// is the element size and Count the number of elements.
type Variable struct {
	Offset   int64
	ByteSize int64
	Count    int64
	Type     *ast.Type
}

// Warning is a diagnostic recorded while lowering.
type Warning struct {
	Kind config.Warning
	Tok  token.Token
	Msg  string
}

// Context is the mutable state of one method body. It is never shared:
// concurrent generation gives every method its own Context.
type Context struct {
	methodID      int
	position      int64
	variables     map[string]Variable
	registerToUse []register.Register
	labelCount    int
	data          *DataSection

	table  *abi.Table
	matrix *matrix.Matrix
	cfg    *config.Config
	sig    *abi.Signature

	retLabel  string
	pushes    int
	pops      int
	depth     int64
	clobbered map[register.Family]bool
	warnings  []Warning

	locals     []local
	referenced map[int64]bool
}

// local is a let binding, kept for the unused variable warning.
type local struct {
	name   string
	offset int64
	node   *ast.Node
}

func NewContext(methodID int, sig *abi.Signature, table *abi.Table, m *matrix.Matrix, cfg *config.Config) *Context {
	return &Context{
		methodID:  methodID,
		variables: make(map[string]Variable),
		data:      NewDataSection(),
		table:     table,
		matrix:    m,
		cfg:       cfg,
		sig:       sig,
		retLabel:  fmt.Sprintf(".L%d_ret", methodID),
		clobbered: make(map[register.Family]bool),

		referenced: make(map[int64]bool),
	}
}

func (c *Context) PushRegister(r register.Register) { c.registerToUse = append(c.registerToUse, r) }

func (c *Context) PopRegister() (register.Register, error) {
	r, err := c.LastRegister()
	if err != nil {
		return r, err
	}
	c.registerToUse = c.registerToUse[:len(c.registerToUse)-1]
	return r, nil
}

// LastRegister is the register the innermost consumer wants its value in.
func (c *Context) LastRegister() (register.Register, error) {
	if len(c.registerToUse) == 0 {
		return register.Register{}, &Error{Kind: Internal, Msg: "register stack is empty"}
	}
	return c.registerToUse[len(c.registerToUse)-1], nil
}

func (c *Context) inUse(f register.Family) bool {
	return lo.ContainsBy(c.registerToUse, func(r register.Register) bool { return r.Family == f })
}

// FreeRegister returns the first register of the class that no pending
// computation holds. Callee-saved registers it hands out are recorded so the
// method saves them.
func (c *Context) FreeRegister(float bool, size int, exclude ...register.Register) (register.Register, error) {
	return c.freeRegister(float, size, true, exclude...)
}

// freeRegister without touch leaves the callee-saved bookkeeping to the
// caller, for registers that may end up unused.
func (c *Context) freeRegister(float bool, size int, touch bool, exclude ...register.Register) (register.Register, error) {
	it, err := register.IterFor(float, size)
	if err != nil {
		return register.Register{}, err
	}
	for r, ok := it.Next(); ok; r, ok = it.Next() {
		if c.inUse(r.Family) || lo.ContainsBy(exclude, r.Same) {
			continue
		}
		if touch {
			c.touch(r.Family)
		}
		return r, nil
	}
	class := "general purpose"
	if float {
		class = "float"
	}
	return register.Register{}, fmt.Errorf("%w: no free %d-byte %s register", register.ErrExhausted, size, class)
}

func (c *Context) touch(f register.Family) {
	if register.IsCalleeSaved(f) {
		c.clobbered[f] = true
	}
}

// Allocate reserves a frame slot for a named variable, aligned to its type.
func (c *Context) Allocate(name string, t *ast.Type) Variable {
	v := Variable{Offset: c.Reserve(t.Size(), t.Align()), ByteSize: t.Size(), Count: 1, Type: t}
	if t.IsArray() {
		v.ByteSize, v.Count = t.Base.Size(), t.Len
	}
	c.variables[name] = v
	return v
}

// Reserve returns the offset of an anonymous slot of size bytes.
func (c *Context) Reserve(size, align int64) int64 {
	c.position = util.AlignUp(c.position+max(size, 1), max(align, 1))
	return c.position
}

// Lookup finds a variable in scope and marks its slot as referenced.
func (c *Context) Lookup(name string) (Variable, bool) {
	v, ok := c.variables[name]
	if ok {
		c.referenced[v.Offset] = true
	}
	return v, ok
}

// warnUnused reports the locals whose slot nothing ever referenced.
func (c *Context) warnUnused() {
	for _, l := range c.locals {
		if !c.referenced[l.offset] {
			c.warn(config.WarnExtra, l.node, "variable '%s' is declared but never used", l.name)
		}
	}
}

// shadowSpace is the register home area a caller reserves for its callee.
func (c *Context) shadowSpace() int64 {
	if c.cfg == nil {
		return abi.ShadowSpace
	}
	return int64(c.cfg.ShadowSpace)
}

func (c *Context) stackAlignment() int64 {
	if c.cfg == nil {
		return 16
	}
	return int64(c.cfg.StackAlignment)
}

func (c *Context) newLabel() string {
	c.labelCount++
	return fmt.Sprintf(".L%d_%d", c.methodID, c.labelCount)
}

// enterScope returns a restore function for the variable table. Frame slots
// are not reused after the scope ends.
func (c *Context) enterScope() func() {
	saved := maps.Clone(c.variables)
	return func() { c.variables = saved }
}

func (c *Context) warn(kind config.Warning, n *ast.Node, format string, args ...any) {
	if c.cfg != nil && !c.cfg.IsWarningEnabled(kind) {
		return
	}
	c.warnings = append(c.warnings, Warning{Kind: kind, Tok: tokOf(n), Msg: fmt.Sprintf(format, args...)})
}

func (c *Context) feature(f config.Feature) bool { return c.cfg != nil && c.cfg.IsFeatureEnabled(f) }

// emitPush saves r on the machine stack. Float registers are stored as
// doubles into an 8-byte slot.
func (c *Context) emitPush(b *strings.Builder, r register.Register) {
	c.pushes++
	c.depth += 8
	if r.IsFloat() {
		ins(b, "sub rsp, 8")
		ins(b, "movsd qword [rsp], %s", r)
		return
	}
	ins(b, "push %s", r.To(8))
}

func (c *Context) emitPop(b *strings.Builder, r register.Register) {
	c.pops++
	c.depth -= 8
	if r.IsFloat() {
		ins(b, "movsd %s, qword [rsp]", r)
		ins(b, "add rsp, 8")
		return
	}
	ins(b, "pop %s", r.To(8))
}

// zero clears a register whose value was just spilled.
func zero(b *strings.Builder, r register.Register) {
	if r.IsFloat() {
		ins(b, "xorps %s, %s", r, r)
		return
	}
	ins(b, "xor %s, %s", r.To(4), r.To(4))
}

// liveVolatile lists the families on the register stack a call clobbers,
// without duplicates and without the families in keep.
func (c *Context) liveVolatile(keep ...register.Family) []register.Register {
	var out []register.Register
	for _, r := range c.registerToUse {
		if !register.IsVolatile(r.Family) || slices.Contains(keep, r.Family) {
			continue
		}
		if lo.ContainsBy(out, r.Same) {
			continue
		}
		out = append(out, r.To(8))
	}
	return out
}

// savedFamilies is the sorted list of callee-saved families the body used.
func (c *Context) savedFamilies() []register.Family {
	fams := lo.Keys(c.clobbered)
	slices.Sort(fams)
	return fams
}

func ins(b *strings.Builder, format string, args ...any) {
	b.WriteString("    ")
	fmt.Fprintf(b, format, args...)
	b.WriteByte('\n')
}

func emitLabel(b *strings.Builder, l string) {
	b.WriteString(l)
	b.WriteString(":\n")
}
