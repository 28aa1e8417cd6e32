package codegen

import (
	"strings"

	"github.com/charmbracelet/log"
	"github.com/xplshn/x64gen/pkg/abi"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/config"
	"github.com/xplshn/x64gen/pkg/matrix"
	"github.com/xplshn/x64gen/pkg/register"
	"github.com/xplshn/x64gen/pkg/util"
)

// methodOutput is everything one method contributes to the program.
type methodOutput struct {
	text     string
	data     *DataSection
	warnings []Warning
}

// savedSlot is the frame slot a callee-saved register is preserved in.
type savedSlot struct {
	reg register.Register
	off int64
}

func (s savedSlot) save(b *strings.Builder) {
	at := address{base: "rbp", disp: -s.off}
	if s.reg.IsFloat() {
		ins(b, "movdqu oword %s, %s", at, s.reg)
		return
	}
	ins(b, "mov %s, %s", memory(8, at), s.reg)
}

func (s savedSlot) restore(b *strings.Builder) {
	at := address{base: "rbp", disp: -s.off}
	if s.reg.IsFloat() {
		ins(b, "movdqu %s, oword %s", s.reg, at)
		return
	}
	ins(b, "mov %s, %s", s.reg, memory(8, at))
}

// lowerMethod generates one method body with its prologue and epilogue.
// The body is lowered first: the frame size and the callee-saved registers
// to preserve are only known afterwards.
func lowerMethod(id int, n *ast.Node, sig *abi.Signature, table *abi.Table, m *matrix.Matrix, cfg *config.Config) (*methodOutput, error) {
	d, ok := n.Data.(ast.FuncDeclNode)
	if !ok {
		return nil, newError(Internal, n, "%s is not a method", n)
	}
	if d.ReturnType.IsStruct() || d.ReturnType.IsArray() {
		return nil, newError(TypeMismatch, n, "'%s' cannot return %s by value", d.Name, d.ReturnType)
	}
	c := NewContext(id, sig, table, m, cfg)

	var body strings.Builder
	if err := c.lowerParams(&body, d); err != nil {
		return nil, err
	}
	if d.Body != nil {
		stmts := []*ast.Node{d.Body}
		if blk, ok := d.Body.Data.(ast.BlockNode); ok {
			stmts = blk.Stmts
		}
		if err := c.lowerBlock(&body, stmts, true); err != nil {
			return nil, err
		}
	}
	if c.pushes != c.pops || c.depth != 0 || len(c.registerToUse) != 0 {
		return nil, newError(Internal, n, "unbalanced stack in '%s': %d pushes, %d pops, %d registers held",
			d.Name, c.pushes, c.pops, len(c.registerToUse))
	}

	var saves []savedSlot
	for _, f := range c.savedFamilies() {
		s := savedSlot{reg: register.Register{Family: f, Size: 8}}
		if f.IsFloat() {
			s.off = c.Reserve(16, 16)
		} else {
			s.off = c.Reserve(8, 8)
		}
		saves = append(saves, s)
	}
	c.warnUnused()
	frame := util.AlignUp(util.NextPowerOfTwo(c.position+c.shadowSpace()), c.stackAlignment())
	log.Debug("lowered method", "method", sig.Mangle(), "frame", frame, "saved", len(saves))

	var b strings.Builder
	emitLabel(&b, sig.Mangle())
	ins(&b, "push rbp")
	ins(&b, "mov rbp, rsp")
	ins(&b, "sub rsp, %d", frame)
	for _, s := range saves {
		s.save(&b)
	}
	b.WriteString(body.String())
	emitLabel(&b, c.retLabel)
	for i := len(saves) - 1; i >= 0; i-- {
		saves[i].restore(&b)
	}
	ins(&b, "leave")
	ins(&b, "ret")

	return &methodOutput{text: b.String(), data: c.data, warnings: c.warnings}, nil
}

// lowerParams copies the incoming arguments into frame slots: the first four
// from their lanes, the rest from the caller's argument area above the
// return address.
func (c *Context) lowerParams(b *strings.Builder, d ast.FuncDeclNode) error {
	for i, p := range d.Params {
		t := p.Type.Decay()
		if !t.IsScalar() {
			return newError(TypeMismatch, nil, "parameter '%s' of '%s' has type %s and must be passed by pointer", p.Name, d.Name, t)
		}
		size := regSize(t)
		v := c.Allocate(p.Name, t)
		dst := memory(size, address{base: "rbp", disp: -v.Offset})
		if i < abi.LaneCount {
			lane := register.Register{Family: register.IntLanes[i], Size: size}
			if t.IsFloat() {
				lane.Family = register.FloatLanes[i]
			}
			store(b, dst, lane)
			continue
		}
		tmp := register.Scratch.To(size)
		ins(b, "mov %s, %s", tmp, memory(size, address{base: "rbp", disp: 16 + int64(i)*abi.SlotSize}))
		ins(b, "mov %s, %s", dst, tmp)
	}
	return nil
}
