package codegen

import (
	"bytes"

	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/config"
	"github.com/xplshn/x64gen/pkg/util"
)

// Backend is the interface that all code generation backends must implement.
type Backend interface {
	// Generate takes a checked program and a configuration, and produces the
	// target assembly as a byte buffer.
	Generate(prog *ast.Program, cfg *config.Config) (*bytes.Buffer, error)
}

type nasmBackend struct {
	report func(cfg *config.Config, w Warning)
}

// NewNASMBackend returns the Windows x64 NASM backend. Warnings are printed
// through util.Warn.
func NewNASMBackend() Backend {
	return &nasmBackend{report: func(cfg *config.Config, w Warning) {
		util.Warn(cfg, w.Kind, w.Tok, "%s", w.Msg)
	}}
}

func (b *nasmBackend) Generate(prog *ast.Program, cfg *config.Config) (*bytes.Buffer, error) {
	out, err := Generate(prog, cfg)
	if err != nil {
		return nil, err
	}
	for _, w := range out.Warnings {
		b.report(cfg, w)
	}
	return bytes.NewBufferString(out.Text), nil
}
