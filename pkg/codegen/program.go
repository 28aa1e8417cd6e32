package codegen

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/samber/lo"
	"github.com/xplshn/x64gen/pkg/abi"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/config"
	"github.com/xplshn/x64gen/pkg/matrix"
)

// Output is a generated NASM translation unit.
type Output struct {
	Text     string
	Warnings []Warning
}

func signatureOf(n *ast.Node) (*abi.Signature, error) {
	d, ok := n.Data.(ast.FuncDeclNode)
	if !ok {
		return nil, newError(Internal, n, "%s is not a declaration", n)
	}
	return &abi.Signature{
		Name:     d.Name,
		Params:   lo.Map(d.Params, func(p ast.Param, _ int) *ast.Type { return p.Type }),
		Return:   d.ReturnType,
		Extern:   d.IsExtern,
		Variadic: d.HasVarargs,
	}, nil
}

// Generate lowers a checked program into NASM source. main is emitted first,
// the other methods follow in declaration order. Methods are independent and
// are generated concurrently when the parallel feature is on and more than
// one job is allowed; the output does not depend on it.
func Generate(prog *ast.Program, cfg *config.Config) (*Output, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	m, err := matrix.Default()
	if err != nil {
		return nil, wrap(Internal, nil, err)
	}

	table := abi.NewTable()
	for _, n := range prog.Externs {
		sig, err := signatureOf(n)
		if err != nil {
			return nil, err
		}
		sig.Extern = true
		if err := table.Declare(sig); err != nil {
			return nil, wrap(Resolution, n, err)
		}
	}
	sigs := make([]*abi.Signature, len(prog.Methods))
	for i, n := range prog.Methods {
		if sigs[i], err = signatureOf(n); err != nil {
			return nil, err
		}
		if err := table.Declare(sigs[i]); err != nil {
			return nil, wrap(Resolution, n, err)
		}
	}

	main := lo.IndexOf(lo.Map(sigs, func(s *abi.Signature, _ int) string { return s.Name }), "main")
	if main < 0 {
		return nil, &Error{Kind: Resolution, Msg: "program has no main method"}
	}
	order := append([]int{main}, lo.Filter(lo.Range(len(sigs)), func(i, _ int) bool { return i != main })...)

	outputs := make([]*methodOutput, len(sigs))
	errs := make([]error, len(sigs))
	jobs := 1
	if cfg.IsFeatureEnabled(config.FeatParallel) && cfg.Jobs > 1 {
		jobs = cfg.Jobs
	}
	log.Debug("generating methods", "count", len(sigs), "jobs", jobs)

	if jobs == 1 {
		for i, n := range prog.Methods {
			if outputs[i], errs[i] = lowerMethod(i, n, sigs[i], table, m, cfg); errs[i] != nil {
				break
			}
		}
	} else {
		var wg sync.WaitGroup
		sem := make(chan struct{}, jobs)
		for i, n := range prog.Methods {
			i, n := i, n
			wg.Add(1)
			go func() {
				defer wg.Done()
				sem <- struct{}{}
				defer func() { <-sem }()
				outputs[i], errs[i] = lowerMethod(i, n, sigs[i], table, m, cfg)
			}()
		}
		wg.Wait()
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	var b strings.Builder
	b.WriteString("bits 64\ndefault rel\n\nglobal main\n")
	for _, e := range table.Externs() {
		fmt.Fprintf(&b, "extern %s\n", e.Name)
	}
	b.WriteString("\nsection .text\n")

	data := NewDataSection()
	var warnings []Warning
	for _, i := range order {
		b.WriteString("\n")
		b.WriteString(outputs[i].text)
		data.Merge(outputs[i].data)
	}
	for _, out := range outputs {
		warnings = append(warnings, out.warnings...)
	}

	if len(prog.Structs) > 0 || data.Len() > 0 {
		b.WriteString("\nsection .data\n")
		for _, st := range prog.Structs {
			renderLayout(&b, st)
		}
		data.Render(&b)
	}
	return &Output{Text: b.String(), Warnings: warnings}, nil
}
