package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/xplshn/x64gen/pkg/ast"
	"github.com/xplshn/x64gen/pkg/cli"
	"github.com/xplshn/x64gen/pkg/codegen"
	"github.com/xplshn/x64gen/pkg/config"
	"github.com/xplshn/x64gen/pkg/token"
	"github.com/xplshn/x64gen/pkg/util"
)

func main() {
	app := cli.NewApp("x64gen")
	app.Synopsis = "[options] <program.json>"
	app.Description = "A Windows x64 NASM backend. Reads a type-checked program and emits assembly, then assembles and links it."
	app.Authors = []string{"xplshn"}
	app.Repository = "<https://github.com/xplshn/x64gen>"
	app.Since = 2025

	var (
		outFile    string
		target     string
		asmOnly    bool
		verbose    bool
		jobs       int
		linkerArgs []string
		rawWarns   []string
	)

	fs := app.FlagSet
	fs.String(&outFile, "output", "o", "", "Place the output into <file>.", "file")
	fs.String(&target, "target", "t", "", "Select the assembler and linker: windows, linux or wsl.", "target")
	fs.Bool(&asmOnly, "asm", "S", false, "Stop after generating assembly.")
	fs.Bool(&verbose, "verbose", "v", false, "Log every pipeline stage.")
	fs.Int(&jobs, "jobs", "j", 1, "Generate up to <n> methods concurrently.", "n")
	fs.List(&linkerArgs, "linker-arg", "L", []string{}, "Pass an argument to the linker.", "arg")

	cfg := config.NewConfig()
	warningFlags, featureFlags := cfg.SetupFlagGroups(fs)
	fs.Special(&rawWarns, "W", "Set warnings by name (e.g., -Wall, -Wno-all)", "warning")

	app.Action = func(inputs []string) error {
		if verbose {
			log.SetLevel(log.DebugLevel)
		}
		cfg.ApplyFlagGroups(warningFlags, featureFlags)
		for _, w := range rawWarns {
			cfg.ApplyFlag("-W" + w)
		}
		if err := cfg.SetTarget(target); err != nil {
			util.Error(token.Token{}, "%v", err)
		}
		cfg.Jobs = max(jobs, 1)
		cfg.LinkerArgs = append(cfg.LinkerArgs, linkerArgs...)

		if len(inputs) != 1 {
			util.Error(token.Token{}, "expected exactly one input program, got %d", len(inputs))
		}
		prog := readProgram(inputs[0])
		log.Info("generating", "input", inputs[0], "target", cfg.Target, "methods", len(prog.Methods), "jobs", cfg.Jobs)

		out, err := codegen.NewNASMBackend().Generate(prog, cfg)
		if err != nil {
			reportError(err)
		}

		base := strings.TrimSuffix(inputs[0], filepath.Ext(inputs[0]))
		if asmOnly {
			if outFile == "" {
				outFile = base + ".asm"
			}
			if err := os.WriteFile(outFile, out.Bytes(), 0o644); err != nil {
				util.Error(token.Token{}, "could not write '%s': %v", outFile, err)
			}
			log.Info("wrote assembly", "file", outFile)
			return nil
		}

		if outFile == "" {
			outFile = "a.out"
			if cfg.Target != config.TargetLinux {
				outFile = "a.exe"
			}
		}
		log.Info("linking", "output", outFile, "assembler", cfg.Toolchain.Assembler, "linker", cfg.Toolchain.Linker)
		if err := assembleAndLink(outFile, out.String(), cfg); err != nil {
			util.Error(token.Token{}, "assembler/linker failed: %v", err)
		}
		return nil
	}

	if err := app.Run(os.Args[1:]); err != nil {
		os.Exit(1)
	}
}

// readProgram decodes the interchange file and registers the source file it
// names, when readable, for caret diagnostics.
func readProgram(path string) *ast.Program {
	f, err := os.Open(path)
	if err != nil {
		util.Error(token.Token{FileIndex: -1}, "could not read file '%s': %v", path, err)
	}
	defer f.Close()

	prog, err := ast.DecodeProgram(f)
	if err != nil {
		util.Error(token.Token{FileIndex: -1}, "%s: %v", path, err)
	}
	record := util.SourceFileRecord{Name: path}
	if prog.File != "" {
		record.Name = prog.File
		if content, err := os.ReadFile(prog.File); err == nil {
			record.Content = []rune(string(content))
		}
	}
	util.SetSourceFiles([]util.SourceFileRecord{record})
	return prog
}

func reportError(err error) {
	var ce *codegen.Error
	if !errors.As(err, &ce) {
		util.Error(token.Token{}, "code generation failed: %v", err)
	}
	msg := ce.Kind.String()
	if ce.Msg != "" {
		msg += ": " + ce.Msg
	}
	if ce.Err != nil {
		msg += ": " + ce.Err.Error()
	}
	util.Error(ce.Tok, "%s", msg)
}

func assembleAndLink(outFile, mainAsm string, cfg *config.Config) error {
	asmFile, err := os.CreateTemp("", "x64gen-*.asm")
	if err != nil {
		return fmt.Errorf("failed to create temp file for asm: %w", err)
	}
	defer os.Remove(asmFile.Name())
	if _, err := asmFile.WriteString(mainAsm); err != nil {
		return fmt.Errorf("failed to write to temp file for asm: %w", err)
	}
	asmFile.Close()

	tc := cfg.Toolchain
	objFile := strings.TrimSuffix(asmFile.Name(), ".asm") + tc.ObjectSuffix
	defer os.Remove(objFile)

	asArgs := append(append([]string{}, tc.AssemblerArgs...), "-o", objFile, asmFile.Name())
	if output, err := exec.Command(tc.Assembler, asArgs...).CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w\nOutput:\n%s", tc.Assembler, err, string(output))
	}

	ldArgs := append(append([]string{}, tc.LinkerArgs...), "-o", outFile, objFile)
	ldArgs = append(ldArgs, cfg.LinkerArgs...)
	if output, err := exec.Command(tc.Linker, ldArgs...).CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %w\nOutput:\n%s", tc.Linker, err, string(output))
	}
	return nil
}
