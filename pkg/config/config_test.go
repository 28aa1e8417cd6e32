package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/x64gen/pkg/cli"
)

func TestDefaults(t *testing.T) {
	cfg := NewConfig()
	if !cfg.IsFeatureEnabled(FeatFastPath) || cfg.IsFeatureEnabled(FeatAsmComments) {
		t.Error("unexpected default features")
	}
	if cfg.IsWarningEnabled(WarnNarrowing) || !cfg.IsWarningEnabled(WarnUnreachableCode) {
		t.Error("unexpected default warnings")
	}
	if cfg.Jobs != 1 || cfg.ShadowSpace != 32 || cfg.StackAlignment != 16 {
		t.Errorf("unexpected ABI defaults: %+v", cfg)
	}
}

func TestApplyFlag(t *testing.T) {
	cfg := NewConfig()
	cfg.ApplyFlag("-Wnarrowing")
	cfg.ApplyFlag("-Fno-fast-path")
	cfg.ApplyFlag("Fasm-comments")
	cfg.ApplyFlag("-Wno-does-not-exist")
	if !cfg.IsWarningEnabled(WarnNarrowing) {
		t.Error("-Wnarrowing did not enable the warning")
	}
	if cfg.IsFeatureEnabled(FeatFastPath) || !cfg.IsFeatureEnabled(FeatAsmComments) {
		t.Error("feature flags were not applied")
	}

	cfg.ApplyFlag("-Wno-all")
	for w := Warning(0); w < WarnCount; w++ {
		if cfg.IsWarningEnabled(w) {
			t.Errorf("warning %s still enabled after -Wno-all", cfg.Warnings[w].Name)
		}
	}
	cfg.ApplyFlag("all")
	for w := Warning(0); w < WarnCount; w++ {
		if !cfg.IsWarningEnabled(w) {
			t.Errorf("warning %s disabled after -Wall", cfg.Warnings[w].Name)
		}
	}
}

func TestSetTarget(t *testing.T) {
	tests := []struct {
		name string
		want Toolchain
	}{
		{"windows", Toolchain{Assembler: "nasm", AssemblerArgs: []string{"-f", "win64"}, Linker: "gcc", ObjectSuffix: ".obj"}},
		{"WSL", Toolchain{Assembler: "nasm", AssemblerArgs: []string{"-f", "win64"}, Linker: "x86_64-w64-mingw32-gcc", ObjectSuffix: ".obj"}},
		{"linux", Toolchain{Assembler: "nasm", AssemblerArgs: []string{"-f", "elf64"}, Linker: "gcc", LinkerArgs: []string{"-no-pie"}, ObjectSuffix: ".o"}},
	}
	for _, tt := range tests {
		cfg := NewConfig()
		if err := cfg.SetTarget(tt.name); err != nil {
			t.Fatalf("SetTarget(%q) failed: %v", tt.name, err)
		}
		if diff := cmp.Diff(tt.want, cfg.Toolchain); diff != "" {
			t.Errorf("SetTarget(%q) toolchain mismatch (-want +got):\n%s", tt.name, diff)
		}
	}
	if err := NewConfig().SetTarget("plan9"); err == nil {
		t.Error("SetTarget accepted an unknown target")
	}
}

func TestFlagGroups(t *testing.T) {
	cfg := NewConfig()
	fs := cli.NewFlagSet("x64gen")
	warnings, features := cfg.SetupFlagGroups(fs)
	if err := fs.Parse([]string{"-Wnarrowing", "-Wno-extra", "-Fasm-comments", "-Fno-parallel", "-Fparallel"}); err != nil {
		t.Fatal(err)
	}
	cfg.ApplyFlagGroups(warnings, features)

	got := map[string]bool{
		"narrowing":    cfg.IsWarningEnabled(WarnNarrowing),
		"extra":        cfg.IsWarningEnabled(WarnExtra),
		"unreachable":  cfg.IsWarningEnabled(WarnUnreachableCode),
		"asm-comments": cfg.IsFeatureEnabled(FeatAsmComments),
		"parallel":     cfg.IsFeatureEnabled(FeatParallel),
	}
	want := map[string]bool{
		"narrowing":    true,
		"extra":        false,
		"unreachable":  true,
		"asm-comments": true,
		"parallel":     false,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flag groups mismatch (-want +got):\n%s", diff)
	}
}
