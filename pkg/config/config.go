package config

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/xplshn/x64gen/pkg/cli"
)

type Feature int

const (
	FeatFastPath Feature = iota
	FeatAsmComments
	FeatParallel
	FeatCount
)

type Warning int

const (
	WarnNarrowing Warning = iota
	WarnFloatPrecision
	WarnUnreachableCode
	WarnExtra
	WarnCount
)

type Info struct {
	Name        string
	Enabled     bool
	Description string
}

// Target is the operating system the produced assembly is assembled and
// linked for. Code generation always follows the Windows x64 ABI; the target
// only selects the toolchain.
type Target int

const (
	TargetWindows Target = iota
	TargetLinux
	TargetWSL
)

var targetNames = map[string]Target{"windows": TargetWindows, "linux": TargetLinux, "wsl": TargetWSL}

func (t Target) String() string {
	for name, v := range targetNames {
		if v == t {
			return name
		}
	}
	return "unknown"
}

// Toolchain holds the external commands used to turn the emitted text into
// an executable.
type Toolchain struct {
	Assembler     string
	AssemblerArgs []string
	Linker        string
	LinkerArgs    []string
	ObjectSuffix  string
}

type Config struct {
	Features       map[Feature]Info
	Warnings       map[Warning]Info
	FeatureMap     map[string]Feature
	WarningMap     map[string]Warning
	Target         Target
	Toolchain      Toolchain
	StackAlignment int
	ShadowSpace    int
	Jobs           int
	LinkerArgs     []string
}

func NewConfig() *Config {
	cfg := &Config{
		Features:       make(map[Feature]Info),
		Warnings:       make(map[Warning]Info),
		FeatureMap:     make(map[string]Feature),
		WarningMap:     make(map[string]Warning),
		StackAlignment: 16,
		ShadowSpace:    32,
		Jobs:           1,
	}

	features := map[Feature]Info{
		FeatFastPath:    {"fast-path", true, "Evaluate four-leaf expressions into four registers without spilling."},
		FeatAsmComments: {"asm-comments", false, "Annotate the emitted assembly with the source statement of each block."},
		FeatParallel:    {"parallel", true, "Generate method bodies concurrently when more than one job is allowed."},
	}

	warnings := map[Warning]Info{
		WarnNarrowing:       {"narrowing", false, "Warn on casts that drop significant bits."},
		WarnFloatPrecision:  {"float-precision", true, "Warn on conversions that lose floating point precision."},
		WarnUnreachableCode: {"unreachable-code", true, "Warn about statements after a return."},
		WarnExtra:           {"extra", true, "Enable extra miscellaneous warnings."},
	}

	cfg.Features, cfg.Warnings = features, warnings
	for ft, info := range features {
		cfg.FeatureMap[info.Name] = ft
	}
	for wt, info := range warnings {
		cfg.WarningMap[info.Name] = wt
	}
	_ = cfg.SetTarget("")
	return cfg
}

// SetTarget selects the toolchain for a target name. An empty name picks the
// host: windows on Windows, linux elsewhere.
func (c *Config) SetTarget(name string) error {
	if name == "" {
		name = "linux"
		if runtime.GOOS == "windows" {
			name = "windows"
		}
	}
	t, ok := targetNames[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unsupported target '%s'. Supported: 'windows', 'linux', 'wsl'", name)
	}
	c.Target = t

	switch t {
	case TargetWindows:
		c.Toolchain = Toolchain{Assembler: "nasm", AssemblerArgs: []string{"-f", "win64"}, Linker: "gcc", ObjectSuffix: ".obj"}
	case TargetWSL:
		c.Toolchain = Toolchain{Assembler: "nasm", AssemblerArgs: []string{"-f", "win64"}, Linker: "x86_64-w64-mingw32-gcc", ObjectSuffix: ".obj"}
	case TargetLinux:
		c.Toolchain = Toolchain{Assembler: "nasm", AssemblerArgs: []string{"-f", "elf64"}, Linker: "gcc", LinkerArgs: []string{"-no-pie"}, ObjectSuffix: ".o"}
	}
	return nil
}

func (c *Config) SetFeature(ft Feature, enabled bool) {
	if info, ok := c.Features[ft]; ok {
		info.Enabled = enabled
		c.Features[ft] = info
	}
}

func (c *Config) IsFeatureEnabled(ft Feature) bool { return c.Features[ft].Enabled }

func (c *Config) SetWarning(wt Warning, enabled bool) {
	if info, ok := c.Warnings[wt]; ok {
		info.Enabled = enabled
		c.Warnings[wt] = info
	}
}

func (c *Config) IsWarningEnabled(wt Warning) bool { return c.Warnings[wt].Enabled }

// ApplyFlag applies a single -W/-F style flag such as -Wno-extra or -Ffast-path.
func (c *Config) ApplyFlag(flag string) {
	trimmed := strings.TrimPrefix(flag, "-")
	isNo := strings.HasPrefix(trimmed, "Wno-") || strings.HasPrefix(trimmed, "Fno-")
	enable := !isNo

	var name string
	var isWarning bool

	switch {
	case strings.HasPrefix(trimmed, "W"):
		name = strings.TrimPrefix(trimmed, "W")
		isWarning = true
	case strings.HasPrefix(trimmed, "F"):
		name = strings.TrimPrefix(trimmed, "F")
	default:
		name = trimmed
		isWarning = true
	}
	if isNo {
		name = strings.TrimPrefix(name, "no-")
	}

	if name == "all" && isWarning {
		for i := Warning(0); i < WarnCount; i++ {
			c.SetWarning(i, enable)
		}
		return
	}

	if isWarning {
		if w, ok := c.WarningMap[name]; ok {
			c.SetWarning(w, enable)
		}
	} else if f, ok := c.FeatureMap[name]; ok {
		c.SetFeature(f, enable)
	}
}

// SetupFlagGroups registers -W<warning>/-F<feature> flags on fs. The returned
// entries are indexed by Warning and Feature and hold the parsed state.
func (c *Config) SetupFlagGroups(fs *cli.FlagSet) (warnings, features []cli.FlagGroupEntry) {
	for i := Warning(0); i < WarnCount; i++ {
		info := c.Warnings[i]
		enabled, disabled := info.Enabled, false
		warnings = append(warnings, cli.FlagGroupEntry{Name: info.Name, Prefix: "W", Usage: info.Description, Enabled: &enabled, Disabled: &disabled})
	}
	for i := Feature(0); i < FeatCount; i++ {
		info := c.Features[i]
		enabled, disabled := info.Enabled, false
		features = append(features, cli.FlagGroupEntry{Name: info.Name, Prefix: "F", Usage: info.Description, Enabled: &enabled, Disabled: &disabled})
	}
	fs.AddFlagGroup("Warnings", "Diagnostics the code generator may report.", "warning", "Available Warnings:", warnings)
	fs.AddFlagGroup("Features", "Code generation behaviours.", "feature", "Available Features:", features)
	return warnings, features
}

// ApplyFlagGroups copies the parsed group flags back into the tables. A
// -Wno-/-Fno- flag wins over the enabling form.
func (c *Config) ApplyFlagGroups(warnings, features []cli.FlagGroupEntry) {
	for i, e := range warnings {
		c.SetWarning(Warning(i), *e.Enabled && !*e.Disabled)
	}
	for i, e := range features {
		c.SetFeature(Feature(i), *e.Enabled && !*e.Disabled)
	}
}
