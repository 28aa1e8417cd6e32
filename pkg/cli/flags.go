// Package cli is a small flag parser with grouped -W/-F style switches and
// generated usage and help pages.
package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is the storage behind a flag.
type Value interface {
	String() string
	Set(string) error
}

// value adapts a typed destination to Value through a parse and a format
// function.
type value[T any] struct {
	p      *T
	parse  func(cur T, s string) (T, error)
	format func(T) string
}

func (v *value[T]) Set(s string) error {
	n, err := v.parse(*v.p, s)
	if err != nil {
		return err
	}
	*v.p = n
	return nil
}

func (v *value[T]) String() string { return v.format(*v.p) }

// boolFlag marks values that do not consume the next argument.
type boolFlag struct{ value[bool] }

func newBool(p *bool) *boolFlag {
	return &boolFlag{value[bool]{p: p, format: strconv.FormatBool, parse: func(_ bool, s string) (bool, error) {
		if s == "" {
			return true, nil
		}
		b, err := strconv.ParseBool(s)
		if err != nil {
			return false, fmt.Errorf("invalid boolean value '%s': %w", s, err)
		}
		return b, nil
	}}}
}

func newList(p *[]string) *value[[]string] {
	return &value[[]string]{
		p:      p,
		parse:  func(cur []string, s string) ([]string, error) { return append(cur, s), nil },
		format: func(l []string) string { return strings.Join(l, ", ") },
	}
}

type Flag struct {
	Name         string
	Shorthand    string
	Usage        string
	Value        Value
	DefValue     string
	ExpectedType string
}

type FlagGroup struct {
	Name                 string
	Description          string
	Flags                []FlagGroupEntry
	GroupType            string
	AvailableFlagsHeader string
}

// FlagGroupEntry is one switch of a group. It defines the flags
// -<Prefix><Name> and -<Prefix>no-<Name>.
type FlagGroupEntry struct {
	Name     string
	Prefix   string
	Usage    string
	Enabled  *bool
	Disabled *bool
}

type FlagSet struct {
	name          string
	flags         map[string]*Flag
	shorthands    map[string]*Flag
	specialPrefix map[string]*Flag
	args          []string
	flagGroups    []FlagGroup
}

func NewFlagSet(name string) *FlagSet {
	return &FlagSet{
		name:          name,
		flags:         make(map[string]*Flag),
		shorthands:    make(map[string]*Flag),
		specialPrefix: make(map[string]*Flag),
	}
}

// Args are the operands left after Parse.
func (f *FlagSet) Args() []string { return f.args }

func (f *FlagSet) String(p *string, name, shorthand, def, usage, expectedType string) {
	*p = def
	v := &value[string]{
		p:      p,
		parse:  func(_, s string) (string, error) { return s, nil },
		format: func(s string) string { return s },
	}
	f.Var(v, name, shorthand, usage, def, expectedType)
}

func (f *FlagSet) Bool(p *bool, name, shorthand string, def bool, usage string) {
	*p = def
	f.Var(newBool(p), name, shorthand, usage, strconv.FormatBool(def), "")
}

func (f *FlagSet) Int(p *int, name, shorthand string, def int, usage, expectedType string) {
	*p = def
	v := &value[int]{p: p, format: strconv.Itoa, parse: func(_ int, s string) (int, error) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("invalid integer value '%s' for --%s: %w", s, name, err)
		}
		return n, nil
	}}
	f.Var(v, name, shorthand, usage, strconv.Itoa(def), expectedType)
}

// List collects every occurrence of the flag in order.
func (f *FlagSet) List(p *[]string, name, shorthand string, def []string, usage, expectedType string) {
	*p = def
	f.Var(newList(p), name, shorthand, usage, fmt.Sprintf("%v", def), expectedType)
}

// Special registers a prefix flag: every argument starting with -<prefix>
// that is not a flag of its own is appended to p with the prefix removed.
func (f *FlagSet) Special(p *[]string, prefix, usage, expectedType string) {
	*p = []string{}
	f.Var(newList(p), prefix, "", usage, "", expectedType)
	f.specialPrefix[prefix] = f.flags[prefix]
}

// AddFlagGroup registers the enable and disable switch of every entry and
// lists them together on the help page.
func (f *FlagSet) AddFlagGroup(name, description, groupType, availableFlagsHeader string, entries []FlagGroupEntry) {
	for _, e := range entries {
		if e.Enabled != nil {
			f.Bool(e.Enabled, e.Prefix+e.Name, "", *e.Enabled, e.Usage)
		}
		if e.Disabled != nil {
			f.Bool(e.Disabled, e.Prefix+"no-"+e.Name, "", *e.Disabled, "Disable '"+e.Name+"'")
		}
	}
	f.flagGroups = append(f.flagGroups, FlagGroup{
		Name:                 name,
		Description:          description,
		Flags:                entries,
		GroupType:            groupType,
		AvailableFlagsHeader: availableFlagsHeader,
	})
}

// Var registers a flag. Registering a name or shorthand twice panics.
func (f *FlagSet) Var(v Value, name, shorthand, usage, defValue, expectedType string) {
	if name == "" {
		panic("flag name cannot be empty")
	}
	if _, ok := f.flags[name]; ok {
		panic(fmt.Sprintf("flag redefined: %s", name))
	}
	flag := &Flag{Name: name, Shorthand: shorthand, Usage: usage, Value: v, DefValue: defValue, ExpectedType: expectedType}
	f.flags[name] = flag
	if shorthand == "" {
		return
	}
	if _, ok := f.shorthands[shorthand]; ok {
		panic(fmt.Sprintf("shorthand flag redefined: %s", shorthand))
	}
	f.shorthands[shorthand] = flag
}

func isBoolFlag(flag *Flag) bool {
	_, ok := flag.Value.(*boolFlag)
	return ok
}

// Parse accepts --name[=value], -name[=value] for full names, -x value and
// -xvalue for shorthands, prefix flags, and -- to end flag parsing.
func (f *FlagSet) Parse(arguments []string) error {
	f.args = []string{}
	for i := 0; i < len(arguments); i++ {
		arg := arguments[i]
		if arg == "--" {
			f.args = append(f.args, arguments[i+1:]...)
			return nil
		}
		if len(arg) < 2 || arg[0] != '-' {
			f.args = append(f.args, arg)
			continue
		}

		dashes := "-"
		if strings.HasPrefix(arg, "--") {
			dashes = "--"
		}
		name, val, hasValue := strings.Cut(arg[len(dashes):], "=")
		flag, ok := f.flags[name]
		switch {
		case ok:
		case dashes == "--" && name == "":
			return fmt.Errorf("empty flag name")
		case dashes == "--":
			return fmt.Errorf("unknown flag: --%s", name)
		default:
			if err := f.parsePrefixed(arg, arguments, &i); err != nil {
				return err
			}
			continue
		}

		if !hasValue {
			var err error
			if val, err = f.operand(flag, dashes+name, arguments, &i); err != nil {
				return err
			}
		}
		if err := flag.Value.Set(val); err != nil {
			return err
		}
	}
	return nil
}

// operand returns the value of a flag written without '=': nothing for
// booleans, the next argument otherwise.
func (f *FlagSet) operand(flag *Flag, spelled string, arguments []string, i *int) (string, error) {
	if isBoolFlag(flag) {
		return "", nil
	}
	if *i+1 >= len(arguments) {
		return "", fmt.Errorf("flag needs an argument: %s", spelled)
	}
	*i++
	return arguments[*i], nil
}

// parsePrefixed handles prefix flags and shorthands, with the value either
// attached (-Wall, -j8) or in the next argument.
func (f *FlagSet) parsePrefixed(arg string, arguments []string, i *int) error {
	for prefix, flag := range f.specialPrefix {
		if rest, ok := strings.CutPrefix(arg[1:], prefix); ok && rest != "" {
			return flag.Value.Set(rest)
		}
	}

	shorthand, attached := arg[1:2], arg[2:]
	flag, ok := f.shorthands[shorthand]
	if !ok {
		return fmt.Errorf("unknown shorthand flag: -%s", shorthand)
	}
	if isBoolFlag(flag) || attached != "" {
		return flag.Value.Set(attached)
	}
	val, err := f.operand(flag, "-"+shorthand, arguments, i)
	if err != nil {
		return err
	}
	return flag.Value.Set(val)
}
