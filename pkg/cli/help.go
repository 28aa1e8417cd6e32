package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/term"
)

const indentUnit = 4

func indentAt(level int) string { return strings.Repeat(" ", indentUnit*level) }

type App struct {
	Name        string
	Synopsis    string
	Description string
	Authors     []string
	Repository  string
	Since       int
	FlagSet     *FlagSet
	Action      func(args []string) error

	// Stdout receives the help page, Stderr parse errors and the usage page.
	Stdout io.Writer
	Stderr io.Writer
	// Width overrides the terminal width when positive.
	Width int
}

func NewApp(name string) *App {
	return &App{
		Name:    name,
		FlagSet: NewFlagSet(name),
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
	}
}

func (a *App) Run(arguments []string) error {
	help := false
	a.FlagSet.Bool(&help, "help", "h", false, "Display this information")

	if err := a.FlagSet.Parse(arguments); err != nil {
		fmt.Fprintln(a.Stderr, err)
		a.writeUsagePage(a.Stderr)
		return err
	}
	if help {
		a.writeHelpPage(a.Stdout)
		return nil
	}
	if a.Action != nil {
		return a.Action(a.FlagSet.Args())
	}
	return nil
}

func (a *App) termWidth() int {
	if a.Width > 0 {
		return a.Width
	}
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return max(width, 20)
}

// usageLine is the one-line synopsis, defaulting to options followed by
// inputs.
func (a *App) usageLine() string {
	if a.Synopsis != "" {
		return fmt.Sprintf("Usage: %s %s\n", a.Name, a.Synopsis)
	}
	return fmt.Sprintf("Usage: %s <options> [inputs] ...\n", a.Name)
}

func (a *App) writeUsagePage(w io.Writer) {
	var sb strings.Builder
	sb.WriteString(a.usageLine())

	optionFlags := a.optionFlags()
	if len(optionFlags) > 0 {
		maxFlagWidth, maxUsageWidth := 0, 0
		for _, flag := range optionFlags {
			maxFlagWidth = max(maxFlagWidth, len(formatFlagString(flag)))
			maxUsageWidth = max(maxUsageWidth, len(flag.Usage))
		}
		fmt.Fprintf(&sb, "\n%sOptions\n", indentAt(1))
		for _, flag := range optionFlags {
			a.formatFlagLine(&sb, flag, maxFlagWidth, maxUsageWidth)
		}
	}

	fmt.Fprintf(&sb, "\nRun '%s --help' for all available options and flags.\n", a.Name)
	fmt.Fprint(w, sb.String())
}

func (a *App) writeHelpPage(w io.Writer) {
	var sb strings.Builder
	globalMaxWidth := a.globalMaxWidth()

	globalMaxUsageWidth := 0
	optionFlags := a.optionFlags()
	for _, flag := range optionFlags {
		globalMaxUsageWidth = max(globalMaxUsageWidth, len(flag.Usage))
	}
	for _, group := range a.FlagSet.flagGroups {
		for _, entry := range group.Flags {
			globalMaxUsageWidth = max(globalMaxUsageWidth, len(entry.Usage))
		}
	}

	years := fmt.Sprint(time.Now().Year())
	if a.Since > 0 && a.Since < time.Now().Year() {
		years = fmt.Sprintf("%d-%s", a.Since, years)
	}
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%sCopyright (c) %s: %s\n", indentAt(1), years, strings.Join(a.Authors, ", ")+" and contributors")
	if a.Repository != "" {
		fmt.Fprintf(&sb, "%sFor more details refer to %s\n", indentAt(1), a.Repository)
	}

	if a.Synopsis != "" {
		synopsis := strings.NewReplacer("[", "<", "]", ">").Replace(a.Synopsis)
		fmt.Fprintf(&sb, "\n%sSynopsis\n%s%s %s\n", indentAt(1), indentAt(2), a.Name, synopsis)
	}
	if a.Description != "" {
		fmt.Fprintf(&sb, "\n%sDescription\n%s%s\n", indentAt(1), indentAt(2), a.Description)
	}

	if len(optionFlags) > 0 {
		fmt.Fprintf(&sb, "\n%sOptions\n", indentAt(1))
		for _, flag := range optionFlags {
			a.formatFlagLine(&sb, flag, globalMaxWidth, globalMaxUsageWidth)
		}
	}

	groups := append([]FlagGroup(nil), a.FlagSet.flagGroups...)
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	for _, group := range groups {
		a.formatFlagGroup(&sb, group, globalMaxWidth, globalMaxUsageWidth)
	}
	fmt.Fprint(w, sb.String())
}

// optionFlags returns the plain flags sorted by name, leaving out prefix
// flags and the members of flag groups.
func (a *App) optionFlags() []*Flag {
	var optionFlags []*Flag
	for _, flag := range a.FlagSet.flags {
		if _, isSpecial := a.FlagSet.specialPrefix[flag.Name]; isSpecial || a.isGroupFlag(flag.Name) {
			continue
		}
		optionFlags = append(optionFlags, flag)
	}
	sort.Slice(optionFlags, func(i, j int) bool { return optionFlags[i].Name < optionFlags[j].Name })
	return optionFlags
}

func (a *App) isGroupFlag(flagName string) bool {
	for _, group := range a.FlagSet.flagGroups {
		for _, entry := range group.Flags {
			if flagName == entry.Prefix+entry.Name || flagName == entry.Prefix+"no-"+entry.Name {
				return true
			}
		}
	}
	return false
}

func (a *App) globalMaxWidth() int {
	maxWidth := 0
	for _, flag := range a.optionFlags() {
		maxWidth = max(maxWidth, len(formatFlagString(flag)))
	}
	for _, group := range a.FlagSet.flagGroups {
		if len(group.Flags) == 0 {
			continue
		}
		prefix := group.Flags[0].Prefix
		groupType := strings.ToLower(strings.TrimSuffix(group.Name, "s"))
		maxWidth = max(maxWidth, len(fmt.Sprintf("-%sno-<%s>", prefix, groupType)))
		for _, entry := range group.Flags {
			maxWidth = max(maxWidth, len(entry.Name))
		}
	}
	return maxWidth
}

func formatFlagString(flag *Flag) string {
	var flagStr strings.Builder
	isBool := isBoolFlag(flag)

	if flag.Shorthand != "" {
		fmt.Fprintf(&flagStr, "-%s", flag.Shorthand)
		if !isBool {
			fmt.Fprintf(&flagStr, " <%s>", flag.ExpectedType)
		}
		fmt.Fprintf(&flagStr, ", --%s", flag.Name)
		if !isBool {
			fmt.Fprintf(&flagStr, " <%s>", flag.ExpectedType)
		}
		return flagStr.String()
	}
	fmt.Fprintf(&flagStr, "--%s", flag.Name)
	if !isBool && flag.ExpectedType != "" {
		fmt.Fprintf(&flagStr, "=%s", flag.ExpectedType)
	}
	return flagStr.String()
}

func (a *App) formatEntry(sb *strings.Builder, leftPart, usagePart, rightPart string, leftWidth, maxUsageWidth int) {
	indentStr := indentAt(2)
	maxFirstUsageWidth := max(a.termWidth()-(len(indentStr)+leftWidth+3+len(rightPart)), 10)
	usageLines := wrapText(usagePart, maxFirstUsageWidth)

	firstUsageLine := ""
	if len(usageLines) > 0 {
		firstUsageLine = usageLines[0]
	}
	usageWidth := min(maxUsageWidth, maxFirstUsageWidth)

	if rightPart != "" {
		fmt.Fprintf(sb, "%s%-*s %-*s  %s\n", indentStr, leftWidth, leftPart, usageWidth, firstUsageLine, rightPart)
	} else {
		fmt.Fprintf(sb, "%s%-*s %s\n", indentStr, leftWidth, leftPart, firstUsageLine)
	}

	wrappedIndent := strings.Repeat(" ", leftWidth+1)
	for i := 1; i < len(usageLines); i++ {
		fmt.Fprintf(sb, "%s%s%s\n", indentStr, wrappedIndent, usageLines[i])
	}
}

func (a *App) formatFlagLine(sb *strings.Builder, flag *Flag, globalMaxWidth, globalMaxUsageWidth int) {
	rightPart := ""
	if flag.DefValue != "" && flag.DefValue != "false" && flag.DefValue != "[]" && !isBoolFlag(flag) {
		rightPart = fmt.Sprintf("|%s|", flag.DefValue)
	}
	a.formatEntry(sb, formatFlagString(flag), flag.Usage, rightPart, globalMaxWidth, globalMaxUsageWidth)
}

func (a *App) formatFlagGroup(sb *strings.Builder, group FlagGroup, globalMaxWidth, globalMaxUsageWidth int) {
	if len(group.Flags) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s%s\n", indentAt(1), group.Name)

	prefix := group.Flags[0].Prefix
	groupType := group.GroupType
	if groupType == "" {
		groupType = "flag"
	}
	fmt.Fprintf(sb, "%s%-*s Enable a specific %s\n", indentAt(2), globalMaxWidth, fmt.Sprintf("-%s<%s>", prefix, groupType), groupType)
	fmt.Fprintf(sb, "%s%-*s Disable a specific %s\n", indentAt(2), globalMaxWidth, fmt.Sprintf("-%sno-<%s>", prefix, groupType), groupType)

	if group.AvailableFlagsHeader != "" {
		fmt.Fprintf(sb, "%s%s\n", indentAt(1), group.AvailableFlagsHeader)
	}

	entries := append([]FlagGroupEntry(nil), group.Flags...)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	for _, entry := range entries {
		rightPart := "|-|"
		if entry.Enabled != nil && *entry.Enabled && (entry.Disabled == nil || !*entry.Disabled) {
			rightPart = "|x|"
		}
		a.formatEntry(sb, entry.Name, entry.Usage, rightPart, globalMaxWidth, globalMaxUsageWidth)
	}
}

func wrapText(text string, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{text}
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return []string{}
	}

	var lines []string
	var currentLine strings.Builder
	for _, word := range words {
		if currentLine.Len()+len(word)+1 > maxWidth && currentLine.Len() > 0 {
			lines = append(lines, currentLine.String())
			currentLine.Reset()
		}
		if currentLine.Len() > 0 {
			currentLine.WriteString(" ")
		}
		currentLine.WriteString(word)
	}
	if currentLine.Len() > 0 {
		lines = append(lines, currentLine.String())
	}
	return lines
}
