package util

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xplshn/x64gen/pkg/config"
	"github.com/xplshn/x64gen/pkg/token"
	"golang.org/x/term"
)

// SourceFileRecord tracks the name and content of a single source file.
type SourceFileRecord struct {
	Name    string
	Content []rune
}

var (
	sourceFiles []SourceFileRecord
	stream      io.Writer = os.Stderr
	colour                = term.IsTerminal(int(os.Stderr.Fd()))
	exit                  = os.Exit
)

// SetSourceFiles stores the source code for all input files for rich error messages
func SetSourceFiles(files []SourceFileRecord) {
	sourceFiles = files
}

// SetOutput redirects diagnostics to w. Colour escapes are only written when
// useColour is set.
func SetOutput(w io.Writer, useColour bool) {
	stream, colour = w, useColour
}

func paint(code, s string) string {
	if !colour {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// findFileAndLine converts a global token to a file-specific location
func findFileAndLine(tok token.Token) (filename string, line, col int) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(sourceFiles) {
		return "unknown", tok.Line, tok.Column
	}
	return sourceFiles[tok.FileIndex].Name, tok.Line, tok.Column
}

// printErrorLine prints the source line and a caret indicating the error position
func printErrorLine(w io.Writer, tok token.Token) {
	if tok.FileIndex < 0 || tok.FileIndex >= len(sourceFiles) || tok.Line == 0 || tok.Column == 0 {
		return
	}
	lines := strings.Split(string(sourceFiles[tok.FileIndex].Content), "\n")
	if tok.Line > len(lines) {
		return
	}
	fmt.Fprintf(w, "  %s\n", lines[tok.Line-1])
	caret := "^"
	if tok.Len > 1 {
		caret += strings.Repeat("~", tok.Len-1)
	}
	fmt.Fprintf(w, "  %s%s\n", strings.Repeat(" ", tok.Column-1), paint("32", caret))
}

func report(kind, code string, tok token.Token, msg, suffix string) {
	filename, line, col := findFileAndLine(tok)
	fmt.Fprintf(stream, "%s:%d:%d: %s %s%s\n", filename, line, col, paint(code, kind+":"), msg, suffix)
	printErrorLine(stream, tok)
}

// Error prints a formatted error message and exits the program
func Error(tok token.Token, format string, args ...interface{}) {
	report("error", "31", tok, fmt.Sprintf(format, args...), "")
	exit(1)
}

// Warn prints a formatted warning message if the corresponding warning is enabled
func Warn(cfg *config.Config, wt config.Warning, tok token.Token, format string, args ...interface{}) {
	if !cfg.IsWarningEnabled(wt) {
		return
	}
	report("warning", "33", tok, fmt.Sprintf(format, args...), fmt.Sprintf(" [-W%s]", cfg.Warnings[wt].Name))
}

// AlignUp rounds n up to a multiple of a.
func AlignUp(n, a int64) int64 {
	if a <= 1 {
		return n
	}
	return (n + a - 1) / a * a
}

// NextPowerOfTwo returns the smallest power of two that is at least n.
func NextPowerOfTwo(n int64) int64 {
	p := int64(1)
	for p < n {
		p <<= 1
	}
	return p
}
