package util

import (
	"bytes"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/xplshn/x64gen/pkg/config"
	"github.com/xplshn/x64gen/pkg/token"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf, false)
	t.Cleanup(func() {
		SetOutput(os.Stderr, false)
		SetSourceFiles(nil)
	})
	return &buf
}

func TestAlignUp(t *testing.T) {
	tests := []struct{ n, a, want int64 }{
		{0, 8, 0}, {1, 8, 8}, {8, 8, 8}, {9, 4, 12}, {5, 1, 5}, {7, 0, 7},
	}
	for _, tt := range tests {
		if got := AlignUp(tt.n, tt.a); got != tt.want {
			t.Errorf("AlignUp(%d, %d) = %d, want %d", tt.n, tt.a, got, tt.want)
		}
	}
}

func TestNextPowerOfTwo(t *testing.T) {
	tests := []struct{ n, want int64 }{
		{0, 1}, {1, 1}, {2, 2}, {3, 4}, {32, 32}, {33, 64}, {40, 64}, {100, 128},
	}
	for _, tt := range tests {
		if got := NextPowerOfTwo(tt.n); got != tt.want {
			t.Errorf("NextPowerOfTwo(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestWarnPointsAtSource(t *testing.T) {
	buf := capture(t)
	SetSourceFiles([]SourceFileRecord{{Name: "main.x", Content: []rune("let x\nfoo bar\n")}})
	cfg := config.NewConfig()

	Warn(cfg, config.WarnExtra, token.Token{FileIndex: 0, Line: 2, Column: 5, Len: 3}, "odd %s", "bar")
	want := "main.x:2:5: warning: odd bar [-Wextra]\n" +
		"  foo bar\n" +
		"      ^~~\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("warning mismatch (-want +got):\n%s", diff)
	}
}

func TestWarnDisabled(t *testing.T) {
	buf := capture(t)
	cfg := config.NewConfig()
	cfg.SetWarning(config.WarnNarrowing, false)
	Warn(cfg, config.WarnNarrowing, token.Token{Line: 1, Column: 1}, "dropped")
	if buf.Len() != 0 {
		t.Errorf("disabled warning printed %q", buf.String())
	}
}

func TestErrorExits(t *testing.T) {
	buf := capture(t)
	code := -1
	exit = func(c int) { code = c }
	t.Cleanup(func() { exit = os.Exit })

	Error(token.Token{FileIndex: 3, Line: 7, Column: 2}, "no %s", "main")
	if code != 1 {
		t.Errorf("exit code = %d, want 1", code)
	}
	if diff := cmp.Diff("unknown:7:2: error: no main\n", buf.String()); diff != "" {
		t.Errorf("error mismatch (-want +got):\n%s", diff)
	}
}
