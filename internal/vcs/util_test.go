package vcs

import (
	"context"
	"errors"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestParseLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"single", "origin", []string{"origin"}},
		{"trims and drops blanks", "  origin \n\n upstream\n", []string{"origin", "upstream"}},
		{"crlf", "main\r\ndevelop\r\n", []string{"main", "develop"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, ParseLines([]byte(tt.input))); diff != "" {
				t.Errorf("ParseLines() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	for in, want := range map[string]string{
		"fix parser":               "fix parser",
		"fix parser\n\nlong body":  "fix parser",
		"windows subject\r\nbody":  "windows subject",
		"":                         "",
	} {
		if got := FirstLine(in); got != want {
			t.Errorf("FirstLine(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		base    string
		want    string
		wantErr bool
	}{
		{name: "empty path", path: "", base: "/journal", wantErr: true},
		{name: "absolute", path: "/journal/./2024-03-10.md", base: "/other", want: "/journal/2024-03-10.md"},
		{name: "relative", path: "structured/weekly.md", base: "/journal", want: "/journal/structured/weekly.md"},
		{name: "relative escaping", path: "../secrets", base: "/journal", want: "/secrets"},
		{name: "relative without base", path: "weekly.md", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SanitizePath(tt.path, tt.base)
			if tt.wantErr {
				if err == nil {
					t.Errorf("SanitizePath() = %s, want an error", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("SanitizePath() failed: %v", err)
			}
			if want := filepath.FromSlash(tt.want); got != want {
				t.Errorf("SanitizePath() = %s, want %s", got, want)
			}
		})
	}
}

func TestIsSubPath(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		target string
		want   bool
	}{
		{"same directory", "/journal", "/journal", true},
		{"note", "/journal", "/journal/2024-03-10.md", true},
		{"nested", "/journal", "/journal/structured/weekly.md", true},
		{"name with leading dots", "/journal", "/journal/..drafts", true},
		{"parent", "/journal/structured", "/journal", false},
		{"sibling", "/journal", "/journal-old/a.md", false},
		{"unclean escape", "/journal", "/journal/structured/../../etc", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsSubPath(tt.base, tt.target); got != tt.want {
				t.Errorf("IsSubPath(%s, %s) = %v, want %v", tt.base, tt.target, got, tt.want)
			}
		})
	}
}

func TestExecLines(t *testing.T) {
	lines, err := ExecLines(context.Background(), 5*time.Second, t.TempDir(), "sh", "-c", "echo origin; echo; echo upstream")
	if err != nil {
		t.Fatalf("ExecLines() failed: %v", err)
	}
	if diff := cmp.Diff([]string{"origin", "upstream"}, lines); diff != "" {
		t.Errorf("ExecLines() mismatch (-want +got):\n%s", diff)
	}
}

func TestExecContext_Stderr(t *testing.T) {
	_, err := ExecContext(context.Background(), 5*time.Second, t.TempDir(), "sh", "-c", "echo not a repository >&2; exit 128")
	if err == nil {
		t.Fatal("ExecContext() should fail")
	}
	if !IsExitError(err) {
		t.Errorf("IsExitError(%v) = false, want true", err)
	}
	if got := err.Error(); got != "exit status 128: not a repository" {
		t.Errorf("error = %q", got)
	}
}

func TestIsExitError(t *testing.T) {
	if IsExitError(nil) {
		t.Error("IsExitError(nil) = true")
	}
	if IsExitError(exec.Command("true").Run()) {
		t.Error("IsExitError() = true for a successful command")
	}
	if !IsExitError(exec.Command("sh", "-c", "exit 1").Run()) {
		t.Error("IsExitError() = false for a failed command")
	}
}

func TestExecContext_TimeoutIsErrTimeout(t *testing.T) {
	_, err := ExecContext(context.Background(), 100*time.Millisecond, t.TempDir(), "sleep", "2")
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("ExecContext() error = %v, want ErrTimeout", err)
	}
	if !IsRetryable(err) {
		t.Error("timeouts should be retryable")
	}
	if IsFatal(err) {
		t.Error("timeouts should not be fatal")
	}
}

func TestExecContext_MissingBinary(t *testing.T) {
	_, err := ExecContext(context.Background(), time.Second, t.TempDir(), "definitely-not-a-vcs-binary")
	if !errors.Is(err, ErrVCSNotAvailable) {
		t.Errorf("ExecContext() error = %v, want ErrVCSNotAvailable", err)
	}
	if !IsFatal(err) {
		t.Error("a missing binary should be fatal")
	}
}
