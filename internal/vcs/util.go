package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ExecContext runs name with args in workDir and returns its standard
// output. A timeout of zero leaves ctx as the only deadline.
//
// A missing binary is reported as ErrVCSNotAvailable and an expired timeout
// as ErrTimeout, both wrapped so errors.Is works. Other failures carry the
// trimmed standard error of the command.
//
//	out, err := ExecContext(ctx, 30*time.Second, repo, "git", "log", "--oneline")
func ExecContext(ctx context.Context, timeout time.Duration, workDir string, name string, args ...string) ([]byte, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound):
			return nil, fmt.Errorf("%w: %s", ErrVCSNotAvailable, name)
		case errors.Is(ctx.Err(), context.DeadlineExceeded):
			return nil, fmt.Errorf("%w: %s %s", ErrTimeout, name, strings.Join(args, " "))
		case stderr.Len() > 0:
			return nil, fmt.Errorf("%w: %s", err, TrimOutput(stderr.Bytes()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// ExecLines is ExecContext split into non-empty, trimmed lines.
func ExecLines(ctx context.Context, timeout time.Duration, workDir string, name string, args ...string) ([]string, error) {
	output, err := ExecContext(ctx, timeout, workDir, name, args...)
	if err != nil {
		return nil, err
	}
	return ParseLines(output), nil
}

// ParseLines splits command output into non-empty, trimmed lines.
func ParseLines(output []byte) []string {
	var lines []string
	for _, line := range strings.Split(string(output), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// FirstLine returns the subject line of a commit message.
func FirstLine(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// TrimOutput returns output as a string without surrounding whitespace.
func TrimOutput(output []byte) string {
	return strings.TrimSpace(string(output))
}

// SanitizePath returns path as a clean absolute path, resolving relative
// paths against baseDir.
func SanitizePath(path string, baseDir string) (string, error) {
	switch {
	case path == "":
		return "", errors.New("empty path")
	case filepath.IsAbs(path):
		return filepath.Clean(path), nil
	case baseDir == "":
		return "", fmt.Errorf("cannot resolve %s without a base directory", path)
	}
	return filepath.Join(baseDir, path), nil
}

// IsSubPath reports whether target is base or lies below it.
func IsSubPath(base, target string) bool {
	rel, err := filepath.Rel(filepath.Clean(base), filepath.Clean(target))
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// IsExitError reports whether err is a command that ran and exited with a
// non-zero status.
func IsExitError(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr)
}
