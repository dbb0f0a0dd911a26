// Package testhelper holds small utilities shared by package tests.
package testhelper

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// TrimIndent removes the indentation of an inline raw string literal. The
// first line (right after the backquote) is dropped and the indentation of
// the second line is removed from every line. Tabs left over become two spaces
// so the result is valid YAML.
func TrimIndent(t *testing.T, src string) string {
	t.Helper()

	lines := strings.Split(src, "\n")
	if len(lines) < 2 {
		return src
	}

	lines = lines[1:]
	indent := lines[0][:len(lines[0])-len(strings.TrimLeft(lines[0], " \t"))]

	for i, line := range lines {
		line = strings.TrimPrefix(line, indent)
		rest := strings.TrimLeft(line, "\t")
		lines[i] = strings.Repeat("  ", len(line)-len(rest)) + rest
	}

	return strings.TrimRight(strings.Join(lines, "\n"), " \t")
}

// Caller returns "(file:line)" of the caller, for table-driven failure messages.
func Caller(t *testing.T) string {
	t.Helper()

	_, file, line, ok := runtime.Caller(1)
	if !ok {
		return "(unknown)"
	}

	return fmt.Sprintf("(%s:%d)", filepath.Base(file), line)
}
