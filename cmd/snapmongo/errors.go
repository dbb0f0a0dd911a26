package main

import (
	"errors"

	"github.com/shibukawa/snapmongo"
)

// Sentinel errors for command operations
var (
	ErrInvalidSelect     = errors.New("select must be NAME=EXPRESSION")
	ErrInvalidParam      = errors.New("param must be NAME=VALUE")
	ErrInvalidStream     = errors.New("stream must be NAME:TYPE")
	ErrInvalidOrder      = errors.New("order must be COLUMN or COLUMN:desc")
	ErrInvalidRowsFile   = errors.New("rows file must hold a list of positional rows")
	ErrUnsupportedFormat = errors.New("unsupported output format")
	ErrIndexDrift        = errors.New("collection indexes differ from the table definition")
)

// exitCode maps the error classes onto process exit codes:
// 2 for configuration errors, 75 (EX_TEMPFAIL) for connectivity faults.
func exitCode(err error) int {
	switch {
	case snapmongo.IsConfigurationError(err):
		return 2
	case snapmongo.IsRetryable(err):
		return 75
	default:
		return 1
	}
}
