package compiler

import (
	"errors"
	"fmt"
	"go/token"
)

// ErrAborted is returned when a method was not lowered because its
// diagnostics have already been reported.
var ErrAborted = errors.New("iterator lowering aborted")

// InternalError reports a broken contract between the lowering pass and
// its callers, or a bug in the pass itself. It is never a user error.
type InternalError struct {
	Method string
	Msg    string
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("internal error lowering %s: %s", e.Method, e.Msg)
}

func internalErrorf(format string, args ...any) {
	panic(&InternalError{Msg: fmt.Sprintf(format, args...)})
}

// Diagnostic is a user error found by Validate.
type Diagnostic struct {
	Pos token.Position
	Msg string
}

func (d Diagnostic) Error() string {
	if d.Pos.IsValid() {
		return d.Pos.String() + ": " + d.Msg
	}
	return d.Msg
}
