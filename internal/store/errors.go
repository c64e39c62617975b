package store

import "fmt"

// ErrorKind classifies why a generated statement failed to run.
type ErrorKind string

const (
	ErrKindSyntax       ErrorKind = "syntax"
	ErrKindPermission   ErrorKind = "permission"
	ErrKindConnectivity ErrorKind = "connectivity"
	ErrKindTimeout      ErrorKind = "timeout"
	ErrKindUnknown      ErrorKind = "unknown"
)

// ExecutionError carries the database's own message together with the exact
// SQL text that was attempted, so the caller can surface both.
type ExecutionError struct {
	Kind    ErrorKind
	Message string
	SQL     string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("sql execution failed (%s): %s", e.Kind, e.Message)
}
