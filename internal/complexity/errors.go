package complexity

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrComplexityExceeded = errors.New("query complexity exceeds the limit")
	ErrDepthExceeded      = errors.New("query depth exceeds the limit")
	ErrUnknownFragment    = errors.New("unknown fragment")
	ErrCyclicFragment     = errors.New("cyclic fragment spread")
	ErrUnresolvableField  = errors.New("unresolvable field")
	ErrUnresolvableType   = errors.New("unresolvable type")
	ErrUnknownOperation   = errors.New("unknown operation")
	ErrInvalidVariables   = errors.New("invalid variables")
)

// Code identifies a failure in GraphQL error extensions.
type Code string

const (
	CodeComplexityExceeded Code = "COMPLEXITY_LIMIT_EXCEEDED"
	CodeDepthExceeded      Code = "DEPTH_LIMIT_EXCEEDED"
	CodeUnknownFragment    Code = "UNKNOWN_FRAGMENT"
	CodeCyclicFragment     Code = "CYCLIC_FRAGMENT"
	CodeUnresolvableField  Code = "UNRESOLVABLE_FIELD"
	CodeUnresolvableType   Code = "UNRESOLVABLE_TYPE"
	CodeUnknownOperation   Code = "UNKNOWN_OPERATION"
	CodeInvalidVariables   Code = "INVALID_VARIABLES"
)

var codes = map[error]Code{
	ErrComplexityExceeded: CodeComplexityExceeded,
	ErrDepthExceeded:      CodeDepthExceeded,
	ErrUnknownFragment:    CodeUnknownFragment,
	ErrCyclicFragment:     CodeCyclicFragment,
	ErrUnresolvableField:  CodeUnresolvableField,
	ErrUnresolvableType:   CodeUnresolvableType,
	ErrUnknownOperation:   CodeUnknownOperation,
	ErrInvalidVariables:   CodeInvalidVariables,
}

// Error is returned for every failed analysis. It unwraps to one of the
// sentinel errors above.
type Error struct {
	Code    Code
	Message string
	// Path lists the response keys leading to the failing field.
	Path []string
	// Limit and Actual are set for limit violations.
	Limit  float64
	Actual float64

	kind error
}

func newError(kind error, path []string, format string, args ...any) *Error {
	return &Error{
		Code:    codes[kind],
		Message: fmt.Sprintf(format, args...),
		Path:    append([]string(nil), path...),
		kind:    kind,
	}
}

func (e *Error) Error() string {
	if len(e.Path) == 0 {
		return e.Message
	}
	return e.Message + " at " + strings.Join(e.Path, ".")
}

func (e *Error) Unwrap() error { return e.kind }

// IsLimit reports whether the error is a complexity or depth violation.
func (e *Error) IsLimit() bool {
	return e.kind == ErrComplexityExceeded || e.kind == ErrDepthExceeded
}

// CodeOf returns the code carried by err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
