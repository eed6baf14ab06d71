package tools

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

// Code classifies a failed tool call.
type Code string

const (
	// CodeInvalidParams means the arguments failed schema validation.
	CodeInvalidParams Code = "INVALID_PARAMS"
	// CodeAccessDenied means a local path is outside the allow-list.
	CodeAccessDenied Code = "ACCESS_DENIED"
	// CodeAlreadyExists means overwrite=false and the target exists.
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	// CodeCommandFailed means a foreground command exited non-zero.
	CodeCommandFailed Code = "COMMAND_FAILED"
	// CodeInternal covers everything else, including sandbox failures.
	CodeInternal Code = "INTERNAL_ERROR"
	// CodeMethodNotFound means no tool has the requested name.
	CodeMethodNotFound Code = "METHOD_NOT_FOUND"
)

// Error is a tool failure with a code and optional structured data that is
// merged into the error body.
type Error struct {
	Code    Code
	Message string
	Data    map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil && e.Message == "" {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf creates an Error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// asError returns err as an *Error, wrapping anything untyped as
// CodeInternal.
func asError(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return &Error{Code: CodeInternal, Message: err.Error(), Err: err}
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

// stackOf returns the innermost github.com/pkg/errors stack in err's chain.
func stackOf(err error) string {
	stack := ""
	for ; err != nil; err = errors.Unwrap(err) {
		if st, ok := err.(stackTracer); ok {
			stack = fmt.Sprintf("%+v", st.StackTrace())
		}
	}
	return stack
}
