package sandbox

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned (wrapped) when a sandbox file does not exist.
var ErrNotFound = errors.New("not found")

// IsNotFound reports whether err means the target file does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// CommandExitError is returned by Commands.Run when the process exits with
// a non-zero code. It carries the captured output.
type CommandExitError struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Message  string
}

func (e *CommandExitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("command exited with code %d: %s", e.ExitCode, e.Message)
	}
	return fmt.Sprintf("command exited with code %d", e.ExitCode)
}
