package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // The operation failed (store or archive errors)
	ExitCommandError = 2 // Invalid invocation or configuration
)

// ExitError is an error carrying the process exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// ExitCode returns the exit code for err: ExitSuccess for nil, the code
// of an ExitError, ExitFailure otherwise.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// response is the JSON envelope of command results.
type response struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
}

type output struct {
	format string
	w      io.Writer
}

// print writes data as JSON, or calls text in text mode.
func (o *output) print(data any, text func(w io.Writer)) error {
	if o.format == "json" {
		return json.NewEncoder(o.w).Encode(response{Status: "ok", Data: data})
	}
	text(o.w)
	return nil
}
