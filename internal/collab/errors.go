package collab

import (
	"errors"
	"fmt"
)

// Code classifies collaborator failures.
type Code string

const (
	CodeSpawn       Code = "spawn"
	CodeTimeout     Code = "timeout"
	CodeExit        Code = "exit"
	CodeEmpty       Code = "empty"
	CodeUnparseable Code = "unparseable"
)

// Error is a collaborator failure. It is never fatal to the loop.
type Error struct {
	Code    Code
	Op      string // "generate" or "evaluate"
	Message string
	Stderr  string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Op, e.Code, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the collaborator code of err, or "" if err is not an
// *Error.
func CodeOf(err error) Code {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

func newError(op string, code Code, msg string, err error) *Error {
	return &Error{Op: op, Code: code, Message: msg, Err: err}
}
