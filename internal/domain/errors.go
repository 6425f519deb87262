package domain

import (
	"errors"
	"fmt"
)

// Code classifies a recoverable per-request failure.
type Code string

const (
	CodeNotFound        Code = "NOT_FOUND"
	CodeInvalidState    Code = "INVALID_STATE"
	CodeSelfJoin        Code = "SELF_JOIN"
	CodeNotAParticipant Code = "NOT_A_PARTICIPANT"
	CodeOutOfTurn       Code = "OUT_OF_TURN"
	CodeMalformedInput  Code = "MALFORMED_INPUT"
	CodeIllegalMove     Code = "ILLEGAL_MOVE"
	CodeUnauthorized    Code = "UNAUTHORIZED"
	CodePersistence     Code = "PERSISTENCE_ERROR"
	CodeConflict        Code = "CONFLICT"
)

// Error carries a taxonomy code plus an optional cause.
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return string(e.Code) + ": " + e.Err.Error()
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrNotFound        = &Error{Code: CodeNotFound}
	ErrInvalidState    = &Error{Code: CodeInvalidState}
	ErrSelfJoin        = &Error{Code: CodeSelfJoin}
	ErrNotAParticipant = &Error{Code: CodeNotAParticipant}
	ErrOutOfTurn       = &Error{Code: CodeOutOfTurn}
	ErrMalformedInput  = &Error{Code: CodeMalformedInput}
	ErrIllegalMove     = &Error{Code: CodeIllegalMove}
	ErrUnauthorized    = &Error{Code: CodeUnauthorized}
	ErrPersistence     = &Error{Code: CodePersistence}
	ErrConflict        = &Error{Code: CodeConflict}
)

// Errorf builds a coded error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying cause.
func Wrap(code Code, err error, msg string) *Error {
	return &Error{Code: code, Msg: msg, Err: err}
}

// CodeOf extracts the taxonomy code, or "" for foreign errors.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}
