// Package errs defines the fixed set of error kinds REC's components raise,
// so the HTTP surface can translate them into structured JSON bodies without
// losing which kind of failure occurred.
package errs

import (
	"errors"
	"fmt"
)

// Kind is one of the error kinds named in the error handling design.
type Kind string

const (
	SessionNotFound             Kind = "SESSION_NOT_FOUND"
	SessionExists               Kind = "SESSION_EXISTS"
	SessionBusy                 Kind = "SESSION_BUSY"
	SessionClosed               Kind = "SESSION_CLOSED"
	SpawnFailed                 Kind = "SPAWN_FAILED"
	CommandTimeout              Kind = "COMMAND_TIMEOUT"
	CommandTimeoutUnrecoverable Kind = "COMMAND_TIMEOUT_UNRECOVERABLE"
	ChannelClosed               Kind = "CHANNEL_CLOSED"
	FileNotFound                Kind = "FILE_NOT_FOUND"
	IsDirectory                 Kind = "IS_DIRECTORY"
	NotADirectory               Kind = "NOT_A_DIRECTORY"
	PermissionDenied            Kind = "PERMISSION_DENIED"
	DecodeError                 Kind = "DECODE_ERROR"
	AuthFailed                  Kind = "AUTH_FAILED"
	BadRequest                  Kind = "BAD_REQUEST"
	InternalError               Kind = "INTERNAL_ERROR"
	CommandFailed               Kind = "COMMAND_FAILED"
)

// Error is a typed application error carrying one of the fixed Kinds.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// New constructs an *Error with the given kind and formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// AsError unwraps err looking for an *Error, the way the HTTP layer
// decides which error_kind to report.
func AsError(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}
