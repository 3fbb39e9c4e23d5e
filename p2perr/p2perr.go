// Package p2perr defines the error taxonomy shared by every layer of the
// P2P engine: channels, sessions, protocols, and the top-level orchestrator.
package p2perr

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// Code is a coarse error kind. It is not a Go error type hierarchy; it is a
// closed taxonomy callers switch on to decide how to react (log-and-drop,
// stop a channel, abort a session, abort start).
type Code int

const (
	// Success is the zero value; never wrapped into an error.
	Success Code = iota
	ServiceStopped
	OperationFailed
	ResolveFailed
	NetworkUnreachable
	AddressInUse
	AcceptFailed
	BadStream
	ChannelTimeout
	ChannelStopped
	ChannelTransport
	NotFound
	FileSystem
	SeedingUnsuccessful
	InvalidAuthority
	ChannelBadMagic
	ChannelOversize
)

var names = map[Code]string{
	Success:             "success",
	ServiceStopped:       "service_stopped",
	OperationFailed:      "operation_failed",
	ResolveFailed:        "resolve_failed",
	NetworkUnreachable:   "network_unreachable",
	AddressInUse:         "address_in_use",
	AcceptFailed:         "accept_failed",
	BadStream:            "bad_stream",
	ChannelTimeout:       "channel_timeout",
	ChannelStopped:       "channel_stopped",
	ChannelTransport:     "channel_transport",
	NotFound:             "not_found",
	FileSystem:           "file_system",
	SeedingUnsuccessful:  "seeding_unsuccessful",
	InvalidAuthority:     "invalid_authority",
	ChannelBadMagic:      "channel_bad_magic",
	ChannelOversize:      "channel_oversize",
}

func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// Error wraps a Code with an optional cause, preserving a stack trace via
// go-errors/errors so it survives a hop across a channel's strand or a
// session's goroutine boundary.
type Error struct {
	Code  Code
	cause *goerrors.Error
}

func (e *Error) Error() string {
	if e.cause == nil {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code, e.cause.Error())
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *Error) Unwrap() error {
	if e.cause == nil {
		return nil
	}
	return e.cause.Err
}

// Stack returns a formatted stack trace captured at New, for debug logging.
func (e *Error) Stack() string {
	if e.cause == nil {
		return ""
	}
	return string(e.cause.Stack())
}

// New wraps cause (may be nil) with code, capturing a stack trace.
func New(code Code, cause error) *Error {
	var wrapped *goerrors.Error
	if cause != nil {
		wrapped = goerrors.Wrap(cause, 1)
	}
	return &Error{Code: code, cause: wrapped}
}

// Is reports whether err is a *Error carrying code.
func Is(err error, code Code) bool {
	pe, ok := err.(*Error)
	return ok && pe.Code == code
}

// CodeOf extracts the Code from err, or OperationFailed if err is not one
// of ours.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	if pe, ok := err.(*Error); ok {
		return pe.Code
	}
	return OperationFailed
}
