// Package ferr defines the stable error taxonomy shared across FeiSync's
// components (architecture.md §7). Components raise *Error wrapping one of
// the sentinels below; callers classify with errors.Is.
package ferr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Use errors.Is(err, ferr.ErrNotFound) to classify.
var (
	ErrAuthMissing      = errors.New("ferr: auth missing")
	ErrAuthInvalid      = errors.New("ferr: auth invalid")
	ErrScopeDenied      = errors.New("ferr: scope denied")
	ErrNotFound         = errors.New("ferr: not found")
	ErrDuplicateName    = errors.New("ferr: duplicate name")
	ErrNoWritableTenant = errors.New("ferr: no writable tenant")
	ErrInvalidArgument  = errors.New("ferr: invalid argument")
	ErrInvalidCron      = errors.New("ferr: invalid cron expression")
	ErrUpstreamTransient = errors.New("ferr: upstream transient error")
	ErrUpstreamPermanent = errors.New("ferr: upstream permanent error")
	ErrUpstreamRateLimited = errors.New("ferr: upstream rate limited")
	ErrTimeout          = errors.New("ferr: timeout")
	ErrLocalIO          = errors.New("ferr: local i/o error")
	ErrPersistenceCorrupt = errors.New("ferr: persistence corrupt")
	ErrCancelled        = errors.New("ferr: cancelled")
	ErrConflict         = errors.New("ferr: conflict")
)

// CapacityReason and PermissionReason distinguish the two NoWritableTenant
// causes spec.md §4.3 requires callers be able to tell apart.
const (
	CapacityReason  = "capacity"
	PermissionReason = "permission"
)

// Error wraps a sentinel with a human-actionable message and optional
// structured detail, mirroring the teacher's GraphError shape
// (StatusCode/RequestID/Message/Err) adapted to FeiSync's own taxonomy.
type Error struct {
	Err     error  // sentinel, for errors.Is()
	Message string // short, actionable, safe to show a caller
	Reason  string // optional sub-classification (e.g. CapacityReason)
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s (%s): %s", e.Err, e.Reason, e.Message)
	}

	return fmt.Sprintf("%s: %s", e.Err, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error from a sentinel and a message.
func New(sentinel error, message string) *Error {
	return &Error{Err: sentinel, Message: message}
}

// Newf builds an *Error with a formatted message.
func Newf(sentinel error, format string, args ...any) *Error {
	return &Error{Err: sentinel, Message: fmt.Sprintf(format, args...)}
}

// NewWithReason builds a *Error carrying a sub-classification reason.
func NewWithReason(sentinel error, reason, message string) *Error {
	return &Error{Err: sentinel, Message: message, Reason: reason}
}

// Is reports whether err (or anything it wraps) matches sentinel.
func Is(err, sentinel error) bool {
	return errors.Is(err, sentinel)
}
