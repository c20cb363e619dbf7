// Package apperr defines the error taxonomy shared by handlers and services.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound signals an unknown id, token or event.
	ErrNotFound = errors.New("not found")
	// ErrEventMismatch signals a valid token presented against the wrong event.
	ErrEventMismatch = errors.New("ticket belongs to a different event")
)

// ConflictError reports a uniqueness violation as an expected outcome,
// carrying the timestamp of the record that already exists.
type ConflictError struct {
	Resource   string
	ExistingAt time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s already exists (since %s)", e.Resource, e.ExistingAt.Format(time.RFC3339))
}

// RateLimitError reports an exceeded window with retry guidance.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded, retry after %s", e.RetryAfter)
}

// DependencyError wraps a failure of an external collaborator (artifact
// rendering, mail dispatch) for a single recipient.
type DependencyError struct {
	Stage string
	Err   error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }
