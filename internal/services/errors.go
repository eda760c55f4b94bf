package services

import (
	"errors"
	"fmt"
)

var (
	ErrReviewNotFound = errors.New("review not found")
	// ErrNotClaimable means the review is not in the state the delivered
	// attempt expects: a duplicate, stale or post-terminal delivery.
	ErrNotClaimable = errors.New("review not claimable for this attempt")
	// ErrReviewGone means a fenced write matched no row because the review
	// was deleted or another attempt moved it on.
	ErrReviewGone = errors.New("review deleted or superseded")
)

// TransportError is any failure to obtain a usable response from the
// analysis provider.
type TransportError struct {
	Provider   string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("%s: request timed out: %v", e.Provider, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

type ParseErrorKind string

const (
	MalformedJSON    ParseErrorKind = "malformed_json"
	InvalidStructure ParseErrorKind = "invalid_structure"
)

// ParseError is returned when analysis text cannot be turned into a result.
type ParseError struct {
	Kind   ParseErrorKind
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse analysis: %s: %s", e.Kind, e.Detail)
}

// PersistenceError wraps a failed read or write of review state.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RetryableError tells the queue the attempt failed with budget left and
// the job should be redelivered as the next attempt.
type RetryableError struct {
	Attempt int
	Err     error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("attempt %d failed: %v", e.Attempt, e.Err)
}

func (e *RetryableError) Unwrap() error { return e.Err }

// IsRetryable reports whether err asks for redelivery.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// errorKind names the failure class for logs and metrics.
func errorKind(err error) string {
	var te *TransportError
	var pe *ParseError
	var se *PersistenceError
	switch {
	case errors.As(err, &te):
		if te.Timeout {
			return "timeout"
		}
		return "transport"
	case errors.As(err, &pe):
		return string(pe.Kind)
	case errors.As(err, &se):
		return "persistence"
	default:
		return "unknown"
	}
}
