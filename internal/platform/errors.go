package platform

import (
	"errors"
	"fmt"
	"strings"
)

// RejectCode classifies a platform rejection once, at the client boundary.
// The core branches on codes, never on vendor prose.
type RejectCode string

const (
	RejectGeneric     RejectCode = "generic"      // retryable
	RejectRateLimited RejectCode = "rate_limited" // retryable; fans out via the hot queue
	RejectIgnoring    RejectCode = "ignoring"     // permanent: recipient ignores this account
	RejectBlocked     RejectCode = "blocked"      // permanent
	RejectAgeMismatch RejectCode = "age_mismatch" // permanent
)

// TransportError wraps a no-response failure (timeout, connection reset).
// It never mutates any ledger; the dispatch loop answers with backoff.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("platform: transport failure during %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RejectedError is an explicit platform refusal carrying a machine-readable
// reason. Code is derived from Reason by ClassifyReason at the boundary.
type RejectedError struct {
	Code   RejectCode
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("platform: rejected (%s): %s", e.Code, e.Reason)
}

// Permanent reports whether the rejection must never be retried for this
// recipient, even after retry-queue expiry.
func (e *RejectedError) Permanent() bool {
	switch e.Code {
	case RejectIgnoring, RejectBlocked, RejectAgeMismatch:
		return true
	}
	return false
}

// IsTransport reports whether err is (or wraps) a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// AsRejected extracts a rejection from err, if any.
func AsRejected(err error) (*RejectedError, bool) {
	var re *RejectedError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// ClassifyReason maps a vendor reason string onto a RejectCode.
//
// The upstream API only gives us prose, so client implementations call this
// exactly once when constructing a RejectedError. Substring matching is a
// known weak point; the pattern table is the single place to amend when the
// vendor changes wording.
func ClassifyReason(reason string) RejectCode {
	r := strings.ToLower(reason)
	switch {
	case containsAny(r, "ignor"):
		return RejectIgnoring
	case containsAny(r, "block", "banned"):
		return RejectBlocked
	case containsAny(r, "age", "too young", "too old"):
		return RejectAgeMismatch
	case containsAny(r, "rate", "limit", "too many", "flood"):
		return RejectRateLimited
	default:
		return RejectGeneric
	}
}

// Rejected builds a RejectedError from a raw vendor reason.
func Rejected(reason string) *RejectedError {
	return &RejectedError{Code: ClassifyReason(reason), Reason: reason}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
