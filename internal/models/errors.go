package models

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

// Sentinel errors surfaced across the store, engine and governor. Callers
// match with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidCursor    = errors.New("invalid cursor")
	ErrDanglingEdge     = errors.New("dangling edge: endpoint node does not exist")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrPolicyDenied     = errors.New("policy denied")
	ErrExpired          = errors.New("expired")
	ErrPermissionDenied = errors.New("permission denied")
	ErrQuotaExceeded    = errors.New("quota exceeded")
)

// TransientError marks an error as retryable (network, throttling, 5xx).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried with backoff. Explicitly
// wrapped transient errors and common network failures qualify; everything
// else is surfaced to the caller.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "throttl") ||
		strings.Contains(msg, "rate exceeded") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset")
}
