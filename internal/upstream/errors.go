package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies an upstream failure for retry decisions.
type ErrorKind int

const (
	// KindTransient covers throttling and gateway/service errors.
	// These are safe to retry with backoff.
	KindTransient ErrorKind = iota

	// KindPermanent covers bad credentials, malformed requests and
	// unparseable responses. Retrying will not help.
	KindPermanent
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// Error is the failure type returned by every Fetcher implementation.
// Status is the upstream HTTP status code when one was received, 0 otherwise.
type Error struct {
	Platform string
	Op       string
	Kind     ErrorKind
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: %s failed (%s, status %d): %v", e.Platform, e.Op, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s failed (%s): %v", e.Platform, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a retryable upstream failure.
func NewTransient(platform, op string, status int, err error) *Error {
	return &Error{Platform: platform, Op: op, Kind: KindTransient, Status: status, Err: err}
}

// NewPermanent wraps err as a non-retryable upstream failure.
func NewPermanent(platform, op string, status int, err error) *Error {
	return &Error{Platform: platform, Op: op, Kind: KindPermanent, Status: status, Err: err}
}

// ClassifyStatus maps an HTTP status code to an error kind.
// Only overload/unavailability statuses are transient; everything else,
// including other 4xx codes, is permanent.
func ClassifyStatus(status int) ErrorKind {
	switch status {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return KindTransient
	default:
		return KindPermanent
	}
}

// IsTransient reports whether err is classified as a retryable upstream failure.
func IsTransient(err error) bool {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Kind == KindTransient
	}
	return false
}

// StatusOf returns the upstream HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Status
	}
	return 0
}
