package api

import (
	"errors"
	"fmt"
)

// ErrorKind classifies an API failure at the HTTP boundary so callers
// never have to match on error message text.
type ErrorKind int

const (
	KindBadRequest ErrorKind = iota
	KindAuthInvalid
	KindForbidden
	KindNotFoundHome
	KindNotFoundDevice
	KindNotFound
	KindRateLimited
	KindServerError
	KindNetwork
	KindUnexpected
)

func (k ErrorKind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindAuthInvalid:
		return "auth_invalid"
	case KindForbidden:
		return "forbidden"
	case KindNotFoundHome:
		return "not_found_home"
	case KindNotFoundDevice:
		return "not_found_device"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindServerError:
		return "server_error"
	case KindNetwork:
		return "network"
	default:
		return "unexpected"
	}
}

// Error is an API call failure. Permanent kinds are raised after exactly
// one attempt; transient kinds only after the retry budget is exhausted.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Attempts   int
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("api error %s (HTTP %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %s: %s", e.Kind, e.Message)
}

// Transient reports whether the failure is worth retrying: rate limits,
// server-side errors, and network-level failures.
func (e *Error) Transient() bool {
	switch e.Kind {
	case KindRateLimited, KindServerError, KindNetwork:
		return true
	default:
		return false
	}
}

// ValidationError is malformed local input, raised before any network
// call and never retried.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Param, e.Reason)
}

// IsAuthInvalid reports whether err is an authentication failure (HTTP 401
// from the data API).
func IsAuthInvalid(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindAuthInvalid
}

// IsTransient reports whether err is a retryable API failure.
func IsTransient(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Transient()
}

// IsRateLimited reports whether err is a rate-limit rejection.
func IsRateLimited(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == KindRateLimited
}

// IsValidation reports whether err is a local input validation failure.
func IsValidation(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}
