package upstream

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimitExhausted means every retry hit a rate-limit response.
	ErrRateLimitExhausted = errors.New("upstream rate limit exhausted")
	// ErrTransport means the API could not be reached after retries.
	ErrTransport = errors.New("upstream transport failure")
	// ErrAuth is returned without retrying; a new token is needed.
	ErrAuth = errors.New("upstream authentication failed")
	// ErrBadRequest is returned without retrying; the request is malformed.
	ErrBadRequest = errors.New("upstream rejected request")

	ErrTokenExpired = errors.New("upstream token expired")
	ErrTokenMissing = errors.New("upstream token missing")
)

// CallError describes a failed call. Kind is one of the sentinel errors
// above, so callers can use errors.Is.
type CallError struct {
	Action   Action
	Kind     error
	Code     int
	Status   int
	Message  string
	Attempts int
	Err      error
}

func (e *CallError) Error() string {
	msg := fmt.Sprintf("%s: %v (attempts=%d", e.Action, e.Kind, e.Attempts)
	if e.Status != 0 {
		msg += fmt.Sprintf(", status=%d", e.Status)
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(", code=%d", e.Code)
	}
	msg += ")"
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CallError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimitExhausted) || errors.Is(err, ErrTransport)
}
