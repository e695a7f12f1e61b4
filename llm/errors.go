package llm

import (
	"errors"
	"fmt"
)

// ErrExhausted is returned when every model in the ordering failed,
// including the one clean-slate retry. Callers fall back to local
// heuristics when they see it.
var ErrExhausted = errors.New("all models exhausted")

// UnavailableError marks a model the provider does not serve (404-class).
// The cascade excludes the model for the rest of the session.
type UnavailableError struct {
	Model string
	Err   error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("model %s unavailable: %v", e.Model, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err for a model the backend reported as not found.
func Unavailable(model string, err error) error {
	return &UnavailableError{Model: model, Err: err}
}

// IsUnavailable reports whether err is an UnavailableError.
func IsUnavailable(err error) bool {
	var unavailable *UnavailableError
	return errors.As(err, &unavailable)
}

// ThrottledError marks a rate-limited model (429-class). The cascade
// excludes the model for the session and backs off before the next
// candidate.
type ThrottledError struct {
	Model string
	Err   error
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("model %s throttled: %v", e.Model, e.Err)
}

func (e *ThrottledError) Unwrap() error {
	return e.Err
}

// Throttled wraps err for a rate-limited model.
func Throttled(model string, err error) error {
	return &ThrottledError{Model: model, Err: err}
}

// IsThrottled reports whether err is a ThrottledError.
func IsThrottled(err error) bool {
	var throttled *ThrottledError
	return errors.As(err, &throttled)
}
