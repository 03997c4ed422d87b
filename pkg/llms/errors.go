package llms

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
)

// ProviderError is a failure reported by a language model provider:
// authentication, rate limit, a malformed or empty response.
// It is fatal to the current run.
type ProviderError struct {
	Provider ProviderType
	// StatusCode is the HTTP status of the failed call, 0 if the call did not complete
	StatusCode int
	Err        error
}

// NewProviderError returns a ProviderError
func NewProviderError(provider ProviderType, statusCode int, err error) error {
	return &ProviderError{
		Provider:   provider,
		StatusCode: statusCode,
		Err:        err,
	}
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Err.Error())
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Temporary returns true for rate limits and server side failures
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= http.StatusInternalServerError
}

// IsProviderError returns true if err is, or wraps, a ProviderError
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// AsProviderError returns the ProviderError in the chain of err
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
