package agent

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrIterationLimitExceeded is returned when the model keeps requesting
	// tools after Config.MaxIterations generations
	ErrIterationLimitExceeded = errors.New("iteration limit exceeded")
	// ErrCancelled marks a run stopped by its context,
	// the context error is kept in the chain
	ErrCancelled = errors.New("run cancelled")
	// ErrRunInProgress is returned when a run is started while another one is active
	ErrRunInProgress = errors.New("run in progress")
	// ErrEmptyResponse is returned when the model returns neither text nor tool calls
	ErrEmptyResponse = errors.New("empty response from model")
)

// cancelledError matches ErrCancelled and unwraps to the context error
type cancelledError struct {
	err error
}

func (e *cancelledError) Error() string {
	return "agent run cancelled: " + e.err.Error()
}

func (e *cancelledError) Is(target error) bool {
	return target == ErrCancelled
}

func (e *cancelledError) Unwrap() error {
	return e.err
}

func cancelled(err error) error {
	return errors.WithStack(&cancelledError{err: err})
}
