// Package retry decorates an llms.Model with exponential backoff on
// temporary provider failures.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/pkg/llms", "retry")

// Default policy
const (
	DefaultMaxRetries      = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
)

// Option configures the retry policy
type Option func(*Model)

// WithMaxRetries sets the number of retries after the first attempt
func WithMaxRetries(n uint64) Option {
	return func(m *Model) {
		m.maxRetries = n
	}
}

// WithInitialInterval sets the first backoff interval
func WithInitialInterval(d time.Duration) Option {
	return func(m *Model) {
		m.initialInterval = d
	}
}

// WithMaxInterval caps the backoff interval
func WithMaxInterval(d time.Duration) Option {
	return func(m *Model) {
		m.maxInterval = d
	}
}

// Model retries GenerateContent of the wrapped model when it fails with a
// temporary *llms.ProviderError. Other errors are returned as is.
type Model struct {
	llms.Model

	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
}

var _ llms.Model = (*Model)(nil)

// New wraps the model
func New(model llms.Model, opts ...Option) *Model {
	m := &Model{
		Model:           model,
		maxRetries:      DefaultMaxRetries,
		initialInterval: DefaultInitialInterval,
		maxInterval:     DefaultMaxInterval,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GenerateContent implements llms.Model
func (m *Model) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	provider := string(m.Model.GetProviderType())

	op := func() (*llms.ContentResponse, error) {
		resp, err := m.Model.GenerateContent(ctx, messages, options...)
		if err != nil && !Retryable(err) {
			return nil, backoff.Permanent(err)
		}
		return resp, err
	}

	notify := func(err error, next time.Duration) {
		metricskey.StatsLLMCallsRetried.IncrCounter(1, provider)
		logger.ContextKV(ctx, xlog.WARNING,
			"reason", "retry",
			"provider", provider,
			"next", next.String(),
			"err", err.Error(),
		)
	}

	return backoff.RetryNotifyWithData(op, m.policy(ctx), notify)
}

func (m *Model) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.initialInterval
	b.MaxInterval = m.maxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, m.maxRetries), ctx)
}

// Retryable returns true for temporary provider errors
func Retryable(err error) bool {
	pe, ok := llms.AsProviderError(err)
	return ok && pe.Temporary()
}
