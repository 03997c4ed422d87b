package anthropic

import (
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	TokenEnvVarName = "ANTHROPIC_API_KEY" //nolint:gosec
)

type Options struct {
	Token      string
	Model      string
	BaseURL    string
	HttpClient option.HTTPClient

	// SystemPrompt is used when the conversation has no system message
	SystemPrompt string
	// Temperature is used when the call does not set one
	Temperature float64
	// MaxTokens is used when the call does not set one
	MaxTokens int
}

type Option func(*Options)

// WithToken passes the Anthropic API token to the client. If not set, the token
// is read from the ANTHROPIC_API_KEY environment variable.
func WithToken(token string) Option {
	return func(opts *Options) {
		opts.Token = token
	}
}

// WithModel passes the Anthropic model to the client.
func WithModel(model string) Option {
	return func(opts *Options) {
		opts.Model = model
	}
}

// WithBaseURL passes the Anthropic base URL to the client.
// If not set, the default base URL is used.
func WithBaseURL(baseURL string) Option {
	return func(opts *Options) {
		opts.BaseURL = baseURL
	}
}

// WithHTTPClient allows setting a custom HTTP client. If not set, the default value
// is http.DefaultClient.
func WithHTTPClient(client option.HTTPClient) Option {
	return func(opts *Options) {
		opts.HttpClient = client
	}
}

// WithSystemPrompt sets the default system prompt
func WithSystemPrompt(prompt string) Option {
	return func(opts *Options) {
		opts.SystemPrompt = prompt
	}
}

// WithTemperature sets the default temperature
func WithTemperature(temperature float64) Option {
	return func(opts *Options) {
		opts.Temperature = temperature
	}
}

// WithMaxTokens sets the default max tokens
func WithMaxTokens(maxTokens int) Option {
	return func(opts *Options) {
		opts.MaxTokens = maxTokens
	}
}
