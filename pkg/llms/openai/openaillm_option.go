package openai

import (
	"net/http"
)

const (
	tokenEnvVarName        = "OPENAI_API_KEY"      //nolint:gosec
	modelEnvVarName        = "OPENAI_MODEL"        //nolint:gosec
	baseURLEnvVarName      = "OPENAI_BASE_URL"     //nolint:gosec
	organizationEnvVarName = "OPENAI_ORGANIZATION" //nolint:gosec
)

const (
	DefaultBaseURL   = "https://api.openai.com/v1"
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 4096
)

type options struct {
	token        string
	model        string
	baseURL      string
	organization string
	headers      map[string]string
	httpClient   *http.Client
	maxTokens    int
}

// Option configures the Responses API client
type Option func(*options)

// WithToken sets the API key, OPENAI_API_KEY is used when empty.
func WithToken(token string) Option {
	return func(o *options) {
		o.token = token
	}
}

// WithModel sets the default model, OPENAI_MODEL or DefaultModel is used when empty.
func WithModel(model string) Option {
	return func(o *options) {
		o.model = model
	}
}

// WithBaseURL points the client to a compatible endpoint,
// OPENAI_BASE_URL or DefaultBaseURL is used when empty.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = baseURL
	}
}

// WithOrganization sets the OpenAI-Organization header
func WithOrganization(organization string) Option {
	return func(o *options) {
		o.organization = organization
	}
}

// WithHeader adds a header sent with every request
func WithHeader(key, value string) Option {
	return func(o *options) {
		if o.headers == nil {
			o.headers = map[string]string{}
		}
		o.headers[key] = value
	}
}

// WithHTTPClient replaces http.DefaultClient
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithMaxTokens sets the output token limit used when a call does not set one
func WithMaxTokens(maxTokens int) Option {
	return func(o *options) {
		o.maxTokens = maxTokens
	}
}
