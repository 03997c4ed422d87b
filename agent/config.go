package agent

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/store"
	"github.com/go-playground/validator/v10"
)

// Defaults
const (
	DefaultMaxIterations = 10
	DefaultName          = "agent"
)

var validate = validator.New()

// Config of an agent. A snapshot is taken when a run starts,
// so changes do not affect a run in progress.
type Config struct {
	// MaxIterations bounds the number of model generations per run
	MaxIterations int `json:"max_iterations" yaml:"max_iterations" validate:"gt=0"`
	// MaxTokens is passed to the model, 0 uses the model default
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" validate:"gte=0"`
	// Model overrides the model name of the provider
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// SystemPrompt is the first message of a conversation
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	// Temperature, 0 uses the model default
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty" validate:"gte=0,lte=2"`
	// ToolChoice is one of auto, none or required
	ToolChoice string `json:"tool_choice,omitempty" yaml:"tool_choice,omitempty" validate:"omitempty,oneof=auto none required"`
	// ToolTimeout limits each tool call, 0 means no limit beyond the run context.
	// A call that times out is reported to the model as a failure result.
	ToolTimeout time.Duration `json:"tool_timeout,omitempty" yaml:"tool_timeout,omitempty" validate:"gte=0"`

	// Providers of the tools advertised to the model
	Providers []ToolProvider `json:"-" yaml:"-" validate:"-"`
	// Callback receives run events
	Callback Callback `json:"-" yaml:"-" validate:"-"`
	// Store persists completed runs by the chat ID of the context
	Store store.MessageStore `json:"-" yaml:"-" validate:"-"`
}

// Option is a function that can be used to modify the Config.
type Option func(*Config)

// NewConfig returns the config with defaults and options applied
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		MaxIterations: DefaultMaxIterations,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Validate returns an error if the config is invalid
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.WithMessage(err, "invalid agent config")
	}
	return nil
}

// Apply returns a copy of the config with the options applied
func (c *Config) Apply(opts ...Option) *Config {
	cp := *c
	cp.Providers = append([]ToolProvider(nil), c.Providers...)
	for _, opt := range opts {
		opt(&cp)
	}
	return &cp
}

// CallOptions returns the model call options of the config
func (c *Config) CallOptions(tools []llms.Tool) []llms.CallOption {
	var opts []llms.CallOption
	if c.Model != "" {
		opts = append(opts, llms.WithModel(c.Model))
	}
	if c.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.MaxTokens))
	}
	if c.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(c.Temperature))
	}
	if len(tools) > 0 {
		opts = append(opts, llms.WithTools(tools))
		if c.ToolChoice != "" {
			opts = append(opts, llms.WithToolChoice(c.ToolChoice))
		}
	}
	return opts
}

// WithMaxIterations sets the maximum number of generations per run.
func WithMaxIterations(n int) Option {
	return func(o *Config) {
		o.MaxIterations = n
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(n int) Option {
	return func(o *Config) {
		o.MaxTokens = n
	}
}

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *Config) {
		o.Model = model
	}
}

// WithSystemPrompt sets the system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(o *Config) {
		o.SystemPrompt = prompt
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(temperature float64) Option {
	return func(o *Config) {
		o.Temperature = temperature
	}
}

// WithToolChoice sets the tool choice.
func WithToolChoice(choice string) Option {
	return func(o *Config) {
		o.ToolChoice = choice
	}
}

// WithToolTimeout limits each tool call.
func WithToolTimeout(timeout time.Duration) Option {
	return func(o *Config) {
		o.ToolTimeout = timeout
	}
}

// WithProviders adds tool providers.
func WithProviders(providers ...ToolProvider) Option {
	return func(o *Config) {
		o.Providers = append(o.Providers, providers...)
	}
}

// WithCallback sets the callback.
func WithCallback(callback Callback) Option {
	return func(o *Config) {
		o.Callback = callback
	}
}

// WithStore sets the message store.
func WithStore(st store.MessageStore) Option {
	return func(o *Config) {
		o.Store = st
	}
}
