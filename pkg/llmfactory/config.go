package llmfactory

import (
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/x/configloader"
)

// Config lists the configured providers
type Config struct {
	// Providers specifies the list of providers to use
	Providers []*ProviderConfig `json:"providers" yaml:"providers"`
	// DefaultProvider specifies the name of the default provider
	DefaultProvider string `json:"default_provider" yaml:"default_provider"`
	// AgentModels specifies the mapping of agents to models.
	// key is the agent name, value is the list of preferred models.
	// Use `default: [<model_name>]` as the default models for agents.
	AgentModels map[string][]string `json:"agent_models" yaml:"agent_models"`
	// Retry wraps the models with retries on temporary provider failures
	Retry *RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// ProviderConfig describes one provider account
type ProviderConfig struct {
	Name string `json:"name" yaml:"name"`
	// Type is one of ANTHROPIC|OPENAI|FAKE
	Type            llms.ProviderType `json:"type" yaml:"type"`
	Token           string            `json:"token,omitempty" yaml:"token,omitempty"`
	BaseURL         string            `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Organization    string            `json:"organization,omitempty" yaml:"organization,omitempty"`
	DefaultModel    string            `json:"default_model,omitempty" yaml:"default_model,omitempty"`
	AvailableModels []string          `json:"available_models,omitempty" yaml:"available_models,omitempty"`
	MaxTokens       int               `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// RetryConfig specifies the retry policy, durations are in Go format like `500ms`
type RetryConfig struct {
	MaxRetries      uint64 `json:"max_retries" yaml:"max_retries"`
	InitialInterval string `json:"initial_interval,omitempty" yaml:"initial_interval,omitempty"`
	MaxInterval     string `json:"max_interval,omitempty" yaml:"max_interval,omitempty"`
}

// FindModel returns the first of the models available from the provider,
// or the provider's default model
func (c *ProviderConfig) FindModel(models ...string) string {
	for _, model := range models {
		if slices.Contains(c.AvailableModels, model) {
			return model
		}
	}
	return c.DefaultModel
}

// Validate returns an error if the config is incomplete
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for _, p := range c.Providers {
		if p.Name == "" {
			return errors.New("provider name is required")
		}
		if seen[p.Name] {
			return errors.Newf("duplicate provider name: %s", p.Name)
		}
		seen[p.Name] = true

		switch p.Type {
		case llms.ProviderAnthropic, llms.ProviderOpenAI, llms.ProviderFake:
		default:
			return errors.Newf("provider %s: unsupported type: %s", p.Name, p.Type)
		}
	}
	if c.DefaultProvider != "" && !seen[c.DefaultProvider] {
		return errors.Newf("default provider not found: %s", c.DefaultProvider)
	}
	if c.Retry != nil {
		for _, d := range []string{c.Retry.InitialInterval, c.Retry.MaxInterval} {
			if d == "" {
				continue
			}
			if _, err := time.ParseDuration(d); err != nil {
				return errors.Wrapf(err, "invalid retry interval: %s", d)
			}
		}
	}
	return nil
}

// LoadConfig from file
func LoadConfig(file string) (*Config, error) {
	cfg := new(Config)
	if file == "" {
		return cfg, nil
	}

	err := configloader.UnmarshalAndExpand(file, cfg)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to load %s", file)
	}
	if err = cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
