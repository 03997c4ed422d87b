package llmfactory

import (
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llms/anthropic"
	"github.com/effective-security/mcpagent/pkg/llms/fake"
	"github.com/effective-security/mcpagent/pkg/llms/openai"
	"github.com/effective-security/mcpagent/pkg/llms/retry"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/pkg", "llmfactory")

// NewLLM is a wrapper for CreateLLM to allow for overriding the default implementation.
var NewLLM = CreateLLM

// Factory is the interface for creating and managing LLM models.
type Factory interface {
	// DefaultModel returns the default LLM model.
	DefaultModel() (llms.Model, error)
	// ModelByType returns the model of the first provider of the type.
	ModelByType(providerType llms.ProviderType) (llms.Model, error)
	// ModelByName returns an LLM model by its name,
	// if the model is not found, it will return the default model.
	ModelByName(preferredModels ...string) (llms.Model, error)
	// AgentModel returns the model configured for the agent.
	AgentModel(agentName string, preferredModels ...string) (llms.Model, error)
}

// Load returns a factory from the config file
func Load(location string) (Factory, error) {
	cfg, err := LoadConfig(location)
	if err != nil {
		return nil, err
	}
	return New(cfg), nil
}

type factory struct {
	cfg *Config

	defaultProvider *ProviderConfig
	agentModels     map[string][]string
	byType          map[llms.ProviderType]llms.Model
	byName          map[string]llms.Model
	lock            sync.Mutex
}

// New creates a new LLM factory
func New(cfg *Config) Factory {
	f := &factory{
		cfg:         cfg,
		byType:      make(map[llms.ProviderType]llms.Model),
		byName:      make(map[string]llms.Model),
		agentModels: make(map[string][]string),
	}

	for k, v := range cfg.AgentModels {
		f.agentModels[k] = slices.Clone(v)
	}

	for _, provider := range cfg.Providers {
		if provider.Name == cfg.DefaultProvider {
			f.defaultProvider = provider
			break
		}
	}
	if f.defaultProvider == nil && len(cfg.Providers) > 0 {
		f.defaultProvider = cfg.Providers[0]
	}

	return f
}

// CreateLLM returns a model of the provider,
// the first of preferredModels available from the provider is used.
func CreateLLM(cfg *ProviderConfig, preferredModels ...string) (llms.Model, error) {
	model := cfg.FindModel(preferredModels...)

	switch cfg.Type {
	case llms.ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(model)}
		if cfg.Token != "" {
			opts = append(opts, openai.WithToken(cfg.Token))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		if cfg.Organization != "" {
			opts = append(opts, openai.WithOrganization(cfg.Organization))
		}
		if cfg.MaxTokens > 0 {
			opts = append(opts, openai.WithMaxTokens(cfg.MaxTokens))
		}
		return openai.New(opts...)
	case llms.ProviderAnthropic:
		opts := []anthropic.Option{anthropic.WithModel(model)}
		if cfg.Token != "" {
			opts = append(opts, anthropic.WithToken(cfg.Token))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
		}
		if cfg.MaxTokens > 0 {
			opts = append(opts, anthropic.WithMaxTokens(cfg.MaxTokens))
		}
		return anthropic.New(opts...)
	case llms.ProviderFake:
		return fake.New(), nil
	}
	return nil, errors.Errorf("unsupported provider type: %s", cfg.Type)
}

func (f *factory) newLLM(cfg *ProviderConfig, preferredModels ...string) (llms.Model, error) {
	model, err := NewLLM(cfg, preferredModels...)
	if err != nil {
		return nil, err
	}

	logger.KV(xlog.DEBUG,
		"status", "created_llm",
		"type", cfg.Type,
		"name", cfg.Name,
		"model", cfg.FindModel(preferredModels...),
	)

	if rc := f.cfg.Retry; rc != nil {
		opts := []retry.Option{retry.WithMaxRetries(rc.MaxRetries)}
		if d, err := time.ParseDuration(rc.InitialInterval); err == nil {
			opts = append(opts, retry.WithInitialInterval(d))
		}
		if d, err := time.ParseDuration(rc.MaxInterval); err == nil {
			opts = append(opts, retry.WithMaxInterval(d))
		}
		model = retry.New(model, opts...)
	}
	return model, nil
}

// DefaultModel returns the default model of the default provider
func (f *factory) DefaultModel() (llms.Model, error) {
	if f.defaultProvider == nil {
		return nil, errors.New("no providers configured")
	}
	return f.newLLM(f.defaultProvider, f.defaultProvider.DefaultModel)
}

func (f *factory) ModelByType(providerType llms.ProviderType) (llms.Model, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	if client, ok := f.byType[providerType]; ok {
		return client, nil
	}

	for _, cfg := range f.cfg.Providers {
		if cfg.Type == providerType {
			model, err := f.newLLM(cfg)
			if err != nil {
				return nil, err
			}
			f.byType[providerType] = model
			return model, nil
		}
	}
	return nil, errors.Errorf("provider not found for type: %s", providerType)
}

func (f *factory) ModelByName(modelNames ...string) (llms.Model, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	for _, modelName := range modelNames {
		if client, ok := f.byName[modelName]; ok {
			return client, nil
		}

		for _, cfg := range f.cfg.Providers {
			if slices.Contains(cfg.AvailableModels, modelName) {
				model, err := f.newLLM(cfg, modelName)
				if err != nil {
					logger.KV(xlog.ERROR,
						"reason", "NewLLM",
						"type", cfg.Type,
						"name", cfg.Name,
						"model", modelName,
						"err", err.Error(),
					)
					continue
				}

				f.byName[modelName] = model
				return model, nil
			}
		}
	}
	return f.DefaultModel()
}

// AgentModel returns the model mapped to the agent name,
// then the `default` mapping, then the preferred models.
func (f *factory) AgentModel(agentName string, preferredModels ...string) (llms.Model, error) {
	if modelNames, ok := f.agentModels[agentName]; ok {
		return f.ModelByName(modelNames...)
	}
	if modelNames, ok := f.agentModels["default"]; ok {
		return f.ModelByName(modelNames...)
	}
	return f.ModelByName(preferredModels...)
}
