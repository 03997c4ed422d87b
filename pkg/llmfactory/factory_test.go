package llmfactory_test

import (
	"context"
	"testing"

	"github.com/effective-security/mcpagent/pkg/llmfactory"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llms/anthropic"
	"github.com/effective-security/mcpagent/pkg/llms/fake"
	"github.com/effective-security/mcpagent/pkg/llms/openai"
	"github.com/effective-security/mcpagent/pkg/llms/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	provider string
	model    string
}

func (s *stubLLM) GetProviderType() llms.ProviderType {
	return llms.ProviderFake
}

func (s *stubLLM) GenerateContent(_ context.Context, _ []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	return fake.TextResponse(s.model), nil
}

func unwrap(t *testing.T, m llms.Model) *stubLLM {
	r, ok := m.(*retry.Model)
	require.True(t, ok, "expected retry wrapper, got %T", m)
	s, ok := r.Model.(*stubLLM)
	require.True(t, ok)
	return s
}

func Test_Factory(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_API_KEY", "fakekey")
	t.Setenv("TEST_OPENAI_API_KEY", "fakekey")

	cfg, err := llmfactory.LoadConfig("testdata/llm.yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Providers, 3)
	assert.Equal(t, "fakekey", cfg.Providers[0].Token)
	assert.Equal(t, llms.ProviderAnthropic, cfg.Providers[0].Type)
	require.NotNil(t, cfg.Retry)
	assert.Equal(t, uint64(2), cfg.Retry.MaxRetries)

	created := 0
	llmfactory.NewLLM = func(cfg *llmfactory.ProviderConfig, preferredModels ...string) (llms.Model, error) {
		created++
		return &stubLLM{provider: cfg.Name, model: cfg.FindModel(preferredModels...)}, nil
	}
	defer func() {
		llmfactory.NewLLM = llmfactory.CreateLLM
	}()

	f := llmfactory.New(cfg)
	model, err := f.DefaultModel()
	require.NoError(t, err)
	fm := unwrap(t, model)
	assert.Equal(t, "gpt-4o", fm.model)
	assert.Equal(t, "openai", fm.provider)

	model, err = f.ModelByName("gpt-4o-mini")
	require.NoError(t, err)
	fm = unwrap(t, model)
	assert.Equal(t, "gpt-4o-mini", fm.model)
	assert.Equal(t, "openai", fm.provider)

	// cached by name
	n := created
	model2, err := f.ModelByName("gpt-4o-mini")
	require.NoError(t, err)
	assert.Same(t, model, model2)
	assert.Equal(t, n, created)

	model, err = f.ModelByName("unknown", "claude-3-5-haiku-20241022")
	require.NoError(t, err)
	fm = unwrap(t, model)
	assert.Equal(t, "claude-3-5-haiku-20241022", fm.model)
	assert.Equal(t, "anthropic", fm.provider)

	// fallback to default
	model, err = f.ModelByName("non-existent-model")
	require.NoError(t, err)
	fm = unwrap(t, model)
	assert.Equal(t, "gpt-4o", fm.model)

	model, err = f.ModelByType(llms.ProviderAnthropic)
	require.NoError(t, err)
	fm = unwrap(t, model)
	assert.Equal(t, "claude-3-5-sonnet-20241022", fm.model)
	assert.Equal(t, "anthropic", fm.provider)

	model, err = f.ModelByType(llms.ProviderFake)
	require.NoError(t, err)
	fm = unwrap(t, model)
	assert.Equal(t, "echo", fm.model)

	_, err = f.ModelByType("GEMINI")
	assert.EqualError(t, err, "provider not found for type: GEMINI")

	model, err = f.AgentModel("planner")
	require.NoError(t, err)
	assert.Equal(t, "claude-3-5-haiku-20241022", unwrap(t, model).model)

	model, err = f.AgentModel("writer", "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", unwrap(t, model).model)
}

func Test_FactoryNoProviders(t *testing.T) {
	t.Parallel()
	f := llmfactory.New(&llmfactory.Config{})
	_, err := f.DefaultModel()
	assert.EqualError(t, err, "no providers configured")

	_, err = f.ModelByName("gpt-4o")
	assert.EqualError(t, err, "no providers configured")
}

func Test_LoadConfig(t *testing.T) {
	t.Parallel()
	cfg, err := llmfactory.LoadConfig("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Providers)

	_, err = llmfactory.LoadConfig("testdata/invalid.yaml")
	assert.EqualError(t, err, "provider unknown: unsupported type: GEMINI")

	_, err = llmfactory.LoadConfig("testdata/missing.yaml")
	assert.Error(t, err)

	cfg = &llmfactory.Config{
		DefaultProvider: "nope",
		Providers:       []*llmfactory.ProviderConfig{{Name: "a", Type: llms.ProviderFake}},
	}
	assert.EqualError(t, cfg.Validate(), "default provider not found: nope")

	cfg = &llmfactory.Config{
		Providers: []*llmfactory.ProviderConfig{{Name: "a", Type: llms.ProviderFake}, {Name: "a", Type: llms.ProviderFake}},
	}
	assert.EqualError(t, cfg.Validate(), "duplicate provider name: a")

	cfg = &llmfactory.Config{Retry: &llmfactory.RetryConfig{InitialInterval: "soon"}}
	assert.Error(t, cfg.Validate())
}

func Test_CreateLLM(t *testing.T) {
	t.Parallel()

	m, err := llmfactory.CreateLLM(&llmfactory.ProviderConfig{
		Name:         "openai",
		Type:         llms.ProviderOpenAI,
		Token:        "x",
		DefaultModel: "gpt-4o",
		BaseURL:      "http://localhost:1/v1",
	})
	require.NoError(t, err)
	oa, ok := m.(*openai.LLM)
	require.True(t, ok)
	assert.Equal(t, "gpt-4o", oa.GetName())

	m, err = llmfactory.CreateLLM(&llmfactory.ProviderConfig{
		Name:            "anthropic",
		Type:            llms.ProviderAnthropic,
		Token:           "x",
		DefaultModel:    "claude-3-5-sonnet-20241022",
		AvailableModels: []string{"claude-3-5-haiku-20241022"},
	}, "claude-3-5-haiku-20241022")
	require.NoError(t, err)
	an, ok := m.(*anthropic.LLM)
	require.True(t, ok)
	assert.Equal(t, "claude-3-5-haiku-20241022", an.GetName())

	m, err = llmfactory.CreateLLM(&llmfactory.ProviderConfig{Name: "local", Type: llms.ProviderFake})
	require.NoError(t, err)
	assert.Equal(t, llms.ProviderFake, m.GetProviderType())

	_, err = llmfactory.CreateLLM(&llmfactory.ProviderConfig{Name: "x", Type: "GEMINI"})
	assert.EqualError(t, err, "unsupported provider type: GEMINI")
}
