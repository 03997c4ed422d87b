package llms

import (
	"context"
)

// ProviderType is the type of provider.
type ProviderType string

const (
	// ProviderAnthropic is the Anthropic Messages API
	ProviderAnthropic ProviderType = "ANTHROPIC"
	// ProviderOpenAI is the OpenAI Responses API
	ProviderOpenAI ProviderType = "OPENAI"
	// ProviderFake is the scripted model used for tests and demos
	ProviderFake ProviderType = "FAKE"
)

//go:generate mockgen -destination=../../mocks/mockllms/llm_mock.gen.go -package mockllms github.com/effective-security/mcpagent/pkg/llms Model

// Model is an interface multi-modal models implement.
type Model interface {
	// GetProviderType returns the type of provider.
	GetProviderType() ProviderType
	// GenerateContent asks the model to generate content from a sequence of
	// messages. The tools available to the model are passed with WithTools.
	GenerateContent(ctx context.Context, messages []Message, options ...CallOption) (*ContentResponse, error)
}
