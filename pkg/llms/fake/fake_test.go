package fake_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llms/fake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModel(t *testing.T) {
	ctx := context.Background()
	m := fake.New(fake.ToolCallsResponse(fake.ToolCall("1", "echo", `{"message":"hi"}`))).
		ThenError(errors.New("provider down"))
	assert.Equal(t, llms.ProviderFake, m.GetProviderType())

	conv := []llms.Message{llms.MessageFromTextParts(llms.RoleUser, "hello")}

	resp, err := m.GenerateContent(ctx, conv, llms.WithMaxTokens(10))
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls(), 1)
	assert.Equal(t, "echo", resp.ToolCalls()[0].Name())

	_, err = m.GenerateContent(ctx, conv)
	assert.EqualError(t, err, "provider down")

	resp, err = m.GenerateContent(ctx, conv)
	require.NoError(t, err)
	assert.Equal(t, "I received: hello", resp.Text())

	calls := m.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, 10, calls[0].Options.MaxTokens)
	assert.Equal(t, conv, calls[2].Messages)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = m.GenerateContent(cctx, conv)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, m.Calls(), 3)
}
