package agent

import (
	"context"

	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/pkg/llms"
)

// Callback receives the events of a run.
// Tool events are raised from concurrent goroutines.
type Callback interface {
	OnAgentStart(ctx context.Context, a *Agent, input string)
	OnAgentEnd(ctx context.Context, a *Agent, input string, output string)
	OnAgentError(ctx context.Context, a *Agent, input string, err error)
	OnStateChange(ctx context.Context, a *Agent, from, to State)

	OnLLMCallStart(ctx context.Context, a *Agent, messages []llms.Message)
	OnLLMCallEnd(ctx context.Context, a *Agent, resp *llms.ContentResponse)

	OnToolStart(ctx context.Context, a *Agent, call llms.ToolCall)
	OnToolEnd(ctx context.Context, a *Agent, call llms.ToolCall, result *mcp.ToolResult)
	OnToolError(ctx context.Context, a *Agent, call llms.ToolCall, err error)
	OnToolNotFound(ctx context.Context, a *Agent, call llms.ToolCall)
}
