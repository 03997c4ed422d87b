package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/xlog"
	"golang.org/x/sync/errgroup"
)

// executeTools runs the calls and returns one response per call, in call order.
// Calls of a sequential provider run one after another in one goroutine,
// other calls run concurrently.
func (a *Agent) executeTools(ctx context.Context, cfg *Config, rt *router, calls []llms.ToolCall) ([]llms.ToolCallResponse, error) {
	responses := make([]llms.ToolCallResponse, len(calls))

	var sequential []ToolProvider
	batches := make(map[ToolProvider][]int)

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		provider, reason := rt.Resolve(call.Name())
		if provider == nil {
			metricskey.StatsToolCallsNotFound.IncrCounter(1, call.Name())
			logger.ContextKV(ctx, xlog.WARNING,
				"agent", a.name,
				"status", "tool_not_resolved",
				"tool", call.Name(),
				"reason", reason,
			)
			if cfg.Callback != nil {
				cfg.Callback.OnToolNotFound(ctx, a, call)
			}
			responses[i] = failure(call, reason)
			continue
		}

		if provider.Sequential() {
			if _, ok := batches[provider]; !ok {
				sequential = append(sequential, provider)
			}
			batches[provider] = append(batches[provider], i)
			continue
		}

		g.Go(func() error {
			res, err := a.callTool(gctx, cfg, provider, call)
			if err != nil {
				return err
			}
			responses[i] = res
			return nil
		})
	}

	for _, provider := range sequential {
		indexes := batches[provider]
		g.Go(func() error {
			for _, i := range indexes {
				res, err := a.callTool(gctx, cfg, provider, calls[i])
				if err != nil {
					return err
				}
				responses[i] = res
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
		return nil, err
	}
	return responses, nil
}

// callTool returns the response to the call.
// Tool failures, unknown tools, invalid arguments and timeouts are responses
// with IsError set; other failures are returned as errors.
func (a *Agent) callTool(ctx context.Context, cfg *Config, provider ToolProvider, call llms.ToolCall) (llms.ToolCallResponse, error) {
	name := call.Name()
	args := json.RawMessage(strings.TrimSpace(call.Arguments()))
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		return failure(call, fmt.Sprintf("Invalid arguments for tool `%s`: not valid JSON", name)), nil
	}

	if cfg.Callback != nil {
		cfg.Callback.OnToolStart(ctx, a, call)
	}

	callCtx := ctx
	if cfg.ToolTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, cfg.ToolTimeout)
		defer cancel()
	}

	res, err := provider.CallTool(callCtx, name, args)
	if err != nil {
		if ctx.Err() != nil {
			return llms.ToolCallResponse{}, cancelled(ctx.Err())
		}

		if cfg.Callback != nil {
			cfg.Callback.OnToolError(ctx, a, call, err)
		}
		logger.ContextKV(ctx, xlog.WARNING,
			"agent", a.name,
			"status", "tool_call_failed",
			"tool", name,
			"provider", provider.Name(),
			"err", err.Error(),
		)

		switch {
		case mcp.IsToolNotFound(err):
			metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
			return failure(call, fmt.Sprintf("Tool `%s` not found on %s", name, provider.Name())), nil
		case callCtx.Err() != nil || errors.Is(err, transport.ErrTimeout):
			return failure(call, fmt.Sprintf("Tool `%s` timed out", name)), nil
		}
		return llms.ToolCallResponse{}, errors.WithMessagef(err, "tool %s on %s", name, provider.Name())
	}
	if res == nil {
		res = mcp.NewToolResult()
	}

	if cfg.Callback != nil {
		cfg.Callback.OnToolEnd(ctx, a, call, res)
	}
	logger.ContextKV(ctx, xlog.DEBUG,
		"agent", a.name,
		"status", "tool_call_response",
		"tool_call_id", call.ID,
		"tool", name,
		"is_error", res.IsError,
	)

	return llms.ToolCallResponse{
		ToolCallID: call.ID,
		Name:       name,
		Content:    resultContent(res),
		IsError:    res.IsError,
	}, nil
}

func failure(call llms.ToolCall, msg string) llms.ToolCallResponse {
	return llms.ToolCallResponse{
		ToolCallID: call.ID,
		Name:       call.Name(),
		Content:    msg,
		IsError:    true,
	}
}

// resultContent renders the content items for the conversation
func resultContent(res *mcp.ToolResult) string {
	var parts []string
	for _, c := range res.Content {
		switch c.Type {
		case mcp.ContentTypeText:
			parts = append(parts, c.Text)
		case mcp.ContentTypeImage:
			parts = append(parts, fmt.Sprintf("[image %s, %d bytes]", c.MimeType, len(c.Data)))
		}
	}
	return strings.Join(parts, "\n")
}
