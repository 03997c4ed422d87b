package callbacks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/mcpagent/agent"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llmutils"
	"github.com/effective-security/xlog"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ agent.Callback = (*Noop)(nil)
	_ agent.Callback = (*Printer)(nil)
	_ agent.Callback = (*PackageLogger)(nil)
	_ agent.Callback = (*Fanout)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []agent.Callback
}

func NewFanout(callbacks ...agent.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback agent.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnAgentStart(ctx context.Context, a *agent.Agent, input string) {
	for _, callback := range l.callbacks {
		callback.OnAgentStart(ctx, a, input)
	}
}

func (l *Fanout) OnAgentEnd(ctx context.Context, a *agent.Agent, input string, output string) {
	for _, callback := range l.callbacks {
		callback.OnAgentEnd(ctx, a, input, output)
	}
}

func (l *Fanout) OnAgentError(ctx context.Context, a *agent.Agent, input string, err error) {
	for _, callback := range l.callbacks {
		callback.OnAgentError(ctx, a, input, err)
	}
}

func (l *Fanout) OnStateChange(ctx context.Context, a *agent.Agent, from, to agent.State) {
	for _, callback := range l.callbacks {
		callback.OnStateChange(ctx, a, from, to)
	}
}

func (l *Fanout) OnLLMCallStart(ctx context.Context, a *agent.Agent, messages []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnLLMCallStart(ctx, a, messages)
	}
}

func (l *Fanout) OnLLMCallEnd(ctx context.Context, a *agent.Agent, resp *llms.ContentResponse) {
	for _, callback := range l.callbacks {
		callback.OnLLMCallEnd(ctx, a, resp)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, a *agent.Agent, call llms.ToolCall) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, a, call)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, a *agent.Agent, call llms.ToolCall, result *mcp.ToolResult) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, a, call, result)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, a *agent.Agent, call llms.ToolCall, err error) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, a, call, err)
	}
}

func (l *Fanout) OnToolNotFound(ctx context.Context, a *agent.Agent, call llms.ToolCall) {
	for _, callback := range l.callbacks {
		callback.OnToolNotFound(ctx, a, call)
	}
}

// Noop does nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (l *Noop) OnAgentStart(context.Context, *agent.Agent, string) {}

func (l *Noop) OnAgentEnd(context.Context, *agent.Agent, string, string) {}

func (l *Noop) OnAgentError(context.Context, *agent.Agent, string, error) {}

func (l *Noop) OnStateChange(context.Context, *agent.Agent, agent.State, agent.State) {}

func (l *Noop) OnLLMCallStart(context.Context, *agent.Agent, []llms.Message) {}

func (l *Noop) OnLLMCallEnd(context.Context, *agent.Agent, *llms.ContentResponse) {}

func (l *Noop) OnToolStart(context.Context, *agent.Agent, llms.ToolCall) {}

func (l *Noop) OnToolEnd(context.Context, *agent.Agent, llms.ToolCall, *mcp.ToolResult) {}

func (l *Noop) OnToolError(context.Context, *agent.Agent, llms.ToolCall, error) {}

func (l *Noop) OnToolNotFound(context.Context, *agent.Agent, llms.ToolCall) {}

// Printer is a callback handler that prints to the Writer.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnAgentStart(_ context.Context, a *agent.Agent, input string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Agent Start: %s\n", a.Name())
	fmt.Fprintf(l.Out, "Input: %s\n", input)
}

func (l *Printer) OnAgentEnd(_ context.Context, a *agent.Agent, _ string, output string) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Agent End: %s, %d generations\n", a.Name(), a.Iterations())
	if l.Mode == ModeVerbose {
		fmt.Fprintln(l.Out, output)
	}
}

func (l *Printer) OnAgentError(_ context.Context, a *agent.Agent, _ string, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Agent Error: %s: %s\n", a.Name(), err.Error())
}

func (l *Printer) OnStateChange(_ context.Context, a *agent.Agent, from, to agent.State) {
	if l.Mode != ModeVerbose {
		return
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "State: %s: %s -> %s\n", a.Name(), from, to)
}

func (l *Printer) OnLLMCallStart(_ context.Context, a *agent.Agent, messages []llms.Message) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "LLM Call: %s: %d messages\n", a.Name(), len(messages))
	if l.Mode == ModeVerbose {
		llmutils.PrintMessages(l.Out, messages)
	}
}

func (l *Printer) OnLLMCallEnd(_ context.Context, a *agent.Agent, resp *llms.ContentResponse) {
	l.lock.Lock()
	defer l.lock.Unlock()
	in, out := resp.Usage()
	fmt.Fprintf(l.Out, "LLM Call End: %s: %d tool calls, %d input tokens, %d output tokens\n",
		a.Name(), len(resp.ToolCalls()), in, out)
}

func (l *Printer) OnToolStart(_ context.Context, a *agent.Agent, call llms.ToolCall) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Start: %s (%s)\n", call.Name(), a.Name())
	fmt.Fprintf(l.Out, "Input: %s\n", call.Arguments())
}

func (l *Printer) OnToolEnd(_ context.Context, a *agent.Agent, call llms.ToolCall, result *mcp.ToolResult) {
	l.lock.Lock()
	defer l.lock.Unlock()
	status := "ok"
	if result.IsError {
		status = "failed"
	}
	fmt.Fprintf(l.Out, "Tool End: %s (%s): %s\n", call.Name(), a.Name(), status)
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Output: %s\n", result.Text())
	}
}

func (l *Printer) OnToolError(_ context.Context, a *agent.Agent, call llms.ToolCall, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Error: %s (%s): %s\n", call.Name(), a.Name(), err.Error())
}

func (l *Printer) OnToolNotFound(_ context.Context, _ *agent.Agent, call llms.ToolCall) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Not Found: %s\n", call.Name())
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnAgentStart(ctx context.Context, a *agent.Agent, input string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "agent_start",
		"agent", a.Name(),
		"input", input,
	)
}

func (l *PackageLogger) OnAgentEnd(ctx context.Context, a *agent.Agent, _ string, output string) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "agent_end",
		"agent", a.Name(),
		"iterations", a.Iterations(),
		"result", output,
	)
}

func (l *PackageLogger) OnAgentError(ctx context.Context, a *agent.Agent, _ string, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "agent_error",
		"agent", a.Name(),
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnStateChange(ctx context.Context, a *agent.Agent, from, to agent.State) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "state_change",
		"agent", a.Name(),
		"from", from.String(),
		"to", to.String(),
	)
}

func (l *PackageLogger) OnLLMCallStart(ctx context.Context, a *agent.Agent, messages []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "llm_call_start",
		"agent", a.Name(),
		"messages", len(messages),
	)
}

func (l *PackageLogger) OnLLMCallEnd(ctx context.Context, a *agent.Agent, resp *llms.ContentResponse) {
	in, out := resp.Usage()
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "llm_call_end",
		"agent", a.Name(),
		"tool_calls", len(resp.ToolCalls()),
		"input_tokens", in,
		"output_tokens", out,
	)
}

func (l *PackageLogger) OnToolStart(ctx context.Context, a *agent.Agent, call llms.ToolCall) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"agent", a.Name(),
		"tool", call.Name(),
		"input", call.Arguments(),
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, a *agent.Agent, call llms.ToolCall, result *mcp.ToolResult) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"agent", a.Name(),
		"tool", call.Name(),
		"is_error", result.IsError,
		"output", result.Text(),
	)
}

func (l *PackageLogger) OnToolError(ctx context.Context, a *agent.Agent, call llms.ToolCall, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"agent", a.Name(),
		"tool", call.Name(),
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnToolNotFound(ctx context.Context, a *agent.Agent, call llms.ToolCall) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_not_found",
		"agent", a.Name(),
		"tool", call.Name(),
	)
}
