package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/effective-security/mcpagent/agent"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llmutils"
)

var _ agent.Callback = (*Scratchpad)(nil)

var TimeNowFn = time.Now

type RunStats struct {
	ChatID string
	RunID  string

	Duration            time.Duration
	TotalMessages       uint32
	LLMBytesOut         uint64
	LLMBytesIn          uint64
	LLMInputTokens      uint64
	LLMOutputTokens     uint64
	AgentRuns           uint32
	AgentRunsSucceeded  uint32
	AgentRunsFailed     uint32
	LLMCalls            uint32
	ToolsCalls          uint32
	ToolsCallsSucceeded uint32
	ToolsCallsFailed    uint32
	ToolNotFound        uint32
}

// Scratchpad collects the events and stats of runs, per chat.
type Scratchpad struct {
	runs map[string]*run
	mode Mode
	lock sync.Mutex
}

func NewScratchpad(mode Mode) *Scratchpad {
	return &Scratchpad{
		runs: make(map[string]*run),
		mode: mode,
	}
}

// StartRun starts collecting for the chat in the context.
// The returned context carries the chat context, a new one is created if missing.
func (l *Scratchpad) StartRun(ctx context.Context) context.Context {
	ctx, chatCtx := chatmodel.EnsureChatContext(ctx)

	r := &run{
		stats: RunStats{
			ChatID: chatCtx.GetChatID(),
			RunID:  chatCtx.RunID(),
		},
		chatCtx: chatCtx,
		started: TimeNowFn(),
	}

	l.lock.Lock()
	l.runs[chatCtx.GetChatID()] = r
	l.lock.Unlock()

	r.print("*** Run Started ***")
	return ctx
}

// EndRun stops collecting for the chat in the context,
// and returns the stats and the transcript.
func (l *Scratchpad) EndRun(ctx context.Context) (*RunStats, []byte) {
	run := l.getRun(ctx)
	if run == nil {
		return nil, nil
	}

	stats := run.snapshot()
	stats.Duration = TimeNowFn().Sub(run.started)

	run.print(fmt.Sprintf("Agent runs: %d, Failed: %d",
		stats.AgentRuns,
		stats.AgentRunsFailed,
	))
	run.print(fmt.Sprintf("Tool calls: %d, Failed: %d, Not Found: %d",
		stats.ToolsCalls,
		stats.ToolsCallsFailed,
		stats.ToolNotFound,
	))
	run.print(fmt.Sprintf("LLM calls: %d, Messages: %d, Bytes Out: %d, Bytes In: %d, Input Tokens: %d, Output Tokens: %d",
		stats.LLMCalls,
		stats.TotalMessages,
		stats.LLMBytesOut,
		stats.LLMBytesIn,
		stats.LLMInputTokens,
		stats.LLMOutputTokens,
	))
	run.print(fmt.Sprintf("*** Run Ended. Duration: %s ***", stats.Duration))

	l.lock.Lock()
	delete(l.runs, run.chatCtx.GetChatID())
	l.lock.Unlock()

	return &stats, run.bytes()
}

func (l *Scratchpad) getRun(ctx context.Context) *run {
	chatCtx := chatmodel.GetChatContext(ctx)
	if chatCtx == nil {
		return nil
	}

	l.lock.Lock()
	defer l.lock.Unlock()
	return l.runs[chatCtx.GetChatID()]
}

func (l *Scratchpad) OnAgentStart(ctx context.Context, a *agent.Agent, input string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.AgentRuns, 1)
	run.print(a.Name(), "*** Agent Start ***")
	run.print(a.Name(), "Input:", input)
}

func (l *Scratchpad) OnAgentEnd(ctx context.Context, a *agent.Agent, _ string, output string) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.AgentRunsSucceeded, 1)
	if l.mode == ModeVerbose {
		run.print(a.Name(), "Output:", output)
		run.print(a.Name(), printMessages(a.Messages()))
	}
	run.print(a.Name(), "*** Agent End ***")
}

func (l *Scratchpad) OnAgentError(ctx context.Context, a *agent.Agent, _ string, err error) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.AgentRunsFailed, 1)
	run.print(a.Name(), "*** Error ***", err.Error())
	run.print(a.Name(), printMessages(a.Messages()))
}

func (l *Scratchpad) OnStateChange(ctx context.Context, a *agent.Agent, from, to agent.State) {
	if l.mode != ModeVerbose {
		return
	}
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	run.print(a.Name(), "State:", from.String(), "->", to.String())
}

func (l *Scratchpad) OnLLMCallStart(ctx context.Context, a *agent.Agent, messages []llms.Message) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}

	count := uint32(len(messages))
	atomic.AddUint64(&run.stats.LLMBytesOut, llmutils.CountMessagesContentSize(messages))
	atomic.AddUint32(&run.stats.LLMCalls, 1)
	atomic.AddUint32(&run.stats.TotalMessages, count)

	run.print(a.Name(), "*** LLM Call ***", fmt.Sprintf("%d messages", count))
	if l.mode == ModeVerbose {
		run.print(a.Name(), printMessages(messages))
	}
}

func (l *Scratchpad) OnLLMCallEnd(ctx context.Context, a *agent.Agent, resp *llms.ContentResponse) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}

	in, out := resp.Usage()
	atomic.AddUint64(&run.stats.LLMInputTokens, uint64(in))
	atomic.AddUint64(&run.stats.LLMOutputTokens, uint64(out))
	atomic.AddUint64(&run.stats.LLMBytesIn, llmutils.CountResponseContentSize(resp))

	run.print(a.Name(), "*** LLM Call End ***",
		fmt.Sprintf("%d tool calls, %d input tokens, %d output tokens", len(resp.ToolCalls()), in, out))
}

func (l *Scratchpad) OnToolStart(ctx context.Context, a *agent.Agent, call llms.ToolCall) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCalls, 1)
	run.print(a.Name(), call.Name(), "*** Tool Start ***")
	run.print(a.Name(), call.Name(), "Input:", call.Arguments())
}

func (l *Scratchpad) OnToolEnd(ctx context.Context, a *agent.Agent, call llms.ToolCall, result *mcp.ToolResult) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	if result.IsError {
		atomic.AddUint32(&run.stats.ToolsCallsFailed, 1)
	} else {
		atomic.AddUint32(&run.stats.ToolsCallsSucceeded, 1)
	}
	if l.mode == ModeVerbose || result.IsError {
		run.print(a.Name(), call.Name(), "Output:", result.Text())
	}
	run.print(a.Name(), call.Name(), "*** Tool End ***")
}

func (l *Scratchpad) OnToolError(ctx context.Context, a *agent.Agent, call llms.ToolCall, err error) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCallsFailed, 1)
	run.print(a.Name(), call.Name(), "*** Tool Error ***", err.Error())
}

func (l *Scratchpad) OnToolNotFound(ctx context.Context, a *agent.Agent, call llms.ToolCall) {
	run := l.getRun(ctx)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolNotFound, 1)
	run.print(a.Name(), "*** Tool Not Found ***", call.Name())
}

func printMessages(messages []llms.Message) string {
	var buf strings.Builder
	buf.WriteString("Messages:\n")
	for idx, msg := range messages {
		fmt.Fprintf(&buf, "[%d] %s:\n", idx, msg.Role)
		textParts := 0
		toolParts := 0
		toolResponseParts := 0
		for _, part := range msg.Parts {
			switch typ := part.(type) {
			case llms.TextContent:
				textParts++
			case llms.ToolCall:
				toolParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			case llms.ToolCallResponse:
				toolResponseParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			}
		}

		fmt.Fprintf(&buf, "  - %d texts, %d tool calls, %d tool responses\n", textParts, toolParts, toolResponseParts)
	}
	return buf.String()
}

type run struct {
	chatCtx chatmodel.ChatContext
	w       bytes.Buffer
	started time.Time
	lock    sync.Mutex
	stats   RunStats
}

func (r *run) snapshot() RunStats {
	return RunStats{
		ChatID:              r.stats.ChatID,
		RunID:               r.stats.RunID,
		TotalMessages:       atomic.LoadUint32(&r.stats.TotalMessages),
		LLMBytesOut:         atomic.LoadUint64(&r.stats.LLMBytesOut),
		LLMBytesIn:          atomic.LoadUint64(&r.stats.LLMBytesIn),
		LLMInputTokens:      atomic.LoadUint64(&r.stats.LLMInputTokens),
		LLMOutputTokens:     atomic.LoadUint64(&r.stats.LLMOutputTokens),
		AgentRuns:           atomic.LoadUint32(&r.stats.AgentRuns),
		AgentRunsSucceeded:  atomic.LoadUint32(&r.stats.AgentRunsSucceeded),
		AgentRunsFailed:     atomic.LoadUint32(&r.stats.AgentRunsFailed),
		LLMCalls:            atomic.LoadUint32(&r.stats.LLMCalls),
		ToolsCalls:          atomic.LoadUint32(&r.stats.ToolsCalls),
		ToolsCallsSucceeded: atomic.LoadUint32(&r.stats.ToolsCallsSucceeded),
		ToolsCallsFailed:    atomic.LoadUint32(&r.stats.ToolsCallsFailed),
		ToolNotFound:        atomic.LoadUint32(&r.stats.ToolNotFound),
	}
}

func (r *run) bytes() []byte {
	r.lock.Lock()
	defer r.lock.Unlock()
	return bytes.Clone(r.w.Bytes())
}

// print writes the entries to the run's output.
// The entries are written in the following format:
// [timestamp chatID.runID] entry entry\n
func (r *run) print(entries ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	ts := TimeNowFn().Format("2006-01-02 15:04:05")

	_, _ = r.w.WriteString(ts)
	_, _ = r.w.WriteString(" ")
	_, _ = r.w.WriteString(r.chatCtx.GetChatID())
	_, _ = r.w.WriteString(".")
	_, _ = r.w.WriteString(r.chatCtx.RunID())
	_, _ = r.w.WriteString(" ")

	for i, entry := range entries {
		if i > 0 {
			_, _ = r.w.WriteString(" ")
		}
		_, _ = r.w.WriteString(entry)
	}
	_, _ = r.w.WriteString("\n")
}
