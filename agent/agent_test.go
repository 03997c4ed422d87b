package agent_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/agent"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/mcp"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/mcp/transport/localtransport"
	"github.com/effective-security/mcpagent/mocks/mockllms"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llms/fake"
	"github.com/effective-security/mcpagent/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type echoArgs struct {
	Message string `json:"message" validate:"required"`
}

func echoRegistry(t *testing.T) *mcp.Registry {
	reg := mcp.NewRegistry()
	require.NoError(t, mcp.RegisterFunc(reg, "echo", "Echoes the message",
		func(_ context.Context, args *echoArgs) (*mcp.ToolResult, error) {
			return mcp.NewTextResult(args.Message), nil
		}))
	require.NoError(t, mcp.RegisterFunc(reg, "fail", "Always fails",
		func(_ context.Context, _ *struct{}) (*mcp.ToolResult, error) {
			return nil, errors.New("disk is full")
		}))
	return reg
}

func localSession(t *testing.T, reg *mcp.Registry) *mcp.Session {
	ctx := context.Background()
	srvTransport := localtransport.New()
	srv := mcp.NewServer(reg)
	require.NoError(t, srv.Serve(ctx, srvTransport))

	session := mcp.NewSession("local", mcp.Static(localtransport.NewClient(srvTransport)))
	require.NoError(t, session.Connect(ctx))
	t.Cleanup(func() {
		_ = session.Close()
		_ = srv.Close()
	})
	return session
}

// funcProvider serves tools implemented by functions
type funcProvider struct {
	name       string
	sequential bool
	tools      map[string]func(ctx context.Context, args json.RawMessage) (*mcp.ToolResult, error)
	order      []string
}

func newFuncProvider(name string, sequential bool) *funcProvider {
	return &funcProvider{
		name:       name,
		sequential: sequential,
		tools:      map[string]func(ctx context.Context, args json.RawMessage) (*mcp.ToolResult, error){},
	}
}

func (p *funcProvider) add(name string, fn func(ctx context.Context, args json.RawMessage) (*mcp.ToolResult, error)) *funcProvider {
	p.tools[name] = fn
	p.order = append(p.order, name)
	return p
}

func (p *funcProvider) Name() string     { return p.name }
func (p *funcProvider) Sequential() bool { return p.sequential }

func (p *funcProvider) ListTools(context.Context) ([]mcp.Tool, error) {
	var list []mcp.Tool
	for _, name := range p.order {
		list = append(list, mcp.Tool{Name: name, Description: name + " tool"})
	}
	return list, nil
}

func (p *funcProvider) CallTool(ctx context.Context, name string, args json.RawMessage) (*mcp.ToolResult, error) {
	fn, ok := p.tools[name]
	if !ok {
		return nil, errors.WithStack(mcp.ErrToolNotFound)
	}
	return fn(ctx, args)
}

func toolResponses(messages []llms.Message) []llms.ToolCallResponse {
	var list []llms.ToolCallResponse
	for _, m := range messages {
		if m.Role != llms.RoleTool {
			continue
		}
		for _, p := range m.Parts {
			if r, ok := p.(llms.ToolCallResponse); ok {
				list = append(list, r)
			}
		}
	}
	return list
}

func TestConfig(t *testing.T) {
	cfg := agent.NewConfig()
	assert.Equal(t, agent.DefaultMaxIterations, cfg.MaxIterations)
	require.NoError(t, cfg.Validate())

	for name, opt := range map[string]agent.Option{
		"iterations":  agent.WithMaxIterations(0),
		"tokens":      agent.WithMaxTokens(-1),
		"temperature": agent.WithTemperature(2.5),
		"choice":      agent.WithToolChoice("always"),
		"timeout":     agent.WithToolTimeout(-time.Second),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := agent.New(fake.New(), opt)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid agent config")
		})
	}

	cfg = agent.NewConfig(agent.WithModel("m1"), agent.WithMaxTokens(100), agent.WithToolChoice(llms.ToolChoiceRequired))
	opts := llms.NewCallOptions(cfg.CallOptions(nil)...)
	assert.Equal(t, "m1", opts.Model)
	assert.Equal(t, 100, opts.MaxTokens)
	assert.Empty(t, opts.ToolChoice)

	opts = llms.NewCallOptions(cfg.CallOptions([]llms.Tool{llms.FunctionTool("a", "", nil)})...)
	assert.Len(t, opts.Tools, 1)
	assert.Equal(t, llms.ToolChoiceRequired, opts.ToolChoice)

	cp := cfg.Apply(agent.WithModel("m2"))
	assert.Equal(t, "m2", cp.Model)
	assert.Equal(t, "m1", cfg.Model)
}

func TestAgent_Echo(t *testing.T) {
	ctx := context.Background()
	reg := echoRegistry(t)

	providers := map[string]agent.ToolProvider{
		"registry": agent.FromRegistry("builtin", reg),
		"session":  agent.FromSession(localSession(t, reg)),
	}
	for name, provider := range providers {
		t.Run(name, func(t *testing.T) {
			model := fake.New(
				fake.ToolCallsResponse(fake.ToolCall("call_1", "echo", `{"message":"Hello, MCP!"}`)),
				fake.TextResponse("The tool said: Hello, MCP!"),
			)
			a, err := agent.New(model,
				agent.WithProviders(provider),
				agent.WithSystemPrompt("be brief"),
			)
			require.NoError(t, err)
			a.WithName("echo-agent")
			assert.Equal(t, "echo-agent", a.Name())

			out, err := a.Run(ctx, "say hello")
			require.NoError(t, err)
			assert.Equal(t, "The tool said: Hello, MCP!", out)
			assert.Equal(t, agent.StateCompleted, a.State())
			assert.Equal(t, 2, a.Iterations())

			msgs := a.Messages()
			require.Len(t, msgs, 5)
			assert.Equal(t, llms.RoleSystem, msgs[0].Role)
			assert.Equal(t, llms.RoleUser, msgs[1].Role)
			assert.Equal(t, llms.RoleAssistant, msgs[2].Role)
			assert.Equal(t, llms.RoleTool, msgs[3].Role)
			assert.Equal(t, llms.RoleAssistant, msgs[4].Role)

			responses := toolResponses(msgs)
			require.Len(t, responses, 1)
			assert.Equal(t, "call_1", responses[0].ToolCallID)
			assert.Equal(t, "echo", responses[0].Name)
			assert.Equal(t, "Hello, MCP!", responses[0].Content)
			assert.False(t, responses[0].IsError)

			calls := model.Calls()
			require.Len(t, calls, 2)
			require.Len(t, calls[0].Options.Tools, 2)
			assert.Equal(t, "echo", calls[0].Options.Tools[0].Function.Name)
			assert.Equal(t, "fail", calls[0].Options.Tools[1].Function.Name)
			assert.Len(t, calls[1].Messages, 4)
		})
	}
}

func TestAgent_IterationLimit(t *testing.T) {
	model := fake.New(
		fake.ToolCallsResponse(fake.ToolCall("call_1", "echo", `{"message":"again"}`)),
		fake.ToolCallsResponse(fake.ToolCall("call_2", "echo", `{"message":"again"}`)),
	)
	a, err := agent.New(model,
		agent.WithMaxIterations(1),
		agent.WithProviders(agent.FromRegistry("builtin", echoRegistry(t))),
	)
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "x")
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrIterationLimitExceeded)
	assert.Equal(t, agent.StateFailed, a.State())
	assert.Equal(t, 1, a.Iterations())
	assert.Len(t, model.Calls(), 1)
}

func TestAgent_FailureResults(t *testing.T) {
	model := fake.New(
		fake.ToolCallsResponse(
			fake.ToolCall("call_1", "fail", `{}`),
			fake.ToolCall("call_2", "nope", `{}`),
			fake.ToolCall("call_3", "echo", `{"message":`),
			fake.ToolCall("", "echo", ``),
		),
		fake.TextResponse("recovered"),
	)
	a, err := agent.New(model, agent.WithProviders(agent.FromRegistry("builtin", echoRegistry(t))))
	require.NoError(t, err)

	out, err := a.Run(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "recovered", out)

	responses := toolResponses(a.Messages())
	require.Len(t, responses, 4)
	for _, r := range responses {
		assert.True(t, r.IsError, r.Name)
	}
	assert.Contains(t, responses[0].Content, "disk is full")
	assert.Equal(t, "Tool `nope` not found. Available tools: echo, fail", responses[1].Content)
	assert.Contains(t, responses[2].Content, "not valid JSON")
	// missing ID is assigned, missing arguments are sent as an empty object
	assert.Equal(t, "echo_3", responses[3].ToolCallID)
}

func TestAgent_Ambiguous(t *testing.T) {
	ok := func(context.Context, json.RawMessage) (*mcp.ToolResult, error) { return mcp.NewTextResult("ok"), nil }
	p1 := newFuncProvider("p1", false).add("lookup", ok).add("only1", ok)
	p2 := newFuncProvider("p2", false).add("lookup", ok)

	model := fake.New(
		fake.ToolCallsResponse(fake.ToolCall("c1", "lookup", `{}`), fake.ToolCall("c2", "only1", `{}`)),
		fake.TextResponse("done"),
	)
	a, err := agent.New(model, agent.WithProviders(p1, p2))
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "x")
	require.NoError(t, err)

	// advertised once
	calls := model.Calls()
	require.Len(t, calls[0].Options.Tools, 2)

	responses := toolResponses(a.Messages())
	require.Len(t, responses, 2)
	assert.True(t, responses[0].IsError)
	assert.Equal(t, "Tool `lookup` is ambiguous, it is provided by: p1, p2", responses[0].Content)
	assert.False(t, responses[1].IsError)
	assert.Equal(t, "ok", responses[1].Content)
}

func TestAgent_ResultOrder(t *testing.T) {
	bDone := make(chan struct{})
	p := newFuncProvider("p", false).
		add("a", func(ctx context.Context, _ json.RawMessage) (*mcp.ToolResult, error) {
			select {
			case <-bDone:
				return mcp.NewTextResult("A"), nil
			case <-time.After(5 * time.Second):
				return mcp.NewErrorResult("b did not run concurrently"), nil
			}
		}).
		add("b", func(context.Context, json.RawMessage) (*mcp.ToolResult, error) {
			defer close(bDone)
			return mcp.NewTextResult("B"), nil
		})

	model := fake.New(
		fake.ToolCallsResponse(fake.ToolCall("call_a", "a", `{}`), fake.ToolCall("call_b", "b", `{}`)),
		fake.TextResponse("done"),
	)
	a, err := agent.New(model, agent.WithProviders(p))
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "x")
	require.NoError(t, err)

	responses := toolResponses(a.Messages())
	require.Len(t, responses, 2)
	assert.Equal(t, "call_a", responses[0].ToolCallID)
	assert.Equal(t, "A", responses[0].Content)
	assert.False(t, responses[0].IsError)
	assert.Equal(t, "call_b", responses[1].ToolCallID)
	assert.Equal(t, "B", responses[1].Content)
}

func TestAgent_SequentialProvider(t *testing.T) {
	var lock sync.Mutex
	var order []string
	inflight, maxInflight := 0, 0

	tool := func(name string) func(context.Context, json.RawMessage) (*mcp.ToolResult, error) {
		return func(context.Context, json.RawMessage) (*mcp.ToolResult, error) {
			lock.Lock()
			inflight++
			maxInflight = max(maxInflight, inflight)
			order = append(order, name)
			lock.Unlock()

			time.Sleep(10 * time.Millisecond)

			lock.Lock()
			inflight--
			lock.Unlock()
			return mcp.NewTextResult(name), nil
		}
	}
	p := newFuncProvider("stream", true).add("t1", tool("t1")).add("t2", tool("t2")).add("t3", tool("t3"))

	model := fake.New(
		fake.ToolCallsResponse(
			fake.ToolCall("c1", "t3", `{}`),
			fake.ToolCall("c2", "t1", `{}`),
			fake.ToolCall("c3", "t2", `{}`),
		),
		fake.TextResponse("done"),
	)
	a, err := agent.New(model, agent.WithProviders(p))
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "x")
	require.NoError(t, err)

	lock.Lock()
	defer lock.Unlock()
	assert.Equal(t, []string{"t3", "t1", "t2"}, order)
	assert.Equal(t, 1, maxInflight)
}

func TestAgent_ProviderError(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := mockllms.NewMockModel(ctrl)
	model.EXPECT().GetProviderType().Return(llms.ProviderAnthropic).AnyTimes()
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, llms.NewProviderError(llms.ProviderAnthropic, 401, errors.New("invalid x-api-key"))).
		Times(1)

	a, err := agent.New(model)
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "x")
	require.Error(t, err)
	assert.Equal(t, agent.StateFailed, a.State())

	var pe *llms.ProviderError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 401, pe.StatusCode)
	assert.Contains(t, err.Error(), "invalid x-api-key")
}

func TestAgent_EmptyResponse(t *testing.T) {
	ctrl := gomock.NewController(t)
	model := mockllms.NewMockModel(ctrl)
	model.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()
	model.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(&llms.ContentResponse{}, nil)

	a, err := agent.New(model)
	require.NoError(t, err)
	_, err = a.Run(context.Background(), "x")
	assert.ErrorIs(t, err, agent.ErrEmptyResponse)
}

func TestAgent_TransportError(t *testing.T) {
	p := newFuncProvider("remote", false).
		add("t", func(context.Context, json.RawMessage) (*mcp.ToolResult, error) {
			return nil, errors.Wrap(transport.ErrTransport, "connection reset")
		})
	model := fake.New(fake.ToolCallsResponse(fake.ToolCall("c1", "t", `{}`)))
	a, err := agent.New(model, agent.WithProviders(p))
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, transport.IsTransportError(err))
	assert.Contains(t, err.Error(), "tool t on remote")
	assert.Equal(t, agent.StateFailed, a.State())

	// the tool turn is not appended
	msgs := a.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, llms.RoleUser, msgs[0].Role)
}

func TestAgent_ToolTimeout(t *testing.T) {
	p := newFuncProvider("slow", false).
		add("wait", func(ctx context.Context, _ json.RawMessage) (*mcp.ToolResult, error) {
			<-ctx.Done()
			return nil, errors.WithStack(ctx.Err())
		})
	model := fake.New(
		fake.ToolCallsResponse(fake.ToolCall("c1", "wait", `{}`)),
		fake.TextResponse("gave up"),
	)
	a, err := agent.New(model, agent.WithProviders(p), agent.WithToolTimeout(20*time.Millisecond))
	require.NoError(t, err)

	out, err := a.Run(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "gave up", out)

	responses := toolResponses(a.Messages())
	require.Len(t, responses, 1)
	assert.True(t, responses[0].IsError)
	assert.Equal(t, "Tool `wait` timed out", responses[0].Content)
}

func TestAgent_Cancel(t *testing.T) {
	started := make(chan struct{})
	p := newFuncProvider("slow", false).
		add("wait", func(ctx context.Context, _ json.RawMessage) (*mcp.ToolResult, error) {
			close(started)
			<-ctx.Done()
			return nil, errors.WithStack(ctx.Err())
		})
	model := fake.New(fake.ToolCallsResponse(fake.ToolCall("c1", "wait", `{}`)))
	a, err := agent.New(model, agent.WithProviders(p))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		_, err := a.Run(ctx, "x")
		errc <- err
	}()

	<-started
	// a second run is rejected while the first one is active
	_, err = a.Run(context.Background(), "y")
	assert.ErrorIs(t, err, agent.ErrRunInProgress)
	assert.ErrorIs(t, a.Reset(context.Background()), agent.ErrRunInProgress)

	cancel()
	err = <-errc
	require.Error(t, err)
	assert.ErrorIs(t, err, agent.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, agent.StateFailed, a.State())
	assert.Len(t, a.Messages(), 1)
}

func TestAgent_CancelBeforeGenerate(t *testing.T) {
	a, err := agent.New(fake.New())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = a.Run(ctx, "x")
	assert.ErrorIs(t, err, agent.ErrCancelled)
	assert.Equal(t, agent.StateFailed, a.State())
}

func TestAgent_ContinueWithStore(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := chatmodel.WithChatContext(context.Background(), chatmodel.NewChatContext("chat-1"))

	a, err := agent.New(fake.New(), agent.WithStore(st), agent.WithSystemPrompt("sys"))
	require.NoError(t, err)

	out, err := a.Run(ctx, "one")
	require.NoError(t, err)
	assert.Equal(t, "I received: one", out)

	out, err = a.Continue(ctx, "two")
	require.NoError(t, err)
	assert.Equal(t, "I received: two", out)
	assert.Len(t, a.Messages(), 5)

	stored, err := st.Messages(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	chats, err := st.ListChats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"chat-1"}, chats)

	// a new agent continues the stored conversation
	b, err := agent.New(fake.New(), agent.WithStore(st), agent.WithSystemPrompt("sys"))
	require.NoError(t, err)
	_, err = b.Continue(ctx, "three")
	require.NoError(t, err)
	msgs := b.Messages()
	require.Len(t, msgs, 7)
	assert.Equal(t, llms.RoleSystem, msgs[0].Role)

	// Run starts a fresh conversation
	_, err = b.Run(ctx, "four")
	require.NoError(t, err)
	assert.Len(t, b.Messages(), 3)

	require.NoError(t, b.Reset(ctx))
	assert.Empty(t, b.Messages())
	stored, err = st.Messages(ctx)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

type recordingCallback struct {
	lock        sync.Mutex
	transitions []string
	events      []string
}

func (c *recordingCallback) record(ev string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.events = append(c.events, ev)
}

func (c *recordingCallback) OnAgentStart(context.Context, *agent.Agent, string) { c.record("start") }
func (c *recordingCallback) OnAgentEnd(context.Context, *agent.Agent, string, string) {
	c.record("end")
}
func (c *recordingCallback) OnAgentError(context.Context, *agent.Agent, string, error) {
	c.record("error")
}
func (c *recordingCallback) OnStateChange(_ context.Context, _ *agent.Agent, from, to agent.State) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.transitions = append(c.transitions, from.String()+"->"+to.String())
}
func (c *recordingCallback) OnLLMCallStart(context.Context, *agent.Agent, []llms.Message) {
	c.record("llm_start")
}
func (c *recordingCallback) OnLLMCallEnd(context.Context, *agent.Agent, *llms.ContentResponse) {
	c.record("llm_end")
}
func (c *recordingCallback) OnToolStart(context.Context, *agent.Agent, llms.ToolCall) {
	c.record("tool_start")
}
func (c *recordingCallback) OnToolEnd(context.Context, *agent.Agent, llms.ToolCall, *mcp.ToolResult) {
	c.record("tool_end")
}
func (c *recordingCallback) OnToolError(context.Context, *agent.Agent, llms.ToolCall, error) {
	c.record("tool_error")
}
func (c *recordingCallback) OnToolNotFound(context.Context, *agent.Agent, llms.ToolCall) {
	c.record("tool_not_found")
}

func TestAgent_Callback(t *testing.T) {
	cb := &recordingCallback{}
	model := fake.New(
		fake.ToolCallsResponse(fake.ToolCall("c1", "echo", `{"message":"hi"}`)),
		fake.ToolCallsResponse(fake.ToolCall("c2", "missing", `{}`)),
	)
	a, err := agent.New(model,
		agent.WithCallback(cb),
		agent.WithProviders(agent.FromRegistry("builtin", echoRegistry(t))),
	)
	require.NoError(t, err)

	_, err = a.Run(context.Background(), "x")
	require.NoError(t, err)

	cb.lock.Lock()
	defer cb.lock.Unlock()
	assert.Equal(t, []string{
		"AwaitingTurn->Generating",
		"Generating->ToolsRequested",
		"ToolsRequested->ExecutingTools",
		"ExecutingTools->AwaitingTurn",
		"AwaitingTurn->Generating",
		"Generating->ToolsRequested",
		"ToolsRequested->ExecutingTools",
		"ExecutingTools->AwaitingTurn",
		"AwaitingTurn->Generating",
		"Generating->Completed",
	}, cb.transitions)
	assert.Equal(t, []string{
		"start",
		"llm_start", "llm_end", "tool_start", "tool_end",
		"llm_start", "llm_end", "tool_not_found",
		"llm_start", "llm_end",
		"end",
	}, cb.events)
}

func TestState(t *testing.T) {
	assert.Equal(t, "ExecutingTools", agent.StateExecutingTools.String())
	assert.Equal(t, "Unknown", agent.State(42).String())
	assert.True(t, agent.StateCompleted.Terminal())
	assert.True(t, agent.StateFailed.Terminal())
	assert.False(t, agent.StateGenerating.Terminal())
}
