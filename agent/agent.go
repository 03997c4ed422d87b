package agent

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/mcp/transport"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "agent")

// Agent drives a model through a tool-augmented conversation.
// One run is active at a time.
type Agent struct {
	name string
	llm  llms.Model
	cfg  *Config

	runLock sync.Mutex

	lock         sync.RWMutex
	state        State
	conversation []llms.Message
	iterations   int
}

// New returns an agent for the model
func New(llm llms.Model, opts ...Option) (*Agent, error) {
	cfg := NewConfig(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Agent{
		name: DefaultName,
		llm:  llm,
		cfg:  cfg,
	}, nil
}

// WithName sets the name used in logs and metrics
func (a *Agent) WithName(name string) *Agent {
	a.name = name
	return a
}

// Name returns the name of the agent
func (a *Agent) Name() string {
	return a.name
}

// Config returns a copy of the agent config
func (a *Agent) Config() *Config {
	return a.cfg.Apply()
}

// State returns the state of the current or last run
func (a *Agent) State() State {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.state
}

// Messages returns a copy of the conversation
func (a *Agent) Messages() []llms.Message {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return slices.Clone(a.conversation)
}

// Iterations returns the number of generations of the current or last run
func (a *Agent) Iterations() int {
	a.lock.RLock()
	defer a.lock.RUnlock()
	return a.iterations
}

// Run starts a fresh conversation with the input and returns the final text of the model.
func (a *Agent) Run(ctx context.Context, input string) (string, error) {
	return a.run(ctx, input, false)
}

// Continue appends the input to the current conversation and returns the final text of the model.
// When the conversation is empty, it is loaded from the store by the chat ID of the context.
func (a *Agent) Continue(ctx context.Context, input string) (string, error) {
	return a.run(ctx, input, true)
}

// Reset clears the conversation, and the stored conversation of the chat in the context.
func (a *Agent) Reset(ctx context.Context) error {
	if !a.runLock.TryLock() {
		return errors.WithStack(ErrRunInProgress)
	}
	defer a.runLock.Unlock()

	a.lock.Lock()
	a.conversation = nil
	a.iterations = 0
	a.state = StateAwaitingTurn
	a.lock.Unlock()

	if a.cfg.Store != nil {
		if _, err := chatmodel.GetChatID(ctx); err == nil {
			return a.cfg.Store.Reset(ctx)
		}
	}
	return nil
}

func (a *Agent) run(ctx context.Context, input string, continuation bool) (string, error) {
	if !a.runLock.TryLock() {
		return "", errors.WithStack(ErrRunInProgress)
	}
	defer a.runLock.Unlock()

	started := time.Now()
	defer metricskey.PerfAgentRun.MeasureSince(started, a.name)

	// the config is immutable for the duration of the run
	cfg := a.cfg.Apply()
	ctx, chatCtx := chatmodel.EnsureChatContext(ctx)

	logger.ContextKV(ctx, xlog.DEBUG,
		"agent", a.name,
		"status", "run_started",
		"chat_id", chatCtx.GetChatID(),
		"run_id", chatCtx.RunID(),
		"continuation", continuation,
	)

	if cfg.Callback != nil {
		cfg.Callback.OnAgentStart(ctx, a, input)
	}

	output, err := a.execute(ctx, cfg, input, continuation)
	if err != nil {
		a.setState(ctx, cfg, StateFailed)
		metricskey.StatsAgentRunsFailed.IncrCounter(1, a.name, failureReason(err))
		logger.ContextKV(ctx, xlog.ERROR,
			"agent", a.name,
			"status", "run_failed",
			"chat_id", chatCtx.GetChatID(),
			"iterations", a.Iterations(),
			"err", err.Error(),
		)
		if cfg.Callback != nil {
			cfg.Callback.OnAgentError(ctx, a, input, err)
		}
		return "", err
	}

	metricskey.StatsAgentRunsSucceeded.IncrCounter(1, a.name)
	logger.ContextKV(ctx, xlog.DEBUG,
		"agent", a.name,
		"status", "run_completed",
		"chat_id", chatCtx.GetChatID(),
		"iterations", a.Iterations(),
		"elapsed", time.Since(started).String(),
	)
	if cfg.Callback != nil {
		cfg.Callback.OnAgentEnd(ctx, a, input, output)
	}
	return output, nil
}

// execute runs the state machine until Completed or an error
func (a *Agent) execute(ctx context.Context, cfg *Config, input string, continuation bool) (string, error) {
	history, err := a.history(ctx, cfg, continuation)
	if err != nil {
		return "", err
	}
	runStart := len(history)

	a.lock.Lock()
	a.conversation = append(history, llms.MessageFromTextParts(llms.RoleUser, input))
	a.iterations = 0
	a.lock.Unlock()
	a.setState(ctx, cfg, StateAwaitingTurn)

	for {
		if a.Iterations() >= cfg.MaxIterations {
			return "", errors.Wrapf(ErrIterationLimitExceeded, "agent %s: %d generations", a.name, cfg.MaxIterations)
		}

		a.setState(ctx, cfg, StateGenerating)
		rt, err := newRouter(ctx, cfg.Providers)
		if err != nil {
			if ctx.Err() != nil {
				return "", cancelled(ctx.Err())
			}
			return "", err
		}

		resp, err := a.generate(ctx, cfg, rt)
		if err != nil {
			return "", err
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			text := resp.Text()
			a.append(llms.MessageFromTextParts(llms.RoleAssistant, text))
			a.setState(ctx, cfg, StateCompleted)
			a.persist(ctx, cfg, runStart)
			return text, nil
		}

		a.setState(ctx, cfg, StateToolsRequested)
		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = fmt.Sprintf("%s_%d", calls[i].Name(), i)
			}
			calls[i].Type = values.StringsCoalesce(calls[i].Type, "function")
			logger.ContextKV(ctx, xlog.DEBUG,
				"agent", a.name,
				"status", "tool_call_found",
				"tool_call_id", calls[i].ID,
				"tool_call_name", calls[i].Name(),
			)
		}

		a.setState(ctx, cfg, StateExecutingTools)
		responses, err := a.executeTools(ctx, cfg, rt, calls)
		if err != nil {
			return "", err
		}

		// the turn is appended only when all results are known
		turn := []llms.Message{llms.MessageFromToolCalls(resp.Text(), calls...)}
		for _, r := range responses {
			turn = append(turn, llms.MessageFromToolResponses(r))
		}
		a.append(turn...)
		a.setState(ctx, cfg, StateAwaitingTurn)
	}
}

// history returns the conversation a run starts from
func (a *Agent) history(ctx context.Context, cfg *Config, continuation bool) ([]llms.Message, error) {
	if continuation {
		if conv := a.Messages(); len(conv) > 0 {
			return conv, nil
		}
	}

	var history []llms.Message
	if cfg.SystemPrompt != "" {
		history = append(history, llms.MessageFromTextParts(llms.RoleSystem, cfg.SystemPrompt))
	}
	if continuation && cfg.Store != nil {
		prev, err := cfg.Store.Messages(ctx)
		if err != nil {
			return nil, errors.WithMessage(err, "failed to load conversation")
		}
		logger.ContextKV(ctx, xlog.DEBUG,
			"agent", a.name,
			"status", "loaded_history",
			"messages", len(prev),
		)
		history = append(history, prev...)
	}
	return history, nil
}

// persist stores the messages of a completed run
func (a *Agent) persist(ctx context.Context, cfg *Config, runStart int) {
	if cfg.Store == nil {
		return
	}
	messages := a.Messages()[runStart:]
	if err := cfg.Store.Add(ctx, messages...); err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"agent", a.name,
			"reason", "store",
			"err", err.Error(),
		)
	}
}

func (a *Agent) generate(ctx context.Context, cfg *Config, rt *router) (*llms.ContentResponse, error) {
	messages := a.Messages()
	model := values.StringsCoalesce(cfg.Model, string(a.llm.GetProviderType()))

	a.lock.Lock()
	a.iterations++
	a.lock.Unlock()

	metricskey.StatsAgentGenerations.IncrCounter(1, a.name, model)
	if cfg.Callback != nil {
		cfg.Callback.OnLLMCallStart(ctx, a, messages)
	}

	started := time.Now()
	resp, err := a.llm.GenerateContent(ctx, messages, cfg.CallOptions(rt.Tools())...)
	metricskey.PerfLLMGenerate.MeasureSince(started, a.name, model)
	if err != nil {
		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}
		return nil, errors.WithMessagef(err, "agent %s: failed to generate content", a.name)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, errors.Wrapf(ErrEmptyResponse, "agent %s", a.name)
	}

	in, out := resp.Usage()
	metricskey.StatsLLMInputTokens.IncrCounter(float64(in), a.name, model)
	metricskey.StatsLLMOutputTokens.IncrCounter(float64(out), a.name, model)

	if cfg.Callback != nil {
		cfg.Callback.OnLLMCallEnd(ctx, a, resp)
	}
	return resp, nil
}

func (a *Agent) append(msgs ...llms.Message) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.conversation = append(a.conversation, msgs...)
}

func (a *Agent) setState(ctx context.Context, cfg *Config, to State) {
	a.lock.Lock()
	from := a.state
	a.state = to
	a.lock.Unlock()

	if from == to {
		return
	}
	logger.ContextKV(ctx, xlog.DEBUG,
		"agent", a.name,
		"from", from.String(),
		"to", to.String(),
	)
	if cfg.Callback != nil {
		cfg.Callback.OnStateChange(ctx, a, from, to)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrIterationLimitExceeded):
		return "iteration_limit"
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case llms.IsProviderError(err):
		return "provider"
	case transport.IsTransportError(err):
		return "transport"
	default:
		return "error"
	}
}
