package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/agent"
	"github.com/effective-security/mcpagent/callbacks"
	"github.com/effective-security/mcpagent/chatmodel"
	"github.com/effective-security/mcpagent/pkg/llmfactory"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llms/fake"
	"github.com/effective-security/mcpagent/pkg/llmutils"
	"github.com/effective-security/mcpagent/store"
	"github.com/redis/go-redis/v9"
)

type runCmd struct {
	Conn serverFlags `embed:""`

	LLMConfig     string        `name:"llm-config" help:"LLM providers config file, the echo model is used if empty" type:"existingfile"`
	Provider      string        `help:"Provider type, such as OPENAI or ANTHROPIC, the default provider if empty"`
	Model         string        `help:"Model name"`
	SystemPrompt  string        `help:"System prompt"`
	MaxIterations int           `help:"Maximum number of generations" default:"10"`
	MaxTokens     int           `help:"Maximum number of tokens to generate"`
	ToolTimeout   time.Duration `help:"Timeout of each tool call"`
	ChatID        string        `name:"chat-id" help:"Chat ID of the conversation"`
	Redis         string        `help:"Redis URL to persist the conversation, such as redis://localhost:6379/0"`
	Continue      bool          `help:"Continue the stored conversation of the chat"`
	Verbose       bool          `short:"v" help:"Print the agent events"`
	Stats         bool          `help:"Print the run transcript and statistics"`

	Input []string `arg:"" help:"Input to the agent"`
}

func (c *runCmd) Run(a *app) error {
	llm, err := c.model()
	if err != nil {
		return err
	}

	providers, closer, err := c.Conn.connect(a.ctx)
	if err != nil {
		return err
	}
	defer closer()

	opts := []agent.Option{
		agent.WithProviders(providers...),
		agent.WithMaxIterations(c.MaxIterations),
		agent.WithMaxTokens(c.MaxTokens),
		agent.WithModel(c.Model),
		agent.WithSystemPrompt(c.SystemPrompt),
		agent.WithToolTimeout(c.ToolTimeout),
	}

	fanout := callbacks.NewFanout(callbacks.NewPackageLogger(logger))
	if c.Verbose {
		fanout.Add(callbacks.NewPrinter(a.errOut, callbacks.ModeVerbose))
	}
	var scratchpad *callbacks.Scratchpad
	if c.Stats {
		mode := callbacks.ModeDefault
		if c.Verbose {
			mode = callbacks.ModeVerbose
		}
		scratchpad = callbacks.NewScratchpad(mode)
		fanout.Add(scratchpad)
	}
	opts = append(opts, agent.WithCallback(fanout))

	// without redis the conversation lives as long as the process
	if c.Redis != "" {
		ropts, err := redis.ParseURL(c.Redis)
		if err != nil {
			return errors.Wrap(err, "invalid redis URL")
		}
		client := redis.NewClient(ropts)
		defer client.Close()
		opts = append(opts, agent.WithStore(store.NewRedisStore(client, "mcpagent")))
	} else {
		opts = append(opts, agent.WithStore(store.NewMemoryStore()))
	}

	ag, err := agent.New(llm, opts...)
	if err != nil {
		return err
	}

	chatCtx := chatmodel.NewChatContext(c.ChatID)
	ctx := chatmodel.WithChatContext(a.ctx, chatCtx)
	input := strings.Join(c.Input, " ")
	if scratchpad != nil {
		ctx = scratchpad.StartRun(ctx)
	}

	var output string
	if c.Continue {
		output, err = ag.Continue(ctx, input)
	} else {
		output, err = ag.Run(ctx, input)
	}

	if scratchpad != nil {
		stats, transcript := scratchpad.EndRun(ctx)
		_, _ = a.errOut.Write(transcript)
		fmt.Fprint(a.errOut, llmutils.ToYAML(stats))
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, output)
	if c.Verbose {
		fmt.Fprintf(a.errOut, "chat: %s\n", chatCtx.GetChatID())
	}
	return nil
}

func (c *runCmd) model() (llms.Model, error) {
	if c.LLMConfig == "" {
		return fake.New(), nil
	}

	f, err := llmfactory.Load(c.LLMConfig)
	if err != nil {
		return nil, err
	}
	switch {
	case c.Provider != "":
		return f.ModelByType(llms.ProviderType(strings.ToUpper(c.Provider)))
	case c.Model != "":
		return f.ModelByName(c.Model)
	default:
		return f.AgentModel("mcpagent")
	}
}
