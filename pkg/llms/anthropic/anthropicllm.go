package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/pkg/llms", "anthropic")

var (
	ErrEmptyResponse          = errors.New("anthropic: no response")
	ErrMissingToken           = errors.New("anthropic: missing API key, set it in the ANTHROPIC_API_KEY environment variable")
	ErrInvalidContentType     = errors.New("anthropic: invalid content type")
	ErrUnsupportedMessageType = errors.New("anthropic: unsupported message type")
	ErrUnsupportedContentType = errors.New("anthropic: unsupported content type")
)

const (
	DefaultModel        = "claude-3-5-sonnet-20241022"
	DefaultMaxTokens    = 1024
	DefaultTemperature  = 0.7
	DefaultSystemPrompt = "You are a helpful AI assistant."
)

type LLM struct {
	Client  *anthropic.Client
	Options *Options
}

var _ llms.Model = (*LLM)(nil)

// New creates a new Anthropic LLM client using the official Anthropic SDK.
//
// If no token is provided via options, it will attempt to read the API key
// from the ANTHROPIC_API_KEY environment variable.
// The SDK does not retry, failures are returned as *llms.ProviderError.
//
//	llm, err := anthropic.New(
//	    anthropic.WithToken("your-api-key"),
//	    anthropic.WithModel("claude-3-5-sonnet-20241022"),
//	)
func New(opts ...Option) (*LLM, error) {
	options := &Options{
		Token:        os.Getenv(TokenEnvVarName),
		Model:        DefaultModel,
		HttpClient:   http.DefaultClient,
		SystemPrompt: DefaultSystemPrompt,
		Temperature:  DefaultTemperature,
		MaxTokens:    DefaultMaxTokens,
	}

	for _, opt := range opts {
		opt(options)
	}

	if len(options.Token) == 0 {
		return nil, ErrMissingToken
	}
	if options.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	if options.MaxTokens <= 0 {
		options.MaxTokens = DefaultMaxTokens
	}

	sdkOpts := []option.RequestOption{
		option.WithAPIKey(options.Token),
		option.WithMaxRetries(0),
	}
	if options.BaseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(options.BaseURL))
	}
	if options.HttpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(options.HttpClient))
	}

	client := anthropic.NewClient(sdkOpts...)
	return &LLM{
		Client:  &client,
		Options: options,
	}, nil
}

// GetName returns the model name
func (o *LLM) GetName() string {
	return o.Options.Model
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderAnthropic
}

// GenerateContent implements the Model interface.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{
		Model: o.Options.Model,
	}
	for _, opt := range options {
		opt(&opts)
	}

	sdkMessages, systemPrompt, err := ProcessMessages(messages)
	if err != nil {
		return nil, errors.Wrap(err, "anthropic: failed to process messages")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(values.StringsCoalesce(opts.Model, o.Options.Model)),
		Messages:  sdkMessages,
		MaxTokens: values.NumbersCoalesce(int64(opts.MaxTokens), int64(o.Options.MaxTokens)),
		System: []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: values.StringsCoalesce(systemPrompt, o.Options.SystemPrompt),
			},
		},
	}

	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = o.Options.Temperature
	}
	if temperature > 0 {
		params.Temperature = anthropic.Float(temperature)
	}
	if opts.TopP > 0 {
		params.TopP = anthropic.Float(opts.TopP)
	}
	if len(opts.StopWords) > 0 {
		params.StopSequences = opts.StopWords
	}

	if opts.ToolChoice != llms.ToolChoiceNone {
		params.Tools = ToTools(opts.Tools)
		if opts.ToolChoice == llms.ToolChoiceRequired && len(params.Tools) > 0 {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		}
	}

	result, err := o.Client.Messages.New(ctx, params)
	if err != nil {
		return nil, toProviderError(err)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"model", result.Model,
		"stop_reason", result.StopReason,
		"blocks", len(result.Content),
		"input_tokens", result.Usage.InputTokens,
		"output_tokens", result.Usage.OutputTokens,
	)

	if len(result.Content) == 0 {
		return nil, llms.NewProviderError(llms.ProviderAnthropic, 0, ErrEmptyResponse)
	}

	choices := make([]*llms.ContentChoice, 0, len(result.Content))
	for i, contentBlock := range result.Content {
		info := map[string]any{
			"InputTokens":  result.Usage.InputTokens,
			"OutputTokens": result.Usage.OutputTokens,
			"TotalTokens":  result.Usage.InputTokens + result.Usage.OutputTokens,
			"ID":           result.ID,
			"Index":        i,
		}

		switch content := contentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			choices = append(choices, &llms.ContentChoice{
				Content:        content.Text,
				StopReason:     string(result.StopReason),
				GenerationInfo: info,
			})
		case anthropic.ToolUseBlock:
			argumentsJSON, err := json.Marshal(content.Input)
			if err != nil {
				return nil, llms.NewProviderError(llms.ProviderAnthropic, 0,
					errors.Wrap(err, "anthropic: failed to marshal tool use arguments"))
			}
			choices = append(choices, &llms.ContentChoice{
				ToolCalls: []llms.ToolCall{
					{
						ID:   content.ID,
						Type: "function",
						FunctionCall: &llms.FunctionCall{
							Name:      content.Name,
							Arguments: string(argumentsJSON),
						},
					},
				},
				StopReason:     string(result.StopReason),
				GenerationInfo: info,
			})
		default:
			return nil, llms.NewProviderError(llms.ProviderAnthropic, 0,
				errors.WithMessagef(ErrUnsupportedContentType, "%T", content))
		}
	}

	return &llms.ContentResponse{
		Choices: choices,
	}, nil
}

func toProviderError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llms.NewProviderError(llms.ProviderAnthropic, apiErr.StatusCode, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return errors.WithStack(err)
	}
	return llms.NewProviderError(llms.ProviderAnthropic, 0, err)
}

// ToTools converts LLM tool definitions to Anthropic SDK tool parameters.
// Returns nil if no tools are provided.
func ToTools(tools []llms.Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	sdkTools := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		if tool.Function == nil {
			continue
		}

		properties := map[string]any{}
		var required []string
		if params := tool.Function.Parameters; params != nil {
			if params.Properties != nil {
				for pair := params.Properties.Oldest(); pair != nil; pair = pair.Next() {
					properties[pair.Key] = pair.Value
				}
			}
			required = params.Required
		}

		inputSchema := anthropic.ToolInputSchemaParam{
			Properties: properties,
		}
		if len(required) > 0 {
			inputSchema.Required = required
		}

		sdkTools = append(sdkTools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Function.Name,
				Description: anthropic.String(tool.Function.Description),
				InputSchema: inputSchema,
			},
		})
	}
	return sdkTools
}

// ProcessMessages converts the conversation to Anthropic SDK message parameters.
//
// System messages are returned as a separate system prompt. Tool messages
// become user messages holding tool result blocks; consecutive tool messages
// are merged into one user message, as the API requires every result of one
// assistant turn to follow it in a single message.
func ProcessMessages(messages []llms.Message) ([]anthropic.MessageParam, string, error) {
	chatMessages := make([]anthropic.MessageParam, 0, len(messages))
	var system []string
	lastWasTool := false
	for _, msg := range messages {
		if len(msg.Parts) == 0 {
			continue
		}
		switch msg.Role {
		case llms.RoleSystem:
			content, err := HandleSystemMessage(msg)
			if err != nil {
				return nil, "", err
			}
			system = append(system, content)
			lastWasTool = false
		case llms.RoleUser:
			chatMessage, err := HandleUserMessage(msg)
			if err != nil {
				return nil, "", errors.WithMessage(err, "failed to handle user message")
			}
			chatMessages = append(chatMessages, chatMessage)
			lastWasTool = false
		case llms.RoleAssistant:
			chatMessage, err := HandleAssistantMessage(msg)
			if err != nil {
				return nil, "", errors.WithMessage(err, "failed to handle assistant message")
			}
			chatMessages = append(chatMessages, chatMessage)
			lastWasTool = false
		case llms.RoleTool:
			chatMessage, err := HandleToolMessage(msg)
			if err != nil {
				return nil, "", errors.WithMessage(err, "failed to handle tool message")
			}
			if lastWasTool {
				last := &chatMessages[len(chatMessages)-1]
				last.Content = append(last.Content, chatMessage.Content...)
			} else {
				chatMessages = append(chatMessages, chatMessage)
			}
			lastWasTool = true
		default:
			return nil, "", errors.WithMessagef(ErrUnsupportedMessageType, "%v", msg.Role)
		}
	}
	return chatMessages, strings.Join(system, "\n"), nil
}

// HandleSystemMessage extracts text content from system messages.
func HandleSystemMessage(msg llms.Message) (string, error) {
	if textContent, ok := msg.Parts[0].(llms.TextContent); ok {
		return textContent.Text, nil
	}
	return "", errors.WithMessagef(ErrInvalidContentType, "for system message")
}

// HandleUserMessage converts user messages to Anthropic user message format.
// Images are base64-encoded.
func HandleUserMessage(msg llms.Message) (anthropic.MessageParam, error) {
	var contents []anthropic.ContentBlockParamUnion

	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			contents = append(contents, anthropic.NewTextBlock(p.Text))
		case llms.BinaryContent:
			if !strings.HasPrefix(p.MIMEType, "image/") {
				return anthropic.MessageParam{}, errors.Errorf("unsupported binary content type: %s", p.MIMEType)
			}
			encodedData := base64.StdEncoding.EncodeToString(p.Data)
			contents = append(contents, anthropic.NewImageBlockBase64(p.MIMEType, encodedData))
		default:
			return anthropic.MessageParam{}, errors.Errorf("unsupported user message part type: %T", part)
		}
	}

	return anthropic.NewUserMessage(contents...), nil
}

// HandleAssistantMessage converts assistant messages, text and tool calls, to Anthropic format.
// Tool call arguments must be valid JSON.
func HandleAssistantMessage(msg llms.Message) (anthropic.MessageParam, error) {
	var contents []anthropic.ContentBlockParamUnion

	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.ToolCall:
			args := p.Arguments()
			if args == "" {
				args = "{}"
			}
			var inputJSON json.RawMessage
			if err := json.Unmarshal([]byte(args), &inputJSON); err != nil {
				return anthropic.MessageParam{}, errors.Wrap(err, "failed to unmarshal tool call arguments")
			}
			contents = append(contents, anthropic.NewToolUseBlock(p.ID, inputJSON, p.Name()))
		case llms.TextContent:
			if p.Text != "" {
				contents = append(contents, anthropic.NewTextBlock(p.Text))
			}
		default:
			return anthropic.MessageParam{}, errors.Errorf("unsupported assistant message part type: %T", part)
		}
	}

	return anthropic.NewAssistantMessage(contents...), nil
}

// HandleToolMessage converts tool responses to a user message with tool result blocks.
func HandleToolMessage(msg llms.Message) (anthropic.MessageParam, error) {
	var contents []anthropic.ContentBlockParamUnion

	for _, part := range msg.Parts {
		toolCallResponse, ok := part.(llms.ToolCallResponse)
		if !ok {
			return anthropic.MessageParam{}, errors.WithMessagef(ErrInvalidContentType, "for tool message part type: %T", part)
		}
		contents = append(contents, anthropic.NewToolResultBlock(
			toolCallResponse.ToolCallID,
			toolCallResponse.Content,
			toolCallResponse.IsError,
		))
	}

	return anthropic.NewUserMessage(contents...), nil
}
