package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"github.com/openai/openai-go/v3/responses"
	"github.com/openai/openai-go/v3/shared"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent/pkg/llms", "openai")

var (
	ErrEmptyResponse = errors.New("openai: no response")
	ErrMissingToken  = errors.New("openai: missing API key, set it in the OPENAI_API_KEY environment variable")
)

// LLM is the OpenAI Responses API variant of llms.Model
type LLM struct {
	client openai.Client
	opts   options
}

var _ llms.Model = (*LLM)(nil)

// New returns a new OpenAI LLM.
// The client does not retry, failures are returned as *llms.ProviderError.
func New(opts ...Option) (*LLM, error) {
	o := options{
		token:        os.Getenv(tokenEnvVarName),
		model:        os.Getenv(modelEnvVarName),
		baseURL:      os.Getenv(baseURLEnvVarName),
		organization: os.Getenv(organizationEnvVarName),
		httpClient:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.token == "" {
		return nil, ErrMissingToken
	}
	o.model = values.StringsCoalesce(o.model, DefaultModel)
	o.baseURL = values.StringsCoalesce(strings.TrimSuffix(o.baseURL, "/"), DefaultBaseURL)
	o.maxTokens = values.NumbersCoalesce(o.maxTokens, DefaultMaxTokens)

	reqOpts := []option.RequestOption{
		option.WithAPIKey(o.token),
		option.WithBaseURL(o.baseURL),
		option.WithMaxRetries(0),
	}
	if o.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(o.organization))
	}
	for k, v := range o.headers {
		reqOpts = append(reqOpts, option.WithHeader(k, v))
	}
	if o.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(o.httpClient))
	}

	return &LLM{
		client: openai.NewClient(reqOpts...),
		opts:   o,
	}, nil
}

// GetName returns the model name
func (o *LLM) GetName() string {
	return o.opts.model
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderOpenAI
}

// GenerateContent implements the Model interface.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{
		Model: o.opts.model,
	}
	for _, opt := range options {
		opt(&opts)
	}

	params, err := NewRequest(messages, &opts)
	if err != nil {
		return nil, err
	}
	if !params.MaxOutputTokens.Valid() {
		params.MaxOutputTokens = param.NewOpt(int64(o.opts.maxTokens))
	}

	resp, err := o.client.Responses.New(ctx, *params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return nil, llms.NewProviderError(llms.ProviderOpenAI, apiErr.StatusCode, err)
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.WithStack(err)
		}
		return nil, llms.NewProviderError(llms.ProviderOpenAI, 0, err)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"id", resp.ID,
		"model", resp.Model,
		"status", resp.Status,
		"items", len(resp.Output),
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens,
	)

	return ToContentResponse(resp)
}

// NewRequest converts the conversation and options to Responses API parameters.
// System messages become the instructions.
func NewRequest(messages []llms.Message, opts *llms.CallOptions) (*responses.ResponseNewParams, error) {
	req := &responses.ResponseNewParams{
		Model: opts.Model,
	}
	if opts.MaxTokens > 0 {
		req.MaxOutputTokens = param.NewOpt(int64(opts.MaxTokens))
	}
	if opts.Temperature != 0 {
		req.Temperature = param.NewOpt(opts.Temperature)
	}
	if opts.TopP != 0 {
		req.TopP = param.NewOpt(opts.TopP)
	}
	if len(opts.Metadata) > 0 {
		req.Metadata = make(shared.Metadata, len(opts.Metadata))
		for k, v := range opts.Metadata {
			req.Metadata[k] = fmt.Sprint(v)
		}
	}

	var (
		instructions []string
		input        responses.ResponseInputParam
	)
	for _, msg := range messages {
		switch msg.Role {
		case llms.RoleSystem:
			for _, p := range msg.Parts {
				if tc, ok := p.(llms.TextContent); ok {
					instructions = append(instructions, tc.Text)
				}
			}
		case llms.RoleUser:
			var content responses.ResponseInputMessageContentListParam
			for _, p := range msg.Parts {
				switch part := p.(type) {
				case llms.TextContent:
					content = append(content, responses.ResponseInputContentParamOfInputText(part.Text))
				case llms.ImageURLContent:
					content = append(content, inputImage(part.URL))
				case llms.BinaryContent:
					content = append(content, inputImage(part.String()))
				default:
					return nil, errors.Errorf("openai: unsupported %s message part type: %T", msg.Role, p)
				}
			}
			if len(content) > 0 {
				input = append(input, responses.ResponseInputItemParamOfMessage(content, responses.EasyInputMessageRoleUser))
			}
		case llms.RoleAssistant:
			var (
				text  []string
				calls responses.ResponseInputParam
			)
			for _, p := range msg.Parts {
				switch part := p.(type) {
				case llms.TextContent:
					text = append(text, part.Text)
				case llms.ToolCall:
					calls = append(calls, responses.ResponseInputItemParamOfFunctionCall(
						values.StringsCoalesce(part.Arguments(), "{}"),
						part.ID,
						part.Name(),
					))
				default:
					return nil, errors.Errorf("openai: unsupported %s message part type: %T", msg.Role, p)
				}
			}
			if len(text) > 0 {
				input = append(input, responses.ResponseInputItemParamOfMessage(strings.Join(text, ""), responses.EasyInputMessageRoleAssistant))
			}
			input = append(input, calls...)
		case llms.RoleTool:
			for _, p := range msg.Parts {
				tr, ok := p.(llms.ToolCallResponse)
				if !ok {
					return nil, errors.Errorf("openai: expected part of type ToolCallResponse for role %v, got %T", msg.Role, p)
				}
				output := tr.Content
				if tr.IsError {
					output = "Error: " + output
				}
				input = append(input, responses.ResponseInputItemParamOfFunctionCallOutput(tr.ToolCallID, output))
			}
		default:
			return nil, errors.WithMessagef(llms.ErrUnexpectedRole, "openai: %q", msg.Role)
		}
	}
	if len(instructions) > 0 {
		req.Instructions = param.NewOpt(strings.Join(instructions, "\n"))
	}
	req.Input = responses.ResponseNewParamsInputUnion{OfInputItemList: input}

	if opts.ToolChoice != llms.ToolChoiceNone {
		for _, tool := range opts.Tools {
			if tool.Function == nil {
				continue
			}
			schema, err := toolParameters(tool.Function.Parameters)
			if err != nil {
				return nil, errors.WithMessagef(err, "openai: tool %q", tool.Function.Name)
			}
			tp := responses.ToolParamOfFunction(tool.Function.Name, schema, false)
			if tool.Function.Description != "" {
				tp.OfFunction.Description = param.NewOpt(tool.Function.Description)
			}
			req.Tools = append(req.Tools, tp)
		}
	}
	if len(req.Tools) > 0 && opts.ToolChoice != "" {
		req.ToolChoice = responses.ResponseNewParamsToolChoiceUnion{
			OfToolChoiceMode: param.NewOpt(responses.ToolChoiceOptions(opts.ToolChoice)),
		}
	}
	return req, nil
}

func inputImage(url string) responses.ResponseInputContentUnionParam {
	img := responses.ResponseInputContentParamOfInputImage(responses.ResponseInputImageDetailAuto)
	img.OfInputImage.ImageURL = param.NewOpt(url)
	return img
}

// toolParameters returns the JSON schema of the tool as a generic map,
// an object schema with no properties when the tool takes none.
func toolParameters(s *jsonschema.Schema) (map[string]any, error) {
	if s == nil {
		return map[string]any{"type": "object"}, nil
	}
	js, err := json.Marshal(s)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var m map[string]any
	if err = json.Unmarshal(js, &m); err != nil {
		return nil, errors.WithStack(err)
	}
	return m, nil
}

// ToContentResponse converts the response to the canonical form:
// one choice with the text and the function calls in output order.
func ToContentResponse(r *responses.Response) (*llms.ContentResponse, error) {
	if r.Error.Code != "" || r.Error.Message != "" {
		return nil, llms.NewProviderError(llms.ProviderOpenAI, 0,
			errors.Errorf("openai: %s: %s", r.Error.Code, r.Error.Message))
	}

	choice := &llms.ContentChoice{
		StopReason: values.StringsCoalesce(r.IncompleteDetails.Reason, string(r.Status)),
		GenerationInfo: map[string]any{
			"InputTokens":  r.Usage.InputTokens,
			"OutputTokens": r.Usage.OutputTokens,
			"TotalTokens":  r.Usage.TotalTokens,
			"ID":           r.ID,
		},
	}

	var text []string
	for _, item := range r.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				switch c.Type {
				case "output_text":
					text = append(text, c.Text)
				case "refusal":
					text = append(text, c.Refusal)
				}
			}
		case "function_call":
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:   values.StringsCoalesce(item.CallID, item.ID),
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      item.Name,
					Arguments: item.Arguments.OfString,
				},
			})
		default:
			logger.KV(xlog.DEBUG, "reason", "skipped_output", "type", item.Type)
		}
	}
	choice.Content = strings.Join(text, "")

	if choice.Content == "" && len(choice.ToolCalls) == 0 {
		return nil, llms.NewProviderError(llms.ProviderOpenAI, 0, ErrEmptyResponse)
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
}
