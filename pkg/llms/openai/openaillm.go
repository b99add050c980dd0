// Package openai adapts the OpenAI Chat Completions API, and the compatible
// Azure and Perplexity endpoints, to the llms.Model interface.
package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolmesh/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolmesh", "openai")

var (
	// ErrEmptyResponse is returned when the API returns no choices.
	ErrEmptyResponse = errors.New("openai: empty response")
	// ErrMissingToken is returned when no API key is configured.
	ErrMissingToken = errors.New("openai: missing API key, set it in the OPENAI_API_KEY environment variable")
)

type LLM struct {
	client   *openai.Client
	model    string
	provider ProviderType
}

var _ llms.Model = (*LLM)(nil)

// New returns a new OpenAI LLM.
func New(opts ...Option) (*LLM, error) {
	o := &options{
		token:        os.Getenv(TokenEnvVarName),
		model:        os.Getenv(ModelEnvVarName),
		baseURL:      os.Getenv(BaseURLEnvVarName),
		organization: os.Getenv(OrganizationEnvVarName),
		provider:     ProviderOpenAI,
		httpClient:   http.DefaultClient,
		maxRetries:   DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.token == "" {
		return nil, ErrMissingToken
	}
	if o.model == "" {
		return nil, errors.New("openai: model is required")
	}

	sdkOpts := []option.RequestOption{
		option.WithMaxRetries(o.maxRetries),
	}
	if o.httpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(o.httpClient))
	}
	if o.requestTimeout > 0 {
		sdkOpts = append(sdkOpts, option.WithRequestTimeout(o.requestTimeout))
	}
	for name, value := range o.headers {
		sdkOpts = append(sdkOpts, option.WithHeader(name, value))
	}

	switch o.provider {
	case ProviderAzure:
		if o.baseURL == "" {
			return nil, errors.New("openai: endpoint is required for Azure")
		}
		sdkOpts = append(sdkOpts,
			azure.WithEndpoint(o.baseURL, values.StringsCoalesce(o.apiVersion, DefaultAPIVersion)),
			azure.WithAPIKey(o.token),
		)
	case ProviderPerplexity:
		sdkOpts = append(sdkOpts,
			option.WithAPIKey(o.token),
			option.WithBaseURL(values.StringsCoalesce(o.baseURL, DefaultPerplexityBaseURL)),
		)
	case ProviderOpenAI:
		sdkOpts = append(sdkOpts, option.WithAPIKey(o.token))
		if o.baseURL != "" {
			sdkOpts = append(sdkOpts, option.WithBaseURL(o.baseURL))
		}
		if o.organization != "" {
			sdkOpts = append(sdkOpts, option.WithOrganization(o.organization))
		}
	default:
		return nil, errors.Errorf("openai: unsupported provider: %s", o.provider)
	}

	client := openai.NewClient(sdkOpts...)
	return &LLM{
		client:   &client,
		model:    o.model,
		provider: o.provider,
	}, nil
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.model
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	switch o.provider {
	case ProviderAzure:
		return llms.ProviderAzure
	case ProviderPerplexity:
		return llms.ProviderPerplexity
	}
	return llms.ProviderOpenAI
}

// GenerateContent implements the Model interface.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.NewCallOptions(options...)
	opts.Model = values.StringsCoalesce(opts.Model, o.model)

	params, err := BuildParams(messages, opts)
	if err != nil {
		return nil, err
	}

	resp, err := o.client.Chat.Completions.New(ctx, *params)
	if err != nil {
		return nil, errors.Wrap(err, "openai: failed to create chat completion")
	}
	logger.ContextKV(ctx, xlog.DEBUG, "model", resp.Model, "choices", len(resp.Choices))
	return ToContentResponse(resp)
}

// BuildParams converts the messages and call options to the request parameters.
func BuildParams(messages []llms.Message, opts *llms.CallOptions) (*openai.ChatCompletionNewParams, error) {
	msgs, err := ProcessMessages(messages)
	if err != nil {
		return nil, err
	}

	params := &openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(opts.Model),
		Messages: msgs,
	}
	if opts.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.TopP > 0 {
		params.TopP = openai.Float(opts.TopP)
	}
	if len(opts.StopWords) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: opts.StopWords}
	}

	tools, err := ToTools(opts.Tools)
	if err != nil {
		return nil, err
	}
	if len(tools) > 0 {
		params.Tools = tools
		params.ToolChoice = ToToolChoice(opts.ToolChoice)
	}
	return params, nil
}

// ToToolChoice converts the tool choice, the zero value leaves the API default.
func ToToolChoice(choice any) openai.ChatCompletionToolChoiceOptionUnionParam {
	mode, name := llms.ToolChoiceOf(choice)
	switch mode {
	case llms.ToolChoiceAuto, llms.ToolChoiceNone, llms.ToolChoiceRequired:
		return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(mode)}
	case llms.ToolChoiceFunction:
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: name},
			},
		}
	}
	return openai.ChatCompletionToolChoiceOptionUnionParam{}
}

// ToTools converts LLM tool definitions to function tools.
func ToTools(tools []llms.Tool) ([]openai.ChatCompletionToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	res := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		if t.Function == nil {
			continue
		}
		def := shared.FunctionDefinitionParam{
			Name: t.Function.Name,
		}
		if t.Function.Description != "" {
			def.Description = openai.String(t.Function.Description)
		}
		if t.Function.Parameters != nil {
			b, err := json.Marshal(t.Function.Parameters)
			if err != nil {
				return nil, errors.Wrapf(err, "openai: failed to marshal parameters of %s", t.Function.Name)
			}
			var params shared.FunctionParameters
			if err = json.Unmarshal(b, &params); err != nil {
				return nil, errors.Wrapf(err, "openai: invalid parameters of %s", t.Function.Name)
			}
			def.Parameters = params
		}
		res = append(res, openai.ChatCompletionFunctionTool(def))
	}
	return res, nil
}

// ProcessMessages converts the conversation to chat completion messages.
// Each tool response becomes a tool message, in the order of the parts.
func ProcessMessages(messages []llms.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	res := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		if len(msg.Parts) == 0 {
			continue
		}
		switch msg.Role {
		case llms.RoleSystem:
			res = append(res, openai.SystemMessage(textOf(msg)))
		case llms.RoleHuman, llms.RoleTool:
			var text []string
			for _, part := range msg.Parts {
				switch p := part.(type) {
				case llms.TextContent:
					text = append(text, p.Text)
				case llms.ToolCallResponse:
					// the API has no error flag for tool results
					content := p.Content
					if p.IsError {
						content = "Error: " + content
					}
					res = append(res, openai.ToolMessage(content, p.ToolCallID))
				default:
					return nil, errors.Errorf("openai: unsupported part type for %s message: %T", msg.Role, part)
				}
			}
			if len(text) > 0 {
				res = append(res, openai.UserMessage(strings.Join(text, "\n")))
			}
		case llms.RoleAI:
			asst := openai.ChatCompletionAssistantMessageParam{}
			var text []string
			for _, part := range msg.Parts {
				switch p := part.(type) {
				case llms.TextContent:
					text = append(text, p.Text)
				case llms.ToolCall:
					asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: p.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      p.Name(),
								Arguments: p.Arguments(),
							},
						},
					})
				default:
					return nil, errors.Errorf("openai: unsupported part type for ai message: %T", part)
				}
			}
			if len(text) > 0 {
				asst.Content.OfString = openai.String(strings.Join(text, "\n"))
			}
			res = append(res, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		default:
			return nil, errors.Errorf("openai: unsupported message role: %s", msg.Role)
		}
	}
	return res, nil
}

func textOf(msg llms.Message) string {
	var text []string
	for _, part := range msg.Parts {
		if tc, ok := part.(llms.TextContent); ok {
			text = append(text, tc.Text)
		}
	}
	return strings.Join(text, "\n")
}

// ToContentResponse converts the API reply.
func ToContentResponse(resp *openai.ChatCompletion) (*llms.ContentResponse, error) {
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	choices := make([]*llms.ContentChoice, len(resp.Choices))
	for i, c := range resp.Choices {
		choice := &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: string(c.FinishReason),
			GenerationInfo: map[string]any{
				"InputTokens":  resp.Usage.PromptTokens,
				"OutputTokens": resp.Usage.CompletionTokens,
				"TotalTokens":  resp.Usage.TotalTokens,
				"ID":           resp.ID,
				"Index":        i,
			},
		}
		for _, tc := range c.Message.ToolCalls {
			choice.ToolCalls = append(choice.ToolCalls, llms.ToolCall{
				ID:   tc.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		choices[i] = choice
	}
	return &llms.ContentResponse{Choices: choices}, nil
}
