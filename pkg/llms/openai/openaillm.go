package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

var (
	ErrInvalidContentType     = errors.New("openai: invalid content type")
	ErrUnsupportedMessageType = errors.New("openai: unsupported message type")
)

type LLM struct {
	Client  *openai.Client
	Options *Options
}

var _ llms.Model = (*LLM)(nil)

// New returns a new OpenAI LLM using the Chat Completions API.
func New(opts ...Option) (*LLM, error) {
	options := &Options{
		BaseURL:        DefaultBaseURL,
		MaxRetries:     DefaultMaxRetries,
		RequestTimeout: DefaultRequestTimeout,
	}
	for _, opt := range opts {
		opt(options)
	}

	if options.Token == "" {
		return nil, errors.WithMessage(llms.ErrMissingToken, "openai")
	}
	if options.Model == "" {
		return nil, errors.New("openai: model is required")
	}

	sdkOpts := []option.RequestOption{
		option.WithAPIKey(options.Token),
		option.WithMaxRetries(max(options.MaxRetries, 0)),
		option.WithRequestTimeout(options.RequestTimeout),
	}
	if options.BaseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(options.BaseURL))
	}
	if options.Organization != "" {
		sdkOpts = append(sdkOpts, option.WithOrganization(options.Organization))
	}
	if options.HttpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(options.HttpClient))
	}

	client := openai.NewClient(sdkOpts...)
	return &LLM{
		Client:  &client,
		Options: options,
	}, nil
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.Options.Model
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderOpenAI
}

// GenerateContent implements the Model interface.
// Failures are returned as *llms.BackendError.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{
		Model: o.Options.Model,
	}
	for _, opt := range options {
		opt(&opts)
	}

	resp, err := o.generateContent(ctx, messages, &opts)
	if err != nil {
		return nil, toBackendError(err)
	}
	return resp, nil
}

func (o *LLM) generateContent(ctx context.Context, messages []llms.Message, opts *llms.CallOptions) (*llms.ContentResponse, error) {
	chatMsgs, err := ProcessMessages(messages)
	if err != nil {
		return nil, errors.WithMessage(err, "openai: failed to process messages")
	}
	tools, err := ToTools(opts.Tools)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(opts.Model),
		Messages: chatMsgs,
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
	if len(tools) > 0 {
		params.Tools = tools
		if tc, ok := ToToolChoice(opts.ToolChoice); ok {
			params.ToolChoice = tc
		}
	}

	if len(opts.Metadata) > 0 {
		md := make(shared.Metadata, len(opts.Metadata))
		for k, v := range opts.Metadata {
			md[k] = fmt.Sprint(v)
		}
		params.Metadata = md
	}

	result, err := o.Client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "openai: failed to create chat completion")
	}
	return ToContentResponse(result)
}

// ToContentResponse converts the chat completion into a normalized response.
func ToContentResponse(result *openai.ChatCompletion) (*llms.ContentResponse, error) {
	if result == nil || len(result.Choices) == 0 {
		return nil, llms.ErrEmptyResponse
	}

	choices := make([]*llms.ContentChoice, len(result.Choices))
	for i, c := range result.Choices {
		choices[i] = &llms.ContentChoice{
			Content:    c.Message.Content,
			StopReason: c.FinishReason,
			GenerationInfo: map[string]any{
				"CompletionTokens": result.Usage.CompletionTokens,
				"PromptTokens":     result.Usage.PromptTokens,
				"TotalTokens":      result.Usage.TotalTokens,
				"ID":               result.ID,
				"Index":            i,
			},
		}
		for _, tool := range c.Message.ToolCalls {
			choices[i].ToolCalls = append(choices[i].ToolCalls, llms.ToolCall{
				ID:   tool.ID,
				Type: "function",
				FunctionCall: &llms.FunctionCall{
					Name:      tool.Function.Name,
					Arguments: tool.Function.Arguments,
				},
			})
		}
	}
	return &llms.ContentResponse{Choices: choices}, nil
}

// ProcessMessages converts conversation turns to Chat Completions messages.
// Each tool-result turn becomes one tool message keyed by the call id.
func ProcessMessages(messages []llms.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	chatMsgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, mc := range messages {
		if len(mc.Parts) == 0 {
			continue
		}
		switch mc.Role {
		case llms.RoleSystem:
			text, err := textOf(mc)
			if err != nil {
				return nil, err
			}
			chatMsgs = append(chatMsgs, openai.SystemMessage(text))
		case llms.RoleHuman:
			text, err := textOf(mc)
			if err != nil {
				return nil, err
			}
			chatMsgs = append(chatMsgs, openai.UserMessage(text))
		case llms.RoleAI:
			var text string
			var toolCalls []openai.ChatCompletionMessageToolCallUnionParam
			for _, part := range mc.Parts {
				switch p := part.(type) {
				case llms.TextContent:
					text += p.Text
				case llms.ToolCall:
					toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallUnionParam{
						OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
							ID: p.ID,
							Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
								Name:      p.Name(),
								Arguments: p.Arguments(),
							},
						},
					})
				default:
					return nil, errors.WithMessagef(ErrInvalidContentType, "openai: %T for AI message", part)
				}
			}
			if text == "" && len(toolCalls) == 0 {
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{
				ToolCalls: toolCalls,
			}
			if text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(text),
				}
			}
			chatMsgs = append(chatMsgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case llms.RoleTool:
			for _, part := range mc.Parts {
				tr, ok := part.(llms.ToolCallResponse)
				if !ok {
					return nil, errors.WithMessagef(ErrInvalidContentType, "openai: %T for tool message", part)
				}
				chatMsgs = append(chatMsgs, openai.ToolMessage(tr.Content, tr.ToolCallID))
			}
		default:
			return nil, errors.WithMessagef(ErrUnsupportedMessageType, "openai: %v", mc.Role)
		}
	}
	return chatMsgs, nil
}

func textOf(mc llms.Message) (string, error) {
	var text string
	for _, part := range mc.Parts {
		tc, ok := part.(llms.TextContent)
		if !ok {
			return "", errors.WithMessagef(ErrInvalidContentType, "openai: %T for %s message", part, mc.Role)
		}
		if text != "" && tc.Text != "" {
			text += "\n"
		}
		text += tc.Text
	}
	return text, nil
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
		if t.Type != "" && t.Type != "function" {
			return nil, errors.Errorf("openai: tool type %v not supported", t.Type)
		}
		var params shared.FunctionParameters
		if len(t.Function.Parameters) > 0 {
			if err := json.Unmarshal(t.Function.Parameters, &params); err != nil {
				return nil, errors.Wrapf(err, "openai: invalid parameters schema for tool %q", t.Function.Name)
			}
		}
		res = append(res, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        t.Function.Name,
			Description: openai.String(t.Function.Description),
			Parameters:  params,
		}))
	}
	return res, nil
}

// ToToolChoice converts the tool choice option, the second value is false
// when the API default should be used.
func ToToolChoice(choice any) (openai.ChatCompletionToolChoiceOptionUnionParam, bool) {
	switch c := choice.(type) {
	case llms.FunctionCallBehavior:
		return ToToolChoice(string(c))
	case string:
		switch c {
		case "auto", "none", "required":
			return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(c)}, true
		}
	case llms.ToolChoice:
		if c.Function != nil && c.Function.Name != "" {
			return openai.ChatCompletionToolChoiceOptionUnionParam{
				OfFunctionToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
					Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: c.Function.Name},
				},
			}, true
		}
	case *llms.ToolChoice:
		if c != nil {
			return ToToolChoice(*c)
		}
	}
	return openai.ChatCompletionToolChoiceOptionUnionParam{}, false
}

func toBackendError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llms.NewBackendError(llms.ProviderOpenAI, apiErr.StatusCode, err)
	}
	return llms.NewBackendError(llms.ProviderOpenAI, 0, err)
}
