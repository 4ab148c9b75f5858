package anthropic

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/toolharness/pkg/llms", "anthropic")

var (
	ErrInvalidContentType     = errors.New("anthropic: invalid content type")
	ErrUnsupportedMessageType = errors.New("anthropic: unsupported message type")
)

const (
	DefaultMaxTokens = 4096
	// MetadataUserID is the llms.CallOptions.Metadata key sent as metadata.user_id,
	// other keys are not supported by the Messages API.
	MetadataUserID = "user_id"
)

type LLM struct {
	Client  *anthropic.Client
	Options *Options
}

var _ llms.Model = (*LLM)(nil)

// New creates a new Anthropic LLM client using the official Anthropic SDK.
//
// Required configuration:
//   - API token (via WithToken option)
//   - Model (via WithModel option)
//
// Example usage:
//
//	llm, err := anthropic.New(
//	    anthropic.WithToken("your-api-key"),
//	    anthropic.WithModel("claude-sonnet-4-5"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	resp, err := llm.GenerateContent(ctx, messages)
func New(opts ...Option) (*LLM, error) {
	options := &Options{
		BaseURL:        "https://api.anthropic.com",
		HttpClient:     http.DefaultClient,
		MaxRetries:     DefaultMaxRetries,
		RequestTimeout: DefaultRequestTimeout,
	}

	for _, opt := range opts {
		opt(options)
	}

	if len(options.Token) == 0 {
		return nil, errors.WithMessage(llms.ErrMissingToken, "anthropic")
	}
	if options.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}

	return &LLM{
		Client:  newClient(options),
		Options: options,
	}, nil
}

func newClient(options *Options) *anthropic.Client {
	sdkOpts := []option.RequestOption{
		option.WithAPIKey(options.Token),
		option.WithMaxRetries(max(options.MaxRetries, 0)),
		option.WithRequestTimeout(options.RequestTimeout),
	}

	if options.BaseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(options.BaseURL))
	}

	if options.HttpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(options.HttpClient))
	}

	if options.AnthropicBetaHeader != "" {
		sdkOpts = append(sdkOpts, option.WithHeader("anthropic-beta", options.AnthropicBetaHeader))
	}

	client := anthropic.NewClient(sdkOpts...)
	return &client
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.Options.Model
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderAnthropic
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
	sdkMessages, systemPrompt, err := ProcessMessages(messages)
	if err != nil {
		return nil, errors.WithMessage(err, "anthropic: failed to process messages")
	}

	tools, err := ToTools(opts.Tools)
	if err != nil {
		return nil, err
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		Messages:  sdkMessages,
		MaxTokens: values.NumbersCoalesce(int64(opts.MaxTokens), DefaultMaxTokens),
	}

	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: systemPrompt,
			},
		}
	}

	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}

	if opts.TopP > 0 {
		params.TopP = anthropic.Float(opts.TopP)
	}

	if len(opts.StopWords) > 0 {
		params.StopSequences = opts.StopWords
	}

	if len(tools) > 0 {
		params.Tools = tools
		if tc, ok := ToToolChoice(opts.ToolChoice); ok {
			params.ToolChoice = tc
		}
	}

	if userID, ok := opts.Metadata[MetadataUserID].(string); ok && userID != "" {
		params.Metadata = anthropic.MetadataParam{UserID: anthropic.String(userID)}
	}

	result, err := o.Client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "anthropic: failed to create message")
	}

	return ToContentResponse(result)
}

// ToContentResponse converts the Anthropic message into a normalized response.
// Each content block becomes one choice, in the order returned by the API.
func ToContentResponse(result *anthropic.Message) (*llms.ContentResponse, error) {
	if result == nil {
		return nil, llms.ErrEmptyResponse
	}

	choices := make([]*llms.ContentChoice, 0, len(result.Content))
	genInfo := func(i int) map[string]any {
		return map[string]any{
			"InputTokens":  result.Usage.InputTokens,
			"OutputTokens": result.Usage.OutputTokens,
			"TotalTokens":  result.Usage.InputTokens + result.Usage.OutputTokens,
			"ID":           result.ID,
			"Index":        i,
		}
	}

	for i, contentBlock := range result.Content {
		switch content := contentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			choices = append(choices, &llms.ContentChoice{
				Content:        content.Text,
				StopReason:     string(result.StopReason),
				GenerationInfo: genInfo(i),
			})
		case anthropic.ToolUseBlock:
			argumentsJSON, err := json.Marshal(content.Input)
			if err != nil {
				return nil, errors.Wrap(err, "anthropic: failed to marshal tool use arguments")
			}
			args := string(argumentsJSON)
			if args == "" || args == "null" {
				args = "{}"
			}
			choices = append(choices, &llms.ContentChoice{
				ToolCalls: []llms.ToolCall{
					{
						ID:   content.ID,
						Type: "function",
						FunctionCall: &llms.FunctionCall{
							Name:      content.Name,
							Arguments: args,
						},
					},
				},
				StopReason:     string(result.StopReason),
				GenerationInfo: genInfo(i),
			})
		default:
			logger.KV(xlog.DEBUG,
				"reason", "skip_content_block",
				"type", contentBlock.Type,
				"id", result.ID,
			)
		}
	}

	return &llms.ContentResponse{
		Choices: choices,
	}, nil
}

// ToTools converts LLM tool definitions to Anthropic SDK tool parameters.
// Returns nil if no tools are provided.
func ToTools(tools []llms.Tool) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	sdkTools := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, tool := range tools {
		if tool.Function == nil {
			continue
		}

		var params struct {
			Properties map[string]any `json:"properties"`
			Required   []string       `json:"required"`
		}
		if len(tool.Function.Parameters) > 0 {
			if err := json.Unmarshal(tool.Function.Parameters, &params); err != nil {
				return nil, errors.Wrapf(err, "anthropic: invalid parameters schema for tool %q", tool.Function.Name)
			}
		}

		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       "object",
			Properties: params.Properties,
		}
		if len(params.Required) > 0 {
			inputSchema.Required = params.Required
		}

		sdkTools = append(sdkTools, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Function.Name,
				Description: anthropic.String(tool.Function.Description),
				InputSchema: inputSchema,
			},
		})
	}
	return sdkTools, nil
}

// ToToolChoice converts the tool choice option, the second value is false
// when the API default should be used.
func ToToolChoice(choice any) (anthropic.ToolChoiceUnionParam, bool) {
	switch c := choice.(type) {
	case llms.FunctionCallBehavior:
		return ToToolChoice(string(c))
	case string:
		switch c {
		case "auto":
			return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}, true
		case "required", "any":
			return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}, true
		case "none":
			return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}, true
		}
	case llms.ToolChoice:
		if c.Function != nil && c.Function.Name != "" {
			return anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: c.Function.Name}}, true
		}
	case *llms.ToolChoice:
		if c != nil {
			return ToToolChoice(*c)
		}
	}
	return anthropic.ToolChoiceUnionParam{}, false
}

// ProcessMessages converts conversation turns to Anthropic SDK message parameters.
//
// System turns are returned as a separate system prompt. Tool-result turns become
// user messages with tool_result blocks. Consecutive messages with the same role
// are merged, since the API requires user and assistant messages to alternate.
// Empty text parts are dropped.
func ProcessMessages(messages []llms.Message) ([]anthropic.MessageParam, string, error) {
	chatMessages := make([]anthropic.MessageParam, 0, len(messages))
	systemPrompt := ""

	appendMessage := func(msg anthropic.MessageParam) {
		if len(msg.Content) == 0 {
			return
		}
		if n := len(chatMessages); n > 0 && chatMessages[n-1].Role == msg.Role {
			chatMessages[n-1].Content = append(chatMessages[n-1].Content, msg.Content...)
			return
		}
		chatMessages = append(chatMessages, msg)
	}

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
			if content == "" {
				continue
			}
			if systemPrompt != "" {
				systemPrompt += "\n" + content
			} else {
				systemPrompt = content
			}
		case llms.RoleHuman:
			chatMessage, err := HandleHumanMessage(msg)
			if err != nil {
				return nil, "", err
			}
			appendMessage(chatMessage)
		case llms.RoleAI:
			chatMessage, err := HandleAIMessage(msg)
			if err != nil {
				return nil, "", err
			}
			appendMessage(chatMessage)
		case llms.RoleTool:
			chatMessage, err := HandleToolMessage(msg)
			if err != nil {
				return nil, "", err
			}
			appendMessage(chatMessage)
		default:
			return nil, "", errors.WithMessagef(ErrUnsupportedMessageType, "anthropic: %v", msg.Role)
		}
	}
	return chatMessages, systemPrompt, nil
}

// HandleSystemMessage extracts text content from system messages.
func HandleSystemMessage(msg llms.Message) (string, error) {
	var text string
	for _, part := range msg.Parts {
		tc, ok := part.(llms.TextContent)
		if !ok {
			return "", errors.WithMessagef(ErrInvalidContentType, "anthropic: %T for system message", part)
		}
		if tc.Text == "" {
			continue
		}
		if text != "" {
			text += "\n"
		}
		text += tc.Text
	}
	return text, nil
}

// HandleHumanMessage converts human messages to Anthropic user message format.
func HandleHumanMessage(msg llms.Message) (anthropic.MessageParam, error) {
	var contents []anthropic.ContentBlockParamUnion

	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			if p.Text != "" {
				contents = append(contents, anthropic.NewTextBlock(p.Text))
			}
		default:
			return anthropic.MessageParam{}, errors.WithMessagef(ErrInvalidContentType, "anthropic: %T for human message", part)
		}
	}

	return anthropic.NewUserMessage(contents...), nil
}

// HandleAIMessage converts assistant turns to Anthropic assistant message format:
// text followed by tool_use blocks.
func HandleAIMessage(msg llms.Message) (anthropic.MessageParam, error) {
	var contents []anthropic.ContentBlockParamUnion

	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.ToolCall:
			args := json.RawMessage(p.Arguments())
			if !json.Valid(args) {
				logger.KV(xlog.DEBUG,
					"reason", "invalid_tool_arguments",
					"id", p.ID,
					"tool", p.Name(),
				)
				args = json.RawMessage("{}")
			}
			contents = append(contents, anthropic.NewToolUseBlock(p.ID, args, p.Name()))
		case llms.TextContent:
			if p.Text != "" {
				contents = append(contents, anthropic.NewTextBlock(p.Text))
			}
		default:
			return anthropic.MessageParam{}, errors.WithMessagef(ErrInvalidContentType, "anthropic: %T for AI message", part)
		}
	}

	return anthropic.NewAssistantMessage(contents...), nil
}

// HandleToolMessage converts tool-result turns to a user message with tool_result blocks.
func HandleToolMessage(msg llms.Message) (anthropic.MessageParam, error) {
	var contents []anthropic.ContentBlockParamUnion

	for _, part := range msg.Parts {
		tr, ok := part.(llms.ToolCallResponse)
		if !ok {
			return anthropic.MessageParam{}, errors.WithMessagef(ErrInvalidContentType, "anthropic: %T for tool message", part)
		}
		// the API rejects empty text blocks, an empty result is sent without content
		block := anthropic.ToolResultBlockParam{
			ToolUseID: tr.ToolCallID,
			IsError:   anthropic.Bool(tr.IsError),
		}
		if tr.Content != "" {
			block.Content = []anthropic.ToolResultBlockParamContentUnion{
				{OfText: &anthropic.TextBlockParam{Text: tr.Content}},
			}
		}
		contents = append(contents, anthropic.ContentBlockParamUnion{OfToolResult: &block})
	}

	return anthropic.NewUserMessage(contents...), nil
}

func toBackendError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return llms.NewBackendError(llms.ProviderAnthropic, apiErr.StatusCode, err)
	}
	return llms.NewBackendError(llms.ProviderAnthropic, 0, err)
}
