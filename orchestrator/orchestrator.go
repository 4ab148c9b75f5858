package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolharness/chatmodel"
	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/effective-security/toolharness/pkg/llmutils"
	"github.com/effective-security/toolharness/pkg/metricskey"
	"github.com/effective-security/toolharness/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

// ErrMaxRoundsExceeded is returned when the model keeps requesting tools
// after the configured number of tool rounds.
var ErrMaxRoundsExceeded = errors.New("maximum tool rounds exceeded")

// ErrorPrefix starts the content of every tool-result turn that reports a failure.
const ErrorPrefix = "Error: "

// Orchestrator drives one conversation between a model and the registered tools.
type Orchestrator struct {
	model        llms.Model
	cfg          *Config
	registry     *tools.Registry
	conversation *chatmodel.Conversation
	state        State
}

// New returns Orchestrator for the model.
func New(model llms.Model, opts ...Option) (*Orchestrator, error) {
	if model == nil {
		return nil, errors.New("model is required")
	}
	cfg := NewConfig(opts...)
	registry := cfg.Registry
	if registry == nil {
		registry = tools.NewEmptyRegistry()
	}

	conversation := cfg.Conversation
	if conversation == nil {
		conversation = chatmodel.NewConversation("")
	}
	if cfg.SystemPrompt != "" && conversation.Len() == 0 {
		conversation.Append(llms.MessageFromTextParts(llms.RoleSystem, cfg.SystemPrompt))
	}

	return &Orchestrator{
		model:        model,
		cfg:          cfg,
		registry:     registry,
		conversation: conversation,
		state:        StateDone,
	}, nil
}

// Name returns the name of the Orchestrator.
func (o *Orchestrator) Name() string {
	return o.cfg.Name
}

// Model returns the model backend.
func (o *Orchestrator) Model() llms.Model {
	return o.model
}

// Registry returns the tool registry.
func (o *Orchestrator) Registry() *tools.Registry {
	return o.registry
}

// Conversation returns the conversation.
func (o *Orchestrator) Conversation() *chatmodel.Conversation {
	return o.conversation
}

// State returns the state of the loop.
func (o *Orchestrator) State() State {
	return o.state
}

// RegisterTool adds the tool to the registry.
func (o *Orchestrator) RegisterTool(tool *tools.Tool) error {
	return o.registry.Register(tool)
}

// ProcessMessage appends the user message to the conversation and runs the loop
// until the model produces an answer without tool calls.
// The conversation keeps all turns added before a failure.
func (o *Orchestrator) ProcessMessage(ctx context.Context, input string) (string, error) {
	started := time.Now()
	defer metricskey.PerfProcessMessage.MeasureSince(started, o.Name())

	if chatmodel.GetChatContext(ctx) == nil {
		ctx = chatmodel.WithChatContext(ctx, chatmodel.NewChatContext(o.conversation.ID()))
	}

	callback := o.cfg.Callback
	if callback != nil {
		callback.OnMessageStart(ctx, o, input)
	}

	answer, err := o.run(ctx, input)
	if err != nil {
		metricskey.StatsMessagesFailed.IncrCounter(1, o.Name())
		logger.ContextKV(ctx, xlog.ERROR,
			"orchestrator", o.Name(),
			"chat_id", o.conversation.ID(),
			"run_id", chatmodel.GetRunID(ctx),
			"state", o.state.String(),
			"err", err.Error(),
		)
		if callback != nil {
			callback.OnMessageError(ctx, o, input, err)
		}
		return "", err
	}

	metricskey.StatsMessagesSucceeded.IncrCounter(1, o.Name())
	if callback != nil {
		callback.OnMessageEnd(ctx, o, input, answer)
	}
	return answer, nil
}

func (o *Orchestrator) run(ctx context.Context, input string) (string, error) {
	o.conversation.Append(llms.MessageFromTextParts(llms.RoleHuman, input))
	o.state = StateAwaitingModel

	rounds := 0
	for {
		resp, err := o.callModel(ctx)
		if err != nil {
			return "", err
		}

		text := resp.Text()
		calls := normalizeToolCalls(resp.ToolCalls())
		o.conversation.Append(llms.MessageFromToolCalls(llms.RoleAI, text, calls...))

		if len(calls) == 0 {
			o.state = StateDone
			logger.ContextKV(ctx, xlog.DEBUG,
				"orchestrator", o.Name(),
				"status", "done",
				"run_id", chatmodel.GetRunID(ctx),
				"rounds", rounds,
				"turns", o.conversation.Len(),
				"answer", slices.StringUpto(text, 64),
			)
			return text, nil
		}

		o.state = StateAwaitingTools
		if o.cfg.MaxRounds >= 0 && rounds >= o.cfg.MaxRounds {
			metricskey.StatsToolRoundsExceeded.IncrCounter(1, o.Name())
			reason := fmt.Sprintf("tool call skipped: maximum tool rounds (%d) reached", o.cfg.MaxRounds)
			for _, call := range calls {
				o.appendToolResult(call, reason, true)
			}
			o.state = StateDone
			return "", errors.Wrapf(ErrMaxRoundsExceeded, "%s: %d rounds", o.Name(), o.cfg.MaxRounds)
		}

		rounds++
		for _, call := range calls {
			out, err := o.executeToolCall(ctx, call)
			if err != nil {
				o.appendToolResult(call, err.Error(), true)
				continue
			}
			o.appendToolResult(call, out, false)
		}
		o.state = StateAwaitingModel
	}
}

func (o *Orchestrator) callModel(ctx context.Context) (*llms.ContentResponse, error) {
	name := o.Name()
	modelName := o.model.GetName()
	messages := o.conversation.Messages()

	callOpts := o.cfg.GetCallOptions()
	if o.registry.Len() > 0 {
		callOpts = append(callOpts, llms.WithTools(o.registry.Definitions()))
	}

	if o.cfg.Callback != nil {
		o.cfg.Callback.OnModelCallStart(ctx, o, messages)
	}

	bytesSent := llmutils.CountMessagesContentSize(messages)
	metricskey.StatsLLMMessagesSent.IncrCounter(float64(len(messages)), name, modelName)
	metricskey.StatsLLMBytesSent.IncrCounter(float64(bytesSent), name, modelName)

	started := time.Now()
	resp, err := o.model.GenerateContent(ctx, messages, callOpts...)
	metricskey.PerfModelCall.MeasureSince(started, name, modelName)
	if err == nil && resp == nil {
		err = llms.ErrEmptyResponse
	}
	if err != nil {
		be := llms.NewBackendError(o.model.GetProviderType(), 0, err)
		metricskey.StatsLLMCallsFailed.IncrCounter(1, name, modelName, be.Kind.String())
		logger.ContextKV(ctx, xlog.WARNING,
			"orchestrator", name,
			"model", modelName,
			"status", "model_call_failed",
			"kind", be.Kind.String(),
			"err", err.Error(),
		)
		return nil, errors.WithMessagef(be, "%s: model call failed", name)
	}

	if o.cfg.Callback != nil {
		o.cfg.Callback.OnModelCallEnd(ctx, o, resp)
	}

	metricskey.StatsLLMBytesReceived.IncrCounter(float64(llmutils.CountResponseContentSize(resp)), name, modelName)
	tokensIn, tokensOut := llmutils.CountTokens(resp)
	metricskey.StatsLLMInputTokens.IncrCounter(float64(tokensIn), name, modelName)
	metricskey.StatsLLMOutputTokens.IncrCounter(float64(tokensOut), name, modelName)

	return resp, nil
}

// executeToolCall returns the tool output, or the error to report to the model.
func (o *Orchestrator) executeToolCall(ctx context.Context, call llms.ToolCall) (string, error) {
	name := call.Name()
	if name == "" {
		return "", errors.Newf("malformed tool call %q: missing tool name", call.ID)
	}

	tool, err := o.registry.Lookup(name)
	if err != nil {
		metricskey.StatsToolCallsNotFound.IncrCounter(1, name)
		if o.cfg.Callback != nil {
			o.cfg.Callback.OnToolNotFound(ctx, o, call)
		}

		available := values.StringsCoalesce(strings.Join(o.registry.Names(), ", "), "none")
		logger.ContextKV(ctx, xlog.WARNING,
			"orchestrator", o.Name(),
			"status", "tool_not_found",
			"tool", name,
			"tool_call_id", call.ID,
			"available_tools", available,
		)
		return "", errors.Mark(
			errors.Newf("tool %q not found. Available tools: %s", name, available),
			tools.ErrUnknownTool)
	}

	args, err := tools.ParseArguments(call.Arguments())
	if err == nil && o.cfg.ValidateArguments {
		err = tool.Validate(args)
	}
	if err != nil {
		metricskey.StatsToolCallsInvalidArgs.IncrCounter(1, name)
		terr := tools.NewToolExecutionError(name, call.ID, err)
		if o.cfg.Callback != nil {
			o.cfg.Callback.OnToolError(ctx, tool, call, terr)
		}
		logger.ContextKV(ctx, xlog.DEBUG,
			"orchestrator", o.Name(),
			"status", "invalid_arguments",
			"tool", name,
			"tool_call_id", call.ID,
			"args", slices.StringUpto(call.Arguments(), 128),
			"err", err.Error(),
		)
		return "", terr
	}

	if o.cfg.Callback != nil {
		o.cfg.Callback.OnToolStart(ctx, tool, call)
	}

	started := time.Now()
	res, err := tool.Call(ctx, args)
	metricskey.PerfToolCall.MeasureSince(started, name)

	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, name)
		terr := tools.NewToolExecutionError(name, call.ID, err)
		if o.cfg.Callback != nil {
			o.cfg.Callback.OnToolError(ctx, tool, call, terr)
		}
		logger.ContextKV(ctx, xlog.WARNING,
			"orchestrator", o.Name(),
			"status", "tool_call_failed",
			"tool", name,
			"tool_call_id", call.ID,
			"err", err.Error(),
		)
		return "", terr
	}

	out := llmutils.Stringify(res)
	metricskey.StatsToolCallsSucceeded.IncrCounter(1, name)
	if o.cfg.Callback != nil {
		o.cfg.Callback.OnToolEnd(ctx, tool, call, out)
	}
	return out, nil
}

func (o *Orchestrator) appendToolResult(call llms.ToolCall, content string, isError bool) {
	if isError {
		content = ErrorPrefix + content
	}
	o.conversation.Append(llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{
		ToolCallID: call.ID,
		Name:       call.Name(),
		Content:    content,
		IsError:    isError,
	}))
}

// normalizeToolCalls assigns IDs to calls the backend left without one,
// so every tool result can be correlated with its call.
func normalizeToolCalls(calls []llms.ToolCall) []llms.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	res := make([]llms.ToolCall, len(calls))
	for i, call := range calls {
		call = call.Clone()
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		call.Type = values.StringsCoalesce(call.Type, "function")
		if call.FunctionCall == nil {
			call.FunctionCall = &llms.FunctionCall{}
		}
		res[i] = call
	}
	return res
}
