package callbacks_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolharness/callbacks"
	"github.com/effective-security/toolharness/mocks/mockllms"
	"github.com/effective-security/toolharness/orchestrator"
	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/effective-security/toolharness/tools"
	"github.com/effective-security/xlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func toolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{
		ID:           id,
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
	}
}

// newOrchestrator returns an orchestrator with "echo" and "fail" tools,
// and a model that requests echo, fail and ghost, then answers "done".
func newOrchestrator(t *testing.T, cb orchestrator.Callback) *orchestrator.Orchestrator {
	ctrl := gomock.NewController(t)
	m := mockllms.NewMockModel(ctrl)
	m.EXPECT().GetName().Return("mock-model").AnyTimes()
	m.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()

	calls := 0
	m.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, _ []llms.Message, _ ...llms.CallOption) (*llms.ContentResponse, error) {
			calls++
			if calls == 1 {
				return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
					ToolCalls: []llms.ToolCall{
						toolCall("call_1", "echo", `{"text":"hi"}`),
						toolCall("call_2", "fail", `{}`),
						toolCall("call_3", "ghost", `{}`),
					},
					GenerationInfo: map[string]any{"InputTokens": 10, "OutputTokens": 5},
				}}}, nil
			}
			return &llms.ContentResponse{Choices: []*llms.ContentChoice{{
				Content:        "done",
				GenerationInfo: map[string]any{"InputTokens": 20, "OutputTokens": 2},
			}}}, nil
		}).Times(2)

	o, err := orchestrator.New(m, orchestrator.WithName("test-orchestrator"), orchestrator.WithCallback(cb))
	require.NoError(t, err)

	echo, err := tools.New("echo", "Returns the text", tools.InputSchema{}, func(_ context.Context, args tools.Arguments) (any, error) {
		return args["text"], nil
	})
	require.NoError(t, err)
	fail, err := tools.New("fail", "Always fails", tools.InputSchema{}, func(context.Context, tools.Arguments) (any, error) {
		return nil, errors.New("test error")
	})
	require.NoError(t, err)
	require.NoError(t, o.RegisterTool(echo))
	require.NoError(t, o.RegisterTool(fail))
	return o
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	o := newOrchestrator(t, callbacks.NewPrinter(&buf, callbacks.ModeVerbose))

	answer, err := o.ProcessMessage(context.Background(), "test input")
	require.NoError(t, err)
	assert.Equal(t, "done", answer)

	res := buf.String()
	assert.Contains(t, res, "Message Start: test-orchestrator")
	assert.Contains(t, res, "Input: test input")
	assert.Contains(t, res, "Model Call: test-orchestrator: mock-model model, 1 messages")
	assert.Contains(t, res, "Model Call End: test-orchestrator: mock-model model, 1 choices, 3 tool calls")
	assert.Contains(t, res, "Tool Start: echo (call_1)")
	assert.Contains(t, res, `Input: {"text":"hi"}`)
	assert.Contains(t, res, "Tool End: echo (call_1)")
	assert.Contains(t, res, "Output: hi")
	assert.Contains(t, res, `Tool Error: fail (call_2): tool "fail" failed: test error`)
	assert.Contains(t, res, "Tool Not Found: ghost (call_3)")
	assert.Contains(t, res, "Message End: test-orchestrator\ndone\n")
}

func TestPrinter_Error(t *testing.T) {
	ctrl := gomock.NewController(t)
	m := mockllms.NewMockModel(ctrl)
	m.EXPECT().GetName().Return("mock-model").AnyTimes()
	m.EXPECT().GetProviderType().Return(llms.ProviderOpenAI).AnyTimes()
	m.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil, errors.New("boom"))

	var buf bytes.Buffer
	o, err := orchestrator.New(m, orchestrator.WithCallback(callbacks.NewPrinter(&buf, callbacks.ModeDefault)))
	require.NoError(t, err)

	_, err = o.ProcessMessage(context.Background(), "test input")
	require.Error(t, err)
	assert.Contains(t, buf.String(), "Message Error: orchestrator: orchestrator: model call failed: OPENAI backend terminal error: boom")
}

func TestFanout(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	fanout := callbacks.NewFanout(callbacks.NewPrinter(&buf1, callbacks.ModeDefault), callbacks.NewNoop())
	fanout.Add(callbacks.NewPrinter(&buf2, callbacks.ModeDefault))
	fanout.Add(callbacks.NewPackageLogger(xlog.NewPackageLogger("github.com/effective-security/toolharness", "callbacks_test")))

	o := newOrchestrator(t, fanout)
	_, err := o.ProcessMessage(context.Background(), "test input")
	require.NoError(t, err)

	assert.NotEmpty(t, buf1.String())
	assert.Equal(t, buf1.String(), buf2.String())
	// default mode does not print outputs
	assert.NotContains(t, buf1.String(), "Output: hi")
}
