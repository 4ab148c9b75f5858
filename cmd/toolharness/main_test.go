package main

import (
	"bytes"
	"context"
	"runtime"
	"strings"
	"testing"

	"github.com/effective-security/toolharness/mocks/mockllms"
	"github.com/effective-security/toolharness/pkg/llmfactory"
	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recorded struct {
	provider *llmfactory.ProviderConfig
	model    string
	requests [][]llms.Message
	options  []*llms.CallOptions
}

// mockModel replaces the adapter constructor with a mock answering with responses in order.
func mockModel(t *testing.T, responses ...*llms.ContentResponse) *recorded {
	t.Helper()
	rec := &recorded{}
	ctrl := gomock.NewController(t)

	llmfactory.NewLLM = func(cfg *llmfactory.ProviderConfig, preferredModels ...string) (llms.Model, error) {
		rec.provider = cfg
		rec.model = cfg.FindModel(preferredModels...)

		m := mockllms.NewMockModel(ctrl)
		m.EXPECT().GetName().Return(rec.model).AnyTimes()
		m.EXPECT().GetProviderType().Return(cfg.ProviderType()).AnyTimes()
		m.EXPECT().GenerateContent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
			func(_ context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
				i := len(rec.requests)
				rec.requests = append(rec.requests, messages)
				rec.options = append(rec.options, llms.NewCallOptions(options...))
				return responses[i], nil
			}).Times(len(responses))
		return m, nil
	}
	t.Cleanup(func() {
		llmfactory.NewLLM = llmfactory.CreateLLM
	})
	return rec
}

func text(s string) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: s, StopReason: "end_turn"}},
	}
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(strings.NewReader(stdin), &out, &errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestAsk(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "fakekey")
	rec := mockModel(t, text("hello back"))

	out, _, err := run(t, "", "ask", "hello", "there")
	require.NoError(t, err)
	assert.Equal(t, "hello back\n", out)

	require.NotNil(t, rec.provider)
	assert.Equal(t, "ANTHROPIC", rec.provider.Type)
	assert.Equal(t, "fakekey", rec.provider.Token)
	assert.Equal(t, defaultAnthropicModel, rec.model)

	require.Len(t, rec.requests, 1)
	require.Len(t, rec.requests[0], 2)
	assert.Equal(t, llms.RoleSystem, rec.requests[0][0].Role)
	assert.Contains(t, rec.requests[0][0].GetContent(), "You are a helpful AI assistant running on "+runtime.GOOS)
	assert.Equal(t, llms.RoleHuman, rec.requests[0][1].Role)
	assert.Equal(t, "hello there", rec.requests[0][1].GetContent())
	assert.Empty(t, rec.options[0].Tools)
}

func TestAsk_Stdin(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "fakekey")
	rec := mockModel(t, text("42"))

	out, _, err := run(t, "what is the answer?\n", "ask", "--provider", "openai", "--max-tokens", "100")
	require.NoError(t, err)
	assert.Equal(t, "42\n", out)

	assert.Equal(t, "OPENAI", rec.provider.Type)
	assert.Equal(t, defaultOpenAIModel, rec.model)
	assert.Equal(t, "what is the answer?", rec.requests[0][1].GetContent())
	assert.Equal(t, 100, rec.options[0].MaxTokens)
}

func TestAsk_EmptyMessage(t *testing.T) {
	_, _, err := run(t, "  \n", "ask")
	assert.EqualError(t, err, "message is required")
}

func TestAsk_UnknownProvider(t *testing.T) {
	_, _, err := run(t, "", "ask", "--provider", "bedrock", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `provider "bedrock"`)
}

func TestAsk_SystemPrompt(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "fakekey")
	rec := mockModel(t, text("ok"))

	_, _, err := run(t, "", "ask", "--system", "You run on {{ .OS }}.", "--model", "claude-haiku-4-5", "hi")
	require.NoError(t, err)

	assert.Equal(t, "claude-haiku-4-5", rec.model)
	require.Len(t, rec.requests[0], 2)
	assert.Equal(t, llms.RoleSystem, rec.requests[0][0].Role)
	assert.Equal(t, "You run on "+runtime.GOOS+".", rec.requests[0][0].GetContent())
}

func TestAsk_BashAndDump(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "fakekey")
	rec := mockModel(t,
		&llms.ContentResponse{
			Choices: []*llms.ContentChoice{{
				StopReason: "tool_use",
				ToolCalls: []llms.ToolCall{{
					ID:           "call_1",
					Type:         "function",
					FunctionCall: &llms.FunctionCall{Name: "bash", Arguments: `{"command":"echo hi"}`},
				}},
			}},
		},
		text("it printed hi"),
	)

	out, _, err := run(t, "", "ask", "--bash", "--dump", "run echo hi")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "it printed hi\n"))
	assert.Contains(t, out, "role: human")
	assert.Contains(t, out, "text: run echo hi")
	assert.Contains(t, out, "tool_call_id: call_1")

	require.Len(t, rec.requests, 2)
	require.Len(t, rec.options[0].Tools, 1)
	assert.Equal(t, "bash", rec.options[0].Tools[0].Function.Name)

	second := rec.requests[1]
	require.Len(t, second, 4)
	resp, ok := second[3].ToolResponse()
	require.True(t, ok)
	assert.Equal(t, "call_1", resp.ToolCallID)
	assert.False(t, resp.IsError)
	assert.Contains(t, resp.Content, "STDOUT:\nhi")
	assert.Contains(t, resp.Content, "EXIT CODE: 0")
}

func TestAsk_Config(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "fakekey-anthropic")
	t.Setenv("OPENAI_API_KEY", "fakekey-openai")
	rec := mockModel(t, text("ok"))

	_, _, err := run(t, "", "ask", "--cfg", "../../pkg/llmfactory/testdata/llm.yaml", "--provider", "claude", "hi")
	require.NoError(t, err)
	assert.Equal(t, "claude", rec.provider.Name)
	assert.Equal(t, "claude-sonnet-4-5", rec.model)
	assert.Equal(t, 2048, rec.options[0].MaxTokens)
	require.Len(t, rec.requests[0], 2)
	assert.Equal(t, "You are a helpful assistant.", rec.requests[0][0].GetContent())

	rec = mockModel(t, text("ok"))
	_, _, err = run(t, "", "ask", "--cfg", "../../pkg/llmfactory/testdata/llm.yaml", "hi")
	require.NoError(t, err)
	assert.Equal(t, "openai", rec.provider.Name)
	assert.Equal(t, "gpt-4o", rec.model)

	rec = mockModel(t, text("ok"))
	_, _, err = run(t, "", "ask", "--cfg", "../../pkg/llmfactory/testdata/llm.yaml", "--provider", "anthropic", "hi")
	require.NoError(t, err)
	assert.Equal(t, "claude", rec.provider.Name)

	_, _, err = run(t, "", "ask", "--cfg", "../../pkg/llmfactory/testdata/llm.yaml", "--provider", "gemini", "hi")
	assert.EqualError(t, err, "provider not found: gemini")
}

func TestHandleLine(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "fakekey")
	mockModel(t, text("first"), text("second"))

	var out, errOut bytes.Buffer
	c := &cli{in: strings.NewReader(""), out: &out, err: &errOut}
	cmd := newRootCmd(c.in, c.out, c.err)
	o, err := c.newOrchestrator(cmd)
	require.NoError(t, err)
	ctx := c.chatContext(context.Background(), o)

	assert.True(t, c.handleLine(ctx, o, "   "))
	assert.True(t, c.handleLine(ctx, o, "one"))
	assert.True(t, c.handleLine(ctx, o, "two"))
	assert.False(t, c.handleLine(ctx, o, "exit"))
	assert.False(t, c.handleLine(ctx, o, " QUIT "))
	assert.Equal(t, "first\nsecond\n", out.String())
	// system, user, assistant, user, assistant
	assert.Equal(t, 5, o.Conversation().Len())

	require.NoError(t, c.endRun(ctx, o))
}
