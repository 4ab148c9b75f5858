package anthropic_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/effective-security/toolharness/pkg/llms/anthropic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		opts        []anthropic.Option
		wantErr     bool
		errContains string
	}{
		{
			name:        "missing token",
			opts:        []anthropic.Option{anthropic.WithModel("claude-sonnet-4-5")},
			wantErr:     true,
			errContains: "missing the API token",
		},
		{
			name:        "missing model",
			opts:        []anthropic.Option{anthropic.WithToken("fake-token")},
			wantErr:     true,
			errContains: "model is required",
		},
		{
			name: "valid configuration",
			opts: []anthropic.Option{
				anthropic.WithToken("fake-token"),
				anthropic.WithModel("claude-sonnet-4-5"),
			},
		},
		{
			name: "with custom base URL",
			opts: []anthropic.Option{
				anthropic.WithToken("fake-token"),
				anthropic.WithModel("claude-sonnet-4-5"),
				anthropic.WithBaseURL("https://custom.anthropic.com"),
				anthropic.WithMaxRetries(0),
			},
		},
		{
			name: "with custom HTTP client",
			opts: []anthropic.Option{
				anthropic.WithToken("fake-token"),
				anthropic.WithModel("claude-sonnet-4-5"),
				anthropic.WithHTTPClient(&http.Client{}),
			},
		},
		{
			name: "with beta header",
			opts: []anthropic.Option{
				anthropic.WithToken("fake-token"),
				anthropic.WithModel("claude-sonnet-4-5"),
				anthropic.WithAnthropicBetaHeader("beta-feature-1"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			allm, err := anthropic.New(tt.opts...)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				assert.Nil(t, allm)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, allm.Client)
				assert.Equal(t, "claude-sonnet-4-5", allm.GetName())
				assert.Equal(t, llms.ProviderAnthropic, allm.GetProviderType())
			}
		})
	}
}

func TestProcessMessages(t *testing.T) {
	t.Parallel()

	messages := []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "You are a helpful assistant."),
		llms.MessageFromTextParts(llms.RoleHuman, "do two things"),
		llms.MessageFromToolCalls(llms.RoleAI, "",
			llms.ToolCall{ID: "a", Type: "function", FunctionCall: &llms.FunctionCall{Name: "A", Arguments: `{"x":1}`}},
			llms.ToolCall{ID: "b", Type: "function", FunctionCall: &llms.FunctionCall{Name: "B", Arguments: `not json`}},
		),
		llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "a", Name: "A", Content: "ok"}),
		llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "b", Name: "B", Content: "Error: boom", IsError: true}),
		llms.MessageFromTextParts(llms.RoleAI, ""),
		llms.MessageFromTextParts(llms.RoleHuman, "again"),
	}

	sdkMessages, system, err := anthropic.ProcessMessages(messages)
	require.NoError(t, err)
	assert.Equal(t, "You are a helpful assistant.", system)
	require.Len(t, sdkMessages, 3)

	assert.Equal(t, sdk.MessageParamRoleUser, sdkMessages[0].Role)
	require.Len(t, sdkMessages[0].Content, 1)
	require.NotNil(t, sdkMessages[0].Content[0].OfText)
	assert.Equal(t, "do two things", sdkMessages[0].Content[0].OfText.Text)

	assert.Equal(t, sdk.MessageParamRoleAssistant, sdkMessages[1].Role)
	require.Len(t, sdkMessages[1].Content, 2)
	require.NotNil(t, sdkMessages[1].Content[0].OfToolUse)
	assert.Equal(t, "a", sdkMessages[1].Content[0].OfToolUse.ID)
	assert.Equal(t, "B", sdkMessages[1].Content[1].OfToolUse.Name)

	// tool results and the following human turn are merged into one user message
	assert.Equal(t, sdk.MessageParamRoleUser, sdkMessages[2].Role)
	require.Len(t, sdkMessages[2].Content, 3)
	require.NotNil(t, sdkMessages[2].Content[0].OfToolResult)
	assert.Equal(t, "a", sdkMessages[2].Content[0].OfToolResult.ToolUseID)
	assert.Equal(t, "b", sdkMessages[2].Content[1].OfToolResult.ToolUseID)
	require.NotNil(t, sdkMessages[2].Content[2].OfText)
	assert.Equal(t, "again", sdkMessages[2].Content[2].OfText.Text)
}

func TestProcessMessages_EmptyToolResult(t *testing.T) {
	t.Parallel()

	sdkMessages, _, err := anthropic.ProcessMessages([]llms.Message{
		llms.MessageFromTextParts(llms.RoleHuman, "touch the file"),
		llms.MessageFromToolCalls(llms.RoleAI, "",
			llms.ToolCall{ID: "c1", Type: "function", FunctionCall: &llms.FunctionCall{Name: "touch", Arguments: `{}`}},
		),
		llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "c1", Name: "touch", Content: ""}),
	})
	require.NoError(t, err)
	require.Len(t, sdkMessages, 3)

	require.Len(t, sdkMessages[2].Content, 1)
	tr := sdkMessages[2].Content[0].OfToolResult
	require.NotNil(t, tr)
	assert.Equal(t, "c1", tr.ToolUseID)
	assert.Empty(t, tr.Content)

	js, err := json.Marshal(sdkMessages[2])
	require.NoError(t, err)
	assert.NotContains(t, string(js), `"text":""`)
	assert.Contains(t, string(js), `"tool_use_id":"c1"`)
}

func TestProcessMessages_Errors(t *testing.T) {
	t.Parallel()

	_, _, err := anthropic.ProcessMessages([]llms.Message{
		llms.MessageFromTextParts(llms.Role("generic"), "x"),
	})
	assert.ErrorIs(t, err, anthropic.ErrUnsupportedMessageType)

	_, _, err = anthropic.ProcessMessages([]llms.Message{
		llms.MessageFromTextParts(llms.RoleTool, "x"),
	})
	assert.ErrorIs(t, err, anthropic.ErrInvalidContentType)
}

func TestToTools(t *testing.T) {
	t.Parallel()

	res, err := anthropic.ToTools(nil)
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = anthropic.ToTools([]llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        "get_weather",
				Description: "Get current weather",
				Parameters:  json.RawMessage(`{"type":"object","properties":{"location":{"type":"string"}},"required":["location"]}`),
			},
		},
	})
	require.NoError(t, err)
	require.Len(t, res, 1)
	require.NotNil(t, res[0].OfTool)
	assert.Equal(t, "get_weather", res[0].OfTool.Name)
	assert.Equal(t, []string{"location"}, res[0].OfTool.InputSchema.Required)

	_, err = anthropic.ToTools([]llms.Tool{
		{Type: "function", Function: &llms.FunctionDefinition{Name: "bad", Parameters: json.RawMessage(`[]`)}},
	})
	assert.Error(t, err)
}

func TestToToolChoice(t *testing.T) {
	t.Parallel()

	tc, ok := anthropic.ToToolChoice(nil)
	assert.False(t, ok)
	assert.Nil(t, tc.OfAuto)

	tc, ok = anthropic.ToToolChoice(llms.FunctionCallBehaviorAuto)
	assert.True(t, ok)
	assert.NotNil(t, tc.OfAuto)

	tc, ok = anthropic.ToToolChoice("required")
	assert.True(t, ok)
	assert.NotNil(t, tc.OfAny)

	tc, ok = anthropic.ToToolChoice(llms.ToolChoice{Type: "function", Function: &llms.FunctionReference{Name: "echo"}})
	assert.True(t, ok)
	require.NotNil(t, tc.OfTool)
	assert.Equal(t, "echo", tc.OfTool.Name)
}

const toolUseResponse = `{
	"id": "msg_01",
	"type": "message",
	"role": "assistant",
	"model": "claude-sonnet-4-5",
	"content": [
		{"type": "text", "text": "Let me check."},
		{"type": "tool_use", "id": "toolu_01", "name": "echo", "input": {"s": "hello"}},
		{"type": "tool_use", "id": "toolu_02", "name": "ghost", "input": {}}
	],
	"stop_reason": "tool_use",
	"stop_sequence": null,
	"usage": {"input_tokens": 12, "output_tokens": 7}
}`

func TestGenerateContent(t *testing.T) {
	t.Parallel()

	var captured map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-token", r.Header.Get("X-Api-Key"))
		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(toolUseResponse))
	}))
	defer srv.Close()

	llm, err := anthropic.New(
		anthropic.WithToken("test-token"),
		anthropic.WithModel("claude-sonnet-4-5"),
		anthropic.WithBaseURL(srv.URL),
		anthropic.WithMaxRetries(0),
	)
	require.NoError(t, err)

	messages := []llms.Message{
		llms.MessageFromTextParts(llms.RoleSystem, "be brief"),
		llms.MessageFromTextParts(llms.RoleHuman, "echo hello"),
		llms.MessageFromToolCalls(llms.RoleAI, "",
			llms.ToolCall{ID: "toolu_00", Type: "function", FunctionCall: &llms.FunctionCall{Name: "echo", Arguments: `{"s":"x"}`}},
		),
		llms.MessageFromToolResponse(llms.RoleTool, llms.ToolCallResponse{ToolCallID: "toolu_00", Name: "echo", Content: "Error: boom", IsError: true}),
	}
	resp, err := llm.GenerateContent(context.Background(), messages,
		llms.WithMaxTokens(256),
		llms.WithMetadata(map[string]any{anthropic.MetadataUserID: "user-7", "ignored": 1}),
		llms.WithTools([]llms.Tool{
			{
				Type: "function",
				Function: &llms.FunctionDefinition{
					Name:        "echo",
					Description: "echo a string",
					Parameters:  json.RawMessage(`{"type":"object","properties":{"s":{"type":"string"}},"required":["s"]}`),
				},
			},
		}),
	)
	require.NoError(t, err)

	assert.Equal(t, "Let me check.", resp.Text())
	calls := resp.ToolCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "toolu_01", calls[0].ID)
	assert.Equal(t, "echo", calls[0].Name())
	assert.JSONEq(t, `{"s":"hello"}`, calls[0].Arguments())
	assert.Equal(t, "ghost", calls[1].Name())
	assert.JSONEq(t, `{}`, calls[1].Arguments())

	require.NotNil(t, captured)
	assert.Equal(t, "claude-sonnet-4-5", captured["model"])
	assert.EqualValues(t, 256, captured["max_tokens"])
	assert.Equal(t, map[string]any{"user_id": "user-7"}, captured["metadata"])

	system, ok := captured["system"].([]any)
	require.True(t, ok)
	require.Len(t, system, 1)
	assert.Equal(t, "be brief", system[0].(map[string]any)["text"])

	msgs, ok := captured["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 3)
	last := msgs[2].(map[string]any)
	assert.Equal(t, "user", last["role"])
	result := last["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "tool_result", result["type"])
	assert.Equal(t, "toolu_00", result["tool_use_id"])
	assert.Equal(t, true, result["is_error"])

	tools, ok := captured["tools"].([]any)
	require.True(t, ok)
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].(map[string]any)["name"])
}

func TestGenerateContent_BackendErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		transient bool
	}{
		{"bad_request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"rate_limited", http.StatusTooManyRequests, true},
		{"server_error", http.StatusInternalServerError, true},
		{"overloaded", 529, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"failed"}}`))
			}))
			defer srv.Close()

			llm, err := anthropic.New(
				anthropic.WithToken("test-token"),
				anthropic.WithModel("claude-sonnet-4-5"),
				anthropic.WithBaseURL(srv.URL),
				anthropic.WithMaxRetries(0),
			)
			require.NoError(t, err)

			_, err = llm.GenerateContent(context.Background(), []llms.Message{
				llms.MessageFromTextParts(llms.RoleHuman, "hi"),
			})
			require.Error(t, err)

			var be *llms.BackendError
			require.True(t, errors.As(err, &be))
			assert.Equal(t, llms.ProviderAnthropic, be.Provider)
			assert.Equal(t, tc.status, be.StatusCode)
			assert.Equal(t, tc.transient, llms.IsTransient(err))
		})
	}
}

func TestGenerateContent_InvalidMessages(t *testing.T) {
	t.Parallel()

	llm, err := anthropic.New(
		anthropic.WithToken("test-token"),
		anthropic.WithModel("claude-sonnet-4-5"),
		anthropic.WithBaseURL("http://127.0.0.1:1"),
		anthropic.WithMaxRetries(0),
	)
	require.NoError(t, err)

	_, err = llm.GenerateContent(context.Background(), []llms.Message{
		llms.MessageFromTextParts(llms.Role("generic"), "hi"),
	})
	require.Error(t, err)
	assert.False(t, llms.IsTransient(err))
	assert.ErrorIs(t, err, anthropic.ErrUnsupportedMessageType)
}
