package tools_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolharness/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type weatherRequest struct {
	City  string `json:"city" jsonschema:"title=City,description=The city name"`
	Units string `json:"units,omitempty" jsonschema:"enum=metric,enum=imperial"`
}

func echoSchema() tools.InputSchema {
	return tools.InputSchema{
		Type: "object",
		Properties: map[string]any{
			"text": map[string]any{"type": "string"},
		},
		Required: []string{"text"},
	}
}

func echoFunc(_ context.Context, args tools.Arguments) (any, error) {
	return args["text"], nil
}

func TestNew(t *testing.T) {
	t.Parallel()

	tcases := []struct {
		name   string
		tool   string
		schema tools.InputSchema
		fn     tools.Func
		expErr string
	}{
		{name: "valid", tool: "echo", schema: echoSchema(), fn: echoFunc},
		{name: "default_type", tool: "echo", schema: tools.InputSchema{}, fn: echoFunc},
		{name: "empty_name", tool: "", schema: echoSchema(), fn: echoFunc, expErr: `invalid tool name ""`},
		{name: "bad_name", tool: "echo tool", schema: echoSchema(), fn: echoFunc, expErr: `invalid tool name "echo tool"`},
		{name: "no_fn", tool: "echo", schema: echoSchema(), expErr: `tool "echo": implementation is required`},
		{name: "not_object", tool: "echo", schema: tools.InputSchema{Type: "string"}, fn: echoFunc, expErr: `input schema must be an object`},
		{
			name:   "invalid_schema",
			tool:   "echo",
			schema: tools.InputSchema{Properties: map[string]any{"text": map[string]any{"type": 42}}},
			fn:     echoFunc,
			expErr: "invalid schema",
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			tool, err := tools.New(tc.tool, "Echoes the text", tc.schema, tc.fn)
			if tc.expErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.expErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.tool, tool.Name())
			assert.Equal(t, "Echoes the text", tool.Description())
		})
	}
}

func TestTool_Definition(t *testing.T) {
	t.Parallel()

	tool, err := tools.New("echo", "  Echoes the text\n", echoSchema(), echoFunc)
	require.NoError(t, err)

	def := tool.Definition()
	assert.Equal(t, "function", def.Type)
	require.NotNil(t, def.Function)
	assert.Equal(t, "echo", def.Function.Name)
	assert.Equal(t, "Echoes the text", def.Function.Description)
	assert.JSONEq(t, `{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`, string(def.Function.Parameters))

	// the schema can not be changed through the accessor
	js := tool.InputSchema()
	js[0] = 'X'
	assert.JSONEq(t, string(def.Function.Parameters), string(tool.InputSchema()))
}

func TestParseArguments(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "  ", "null", "{}"} {
		args, err := tools.ParseArguments(raw)
		require.NoError(t, err, raw)
		assert.Empty(t, args)
		assert.NotNil(t, args)
	}

	args, err := tools.ParseArguments(`{"text":"hi","n":2}`)
	require.NoError(t, err)
	assert.Equal(t, tools.Arguments{"text": "hi", "n": float64(2)}, args)

	for _, raw := range []string{"[1,2]", `"text"`, "{", "42"} {
		_, err = tools.ParseArguments(raw)
		require.Error(t, err, raw)
		assert.True(t, errors.Is(err, tools.ErrInvalidArguments), raw)
	}
}

func TestTool_Validate(t *testing.T) {
	t.Parallel()

	tool, err := tools.New("echo", "Echoes the text", echoSchema(), echoFunc)
	require.NoError(t, err)

	require.NoError(t, tool.Validate(tools.Arguments{"text": "hi"}))

	err = tool.Validate(tools.Arguments{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, tools.ErrInvalidArguments))
	assert.Contains(t, err.Error(), "invalid arguments")

	err = tool.Validate(tools.Arguments{"text": 42.0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, tools.ErrInvalidArguments))

	err = tool.Validate(nil)
	require.Error(t, err)
}

func TestTool_Call(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tool, err := tools.New("echo", "Echoes the text", echoSchema(), echoFunc)
	require.NoError(t, err)

	res, err := tool.Call(ctx, tools.Arguments{"text": "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hi", res)

	failing, err := tools.New("fail", "Always fails", tools.InputSchema{}, func(context.Context, tools.Arguments) (any, error) {
		return nil, errors.New("boom")
	})
	require.NoError(t, err)
	_, err = failing.Call(ctx, nil)
	assert.EqualError(t, err, "boom")

	panicking, err := tools.New("panic", "Always panics", tools.InputSchema{}, func(context.Context, tools.Arguments) (any, error) {
		panic("oops")
	})
	require.NoError(t, err)
	_, err = panicking.Call(ctx, nil)
	assert.EqualError(t, err, "panic: oops")
}

func TestNewTyped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	var got *weatherRequest
	tool, err := tools.NewTyped("weather", "Returns the weather", func(_ context.Context, in *weatherRequest) (any, error) {
		got = in
		return map[string]any{"city": in.City, "temp": 21}, nil
	})
	require.NoError(t, err)

	var sc map[string]any
	require.NoError(t, json.Unmarshal(tool.InputSchema(), &sc))
	assert.Equal(t, "object", sc["type"])
	assert.Equal(t, []any{"city"}, sc["required"])

	require.NoError(t, tool.Validate(tools.Arguments{"city": "Paris", "units": "metric"}))
	assert.Error(t, tool.Validate(tools.Arguments{"city": "Paris", "units": "kelvin"}))
	assert.Error(t, tool.Validate(tools.Arguments{"units": "metric"}))

	res, err := tool.Call(ctx, tools.Arguments{"city": "Paris"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Paris", got.City)
	assert.Equal(t, map[string]any{"city": "Paris", "temp": 21}, res)

	_, err = tool.Call(ctx, tools.Arguments{"city": 42})
	require.Error(t, err)
	assert.True(t, errors.Is(err, tools.ErrInvalidArguments))

	_, err = tools.NewTyped[string]("str", "not a struct", func(context.Context, *string) (any, error) { return nil, nil })
	assert.Error(t, err)

	_, err = tools.NewTyped[weatherRequest]("weather", "no fn", nil)
	assert.EqualError(t, err, `tool "weather": implementation is required`)
}

func TestToolExecutionError(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	err := tools.NewToolExecutionError("fail", "call_1", cause)
	assert.EqualError(t, err, `tool "fail" failed: boom`)
	assert.True(t, errors.Is(err, cause))

	var te *tools.ToolExecutionError
	wrapped := errors.WithMessage(err, "processing")
	require.True(t, errors.As(wrapped, &te))
	assert.Equal(t, "call_1", te.CallID)
}
