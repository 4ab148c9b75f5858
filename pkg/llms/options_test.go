package llms_test

import (
	"encoding/json"
	"testing"

	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/stretchr/testify/assert"
)

func TestOptions(t *testing.T) {
	tools := []llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:       "test",
				Parameters: json.RawMessage(`{"type":"object"}`),
			},
		},
	}
	meta := map[string]any{"test": "test"}
	stopWords := []string{"stop"}

	opts := llms.NewCallOptions(
		llms.WithModel("test"),
		llms.WithMaxTokens(100),
		llms.WithTemperature(0.5),
		llms.WithTopP(0.7),
		llms.WithStopWords(stopWords),
		llms.WithTools(tools),
		llms.WithToolChoice(llms.FunctionCallBehaviorAuto),
		llms.WithMetadata(meta),
	)

	assert.Equal(t, "test", opts.Model)
	assert.Equal(t, 100, opts.MaxTokens)
	assert.Equal(t, 0.5, opts.Temperature)
	assert.Equal(t, 0.7, opts.TopP)
	assert.Equal(t, stopWords, opts.StopWords)
	assert.Equal(t, tools, opts.Tools)
	assert.Equal(t, llms.FunctionCallBehaviorAuto, opts.ToolChoice)
	assert.Equal(t, meta, opts.Metadata)
}

func TestProviderCapabilities(t *testing.T) {
	assert.True(t, llms.ProviderAnthropic.Supports(llms.CapabilityFunctionCalling))
	assert.True(t, llms.ProviderOpenAI.Supports(llms.CapabilityMultiToolCalling))
	assert.False(t, llms.ProviderType("unknown").Supports(llms.CapabilityText))
}
