package metricskey

import "github.com/effective-security/metrics"

// Stats
var (
	// StatsLLMMessagesSent is base for counter metric for total messages sent to LLM
	StatsLLMMessagesSent = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_messages_sent",
		Help:         "stats_llm_messages_sent provides total messages sent to LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMBytesSent = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_bytes_sent",
		Help:         "stats_llm_bytes_sent provides total bytes sent to LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMBytesReceived = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_bytes_received",
		Help:         "stats_llm_bytes_received provides total bytes received from LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMInputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_input_tokens",
		Help:         "stats_llm_input_tokens provides total input tokens sent to LLM",
		RequiredTags: []string{"agent", "model"},
	}

	StatsLLMOutputTokens = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_output_tokens",
		Help:         "stats_llm_output_tokens provides total output tokens received from LLM",
		RequiredTags: []string{"agent", "model"},
	}

	// StatsLLMCallsFailed is tagged with the error kind: transient or terminal
	StatsLLMCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_llm_calls_failed",
		Help:         "stats_llm_calls_failed provides total failed calls to LLM",
		RequiredTags: []string{"agent", "model", "kind"},
	}

	StatsMessagesSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_messages_succeeded",
		Help:         "stats_messages_succeeded provides total user messages processed to a final answer",
		RequiredTags: []string{"agent"},
	}

	StatsMessagesFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_messages_failed",
		Help:         "stats_messages_failed provides total user messages failed to process",
		RequiredTags: []string{"agent"},
	}

	StatsToolRoundsExceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_rounds_exceeded",
		Help:         "stats_tool_rounds_exceeded provides total messages stopped by the tool rounds limit",
		RequiredTags: []string{"agent"},
	}

	StatsToolCallsSucceeded = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_succeeded",
		Help:         "stats_tool_calls_succeeded provides total tool calls succeeded",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsFailed = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_failed",
		Help:         "stats_tool_calls_failed provides total tool calls failed",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsNotFound = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_not_found",
		Help:         "stats_tool_calls_not_found provides total tool calls not found",
		RequiredTags: []string{"tool"},
	}

	StatsToolCallsInvalidArgs = metrics.Describe{
		Type:         metrics.TypeCounter,
		Name:         "stats_tool_calls_invalid_args",
		Help:         "stats_tool_calls_invalid_args provides total tool calls with invalid arguments",
		RequiredTags: []string{"tool"},
	}
)

// Perf
var (
	PerfProcessMessage = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_process_message",
		Help:         "perf_process_message provides duration of processing a user message",
		RequiredTags: []string{"agent"},
	}

	PerfModelCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_model_call",
		Help:         "perf_model_call provides duration of a single model call",
		RequiredTags: []string{"agent", "model"},
	}

	PerfToolCall = metrics.Describe{
		Type:         metrics.TypeSample,
		Name:         "perf_tool_call",
		Help:         "perf_tool_call provides duration of tool call",
		RequiredTags: []string{"tool"},
	}
)

// Metrics returns slice of metrics from this repo
// keep sorted by name
var Metrics = []*metrics.Describe{
	&PerfModelCall,
	&PerfProcessMessage,
	&PerfToolCall,
	&StatsLLMBytesReceived,
	&StatsLLMBytesSent,
	&StatsLLMCallsFailed,
	&StatsLLMInputTokens,
	&StatsLLMMessagesSent,
	&StatsLLMOutputTokens,
	&StatsMessagesFailed,
	&StatsMessagesSucceeded,
	&StatsToolCallsFailed,
	&StatsToolCallsInvalidArgs,
	&StatsToolCallsNotFound,
	&StatsToolCallsSucceeded,
	&StatsToolRoundsExceeded,
}
