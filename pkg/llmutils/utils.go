package llmutils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/effective-security/toolharness/pkg/llms"
	"gopkg.in/yaml.v3"
)

func JSONIndent(body string) string {
	var buf bytes.Buffer
	_ = json.Indent(&buf, []byte(body), "", "\t")
	return buf.String()
}

func ToJSON(val any) string {
	js, _ := json.Marshal(val)
	return string(js)
}

func ToJSONIndent(val any) string {
	js, _ := json.MarshalIndent(val, "", "\t")
	return string(js)
}

func ToYAML(val any) string {
	js, _ := yaml.Marshal(val)
	return string(js)
}

// JSONToYAML converts the JSON representation of val to block style YAML,
// keeping the JSON field order and any custom json.Marshaler output.
func JSONToYAML(val any) (string, error) {
	js, err := json.Marshal(val)
	if err != nil {
		return "", err
	}
	var node yaml.Node
	if err = yaml.Unmarshal(js, &node); err != nil {
		return "", err
	}
	resetStyle(&node)
	out, err := yaml.Marshal(&node)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func resetStyle(n *yaml.Node) {
	if n.Kind == yaml.ScalarNode {
		if n.Tag == "!!str" && strings.Contains(n.Value, "\n") {
			n.Style = yaml.LiteralStyle
		} else {
			n.Style = 0
		}
	} else {
		n.Style = 0
	}
	for _, c := range n.Content {
		resetStyle(c)
	}
}

// Stringify converts a tool output to text:
// string and []byte as-is, fmt.Stringer via String(), anything else as JSON.
func Stringify(s any) string {
	switch v := s.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case json.RawMessage:
		return string(v)
	case fmt.Stringer:
		return v.String()
	}
	js, err := json.Marshal(s)
	if err != nil {
		return fmt.Sprintf("%v", s)
	}
	return string(js)
}

// PrintMessages is a debugging helper for conversation turns.
func PrintMessages(w io.Writer, msgs []llms.Message) {
	for _, mc := range msgs {
		fmt.Fprintf(w, "%s: ", strings.ToUpper(string(mc.Role)))
		for i, p := range mc.Parts {
			if i > 0 {
				fmt.Fprint(w, "  ")
			}
			switch pp := p.(type) {
			case llms.TextContent:
				fmt.Fprintln(w, pp.Text)
			case llms.ToolCall:
				fmt.Fprintf(w, "ToolCall ID=%s, Func=%s(%s)\n", pp.ID, pp.Name(), pp.Arguments())
			case llms.ToolCallResponse:
				fmt.Fprintf(w, "ToolCallResponse ID=%s, Name=%s, IsError=%t, Content=%s\n", pp.ToolCallID, pp.Name, pp.IsError, pp.Content)
			}
		}
		if len(mc.Parts) == 0 {
			fmt.Fprintln(w)
		}
	}
}

// CountMessagesContentSize counts the size of the content in the messages
func CountMessagesContentSize(msgs []llms.Message) uint64 {
	var size uint64
	for _, mc := range msgs {
		size += uint64(len(mc.Role))
		for _, p := range mc.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				size += uint64(len(pp.Text))
			case llms.ToolCall:
				size += uint64(len(pp.ID))
				size += uint64(len(pp.Type))
				if pp.FunctionCall != nil {
					size += uint64(len(pp.FunctionCall.Name))
					size += uint64(len(pp.FunctionCall.Arguments))
				}
			case llms.ToolCallResponse:
				size += uint64(len(pp.ToolCallID))
				size += uint64(len(pp.Name))
				size += uint64(len(pp.Content))
			}
		}
	}
	return size
}

// CountResponseContentSize counts the size of the content in the content response
func CountResponseContentSize(resp *llms.ContentResponse) uint64 {
	if resp == nil {
		return 0
	}
	var size uint64
	for _, choice := range resp.Choices {
		if choice == nil {
			continue
		}
		size += uint64(len(choice.Content))
		for _, tc := range choice.ToolCalls {
			size += uint64(len(tc.ID))
			size += uint64(len(tc.Name()))
			size += uint64(len(tc.Arguments()))
		}
	}
	return size
}

// CountTokens returns the input and output token usage reported by the backend.
func CountTokens(resp *llms.ContentResponse) (input, output uint64) {
	if resp == nil {
		return 0, 0
	}
	// usage is repeated on every choice of the same response
	for _, choice := range resp.Choices {
		if choice == nil || choice.GenerationInfo == nil {
			continue
		}
		in := toUint64(choice.GenerationInfo["InputTokens"]) + toUint64(choice.GenerationInfo["PromptTokens"])
		out := toUint64(choice.GenerationInfo["OutputTokens"]) + toUint64(choice.GenerationInfo["CompletionTokens"])
		if in > 0 || out > 0 {
			return in, out
		}
	}
	return 0, 0
}

func toUint64(v any) uint64 {
	switch n := v.(type) {
	case int:
		return uint64(max(n, 0))
	case int64:
		return uint64(max(n, 0))
	case uint64:
		return n
	case float64:
		return uint64(max(n, 0))
	}
	return 0
}

// EnsureEndsWithNewline ensures the message ends with a newline,
// it also removes any extra leading and trailing spaces.
func EnsureEndsWithNewline(s string) string {
	s = strings.TrimSpace(s)
	c := len(s)
	if c == 0 {
		return s
	}
	if s[c-1] != '\n' {
		return s + "\n"
	}
	return s
}
