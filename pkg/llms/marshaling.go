package llms

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// MessageJSON is the JSON shape of a Message with a single text part.
type MessageJSON struct {
	Role Role   `json:"role"`
	Text string `json:"text,omitempty"`
}

// ContentPartJSON is the JSON shape of any content part, tagged by Type.
type ContentPartJSON struct {
	Type         string            `json:"type"`
	Text         string            `json:"text,omitempty"`
	ToolCall     *ToolCallJSON     `json:"tool_call,omitempty"`
	ToolResponse *ToolResponseJSON `json:"tool_response,omitempty"`
}

// ToolCallJSON is the JSON shape of a tool call.
type ToolCallJSON struct {
	ID           string        `json:"id"`
	Type         string        `json:"type"`
	FunctionCall *FunctionCall `json:"function"`
}

// ToolResponseJSON is the JSON shape of a tool response.
type ToolResponseJSON struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error,omitempty"`
}

type messageWithPartsJSON struct {
	Role  Role              `json:"role"`
	Parts []json.RawMessage `json:"parts"`
}

// MarshalJSON implements json.Marshaler for Message
func (m Message) MarshalJSON() ([]byte, error) {
	// single text part is flattened
	if len(m.Parts) == 1 {
		if tp, ok := m.Parts[0].(TextContent); ok {
			return json.Marshal(MessageJSON{
				Role: m.Role,
				Text: tp.Text,
			})
		}
	}

	res := messageWithPartsJSON{
		Role:  m.Role,
		Parts: make([]json.RawMessage, 0, len(m.Parts)),
	}
	for _, p := range m.Parts {
		js, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		res.Parts = append(res.Parts, js)
	}
	return json.Marshal(res)
}

// UnmarshalJSON implements json.Unmarshaler for Message
func (m *Message) UnmarshalJSON(data []byte) error {
	var msg struct {
		Role  Role              `json:"role"`
		Text  string            `json:"text"`
		Parts []ContentPartJSON `json:"parts"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return errors.WithStack(err)
	}

	m.Role = msg.Role
	m.Parts = nil
	if msg.Text != "" {
		m.Parts = []ContentPart{TextContent{Text: msg.Text}}
		return nil
	}

	for _, pj := range msg.Parts {
		part, err := unmarshalContentPart(pj)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func unmarshalContentPart(pj ContentPartJSON) (ContentPart, error) {
	switch pj.Type {
	case "text", "":
		return TextContent{Text: pj.Text}, nil
	case "tool_call":
		if pj.ToolCall == nil {
			return nil, errors.New("tool_call field is required for tool_call type")
		}
		return ToolCall{
			ID:           pj.ToolCall.ID,
			Type:         pj.ToolCall.Type,
			FunctionCall: pj.ToolCall.FunctionCall,
		}, nil
	case "tool_response":
		if pj.ToolResponse == nil {
			return nil, errors.New("tool_response field is required for tool_response type")
		}
		return ToolCallResponse{
			ToolCallID: pj.ToolResponse.ToolCallID,
			Name:       pj.ToolResponse.Name,
			Content:    pj.ToolResponse.Content,
			IsError:    pj.ToolResponse.IsError,
		}, nil
	default:
		return nil, errors.Newf("unknown content type: '%s'", pj.Type)
	}
}

// MarshalJSON implements json.Marshaler for TextContent
func (tc TextContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(ContentPartJSON{
		Type: "text",
		Text: tc.Text,
	})
}

// MarshalJSON implements json.Marshaler for ToolCall
func (tc ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(ContentPartJSON{
		Type: "tool_call",
		ToolCall: &ToolCallJSON{
			ID:           tc.ID,
			Type:         tc.Type,
			FunctionCall: tc.FunctionCall,
		},
	})
}

// UnmarshalJSON implements json.Unmarshaler for ToolCall
func (tc *ToolCall) UnmarshalJSON(data []byte) error {
	var pj ContentPartJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return errors.WithStack(err)
	}
	if pj.Type != "tool_call" || pj.ToolCall == nil {
		return errors.Newf("invalid type for ToolCall: %v", pj.Type)
	}
	tc.ID = pj.ToolCall.ID
	tc.Type = pj.ToolCall.Type
	tc.FunctionCall = pj.ToolCall.FunctionCall
	return nil
}

// MarshalJSON implements json.Marshaler for ToolCallResponse
func (tc ToolCallResponse) MarshalJSON() ([]byte, error) {
	return json.Marshal(ContentPartJSON{
		Type: "tool_response",
		ToolResponse: &ToolResponseJSON{
			ToolCallID: tc.ToolCallID,
			Name:       tc.Name,
			Content:    tc.Content,
			IsError:    tc.IsError,
		},
	})
}

// UnmarshalJSON implements json.Unmarshaler for ToolCallResponse
func (tc *ToolCallResponse) UnmarshalJSON(data []byte) error {
	var pj ContentPartJSON
	if err := json.Unmarshal(data, &pj); err != nil {
		return errors.WithStack(err)
	}
	if pj.Type != "tool_response" || pj.ToolResponse == nil {
		return errors.Newf("invalid type for ToolCallResponse: %v", pj.Type)
	}
	if pj.ToolResponse.ToolCallID == "" {
		return errors.New("missing tool_call_id field in ToolCallResponse")
	}
	tc.ToolCallID = pj.ToolResponse.ToolCallID
	tc.Name = pj.ToolResponse.Name
	tc.Content = pj.ToolResponse.Content
	tc.IsError = pj.ToolResponse.IsError
	return nil
}
