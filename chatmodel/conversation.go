package chatmodel

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/toolharness/pkg/llms"
	"github.com/effective-security/x/values"
)

// Conversation is the ordered, append-only history of turns exchanged with a model.
// It is not safe for concurrent use.
type Conversation struct {
	id       string
	messages []llms.Message
}

// NewConversation returns an empty conversation,
// a new ID is generated if id is empty.
func NewConversation(id string) *Conversation {
	return &Conversation{
		id: values.StringsCoalesce(id, NewChatID()),
	}
}

// ID returns the conversation ID.
func (c *Conversation) ID() string {
	return c.id
}

// Append adds the turns to the end of the conversation.
// The turns are copied, later changes by the caller do not affect the history.
func (c *Conversation) Append(msgs ...llms.Message) {
	for _, m := range msgs {
		c.messages = append(c.messages, m.Clone())
	}
}

// Len returns the number of turns.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Messages returns a deep copy of the turns.
func (c *Conversation) Messages() []llms.Message {
	res := make([]llms.Message, len(c.messages))
	for i, m := range c.messages {
		res[i] = m.Clone()
	}
	return res
}

// Last returns a copy of the last turn.
func (c *Conversation) Last() (llms.Message, bool) {
	if len(c.messages) == 0 {
		return llms.Message{}, false
	}
	return c.messages[len(c.messages)-1].Clone(), true
}

type conversationJSON struct {
	ID       string         `json:"id"`
	Messages []llms.Message `json:"messages"`
}

// MarshalJSON implements json.Marshaler
func (c *Conversation) MarshalJSON() ([]byte, error) {
	v := conversationJSON{
		ID:       c.id,
		Messages: c.messages,
	}
	if v.Messages == nil {
		v.Messages = []llms.Message{}
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler
func (c *Conversation) UnmarshalJSON(data []byte) error {
	var v conversationJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.WithStack(err)
	}
	c.id = values.StringsCoalesce(v.ID, NewChatID())
	c.messages = v.Messages
	return nil
}
