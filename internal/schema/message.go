package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one entry in the conversation history.
//
// Content holds the normalised block form. Text is only set for legacy
// messages whose content was a plain string; Blocks() folds it into a
// single text block so adapters never see the difference.
type Message struct {
	Role    Role
	Content []ContentBlock
	Text    string
}

func NewUserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{TextBlock(text)}}
}

func NewSystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: []ContentBlock{TextBlock(text)}}
}

func NewAssistantMessage(blocks ...ContentBlock) Message {
	return Message{Role: RoleAssistant, Content: blocks}
}

// Blocks returns the message content as blocks.
func (m Message) Blocks() []ContentBlock {
	if m.Content != nil {
		return m.Content
	}
	if m.Text == "" {
		return nil
	}
	return []ContentBlock{TextBlock(m.Text)}
}

// VisibleText is GetVisibleText over the normalised blocks.
func (m Message) VisibleText() string {
	return GetVisibleText(m.Blocks())
}

// Normalize converts a legacy string message into the block form.
func (m Message) Normalize() Message {
	if m.Content == nil && m.Text != "" {
		m.Content = []ContentBlock{TextBlock(m.Text)}
		m.Text = ""
	}
	return m
}

type wireMessage struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	var (
		content []byte
		err     error
	)
	if m.Content != nil {
		content, err = json.Marshal(m.Content)
	} else {
		content, err = json.Marshal(m.Text)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Role: m.Role, Content: content})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	m.Role = w.Role
	m.Content = nil
	m.Text = ""

	raw := bytes.TrimSpace(w.Content)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return nil
	case raw[0] == '"':
		return json.Unmarshal(raw, &m.Text)
	case IsContentBlockArray(raw):
		return json.Unmarshal(raw, &m.Content)
	default:
		return fmt.Errorf("message content is neither a string nor a content block array")
	}
}
