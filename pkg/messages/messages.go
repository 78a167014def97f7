// Package messages provides chat message types and the transactional
// message buffer that backs a session's conversation state.
package messages

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleFunction  Role = "function"
)

// FunctionCall carries a model-requested function invocation. Arguments is
// the raw textual payload exactly as produced by the model; callers decode
// and validate it against the callback's declared schema.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tag is a key/value label attached to a message for provenance and error
// classification (e.g. {"error", "validation"} on corrective messages).
type Tag struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Message is a single chat turn. Content is a pointer so that an absent
// content (assistant turns that carry only a function call) is distinct
// from an empty string.
type Message struct {
	ID           string        `json:"id"`
	Role         Role          `json:"role"`
	Content      *string       `json:"content"`
	Name         string        `json:"name,omitempty"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
	Tags         []Tag         `json:"tags,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Text returns the message content, or "" if content is absent.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// HasTag reports whether the message carries the given tag.
func (m Message) HasTag(key, value string) bool {
	for _, t := range m.Tags {
		if t.Key == key && t.Value == value {
			return true
		}
	}
	return false
}

func newMessage(role Role, content *string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now(),
	}
}

// System creates a system message.
func System(content string) Message {
	return newMessage(RoleSystem, &content)
}

// User creates a user message.
func User(content string) Message {
	return newMessage(RoleUser, &content)
}

// Assistant creates an assistant message with plain content.
func Assistant(content string) Message {
	return newMessage(RoleAssistant, &content)
}

// AssistantCall creates an assistant message that carries only a function
// call and no content.
func AssistantCall(name, arguments string) Message {
	m := newMessage(RoleAssistant, nil)
	m.FunctionCall = &FunctionCall{Name: name, Arguments: arguments}
	return m
}

// Function creates a function result message. Name identifies the callback
// that produced the content.
func Function(name, content string) Message {
	m := newMessage(RoleFunction, &content)
	m.Name = name
	return m
}

// Tagged returns a copy of the message with the given tags appended.
func (m Message) Tagged(tags ...Tag) Message {
	m.Tags = append(append([]Tag(nil), m.Tags...), tags...)
	return m
}
