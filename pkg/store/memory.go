package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/srnnkls/lalia/pkg/messages"
)

// MemoryBackend implements Backend in process memory, for tests and
// ephemeral sessions.
type MemoryBackend struct {
	sessions map[string][]messages.Message
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{sessions: make(map[string][]messages.Message)}
}

// Append persists messages at the end of the session's sequence.
func (m *MemoryBackend) Append(_ context.Context, sessionID string, msgs ...messages.Message) error {
	for _, msg := range msgs {
		if msg.ID == "" {
			msg.ID = uuid.New().String()
		}
		m.sessions[sessionID] = append(m.sessions[sessionID], msg)
	}
	return nil
}

// Read returns all messages for the session in append order.
func (m *MemoryBackend) Read(_ context.Context, sessionID string) ([]messages.Message, error) {
	stored := m.sessions[sessionID]
	out := make([]messages.Message, len(stored))
	copy(out, stored)
	return out, nil
}

// Close is a no-op for the in-memory backend.
func (m *MemoryBackend) Close() error {
	return nil
}
