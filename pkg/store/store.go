// Package store provides pluggable persistence for message buffers.
package store

import (
	"context"

	"github.com/srnnkls/lalia/pkg/messages"
)

// Backend is the minimal persistence contract: append messages for a
// session and read the full ordered sequence back.
type Backend interface {
	// Append persists messages at the end of the session's sequence.
	Append(ctx context.Context, sessionID string, msgs ...messages.Message) error

	// Read returns all messages for the session in append order.
	Read(ctx context.Context, sessionID string) ([]messages.Message, error)

	// Close releases backend resources.
	Close() error
}
