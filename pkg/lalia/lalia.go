// Package lalia provides a session-oriented wrapper around LLM chat APIs
// with transactional message buffering and lenient response parsing.
package lalia

import (
	"fmt"

	"github.com/srnnkls/lalia/pkg/dispatch"
	"github.com/srnnkls/lalia/pkg/llm"
	"github.com/srnnkls/lalia/pkg/parser"
	"github.com/srnnkls/lalia/pkg/schema"
	"github.com/srnnkls/lalia/pkg/session"
	"github.com/srnnkls/lalia/pkg/store"
)

// Config holds configuration for a lalia session.
type Config struct {
	// OpenAI API key
	OpenAIKey string

	// Chat model (default: "gpt-4o-mini")
	Model string

	// BaseURL overrides the OpenAI endpoint (for proxies and tests)
	BaseURL string

	// SystemPrompt seeds the session's committed baseline
	SystemPrompt string

	// MaxParseRetries bounds the parser's correction loop (default: 3)
	MaxParseRetries int

	// MaxDispatchDepth bounds chained function dispatches per call
	// (default: 10)
	MaxDispatchDepth int

	// Autocommit commits the buffer after every successful call
	// (default: true; set DisableAutocommit to turn off)
	DisableAutocommit bool

	// StorePath persists committed messages to a SQLite database when set.
	// ":memory:" keeps the store ephemeral.
	StorePath string

	// Callbacks the model may invoke
	Callbacks []*dispatch.Callback

	// ResponseSchema requests structured responses parsed against it
	ResponseSchema *schema.Schema
}

// Lalia is the main entry point: a configured session plus the resources
// it owns.
type Lalia struct {
	config  Config
	session *session.Session
	llm     llm.Client
	backend store.Backend
}

// New creates a session wired per the configuration.
func New(cfg Config) (*Lalia, error) {
	client := llm.NewOpenAIClient(cfg.OpenAIKey)
	if cfg.Model != "" {
		client.Model = cfg.Model
	}
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}

	p := parser.New(client)
	if cfg.MaxParseRetries > 0 {
		p.MaxRetries = cfg.MaxParseRetries
	}

	opts := []session.Option{
		session.WithParser(p),
		session.WithAutocommit(!cfg.DisableAutocommit),
	}
	if cfg.MaxDispatchDepth > 0 {
		opts = append(opts, session.WithMaxDispatchDepth(cfg.MaxDispatchDepth))
	}
	if len(cfg.Callbacks) > 0 {
		opts = append(opts, session.WithCallbacks(dispatch.NewRegistry(cfg.Callbacks...)))
	}
	if cfg.ResponseSchema != nil {
		opts = append(opts, session.WithResponseSchema(cfg.ResponseSchema))
	}

	var backend store.Backend
	if cfg.StorePath != "" {
		sqlite, err := store.NewSQLiteBackend(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		backend = sqlite
		opts = append(opts, session.WithBackend(backend))
	}

	return &Lalia{
		config:  cfg,
		session: session.New(client, cfg.SystemPrompt, opts...),
		llm:     client,
		backend: backend,
	}, nil
}

// Session returns the configured session.
func (l *Lalia) Session() *session.Session {
	return l.session
}

// LLM returns the configured completion client.
func (l *Lalia) LLM() llm.Client {
	return l.llm
}

// Close releases owned resources.
func (l *Lalia) Close() error {
	if l.backend != nil {
		return l.backend.Close()
	}
	return nil
}
