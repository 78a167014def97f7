// Package session binds a message buffer, a completion client, a parser,
// and a dispatcher behind a single call/response interface with
// transactional semantics.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/srnnkls/lalia/pkg/dispatch"
	"github.com/srnnkls/lalia/pkg/llm"
	"github.com/srnnkls/lalia/pkg/messages"
	"github.com/srnnkls/lalia/pkg/metrics"
	"github.com/srnnkls/lalia/pkg/parser"
	"github.com/srnnkls/lalia/pkg/schema"
	"github.com/srnnkls/lalia/pkg/store"
	"github.com/srnnkls/lalia/pkg/trace"
)

const defaultMaxDispatchDepth = 10

// DepthExceededError is returned when a call chains more dispatches than
// the configured maximum. Already-executed callbacks remain recorded in the
// buffer; no other side effects occur.
type DepthExceededError struct {
	Depth int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("dispatch depth exceeded after %d dispatches", e.Depth)
}

// Session orchestrates one conversation. Sessions are synchronous and
// single-threaded: each serializes its own model invocations and its
// buffer must not be mutated concurrently.
type Session struct {
	id         string
	llm        llm.Client
	buffer     *messages.MessageBuffer
	dispatcher dispatch.Dispatcher
	parser     *parser.Parser
	callbacks  *dispatch.Registry
	backend    store.Backend
	collector  metrics.Collector
	tracer     trace.Exporter

	autocommit       bool
	maxDispatchDepth int
	responseSchema   *schema.Schema
	completeOpts     llm.CompleteOptions

	lastCompletion *llm.CompletionResponse
	lastPersisted  string
}

// Option configures a Session.
type Option func(*Session)

// WithAutocommit controls whether every successful call commits the buffer
// (default true). With autocommit off, callers commit explicitly and can
// discard exploratory turns via Rollback.
func WithAutocommit(on bool) Option {
	return func(s *Session) { s.autocommit = on }
}

// WithMaxDispatchDepth bounds chained function dispatches per call.
func WithMaxDispatchDepth(depth int) Option {
	return func(s *Session) { s.maxDispatchDepth = depth }
}

// WithCallbacks sets the callback registry offered to the model.
func WithCallbacks(registry *dispatch.Registry) Option {
	return func(s *Session) { s.callbacks = registry }
}

// WithResponseSchema requests structured responses: terminal assistant
// messages are parsed (and repaired) against the schema.
func WithResponseSchema(target *schema.Schema) Option {
	return func(s *Session) { s.responseSchema = target }
}

// WithBackend persists committed messages to the given store.
func WithBackend(backend store.Backend) Option {
	return func(s *Session) { s.backend = backend }
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector metrics.Collector) Option {
	return func(s *Session) { s.collector = collector }
}

// WithTracer sets the trace exporter.
func WithTracer(tracer trace.Exporter) Option {
	return func(s *Session) { s.tracer = tracer }
}

// WithCompleteOptions sets base per-request completion options (model,
// temperature, timeout).
func WithCompleteOptions(opts llm.CompleteOptions) Option {
	return func(s *Session) { s.completeOpts = opts }
}

// WithDispatcher replaces the default functions dispatcher.
func WithDispatcher(d dispatch.Dispatcher) Option {
	return func(s *Session) { s.dispatcher = d }
}

// WithParser replaces the default parser.
func WithParser(p *parser.Parser) Option {
	return func(s *Session) { s.parser = p }
}

// WithID fixes the session ID, e.g. to resume a persisted session.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// New creates a session. A non-empty systemPrompt seeds the buffer with a
// committed system message.
func New(client llm.Client, systemPrompt string, opts ...Option) *Session {
	s := &Session{
		id:               uuid.New().String(),
		llm:              client,
		dispatcher:       dispatch.NewFunctionsDispatcher(),
		callbacks:        dispatch.NewRegistry(),
		collector:        metrics.NewNoopCollector(),
		tracer:           &trace.NoopExporter{},
		autocommit:       true,
		maxDispatchDepth: defaultMaxDispatchDepth,
	}
	if systemPrompt != "" {
		s.buffer = messages.NewMessageBuffer(messages.System(systemPrompt))
	} else {
		s.buffer = messages.NewMessageBuffer()
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.parser == nil {
		s.parser = parser.New(client)
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Buffer returns the session's message buffer.
func (s *Session) Buffer() *messages.MessageBuffer {
	return s.buffer
}

// Callbacks returns the session's callback registry.
func (s *Session) Callbacks() *dispatch.Registry {
	return s.callbacks
}

// ArgumentParser returns the parser used for structured responses and
// callback arguments.
func (s *Session) ArgumentParser() *parser.Parser {
	return s.parser
}

// LastCompletion returns the completion from the most recent model
// invocation, or nil before the first call.
func (s *Session) LastCompletion() *llm.CompletionResponse {
	return s.lastCompletion
}

// Call appends the input message (if non-nil), completes against the full
// message history, dispatches and executes function calls up to the
// configured depth, parses structured responses, and returns the final
// assistant message. On any terminal error the buffer keeps its last
// well-defined state for inspection or rollback.
func (s *Session) Call(ctx context.Context, input *messages.Message) (*messages.Message, error) {
	start := time.Now()
	var spans []trace.SpanRecord

	final, err := s.call(ctx, input, &spans)

	status := "success"
	errType := ""
	if err != nil {
		status = "error"
		errType = errorType(err)
		s.collector.RecordError(ctx, "call", errType)
	}
	s.collector.RecordOperation(ctx, "call", status, time.Since(start).Milliseconds())
	s.collector.SetBufferSize(ctx, "working", int64(s.buffer.Len()))
	s.collector.SetBufferSize(ctx, "committed", int64(len(s.buffer.Committed())))

	s.tracer.Export(ctx, &trace.TraceRecord{
		Timestamp:   start,
		OperationID: uuid.New().String(),
		Operation:   "call",
		SessionID:   s.id,
		DurationMs:  time.Since(start).Milliseconds(),
		Status:      status,
		Spans:       spans,
		ErrorType:   errType,
	})

	return final, err
}

func (s *Session) call(ctx context.Context, input *messages.Message, spans *[]trace.SpanRecord) (*messages.Message, error) {
	if input != nil {
		s.buffer.Add(*input)
	}

	dispatches := 0
	for {
		choice, err := s.complete(ctx, spans)
		if err != nil {
			return nil, err
		}

		if choice.FinishReason == llm.FinishReasonFunctionCall && choice.Message.FunctionCall != nil {
			if dispatches >= s.maxDispatchDepth {
				return nil, &DepthExceededError{Depth: dispatches}
			}
			if err := s.dispatchAndExecute(ctx, choice, spans); err != nil {
				return nil, err
			}
			dispatches++
			continue
		}

		final := choice.Message
		if s.responseSchema != nil && final.Content != nil {
			parsed, err := s.parseResponse(ctx, final, spans)
			if err != nil {
				return nil, err
			}
			final = parsed
		}

		s.buffer.Add(final)
		if s.autocommit {
			if err := s.Commit(ctx); err != nil {
				return nil, err
			}
		}
		return &final, nil
	}
}

func (s *Session) complete(ctx context.Context, spans *[]trace.SpanRecord) (llm.Choice, error) {
	opts := s.completeOpts
	if s.callbacks.Len() > 0 {
		opts.Functions = s.callbacks.Defs()
	}

	stageStart := time.Now()
	completion, err := s.llm.Complete(ctx, s.buffer.Working(), &opts)
	s.recordStage(ctx, spans, "complete", stageStart, err, nil)
	if err != nil {
		return llm.Choice{}, err
	}
	s.lastCompletion = completion

	choice, ok := completion.First()
	if !ok {
		return llm.Choice{}, fmt.Errorf("completion returned no choices")
	}
	return choice, nil
}

// dispatchAndExecute resolves the function call, runs the callback, and
// feeds its result back into the buffer as a function message. Callback
// failures become tagged system messages the model can react to, mirroring
// how a human operator would report them.
func (s *Session) dispatchAndExecute(ctx context.Context, choice llm.Choice, spans *[]trace.SpanRecord) error {
	stageStart := time.Now()
	call, err := s.dispatcher.Dispatch(ctx, s)
	s.recordStage(ctx, spans, "dispatch", stageStart, err, nil)
	if err != nil {
		return err
	}
	if call == nil {
		return fmt.Errorf("dispatcher declined function call %q", choice.Message.FunctionCall.Name)
	}

	s.buffer.Add(choice.Message)
	s.buffer.AddAll(call.Aux...)

	stageStart = time.Now()
	result, execErr := call.Callback.Fn(ctx, call.Params)
	s.recordStage(ctx, spans, "execute", stageStart, execErr, nil)
	if execErr != nil {
		s.buffer.Add(messages.System(fmt.Sprintf("Error: %s", execErr)).Tagged(
			messages.Tag{Key: "error", Value: "function_execution"},
			messages.Tag{Key: "function", Value: call.Callback.Name},
		))
		return nil
	}

	s.buffer.Add(messages.Function(call.Callback.Name, result).Tagged(
		messages.Tag{Key: "function", Value: call.Callback.Name},
	))
	return nil
}

// parseResponse validates the assistant message against the response
// schema, repairing it through the parser. Corrective messages join the
// buffer so the permanent record shows every attempt.
func (s *Session) parseResponse(ctx context.Context, final messages.Message, spans *[]trace.SpanRecord) (messages.Message, error) {
	stageStart := time.Now()
	fields, aux, err := s.parser.Parse(ctx, final.Text(), s.responseSchema, s.buffer.Working())
	s.recordStage(ctx, spans, "parse", stageStart, err, map[string]int64{"attempts": int64(len(aux))})

	s.buffer.AddAll(aux...)
	if err != nil {
		return messages.Message{}, err
	}

	canonical, marshalErr := json.Marshal(fields)
	if marshalErr != nil {
		return messages.Message{}, fmt.Errorf("marshal parsed response: %w", marshalErr)
	}
	content := string(canonical)
	final.Content = &content
	return final, nil
}

// Commit promotes the working state to the committed baseline and persists
// newly committed messages to the configured backend.
func (s *Session) Commit(ctx context.Context) error {
	s.buffer.Commit()
	if s.backend == nil {
		return nil
	}

	committed := s.buffer.Committed()
	if len(committed) == 0 {
		s.lastPersisted = ""
		return nil
	}

	// Clear can rebuild the committed snapshot from scratch, so the resume
	// point is found by message identity, not by assuming append-only
	// growth.
	start := 0
	if s.lastPersisted != "" {
		for i := len(committed) - 1; i >= 0; i-- {
			if committed[i].ID == s.lastPersisted {
				start = i + 1
				break
			}
		}
	}
	if start == len(committed) {
		return nil
	}
	if err := s.backend.Append(ctx, s.id, committed[start:]...); err != nil {
		return fmt.Errorf("persist committed messages: %w", err)
	}
	s.lastPersisted = committed[len(committed)-1].ID
	return nil
}

// Rollback discards all uncommitted additions, restoring the working state
// to the last committed snapshot.
func (s *Session) Rollback() {
	s.buffer.Rollback()
}

// Revert discards uncommitted changes; equivalent to Rollback.
func (s *Session) Revert() {
	s.buffer.Revert()
}

// Clear empties the working state only.
func (s *Session) Clear() {
	s.buffer.Clear()
}

// Reset empties both buffer snapshots and clears the dispatcher's
// resolution cache.
func (s *Session) Reset() {
	s.buffer.Reset()
	s.dispatcher.Reset()
	s.lastCompletion = nil
	s.lastPersisted = ""
}

func (s *Session) recordStage(ctx context.Context, spans *[]trace.SpanRecord, name string, start time.Time, err error, counters map[string]int64) {
	duration := time.Since(start).Milliseconds()
	s.collector.RecordStage(ctx, "call", name, duration)
	span := trace.SpanRecord{
		Name:       name,
		DurationMs: duration,
		OK:         err == nil,
		Counters:   counters,
	}
	if err != nil {
		span.ErrorType = errorType(err)
	}
	*spans = append(*spans, span)
}

// errorType classifies an error for metrics and traces.
func errorType(err error) string {
	var (
		exhausted  *parser.ExhaustedError
		unknown    *dispatch.UnknownCallbackError
		depth      *DepthExceededError
		validation *schema.ValidationError
	)
	switch {
	case errors.Is(err, llm.ErrCompletionTimeout):
		return "timeout"
	case errors.As(err, &exhausted):
		return "parse"
	case errors.As(err, &unknown), errors.As(err, &depth):
		return "dispatch"
	case errors.As(err, &validation):
		return "validation"
	case strings.Contains(strings.ToLower(err.Error()), "sql"),
		strings.Contains(strings.ToLower(err.Error()), "database"):
		return "database"
	default:
		return "llm"
	}
}
