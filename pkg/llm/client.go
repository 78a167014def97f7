// Package llm provides interfaces and implementations for chat completion
// clients.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/srnnkls/lalia/pkg/messages"
	"github.com/srnnkls/lalia/pkg/schema"
)

// ErrCompletionTimeout is returned when a completion request exceeds its
// configured timeout. Callers may retry; the client never retries a timeout
// internally.
var ErrCompletionTimeout = errors.New("completion timed out")

// FinishReason indicates why the model stopped generating.
type FinishReason string

const (
	FinishReasonStop          FinishReason = "stop"
	FinishReasonLength        FinishReason = "length"
	FinishReasonFunctionCall  FinishReason = "function_call"
	FinishReasonContentFilter FinishReason = "content_filter"
	FinishReasonNull          FinishReason = "null"
	FinishReasonError         FinishReason = "error"
)

// FunctionCallDirective steers whether the model may, must, or must not
// call a function.
type FunctionCallDirective struct {
	// Mode is "auto", "none", or "name" (force the named function).
	Mode string `json:"mode"`
	Name string `json:"name,omitempty"`
}

var (
	FunctionCallAuto = FunctionCallDirective{Mode: "auto"}
	FunctionCallNone = FunctionCallDirective{Mode: "none"}
)

// FunctionCallByName forces the model to call the named function.
func FunctionCallByName(name string) FunctionCallDirective {
	return FunctionCallDirective{Mode: "name", Name: name}
}

// FunctionDef describes a callable function offered to the model. The
// parameter schema is declared explicitly, never introspected.
type FunctionDef struct {
	Name        string
	Description string
	Parameters  *schema.Schema
}

// CompleteOptions carries the open-ended per-request configuration. Zero
// values fall back to client defaults.
type CompleteOptions struct {
	Model        string
	Temperature  *float64
	MaxTokens    int
	Functions    []FunctionDef
	FunctionCall FunctionCallDirective
	Stop         []string
	User         string

	// Timeout bounds the whole request including internal retries.
	// Exceeding it surfaces ErrCompletionTimeout.
	Timeout time.Duration
}

// Choice wraps one candidate message of a completion response.
type Choice struct {
	Index        int
	Message      messages.Message
	FinishReason FinishReason
}

// Usage reports token accounting as returned by the provider.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// CompletionResponse is the result of a completion request.
type CompletionResponse struct {
	ID      string
	Model   string
	Created time.Time
	Choices []Choice
	Usage   Usage

	// Raw preserves the provider payload for debugging.
	Raw json.RawMessage
}

// First returns the first choice, or false when the response is empty.
func (r *CompletionResponse) First() (Choice, bool) {
	if r == nil || len(r.Choices) == 0 {
		return Choice{}, false
	}
	return r.Choices[0], true
}

// Client is the contract a chat completion provider must satisfy.
type Client interface {
	// Complete sends the ordered message sequence and returns the parsed
	// completion response.
	Complete(ctx context.Context, msgs []messages.Message, opts *CompleteOptions) (*CompletionResponse, error)

	// CompleteRaw sends the ordered message sequence and returns the
	// provider's response as a raw mapping.
	CompleteRaw(ctx context.Context, msgs []messages.Message, opts *CompleteOptions) (map[string]any, error)
}
