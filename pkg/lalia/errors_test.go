package lalia

import (
	"errors"
	"fmt"
	"testing"

	"github.com/srnnkls/lalia/pkg/dispatch"
	"github.com/srnnkls/lalia/pkg/llm"
	"github.com/srnnkls/lalia/pkg/parser"
	"github.com/srnnkls/lalia/pkg/schema"
	"github.com/srnnkls/lalia/pkg/session"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil error", err: nil, want: ""},
		{
			name: "completion timeout",
			err:  fmt.Errorf("call: %w", llm.ErrCompletionTimeout),
			want: ErrTypeTimeout,
		},
		{
			name: "parse exhausted",
			err:  &parser.ExhaustedError{Schema: "A", LastPayload: "{}"},
			want: ErrTypeParse,
		},
		{
			name: "unknown callback",
			err:  &dispatch.UnknownCallbackError{Name: "missing"},
			want: ErrTypeDispatch,
		},
		{
			name: "dispatch depth exceeded",
			err:  &session.DepthExceededError{Depth: 10},
			want: ErrTypeDispatch,
		},
		{
			name: "schema validation",
			err:  &schema.ValidationError{Schema: "A"},
			want: ErrTypeValidation,
		},
		{
			name: "wrapped typed error",
			err:  fmt.Errorf("outer: %w", &dispatch.UnknownCallbackError{Name: "x"}),
			want: ErrTypeDispatch,
		},
		{
			name: "network by message",
			err:  errors.New("dial tcp 127.0.0.1:443: connection refused"),
			want: ErrTypeNetwork,
		},
		{
			name: "rate limit",
			err:  errors.New("HTTP 429: rate limit exceeded"),
			want: ErrTypeLLM,
		},
		{
			name: "database",
			err:  errors.New("sql: database is locked"),
			want: ErrTypeDatabase,
		},
		{
			name: "unknown",
			err:  errors.New("something else entirely"),
			want: ErrTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyError(tt.err); got != tt.want {
				t.Errorf("ClassifyError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
