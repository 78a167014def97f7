package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/srnnkls/lalia/pkg/llm"
	"github.com/srnnkls/lalia/pkg/messages"
	"github.com/srnnkls/lalia/pkg/schema"
)

// scriptedClient returns canned completions in order, failing when the
// script runs out.
type scriptedClient struct {
	responses []*llm.CompletionResponse
	requests  [][]messages.Message
	options   []*llm.CompleteOptions
}

func (c *scriptedClient) Complete(_ context.Context, msgs []messages.Message, opts *llm.CompleteOptions) (*llm.CompletionResponse, error) {
	c.requests = append(c.requests, msgs)
	c.options = append(c.options, opts)
	if len(c.responses) == 0 {
		return nil, fmt.Errorf("scripted client: no responses left")
	}
	next := c.responses[0]
	c.responses = c.responses[1:]
	return next, nil
}

func (c *scriptedClient) CompleteRaw(ctx context.Context, msgs []messages.Message, opts *llm.CompleteOptions) (map[string]any, error) {
	return nil, fmt.Errorf("scripted client: raw not supported")
}

func callResponse(name, arguments string) *llm.CompletionResponse {
	return &llm.CompletionResponse{
		Choices: []llm.Choice{
			{
				Message:      messages.AssistantCall(name, arguments),
				FinishReason: llm.FinishReasonFunctionCall,
			},
		},
	}
}

func modelA() *schema.Schema {
	return &schema.Schema{
		Name: "A",
		Fields: []schema.Field{
			{Name: "b", Type: schema.TypeString, Required: true},
			{Name: "c", Type: schema.TypeInt, Required: true},
		},
	}
}

func TestParse_ValidJSONFirstAttempt(t *testing.T) {
	client := &scriptedClient{}
	p := New(client)

	fields, aux, err := p.Parse(context.Background(), `{"b": "test", "c": 99}`, modelA(), nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(aux) != 0 {
		t.Errorf("Expected zero auxiliary messages, got %d", len(aux))
	}
	if fields["b"] != "test" || fields["c"] != 99 {
		t.Errorf("Unexpected fields: %v", fields)
	}
	if len(client.requests) != 0 {
		t.Errorf("Expected no model invocations, got %d", len(client.requests))
	}
}

func TestParse_LineOrientedKeyValue(t *testing.T) {
	p := New(&scriptedClient{})

	fields, aux, err := p.Parse(context.Background(), "b: test\nc: 99", modelA(), nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(aux) != 0 {
		t.Errorf("Expected zero auxiliary messages, got %d", len(aux))
	}
	if fields["b"] != "test" || fields["c"] != 99 {
		t.Errorf("Unexpected fields: %v", fields)
	}
}

func TestParse_MarkdownFencedPayload(t *testing.T) {
	p := New(&scriptedClient{})

	fields, _, err := p.Parse(context.Background(), "```json\n{\"b\": \"test\", \"c\": 1}\n```", modelA(), nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if fields["b"] != "test" {
		t.Errorf("Unexpected fields: %v", fields)
	}
}

func TestParse_ListForScalarCorrectedByModel(t *testing.T) {
	client := &scriptedClient{
		responses: []*llm.CompletionResponse{
			callResponse("A_response", `{"b": "test", "c": 99}`),
		},
	}
	p := New(client)

	fields, aux, err := p.Parse(context.Background(), `{"b": ["test"], "c": 99}`, modelA(), nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if fields["b"] != "test" {
		t.Errorf("Unexpected fields: %v", fields)
	}

	if len(aux) != 1 {
		t.Fatalf("Expected one corrective message, got %d", len(aux))
	}
	corrective := aux[0]
	if !strings.Contains(corrective.Text(), `"b"`) {
		t.Errorf("Corrective message must name field b: %s", corrective.Text())
	}
	if !strings.Contains(corrective.Text(), "single string value but received a list") {
		t.Errorf("Corrective message must describe the list-for-scalar error specifically: %s", corrective.Text())
	}
	if !corrective.HasTag("error", "validation") {
		t.Error("Corrective message should carry the validation error tag")
	}

	// The correction round forces the response function by name.
	if len(client.options) != 1 {
		t.Fatalf("Expected one model invocation, got %d", len(client.options))
	}
	directive := client.options[0].FunctionCall
	if directive.Mode != "name" || directive.Name != "A_response" {
		t.Errorf("Expected forced function call A_response, got %+v", directive)
	}
	// The corrective message travels with the request.
	request := client.requests[0]
	if request[len(request)-1].Text() != corrective.Text() {
		t.Error("Corrective message should be the last message sent to the model")
	}
}

func TestParse_ExhaustedAfterMaxRetries(t *testing.T) {
	client := &scriptedClient{
		responses: []*llm.CompletionResponse{
			callResponse("A_response", `{"b": ["still"], "c": 1}`),
			callResponse("A_response", `{"b": ["wrong"], "c": 1}`),
		},
	}
	p := New(client)
	p.MaxRetries = 3

	_, aux, err := p.Parse(context.Background(), `{"b": ["test"], "c": 1}`, modelA(), nil)
	if err == nil {
		t.Fatal("Expected ParseExhausted error")
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected *ExhaustedError, got %T: %v", err, err)
	}
	if len(exhausted.Attempts) != 3 {
		t.Errorf("Expected exactly 3 recorded attempts, got %d", len(exhausted.Attempts))
	}
	if len(aux) != 3 {
		t.Errorf("Expected 3 auxiliary messages returned, got %d", len(aux))
	}
	if exhausted.LastPayload != `{"b": ["wrong"], "c": 1}` {
		t.Errorf("Expected last payload preserved, got %q", exhausted.LastPayload)
	}
	// Two correction rounds for three attempts: the final failure is not
	// sent back.
	if len(client.requests) != 2 {
		t.Errorf("Expected 2 model invocations, got %d", len(client.requests))
	}
}

func TestParse_DeserializationError(t *testing.T) {
	client := &scriptedClient{
		responses: []*llm.CompletionResponse{
			callResponse("A_response", `{"b": "test", "c": 2}`),
		},
	}
	p := New(client)

	fields, aux, err := p.Parse(context.Background(), `{"b": "test", `, modelA(), nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if fields["c"] != 2 {
		t.Errorf("Unexpected fields: %v", fields)
	}
	if len(aux) != 1 {
		t.Fatalf("Expected one corrective message, got %d", len(aux))
	}
	if !aux[0].HasTag("error", "deserialization") {
		t.Error("Corrective message should carry the deserialization error tag")
	}
	if !strings.Contains(aux[0].Text(), "Malformed payload") {
		t.Errorf("Deserialization directive expected, got: %s", aux[0].Text())
	}
}

func TestParse_MissingVsNullVsEmpty(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		ok      bool
		want    string
	}{
		{name: "missing field", payload: `{"c": 1}`, want: "is missing"},
		{name: "null field", payload: `{"b": null, "c": 1}`, want: "is null"},
		{name: "empty string is valid", payload: `{"b": "", "c": 1}`, ok: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(&scriptedClient{})
			p.MaxRetries = 1

			_, aux, err := p.Parse(context.Background(), tt.payload, modelA(), nil)
			if tt.ok {
				if err != nil {
					t.Fatalf("Expected success, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("Expected parse failure")
			}
			if !strings.Contains(aux[0].Text(), tt.want) {
				t.Errorf("Expected corrective text containing %q, got: %s", tt.want, aux[0].Text())
			}
		})
	}
}

func TestParse_ContextHistoryPrecedesCorrections(t *testing.T) {
	client := &scriptedClient{
		responses: []*llm.CompletionResponse{
			callResponse("A_response", `{"b": "x", "c": 1}`),
		},
	}
	p := New(client)

	history := []messages.Message{messages.System("sys"), messages.User("give me an A")}
	_, _, err := p.Parse(context.Background(), `{"c": 1}`, modelA(), history)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	request := client.requests[0]
	if len(request) != 3 {
		t.Fatalf("Expected history plus corrective message, got %d messages", len(request))
	}
	if request[0].Text() != "sys" || request[1].Text() != "give me an A" {
		t.Error("History should precede the corrective message")
	}
}

func TestParse_CompletionFailurePropagates(t *testing.T) {
	p := New(&scriptedClient{}) // empty script: completion errors

	_, _, err := p.Parse(context.Background(), `{"c": 1}`, modelA(), nil)
	if err == nil {
		t.Fatal("Expected error when the correction completion fails")
	}
	var exhausted *ExhaustedError
	if errors.As(err, &exhausted) {
		t.Error("Completion failure must not be reported as exhaustion")
	}
}
