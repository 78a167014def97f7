package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/srnnkls/lalia/pkg/messages"
)

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test",
		"model":   "gpt-4o-mini",
		"created": 1700000000,
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 7, "total_tokens": 12},
	}
}

func TestOpenAIComplete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" {
			t.Errorf("Expected POST, got %s", r.Method)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Errorf("Expected Bearer test-key, got %s", r.Header.Get("Authorization"))
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Expected application/json, got %s", r.Header.Get("Content-Type"))
		}

		var req openAIRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("Decode request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Errorf("Expected 2 wire messages, got %d", len(req.Messages))
		}
		if req.Messages[0].Role != "system" {
			t.Errorf("Expected system role first, got %s", req.Messages[0].Role)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse("Test response"))
	}))
	defer server.Close()

	client := NewOpenAIClient("test-key")
	client.BaseURL = server.URL

	msgs := []messages.Message{messages.System("sys"), messages.User("hi")}
	resp, err := client.Complete(context.Background(), msgs, nil)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	choice, ok := resp.First()
	if !ok {
		t.Fatal("Expected a choice")
	}
	if choice.Message.Text() != "Test response" {
		t.Errorf("Expected 'Test response', got %q", choice.Message.Text())
	}
	if choice.FinishReason != FinishReasonStop {
		t.Errorf("Expected stop, got %s", choice.FinishReason)
	}
	if resp.Usage.TotalTokens != 12 {
		t.Errorf("Expected usage parsed, got %+v", resp.Usage)
	}
	if len(resp.Raw) == 0 {
		t.Error("Expected raw payload preserved")
	}
}

func TestOpenAIComplete_FunctionCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Functions) != 1 || req.Functions[0].Name != "get_weather" {
			t.Errorf("Expected get_weather function definition, got %+v", req.Functions)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{
					"index": 0,
					"message": map[string]any{
						"role":          "assistant",
						"content":       nil,
						"function_call": map[string]any{"name": "get_weather", "arguments": `{"city": "Oslo"}`},
					},
					"finish_reason": "function_call",
				},
			},
		})
	}))
	defer server.Close()

	client := NewOpenAIClient("test-key")
	client.BaseURL = server.URL

	opts := &CompleteOptions{
		Functions: []FunctionDef{{Name: "get_weather", Description: "weather lookup"}},
	}
	resp, err := client.Complete(context.Background(), []messages.Message{messages.User("weather?")}, opts)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	choice, _ := resp.First()
	if choice.FinishReason != FinishReasonFunctionCall {
		t.Errorf("Expected function_call finish reason, got %s", choice.FinishReason)
	}
	if choice.Message.FunctionCall == nil || choice.Message.FunctionCall.Name != "get_weather" {
		t.Fatalf("Expected function call parsed, got %+v", choice.Message.FunctionCall)
	}
	if choice.Message.Content != nil {
		t.Error("Expected absent content on call-only assistant message")
	}
}

func TestOpenAIComplete_RetriesOn500(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse("recovered"))
	}))
	defer server.Close()

	client := NewOpenAIClient("test-key")
	client.BaseURL = server.URL

	resp, err := client.Complete(context.Background(), []messages.Message{messages.User("hi")}, nil)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	choice, _ := resp.First()
	if choice.Message.Text() != "recovered" {
		t.Errorf("Expected recovery after retry, got %q", choice.Message.Text())
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Errorf("Expected 2 requests, got %d", calls)
	}
}

func TestOpenAIComplete_NoRetryOn400(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "bad request"}}`))
	}))
	defer server.Close()

	client := NewOpenAIClient("test-key")
	client.BaseURL = server.URL

	_, err := client.Complete(context.Background(), []messages.Message{messages.User("hi")}, nil)
	if err == nil {
		t.Fatal("Expected error for 400 response")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("Expected no retries on 400, got %d requests", calls)
	}
}

func TestOpenAIComplete_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		json.NewEncoder(w).Encode(chatResponse("too late"))
	}))
	defer server.Close()

	client := NewOpenAIClient("test-key")
	client.BaseURL = server.URL

	opts := &CompleteOptions{Timeout: 20 * time.Millisecond}
	_, err := client.Complete(context.Background(), []messages.Message{messages.User("hi")}, opts)
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if !errors.Is(err, ErrCompletionTimeout) {
		t.Errorf("Expected ErrCompletionTimeout, got: %v", err)
	}
}

func TestOpenAICompleteRaw(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(chatResponse("raw"))
	}))
	defer server.Close()

	client := NewOpenAIClient("test-key")
	client.BaseURL = server.URL

	raw, err := client.CompleteRaw(context.Background(), []messages.Message{messages.User("hi")}, nil)
	if err != nil {
		t.Fatalf("CompleteRaw failed: %v", err)
	}
	if raw["id"] != "chatcmpl-test" {
		t.Errorf("Expected raw mapping, got %v", raw["id"])
	}
}

func TestOpenAIComplete_EmptyChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": []}`))
	}))
	defer server.Close()

	client := NewOpenAIClient("test-key")
	client.BaseURL = server.URL

	_, err := client.Complete(context.Background(), []messages.Message{messages.User("hi")}, nil)
	if err == nil {
		t.Fatal("Expected error for empty response, got nil")
	}
	if !strings.Contains(err.Error(), "no completion choices") {
		t.Errorf("Expected 'no completion choices' error, got: %v", err)
	}
}

func TestStripMarkdownCodeFence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "json fence", input: "```json\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "yaml fence", input: "```yaml\na: 1\n```", want: "a: 1"},
		{name: "bare fence", input: "```\n{\"a\": 1}\n```", want: `{"a": 1}`},
		{name: "no fence", input: `{"a": 1}`, want: `{"a": 1}`},
		{name: "surrounding whitespace", input: "  {\"a\": 1}  ", want: `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripMarkdownCodeFence(tt.input); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestOllamaComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Expected /api/chat, got %s", r.URL.Path)
		}
		var req ollamaChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			t.Error("Expected stream disabled")
		}
		json.NewEncoder(w).Encode(ollamaChatResponse{
			Model:   req.Model,
			Message: ollamaMessage{Role: "assistant", Content: "local response"},
			Done:    true,
		})
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "mistral")
	resp, err := client.Complete(context.Background(), []messages.Message{messages.User("hi")}, nil)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	choice, _ := resp.First()
	if choice.Message.Text() != "local response" {
		t.Errorf("Expected 'local response', got %q", choice.Message.Text())
	}
	if choice.FinishReason != FinishReasonStop {
		t.Errorf("Expected stop finish reason, got %s", choice.FinishReason)
	}
}
