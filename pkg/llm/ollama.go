package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/srnnkls/lalia/pkg/messages"
)

// OllamaClient implements Client against a local Ollama chat API. Ollama
// has no native function-calling, so finish reasons are always stop-like.
type OllamaClient struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllamaClient creates an Ollama chat client. baseURL is typically
// "http://localhost:11434"; model is the model name, e.g. "mistral".
func NewOllamaClient(baseURL, model string) *OllamaClient {
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		client: &http.Client{
			Timeout: 300 * time.Second, // slow local models
		},
	}
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Format   string          `json:"format,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Model     string        `json:"model"`
	CreatedAt time.Time     `json:"created_at"`
	Message   ollamaMessage `json:"message"`
	Done      bool          `json:"done"`
}

// Complete sends the message sequence to the Ollama chat endpoint.
func (c *OllamaClient) Complete(ctx context.Context, msgs []messages.Message, opts *CompleteOptions) (*CompletionResponse, error) {
	body, err := c.doRequest(ctx, msgs, opts)
	if err != nil {
		return nil, err
	}

	var result ollamaChatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &CompletionResponse{
		Model:   result.Model,
		Created: result.CreatedAt,
		Choices: []Choice{
			{
				Message:      messages.Assistant(result.Message.Content),
				FinishReason: FinishReasonStop,
			},
		},
		Raw: json.RawMessage(body),
	}, nil
}

// CompleteRaw sends the message sequence and returns the raw response
// mapping.
func (c *OllamaClient) CompleteRaw(ctx context.Context, msgs []messages.Message, opts *CompleteOptions) (map[string]any, error) {
	body, err := c.doRequest(ctx, msgs, opts)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal raw response: %w", err)
	}
	return raw, nil
}

func (c *OllamaClient) doRequest(ctx context.Context, msgs []messages.Message, opts *CompleteOptions) ([]byte, error) {
	if opts == nil {
		opts = &CompleteOptions{}
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	model := opts.Model
	if model == "" {
		model = c.model
	}

	reqBody := ollamaChatRequest{
		Model:  model,
		Stream: false,
	}
	// A function-call directive implies the caller expects structured
	// output; ask Ollama for JSON in that case.
	if len(opts.Functions) > 0 || opts.FunctionCall.Mode == "name" {
		reqBody.Format = "json"
	}
	for _, m := range msgs {
		reqBody.Messages = append(reqBody.Messages, ollamaMessage{
			Role:    string(m.Role),
			Content: m.Text(),
		})
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, timeoutOr(ctx.Err())
		}
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ollama returned %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}
