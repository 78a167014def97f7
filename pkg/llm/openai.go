package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/srnnkls/lalia/pkg/messages"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultModel         = "gpt-4o-mini"
	defaultTimeout       = 60 * time.Second
	maxRequestRetries    = 3
	initialRetryDelay    = 1 * time.Second
	backoffFactor        = 2.0
)

// OpenAIClient implements Client for OpenAI's Chat Completions API.
type OpenAIClient struct {
	APIKey  string
	Model   string
	BaseURL string
	client  *http.Client
}

// NewOpenAIClient creates an OpenAI chat completion client.
func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		APIKey:  apiKey,
		Model:   defaultModel,
		BaseURL: defaultOpenAIBaseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
}

type openAIMessage struct {
	Role         string              `json:"role"`
	Content      *string             `json:"content"`
	Name         string              `json:"name,omitempty"`
	FunctionCall *openAIFunctionCall `json:"function_call,omitempty"`
}

type openAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

type openAIRequest struct {
	Model        string           `json:"model"`
	Messages     []openAIMessage  `json:"messages"`
	Functions    []openAIFunction `json:"functions,omitempty"`
	FunctionCall any              `json:"function_call,omitempty"`
	Temperature  *float64         `json:"temperature,omitempty"`
	MaxTokens    int              `json:"max_tokens,omitempty"`
	Stop         []string         `json:"stop,omitempty"`
	User         string           `json:"user,omitempty"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends the message sequence to the Chat Completions API, retrying
// transient failures with exponential backoff and jitter.
func (o *OpenAIClient) Complete(ctx context.Context, msgs []messages.Message, opts *CompleteOptions) (*CompletionResponse, error) {
	body, err := o.makeRequest(ctx, msgs, opts)
	if err != nil {
		return nil, err
	}
	return decodeResponse(body)
}

// CompleteRaw sends the message sequence and returns the provider response
// as a raw mapping.
func (o *OpenAIClient) CompleteRaw(ctx context.Context, msgs []messages.Message, opts *CompleteOptions) (map[string]any, error) {
	body, err := o.makeRequest(ctx, msgs, opts)
	if err != nil {
		return nil, err
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal raw response: %w", err)
	}
	return raw, nil
}

func (o *OpenAIClient) makeRequest(ctx context.Context, msgs []messages.Message, opts *CompleteOptions) ([]byte, error) {
	if opts == nil {
		opts = &CompleteOptions{}
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var lastErr error
	delay := initialRetryDelay

	for attempt := 0; attempt <= maxRequestRetries; attempt++ {
		if attempt > 0 {
			// Jitter: random value between 0.5x and 1.5x of delay.
			jitter := delay/2 + time.Duration(rand.Int63n(int64(delay)))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return nil, timeoutOr(ctx.Err())
			}
			delay = time.Duration(float64(delay) * backoffFactor)
		}

		body, err := o.doRequest(ctx, msgs, opts)
		if err == nil {
			return body, nil
		}
		lastErr = err

		if !shouldRetry(err) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, timeoutOr(ctx.Err())
		}
	}

	return nil, fmt.Errorf("failed after %d retries: %w", maxRequestRetries, lastErr)
}

func (o *OpenAIClient) doRequest(ctx context.Context, msgs []messages.Message, opts *CompleteOptions) ([]byte, error) {
	model := opts.Model
	if model == "" {
		model = o.Model
	}

	reqBody := openAIRequest{
		Model:       model,
		Messages:    toWireMessages(msgs),
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Stop:        opts.Stop,
		User:        opts.User,
	}
	for _, f := range opts.Functions {
		fn := openAIFunction{Name: f.Name, Description: f.Description}
		if f.Parameters != nil {
			fn.Parameters = f.Parameters.JSONSchema()
		} else {
			fn.Parameters = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		reqBody.Functions = append(reqBody.Functions, fn)
	}
	switch opts.FunctionCall.Mode {
	case "", "auto":
		// Provider default.
	case "none":
		reqBody.FunctionCall = "none"
	case "name":
		reqBody.FunctionCall = map[string]string{"name": opts.FunctionCall.Name}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.BaseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, timeoutOr(ctx.Err())
		}
		return nil, &retryableError{err: fmt.Errorf("request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		// Retry on 429 (rate limit) and 5xx errors.
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, &retryableError{err: fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))}
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

func decodeResponse(body []byte) (*CompletionResponse, error) {
	var apiResp openAIResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("OpenAI API error: %s", apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("no completion choices returned")
	}

	out := &CompletionResponse{
		ID:      apiResp.ID,
		Model:   apiResp.Model,
		Created: time.Unix(apiResp.Created, 0).UTC(),
		Usage:   apiResp.Usage,
		Raw:     json.RawMessage(body),
	}
	for _, c := range apiResp.Choices {
		out.Choices = append(out.Choices, Choice{
			Index:        c.Index,
			Message:      fromWireMessage(c.Message),
			FinishReason: normalizeFinishReason(c.FinishReason),
		})
	}
	return out, nil
}

func toWireMessages(msgs []messages.Message) []openAIMessage {
	out := make([]openAIMessage, len(msgs))
	for i, m := range msgs {
		wire := openAIMessage{
			Role:    string(m.Role),
			Content: m.Content,
			Name:    m.Name,
		}
		if m.FunctionCall != nil {
			wire.FunctionCall = &openAIFunctionCall{
				Name:      m.FunctionCall.Name,
				Arguments: m.FunctionCall.Arguments,
			}
		}
		out[i] = wire
	}
	return out
}

func fromWireMessage(wire openAIMessage) messages.Message {
	if wire.FunctionCall != nil {
		m := messages.AssistantCall(wire.FunctionCall.Name, wire.FunctionCall.Arguments)
		m.Content = wire.Content
		return m
	}
	var content string
	if wire.Content != nil {
		content = *wire.Content
	}
	switch wire.Role {
	case string(messages.RoleFunction):
		return messages.Function(wire.Name, content)
	case string(messages.RoleSystem):
		return messages.System(content)
	case string(messages.RoleUser):
		return messages.User(content)
	default:
		return messages.Assistant(content)
	}
}

func normalizeFinishReason(reason string) FinishReason {
	switch reason {
	case "stop":
		return FinishReasonStop
	case "length":
		return FinishReasonLength
	case "function_call", "tool_calls":
		return FinishReasonFunctionCall
	case "content_filter":
		return FinishReasonContentFilter
	case "":
		return FinishReasonNull
	default:
		return FinishReason(reason)
	}
}

// timeoutOr maps context expiry to ErrCompletionTimeout, preserving plain
// cancellation.
func timeoutOr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrCompletionTimeout, err)
	}
	return err
}

// StripMarkdownCodeFence removes markdown code fences from model output.
// Handles formats like ```json\n...\n``` or ```\n...\n```.
func StripMarkdownCodeFence(s string) string {
	s = strings.TrimSpace(s)

	re := regexp.MustCompile("(?s)^```(?:json|yaml)?\\s*\n?(.*?)\\s*```$")
	if matches := re.FindStringSubmatch(s); len(matches) == 2 {
		return strings.TrimSpace(matches[1])
	}

	return s
}

// retryableError indicates a transient failure worth retrying.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func shouldRetry(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
