// Package parser converts raw, possibly malformed model output into
// validated field mappings. Failed attempts synthesize corrective messages
// that are sent back to the model, retrying up to a bounded number of
// attempts.
package parser

import (
	"context"
	"fmt"
	"log"

	"github.com/srnnkls/lalia/pkg/llm"
	"github.com/srnnkls/lalia/pkg/messages"
	"github.com/srnnkls/lalia/pkg/schema"
)

const defaultMaxRetries = 3

// ExhaustedError is returned when every parse attempt failed. It carries
// the last raw payload and the full sequence of corrective messages so
// callers can inspect the attempt history.
type ExhaustedError struct {
	Schema      string
	LastPayload string
	Attempts    []messages.Message
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("parse exhausted after %d attempts for schema %q", len(e.Attempts), e.Schema)
}

// Parser repairs malformed structured output by iterating with the model.
// Retries are sequential: each retry depends on the previous correction.
type Parser struct {
	LLM        llm.Client
	MaxRetries int

	// Verbose logs dropped unknown fields and per-attempt errors.
	Verbose bool
}

// New creates a parser bound to the given completion client.
func New(client llm.Client) *Parser {
	return &Parser{LLM: client, MaxRetries: defaultMaxRetries}
}

// Parse decodes payload against the schema, correcting failures through the
// model. On success it returns the validated fields plus every auxiliary
// (corrective) message generated along the way, so the caller can append
// them to the session's permanent record. On exhaustion it returns an
// *ExhaustedError with exactly one recorded attempt per failure.
func (p *Parser) Parse(ctx context.Context, payload string, target *schema.Schema, history []messages.Message) (map[string]any, []messages.Message, error) {
	maxRetries := p.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	var aux []messages.Message

	for attempt := 0; attempt < maxRetries; attempt++ {
		cleaned := llm.StripMarkdownCodeFence(payload)

		fields, decodeErr := Decode(cleaned)
		if decodeErr == nil {
			result, violations := target.Validate(fields)
			if result != nil {
				if p.Verbose {
					for _, v := range violations {
						log.Printf("lalia: parse: %s", v.Instruction())
					}
				}
				return result, aux, nil
			}
			corrective := validationErrorMessage(target, payload, violations)
			aux = append(aux, corrective)
		} else {
			aux = append(aux, deserializationErrorMessage(target, payload, decodeErr))
		}

		if p.Verbose {
			log.Printf("lalia: parse attempt %d/%d failed for schema %q", attempt+1, maxRetries, target.Name)
		}

		// The final failure is recorded but not sent back; there is no
		// attempt left to consume a correction.
		if attempt == maxRetries-1 {
			break
		}

		next, err := p.completeCorrection(ctx, target, history, aux)
		if err != nil {
			return nil, aux, err
		}
		payload = next
	}

	return nil, aux, &ExhaustedError{
		Schema:      target.Name,
		LastPayload: payload,
		Attempts:    aux,
	}
}

// completeCorrection re-invokes the model with the accumulated corrective
// messages, forcing a structured reply against the target schema, and
// returns the new candidate payload.
func (p *Parser) completeCorrection(ctx context.Context, target *schema.Schema, history, aux []messages.Message) (string, error) {
	msgs := make([]messages.Message, 0, len(history)+len(aux))
	msgs = append(msgs, history...)
	msgs = append(msgs, aux...)

	name := responseFunctionName(target)
	opts := &llm.CompleteOptions{
		Functions: []llm.FunctionDef{
			{
				Name:        name,
				Description: "Supply a corrected payload that fixes the reported errors. Do not change the input, just correct the types.",
				Parameters:  target,
			},
		},
		FunctionCall: llm.FunctionCallByName(name),
	}

	response, err := p.LLM.Complete(ctx, msgs, opts)
	if err != nil {
		return "", fmt.Errorf("correction completion: %w", err)
	}

	choice, ok := response.First()
	if !ok {
		return "", fmt.Errorf("correction completion returned no choices")
	}
	if choice.Message.FunctionCall != nil {
		return choice.Message.FunctionCall.Arguments, nil
	}
	return choice.Message.Text(), nil
}

func responseFunctionName(target *schema.Schema) string {
	if target.Name == "" {
		return "structured_response"
	}
	return target.Name + "_response"
}

const (
	validationErrorDirective = "Error: %s\n\nOriginal payload: %q\n\nAre all required parameters provided?"

	deserializationErrorDirective = "Error: %s\n\nMalformed payload: %s"
)

func validationErrorMessage(target *schema.Schema, payload string, violations []schema.Violation) messages.Message {
	fatal := make([]schema.Violation, 0, len(violations))
	for _, v := range violations {
		if v.Fatal() {
			fatal = append(fatal, v)
		}
	}
	err := &schema.ValidationError{Schema: target.Name, Violations: fatal}
	name := responseFunctionName(target)
	return messages.Function(name, fmt.Sprintf(validationErrorDirective, err, payload)).Tagged(
		messages.Tag{Key: "error", Value: "validation"},
		messages.Tag{Key: "function", Value: name},
	)
}

func deserializationErrorMessage(target *schema.Schema, payload string, err error) messages.Message {
	name := responseFunctionName(target)
	return messages.Function(name, fmt.Sprintf(deserializationErrorDirective, err, payload)).Tagged(
		messages.Tag{Key: "error", Value: "deserialization"},
		messages.Tag{Key: "function", Value: name},
	)
}
