package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cumplia/enscope/catalog"
)

// Evidence is one extracted candidate value for a required field.
type Evidence struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Extractor pulls required-field values out of a conversation window.
// Implementations must be safe for concurrent use across sessions.
type Extractor interface {
	ExtractFields(ctx context.Context, fields []catalog.RequiredField, window []Message) (map[string]Evidence, error)
}

// Phraser produces the natural-language follow-up prompts shown to the
// user. Only the missing field and already-known values are exposed to
// it, so a satisfied field can never be re-asked.
type Phraser interface {
	PhraseFollowUp(ctx context.Context, questionPrompt string, missing catalog.RequiredField, known map[string]string) (string, error)
	PhraseConfirmation(ctx context.Context, questionPrompt string, known map[string]string) (string, error)
}

const extractionSystemPrompt = `You extract structured compliance data from a conversation about Spanish ENS security controls.
You are given the required fields for a single question and the most recent conversation turns.
Return ONLY a JSON object of this exact shape, with one entry per field you can fill:

{"fields": {"<field_name>": {"value": "<extracted value>", "confidence": <0.0-1.0>}}}

Rules:
- Only include fields the conversation actually supports. Omit fields with no evidence.
- confidence reflects how directly and unambiguously the user stated the value.
- Never invent values. Never include fields that were not requested.`

const phrasingSystemPrompt = `You are a compliance assessor guiding a conversation about Spanish ENS security controls.
Write one short, polite follow-up question in the language the user has been using.
Ask ONLY about the single missing field you are given. Do not ask about anything already known.
Return only the question text, no preamble.`

// extractionResult is the JSON shape the extraction prompt requests.
type extractionResult struct {
	Fields map[string]Evidence `json:"fields"`
}

// ExtractFields implements Extractor on the model client.
func (c *Client) ExtractFields(ctx context.Context, fields []catalog.RequiredField, window []Message) (map[string]Evidence, error) {
	var sb strings.Builder
	sb.WriteString("Required fields:\n")
	for _, f := range fields {
		fmt.Fprintf(&sb, "- %s: %s", f.Name, f.Description)
		if f.Format != "" {
			fmt.Fprintf(&sb, " (format: %s)", f.Format)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\nConversation:\n")
	for _, m := range window {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}

	messages := []Message{
		{Role: "system", Content: extractionSystemPrompt},
		{Role: "user", Content: sb.String()},
	}

	resp, err := c.Complete(ctx, messages, 1024)
	if err != nil {
		return nil, err
	}

	raw := ExtractJSON(resp.Content)
	if raw == "" {
		return nil, NewTransientError(fmt.Errorf("%w: no JSON object in extraction response", ErrMalformedOutput))
	}

	var result extractionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, NewTransientError(fmt.Errorf("%w: %v", ErrMalformedOutput, err))
	}

	// Drop fields the model invented and clamp confidences.
	requested := make(map[string]bool, len(fields))
	for _, f := range fields {
		requested[f.Name] = true
	}
	out := make(map[string]Evidence, len(result.Fields))
	for name, ev := range result.Fields {
		if !requested[name] {
			c.logger.Debug("Dropping unrequested extracted field", "field", name)
			continue
		}
		if ev.Value == "" {
			continue
		}
		if ev.Confidence < 0 {
			ev.Confidence = 0
		}
		if ev.Confidence > 1 {
			ev.Confidence = 1
		}
		out[name] = ev
	}

	return out, nil
}

// PhraseFollowUp implements Phraser on the model client.
func (c *Client) PhraseFollowUp(ctx context.Context, questionPrompt string, missing catalog.RequiredField, known map[string]string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic question: %s\n\n", questionPrompt)
	fmt.Fprintf(&sb, "Missing field: %s (%s)\n", missing.Name, missing.Description)
	if len(known) > 0 {
		sb.WriteString("\nAlready answered (do not re-ask):\n")
		for name, value := range known {
			fmt.Fprintf(&sb, "- %s: %s\n", name, value)
		}
	}

	messages := []Message{
		{Role: "system", Content: phrasingSystemPrompt},
		{Role: "user", Content: sb.String()},
	}

	resp, err := c.Complete(ctx, messages, 256)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", NewTransientError(fmt.Errorf("%w: empty phrasing response", ErrMalformedOutput))
	}
	return text, nil
}

// PhraseConfirmation implements the confirmation prompt used when every
// field sits near the confidence threshold.
func (c *Client) PhraseConfirmation(ctx context.Context, questionPrompt string, known map[string]string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic question: %s\n\n", questionPrompt)
	sb.WriteString("Collected values, all low-confidence:\n")
	for name, value := range known {
		fmt.Fprintf(&sb, "- %s: %s\n", name, value)
	}
	sb.WriteString("\nWrite one short question asking the user to confirm these values are correct.")

	messages := []Message{
		{Role: "system", Content: phrasingSystemPrompt},
		{Role: "user", Content: sb.String()},
	}

	resp, err := c.Complete(ctx, messages, 256)
	if err != nil {
		return "", err
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", NewTransientError(fmt.Errorf("%w: empty confirmation response", ErrMalformedOutput))
	}
	return text, nil
}
