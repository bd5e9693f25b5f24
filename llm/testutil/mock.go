// Package testutil provides test doubles for the llm package.
package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/cumplia/enscope/catalog"
	"github.com/cumplia/enscope/llm"
)

// MockExtractor is a thread-safe scripted extractor for testing.
// Each call to ExtractFields consumes the next scripted step.
//
// Usage:
//
//	mock := &MockExtractor{
//	    Steps: []ExtractStep{
//	        {Fields: map[string]llm.Evidence{"frequency": {Value: "daily", Confidence: 0.9}}},
//	        {Err: llm.NewTransientError(errors.New("timeout"))},
//	    },
//	}
type MockExtractor struct {
	mu    sync.Mutex
	Steps []ExtractStep
	calls int
}

// ExtractStep is one scripted extraction result.
type ExtractStep struct {
	Fields map[string]llm.Evidence
	Err    error
}

// ExtractFields returns the next scripted step. When the script is
// exhausted it returns an empty result, mimicking a turn that carried
// no new evidence.
func (m *MockExtractor) ExtractFields(_ context.Context, _ []catalog.RequiredField, _ []llm.Message) (map[string]llm.Evidence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.calls >= len(m.Steps) {
		m.calls++
		return map[string]llm.Evidence{}, nil
	}
	step := m.Steps[m.calls]
	m.calls++

	if step.Err != nil {
		return nil, step.Err
	}
	out := make(map[string]llm.Evidence, len(step.Fields))
	for k, v := range step.Fields {
		out[k] = v
	}
	return out, nil
}

// Calls returns how many times ExtractFields was invoked.
func (m *MockExtractor) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MockPhraser returns deterministic prompt text and records which
// fields it was asked to phrase.
type MockPhraser struct {
	mu sync.Mutex

	// Err, when set, is returned from every call.
	Err error

	// AskedFields records the missing field name of every follow-up call.
	AskedFields []string

	// Confirmations counts confirmation prompt calls.
	Confirmations int
}

// PhraseFollowUp returns a canned prompt naming the missing field.
func (m *MockPhraser) PhraseFollowUp(_ context.Context, _ string, missing catalog.RequiredField, _ map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}
	m.AskedFields = append(m.AskedFields, missing.Name)
	return fmt.Sprintf("Please tell me about %s.", missing.Name), nil
}

// PhraseConfirmation returns a canned confirmation prompt.
func (m *MockPhraser) PhraseConfirmation(_ context.Context, _ string, _ map[string]string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}
	m.Confirmations++
	return "Can you confirm the collected values are correct?", nil
}
