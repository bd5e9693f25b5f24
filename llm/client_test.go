package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cumplia/enscope/catalog"
	"github.com/cumplia/enscope/llm"
	_ "github.com/cumplia/enscope/llm/providers" // Register providers
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAIResponse(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-123",
		"object":  "chat.completion",
		"created": 1677652288,
		"model":   "test-model",
		"choices": []map[string]any{
			{
				"index": 0,
				"message": map[string]string{
					"role":    "assistant",
					"content": content,
				},
				"finish_reason": "stop",
			},
		},
		"usage": map[string]int{
			"prompt_tokens":     10,
			"completion_tokens": 8,
			"total_tokens":      18,
		},
	}
}

func testClient(serverURL string, opts ...llm.ClientOption) *llm.Client {
	return llm.NewClient(llm.Endpoint{
		Provider: "ollama",
		Model:    "test-model",
		URL:      serverURL,
	}, opts...)
}

func fastRetry() llm.RetryConfig {
	return llm.RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       time.Millisecond,
		BackoffMultiplier: 1.0,
		MaxBackoff:        time.Millisecond,
	}
}

func TestClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAIResponse("Hola, ¿en qué puedo ayudar?"))
	}))
	defer server.Close()

	client := testClient(server.URL)

	resp, err := client.Complete(context.Background(), []llm.Message{
		{Role: "user", Content: "Hello"},
	}, 0)

	require.NoError(t, err)
	assert.Equal(t, "Hola, ¿en qué puedo ayudar?", resp.Content)
	assert.Equal(t, 18, resp.TokensUsed)
	assert.Equal(t, "stop", resp.FinishReason)
}

func TestClient_Complete_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAIResponse("ok"))
	}))
	defer server.Close()

	client := testClient(server.URL, llm.WithRetryConfig(fastRetry()))

	resp, err := client.Complete(context.Background(), []llm.Message{
		{Role: "user", Content: "Hello"},
	}, 0)

	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Complete_TransientExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := testClient(server.URL, llm.WithRetryConfig(fastRetry()))

	_, err := client.Complete(context.Background(), []llm.Message{
		{Role: "user", Content: "Hello"},
	}, 0)

	require.Error(t, err)
	assert.True(t, llm.IsTransient(err), "exhausted retries should stay transient")
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_Complete_FatalNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := testClient(server.URL, llm.WithRetryConfig(fastRetry()))

	_, err := client.Complete(context.Background(), []llm.Message{
		{Role: "user", Content: "Hello"},
	}, 0)

	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
	assert.Equal(t, int32(1), calls.Load(), "fatal errors must not be retried")
}

func TestClient_Complete_UnknownProvider(t *testing.T) {
	client := llm.NewClient(llm.Endpoint{Provider: "nope", Model: "m"})

	_, err := client.Complete(context.Background(), []llm.Message{
		{Role: "user", Content: "Hello"},
	}, 0)

	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
}

func TestClient_Complete_NoMessages(t *testing.T) {
	client := llm.NewClient(llm.Endpoint{Provider: "ollama", Model: "m"})

	_, err := client.Complete(context.Background(), nil, 0)
	require.Error(t, err)
	assert.True(t, llm.IsFatal(err))
}

func TestClient_ExtractFields(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := "```json\n" +
			`{"fields": {` +
			`"frequency": {"value": "daily", "confidence": 0.9},` +
			`"invented": {"value": "x", "confidence": 0.9},` +
			`"offsite": {"value": "yes", "confidence": 1.4}` +
			`}}` + "\n```"
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAIResponse(content))
	}))
	defer server.Close()

	client := testClient(server.URL)

	fields := []catalog.RequiredField{
		{Name: "frequency", Description: "backup cadence", Format: "frequency"},
		{Name: "offsite", Description: "off-site copies", Format: "boolean"},
	}
	window := []llm.Message{{Role: "user", Content: "we back up daily, copies go offsite"}}

	out, err := client.ExtractFields(context.Background(), fields, window)
	require.NoError(t, err)

	require.Contains(t, out, "frequency")
	assert.Equal(t, "daily", out["frequency"].Value)
	assert.Equal(t, 0.9, out["frequency"].Confidence)

	// Unrequested fields are dropped, confidences clamped to [0, 1].
	assert.NotContains(t, out, "invented")
	assert.Equal(t, 1.0, out["offsite"].Confidence)
}

func TestClient_ExtractFields_MalformedOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAIResponse("sorry, I cannot answer that"))
	}))
	defer server.Close()

	client := testClient(server.URL, llm.WithRetryConfig(fastRetry()))

	_, err := client.ExtractFields(context.Background(), []catalog.RequiredField{{Name: "x"}}, []llm.Message{{Role: "user", Content: "hi"}})
	require.Error(t, err)
	assert.True(t, llm.IsTransient(err), "garbage output should be retryable")
}

func TestClient_PhraseFollowUp(t *testing.T) {
	var captured string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []llm.Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		captured = req.Messages[len(req.Messages)-1].Content

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(openAIResponse("  ¿Con qué frecuencia se verifica la copia?  "))
	}))
	defer server.Close()

	client := testClient(server.URL)

	prompt, err := client.PhraseFollowUp(context.Background(),
		"Backup question",
		catalog.RequiredField{Name: "verification", Description: "integrity checks"},
		map[string]string{"frequency": "daily"})

	require.NoError(t, err)
	assert.Equal(t, "¿Con qué frecuencia se verifica la copia?", prompt)

	// The phrasing prompt carries the missing field and known values only.
	assert.Contains(t, captured, "verification")
	assert.Contains(t, captured, "frequency: daily")
}
