// ABOUTME: Tests for the LLM gateway against a fake chat completions server
// ABOUTME: Verifies request shape, reply trimming, errors and rate limiting

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/helpdesk-gateway/internal/config"
)

type chatRequest struct {
	Model    string `json:"model"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func fakeServer(t *testing.T, reply string, seen *chatRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(seen))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "test-model",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": reply},
				"finish_reason": "stop",
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(baseURL string) config.LLMConfig {
	return config.LLMConfig{
		BaseURL:   baseURL + "/v1",
		APIKey:    "test-key",
		Model:     "test-model",
		MaxTokens: 64,
		Timeout:   5 * time.Second,
	}
}

func TestOpenAIClient_Complete(t *testing.T) {
	var seen chatRequest
	srv := fakeServer(t, "  42 \n", &seen)

	c := NewOpenAIClient(testConfig(srv.URL))
	out, err := c.Complete(context.Background(), "system prompt", "user prompt")
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	assert.Equal(t, "test-model", seen.Model)
	require.Len(t, seen.Messages, 2)
	assert.Equal(t, "system", seen.Messages[0].Role)
	assert.Equal(t, "system prompt", seen.Messages[0].Content)
	assert.Equal(t, "user", seen.Messages[1].Role)
	assert.Equal(t, "user prompt", seen.Messages[1].Content)
}

func TestOpenAIClient_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"message":"upstream down","type":"server_error"}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient(testConfig(srv.URL))
	_, err := c.Complete(context.Background(), "s", "u")
	assert.Error(t, err)
}

func TestDisabled(t *testing.T) {
	_, err := Disabled{}.Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestNew(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	assert.IsType(t, Disabled{}, New(config.LLMConfig{}, logger))
	assert.IsType(t, &OpenAIClient{}, New(config.LLMConfig{APIKey: "k"}, logger))
	assert.IsType(t, &RateLimited{}, New(config.LLMConfig{APIKey: "k", RequestsPerMinute: 60}, logger))
}

func TestRateLimited_RespectsContext(t *testing.T) {
	var calls int
	next := CompleterFunc(func(ctx context.Context, system, user string) (string, error) {
		calls++
		return "ok", nil
	})
	r := NewRateLimited(next, 1)

	out, err := r.Complete(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	// The bucket is empty for the next minute.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = r.Complete(ctx, "s", "u")
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithMetrics_PassesThrough(t *testing.T) {
	boom := errors.New("boom")
	c := WithMetrics(CompleterFunc(func(ctx context.Context, system, user string) (string, error) {
		return "", boom
	}), "test")

	_, err := c.Complete(context.Background(), "s", "u")
	assert.ErrorIs(t, err, boom)
}
