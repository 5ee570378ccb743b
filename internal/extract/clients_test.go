package extract

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAnthropicComplete(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" || r.Header.Get("x-api-key") != "sk-ant" || r.Header.Get("anthropic-version") != "2023-06-01" {
			http.Error(w, "bad request shape", http.StatusBadRequest)
			return
		}
		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MaxTokens != 4000 || req.Messages[0].Content != "hello" {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"{\"interventions\":[]}"}]}`))
	}))
	t.Cleanup(srv.Close)

	c := NewAnthropic(AnthropicConfig{APIKey: "sk-ant", BaseURL: srv.URL}, srv.Client())
	require.Equal(t, "anthropic", c.Name())
	out, err := c.Complete(context.Background(), "hello", 4000)
	require.NoError(t, err)
	require.Equal(t, `{"interventions":[]}`, out)
}

func TestAnthropicServiceError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"type":"overloaded_error"}}`, http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	_, err := NewAnthropic(AnthropicConfig{APIKey: "k", BaseURL: srv.URL}, srv.Client()).Complete(context.Background(), "x", 10)
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.Equal(t, http.StatusInternalServerError, svcErr.StatusCode)
	require.False(t, svcErr.Quota())

	_, err = NewAnthropic(AnthropicConfig{}, nil).Complete(context.Background(), "x", 10)
	require.ErrorContains(t, err, "missing api key")
}

func TestOpenAICompatibleComplete(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/v1/chat/completions" || r.Header.Get("Authorization") != "Bearer gsk" {
			http.Error(w, "bad request shape", http.StatusBadRequest)
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model != DefaultGroqModel {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"answer"}}]}`))
	}))
	t.Cleanup(srv.Close)

	c := NewGroq(OpenAIConfig{APIKey: "gsk", BaseURL: srv.URL + "/openai/v1/"}, srv.Client())
	require.Equal(t, "groq", c.Name())
	out, err := c.Complete(context.Background(), "prompt", 100)
	require.NoError(t, err)
	require.Equal(t, "answer", out)
}

func TestOpenAIQuotaError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	t.Cleanup(srv.Close)

	_, err := NewOpenAI(OpenAIConfig{APIKey: "sk", BaseURL: srv.URL}, srv.Client()).Complete(context.Background(), "x", 10)
	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	require.True(t, svcErr.Quota())
	require.Equal(t, "openai", svcErr.Provider)
}
