package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(url string, retries int, timeout time.Duration) *Client {
	return NewClient(ClientConfig{
		APIKey:       "test-key",
		BaseURL:      url + "/",
		Timeout:      timeout,
		MaxRetries:   retries,
		RetryBackoff: time.Millisecond,
	})
}

func TestClientCompleteSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var payload struct {
			Model     string `json:"model"`
			MaxTokens int    `json:"max_tokens"`
			Messages  []struct {
				Role    string          `json:"role"`
				Content json.RawMessage `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || len(payload.Messages) != 2 || payload.MaxTokens != 300 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if payload.Messages[0].Role != "system" || payload.Messages[1].Role != "user" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model":"gpt-4o-mini-2024",
			"choices":[{"message":{"role":"assistant","content":"  a short summary "}}],
			"usage":{"prompt_tokens":123,"completion_tokens":22,"total_tokens":145}
		}`))
	}))
	defer server.Close()

	result, err := testClient(server.URL, 1, 2*time.Second).Complete(context.Background(), ChatRequest{
		Model:           "gpt-4o-mini",
		Instructions:    "Summarize",
		Parts:           []ContentPart{TextPart("some text")},
		MaxOutputTokens: 300,
	})
	require.NoError(t, err)
	assert.Equal(t, "a short summary", result.Text)
	assert.Equal(t, "gpt-4o-mini-2024", result.ModelID)
	assert.Equal(t, 145, result.Usage.TotalTokens)
}

func TestClientRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate_limited"}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer server.Close()

	result, err := testClient(server.URL, 2, 2*time.Second).Complete(context.Background(), ChatRequest{Model: "m", Parts: []ContentPart{TextPart("x")}})
	require.NoError(t, err)
	assert.Equal(t, "m", result.ModelID)
	assert.EqualValues(t, 2, calls.Load())
}

func TestClientGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, err := testClient(server.URL, 2, 2*time.Second).Complete(context.Background(), ChatRequest{Model: "m", Parts: []ContentPart{TextPart("x")}})
	var httpErr *providerHTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.EqualValues(t, 3, calls.Load())
}

func TestClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad image"}`))
	}))
	defer server.Close()

	_, err := testClient(server.URL, 3, 2*time.Second).Complete(context.Background(), ChatRequest{Model: "m", Parts: []ContentPart{TextPart("x")}})
	var httpErr *providerHTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Contains(t, httpErr.Message, "bad image")
	assert.EqualValues(t, 1, calls.Load())
}

func TestClientParsesArrayContent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"line 1"},{"type":"text","text":" "},{"type":"text","text":"line 2"}]}}]
		}`))
	}))
	defer server.Close()

	result, err := testClient(server.URL, 0, 2*time.Second).Complete(context.Background(), ChatRequest{Model: "m", Parts: []ContentPart{TextPart("x")}})
	require.NoError(t, err)
	assert.Equal(t, "line 1\nline 2", result.Text)
}

func TestClientRejectsEmptyOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"   "}}]}`))
	}))
	defer server.Close()

	_, err := testClient(server.URL, 0, 2*time.Second).Complete(context.Background(), ChatRequest{Model: "m", Parts: []ContentPart{TextPart("x")}})
	assert.ErrorContains(t, err, "without text output")
}

func TestClientRetriesPerAttemptTimeout(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	_, err := testClient(server.URL, 1, 50*time.Millisecond).Complete(context.Background(), ChatRequest{Model: "m", Parts: []ContentPart{TextPart("x")}})
	var timeout *timeoutError
	require.ErrorAs(t, err, &timeout)
	assert.EqualValues(t, 2, calls.Load())
}

func TestClientStopsWhenCallerCancels(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := testClient(server.URL, 3, 5*time.Second).Complete(ctx, ChatRequest{Model: "m", Parts: []ContentPart{TextPart("x")}})
	require.Error(t, err)
	var timeout *timeoutError
	assert.False(t, errors.As(err, &timeout))
	assert.EqualValues(t, 1, calls.Load())
}

func TestClientUnavailableWithoutKey(t *testing.T) {
	client := NewClient(ClientConfig{})
	assert.False(t, client.Available())
	_, err := client.Complete(context.Background(), ChatRequest{Model: "m", Parts: []ContentPart{TextPart("x")}})
	assert.ErrorIs(t, err, ErrUnavailable)
}
