package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"buddy/types"
)

func TestClientRespectsTimeoutPolicy(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(5 * time.Second)
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "test-key", Protocol: ProtocolCompletions}, 50*time.Millisecond)
	request := types.ChatRequest{Model: "dummy-model", Messages: []types.Message{types.NewUserMessage("hello")}}

	_, err := client.Chat(context.Background(), request)
	if err == nil {
		t.Fatalf("expected a timeout error")
	}
	apiErr, ok := err.(*Error)
	if !ok || apiErr.Transport == nil {
		t.Fatalf("expected a transport error, got %v", err)
	}
}

func TestClientRetriesTransient429WithRetryAfter(t *testing.T) {
	var attempts atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "ok",
			"choices": []map[string]any{
				{"index": 0, "message": map[string]any{"role": "assistant", "content": "done"}, "finish_reason": "stop"},
			},
		})
	}))
	defer server.Close()

	retryPolicy := RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	client := NewWithRetryPolicy(Config{BaseURL: server.URL, APIKey: "test-key", Protocol: ProtocolCompletions}, 3*time.Second, retryPolicy)
	request := types.ChatRequest{Model: "dummy-model", Messages: []types.Message{types.NewUserMessage("hello")}}

	response, err := client.Chat(context.Background(), request)
	if err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}
	if response.Choices[0].Message.Content == nil || *response.Choices[0].Message.Content != "done" {
		t.Fatalf("unexpected response body: %+v", response)
	}
}

func TestClientAddsProtocolMismatchHintTo404(t *testing.T) {
	client := NewWithRetryPolicy(Config{BaseURL: "https://example.com/v1", Protocol: ProtocolResponses}, time.Second, DefaultRetryPolicy())
	err := client.withDiagnosticHints(newStatusError(404, "not found", nil))
	if !strings.Contains(err.Body, "/responses") || !strings.Contains(err.Body, `api = "completions"`) {
		t.Fatalf("missing hint: %s", err.Body)
	}
}

func TestClientRewrites401ToLoginRequiredWhenNoAPIKeyConfigured(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"unauthorized"}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, Protocol: ProtocolCompletions}, time.Second)
	request := types.ChatRequest{Model: "dummy-model", Messages: []types.Message{types.NewUserMessage("hello")}}

	_, err := client.Chat(context.Background(), request)
	apiErr, ok := err.(*Error)
	if !ok || apiErr.LoginRequired == "" {
		t.Fatalf("expected a LoginRequired error, got %v", err)
	}
}

func TestClient401WithAPIKeyConfiguredStaysAPlainStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"bad key"}`))
	}))
	defer server.Close()

	client := New(Config{BaseURL: server.URL, APIKey: "bad-key", Protocol: ProtocolCompletions}, time.Second)
	request := types.ChatRequest{Model: "dummy-model", Messages: []types.Message{types.NewUserMessage("hello")}}

	_, err := client.Chat(context.Background(), request)
	apiErr, ok := err.(*Error)
	if !ok || apiErr.LoginRequired != "" || apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected a plain 401 status error, got %v", err)
	}
}
