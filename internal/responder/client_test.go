package responder

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dev2prod/concierge/internal/composer"
)

func completionJSON(content, finish string, tokens int) string {
	resp := map[string]any{
		"choices": []map[string]any{
			{
				"message":       map[string]string{"content": content},
				"finish_reason": finish,
			},
		},
		"usage": map[string]int{"total_tokens": tokens},
	}
	b, _ := json.Marshal(resp)
	return string(b)
}

func testMessages() []composer.Message {
	return []composer.Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "what do you offer?"},
	}
}

func TestGenerate_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.Model != "gpt-4o-mini" || len(req.Messages) != 2 {
			t.Errorf("request = %+v", req)
		}
		w.Write([]byte(completionJSON("We offer DevOps and cloud architecture services.", "stop", 42)))
	}))
	defer srv.Close()

	c := NewClient("sk-test", srv.URL, "gpt-4o-mini", 5*time.Second)
	resp, err := c.Generate(context.Background(), testMessages(), 500, 0.7)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if resp.Content != "We offer DevOps and cloud architecture services." {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.TokensUsed != 42 {
		t.Errorf("TokensUsed = %d, want 42", resp.TokensUsed)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if resp.Confidence != 0.9 {
		t.Errorf("Confidence = %v, want 0.9", resp.Confidence)
	}
	if resp.Latency <= 0 {
		t.Errorf("Latency = %v, want > 0", resp.Latency)
	}
}

func TestGenerate_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(completionJSON("recovered after retries, all good here", "stop", 10)))
	}))
	defer srv.Close()

	c := NewClient("sk-test", srv.URL, "gpt-4o-mini", 5*time.Second)
	resp, err := c.Generate(context.Background(), testMessages(), 500, 0.7)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	if resp.Content == "" {
		t.Error("empty content after recovery")
	}
}

func TestGenerate_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("sk-test", srv.URL, "gpt-4o-mini", 5*time.Second)
	_, err := c.Generate(context.Background(), testMessages(), 500, 0.7)
	if err == nil {
		t.Fatal("Generate succeeded, want error after exhausted retries")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		t.Errorf("exhausted retries reported as fatal: %v", err)
	}
}

func TestGenerate_FatalNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "invalid api key"}`))
	}))
	defer srv.Close()

	c := NewClient("sk-bad", srv.URL, "gpt-4o-mini", 5*time.Second)
	_, err := c.Generate(context.Background(), testMessages(), 500, 0.7)

	var fatal *FatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("err = %v, want *FatalError", err)
	}
	if fatal.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", fatal.Status)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1 (no retry on fatal)", calls.Load())
	}
}

func TestGenerate_TokenEstimateWhenUsageMissing(t *testing.T) {
	content := "a reply that is exactly forty characters!"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(completionJSON(content, "stop", 0)))
	}))
	defer srv.Close()

	c := NewClient("sk-test", srv.URL, "gpt-4o-mini", 5*time.Second)
	resp, err := c.Generate(context.Background(), testMessages(), 500, 0.7)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := composer.EstimateTokens(content)
	if resp.TokensUsed != want {
		t.Errorf("TokensUsed = %d, want estimate %d", resp.TokensUsed, want)
	}
}

func TestGenerate_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient("sk-test", srv.URL, "gpt-4o-mini", 5*time.Second)
	_, err := c.Generate(ctx, testMessages(), 500, 0.7)
	if err == nil {
		t.Fatal("Generate succeeded with cancelled context")
	}
}
