// Package responder calls the upstream language-model provider through an
// OpenAI-compatible chat-completions API and normalizes the result for the
// orchestrator: content, token usage, latency, and a heuristic confidence.
package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/dev2prod/concierge/internal/composer"
)

const (
	defaultTimeout = 30 * time.Second
	maxAttempts    = 3
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second
)

// Response is the normalized result of one completion call.
type Response struct {
	Content      string
	TokensUsed   int
	Latency      time.Duration
	Confidence   float64
	FinishReason string
}

// FatalError marks a non-transient provider failure (bad credentials,
// malformed request). It is never retried.
type FatalError struct {
	Status  int
	Message string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("responder: fatal provider error (HTTP %d): %s", e.Status, e.Message)
}

// transientError marks a retryable failure: timeout, network error, 429, 5xx.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Client talks to the provider.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewClient creates a Client for the given provider. timeout <= 0 uses the
// 30s default.
func NewClient(apiKey, baseURL, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type chatRequest struct {
	Model       string             `json:"model"`
	Messages    []composer.Message `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float64            `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate runs one completion with up to 3 attempts on transient failures,
// backing off exponentially between attempts. Non-transient failures return
// immediately as *FatalError.
func (c *Client) Generate(ctx context.Context, messages []composer.Message, maxTokens int, temperature float64) (Response, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshaling request: %w", err)
	}

	start := time.Now()
	var lastErr error
	for attempt := range maxAttempts {
		resp, err := c.doGenerate(ctx, body)
		if err == nil {
			resp.Latency = time.Since(start)
			return resp, nil
		}

		var te *transientError
		if !errors.As(err, &te) {
			return Response{}, err
		}

		lastErr = err
		if attempt < maxAttempts-1 {
			backoff := time.Duration(float64(initialBackoff) * math.Pow(2, float64(attempt)))
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	return Response{}, fmt.Errorf("responder: giving up after %d attempts: %w", maxAttempts, lastErr)
}

func (c *Client) doGenerate(ctx context.Context, body []byte) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, ctx.Err()
		}
		// Timeouts and connection failures are retryable.
		return Response{}, &transientError{fmt.Errorf("executing request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		msg := strings.TrimSpace(string(respBody))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return Response{}, &transientError{fmt.Errorf("provider status %d: %s", resp.StatusCode, msg)}
		}
		return Response{}, &FatalError{Status: resp.StatusCode, Message: msg}
	}

	var parsed chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Response{}, &transientError{fmt.Errorf("decoding response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return Response{}, &transientError{errors.New("provider returned no choices")}
	}

	content := parsed.Choices[0].Message.Content
	finish := parsed.Choices[0].FinishReason

	tokens := parsed.Usage.TotalTokens
	if tokens == 0 {
		tokens = composer.EstimateTokens(content)
	}

	return Response{
		Content:      content,
		TokensUsed:   tokens,
		Confidence:   Score(finish, content),
		FinishReason: finish,
	}, nil
}
