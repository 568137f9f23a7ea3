// Package upstream implements the chat-completion client consumed by the
// stream relay. It speaks the OpenAI-compatible streaming protocol: an HTTP
// POST answered with a text/event-stream body of "data: {json}" frames
// terminated by a "data: [DONE]" sentinel.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/quizmentor-ai/quizmentor/internal/logging"
	"github.com/quizmentor-ai/quizmentor/pkg/types"
)

const defaultMaxTokens = 1024

// Config holds upstream connection settings.
type Config struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int

	// HTTPClient overrides the default client (used by tests).
	HTTPClient *http.Client
}

// Client issues streaming chat-completion calls.
type Client struct {
	cfg  Config
	http *http.Client
	log  zerolog.Logger
}

// NewClient creates a chat-completion client.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// No overall timeout: the body is a long-lived stream. Connection
		// establishment is bounded by the request context instead.
		httpClient = &http.Client{}
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Client{
		cfg:  cfg,
		http: httpClient,
		log:  logging.Component("upstream"),
	}
}

// UpstreamError is returned when the provider answers with a non-success
// status. It carries the raw body for diagnostics; callers must not forward
// it verbatim to end users.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Body)
}

// chatRequest is the wire format of the completion request.
type chatRequest struct {
	Model     string              `json:"model"`
	Messages  []types.ChatMessage `json:"messages"`
	Stream    bool                `json:"stream"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
}

// Stream opens one streaming completion call. The returned Stream is lazy,
// finite and non-restartable; the caller owns it and must Close it.
//
// Connection-level failures before the first byte are retried with bounded
// exponential backoff. HTTP error statuses are never retried.
func (c *Client) Stream(ctx context.Context, messages []types.ChatMessage) (*Stream, error) {
	payload, err := json.Marshal(chatRequest{
		Model:     c.cfg.Model,
		Messages:  messages,
		Stream:    true,
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	var resp *http.Response
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(payload))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "text/event-stream")
		if c.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
		}

		resp, err = c.http.Do(req) //nolint:bodyclose // closed by Stream.Close
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err // connect error, retryable
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(200*time.Millisecond),
		backoff.WithMaxInterval(2*time.Second),
	), 2), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		resp.Body.Close()
		return nil, &UpstreamError{Status: resp.StatusCode, Body: string(body)}
	}

	return newStream(resp.Body, c.log), nil
}
