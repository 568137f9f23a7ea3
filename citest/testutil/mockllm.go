// Package testutil provides shared helpers for the end-to-end suites.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockLLMServer mimics an OpenAI-compatible streaming chat-completion
// endpoint. Responses are generated from the last user message so tests can
// assert on deterministic content.
type MockLLMServer struct {
	server *httptest.Server

	mu       sync.Mutex
	requests []MockRequest

	// interval between streamed chunks; zero streams as fast as possible.
	chunkInterval time.Duration
	// failStatus, when non-zero, makes the endpoint return that HTTP status.
	failStatus int
}

// MockRequest records one incoming completion request for verification.
type MockRequest struct {
	Timestamp time.Time
	Model     string
	Messages  []map[string]string
}

// NewMockLLMServer starts a mock completion server.
func NewMockLLMServer() *MockLLMServer {
	m := &MockLLMServer{}

	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", m.handleChatCompletions)
	mux.HandleFunc("/v1/chat/completions", m.handleChatCompletions)

	m.server = httptest.NewServer(mux)
	return m
}

// URL returns the mock server's base URL.
func (m *MockLLMServer) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockLLMServer) Close() {
	m.server.Close()
}

// Requests returns all recorded completion requests.
func (m *MockLLMServer) Requests() []MockRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockRequest(nil), m.requests...)
}

// SetChunkInterval throttles streamed chunks (zero disables throttling).
func (m *MockLLMServer) SetChunkInterval(d time.Duration) {
	m.mu.Lock()
	m.chunkInterval = d
	m.mu.Unlock()
}

// SetFailStatus makes subsequent calls fail with the given HTTP status.
// Zero restores normal streaming.
func (m *MockLLMServer) SetFailStatus(status int) {
	m.mu.Lock()
	m.failStatus = status
	m.mu.Unlock()
}

func (m *MockLLMServer) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.mu.Lock()
	failStatus := m.failStatus
	interval := m.chunkInterval
	m.mu.Unlock()

	if failStatus != 0 {
		http.Error(w, `{"error":{"message":"mock upstream failure"}}`, failStatus)
		return
	}

	var req struct {
		Model    string `json:"model"`
		Stream   bool   `json:"stream"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	recorded := MockRequest{Timestamp: time.Now(), Model: req.Model}
	lastUser := ""
	for _, msg := range req.Messages {
		recorded.Messages = append(recorded.Messages, map[string]string{"role": msg.Role, "content": msg.Content})
		if msg.Role == "user" {
			lastUser = msg.Content
		}
	}
	m.mu.Lock()
	m.requests = append(m.requests, recorded)
	m.mu.Unlock()

	m.writeStreamingResponse(w, r, generateReply(lastUser), interval)
}

// generateReply produces a deterministic tutor-flavored reply.
func generateReply(prompt string) string {
	switch {
	case strings.Contains(prompt, "slow"):
		return strings.Repeat("Let me think about this a bit more. ", 40)
	case prompt == "":
		return "I need a question to explain."
	default:
		return fmt.Sprintf("Good try! Here is why: the key idea behind %q is worth reviewing.", firstWords(prompt, 6))
	}
}

func firstWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}

// writeStreamingResponse streams the reply word by word as SSE chunks,
// terminated by the [DONE] sentinel.
func (m *MockLLMServer) writeStreamingResponse(w http.ResponseWriter, r *http.Request, reply string, interval time.Duration) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	writeChunk := func(delta map[string]any, finish any) bool {
		chunk := map[string]any{
			"id":      "chatcmpl-mock",
			"object":  "chat.completion.chunk",
			"created": time.Now().Unix(),
			"model":   "mock-tutor",
			"choices": []map[string]any{{
				"index":         0,
				"delta":         delta,
				"finish_reason": finish,
			}},
		}
		data, _ := json.Marshal(chunk)
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	// Role-only opener, matching real providers.
	if !writeChunk(map[string]any{"role": "assistant"}, nil) {
		return
	}

	words := strings.SplitAfter(reply, " ")
	for _, word := range words {
		if word == "" {
			continue
		}
		if interval > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(interval):
			}
		}
		if !writeChunk(map[string]any{"content": word}, nil) {
			return
		}
	}

	writeChunk(map[string]any{}, "stop")
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
