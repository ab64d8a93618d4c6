// Package testutil provides testing utilities for llm-guard.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock provider response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockProvider is a configurable mock OpenAI-compatible server for testing.
//
// Responses queued for a path are served in order; once the queue is empty
// the default handler answers.
type MockProvider struct {
	server *httptest.Server
	mu     sync.Mutex
	queues map[string][]MockResponse

	// Tracking
	RequestCount int
	LastBody     map[string]any
	LastHeader   http.Header
}

// NewMockProvider creates a new mock provider server.
func NewMockProvider() *MockProvider {
	mock := &MockProvider{
		queues: make(map[string][]MockResponse),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		mock.mu.Lock()
		mock.RequestCount++
		mock.LastBody = body
		mock.LastHeader = r.Header.Clone()

		var resp *MockResponse
		if q := mock.queues[r.URL.Path]; len(q) > 0 {
			resp = &q[0]
			mock.queues[r.URL.Path] = q[1:]
		}
		mock.mu.Unlock()

		if resp != nil {
			writeResponse(w, *resp)
			return
		}

		// Default handler
		mock.defaultHandler(w, r, body)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockProvider) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockProvider) Close() {
	m.server.Close()
}

// Enqueue queues responses for path.
func (m *MockProvider) Enqueue(path string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[path] = append(m.queues[path], resps...)
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockProvider) GetRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// GetLastBody returns the last decoded request body.
func (m *MockProvider) GetLastBody() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastBody
}

// GetLastHeader returns the headers of the last request.
func (m *MockProvider) GetLastHeader() http.Header {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastHeader
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	if resp.Delay > 0 {
		time.Sleep(resp.Delay)
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// defaultHandler echoes the last user message for chat calls and returns
// vectors of length 3 for embedding calls.
func (m *MockProvider) defaultHandler(w http.ResponseWriter, r *http.Request, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Ratelimit-Remaining-Requests", "499")
	w.Header().Set("X-Ratelimit-Reset-Requests", "120ms")
	w.Header().Set("X-Ratelimit-Remaining-Tokens", "149000")
	w.Header().Set("X-Ratelimit-Reset-Tokens", "6m0s")

	switch r.URL.Path {
	case "/chat/completions":
		content := ""
		if msgs, ok := body["messages"].([]any); ok && len(msgs) > 0 {
			if last, ok := msgs[len(msgs)-1].(map[string]any); ok {
				content, _ = last["content"].(string)
			}
		}
		w.Write([]byte(ChatResponse(content, 10, 5)))

	case "/embeddings":
		inputs, _ := body["input"].([]any)
		w.Write([]byte(EmbeddingResponse(len(inputs))))

	default:
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": {"message": "not found"}}`))
	}
}

// ChatResponse builds a chat completion body.
func ChatResponse(content string, promptTokens, completionTokens int) string {
	data, _ := json.Marshal(map[string]any{
		"choices": []any{
			map[string]any{"index": 0, "message": map[string]string{"role": "assistant", "content": content}},
		},
		"usage": map[string]int{
			"prompt_tokens":     promptTokens,
			"completion_tokens": completionTokens,
		},
	})
	return string(data)
}

// EmbeddingResponse builds an embedding body with n vectors, returned in
// reverse index order to exercise reordering.
func EmbeddingResponse(n int) string {
	data := make([]any, 0, n)
	for i := n - 1; i >= 0; i-- {
		data = append(data, map[string]any{
			"index":     i,
			"embedding": []float32{float32(i), 0.5, 1},
		})
	}
	out, _ := json.Marshal(map[string]any{
		"data":  data,
		"usage": map[string]int{"prompt_tokens": n},
	})
	return string(out)
}

// NewChatResponse creates a 200 OK chat completion response.
func NewChatResponse(content string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       ChatResponse(content, 10, 5),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter int) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": {"message": "Rate limit reached. Please try again in ` + strconv.Itoa(retryAfter) + `s."}}`,
		Headers: map[string]string{
			"Retry-After":                    strconv.Itoa(retryAfter),
			"X-Ratelimit-Remaining-Requests": "0",
			"X-Ratelimit-Reset-Requests":     strconv.Itoa(retryAfter) + "s",
			"Content-Type":                   "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": {"message": "Internal server error"}}`,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewBadRequestResponse creates a 400 Bad Request response.
func NewBadRequestResponse(message string) MockResponse {
	data, _ := json.Marshal(map[string]any{"error": map[string]string{"message": message}})
	return MockResponse{
		StatusCode: http.StatusBadRequest,
		Body:       string(data),
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}
