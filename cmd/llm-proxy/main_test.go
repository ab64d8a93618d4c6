package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/llm-guard/internal/testutil"
	"github.com/Sternrassler/llm-guard/pkg/batch"
	"github.com/Sternrassler/llm-guard/pkg/cache"
	"github.com/Sternrassler/llm-guard/pkg/client"
	"github.com/Sternrassler/llm-guard/pkg/provider"
	"github.com/Sternrassler/llm-guard/pkg/retry"
)

func setupProxy(t *testing.T) (*httptest.Server, *testutil.MockProvider) {
	t.Helper()

	mock := testutil.NewMockProvider()
	t.Cleanup(mock.Close)

	core, err := provider.New(provider.Config{
		BaseURL:        mock.URL(),
		Model:          "test-model",
		EmbeddingModel: "test-embed",
	})
	if err != nil {
		t.Fatalf("provider.New() error = %v", err)
	}

	c, err := client.New(core, client.Config{
		Store: cache.NewMemoryStore(),
		Retry: retry.Policy{MaxAttempts: 2, Backoff: retry.Backoff{Base: time.Millisecond, Max: time.Millisecond}},
		Hooks: client.PrometheusHooks(),
	})
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}

	srv := httptest.NewServer(newMux(c, batch.NewRunner(c, batch.Config{BatchSize: 2, MaxConcurrency: 2})))
	t.Cleanup(srv.Close)
	return srv, mock
}

func post(t *testing.T, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("body = %q, want OK", string(body))
	}
}

func TestCompleteEndpoint_CachesSecondCall(t *testing.T) {
	srv, mock := setupProxy(t)

	body := `{"prompt": "hello {who}", "name": "greet", "variables": {"who": "world"}}`
	for i := 0; i < 2; i++ {
		resp, data := post(t, srv.URL+"/v1/complete", body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d, body %s", resp.StatusCode, data)
		}

		var res struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal(data, &res); err != nil {
			t.Fatalf("decode response: %v", err)
		}
		if res.Text != "hello world" {
			t.Errorf("text = %q, want %q", res.Text, "hello world")
		}
	}

	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("provider requests = %d, want 1 (second call cached)", got)
	}
}

func TestCompleteEndpoint_BadRequests(t *testing.T) {
	srv, mock := setupProxy(t)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"prompt":`},
		{"empty prompt", `{"name": "x"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := post(t, srv.URL+"/v1/complete", tt.body)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", resp.StatusCode)
			}
		})
	}

	if got := mock.GetRequestCount(); got != 0 {
		t.Errorf("provider requests = %d, want 0", got)
	}
}

func TestCompleteEndpoint_ProviderRejects(t *testing.T) {
	srv, mock := setupProxy(t)
	mock.Enqueue(provider.EndpointChat, testutil.NewBadRequestResponse("context length exceeded"))

	resp, data := post(t, srv.URL+"/v1/complete", `{"prompt": "too long"}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if !strings.Contains(string(data), "context length exceeded") {
		t.Errorf("body = %s, want provider message", data)
	}
	if got := mock.GetRequestCount(); got != 1 {
		t.Errorf("provider requests = %d, want 1 (fatal errors are not retried)", got)
	}
}

func TestEmbedEndpoint(t *testing.T) {
	srv, mock := setupProxy(t)

	resp, data := post(t, srv.URL+"/v1/embed", `{"inputs": ["a", "b", "c", "d", "e"], "name": "docs"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, data)
	}

	var res embedResponse
	if err := json.Unmarshal(data, &res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(res.Embeddings) != 5 {
		t.Fatalf("len(embeddings) = %d, want 5", len(res.Embeddings))
	}
	// The mock encodes the position within each batch of 2 in the first dimension.
	for i, v := range res.Embeddings {
		if want := float32(i % 2); v[0] != want {
			t.Errorf("embeddings[%d][0] = %v, want %v", i, v[0], want)
		}
	}
	if got := mock.GetRequestCount(); got != 3 {
		t.Errorf("provider requests = %d, want 3 batches", got)
	}
}

func TestEmbedEndpoint_EmptyInputs(t *testing.T) {
	srv, _ := setupProxy(t)

	resp, _ := post(t, srv.URL+"/v1/embed", `{"inputs": []}`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _ := setupProxy(t)

	if resp, _ := post(t, srv.URL+"/v1/complete", `{"prompt": "ping", "name": "metrics_check"}`); resp.StatusCode != http.StatusOK {
		t.Fatalf("complete status = %d", resp.StatusCode)
	}

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	for _, want := range []string{"# HELP", `llm_invocations_total{operation="metrics_check",status="success"}`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"cancelled", fmt.Errorf("%w: %w", retry.ErrContextCancelled, context.Canceled), http.StatusGatewayTimeout},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"exhausted", &retry.RetriesExhaustedError{Operation: "x", Attempts: 3}, http.StatusServiceUnavailable},
		{"invalid json", client.ErrInvalidJSON, http.StatusUnprocessableEntity},
		{"validation", client.ErrValidationFailed, http.StatusUnprocessableEntity},
		{"client status", &provider.StatusError{StatusCode: 404}, http.StatusNotFound},
		{"server status", &provider.StatusError{StatusCode: 503}, http.StatusBadGateway},
		{"other", io.ErrUnexpectedEOF, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err); got != tt.want {
				t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
