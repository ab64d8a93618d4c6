// Package provider is an HTTP client for OpenAI-compatible chat completion
// and embedding APIs. It is the bare core of the pipeline: one attempt per
// Invoke, with failures typed so the retry layer can classify them.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/llm-guard/pkg/config"
	"github.com/Sternrassler/llm-guard/pkg/llm"
	"github.com/Sternrassler/llm-guard/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Endpoint paths relative to BaseURL.
const (
	EndpointChat       = "/chat/completions"
	EndpointEmbeddings = "/embeddings"
)

// maxErrorBody limits how much of an error body is kept in messages.
const maxErrorBody = 512

// Config holds the provider client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Model is the default chat model.
	Model string

	// EmbeddingModel is the default embedding model.
	EmbeddingModel string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// HTTPClient overrides the HTTP client (for testing).
	HTTPClient *http.Client

	// Tracker receives rate limit headers from every response.
	Tracker *ratelimit.Tracker

	Logger *zerolog.Logger
}

// Client calls the provider API.
type Client struct {
	httpClient *http.Client
	config     Config
	logger     zerolog.Logger
}

// New creates a provider client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := log.With().Str("component", "provider").Logger()
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}

	return &Client{
		httpClient: httpClient,
		config:     cfg,
		logger:     logger,
	}, nil
}

// FromConfig creates a client from loaded configuration.
func FromConfig(cfg config.ProviderConfig, tracker *ratelimit.Tracker) (*Client, error) {
	return New(Config{
		BaseURL:        cfg.BaseURL,
		APIKey:         cfg.APIKey,
		Model:          cfg.Model,
		EmbeddingModel: cfg.EmbeddingModel,
		Timeout:        cfg.Timeout,
		Tracker:        tracker,
	})
}

// Invoke implements llm.Invoker.
func (c *Client) Invoke(ctx context.Context, req llm.Request, opts llm.Options) (*llm.Result, error) {
	if req.Kind == llm.KindEmbedding {
		return c.embed(ctx, req, opts)
	}
	return c.complete(ctx, req, opts)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
	} `json:"usage"`
}

func (c *Client) complete(ctx context.Context, req llm.Request, opts llm.Options) (*llm.Result, error) {
	messages := make([]chatMessage, 0, len(opts.History)+1)
	for _, m := range opts.History {
		messages = append(messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, chatMessage{Role: llm.RoleUser, Content: req.Prompt})

	body := c.body(c.config.Model, opts.Parameters)
	body["messages"] = messages
	if opts.JSON {
		body["response_format"] = map[string]string{"type": "json_object"}
	}

	var resp chatResponse
	if err := c.post(ctx, EndpointChat, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 {
		return nil, ErrEmptyResponse
	}

	return &llm.Result{
		Text: resp.Choices[0].Message.Content,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (c *Client) embed(ctx context.Context, req llm.Request, opts llm.Options) (*llm.Result, error) {
	model := c.config.EmbeddingModel
	if model == "" {
		model = c.config.Model
	}

	body := c.body(model, opts.Parameters)
	body["input"] = req.Inputs

	var resp embeddingResponse
	if err := c.post(ctx, EndpointEmbeddings, body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) != len(req.Inputs) {
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs", ErrEmptyResponse, len(resp.Data), len(req.Inputs))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		vectors[i] = d.Embedding
	}

	return &llm.Result{
		Embeddings: vectors,
		Usage:      llm.Usage{InputTokens: resp.Usage.PromptTokens},
	}, nil
}

// body starts a request body from the model and per-call parameters. A
// "model" parameter overrides the default model.
func (c *Client) body(model string, params map[string]any) map[string]any {
	body := make(map[string]any, len(params)+3)
	body["model"] = model
	for k, v := range params {
		body[k] = v
	}
	return body
}

// post sends one JSON request and decodes a 2xx response into out.
func (c *Client) post(ctx context.Context, endpoint string, body any, out any) error {
	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	c.logger.Debug().
		Str("endpoint", endpoint).
		Msg("Executing provider request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Caller cancellation is not a transport failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			requestsTotal.WithLabelValues(endpoint, "cancelled").Inc()
			return ctxErr
		}
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Provider request failed")
		errorsTotal.WithLabelValues("network").Inc()
		requestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	// Update rate limit state from headers
	if c.config.Tracker != nil {
		if err := c.config.Tracker.UpdateFromHeaders(resp.Header); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to update rate limit from headers")
		}
	}

	status := strconv.Itoa(resp.StatusCode)
	requestsTotal.WithLabelValues(endpoint, status).Inc()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		class := ClassifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()

		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("Provider request error")

		return &StatusError{
			StatusCode: resp.StatusCode,
			Class:      class,
			Message:    errorMessage(resp.Status, data),
			Wait:       parseRetryAfter(resp.Header),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorMessage prefers the provider's error.message field.
func errorMessage(status string, body []byte) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
		return envelope.Error.Message
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		return s
	}
	return status
}
