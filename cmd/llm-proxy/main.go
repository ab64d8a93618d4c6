// Command llm-proxy serves the llm-guard pipeline over HTTP.
//
// Routes:
//
//	POST /v1/complete  {"prompt": "...", "name": "...", "json": false, ...}
//	POST /v1/embed     {"inputs": ["..."], "name": "..."}
//	GET  /health
//	GET  /metrics
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/llm-guard/pkg/batch"
	"github.com/Sternrassler/llm-guard/pkg/client"
	"github.com/Sternrassler/llm-guard/pkg/config"
	"github.com/Sternrassler/llm-guard/pkg/llm"
	"github.com/Sternrassler/llm-guard/pkg/logging"
	"github.com/Sternrassler/llm-guard/pkg/metrics"
	"github.com/Sternrassler/llm-guard/pkg/provider"
	"github.com/Sternrassler/llm-guard/pkg/ratelimit"
	"github.com/Sternrassler/llm-guard/pkg/retry"
	"github.com/rs/zerolog/log"
)

const requestTimeout = 5 * time.Minute

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"CONFIG"), "path to YAML config")
	flag.Parse()

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("llm-proxy failed")
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Setup(logging.FromConfig(cfg.Log))

	tracker := ratelimit.NewTracker(ratelimit.DefaultTrackerConfig(), logging.NewLogger("tracker"))

	core, err := provider.FromConfig(cfg.Provider, tracker)
	if err != nil {
		return fmt.Errorf("create provider: %w", err)
	}

	hooks := client.MergeHooks(client.PrometheusHooks(), client.LoggingHooks(logging.NewLogger("llm-calls")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	llmClient, err := client.FromConfig(ctx, cfg, core, hooks, tracker)
	if err != nil {
		return err
	}
	defer llmClient.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newMux(llmClient, batch.NewRunner(llmClient, batch.DefaultConfig())),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("model", cfg.Provider.Model).
			Msg("Starting llm-proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down llm-proxy")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newMux(inv llm.Invoker, runner *batch.Runner) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /v1/complete", completeHandler(inv))
	mux.HandleFunc("POST /v1/embed", embedHandler(runner))
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

type completeRequest struct {
	Prompt     string            `json:"prompt"`
	Name       string            `json:"name"`
	JSON       bool              `json:"json"`
	Variables  map[string]string `json:"variables"`
	History    []llm.Message     `json:"history"`
	Parameters map[string]any    `json:"parameters"`
}

type embedRequest struct {
	Inputs []string `json:"inputs"`
	Name   string   `json:"name"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func completeHandler(inv llm.Invoker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req completeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
		if req.Prompt == "" {
			writeError(w, http.StatusBadRequest, errors.New("prompt is required"))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		res, err := inv.Invoke(ctx, llm.Completion(req.Prompt), llm.Options{
			Name:       req.Name,
			JSON:       req.JSON,
			Variables:  req.Variables,
			History:    req.History,
			Parameters: req.Parameters,
		})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		if res == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func embedHandler(runner *batch.Runner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
		if len(req.Inputs) == 0 {
			writeError(w, http.StatusBadRequest, errors.New("inputs are required"))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
		defer cancel()

		vectors, err := runner.Embed(ctx, req.Inputs, llm.Options{Name: req.Name})
		if err != nil {
			writeError(w, statusFor(err), err)
			return
		}
		writeJSON(w, http.StatusOK, embedResponse{Embeddings: vectors})
	}
}

// statusFor maps pipeline errors onto proxy status codes.
func statusFor(err error) int {
	var status *provider.StatusError
	switch {
	case errors.Is(err, retry.ErrContextCancelled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, retry.ErrRetriesExhausted):
		return http.StatusServiceUnavailable
	case errors.Is(err, client.ErrInvalidJSON), errors.Is(err, client.ErrValidationFailed):
		return http.StatusUnprocessableEntity
	case errors.As(err, &status) && status.StatusCode < 500:
		return status.StatusCode
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
