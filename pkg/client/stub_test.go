package client

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/Sternrassler/llm-guard/pkg/llm"
)

// stubInvoker replays scripted errors and then returns result.
type stubInvoker struct {
	mu     sync.Mutex
	errs   []error
	result *llm.Result
	calls  atomic.Int32
	seen   []llm.Request
	opts   []llm.Options
}

func (s *stubInvoker) Invoke(_ context.Context, req llm.Request, opts llm.Options) (*llm.Result, error) {
	n := int(s.calls.Add(1))

	s.mu.Lock()
	s.seen = append(s.seen, req)
	s.opts = append(s.opts, opts)
	s.mu.Unlock()

	if n <= len(s.errs) {
		return nil, s.errs[n-1]
	}
	return s.result.Clone(), nil
}

func (s *stubInvoker) lastRequest() llm.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[len(s.seen)-1]
}

// echoInvoker answers completions with the prompt.
var echoInvoker = llm.InvokerFunc(func(_ context.Context, req llm.Request, _ llm.Options) (*llm.Result, error) {
	return &llm.Result{Text: req.Prompt}, nil
})

// metricsRecorder captures OnComplete calls.
type metricsRecorder struct {
	mu      sync.Mutex
	metrics []Metrics
}

func (r *metricsRecorder) hooks() Hooks {
	return Hooks{OnComplete: func(m Metrics) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.metrics = append(r.metrics, m)
	}}
}

func (r *metricsRecorder) all() []Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Metrics(nil), r.metrics...)
}
