package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Sternrassler/llm-guard/pkg/llm"
	"github.com/rs/zerolog/log"
)

// Config holds batch runner configuration.
type Config struct {
	// BatchSize is the number of inputs per call.
	BatchSize int

	// MaxConcurrency is the maximum number of parallel calls.
	MaxConcurrency int

	// Timeout bounds each batch call, retries included. 0 means no timeout.
	Timeout time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:      64,
		MaxConcurrency: 4,
		Timeout:        2 * time.Minute,
	}
}

// BatchError reports the first failed batch.
type BatchError struct {
	// Index is the batch number (0-based).
	Index int

	// Offset is the position of the batch's first input.
	Offset int

	Err error
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d (inputs from %d): %v", e.Index, e.Offset, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *BatchError) Unwrap() error {
	return e.Err
}

// Runner embeds inputs in parallel batches.
type Runner struct {
	invoker llm.Invoker
	config  Config
}

// NewRunner creates a runner over invoker.
func NewRunner(invoker llm.Invoker, config Config) *Runner {
	def := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = def.MaxConcurrency
	}
	return &Runner{invoker: invoker, config: config}
}

type job struct {
	index  int
	offset int
	inputs []string
}

type result struct {
	job     job
	vectors [][]float32
	err     error
}

// Embed returns one vector per input, in input order.
func (r *Runner) Embed(ctx context.Context, inputs []string, opts llm.Options) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	start := time.Now()

	jobs := r.split(inputs)
	out := make([][]float32, len(inputs))

	log.Info().
		Str("operation", opts.Name).
		Int("inputs", len(inputs)).
		Int("batches", len(jobs)).
		Msg("Starting batch embedding")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan job, len(jobs))
	for _, j := range jobs {
		queue <- j
	}
	close(queue)

	results := make(chan result, len(jobs))

	// Start worker pool
	var wg sync.WaitGroup
	workers := r.config.MaxConcurrency
	if workers > len(jobs) {
		workers = len(jobs)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go r.worker(ctx, opts, queue, results, &wg)
	}

	// Close results channel when all workers done
	go func() {
		wg.Wait()
		close(results)
	}()

	var firstErr *BatchError
	fail := func(j job, err error) {
		if firstErr == nil {
			firstErr = &BatchError{Index: j.index, Offset: j.offset, Err: err}
			cancel()
		}
	}

	done := 0
	for res := range results {
		if res.err != nil {
			fail(res.job, res.err)
			continue
		}
		if len(res.vectors) != len(res.job.inputs) {
			fail(res.job, fmt.Errorf("got %d vectors for %d inputs", len(res.vectors), len(res.job.inputs)))
			continue
		}

		copy(out[res.job.offset:], res.vectors)
		done++

		if done%10 == 0 {
			log.Info().
				Int("batches_done", done).
				Int("batches_total", len(jobs)).
				Msg("Batch embedding progress")
		}
	}

	if firstErr != nil {
		log.Warn().
			Err(firstErr.Err).
			Int("batch", firstErr.Index).
			Int("batches_done", done).
			Msg("Batch embedding failed")
		return nil, firstErr
	}

	log.Info().
		Int("inputs", len(inputs)).
		Int("batches", len(jobs)).
		Dur("duration", time.Since(start)).
		Msg("Batch embedding complete")

	return out, nil
}

func (r *Runner) split(inputs []string) []job {
	jobs := make([]job, 0, (len(inputs)+r.config.BatchSize-1)/r.config.BatchSize)
	for offset := 0; offset < len(inputs); offset += r.config.BatchSize {
		end := offset + r.config.BatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		jobs = append(jobs, job{index: len(jobs), offset: offset, inputs: inputs[offset:end]})
	}
	return jobs
}

// worker processes batches from the queue.
func (r *Runner) worker(ctx context.Context, opts llm.Options, queue <-chan job, results chan<- result, wg *sync.WaitGroup) {
	defer wg.Done()

	for j := range queue {
		if err := ctx.Err(); err != nil {
			results <- result{job: j, err: err}
			continue
		}

		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if r.config.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		}
		res, err := r.invoker.Invoke(callCtx, llm.Embedding(j.inputs...), opts)
		cancel()

		if err != nil {
			results <- result{job: j, err: err}
			continue
		}
		var vectors [][]float32
		if res != nil {
			vectors = res.Embeddings
		}
		results <- result{job: j, vectors: vectors}
	}
}
