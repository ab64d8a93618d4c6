// Package batch embeds large input sets through any llm.Invoker.
//
// Inputs are split into fixed-size batches that a worker pool sends through
// the pipeline in parallel. Each batch is an ordinary call, so caching, rate
// limiting and retries apply per batch. Results are reassembled in input
// order.
//
// Example usage:
//
//	runner := batch.NewRunner(client, batch.DefaultConfig())
//	vectors, err := runner.Embed(ctx, texts, llm.Options{Name: "index_docs"})
//
// The runner:
//   - Splits inputs into batches of BatchSize
//   - Spawns a worker pool (default 4 workers)
//   - Stops at the first failed batch and cancels the rest
//   - Logs progress every 10 batches
package batch
