// Package parallel provides the goroutine fan-out used by the CPU conv backend.
package parallel

import (
	"context"
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum rows per goroutine to avoid overhead.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64,
	}
}

// WithWorkers returns cfg using n workers; n <= 0 keeps the CPU count.
func (cfg Config) WithWorkers(n int) Config {
	if n <= 0 {
		return cfg
	}
	cfg.NumWorkers = n
	cfg.Enabled = n > 1
	return cfg
}

// ForRange splits [0, n) into contiguous chunks and runs f on each chunk.
// Chunks never overlap, so f may write to per-row output without locking.
func ForRange(n int, f func(start, end int), cfg Config) {
	if n <= 0 {
		return
	}
	if !cfg.Enabled || cfg.NumWorkers <= 1 || n < cfg.MinChunkSize {
		f(0, n)
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+cfg.NumWorkers-1)/cfg.NumWorkers, cfg.MinChunkSize)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			f(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ForContext is ForRange that skips chunks not yet started once ctx is done.
// Returns ctx.Err() if the context was cancelled before or during the run.
func ForContext(ctx context.Context, n int, f func(start, end int), cfg Config) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ForRange(n, func(start, end int) {
		if ctx.Err() != nil {
			return
		}
		f(start, end)
	}, cfg)
	return ctx.Err()
}
