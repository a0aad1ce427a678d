// Package integrity implements the corpus-wide integrity check of spec.md
// §4.10: a thin fan-out over zstdio.Probe across a set of discovered
// monthly files, bounded by the same semaphore-based concurrency primitive
// C6's scheduler uses for its worker pool
package integrity

import (
	"context"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"redarc/internal/adapters/zstdio"
	"redarc/internal/core/corpus"
)

// Suspect describes one file that failed its integrity probe
type Suspect struct {
	Path     string
	Category zstdio.FailureCategory
	Err      error
}

// Config controls the probe fan-out
type Config struct {
	Mode        zstdio.ProbeMode
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = runtime.NumCPU()
	}
	return c
}

// Check probes every file and returns the suspects, sorted by path. Never
// mutates any input file. The only error it returns is cancellation;
// per-file probe failures are reported as Suspect entries, not errors
func Check(ctx context.Context, files []corpus.MonthlyFile, cfg Config) ([]Suspect, error) {
	cfg = cfg.withDefaults()

	var mu sync.Mutex
	var suspects []Suspect

	sem := semaphore.NewWeighted(int64(cfg.Concurrency))
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range files {
		f := f
		if err := sem.Acquire(gctx, 1); err != nil {
			g.Go(func() error { return err })
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := gctx.Err(); err != nil {
				return err
			}
			result := zstdio.Probe(f.Path, cfg.Mode)
			if result.Suspect() {
				mu.Lock()
				suspects = append(suspects, Suspect{Path: f.Path, Category: result.Category, Err: result.Err})
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(suspects, func(i, j int) bool { return suspects[i].Path < suspects[j].Path })
	return suspects, nil
}
