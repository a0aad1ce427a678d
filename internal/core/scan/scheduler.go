// Package scan implements the per-file worker pool of spec.md §4.6: file
// concurrency F, an adaptive memory throttle, cooperative cancellation, and
// per-file failure isolation. Grounded on the teacher's
// backfill/service.Service.RunRange worker-pool shape (claim next unit of
// work, process with retry, track failures, wait for the pool to drain),
// generalized from "claim next hour from a DB coordinator" to "claim next
// MonthlyFile from an in-memory slice index", and from a hand-rolled
// channel semaphore to golang.org/x/sync/errgroup + semaphore.Weighted
package scan

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"redarc/internal/adapters/zstdio"
	"redarc/internal/core/corpus"
	"redarc/internal/core/linesource"
	"redarc/internal/core/query"
	"redarc/internal/core/record"
	"redarc/internal/core/transform"
	perr "redarc/internal/platform/errors"
	"redarc/internal/platform/ioretry"
	"redarc/internal/platform/logger"
)

// DefaultBatchBytes is the cumulative-byte batch trigger of spec.md §4.6
const DefaultBatchBytes = 1 << 20

// DefaultBatchLines is the line-count batch trigger of spec.md §4.6
const DefaultBatchLines = 4096

// Config tunes the scheduler's concurrency and throttling behavior
type Config struct {
	// FileConcurrency is F: files decoded simultaneously. <=0 uses
	// min(4, len(files))
	FileConcurrency int
	// Parallelism is P: total parse/filter worker slots. <=0 uses
	// runtime.NumCPU()
	Parallelism int
	// MaxOpenFiles additionally caps simultaneously open file descriptors,
	// independent of FileConcurrency, per SPEC_FULL.md §5's shard-aware
	// concurrency supplement. 0 means unlimited (bounded by FileConcurrency only)
	MaxOpenFiles int
	// BatchBytes and BatchLines are the two batch-size triggers; whichever
	// fires first closes the batch
	BatchBytes int
	BatchLines int
	// MemoryBudget is the absolute byte cap for the adaptive throttle; 0
	// defaults to 75% of system RAM
	MemoryBudget int64
	// WindowLog bounds zstd decoder memory; 0 uses zstdio.DefaultWindowLog
	WindowLog int
	// FailFast stops launching new files after the first file-level failure
	FailFast bool
}

func (c Config) withDefaults(fileCount int) Config {
	if c.FileConcurrency <= 0 {
		c.FileConcurrency = min(4, max(fileCount, 1))
	}
	if c.Parallelism <= 0 {
		c.Parallelism = runtime.NumCPU()
	}
	if c.BatchBytes <= 0 {
		c.BatchBytes = DefaultBatchBytes
	}
	if c.BatchLines <= 0 {
		c.BatchLines = DefaultBatchLines
	}
	return c
}

// workerPool bounds concurrent parse/filter work to P slots, per spec.md
// §4.6/§6.6's "a second weighted semaphore sized P for total parse/filter
// worker slots". Acquiring additionally blocks above the throttle's live
// WorkerSlots() budget, so a shrink under memory pressure (throttle.go's
// shrink/restore) actually throttles in-flight parse/filter concurrency
// rather than only a struct field nothing reads
type workerPool struct {
	sem      *semaphore.Weighted
	th       *throttle
	inFlight atomic.Int32
}

func newWorkerPool(parallelism int, th *throttle) *workerPool {
	return &workerPool{sem: semaphore.NewWeighted(int64(parallelism)), th: th}
}

func (w *workerPool) acquire(ctx context.Context) error {
	for w.inFlight.Load() >= w.th.WorkerSlots() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sampleInterval):
		}
	}
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	w.inFlight.Add(1)
	return nil
}

func (w *workerPool) release() {
	w.inFlight.Add(-1)
	w.sem.Release(1)
}

// Pipeline bundles the per-record stages applied after a line is parsed
type Pipeline struct {
	Query     *query.Compiled
	Transform *transform.Transform // nil means no projection
	Sink      Sink
}

// FileResult records one file's outcome
type FileResult struct {
	File         corpus.MonthlyFile
	Seen         int64
	Matched      int64
	ParseErrors  int64
	OverCapLines int64
	Err          error
}

// Result is the scheduler's run summary
type Result struct {
	Files     []FileResult
	Cancelled bool
	Exhausted bool
}

// Scheduler runs a Pipeline over a discovered file list
type Scheduler struct {
	cfg      Config
	progress Progress
}

// New constructs a Scheduler
func New(cfg Config, progress Progress) *Scheduler {
	return &Scheduler{cfg: cfg, progress: progress}
}

// Run scans files in discovery order, applying pipeline to every record
// that parses and matches. A per-file failure is recorded and the
// scheduler continues with remaining files unless Config.FailFast;
// cancellation (ctx or Progress.ShouldStop) drains in-flight files then
// returns, setting Result.Cancelled
func (s *Scheduler) Run(ctx context.Context, files []corpus.MonthlyFile, pipeline Pipeline) (Result, error) {
	cfg := s.cfg.withDefaults(len(files))
	th := newThrottle(cfg.MemoryBudget, cfg.Parallelism, cfg.BatchLines)

	runID := uuid.NewString()
	ctx = logger.WithRun(ctx, runID, "")
	runLog := logger.C(ctx)
	runLog.Info().Int("files", len(files)).Int("file_concurrency", cfg.FileConcurrency).Msg("scan run starting")

	throttleCtx, stopThrottle := context.WithCancel(ctx)
	defer stopThrottle()
	exhausted := make(chan struct{})
	go th.run(throttleCtx,
		func() {
			runLog.Warn().Msg("throttle entering high watermark, shrinking worker slots and batch size")
			s.progress.report(Event{Kind: EventThrottleHigh})
		},
		func() {
			runLog.Info().Msg("throttle dropped below low watermark, restoring worker slots and batch size")
			s.progress.report(Event{Kind: EventThrottleLow})
		},
		func() {
			runLog.Error().Msg("throttle exhausted: memory pressure not relieved within the exhaustion window")
			s.progress.report(Event{Kind: EventMemoryExhausted})
			close(exhausted)
		},
	)

	fileSem := semaphore.NewWeighted(int64(cfg.FileConcurrency))
	var fdSem *semaphore.Weighted
	if cfg.MaxOpenFiles > 0 {
		fdSem = semaphore.NewWeighted(int64(cfg.MaxOpenFiles))
	}
	pool := newWorkerPool(cfg.Parallelism, th)

	results := make([]FileResult, len(files))
	var failed atomic.Bool
	var cancelled atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range files {
		i, f := i, f

		if failed.Load() && cfg.FailFast {
			break
		}
		if s.progress.shouldStop() || gctx.Err() != nil {
			cancelled.Store(true)
			break
		}
		if err := s.waitForThrottleRoom(gctx, th, exhausted); err != nil {
			cancelled.Store(true)
			break
		}
		if err := fileSem.Acquire(gctx, 1); err != nil {
			cancelled.Store(true)
			break
		}
		if fdSem != nil {
			if err := fdSem.Acquire(gctx, 1); err != nil {
				fileSem.Release(1)
				cancelled.Store(true)
				break
			}
		}

		// Re-check after acquiring: a slot only frees once the file holding
		// it has fully recorded its outcome, so failed is now up to date
		if failed.Load() && cfg.FailFast {
			fileSem.Release(1)
			if fdSem != nil {
				fdSem.Release(1)
			}
			break
		}

		g.Go(func() error {
			defer fileSem.Release(1)
			if fdSem != nil {
				defer fdSem.Release(1)
			}
			res := s.runFile(gctx, f, pipeline, th, pool)
			results[i] = res
			if res.Err != nil {
				failed.Store(true)
				s.progress.report(Event{Kind: EventFileFailed, File: f.Path, YearMonth: f.YearMonth, Err: res.Err})
				if perr.CodeOf(res.Err) == perr.ErrorCodeCancelled {
					cancelled.Store(true)
				}
			} else {
				s.progress.report(Event{Kind: EventFileDone, File: f.Path, YearMonth: f.YearMonth})
			}
			return nil
		})
	}

	_ = g.Wait()

	out := Result{Files: results, Cancelled: cancelled.Load() || s.progress.shouldStop(), Exhausted: th.Exhausted()}
	runLog.Info().Int("files", len(out.Files)).Bool("cancelled", out.Cancelled).Bool("exhausted", out.Exhausted).Msg("scan run finished")
	if out.Exhausted {
		return out, perr.MemoryPressuref("scan: memory pressure not relieved within %s", 30*time.Second)
	}
	if out.Cancelled {
		return out, perr.Cancelledf("scan: cancelled")
	}
	return out, nil
}

// waitForThrottleRoom blocks starting a new file while the throttle is
// above its high watermark ("pauses starting new files", spec.md §4.6)
func (s *Scheduler) waitForThrottleRoom(ctx context.Context, th *throttle, exhausted <-chan struct{}) error {
	for th.high.Load() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-exhausted:
			return perr.MemoryPressuref("scan: memory pressure exhausted")
		case <-time.After(sampleInterval):
		}
		if s.progress.shouldStop() {
			return perr.Cancelledf("scan: stop requested")
		}
	}
	return nil
}

func (s *Scheduler) runFile(ctx context.Context, f corpus.MonthlyFile, p Pipeline, th *throttle, pool *workerPool) FileResult {
	res := FileResult{File: f}
	ctx = logger.WithRun(ctx, "", f.Path)
	fileLog := logger.C(ctx)
	fileLog.Info().Msg("file started")
	s.progress.report(Event{Kind: EventFileStarted, File: f.Path, YearMonth: f.YearMonth})

	var file *os.File
	openErr := ioretry.Do(ctx, ioretry.Config{
		OnRetry: func(attempt int, err error) {
			fileLog.Warn().Int("attempt", attempt).Err(err).Msg("retrying file open after transient error")
		},
	}, func() error {
		var err error
		file, err = os.Open(f.Path)
		return err
	})
	if openErr != nil {
		res.Err = perr.Wrapf(openErr, perr.ErrorCodeIOPermanent, "scan: opening %s", f.Path)
		fileLog.Error().Err(res.Err).Msg("file open exhausted retries")
		return res
	}

	zr, err := zstdio.NewReader(file, s.cfg.WindowLog)
	if err != nil {
		res.Err = err
		return res
	}
	defer func() { _ = zr.Close() }()

	var overCap int64
	scanner := linesource.New(zr, func(lineBytes int) { atomic.AddInt64(&overCap, 1) })

	// batch holds up to th.BatchLines() pending lines; flush hands them to
	// pool's P worker slots for concurrent parse/filter/transform, then
	// writes the outcomes to p.Sink sequentially in read order, satisfying
	// spec.md §5's "within one file, records reach any single sink in read
	// order" without a reorder buffer: the reorder point is simply "wait
	// for this batch's goroutines, then replay the slice in index order"
	batch := make([][]byte, 0, th.BatchLines())
	batchBytesCap := s.cfg.BatchBytes
	if batchBytesCap <= 0 {
		batchBytesCap = DefaultBatchBytes
	}
	batchBytes := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		outcomes := make([]lineOutcome, len(batch))
		g, gctx := errgroup.WithContext(ctx)
		for i, line := range batch {
			i, line := i, line
			if err := pool.acquire(gctx); err != nil {
				_ = g.Wait()
				return perr.Cancelledf("scan: cancelled reading %s", f.Path)
			}
			g.Go(func() error {
				defer pool.release()
				outcomes[i] = s.processLine(line, p)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for _, o := range outcomes {
			res.Seen++
			if o.isParseErr {
				res.ParseErrors++
				continue
			}
			if !o.matched {
				continue
			}
			if p.Sink != nil {
				if err := p.Sink.Write(f, o.out); err != nil {
					return perr.Wrapf(err, perr.ErrorCodeIOPermanent, "scan: sink write for %s", f.Path)
				}
			}
			res.Matched++
		}
		batch = batch[:0]
		return nil
	}

	for {
		line, _, err := scanner.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				res.Err = err // already a *perr.Error (ErrorCodeDecode) from linesource
			}
			break
		}

		batch = append(batch, line)
		batchBytes += len(line)
		// Batch boundary, cancellation, and throttle checks happen once per
		// batch, not per line, per spec.md §4.6; BatchLines shrinks under
		// memory pressure so both the batch size and the live worker-pool
		// concurrency (via pool.acquire's WorkerSlots check) drop together.
		// A batch also closes once its lines reach BatchBytes
		if len(batch) < int(th.BatchLines()) && batchBytes < batchBytesCap {
			continue
		}
		if err := flush(); err != nil {
			res.Err = err
			break
		}
		batchBytes = 0
		if ctx.Err() != nil {
			res.Err = perr.Cancelledf("scan: cancelled reading %s", f.Path)
			break
		}
		if s.progress.shouldStop() {
			res.Err = perr.Cancelledf("scan: stop requested reading %s", f.Path)
			break
		}
	}
	if res.Err == nil {
		if err := flush(); err != nil {
			res.Err = err
		}
	}

	res.OverCapLines = atomic.LoadInt64(&overCap)
	if res.Err != nil {
		fileLog.Error().Err(res.Err).Int64("seen", res.Seen).Msg("file failed")
	} else {
		fileLog.Info().Int64("seen", res.Seen).Int64("matched", res.Matched).Msg("file done")
	}
	return res
}

// lineOutcome is one line's parse/filter/transform result, computed
// concurrently by a pool worker and replayed in order by runFile's flush
type lineOutcome struct {
	matched    bool
	isParseErr bool
	out        any
}

// processLine parses, filters, and transforms one line. A parse failure is
// reported via isParseErr and the line is otherwise treated as unmatched
// (spec.md §7 kind 5). It never touches the sink — that happens back in
// runFile's flush, sequentially, to preserve read order across concurrent
// workers
func (s *Scheduler) processLine(line []byte, p Pipeline) lineOutcome {
	var rec record.Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return lineOutcome{isParseErr: true}
	}
	if p.Query != nil && !p.Query.Match(rec) {
		return lineOutcome{}
	}
	var out any = rec
	if p.Transform != nil {
		out = p.Transform.Apply(rec)
	}
	return lineOutcome{matched: true, out: out}
}
