package scan

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/pbnjay/memory"
	"github.com/shirou/gopsutil/v4/mem"
)

// sampleInterval is the memory-sampling cadence of spec.md §4.6
const sampleInterval = 500 * time.Millisecond

// exhaustionSamples is N consecutive high-watermark samples (30s at
// sampleInterval) after which the scan aborts with a memory-pressure
// exhaustion error, per spec.md §7 kind 7
const exhaustionSamples = int32(30 * time.Second / sampleInterval)

// throttle samples resident memory against configured watermarks and
// exposes the current worker-slot and batch-line budget as atomics the
// worker loop reads between batches, per spec.md §4.6's three throttle
// actions. Grounded on the teacher's atomic-counter style (sync/atomic
// fields read across goroutines without a lock) used throughout
// backfill/service.go (e.g. `fails int64`)
type throttle struct {
	budget    int64
	highWater int64
	lowWater  int64

	maxWorkers  int32
	maxBatch    int32
	workerSlots atomic.Int32
	batchLines  atomic.Int32
	high        atomic.Bool
	consecutive atomic.Int32
	exhausted   atomic.Bool
}

func newThrottle(memoryBudget int64, maxWorkers, batchLines int) *throttle {
	budget := memoryBudget
	if budget <= 0 {
		budget = int64(memory.TotalMemory()) * 3 / 4
	}
	t := &throttle{
		budget:     budget,
		highWater:  budget * 80 / 100,
		lowWater:   budget * 60 / 100,
		maxWorkers: int32(maxWorkers),
		maxBatch:   int32(batchLines),
	}
	t.workerSlots.Store(int32(maxWorkers))
	t.batchLines.Store(int32(batchLines))
	return t
}

// virtualMemory is a seam over gopsutil's system-memory probe so tests can
// drive run() through deterministic pressure sequences instead of depending
// on the real host's memory usage. Grounded on the teacher's
// store/pg.newPool seam (pg.go: "var newPool = pgxpool.NewWithConfig")
var virtualMemory = mem.VirtualMemoryWithContext

// run samples memory until ctx is done, updating slot/batch budgets and
// calling onHigh or onLow once per high/low watermark crossing and
// onExhausted once after sustained pressure
func (t *throttle) run(ctx context.Context, onHigh, onLow func(), onExhausted func()) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			vm, err := virtualMemory(ctx)
			if err != nil {
				continue
			}
			t.sample(int64(vm.Used), onHigh, onLow, onExhausted)
		}
	}
}

func (t *throttle) sample(used int64, onHigh, onLow func(), onExhausted func()) {
	switch {
	case used >= t.highWater:
		if !t.high.Swap(true) {
			onHigh()
		}
		t.shrink()
		n := t.consecutive.Add(1)
		if n >= exhaustionSamples && !t.exhausted.Swap(true) {
			onExhausted()
		}
	case used <= t.lowWater:
		if t.high.Swap(false) {
			onLow()
		}
		t.consecutive.Store(0)
		t.restore()
	}
}

// shrink halves worker slots (floor 1) and cuts batch size to 25%
func (t *throttle) shrink() {
	for {
		cur := t.workerSlots.Load()
		next := cur / 2
		if next < 1 {
			next = 1
		}
		if next == cur || t.workerSlots.CompareAndSwap(cur, next) {
			break
		}
	}
	quarter := t.maxBatch / 4
	if quarter < 1 {
		quarter = 1
	}
	t.batchLines.Store(quarter)
}

// restore returns worker slots and batch size to their configured maxima
func (t *throttle) restore() {
	t.workerSlots.Store(t.maxWorkers)
	t.batchLines.Store(t.maxBatch)
}

// WorkerSlots returns the current per-file worker budget
func (t *throttle) WorkerSlots() int32 { return t.workerSlots.Load() }

// BatchLines returns the current batch line-count budget
func (t *throttle) BatchLines() int32 { return t.batchLines.Load() }

// Exhausted reports whether throttle gave up after sustained pressure
func (t *throttle) Exhausted() bool { return t.exhausted.Load() }
