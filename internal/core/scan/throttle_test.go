package scan

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/mem"
	"github.com/stretchr/testify/require"

	"redarc/internal/platform/testkit"
)

func TestThrottle_ShrinksOnHighWaterAndRestoresOnLow(t *testing.T) {
	th := newThrottle(1000, 8, 4000)
	require.Equal(t, int32(8), th.WorkerSlots())
	require.Equal(t, int32(4000), th.BatchLines())

	var highFired, lowFired int
	noop := func() {}

	th.sample(850, func() { highFired++ }, noop, noop) // above 80% of 1000
	require.Equal(t, 1, highFired)
	require.True(t, th.high.Load())
	require.Equal(t, int32(4), th.WorkerSlots())
	require.Equal(t, int32(1000), th.BatchLines())

	// repeated high samples do not re-fire onHigh
	th.sample(900, func() { highFired++ }, noop, noop)
	require.Equal(t, 1, highFired)
	require.Equal(t, int32(2), th.WorkerSlots()) // halved again

	th.sample(500, noop, func() { lowFired++ }, noop) // below 60% of 1000
	require.Equal(t, 1, lowFired)
	require.False(t, th.high.Load())
	require.Equal(t, int32(8), th.WorkerSlots())
	require.Equal(t, int32(4000), th.BatchLines())
}

func TestThrottle_WorkerSlotsNeverDropBelowOne(t *testing.T) {
	th := newThrottle(1000, 1, 4)
	noop := func() {}
	th.sample(900, noop, noop, noop)
	require.Equal(t, int32(1), th.WorkerSlots())
	require.Equal(t, int32(1), th.BatchLines())
}

func TestThrottle_ExhaustsAfterSustainedPressure(t *testing.T) {
	th := newThrottle(1000, 8, 4000)
	noop := func() {}
	var exhausted int
	for i := int32(0); i < exhaustionSamples-1; i++ {
		th.sample(900, noop, noop, func() { exhausted++ })
	}
	require.Equal(t, 0, exhausted)
	require.False(t, th.Exhausted())

	th.sample(900, noop, noop, func() { exhausted++ })
	require.Equal(t, 1, exhausted)
	require.True(t, th.Exhausted())

	// further high samples do not re-fire onExhausted
	th.sample(900, noop, noop, func() { exhausted++ })
	require.Equal(t, 1, exhausted)
}

func TestThrottle_RunDrivesCallbacksThroughVirtualMemorySeam(t *testing.T) {
	// run() mutates the package-level virtualMemory seam; keep serial so a
	// parallel sibling can't observe a half-swapped func var
	testkit.Serial(t)

	var used atomic.Int64
	testkit.Swap(t, &virtualMemory, func(_ context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Used: uint64(used.Load())}, nil
	})

	th := newThrottle(1000, 8, 4000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	highFired := make(chan struct{}, 1)
	lowFired := make(chan struct{}, 1)
	used.Store(900) // above 80% of 1000
	go th.run(ctx, func() { highFired <- struct{}{} }, func() { lowFired <- struct{}{} }, func() {})

	select {
	case <-highFired:
	case <-time.After(2 * time.Second):
		t.Fatal("onHigh never fired through the virtualMemory seam")
	}
	require.Equal(t, int32(4), th.WorkerSlots())

	used.Store(500) // below 60% of 1000
	select {
	case <-lowFired:
	case <-time.After(2 * time.Second):
		t.Fatal("onLow never fired through the virtualMemory seam")
	}
	require.Equal(t, int32(8), th.WorkerSlots())
}

func TestThrottle_RunIgnoresSeamErrors(t *testing.T) {
	testkit.Serial(t)

	testkit.Swap(t, &virtualMemory, func(_ context.Context) (*mem.VirtualMemoryStat, error) {
		return nil, errors.New("probe unavailable")
	})

	th := newThrottle(1000, 8, 4000)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sampled bool
	done := make(chan struct{})
	go func() {
		th.run(ctx, func() { sampled = true }, func() { sampled = true }, func() { sampled = true })
		close(done)
	}()

	time.Sleep(3 * sampleInterval)
	cancel()
	<-done
	require.False(t, sampled, "a probe error must not be treated as a sample")
}

func TestThrottle_LowSampleResetsConsecutiveCounter(t *testing.T) {
	th := newThrottle(1000, 8, 4000)
	noop := func() {}
	for i := 0; i < 10; i++ {
		th.sample(900, noop, noop, noop)
	}
	th.sample(500, noop, noop, noop)
	require.Equal(t, int32(0), th.consecutive.Load())
}
