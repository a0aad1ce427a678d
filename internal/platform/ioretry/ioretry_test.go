package ioretry

import (
	"context"
	"io/fs"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	perr "redarc/internal/platform/errors"
)

func TestDo_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxDelay: time.Millisecond}, func() error {
		calls++
		if calls < 3 {
			return &fs.PathError{Op: "open", Path: "x", Err: syscall.EAGAIN}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestDo_PermanentErrorShortCircuits(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxDelay: time.Millisecond}, func() error {
		calls++
		return &fs.PathError{Op: "open", Path: "x", Err: syscall.ENOENT}
	})
	require.Error(t, err)
	require.Equal(t, 1, calls)
}

func TestDo_ExhaustsAttemptsAndReportsPermanent(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Config{MaxAttempts: 3, MaxDelay: time.Millisecond}, func() error {
		calls++
		return &fs.PathError{Op: "open", Path: "x", Err: syscall.EAGAIN}
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)
	require.Equal(t, perr.ErrorCodeIOPermanent, perr.CodeOf(err))
}

func TestDo_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, Config{MaxDelay: time.Millisecond}, func() error {
		return &fs.PathError{Op: "open", Path: "x", Err: syscall.EAGAIN}
	})
	require.Error(t, err)
	require.Equal(t, perr.ErrorCodeCancelled, perr.CodeOf(err))
}

func TestDo_OnRetryCallback(t *testing.T) {
	var attempts []int
	calls := 0
	err := Do(context.Background(), Config{
		MaxDelay: time.Millisecond,
		OnRetry:  func(attempt int, _ error) { attempts = append(attempts, attempt) },
	}, func() error {
		calls++
		if calls < 2 {
			return &fs.PathError{Op: "open", Path: "x", Err: syscall.EBUSY}
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []int{1}, attempts)
}
