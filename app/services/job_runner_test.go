package services

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRunner(t *testing.T, workers, queue int, timeout time.Duration) *PondJobRunner {
	t.Helper()
	runner, err := NewJobRunner(context.Background(), JobRunnerConfig{
		Workers:   workers,
		QueueSize: queue,
		Timeout:   timeout,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(runner.Stop)
	return runner
}

func TestNewJobRunnerValidatesConfig(t *testing.T) {
	_, err := NewJobRunner(context.Background(), JobRunnerConfig{Workers: 0, QueueSize: 1}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewJobRunner(context.Background(), JobRunnerConfig{Workers: 1, QueueSize: 0}, zap.NewNop())
	assert.Error(t, err)
}

func TestJobRunnerRunsTasks(t *testing.T) {
	runner := newTestRunner(t, 2, 8, time.Second)

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, runner.Submit("export", "job", func(ctx context.Context) error {
			done.Add(1)
			return nil
		}))
	}

	assert.Eventually(t, func() bool { return done.Load() == 5 }, 2*time.Second, 10*time.Millisecond)
}

func TestJobRunnerQueueFull(t *testing.T) {
	runner := newTestRunner(t, 1, 1, 5*time.Second)

	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, runner.Submit("export", "running", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started

	require.NoError(t, runner.Submit("export", "waiting", func(ctx context.Context) error { return nil }))
	require.Eventually(t, func() bool { return runner.pool.WaitingTasks() == 1 }, time.Second, 5*time.Millisecond)

	err := runner.Submit("export", "rejected", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
}

func TestJobRunnerTimeoutAndPanic(t *testing.T) {
	runner := newTestRunner(t, 1, 4, 20*time.Millisecond)

	deadline := make(chan error, 1)
	require.NoError(t, runner.Submit("snapshot", "slow", func(ctx context.Context) error {
		<-ctx.Done()
		deadline <- ctx.Err()
		return ctx.Err()
	}))
	select {
	case err := <-deadline:
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	case <-time.After(2 * time.Second):
		t.Fatal("job context was never cancelled")
	}

	var after atomic.Bool
	require.NoError(t, runner.Submit("snapshot", "panics", func(ctx context.Context) error {
		panic("boom")
	}))
	require.NoError(t, runner.Submit("snapshot", "after-panic", func(ctx context.Context) error {
		after.Store(true)
		return nil
	}))
	assert.Eventually(t, after.Load, 2*time.Second, 10*time.Millisecond)
}

func TestJobRunnerStop(t *testing.T) {
	runner, err := NewJobRunner(context.Background(), JobRunnerConfig{Workers: 1, QueueSize: 4}, zap.NewNop())
	require.NoError(t, err)

	var finished atomic.Bool
	require.NoError(t, runner.Submit("export", "drained", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil
	}))

	runner.Stop()
	assert.True(t, finished.Load(), "Stop waits for queued jobs")
	assert.ErrorIs(t, runner.Submit("export", "late", func(ctx context.Context) error { return nil }), ErrRunnerStopped)

	// idempotent
	runner.Stop()
}
