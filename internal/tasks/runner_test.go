package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/audittrail/internal/telemetry"
)

func newTestRunner(t *testing.T, workers int) (*Runner, *telemetry.Metrics) {
	t.Helper()
	m := telemetry.NewMetrics(false)
	var n atomic.Int64
	r := NewRunner(RunnerOptions{
		Workers: workers,
		Metrics: m,
		NewID:   func() string { return fmt.Sprintf("job-%d", n.Add(1)) },
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r, m
}

func waitTerminal(t *testing.T, r *Runner, id string) Job {
	t.Helper()
	var job Job
	require.Eventually(t, func() bool {
		var ok bool
		job, ok = r.Get(id)
		return ok && job.Status.Terminal()
	}, 5*time.Second, time.Millisecond)
	return job
}

func TestScheduleReturnsQueuedAck(t *testing.T) {
	r, _ := newTestRunner(t, 1)
	release := make(chan struct{})

	job, err := r.Schedule("archive", func(context.Context) (any, error) {
		<-release
		return nil, nil
	}, RetryPolicy{MaxAttempts: 1})
	require.NoError(t, err)

	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "archive", job.Name)
	assert.Equal(t, StatusQueued, job.Status)
	assert.False(t, job.QueuedAt.IsZero())

	close(release)
	done := waitTerminal(t, r, job.ID)
	assert.Equal(t, StatusSucceeded, done.Status)
}

func TestJobRecordsResult(t *testing.T) {
	r, _ := newTestRunner(t, 1)

	job, err := r.Schedule("archive", func(context.Context) (any, error) {
		return map[string]int{"moved": 3}, nil
	}, RetryPolicy{MaxAttempts: 1})
	require.NoError(t, err)

	done := waitTerminal(t, r, job.ID)
	assert.Equal(t, StatusSucceeded, done.Status)
	assert.Equal(t, 1, done.Attempts)
	assert.Equal(t, map[string]int{"moved": 3}, done.Result)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.FinishedAt)
	assert.Empty(t, done.Error)
}

func TestJobRetriesThenSucceeds(t *testing.T) {
	r, m := newTestRunner(t, 1)
	var calls atomic.Int32

	job, err := r.Schedule("archive", func(context.Context) (any, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("store unavailable")
		}
		return nil, nil
	}, RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond})
	require.NoError(t, err)

	done := waitTerminal(t, r, job.ID)
	assert.Equal(t, StatusSucceeded, done.Status)
	assert.Equal(t, 3, done.Attempts)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RetryExhausted.WithLabelValues("archive")))
}

func TestJobFailsAfterRetryExhausted(t *testing.T) {
	r, m := newTestRunner(t, 1)

	job, err := r.Schedule("archive", func(context.Context) (any, error) {
		return nil, errors.New("store unavailable")
	}, RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond})
	require.NoError(t, err)

	done := waitTerminal(t, r, job.ID)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Equal(t, 3, done.Attempts)
	assert.Contains(t, done.Error, "store unavailable")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetryExhausted.WithLabelValues("archive")))
}

func TestWorkerSlotsBoundConcurrency(t *testing.T) {
	r, _ := newTestRunner(t, 2)

	var running, peak atomic.Int32
	var mu sync.Mutex
	release := make(chan struct{})
	var ids []string

	for i := 0; i < 6; i++ {
		job, err := r.Schedule("work", func(context.Context) (any, error) {
			n := running.Add(1)
			mu.Lock()
			if n > peak.Load() {
				peak.Store(n)
			}
			mu.Unlock()
			<-release
			running.Add(-1)
			return nil, nil
		}, RetryPolicy{MaxAttempts: 1})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, 5*time.Second, time.Millisecond)
	close(release)
	for _, id := range ids {
		waitTerminal(t, r, id)
	}
	assert.Equal(t, int32(2), peak.Load())
}

func TestGetUnknownJob(t *testing.T) {
	r, _ := newTestRunner(t, 1)
	_, ok := r.Get("missing")
	assert.False(t, ok)
}

func TestScheduleAfterShutdown(t *testing.T) {
	r := NewRunner(RunnerOptions{})
	require.NoError(t, r.Shutdown(context.Background()))

	_, err := r.Schedule("archive", func(context.Context) (any, error) { return nil, nil }, RetryPolicy{})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestShutdownWaitsForRunningJobs(t *testing.T) {
	r := NewRunner(RunnerOptions{Workers: 1})
	var finished atomic.Bool

	_, err := r.Schedule("slow", func(context.Context) (any, error) {
		time.Sleep(20 * time.Millisecond)
		finished.Store(true)
		return nil, nil
	}, RetryPolicy{MaxAttempts: 1})
	require.NoError(t, err)

	require.NoError(t, r.Shutdown(context.Background()))
	assert.True(t, finished.Load())
}

func TestFinishedJobsExpireAfterRetention(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	var n atomic.Int64
	r := NewRunner(RunnerOptions{
		Workers:   1,
		Now:       clock,
		NewID:     func() string { return fmt.Sprintf("job-%d", n.Add(1)) },
		Retention: time.Hour,
	})
	t.Cleanup(func() { _ = r.Shutdown(context.Background()) })

	noop := func(context.Context) (any, error) { return nil, nil }
	first, err := r.Schedule("archive", noop, RetryPolicy{MaxAttempts: 1})
	require.NoError(t, err)
	waitTerminal(t, r, first.ID)

	mu.Lock()
	now = now.Add(59 * time.Minute)
	mu.Unlock()
	second, err := r.Schedule("archive", noop, RetryPolicy{MaxAttempts: 1})
	require.NoError(t, err)
	waitTerminal(t, r, second.ID)
	_, ok := r.Get(first.ID)
	assert.True(t, ok, "job inside the retention window is kept")

	mu.Lock()
	now = now.Add(2 * time.Minute)
	mu.Unlock()
	_, err = r.Schedule("archive", noop, RetryPolicy{MaxAttempts: 1})
	require.NoError(t, err)

	_, ok = r.Get(first.ID)
	assert.False(t, ok, "expired job is evicted")
	_, ok = r.Get(second.ID)
	assert.True(t, ok)
}

func TestMaxJobsEvictsOldestFinishedOnly(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
	var n atomic.Int64
	r := NewRunner(RunnerOptions{
		Workers: 2,
		Now:     clock,
		NewID:   func() string { return fmt.Sprintf("job-%d", n.Add(1)) },
		MaxJobs: 2,
	})
	release := make(chan struct{})
	t.Cleanup(func() {
		close(release)
		_ = r.Shutdown(context.Background())
	})

	blocked, err := r.Schedule("archive", func(context.Context) (any, error) {
		<-release
		return nil, nil
	}, RetryPolicy{MaxAttempts: 1})
	require.NoError(t, err)

	noop := func(context.Context) (any, error) { return nil, nil }
	done, err := r.Schedule("archive", noop, RetryPolicy{MaxAttempts: 1})
	require.NoError(t, err)
	waitTerminal(t, r, done.ID)

	latest, err := r.Schedule("archive", noop, RetryPolicy{MaxAttempts: 1})
	require.NoError(t, err)

	_, ok := r.Get(done.ID)
	assert.False(t, ok, "finished job makes room")
	_, ok = r.Get(blocked.ID)
	assert.True(t, ok, "running job is never evicted")
	_, ok = r.Get(latest.ID)
	assert.True(t, ok)
}
