package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/loungehq/curator/internal/config"
)

func newTestQueue(t *testing.T, guard DedupGuard) *JobQueue {
	t.Helper()
	return NewJobQueue(&config.QueueConfig{
		Workers:    2,
		BufferSize: 16,
		JobTimeout: "1s",
		MaxRetries: 3,
		RetryDelay: "10ms",
	}, guard, zap.NewNop())
}

// memoryGuard is an in-process DedupGuard for tests.
type memoryGuard struct {
	mu   sync.Mutex
	seen map[string]bool
	err  error
}

func (g *memoryGuard) MarkProcessed(_ context.Context, key string, _ time.Duration) (bool, error) {
	if g.err != nil {
		return false, g.err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen == nil {
		g.seen = make(map[string]bool)
	}
	if g.seen[key] {
		return false, nil
	}
	g.seen[key] = true
	return true, nil
}

func TestJobQueue(t *testing.T) {
	t.Run("executes a submitted job", func(t *testing.T) {
		q := newTestQueue(t, nil)
		done := make(chan struct{})
		q.Register(JobTypeScore, func(context.Context) error {
			close(done)
			return nil
		})

		require.NoError(t, q.Start(context.Background()))
		defer q.Stop(context.Background())

		job, err := q.Submit(JobTypeScore, "")
		require.NoError(t, err)
		assert.NotEmpty(t, job.ID)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job never executed")
		}
	})

	t.Run("submit before start is rejected", func(t *testing.T) {
		q := newTestQueue(t, nil)
		q.Register(JobTypeScore, func(context.Context) error { return nil })

		_, err := q.Submit(JobTypeScore, "")
		assert.ErrorIs(t, err, ErrQueueNotRunning)
	})

	t.Run("unregistered job type is rejected", func(t *testing.T) {
		q := newTestQueue(t, nil)
		require.NoError(t, q.Start(context.Background()))
		defer q.Stop(context.Background())

		_, err := q.Submit(JobType("export"), "")
		assert.Error(t, err)
	})

	t.Run("failed job is retried until it succeeds", func(t *testing.T) {
		q := newTestQueue(t, nil)

		var attempts atomic.Int32
		done := make(chan struct{})
		q.Register(JobTypeReconcile, func(context.Context) error {
			if attempts.Add(1) < 3 {
				return fmt.Errorf("transient failure")
			}
			close(done)
			return nil
		})

		require.NoError(t, q.Start(context.Background()))
		defer q.Stop(context.Background())

		_, err := q.Submit(JobTypeReconcile, "")
		require.NoError(t, err)

		select {
		case <-done:
			assert.EqualValues(t, 3, attempts.Load())
		case <-time.After(2 * time.Second):
			t.Fatal("job was not retried to completion")
		}
	})

	t.Run("retries stop after the limit", func(t *testing.T) {
		q := newTestQueue(t, nil)

		var attempts atomic.Int32
		q.Register(JobTypeReconcile, func(context.Context) error {
			attempts.Add(1)
			return fmt.Errorf("permanent failure")
		})

		require.NoError(t, q.Start(context.Background()))
		defer q.Stop(context.Background())

		_, err := q.Submit(JobTypeReconcile, "")
		require.NoError(t, err)

		// MaxRetries 3 means 1 initial attempt + 3 retries.
		assert.Eventually(t, func() bool {
			return attempts.Load() == 4
		}, 2*time.Second, 10*time.Millisecond)

		time.Sleep(100 * time.Millisecond)
		assert.EqualValues(t, 4, attempts.Load())
	})

	t.Run("dedup guard suppresses duplicate keys", func(t *testing.T) {
		q := newTestQueue(t, &memoryGuard{})

		var runs atomic.Int32
		q.Register(JobTypeScore, func(context.Context) error {
			runs.Add(1)
			return nil
		})

		require.NoError(t, q.Start(context.Background()))
		defer q.Stop(context.Background())

		for i := 0; i < 3; i++ {
			_, err := q.Submit(JobTypeScore, "score-hourly")
			require.NoError(t, err)
		}

		assert.Eventually(t, func() bool {
			return runs.Load() == 1
		}, 2*time.Second, 10*time.Millisecond)

		time.Sleep(100 * time.Millisecond)
		assert.EqualValues(t, 1, runs.Load())
	})

	t.Run("guard failure does not block execution", func(t *testing.T) {
		q := newTestQueue(t, &memoryGuard{err: fmt.Errorf("redis down")})

		done := make(chan struct{})
		q.Register(JobTypeScore, func(context.Context) error {
			close(done)
			return nil
		})

		require.NoError(t, q.Start(context.Background()))
		defer q.Stop(context.Background())

		_, err := q.Submit(JobTypeScore, "score-hourly")
		require.NoError(t, err)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("job should run when the guard is unavailable")
		}
	})

	t.Run("submit racing stop does not panic", func(t *testing.T) {
		q := newTestQueue(t, nil)
		q.Register(JobTypeScore, func(context.Context) error { return nil })
		require.NoError(t, q.Start(context.Background()))

		// Hammer Submit from another goroutine until shutdown is observed;
		// a send that slips past the running check during Stop must land in
		// the buffer instead of panicking.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, err := q.Submit(JobTypeScore, "")
				if errors.Is(err, ErrQueueNotRunning) {
					return
				}
			}
		}()

		time.Sleep(10 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, q.Stop(ctx))

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("submitter never observed shutdown")
		}

		_, err := q.Submit(JobTypeScore, "")
		assert.ErrorIs(t, err, ErrQueueNotRunning)
	})

	t.Run("stop drains in-flight work", func(t *testing.T) {
		q := newTestQueue(t, nil)

		var finished atomic.Bool
		q.Register(JobTypeScore, func(context.Context) error {
			time.Sleep(50 * time.Millisecond)
			finished.Store(true)
			return nil
		})

		require.NoError(t, q.Start(context.Background()))
		_, err := q.Submit(JobTypeScore, "")
		require.NoError(t, err)

		// Give a worker time to pick the job up before stopping.
		time.Sleep(10 * time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, q.Stop(ctx))
		assert.True(t, finished.Load())
	})
}
