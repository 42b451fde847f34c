package drainqueue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueOrdering(t *testing.T) {
	t.Run("same lane runs tasks in fifo order", func(t *testing.T) {
		q := New(0, zerolog.Nop())
		defer q.Close(context.Background())

		var mu sync.Mutex
		var order []int

		handles := make([]*Handle, 0, 5)
		for i := 0; i < 5; i++ {
			i := i
			h, err := q.Enqueue("lane-a", func(ctx context.Context) error {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return nil
			})
			require.NoError(t, err)
			handles = append(handles, h)
		}
		for _, h := range handles {
			require.NoError(t, h.Wait(context.Background()))
		}

		assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	})

	t.Run("different lanes run concurrently", func(t *testing.T) {
		q := New(0, zerolog.Nop())
		defer q.Close(context.Background())

		aStarted := make(chan struct{})
		bStarted := make(chan struct{})

		// Each task waits for the other lane's task to start; completion
		// proves neither lane blocks the other.
		ha, err := q.Enqueue("lane-a", func(ctx context.Context) error {
			close(aStarted)
			select {
			case <-bStarted:
				return nil
			case <-time.After(2 * time.Second):
				return errors.New("lane-b never started")
			}
		})
		require.NoError(t, err)
		hb, err := q.Enqueue("lane-b", func(ctx context.Context) error {
			close(bStarted)
			select {
			case <-aStarted:
				return nil
			case <-time.After(2 * time.Second):
				return errors.New("lane-a never started")
			}
		})
		require.NoError(t, err)

		assert.NoError(t, ha.Wait(context.Background()))
		assert.NoError(t, hb.Wait(context.Background()))
	})
}

func TestQueueHandle(t *testing.T) {
	t.Run("wait returns the task error", func(t *testing.T) {
		q := New(0, zerolog.Nop())
		defer q.Close(context.Background())

		want := errors.New("drain failed")
		h, err := q.Enqueue("lane-a", func(ctx context.Context) error { return want })
		require.NoError(t, err)
		assert.ErrorIs(t, h.Wait(context.Background()), want)
	})

	t.Run("wait respects its context", func(t *testing.T) {
		q := New(0, zerolog.Nop())

		release := make(chan struct{})
		h, err := q.Enqueue("lane-a", func(ctx context.Context) error {
			<-release
			return nil
		})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, h.Wait(ctx), context.DeadlineExceeded)

		close(release)
		require.NoError(t, q.Close(context.Background()))
	})

	t.Run("panicking task resolves with an error", func(t *testing.T) {
		q := New(0, zerolog.Nop())
		defer q.Close(context.Background())

		h, err := q.Enqueue("lane-a", func(ctx context.Context) error {
			panic("boom")
		})
		require.NoError(t, err)
		assert.Error(t, h.Wait(context.Background()))
	})

	t.Run("handles have distinct ids", func(t *testing.T) {
		q := New(0, zerolog.Nop())
		defer q.Close(context.Background())

		h1, err := q.Enqueue("lane-a", func(ctx context.Context) error { return nil })
		require.NoError(t, err)
		h2, err := q.Enqueue("lane-a", func(ctx context.Context) error { return nil })
		require.NoError(t, err)
		assert.NotEqual(t, h1.ID(), h2.ID())
	})
}

func TestQueueLimits(t *testing.T) {
	t.Run("full lane rejects new tasks", func(t *testing.T) {
		q := New(1, zerolog.Nop())

		release := make(chan struct{})
		blocker := func(ctx context.Context) error {
			<-release
			return nil
		}

		// First task starts running, second fills the single backlog slot.
		first, err := q.Enqueue("lane-a", blocker)
		require.NoError(t, err)
		waitForRunning(t, q)

		_, err = q.Enqueue("lane-a", blocker)
		require.NoError(t, err)
		_, err = q.Enqueue("lane-a", func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, err, ErrLaneFull)

		close(release)
		require.NoError(t, first.Wait(context.Background()))
		require.NoError(t, q.Close(context.Background()))
	})

	t.Run("enqueue after close is rejected", func(t *testing.T) {
		q := New(0, zerolog.Nop())
		require.NoError(t, q.Close(context.Background()))

		_, err := q.Enqueue("lane-a", func(ctx context.Context) error { return nil })
		assert.ErrorIs(t, err, ErrClosed)
	})

	t.Run("close cancels the task context", func(t *testing.T) {
		q := New(0, zerolog.Nop())

		h, err := q.Enqueue("lane-a", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		require.NoError(t, err)

		require.NoError(t, q.Close(context.Background()))
		assert.ErrorIs(t, h.Wait(context.Background()), context.Canceled)
	})
}

// waitForRunning spins until the queue has picked up the head task, so the
// next Enqueue lands in the backlog rather than racing the lane start.
func waitForRunning(t *testing.T, q *Queue) {
	t.Helper()
	require.Eventually(t, func() bool {
		return q.Pending() == 0
	}, time.Second, time.Millisecond)
}
