package wecom

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCache(t *testing.T) {
	t.Run("second get within validity does not refetch", func(t *testing.T) {
		tc := NewTokenCache(5 * time.Minute)
		var calls int32
		fetch := func(ctx context.Context) (string, time.Duration, error) {
			atomic.AddInt32(&calls, 1)
			return "tok-1", 2 * time.Hour, nil
		}

		tok, err := tc.Get(context.Background(), "corp1", fetch)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)

		tok, err = tc.Get(context.Background(), "corp1", fetch)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("refetches after expiry margin", func(t *testing.T) {
		tc := NewTokenCache(5 * time.Minute)
		current := time.Unix(1672531200, 0)
		tc.now = func() time.Time { return current }

		var calls int32
		fetch := func(ctx context.Context) (string, time.Duration, error) {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				return "tok-1", 2 * time.Hour, nil
			}
			return "tok-2", 2 * time.Hour, nil
		}

		tok, err := tc.Get(context.Background(), "corp1", fetch)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)

		// 114 minutes in, still inside the 115-minute usable window.
		current = current.Add(114 * time.Minute)
		tok, err = tc.Get(context.Background(), "corp1", fetch)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)

		// Past the margin boundary a fresh token is fetched.
		current = current.Add(2 * time.Minute)
		tok, err = tc.Get(context.Background(), "corp1", fetch)
		require.NoError(t, err)
		assert.Equal(t, "tok-2", tok)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("concurrent misses coalesce into one fetch", func(t *testing.T) {
		tc := NewTokenCache(5 * time.Minute)
		var calls int32
		fetch := func(ctx context.Context) (string, time.Duration, error) {
			atomic.AddInt32(&calls, 1)
			time.Sleep(20 * time.Millisecond)
			return "tok-1", 2 * time.Hour, nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tok, err := tc.Get(context.Background(), "corp1", fetch)
				assert.NoError(t, err)
				assert.Equal(t, "tok-1", tok)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("keys are independent", func(t *testing.T) {
		tc := NewTokenCache(5 * time.Minute)
		fetchFor := func(tok string) fetchTokenFunc {
			return func(ctx context.Context) (string, time.Duration, error) {
				return tok, 2 * time.Hour, nil
			}
		}

		a, err := tc.Get(context.Background(), "corpA", fetchFor("tok-a"))
		require.NoError(t, err)
		b, err := tc.Get(context.Background(), "corpB", fetchFor("tok-b"))
		require.NoError(t, err)
		assert.Equal(t, "tok-a", a)
		assert.Equal(t, "tok-b", b)
		assert.Equal(t, 2, tc.Size())
	})

	t.Run("fetch error is not cached", func(t *testing.T) {
		tc := NewTokenCache(5 * time.Minute)
		var calls int32
		fetch := func(ctx context.Context) (string, time.Duration, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return "", 0, errors.New("upstream down")
			}
			return "tok-1", 2 * time.Hour, nil
		}

		_, err := tc.Get(context.Background(), "corp1", fetch)
		require.Error(t, err)
		assert.Zero(t, tc.Size())

		tok, err := tc.Get(context.Background(), "corp1", fetch)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)
	})

	t.Run("invalidate forces refetch", func(t *testing.T) {
		tc := NewTokenCache(5 * time.Minute)
		var calls int32
		fetch := func(ctx context.Context) (string, time.Duration, error) {
			atomic.AddInt32(&calls, 1)
			return "tok-1", 2 * time.Hour, nil
		}

		_, err := tc.Get(context.Background(), "corp1", fetch)
		require.NoError(t, err)
		tc.Invalidate("corp1")

		_, err = tc.Get(context.Background(), "corp1", fetch)
		require.NoError(t, err)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})
}
