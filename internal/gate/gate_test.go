package gate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	return New(Config{
		MinInterval: 40 * time.Millisecond,
		Cooldown:    10 * time.Millisecond,
		MaxRetries:  3,
	})
}

func rateLimitedErr() error {
	return fmt.Errorf("getAccountInfo: %w", solana.ErrRateLimited)
}

func TestExecute_Success(t *testing.T) {
	g := newTestGate(t)

	v, ok, err := Execute(context.Background(), g, func(context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, v)
	assert.Equal(t, int64(1), g.Stats().Attempts)
	assert.Equal(t, int64(1), g.Stats().Succeeded)
}

func TestExecute_EnforcesMinInterval(t *testing.T) {
	g := newTestGate(t)
	ctx := context.Background()

	var starts []time.Time
	op := func(context.Context) (struct{}, error) {
		starts = append(starts, time.Now())
		return struct{}{}, nil
	}

	for i := 0; i < 3; i++ {
		_, ok, err := Execute(ctx, g, op)
		require.NoError(t, err)
		require.True(t, ok)
	}

	require.Len(t, starts, 3)
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), 40*time.Millisecond)
	}
}

func TestExecute_RetriesRateLimitThenSucceeds(t *testing.T) {
	g := newTestGate(t)
	calls := 0

	v, ok, err := Execute(context.Background(), g, func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", rateLimitedErr()
		}
		return "done", nil
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "done", v)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(2), g.Stats().RateLimited)
}

func TestExecute_ExhaustedRetriesReturnNoResult(t *testing.T) {
	g := newTestGate(t)
	calls := 0

	v, ok, err := Execute(context.Background(), g, func(context.Context) (*int, error) {
		calls++
		return nil, errors.New("HTTP 429 Too Many Requests")
	})
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, 4, calls, "first attempt plus three retries")

	stats := g.Stats()
	assert.Equal(t, int64(1), stats.Exhausted)
	assert.Equal(t, int64(4), stats.RateLimited)
}

func TestExecute_OtherErrorsPropagate(t *testing.T) {
	g := newTestGate(t)
	boom := errors.New("connection refused")
	calls := 0

	_, ok, err := Execute(context.Background(), g, func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), g.Stats().Failures)
}

func TestExecute_UpdatesLastRequestOnFailure(t *testing.T) {
	g := newTestGate(t)
	assert.True(t, g.LastRequest().IsZero())

	before := time.Now()
	_, _, _ = Execute(context.Background(), g, func(context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	assert.False(t, g.LastRequest().Before(before))
}

func TestExecute_ContextCancelledDuringCooldown(t *testing.T) {
	g := New(Config{MinInterval: time.Millisecond, Cooldown: time.Hour, MaxRetries: 3})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		_, _, err := Execute(ctx, g, func(context.Context) (int, error) {
			return 0, rateLimitedErr()
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Execute did not return after cancel")
	}
}

func TestExecute_SerializesConcurrentCallers(t *testing.T) {
	g := New(Config{MinInterval: 5 * time.Millisecond, Cooldown: time.Millisecond, MaxRetries: 0})

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = Execute(context.Background(), g, func(context.Context) (int, error) {
				n := inFlight.Add(1)
				for {
					m := maxInFlight.Load()
					if n <= m || maxInFlight.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inFlight.Add(-1)
				return 0, nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, int64(8), g.Stats().Attempts)
}

func TestWithClassifier(t *testing.T) {
	custom := errors.New("slow down")
	g := New(Config{MinInterval: time.Millisecond, Cooldown: time.Millisecond, MaxRetries: 1},
		WithClassifier(func(err error) bool { return errors.Is(err, custom) }))

	_, ok, err := Execute(context.Background(), g, func(context.Context) (int, error) {
		return 0, custom
	})
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(2), g.Stats().Attempts)
}
