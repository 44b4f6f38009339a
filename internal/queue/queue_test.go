package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nexus-trading/forkwatch/internal/feed"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(i int) feed.TokenLaunchEvent {
	return feed.TokenLaunchEvent{
		Mint:     solana.Pubkey(fmt.Sprintf("mint-%02d", i)),
		Platform: feed.PlatformPumpFun,
	}
}

func mints(items []feed.TokenLaunchEvent) []solana.Pubkey {
	out := make([]solana.Pubkey, len(items))
	for i, ev := range items {
		out[i] = ev.Mint
	}
	return out
}

func noopDeliver(context.Context, feed.TokenLaunchEvent) error { return nil }

func TestEnqueue_DropsOldestWhenFull(t *testing.T) {
	q := New(DefaultConfig(), noopDeliver)

	for i := 1; i <= 10; i++ {
		assert.Equal(t, Admitted, q.Enqueue(event(i)))
	}
	assert.Equal(t, AdmittedWithEviction, q.Enqueue(event(11)))

	items := q.Items()
	require.Len(t, items, 10)
	want := make([]solana.Pubkey, 0, 10)
	for i := 2; i <= 11; i++ {
		want = append(want, event(i).Mint)
	}
	assert.Equal(t, want, mints(items))
	assert.Equal(t, int64(1), q.Stats().Evicted)
}

func TestEnqueue_DeduplicatesBufferedMint(t *testing.T) {
	q := New(DefaultConfig(), noopDeliver)

	assert.Equal(t, Admitted, q.Enqueue(event(1)))
	assert.Equal(t, Duplicate, q.Enqueue(event(1)))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, int64(1), q.Stats().Duplicates)
}

func TestEnqueue_EvictedMintCanReturn(t *testing.T) {
	q := New(Config{Capacity: 2}, noopDeliver)

	q.Enqueue(event(1))
	q.Enqueue(event(2))
	q.Enqueue(event(3))
	assert.Equal(t, AdmittedWithEviction, q.Enqueue(event(1)))
	assert.Equal(t, []solana.Pubkey{event(3).Mint, event(1).Mint}, mints(q.Items()))
}

func TestRun_DeliversInOrderAndRejectsRecent(t *testing.T) {
	var mu sync.Mutex
	var got []solana.Pubkey
	q := New(Config{Capacity: 10, DeliveryInterval: time.Millisecond}, func(_ context.Context, ev feed.TokenLaunchEvent) error {
		mu.Lock()
		got = append(got, ev.Mint)
		mu.Unlock()
		return nil
	})

	for i := 1; i <= 3; i++ {
		q.Enqueue(event(i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	require.Eventually(t, func() bool { return q.Stats().Delivered == 3 }, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []solana.Pubkey{event(1).Mint, event(2).Mint, event(3).Mint}, got)
	mu.Unlock()

	assert.Equal(t, Duplicate, q.Enqueue(event(2)), "recently delivered")

	q.Enqueue(event(4))
	require.Eventually(t, func() bool { return q.Stats().Delivered == 4 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}

func TestRun_SpacesDeliveries(t *testing.T) {
	interval := 40 * time.Millisecond
	var mu sync.Mutex
	var times []time.Time
	q := New(Config{DeliveryInterval: interval}, func(context.Context, feed.TokenLaunchEvent) error {
		mu.Lock()
		times = append(times, time.Now())
		mu.Unlock()
		return nil
	})
	q.Enqueue(event(1))
	q.Enqueue(event(2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	require.Eventually(t, func() bool { return q.Stats().Delivered == 2 }, 2*time.Second, 5*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, times[1].Sub(times[0]), interval)
}

func TestRun_SurvivesFailuresAndPanics(t *testing.T) {
	q := New(Config{DeliveryInterval: time.Millisecond}, func(_ context.Context, ev feed.TokenLaunchEvent) error {
		switch ev.Mint {
		case event(1).Mint:
			return errors.New("engine unavailable")
		case event(2).Mint:
			panic("boom")
		}
		return nil
	})
	q.Enqueue(event(1))
	q.Enqueue(event(2))
	q.Enqueue(event(3))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	require.Eventually(t, func() bool { return q.Stats().Delivered == 1 }, 2*time.Second, 5*time.Millisecond)
	stats := q.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(1), stats.Panics)
	assert.Equal(t, 0, stats.Depth)
}

func TestRun_OnlyOneConsumer(t *testing.T) {
	q := New(DefaultConfig(), noopDeliver)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	require.Eventually(t, q.running.Load, time.Second, 5*time.Millisecond)
	assert.Error(t, q.Run(ctx))
}

func TestClose_RejectsUntilNextRun(t *testing.T) {
	q := New(DefaultConfig(), noopDeliver)
	q.Close()
	assert.Equal(t, Stopped, q.Enqueue(event(1)))

	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	require.Eventually(t, func() bool { return q.Enqueue(event(1)) != Stopped }, time.Second, 5*time.Millisecond)
	cancel()
}

func TestEnqueueResult_String(t *testing.T) {
	assert.Equal(t, "admitted_with_eviction", AdmittedWithEviction.String())
	assert.Equal(t, "EnqueueResult(9)", EnqueueResult(9).String())
}
