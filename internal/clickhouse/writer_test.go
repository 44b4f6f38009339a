package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexus-trading/forkwatch/internal/feed"
	"github.com/nexus-trading/forkwatch/internal/monitor"
	"github.com/nexus-trading/forkwatch/internal/risk"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// makeRow creates a test row with the given index for uniqueness.
func makeRow(i int) AssessmentRow {
	return AssessmentRow{
		AssessmentID: fmt.Sprintf("a-%d", i),
		Mint:         fmt.Sprintf("mint-%d", i),
		Platform:     "pumpfun",
		Score:        uint8(i % 100),
		Level:        "LOW",
		Sources:      []string{"onchain"},
		AssessedAt:   time.Now(),
	}
}

func TestBatchSizeTrigger(t *testing.T) {
	const batchSize = 10

	var mu sync.Mutex
	var flushedRows [][]any

	w := NewAssessmentWriter(nil, WriterConfig{BatchSize: batchSize, FlushInterval: time.Hour})
	w.SetFlushHook(func(_ context.Context, table string, rows [][]any) error {
		mu.Lock()
		flushedRows = append(flushedRows, rows...)
		mu.Unlock()
		assert.Equal(t, "token_assessments", table)
		return nil
	})

	ctx := context.Background()
	for i := 0; i < batchSize; i++ {
		require.NoError(t, w.Write(ctx, makeRow(i)))
	}

	mu.Lock()
	count := len(flushedRows)
	mu.Unlock()
	assert.Equal(t, batchSize, count, "flush should have been triggered at batch size")
	assert.Equal(t, int64(batchSize), w.Stats().Written)
}

func TestBatchNotFlushedBelowThreshold(t *testing.T) {
	hookCalled := false

	w := NewAssessmentWriter(nil, WriterConfig{BatchSize: 100, FlushInterval: time.Hour})
	w.SetFlushHook(func(_ context.Context, _ string, _ [][]any) error {
		hookCalled = true
		return nil
	})

	for i := 0; i < 50; i++ {
		require.NoError(t, w.Write(context.Background(), makeRow(i)))
	}

	assert.False(t, hookCalled, "auto-flush should not fire below batch size")
	assert.Equal(t, 50, w.Stats().Pending)
}

func TestFlushIntervalTrigger(t *testing.T) {
	var totalFlushed atomic.Int64

	w := NewAssessmentWriter(nil, WriterConfig{BatchSize: 1000, FlushInterval: 50 * time.Millisecond})
	w.SetFlushHook(func(_ context.Context, _ string, rows [][]any) error {
		totalFlushed.Add(int64(len(rows)))
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, w.Write(ctx, makeRow(i)))
	}
	w.Start(ctx)

	assert.Eventually(t, func() bool { return totalFlushed.Load() == 5 },
		time.Second, 10*time.Millisecond, "periodic flush should write all 5 rows")
	require.NoError(t, w.Close())
}

func TestFlushEmpty(t *testing.T) {
	hookCalled := false

	w := NewAssessmentWriter(nil, WriterConfig{})
	w.SetFlushHook(func(_ context.Context, _ string, _ [][]any) error {
		hookCalled = true
		return nil
	})

	require.NoError(t, w.Flush(context.Background()))
	assert.False(t, hookCalled, "flush hook should not be called when the buffer is empty")
}

func TestConcurrentWrites(t *testing.T) {
	const (
		numGoroutines = 10
		writesPerGo   = 100
		batchSize     = 50
	)

	var totalFlushed atomic.Int64

	w := NewAssessmentWriter(nil, WriterConfig{BatchSize: batchSize, FlushInterval: time.Hour})
	w.SetFlushHook(func(_ context.Context, _ string, rows [][]any) error {
		totalFlushed.Add(int64(len(rows)))
		return nil
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < writesPerGo; i++ {
				_ = w.Write(ctx, makeRow(i))
			}
		}()
	}
	wg.Wait()

	require.NoError(t, w.Flush(ctx))
	assert.Equal(t, int64(numGoroutines*writesPerGo), totalFlushed.Load(),
		"all rows from concurrent writers must be flushed")
}

func TestWriterClosedRejectsWrites(t *testing.T) {
	w := NewAssessmentWriter(nil, WriterConfig{})
	w.SetFlushHook(func(_ context.Context, _ string, _ [][]any) error { return nil })

	require.NoError(t, w.Close())
	assert.Error(t, w.Write(context.Background(), makeRow(0)))
}

func TestCloseFlushesPending(t *testing.T) {
	var flushed atomic.Int64

	w := NewAssessmentWriter(nil, WriterConfig{BatchSize: 100, FlushInterval: time.Hour})
	w.SetFlushHook(func(_ context.Context, _ string, rows [][]any) error {
		flushed.Add(int64(len(rows)))
		return nil
	})
	w.Start(context.Background())

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Write(context.Background(), makeRow(i)))
	}
	require.NoError(t, w.Close())
	assert.Equal(t, int64(3), flushed.Load())
}

func TestFlushErrorCounted(t *testing.T) {
	w := NewAssessmentWriter(nil, WriterConfig{BatchSize: 1})
	w.SetFlushHook(func(_ context.Context, _ string, _ [][]any) error {
		return errors.New("table missing")
	})

	assert.Error(t, w.Write(context.Background(), makeRow(0)))
	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(0), stats.Written)
}

func TestFlushWithoutClientFails(t *testing.T) {
	w := NewAssessmentWriter(nil, WriterConfig{BatchSize: 1})
	assert.Error(t, w.Write(context.Background(), makeRow(0)))
}

func TestNewAssessmentRow(t *testing.T) {
	ev := feed.TokenLaunchEvent{
		Mint:             solana.Pubkey("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"),
		Symbol:           "BONK",
		Platform:         feed.PlatformRaydium,
		Source:           feed.SourceLogs,
		InitialLiquidity: decimal.NewFromFloat(12.5),
		ObservedAt:       time.Unix(1700000000, 0),
	}
	a := risk.Assessment{
		ID:         "a-1",
		Mint:       ev.Mint,
		Score:      60,
		Level:      risk.LevelHigh,
		Flags:      risk.Flags{MintAuthorityActive: true, FreezeAuthorityActive: true},
		Forkable:   true,
		ForkReason: "fixable",
		LatencyMs:  42,
	}

	row := NewAssessmentRow(ev, a)
	assert.Equal(t, "raydium", row.Platform)
	assert.Equal(t, "logs", row.Source)
	assert.Equal(t, uint8(60), row.Score)
	assert.Equal(t, "HIGH", row.Level)
	assert.Equal(t, 12.5, row.InitialLiquidity)
	assert.Equal(t, uint32(42), row.LatencyMs)
	assert.NotNil(t, row.Sources)

	values := row.values()
	assert.Len(t, values, 21)
	assert.Equal(t, true, values[7], "mint authority column")
	assert.Equal(t, true, values[8], "freeze authority column")
}

func TestAttachSubscribesToMonitor(t *testing.T) {
	m := monitor.New(monitor.DefaultConfig(), nil)
	w := NewAssessmentWriter(nil, WriterConfig{})

	id := w.Attach(m)
	assert.Equal(t, 1, m.Stats().Observers)
	assert.True(t, m.Unsubscribe(id))
}
