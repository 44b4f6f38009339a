package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/forkwatch/internal/feed"
	"github.com/nexus-trading/forkwatch/internal/monitor"
	"github.com/nexus-trading/forkwatch/internal/risk"
	"github.com/rs/zerolog/log"
)

// AssessmentsDDL creates the archive table; %s is the table name.
const AssessmentsDDL = `CREATE TABLE IF NOT EXISTS %s (
	assessment_id  String,
	mint           String,
	symbol         String,
	platform       LowCardinality(String),
	source         LowCardinality(String),
	score          UInt8,
	level          LowCardinality(String),
	mint_authority_active     Bool,
	freeze_authority_active   Bool,
	metadata_mutable          Bool,
	high_holder_concentration Bool,
	lp_not_burned             Bool,
	low_liquidity             Bool,
	honeypot                  Bool,
	forkable       Bool,
	fork_reason    String,
	sources        Array(String),
	initial_liquidity Float64,
	observed_at    DateTime64(3),
	assessed_at    DateTime64(3),
	latency_ms     UInt32
) ENGINE = MergeTree
ORDER BY (assessed_at, mint)`

const assessmentColumns = "assessment_id, mint, symbol, platform, source, score, level, " +
	"mint_authority_active, freeze_authority_active, metadata_mutable, " +
	"high_holder_concentration, lp_not_burned, low_liquidity, honeypot, " +
	"forkable, fork_reason, sources, initial_liquidity, observed_at, assessed_at, latency_ms"

// AssessmentRow is one archived assessment.
type AssessmentRow struct {
	AssessmentID     string
	Mint             string
	Symbol           string
	Platform         string
	Source           string
	Score            uint8
	Level            string
	Flags            risk.Flags
	Forkable         bool
	ForkReason       string
	Sources          []string
	InitialLiquidity float64
	ObservedAt       time.Time
	AssessedAt       time.Time
	LatencyMs        uint32
}

// NewAssessmentRow builds a row from a monitor notification.
func NewAssessmentRow(ev feed.TokenLaunchEvent, a risk.Assessment) AssessmentRow {
	sources := a.Sources
	if sources == nil {
		sources = []string{}
	}
	return AssessmentRow{
		AssessmentID:     a.ID,
		Mint:             string(a.Mint),
		Symbol:           ev.Symbol,
		Platform:         string(ev.Platform),
		Source:           ev.Source,
		Score:            uint8(a.Score),
		Level:            string(a.Level),
		Flags:            a.Flags,
		Forkable:         a.Forkable,
		ForkReason:       a.ForkReason,
		Sources:          sources,
		InitialLiquidity: ev.InitialLiquidity.InexactFloat64(),
		ObservedAt:       ev.ObservedAt,
		AssessedAt:       a.AssessedAt,
		LatencyMs:        uint32(a.LatencyMs),
	}
}

func (r AssessmentRow) values() []any {
	return []any{
		r.AssessmentID, r.Mint, r.Symbol, r.Platform, r.Source,
		r.Score, r.Level,
		r.Flags.MintAuthorityActive, r.Flags.FreezeAuthorityActive, r.Flags.MetadataMutable,
		r.Flags.HighHolderConcentration, r.Flags.LPNotBurned, r.Flags.LowLiquidity, r.Flags.Honeypot,
		r.Forkable, r.ForkReason, r.Sources, r.InitialLiquidity,
		r.ObservedAt, r.AssessedAt, r.LatencyMs,
	}
}

// WriterConfig configures the assessment writer.
type WriterConfig struct {
	Table         string        `yaml:"table"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// DefaultWriterConfig returns writer defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		Table:         "token_assessments",
		BatchSize:     200,
		FlushInterval: 10 * time.Second,
	}
}

// AssessmentWriter batches assessments and flushes them to ClickHouse when
// the batch is full or on a timer.
type AssessmentWriter struct {
	client *Client
	config WriterConfig

	mu     sync.Mutex
	buf    []AssessmentRow
	closed bool

	written    atomic.Int64
	flushCount atomic.Int64
	errorCount atomic.Int64

	cancel context.CancelFunc
	done   chan struct{}

	// flushHook replaces real writes during testing.
	flushHook func(ctx context.Context, table string, rows [][]any) error
}

// NewAssessmentWriter creates a writer. The table is qualified with the
// client's database when one is set.
func NewAssessmentWriter(client *Client, config WriterConfig) *AssessmentWriter {
	defaults := DefaultWriterConfig()
	if config.Table == "" {
		config.Table = defaults.Table
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = defaults.FlushInterval
	}
	return &AssessmentWriter{
		client: client,
		config: config,
		buf:    make([]AssessmentRow, 0, config.BatchSize),
	}
}

// Table returns the qualified table name.
func (w *AssessmentWriter) Table() string {
	if w.client == nil || w.client.Database() == "" {
		return w.config.Table
	}
	return w.client.Database() + "." + w.config.Table
}

// Attach subscribes the writer to m's assessment notifications.
func (w *AssessmentWriter) Attach(m *monitor.Monitor) monitor.SubscriptionID {
	return m.Subscribe(monitor.Handlers{
		OnAssessment: func(ev feed.TokenLaunchEvent, a risk.Assessment) {
			if err := w.Write(context.Background(), NewAssessmentRow(ev, a)); err != nil {
				log.Warn().Err(err).Str("mint", string(a.Mint)).Msg("clickhouse: archive write failed")
			}
		},
	})
}

// Write adds a row to the buffer, flushing when the batch is full.
func (w *AssessmentWriter) Write(ctx context.Context, row AssessmentRow) error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return fmt.Errorf("assessment writer is closed")
	}
	w.buf = append(w.buf, row)
	needsFlush := len(w.buf) >= w.config.BatchSize
	w.mu.Unlock()

	if needsFlush {
		return w.Flush(ctx)
	}
	return nil
}

// Start begins the background flush loop.
func (w *AssessmentWriter) Start(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.config.FlushInterval)
		defer ticker.Stop()

		log.Info().
			Str("table", w.Table()).
			Int("batch_size", w.config.BatchSize).
			Dur("flush_interval", w.config.FlushInterval).
			Msg("clickhouse: assessment writer started")

		for {
			select {
			case <-bgCtx.Done():
				return
			case <-ticker.C:
				if err := w.Flush(bgCtx); err != nil {
					log.Error().Err(err).Msg("clickhouse: periodic flush error")
				}
			}
		}
	}()
}

// Flush writes all buffered rows.
func (w *AssessmentWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	rows := w.buf
	w.buf = make([]AssessmentRow, 0, w.config.BatchSize)
	w.mu.Unlock()

	if len(rows) == 0 {
		return nil
	}

	w.flushCount.Add(1)
	if err := w.insert(ctx, rows); err != nil {
		w.errorCount.Add(1)
		log.Error().Err(err).Int("count", len(rows)).Msg("clickhouse: flush assessments failed")
		return err
	}
	w.written.Add(int64(len(rows)))
	log.Debug().Int("rows", len(rows)).Str("table", w.Table()).Msg("clickhouse: assessments flushed")
	return nil
}

func (w *AssessmentWriter) insert(ctx context.Context, rows []AssessmentRow) error {
	if w.flushHook != nil {
		generic := make([][]any, len(rows))
		for i, r := range rows {
			generic[i] = r.values()
		}
		return w.flushHook(ctx, w.Table(), generic)
	}
	if w.client == nil {
		return fmt.Errorf("assessment writer has no client")
	}

	batch, err := w.client.Conn().PrepareBatch(ctx,
		fmt.Sprintf("INSERT INTO %s (%s)", w.Table(), assessmentColumns))
	if err != nil {
		return fmt.Errorf("prepare assessment batch: %w", err)
	}
	for _, r := range rows {
		if err := batch.Append(r.values()...); err != nil {
			return fmt.Errorf("append assessment row: %w", err)
		}
	}
	return batch.Send()
}

// Close stops the background loop and performs a final flush.
func (w *AssessmentWriter) Close() error {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	if err := w.Flush(context.Background()); err != nil {
		log.Error().Err(err).Msg("clickhouse: final flush on close failed")
		return err
	}

	log.Info().
		Int64("written", w.written.Load()).
		Int64("flushes", w.flushCount.Load()).
		Int64("errors", w.errorCount.Load()).
		Msg("clickhouse: assessment writer closed")
	return nil
}

// WriterStats holds writer counters.
type WriterStats struct {
	Written int64 `json:"written"`
	Flushes int64 `json:"flushes"`
	Errors  int64 `json:"errors"`
	Pending int   `json:"pending"`
}

// Stats returns writer statistics.
func (w *AssessmentWriter) Stats() WriterStats {
	w.mu.Lock()
	pending := len(w.buf)
	w.mu.Unlock()
	return WriterStats{
		Written: w.written.Load(),
		Flushes: w.flushCount.Load(),
		Errors:  w.errorCount.Load(),
		Pending: pending,
	}
}

// SetFlushHook sets a test hook. Intended for testing only.
func (w *AssessmentWriter) SetFlushHook(hook func(ctx context.Context, table string, rows [][]any) error) {
	w.flushHook = hook
}
