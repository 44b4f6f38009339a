package risk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/rs/zerolog/log"
)

// ReportSource supplies third-party flags. ok is false when the source has no
// report for the mint.
type ReportSource interface {
	ReportFlags(ctx context.Context, mint solana.Pubkey) (flags Flags, ok bool, err error)
}

// ChainVerifier supplies flags read directly from chain state.
type ChainVerifier interface {
	Flags(ctx context.Context, mint solana.Pubkey) PartialFlags
	HolderConcentration(ctx context.Context, mint solana.Pubkey) (*bool, error)
}

// Engine combines third-party and on-chain signals into an Assessment.
// Data failures degrade to default flags; only a malformed mint is an error.
type Engine struct {
	config  Config
	reports ReportSource
	chain   ChainVerifier
	now     func() time.Time

	// Metrics
	assessed    atomic.Int64
	forkable    atomic.Int64
	reportMiss  atomic.Int64
	reportError atomic.Int64
	levelMu     sync.Mutex
	byLevel     map[Level]int64
}

// New creates an assessment engine. Either source may be nil. Unset weights
// or thresholds take their defaults.
func New(cfg Config, reports ReportSource, chain ChainVerifier) *Engine {
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	return &Engine{
		config:  cfg,
		reports: reports,
		chain:   chain,
		now:     time.Now,
		byLevel: make(map[Level]int64),
	}
}

// Assess scores one mint.
func (e *Engine) Assess(ctx context.Context, mint solana.Pubkey) (Assessment, error) {
	if !solana.ValidPubkey(mint) {
		return Assessment{}, fmt.Errorf("%w: %q", ErrInvalidMint, mint)
	}
	start := time.Now()

	var (
		reportFlags Flags
		haveReport  bool
		wg          sync.WaitGroup
	)
	if e.reports != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reportFlags, haveReport = e.fetchReport(ctx, mint)
		}()
	}

	var partial PartialFlags
	if e.chain != nil {
		partial = e.chain.Flags(ctx, mint)
	}
	wg.Wait()

	sources := []string{}
	if haveReport {
		sources = append(sources, SourceRugCheck)
	}

	if e.chain != nil && (!haveReport || e.config.CorroborateHolders) {
		concentrated, err := e.chain.HolderConcentration(ctx, mint)
		if err != nil {
			log.Warn().Err(err).Str("mint", string(mint)).Msg("risk: holder concentration check failed")
		} else if concentrated != nil {
			partial.HighHolderConcentration = concentrated
		}
	}
	if !partial.Empty() {
		sources = append(sources, SourceOnChain)
	}

	flags := Merge(reportFlags, partial)
	score := Score(flags, e.config.Weights)
	level := Classify(score, e.config.Thresholds)
	forkable, reason := Forkability(level, flags)

	a := Assessment{
		ID:         uuid.New().String(),
		Mint:       mint,
		Score:      score,
		Level:      level,
		Flags:      flags,
		Summary:    Summarize(flags),
		Forkable:   forkable,
		ForkReason: reason,
		Sources:    sources,
		AssessedAt: e.now(),
		LatencyMs:  time.Since(start).Milliseconds(),
	}

	e.record(a)

	log.Info().
		Str("mint", string(mint)).
		Int("score", score).
		Str("level", string(level)).
		Bool("forkable", forkable).
		Strs("sources", sources).
		Int64("latency_ms", a.LatencyMs).
		Msg("risk: assessment complete")

	return a, nil
}

func (e *Engine) fetchReport(ctx context.Context, mint solana.Pubkey) (Flags, bool) {
	flags, ok, err := e.reports.ReportFlags(ctx, mint)
	if err != nil {
		e.reportError.Add(1)
		log.Warn().Err(err).Str("mint", string(mint)).Msg("risk: report fetch failed, using on-chain signals only")
		return Flags{}, false
	}
	if !ok {
		e.reportMiss.Add(1)
		log.Debug().Str("mint", string(mint)).Msg("risk: no third-party report")
		return Flags{}, false
	}
	return flags, true
}

func (e *Engine) record(a Assessment) {
	e.assessed.Add(1)
	if a.Forkable {
		e.forkable.Add(1)
	}
	e.levelMu.Lock()
	e.byLevel[a.Level]++
	e.levelMu.Unlock()
}

// Stats holds engine counters.
type Stats struct {
	Assessed     int64           `json:"assessed"`
	Forkable     int64           `json:"forkable"`
	ReportMisses int64           `json:"report_misses"`
	ReportErrors int64           `json:"report_errors"`
	ByLevel      map[Level]int64 `json:"by_level"`
}

// Stats returns engine statistics.
func (e *Engine) Stats() Stats {
	e.levelMu.Lock()
	byLevel := make(map[Level]int64, len(e.byLevel))
	for k, v := range e.byLevel {
		byLevel[k] = v
	}
	e.levelMu.Unlock()

	return Stats{
		Assessed:     e.assessed.Load(),
		Forkable:     e.forkable.Load(),
		ReportMisses: e.reportMiss.Load(),
		ReportErrors: e.reportError.Load(),
		ByLevel:      byLevel,
	}
}
