package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/forkwatch/internal/gate"
	"github.com/nexus-trading/forkwatch/internal/seen"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// LogConfig configures the log-subscription adapter.
type LogConfig struct {
	Programs      []solana.Pubkey `yaml:"programs"`
	Markers       []string        `yaml:"markers"`
	FinalityDelay time.Duration   `yaml:"finality_delay"`
	SeenCapacity  int             `yaml:"seen_capacity"`
}

// DefaultLogConfig watches Pump.fun, Raydium AMM v4 and Moonshot.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Programs: []solana.Pubkey{PumpFunProgramID, RaydiumAMMV4, MoonshotProgramID},
		Markers: []string{
			"InitializeMint",
			"InitializeMint2",
			"Instruction: Create",
			"initialize2",
			"InitializeInstruction2",
			"TokenMint",
		},
		FinalityDelay: 2 * time.Second,
		SeenCapacity:  50_000,
	}
}

var quoteMints = map[solana.Pubkey]bool{
	solana.WrappedSOLMint: true,
	solana.USDCMint:       true,
	solana.USDTMint:       true,
}

// LooksLikeCreation reports whether any log line carries a creation marker.
func LooksLikeCreation(logs []string, markers []string) bool {
	for _, line := range logs {
		for _, m := range markers {
			if strings.Contains(line, m) {
				return true
			}
		}
	}
	return false
}

// ExtractMints returns mints initialized by tx. Without an initializeMint
// instruction it falls back to non-quote mints in post-token balances.
func ExtractMints(tx *solana.ParsedTransaction) []solana.Pubkey {
	if tx == nil {
		return nil
	}

	var mints []solana.Pubkey
	added := make(map[solana.Pubkey]bool)
	add := func(m solana.Pubkey) {
		if m == "" || added[m] || quoteMints[m] {
			return
		}
		added[m] = true
		mints = append(mints, m)
	}

	for _, ix := range tx.AllInstructions() {
		if ix.ProgramID != solana.TokenProgramID && ix.ProgramID != solana.Token2022ProgramID {
			continue
		}
		if ix.Type == "initializeMint" || ix.Type == "initializeMint2" {
			add(ix.Mint)
		}
	}
	if len(mints) > 0 {
		return mints
	}

	for _, b := range tx.PostTokenBalances {
		add(b.Mint)
	}
	return mints
}

// logRun is the state of an active Run call.
type logRun struct {
	ctx  context.Context
	emit Emitter
	wg   sync.WaitGroup
}

// LogAdapter discovers new mints from program log notifications.
type LogAdapter struct {
	config LogConfig
	sub    solana.LogSubscriber
	rpc    solana.RPCClient
	gate   *gate.Gate
	seen   *seen.Set
	now    func() time.Time

	registerOnce sync.Once
	mu           sync.Mutex
	active       *logRun

	// Stats.
	notifications atomic.Int64
	matches       atomic.Int64
	resolved      atomic.Int64
	resolveErrors atomic.Int64
	emitted       atomic.Int64
	duplicates    atomic.Int64
}

// NewLogAdapter creates a log-subscription adapter.
func NewLogAdapter(config LogConfig, sub solana.LogSubscriber, rpc solana.RPCClient, g *gate.Gate) *LogAdapter {
	defaults := DefaultLogConfig()
	if len(config.Programs) == 0 {
		config.Programs = defaults.Programs
	}
	if len(config.Markers) == 0 {
		config.Markers = defaults.Markers
	}
	if config.FinalityDelay < 0 {
		config.FinalityDelay = 0
	}
	if config.SeenCapacity <= 0 {
		config.SeenCapacity = defaults.SeenCapacity
	}
	return &LogAdapter{
		config: config,
		sub:    sub,
		rpc:    rpc,
		gate:   g,
		seen:   seen.New(config.SeenCapacity),
		now:    time.Now,
	}
}

// Name implements Source.
func (a *LogAdapter) Name() string { return SourceLogs }

// Run implements Source. Callbacks are registered once per adapter; while no
// Run is active, notifications are dropped. Resolution failures are counted
// and logged, never reported through onErr.
func (a *LogAdapter) Run(ctx context.Context, emit Emitter, _ func(error)) error {
	run := &logRun{ctx: ctx, emit: emit}

	a.mu.Lock()
	if a.active != nil {
		a.mu.Unlock()
		return fmt.Errorf("feed: log adapter already running")
	}
	a.active = run
	a.mu.Unlock()

	a.registerOnce.Do(func() {
		for _, program := range a.config.Programs {
			program := program
			a.sub.OnLogs(program, func(n solana.LogNotification) {
				if n.ProgramID == "" {
					n.ProgramID = program
				}
				a.handleNotification(n)
			})
		}
		log.Info().Int("programs", len(a.config.Programs)).Msg("feed: log subscriptions registered")
	})

	<-ctx.Done()

	a.mu.Lock()
	a.active = nil
	a.mu.Unlock()
	run.wg.Wait()
	return nil
}

func (a *LogAdapter) handleNotification(n solana.LogNotification) {
	a.notifications.Add(1)
	if n.Failed || !LooksLikeCreation(n.Logs, a.config.Markers) {
		return
	}

	a.mu.Lock()
	run := a.active
	if run == nil || run.ctx.Err() != nil {
		a.mu.Unlock()
		return
	}
	run.wg.Add(1)
	a.mu.Unlock()

	a.matches.Add(1)
	go func() {
		defer run.wg.Done()
		a.resolve(run, n)
	}()
}

// resolve waits for finality, fetches the transaction and emits unseen mints.
func (a *LogAdapter) resolve(run *logRun, n solana.LogNotification) {
	ctx := run.ctx
	if a.config.FinalityDelay > 0 {
		timer := time.NewTimer(a.config.FinalityDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	tx, ok, err := gate.Execute(ctx, a.gate, func(ctx context.Context) (*solana.ParsedTransaction, error) {
		return a.rpc.GetParsedTransaction(ctx, n.Signature)
	})
	if err != nil {
		if ctx.Err() == nil {
			a.resolveErrors.Add(1)
			log.Debug().Err(err).Str("sig", string(n.Signature)).Msg("feed: transaction resolution failed")
		}
		return
	}
	if !ok || tx == nil {
		a.resolveErrors.Add(1)
		return
	}
	a.resolved.Add(1)
	if tx.Failed {
		return
	}

	for _, mint := range ExtractMints(tx) {
		if ctx.Err() != nil {
			return
		}
		if !a.seen.Add(string(mint)) {
			a.duplicates.Add(1)
			continue
		}
		a.emitted.Add(1)
		run.emit(TokenLaunchEvent{
			Mint:             mint,
			Platform:         PlatformForProgram(n.ProgramID),
			ObservedAt:       a.now(),
			InitialLiquidity: decimal.Zero,
			Creator:          tx.FeePayer(),
			Source:           SourceLogs,
			Signature:        n.Signature,
		})
	}
}

// LogStats holds log adapter counters.
type LogStats struct {
	Notifications int64 `json:"notifications"`
	Matches       int64 `json:"matches"`
	Resolved      int64 `json:"resolved"`
	ResolveErrors int64 `json:"resolve_errors"`
	Emitted       int64 `json:"emitted"`
	Duplicates    int64 `json:"duplicates"`
	Seen          int   `json:"seen"`
}

// Stats returns log adapter statistics.
func (a *LogAdapter) Stats() LogStats {
	return LogStats{
		Notifications: a.notifications.Load(),
		Matches:       a.matches.Load(),
		Resolved:      a.resolved.Load(),
		ResolveErrors: a.resolveErrors.Load(),
		Emitted:       a.emitted.Load(),
		Duplicates:    a.duplicates.Load(),
		Seen:          a.seen.Len(),
	}
}
