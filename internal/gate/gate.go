// Package gate paces outbound RPC work through a single serialization point.
package gate

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/rs/zerolog/log"
)

// Config configures the request gate.
type Config struct {
	MinInterval time.Duration `yaml:"min_interval"` // minimum spacing between attempts
	Cooldown    time.Duration `yaml:"cooldown"`     // wait after a rate-limited attempt
	MaxRetries  int           `yaml:"max_retries"`  // retries after the first rate-limited attempt
}

// DefaultConfig returns defaults sized for public mainnet endpoints.
func DefaultConfig() Config {
	return Config{
		MinInterval: 750 * time.Millisecond,
		Cooldown:    5 * time.Second,
		MaxRetries:  3,
	}
}

// Gate serializes attempts and enforces a minimum interval between them.
type Gate struct {
	config      Config
	isRateLimit func(error) bool

	mu          sync.Mutex
	lastRequest time.Time

	// Stats.
	attempts    atomic.Int64
	rateLimited atomic.Int64
	exhausted   atomic.Int64
	failures    atomic.Int64
	succeeded   atomic.Int64
}

// Option configures a Gate.
type Option func(*Gate)

// WithClassifier replaces the rate-limit classifier.
func WithClassifier(fn func(error) bool) Option {
	return func(g *Gate) { g.isRateLimit = fn }
}

// New creates a gate.
func New(config Config, opts ...Option) *Gate {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	g := &Gate{
		config:      config,
		isRateLimit: solana.IsRateLimited,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Execute runs op through the gate. Rate-limited attempts are retried after
// the cooldown; once retries are exhausted it returns ok=false with a nil
// error. Any other error is returned as is.
func Execute[T any](ctx context.Context, g *Gate, op func(context.Context) (T, error)) (T, bool, error) {
	var zero T

	for try := 0; try <= g.config.MaxRetries; try++ {
		result, err := attempt(ctx, g, op)
		if err == nil {
			g.succeeded.Add(1)
			return result, true, nil
		}
		if ctx.Err() != nil {
			return zero, false, ctx.Err()
		}
		if !g.isRateLimit(err) {
			g.failures.Add(1)
			return zero, false, err
		}

		g.rateLimited.Add(1)
		if try == g.config.MaxRetries {
			break
		}
		log.Warn().
			Err(err).
			Int("attempt", try+1).
			Dur("cooldown", g.config.Cooldown).
			Msg("gate: rate limited, cooling down")

		select {
		case <-time.After(g.config.Cooldown):
		case <-ctx.Done():
			return zero, false, ctx.Err()
		}
	}

	g.exhausted.Add(1)
	log.Warn().Int("retries", g.config.MaxRetries).Msg("gate: retries exhausted, giving up")
	return zero, false, nil
}

// attempt waits for the pacing window and runs op while holding the gate.
// The last-request time is stamped when op returns, success or not.
func attempt[T any](ctx context.Context, g *Gate, op func(context.Context) (T, error)) (T, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.lastRequest.IsZero() {
		if wait := g.config.MinInterval - time.Since(g.lastRequest); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				var zero T
				return zero, ctx.Err()
			}
		}
	}

	g.attempts.Add(1)
	defer func() { g.lastRequest = time.Now() }()
	return op(ctx)
}

// LastRequest returns when the most recent attempt completed.
func (g *Gate) LastRequest() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastRequest
}

// Stats holds gate counters.
type Stats struct {
	Attempts    int64 `json:"attempts"`
	Succeeded   int64 `json:"succeeded"`
	RateLimited int64 `json:"rate_limited"`
	Exhausted   int64 `json:"exhausted"`
	Failures    int64 `json:"failures"`
}

// Stats returns gate statistics.
func (g *Gate) Stats() Stats {
	return Stats{
		Attempts:    g.attempts.Load(),
		Succeeded:   g.succeeded.Load(),
		RateLimited: g.rateLimited.Load(),
		Exhausted:   g.exhausted.Load(),
		Failures:    g.failures.Load(),
	}
}
