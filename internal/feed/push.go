package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// PushConfig configures the push feed adapter.
type PushConfig struct {
	URL              string        `yaml:"url"`
	SubscribeFrame   string        `yaml:"subscribe_frame"`
	DefaultPlatform  string        `yaml:"default_platform"` // used when a frame names no pool
	ReconnectDelay   time.Duration `yaml:"reconnect_delay"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
}

// DefaultPushConfig returns defaults for the PumpPortal feed.
func DefaultPushConfig() PushConfig {
	return PushConfig{
		URL:              "wss://pumpportal.fun/api/data",
		SubscribeFrame:   `{"method":"subscribeNewToken"}`,
		DefaultPlatform:  string(PlatformPumpFun),
		ReconnectDelay:   5 * time.Second,
		HandshakeTimeout: 10 * time.Second,
	}
}

// ErrMalformedFrame marks a push frame that failed validation.
var ErrMalformedFrame = errors.New("feed: malformed frame")

// pushFrame is the vendor frame. Several fields have aliases.
type pushFrame struct {
	Mint            string           `json:"mint"`
	Name            string           `json:"name"`
	Symbol          string           `json:"symbol"`
	Creator         string           `json:"creator"`
	TraderPublicKey string           `json:"traderPublicKey"`
	Type            string           `json:"type"`
	TxType          string           `json:"txType"`
	Pool            string           `json:"pool"`
	Platform        string           `json:"platform"`
	Liquidity       *decimal.Decimal `json:"initialLiquidity"`
	VSolInCurve     *decimal.Decimal `json:"vSolInBondingCurve"`
	Signature       string           `json:"signature"`
	Message         string           `json:"message"`
}

// ParsePushFrame validates one frame. ok is false with a nil error for
// acknowledgements and non-creation frames.
func ParsePushFrame(data []byte, defaultPlatform Platform, now time.Time) (ev TokenLaunchEvent, ok bool, err error) {
	var f pushFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return ev, false, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	if f.Mint == "" {
		if f.Message != "" {
			return ev, false, nil
		}
		return ev, false, fmt.Errorf("%w: missing mint", ErrMalformedFrame)
	}
	mint := solana.Pubkey(strings.TrimSpace(f.Mint))
	if !solana.ValidPubkey(mint) {
		return ev, false, fmt.Errorf("%w: invalid mint %q", ErrMalformedFrame, f.Mint)
	}

	kind := firstNonEmpty(f.Type, f.TxType)
	if kind != "" && !strings.EqualFold(kind, "create") {
		return ev, false, nil
	}

	creator := solana.Pubkey(firstNonEmpty(f.Creator, f.TraderPublicKey))
	if creator != "" && !solana.ValidPubkey(creator) {
		return ev, false, fmt.Errorf("%w: invalid creator %q", ErrMalformedFrame, creator)
	}

	platform := defaultPlatform
	if pool := firstNonEmpty(f.Pool, f.Platform); pool != "" {
		platform = ParsePlatform(pool)
	}

	liquidity := decimal.Zero
	switch {
	case f.Liquidity != nil:
		liquidity = *f.Liquidity
	case f.VSolInCurve != nil:
		liquidity = *f.VSolInCurve
	}
	if liquidity.IsNegative() {
		return ev, false, fmt.Errorf("%w: negative liquidity", ErrMalformedFrame)
	}

	return TokenLaunchEvent{
		Mint:             mint,
		Name:             f.Name,
		Symbol:           f.Symbol,
		Platform:         platform,
		ObservedAt:       now,
		InitialLiquidity: liquidity,
		Creator:          creator,
		Source:           SourcePush,
		Signature:        solana.Signature(f.Signature),
	}, true, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// PushAdapter subscribes to a vendor websocket feed of new tokens.
type PushAdapter struct {
	config PushConfig
	now    func() time.Time

	running   atomic.Bool
	connected atomic.Bool

	// Stats.
	frames     atomic.Int64
	emitted    atomic.Int64
	malformed  atomic.Int64
	ignored    atomic.Int64
	reconnects atomic.Int64
}

// NewPushAdapter creates a push feed adapter.
func NewPushAdapter(config PushConfig) *PushAdapter {
	defaults := DefaultPushConfig()
	if config.URL == "" {
		config.URL = defaults.URL
	}
	if config.SubscribeFrame == "" {
		config.SubscribeFrame = defaults.SubscribeFrame
	}
	if config.DefaultPlatform == "" {
		config.DefaultPlatform = defaults.DefaultPlatform
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = defaults.ReconnectDelay
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = defaults.HandshakeTimeout
	}
	return &PushAdapter{config: config, now: time.Now}
}

// Name implements Source.
func (a *PushAdapter) Name() string { return SourcePush }

// Run implements Source. It reconnects after ReconnectDelay until ctx is done.
func (a *PushAdapter) Run(ctx context.Context, emit Emitter, onErr func(error)) error {
	if !a.running.CompareAndSwap(false, true) {
		return fmt.Errorf("feed: push adapter already running")
	}
	defer a.running.Store(false)

	for {
		err := a.session(ctx, emit)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			log.Warn().Err(err).Str("url", a.config.URL).Dur("retry_in", a.config.ReconnectDelay).Msg("feed: push feed disconnected")
			if onErr != nil {
				onErr(err)
			}
		}

		select {
		case <-time.After(a.config.ReconnectDelay):
			a.reconnects.Add(1)
		case <-ctx.Done():
			return nil
		}
	}
}

// session runs one connection until it drops or ctx is done.
func (a *PushAdapter) session(ctx context.Context, emit Emitter) error {
	dialer := websocket.Dialer{HandshakeTimeout: a.config.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, a.config.URL, nil)
	if err != nil {
		return fmt.Errorf("feed: push connect: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(a.config.SubscribeFrame)); err != nil {
		return fmt.Errorf("feed: push subscribe: %w", err)
	}
	log.Info().Str("url", a.config.URL).Msg("feed: push feed subscribed")
	a.connected.Store(true)
	defer a.connected.Store(false)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("feed: push read: %w", err)
		}
		a.handleFrame(msg, emit)
	}
}

func (a *PushAdapter) handleFrame(msg []byte, emit Emitter) {
	a.frames.Add(1)
	ev, ok, err := ParsePushFrame(msg, ParsePlatform(a.config.DefaultPlatform), a.now())
	if err != nil {
		a.malformed.Add(1)
		log.Debug().Err(err).Int("bytes", len(msg)).Msg("feed: dropping push frame")
		return
	}
	if !ok {
		a.ignored.Add(1)
		return
	}
	a.emitted.Add(1)
	emit(ev)
}

// Running reports whether Run is active.
func (a *PushAdapter) Running() bool { return a.running.Load() }

// Connected reports whether a subscribed session is open.
func (a *PushAdapter) Connected() bool { return a.connected.Load() }

// PushStats holds push adapter counters.
type PushStats struct {
	Frames     int64 `json:"frames"`
	Emitted    int64 `json:"emitted"`
	Malformed  int64 `json:"malformed"`
	Ignored    int64 `json:"ignored"`
	Reconnects int64 `json:"reconnects"`
}

// Stats returns push adapter statistics.
func (a *PushAdapter) Stats() PushStats {
	return PushStats{
		Frames:     a.frames.Load(),
		Emitted:    a.emitted.Load(),
		Malformed:  a.malformed.Load(),
		Ignored:    a.ignored.Load(),
		Reconnects: a.reconnects.Load(),
	}
}
