// Package feed turns external token-launch signals into TokenLaunchEvents.
package feed

import (
	"context"
	"strings"
	"time"

	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/shopspring/decimal"
)

// Platform is the launchpad or DEX a token was observed on.
type Platform string

const (
	PlatformPumpFun  Platform = "pumpfun"
	PlatformRaydium  Platform = "raydium"
	PlatformMoonshot Platform = "moonshot"
	PlatformOther    Platform = "other"
)

// ParsePlatform maps vendor pool names onto a Platform.
func ParsePlatform(s string) Platform {
	switch v := strings.ToLower(strings.TrimSpace(s)); {
	case v == "pump" || v == "pumpfun" || v == "pump.fun" || v == "pump-amm":
		return PlatformPumpFun
	case strings.HasPrefix(v, "raydium"):
		return PlatformRaydium
	case v == "moonshot":
		return PlatformMoonshot
	default:
		return PlatformOther
	}
}

// Event sources.
const (
	SourcePush = "push"
	SourceLogs = "logs"
)

// Well-known program IDs watched by the log adapter.
const (
	PumpFunProgramID  solana.Pubkey = "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"
	RaydiumAMMV4      solana.Pubkey = "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"
	MoonshotProgramID solana.Pubkey = "MoonCVVNZFSYkqNXP6bxHLPL6QQJiMagDL3qcqUQTrG"
)

// PlatformForProgram returns the platform a program ID belongs to.
func PlatformForProgram(program solana.Pubkey) Platform {
	switch program {
	case PumpFunProgramID:
		return PlatformPumpFun
	case RaydiumAMMV4:
		return PlatformRaydium
	case MoonshotProgramID:
		return PlatformMoonshot
	default:
		return PlatformOther
	}
}

// TokenLaunchEvent is a newly observed token. Treat it as immutable.
type TokenLaunchEvent struct {
	Mint             solana.Pubkey    `json:"mint"`
	Name             string           `json:"name"`
	Symbol           string           `json:"symbol"`
	Platform         Platform         `json:"platform"`
	ObservedAt       time.Time        `json:"observed_at"`
	InitialLiquidity decimal.Decimal  `json:"initial_liquidity"`
	Creator          solana.Pubkey    `json:"creator,omitempty"`
	Source           string           `json:"source"`
	Signature        solana.Signature `json:"signature,omitempty"`
}

// Emitter receives events from a Source.
type Emitter func(TokenLaunchEvent)

// Source produces TokenLaunchEvents until its context is cancelled.
type Source interface {
	Name() string
	// Run blocks until ctx is done. Non-fatal errors go to onErr.
	Run(ctx context.Context, emit Emitter, onErr func(error)) error
}
