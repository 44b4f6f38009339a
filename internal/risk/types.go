package risk

import (
	"errors"
	"time"

	"github.com/nexus-trading/forkwatch/internal/solana"
)

// ErrInvalidMint is returned when a mint is not a 32-byte base58 address.
var ErrInvalidMint = errors.New("risk: invalid mint address")

// Flags is the fully resolved set of risk signals for a token.
type Flags struct {
	MintAuthorityActive     bool `json:"mint_authority_active"`
	FreezeAuthorityActive   bool `json:"freeze_authority_active"`
	MetadataMutable         bool `json:"metadata_mutable"`
	HighHolderConcentration bool `json:"high_holder_concentration"`
	LPNotBurned             bool `json:"lp_not_burned"`
	LowLiquidity            bool `json:"low_liquidity"`
	Honeypot                bool `json:"honeypot"`
}

// PartialFlags carries signals from a single source. Nil means the source
// did not supply that flag.
type PartialFlags struct {
	MintAuthorityActive     *bool `json:"mint_authority_active,omitempty"`
	FreezeAuthorityActive   *bool `json:"freeze_authority_active,omitempty"`
	MetadataMutable         *bool `json:"metadata_mutable,omitempty"`
	HighHolderConcentration *bool `json:"high_holder_concentration,omitempty"`
	LPNotBurned             *bool `json:"lp_not_burned,omitempty"`
	LowLiquidity            *bool `json:"low_liquidity,omitempty"`
	Honeypot                *bool `json:"honeypot,omitempty"`
}

// Empty reports whether no flag is set.
func (p PartialFlags) Empty() bool {
	return p.MintAuthorityActive == nil &&
		p.FreezeAuthorityActive == nil &&
		p.MetadataMutable == nil &&
		p.HighHolderConcentration == nil &&
		p.LPNotBurned == nil &&
		p.LowLiquidity == nil &&
		p.Honeypot == nil
}

// Bool returns a pointer to v, for building PartialFlags.
func Bool(v bool) *bool { return &v }

// Level is a discrete risk bucket.
type Level string

const (
	LevelLow      Level = "LOW"
	LevelMedium   Level = "MEDIUM"
	LevelHigh     Level = "HIGH"
	LevelCritical Level = "CRITICAL"
)

func (l Level) rank() int {
	switch l {
	case LevelLow:
		return 0
	case LevelMedium:
		return 1
	case LevelHigh:
		return 2
	case LevelCritical:
		return 3
	default:
		return -1
	}
}

// Above reports whether l is strictly riskier than other.
func (l Level) Above(other Level) bool {
	return l.rank() > other.rank()
}

// Assessment source tags.
const (
	SourceRugCheck = "rugcheck"
	SourceOnChain  = "onchain"
)

// Assessment is the immutable result of assessing one mint.
type Assessment struct {
	ID         string        `json:"id"`
	Mint       solana.Pubkey `json:"mint"`
	Score      int           `json:"score"` // 0-100
	Level      Level         `json:"level"`
	Flags      Flags         `json:"flags"`
	Summary    string        `json:"summary"`
	Forkable   bool          `json:"forkable"`
	ForkReason string        `json:"fork_reason,omitempty"`
	Sources    []string      `json:"sources"`
	AssessedAt time.Time     `json:"assessed_at"`
	LatencyMs  int64         `json:"latency_ms"`
}

// Weights are the score contributions of each flag.
type Weights struct {
	MintAuthority       int `yaml:"mint_authority"`
	FreezeAuthority     int `yaml:"freeze_authority"`
	Honeypot            int `yaml:"honeypot"`
	MetadataMutable     int `yaml:"metadata_mutable"`
	HolderConcentration int `yaml:"holder_concentration"`
	LPNotBurned         int `yaml:"lp_not_burned"`
	LowLiquidity        int `yaml:"low_liquidity"`
}

// DefaultWeights returns the standard weighting.
func DefaultWeights() Weights {
	return Weights{
		MintAuthority:       35,
		FreezeAuthority:     25,
		Honeypot:            40,
		MetadataMutable:     10,
		HolderConcentration: 15,
		LPNotBurned:         10,
		LowLiquidity:        5,
	}
}

// Thresholds are the lower score bounds of MEDIUM, HIGH and CRITICAL.
type Thresholds struct {
	Medium   int `yaml:"medium"`
	High     int `yaml:"high"`
	Critical int `yaml:"critical"`
}

// DefaultThresholds returns 25/50/75.
func DefaultThresholds() Thresholds {
	return Thresholds{Medium: 25, High: 50, Critical: 75}
}

// Config configures the assessment engine.
type Config struct {
	Weights    Weights    `yaml:"weights"`
	Thresholds Thresholds `yaml:"thresholds"`

	// Run the on-chain holder check even when a third-party report exists.
	CorroborateHolders bool `yaml:"corroborate_holders"`
}

// DefaultConfig returns engine defaults.
func DefaultConfig() Config {
	return Config{
		Weights:    DefaultWeights(),
		Thresholds: DefaultThresholds(),
	}
}
