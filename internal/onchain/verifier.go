// Package onchain reads risk signals directly from chain state.
package onchain

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/nexus-trading/forkwatch/internal/gate"
	"github.com/nexus-trading/forkwatch/internal/risk"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Config configures the verifier.
type Config struct {
	HolderThreshold float64 `yaml:"holder_threshold"` // fraction of supply held by the top holders
	TopHolders      int     `yaml:"top_holders"`
	MetadataOffset  int     `yaml:"metadata_offset"` // >0 selects FixedOffsetDecoder
}

// DefaultConfig returns verifier defaults.
func DefaultConfig() Config {
	return Config{
		HolderThreshold: 0.5,
		TopHolders:      10,
	}
}

// Authorities is the authority state of a mint.
type Authorities struct {
	Standard              solana.TokenStandard
	MintAuthorityActive   bool
	FreezeAuthorityActive bool
}

// Verifier answers risk questions from on-chain accounts. Every RPC call
// goes through the shared request gate.
type Verifier struct {
	rpc     solana.RPCClient
	gate    *gate.Gate
	decoder MetadataDecoder
	config  Config

	// Stats.
	reads    atomic.Int64
	unknowns atomic.Int64
	failures atomic.Int64
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithDecoder replaces the metadata decoder.
func WithDecoder(d MetadataDecoder) Option {
	return func(v *Verifier) { v.decoder = d }
}

// NewVerifier creates a verifier.
func NewVerifier(rpc solana.RPCClient, g *gate.Gate, config Config, opts ...Option) *Verifier {
	defaults := DefaultConfig()
	if config.HolderThreshold <= 0 {
		config.HolderThreshold = defaults.HolderThreshold
	}
	if config.TopHolders <= 0 {
		config.TopHolders = defaults.TopHolders
	}

	v := &Verifier{
		rpc:     rpc,
		gate:    g,
		decoder: MetaplexDecoder{},
		config:  config,
	}
	if config.MetadataOffset > 0 {
		v.decoder = FixedOffsetDecoder{Offset: config.MetadataOffset}
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ReadMint reads the mint account, trying Token-2022 before SPL Token.
// Returns nil without error when the gate gave up on rate limits.
func (v *Verifier) ReadMint(ctx context.Context, mint solana.Pubkey) (*solana.MintInfo, error) {
	var lastErr error
	for _, standard := range []solana.TokenStandard{solana.StandardToken2022, solana.StandardSPL} {
		info, ok, err := gate.Execute(ctx, v.gate, func(ctx context.Context) (*solana.MintInfo, error) {
			return v.rpc.GetMintInfo(ctx, mint, standard)
		})
		v.reads.Add(1)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if !ok {
			return nil, nil
		}
		return info, nil
	}
	return nil, lastErr
}

// ReadAuthorities returns the mint's authority state, or nil when it could
// not be read under either token program.
func (v *Verifier) ReadAuthorities(ctx context.Context, mint solana.Pubkey) (*Authorities, error) {
	info, err := v.ReadMint(ctx, mint)
	if err != nil {
		if errors.Is(err, solana.ErrAccountNotFound) || errors.Is(err, solana.ErrOwnerMismatch) {
			return nil, nil
		}
		return nil, fmt.Errorf("onchain: authorities %s: %w", mint, err)
	}
	if info == nil {
		return nil, nil
	}
	return &Authorities{
		Standard:              info.Standard,
		MintAuthorityActive:   !info.IsMintRenounced(),
		FreezeAuthorityActive: !info.IsFreezeRenounced(),
	}, nil
}

// ReadMetadataMutability decodes is_mutable from the mint's Metaplex
// metadata account. Returns nil when the account does not exist.
func (v *Verifier) ReadMetadataMutability(ctx context.Context, mint solana.Pubkey) (*bool, error) {
	address, err := solana.MetadataAddress(mint)
	if err != nil {
		return nil, fmt.Errorf("onchain: metadata address: %w", err)
	}

	account, ok, err := gate.Execute(ctx, v.gate, func(ctx context.Context) (*solana.AccountInfo, error) {
		return v.rpc.GetAccountInfo(ctx, address)
	})
	v.reads.Add(1)
	if err != nil {
		if errors.Is(err, solana.ErrAccountNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("onchain: metadata %s: %w", address, err)
	}
	if !ok || account == nil {
		return nil, nil
	}
	if account.Owner != solana.MetaplexProgramID {
		return nil, fmt.Errorf("onchain: metadata %s owned by %s", address, account.Owner)
	}

	mutable, err := v.decoder.IsMutable(account.Data)
	if err != nil {
		return nil, fmt.Errorf("onchain: decode metadata %s: %w", address, err)
	}
	return &mutable, nil
}

// HolderConcentration reports whether the largest holders together exceed
// the configured share of supply. Returns nil when supply is zero, there are
// no holders, or either read came back empty.
func (v *Verifier) HolderConcentration(ctx context.Context, mint solana.Pubkey) (*bool, error) {
	holders, ok, err := gate.Execute(ctx, v.gate, func(ctx context.Context) ([]solana.TokenAccountBalance, error) {
		return v.rpc.GetTokenLargestAccounts(ctx, mint)
	})
	v.reads.Add(1)
	if err != nil {
		return nil, fmt.Errorf("onchain: largest accounts %s: %w", mint, err)
	}
	if !ok || len(holders) == 0 {
		return nil, nil
	}

	info, err := v.ReadMint(ctx, mint)
	if err != nil {
		if errors.Is(err, solana.ErrAccountNotFound) || errors.Is(err, solana.ErrOwnerMismatch) {
			return nil, nil
		}
		return nil, fmt.Errorf("onchain: supply %s: %w", mint, err)
	}
	if info == nil || !info.Supply.IsPositive() {
		return nil, nil
	}

	held := decimal.Zero
	for i, h := range holders {
		if i >= v.config.TopHolders {
			break
		}
		held = held.Add(h.Amount)
	}
	share := held.Div(info.Supply)
	concentrated := share.GreaterThan(decimal.NewFromFloat(v.config.HolderThreshold))

	log.Debug().
		Str("mint", string(mint)).
		Str("top_share", share.StringFixed(4)).
		Bool("concentrated", concentrated).
		Msg("onchain: holder concentration")

	return &concentrated, nil
}

// Flags reads authorities and metadata mutability. Fields that could not be
// read are left nil.
func (v *Verifier) Flags(ctx context.Context, mint solana.Pubkey) risk.PartialFlags {
	var flags risk.PartialFlags

	auth, err := v.ReadAuthorities(ctx, mint)
	if err != nil {
		v.failures.Add(1)
		log.Warn().Err(err).Str("mint", string(mint)).Msg("onchain: authority read failed")
	}
	if auth != nil {
		flags.MintAuthorityActive = risk.Bool(auth.MintAuthorityActive)
		flags.FreezeAuthorityActive = risk.Bool(auth.FreezeAuthorityActive)
	} else {
		v.unknowns.Add(1)
	}

	mutable, err := v.ReadMetadataMutability(ctx, mint)
	if err != nil {
		v.failures.Add(1)
		log.Warn().Err(err).Str("mint", string(mint)).Msg("onchain: metadata read failed")
	}
	if mutable != nil {
		flags.MetadataMutable = mutable
	} else {
		v.unknowns.Add(1)
	}

	return flags
}

// Stats holds verifier counters.
type Stats struct {
	Reads    int64 `json:"reads"`
	Unknowns int64 `json:"unknowns"`
	Failures int64 `json:"failures"`
}

// Stats returns verifier statistics.
func (v *Verifier) Stats() Stats {
	return Stats{
		Reads:    v.reads.Load(),
		Unknowns: v.unknowns.Load(),
		Failures: v.failures.Load(),
	}
}

var _ risk.ChainVerifier = (*Verifier)(nil)
