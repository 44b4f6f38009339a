package solana

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// Well-known program and mint addresses.
const (
	TokenProgramID     Pubkey = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
	Token2022ProgramID Pubkey = "TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb"
	MetaplexProgramID  Pubkey = "metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bt518x1s"

	WrappedSOLMint Pubkey = "So11111111111111111111111111111111111111112"
	USDCMint       Pubkey = "EPjFWdd5AufqSSqeM2qrxdfYjRp4LTLkWUNTjDkmWuyu"
	USDTMint       Pubkey = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// Sentinel errors returned by RPC readers.
var (
	// ErrRateLimited marks a request rejected by the endpoint for exceeding its rate limit.
	ErrRateLimited = errors.New("rpc: rate limited")
	// ErrAccountNotFound is returned when an account does not exist.
	ErrAccountNotFound = errors.New("rpc: account not found")
	// ErrOwnerMismatch is returned when an account is not owned by the expected program.
	ErrOwnerMismatch = errors.New("rpc: account owner mismatch")
	// ErrTransactionNotFound is returned when a transaction is not yet (or no longer) available.
	ErrTransactionNotFound = errors.New("rpc: transaction not found")
)

// ---------------------------------------------------------------------------
// Token types
// ---------------------------------------------------------------------------

// TokenStandard selects which token program a mint is read under.
type TokenStandard string

const (
	StandardSPL       TokenStandard = "spl-token"
	StandardToken2022 TokenStandard = "spl-token-2022"
)

// ProgramID returns the owning program for the standard.
func (s TokenStandard) ProgramID() Pubkey {
	if s == StandardToken2022 {
		return Token2022ProgramID
	}
	return TokenProgramID
}

// MintInfo is the decoded base layout of a mint account.
type MintInfo struct {
	Mint            Pubkey          `json:"mint"`
	Standard        TokenStandard   `json:"standard"`
	Supply          decimal.Decimal `json:"supply"` // raw units
	Decimals        uint8           `json:"decimals"`
	IsInitialized   bool            `json:"is_initialized"`
	MintAuthority   Pubkey          `json:"mint_authority"`   // empty = renounced
	FreezeAuthority Pubkey          `json:"freeze_authority"` // empty = renounced
}

// IsMintRenounced returns true if the mint authority is empty.
func (m MintInfo) IsMintRenounced() bool {
	return m.MintAuthority == ""
}

// IsFreezeRenounced returns true if the freeze authority is empty.
func (m MintInfo) IsFreezeRenounced() bool {
	return m.FreezeAuthority == ""
}

// AccountInfo is a raw account read with base64 encoding.
type AccountInfo struct {
	Address    Pubkey `json:"address"`
	Owner      Pubkey `json:"owner"`
	Lamports   uint64 `json:"lamports"`
	Executable bool   `json:"executable"`
	Data       []byte `json:"-"`
}

// TokenAccountBalance is one entry of getTokenLargestAccounts.
type TokenAccountBalance struct {
	Address  Pubkey          `json:"address"`
	Amount   decimal.Decimal `json:"amount"` // raw units
	Decimals uint8           `json:"decimals"`
}

// ---------------------------------------------------------------------------
// Transaction types
// ---------------------------------------------------------------------------

// ParsedInstruction is a jsonParsed instruction. Program and Type are set only
// when the node could parse the instruction.
type ParsedInstruction struct {
	ProgramID Pubkey   `json:"program_id"`
	Program   string   `json:"program,omitempty"` // e.g. spl-token
	Type      string   `json:"type,omitempty"`    // e.g. initializeMint2
	Mint      Pubkey   `json:"mint,omitempty"`
	Accounts  []Pubkey `json:"accounts,omitempty"`
}

// TokenBalance is a post-transaction token balance entry.
type TokenBalance struct {
	AccountIndex int    `json:"account_index"`
	Mint         Pubkey `json:"mint"`
	Owner        Pubkey `json:"owner"`
}

// ParsedTransaction is the subset of a jsonParsed transaction the pipeline reads.
type ParsedTransaction struct {
	Signature         Signature           `json:"signature"`
	Slot              uint64              `json:"slot"`
	BlockTime         time.Time           `json:"block_time"`
	Failed            bool                `json:"failed"`
	AccountKeys       []Pubkey            `json:"account_keys"`
	Instructions      []ParsedInstruction `json:"instructions"`
	InnerInstructions []ParsedInstruction `json:"inner_instructions"`
	PostTokenBalances []TokenBalance      `json:"post_token_balances"`
	LogMessages       []string            `json:"log_messages"`
}

// FeePayer returns the first account key, which signs and pays for the transaction.
func (t ParsedTransaction) FeePayer() Pubkey {
	if len(t.AccountKeys) == 0 {
		return ""
	}
	return t.AccountKeys[0]
}

// AllInstructions returns outer instructions followed by inner ones.
func (t ParsedTransaction) AllInstructions() []ParsedInstruction {
	out := make([]ParsedInstruction, 0, len(t.Instructions)+len(t.InnerInstructions))
	out = append(out, t.Instructions...)
	return append(out, t.InnerInstructions...)
}

// LogNotification is a logsSubscribe notification.
type LogNotification struct {
	ProgramID  Pubkey    `json:"program_id"`
	Signature  Signature `json:"signature"`
	Slot       uint64    `json:"slot"`
	Logs       []string  `json:"logs"`
	Failed     bool      `json:"failed"`
	ReceivedAt time.Time `json:"received_at"`
}
