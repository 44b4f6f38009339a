package solana

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// RPC Client Interface
// ---------------------------------------------------------------------------

// RPCClient is the on-chain reader used by the pipeline.
// Implementations: LiveRPCClient (real Solana), StubRPCClient (testing).
type RPCClient interface {
	// GetAccountInfo reads a raw account. Returns ErrAccountNotFound when absent.
	GetAccountInfo(ctx context.Context, address Pubkey) (*AccountInfo, error)

	// GetMintInfo reads a mint under the given token standard. Returns
	// ErrOwnerMismatch when the account belongs to another program.
	GetMintInfo(ctx context.Context, mint Pubkey, standard TokenStandard) (*MintInfo, error)

	// GetParsedTransaction fetches a jsonParsed transaction.
	GetParsedTransaction(ctx context.Context, sig Signature) (*ParsedTransaction, error)

	// GetTokenLargestAccounts returns the largest token accounts of a mint.
	GetTokenLargestAccounts(ctx context.Context, mint Pubkey) ([]TokenAccountBalance, error)

	// Health returns the RPC endpoint health.
	Health(ctx context.Context) error
}

// LogSubscriber delivers program log notifications.
type LogSubscriber interface {
	// OnLogs registers callback for logs that mention programID.
	OnLogs(programID Pubkey, callback func(LogNotification))
}

// RPCConfig configures the Solana RPC client.
type RPCConfig struct {
	Endpoint   string        `yaml:"endpoint"`    // e.g. https://api.mainnet-beta.solana.com
	WSEndpoint string        `yaml:"ws_endpoint"` // e.g. wss://api.mainnet-beta.solana.com
	Timeout    time.Duration `yaml:"timeout"`
	Commitment string        `yaml:"commitment"` // processed|confirmed|finalized
}

// DefaultRPCConfig returns development defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:   "https://api.mainnet-beta.solana.com",
		WSEndpoint: "wss://api.mainnet-beta.solana.com",
		Timeout:    10 * time.Second,
		Commitment: "confirmed",
	}
}

// ---------------------------------------------------------------------------
// Stub RPC Client (for testing and development)
// ---------------------------------------------------------------------------

// StubRPCClient is an in-memory RPC client for testing.
type StubRPCClient struct {
	mu           sync.RWMutex
	accounts     map[Pubkey]*AccountInfo
	mints        map[Pubkey]*MintInfo
	transactions map[Signature]*ParsedTransaction
	largest      map[Pubkey][]TokenAccountBalance
	calls        map[string]int
	failNext     error
	rateLimited  int
}

// NewStubRPCClient creates a stub RPC client for testing.
func NewStubRPCClient() *StubRPCClient {
	return &StubRPCClient{
		accounts:     make(map[Pubkey]*AccountInfo),
		mints:        make(map[Pubkey]*MintInfo),
		transactions: make(map[Signature]*ParsedTransaction),
		largest:      make(map[Pubkey][]TokenAccountBalance),
		calls:        make(map[string]int),
	}
}

// AddAccount registers a raw account.
func (s *StubRPCClient) AddAccount(info AccountInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[info.Address] = &info
}

// AddMint registers a mint under its standard.
func (s *StubRPCClient) AddMint(info MintInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info.Standard == "" {
		info.Standard = StandardSPL
	}
	s.mints[info.Mint] = &info
}

// AddTransaction registers a parsed transaction.
func (s *StubRPCClient) AddTransaction(tx ParsedTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.Signature] = &tx
}

// AddLargestAccounts registers the largest holders of a mint.
func (s *StubRPCClient) AddLargestAccounts(mint Pubkey, balances []TokenAccountBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.largest[mint] = balances
}

// SetFailNext makes the next call fail with err.
func (s *StubRPCClient) SetFailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// SetRateLimited makes the next n calls fail with ErrRateLimited.
func (s *StubRPCClient) SetRateLimited(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rateLimited = n
}

// Calls returns how many times method was invoked.
func (s *StubRPCClient) Calls(method string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[method]
}

func (s *StubRPCClient) begin(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method]++
	if s.rateLimited > 0 {
		s.rateLimited--
		return fmt.Errorf("stub: %s: %w", method, ErrRateLimited)
	}
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	return nil
}

// --- Interface implementation ---

func (s *StubRPCClient) GetAccountInfo(_ context.Context, address Pubkey) (*AccountInfo, error) {
	if err := s.begin("getAccountInfo"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if info, ok := s.accounts[address]; ok {
		return info, nil
	}
	return nil, fmt.Errorf("stub: %s: %w", address, ErrAccountNotFound)
}

func (s *StubRPCClient) GetMintInfo(_ context.Context, mint Pubkey, standard TokenStandard) (*MintInfo, error) {
	if err := s.begin("getMintInfo"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.mints[mint]
	if !ok {
		return nil, fmt.Errorf("stub: mint %s: %w", mint, ErrAccountNotFound)
	}
	if info.Standard != standard {
		return nil, fmt.Errorf("stub: mint %s under %s: %w", mint, standard, ErrOwnerMismatch)
	}
	return info, nil
}

func (s *StubRPCClient) GetParsedTransaction(_ context.Context, sig Signature) (*ParsedTransaction, error) {
	if err := s.begin("getTransaction"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if tx, ok := s.transactions[sig]; ok {
		return tx, nil
	}
	return nil, fmt.Errorf("stub: tx %s: %w", sig, ErrTransactionNotFound)
}

func (s *StubRPCClient) GetTokenLargestAccounts(_ context.Context, mint Pubkey) ([]TokenAccountBalance, error) {
	if err := s.begin("getTokenLargestAccounts"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.largest[mint], nil
}

func (s *StubRPCClient) Health(_ context.Context) error {
	return s.begin("getHealth")
}
