package solana

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Live RPC Client: Solana JSON-RPC over HTTP
// Pacing and rate-limit retries live in the request gate, so each call here
// is a single attempt.
// ---------------------------------------------------------------------------

// LiveRPCClient connects to a real Solana RPC endpoint.
type LiveRPCClient struct {
	config     RPCConfig
	httpClient *http.Client

	// Unique request ID generator.
	nextID atomic.Int64

	// Circuit breaker.
	consecutiveErrors atomic.Int64
	circuitOpen       atomic.Bool

	// Stats.
	requestCount  atomic.Int64
	errorCount    atomic.Int64
	rateLimited   atomic.Int64
	latencySum    atomic.Int64 // cumulative microseconds
	lastRequestAt atomic.Int64
}

const (
	circuitBreakerThreshold = 10 // open after 10 consecutive errors
	circuitBreakerCooldown  = 30 * time.Second
)

// NewLiveRPCClient creates a live Solana RPC client.
func NewLiveRPCClient(config RPCConfig) *LiveRPCClient {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Commitment == "" {
		config.Commitment = "confirmed"
	}
	return &LiveRPCClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// rpcRequest is a JSON-RPC 2.0 request.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params,omitempty"`
}

// rpcResponse is a JSON-RPC 2.0 response.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// isRateLimit reports whether a JSON-RPC error body is a provider throttle.
func (e *rpcError) isRateLimit() bool {
	msg := strings.ToLower(e.Message)
	return e.Code == 429 || e.Code == -32429 ||
		strings.Contains(msg, "too many requests") || strings.Contains(msg, "rate limit")
}

// call makes a single JSON-RPC call.
func (c *LiveRPCClient) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	if c.circuitOpen.Load() {
		return nil, fmt.Errorf("rpc: circuit breaker open for %s (too many consecutive errors)", method)
	}

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("rpc: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("rpc: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.recordError()
		return nil, fmt.Errorf("rpc: %s http error: %w", method, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.recordError()
		return nil, fmt.Errorf("rpc: %s read response: %w", method, err)
	}

	c.requestCount.Add(1)
	c.latencySum.Add(time.Since(start).Microseconds())
	c.lastRequestAt.Store(time.Now().UnixMilli())

	if resp.StatusCode == http.StatusTooManyRequests {
		// Throttling is not a circuit-breaker error.
		c.rateLimited.Add(1)
		return nil, fmt.Errorf("rpc: %s (429): %w", method, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		c.recordError()
		return nil, fmt.Errorf("rpc: %s HTTP %d: %s", method, resp.StatusCode, string(respBody))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		c.recordError()
		return nil, fmt.Errorf("rpc: %s unmarshal response: %w", method, err)
	}

	c.resetErrors()
	if rpcResp.Error != nil {
		if rpcResp.Error.isRateLimit() {
			c.rateLimited.Add(1)
			return nil, fmt.Errorf("rpc: %s error %d: %s: %w", method, rpcResp.Error.Code, rpcResp.Error.Message, ErrRateLimited)
		}
		c.errorCount.Add(1)
		return nil, fmt.Errorf("rpc: %s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

// recordError increments consecutive errors and opens circuit breaker if needed.
func (c *LiveRPCClient) recordError() {
	c.errorCount.Add(1)
	count := c.consecutiveErrors.Add(1)
	if count >= circuitBreakerThreshold {
		if c.circuitOpen.CompareAndSwap(false, true) {
			log.Error().Int64("errors", count).Msg("rpc: circuit breaker open")
			time.AfterFunc(circuitBreakerCooldown, func() {
				c.circuitOpen.Store(false)
				c.consecutiveErrors.Store(0)
				log.Info().Msg("rpc: circuit breaker reset")
			})
		}
	}
}

// resetErrors resets the consecutive error counter.
func (c *LiveRPCClient) resetErrors() {
	c.consecutiveErrors.Store(0)
}

// ---------------------------------------------------------------------------
// RPCClient interface implementation
// ---------------------------------------------------------------------------

// GetAccountInfo reads an account with base64 encoding.
func (c *LiveRPCClient) GetAccountInfo(ctx context.Context, address Pubkey) (*AccountInfo, error) {
	result, err := c.call(ctx, "getAccountInfo", []any{
		string(address),
		map[string]any{"encoding": "base64", "commitment": c.config.Commitment},
	})
	if err != nil {
		return nil, err
	}

	var accountResp struct {
		Value *struct {
			Data       []string `json:"data"` // [base64_data, "base64"]
			Owner      string   `json:"owner"`
			Lamports   uint64   `json:"lamports"`
			Executable bool     `json:"executable"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &accountResp); err != nil {
		return nil, fmt.Errorf("rpc: parse account info: %w", err)
	}
	if accountResp.Value == nil {
		return nil, fmt.Errorf("rpc: %s: %w", address, ErrAccountNotFound)
	}
	if len(accountResp.Value.Data) == 0 {
		return nil, fmt.Errorf("rpc: %s: empty data field", address)
	}

	data, err := base64.StdEncoding.DecodeString(accountResp.Value.Data[0])
	if err != nil {
		return nil, fmt.Errorf("rpc: decode account data: %w", err)
	}

	return &AccountInfo{
		Address:    address,
		Owner:      Pubkey(accountResp.Value.Owner),
		Lamports:   accountResp.Value.Lamports,
		Executable: accountResp.Value.Executable,
		Data:       data,
	}, nil
}

// GetMintInfo reads and decodes a mint, checking its owner against the standard.
func (c *LiveRPCClient) GetMintInfo(ctx context.Context, mint Pubkey, standard TokenStandard) (*MintInfo, error) {
	account, err := c.GetAccountInfo(ctx, mint)
	if err != nil {
		return nil, err
	}
	if account.Owner != standard.ProgramID() {
		return nil, fmt.Errorf("rpc: mint %s owned by %s, want %s: %w",
			mint, account.Owner, standard.ProgramID(), ErrOwnerMismatch)
	}
	return DecodeMint(mint, standard, account.Data)
}

// GetTokenLargestAccounts returns the largest token accounts for a mint.
func (c *LiveRPCClient) GetTokenLargestAccounts(ctx context.Context, mint Pubkey) ([]TokenAccountBalance, error) {
	result, err := c.call(ctx, "getTokenLargestAccounts", []any{
		string(mint),
		map[string]any{"commitment": c.config.Commitment},
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Value []struct {
			Address  string `json:"address"`
			Amount   string `json:"amount"`
			Decimals uint8  `json:"decimals"`
		} `json:"value"`
	}
	if err := json.Unmarshal(result, &resp); err != nil {
		return nil, fmt.Errorf("rpc: parse largest accounts: %w", err)
	}

	balances := make([]TokenAccountBalance, 0, len(resp.Value))
	for _, v := range resp.Value {
		amount, err := decimal.NewFromString(v.Amount)
		if err != nil {
			return nil, fmt.Errorf("rpc: parse amount %q: %w", v.Amount, err)
		}
		balances = append(balances, TokenAccountBalance{
			Address:  Pubkey(v.Address),
			Amount:   amount,
			Decimals: v.Decimals,
		})
	}
	return balances, nil
}

// txEnvelope mirrors the jsonParsed getTransaction result.
type txEnvelope struct {
	Slot      uint64 `json:"slot"`
	BlockTime *int64 `json:"blockTime"`
	Meta      *struct {
		Err               json.RawMessage `json:"err"`
		LogMessages       []string        `json:"logMessages"`
		PostTokenBalances []struct {
			AccountIndex int    `json:"accountIndex"`
			Mint         string `json:"mint"`
			Owner        string `json:"owner"`
		} `json:"postTokenBalances"`
		InnerInstructions []struct {
			Index        int               `json:"index"`
			Instructions []json.RawMessage `json:"instructions"`
		} `json:"innerInstructions"`
	} `json:"meta"`
	Transaction struct {
		Signatures []string `json:"signatures"`
		Message    struct {
			AccountKeys []struct {
				Pubkey string `json:"pubkey"`
			} `json:"accountKeys"`
			Instructions []json.RawMessage `json:"instructions"`
		} `json:"message"`
	} `json:"transaction"`
}

// wireInstruction covers both parsed and partially decoded instructions.
type wireInstruction struct {
	ProgramID string          `json:"programId"`
	Program   string          `json:"program"`
	Parsed    json.RawMessage `json:"parsed"`
	Accounts  []string        `json:"accounts"`
}

// GetParsedTransaction fetches a transaction with jsonParsed encoding.
func (c *LiveRPCClient) GetParsedTransaction(ctx context.Context, sig Signature) (*ParsedTransaction, error) {
	commitment := c.config.Commitment
	if commitment == "processed" {
		// getTransaction rejects processed.
		commitment = "confirmed"
	}
	result, err := c.call(ctx, "getTransaction", []any{
		string(sig),
		map[string]any{
			"encoding":                       "jsonParsed",
			"commitment":                     commitment,
			"maxSupportedTransactionVersion": 0,
		},
	})
	if err != nil {
		return nil, err
	}
	if len(result) == 0 || string(result) == "null" {
		return nil, fmt.Errorf("rpc: %s: %w", sig, ErrTransactionNotFound)
	}

	var env txEnvelope
	if err := json.Unmarshal(result, &env); err != nil {
		return nil, fmt.Errorf("rpc: parse transaction: %w", err)
	}
	return decodeTransaction(sig, env)
}

func decodeTransaction(sig Signature, env txEnvelope) (*ParsedTransaction, error) {
	tx := &ParsedTransaction{
		Signature: sig,
		Slot:      env.Slot,
	}
	if env.BlockTime != nil {
		tx.BlockTime = time.Unix(*env.BlockTime, 0)
	}
	for _, k := range env.Transaction.Message.AccountKeys {
		tx.AccountKeys = append(tx.AccountKeys, Pubkey(k.Pubkey))
	}
	for _, raw := range env.Transaction.Message.Instructions {
		ix, err := decodeInstruction(raw)
		if err != nil {
			return nil, err
		}
		tx.Instructions = append(tx.Instructions, ix)
	}

	if env.Meta != nil {
		tx.Failed = len(env.Meta.Err) > 0 && string(env.Meta.Err) != "null"
		tx.LogMessages = env.Meta.LogMessages
		for _, b := range env.Meta.PostTokenBalances {
			tx.PostTokenBalances = append(tx.PostTokenBalances, TokenBalance{
				AccountIndex: b.AccountIndex,
				Mint:         Pubkey(b.Mint),
				Owner:        Pubkey(b.Owner),
			})
		}
		for _, group := range env.Meta.InnerInstructions {
			for _, raw := range group.Instructions {
				ix, err := decodeInstruction(raw)
				if err != nil {
					return nil, err
				}
				tx.InnerInstructions = append(tx.InnerInstructions, ix)
			}
		}
	}
	return tx, nil
}

func decodeInstruction(raw json.RawMessage) (ParsedInstruction, error) {
	var wire wireInstruction
	if err := json.Unmarshal(raw, &wire); err != nil {
		return ParsedInstruction{}, fmt.Errorf("rpc: parse instruction: %w", err)
	}

	ix := ParsedInstruction{
		ProgramID: Pubkey(wire.ProgramID),
		Program:   wire.Program,
	}
	for _, a := range wire.Accounts {
		ix.Accounts = append(ix.Accounts, Pubkey(a))
	}

	// Some programs (memo) parse to a plain string.
	if len(wire.Parsed) > 0 && wire.Parsed[0] == '{' {
		var parsed struct {
			Type string `json:"type"`
			Info struct {
				Mint string `json:"mint"`
			} `json:"info"`
		}
		if err := json.Unmarshal(wire.Parsed, &parsed); err != nil {
			return ParsedInstruction{}, fmt.Errorf("rpc: parse instruction body: %w", err)
		}
		ix.Type = parsed.Type
		ix.Mint = Pubkey(parsed.Info.Mint)
	}
	return ix, nil
}

// Health checks the RPC endpoint health.
func (c *LiveRPCClient) Health(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.call(healthCtx, "getHealth", nil)
	return err
}

// IsRateLimited reports whether err is a provider throttle. Only errors
// wrapping ErrRateLimited qualify; error text is never inspected since it
// may carry mint addresses or signatures.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// RPCStats returns RPC client statistics.
type RPCStats struct {
	RequestCount  int64 `json:"request_count"`
	ErrorCount    int64 `json:"error_count"`
	RateLimited   int64 `json:"rate_limited"`
	AvgLatencyUs  int64 `json:"avg_latency_us"`
	LastRequestAt int64 `json:"last_request_at"`
	CircuitOpen   bool  `json:"circuit_open"`
	ConsecErrors  int64 `json:"consecutive_errors"`
}

func (c *LiveRPCClient) Stats() RPCStats {
	reqCount := c.requestCount.Load()
	avgLatency := int64(0)
	if reqCount > 0 {
		avgLatency = c.latencySum.Load() / reqCount
	}
	return RPCStats{
		RequestCount:  reqCount,
		ErrorCount:    c.errorCount.Load(),
		RateLimited:   c.rateLimited.Load(),
		AvgLatencyUs:  avgLatency,
		LastRequestAt: c.lastRequestAt.Load(),
		CircuitOpen:   c.circuitOpen.Load(),
		ConsecErrors:  c.consecutiveErrors.Load(),
	}
}
