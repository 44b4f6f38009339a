// Package rugcheck reads third-party token risk reports and maps them onto
// risk flags.
package rugcheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/nexus-trading/forkwatch/internal/risk"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Config configures the report client.
type Config struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`

	MinLiquidityUSD    float64 `yaml:"min_liquidity_usd"`
	HolderPctThreshold float64 `yaml:"holder_pct_threshold"` // percent, top holders combined
	TopHolders         int     `yaml:"top_holders"`
	HoneypotPattern    string  `yaml:"honeypot_pattern"`
}

// DefaultConfig returns defaults for the public API.
func DefaultConfig() Config {
	return Config{
		BaseURL:            "https://api.rugcheck.xyz",
		Timeout:            30 * time.Second,
		MinLiquidityUSD:    5000,
		HolderPctThreshold: 50,
		TopHolders:         10,
		HoneypotPattern:    `(?i)honeypot|cannot sell|can't sell|unable to sell|sell(ing)? (is )?(disabled|blocked|restricted)`,
	}
}

// StatusError is returned for non-2xx responses other than 404.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rugcheck: HTTP %d: %s", e.StatusCode, e.Body)
}

// Client fetches token reports.
type Client struct {
	config     Config
	httpClient *http.Client
	honeypot   *regexp.Regexp

	// Stats.
	requests atomic.Int64
	notFound atomic.Int64
	failures atomic.Int64
}

// NewClient creates a report client.
func NewClient(config Config) (*Client, error) {
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.TopHolders <= 0 {
		config.TopHolders = defaults.TopHolders
	}
	if config.HolderPctThreshold <= 0 {
		config.HolderPctThreshold = defaults.HolderPctThreshold
	}
	if config.HoneypotPattern == "" {
		config.HoneypotPattern = defaults.HoneypotPattern
	}

	re, err := regexp.Compile(config.HoneypotPattern)
	if err != nil {
		return nil, fmt.Errorf("rugcheck: honeypot pattern: %w", err)
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		honeypot:   re,
	}, nil
}

// FetchReport returns the report for mint, or nil when the service has none.
func (c *Client) FetchReport(ctx context.Context, mint solana.Pubkey) (*Report, error) {
	endpoint := strings.TrimRight(c.config.BaseURL, "/") + "/v1/tokens/" + url.PathEscape(string(mint)) + "/report"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("rugcheck: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("X-API-KEY", c.config.APIKey)
	}

	c.requests.Add(1)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.failures.Add(1)
		return nil, fmt.Errorf("rugcheck: %s: %w", mint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.notFound.Add(1)
		return nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		c.failures.Add(1)
		return nil, fmt.Errorf("rugcheck: read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.failures.Add(1)
		snippet := string(body)
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	var report Report
	if err := json.Unmarshal(body, &report); err != nil {
		c.failures.Add(1)
		return nil, fmt.Errorf("rugcheck: decode report: %w", err)
	}

	log.Debug().
		Str("mint", string(mint)).
		Int("risks", len(report.Risks)).
		Int("markets", len(report.Markets)).
		Msg("rugcheck: report fetched")

	return &report, nil
}

// ReportFlags fetches and maps a report. ok is false when no report exists.
func (c *Client) ReportFlags(ctx context.Context, mint solana.Pubkey) (risk.Flags, bool, error) {
	report, err := c.FetchReport(ctx, mint)
	if err != nil || report == nil {
		return risk.Flags{}, false, err
	}
	return c.ToFlags(report), true, nil
}

// ToFlags maps a report onto risk flags using the client's thresholds.
func (c *Client) ToFlags(r *Report) risk.Flags {
	return ToFlags(r, c.config, c.honeypot)
}

// ToFlags maps a report onto risk flags.
func ToFlags(r *Report, cfg Config, honeypot *regexp.Regexp) risk.Flags {
	if r == nil {
		return risk.Flags{}
	}
	return risk.Flags{
		MintAuthorityActive:     r.MintAuthority != nil && *r.MintAuthority != "",
		FreezeAuthorityActive:   r.FreezeAuthority != nil && *r.FreezeAuthority != "",
		MetadataMutable:         r.TokenMeta != nil && r.TokenMeta.Mutable,
		HighHolderConcentration: r.TopHolderPct(cfg.TopHolders).GreaterThan(decimal.NewFromFloat(cfg.HolderPctThreshold)),
		LPNotBurned:             !r.HasLockedLiquidity(),
		LowLiquidity:            r.Liquidity().LessThan(decimal.NewFromFloat(cfg.MinLiquidityUSD)),
		Honeypot:                r.HasDangerRisk(honeypot),
	}
}

// Stats holds client counters.
type Stats struct {
	Requests int64 `json:"requests"`
	NotFound int64 `json:"not_found"`
	Failures int64 `json:"failures"`
}

// Stats returns client statistics.
func (c *Client) Stats() Stats {
	return Stats{
		Requests: c.requests.Load(),
		NotFound: c.notFound.Load(),
		Failures: c.failures.Load(),
	}
}
