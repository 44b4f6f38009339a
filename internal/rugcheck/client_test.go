package rugcheck

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMint = solana.Pubkey("So11111111111111111111111111111111111111112")

const riskyReport = `{
  "mint": "So11111111111111111111111111111111111111112",
  "mintAuthority": "Auth1111111111111111111111111111111111111111",
  "freezeAuthority": null,
  "tokenMeta": {"name": "Test", "symbol": "TST", "mutable": true},
  "topHolders": [
    {"address": "h1", "pct": 30.5},
    {"address": "h2", "pct": 15},
    {"address": "h3", "pct": 10}
  ],
  "risks": [
    {"name": "Freeze Authority still enabled", "level": "danger", "score": 7500},
    {"name": "Honeypot", "description": "Token cannot be sold", "level": "danger", "score": 10000}
  ],
  "markets": [
    {"pubkey": "m1", "marketType": "pump_fun", "lp": {"baseUSD": 1200.5, "quoteUSD": 800, "lpLockedPct": 0}}
  ],
  "score": 18001
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := DefaultConfig()
	cfg.BaseURL = server.URL
	cfg.Timeout = 2 * time.Second
	cfg.APIKey = "secret"
	c, err := NewClient(cfg)
	require.NoError(t, err)
	return c
}

func TestFetchReport_OK(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/tokens/"+string(testMint)+"/report", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("X-API-KEY"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(riskyReport))
	})

	report, err := c.FetchReport(context.Background(), testMint)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Len(t, report.TopHolders, 3)
	assert.True(t, report.TokenMeta.Mutable)
	assert.Nil(t, report.FreezeAuthority)
	assert.Equal(t, int64(1), c.Stats().Requests)
}

func TestFetchReport_NotFoundIsAbsent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	report, err := c.FetchReport(context.Background(), testMint)
	assert.NoError(t, err)
	assert.Nil(t, report)

	_, ok, err := c.ReportFlags(context.Background(), testMint)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(2), c.Stats().NotFound)
}

func TestFetchReport_ServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream down"))
	})

	_, err := c.FetchReport(context.Background(), testMint)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "upstream down")
	assert.Equal(t, int64(1), c.Stats().Failures)
}

func TestFetchReport_MalformedBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"topHolders": "nope"`))
	})

	_, err := c.FetchReport(context.Background(), testMint)
	assert.Error(t, err)
}

func TestReportFlags_Mapping(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(riskyReport))
	})

	flags, ok, err := c.ReportFlags(context.Background(), testMint)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, flags.MintAuthorityActive)
	assert.False(t, flags.FreezeAuthorityActive)
	assert.True(t, flags.MetadataMutable)
	assert.True(t, flags.HighHolderConcentration, "30.5+15+10 > 50")
	assert.True(t, flags.LPNotBurned)
	assert.True(t, flags.LowLiquidity, "2000.5 < 5000")
	assert.True(t, flags.Honeypot)
}

func TestToFlags_CleanReport(t *testing.T) {
	empty := ""
	r := &Report{
		MintAuthority:   &empty,
		FreezeAuthority: nil,
		TokenMeta:       &TokenMeta{Mutable: false},
		TopHolders: []Holder{
			{Pct: decimal.NewFromInt(20)},
			{Pct: decimal.NewFromInt(10)},
		},
		Risks: []Risk{{Name: "Honeypot suspicion", Level: "warn"}},
		Markets: []Market{{LP: &MarketLP{
			BaseUSD:     decimal.NewFromInt(40000),
			QuoteUSD:    decimal.NewFromInt(40000),
			LPLockedPct: decimal.NewFromInt(100),
		}}},
	}

	c, err := NewClient(DefaultConfig())
	require.NoError(t, err)
	flags := c.ToFlags(r)

	assert.False(t, flags.MintAuthorityActive)
	assert.False(t, flags.FreezeAuthorityActive)
	assert.False(t, flags.MetadataMutable)
	assert.False(t, flags.HighHolderConcentration)
	assert.False(t, flags.LPNotBurned)
	assert.False(t, flags.LowLiquidity)
	assert.False(t, flags.Honeypot, "warn-level risks do not count")
}

func TestReport_Helpers(t *testing.T) {
	t.Run("only first n holders count", func(t *testing.T) {
		r := &Report{}
		for i := 0; i < 12; i++ {
			r.TopHolders = append(r.TopHolders, Holder{Pct: decimal.NewFromInt(5)})
		}
		assert.True(t, r.TopHolderPct(10).Equal(decimal.NewFromInt(50)))
	})

	t.Run("liquidity falls back to total", func(t *testing.T) {
		r := &Report{TotalMarketLiquidity: decimal.NewFromInt(9000)}
		assert.True(t, r.Liquidity().Equal(decimal.NewFromInt(9000)))
	})

	t.Run("no markets means no locked LP", func(t *testing.T) {
		assert.False(t, (&Report{}).HasLockedLiquidity())
	})

	t.Run("nil pattern never matches", func(t *testing.T) {
		r := &Report{Risks: []Risk{{Name: "Honeypot", Level: "danger"}}}
		assert.False(t, r.HasDangerRisk(nil))
		assert.True(t, r.HasDangerRisk(regexp.MustCompile(`(?i)honeypot`)))
	})

	t.Run("nil report", func(t *testing.T) {
		assert.Equal(t, false, ToFlags(nil, DefaultConfig(), nil).Honeypot)
	})
}

func TestNewClient_BadPattern(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HoneypotPattern = "("
	_, err := NewClient(cfg)
	assert.Error(t, err)
}
