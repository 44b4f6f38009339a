package risk_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nexus-trading/forkwatch/internal/gate"
	"github.com/nexus-trading/forkwatch/internal/onchain"
	"github.com/nexus-trading/forkwatch/internal/risk"
	"github.com/nexus-trading/forkwatch/internal/rugcheck"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bonkMint = solana.Pubkey("DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263")

func TestEngine_ReportNotFoundFallsBackToOnChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	reports, err := rugcheck.NewClient(rugcheck.Config{BaseURL: srv.URL, Timeout: 5 * time.Second})
	require.NoError(t, err)

	rpc := solana.NewStubRPCClient()
	rpc.AddMint(solana.MintInfo{
		Mint:          bonkMint,
		Standard:      solana.StandardSPL,
		MintAuthority: "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		Supply:        decimal.NewFromInt(1000),
	})
	rpc.AddLargestAccounts(bonkMint, []solana.TokenAccountBalance{
		{Amount: decimal.NewFromInt(700)},
	})
	g := gate.New(gate.Config{Cooldown: time.Millisecond, MaxRetries: 1})
	verifier := onchain.NewVerifier(rpc, g, onchain.DefaultConfig())

	e := risk.New(risk.DefaultConfig(), reports, verifier)
	a, err := e.Assess(context.Background(), bonkMint)
	require.NoError(t, err)

	assert.Equal(t, []string{risk.SourceOnChain}, a.Sources)
	assert.Equal(t, risk.Flags{
		MintAuthorityActive:     true,
		HighHolderConcentration: true,
	}, a.Flags)
	assert.Equal(t, 50, a.Score)
	assert.Equal(t, risk.LevelHigh, a.Level)
	assert.True(t, a.Forkable)

	assert.Equal(t, int64(1), reports.Stats().NotFound)
	assert.Equal(t, int64(1), e.Stats().ReportMisses)
	assert.Equal(t, int64(0), e.Stats().ReportErrors)
}
