package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nexus-trading/forkwatch/internal/gate"
	"github.com/nexus-trading/forkwatch/internal/monitor"
	"github.com/nexus-trading/forkwatch/internal/onchain"
	"github.com/nexus-trading/forkwatch/internal/risk"
	"github.com/nexus-trading/forkwatch/internal/solana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bonkMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"

func testMonitor(t *testing.T) (*monitor.Monitor, *solana.StubRPCClient) {
	t.Helper()
	rpc := solana.NewStubRPCClient()
	g := gate.New(gate.Config{Cooldown: time.Millisecond, MaxRetries: 1})
	engine := risk.New(risk.DefaultConfig(), nil, onchain.NewVerifier(rpc, g, onchain.DefaultConfig()))
	return monitor.New(monitor.DefaultConfig(), engine), rpc
}

func TestAssessHandler(t *testing.T) {
	mon, rpc := testMonitor(t)
	rpc.AddMint(solana.MintInfo{
		Mint:            bonkMint,
		Standard:        solana.StandardSPL,
		MintAuthority:   "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
		FreezeAuthority: "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
	})
	handler := assessHandler(mon)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/assess?mint="+bonkMint, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var a risk.Assessment
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &a))
	assert.Equal(t, solana.Pubkey(bonkMint), a.Mint)
	assert.True(t, a.Flags.MintAuthorityActive)
	assert.True(t, a.Flags.FreezeAuthorityActive)
	assert.True(t, a.Forkable)
}

func TestAssessHandler_BadRequests(t *testing.T) {
	mon, _ := testMonitor(t)
	handler := assessHandler(mon)

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/assess", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest(http.MethodGet, "/assess?mint=not-a-mint", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid mint")
}

func TestLoadConfig_StubFallsBackToDefaults(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.yaml")

	cfg, err := loadConfig(missing, true)
	require.NoError(t, err)
	assert.Equal(t, "forkwatch-1", cfg.General.InstanceID)

	_, err = loadConfig(missing, false)
	assert.Error(t, err)
}
