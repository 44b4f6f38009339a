package rugcheck

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// Report is the subset of a token report the pipeline reads.
type Report struct {
	Mint                 string          `json:"mint"`
	Creator              string          `json:"creator"`
	MintAuthority        *string         `json:"mintAuthority"`
	FreezeAuthority      *string         `json:"freezeAuthority"`
	TokenMeta            *TokenMeta      `json:"tokenMeta"`
	TopHolders           []Holder        `json:"topHolders"`
	Risks                []Risk          `json:"risks"`
	Markets              []Market        `json:"markets"`
	TotalMarketLiquidity decimal.Decimal `json:"totalMarketLiquidity"`
	Score                int             `json:"score"`
	Rugged               bool            `json:"rugged"`
}

// TokenMeta is the token's on-chain metadata as reported.
type TokenMeta struct {
	Name            string `json:"name"`
	Symbol          string `json:"symbol"`
	URI             string `json:"uri"`
	Mutable         bool   `json:"mutable"`
	UpdateAuthority string `json:"updateAuthority"`
}

// Holder is one top-holder entry. Pct is a percentage of supply.
type Holder struct {
	Address string          `json:"address"`
	Owner   string          `json:"owner"`
	Pct     decimal.Decimal `json:"pct"`
	Insider bool            `json:"insider"`
}

// Risk is one reported risk item.
type Risk struct {
	Name        string `json:"name"`
	Value       string `json:"value"`
	Description string `json:"description"`
	Score       int    `json:"score"`
	Level       string `json:"level"` // danger|warn|info
}

// Market is a trading venue for the token.
type Market struct {
	Pubkey     string    `json:"pubkey"`
	MarketType string    `json:"marketType"`
	LP         *MarketLP `json:"lp"`
}

// MarketLP holds liquidity figures for a market.
type MarketLP struct {
	BaseUSD     decimal.Decimal `json:"baseUSD"`
	QuoteUSD    decimal.Decimal `json:"quoteUSD"`
	LPLockedPct decimal.Decimal `json:"lpLockedPct"`
	LPLockedUSD decimal.Decimal `json:"lpLockedUSD"`
}

// TopHolderPct sums the percentages of the first n holders.
func (r *Report) TopHolderPct(n int) decimal.Decimal {
	total := decimal.Zero
	for i, h := range r.TopHolders {
		if i >= n {
			break
		}
		total = total.Add(h.Pct)
	}
	return total
}

// HasLockedLiquidity reports whether any market shows locked or burned LP.
func (r *Report) HasLockedLiquidity() bool {
	for _, m := range r.Markets {
		if m.LP != nil && m.LP.LPLockedPct.IsPositive() {
			return true
		}
	}
	return false
}

// Liquidity sums market liquidity, falling back to the reported total when
// no market carries figures.
func (r *Report) Liquidity() decimal.Decimal {
	total := decimal.Zero
	for _, m := range r.Markets {
		if m.LP == nil {
			continue
		}
		total = total.Add(m.LP.BaseUSD).Add(m.LP.QuoteUSD)
	}
	if total.IsZero() {
		return r.TotalMarketLiquidity
	}
	return total
}

// HasDangerRisk reports whether a danger-level risk matches pattern.
func (r *Report) HasDangerRisk(pattern *regexp.Regexp) bool {
	if pattern == nil {
		return false
	}
	for _, risk := range r.Risks {
		if !strings.EqualFold(risk.Level, "danger") {
			continue
		}
		if pattern.MatchString(risk.Name) || pattern.MatchString(risk.Description) {
			return true
		}
	}
	return false
}
