package risk

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Scoring: weighted flags, level buckets, summary and forkability
// ---------------------------------------------------------------------------

// Merge overlays over onto base. Flags present in over win.
func Merge(base Flags, over PartialFlags) Flags {
	pick := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	out := base
	pick(&out.MintAuthorityActive, over.MintAuthorityActive)
	pick(&out.FreezeAuthorityActive, over.FreezeAuthorityActive)
	pick(&out.MetadataMutable, over.MetadataMutable)
	pick(&out.HighHolderConcentration, over.HighHolderConcentration)
	pick(&out.LPNotBurned, over.LPNotBurned)
	pick(&out.LowLiquidity, over.LowLiquidity)
	pick(&out.Honeypot, over.Honeypot)
	return out
}

// Score sums the weights of every true flag, clamped to [0, 100].
func Score(f Flags, w Weights) int {
	score := 0
	if f.MintAuthorityActive {
		score += w.MintAuthority
	}
	if f.FreezeAuthorityActive {
		score += w.FreezeAuthority
	}
	if f.Honeypot {
		score += w.Honeypot
	}
	if f.MetadataMutable {
		score += w.MetadataMutable
	}
	if f.HighHolderConcentration {
		score += w.HolderConcentration
	}
	if f.LPNotBurned {
		score += w.LPNotBurned
	}
	if f.LowLiquidity {
		score += w.LowLiquidity
	}
	return clampScore(score)
}

// clampScore ensures score is within [0, 100].
func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Classify maps a score onto a level.
func Classify(score int, t Thresholds) Level {
	switch {
	case score < t.Medium:
		return LevelLow
	case score < t.High:
		return LevelMedium
	case score < t.Critical:
		return LevelHigh
	default:
		return LevelCritical
	}
}

const noRisks = "No significant risks detected."

// Summarize renders one sentence per true flag in a fixed order.
func Summarize(f Flags) string {
	var parts []string
	if f.MintAuthorityActive {
		parts = append(parts, "Mint authority is active; supply can still be inflated.")
	}
	if f.FreezeAuthorityActive {
		parts = append(parts, "Freeze authority is active; holder accounts can be frozen.")
	}
	if f.Honeypot {
		parts = append(parts, "Honeypot behaviour detected; holders may be unable to sell.")
	}
	if f.MetadataMutable {
		parts = append(parts, "Token metadata is mutable.")
	}
	if f.HighHolderConcentration {
		parts = append(parts, "Top holders control a majority of supply.")
	}
	if f.LPNotBurned {
		parts = append(parts, "Liquidity pool tokens are not burned or locked.")
	}
	if f.LowLiquidity {
		parts = append(parts, "Liquidity is below the safety floor.")
	}
	if len(parts) == 0 {
		return noRisks
	}
	return strings.Join(parts, " ")
}

// Forkability decides whether a relaunch would fix the token's risk: the
// level must be above LOW and at least one flaw must be one a clean redeploy
// removes.
func Forkability(level Level, f Flags) (bool, string) {
	if !level.Above(LevelLow) {
		return false, ""
	}

	var fixable []string
	if f.MintAuthorityActive {
		fixable = append(fixable, "mint authority")
	}
	if f.FreezeAuthorityActive {
		fixable = append(fixable, "freeze authority")
	}
	if f.Honeypot {
		fixable = append(fixable, "honeypot")
	}
	if len(fixable) == 0 {
		return false, ""
	}
	return true, fmt.Sprintf("%s risk from fixable flaws: %s", level, strings.Join(fixable, ", "))
}
