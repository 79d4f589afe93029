// Package risk enforces the account-safety bounds no trade may exceed:
// tier per-trade caps, the daily cumulative cap, account-floor protection,
// and the global hard ceiling.
package risk

import (
	"math"

	"github.com/rs/zerolog"

	"strikebot-go/internal/config"
	"strikebot-go/internal/metrics"
	"strikebot-go/internal/signal"
)

// pipValuePerLot approximates the per-pip dollar value of one standard lot
// on USD-quoted pairs.
const pipValuePerLot = 10.0

// minLotSize is the smallest size the terminal accepts.
const minLotSize = 0.01

// Account is the trading account state at evaluation time, sourced from the
// latest bridge heartbeat.
type Account struct {
	Balance float64
	Equity  float64
}

// Gate applies the four limit layers in order, shrinking the requested size
// where it can and rejecting only where it must. Evaluation is a pure
// function of its arguments plus the injected daily ledger.
type Gate struct {
	tiers            map[string]config.Tier
	accountFloor     float64
	globalMaxPct     float64
	maxSignalsPerDay int
	ledger           *Ledger
	log              zerolog.Logger
}

// NewGate wires the gate to its configuration and the shared daily ledger.
func NewGate(cfg config.Risk, ledger *Ledger, log zerolog.Logger) *Gate {
	return &Gate{
		tiers:            cfg.Tiers,
		accountFloor:     cfg.AccountFloor,
		globalMaxPct:     cfg.GlobalMaxRiskPct,
		maxSignalsPerDay: cfg.MaxSignalsPerDay,
		ledger:           ledger,
		log:              log,
	}
}

// Evaluate sizes one signal for one account context. Approved decisions
// commit their risk to the daily ledger; rejections carry a reason and are
// fatal to the signal only.
func (g *Gate) Evaluate(sig signal.ScoredSignal, acct Account, tierName string, requestedPct, shieldMult float64) signal.RiskDecision {
	reject := func(reason string) signal.RiskDecision {
		metrics.RejectionsTotal.WithLabelValues("risk", reason).Inc()
		g.log.Info().Str("id", sig.ID).Str("tier", tierName).Str("reason", reason).Msg("risk gate rejection")
		return signal.RiskDecision{SignalID: sig.ID, Approved: false, Reason: reason}
	}

	tier, ok := g.tiers[tierName]
	if !ok {
		return reject("unknown-tier")
	}
	if acct.Balance <= 0 {
		return reject("no-balance")
	}
	if g.maxSignalsPerDay > 0 && g.ledger.SignalsToday() >= g.maxSignalsPerDay {
		return reject("daily-signal-limit")
	}

	if shieldMult > 0 {
		requestedPct *= shieldMult
	}
	if requestedPct <= 0 {
		return reject("no-risk-requested")
	}

	pct := requestedPct
	reason := "within-limits"

	// Tier-specific per-trade cap.
	if pct > tier.MaxRiskPercent {
		pct = tier.MaxRiskPercent
		reason = "tier-limit-adjusted"
	}

	// Account-floor protection.
	if g.accountFloor > 0 {
		tolerable := acct.Balance - g.accountFloor
		if tolerable <= 0 {
			return reject("account-floor-reached")
		}
		floorPct := tolerable / acct.Balance * 100
		if pct > floorPct {
			pct = floorPct
			reason = "account-floor-adjusted"
		}
	}

	// The global hard ceiling. No tier setting overrides it.
	if pct > g.globalMaxPct {
		pct = g.globalMaxPct
		reason = "hard-lock-adjusted"
	}

	// Daily cumulative cap, reserved atomically as the last shrink so
	// concurrent evaluations never read the same remainder.
	granted, ok := g.ledger.TryCommit(pct, tier.DailyCapPercent)
	if !ok {
		return reject("daily-cap-reached")
	}
	if granted < pct {
		pct = granted
		reason = "daily-cap-adjusted"
	}

	lot := lotSize(acct.Balance, pct, sig.Entry, sig.StopLoss, sig.Match.Symbol)
	if lot < minLotSize {
		g.ledger.Rollback(pct)
		return reject("size-below-minimum")
	}
	g.log.Info().
		Str("id", sig.ID).
		Str("tier", tierName).
		Float64("pct", pct).
		Float64("lot", lot).
		Str("reason", reason).
		Msg("risk gate approval")
	return signal.RiskDecision{
		SignalID:        sig.ID,
		Approved:        true,
		AdjustedLotSize: lot,
		RiskPercent:     pct,
		Reason:          reason,
	}
}

// lotSize converts a risk percent into terminal lots given the stop
// distance, rounded down to the 0.01 lot step.
func lotSize(balance, pct, entry, stop float64, symbol string) float64 {
	stopPips := signal.Pips(symbol, math.Abs(entry-stop))
	if stopPips <= 0 {
		return 0
	}
	riskAmount := balance * pct / 100
	lots := riskAmount / (stopPips * pipValuePerLot)
	return math.Floor(lots*100) / 100
}
