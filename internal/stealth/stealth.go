// Package stealth perturbs execution timing, sizing, and pricing so that
// dispatched trades do not leave a mechanical, detectable fingerprint.
package stealth

import (
	"time"

	"github.com/rs/zerolog"

	"strikebot-go/internal/config"
	"strikebot-go/internal/metrics"
	"strikebot-go/internal/signal"
)

// Planner draws one randomized execution plan per approved signal.
type Planner struct {
	cfg config.Stealth
	src Source
	log zerolog.Logger
}

// NewPlanner builds a planner around the supplied random source.
func NewPlanner(cfg config.Stealth, src Source, log zerolog.Logger) *Planner {
	if src == nil {
		src = CryptoSource{}
	}
	return &Planner{cfg: cfg, src: src, log: log}
}

// Plan draws independent perturbations from the configured ranges and logs
// the result for audit before it is applied anywhere.
func (p *Planner) Plan(signalID string) signal.StealthPlan {
	plan := signal.StealthPlan{
		SignalID:        signalID,
		EntryDelay:      p.drawDelay(),
		SizeJitterPct:   p.drawSigned(p.cfg.JitterMinPct, p.cfg.JitterMaxPct),
		PriceOffsetPips: p.drawSigned(p.cfg.OffsetMinPips, p.cfg.OffsetMaxPips),
		Skip:            p.drawSkip(),
	}

	if plan.Skip {
		metrics.StealthSkips.Inc()
	}
	p.log.Info().
		Str("id", signalID).
		Dur("delay", plan.EntryDelay).
		Float64("jitter_pct", plan.SizeJitterPct).
		Float64("offset_pips", plan.PriceOffsetPips).
		Bool("skip", plan.Skip).
		Msg("stealth plan")
	return plan
}

func (p *Planner) drawDelay() time.Duration {
	span := p.cfg.DelayMaxSecs - p.cfg.DelayMinSecs
	secs := p.cfg.DelayMinSecs + p.src.Float64()*span
	return time.Duration(secs * float64(time.Second))
}

// drawSigned picks a magnitude inside [min, max] and a uniform sign.
func (p *Planner) drawSigned(min, max float64) float64 {
	magnitude := min + p.src.Float64()*(max-min)
	if p.src.Float64() < 0.5 {
		return -magnitude
	}
	return magnitude
}

func (p *Planner) drawSkip() bool {
	if p.cfg.SkipOneIn <= 0 {
		return false
	}
	return p.src.IntN(p.cfg.SkipOneIn) == 0
}
