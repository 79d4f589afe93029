package detect

import (
	"math"
	"time"

	"strikebot-go/internal/signal"
)

// FVGFill fires when price retraces into an unfilled fair value gap and
// momentum turns near the gap midpoint. A bullish gap (candle three's low
// above candle one's high) acts as support on the way back down; a bearish
// gap acts as resistance on the way back up.
type FVGFill struct {
	minPips   float64
	baseScore float64
}

// NewFVGFill builds the detector with defaults applied for non-positive
// parameters.
func NewFVGFill(minPips, baseScore float64) *FVGFill {
	if minPips <= 0 {
		minPips = 5
	}
	if baseScore <= 0 {
		baseScore = 65
	}
	return &FVGFill{minPips: minPips, baseScore: baseScore}
}

// Name returns the identifier used in logs.
func (f *FVGFill) Name() string { return "FVGFill" }

type gap struct {
	top     float64
	bottom  float64
	bullish bool
}

func (g gap) mid() float64  { return (g.top + g.bottom) / 2 }
func (g gap) size() float64 { return g.top - g.bottom }

// Scan walks the window for three-candle gaps of at least the minimum pip
// size and checks whether the latest candle is turning at a gap midpoint.
func (f *FVGFill) Scan(window []signal.Candle) *signal.PatternMatch {
	if len(window) < 5 {
		return nil
	}

	last := window[len(window)-1]
	symbol := last.Symbol
	pip := signal.PipSize(symbol)

	// Most recent gap first; skip gaps the market has already traded through.
	for i := len(window) - 2; i >= 2; i-- {
		first := window[i-2]
		third := window[i]

		var g gap
		switch {
		case third.Low > first.High:
			g = gap{top: third.Low, bottom: first.High, bullish: true}
		case third.High < first.Low:
			g = gap{top: first.Low, bottom: third.High, bullish: false}
		default:
			continue
		}
		if signal.Pips(symbol, g.size()) < f.minPips {
			continue
		}
		if filled(window[i+1:], g) {
			continue
		}

		// Momentum shift at the midpoint: close inside the gap, within a
		// quarter of the gap height of its midpoint, turning in the fill
		// direction.
		nearMid := math.Abs(last.Close-g.mid()) <= g.size()/4
		inside := last.Close <= g.top && last.Close >= g.bottom
		if !nearMid || !inside {
			continue
		}

		if g.bullish && last.Bullish() {
			return &signal.PatternMatch{
				Symbol:    symbol,
				Kind:      signal.FVGFill,
				Direction: signal.Buy,
				BaseScore: f.baseScore,
				Entry:     last.Close,
				StopLoss:  g.bottom - pip,
				Metrics: map[string]float64{
					"gap_pips": signal.Pips(symbol, g.size()),
					"gap_mid":  g.mid(),
				},
				DetectedAt: time.Now(),
			}
		}
		if !g.bullish && !last.Bullish() {
			return &signal.PatternMatch{
				Symbol:    symbol,
				Kind:      signal.FVGFill,
				Direction: signal.Sell,
				BaseScore: f.baseScore,
				Entry:     last.Close,
				StopLoss:  g.top + pip,
				Metrics: map[string]float64{
					"gap_pips": signal.Pips(symbol, g.size()),
					"gap_mid":  g.mid(),
				},
				DetectedAt: time.Now(),
			}
		}
	}

	return nil
}

// filled reports whether any later candle traded through the far edge of
// the gap, exhausting it.
func filled(later []signal.Candle, g gap) bool {
	if len(later) == 0 {
		return false
	}
	for _, c := range later[:len(later)-1] {
		if g.bullish && c.Low <= g.bottom {
			return true
		}
		if !g.bullish && c.High >= g.top {
			return true
		}
	}
	return false
}
