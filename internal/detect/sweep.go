package detect

import (
	"time"

	"strikebot-go/internal/signal"
)

// SweepReversal fires when price pierces a recent extreme by a minimum pip
// distance on surging volume and reverses within the next candle or two.
// The sweep takes out resting liquidity beyond the extreme; the snap-back
// is the tradeable move.
type SweepReversal struct {
	lookback   int
	minPips    float64
	volumeMult float64
	baseScore  float64
}

// NewSweepReversal builds the detector with defaults applied for
// non-positive parameters.
func NewSweepReversal(lookback int, minPips, volumeMult, baseScore float64) *SweepReversal {
	if lookback <= 0 {
		lookback = 10
	}
	if minPips <= 0 {
		minPips = 3
	}
	if volumeMult <= 0 {
		volumeMult = 1.3
	}
	if baseScore <= 0 {
		baseScore = 75
	}
	return &SweepReversal{lookback: lookback, minPips: minPips, volumeMult: volumeMult, baseScore: baseScore}
}

// Name returns the identifier used in logs.
func (s *SweepReversal) Name() string { return "SweepReversal" }

// Scan examines the last two candles as spike+reversal against the extremes
// of the candles before them.
func (s *SweepReversal) Scan(window []signal.Candle) *signal.PatternMatch {
	if len(window) < 4 {
		return nil
	}

	spike := window[len(window)-2]
	reversal := window[len(window)-1]

	prior := window[:len(window)-2]
	if len(prior) > s.lookback {
		prior = prior[len(prior)-s.lookback:]
	}

	priorHigh, priorLow := extremes(prior)
	avgVolume := averageVolume(prior)
	if avgVolume <= 0 {
		return nil
	}

	symbol := spike.Symbol
	pip := signal.PipSize(symbol)
	volumeRatio := spike.Volume / avgVolume

	// Sweep of the high: spike trades above the prior high, the next candle
	// closes back under it. Bias is short.
	if spike.High >= priorHigh+s.minPips*pip &&
		volumeRatio >= s.volumeMult &&
		reversal.Close < priorHigh && !reversal.Bullish() {
		return &signal.PatternMatch{
			Symbol:    symbol,
			Kind:      signal.SweepReversal,
			Direction: signal.Sell,
			BaseScore: s.baseScore,
			Entry:     reversal.Close,
			StopLoss:  spike.High + pip,
			Metrics: map[string]float64{
				"sweep_pips":   signal.Pips(symbol, spike.High-priorHigh),
				"volume_ratio": volumeRatio,
			},
			DetectedAt: time.Now(),
		}
	}

	// Mirror case: sweep of the low, close back above it, bias long.
	if spike.Low <= priorLow-s.minPips*pip &&
		volumeRatio >= s.volumeMult &&
		reversal.Close > priorLow && reversal.Bullish() {
		return &signal.PatternMatch{
			Symbol:    symbol,
			Kind:      signal.SweepReversal,
			Direction: signal.Buy,
			BaseScore: s.baseScore,
			Entry:     reversal.Close,
			StopLoss:  spike.Low - pip,
			Metrics: map[string]float64{
				"sweep_pips":   signal.Pips(symbol, priorLow-spike.Low),
				"volume_ratio": volumeRatio,
			},
			DetectedAt: time.Now(),
		}
	}

	return nil
}

func extremes(candles []signal.Candle) (high, low float64) {
	if len(candles) == 0 {
		return 0, 0
	}
	high, low = candles[0].High, candles[0].Low
	for _, c := range candles[1:] {
		if c.High > high {
			high = c.High
		}
		if c.Low < low {
			low = c.Low
		}
	}
	return high, low
}

func averageVolume(candles []signal.Candle) float64 {
	if len(candles) == 0 {
		return 0
	}
	var total float64
	for _, c := range candles {
		total += c.Volume
	}
	return total / float64(len(candles))
}
