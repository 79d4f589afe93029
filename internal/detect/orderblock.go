package detect

import (
	"time"

	"strikebot-go/internal/signal"
)

// OrderBlockBounce fires when price returns to a previously consolidated
// zone and the recent structure confirms a bounce: a higher-low sequence
// into a demand zone, or a lower-high sequence into a supply zone, on
// at least average volume.
type OrderBlockBounce struct {
	lookback  int
	baseScore float64
}

// NewOrderBlockBounce builds the detector with defaults applied for
// non-positive parameters.
func NewOrderBlockBounce(lookback int, baseScore float64) *OrderBlockBounce {
	if lookback <= 0 {
		lookback = 10
	}
	if baseScore <= 0 {
		baseScore = 70
	}
	return &OrderBlockBounce{lookback: lookback, baseScore: baseScore}
}

// Name returns the identifier used in logs.
func (o *OrderBlockBounce) Name() string { return "OrderBlockBounce" }

type zone struct {
	high float64
	low  float64
}

// Scan looks for a consolidation zone in the older half of the window and a
// structurally confirmed re-entry in the most recent three candles.
func (o *OrderBlockBounce) Scan(window []signal.Candle) *signal.PatternMatch {
	if len(window) < 7 {
		return nil
	}

	older := window[:len(window)-3]
	if len(older) > o.lookback {
		older = older[len(older)-o.lookback:]
	}
	block := findConsolidation(older)
	if block == nil {
		return nil
	}

	recent := window[len(window)-3:]
	last := recent[2]
	symbol := last.Symbol
	pip := signal.PipSize(symbol)

	avgVol := averageVolume(older)
	if avgVol <= 0 || last.Volume < avgVol {
		return nil
	}

	zoneHeight := signal.Pips(symbol, block.high-block.low)

	// Demand: the last candle dips into the zone and closes back above it
	// while the recent lows step higher.
	if last.Low <= block.high && last.Close > block.high && higherLows(recent) {
		return &signal.PatternMatch{
			Symbol:    symbol,
			Kind:      signal.OrderBlockBounce,
			Direction: signal.Buy,
			BaseScore: o.baseScore,
			Entry:     last.Close,
			StopLoss:  block.low - pip,
			Metrics: map[string]float64{
				"zone_height_pips": zoneHeight,
				"volume_ratio":     last.Volume / avgVol,
			},
			DetectedAt: time.Now(),
		}
	}

	// Supply: the last candle pokes into the zone and closes back below it
	// while the recent highs step lower.
	if last.High >= block.low && last.Close < block.low && lowerHighs(recent) {
		return &signal.PatternMatch{
			Symbol:    symbol,
			Kind:      signal.OrderBlockBounce,
			Direction: signal.Sell,
			BaseScore: o.baseScore,
			Entry:     last.Close,
			StopLoss:  block.high + pip,
			Metrics: map[string]float64{
				"zone_height_pips": zoneHeight,
				"volume_ratio":     last.Volume / avgVol,
			},
			DetectedAt: time.Now(),
		}
	}

	return nil
}

// findConsolidation returns the tightest run of three consecutive candles
// whose combined range stays under half the average candle range of the
// slice, or nil when no such run exists.
func findConsolidation(candles []signal.Candle) *zone {
	if len(candles) < 3 {
		return nil
	}
	var avgRange float64
	for _, c := range candles {
		avgRange += c.Range()
	}
	avgRange /= float64(len(candles))
	if avgRange <= 0 {
		return nil
	}

	var best *zone
	bestSpan := 0.0
	for i := 0; i+3 <= len(candles); i++ {
		run := candles[i : i+3]
		high, low := extremes(run)
		span := high - low
		if span > avgRange*1.5 {
			continue
		}
		if best == nil || span < bestSpan {
			best = &zone{high: high, low: low}
			bestSpan = span
		}
	}
	return best
}

func higherLows(candles []signal.Candle) bool {
	for i := 1; i < len(candles); i++ {
		if candles[i].Low <= candles[i-1].Low {
			return false
		}
	}
	return true
}

func lowerHighs(candles []signal.Candle) bool {
	for i := 1; i < len(candles); i++ {
		if candles[i].High >= candles[i-1].High {
			return false
		}
	}
	return true
}
