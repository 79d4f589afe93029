// Package signal standardizes payloads shared between pipeline stages, from
// raw ticks through to the fire command handed to the execution bridge.
package signal

import (
	"strings"
	"time"
)

// Direction expresses the trade side of a match or command.
type Direction string

const (
	// Buy indicates a long setup.
	Buy Direction = "BUY"
	// Sell indicates a short setup.
	Sell Direction = "SELL"
)

// PatternKind enumerates the detectors that can produce a match.
type PatternKind string

const (
	// SweepReversal marks a liquidity sweep beyond a recent extreme that reversed.
	SweepReversal PatternKind = "SWEEP_REVERSAL"
	// OrderBlockBounce marks a re-entry into a prior consolidation zone.
	OrderBlockBounce PatternKind = "ORDER_BLOCK_BOUNCE"
	// FVGFill marks price approaching an unfilled fair value gap.
	FVGFill PatternKind = "FVG_FILL"
)

// Class buckets a scored signal by expected pace and risk:reward profile.
type Class string

const (
	// RapidAssault targets roughly 1:1.5 risk:reward over a short hold.
	RapidAssault Class = "RAPID_ASSAULT"
	// PrecisionStrike targets roughly 1:2.0 risk:reward over a longer hold.
	PrecisionStrike Class = "PRECISION_STRIKE"
)

// Tick models a single bid/ask quote update from the market data feed.
type Tick struct {
	Symbol string    `json:"symbol"`
	Bid    float64   `json:"bid"`
	Ask    float64   `json:"ask"`
	Volume float64   `json:"volume"`
	Ts     time.Time `json:"ts"`
}

// Mid returns the quote midpoint.
func (t Tick) Mid() float64 { return (t.Bid + t.Ask) / 2 }

// Spread returns the bid/ask spread in price units.
func (t Tick) Spread() float64 { return t.Ask - t.Bid }

// Candle is a fixed-interval OHLCV aggregate. Closed candles are immutable.
type Candle struct {
	Symbol    string
	Timeframe time.Duration
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Start     time.Time
}

// Bullish reports whether the candle closed above its open.
func (c Candle) Bullish() bool { return c.Close > c.Open }

// Range returns the high-low span in price units.
func (c Candle) Range() float64 { return c.High - c.Low }

// Body returns the absolute open-close span.
func (c Candle) Body() float64 {
	if c.Close >= c.Open {
		return c.Close - c.Open
	}
	return c.Open - c.Close
}

// PatternMatch is raw detector output before confluence scoring. It is
// consumed exactly once by the scorer and then discarded.
type PatternMatch struct {
	Symbol     string
	Kind       PatternKind
	Direction  Direction
	BaseScore  float64
	Entry      float64
	StopLoss   float64
	Metrics    map[string]float64 // supporting evidence: pip move, volume ratio, gap size...
	DetectedAt time.Time
}

// ScoredSignal is a match that cleared the confluence threshold, carrying
// final trade levels. At most one exists per qualifying match.
type ScoredSignal struct {
	ID         string
	Match      PatternMatch
	FinalScore float64
	Class      Class
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	RiskReward float64
	ScoredAt   time.Time
}

// ShieldAssessment is the independent cross-check attached 1:1 to a signal.
type ShieldAssessment struct {
	SignalID       string
	Consensus      float64 // 0-10
	SizeMultiplier float64
	Approved       bool
	Flags          []string
	Reason         string
}

// RiskDecision is the risk gate verdict for one signal in one account context.
type RiskDecision struct {
	SignalID        string
	Approved        bool
	AdjustedLotSize float64
	RiskPercent     float64
	Reason          string
}

// StealthPlan holds the randomized execution perturbations for an approved signal.
type StealthPlan struct {
	SignalID        string
	EntryDelay      time.Duration
	SizeJitterPct   float64 // signed, applied multiplicatively to lot size
	PriceOffsetPips float64 // signed, applied to SL and TP
	Skip            bool
}

// FireCommand is the immutable wire message dispatched to the execution
// bridge. At most one exists per signal id.
type FireCommand struct {
	Type       string    `json:"type"` // always "fire"
	FireID     string    `json:"fire_id"`
	TargetID   string    `json:"target_identity"`
	Symbol     string    `json:"symbol"`
	Direction  Direction `json:"direction"`
	Entry      float64   `json:"entry"`
	StopLoss   float64   `json:"sl"`
	TakeProfit float64   `json:"tp"`
	LotSize    float64   `json:"lot"`
}

// Position is an open trade reported by the bridge. This core only observes
// it through heartbeats; the bridge owns its lifecycle.
type Position struct {
	Ticket       int64     `json:"ticket"`
	FireID       string    `json:"fire_id"`
	Symbol       string    `json:"symbol"`
	Direction    Direction `json:"direction"`
	OpenPrice    float64   `json:"open_price"`
	CurrentPrice float64   `json:"current_price"`
	Volume       float64   `json:"volume"`
	PnL          float64   `json:"pnl"`
}

// Heartbeat is the periodic account/position snapshot pushed by the bridge.
type Heartbeat struct {
	Balance   float64    `json:"balance"`
	Equity    float64    `json:"equity"`
	Positions []Position `json:"positions"`
	Ts        time.Time  `json:"ts"`
}

// AlertBundle is the consumer-facing package emitted for tiers that require
// manual approval before dispatch.
type AlertBundle struct {
	Signal   ScoredSignal
	Shield   ShieldAssessment
	Decision RiskDecision
	Plan     StealthPlan
}

// PipSize returns the price value of one pip for the symbol. JPY crosses
// quote two decimals, everything else four.
func PipSize(symbol string) float64 {
	if strings.Contains(strings.ToUpper(symbol), "JPY") {
		return 0.01
	}
	return 0.0001
}

// Pips converts a price distance into pips for the symbol.
func Pips(symbol string, priceDistance float64) float64 {
	return priceDistance / PipSize(symbol)
}
