// Package detect contains the pattern classifiers that turn candle windows
// into raw matches, plus the scan engine that runs them per symbol.
package detect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"strikebot-go/internal/metrics"
	"strikebot-go/internal/signal"
)

// Detector inspects a window of closed candles and reports at most one match.
// A nil result is the expected outcome for windows without a setup.
type Detector interface {
	Scan(window []signal.Candle) *signal.PatternMatch
	Name() string
}

// Params expresses the tunable knobs shared by detector constructors.
type Params struct {
	Lookback        int
	SweepMinPips    float64
	SweepVolumeMult float64
	SweepBaseScore  float64
	BlockBaseScore  float64
	GapMinPips      float64
	GapBaseScore    float64
}

// Build returns the full detector set for the configured parameters.
func Build(params Params) []Detector {
	return []Detector{
		NewSweepReversal(params.Lookback, params.SweepMinPips, params.SweepVolumeMult, params.SweepBaseScore),
		NewOrderBlockBounce(params.Lookback, params.BlockBaseScore),
		NewFVGFill(params.GapMinPips, params.GapBaseScore),
	}
}

// WindowSource hands out immutable candle windows; the aggregator satisfies it.
type WindowSource interface {
	Window(symbol string, timeframe time.Duration) []signal.Candle
}

// Engine scans each symbol on a fixed interval and de-duplicates matches of
// the same symbol+pattern+direction inside a cooldown window. The cooldown
// is a hard rule: correlated duplicates must never reach the scorer.
type Engine struct {
	detectors []Detector
	source    WindowSource
	timeframe time.Duration
	interval  time.Duration
	cooldown  time.Duration
	log       zerolog.Logger

	mu       sync.Mutex
	lastFire map[string]time.Time
}

// NewEngine wires detectors to a window source scanning one timeframe.
func NewEngine(detectors []Detector, source WindowSource, timeframe, interval, cooldown time.Duration, log zerolog.Logger) *Engine {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	return &Engine{
		detectors: detectors,
		source:    source,
		timeframe: timeframe,
		interval:  interval,
		cooldown:  cooldown,
		log:       log,
		lastFire:  make(map[string]time.Time),
	}
}

// Run spawns one scan loop per symbol and blocks until the context is
// canceled. Per-symbol loops are independent; no cross-symbol ordering is
// provided or needed.
func (e *Engine) Run(ctx context.Context, symbols []string, out chan<- signal.PatternMatch) {
	var wg sync.WaitGroup
	for _, sym := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			ticker := time.NewTicker(e.interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					for _, match := range e.ScanSymbol(symbol) {
						select {
						case out <- match:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}(sym)
	}
	wg.Wait()
}

// ScanSymbol runs every detector once against the symbol's current window,
// applying the cooldown rule in detection-time order.
func (e *Engine) ScanSymbol(symbol string) []signal.PatternMatch {
	window := e.source.Window(symbol, e.timeframe)
	if len(window) == 0 {
		return nil
	}

	var matches []signal.PatternMatch
	for _, det := range e.detectors {
		match := det.Scan(window)
		if match == nil {
			continue
		}
		if !e.admit(*match) {
			e.log.Debug().Str("sym", symbol).Str("pattern", string(match.Kind)).Msg("match suppressed by cooldown")
			continue
		}
		metrics.MatchesTotal.WithLabelValues(symbol, string(match.Kind)).Inc()
		e.log.Info().
			Str("sym", symbol).
			Str("pattern", string(match.Kind)).
			Str("dir", string(match.Direction)).
			Float64("base", match.BaseScore).
			Msg("pattern match")
		matches = append(matches, *match)
	}
	return matches
}

// admit records the match unless an identical symbol+pattern+direction fired
// within the cooldown window.
func (e *Engine) admit(match signal.PatternMatch) bool {
	key := fmt.Sprintf("%s|%s|%s", match.Symbol, match.Kind, match.Direction)

	e.mu.Lock()
	defer e.mu.Unlock()

	if last, ok := e.lastFire[key]; ok && match.DetectedAt.Sub(last) < e.cooldown {
		return false
	}
	e.lastFire[key] = match.DetectedAt
	return true
}
