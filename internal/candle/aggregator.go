// Package candle turns raw ticks into fixed-interval OHLCV bars per
// symbol and timeframe.
package candle

import (
	"sync"
	"time"

	"strikebot-go/internal/metrics"
	"strikebot-go/internal/signal"
)

type seriesKey struct {
	symbol    string
	timeframe time.Duration
}

// Aggregator owns every candle in the process. Closed candles are immutable
// and live in a bounded rolling window; the oldest bar is evicted on append.
type Aggregator struct {
	mu         sync.Mutex
	timeframes []time.Duration
	windowSize int
	building   map[seriesKey]*signal.Candle
	windows    map[seriesKey][]signal.Candle
	lastSeen   map[string]time.Time
	dropped    int64
}

// NewAggregator builds an aggregator for the configured timeframes with a
// fixed per-series window capacity.
func NewAggregator(timeframes []time.Duration, windowSize int) *Aggregator {
	if windowSize <= 0 {
		windowSize = 50
	}
	return &Aggregator{
		timeframes: timeframes,
		windowSize: windowSize,
		building:   make(map[seriesKey]*signal.Candle),
		windows:    make(map[seriesKey][]signal.Candle),
		lastSeen:   make(map[string]time.Time),
	}
}

// Ingest updates the in-progress candle for every configured timeframe of
// the tick's symbol. Malformed ticks are dropped and counted, never fatal.
func (a *Aggregator) Ingest(tick signal.Tick) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if tick.Symbol == "" || tick.Bid <= 0 || tick.Ask <= 0 {
		a.drop(tick.Symbol, "malformed")
		return
	}
	if last, ok := a.lastSeen[tick.Symbol]; ok && tick.Ts.Before(last) {
		a.drop(tick.Symbol, "stale")
		return
	}
	a.lastSeen[tick.Symbol] = tick.Ts

	mid := tick.Mid()
	for _, tf := range a.timeframes {
		key := seriesKey{symbol: tick.Symbol, timeframe: tf}
		start := tick.Ts.Truncate(tf)

		current := a.building[key]
		if current != nil && start.After(current.Start) {
			a.appendClosed(key, *current)
			current = nil
		}
		if current == nil {
			a.building[key] = &signal.Candle{
				Symbol:    tick.Symbol,
				Timeframe: tf,
				Open:      mid,
				High:      mid,
				Low:       mid,
				Close:     mid,
				Volume:    tick.Volume,
				Start:     start,
			}
			continue
		}

		if mid > current.High {
			current.High = mid
		}
		if mid < current.Low {
			current.Low = mid
		}
		current.Close = mid
		current.Volume += tick.Volume
	}
}

// appendClosed moves a finished bar into the rolling window, evicting the
// oldest when at capacity. Caller holds the lock.
func (a *Aggregator) appendClosed(key seriesKey, c signal.Candle) {
	window := a.windows[key]
	if len(window) >= a.windowSize {
		window = window[1:]
	}
	a.windows[key] = append(window, c)
}

// Window returns a copy of the closed candles for the series, oldest first.
func (a *Aggregator) Window(symbol string, timeframe time.Duration) []signal.Candle {
	a.mu.Lock()
	defer a.mu.Unlock()
	window := a.windows[seriesKey{symbol: symbol, timeframe: timeframe}]
	out := make([]signal.Candle, len(window))
	copy(out, window)
	return out
}

// Dropped reports how many ticks were discarded since startup.
func (a *Aggregator) Dropped() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dropped
}

// drop counts a discarded tick. Caller holds the lock.
func (a *Aggregator) drop(symbol, cause string) {
	if symbol == "" {
		symbol = "unknown"
	}
	metrics.TicksDropped.WithLabelValues(symbol, cause).Inc()
	a.dropped++
}
