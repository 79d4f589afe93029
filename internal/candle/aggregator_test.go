package candle

import (
	"testing"
	"time"

	"strikebot-go/internal/signal"
)

func tick(sym string, mid, vol float64, ts time.Time) signal.Tick {
	spread := 0.0001
	return signal.Tick{Symbol: sym, Bid: mid - spread/2, Ask: mid + spread/2, Volume: vol, Ts: ts}
}

func TestIngestBuildsAndClosesCandles(t *testing.T) {
	agg := NewAggregator([]time.Duration{time.Minute}, 50)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	agg.Ingest(tick("EURUSD", 1.1000, 10, base))
	agg.Ingest(tick("EURUSD", 1.1010, 5, base.Add(20*time.Second)))
	agg.Ingest(tick("EURUSD", 1.0995, 5, base.Add(40*time.Second)))
	// boundary crossing closes the first bar
	agg.Ingest(tick("EURUSD", 1.1005, 8, base.Add(65*time.Second)))

	window := agg.Window("EURUSD", time.Minute)
	if len(window) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(window))
	}
	c := window[0]
	if c.Open != 1.1000 || c.Close != 1.0995 {
		t.Fatalf("unexpected open/close: %.5f/%.5f", c.Open, c.Close)
	}
	if c.High != 1.1010 || c.Low != 1.0995 {
		t.Fatalf("unexpected high/low: %.5f/%.5f", c.High, c.Low)
	}
	if c.Volume != 20 {
		t.Fatalf("unexpected volume: %.1f", c.Volume)
	}
	if !c.Start.Equal(base) {
		t.Fatalf("unexpected start: %s", c.Start)
	}
}

func TestWindowEvictsOldest(t *testing.T) {
	agg := NewAggregator([]time.Duration{time.Minute}, 3)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		agg.Ingest(tick("GBPUSD", 1.25+float64(i)*0.001, 1, base.Add(time.Duration(i)*time.Minute)))
	}

	window := agg.Window("GBPUSD", time.Minute)
	if len(window) != 3 {
		t.Fatalf("expected capped window of 3, got %d", len(window))
	}
	if !window[0].Start.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("oldest bar not evicted, window starts at %s", window[0].Start)
	}
}

func TestIngestDropsMalformedTicks(t *testing.T) {
	agg := NewAggregator([]time.Duration{time.Minute}, 50)
	now := time.Now()

	agg.Ingest(signal.Tick{Symbol: "EURUSD", Bid: -1, Ask: 1.1, Ts: now})
	agg.Ingest(signal.Tick{Symbol: "EURUSD", Bid: 1.1, Ask: 0, Ts: now})
	agg.Ingest(signal.Tick{Symbol: "", Bid: 1.1, Ask: 1.1001, Ts: now})

	if agg.Dropped() != 3 {
		t.Fatalf("expected 3 dropped ticks, got %d", agg.Dropped())
	}
	if len(agg.Window("EURUSD", time.Minute)) != 0 {
		t.Fatalf("malformed ticks must not produce candles")
	}
}

func TestIngestDropsNonMonotonicTicks(t *testing.T) {
	agg := NewAggregator([]time.Duration{time.Minute}, 50)
	base := time.Date(2026, 3, 2, 9, 0, 30, 0, time.UTC)

	agg.Ingest(tick("USDJPY", 148.50, 1, base))
	agg.Ingest(tick("USDJPY", 148.55, 1, base.Add(-10*time.Second)))

	if agg.Dropped() != 1 {
		t.Fatalf("expected stale tick dropped, got %d", agg.Dropped())
	}
}

func TestSeriesAreIndependentPerTimeframe(t *testing.T) {
	agg := NewAggregator([]time.Duration{time.Minute, 5 * time.Minute}, 50)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 6; i++ {
		agg.Ingest(tick("EURUSD", 1.10+float64(i)*0.0001, 1, base.Add(time.Duration(i)*time.Minute)))
	}

	if got := len(agg.Window("EURUSD", time.Minute)); got != 5 {
		t.Fatalf("expected 5 closed 1m candles, got %d", got)
	}
	if got := len(agg.Window("EURUSD", 5*time.Minute)); got != 1 {
		t.Fatalf("expected 1 closed 5m candle, got %d", got)
	}
}
