package stealth

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"strikebot-go/internal/config"
)

// seqSource replays a fixed sequence of draws.
type seqSource struct {
	floats []float64
	ints   []int
	fi, ii int
}

func (s *seqSource) Float64() float64 {
	v := s.floats[s.fi%len(s.floats)]
	s.fi++
	return v
}

func (s *seqSource) IntN(n int) int {
	v := s.ints[s.ii%len(s.ints)]
	s.ii++
	return v % n
}

func testStealthConfig() config.Stealth {
	return config.Stealth{
		DelayMinSecs:  1,
		DelayMaxSecs:  12,
		JitterMinPct:  3,
		JitterMaxPct:  7,
		OffsetMinPips: 1,
		OffsetMaxPips: 3,
		SkipOneIn:     6,
		MaxPerSymbol:  2,
		MaxTotal:      3,
	}
}

func TestPlanValuesStayInBounds(t *testing.T) {
	planner := NewPlanner(testStealthConfig(), CryptoSource{}, zerolog.Nop())

	for i := 0; i < 2000; i++ {
		plan := planner.Plan("sig")
		if plan.EntryDelay < time.Second || plan.EntryDelay > 12*time.Second {
			t.Fatalf("delay out of bounds: %s", plan.EntryDelay)
		}
		jitter := math.Abs(plan.SizeJitterPct)
		if jitter < 3 || jitter > 7 {
			t.Fatalf("jitter out of bounds: %.2f", plan.SizeJitterPct)
		}
		offset := math.Abs(plan.PriceOffsetPips)
		if offset < 1 || offset > 3 {
			t.Fatalf("offset out of bounds: %.2f", plan.PriceOffsetPips)
		}
	}
}

// Over a large sample the 1-in-6 skip probability should land near 16.7%.
func TestSkipRateMatchesConfiguredProbability(t *testing.T) {
	planner := NewPlanner(testStealthConfig(), CryptoSource{}, zerolog.Nop())

	const draws = 10000
	skips := 0
	for i := 0; i < draws; i++ {
		if planner.Plan("sig").Skip {
			skips++
		}
	}
	rate := float64(skips) / draws
	// 1/6 with a generous tolerance: ~10 standard deviations
	if rate < 0.130 || rate > 0.205 {
		t.Fatalf("skip rate %.4f outside tolerance of 0.1667", rate)
	}
}

func TestPlanDeterministicWithInjectedSource(t *testing.T) {
	src := &seqSource{floats: []float64{0.5, 0.5, 0.9, 0.0, 0.0}, ints: []int{0}}
	planner := NewPlanner(testStealthConfig(), src, zerolog.Nop())

	plan := planner.Plan("sig-7")
	if plan.SignalID != "sig-7" {
		t.Fatalf("unexpected id %s", plan.SignalID)
	}
	// delay: 1 + 0.5*11 = 6.5s
	if plan.EntryDelay != 6500*time.Millisecond {
		t.Fatalf("unexpected delay %s", plan.EntryDelay)
	}
	// jitter magnitude: 3 + 0.5*4 = 5, sign draw 0.9 -> positive
	if plan.SizeJitterPct != 5 {
		t.Fatalf("unexpected jitter %.2f", plan.SizeJitterPct)
	}
	// offset magnitude: 1 + 0*2 = 1, sign draw 0.0 -> negative
	if plan.PriceOffsetPips != -1 {
		t.Fatalf("unexpected offset %.2f", plan.PriceOffsetPips)
	}
	if !plan.Skip {
		t.Fatalf("expected skip with IntN draw of 0")
	}
}

func TestSkipDisabledWhenZero(t *testing.T) {
	cfg := testStealthConfig()
	cfg.SkipOneIn = 0
	planner := NewPlanner(cfg, CryptoSource{}, zerolog.Nop())
	for i := 0; i < 100; i++ {
		if planner.Plan("sig").Skip {
			t.Fatalf("skip must never fire when disabled")
		}
	}
}

func TestSlotsEnforceCaps(t *testing.T) {
	slots := NewSlots(2, 3)

	if !slots.TryAcquire("EURUSD") || !slots.TryAcquire("EURUSD") {
		t.Fatalf("expected two EURUSD slots")
	}
	if slots.TryAcquire("EURUSD") {
		t.Fatalf("expected per-symbol cap at 2")
	}
	if !slots.TryAcquire("GBPUSD") {
		t.Fatalf("expected GBPUSD slot under total cap")
	}
	if slots.TryAcquire("USDJPY") {
		t.Fatalf("expected total cap at 3")
	}

	slots.Release("EURUSD")
	if !slots.TryAcquire("USDJPY") {
		t.Fatalf("expected released slot to free the total cap")
	}
	if slots.InFlight("EURUSD") != 1 {
		t.Fatalf("expected one EURUSD token, got %d", slots.InFlight("EURUSD"))
	}
	if slots.TotalInFlight() != 3 {
		t.Fatalf("expected three tokens total, got %d", slots.TotalInFlight())
	}
}

func TestSlotsReleaseNeverUnderflows(t *testing.T) {
	slots := NewSlots(1, 1)
	slots.Release("EURUSD")
	if slots.TotalInFlight() != 0 {
		t.Fatalf("release on empty table must be a no-op")
	}
}
