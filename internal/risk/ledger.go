package risk

import (
	"sync"
	"time"
)

// Ledger tracks cumulative committed risk and realized P&L for the current
// trading day. Committed risk is monotonic: it never decreases inside a day,
// winning trades included, and resets only at exchange midnight in the
// configured timezone. One ledger instance is injected into the gate and the
// dispatcher; it is never a package-level singleton.
type Ledger struct {
	mu          sync.Mutex
	loc         *time.Location
	day         time.Time
	riskedPct   float64
	realizedPnL float64
	signals     int
	now         func() time.Time
}

// NewLedger builds a ledger anchored to the exchange timezone.
func NewLedger(loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	l := &Ledger{loc: loc, now: time.Now}
	l.day = dayAnchor(l.now(), loc)
	return l
}

// Commit adds pending risk percent for an approved signal and counts it
// against the daily signal budget.
func (l *Ledger) Commit(pct float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	l.riskedPct += pct
	l.signals++
}

// TryCommit reserves up to pct against the daily cap in one atomic step,
// returning how much was granted. Concurrent evaluations each see the
// remainder left by earlier grants, never the same one. A zero remainder
// refuses outright.
func (l *Ledger) TryCommit(pct, dailyCap float64) (float64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()

	remaining := dailyCap - l.riskedPct
	if remaining <= 0 {
		return 0, false
	}
	granted := pct
	if granted > remaining {
		granted = remaining
	}
	l.riskedPct += granted
	l.signals++
	return granted, true
}

// Rollback reverses a reservation whose signal never produced an order.
// This is not a realized outcome; the monotonic rule applies to trades,
// not to grants the gate itself withdrew.
func (l *Ledger) Rollback(pct float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	l.riskedPct -= pct
	if l.riskedPct < 0 {
		l.riskedPct = 0
	}
	if l.signals > 0 {
		l.signals--
	}
}

// RecordRealized books closed-trade P&L. Committed risk stays where it is;
// freeing budget mid-day would defeat the cap.
func (l *Ledger) RecordRealized(pnl float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	l.realizedPnL += pnl
}

// UsedPct reports the cumulative risk percent committed today.
func (l *Ledger) UsedPct() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.riskedPct
}

// RealizedPnL reports today's booked P&L.
func (l *Ledger) RealizedPnL() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.realizedPnL
}

// SignalsToday reports how many signals were committed today.
func (l *Ledger) SignalsToday() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover()
	return l.signals
}

// rollover resets the ledger when the exchange day has turned. Caller holds
// the lock.
func (l *Ledger) rollover() {
	anchor := dayAnchor(l.now(), l.loc)
	if anchor.After(l.day) {
		l.day = anchor
		l.riskedPct = 0
		l.realizedPnL = 0
		l.signals = 0
	}
}

func dayAnchor(ts time.Time, loc *time.Location) time.Time {
	local := ts.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
