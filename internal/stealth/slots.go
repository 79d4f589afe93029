package stealth

import (
	"sync"

	"strikebot-go/internal/metrics"
)

// Slots is the shared concurrency-slot table. The dispatcher must hold a
// token before building a fire command and releases it when the bridge
// reports the position closed. Single-writer semantics: every
// read-modify-write happens under the lock.
type Slots struct {
	mu           sync.Mutex
	perSymbol    map[string]int
	total        int
	maxPerSymbol int
	maxTotal     int
}

// NewSlots builds the table with per-symbol and global caps. Non-positive
// caps disable that dimension.
func NewSlots(maxPerSymbol, maxTotal int) *Slots {
	return &Slots{
		perSymbol:    make(map[string]int),
		maxPerSymbol: maxPerSymbol,
		maxTotal:     maxTotal,
	}
}

// TryAcquire claims a token for the symbol, reporting false when either cap
// is exhausted. It never blocks; callers treat a miss as a withheld token.
func (s *Slots) TryAcquire(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxTotal > 0 && s.total >= s.maxTotal {
		return false
	}
	if s.maxPerSymbol > 0 && s.perSymbol[symbol] >= s.maxPerSymbol {
		return false
	}
	s.perSymbol[symbol]++
	s.total++
	metrics.OpenSlots.WithLabelValues(symbol).Set(float64(s.perSymbol[symbol]))
	return true
}

// Release frees a token previously acquired for the symbol.
func (s *Slots) Release(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.perSymbol[symbol] > 0 {
		s.perSymbol[symbol]--
		s.total--
		metrics.OpenSlots.WithLabelValues(symbol).Set(float64(s.perSymbol[symbol]))
	}
}

// InFlight reports the tokens currently held for the symbol.
func (s *Slots) InFlight(symbol string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perSymbol[symbol]
}

// TotalInFlight reports all tokens currently held.
func (s *Slots) TotalInFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}
