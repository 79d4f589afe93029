package stealth

import (
	"crypto/rand"
	"encoding/binary"
)

// Source yields uniform random draws. The default implementation reads the
// OS entropy pool so execution timing cannot be predicted from process
// state; tests inject deterministic sequences instead.
type Source interface {
	// Float64 returns a uniform draw in [0, 1).
	Float64() float64
	// IntN returns a uniform draw in [0, n).
	IntN(n int) int
}

// CryptoSource draws from crypto/rand.
type CryptoSource struct{}

// Float64 implements Source.
func (CryptoSource) Float64() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		// The entropy pool going away is not a recoverable condition.
		panic("stealth: entropy source failed: " + err.Error())
	}
	// 53 bits of mantissa, same construction as math/rand.
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}

// IntN implements Source.
func (c CryptoSource) IntN(n int) int {
	if n <= 0 {
		return 0
	}
	return int(c.Float64() * float64(n))
}
