package conn

import (
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultBackoffBase = 500 * time.Millisecond
	DefaultBackoffCap  = 30 * time.Second
)

// FullJitter is exponential backoff with full jitter: attempt n waits a
// uniform random duration in [0, min(Cap, Base*2^n)]. It never stops, so
// callers bound retries with a context.
type FullJitter struct {
	Base time.Duration
	Cap  time.Duration
	// Rand returns a value in [0, 1). Defaults to math/rand.
	Rand func() float64

	attempt int
}

var _ backoff.BackOff = (*FullJitter)(nil)

func NewFullJitter(base, ceiling time.Duration) *FullJitter {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if ceiling < base {
		ceiling = base
	}
	return &FullJitter{Base: base, Cap: ceiling}
}

// Ceiling is the upper bound of the delay for attempt n (0-based).
func (b *FullJitter) Ceiling(n int) time.Duration {
	d := b.Base
	for i := 0; i < n; i++ {
		if d >= b.Cap/2 {
			return b.Cap
		}
		d *= 2
	}
	return min(d, b.Cap)
}

func (b *FullJitter) NextBackOff() time.Duration {
	ceiling := b.Ceiling(b.attempt)
	b.attempt++
	r := rand.Float64
	if b.Rand != nil {
		r = b.Rand
	}
	return time.Duration(r() * float64(ceiling))
}

func (b *FullJitter) Reset() {
	b.attempt = 0
}

// Attempts returns the number of delays handed out since the last Reset.
func (b *FullJitter) Attempts() int {
	return b.attempt
}
