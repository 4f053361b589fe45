// Package pacing spaces out harvest attempts with a uniformly random delay and
// provides context-aware pauses for the fixed inter-attempt retry delay.
package pacing

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// Pacer draws per-attempt delays from [Min, Max].
type Pacer struct {
	min time.Duration
	max time.Duration
}

// New returns a Pacer over [minDelay, maxDelay]. Bounds are swapped when given
// in the wrong order and negative values are clamped to zero.
func New(minDelay, maxDelay time.Duration) *Pacer {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < 0 {
		maxDelay = 0
	}
	if maxDelay < minDelay {
		minDelay, maxDelay = maxDelay, minDelay
	}
	return &Pacer{min: minDelay, max: maxDelay}
}

// Bounds returns the configured range.
func (p *Pacer) Bounds() (time.Duration, time.Duration) {
	return p.min, p.max
}

// Next returns a delay drawn uniformly from the configured range.
func (p *Pacer) Next() time.Duration {
	span := p.max - p.min
	if span <= 0 {
		return p.min
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)+1))
	if err != nil {
		return p.min + span/2
	}
	return p.min + time.Duration(n.Int64())
}

// Sleeper pauses on a real timer.
type Sleeper struct{}

// Pause blocks for delay or until ctx is done, returning ctx.Err() in the latter case.
func (Sleeper) Pause(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
