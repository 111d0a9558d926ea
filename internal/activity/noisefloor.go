package activity

import (
	"math"
	"time"
)

// NoiseFloor tracks an exponential moving average of a channel's
// background level. The average is never reset; a retune only starts a
// warm-up grace period during which squelch decisions are suppressed so
// a stale average cannot trip the threshold.
type NoiseFloor struct {
	tc    time.Duration
	grace time.Duration

	value       float64
	initialized bool
	lastUpdate  time.Time
	warmupUntil time.Time
}

// NewNoiseFloor creates a tracker with the given time constant and
// post-retune warm-up grace.
func NewNoiseFloor(tc, grace time.Duration) *NoiseFloor {
	return &NoiseFloor{tc: tc, grace: grace}
}

// Observe folds a floor reading into the average.
func (nf *NoiseFloor) Observe(v float64, now time.Time) {
	if !nf.initialized {
		nf.value = v
		nf.initialized = true
		nf.lastUpdate = now
		return
	}

	dt := now.Sub(nf.lastUpdate)
	if dt <= 0 {
		return
	}
	nf.lastUpdate = now

	// Continuous-time EMA so the smoothing does not depend on the
	// worker's reporting rate.
	alpha := 1 - math.Exp(-dt.Seconds()/nf.tc.Seconds())
	nf.value = alpha*v + (1-alpha)*nf.value
}

// NoteRetune starts the warm-up grace period after the channel's
// window lands on a (possibly different) receiver.
func (nf *NoiseFloor) NoteRetune(now time.Time) {
	nf.warmupUntil = now.Add(nf.grace)
}

// Warming reports whether squelch decisions should be suppressed.
func (nf *NoiseFloor) Warming(now time.Time) bool {
	return !nf.initialized || now.Before(nf.warmupUntil)
}

// Value returns the current estimate in dBFS.
func (nf *NoiseFloor) Value() float64 {
	return nf.value
}
