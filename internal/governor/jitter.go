package governor

import (
	"context"
	"crypto/rand"
	"math/big"
	"time"
)

// Default jitter windows between detail fetches.
const (
	DefaultLocalMin    = 1500 * time.Millisecond
	DefaultLocalMax    = 4000 * time.Millisecond
	DefaultParallelMin = 500 * time.Millisecond
	DefaultParallelMax = 1500 * time.Millisecond
)

// Jitter sleeps for a random duration in [Min, Max] between requests.
type Jitter struct {
	Min    time.Duration
	Max    time.Duration
	pauser pauseController
}

// NewJitter returns a jitter over [minDelay, maxDelay]. Swapped bounds are
// reordered.
func NewJitter(minDelay, maxDelay time.Duration) *Jitter {
	if minDelay < 0 {
		minDelay = 0
	}
	if maxDelay < minDelay {
		minDelay, maxDelay = maxDelay, minDelay
		if minDelay < 0 {
			minDelay = 0
		}
	}
	return &Jitter{Min: minDelay, Max: maxDelay, pauser: &timerPauseController{}}
}

// WindowFor picks the jitter window for the run mode. Explicit bounds win when
// set; a missing bound takes the mode default, clamped so min <= max.
func WindowFor(local bool, minDelay, maxDelay time.Duration) (time.Duration, time.Duration) {
	defMin, defMax := DefaultParallelMin, DefaultParallelMax
	if local {
		defMin, defMax = DefaultLocalMin, DefaultLocalMax
	}
	switch {
	case minDelay <= 0 && maxDelay <= 0:
		return defMin, defMax
	case maxDelay <= 0:
		return minDelay, max(defMax, minDelay)
	case minDelay <= 0:
		return min(defMin, maxDelay), maxDelay
	default:
		return minDelay, maxDelay
	}
}

// Draw returns one sample from the window.
func (j *Jitter) Draw() time.Duration {
	span := j.Max - j.Min
	if span <= 0 {
		return j.Min
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(span)+1))
	if err != nil {
		return j.Min + span/2
	}
	return j.Min + time.Duration(n.Int64())
}

// Sleep waits for one drawn delay. It returns ctx.Err() if ctx ends first.
func (j *Jitter) Sleep(ctx context.Context) error {
	j.pauser.Pause(ctx, j.Draw())
	return ctx.Err()
}
