package dispatcher

import "time"

// ScaleConfig tunes the autoscaler thresholds. Zero values use defaults.
type ScaleConfig struct {
	// HeapHighWater is the heap size in bytes above which the pool shrinks.
	// Zero disables the memory signal.
	HeapHighWater uint64
	// QueueWaitHigh grows the pool when items wait longer than this.
	QueueWaitHigh time.Duration
	// QueueWaitLow shrinks the pool when items are picked up faster than this.
	QueueWaitLow time.Duration
	Step         int
}

const (
	defaultQueueWaitHigh = 2 * time.Second
	defaultQueueWaitLow  = 100 * time.Millisecond
)

// Signals are the load inputs sampled on every scaling tick.
type Signals struct {
	HeapInuse uint64
	QueueWait time.Duration
	Pending   int
	Backoff   bool
}

// Autoscaler picks a concurrency level between a floor and a ceiling.
type Autoscaler struct {
	min, max int
	cfg      ScaleConfig
}

// NewAutoscaler builds an autoscaler. Bounds are normalized so that
// 1 <= min <= max.
func NewAutoscaler(minWorkers, maxWorkers int, cfg ScaleConfig) *Autoscaler {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if minWorkers < 1 {
		minWorkers = 1
	}
	if minWorkers > maxWorkers {
		minWorkers = maxWorkers
	}
	if cfg.QueueWaitHigh <= 0 {
		cfg.QueueWaitHigh = defaultQueueWaitHigh
	}
	if cfg.QueueWaitLow <= 0 || cfg.QueueWaitLow > cfg.QueueWaitHigh {
		cfg.QueueWaitLow = defaultQueueWaitLow
		if cfg.QueueWaitLow > cfg.QueueWaitHigh {
			cfg.QueueWaitLow = cfg.QueueWaitHigh
		}
	}
	if cfg.Step <= 0 {
		cfg.Step = 1
	}
	return &Autoscaler{min: minWorkers, max: maxWorkers, cfg: cfg}
}

// Initial is the level a run starts at.
func (a *Autoscaler) Initial() int {
	return a.min
}

// Decide returns the next level. A governor backoff halves the pool, heap
// pressure and idle workers shrink it by one step, and a backed-up queue grows
// it by one step.
func (a *Autoscaler) Decide(current int, s Signals) int {
	current = a.clamp(current)
	switch {
	case s.Backoff:
		return a.clamp(current / 2)
	case a.cfg.HeapHighWater > 0 && s.HeapInuse > a.cfg.HeapHighWater:
		return a.clamp(current - a.cfg.Step)
	case s.Pending > current && s.QueueWait >= a.cfg.QueueWaitHigh:
		return a.clamp(current + a.cfg.Step)
	case s.Pending < current && s.QueueWait < a.cfg.QueueWaitLow:
		return a.clamp(current - a.cfg.Step)
	default:
		return current
	}
}

func (a *Autoscaler) clamp(n int) int {
	if n < a.min {
		return a.min
	}
	if n > a.max {
		return a.max
	}
	return n
}
