package governor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Mode is the governor's current regime.
type Mode int

// Governor modes.
const (
	ModeNormal Mode = iota
	ModeBackoff
)

func (m Mode) String() string {
	if m == ModeBackoff {
		return "BACKOFF"
	}
	return "NORMAL"
}

// Defaults for the rate-limit backoff curve.
const (
	DefaultFloor   = 10 * time.Second
	DefaultCeiling = 60 * time.Second
	DefaultFactor  = 1.5
)

// Config tunes the backoff curve.
type Config struct {
	Floor   time.Duration
	Ceiling time.Duration
	Factor  float64
}

func (c Config) withDefaults() Config {
	if c.Floor <= 0 {
		c.Floor = DefaultFloor
	}
	if c.Ceiling < c.Floor {
		c.Ceiling = DefaultCeiling
		if c.Ceiling < c.Floor {
			c.Ceiling = c.Floor
		}
	}
	if c.Factor <= 1 {
		c.Factor = DefaultFactor
	}
	return c
}

// State is a read-only snapshot of the governor.
type State struct {
	Mode                Mode
	CurrentDelay        time.Duration
	ConsecutiveFailures int
	ResumeAt            time.Time
}

// Clock abstracts time.Now for tests.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Observer is notified of every state transition.
type Observer interface {
	ObserveBackoff(mode Mode, delay time.Duration)
}

// Governor is the single owner of backoff state. Only RateLimited and Success
// mutate it.
type Governor struct {
	cfg      Config
	clock    Clock
	pauser   pauseController
	logger   *zap.Logger
	observer Observer

	mu    sync.Mutex
	state State
}

// Option customizes a Governor.
type Option func(*Governor)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(g *Governor) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithObserver registers a transition observer, typically metrics.
func WithObserver(observer Observer) Option {
	return func(g *Governor) {
		g.observer = observer
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(g *Governor) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func withPauser(p pauseController) Option {
	return func(g *Governor) {
		g.pauser = p
	}
}

// New builds a governor in NORMAL mode.
func New(cfg Config, opts ...Option) *Governor {
	cfg = cfg.withDefaults()
	g := &Governor{
		cfg:    cfg,
		clock:  realClock{},
		pauser: &timerPauseController{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.state = State{Mode: ModeNormal, CurrentDelay: cfg.Floor}
	return g
}

// RateLimited records a rate-limit signal and returns how long the caller must
// wait before retrying. The first signal after a success uses the floor; each
// further signal multiplies the delay by the factor up to the ceiling.
func (g *Governor) RateLimited() time.Duration {
	g.mu.Lock()
	g.state.ConsecutiveFailures++
	if g.state.ConsecutiveFailures == 1 {
		g.state.CurrentDelay = g.cfg.Floor
	} else {
		next := time.Duration(float64(g.state.CurrentDelay) * g.cfg.Factor)
		if next > g.cfg.Ceiling {
			next = g.cfg.Ceiling
		}
		g.state.CurrentDelay = next
	}
	g.state.Mode = ModeBackoff
	delay := g.state.CurrentDelay
	g.state.ResumeAt = g.clock.Now().Add(delay)
	failures := g.state.ConsecutiveFailures
	g.mu.Unlock()

	g.logger.Warn("rate limited, backing off",
		zap.Duration("delay", delay),
		zap.Int("consecutive_failures", failures),
	)
	if g.observer != nil {
		g.observer.ObserveBackoff(ModeBackoff, delay)
	}
	return delay
}

// Success resets the governor after a successful request.
func (g *Governor) Success() {
	g.mu.Lock()
	if g.state.ConsecutiveFailures == 0 {
		g.mu.Unlock()
		return
	}
	g.state.ConsecutiveFailures = 0
	g.state.CurrentDelay = g.cfg.Floor
	g.state.Mode = ModeNormal
	g.state.ResumeAt = time.Time{}
	g.mu.Unlock()

	g.logger.Info("rate limit cleared")
	if g.observer != nil {
		g.observer.ObserveBackoff(ModeNormal, 0)
	}
}

// Wait blocks until the current backoff window has passed or ctx ends.
func (g *Governor) Wait(ctx context.Context) error {
	g.mu.Lock()
	resumeAt := g.state.ResumeAt
	g.mu.Unlock()
	if resumeAt.IsZero() {
		return ctx.Err()
	}
	if remaining := resumeAt.Sub(g.clock.Now()); remaining > 0 {
		g.pauser.Pause(ctx, remaining)
	}
	return ctx.Err()
}

// Sleep pauses for delay, honouring ctx.
func (g *Governor) Sleep(ctx context.Context, delay time.Duration) error {
	g.pauser.Pause(ctx, delay)
	return ctx.Err()
}

// Snapshot returns a copy of the current state.
func (g *Governor) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}
