// Package identity manages the rotating set of request identities (cookie
// header, proxy, user agent) workers present to the ad library.
package identity

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
	"github.com/JakeFAU/adlibrary-crawler/internal/hash/sha256"
)

// ErrExhausted is returned when every identity is retired and no more may be
// created.
var ErrExhausted = errors.New("identity pool exhausted")

// ErrUnknownIdentity is returned for an ID the pool never issued.
var ErrUnknownIdentity = errors.New("unknown identity")

// Status is the lifecycle state of an identity.
type Status string

// Identity statuses. A retired identity is never used again.
const (
	StatusActive  Status = "ACTIVE"
	StatusRetired Status = "RETIRED"
)

// Seed is one configured credential/proxy pairing.
type Seed struct {
	Cookie    string `mapstructure:"cookie"`
	Proxy     string `mapstructure:"proxy"`
	UserAgent string `mapstructure:"user_agent"`
}

// Identity is a request identity. Credentials are never persisted.
type Identity struct {
	ID          string `json:"id"`
	SeedKey     string `json:"seed_key"`
	Credentials string `json:"-"`
	Proxy       string `json:"proxy,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	UsageCount  int    `json:"usage_count"`
	Status      Status `json:"status"`
}

// Headers returns the request headers this identity presents.
func (i Identity) Headers() http.Header {
	h := make(http.Header)
	if i.Credentials != "" {
		h.Set("Cookie", i.Credentials)
	}
	if i.UserAgent != "" {
		h.Set("User-Agent", i.UserAgent)
	}
	return h
}

// Config bounds the pool.
type Config struct {
	// MaxIdentities is the pool bound, normally the crawler's max concurrency.
	MaxIdentities int
	// UsageCeiling retires an identity after this many requests. Zero disables it.
	UsageCeiling int
	Seeds        []Seed
}

// Observer receives pool size changes.
type Observer interface {
	ObserveIdentities(active, retired int)
}

// Pool hands out the least-used active identity, creating identities lazily
// from the configured seeds up to MaxIdentities.
type Pool struct {
	cfg      Config
	ids      crawler.IDGenerator
	hasher   crawler.Hasher
	logger   *zap.Logger
	observer Observer

	mu           sync.Mutex
	identities   []*Identity
	byID         map[string]*Identity
	retiredSeeds map[string]struct{}
	nextSeed     int
}

// NewPool builds an empty pool.
func NewPool(cfg Config, ids crawler.IDGenerator, logger *zap.Logger, observer Observer) *Pool {
	if cfg.MaxIdentities <= 0 {
		cfg.MaxIdentities = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		cfg:          cfg,
		ids:          ids,
		hasher:       sha256.NewTruncated(16),
		logger:       logger,
		observer:     observer,
		byID:         make(map[string]*Identity),
		retiredSeeds: make(map[string]struct{}),
	}
}

// Acquire returns a copy of the least-used active identity. A new identity is
// created first while the pool is below its bound and an unretired seed is
// available.
func (p *Pool) Acquire() (*Identity, error) {
	p.mu.Lock()
	if len(p.identities) < p.cfg.MaxIdentities {
		created, err := p.createLocked()
		if err != nil {
			p.mu.Unlock()
			return nil, err
		}
		if created != nil {
			clone := *created
			p.mu.Unlock()
			p.notify()
			return &clone, nil
		}
	}

	var best *Identity
	for _, ident := range p.identities {
		if ident.Status != StatusActive {
			continue
		}
		if best == nil || ident.UsageCount < best.UsageCount {
			best = ident
		}
	}
	if best == nil {
		p.mu.Unlock()
		return nil, ErrExhausted
	}
	clone := *best
	p.mu.Unlock()
	return &clone, nil
}

// RecordUse counts one request against id and retires it at the usage ceiling.
func (p *Pool) RecordUse(id string) error {
	p.mu.Lock()
	ident, ok := p.byID[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("record use %q: %w", id, ErrUnknownIdentity)
	}
	ident.UsageCount++
	retired := false
	if p.cfg.UsageCeiling > 0 && ident.UsageCount >= p.cfg.UsageCeiling && ident.Status == StatusActive {
		p.retireLocked(ident)
		retired = true
	}
	p.mu.Unlock()

	if retired {
		p.logger.Info("identity reached usage ceiling", zap.String("identity", id), zap.Int("usage", p.cfg.UsageCeiling))
		p.notify()
	}
	return nil
}

// Retire marks id as permanently unusable, typically after a hard block.
// Every active identity built from the same seed presents the same
// credentials, so those are retired with it.
func (p *Pool) Retire(id string) error {
	p.mu.Lock()
	ident, ok := p.byID[id]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("retire %q: %w", id, ErrUnknownIdentity)
	}
	usage := ident.UsageCount
	var siblings []string
	changed := ident.Status == StatusActive
	if changed {
		p.retireLocked(ident)
	}
	if ident.SeedKey != "" {
		for _, other := range p.identities {
			if other == ident || other.SeedKey != ident.SeedKey || other.Status != StatusActive {
				continue
			}
			p.retireLocked(other)
			siblings = append(siblings, other.ID)
			changed = true
		}
	}
	p.mu.Unlock()

	if changed {
		p.logger.Warn("identity retired",
			zap.String("identity", id),
			zap.Int("usage", usage),
			zap.Strings("same_seed", siblings),
		)
		p.notify()
	}
	return nil
}

// Snapshot returns copies of every identity in creation order.
func (p *Pool) Snapshot() []Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Identity, 0, len(p.identities))
	for _, ident := range p.identities {
		out = append(out, *ident)
	}
	return out
}

// Counts returns the number of active and retired identities.
func (p *Pool) Counts() (active, retired int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.countsLocked()
}

// Restore seeds the pool with previously persisted identities. Credentials are
// re-attached from the configured seeds; identities whose seed is gone are
// kept only as retired history.
func (p *Pool) Restore(saved []Identity) {
	p.mu.Lock()
	seeds := p.seedsByKeyLocked()
	for _, s := range saved {
		ident := s
		if _, dup := p.byID[ident.ID]; dup || ident.ID == "" {
			continue
		}
		seed, ok := seeds[ident.SeedKey]
		if ok {
			ident.Credentials = seed.Cookie
			ident.Proxy = seed.Proxy
			ident.UserAgent = seed.UserAgent
		} else if len(p.cfg.Seeds) > 0 {
			ident.Status = StatusRetired
		}
		if ident.Status == StatusRetired {
			p.retiredSeeds[ident.SeedKey] = struct{}{}
			// retired history does not count against the live bound
			p.byID[ident.ID] = &ident
			continue
		}
		if len(p.identities) >= p.cfg.MaxIdentities {
			continue
		}
		p.identities = append(p.identities, &ident)
		p.byID[ident.ID] = &ident
	}
	p.mu.Unlock()
	p.notify()
}

// All returns every identity known to the pool, including restored retired
// history, sorted by ID.
func (p *Pool) All() []Identity {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Identity, 0, len(p.byID))
	for _, ident := range p.byID {
		out = append(out, *ident)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (p *Pool) createLocked() (*Identity, error) {
	seed, key, ok := p.nextSeedLocked()
	if !ok {
		return nil, nil
	}
	id, err := p.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("new identity id: %w", err)
	}
	ident := &Identity{
		ID:          id,
		SeedKey:     key,
		Credentials: seed.Cookie,
		Proxy:       seed.Proxy,
		UserAgent:   seed.UserAgent,
		Status:      StatusActive,
	}
	p.identities = append(p.identities, ident)
	p.byID[id] = ident
	p.logger.Debug("identity created", zap.String("identity", id), zap.Bool("proxied", seed.Proxy != ""))
	return ident, nil
}

// nextSeedLocked cycles through the configured seeds, skipping retired ones.
// With no seeds configured every identity is anonymous.
func (p *Pool) nextSeedLocked() (Seed, string, bool) {
	if len(p.cfg.Seeds) == 0 {
		return Seed{}, "", true
	}
	for range p.cfg.Seeds {
		seed := p.cfg.Seeds[p.nextSeed%len(p.cfg.Seeds)]
		p.nextSeed++
		key := p.seedKey(seed)
		if _, retired := p.retiredSeeds[key]; retired {
			continue
		}
		return seed, key, true
	}
	return Seed{}, "", false
}

func (p *Pool) seedsByKeyLocked() map[string]Seed {
	out := make(map[string]Seed, len(p.cfg.Seeds))
	for _, seed := range p.cfg.Seeds {
		out[p.seedKey(seed)] = seed
	}
	return out
}

func (p *Pool) seedKey(seed Seed) string {
	sum, _ := p.hasher.Hash([]byte(seed.Cookie + "\x00" + seed.Proxy))
	return sum
}

func (p *Pool) retireLocked(ident *Identity) {
	ident.Status = StatusRetired
	if ident.SeedKey != "" {
		p.retiredSeeds[ident.SeedKey] = struct{}{}
	}
}

func (p *Pool) countsLocked() (active, retired int) {
	for _, ident := range p.byID {
		if ident.Status == StatusActive {
			active++
		} else {
			retired++
		}
	}
	return active, retired
}

func (p *Pool) notify() {
	if p.observer == nil {
		return
	}
	active, retired := p.Counts()
	p.observer.ObserveIdentities(active, retired)
}
