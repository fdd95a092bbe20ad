// Package frontier holds pending work items in priority order, rejects
// duplicate keys, enforces the detail cap, and tracks in-flight work so workers
// can tell a temporarily empty queue from a finished crawl.
package frontier

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
	"github.com/JakeFAU/adlibrary-crawler/internal/normalize"
)

// ErrDrained is returned by Next when nothing is queued and nothing is in
// flight.
var ErrDrained = errors.New("frontier drained")

// waitSmoothing weights the newest sample in the queue-wait moving average.
const waitSmoothing = 0.2

// Config bounds the frontier.
type Config struct {
	// MaxDetails caps accepted DETAIL items. Zero or negative means no cap
	// was configured; config.Validate rejects that unless Unlimited is set.
	MaxDetails int
	Unlimited  bool
}

// Stats is a point-in-time view used for scaling decisions and progress.
type Stats struct {
	Pending         int
	InFlight        int
	DetailsAccepted int
	AvgWait         time.Duration
}

// Frontier is safe for concurrent use. Key checks and dequeues happen under a
// single mutex.
type Frontier struct {
	cfg   Config
	clock crawler.Clock

	mu              sync.Mutex
	items           itemHeap
	seen            map[string]struct{}
	seq             uint64
	inflight        int
	detailsAccepted int
	avgWait         float64
	changed         chan struct{}
}

// New creates an empty frontier.
func New(cfg Config, clock crawler.Clock) *Frontier {
	if clock == nil {
		clock = wallClock{}
	}
	return &Frontier{
		cfg:     cfg,
		clock:   clock,
		seen:    make(map[string]struct{}),
		changed: make(chan struct{}),
	}
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// dedupeKey prefers the explicit key and otherwise falls back to the
// canonical URL, so tracking parameters and fragments do not defeat dedupe.
func dedupeKey(item crawler.WorkItem) string {
	key := item.Key
	if key == "" {
		key = item.URL
		if canonical, err := normalize.Canonicalize(item.URL); err == nil {
			key = canonical
		}
	}
	return item.Kind.String() + ":" + key
}

// Add inserts item unless its key was already accepted or, for DETAIL items,
// the cap has been reached. It reports whether the item was accepted.
func (f *Frontier) Add(item crawler.WorkItem) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := dedupeKey(item)
	if _, dup := f.seen[key]; dup {
		return false
	}
	if item.Kind == crawler.KindDetail {
		if f.capReachedLocked() {
			return false
		}
		f.detailsAccepted++
	}
	f.seen[key] = struct{}{}
	f.pushLocked(item)
	return true
}

// Requeue puts an in-flight item back for another attempt. The dedupe check is
// skipped and Attempt is incremented.
func (f *Frontier) Requeue(item crawler.WorkItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.Attempt++
	if f.inflight > 0 {
		f.inflight--
	}
	f.pushLocked(item)
}

// Done marks a dequeued item as finished.
func (f *Frontier) Done(crawler.WorkItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inflight > 0 {
		f.inflight--
	}
	f.broadcastLocked()
}

// Next blocks until an item is available and returns the highest-priority one,
// FIFO within a priority. Once the detail cap is reached, queued LISTING items
// are discarded instead of returned.
func (f *Frontier) Next(ctx context.Context) (crawler.WorkItem, error) {
	for {
		f.mu.Lock()
		for f.items.Len() > 0 {
			entry := heap.Pop(&f.items).(*queued)
			if entry.item.Kind == crawler.KindListing && f.capReachedLocked() {
				continue
			}
			f.inflight++
			f.observeWaitLocked(entry.item)
			f.mu.Unlock()
			return entry.item, nil
		}
		if f.inflight == 0 {
			f.mu.Unlock()
			return crawler.WorkItem{}, ErrDrained
		}
		changed := f.changed
		f.mu.Unlock()

		select {
		case <-ctx.Done():
			return crawler.WorkItem{}, fmt.Errorf("frontier next: %w", ctx.Err())
		case <-changed:
		}
	}
}

// Len returns the number of queued items.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items.Len()
}

// IsEmpty reports whether nothing is queued.
func (f *Frontier) IsEmpty() bool {
	return f.Len() == 0
}

// InFlight returns the number of dequeued items not yet finished.
func (f *Frontier) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inflight
}

// DetailsAccepted returns the number of DETAIL items ever accepted.
func (f *Frontier) DetailsAccepted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailsAccepted
}

// CapReached reports whether further DETAIL items will be refused.
func (f *Frontier) CapReached() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.capReachedLocked()
}

// Stats returns a snapshot of queue depth and average queue wait.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Pending:         f.items.Len(),
		InFlight:        f.inflight,
		DetailsAccepted: f.detailsAccepted,
		AvgWait:         time.Duration(f.avgWait),
	}
}

func (f *Frontier) capReachedLocked() bool {
	return !f.cfg.Unlimited && f.cfg.MaxDetails > 0 && f.detailsAccepted >= f.cfg.MaxDetails
}

func (f *Frontier) pushLocked(item crawler.WorkItem) {
	if item.Priority == 0 {
		item.Priority = item.Kind.Priority()
	}
	item.EnqueuedAt = f.clock.Now()
	f.seq++
	heap.Push(&f.items, &queued{item: item, seq: f.seq})
	f.broadcastLocked()
}

func (f *Frontier) observeWaitLocked(item crawler.WorkItem) {
	wait := f.clock.Now().Sub(item.EnqueuedAt)
	if wait < 0 {
		wait = 0
	}
	if f.avgWait == 0 {
		f.avgWait = float64(wait)
		return
	}
	f.avgWait = waitSmoothing*float64(wait) + (1-waitSmoothing)*f.avgWait
}

// broadcastLocked wakes every goroutine blocked in Next.
func (f *Frontier) broadcastLocked() {
	close(f.changed)
	f.changed = make(chan struct{})
}
