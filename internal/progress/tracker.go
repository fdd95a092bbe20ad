package progress

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
)

// Checkpoint reasons.
const (
	ReasonFirstDiscovery = "first_discovery"
	ReasonPageInterval   = "page_interval"
	ReasonRecordInterval = "record_interval"
	ReasonRunComplete    = "run_complete"
)

const (
	defaultEveryPages   = 5
	defaultEveryRecords = 50
)

// TrackerConfig describes the run a Tracker reports on.
type TrackerConfig struct {
	RunID        string
	AccountOwner string
	Keyword      string
	// EveryPages cuts a checkpoint after this many listing pages (default 5).
	EveryPages int
	// EveryRecords cuts a checkpoint after this many records (default 50).
	EveryRecords int
}

// Counters is a point-in-time view of run progress.
type Counters struct {
	RunID             string    `json:"run_id"`
	TotalAdsAvailable int       `json:"total_ads_available"`
	TotalKnown        bool      `json:"total_known"`
	AdsCollected      int       `json:"ads_collected"`
	DetailsCollected  int       `json:"details_collected"`
	DetailsFailed     int       `json:"details_failed"`
	PagesProcessed    int       `json:"pages_processed"`
	RateLimits        int       `json:"rate_limits"`
	Blocks            int       `json:"blocks"`
	StartedAt         time.Time `json:"started_at"`
	LastCheckpoint    string    `json:"last_checkpoint,omitempty"`
}

// Fetch describes one completed fetch attempt.
type Fetch struct {
	Kind     crawler.Kind
	URL      string
	Outcome  crawler.Outcome
	Bytes    int
	Duration time.Duration
}

// Tracker owns the run counters and decides when checkpoints are written.
// It is safe for concurrent use; handlers receive it explicitly.
type Tracker struct {
	cfg     TrackerConfig
	sink    crawler.Sink
	emitter Emitter
	clock   crawler.Clock
	logger  *zap.Logger

	mu             sync.Mutex
	counters       Counters
	pagesSince     int
	recordsSince   int
	discovered     bool
	lastCheckpoint *crawler.Checkpoint

	// serializes checkpoint writes so they reach the sink in order.
	emitMu sync.Mutex
}

// NewTracker constructs a Tracker writing checkpoints to sink and streaming
// events to emitter. A nil emitter discards events.
func NewTracker(cfg TrackerConfig, sink crawler.Sink, emitter Emitter, clock crawler.Clock, logger *zap.Logger) *Tracker {
	if cfg.EveryPages <= 0 {
		cfg.EveryPages = defaultEveryPages
	}
	if cfg.EveryRecords <= 0 {
		cfg.EveryRecords = defaultEveryRecords
	}
	if emitter == nil {
		emitter = NopEmitter{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		cfg:      cfg,
		sink:     sink,
		emitter:  emitter,
		clock:    clock,
		logger:   logger,
		counters: Counters{RunID: cfg.RunID},
	}
}

// Start stamps the run start time and emits RUN_START.
func (t *Tracker) Start() {
	now := t.clock.Now()
	t.mu.Lock()
	t.counters.StartedAt = now
	t.mu.Unlock()
	t.emitter.Emit(Event{RunID: t.cfg.RunID, TS: now, Stage: StageRunStart})
}

// ObserveFetch counts rate limits and blocks and emits FETCH_DONE.
func (t *Tracker) ObserveFetch(f Fetch) {
	t.mu.Lock()
	switch f.Outcome.Kind {
	case crawler.ErrorKindRateLimited:
		t.counters.RateLimits++
	case crawler.ErrorKindBlocked:
		t.counters.Blocks++
	}
	t.mu.Unlock()
	t.emitter.Emit(Event{
		RunID:   t.cfg.RunID,
		TS:      t.clock.Now(),
		Stage:   StageFetchDone,
		Kind:    f.Kind.String(),
		URL:     f.URL,
		Outcome: f.Outcome.Kind.String(),
		Status:  f.Outcome.Status,
		Bytes:   int64(f.Bytes),
		Dur:     f.Duration,
	})
}

// ListingProcessed records one parsed listing page. total is the declared
// result count when hasTotal is set; newAds is how many previously unseen ads
// the page contributed. The first page declaring a total and every
// EveryPages-th page cut a checkpoint.
func (t *Tracker) ListingProcessed(ctx context.Context, total int, hasTotal bool, newAds int) error {
	t.mu.Lock()
	t.counters.PagesProcessed++
	t.counters.AdsCollected += newAds
	t.pagesSince++
	reason := ""
	if hasTotal {
		t.counters.TotalAdsAvailable = total
		t.counters.TotalKnown = true
		if !t.discovered {
			t.discovered = true
			reason = ReasonFirstDiscovery
		}
	}
	if reason == "" && t.pagesSince >= t.cfg.EveryPages {
		reason = ReasonPageInterval
	}
	t.mu.Unlock()
	if reason == "" {
		return nil
	}
	return t.Checkpoint(ctx, reason)
}

// RecordEmitted counts a record handed to the output sink and emits RECORD.
// Records carrying an extraction error still count as collected.
func (t *Tracker) RecordEmitted(ctx context.Context, rec crawler.AdRecord) error {
	t.mu.Lock()
	t.counters.DetailsCollected++
	t.recordsSince++
	due := t.recordsSince >= t.cfg.EveryRecords
	t.mu.Unlock()

	t.emitter.Emit(Event{
		RunID:        t.cfg.RunID,
		TS:           t.clock.Now(),
		Stage:        StageRecord,
		URL:          rec.DetailURL,
		CreativeType: string(rec.CreativeType),
		Failed:       rec.ExtractionError != "",
		Note:         rec.ExtractionError,
	})
	if !due {
		return nil
	}
	return t.Checkpoint(ctx, ReasonRecordInterval)
}

// DetailFailed counts a detail item that was dropped without a record.
func (t *Tracker) DetailFailed() {
	t.mu.Lock()
	t.counters.DetailsFailed++
	t.mu.Unlock()
}

// Checkpoint writes the current counters to the sink with the given reason
// and resets the interval counters.
func (t *Tracker) Checkpoint(ctx context.Context, reason string) error {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	t.mu.Lock()
	cp := t.checkpointLocked(reason)
	t.pagesSince = 0
	t.recordsSince = 0
	t.lastCheckpoint = &cp
	t.counters.LastCheckpoint = reason
	t.mu.Unlock()

	t.emitter.Emit(Event{RunID: t.cfg.RunID, TS: cp.Timestamp, Stage: StageCheckpoint, Checkpoint: &cp, Note: reason})
	t.logger.Info("checkpoint",
		zap.String("reason", reason),
		zap.Int("total_ads_available", cp.TotalAdsAvailable),
		zap.Int("ads_collected", cp.AdsCollected),
		zap.Int("details_collected", cp.DetailsCollected),
		zap.Int("details_failed", cp.DetailsFailed),
		zap.Int("pages_processed", cp.PagesProcessed),
	)
	if t.sink == nil {
		return nil
	}
	if err := t.sink.EmitCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("emit checkpoint %s: %w", reason, err)
	}
	return nil
}

func (t *Tracker) checkpointLocked(reason string) crawler.Checkpoint {
	return crawler.Checkpoint{
		RunID:             t.cfg.RunID,
		TotalAdsAvailable: t.counters.TotalAdsAvailable,
		AdsCollected:      t.counters.AdsCollected,
		DetailsCollected:  t.counters.DetailsCollected,
		DetailsFailed:     t.counters.DetailsFailed,
		PagesProcessed:    t.counters.PagesProcessed,
		AccountOwner:      t.cfg.AccountOwner,
		Keyword:           t.cfg.Keyword,
		Reason:            reason,
		Timestamp:         t.clock.Now(),
	}
}

// Finish writes the final checkpoint and emits RUN_DONE, or RUN_ERROR when
// runErr is non-nil.
func (t *Tracker) Finish(ctx context.Context, runErr error) error {
	err := t.Checkpoint(ctx, ReasonRunComplete)
	now := t.clock.Now()
	t.mu.Lock()
	started := t.counters.StartedAt
	t.mu.Unlock()
	evt := Event{RunID: t.cfg.RunID, TS: now, Stage: StageRunDone}
	if !started.IsZero() && now.After(started) {
		evt.Dur = now.Sub(started)
	}
	if runErr != nil {
		evt.Stage = StageRunError
		evt.Note = runErr.Error()
	}
	t.emitter.Emit(evt)
	return err
}

// Snapshot returns the live counters.
func (t *Tracker) Snapshot() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters
}

// LastCheckpoint returns the most recent checkpoint written, if any.
func (t *Tracker) LastCheckpoint() (crawler.Checkpoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastCheckpoint == nil {
		return crawler.Checkpoint{}, false
	}
	return *t.lastCheckpoint, true
}
