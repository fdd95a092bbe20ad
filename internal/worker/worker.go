// Package worker handles one frontier item at a time: it waits on the
// governor and jitter, fetches under an identity, and dispatches the response
// to the listing or detail handler.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
	"github.com/JakeFAU/adlibrary-crawler/internal/extract"
	"github.com/JakeFAU/adlibrary-crawler/internal/frontier"
	"github.com/JakeFAU/adlibrary-crawler/internal/governor"
	"github.com/JakeFAU/adlibrary-crawler/internal/identity"
	"github.com/JakeFAU/adlibrary-crawler/internal/listing"
	"github.com/JakeFAU/adlibrary-crawler/internal/normalize"
	"github.com/JakeFAU/adlibrary-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/adlibrary-crawler/internal/policy/simple"
	"github.com/JakeFAU/adlibrary-crawler/internal/progress"
	"github.com/JakeFAU/adlibrary-crawler/internal/sink"
	"github.com/JakeFAU/adlibrary-crawler/internal/telemetry"
)

// Config controls Worker behavior.
type Config struct {
	// BaseURL is the scheme and host of the ad library.
	BaseURL      string
	AccountOwner string
	Keyword      string
	// ScrapeDetails disables detail fetches when false; detail items then
	// yield URL-only records.
	ScrapeDetails bool
	// SaveRawHTML archives detail bodies through sinks that support it.
	SaveRawHTML bool
}

// Deps are the collaborators a Worker drives. Limiter, Headless, and Detector
// are optional.
type Deps struct {
	Frontier   *frontier.Frontier
	Governor   *governor.Governor
	Jitter     *governor.Jitter
	Limiter    *ratelimit.Limiter
	Identities *identity.Pool
	Fetcher    crawler.Fetcher
	Headless   crawler.Fetcher
	Detector   crawler.HeadlessDetector
	Policy     *simple.Policy
	Extractor  *extract.Engine
	Tracker    *progress.Tracker
	Sink       crawler.Sink
	Clock      crawler.Clock
}

// Worker executes the fetch pipeline for frontier items. A single Worker is
// shared by every goroutine of the pool.
type Worker struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// New constructs a Worker.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Worker, error) {
	if cfg.AccountOwner == "" && cfg.Keyword == "" {
		return nil, errors.New("worker needs an account owner or keyword")
	}
	switch {
	case deps.Frontier == nil:
		return nil, errors.New("worker needs a frontier")
	case deps.Governor == nil || deps.Jitter == nil:
		return nil, errors.New("worker needs a governor and jitter")
	case deps.Identities == nil:
		return nil, errors.New("worker needs an identity pool")
	case deps.Fetcher == nil:
		return nil, errors.New("worker needs a fetcher")
	case deps.Extractor == nil || deps.Tracker == nil || deps.Sink == nil:
		return nil, errors.New("worker needs an extractor, tracker, and sink")
	}
	if deps.Policy == nil {
		deps.Policy = simple.New(simple.DefaultMaxAttempts)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{cfg: cfg, deps: deps, logger: logger.Named("worker")}, nil
}

// Seed enqueues the first search page.
func (w *Worker) Seed() bool {
	return w.deps.Frontier.Add(crawler.WorkItem{
		Kind:       crawler.KindListing,
		URL:        listing.SearchURL(w.cfg.BaseURL, w.cfg.AccountOwner, w.cfg.Keyword),
		Key:        listing.StartKey,
		Priority:   crawler.KindListing.Priority(),
		EnqueuedAt: w.now(),
	})
}

// Process handles one dequeued item and settles it with the frontier through
// exactly one of Done or Requeue. It returns an error only when ctx ends.
func (w *Worker) Process(ctx context.Context, item crawler.WorkItem) error {
	ctx, span := telemetry.Tracer().Start(ctx, "worker.process", trace.WithAttributes(
		attribute.String("item.kind", item.Kind.String()),
		attribute.String("item.url", item.URL),
		attribute.Int("item.attempt", item.Attempt),
	))
	defer span.End()

	err := w.process(ctx, item)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (w *Worker) process(ctx context.Context, item crawler.WorkItem) error {
	if item.Kind == crawler.KindDetail && !w.cfg.ScrapeDetails {
		w.emitURLOnly(ctx, item)
		w.deps.Frontier.Done(item)
		return ctx.Err()
	}

	ident, err := w.deps.Identities.Acquire()
	if err != nil {
		w.logger.Error("no identity available, dropping item",
			zap.String("kind", item.Kind.String()),
			zap.String("url", item.URL),
			zap.Error(err),
		)
		w.dropped(item)
		return nil
	}

	resp, outcome, err := w.fetch(ctx, item, ident)
	if err != nil {
		w.deps.Frontier.Done(item)
		return err
	}

	decision := w.deps.Policy.Decide(item, outcome)
	switch decision.Action {
	case simple.ActionProcess:
		w.deps.Governor.Success()
		w.handle(ctx, item, resp)
		w.deps.Frontier.Done(item)
	case simple.ActionBackoff:
		delay := w.deps.Governor.RateLimited()
		w.logger.Warn("rate limited",
			zap.String("url", item.URL),
			zap.Int("attempt", item.Attempt),
			zap.Duration("delay", delay),
		)
		if err := w.deps.Governor.Sleep(ctx, delay); err != nil {
			w.deps.Frontier.Done(item)
			return fmt.Errorf("backoff sleep: %w", err)
		}
		w.deps.Frontier.Requeue(item)
	case simple.ActionRetire:
		if err := w.deps.Identities.Retire(ident.ID); err != nil {
			w.logger.Warn("retire identity", zap.String("identity", ident.ID), zap.Error(err))
		}
		w.logger.Warn("identity blocked",
			zap.String("identity", ident.ID),
			zap.String("url", item.URL),
			zap.Int("status", outcome.Status),
			zap.Bool("requeued", decision.Requeue),
		)
		if decision.Requeue {
			w.deps.Frontier.Requeue(item)
		} else {
			w.dropped(item)
		}
	default:
		w.logger.Warn("dropping item",
			zap.String("kind", item.Kind.String()),
			zap.String("url", item.URL),
			zap.String("reason", decision.Reason),
			zap.Error(outcome),
		)
		w.dropped(item)
	}
	return nil
}

// fetch runs the pre-request waits, the fetch, and the optional headless
// promotion. The returned error is non-nil only when ctx ended.
func (w *Worker) fetch(
	ctx context.Context,
	item crawler.WorkItem,
	ident *identity.Identity,
) (crawler.FetchResponse, crawler.Outcome, error) {
	if err := w.deps.Governor.Wait(ctx); err != nil {
		return crawler.FetchResponse{}, crawler.Outcome{}, fmt.Errorf("governor wait: %w", err)
	}
	if err := w.deps.Jitter.Sleep(ctx); err != nil {
		return crawler.FetchResponse{}, crawler.Outcome{}, fmt.Errorf("jitter: %w", err)
	}
	if w.deps.Limiter != nil {
		if err := w.deps.Limiter.Wait(ctx, item.URL); err != nil {
			return crawler.FetchResponse{}, crawler.Outcome{}, err
		}
	}

	request := crawler.FetchRequest{
		URL:     item.URL,
		Kind:    item.Kind,
		Headers: ident.Headers(),
		Proxy:   ident.Proxy,
	}
	resp, fetchErr := w.deps.Fetcher.Fetch(ctx, request)
	if err := w.deps.Identities.RecordUse(ident.ID); err != nil {
		w.logger.Warn("record identity use", zap.String("identity", ident.ID), zap.Error(err))
	}
	if fetchErr != nil && ctx.Err() != nil {
		return crawler.FetchResponse{}, crawler.Outcome{}, fmt.Errorf("fetch %s: %w", item.URL, ctx.Err())
	}
	if fetchErr == nil && item.Kind == crawler.KindDetail {
		resp = w.maybePromote(ctx, request, resp)
	}

	outcome := crawler.ClassifyResponse(resp, fetchErr)
	w.deps.Tracker.ObserveFetch(progress.Fetch{
		Kind:     item.Kind,
		URL:      item.URL,
		Outcome:  outcome,
		Bytes:    len(resp.Body),
		Duration: resp.Duration,
	})
	return resp, outcome, nil
}

func (w *Worker) maybePromote(
	ctx context.Context,
	request crawler.FetchRequest,
	resp crawler.FetchResponse,
) crawler.FetchResponse {
	if w.deps.Headless == nil || w.deps.Detector == nil || !w.deps.Detector.ShouldPromote(resp) {
		return resp
	}
	rendered, err := w.deps.Headless.Fetch(ctx, request)
	if err != nil {
		w.logger.Warn("headless promotion failed", zap.String("url", request.URL), zap.Error(err))
		return resp
	}
	rendered.UsedHeadless = true
	w.logger.Debug("headless promotion applied", zap.String("url", request.URL))
	return rendered
}

func (w *Worker) handle(ctx context.Context, item crawler.WorkItem, resp crawler.FetchResponse) {
	if item.Kind == crawler.KindListing {
		w.handleListing(ctx, item, resp)
		return
	}
	w.handleDetail(ctx, item, resp)
}

// handleListing enqueues unseen detail items and the next page. A page that
// cannot be parsed ends its pagination chain.
func (w *Worker) handleListing(ctx context.Context, item crawler.WorkItem, resp crawler.FetchResponse) {
	page, err := listing.Parse(resp.Body, item.URL)
	if err != nil {
		w.logger.Error("listing parse failed, chain halted", zap.String("url", item.URL), zap.Error(err))
		return
	}

	now := w.now()
	added := 0
	for _, detailURL := range page.DetailURLs {
		adID := normalize.AdIDFromURL(detailURL)
		if w.deps.Frontier.Add(crawler.WorkItem{
			Kind:       crawler.KindDetail,
			URL:        detailURL,
			Key:        adID,
			Priority:   crawler.KindDetail.Priority(),
			EnqueuedAt: now,
		}) {
			added++
		}
	}

	cursor, hasNext := listing.NextCursor(page)
	if hasNext {
		w.deps.Frontier.Add(crawler.WorkItem{
			Kind:       crawler.KindListing,
			URL:        listing.PaginationURL(w.cfg.BaseURL, cursor, w.cfg.AccountOwner, w.cfg.Keyword),
			Key:        cursor,
			Priority:   crawler.KindListing.Priority(),
			EnqueuedAt: now,
		})
	}

	w.logger.Info("listing processed",
		zap.String("url", item.URL),
		zap.Int("links", len(page.DetailURLs)),
		zap.Int("new_ads", added),
		zap.Bool("has_next", hasNext),
	)
	if err := w.deps.Tracker.ListingProcessed(ctx, page.Total, page.HasTotal, added); err != nil {
		w.logger.Warn("checkpoint failed", zap.Error(err))
	}
}

func (w *Worker) handleDetail(ctx context.Context, item crawler.WorkItem, resp crawler.FetchResponse) {
	rec := w.deps.Extractor.Extract(item.URL, resp.Body)
	if rec.ExtractionError != "" {
		w.logger.Warn("extraction error",
			zap.String("ad_id", rec.AdID),
			zap.String("error", rec.ExtractionError),
		)
	}
	if w.cfg.SaveRawHTML {
		if archiver, ok := w.deps.Sink.(sink.RawArchiver); ok {
			if err := archiver.ArchiveRaw(ctx, rec.AdID, resp.Body); err != nil {
				w.logger.Warn("archive raw html", zap.String("ad_id", rec.AdID), zap.Error(err))
			}
		}
	}
	w.emit(ctx, rec)
}

func (w *Worker) emitURLOnly(ctx context.Context, item crawler.WorkItem) {
	w.emit(ctx, w.deps.Extractor.URLOnly(item.URL))
}

func (w *Worker) emit(ctx context.Context, rec crawler.AdRecord) {
	if err := w.deps.Sink.EmitRecord(ctx, rec); err != nil {
		w.logger.Error("emit record", zap.String("ad_id", rec.AdID), zap.Error(err))
		w.deps.Tracker.DetailFailed()
		return
	}
	w.logger.Debug("record emitted",
		zap.String("ad_id", rec.AdID),
		zap.String("creative_type", string(rec.CreativeType)),
	)
	if err := w.deps.Tracker.RecordEmitted(ctx, rec); err != nil {
		w.logger.Warn("checkpoint failed", zap.Error(err))
	}
}

func (w *Worker) dropped(item crawler.WorkItem) {
	if item.Kind == crawler.KindDetail {
		w.deps.Tracker.DetailFailed()
	}
	w.deps.Frontier.Done(item)
}

func (w *Worker) now() time.Time {
	if w.deps.Clock == nil {
		return time.Now()
	}
	return w.deps.Clock.Now()
}
