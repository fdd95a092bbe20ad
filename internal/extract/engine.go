// Package extract turns a classified ad detail document into an AdRecord.
//
// Shared fields (advertiser, promoter, copy, availability, impressions,
// targeting) are read by every record; a per-type strategy then fills the
// payload. Every step runs under recover so one broken selector degrades a
// single field instead of the record.
package extract

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/adlibrary-crawler/internal/classifier"
	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
	"github.com/JakeFAU/adlibrary-crawler/internal/normalize"
)

// DefaultPlaceholderSignatures match the library's "missing asset" images.
var DefaultPlaceholderSignatures = []string{
	"/aero-v1/sc/h/",
	"ghost-image",
	"image-placeholder",
	"data:image/gif;base64,R0lGOD",
}

// Config tunes extraction.
type Config struct {
	// PlaceholderSignatures are substrings identifying sentinel image URLs.
	PlaceholderSignatures []string
	// TrackingParams are stripped from click and profile URLs. Nil uses the
	// normalize defaults.
	TrackingParams []string
}

// Engine extracts AdRecords. It is safe for concurrent use.
type Engine struct {
	cfg        Config
	classifier *classifier.Classifier
	hasher     crawler.Hasher
	clock      crawler.Clock
	logger     *zap.Logger
	strategies map[crawler.CreativeType]strategy
}

// New builds an engine with the default strategy table.
func New(cfg Config, cls *classifier.Classifier, hasher crawler.Hasher, clock crawler.Clock, logger *zap.Logger) *Engine {
	if cfg.PlaceholderSignatures == nil {
		cfg.PlaceholderSignatures = DefaultPlaceholderSignatures
	}
	if cls == nil {
		cls = classifier.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:        cfg,
		classifier: cls,
		hasher:     hasher,
		clock:      clock,
		logger:     logger,
		strategies: defaultStrategies(),
	}
}

// URLOnly builds the minimal record used when detail scraping is disabled.
func (e *Engine) URLOnly(detailURL string) crawler.AdRecord {
	return crawler.AdRecord{
		AdID:         normalize.AdIDFromURL(detailURL),
		DetailURL:    detailURL,
		CapturedAt:   e.now(),
		CreativeType: crawler.CreativeUnknown,
	}
}

// Extract parses body and returns the best record it can. It never fails: a
// document that cannot be parsed yields a record with ExtractionError set.
func (e *Engine) Extract(detailURL string, body []byte) crawler.AdRecord {
	rec := e.URLOnly(detailURL)
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		rec.ExtractionError = fmt.Sprintf("parse document: %v", err)
		return rec
	}

	p := newPage(doc, detailURL, e.cfg)
	if e.hasher != nil {
		p.run("fingerprint", func(p *page, rec *crawler.AdRecord) {
			fp, fpErr := normalize.Fingerprint(doc, e.hasher)
			if fpErr != nil {
				p.notef("fingerprint: %v", fpErr)
				return
			}
			rec.Fingerprint = fp
		}, &rec)
	}

	result := e.classifier.Classify(doc)
	rec.CreativeType = result.Type
	if result.Note != "" {
		p.notef("creative_type: %s", result.Note)
	}

	for _, step := range sharedSteps {
		p.run(step.name, step.fn, &rec)
	}
	if fn, ok := e.strategies[rec.CreativeType]; ok {
		p.run("payload."+strings.ToLower(string(rec.CreativeType)), fn, &rec)
	}

	rec.Diagnostics = p.diagnostics
	if len(p.failures) > 0 {
		rec.ExtractionError = strings.Join(p.failures, "; ")
		e.logger.Warn("extraction step failed",
			zap.String("ad_id", rec.AdID),
			zap.String("creative_type", string(rec.CreativeType)),
			zap.Strings("failures", p.failures),
		)
	}
	return rec
}

func (e *Engine) now() time.Time {
	if e.clock == nil {
		return time.Now().UTC()
	}
	return e.clock.Now()
}

// page is the per-document extraction state.
type page struct {
	doc         *goquery.Document
	url         string
	preview     *goquery.Selection
	panel       *goquery.Selection
	assets      assetResolver
	tracking    []string
	diagnostics []string
	failures    []string
}

func newPage(doc *goquery.Document, pageURL string, cfg Config) *page {
	return &page{
		doc:      doc,
		url:      pageURL,
		preview:  classifier.Preview(doc),
		panel:    doc.Find(classifier.AboutPanelSelector).First(),
		assets:   assetResolver{base: pageURL, signatures: cfg.PlaceholderSignatures},
		tracking: cfg.TrackingParams,
	}
}

func (p *page) notef(format string, args ...any) {
	p.diagnostics = append(p.diagnostics, fmt.Sprintf(format, args...))
}

// run executes one step, converting a panic into a recorded failure.
func (p *page) run(name string, fn strategy, rec *crawler.AdRecord) {
	defer func() {
		if r := recover(); r != nil {
			p.failures = append(p.failures, fmt.Sprintf("%s: %v", name, r))
		}
	}()
	fn(p, rec)
}

func (p *page) cleanURL(raw string) string {
	if raw == "" {
		return ""
	}
	return normalize.CleanURL(normalize.ResolveURL(p.url, raw), p.tracking)
}
