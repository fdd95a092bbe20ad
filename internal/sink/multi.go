package sink

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
)

// Multi fans every call out to each child sink in order. A failing child does
// not stop the others; the errors are joined.
type Multi struct {
	sinks  []crawler.Sink
	logger *zap.Logger

	mu      sync.Mutex
	seen    map[string]struct{}
	pending map[string]struct{}
}

// NewMulti combines sinks. Records whose ad id every child already accepted in
// this run, or that another caller is emitting right now, are dropped. A record
// that any child rejected may be emitted again.
func NewMulti(logger *zap.Logger, sinks ...crawler.Sink) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{
		sinks:   sinks,
		logger:  logger,
		seen:    make(map[string]struct{}),
		pending: make(map[string]struct{}),
	}
}

// EmitRecord implements crawler.Sink.
func (m *Multi) EmitRecord(ctx context.Context, rec crawler.AdRecord) error {
	m.mu.Lock()
	_, done := m.seen[rec.AdID]
	_, busy := m.pending[rec.AdID]
	if done || busy {
		m.mu.Unlock()
		m.logger.Debug("duplicate record suppressed", zap.String("ad_id", rec.AdID))
		return nil
	}
	m.pending[rec.AdID] = struct{}{}
	m.mu.Unlock()

	var errs []error
	for _, s := range m.sinks {
		if err := s.EmitRecord(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)

	m.mu.Lock()
	delete(m.pending, rec.AdID)
	if err == nil {
		m.seen[rec.AdID] = struct{}{}
	}
	m.mu.Unlock()
	return err
}

// EmitCheckpoint implements crawler.Sink.
func (m *Multi) EmitCheckpoint(ctx context.Context, cp crawler.Checkpoint) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.EmitCheckpoint(ctx, cp); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ArchiveRaw forwards to every child that archives raw documents.
func (m *Multi) ArchiveRaw(ctx context.Context, adID string, body []byte) error {
	var errs []error
	for _, s := range m.sinks {
		if a, ok := s.(RawArchiver); ok {
			if err := a.ArchiveRaw(ctx, adID, body); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Close closes every child.
func (m *Multi) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RawArchiver stores the raw detail document next to its record.
type RawArchiver interface {
	ArchiveRaw(ctx context.Context, adID string, body []byte) error
}
