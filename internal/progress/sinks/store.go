package sinks

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/adlibrary-crawler/internal/progress"
	"github.com/JakeFAU/adlibrary-crawler/internal/store"
)

// StoreSink persists run lifecycle and collapsed fetch counters through a
// store.RunRepository.
type StoreSink struct {
	repo   store.RunRepository
	logger *zap.Logger
}

// NewStoreSink constructs a StoreSink for repo.
func NewStoreSink(repo store.RunRepository, logger *zap.Logger) *StoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StoreSink{repo: repo, logger: logger}
}

type bucket struct {
	runID, kind, outcome string
}

// Consume collapses fetch events per (run, kind, outcome) and writes one
// delta per bucket. Lifecycle events are written as they occur.
func (s *StoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.repo == nil {
		return nil
	}
	deltas := make(map[bucket]*store.FetchStats)
	var order []bucket
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageRunStart:
			if err := s.repo.UpsertRunStart(ctx, evt.RunID, evt.TS); err != nil {
				return fmt.Errorf("upsert run start: %w", err)
			}
		case progress.StageRunDone:
			if err := s.repo.CompleteRun(ctx, evt.RunID, evt.TS, store.RunSuccess, nil); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		case progress.StageRunError:
			var note *string
			if evt.Note != "" {
				note = &evt.Note
			}
			if err := s.repo.CompleteRun(ctx, evt.RunID, evt.TS, store.RunError, note); err != nil {
				return fmt.Errorf("complete run: %w", err)
			}
		case progress.StageFetchDone:
			key := bucket{runID: evt.RunID, kind: evt.Kind, outcome: evt.Outcome}
			d, ok := deltas[key]
			if !ok {
				d = &store.FetchStats{RunID: evt.RunID, Kind: evt.Kind, Outcome: evt.Outcome}
				deltas[key] = d
				order = append(order, key)
			}
			d.Count++
			d.Bytes += evt.Bytes
			if evt.TS.After(d.At) {
				d.At = evt.TS
			}
		}
	}
	for _, key := range order {
		if err := s.repo.AddFetchStats(ctx, *deltas[key]); err != nil {
			return fmt.Errorf("add fetch stats: %w", err)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *StoreSink) Close(context.Context) error {
	return nil
}
