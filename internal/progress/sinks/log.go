package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/adlibrary-crawler/internal/progress"
)

// LogSink writes progress events as structured log lines. Fetch events are
// logged at debug level; lifecycle and checkpoint events at info.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageFetchDone:
			fields = append(fields,
				zap.String("kind", evt.Kind),
				zap.String("url", evt.URL),
				zap.String("outcome", evt.Outcome),
				zap.Int("status", evt.Status),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
			s.logger.Debug("fetch", fields...)
			continue
		case progress.StageRecord:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("creative_type", evt.CreativeType),
				zap.Bool("failed", evt.Failed),
			)
			s.logger.Debug("record", fields...)
			continue
		case progress.StageCheckpoint:
			if cp := evt.Checkpoint; cp != nil {
				fields = append(fields,
					zap.String("reason", cp.Reason),
					zap.Int("ads_collected", cp.AdsCollected),
					zap.Int("details_collected", cp.DetailsCollected),
				)
			}
		default:
			if evt.Dur > 0 {
				fields = append(fields, zap.Duration("dur", evt.Dur))
			}
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
