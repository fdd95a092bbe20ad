package sink

import (
	"context"
	"fmt"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
)

// Publish announces records and checkpoints as crawler.Notification messages.
type Publish struct {
	pub             crawler.Publisher
	runID           string
	recordTopic     string
	checkpointTopic string
	clock           crawler.Clock
	closer          func() error
}

// PublishConfig names the topics used by Publish. An empty checkpoint topic
// reuses the record topic.
type PublishConfig struct {
	RunID           string
	RecordTopic     string
	CheckpointTopic string
}

// NewPublish wraps pub. closer, when non-nil, runs on Close.
func NewPublish(pub crawler.Publisher, cfg PublishConfig, clock crawler.Clock, closer func() error) *Publish {
	if cfg.CheckpointTopic == "" {
		cfg.CheckpointTopic = cfg.RecordTopic
	}
	return &Publish{
		pub:             pub,
		runID:           cfg.RunID,
		recordTopic:     cfg.RecordTopic,
		checkpointTopic: cfg.CheckpointTopic,
		clock:           clock,
		closer:          closer,
	}
}

// EmitRecord implements crawler.Sink.
func (p *Publish) EmitRecord(ctx context.Context, rec crawler.AdRecord) error {
	n := crawler.Notification{
		Event:        crawler.NotifyRecord,
		RunID:        p.runID,
		AdID:         rec.AdID,
		CreativeType: string(rec.CreativeType),
		DetailURL:    rec.DetailURL,
		At:           p.clock.Now(),
	}
	if _, err := p.pub.Publish(ctx, p.recordTopic, n); err != nil {
		return fmt.Errorf("publish record %s: %w", rec.AdID, err)
	}
	return nil
}

// EmitCheckpoint implements crawler.Sink.
func (p *Publish) EmitCheckpoint(ctx context.Context, cp crawler.Checkpoint) error {
	n := crawler.Notification{
		Event:      crawler.NotifyCheckpoint,
		RunID:      p.runID,
		Checkpoint: &cp,
		At:         p.clock.Now(),
	}
	if _, err := p.pub.Publish(ctx, p.checkpointTopic, n); err != nil {
		return fmt.Errorf("publish checkpoint: %w", err)
	}
	return nil
}

// Close implements crawler.Sink.
func (p *Publish) Close(context.Context) error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
