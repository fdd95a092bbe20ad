package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/JakeFAU/adlibrary-crawler/internal/crawler"
)

// Blob writes each record to ads/<ad_id>.json and each checkpoint to
// checkpoints/<run_id>/<unix_nanos>-<reason>.json in a blob store. Rewriting an ad
// replaces the earlier object, so the ad id stays unique in the output.
type Blob struct {
	store  crawler.BlobStore
	prefix string
	closer func() error
}

// NewBlob wraps store. prefix is prepended to every object path. closer, when
// non-nil, runs on Close.
func NewBlob(store crawler.BlobStore, prefix string, closer func() error) *Blob {
	return &Blob{store: store, prefix: prefix, closer: closer}
}

func (b *Blob) objectPath(parts ...string) string {
	return path.Join(append([]string{b.prefix}, parts...)...)
}

// EmitRecord implements crawler.Sink.
func (b *Blob) EmitRecord(ctx context.Context, rec crawler.AdRecord) error {
	if rec.AdID == "" {
		return fmt.Errorf("record ad_id is required")
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.AdID, err)
	}
	if _, err := b.store.PutObject(ctx, b.objectPath("ads", rec.AdID+".json"), "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("store record %s: %w", rec.AdID, err)
	}
	return nil
}

// EmitCheckpoint implements crawler.Sink.
func (b *Blob) EmitCheckpoint(ctx context.Context, cp crawler.Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	name := fmt.Sprintf("%020d-%s.json", cp.Timestamp.UnixNano(), cp.Reason)
	if _, err := b.store.PutObject(ctx, b.objectPath("checkpoints", cp.RunID, name), "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("store checkpoint: %w", err)
	}
	if _, err := b.store.PutObject(ctx, b.objectPath("checkpoints", cp.RunID, "latest.json"), "application/json", bytes.NewReader(data)); err != nil {
		return fmt.Errorf("store latest checkpoint: %w", err)
	}
	return nil
}

// ArchiveRaw stores the fetched detail document as raw/<ad_id>.html.
func (b *Blob) ArchiveRaw(ctx context.Context, adID string, body []byte) error {
	if adID == "" {
		return fmt.Errorf("ad id is required")
	}
	if _, err := b.store.PutObject(ctx, b.objectPath("raw", adID+".html"), "text/html; charset=utf-8", bytes.NewReader(body)); err != nil {
		return fmt.Errorf("archive raw %s: %w", adID, err)
	}
	return nil
}

// Close implements crawler.Sink.
func (b *Blob) Close(context.Context) error {
	if b.closer == nil {
		return nil
	}
	return b.closer()
}
