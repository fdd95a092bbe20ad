package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata. Implementations
// retry low-level transport failures internally.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Sink receives extracted records and progress checkpoints.
type Sink interface {
	EmitRecord(ctx context.Context, record AdRecord) error
	EmitCheckpoint(ctx context.Context, checkpoint Checkpoint) error
	Close(ctx context.Context) error
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes record notifications to Pub/Sub, Kafka, or similar.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run and identity IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// HeadlessDetector decides whether a plain fetch returned an unrendered shell
// that needs a browser pass.
type HeadlessDetector interface {
	ShouldPromote(resp FetchResponse) bool
}
