package harvest

import (
	"context"
	"io"
	"time"
)

// Fetcher performs a single HTTP GET. Implementations return a response for
// every completed exchange regardless of status and an error only when no
// response was obtained.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// CheckpointStore is the durable set of completed resource URLs.
type CheckpointStore interface {
	Load(ctx context.Context) (map[string]struct{}, error)
	RecordSuccess(ctx context.Context, url string) error
	Close() error
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes record-ready notifications to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes content digests.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}
