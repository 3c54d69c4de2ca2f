package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Source knows how to address and parse one upstream search portal.
type Source interface {
	SearchURL(partition Partition, watermark string, page int) (string, error)
	ParseResults(pageURL string, body []byte) ([]SearchResultEntry, error)
	ParseArticle(body []byte, entry SearchResultEntry) (ParsedArticle, error)
}

// RecordStore is the remote table holding canonical records.
type RecordStore interface {
	Find(ctx context.Context, query Query) (RecordPage, error)
	Create(ctx context.Context, record Record) (Record, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes record events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunLedger records partition passes for operators.
type RunLedger interface {
	StartPartition(ctx context.Context, run PartitionRun) error
	FinishPartition(ctx context.Context, run PartitionRun) error
}

// Queue provides enqueue/dequeue semantics for country work items.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher derives content-addressed names for archived bodies.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem carries one country to crawl.
type QueueItem struct {
	RunID     string
	Country   Country
	Submitted int64
}
