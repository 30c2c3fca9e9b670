package scraper

import (
	"context"
	"io"
	"time"
)

// Ledger gates job admission on per-requester credit balances.
type Ledger interface {
	Admit(requester string) bool
	Balance(requester string) int
}

// Fetcher resolves a free-text query to a usable document.
// Failures are *NotFoundError or *TransientError.
type Fetcher interface {
	Fetch(ctx context.Context, query string) (Document, error)
}

// Retriever performs a single time-bounded retrieval of one URL.
type Retriever interface {
	Name() string
	Retrieve(ctx context.Context, url string) (Response, error)
}

// DocumentCache stores usable documents by source URL.
type DocumentCache interface {
	Get(ctx context.Context, url string) ([]byte, bool, error)
	Put(ctx context.Context, url string, body []byte) error
}

// Extractor turns a document into ordered credit records. It never fails.
type Extractor interface {
	Extract(doc Document) []CreditRecord
}

// Reporter delivers records to the requester as a paginated report.
type Reporter interface {
	Deliver(ctx context.Context, job Job, records []CreditRecord, balance int) (string, error)
}

// Delivery is the outbound channel to the requester.
type Delivery interface {
	SendStatus(ctx context.Context, requester string, text string) error
	SendReport(ctx context.Context, page Page) (string, error)
	UpdateReport(ctx context.Context, reportID string, page Page) error
	AttachNavigation(ctx context.Context, reportID string) error
	ClearNavigation(ctx context.Context, reportID string) error
}

// Queue provides FIFO enqueue/dequeue semantics for jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) (int, error)
	TryDequeue() (Job, bool)
	Len() int
	Ready() <-chan struct{}
}

// JobStore tracks job state transitions.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJob(ctx context.Context, jobID string, update JobUpdate) error
	GetJob(ctx context.Context, jobID string) (JobRecord, error)
}

// JobUpdate carries a state transition and optional outcome fields.
type JobUpdate struct {
	State     JobState
	Reason    string
	Records   int
	ReportID  string
	ExportURI string
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes job outcome events to a broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher produces content digests used to name exported artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}
