// Package scraper defines core types shared across the credits pipeline.
package scraper

import (
	"time"
)

// JobState represents the lifecycle state of a credits job.
type JobState string

// Job states. Done, Rejected and Failed are terminal.
const (
	JobStateQueued     JobState = "queued"
	JobStateAdmitted   JobState = "admitted"
	JobStateFetching   JobState = "fetching"
	JobStateExtracting JobState = "extracting"
	JobStateDelivering JobState = "delivering"
	JobStateDone       JobState = "done"
	JobStateRejected   JobState = "rejected"
	JobStateFailed     JobState = "failed"
)

// Terminal reports whether no further transitions can follow s.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateDone, JobStateRejected, JobStateFailed:
		return true
	default:
		return false
	}
}

// Job is a single user request. It is immutable once enqueued.
type Job struct {
	ID         string    `json:"id"`
	Requester  string    `json:"requester"`
	Query      string    `json:"query"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// JobRecord is the tracked view of a job for status queries.
type JobRecord struct {
	Job       Job        `json:"job"`
	State     JobState   `json:"state"`
	Reason    string     `json:"reason,omitempty"`
	Records   int        `json:"records"`
	ReportID  string     `json:"report_id,omitempty"`
	ExportURI string     `json:"export_uri,omitempty"`
	History   []JobState `json:"history"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Document is a usable payload returned by the fetcher.
type Document struct {
	SourceURL string
	Content   []byte
	Strategy  string
}

// Response is one raw retrieval made by a Retriever.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// CreditRecord is one (subject, contributor) pair discovered in a document.
//
// Handle is derived from the contributor's display name. It is a best-effort
// guess and has not been checked against any real account.
type CreditRecord struct {
	Subject     string `json:"subject"`
	Contributor string `json:"contributor"`
	Handle      string `json:"handle"`
}

// Page is a fixed-size chunk of a report. Index is 1-based.
type Page struct {
	Index     int
	Total     int
	Requester string
	Balance   int
	Records   []CreditRecord
}

// Direction is a navigation event sent by the report owner.
type Direction string

// Supported navigation directions.
const (
	DirectionNext Direction = "next"
	DirectionPrev Direction = "prev"
)

// NavigationEvent is a boundary event scoped to a delivered report.
type NavigationEvent struct {
	ReportID  string
	Requester string
	Direction Direction
}

// PoolStatus reports the current load of the worker pool.
type PoolStatus struct {
	Active int `json:"active"`
	Queued int `json:"queued"`
}
