package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

// JobStore keeps job records in memory. Job history does not survive a restart.
type JobStore struct {
	mu   sync.RWMutex
	jobs map[string]scraper.JobRecord
	now  func() time.Time
}

var _ scraper.JobStore = (*JobStore)(nil)

// NewJobStore constructs a JobStore.
func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[string]scraper.JobRecord),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job in queued state.
func (s *JobStore) CreateJob(_ context.Context, job scraper.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return errors.New("job already exists")
	}
	s.jobs[job.ID] = scraper.JobRecord{
		Job:       job,
		State:     scraper.JobStateQueued,
		History:   []scraper.JobState{scraper.JobStateQueued},
		UpdatedAt: s.now(),
	}
	return nil
}

// UpdateJob applies a state transition. Outcome fields are only overwritten
// when set. Terminal records are frozen.
func (s *JobStore) UpdateJob(_ context.Context, jobID string, update scraper.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return scraper.ErrJobNotFound
	}
	if rec.State.Terminal() {
		return fmt.Errorf("job %s already %s", jobID, rec.State)
	}
	if update.State != "" && update.State != rec.State {
		rec.State = update.State
		rec.History = append(rec.History, update.State)
	}
	if update.Reason != "" {
		rec.Reason = update.Reason
	}
	if update.Records > 0 {
		rec.Records = update.Records
	}
	if update.ReportID != "" {
		rec.ReportID = update.ReportID
	}
	if update.ExportURI != "" {
		rec.ExportURI = update.ExportURI
	}
	rec.UpdatedAt = s.now()
	s.jobs[jobID] = rec
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (scraper.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.jobs[jobID]
	if !ok {
		return scraper.JobRecord{}, scraper.ErrJobNotFound
	}
	rec.History = append([]scraper.JobState(nil), rec.History...)
	return rec, nil
}
