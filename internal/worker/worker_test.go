package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-credits-bot/internal/delivery/memory"
	"github.com/JakeFAU/album-credits-bot/internal/ledger"
	pubmemory "github.com/JakeFAU/album-credits-bot/internal/publisher/memory"
	"github.com/JakeFAU/album-credits-bot/internal/report"
	"github.com/JakeFAU/album-credits-bot/internal/scraper"
	storememory "github.com/JakeFAU/album-credits-bot/internal/storage/memory"
)

type fakeFetcher struct {
	doc   scraper.Document
	err   error
	panic bool
}

func (f *fakeFetcher) Fetch(context.Context, string) (scraper.Document, error) {
	if f.panic {
		panic("boom")
	}
	return f.doc, f.err
}

type fakeExtractor struct {
	records []scraper.CreditRecord
	calls   int
}

func (f *fakeExtractor) Extract(scraper.Document) []scraper.CreditRecord {
	f.calls++
	return f.records
}

type fakeExporter struct {
	mu   sync.Mutex
	uri  string
	err  error
	jobs []string
}

func (f *fakeExporter) Export(_ context.Context, jobID string, _ []scraper.CreditRecord) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, jobID)
	return f.uri, f.err
}

type failingReporter struct{}

func (failingReporter) Deliver(context.Context, scraper.Job, []scraper.CreditRecord, int) (string, error) {
	return "", errors.New("chat unavailable")
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type harness struct {
	worker    *Worker
	store     *storememory.JobStore
	delivery  *memory.Delivery
	ledger    *ledger.Ledger
	publisher *pubmemory.Publisher
	extractor *fakeExtractor
	exporter  *fakeExporter
}

func newHarness(t *testing.T, fetcher scraper.Fetcher, records []scraper.CreditRecord) *harness {
	t.Helper()
	h := &harness{
		store:     storememory.NewJobStore(),
		delivery:  memory.New(),
		ledger:    ledger.New(100),
		publisher: pubmemory.New(),
		extractor: &fakeExtractor{records: records},
		exporter:  &fakeExporter{uri: "memory://exports/job/abc.csv"},
	}
	nav := report.NewNavigator(report.Config{NavTimeout: time.Minute}, h.delivery, zap.NewNop())
	h.worker = New(Deps{
		Fetcher:   fetcher,
		Extractor: h.extractor,
		Reporter:  nav,
		Delivery:  h.delivery,
		Ledger:    h.ledger,
		JobStore:  h.store,
		Exporter:  h.exporter,
		Publisher: h.publisher,
		Clock:     &fakeClock{now: time.Unix(100, 0).UTC()},
	}, Config{Topic: "job-outcomes"}, zap.NewNop())
	return h
}

// admit mirrors what the dispatcher does before handing a job to the worker.
func (h *harness) admit(t *testing.T, job scraper.Job) {
	t.Helper()
	require.NoError(t, h.store.CreateJob(context.Background(), job))
	require.True(t, h.ledger.Admit(job.Requester))
	require.NoError(t, h.store.UpdateJob(context.Background(), job.ID, scraper.JobUpdate{State: scraper.JobStateAdmitted}))
}

func records(n int) []scraper.CreditRecord {
	out := make([]scraper.CreditRecord, n)
	for i := range out {
		out[i] = scraper.CreditRecord{Subject: fmt.Sprintf("Track %d", i), Contributor: "Mike Dean", Handle: "mikedean"}
	}
	return out
}

func TestExecuteSuccessFlow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{doc: scraper.Document{SourceURL: "https://genius.com/albums/a/b"}}, records(3))
	job := scraper.Job{ID: "job-1", Requester: "alice", Query: "Astroworld Travis Scott"}
	h.admit(t, job)

	state := h.worker.Execute(context.Background(), job)
	require.Equal(t, scraper.JobStateDone, state)

	rec, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, []scraper.JobState{
		scraper.JobStateQueued,
		scraper.JobStateAdmitted,
		scraper.JobStateFetching,
		scraper.JobStateExtracting,
		scraper.JobStateDelivering,
		scraper.JobStateDone,
	}, rec.History)
	require.Equal(t, 3, rec.Records)
	require.NotEmpty(t, rec.ReportID)
	require.Equal(t, "memory://exports/job/abc.csv", rec.ExportURI)

	statuses := h.delivery.Statuses("alice")
	require.Len(t, statuses, 2)
	require.Contains(t, statuses[1], "Done: 3 credits found, 3 handles derived")
	require.Contains(t, statuses[1], "Credits left: 99")
	require.Contains(t, statuses[1], "memory://exports/job/abc.csv")

	require.Len(t, h.publisher.Messages(), 1)
	var event Event
	require.NoError(t, h.publisher.Decode(0, &event))
	require.Equal(t, scraper.JobStateDone, event.State)
	require.Equal(t, "job-1", event.JobID)
	require.Equal(t, "1970-01-01T00:01:40Z", event.Timestamp)
}

func TestExecuteNotFoundFailsWithFormattingHint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{err: &scraper.NotFoundError{Attempted: []string{"https://genius.com/albums/x/y"}}}, nil)
	job := scraper.Job{ID: "job-2", Requester: "bob", Query: "xyz"}
	h.admit(t, job)

	require.Equal(t, scraper.JobStateFailed, h.worker.Execute(context.Background(), job))
	require.Zero(t, h.extractor.calls)
	require.Equal(t, 99, h.ledger.Balance("bob"))

	rec, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStateFetching, rec.History[len(rec.History)-2])
	require.Contains(t, rec.Reason, "not found")
	require.Empty(t, rec.ReportID)

	statuses := h.delivery.Statuses("bob")
	require.Contains(t, statuses[len(statuses)-1], `"Artist - Album"`)
	require.Empty(t, h.delivery.ReportIDs("bob"))
}

func TestExecuteTransientFailsWithRetryHint(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{err: &scraper.TransientError{Cause: context.DeadlineExceeded}}, nil)
	job := scraper.Job{ID: "job-3", Requester: "carol", Query: "a - b"}
	h.admit(t, job)

	require.Equal(t, scraper.JobStateFailed, h.worker.Execute(context.Background(), job))
	statuses := h.delivery.Statuses("carol")
	require.Contains(t, statuses[len(statuses)-1], "try again later")
}

func TestExecuteEmptyResultIsDone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{doc: scraper.Document{}}, nil)
	job := scraper.Job{ID: "job-4", Requester: "dave", Query: "a - b"}
	h.admit(t, job)

	require.Equal(t, scraper.JobStateDone, h.worker.Execute(context.Background(), job))
	ids := h.delivery.ReportIDs("dave")
	require.Len(t, ids, 1)
	rep, err := h.delivery.Report(ids[0])
	require.NoError(t, err)
	require.Empty(t, rep.Page.Records)
	require.Empty(t, h.exporter.jobs)
}

func TestExecuteRecoversPanics(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{panic: true}, nil)
	job := scraper.Job{ID: "job-5", Requester: "erin", Query: "a - b"}
	h.admit(t, job)

	require.NotPanics(t, func() {
		require.Equal(t, scraper.JobStateFailed, h.worker.Execute(context.Background(), job))
	})
	rec, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, scraper.JobStateFailed, rec.State)
	require.True(t, strings.HasPrefix(rec.Reason, "internal error"))
}

func TestExecuteDeliveryFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{}, records(2))
	h.worker.reporter = failingReporter{}
	job := scraper.Job{ID: "job-6", Requester: "frank", Query: "a - b"}
	h.admit(t, job)

	require.Equal(t, scraper.JobStateFailed, h.worker.Execute(context.Background(), job))
	rec, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, 2, rec.Records)
	require.Contains(t, rec.Reason, "chat unavailable")
}

func TestExecuteExportFailureStillDone(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{}, records(1))
	h.exporter.err = errors.New("bucket gone")
	job := scraper.Job{ID: "job-7", Requester: "gina", Query: "a - b"}
	h.admit(t, job)

	require.Equal(t, scraper.JobStateDone, h.worker.Execute(context.Background(), job))
	rec, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Empty(t, rec.ExportURI)
}

func TestReject(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &fakeFetcher{panic: true}, nil)
	job := scraper.Job{ID: "job-8", Requester: "hank", Query: "a - b"}
	require.NoError(t, h.store.CreateJob(context.Background(), job))

	h.worker.Reject(context.Background(), job)

	rec, err := h.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	require.Equal(t, []scraper.JobState{scraper.JobStateQueued, scraper.JobStateRejected}, rec.History)
	require.Zero(t, h.extractor.calls)
	require.Contains(t, h.delivery.Statuses("hank")[0], "no credits left")

	var event Event
	require.NoError(t, h.publisher.Decode(0, &event))
	require.Equal(t, scraper.JobStateRejected, event.State)
}
