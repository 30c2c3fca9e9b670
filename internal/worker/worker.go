// Package worker executes one admitted credits job through fetch, extraction
// and delivery, recording every state transition.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/album-credits-bot/internal/metrics"
	"github.com/JakeFAU/album-credits-bot/internal/report"
	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

// Exporter writes a job's records somewhere durable and returns a URI.
type Exporter interface {
	Export(ctx context.Context, jobID string, records []scraper.CreditRecord) (string, error)
}

// Config controls Worker behavior.
type Config struct {
	// Topic receives one outcome event per terminal job. Empty disables events.
	Topic string
}

// Event is published when a job reaches a terminal state.
type Event struct {
	JobID     string           `json:"job_id"`
	Requester string           `json:"requester"`
	Query     string           `json:"query"`
	State     scraper.JobState `json:"state"`
	Reason    string           `json:"reason,omitempty"`
	Records   int              `json:"records"`
	ReportID  string           `json:"report_id,omitempty"`
	ExportURI string           `json:"export_uri,omitempty"`
	Timestamp string           `json:"timestamp"`
}

// Worker runs the per-job pipeline.
type Worker struct {
	fetcher   scraper.Fetcher
	extractor scraper.Extractor
	reporter  scraper.Reporter
	delivery  scraper.Delivery
	ledger    scraper.Ledger
	jobStore  scraper.JobStore
	exporter  Exporter
	publisher scraper.Publisher
	clock     scraper.Clock
	cfg       Config
	logger    *zap.Logger
}

// Deps groups the collaborators of a Worker. Exporter and Publisher are optional.
type Deps struct {
	Fetcher   scraper.Fetcher
	Extractor scraper.Extractor
	Reporter  scraper.Reporter
	Delivery  scraper.Delivery
	Ledger    scraper.Ledger
	JobStore  scraper.JobStore
	Exporter  Exporter
	Publisher scraper.Publisher
	Clock     scraper.Clock
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		fetcher:   deps.Fetcher,
		extractor: deps.Extractor,
		reporter:  deps.Reporter,
		delivery:  deps.Delivery,
		ledger:    deps.Ledger,
		jobStore:  deps.JobStore,
		exporter:  deps.Exporter,
		publisher: deps.Publisher,
		clock:     deps.Clock,
		cfg:       cfg,
		logger:    logger.Named("worker"),
	}
}

// outcome is the terminal result of one execution.
type outcome struct {
	state     scraper.JobState
	reason    string
	records   int
	reportID  string
	exportURI string
}

// Execute runs an admitted job to a terminal state. It never panics: a panic
// in any stage is recorded as a failure.
func (w *Worker) Execute(ctx context.Context, job scraper.Job) (state scraper.JobState) {
	logger := w.logger.With(zap.String("job_id", job.ID), zap.String("requester", job.Requester))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("job panicked", zap.Any("panic", rec), zap.Stack("stack"))
			state = w.finish(ctx, job, outcome{
				state:  scraper.JobStateFailed,
				reason: fmt.Sprintf("internal error: %v", rec),
			}, "Something went wrong while processing your request. Please try again.")
		}
	}()

	w.transition(ctx, job, scraper.JobStateFetching)
	w.status(ctx, job.Requester, fmt.Sprintf("Looking up credits for %q...", displayQuery(job.Query)))

	doc, err := w.fetcher.Fetch(ctx, job.Query)
	if err != nil {
		logger.Info("fetch failed", zap.Error(err))
		return w.finish(ctx, job, outcome{state: scraper.JobStateFailed, reason: err.Error()}, failureMessage(job, err))
	}
	logger.Debug("document fetched", zap.String("url", doc.SourceURL), zap.String("strategy", doc.Strategy))

	w.transition(ctx, job, scraper.JobStateExtracting)
	records := w.extractor.Extract(doc)

	w.transition(ctx, job, scraper.JobStateDelivering)
	balance := w.ledger.Balance(job.Requester)
	reportID, err := w.reporter.Deliver(ctx, job, records, balance)
	if err != nil {
		logger.Error("delivery failed", zap.Error(err))
		return w.finish(ctx, job, outcome{
			state:    scraper.JobStateFailed,
			reason:   err.Error(),
			records:  len(records),
			reportID: reportID,
		}, "The report could not be delivered. Please try again later.")
	}

	exportURI := w.export(ctx, job, records, logger)
	summary := fmt.Sprintf("Done: %d credits found, %d handles derived (unverified). Credits left: %d.",
		len(records), report.HandleCount(records), balance)
	if exportURI != "" {
		summary += " CSV: " + exportURI
	}
	return w.finish(ctx, job, outcome{
		state:     scraper.JobStateDone,
		records:   len(records),
		reportID:  reportID,
		exportURI: exportURI,
	}, summary)
}

// Reject records a job denied at admission. No fetch or extraction happens.
func (w *Worker) Reject(ctx context.Context, job scraper.Job) {
	metrics.ObserveLedgerDenial()
	w.finish(ctx, job, outcome{
		state:  scraper.JobStateRejected,
		reason: scraper.ErrAdmissionDenied.Error(),
	}, "You have no credits left, so this request was not processed.")
}

func (w *Worker) export(ctx context.Context, job scraper.Job, records []scraper.CreditRecord, logger *zap.Logger) string {
	if w.exporter == nil || len(records) == 0 {
		return ""
	}
	uri, err := w.exporter.Export(ctx, job.ID, records)
	if err != nil {
		logger.Warn("export failed", zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) transition(ctx context.Context, job scraper.Job, state scraper.JobState) {
	if err := w.jobStore.UpdateJob(ctx, job.ID, scraper.JobUpdate{State: state}); err != nil {
		w.logger.Warn("update job state failed",
			zap.String("job_id", job.ID),
			zap.String("state", string(state)),
			zap.Error(err),
		)
	}
}

// finish records the terminal state, tells the requester and publishes the event.
func (w *Worker) finish(ctx context.Context, job scraper.Job, out outcome, message string) scraper.JobState {
	if err := w.jobStore.UpdateJob(ctx, job.ID, scraper.JobUpdate{
		State:     out.state,
		Reason:    out.reason,
		Records:   out.records,
		ReportID:  out.reportID,
		ExportURI: out.exportURI,
	}); err != nil {
		w.logger.Warn("final job update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	metrics.ObserveJob(string(out.state))
	w.status(ctx, job.Requester, message)
	w.publish(ctx, job, out)
	w.logger.Info("job finished",
		zap.String("job_id", job.ID),
		zap.String("requester", job.Requester),
		zap.String("state", string(out.state)),
		zap.Int("records", out.records),
	)
	return out.state
}

func (w *Worker) status(ctx context.Context, requester, text string) {
	if w.delivery == nil {
		return
	}
	if err := w.delivery.SendStatus(ctx, requester, text); err != nil {
		w.logger.Warn("send status failed", zap.String("requester", requester), zap.Error(err))
	}
}

func (w *Worker) publish(ctx context.Context, job scraper.Job, out outcome) {
	if w.publisher == nil || w.cfg.Topic == "" {
		return
	}
	event := Event{
		JobID:     job.ID,
		Requester: job.Requester,
		Query:     job.Query,
		State:     out.state,
		Reason:    out.reason,
		Records:   out.records,
		ReportID:  out.reportID,
		ExportURI: out.exportURI,
		Timestamp: w.now().Format(time.RFC3339),
	}
	if _, err := w.publisher.Publish(ctx, w.cfg.Topic, event); err != nil {
		w.logger.Warn("publish outcome failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}

func failureMessage(job scraper.Job, err error) string {
	var transient *scraper.TransientError
	if errors.As(err, &transient) {
		return "The credits source could not be reached. Please try again later."
	}
	return fmt.Sprintf("No album found for %q. Try the format \"Artist - Album\", for example \"Travis Scott - Astroworld\".",
		displayQuery(job.Query))
}

func displayQuery(q string) string {
	if q == "" {
		return "the default album"
	}
	return q
}
