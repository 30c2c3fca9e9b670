// Package dispatcher owns the admission loop that moves queued jobs into the
// bounded worker pool.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/album-credits-bot/internal/metrics"
	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

const (
	// DefaultMaxConcurrent bounds simultaneously executing jobs.
	DefaultMaxConcurrent = 4
	// DefaultPollInterval is the fallback wake-up of the admission loop.
	DefaultPollInterval = time.Second
)

// ErrMissingRequester is returned by Submit when no requester is given.
var ErrMissingRequester = errors.New("requester is required")

// Executor runs admitted jobs and reports rejected ones.
type Executor interface {
	Execute(ctx context.Context, job scraper.Job) scraper.JobState
	Reject(ctx context.Context, job scraper.Job)
}

// Config controls pool sizing.
type Config struct {
	MaxConcurrent int
	PollInterval  time.Duration
}

// Deps groups the collaborators of a Dispatcher. Delivery is optional.
type Deps struct {
	Queue    scraper.Queue
	Ledger   scraper.Ledger
	JobStore scraper.JobStore
	Executor Executor
	Delivery scraper.Delivery
	IDs      scraper.IDGenerator
	Clock    scraper.Clock
}

// Stats are cumulative admission counters.
type Stats struct {
	Admitted int64 `json:"admitted"`
	Rejected int64 `json:"rejected"`
	Released int64 `json:"released"`
}

// Dispatcher admits queued jobs in FIFO order while fewer than MaxConcurrent
// are executing. Only the Run goroutine increments the active counter.
type Dispatcher struct {
	cfg      Config
	queue    scraper.Queue
	ledger   scraper.Ledger
	store    scraper.JobStore
	exec     Executor
	delivery scraper.Delivery
	ids      scraper.IDGenerator
	clock    scraper.Clock
	logger   *zap.Logger

	active   atomic.Int64
	admitted atomic.Int64
	rejected atomic.Int64
	released atomic.Int64
	slotFree chan struct{}
	wg       sync.WaitGroup
}

// New creates a Dispatcher.
func New(deps Deps, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:      cfg,
		queue:    deps.Queue,
		ledger:   deps.Ledger,
		store:    deps.JobStore,
		exec:     deps.Executor,
		delivery: deps.Delivery,
		ids:      deps.IDs,
		clock:    deps.Clock,
		logger:   logger.Named("dispatcher"),
		slotFree: make(chan struct{}, 1),
	}
}

// Submit records and enqueues a new job for requester. The returned position
// is 1-based.
func (d *Dispatcher) Submit(ctx context.Context, requester, query string) (scraper.Job, int, error) {
	requester = strings.TrimSpace(requester)
	if requester == "" {
		return scraper.Job{}, 0, ErrMissingRequester
	}
	id, err := d.ids.NewID()
	if err != nil {
		return scraper.Job{}, 0, fmt.Errorf("generate job id: %w", err)
	}
	job := scraper.Job{
		ID:         id,
		Requester:  requester,
		Query:      strings.TrimSpace(query),
		EnqueuedAt: d.now(),
	}
	if err := d.store.CreateJob(ctx, job); err != nil {
		return scraper.Job{}, 0, fmt.Errorf("create job: %w", err)
	}
	position, err := d.queue.Enqueue(ctx, job)
	if err != nil {
		return scraper.Job{}, 0, fmt.Errorf("enqueue job: %w", err)
	}
	metrics.SetQueueDepth(d.queue.Len())
	d.logger.Info("job queued",
		zap.String("job_id", job.ID),
		zap.String("requester", job.Requester),
		zap.Int("position", position),
	)
	if d.delivery != nil {
		if err := d.delivery.SendStatus(ctx, requester, fmt.Sprintf("Queued at position %d.", position)); err != nil {
			d.logger.Warn("send queued status failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return job, position, nil
}

// Run drives admission until ctx is done, then waits for in-flight jobs.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", zap.Int("max_concurrent", d.cfg.MaxConcurrent))
	for {
		d.admit(ctx)
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping", zap.Int64("active", d.active.Load()))
			d.wg.Wait()
			return
		case <-d.queue.Ready():
		case <-d.slotFree:
		case <-ticker.C:
		}
	}
}

// Status reports pool occupancy.
func (d *Dispatcher) Status() scraper.PoolStatus {
	return scraper.PoolStatus{
		Active: int(d.active.Load()),
		Queued: d.queue.Len(),
	}
}

// Stats returns cumulative counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Admitted: d.admitted.Load(),
		Rejected: d.rejected.Load(),
		Released: d.released.Load(),
	}
}

// admit pulls jobs while a slot is free. A denied job takes no slot and the
// loop moves on to the next one.
func (d *Dispatcher) admit(ctx context.Context) {
	for ctx.Err() == nil && d.active.Load() < int64(d.cfg.MaxConcurrent) {
		job, ok := d.queue.TryDequeue()
		if !ok {
			return
		}
		metrics.SetQueueDepth(d.queue.Len())

		if !d.ledger.Admit(job.Requester) {
			d.rejected.Add(1)
			d.logger.Info("job rejected", zap.String("job_id", job.ID), zap.String("requester", job.Requester))
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.exec.Reject(ctx, job)
			}()
			continue
		}

		d.active.Add(1)
		d.admitted.Add(1)
		metrics.IncActiveJobs()
		if err := d.store.UpdateJob(ctx, job.ID, scraper.JobUpdate{State: scraper.JobStateAdmitted}); err != nil {
			d.logger.Warn("record admission failed", zap.String("job_id", job.ID), zap.Error(err))
		}

		d.wg.Add(1)
		go d.execute(ctx, job, sync.OnceFunc(d.release))
	}
}

func (d *Dispatcher) execute(ctx context.Context, job scraper.Job, release func()) {
	defer d.wg.Done()
	defer release()
	defer func() {
		if rec := recover(); rec != nil {
			d.logger.Error("executor panicked", zap.String("job_id", job.ID), zap.Any("panic", rec))
			update := scraper.JobUpdate{State: scraper.JobStateFailed, Reason: fmt.Sprintf("internal error: %v", rec)}
			if err := d.store.UpdateJob(context.WithoutCancel(ctx), job.ID, update); err != nil {
				d.logger.Warn("record panicked job failed", zap.String("job_id", job.ID), zap.Error(err))
			}
		}
	}()
	d.exec.Execute(ctx, job)
}

func (d *Dispatcher) release() {
	d.active.Add(-1)
	d.released.Add(1)
	metrics.DecActiveJobs()
	select {
	case d.slotFree <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) now() time.Time {
	if d.clock == nil {
		return time.Now().UTC()
	}
	return d.clock.Now()
}
