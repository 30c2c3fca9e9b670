package report

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/album-credits-bot/internal/metrics"
	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

// DefaultNavTimeout is the idle lifetime of a navigation session.
const DefaultNavTimeout = 150 * time.Second

const clearTimeout = 10 * time.Second

// Config controls pagination and session lifetime.
type Config struct {
	PageSize   int
	NavTimeout time.Duration
}

// Navigator delivers reports and owns their navigation sessions.
type Navigator struct {
	cfg      Config
	delivery scraper.Delivery
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

var _ scraper.Reporter = (*Navigator)(nil)

// session tracks the displayed page of one multi-page report. Only the
// goroutine started by open reads or writes index.
type session struct {
	reportID  string
	requester string
	pages     []scraper.Page
	index     int
	events    chan scraper.Direction
	done      chan struct{}
}

// NewNavigator builds a Navigator.
func NewNavigator(cfg Config, delivery scraper.Delivery, logger *zap.Logger) *Navigator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = DefaultNavTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{
		cfg:      cfg,
		delivery: delivery,
		logger:   logger.Named("navigator"),
		sessions: make(map[string]*session),
	}
}

// Deliver sends the first page and, for multi-page reports, opens a
// navigation session that lives until its idle timeout or until ctx ends.
func (n *Navigator) Deliver(
	ctx context.Context,
	job scraper.Job,
	records []scraper.CreditRecord,
	balance int,
) (string, error) {
	pages := Paginate(records, n.cfg.PageSize, job.Requester, balance)
	reportID, err := n.delivery.SendReport(ctx, pages[0])
	if err != nil {
		return "", fmt.Errorf("send report: %w", err)
	}
	if len(pages) == 1 {
		return reportID, nil
	}
	if err := n.delivery.AttachNavigation(ctx, reportID); err != nil {
		return reportID, fmt.Errorf("attach navigation: %w", err)
	}

	s := &session{
		reportID:  reportID,
		requester: job.Requester,
		pages:     pages,
		events:    make(chan scraper.Direction),
		done:      make(chan struct{}),
	}
	n.mu.Lock()
	n.sessions[reportID] = s
	n.mu.Unlock()

	metrics.IncNavigationSessions()
	n.wg.Add(1)
	go n.run(ctx, s)

	n.logger.Debug("navigation session opened",
		zap.String("report_id", reportID),
		zap.String("job_id", job.ID),
		zap.Int("pages", len(pages)),
	)
	return reportID, nil
}

// Navigate hands an event to the matching session. It returns false when no
// live session exists for the report or the event comes from someone other
// than the original requester; such events are dropped.
func (n *Navigator) Navigate(ctx context.Context, ev scraper.NavigationEvent) bool {
	if ev.Direction != scraper.DirectionNext && ev.Direction != scraper.DirectionPrev {
		return false
	}
	n.mu.Lock()
	s, ok := n.sessions[ev.ReportID]
	n.mu.Unlock()
	if !ok || s.requester != ev.Requester {
		return false
	}

	select {
	case s.events <- ev.Direction:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Open reports whether a session is live for reportID.
func (n *Navigator) Open(reportID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.sessions[reportID]
	return ok
}

// Wait blocks until every session has ended.
func (n *Navigator) Wait() {
	n.wg.Wait()
}

func (n *Navigator) run(ctx context.Context, s *session) {
	defer n.wg.Done()
	defer n.close(ctx, s)

	timer := time.NewTimer(n.cfg.NavTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			n.logger.Debug("navigation session expired", zap.String("report_id", s.reportID))
			return
		case dir := <-s.events:
			n.apply(ctx, s, dir)
			timer.Reset(n.cfg.NavTimeout)
		}
	}
}

// apply clamps the index and re-renders only when it moved.
func (n *Navigator) apply(ctx context.Context, s *session, dir scraper.Direction) {
	next := s.index
	switch dir {
	case scraper.DirectionNext:
		next = min(s.index+1, len(s.pages)-1)
	case scraper.DirectionPrev:
		next = max(s.index-1, 0)
	}
	if next == s.index {
		return
	}
	s.index = next
	if err := n.delivery.UpdateReport(ctx, s.reportID, s.pages[next]); err != nil {
		n.logger.Warn("update report failed", zap.String("report_id", s.reportID), zap.Error(err))
	}
}

// close tears the session down exactly once: it stops accepting events,
// removes the subscription and clears the affordances.
func (n *Navigator) close(ctx context.Context, s *session) {
	close(s.done)
	n.mu.Lock()
	delete(n.sessions, s.reportID)
	n.mu.Unlock()
	metrics.DecNavigationSessions()

	clearCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), clearTimeout)
	defer cancel()
	if err := n.delivery.ClearNavigation(clearCtx, s.reportID); err != nil {
		n.logger.Warn("clear navigation failed", zap.String("report_id", s.reportID), zap.Error(err))
	}
}
