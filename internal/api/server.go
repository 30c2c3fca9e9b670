package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-credits-bot/internal/delivery/memory"
	"github.com/JakeFAU/album-credits-bot/internal/dispatcher"
	"github.com/JakeFAU/album-credits-bot/internal/metrics"
	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

const defaultRequestTimeout = 60 * time.Second

// Submitter enqueues jobs and reports pool occupancy.
type Submitter interface {
	Submit(ctx context.Context, requester, query string) (scraper.Job, int, error)
	Status() scraper.PoolStatus
}

// Navigator routes navigation events to report sessions.
type Navigator interface {
	Navigate(ctx context.Context, ev scraper.NavigationEvent) bool
}

// CreditLedger reads and overrides credit balances.
type CreditLedger interface {
	Balance(requester string) int
	Set(requester string, balance int)
}

// ReportReader returns the current rendering of a delivered report.
type ReportReader interface {
	Report(reportID string) (memory.Report, error)
}

// ReadinessCheck reports whether a downstream dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Deps groups the collaborators of a Server. Reports, Webhook and Checks are
// optional.
type Deps struct {
	Submitter Submitter
	JobStore  scraper.JobStore
	Ledger    CreditLedger
	Navigator Navigator
	Reports   ReportReader
	Webhook   http.Handler
	Checks    map[string]ReadinessCheck
}

// Config controls HTTP behavior.
type Config struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the dispatcher, ledger and navigator.
type Server struct {
	router    chi.Router
	submitter Submitter
	jobStore  scraper.JobStore
	ledger    CreditLedger
	navigator Navigator
	reports   ReportReader
	checks    map[string]ReadinessCheck
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		submitter: deps.Submitter,
		jobStore:  deps.JobStore,
		ledger:    deps.Ledger,
		navigator: deps.Navigator,
		reports:   deps.Reports,
		checks:    deps.Checks,
		logger:    logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.submitJob)
		r.Get("/jobs/{job_id}", s.getJob)
		r.Get("/credits/{requester}", s.getCredits)
		r.Put("/credits/{requester}", s.setCredits)
		r.Get("/pool", s.getPool)
		r.Get("/reports/{report_id}", s.getReport)
		r.Post("/reports/{report_id}/navigate", s.navigate)
	})

	if deps.Webhook != nil {
		r.Method(http.MethodPost, "/telegram/webhook", deps.Webhook)
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failures": failures})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type submitJobRequest struct {
	Requester string `json:"requester"`
	Query     string `json:"query"`
}

type submitJobResponse struct {
	JobID    string `json:"job_id"`
	Position int    `json:"position"`
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	job, position, err := s.submitter.Submit(r.Context(), req.Requester, req.Query)
	if err != nil {
		switch {
		case errors.Is(err, dispatcher.ErrMissingRequester):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, scraper.ErrQueueFull), errors.Is(err, scraper.ErrQueueClosed):
			writeError(w, http.StatusServiceUnavailable, err.Error())
		default:
			s.logger.Error("submit job failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to submit job")
		}
		return
	}
	writeJSON(w, http.StatusAccepted, submitJobResponse{JobID: job.ID, Position: position})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	rec, err := s.jobStore.GetJob(r.Context(), chi.URLParam(r, "job_id"))
	if err != nil {
		if errors.Is(err, scraper.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getCredits(w http.ResponseWriter, r *http.Request) {
	requester := chi.URLParam(r, "requester")
	writeJSON(w, http.StatusOK, map[string]any{
		"requester": requester,
		"balance":   s.ledger.Balance(requester),
	})
}

type setCreditsRequest struct {
	Balance *int `json:"balance"`
}

// setCredits is the operator top-up hook. Balances are floored at zero.
func (s *Server) setCredits(w http.ResponseWriter, r *http.Request) {
	var req setCreditsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Balance == nil {
		writeError(w, http.StatusBadRequest, "balance is required")
		return
	}
	if *req.Balance < 0 {
		writeError(w, http.StatusBadRequest, "balance must be >= 0")
		return
	}
	requester := chi.URLParam(r, "requester")
	s.ledger.Set(requester, *req.Balance)
	s.logger.Info("credits set", zap.String("requester", requester), zap.Int("balance", *req.Balance))
	writeJSON(w, http.StatusOK, map[string]any{
		"requester": requester,
		"balance":   s.ledger.Balance(requester),
	})
}

func (s *Server) getPool(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.submitter.Status())
}

func (s *Server) getReport(w http.ResponseWriter, r *http.Request) {
	if s.reports == nil {
		writeError(w, http.StatusNotFound, "report rendering not available")
		return
	}
	rep, err := s.reports.Report(chi.URLParam(r, "report_id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

type navigateRequest struct {
	Requester string `json:"requester"`
	Direction string `json:"direction"`
}

func (s *Server) navigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	dir := scraper.Direction(strings.ToLower(strings.TrimSpace(req.Direction)))
	if dir != scraper.DirectionNext && dir != scraper.DirectionPrev {
		writeError(w, http.StatusBadRequest, "direction must be next or prev")
		return
	}
	accepted := s.navigator.Navigate(r.Context(), scraper.NavigationEvent{
		ReportID:  chi.URLParam(r, "report_id"),
		Requester: req.Requester,
		Direction: dir,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": accepted})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
