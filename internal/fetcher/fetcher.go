// Package fetcher resolves a free-text album query to a usable document by
// walking candidate URLs through an ordered chain of retrieval strategies.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/JakeFAU/album-credits-bot/internal/fetcher/detector"
	"github.com/JakeFAU/album-credits-bot/internal/metrics"
	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

// StrategyCache names documents served from the document cache.
const StrategyCache = "cache"

// Defaults applied by New when a Config field is zero.
const (
	DefaultAlbumURLTemplate  = "https://genius.com/albums/%s/%s"
	DefaultSearchURLTemplate = "https://html.duckduckgo.com/html/?q=%s"
	DefaultResultLinkPattern = "genius.com/albums/"
	DefaultDefaultQuery      = "Astroworld Travis Scott"
	DefaultAttemptTimeout    = 15 * time.Second
	DefaultMaxCandidates     = 24
)

// Config controls candidate derivation and attempt bounds.
type Config struct {
	AlbumURLTemplate  string
	SearchURLTemplate string
	ResultLinkPattern string
	DefaultQuery      string
	AttemptTimeout    time.Duration
	MaxCandidates     int
}

// Service implements scraper.Fetcher.
type Service struct {
	cfg      Config
	plain    scraper.Retriever
	headless scraper.Retriever
	detector *detector.Heuristic
	cache    scraper.DocumentCache
	logger   *zap.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithHeadless enables browser escalation for challenge pages.
func WithHeadless(r scraper.Retriever) Option {
	return func(s *Service) { s.headless = r }
}

// WithCache serves and stores usable documents through c.
func WithCache(c scraper.DocumentCache) Option {
	return func(s *Service) { s.cache = c }
}

// New builds a fetch service around the plain retriever.
func New(cfg Config, plain scraper.Retriever, det *detector.Heuristic, logger *zap.Logger, opts ...Option) *Service {
	if cfg.AlbumURLTemplate == "" {
		cfg.AlbumURLTemplate = DefaultAlbumURLTemplate
	}
	if cfg.ResultLinkPattern == "" {
		cfg.ResultLinkPattern = DefaultResultLinkPattern
	}
	if cfg.DefaultQuery == "" {
		cfg.DefaultQuery = DefaultDefaultQuery
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	if det == nil {
		det = detector.NewHeuristic(0, nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		cfg:      cfg,
		plain:    plain,
		detector: det,
		logger:   logger.Named("fetcher"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// attempts accumulates the outcome of every retrieval made for one query.
type attempts struct {
	urls      []string
	total     int
	transport int
	lastErr   error
}

func (a *attempts) visit(u string) {
	a.urls = append(a.urls, u)
}

func (a *attempts) fail(err error) {
	a.total++
	a.transport++
	a.lastErr = err
}

func (a *attempts) reject() {
	a.total++
}

func (a *attempts) result() error {
	if a.total > 0 && a.transport == a.total {
		return &scraper.TransientError{Cause: a.lastErr}
	}
	return &scraper.NotFoundError{Attempted: a.urls}
}

// Fetch tries every candidate in order, then one search-discovery step.
func (s *Service) Fetch(ctx context.Context, query string) (scraper.Document, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		query = s.cfg.DefaultQuery
	}
	logger := s.logger.With(zap.String("query", query))

	var tried attempts
	for _, target := range Candidates(query, s.cfg.AlbumURLTemplate, s.cfg.MaxCandidates) {
		if err := ctx.Err(); err != nil {
			return scraper.Document{}, &scraper.TransientError{Cause: err}
		}
		if doc, ok := s.tryTarget(ctx, target, &tried); ok {
			logger.Info("document found", zap.String("url", doc.SourceURL), zap.String("strategy", doc.Strategy))
			return doc, nil
		}
	}

	if target, ok := s.discover(ctx, query, &tried); ok && !lo.Contains(tried.urls, target) {
		if doc, ok := s.tryTarget(ctx, target, &tried); ok {
			logger.Info("document found via search", zap.String("url", doc.SourceURL))
			return doc, nil
		}
	}

	err := tried.result()
	logger.Info("fetch exhausted", zap.Int("attempts", tried.total), zap.Error(err))
	return scraper.Document{}, err
}

// tryTarget runs the strategy chain for one URL.
func (s *Service) tryTarget(ctx context.Context, target string, tried *attempts) (scraper.Document, bool) {
	tried.visit(target)
	if doc, ok := s.fromCache(ctx, target); ok {
		return doc, true
	}

	verdict, doc, ok := s.attempt(ctx, s.plain, target, tried)
	if ok {
		s.toCache(ctx, target, doc.Content)
		return doc, true
	}
	if s.headless == nil || !s.detector.ShouldEscalate(verdict) {
		return scraper.Document{}, false
	}
	s.logger.Debug("escalating to headless", zap.String("url", target), zap.String("verdict", string(verdict)))
	_, doc, ok = s.attempt(ctx, s.headless, target, tried)
	if ok {
		s.toCache(ctx, target, doc.Content)
	}
	return doc, ok
}

// attempt performs one time-bounded retrieval and classifies the payload.
// A transport failure yields an empty verdict.
func (s *Service) attempt(
	ctx context.Context,
	r scraper.Retriever,
	target string,
	tried *attempts,
) (detector.Verdict, scraper.Document, bool) {
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	resp, err := r.Retrieve(attemptCtx, target)
	if err != nil {
		tried.fail(fmt.Errorf("%s %s: %w", r.Name(), target, err))
		metrics.ObserveFetchAttempt(target, r.Name(), "transport_error", 0)
		s.logger.Debug("attempt failed", zap.String("url", target), zap.String("strategy", r.Name()), zap.Error(err))
		return "", scraper.Document{}, false
	}

	verdict := s.detector.Classify(resp)
	metrics.ObserveFetchAttempt(target, r.Name(), string(verdict), len(resp.Body))
	if verdict != detector.VerdictUsable {
		tried.reject()
		return verdict, scraper.Document{}, false
	}
	tried.total++
	source := resp.URL
	if source == "" {
		source = target
	}
	return verdict, scraper.Document{SourceURL: source, Content: resp.Body, Strategy: r.Name()}, true
}

// discover fetches the search results page and returns the first album link.
func (s *Service) discover(ctx context.Context, query string, tried *attempts) (string, bool) {
	if s.cfg.SearchURLTemplate == "" {
		return "", false
	}
	searchURL := fmt.Sprintf(s.cfg.SearchURLTemplate, url.QueryEscape(query))
	tried.visit(searchURL)

	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()
	resp, err := s.plain.Retrieve(attemptCtx, searchURL)
	if err != nil {
		tried.fail(fmt.Errorf("search %s: %w", searchURL, err))
		metrics.ObserveFetchAttempt(searchURL, s.plain.Name(), "transport_error", 0)
		return "", false
	}
	tried.reject()
	metrics.ObserveFetchAttempt(searchURL, s.plain.Name(), "search", len(resp.Body))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false
	}

	link, err := firstResultLink(resp.Body, searchURL, s.cfg.ResultLinkPattern)
	if err != nil {
		s.logger.Debug("search results unreadable", zap.Error(err))
		return "", false
	}
	return link, link != ""
}

// firstResultLink returns the first anchor target containing pattern.
// Redirect wrappers carrying the destination in a uddg parameter are unwrapped.
func firstResultLink(body []byte, base, pattern string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse search results: %w", err)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse search url: %w", err)
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		href, _ := sel.Attr("href")
		target := unwrapResultLink(baseURL, href)
		if target != "" && strings.Contains(target, pattern) {
			found = target
			return false
		}
		return true
	})
	return found, nil
}

func unwrapResultLink(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(ref)
	if dest := abs.Query().Get("uddg"); dest != "" {
		return dest
	}
	return abs.String()
}

func (s *Service) fromCache(ctx context.Context, target string) (scraper.Document, bool) {
	if s.cache == nil {
		return scraper.Document{}, false
	}
	body, ok, err := s.cache.Get(ctx, target)
	if err != nil {
		s.logger.Warn("cache read failed", zap.String("url", target), zap.Error(err))
		return scraper.Document{}, false
	}
	if !ok {
		return scraper.Document{}, false
	}
	metrics.ObserveFetchAttempt(target, StrategyCache, string(detector.VerdictUsable), len(body))
	return scraper.Document{SourceURL: target, Content: body, Strategy: StrategyCache}, true
}

// toCache stores body under the candidate URL so later lookups for the same
// candidate hit even when the retrieval was redirected.
func (s *Service) toCache(ctx context.Context, target string, body []byte) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, target, body); err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Warn("cache write failed", zap.String("url", target), zap.Error(err))
	}
}
