// Package memory implements an in-process delivery outbox. It backs the HTTP
// API and tests: reports and status messages are kept for inspection instead
// of being sent anywhere.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/JakeFAU/album-credits-bot/internal/report"
	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

// ErrReportNotFound is returned for unknown report IDs.
var ErrReportNotFound = errors.New("report not found")

// Report is the latest rendering of a delivered report.
type Report struct {
	ID          string       `json:"report_id"`
	Requester   string       `json:"requester"`
	Page        scraper.Page `json:"page"`
	Text        string       `json:"text"`
	Navigable   bool         `json:"navigable"`
	Renders     int          `json:"renders"`
	ClearedOnce bool         `json:"cleared"`
}

// Delivery implements scraper.Delivery in memory.
type Delivery struct {
	mu       sync.RWMutex
	reports  map[string]*Report
	statuses map[string][]string
	clears   map[string]int
}

var _ scraper.Delivery = (*Delivery)(nil)

// New returns an empty outbox.
func New() *Delivery {
	return &Delivery{
		reports:  make(map[string]*Report),
		statuses: make(map[string][]string),
		clears:   make(map[string]int),
	}
}

// SendStatus records a status line for requester.
func (d *Delivery) SendStatus(_ context.Context, requester string, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses[requester] = append(d.statuses[requester], text)
	return nil
}

// SendReport stores the first page under a new report ID.
func (d *Delivery) SendReport(_ context.Context, page scraper.Page) (string, error) {
	id := uuid.NewString()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reports[id] = &Report{
		ID:        id,
		Requester: page.Requester,
		Page:      page,
		Text:      report.Format(page),
		Renders:   1,
	}
	return id, nil
}

// UpdateReport replaces the displayed page.
func (d *Delivery) UpdateReport(_ context.Context, reportID string, page scraper.Page) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.reports[reportID]
	if !ok {
		return ErrReportNotFound
	}
	r.Page = page
	r.Text = report.Format(page)
	r.Renders++
	return nil
}

// AttachNavigation marks the report as navigable.
func (d *Delivery) AttachNavigation(_ context.Context, reportID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.reports[reportID]
	if !ok {
		return ErrReportNotFound
	}
	r.Navigable = true
	return nil
}

// ClearNavigation removes the navigation affordances.
func (d *Delivery) ClearNavigation(_ context.Context, reportID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.reports[reportID]
	if !ok {
		return ErrReportNotFound
	}
	r.Navigable = false
	r.ClearedOnce = true
	d.clears[reportID]++
	return nil
}

// Report returns a copy of the stored report.
func (d *Delivery) Report(reportID string) (Report, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	r, ok := d.reports[reportID]
	if !ok {
		return Report{}, ErrReportNotFound
	}
	return *r, nil
}

// Statuses returns the status lines sent to requester.
func (d *Delivery) Statuses(requester string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.statuses[requester]...)
}

// Clears returns how many times navigation was cleared for reportID.
func (d *Delivery) Clears(reportID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clears[reportID]
}

// ReportIDs returns the IDs of every report delivered to requester.
func (d *Delivery) ReportIDs(requester string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var ids []string
	for id, r := range d.reports {
		if r.Requester == requester {
			ids = append(ids, id)
		}
	}
	return ids
}
