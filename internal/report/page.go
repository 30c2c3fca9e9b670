// Package report paginates credit records and runs the interactive
// navigation sessions attached to delivered reports.
package report

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/JakeFAU/album-credits-bot/internal/extractor"
	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

// DefaultPageSize is the number of records per page.
const DefaultPageSize = 20

// Paginate splits records into pages of size. Zero records yield a single
// empty page so that an empty result is still delivered.
func Paginate(records []scraper.CreditRecord, size int, requester string, balance int) []scraper.Page {
	if size <= 0 {
		size = DefaultPageSize
	}
	chunks := lo.Chunk(records, size)
	if len(chunks) == 0 {
		chunks = [][]scraper.CreditRecord{{}}
	}
	pages := make([]scraper.Page, len(chunks))
	for i, chunk := range chunks {
		pages[i] = scraper.Page{
			Index:     i + 1,
			Total:     len(chunks),
			Requester: requester,
			Balance:   balance,
			Records:   chunk,
		}
	}
	return pages
}

// Format renders a page as plain text.
func Format(page scraper.Page) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Producer credits, page %d/%d (credits left: %d)\n", page.Index, page.Total, page.Balance)
	if len(page.Records) == 0 {
		b.WriteString("\nNo producer credits found.\n")
		return b.String()
	}
	b.WriteString("\n")
	for i, rec := range page.Records {
		handle := rec.Handle
		if handle != extractor.UnknownHandle {
			handle = "@" + handle
		}
		fmt.Fprintf(&b, "%d. %s: %s (%s)\n", i+1, rec.Subject, rec.Contributor, handle)
	}
	b.WriteString("\nHandles are guessed from names and have not been verified.\n")
	return b.String()
}

// HandleCount returns how many records carry a derived handle.
func HandleCount(records []scraper.CreditRecord) int {
	return lo.CountBy(records, func(r scraper.CreditRecord) bool {
		return r.Handle != "" && r.Handle != extractor.UnknownHandle
	})
}
