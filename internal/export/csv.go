// Package export renders credit records as CSV and writes them to a blob store.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/JakeFAU/album-credits-bot/internal/scraper"
)

// ContentType is the MIME type of exported reports.
const ContentType = "text/csv; charset=utf-8"

var header = []string{"Track", "Producer", "Handle"}

// Encode renders records with a header row.
func Encode(records []scraper.CreditRecord) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, rec := range records {
		if err := w.Write([]string{rec.Subject, rec.Contributor, rec.Handle}); err != nil {
			return nil, fmt.Errorf("write record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// Exporter writes a job's records under prefix/jobID/<digest>.csv.
type Exporter struct {
	store  scraper.BlobStore
	hasher scraper.Hasher
	prefix string
}

// New builds an Exporter.
func New(store scraper.BlobStore, hasher scraper.Hasher, prefix string) *Exporter {
	return &Exporter{store: store, hasher: hasher, prefix: strings.Trim(prefix, "/")}
}

// Export encodes and uploads records, returning the object URI.
func (e *Exporter) Export(ctx context.Context, jobID string, records []scraper.CreditRecord) (string, error) {
	data, err := Encode(records)
	if err != nil {
		return "", err
	}
	digest, err := e.hasher.Hash(data)
	if err != nil {
		return "", fmt.Errorf("hash export: %w", err)
	}
	uri, err := e.store.PutObject(ctx, e.path(jobID, digest), ContentType, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("put export: %w", err)
	}
	return uri, nil
}

func (e *Exporter) path(jobID, digest string) string {
	if e.prefix == "" {
		return fmt.Sprintf("%s/%s.csv", jobID, digest)
	}
	return fmt.Sprintf("%s/%s/%s.csv", e.prefix, jobID, digest)
}
