package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/album-credits-bot/internal/export"
	"github.com/JakeFAU/album-credits-bot/internal/report"
)

// newScrapeCmd runs one lookup outside the pool. No credit is charged.
func newScrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape [artist - album]",
		Short: "Looks up one album and writes its credits as CSV to stdout",
		Long: `Fetches and extracts a single album without the job pool, ledger or
chat delivery. The query defaults to the configured fetch.default_query.`,
		RunE: runScrape,
	}
}

func runScrape(cmd *cobra.Command, args []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), rt.cfg, rt.logger)
	if err != nil {
		return fmt.Errorf("app init failed: %w", err)
	}
	defer a.Close()

	doc, err := a.Fetcher.Fetch(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	records := a.Extractor.Extract(doc)
	data, err := export.Encode(records)
	if err != nil {
		return err
	}
	if _, err := cmd.OutOrStdout().Write(data); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d credits, %d handles from %s\n",
		len(records), report.HandleCount(records), doc.SourceURL)
	return nil
}
