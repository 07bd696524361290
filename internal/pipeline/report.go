package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/shoplens/pipeline-cli/internal/model"
)

// FormatResults renders a human-readable summary of one batch run.
func FormatResults(results []model.CrawlResult) string {
	var b strings.Builder

	b.WriteString("# Crawl Batch Report\n\n")

	complete, degraded, failed := 0, 0, 0
	var scoreSum float64
	var scored int
	for _, r := range results {
		switch r.Status {
		case model.CrawlComplete:
			complete++
		case model.CrawlDegraded:
			degraded++
		case model.CrawlFailed:
			failed++
		}
		if r.Validation != nil {
			scoreSum += r.Validation.Score
			scored++
		}
	}

	b.WriteString("## Summary\n")
	fmt.Fprintf(&b, "- URLs: %d\n", len(results))
	fmt.Fprintf(&b, "- Complete: %d\n", complete)
	fmt.Fprintf(&b, "- Degraded: %d\n", degraded)
	fmt.Fprintf(&b, "- Failed: %d\n", failed)
	if scored > 0 {
		fmt.Fprintf(&b, "- Avg validation score: %.1f\n", scoreSum/float64(scored))
	}
	b.WriteString("\n")

	b.WriteString("## Crawls\n")
	for _, r := range results {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", r.URL, r.Status, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
		if r.Record != nil && r.Record.Name != nil {
			fmt.Fprintf(&b, "  Name: %s\n", *r.Record.Name)
		}
		if r.Record != nil && r.Record.SalePrice != nil {
			fmt.Fprintf(&b, "  Price: %d yen\n", *r.Record.SalePrice)
		}
		if r.Validation != nil {
			fmt.Fprintf(&b, "  Score: %.1f (mismatches %d, corrected %d, missing %d)\n",
				r.Validation.Score, len(r.Validation.Mismatches),
				len(r.Validation.CorrectedFields), len(r.Validation.MissingItems))
		}
		if r.Error != "" {
			fmt.Fprintf(&b, "  Error: %s\n", r.Error)
		}
	}

	return b.String()
}
