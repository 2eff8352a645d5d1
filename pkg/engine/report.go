package engine

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// WriteReport renders the human-readable run report: one aligned row per
// step in canonical order, then a footer line with the aggregate counts and
// total duration. The output is deterministic for a given summary.
func WriteReport(w io.Writer, summary *RunSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "STEP\tSTATUS\tDURATION\tNOTE\n")
	for _, res := range summary.Results {
		fmt.Fprintf(tw, "%s %s\t%s\t%s\t%s\n",
			res.Status.Symbol(), res.Name, res.Status, formatDuration(res.Duration), res.Note)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\n%s: %d succeeded, %d skipped, %d failed (%s)\n",
		summary.Status, summary.Succeeded, summary.Skipped, summary.Failed,
		formatDuration(summary.Duration))
	return err
}

// WriteJSON renders the summary as indented JSON for machine consumers.
// Sensitive context values never appear here: the summary carries results
// only, and secrets mask themselves when marshalled.
func WriteJSON(w io.Writer, summary *RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// formatDuration renders durations at a resolution useful in reports:
// sub-second steps keep millisecond detail, longer ones round to 100ms.
func formatDuration(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
