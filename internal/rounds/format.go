package rounds

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dyluth/sift/pkg/ledger"
)

// FormatTable writes rounds as a formatted table to the provided writer.
// Returns the number of rounds formatted.
func FormatTable(w io.Writer, rounds []*ledger.UpdateRound, runName string) int {
	if len(rounds) == 0 {
		fmt.Fprintf(w, "No rounds found for run '%s'\n", runName)
		return 0
	}

	fmt.Fprintf(w, "Rounds for run '%s':\n\n", runName)

	fmt.Fprintf(w, "%-5s %-7s %-7s %-7s %-9s %-6s %-10s %-6s %-8s\n",
		"ROUND", "QUERIED", "PSEUDO", "DEMOTED", "UNLABELED", "EPOCHS", "THRESHOLD", "ACC", "AGE")
	fmt.Fprintf(w, "%-5s %-7s %-7s %-7s %-9s %-6s %-10s %-6s %-8s\n",
		"-----", "-------", "-------", "-------", "---------", "------", "----------", "------", "--------")

	for _, r := range rounds {
		FormatRow(w, r)
	}

	countMsg := "round"
	if len(rounds) != 1 {
		countMsg = "rounds"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(rounds), countMsg)

	return len(rounds)
}

// FormatRow writes one table row, for rounds streamed after the table.
func FormatRow(w io.Writer, r *ledger.UpdateRound) {
	fmt.Fprintf(w, "%-5d %-7s %-7d %-7d %-9d %-6d %-10s %-6s %-8s\n",
		r.Index,
		formatQueried(len(r.QueriedSampleIDs), r.Budget),
		len(r.PseudoLabeledSampleIDs),
		len(r.DemotedSampleIDs),
		r.PoolSizeAfter,
		r.Epochs,
		formatThreshold(r.Threshold, r.ThresholdPassed, r.ThresholdDegraded),
		formatPercent(r.Accuracy),
		formatTimestamp(r.CompletedAtMs),
	)
}

// FormatJSONL writes one compact JSON object per round, for jq and friends.
func FormatJSONL(w io.Writer, rounds []*ledger.UpdateRound) error {
	for _, round := range rounds {
		data, err := json.Marshal(round)
		if err != nil {
			return fmt.Errorf("failed to marshal round to JSON: %w", err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", string(data)); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes one round as pretty-printed JSON, including the
// full sample id lists the table leaves out.
func FormatSingleJSON(w io.Writer, round *ledger.UpdateRound) error {
	data, err := json.MarshalIndent(round, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal round to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// formatQueried shows "queried/budget", or just the count when the oracle
// answered everything.
func formatQueried(queried, budget int) string {
	if queried == budget {
		return fmt.Sprintf("%d", queried)
	}
	return fmt.Sprintf("%d/%d", queried, budget)
}

// formatThreshold marks a failed threshold with "!" and a degraded one with "~".
func formatThreshold(value float64, passed, degraded bool) string {
	s := fmt.Sprintf("%.3f", value)
	if !passed {
		s += "!"
	}
	if degraded {
		s += "~"
	}
	return s
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

// formatTimestamp formats a Unix millisecond timestamp as relative time ("2m ago").
func formatTimestamp(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := time.Since(time.UnixMilli(timestampMs))

	if diff < time.Minute {
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	} else if diff < time.Hour {
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	} else if diff < 24*time.Hour {
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	} else {
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
