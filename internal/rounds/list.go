// Package rounds renders the audit log of a run for the sift CLI.
package rounds

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/sift/pkg/ledger"
)

// OutputFormat specifies how to format the round list output.
type OutputFormat string

const (
	// OutputFormatDefault uses a table with counts instead of sample ids
	OutputFormatDefault OutputFormat = "default"

	// OutputFormatJSONL outputs complete rounds as line-delimited JSON
	OutputFormatJSONL OutputFormat = "jsonl"
)

// Reader is the read side of a ledger.
type Reader interface {
	GetRound(ctx context.Context, index int) (*ledger.UpdateRound, error)
	Rounds(ctx context.Context) ([]*ledger.UpdateRound, error)
}

// FilterCriteria defines filtering options for the rounds command.
// All filters are ANDed together.
type FilterCriteria struct {
	SinceTimestampMs int64 // 0 = no filter
	UntilTimestampMs int64 // 0 = no filter
	FromRound        int   // 0 = no filter
	ToRound          int   // 0 = no filter
	PseudoOnly       bool  // only rounds that promoted pseudo-labels
}

func (fc *FilterCriteria) matchesFilter(r *ledger.UpdateRound) bool {
	if fc.SinceTimestampMs > 0 && r.CompletedAtMs < fc.SinceTimestampMs {
		return false
	}
	if fc.UntilTimestampMs > 0 && r.CompletedAtMs > fc.UntilTimestampMs {
		return false
	}
	if fc.FromRound > 0 && r.Index < fc.FromRound {
		return false
	}
	if fc.ToRound > 0 && r.Index > fc.ToRound {
		return false
	}
	if fc.PseudoOnly && len(r.PseudoLabeledSampleIDs) == 0 {
		return false
	}
	return true
}

// ListRounds writes every round of the run matching filters, in index order.
func ListRounds(ctx context.Context, reader Reader, runName string, format OutputFormat, filters *FilterCriteria, w io.Writer) error {
	all, err := reader.Rounds(ctx)
	if err != nil {
		return fmt.Errorf("failed to read rounds: %w", err)
	}

	rounds := make([]*ledger.UpdateRound, 0, len(all))
	for _, r := range all {
		if filters != nil && !filters.matchesFilter(r) {
			continue
		}
		rounds = append(rounds, r)
	}

	switch format {
	case OutputFormatDefault:
		FormatTable(w, rounds, runName)
	case OutputFormatJSONL:
		if err := FormatJSONL(w, rounds); err != nil {
			return fmt.Errorf("failed to format JSONL output: %w", err)
		}
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}

	return nil
}
