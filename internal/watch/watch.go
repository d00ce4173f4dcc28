// Package watch follows a run's ledger while another process writes to it.
package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/dyluth/sift/pkg/ledger"
)

// DefaultInterval is how often the ledger is polled.
const DefaultInterval = 200 * time.Millisecond

// Source is the part of a ledger the watcher reads.
type Source interface {
	GetRun(ctx context.Context) (*ledger.Run, error)
	GetRound(ctx context.Context, index int) (*ledger.UpdateRound, error)
}

// PollForRound polls until round index has been committed.
// Returns the round or an error if timeout occurs.
func PollForRound(ctx context.Context, source Source, index int, interval, timeout time.Duration) (*ledger.UpdateRound, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	timeoutCh := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()

		case <-timeoutCh:
			return nil, fmt.Errorf("timeout waiting for round %d after %v", index, timeout)

		case <-ticker.C:
			round, err := source.GetRound(ctx, index)
			if err != nil {
				if ledger.IsNotFound(err) {
					continue
				}
				return nil, fmt.Errorf("failed to query for round: %w", err)
			}
			return round, nil
		}
	}
}

// Follow calls fn for every round committed after round `after`, in order,
// until the run leaves the running state or ctx is cancelled. It returns
// the final run record.
func Follow(ctx context.Context, source Source, after int, interval time.Duration, fn func(*ledger.UpdateRound) error) (*ledger.Run, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	next := after + 1
	for {
		// drain everything already committed before looking at the run status,
		// so the last round of a finished run is never missed
		for {
			round, err := source.GetRound(ctx, next)
			if ledger.IsNotFound(err) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("failed to query for round: %w", err)
			}
			if err := fn(round); err != nil {
				return nil, err
			}
			next++
		}

		run, err := source.GetRun(ctx)
		if err != nil && !ledger.IsNotFound(err) {
			return nil, fmt.Errorf("failed to query run: %w", err)
		}
		if run != nil && run.Status != ledger.RunStatusRunning && run.LastRound < next {
			return run, nil
		}

		select {
		case <-ctx.Done():
			return run, ctx.Err()
		case <-ticker.C:
		}
	}
}
