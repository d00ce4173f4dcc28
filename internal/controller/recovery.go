package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/dyluth/sift/internal/dataset"
	"github.com/dyluth/sift/internal/model"
	"github.com/dyluth/sift/pkg/ledger"
)

// Resume restores the pools, the model and the round history of the last
// committed round, so the next Run continues at the following round index.
// It must be called before Run, on a controller built over the same dataset.
func (c *Controller) Resume(ctx context.Context) error {
	if c.journal == nil {
		return fmt.Errorf("cannot resume without a ledger")
	}
	if c.state != StateInit {
		return fmt.Errorf("cannot resume a controller in state %s", c.state)
	}

	run, err := c.journal.GetRun(ctx)
	if err != nil {
		if ledger.IsNotFound(err) {
			return fmt.Errorf("no run named '%s' in the ledger", c.cfg.Run.Name)
		}
		return fmt.Errorf("failed to load run: %w", err)
	}
	if run.Status == ledger.RunStatusCompleted {
		return fmt.Errorf("run '%s' already completed (%s)", run.Name, run.Termination)
	}

	rounds, err := c.journal.Rounds(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rounds: %w", err)
	}

	state, err := c.journal.LatestState(ctx)
	switch {
	case ledger.IsNotFound(err):
		log.Printf("[Controller] Run '%s' has no committed rounds, starting over", run.Name)
		return nil
	case err != nil:
		return fmt.Errorf("failed to load resume state: %w", err)
	default:
		var snap dataset.Snapshot
		if err := json.Unmarshal(state.Snapshot, &snap); err != nil {
			return fmt.Errorf("failed to decode pool snapshot: %w", err)
		}
		if err := c.store.Restore(snap); err != nil {
			return fmt.Errorf("failed to restore pools: %w", err)
		}
		if len(state.Checkpoint) > 0 {
			if err := c.adapter.Restore(state.Checkpoint); err != nil {
				return model.Wrap("restore", err)
			}
		}
		c.lastRound = state.Round
	}

	c.history = nil
	for _, r := range rounds {
		if r.Index <= c.lastRound {
			c.history = append(c.history, r)
		}
	}
	c.emptySelections = 0
	for i := len(c.history) - 1; i >= 0 && len(c.history[i].QueriedSampleIDs) == 0; i-- {
		c.emptySelections++
	}

	run.Status = ledger.RunStatusRunning
	run.Error = ""
	run.LastRound = c.lastRound
	run.UpdatedAtMs = time.Now().UnixMilli()
	if err := c.journal.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	c.run = run
	c.resumed = true

	c.logEvent("run_resumed", map[string]interface{}{
		"run_id":     run.ID,
		"last_round": c.lastRound,
		"unlabeled":  c.store.Size(dataset.PoolUnlabeled),
	})
	log.Printf("[Controller] Resuming run '%s' after round %d", run.Name, c.lastRound)
	return nil
}
