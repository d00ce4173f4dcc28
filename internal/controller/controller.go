// Package controller drives the active-learning loop: train to convergence,
// calibrate a confidence threshold, query the oracle, promote pseudo-labels,
// and repeat until a termination condition holds.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/dyluth/sift/internal/calibration"
	"github.com/dyluth/sift/internal/config"
	"github.com/dyluth/sift/internal/convergence"
	"github.com/dyluth/sift/internal/dataset"
	"github.com/dyluth/sift/internal/model"
	"github.com/dyluth/sift/internal/parallel"
	"github.com/dyluth/sift/internal/sampler"
	"github.com/dyluth/sift/pkg/ledger"
	"github.com/google/uuid"
)

// Journal persists rounds and resume state. Both ledger backends satisfy it.
type Journal interface {
	SaveRun(ctx context.Context, run *ledger.Run) error
	GetRun(ctx context.Context) (*ledger.Run, error)
	CommitRound(ctx context.Context, run *ledger.Run, round *ledger.UpdateRound, state *ledger.State) error
	Rounds(ctx context.Context) ([]*ledger.UpdateRound, error)
	LatestState(ctx context.Context) (*ledger.State, error)
	Reset(ctx context.Context) error
}

// seed streams keep the generators of unrelated decisions independent
const (
	streamSplit = iota + 1
	streamSubset
	streamBalance
	streamFit
	streamPretrain
)

// Controller is the single writer of the Dataset Store. It is not safe for
// concurrent use; Run drives everything from one goroutine and fans out only
// inside inference and calibration.
type Controller struct {
	cfg     config.Config
	store   *dataset.Store
	adapter model.Adapter
	oracle  Oracle
	journal Journal

	monitor    *convergence.Monitor
	calibrator *calibration.Calibrator
	sampler    *sampler.Sampler
	estimator  *model.Estimator
	plots      *plotWriter

	state           State
	run             *ledger.Run
	lastRound       int
	emptySelections int
	resumed         bool
	degradedStart   bool
	history         []*ledger.UpdateRound
	threshold       calibration.Threshold
	metrics         model.Metrics
	training        trainOutcome
}

// New validates the configuration and wires the loop's components.
// journal may be nil, in which case nothing is persisted.
func New(cfg *config.Config, store *dataset.Store, adapter model.Adapter, oracle Oracle, journal Journal) (*Controller, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if store == nil || adapter == nil || oracle == nil {
		return nil, fmt.Errorf("store, adapter and oracle are required")
	}

	monitor, err := convergence.NewMonitor(cfg.Converge)
	if err != nil {
		return nil, err
	}
	workers := cfg.Run.Workers
	if workers == 0 {
		workers = parallel.DefaultWorkers()
	}
	calibrator, err := calibration.NewCalibrator(cfg.Bootstrap, workers, cfg.Run.Seed)
	if err != nil {
		return nil, err
	}
	selector, err := sampler.New(cfg.Active, cfg.Run.Seed)
	if err != nil {
		return nil, err
	}

	if cfg.Data.Balance && cfg.Training.WeightedLoss {
		log.Printf("[Controller] Warning: balance and weighted_loss are both set; weighted_loss is ignored")
	}

	return &Controller{
		cfg:        *cfg,
		store:      store,
		adapter:    adapter,
		oracle:     oracle,
		journal:    journal,
		monitor:    monitor,
		calibrator: calibrator,
		sampler:    selector,
		estimator:  model.NewEstimator(adapter, cfg.Model, workers, cfg.Run.Seed),
		plots:      newPlotWriter(cfg.Plotting.PlotDir),
		state:      StateInit,
	}, nil
}

// State returns the current state of the loop.
func (c *Controller) State() State {
	return c.state
}

// Run executes the loop until a termination condition holds and returns the
// final report. An error means the run failed (configuration, persistence or
// a fatal *model.AdapterError); an unconverged run is reported, not an error.
func (c *Controller) Run(ctx context.Context) (*Report, error) {
	started := time.Now()
	log.Printf("[Controller] Starting run '%s' (selection=%s, max_updates=%d)",
		c.cfg.Run.Name, c.sampler.Strategy().Name(), c.cfg.Active.MaxUpdates)

	if err := c.start(ctx); err != nil {
		return nil, c.fail(ctx, err)
	}

	var termination Termination
	for {
		outcome, err := c.train(ctx, c.lastRound+1)
		if err != nil {
			return nil, c.fail(ctx, err)
		}
		c.training = outcome

		if !outcome.Converged {
			termination = TerminationUnconverged
			if err := c.transition(StateUnconverged); err != nil {
				return nil, c.fail(ctx, err)
			}
			break
		}
		if err := c.transition(StateConverged); err != nil {
			return nil, c.fail(ctx, err)
		}

		if termination = c.checkTermination(); termination != "" {
			if err := c.transition(terminalStates[termination]); err != nil {
				return nil, c.fail(ctx, err)
			}
			break
		}

		if err := c.runRound(ctx, c.lastRound+1); err != nil {
			return nil, c.fail(ctx, err)
		}
	}

	report, err := c.finish(ctx, termination, started)
	if err != nil {
		return nil, c.fail(ctx, err)
	}
	return report, nil
}

// checkTermination is evaluated after every converged training phase.
func (c *Controller) checkTermination() Termination {
	switch {
	case c.lastRound >= c.cfg.Active.MaxUpdates:
		return TerminationMaxUpdates
	case c.emptySelections >= 2:
		return TerminationStagnated
	case c.store.Size(dataset.PoolUnlabeled) == 0:
		return TerminationExhausted
	default:
		return ""
	}
}

// start prepares a fresh run, or continues a resumed one.
func (c *Controller) start(ctx context.Context) error {
	if c.resumed {
		return nil
	}

	c.run = &ledger.Run{
		ID:          uuid.New().String(),
		Name:        c.cfg.Run.Name,
		Status:      ledger.RunStatusRunning,
		Seed:        c.cfg.Run.Seed,
		StartedAtMs: time.Now().UnixMilli(),
		UpdatedAtMs: time.Now().UnixMilli(),
	}
	if c.journal != nil {
		if err := c.journal.Reset(ctx); err != nil {
			return fmt.Errorf("failed to reset ledger: %w", err)
		}
		if err := c.journal.SaveRun(ctx, c.run); err != nil {
			return fmt.Errorf("failed to save run: %w", err)
		}
	}
	if err := c.plots.reset(); err != nil {
		return err
	}

	if c.store.Size(dataset.PoolValidation) == 0 && c.store.Size(dataset.PoolTrain) > 1 {
		rng := rand.New(rand.NewSource(parallel.Seed(c.cfg.Run.Seed, streamSplit)))
		moved, err := c.store.Split(c.cfg.Data.ValPer, rng)
		if err != nil {
			return fmt.Errorf("failed to split validation pool: %w", err)
		}
		log.Printf("[Controller] Moved %d labeled samples to the validation pool", moved)
	}

	c.logEvent("run_started", map[string]interface{}{
		"run_id":     c.run.ID,
		"train":      c.store.Size(dataset.PoolTrain),
		"validation": c.store.Size(dataset.PoolValidation),
		"unlabeled":  c.store.Size(dataset.PoolUnlabeled),
	})

	if c.cfg.Active.ModelTuning && c.cfg.Model.ModelPath != "" {
		found, err := model.LoadFile(c.adapter, c.cfg.Model.ModelPath)
		if err != nil {
			return err
		}
		if found {
			log.Printf("[Controller] Model restored from %s", c.cfg.Model.ModelPath)
			if c.cfg.Autoencoder.AutoInit {
				c.logEvent("pretraining_skipped", map[string]interface{}{"model_path": c.cfg.Model.ModelPath})
			}
			return nil
		}
	}

	if c.cfg.Autoencoder.AutoInit {
		return c.pretrain(ctx)
	}
	return nil
}

// finish moves to done, persists the final model and builds the report.
func (c *Controller) finish(ctx context.Context, termination Termination, started time.Time) (*Report, error) {
	if err := c.transition(StateDone); err != nil {
		return nil, err
	}

	if path := c.cfg.Model.ModelPath; path != "" {
		if err := model.SaveFile(c.adapter, path); err != nil {
			return nil, err
		}
	}

	report := &Report{
		RunID:         c.run.ID,
		RunName:       c.cfg.Run.Name,
		Termination:   termination,
		Rounds:        c.lastRound,
		PoolSizes:     c.store.Sizes(),
		Threshold:     c.threshold,
		Metrics:       c.metrics,
		Epochs:        c.training.Epochs,
		FinalLoss:     c.training.MonitorLoss,
		Converged:     c.training.Converged,
		DegradedStart: c.degradedStart,
		History:       c.history,
		StartedAt:     started,
		CompletedAt:   time.Now(),
	}
	for _, r := range c.history {
		report.Queried += len(r.QueriedSampleIDs)
	}

	if c.cfg.Data.Combine {
		cells, err := c.combineCells(ctx)
		if err != nil {
			return nil, err
		}
		report.Cells = cells
	}

	c.run.Status = ledger.RunStatusCompleted
	c.run.Termination = string(termination)
	c.run.LastRound = c.lastRound
	c.run.UpdatedAtMs = time.Now().UnixMilli()
	if c.journal != nil {
		if err := c.journal.SaveRun(ctx, c.run); err != nil {
			return nil, fmt.Errorf("failed to save run: %w", err)
		}
	}

	c.logEvent("run_completed", map[string]interface{}{
		"termination": string(termination),
		"rounds":      c.lastRound,
		"queried":     report.Queried,
		"pseudo":      report.PoolSizes[dataset.PoolPseudo],
		"accuracy":    c.metrics.Accuracy,
	})
	log.Printf("[Controller] Run '%s' finished after %d rounds: %s", c.cfg.Run.Name, c.lastRound, termination)
	return report, nil
}

// combineCells averages the estimates of every machine-labeled patch per cell.
func (c *Controller) combineCells(ctx context.Context) ([]model.CellPrediction, error) {
	samples := append(c.store.Samples(dataset.PoolUnlabeled), c.store.Samples(dataset.PoolPseudo)...)
	estimates, err := c.estimator.Estimate(ctx, samples, c.lastRound+1)
	if err != nil {
		return nil, err
	}
	cells, err := model.CombineCells(samples, estimates)
	if err != nil {
		return nil, err
	}
	mismatched := 0
	for _, cell := range cells {
		if cell.Patches != c.cfg.Data.CellPatches {
			mismatched++
		}
	}
	if mismatched > 0 {
		log.Printf("[Controller] Warning: %d of %d cells do not have cell_patches=%d patches", mismatched, len(cells), c.cfg.Data.CellPatches)
	}
	return cells, nil
}

// fail records a failed run and returns err unchanged.
func (c *Controller) fail(ctx context.Context, err error) error {
	log.Printf("[Controller] Run '%s' failed in state %s: %v", c.cfg.Run.Name, c.state, err)
	c.logEventLevel("error", "run_failed", map[string]interface{}{
		"state": string(c.state),
		"error": err.Error(),
	})
	if c.journal != nil && c.run != nil {
		c.run.Status = ledger.RunStatusFailed
		c.run.Error = err.Error()
		c.run.UpdatedAtMs = time.Now().UnixMilli()
		if saveErr := c.journal.SaveRun(ctx, c.run); saveErr != nil {
			log.Printf("[Controller] Failed to record run failure: %v", saveErr)
		}
	}
	return err
}

// logEvent logs a structured JSON event for observability.
func (c *Controller) logEvent(eventType string, data map[string]interface{}) {
	c.logEventLevel("info", eventType, data)
}

func (c *Controller) logEventLevel(level, eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = level
	data["component"] = "controller"
	data["event_type"] = eventType
	data["run"] = c.cfg.Run.Name

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Controller] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
