package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"

	"github.com/dyluth/sift/internal/calibration"
	"github.com/dyluth/sift/internal/config"
	"github.com/dyluth/sift/internal/dataset"
	"github.com/dyluth/sift/internal/model"
	"github.com/dyluth/sift/internal/parallel"
	"github.com/dyluth/sift/pkg/ledger"
)

// inference holds every model output a round needs. It is computed in full
// before the first pool move, so a failure leaves the store untouched.
type inference struct {
	validation []*dataset.Sample
	valEst     []model.Estimate
	candidates []model.Estimate
	pseudo     []model.Estimate
}

// runRound performs calibrating → querying → labeling for round index and
// commits the closed round.
func (c *Controller) runRound(ctx context.Context, index int) error {
	started := time.Now()
	round := &ledger.UpdateRound{
		Index:          index,
		PoolSizeBefore: c.store.Size(dataset.PoolUnlabeled),
		Epochs:         c.training.Epochs,
		Converged:      c.training.Converged,
		TrainLoss:      c.training.TrainLoss,
		ValidationLoss: c.training.ValidationLoss,
		StartedAtMs:    started.UnixMilli(),
	}

	if err := c.transition(StateCalibrating); err != nil {
		return err
	}
	inf, err := c.infer(ctx, index)
	if err != nil {
		return err
	}

	threshold, err := c.calibrator.Calibrate(ctx, observations(inf.validation, inf.valEst), index)
	if err != nil {
		return err
	}
	c.threshold = threshold
	c.metrics = validationMetrics(inf.validation, inf.valEst, c.cfg.Data.NumClasses)

	if err := c.transition(StateQuerying); err != nil {
		return err
	}
	budget := c.sampler.Budget(index, round.PoolSizeBefore)
	selected := c.sampler.SelectNext(inf.candidates, budget, index)

	answers, err := c.oracle.Label(ctx, selected)
	if err != nil {
		return fmt.Errorf("oracle failed: %w", err)
	}
	checkpoint, err := c.checkpoint()
	if err != nil {
		return err
	}

	// Every fallible step is behind us; from here on the round only moves samples.
	if err := c.transition(StateLabeling); err != nil {
		return err
	}
	queried, err := c.applyLabels(selected, answers)
	if err != nil {
		return err
	}
	demoted, err := c.reverify(inf.pseudo)
	if err != nil {
		return err
	}
	promoted, err := c.promote(inf.candidates, selected, threshold)
	if err != nil {
		return err
	}
	if err := c.store.Verify(); err != nil {
		return fmt.Errorf("pool invariant violated after round %d: %w", index, err)
	}

	round.State = string(c.state)
	round.Budget = budget
	round.QueriedSampleIDs = queried
	round.PseudoLabeledSampleIDs = promoted
	round.DemotedSampleIDs = demoted
	round.PoolSizeAfter = c.store.Size(dataset.PoolUnlabeled)
	round.PoolSizes = poolSizes(c.store)
	round.Threshold = threshold.Value
	round.ThresholdPassed = threshold.Passed
	round.ThresholdDegraded = threshold.Degraded
	round.Accuracy = c.metrics.Accuracy
	round.MeanClassAccuracy = c.metrics.MeanClassAccuracy
	round.F1 = c.metrics.F1
	round.CompletedAtMs = time.Now().UnixMilli()

	if err := c.commit(ctx, round, checkpoint); err != nil {
		return err
	}
	if len(queried) == 0 {
		c.emptySelections++
	} else {
		c.emptySelections = 0
	}

	c.logEvent("round_complete", map[string]interface{}{
		"round":     index,
		"budget":    budget,
		"queried":   len(queried),
		"pseudo":    len(promoted),
		"demoted":   len(demoted),
		"unlabeled": round.PoolSizeAfter,
		"threshold": threshold.Value,
		"accuracy":  c.metrics.Accuracy,
	})
	log.Printf("[Controller] Round %d: queried %d/%d, pseudo-labeled %d, demoted %d, %d unlabeled left",
		index, len(queried), budget, len(promoted), len(demoted), round.PoolSizeAfter)
	return nil
}

// infer runs every estimate the round needs.
func (c *Controller) infer(ctx context.Context, index int) (*inference, error) {
	inf := &inference{validation: c.store.Samples(dataset.PoolValidation)}
	var err error

	if inf.valEst, err = c.estimator.Estimate(ctx, inf.validation, index); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(parallel.Seed(c.cfg.Run.Seed, streamSubset, index)))
	candidates := c.store.Subset(dataset.PoolUnlabeled, c.cfg.Data.SampleSize, rng)
	if c.sampler.Strategy().Name() == config.SelectionNone && !c.cfg.Pseudo.PseudoLabels {
		// random selection without pseudo-labeling never looks at predictions
		inf.candidates = placeholderEstimates(candidates)
	} else if inf.candidates, err = c.estimator.Estimate(ctx, candidates, index); err != nil {
		return nil, err
	}

	if c.cfg.Pseudo.PseudoLabels && c.store.Size(dataset.PoolPseudo) > 0 {
		if inf.pseudo, err = c.estimator.Estimate(ctx, c.store.Samples(dataset.PoolPseudo), index); err != nil {
			return nil, err
		}
	}
	return inf, nil
}

// applyLabels records oracle answers and moves the answered samples out of
// Unlabeled. With random selection and model tuning they only tune the model
// and go to Validation.
func (c *Controller) applyLabels(selected []string, answers map[string]int) ([]string, error) {
	queried := make([]string, 0, len(selected))
	for _, id := range selected {
		label, ok := answers[id]
		if !ok {
			continue
		}
		if label < 0 || label >= c.cfg.Data.NumClasses {
			return nil, fmt.Errorf("oracle returned label %d for %s, outside [0,%d)", label, id, c.cfg.Data.NumClasses)
		}
		queried = append(queried, id)
	}
	if missing := len(selected) - len(queried); missing > 0 {
		log.Printf("[Controller] Warning: oracle had no label for %d queried samples", missing)
	}

	for _, id := range queried {
		if err := c.store.Label(id, answers[id]); err != nil {
			return nil, err
		}
	}
	target := dataset.PoolTrain
	if c.sampler.Strategy().Name() == config.SelectionNone && c.cfg.Active.ModelTuning {
		target = dataset.PoolValidation
	}
	if err := c.store.Move(queried, dataset.PoolUnlabeled, target); err != nil {
		return nil, fmt.Errorf("failed to move queried samples: %w", err)
	}
	return queried, nil
}

// reverify demotes pseudo samples whose fresh prediction disagrees with
// their pseudo label or has dropped below pseudo_threshold.
func (c *Controller) reverify(estimates []model.Estimate) ([]string, error) {
	demoted := []string{}
	for _, est := range estimates {
		label, ok := c.store.PseudoLabel(est.SampleID)
		if !ok {
			continue
		}
		if est.Predicted != label || est.Confidence < c.cfg.Pseudo.PseudoThreshold {
			demoted = append(demoted, est.SampleID)
		}
	}
	if err := c.store.Move(demoted, dataset.PoolPseudo, dataset.PoolUnlabeled); err != nil {
		return nil, fmt.Errorf("failed to demote pseudo-labels: %w", err)
	}
	return demoted, nil
}

// promote moves shortlisted, non-queried candidates whose confidence clears
// max(threshold, pseudo_threshold) into the Pseudo pool.
func (c *Controller) promote(candidates []model.Estimate, selected []string, th calibration.Threshold) ([]string, error) {
	promoted := []string{}
	if !c.cfg.Pseudo.PseudoLabels || !th.Passed {
		return promoted, nil
	}

	skip := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		skip[id] = struct{}{}
	}
	floor := math.Max(th.Value, c.cfg.Pseudo.PseudoThreshold)

	for _, est := range c.calibrator.Shortlist(candidates) {
		if _, queried := skip[est.SampleID]; queried {
			continue
		}
		if est.Confidence < floor {
			break // shortlist is sorted by confidence
		}
		if err := c.store.Annotate(est.SampleID, est.Predicted, est.Confidence); err != nil {
			return nil, err
		}
		promoted = append(promoted, est.SampleID)
	}
	if err := c.store.Move(promoted, dataset.PoolUnlabeled, dataset.PoolPseudo); err != nil {
		return nil, fmt.Errorf("failed to promote pseudo-labels: %w", err)
	}
	return promoted, nil
}

// checkpoint captures the adapter weights for the round's ledger entry. It
// returns nil without touching the adapter when nothing is persisted.
func (c *Controller) checkpoint() ([]byte, error) {
	if c.journal == nil {
		return nil, nil
	}
	data, err := c.adapter.Checkpoint()
	if err != nil {
		return nil, model.Wrap("checkpoint", err)
	}
	return data, nil
}

// commit persists the closed round with the state to resume from. The
// controller only advances once the ledger has accepted the round.
func (c *Controller) commit(ctx context.Context, round *ledger.UpdateRound, checkpoint []byte) error {
	run := *c.run
	run.LastRound = round.Index
	run.UpdatedAtMs = time.Now().UnixMilli()

	if c.journal != nil {
		snapshot, err := json.Marshal(c.store.Snapshot())
		if err != nil {
			return fmt.Errorf("failed to encode pool snapshot: %w", err)
		}
		state := &ledger.State{Round: round.Index, Snapshot: snapshot, Checkpoint: checkpoint}
		if err := c.journal.CommitRound(ctx, &run, round, state); err != nil {
			return fmt.Errorf("failed to persist round %d: %w", round.Index, err)
		}
	}

	*c.run = run
	c.lastRound = round.Index
	c.history = append(c.history, round)
	return c.plots.round(round)
}

func observations(samples []*dataset.Sample, estimates []model.Estimate) []calibration.Observation {
	obs := make([]calibration.Observation, 0, len(samples))
	for i, s := range samples {
		if s.TrueLabel == nil {
			continue
		}
		obs = append(obs, calibration.Observation{
			Predicted:  estimates[i].Predicted,
			Truth:      *s.TrueLabel,
			Confidence: estimates[i].Confidence,
		})
	}
	return obs
}

func validationMetrics(samples []*dataset.Sample, estimates []model.Estimate, numClasses int) model.Metrics {
	var truth, predicted []int
	for i, s := range samples {
		if s.TrueLabel == nil {
			continue
		}
		truth = append(truth, *s.TrueLabel)
		predicted = append(predicted, estimates[i].Predicted)
	}
	return model.Score(truth, predicted, numClasses)
}

func placeholderEstimates(samples []*dataset.Sample) []model.Estimate {
	out := make([]model.Estimate, len(samples))
	for i, s := range samples {
		out[i] = model.Estimate{SampleID: s.ID, Undefined: true}
	}
	return out
}

func poolSizes(store *dataset.Store) map[string]int {
	sizes := make(map[string]int, len(dataset.Pools))
	for pool, n := range store.Sizes() {
		sizes[string(pool)] = n
	}
	return sizes
}
