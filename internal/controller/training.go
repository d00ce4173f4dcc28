package controller

import (
	"context"
	"fmt"
	"log"
	"math/rand"

	"github.com/dyluth/sift/internal/config"
	"github.com/dyluth/sift/internal/convergence"
	"github.com/dyluth/sift/internal/dataset"
	"github.com/dyluth/sift/internal/model"
	"github.com/dyluth/sift/internal/parallel"
)

// trainOutcome summarises one training phase. MonitorLoss is the loss the
// convergence monitor saw: validation loss when a validation pool exists.
type trainOutcome struct {
	Phase          int
	Epochs         int
	TrainLoss      float64
	ValidationLoss float64
	MonitorLoss    float64
	Converged      bool
	StoppedBy      convergence.StopReason
	Skipped        bool
}

// epochRecord is one line of history.jsonl.
type epochRecord struct {
	Phase          string  `json:"phase"`
	Round          int     `json:"round"`
	Epoch          int     `json:"epoch"`
	TrainLoss      float64 `json:"train_loss"`
	ValidationLoss float64 `json:"validation_loss,omitempty"`
}

// train fits the adapter on Train ∪ Pseudo until the monitor stops it.
// phase is the index of the round the training feeds.
func (c *Controller) train(ctx context.Context, phase int) (trainOutcome, error) {
	if err := c.transition(StateTraining); err != nil {
		return trainOutcome{}, err
	}
	outcome := trainOutcome{Phase: phase}

	examples := append(c.store.Examples(dataset.PoolTrain), c.store.Examples(dataset.PoolPseudo)...)
	validation := c.store.Examples(dataset.PoolValidation)

	if !c.cfg.Active.ModelTuning {
		c.adapter.Reset()
	}

	if len(examples) == 0 {
		log.Printf("[Controller] Train pool is empty, skipping training (cold start)")
		c.logEvent("cold_start", map[string]interface{}{"round": phase})
		outcome.Skipped = true
		outcome.Converged = true
		return outcome, nil
	}

	var weights []float64
	if c.cfg.Training.WeightedLoss && !c.cfg.Data.Balance {
		weights = dataset.ClassWeights(examples, c.cfg.Data.NumClasses)
	}

	c.monitor.Reset()
	for epoch := 1; ; epoch++ {
		batch := examples
		if c.cfg.Data.Balance {
			rng := rand.New(rand.NewSource(parallel.Seed(c.cfg.Run.Seed, streamBalance, phase, epoch)))
			batch = dataset.Balance(examples, rng)
		}

		loss, err := c.adapter.FitEpoch(ctx, batch, model.FitOptions{
			BatchSize:    c.cfg.Training.BatchSize,
			ClassWeights: weights,
			Seed:         parallel.Seed(c.cfg.Run.Seed, streamFit, phase, epoch),
		})
		if err != nil {
			return outcome, model.Wrap("fit", err)
		}
		outcome.TrainLoss = loss
		outcome.Epochs = epoch

		// validation and the convergence check run every `intervals` epochs,
		// and always at the epoch cap
		check := epoch%c.cfg.Training.Intervals == 0 || epoch >= c.cfg.Converge.MaxEpochs
		if !check {
			if err := c.plots.epoch(epochRecord{
				Phase: "train", Round: phase, Epoch: epoch, TrainLoss: loss,
			}); err != nil {
				return outcome, err
			}
			if c.cfg.Run.Verbose {
				log.Printf("[Controller] Round %d epoch %04d: training loss %.4f", phase, epoch, loss)
			}
			continue
		}

		outcome.MonitorLoss = loss
		if len(validation) > 0 {
			valLoss, err := c.adapter.Evaluate(ctx, validation)
			if err != nil {
				return outcome, model.Wrap("evaluate", err)
			}
			outcome.ValidationLoss = valLoss
			outcome.MonitorLoss = valLoss
		}

		if err := c.plots.epoch(epochRecord{
			Phase: "train", Round: phase, Epoch: epoch,
			TrainLoss: loss, ValidationLoss: outcome.ValidationLoss,
		}); err != nil {
			return outcome, err
		}
		log.Printf("[Controller] Round %d epoch %04d: training loss %.4f, validation loss %.4f",
			phase, epoch, loss, outcome.ValidationLoss)

		if c.monitor.ShouldStop(epoch, outcome.MonitorLoss) {
			break
		}
	}

	result := c.monitor.Result()
	outcome.Converged = result.Converged
	outcome.StoppedBy = result.StoppedBy

	c.logEvent("training_complete", map[string]interface{}{
		"round":      phase,
		"epochs":     outcome.Epochs,
		"loss":       outcome.MonitorLoss,
		"stopped_by": string(result.StoppedBy),
		"converged":  result.Converged,
		"examples":   len(examples),
	})
	return outcome, nil
}

// pretrain fits an autoencoder on every sample and hands its encoder to the
// adapter. Failing to converge is only a warning.
func (c *Controller) pretrain(ctx context.Context) error {
	if err := c.transition(StatePretraining); err != nil {
		return err
	}
	ae := c.cfg.Autoencoder

	convCfg := config.ConvergeConfig{
		TrainingThreshold: ae.AutoThreshold,
		MaxEpochs:         ae.AutoMaxEpochs,
		MinEpochs:         min(c.cfg.Converge.MinEpochs, ae.AutoMaxEpochs),
		BatchEpochs:       c.cfg.Converge.BatchEpochs,
		Policy:            c.cfg.Converge.Policy,
	}
	monitor, err := convergence.NewMonitor(convCfg)
	if err != nil {
		return err
	}

	var samples []*dataset.Sample
	for _, pool := range dataset.Pools {
		samples = append(samples, c.store.Samples(pool)...)
	}
	if len(samples) == 0 {
		return fmt.Errorf("no samples to pretrain on")
	}

	autoencoder := model.NewAutoencoder(c.cfg.Data.InputSize(), ae, c.cfg.Optimiser, c.cfg.Run.Seed)
	for epoch := 1; ; epoch++ {
		loss, err := autoencoder.FitEpoch(ctx, samples, c.cfg.Training.BatchSize, parallel.Seed(c.cfg.Run.Seed, streamPretrain, epoch))
		if err != nil {
			return model.Wrap("pretrain", err)
		}
		if err := c.plots.epoch(epochRecord{Phase: "pretrain", Epoch: epoch, TrainLoss: loss}); err != nil {
			return err
		}
		if c.cfg.Run.Verbose {
			log.Printf("[Controller] Pretraining epoch %04d: reconstruction loss %.6f", epoch, loss)
		}
		if monitor.ShouldStop(epoch, loss) {
			break
		}
	}

	result := monitor.Result()
	if !result.Converged {
		c.degradedStart = true
		log.Printf("[Controller] Warning: autoencoder did not converge in %d epochs, continuing with best-effort weights", result.Epochs)
		c.logEventLevel("warn", "degraded_start", map[string]interface{}{
			"epochs": result.Epochs,
			"loss":   result.FinalLoss,
		})
	}

	if err := c.adapter.Initialize(autoencoder.Encoder()); err != nil {
		return model.Wrap("initialize", err)
	}
	log.Printf("[Controller] Pretraining finished after %d epochs (loss %.6f)", result.Epochs, result.FinalLoss)
	return nil
}
