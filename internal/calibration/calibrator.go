// Package calibration turns validation predictions into a confidence
// threshold by bootstrap resampling, and shortlists the unlabeled estimates
// confident enough to be pseudo-labeled.
package calibration

import (
	"context"
	"fmt"
	"log"
	"math"
	"math/rand"
	"sort"

	"github.com/dyluth/sift/internal/config"
	"github.com/dyluth/sift/internal/model"
	"github.com/dyluth/sift/internal/parallel"
)

// Observation is one validation prediction.
type Observation struct {
	Predicted  int
	Truth      int
	Confidence float64
}

// Threshold is the result of one calibration.
type Threshold struct {
	Value           float64 `json:"value"`
	Passed          bool    `json:"passed"`
	Degraded        bool    `json:"degraded"`
	ComputedAtRound int     `json:"computed_at_round"`
	Resamples       int     `json:"resamples"`
	StdDev          float64 `json:"std_dev"`
}

// Calibrator runs bootstrap resamples on a bounded worker pool.
type Calibrator struct {
	cfg     config.BootstrapConfig
	workers int
	seed    int64
}

// NewCalibrator validates the statistic and builds a calibrator.
func NewCalibrator(cfg config.BootstrapConfig, workers int, seed int64) (*Calibrator, error) {
	if _, err := statisticFunc(cfg.Statistic); err != nil {
		return nil, err
	}
	if cfg.BootstrapNumber < 1 || cfg.BootstrapSize < 1 {
		return nil, &config.ConfigError{Field: "bootstrap", Reason: "bootstrap_number and bootstrap_size must be >= 1"}
	}
	if workers <= 0 {
		workers = parallel.DefaultWorkers()
	}
	return &Calibrator{cfg: cfg, workers: workers, seed: seed}, nil
}

type statistic func(sample []Observation) float64

func statisticFunc(name string) (statistic, error) {
	switch name {
	case config.StatisticAccuracy:
		return accuracy, nil
	case config.StatisticConfidence:
		return meanConfidence, nil
	case config.StatisticCorrectConfidence:
		return correctConfidence, nil
	default:
		return nil, &config.ConfigError{Field: "bootstrap.statistic", Reason: fmt.Sprintf("invalid statistic: %s", name)}
	}
}

func accuracy(sample []Observation) float64 {
	correct := 0
	for _, o := range sample {
		if o.Predicted == o.Truth {
			correct++
		}
	}
	return float64(correct) / float64(len(sample))
}

func meanConfidence(sample []Observation) float64 {
	var sum float64
	for _, o := range sample {
		sum += o.Confidence
	}
	return sum / float64(len(sample))
}

// correctConfidence is the mean confidence of the correct predictions only;
// a resample with none scores 0.
func correctConfidence(sample []Observation) float64 {
	var sum float64
	n := 0
	for _, o := range sample {
		if o.Predicted == o.Truth {
			sum += o.Confidence
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Calibrate draws bootstrap_number resamples of bootstrap_size observations
// with replacement and averages the configured statistic over them.
// Resample i of a round always uses the same generator, so a fixed seed and
// pool give the same threshold regardless of scheduling.
func (c *Calibrator) Calibrate(ctx context.Context, observations []Observation, round int) (Threshold, error) {
	stat, err := statisticFunc(c.cfg.Statistic)
	if err != nil {
		return Threshold{}, err
	}

	th := Threshold{ComputedAtRound: round}
	if len(observations) == 0 {
		log.Printf("[Calibrator] calibration_degraded: round %d has no validation observations", round)
		th.Value = 1
		th.Degraded = true
		return th, nil
	}

	size := c.cfg.BootstrapSize
	if len(observations) < size {
		log.Printf("[Calibrator] calibration_degraded: pool of %d is smaller than bootstrap_size %d", len(observations), size)
		th.Degraded = true
	}

	values := make([]float64, c.cfg.BootstrapNumber)
	err = parallel.ForEach(ctx, len(values), c.workers, func(ctx context.Context, i int) error {
		rng := rand.New(rand.NewSource(parallel.Seed(c.seed, round, i)))
		sample := make([]Observation, size)
		for j := range sample {
			sample[j] = observations[rng.Intn(len(observations))]
		}
		values[i] = clamp01(stat(sample))
		return nil
	})
	if err != nil {
		return Threshold{}, fmt.Errorf("bootstrap resampling aborted: %w", err)
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		ss += (v - mean) * (v - mean)
	}

	th.Value = clamp01(mean)
	th.StdDev = math.Sqrt(ss / float64(len(values)))
	th.Resamples = len(values)
	th.Passed = th.Value >= c.cfg.BootstrapThreshold
	return th, nil
}

// Shortlist returns the most confident estimates, at most `shortlist` of
// them (0 = no limit). Equal confidences keep their input order.
func (c *Calibrator) Shortlist(estimates []model.Estimate) []model.Estimate {
	out := append([]model.Estimate(nil), estimates...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Confidence > out[j].Confidence
	})
	if n := c.cfg.Shortlist; n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
