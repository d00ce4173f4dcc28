package model

import (
	"context"
	"fmt"
	"math"

	"github.com/dyluth/sift/internal/config"
	"github.com/dyluth/sift/internal/dataset"
	"github.com/dyluth/sift/internal/parallel"
)

// Estimate is the Monte-Carlo summary of one sample's predictions.
// Variance is the mean per-class variance across passes; it is only
// meaningful when Undefined is false (two or more passes).
type Estimate struct {
	SampleID   string
	Mean       []float64
	Variance   float64
	Entropy    float64
	Passes     int
	Undefined  bool
	Predicted  int
	Confidence float64
}

// Margin is the gap between the two most probable classes.
func (e Estimate) Margin() float64 {
	first, second := 0.0, 0.0
	for _, p := range e.Mean {
		if p > first {
			first, second = p, first
		} else if p > second {
			second = p
		}
	}
	return first - second
}

// Aggregate combines the per-pass distributions of one sample.
func Aggregate(sampleID string, passes [][]float64) Estimate {
	est := Estimate{SampleID: sampleID, Passes: len(passes), Undefined: len(passes) < 2}
	if len(passes) == 0 {
		return est
	}

	classes := len(passes[0])
	est.Mean = make([]float64, classes)
	for _, dist := range passes {
		for k, p := range dist {
			est.Mean[k] += p
		}
	}
	n := float64(len(passes))
	for k := range est.Mean {
		est.Mean[k] /= n
	}

	if !est.Undefined {
		var total float64
		for k := 0; k < classes; k++ {
			var ss float64
			for _, dist := range passes {
				d := dist[k] - est.Mean[k]
				ss += d * d
			}
			total += ss / n
		}
		est.Variance = total / float64(classes)
	}

	for k, p := range est.Mean {
		if p > 0 {
			est.Entropy -= p * math.Log(p)
		}
		if p > est.Mean[est.Predicted] {
			est.Predicted = k
		}
	}
	est.Confidence = est.Mean[est.Predicted]
	return est
}

// Estimator runs the stochastic forward passes behind an uncertainty estimate.
type Estimator struct {
	adapter  Adapter
	bayesian bool
	passes   int
	workers  int
	seed     int64
}

// NewEstimator builds an estimator for the given model section.
func NewEstimator(adapter Adapter, cfg config.ModelConfig, workers int, seed int64) *Estimator {
	if workers <= 0 {
		workers = parallel.DefaultWorkers()
	}
	return &Estimator{
		adapter:  adapter,
		bayesian: cfg.Bayesian,
		passes:   cfg.BayesianIterations,
		workers:  workers,
		seed:     seed,
	}
}

// Estimate returns one estimate per sample, in input order. With bayesian
// mode off, or a single iteration, it falls back to a deterministic pass and
// every estimate is Undefined.
func (e *Estimator) Estimate(ctx context.Context, samples []*dataset.Sample, round int) ([]Estimate, error) {
	if len(samples) == 0 {
		return nil, nil
	}

	var runs [][][]float64
	if !e.bayesian || e.passes < 2 {
		probs, err := e.adapter.Predict(ctx, samples)
		if err != nil {
			return nil, Wrap("predict", err)
		}
		if len(probs) != len(samples) {
			return nil, Wrap("predict", fmt.Errorf("returned %d predictions for %d samples", len(probs), len(samples)))
		}
		runs = [][][]float64{probs}
	} else {
		runs = make([][][]float64, e.passes)
		err := parallel.ForEach(ctx, e.passes, e.workers, func(ctx context.Context, i int) error {
			probs, err := e.adapter.PredictStochastic(ctx, samples, parallel.Seed(e.seed, round, i))
			if err != nil {
				return err
			}
			if len(probs) != len(samples) {
				return fmt.Errorf("pass %d returned %d predictions for %d samples", i, len(probs), len(samples))
			}
			runs[i] = probs
			return nil
		})
		if err != nil {
			return nil, Wrap("predict_stochastic", err)
		}
	}

	estimates := make([]Estimate, len(samples))
	passes := make([][]float64, len(runs))
	for s, sample := range samples {
		for p := range runs {
			passes[p] = runs[p][s]
		}
		estimates[s] = Aggregate(sample.ID, passes)
	}
	return estimates, nil
}
