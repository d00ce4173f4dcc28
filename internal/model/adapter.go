// Package model defines the classifier collaborator the controller trains,
// the Monte-Carlo estimator built on top of it, and a reference softmax
// implementation with an optional autoencoder pretraining stage.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/dyluth/sift/internal/dataset"
)

// FitOptions parameterise one training epoch.
type FitOptions struct {
	BatchSize    int
	ClassWeights []float64 // nil = unweighted
	Seed         int64     // shuffling and dropout
}

// Adapter is the pluggable classifier. Predict and PredictStochastic must be
// safe to call concurrently with each other; FitEpoch is never called
// concurrently with anything else.
type Adapter interface {
	// FitEpoch runs one pass over the examples and returns the mean training loss.
	FitEpoch(ctx context.Context, examples []dataset.Example, opts FitOptions) (float64, error)
	// Evaluate returns the mean loss over the examples without updating weights.
	Evaluate(ctx context.Context, examples []dataset.Example) (float64, error)
	// Predict returns one class distribution per sample.
	Predict(ctx context.Context, samples []*dataset.Sample) ([][]float64, error)
	// PredictStochastic is Predict with dropout kept active, seeded for reproducibility.
	PredictStochastic(ctx context.Context, samples []*dataset.Sample, seed int64) ([][]float64, error)
	// Reset discards trained weights, keeping any pretrained encoder.
	Reset()
	// Initialize hands pretrained encoder weights to the classifier.
	Initialize(enc *Encoder) error
	Checkpoint() ([]byte, error)
	Restore(data []byte) error
}

// AdapterError wraps a failure of the underlying model. It is fatal for the
// round in which it occurs.
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("model %s failed: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Wrap turns err into an *AdapterError for op. nil stays nil and an existing
// AdapterError is returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var adapterErr *AdapterError
	if errors.As(err, &adapterErr) {
		return err
	}
	return &AdapterError{Op: op, Err: err}
}

// IsAdapterError reports whether err carries an *AdapterError.
func IsAdapterError(err error) bool {
	var adapterErr *AdapterError
	return errors.As(err, &adapterErr)
}
