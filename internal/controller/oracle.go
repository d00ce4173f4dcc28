package controller

import (
	"context"

	"github.com/dyluth/sift/internal/dataset"
)

// Oracle supplies true labels for queried samples. Samples it cannot label
// are left out of the result and stay in the Unlabeled pool.
type Oracle interface {
	Label(ctx context.Context, ids []string) (map[string]int, error)
}

// SimulatedOracle answers from ground truth held back at ingestion.
type SimulatedOracle struct {
	answers dataset.Answers
}

// NewSimulatedOracle creates an oracle over the hidden answers.
func NewSimulatedOracle(answers dataset.Answers) *SimulatedOracle {
	return &SimulatedOracle{answers: answers}
}

// Label reveals the stored answer for every id that has one.
func (o *SimulatedOracle) Label(ctx context.Context, ids []string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(ids))
	for _, id := range ids {
		if label, ok := o.answers[id]; ok {
			out[id] = label
		}
	}
	return out, nil
}
