package controller

import (
	"time"

	"github.com/dyluth/sift/internal/calibration"
	"github.com/dyluth/sift/internal/dataset"
	"github.com/dyluth/sift/internal/model"
	"github.com/dyluth/sift/pkg/ledger"
)

// Report is what a finished run hands back to its caller.
type Report struct {
	RunID       string
	RunName     string
	Termination Termination
	Rounds      int
	Queried     int
	PoolSizes   map[dataset.Pool]int

	// Threshold and Metrics come from the last calibration, if any round ran.
	Threshold calibration.Threshold
	Metrics   model.Metrics

	// Epochs, FinalLoss and Converged describe the final training phase.
	Epochs        int
	FinalLoss     float64
	Converged     bool
	DegradedStart bool

	History []*ledger.UpdateRound
	Cells   []model.CellPrediction

	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration is the wall-clock time of the run (of this invocation when resumed).
func (r *Report) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
