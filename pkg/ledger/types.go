package ledger

import (
	"encoding/json"
	"fmt"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Validate checks that the status is one of the defined values.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusCompleted, RunStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// Run describes one invocation of the controller.
type Run struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Status      RunStatus `json:"status"`
	Termination string    `json:"termination,omitempty"`
	LastRound   int       `json:"last_round"`
	Seed        int64     `json:"seed"`
	Error       string    `json:"error,omitempty"`
	StartedAtMs int64     `json:"started_at_ms"`
	UpdatedAtMs int64     `json:"updated_at_ms"`
}

// Validate checks the run's required fields.
func (r *Run) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if r.Name == "" {
		return fmt.Errorf("run name is required")
	}
	if err := r.Status.Validate(); err != nil {
		return err
	}
	if r.LastRound < 0 {
		return fmt.Errorf("last_round must be >= 0, got %d", r.LastRound)
	}
	return nil
}

// UpdateRound is the immutable record of one loop iteration. Pool sizes
// refer to the Unlabeled pool unless named otherwise.
type UpdateRound struct {
	Index                  int            `json:"index"`
	State                  string         `json:"state"`
	QueriedSampleIDs       []string       `json:"queried_sample_ids"`
	PseudoLabeledSampleIDs []string       `json:"pseudo_labeled_sample_ids"`
	DemotedSampleIDs       []string       `json:"demoted_sample_ids"`
	PoolSizeBefore         int            `json:"pool_size_before"`
	PoolSizeAfter          int            `json:"pool_size_after"`
	PoolSizes              map[string]int `json:"pool_sizes"`
	Budget                 int            `json:"budget"`

	Epochs         int     `json:"epochs"`
	Converged      bool    `json:"converged"`
	TrainLoss      float64 `json:"train_loss"`
	ValidationLoss float64 `json:"validation_loss"`

	Threshold         float64 `json:"threshold"`
	ThresholdPassed   bool    `json:"threshold_passed"`
	ThresholdDegraded bool    `json:"threshold_degraded"`

	Accuracy          float64 `json:"accuracy"`
	MeanClassAccuracy float64 `json:"mean_class_accuracy"`
	F1                float64 `json:"f1"`

	StartedAtMs   int64 `json:"started_at_ms"`
	CompletedAtMs int64 `json:"completed_at_ms"`
}

// Validate checks round invariants: a positive index, ordered timestamps,
// and no sample both queried and pseudo-labeled.
func (r *UpdateRound) Validate() error {
	if r.Index < 1 {
		return fmt.Errorf("round index must be >= 1, got %d", r.Index)
	}
	if r.CompletedAtMs != 0 && r.CompletedAtMs < r.StartedAtMs {
		return fmt.Errorf("round %d completed before it started", r.Index)
	}
	queried := make(map[string]struct{}, len(r.QueriedSampleIDs))
	for _, id := range r.QueriedSampleIDs {
		queried[id] = struct{}{}
	}
	for _, id := range r.PseudoLabeledSampleIDs {
		if _, ok := queried[id]; ok {
			return fmt.Errorf("round %d: sample %s is both queried and pseudo-labeled", r.Index, id)
		}
	}
	return nil
}

// State is the resume point written with every round: the pool snapshot
// (JSON) and the model checkpoint (adapter-defined bytes).
type State struct {
	Round      int             `json:"round"`
	Snapshot   json.RawMessage `json:"snapshot"`
	Checkpoint []byte          `json:"checkpoint"`
}
