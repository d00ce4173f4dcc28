// Package convergence decides, one validation check at a time, when a training round stops.
package convergence

import (
	"math"

	"github.com/dyluth/sift/internal/config"
)

// StopReason names why a training round ended.
type StopReason string

const (
	StopNone    StopReason = ""
	StopCap     StopReason = "cap"     // max_epochs reached
	StopPlateau StopReason = "plateau" // trailing-window improvement below threshold
)

// State is the loss history of one training round.
type State struct {
	Epoch                  int
	LossHistory            []float64
	BestLoss               float64
	EpochsSinceImprovement int
}

// Result summarises a finished training round.
// Improving is true when the last trailing window still improved by at least
// the threshold, which for a capped round means it was cut short.
type Result struct {
	StoppedBy StopReason
	Epochs    int
	BestLoss  float64
	FinalLoss float64
	Converged bool
	Improving bool
}

// Monitor owns the convergence state for a single training round.
// It is not safe for concurrent use; a round is driven by one goroutine.
type Monitor struct {
	cfg       config.ConvergeConfig
	state     State
	stoppedBy StopReason
}

// NewMonitor validates the parameters and returns a fresh monitor.
func NewMonitor(cfg config.ConvergeConfig) (*Monitor, error) {
	if cfg.Policy == "" {
		cfg.Policy = config.PolicyAbsolute
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Monitor{cfg: cfg}
	m.Reset()
	return m, nil
}

// Reset clears the history at the start of a training round.
func (m *Monitor) Reset() {
	m.state = State{BestLoss: math.Inf(1)}
	m.stoppedBy = StopNone
}

// ShouldStop records the loss seen at a convergence check and reports whether
// training should stop. epoch is the number of completed epochs (1-based);
// checks arrive in order and the trailing window spans batch_epochs checks.
func (m *Monitor) ShouldStop(epoch int, loss float64) bool {
	m.record(epoch, loss)

	if epoch >= m.cfg.MaxEpochs {
		m.stoppedBy = StopCap
		return true
	}
	if epoch < m.cfg.MinEpochs {
		return false
	}
	if improvement, ok := m.improvement(); ok && improvement < m.cfg.TrainingThreshold {
		m.stoppedBy = StopPlateau
		return true
	}
	return false
}

func (m *Monitor) record(epoch int, loss float64) {
	m.state.LossHistory = append(m.state.LossHistory, loss)
	m.state.Epoch = epoch

	if loss < m.state.BestLoss {
		m.state.BestLoss = loss
		m.state.EpochsSinceImprovement = 0
	} else {
		m.state.EpochsSinceImprovement++
	}
}

// improvement returns loss[epoch-batch] - min(loss[epoch-batch+1 .. epoch]),
// scaled by the reference loss under the relative policy. ok is false until
// the window is full.
func (m *Monitor) improvement() (float64, bool) {
	h := m.state.LossHistory
	batch := m.cfg.BatchEpochs
	epoch := len(h)
	if epoch-batch < 1 {
		return 0, false
	}

	ref := h[epoch-batch-1]
	best := math.Inf(1)
	for _, l := range h[epoch-batch:] {
		best = math.Min(best, l)
	}
	delta := ref - best

	if m.cfg.Policy == config.PolicyRelative {
		if ref == 0 {
			return 0, true
		}
		delta /= math.Abs(ref)
	}
	return delta, true
}

// State returns a copy of the current convergence state.
func (m *Monitor) State() State {
	s := m.state
	s.LossHistory = append([]float64(nil), m.state.LossHistory...)
	return s
}

// Result reports how the round ended. Call it after ShouldStop returned true.
func (m *Monitor) Result() Result {
	r := Result{
		StoppedBy: m.stoppedBy,
		Epochs:    m.state.Epoch,
		BestLoss:  m.state.BestLoss,
	}
	if n := len(m.state.LossHistory); n > 0 {
		r.FinalLoss = m.state.LossHistory[n-1]
	}

	improvement, full := m.improvement()
	r.Improving = full && improvement >= m.cfg.TrainingThreshold

	switch m.stoppedBy {
	case StopPlateau:
		r.Converged = true
	case StopCap:
		// a capped round whose last window stopped moving has still settled
		r.Converged = !r.Improving
	}
	return r
}
