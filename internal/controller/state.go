package controller

import "fmt"

// State is a node of the controller's state machine.
type State string

const (
	StateInit              State = "init"
	StatePretraining       State = "pretraining"
	StateTraining          State = "training"
	StateConverged         State = "converged"
	StateCalibrating       State = "calibrating"
	StateQuerying          State = "querying"
	StateLabeling          State = "labeling"
	StateExhausted         State = "exhausted"
	StateMaxUpdatesReached State = "max_updates_reached"
	StateStagnated         State = "stagnated"
	StateUnconverged       State = "unconverged"
	StateDone              State = "done"
)

// Termination tells callers why a run ended, so "done" can be told apart
// from "gave up".
type Termination string

const (
	TerminationMaxUpdates  Termination = "max_updates_reached"
	TerminationExhausted   Termination = "pool_exhausted"
	TerminationStagnated   Termination = "selection_stagnated"
	TerminationUnconverged Termination = "unconverged"
)

// terminalStates maps each termination to the state that precedes done.
var terminalStates = map[Termination]State{
	TerminationMaxUpdates:  StateMaxUpdatesReached,
	TerminationExhausted:   StateExhausted,
	TerminationStagnated:   StateStagnated,
	TerminationUnconverged: StateUnconverged,
}

// transitions lists the legal successors of every state.
var transitions = map[State][]State{
	StateInit:              {StatePretraining, StateTraining},
	StatePretraining:       {StateTraining},
	StateTraining:          {StateConverged, StateUnconverged},
	StateConverged:         {StateCalibrating, StateExhausted, StateMaxUpdatesReached, StateStagnated},
	StateCalibrating:       {StateQuerying},
	StateQuerying:          {StateLabeling},
	StateLabeling:          {StateTraining},
	StateExhausted:         {StateDone},
	StateMaxUpdatesReached: {StateDone},
	StateStagnated:         {StateDone},
	StateUnconverged:       {StateDone},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transition moves the controller to the next state, refusing illegal moves.
func (c *Controller) transition(to State) error {
	from := c.state
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal state transition %s -> %s", from, to)
	}
	c.state = to
	if c.cfg.Run.Verbose {
		c.logEvent("state_transition", map[string]interface{}{
			"from":  string(from),
			"to":    string(to),
			"round": c.lastRound,
		})
	}
	return nil
}
