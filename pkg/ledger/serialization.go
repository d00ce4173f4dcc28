package ledger

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Scalars are stored as individual hash fields so rounds can be inspected
// with redis-cli; slices and maps are JSON-encoded into single fields.

// RunToHash converts a Run to a Redis hash.
func RunToHash(r *Run) map[string]interface{} {
	return map[string]interface{}{
		"id":            r.ID,
		"name":          r.Name,
		"status":        string(r.Status),
		"termination":   r.Termination,
		"last_round":    r.LastRound,
		"seed":          r.Seed,
		"error":         r.Error,
		"started_at_ms": r.StartedAtMs,
		"updated_at_ms": r.UpdatedAtMs,
	}
}

// HashToRun converts a Redis hash to a Run.
func HashToRun(hash map[string]string) (*Run, error) {
	lastRound, err := strconv.Atoi(hash["last_round"])
	if err != nil {
		return nil, fmt.Errorf("invalid last_round field: %w", err)
	}
	seed, _ := strconv.ParseInt(hash["seed"], 10, 64)
	startedAtMs, _ := strconv.ParseInt(hash["started_at_ms"], 10, 64)
	updatedAtMs, _ := strconv.ParseInt(hash["updated_at_ms"], 10, 64)

	return &Run{
		ID:          hash["id"],
		Name:        hash["name"],
		Status:      RunStatus(hash["status"]),
		Termination: hash["termination"],
		LastRound:   lastRound,
		Seed:        seed,
		Error:       hash["error"],
		StartedAtMs: startedAtMs,
		UpdatedAtMs: updatedAtMs,
	}, nil
}

// RoundToHash converts an UpdateRound to a Redis hash.
func RoundToHash(r *UpdateRound) (map[string]interface{}, error) {
	queried, err := json.Marshal(nonNil(r.QueriedSampleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal queried_sample_ids: %w", err)
	}
	pseudo, err := json.Marshal(nonNil(r.PseudoLabeledSampleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pseudo_labeled_sample_ids: %w", err)
	}
	demoted, err := json.Marshal(nonNil(r.DemotedSampleIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal demoted_sample_ids: %w", err)
	}
	sizes, err := json.Marshal(r.PoolSizes)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal pool_sizes: %w", err)
	}

	return map[string]interface{}{
		"index":                     r.Index,
		"state":                     r.State,
		"queried_sample_ids":        string(queried),
		"pseudo_labeled_sample_ids": string(pseudo),
		"demoted_sample_ids":        string(demoted),
		"pool_size_before":          r.PoolSizeBefore,
		"pool_size_after":           r.PoolSizeAfter,
		"pool_sizes":                string(sizes),
		"budget":                    r.Budget,
		"epochs":                    r.Epochs,
		"converged":                 r.Converged,
		"train_loss":                r.TrainLoss,
		"validation_loss":           r.ValidationLoss,
		"threshold":                 r.Threshold,
		"threshold_passed":          r.ThresholdPassed,
		"threshold_degraded":        r.ThresholdDegraded,
		"accuracy":                  r.Accuracy,
		"mean_class_accuracy":       r.MeanClassAccuracy,
		"f1":                        r.F1,
		"started_at_ms":             r.StartedAtMs,
		"completed_at_ms":           r.CompletedAtMs,
	}, nil
}

// HashToRound converts a Redis hash to an UpdateRound.
func HashToRound(hash map[string]string) (*UpdateRound, error) {
	index, err := strconv.Atoi(hash["index"])
	if err != nil {
		return nil, fmt.Errorf("invalid index field: %w", err)
	}

	r := &UpdateRound{Index: index, State: hash["state"]}
	for field, dst := range map[string]*[]string{
		"queried_sample_ids":        &r.QueriedSampleIDs,
		"pseudo_labeled_sample_ids": &r.PseudoLabeledSampleIDs,
		"demoted_sample_ids":        &r.DemotedSampleIDs,
	} {
		if raw := hash[field]; raw != "" {
			if err := json.Unmarshal([]byte(raw), dst); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s: %w", field, err)
			}
		}
		*dst = nonNil(*dst)
	}
	if raw := hash["pool_sizes"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &r.PoolSizes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal pool_sizes: %w", err)
		}
	}

	r.PoolSizeBefore, _ = strconv.Atoi(hash["pool_size_before"])
	r.PoolSizeAfter, _ = strconv.Atoi(hash["pool_size_after"])
	r.Budget, _ = strconv.Atoi(hash["budget"])
	r.Epochs, _ = strconv.Atoi(hash["epochs"])
	r.Converged, _ = strconv.ParseBool(hash["converged"])
	r.TrainLoss, _ = strconv.ParseFloat(hash["train_loss"], 64)
	r.ValidationLoss, _ = strconv.ParseFloat(hash["validation_loss"], 64)
	r.Threshold, _ = strconv.ParseFloat(hash["threshold"], 64)
	r.ThresholdPassed, _ = strconv.ParseBool(hash["threshold_passed"])
	r.ThresholdDegraded, _ = strconv.ParseBool(hash["threshold_degraded"])
	r.Accuracy, _ = strconv.ParseFloat(hash["accuracy"], 64)
	r.MeanClassAccuracy, _ = strconv.ParseFloat(hash["mean_class_accuracy"], 64)
	r.F1, _ = strconv.ParseFloat(hash["f1"], 64)
	r.StartedAtMs, _ = strconv.ParseInt(hash["started_at_ms"], 10, 64)
	r.CompletedAtMs, _ = strconv.ParseInt(hash["completed_at_ms"], 10, 64)

	return r, nil
}

// StateToHash converts a State to a Redis hash. The checkpoint is
// base64-encoded since adapters may write arbitrary bytes.
func StateToHash(s *State) map[string]interface{} {
	return map[string]interface{}{
		"round":      s.Round,
		"snapshot":   string(s.Snapshot),
		"checkpoint": base64.StdEncoding.EncodeToString(s.Checkpoint),
	}
}

// HashToState converts a Redis hash to a State.
func HashToState(hash map[string]string) (*State, error) {
	round, err := strconv.Atoi(hash["round"])
	if err != nil {
		return nil, fmt.Errorf("invalid round field: %w", err)
	}
	checkpoint, err := base64.StdEncoding.DecodeString(hash["checkpoint"])
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	s := &State{Round: round, Checkpoint: checkpoint}
	if raw := hash["snapshot"]; raw != "" {
		s.Snapshot = json.RawMessage(raw)
	}
	return s, nil
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
