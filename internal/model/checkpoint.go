package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CheckpointVersion is written into every checkpoint's metadata.
const CheckpointVersion = "1.0"

// Checkpoint is the JSON document an adapter's state is saved as.
type Checkpoint struct {
	Weights   []WeightTensor `json:"weights"`
	Encoder   *WeightTensor  `json:"encoder,omitempty"`
	Optimizer OptimizerState `json:"optimizer_state"`
	Metadata  Metadata       `json:"metadata"`
}

// WeightTensor is one named parameter tensor, flattened row-major.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// OptimizerState holds the optimiser's running averages.
type OptimizerState struct {
	Type       string         `json:"type"`
	Iterations int            `json:"iterations"`
	State      []WeightTensor `json:"state_data,omitempty"`
}

// Metadata describes a checkpoint.
type Metadata struct {
	Version   string    `json:"version"`
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *Checkpoint) find(name string, size int) ([]float64, error) {
	for _, t := range c.Weights {
		if t.Name == name {
			if len(t.Data) != size {
				return nil, fmt.Errorf("checkpoint tensor %s has %d values, expected %d", name, len(t.Data), size)
			}
			return t.Data, nil
		}
	}
	return nil, fmt.Errorf("checkpoint has no tensor %s", name)
}

// SaveFile writes the adapter's checkpoint to path, replacing it atomically.
func SaveFile(adapter Adapter, path string) error {
	data, err := adapter.Checkpoint()
	if err != nil {
		return Wrap("checkpoint", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create model directory: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	return nil
}

// LoadFile restores the adapter from path. It reports false, without error,
// when no checkpoint exists there yet.
func LoadFile(adapter Adapter, path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	if err := adapter.Restore(data); err != nil {
		return false, Wrap("restore", err)
	}
	return true, nil
}
