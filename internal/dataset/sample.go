// Package dataset holds the sample universe of an active-learning run and
// its partition into the Train, Validation, Unlabeled and Pseudo pools.
//
// The Store is the only owner of pool membership. Membership is kept as a
// single id -> pool map, so a sample can never be in two pools at once and a
// promotion is always a move.
package dataset

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Pool names one of the four partitions of the sample universe.
type Pool string

const (
	PoolTrain      Pool = "train"
	PoolValidation Pool = "validation"
	PoolUnlabeled  Pool = "unlabeled"
	PoolPseudo     Pool = "pseudo"
)

// Pools lists every pool in a stable order.
var Pools = []Pool{PoolTrain, PoolValidation, PoolUnlabeled, PoolPseudo}

// Validate checks that p is a known pool.
func (p Pool) Validate() error {
	switch p {
	case PoolTrain, PoolValidation, PoolUnlabeled, PoolPseudo:
		return nil
	default:
		return fmt.Errorf("unknown pool: %s", p)
	}
}

// Source records how a sample obtained the label it is trained with.
type Source string

const (
	SourceUnlabeled Source = "unlabeled"
	SourceLabeled   Source = "labeled" // labeled at ingestion
	SourceQueried   Source = "queried" // labeled by the oracle after a query
	SourcePseudo    Source = "pseudo"  // machine label above the calibrated threshold
)

// Sample is one image patch. Features are never mutated after ingestion;
// the label, prediction and source fields are written only by the Store.
type Sample struct {
	ID       string
	CellID   string
	Features *tensor.Dense // [height, width, channels]

	TrueLabel      *int
	PredictedLabel *int
	Confidence     float64
	Source         Source
}

// NewSample wraps a flat feature vector into a [h, w, c] tensor.
func NewSample(id, cellID string, features []float64, shape []int) (*Sample, error) {
	want := 1
	for _, d := range shape {
		want *= d
	}
	if len(features) != want {
		return nil, fmt.Errorf("sample %s: expected %d features for shape %v, got %d", id, want, shape, len(features))
	}
	return &Sample{
		ID:       id,
		CellID:   cellID,
		Features: tensor.New(tensor.WithShape(shape...), tensor.WithBacking(features)),
		Source:   SourceUnlabeled,
	}, nil
}

// LayoutHWC and LayoutCHW name the feature orders a manifest may use.
const (
	LayoutHWC = "hwc"
	LayoutCHW = "chw"
)

// FromChannelsFirst reorders [c, h, w] features into the [h, w, c] layout
// samples are stored in. shape is the target [h, w, c] shape.
func FromChannelsFirst(features []float64, shape []int) ([]float64, error) {
	if len(shape) != 3 {
		return nil, fmt.Errorf("expected a [h, w, c] shape, got %v", shape)
	}
	h, w, c := shape[0], shape[1], shape[2]
	if len(features) != h*w*c {
		return nil, fmt.Errorf("expected %d features for shape %v, got %d", h*w*c, shape, len(features))
	}
	t := tensor.New(tensor.WithShape(c, h, w), tensor.WithBacking(append([]float64(nil), features...)))
	if err := t.T(1, 2, 0); err != nil {
		return nil, fmt.Errorf("failed to transpose features: %w", err)
	}
	if err := t.Transpose(); err != nil {
		return nil, fmt.Errorf("failed to transpose features: %w", err)
	}
	return t.Data().([]float64), nil
}

// Vector returns the features flattened in row-major [h, w, c] order.
func (s *Sample) Vector() []float64 {
	features := s.Features
	if features.IsMaterializable() {
		if dense, ok := features.Materialize().(*tensor.Dense); ok {
			features = dense
		}
	}
	switch data := features.Data().(type) {
	case []float64:
		return data
	case []float32:
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out
	default:
		return nil
	}
}

// Example is a sample paired with the label it is trained or evaluated with.
type Example struct {
	Sample *Sample
	Label  int
	Pseudo bool
}
