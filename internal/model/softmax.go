package model

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/dyluth/sift/internal/config"
	"github.com/dyluth/sift/internal/dataset"
)

// Softmax is the reference adapter: a multinomial logistic regression over
// the flattened patch (or its encoding, once Initialize has been called),
// trained with Adadelta on class-weighted cross-entropy. Dropout on the
// inputs stays active in PredictStochastic, which is what makes repeated
// passes disagree.
type Softmax struct {
	mu sync.RWMutex

	inputs  int
	classes int
	dropout float64
	seed    int64

	encoder *Encoder
	weights []float64 // classes x features, row-major
	bias    []float64
	opt     *adadelta
}

// NewSoftmax builds an untrained classifier for inputs features.
func NewSoftmax(inputs, classes int, cfg config.ModelConfig, opt config.OptimiserConfig, seed int64) *Softmax {
	s := &Softmax{
		inputs:  inputs,
		classes: classes,
		dropout: cfg.Dropout,
		seed:    seed,
		opt:     newAdadelta(opt),
	}
	s.Reset()
	return s
}

func (s *Softmax) features() int {
	if s.encoder != nil {
		return s.encoder.Hidden
	}
	return s.inputs
}

// Reset re-initialises the classifier weights and optimiser state.
func (s *Softmax) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Softmax) resetLocked() {
	rng := rand.New(rand.NewSource(s.seed))
	n := s.features()
	scale := 1 / math.Sqrt(float64(n))
	s.weights = make([]float64, s.classes*n)
	for i := range s.weights {
		s.weights[i] = rng.NormFloat64() * 0.01 * scale
	}
	s.bias = make([]float64, s.classes)
	s.opt.reset()
}

// Initialize switches the classifier onto the encoder's representation.
// The classifier weights are re-initialised for the new input width.
func (s *Softmax) Initialize(enc *Encoder) error {
	if enc == nil {
		return nil
	}
	if enc.Inputs != s.inputs {
		return fmt.Errorf("encoder expects %d inputs, classifier has %d", enc.Inputs, s.inputs)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoder = enc
	s.resetLocked()
	return nil
}

func (s *Softmax) vector(sample *dataset.Sample) ([]float64, error) {
	shape := sample.Features.Shape()
	if shape.Dims() != 3 || shape.TotalSize() != s.inputs {
		return nil, fmt.Errorf("sample %s has shape %v, model expects %d features as [h, w, c]", sample.ID, shape, s.inputs)
	}
	return sample.Vector(), nil
}

// represent applies optional input dropout and the encoder.
func (s *Softmax) represent(x []float64, rng *rand.Rand) []float64 {
	if rng != nil && s.dropout > 0 {
		keep := 1 / (1 - s.dropout)
		dropped := make([]float64, len(x))
		for i, v := range x {
			if rng.Float64() >= s.dropout {
				dropped[i] = v * keep
			}
		}
		x = dropped
	}
	if s.encoder != nil {
		return s.encoder.Encode(x)
	}
	return x
}

// forward returns the class distribution for one representation.
func (s *Softmax) forward(h []float64) []float64 {
	n := len(h)
	out := make([]float64, s.classes)
	maxLogit := math.Inf(-1)
	for k := 0; k < s.classes; k++ {
		z := s.bias[k]
		row := s.weights[k*n : (k+1)*n]
		for i, v := range h {
			z += row[i] * v
		}
		out[k] = z
		maxLogit = math.Max(maxLogit, z)
	}
	var sum float64
	for k, z := range out {
		out[k] = math.Exp(z - maxLogit)
		sum += out[k]
	}
	for k := range out {
		out[k] /= sum
	}
	return out
}

func crossEntropy(p []float64, label int) float64 {
	return -math.Log(math.Max(p[label], 1e-12))
}

// FitEpoch shuffles the examples and runs mini-batch Adadelta over them.
func (s *Softmax) FitEpoch(ctx context.Context, examples []dataset.Example, opts FitOptions) (float64, error) {
	if len(examples) == 0 {
		return 0, fmt.Errorf("no training examples")
	}
	batchSize := opts.BatchSize
	if batchSize < 1 {
		batchSize = 32
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rng := rand.New(rand.NewSource(opts.Seed))
	order := rng.Perm(len(examples))
	n := s.features()
	gradW := make([]float64, len(s.weights))
	gradB := make([]float64, s.classes)

	var total, totalWeight float64
	for start := 0; start < len(order); start += batchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		end := start + batchSize
		if end > len(order) {
			end = len(order)
		}
		for i := range gradW {
			gradW[i] = 0
		}
		for k := range gradB {
			gradB[k] = 0
		}

		var batchWeight float64
		for _, idx := range order[start:end] {
			ex := examples[idx]
			if ex.Label < 0 || ex.Label >= s.classes {
				return 0, fmt.Errorf("sample %s has label %d outside [0,%d)", ex.Sample.ID, ex.Label, s.classes)
			}
			x, err := s.vector(ex.Sample)
			if err != nil {
				return 0, err
			}
			w := 1.0
			if opts.ClassWeights != nil {
				w = opts.ClassWeights[ex.Label]
			}

			h := s.represent(x, rng)
			p := s.forward(h)
			total += w * crossEntropy(p, ex.Label)
			totalWeight += w
			batchWeight += w

			for k := 0; k < s.classes; k++ {
				d := p[k]
				if k == ex.Label {
					d -= 1
				}
				d *= w
				gradB[k] += d
				row := gradW[k*n : (k+1)*n]
				for i, v := range h {
					row[i] += d * v
				}
			}
		}
		if batchWeight == 0 {
			continue
		}
		for i := range gradW {
			gradW[i] /= batchWeight
		}
		for k := range gradB {
			gradB[k] /= batchWeight
		}
		s.opt.update("dense/kernel", s.weights, gradW)
		s.opt.update("dense/bias", s.bias, gradB)
		s.opt.step()
	}

	if totalWeight == 0 {
		return 0, fmt.Errorf("all examples have zero class weight")
	}
	loss := total / totalWeight
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, fmt.Errorf("training diverged: loss is %v", loss)
	}
	return loss, nil
}

// Evaluate returns the mean unweighted cross-entropy without dropout.
func (s *Softmax) Evaluate(ctx context.Context, examples []dataset.Example) (float64, error) {
	if len(examples) == 0 {
		return 0, fmt.Errorf("no evaluation examples")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total float64
	for _, ex := range examples {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		x, err := s.vector(ex.Sample)
		if err != nil {
			return 0, err
		}
		total += crossEntropy(s.forward(s.represent(x, nil)), ex.Label)
	}
	return total / float64(len(examples)), nil
}

// Predict returns deterministic class distributions.
func (s *Softmax) Predict(ctx context.Context, samples []*dataset.Sample) ([][]float64, error) {
	return s.predict(ctx, samples, nil)
}

// PredictStochastic returns class distributions with input dropout active.
func (s *Softmax) PredictStochastic(ctx context.Context, samples []*dataset.Sample, seed int64) ([][]float64, error) {
	return s.predict(ctx, samples, rand.New(rand.NewSource(seed)))
}

func (s *Softmax) predict(ctx context.Context, samples []*dataset.Sample, rng *rand.Rand) ([][]float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([][]float64, len(samples))
	for i, sample := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		x, err := s.vector(sample)
		if err != nil {
			return nil, err
		}
		out[i] = s.forward(s.represent(x, rng))
	}
	return out, nil
}

// Checkpoint serialises weights, optimiser state and the encoder as JSON.
func (s *Softmax) Checkpoint() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.features()
	cp := Checkpoint{
		Weights: []WeightTensor{
			{Name: "dense/kernel", Shape: []int{s.classes, n}, Data: clone(s.weights)},
			{Name: "dense/bias", Shape: []int{s.classes}, Data: clone(s.bias)},
		},
		Optimizer: OptimizerState{
			Type:       "adadelta",
			Iterations: s.opt.iterations,
		},
		Metadata: Metadata{
			Version:   CheckpointVersion,
			Model:     "softmax",
			CreatedAt: time.Now().UTC(),
		},
	}
	for _, name := range []string{"dense/kernel", "dense/bias"} {
		if acc, ok := s.opt.accGrad[name]; ok {
			cp.Optimizer.State = append(cp.Optimizer.State,
				WeightTensor{Name: name + "/accumulated_grad", Shape: []int{len(acc)}, Data: clone(acc)},
				WeightTensor{Name: name + "/accumulated_delta", Shape: []int{len(acc)}, Data: clone(s.opt.accDelta[name])},
			)
		}
	}
	if s.encoder != nil {
		enc := s.encoder.tensor()
		cp.Encoder = &enc
	}
	return json.Marshal(cp)
}

// Restore loads a checkpoint written by Checkpoint.
func (s *Softmax) Restore(data []byte) error {
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if cp.Metadata.Model != "softmax" {
		return fmt.Errorf("checkpoint is for model %q, not softmax", cp.Metadata.Model)
	}

	var encoder *Encoder
	n := s.inputs
	if cp.Encoder != nil {
		enc, err := encoderFromTensor(*cp.Encoder)
		if err != nil {
			return err
		}
		if enc.Inputs != s.inputs {
			return fmt.Errorf("checkpoint encoder expects %d inputs, model has %d", enc.Inputs, s.inputs)
		}
		encoder = enc
		n = enc.Hidden
	}

	kernel, err := cp.find("dense/kernel", s.classes*n)
	if err != nil {
		return err
	}
	bias, err := cp.find("dense/bias", s.classes)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.encoder = encoder
	s.weights = clone(kernel)
	s.bias = clone(bias)
	s.opt.reset()
	s.opt.iterations = cp.Optimizer.Iterations
	for _, t := range cp.Optimizer.State {
		switch {
		case strings.HasSuffix(t.Name, "/accumulated_grad"):
			s.opt.accGrad[strings.TrimSuffix(t.Name, "/accumulated_grad")] = clone(t.Data)
		case strings.HasSuffix(t.Name, "/accumulated_delta"):
			s.opt.accDelta[strings.TrimSuffix(t.Name, "/accumulated_delta")] = clone(t.Data)
		}
	}
	return nil
}

func clone(v []float64) []float64 {
	return append([]float64(nil), v...)
}
