package model

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/dyluth/sift/internal/config"
	"github.com/dyluth/sift/internal/dataset"
)

// Encoder is the trained half of an autoencoder: h = W x.
type Encoder struct {
	Inputs  int
	Hidden  int
	Weights []float64 // Hidden x Inputs, row-major
}

// Encode projects x into the hidden representation.
func (e *Encoder) Encode(x []float64) []float64 {
	h := make([]float64, e.Hidden)
	for j := range h {
		row := e.Weights[j*e.Inputs : (j+1)*e.Inputs]
		var z float64
		for i, v := range x {
			z += row[i] * v
		}
		h[j] = z
	}
	return h
}

func (e *Encoder) tensor() WeightTensor {
	return WeightTensor{Name: "encoder/kernel", Shape: []int{e.Hidden, e.Inputs}, Data: clone(e.Weights)}
}

func encoderFromTensor(t WeightTensor) (*Encoder, error) {
	if len(t.Shape) != 2 || t.Shape[0]*t.Shape[1] != len(t.Data) {
		return nil, fmt.Errorf("malformed encoder tensor: shape %v with %d values", t.Shape, len(t.Data))
	}
	return &Encoder{Hidden: t.Shape[0], Inputs: t.Shape[1], Weights: clone(t.Data)}, nil
}

// Autoencoder is a tied-weight linear autoencoder, x' = Wᵀ W x, trained on
// mean squared reconstruction error. It learns from every sample regardless
// of label, which is what makes it useful before any querying has happened.
type Autoencoder struct {
	enc *Encoder
	opt *adadelta
}

// NewAutoencoder builds an untrained autoencoder.
func NewAutoencoder(inputs int, cfg config.AutoencoderConfig, opt config.OptimiserConfig, seed int64) *Autoencoder {
	rng := rand.New(rand.NewSource(seed))
	w := make([]float64, cfg.Hidden*inputs)
	scale := 1 / math.Sqrt(float64(inputs))
	for i := range w {
		w[i] = rng.NormFloat64() * scale
	}
	return &Autoencoder{
		enc: &Encoder{Inputs: inputs, Hidden: cfg.Hidden, Weights: w},
		opt: newAdadelta(opt),
	}
}

// FitEpoch runs one shuffled pass of mini-batch Adadelta and returns the
// mean reconstruction error.
func (a *Autoencoder) FitEpoch(ctx context.Context, samples []*dataset.Sample, batchSize int, seed int64) (float64, error) {
	if len(samples) == 0 {
		return 0, fmt.Errorf("no samples to pretrain on")
	}
	if batchSize < 1 {
		batchSize = 32
	}
	e := a.enc
	rng := rand.New(rand.NewSource(seed))
	order := rng.Perm(len(samples))
	grad := make([]float64, len(e.Weights))

	var total float64
	for start := 0; start < len(order); start += batchSize {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		end := start + batchSize
		if end > len(order) {
			end = len(order)
		}
		for i := range grad {
			grad[i] = 0
		}

		for _, idx := range order[start:end] {
			x := samples[idx].Vector()
			if len(x) != e.Inputs {
				return 0, fmt.Errorf("sample %s has %d features, autoencoder expects %d", samples[idx].ID, len(x), e.Inputs)
			}
			h := e.Encode(x)

			// r = Wᵀh - x
			r := make([]float64, e.Inputs)
			for j, hj := range h {
				row := e.Weights[j*e.Inputs : (j+1)*e.Inputs]
				for i, w := range row {
					r[i] += w * hj
				}
			}
			var sq float64
			for i := range r {
				r[i] -= x[i]
				sq += r[i] * r[i]
			}
			total += sq / float64(e.Inputs)

			// dL/dW = 2/D (h rᵀ + (W r) xᵀ)
			wr := e.Encode(r)
			c := 2 / float64(e.Inputs)
			for j := 0; j < e.Hidden; j++ {
				row := grad[j*e.Inputs : (j+1)*e.Inputs]
				for i := range row {
					row[i] += c * (h[j]*r[i] + wr[j]*x[i])
				}
			}
		}

		n := float64(end - start)
		for i := range grad {
			grad[i] /= n
		}
		a.opt.update("encoder/kernel", e.Weights, grad)
		a.opt.step()
	}

	loss := total / float64(len(samples))
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, fmt.Errorf("pretraining diverged: loss is %v", loss)
	}
	return loss, nil
}

// Encoder returns a copy of the current encoder weights.
func (a *Autoencoder) Encoder() *Encoder {
	return &Encoder{Inputs: a.enc.Inputs, Hidden: a.enc.Hidden, Weights: clone(a.enc.Weights)}
}
