package model

import (
	"math"

	"github.com/dyluth/sift/internal/config"
)

// adadelta keeps the running averages for every named parameter tensor.
// The effective step is scaled by lr / (1 + decay*iterations).
type adadelta struct {
	cfg        config.OptimiserConfig
	iterations int
	accGrad    map[string][]float64
	accDelta   map[string][]float64
}

func newAdadelta(cfg config.OptimiserConfig) *adadelta {
	return &adadelta{
		cfg:      cfg,
		accGrad:  make(map[string][]float64),
		accDelta: make(map[string][]float64),
	}
}

func (a *adadelta) learningRate() float64 {
	return a.cfg.LearningRate / (1 + a.cfg.Decay*float64(a.iterations))
}

// update applies one step to params in place.
func (a *adadelta) update(name string, params, grads []float64) {
	eg, ed := a.accGrad[name], a.accDelta[name]
	if len(eg) != len(params) || len(ed) != len(params) {
		eg = make([]float64, len(params))
		ed = make([]float64, len(params))
		a.accGrad[name] = eg
		a.accDelta[name] = ed
	}
	rho, eps, lr := a.cfg.Rho, a.cfg.Epsilon, a.learningRate()

	for i, g := range grads {
		eg[i] = rho*eg[i] + (1-rho)*g*g
		delta := -math.Sqrt(ed[i]+eps) / math.Sqrt(eg[i]+eps) * g
		ed[i] = rho*ed[i] + (1-rho)*delta*delta
		params[i] += lr * delta
	}
}

// step marks the end of one mini-batch.
func (a *adadelta) step() {
	a.iterations++
}

func (a *adadelta) reset() {
	a.iterations = 0
	a.accGrad = make(map[string][]float64)
	a.accDelta = make(map[string][]float64)
}
