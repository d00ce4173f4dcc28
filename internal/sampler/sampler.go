// Package sampler chooses which unlabeled samples to send to the oracle next.
package sampler

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/dyluth/sift/internal/config"
	"github.com/dyluth/sift/internal/model"
	"github.com/dyluth/sift/internal/parallel"
)

// Strategy scores an estimate; higher scores are queried first.
type Strategy interface {
	Name() string
	Score(est model.Estimate) float64
}

// Uncertainty ranks by predictive variance, falling back to entropy when
// the estimate came from a single pass.
type Uncertainty struct{}

func (Uncertainty) Name() string { return config.SelectionUncertainty }

func (Uncertainty) Score(est model.Estimate) float64 {
	if est.Undefined {
		return est.Entropy
	}
	return est.Variance
}

// Entropy ranks by the entropy of the mean distribution.
type Entropy struct{}

func (Entropy) Name() string { return config.SelectionEntropy }

func (Entropy) Score(est model.Estimate) float64 { return est.Entropy }

// Margin ranks by how close the top two classes are.
type Margin struct{}

func (Margin) Name() string { return config.SelectionMargin }

func (Margin) Score(est model.Estimate) float64 { return -est.Margin() }

// Random ignores the model entirely; selection is a seeded random subset.
type Random struct{}

func (Random) Name() string { return config.SelectionNone }

func (Random) Score(model.Estimate) float64 { return 0 }

// StrategyFor resolves a selection policy name.
func StrategyFor(name string) (Strategy, error) {
	switch name {
	case config.SelectionNone:
		return Random{}, nil
	case config.SelectionUncertainty:
		return Uncertainty{}, nil
	case config.SelectionEntropy:
		return Entropy{}, nil
	case config.SelectionMargin:
		return Margin{}, nil
	default:
		return nil, &config.ConfigError{Field: "active.selection", Reason: fmt.Sprintf("invalid selection: %s", name)}
	}
}

// Sampler applies the configured strategy under the round budget.
type Sampler struct {
	cfg      config.ActiveConfig
	strategy Strategy
	seed     int64
}

// New resolves the strategy once, at construction.
func New(cfg config.ActiveConfig, seed int64) (*Sampler, error) {
	strategy, err := StrategyFor(cfg.Selection)
	if err != nil {
		return nil, err
	}
	return &Sampler{cfg: cfg, strategy: strategy, seed: seed}, nil
}

// Strategy returns the resolved strategy.
func (s *Sampler) Strategy() Strategy {
	return s.strategy
}

// Budget returns how many samples round (1-based) may query from a pool of
// poolSize: first_update in round 1, afterwards
// min(max_update_size, ceil(update_per*poolSize)), never more than the pool.
func (s *Sampler) Budget(round, poolSize int) int {
	var budget int
	if round <= 1 {
		budget = s.cfg.FirstUpdate
	} else {
		// the epsilon keeps 0.1*900 from rounding up to 91
		budget = int(math.Ceil(s.cfg.UpdatePer*float64(poolSize) - 1e-9))
		if budget > s.cfg.MaxUpdateSize {
			budget = s.cfg.MaxUpdateSize
		}
	}
	if budget > poolSize {
		budget = poolSize
	}
	if budget < 0 {
		budget = 0
	}
	return budget
}

// SelectNext returns up to budget sample ids. Candidates are expected in
// unlabeled-pool insertion order, which breaks ties between equal scores.
func (s *Sampler) SelectNext(candidates []model.Estimate, budget int, round int) []string {
	if len(candidates) == 0 || budget <= 0 {
		return []string{}
	}
	if budget > len(candidates) {
		budget = len(candidates)
	}

	if _, random := s.strategy.(Random); random {
		rng := rand.New(rand.NewSource(parallel.Seed(s.seed, round)))
		picks := rng.Perm(len(candidates))[:budget]
		sort.Ints(picks)
		out := make([]string, budget)
		for i, idx := range picks {
			out[i] = candidates[idx].SampleID
		}
		return out
	}

	type scored struct {
		id    string
		score float64
	}
	ranked := make([]scored, len(candidates))
	for i, c := range candidates {
		ranked[i] = scored{id: c.SampleID, score: s.strategy.Score(c)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	out := make([]string, budget)
	for i := range out {
		out[i] = ranked[i].id
	}
	return out
}
