package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// Split moves a val_per fraction of the Train pool into Validation,
// stratified per class so both pools keep the class mix.
// Returns the number of samples moved.
func (s *Store) Split(valPer float64, rng *rand.Rand) (int, error) {
	if valPer <= 0 || valPer >= 1 {
		return 0, fmt.Errorf("val_per must be in (0,1), got %g", valPer)
	}

	byClass := make(map[int][]string)
	var classes []int
	for _, ex := range s.Examples(PoolTrain) {
		if _, ok := byClass[ex.Label]; !ok {
			classes = append(classes, ex.Label)
		}
		byClass[ex.Label] = append(byClass[ex.Label], ex.Sample.ID)
	}
	sort.Ints(classes)

	var move []string
	for _, c := range classes {
		ids := byClass[c]
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		k := int(math.Round(valPer * float64(len(ids))))
		if k >= len(ids) {
			k = len(ids) - 1
		}
		move = append(move, ids[:k]...)
	}

	if err := s.Move(move, PoolTrain, PoolValidation); err != nil {
		return 0, err
	}
	return len(move), nil
}

// Subset returns at most n members of a pool chosen uniformly at random,
// kept in insertion order. n <= 0 returns the whole pool.
func (s *Store) Subset(pool Pool, n int, rng *rand.Rand) []*Sample {
	all := s.Samples(pool)
	if n <= 0 || n >= len(all) {
		return all
	}
	picks := rng.Perm(len(all))[:n]
	sort.Ints(picks)
	out := make([]*Sample, n)
	for i, idx := range picks {
		out[i] = all[idx]
	}
	return out
}

// Balance oversamples every class up to the size of the largest one by
// drawing with replacement. The input is not modified and pool membership
// is untouched; the result is a training view, not a set of new samples.
func Balance(examples []Example, rng *rand.Rand) []Example {
	byClass := make(map[int][]Example)
	var classes []int
	largest := 0
	for _, ex := range examples {
		if _, ok := byClass[ex.Label]; !ok {
			classes = append(classes, ex.Label)
		}
		byClass[ex.Label] = append(byClass[ex.Label], ex)
		if n := len(byClass[ex.Label]); n > largest {
			largest = n
		}
	}
	sort.Ints(classes)

	out := make([]Example, 0, largest*len(classes))
	for _, c := range classes {
		group := byClass[c]
		out = append(out, group...)
		for n := len(group); n < largest; n++ {
			out = append(out, group[rng.Intn(len(group))])
		}
	}
	return out
}

// ClassWeights returns inverse-frequency loss weights, normalised so a
// perfectly balanced set yields 1 for every class. Absent classes get 0.
func ClassWeights(examples []Example, numClasses int) []float64 {
	counts := ClassCounts(examples, numClasses)
	weights := make([]float64, numClasses)
	present := 0
	for _, n := range counts {
		if n > 0 {
			present++
		}
	}
	if present == 0 {
		return weights
	}
	total := float64(len(examples))
	for c, n := range counts {
		if n > 0 {
			weights[c] = total / (float64(present) * float64(n))
		}
	}
	return weights
}

// ClassCounts counts examples per class; labels outside [0, numClasses) are ignored.
func ClassCounts(examples []Example, numClasses int) []int {
	counts := make([]int, numClasses)
	for _, ex := range examples {
		if ex.Label >= 0 && ex.Label < numClasses {
			counts[ex.Label]++
		}
	}
	return counts
}

// Snapshot is the serialisable pool state of a store.
type Snapshot struct {
	Membership   map[string]Pool `json:"membership"`
	Labels       map[string]int  `json:"labels"`
	PseudoLabels map[string]int  `json:"pseudo_labels"`
}

// Snapshot captures pool membership and every label the store knows.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Membership:   make(map[string]Pool, len(s.membership)),
		Labels:       make(map[string]int),
		PseudoLabels: make(map[string]int, len(s.pseudoLabels)),
	}
	for id, pool := range s.membership {
		snap.Membership[id] = pool
		if l := s.samples[id].TrueLabel; l != nil {
			snap.Labels[id] = *l
		}
	}
	for id, l := range s.pseudoLabels {
		snap.PseudoLabels[id] = l
	}
	return snap
}

// Restore applies a snapshot taken from a store over the same universe.
// Nothing changes unless the snapshot covers exactly this universe.
func (s *Store) Restore(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(snap.Membership) != len(s.samples) {
		return fmt.Errorf("snapshot covers %d samples, store holds %d", len(snap.Membership), len(s.samples))
	}
	for id, pool := range snap.Membership {
		if _, ok := s.samples[id]; !ok {
			return fmt.Errorf("snapshot references unknown sample %s", id)
		}
		if err := pool.Validate(); err != nil {
			return err
		}
	}
	for id := range snap.PseudoLabels {
		if snap.Membership[id] != PoolPseudo {
			return fmt.Errorf("snapshot pseudo label for %s outside the pseudo pool", id)
		}
	}

	s.counts = make(map[Pool]int)
	s.pseudoLabels = make(map[string]int, len(snap.PseudoLabels))
	for id, pool := range snap.Membership {
		sample := s.samples[id]
		s.membership[id] = pool
		s.counts[pool]++

		if l, ok := snap.Labels[id]; ok {
			label := l
			sample.TrueLabel = &label
		}
		switch pool {
		case PoolPseudo:
			s.pseudoLabels[id] = snap.PseudoLabels[id]
			sample.Source = SourcePseudo
		case PoolUnlabeled:
			sample.Source = SourceUnlabeled
		default:
			if sample.Source == SourceUnlabeled || sample.Source == SourcePseudo {
				sample.Source = SourceQueried
			}
		}
	}
	return nil
}
