package dataset

import (
	"fmt"
	"sync"
)

// Store owns every Sample and its pool membership.
// It is safe for concurrent readers; the controller is its only writer.
type Store struct {
	mu           sync.RWMutex
	samples      map[string]*Sample
	order        []string // insertion order
	membership   map[string]Pool
	counts       map[Pool]int
	pseudoLabels map[string]int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		samples:      make(map[string]*Sample),
		membership:   make(map[string]Pool),
		counts:       make(map[Pool]int),
		pseudoLabels: make(map[string]int),
	}
}

// Add ingests a sample into the given pool. Samples added to Train or
// Validation must carry a TrueLabel; Pseudo cannot be targeted directly.
func (s *Store) Add(sample *Sample, pool Pool) error {
	if err := pool.Validate(); err != nil {
		return err
	}
	if sample == nil || sample.ID == "" {
		return fmt.Errorf("sample must have an id")
	}
	if pool == PoolPseudo {
		return fmt.Errorf("sample %s: cannot ingest directly into the pseudo pool", sample.ID)
	}
	if (pool == PoolTrain || pool == PoolValidation) && sample.TrueLabel == nil {
		return fmt.Errorf("sample %s: %s pool requires a label", sample.ID, pool)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.samples[sample.ID]; exists {
		return fmt.Errorf("duplicate sample id: %s", sample.ID)
	}
	if pool == PoolUnlabeled {
		sample.Source = SourceUnlabeled
	} else {
		sample.Source = SourceLabeled
	}

	s.samples[sample.ID] = sample
	s.order = append(s.order, sample.ID)
	s.membership[sample.ID] = pool
	s.counts[pool]++
	return nil
}

// Get returns a sample by id.
func (s *Store) Get(id string) (*Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sample, ok := s.samples[id]
	return sample, ok
}

// PoolOf reports which pool a sample currently belongs to.
func (s *Store) PoolOf(id string) (Pool, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pool, ok := s.membership[id]
	return pool, ok
}

// Size returns the number of samples in a pool.
func (s *Store) Size(pool Pool) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counts[pool]
}

// Len returns the size of the whole universe.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Sizes returns the size of every pool.
func (s *Store) Sizes() map[Pool]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Pool]int, len(Pools))
	for _, p := range Pools {
		out[p] = s.counts[p]
	}
	return out
}

// Samples returns the members of a pool in insertion order.
func (s *Store) Samples(pool Pool) []*Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Sample, 0, s.counts[pool])
	for _, id := range s.order {
		if s.membership[id] == pool {
			out = append(out, s.samples[id])
		}
	}
	return out
}

// IDs returns the ids of a pool in insertion order.
func (s *Store) IDs(pool Pool) []string {
	samples := s.Samples(pool)
	ids := make([]string, len(samples))
	for i, sample := range samples {
		ids[i] = sample.ID
	}
	return ids
}

// Examples returns the labeled members of a pool. Pseudo members carry the
// label they were promoted with.
func (s *Store) Examples(pool Pool) []Example {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Example, 0, s.counts[pool])
	for _, id := range s.order {
		if s.membership[id] != pool {
			continue
		}
		sample := s.samples[id]
		if pool == PoolPseudo {
			out = append(out, Example{Sample: sample, Label: s.pseudoLabels[id], Pseudo: true})
		} else if sample.TrueLabel != nil {
			out = append(out, Example{Sample: sample, Label: *sample.TrueLabel})
		}
	}
	return out
}

// PseudoLabel returns the label a pseudo sample was promoted with.
func (s *Store) PseudoLabel(id string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	label, ok := s.pseudoLabels[id]
	return label, ok
}

// Annotate attaches the latest inference result to a sample.
func (s *Store) Annotate(id string, predicted int, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample, ok := s.samples[id]
	if !ok {
		return fmt.Errorf("unknown sample: %s", id)
	}
	label := predicted
	sample.PredictedLabel = &label
	sample.Confidence = confidence
	return nil
}

// Label records an oracle answer for an unlabeled sample. The sample stays
// in the Unlabeled pool until it is moved.
func (s *Store) Label(id string, label int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sample, ok := s.samples[id]
	if !ok {
		return fmt.Errorf("unknown sample: %s", id)
	}
	if s.membership[id] != PoolUnlabeled {
		return fmt.Errorf("sample %s is in %s, only unlabeled samples can be labeled", id, s.membership[id])
	}
	l := label
	sample.TrueLabel = &l
	return nil
}

// Move transfers samples between pools. Either every id moves or none does.
//
// Moving into Train or Validation requires a TrueLabel; moving into Pseudo
// requires a PredictedLabel, which is frozen as the pseudo label.
func (s *Store) Move(ids []string, from, to Pool) error {
	if err := from.Validate(); err != nil {
		return err
	}
	if err := to.Validate(); err != nil {
		return err
	}
	if from == to {
		return fmt.Errorf("cannot move samples from %s to itself", from)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		sample, ok := s.samples[id]
		if !ok {
			return fmt.Errorf("unknown sample: %s", id)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("sample %s listed twice in move", id)
		}
		seen[id] = struct{}{}
		if s.membership[id] != from {
			return fmt.Errorf("sample %s is in %s, not %s", id, s.membership[id], from)
		}
		switch to {
		case PoolTrain, PoolValidation:
			if sample.TrueLabel == nil {
				return fmt.Errorf("sample %s has no label, cannot move to %s", id, to)
			}
		case PoolPseudo:
			if sample.PredictedLabel == nil {
				return fmt.Errorf("sample %s has no prediction, cannot move to %s", id, to)
			}
		}
	}

	for _, id := range ids {
		sample := s.samples[id]
		s.membership[id] = to
		s.counts[from]--
		s.counts[to]++

		switch to {
		case PoolPseudo:
			s.pseudoLabels[id] = *sample.PredictedLabel
			sample.Source = SourcePseudo
		case PoolUnlabeled:
			delete(s.pseudoLabels, id)
			sample.Source = SourceUnlabeled
		case PoolTrain, PoolValidation:
			delete(s.pseudoLabels, id)
			if from == PoolUnlabeled || from == PoolPseudo {
				sample.Source = SourceQueried
			}
		}
	}
	return nil
}

// Verify checks the partition invariant: every sample is in exactly one
// known pool and the pool counts add up to the universe.
func (s *Store) Verify() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.membership) != len(s.samples) || len(s.order) != len(s.samples) {
		return fmt.Errorf("membership covers %d samples, universe has %d", len(s.membership), len(s.samples))
	}
	tally := make(map[Pool]int)
	for id, pool := range s.membership {
		if _, ok := s.samples[id]; !ok {
			return fmt.Errorf("membership references unknown sample %s", id)
		}
		if err := pool.Validate(); err != nil {
			return err
		}
		tally[pool]++
	}
	for _, p := range Pools {
		if tally[p] != s.counts[p] {
			return fmt.Errorf("pool %s holds %d samples, counter says %d", p, tally[p], s.counts[p])
		}
	}
	for id := range s.pseudoLabels {
		if s.membership[id] != PoolPseudo {
			return fmt.Errorf("pseudo label kept for sample %s outside the pseudo pool", id)
		}
	}
	return nil
}
