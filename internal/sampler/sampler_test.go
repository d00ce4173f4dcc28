package sampler

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dyluth/sift/internal/config"
	"github.com/dyluth/sift/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(selection string) config.ActiveConfig {
	return config.ActiveConfig{
		FirstUpdate:   100,
		MaxUpdateSize: 500,
		UpdatePer:     0.1,
		MaxUpdates:    20,
		Selection:     selection,
	}
}

func newSampler(t *testing.T, selection string) *Sampler {
	t.Helper()
	s, err := New(testConfig(selection), 42)
	require.NoError(t, err)
	return s
}

func TestBudget(t *testing.T) {
	s := newSampler(t, config.SelectionUncertainty)

	tests := []struct {
		name     string
		round    int
		poolSize int
		want     int
	}{
		{"first round uses first_update", 1, 1000, 100},
		{"second round uses update_per", 2, 900, 90},
		{"rounds up", 3, 811, 82},
		{"capped by max_update_size", 2, 10000, 500},
		{"capped by pool size", 1, 40, 40},
		{"empty pool", 5, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Budget(tt.round, tt.poolSize))
		})
	}
}

func TestSelectNext_UncertaintyOrdersByVariance(t *testing.T) {
	s := newSampler(t, config.SelectionUncertainty)
	candidates := []model.Estimate{
		{SampleID: "a", Variance: 0.01},
		{SampleID: "b", Variance: 0.05},
		{SampleID: "c", Variance: 0.03},
		{SampleID: "d", Variance: 0.05},
		{SampleID: "e", Variance: 0.00},
	}

	assert.Equal(t, []string{"b", "d", "c"}, s.SelectNext(candidates, 3, 2))
	assert.Len(t, s.SelectNext(candidates, 50, 2), 5)
}

func TestSelectNext_UncertaintyUsesEntropyWhenUndefined(t *testing.T) {
	s := newSampler(t, config.SelectionUncertainty)
	candidates := []model.Estimate{
		{SampleID: "a", Undefined: true, Entropy: 0.2},
		{SampleID: "b", Undefined: true, Entropy: 1.1},
	}
	assert.Equal(t, []string{"b"}, s.SelectNext(candidates, 1, 1))
}

func TestSelectNext_Margin(t *testing.T) {
	s := newSampler(t, config.SelectionMargin)
	candidates := []model.Estimate{
		{SampleID: "confident", Mean: []float64{0.9, 0.05, 0.05}},
		{SampleID: "torn", Mean: []float64{0.45, 0.44, 0.11}},
		{SampleID: "leaning", Mean: []float64{0.6, 0.3, 0.1}},
	}
	assert.Equal(t, []string{"torn", "leaning"}, s.SelectNext(candidates, 2, 1))
}

func TestSelectNext_Entropy(t *testing.T) {
	s := newSampler(t, config.SelectionEntropy)
	candidates := []model.Estimate{
		{SampleID: "a", Entropy: 0.1, Variance: 0.9},
		{SampleID: "b", Entropy: 0.8, Variance: 0.1},
	}
	assert.Equal(t, []string{"b"}, s.SelectNext(candidates, 1, 1))
}

func TestSelectNext_Random(t *testing.T) {
	s := newSampler(t, config.SelectionNone)
	candidates := make([]model.Estimate, 30)
	for i := range candidates {
		candidates[i] = model.Estimate{SampleID: fmt.Sprintf("s%02d", i)}
	}

	first := s.SelectNext(candidates, 10, 1)
	assert.Len(t, first, 10)
	assert.Equal(t, first, s.SelectNext(candidates, 10, 1), "seeded per round")
	assert.NotEqual(t, first, s.SelectNext(candidates, 10, 2))

	seen := make(map[string]bool)
	for _, id := range first {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, s.SelectNext(candidates, 100, 1), 30)
}

func TestSelectNext_EmptyPool(t *testing.T) {
	for _, selection := range []string{config.SelectionNone, config.SelectionUncertainty} {
		s := newSampler(t, selection)
		out := s.SelectNext(nil, 10, 1)
		assert.NotNil(t, out)
		assert.Empty(t, out)
	}
}

func TestNew_RejectsUnknownSelection(t *testing.T) {
	_, err := New(testConfig("greedy"), 1)
	var cfgErr *config.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "active.selection", cfgErr.Field)
}
