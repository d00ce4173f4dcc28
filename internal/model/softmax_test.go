package model

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dyluth/sift/internal/config"
	"github.com/dyluth/sift/internal/dataset"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testShape = []int{3, 3, 3}

func testOptimiser() config.OptimiserConfig {
	return config.OptimiserConfig{LearningRate: 1.0, Rho: 0.95, Epsilon: 1e-4}
}

func syntheticStore(t *testing.T) *dataset.Store {
	t.Helper()
	store, _, err := dataset.Synthetic(dataset.SyntheticSpec{
		Labeled: 60, Unlabeled: 20, Noise: 0.05, NumClasses: 3, Shape: testShape, CellPatches: 1, Seed: 5,
	})
	require.NoError(t, err)
	return store
}

func newTestSoftmax() *Softmax {
	return NewSoftmax(27, 3, config.ModelConfig{Bayesian: true, BayesianIterations: 5, Dropout: 0.25}, testOptimiser(), 7)
}

func trainFor(t *testing.T, m Adapter, examples []dataset.Example, epochs int) []float64 {
	t.Helper()
	losses := make([]float64, epochs)
	for e := range losses {
		loss, err := m.FitEpoch(context.Background(), examples, FitOptions{BatchSize: 8, Seed: int64(e)})
		require.NoError(t, err)
		losses[e] = loss
	}
	return losses
}

func accuracy(t *testing.T, m Adapter, examples []dataset.Example) float64 {
	t.Helper()
	samples := make([]*dataset.Sample, len(examples))
	for i, ex := range examples {
		samples[i] = ex.Sample
	}
	probs, err := m.Predict(context.Background(), samples)
	require.NoError(t, err)
	correct := 0
	for i, p := range probs {
		if Aggregate("", [][]float64{p}).Predicted == examples[i].Label {
			correct++
		}
	}
	return float64(correct) / float64(len(examples))
}

func TestSoftmax_Learns(t *testing.T) {
	examples := syntheticStore(t).Examples(dataset.PoolTrain)
	m := newTestSoftmax()

	before, err := m.Evaluate(context.Background(), examples)
	require.NoError(t, err)

	losses := trainFor(t, m, examples, 60)
	after, err := m.Evaluate(context.Background(), examples)
	require.NoError(t, err)

	assert.Less(t, losses[len(losses)-1], losses[0])
	assert.Less(t, after, before)
	assert.GreaterOrEqual(t, accuracy(t, m, examples), 0.75)
}

func TestSoftmax_StochasticPredictions(t *testing.T) {
	store := syntheticStore(t)
	m := newTestSoftmax()
	trainFor(t, m, store.Examples(dataset.PoolTrain), 10)
	samples := store.Samples(dataset.PoolUnlabeled)

	a, err := m.PredictStochastic(context.Background(), samples, 99)
	require.NoError(t, err)
	b, err := m.PredictStochastic(context.Background(), samples, 99)
	require.NoError(t, err)
	c, err := m.PredictStochastic(context.Background(), samples, 100)
	require.NoError(t, err)

	assert.Equal(t, a, b, "same seed gives the same dropout masks")
	assert.NotEqual(t, a, c)
	for _, dist := range a {
		var sum float64
		for _, p := range dist {
			sum += p
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}
}

func TestSoftmax_CheckpointRoundTrip(t *testing.T) {
	store := syntheticStore(t)
	m := newTestSoftmax()
	trainFor(t, m, store.Examples(dataset.PoolTrain), 5)
	samples := store.Samples(dataset.PoolUnlabeled)

	path := filepath.Join(t.TempDir(), "models", "weights.json")
	require.NoError(t, SaveFile(m, path))

	restored := NewSoftmax(27, 3, config.ModelConfig{Dropout: 0.25}, testOptimiser(), 1)
	found, err := LoadFile(restored, path)
	require.NoError(t, err)
	require.True(t, found)

	want, err := m.Predict(context.Background(), samples)
	require.NoError(t, err)
	got, err := restored.Predict(context.Background(), samples)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, m.opt.iterations, restored.opt.iterations)

	t.Run("missing file is not an error", func(t *testing.T) {
		found, err := LoadFile(restored, filepath.Join(t.TempDir(), "absent.json"))
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("rejects mismatched shapes", func(t *testing.T) {
		other := NewSoftmax(27, 4, config.ModelConfig{}, testOptimiser(), 1)
		_, err := LoadFile(other, path)
		require.Error(t, err)
		assert.True(t, IsAdapterError(err))
	})
}

func TestSoftmax_RejectsMismatchedSampleShape(t *testing.T) {
	m := newTestSoftmax()
	sample, err := dataset.NewSample("flat", "", make([]float64, 27), []int{9, 3, 1})
	require.NoError(t, err)
	require.NoError(t, sample.Features.Reshape(27))

	_, err = m.Predict(context.Background(), []*dataset.Sample{sample})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "[h, w, c]")
}

func TestSoftmax_Reset(t *testing.T) {
	examples := syntheticStore(t).Examples(dataset.PoolTrain)
	m := newTestSoftmax()
	untrained, err := m.Evaluate(context.Background(), examples)
	require.NoError(t, err)

	trainFor(t, m, examples, 10)
	m.Reset()

	reset, err := m.Evaluate(context.Background(), examples)
	require.NoError(t, err)
	assert.InDelta(t, untrained, reset, 1e-12)
	assert.Equal(t, 0, m.opt.iterations)
}

func TestSoftmax_RejectsBadInput(t *testing.T) {
	m := newTestSoftmax()

	_, err := m.FitEpoch(context.Background(), nil, FitOptions{})
	assert.Error(t, err)

	wrong, err := dataset.NewSample("w", "", []float64{1, 2, 3, 4}, []int{2, 2, 1})
	require.NoError(t, err)
	_, err = m.Predict(context.Background(), []*dataset.Sample{wrong})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	examples := syntheticStore(t).Examples(dataset.PoolTrain)
	_, err = m.FitEpoch(ctx, examples, FitOptions{BatchSize: 8})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAutoencoder(t *testing.T) {
	store := syntheticStore(t)
	samples := append(store.Samples(dataset.PoolTrain), store.Samples(dataset.PoolUnlabeled)...)
	cfg := config.AutoencoderConfig{AutoInit: true, AutoThreshold: 1e-4, AutoMaxEpochs: 30, Hidden: 6}
	ae := NewAutoencoder(27, cfg, testOptimiser(), 3)

	first, err := ae.FitEpoch(context.Background(), samples, 8, 0)
	require.NoError(t, err)
	var last float64
	for e := 1; e < 30; e++ {
		last, err = ae.FitEpoch(context.Background(), samples, 8, int64(e))
		require.NoError(t, err)
	}
	assert.Less(t, last, first)

	enc := ae.Encoder()
	assert.Equal(t, 6, enc.Hidden)
	assert.Len(t, enc.Encode(samples[0].Vector()), 6)

	t.Run("classifier trains on the encoding", func(t *testing.T) {
		m := newTestSoftmax()
		require.NoError(t, m.Initialize(enc))
		examples := store.Examples(dataset.PoolTrain)
		trainFor(t, m, examples, 5)

		data, err := m.Checkpoint()
		require.NoError(t, err)
		restored := newTestSoftmax()
		require.NoError(t, restored.Restore(data))
		require.NotNil(t, restored.encoder)
		assert.Equal(t, 6, restored.encoder.Hidden)
	})

	t.Run("rejects mismatched encoder", func(t *testing.T) {
		m := NewSoftmax(12, 3, config.ModelConfig{}, testOptimiser(), 1)
		assert.Error(t, m.Initialize(enc))
	})
}
