package convergence

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dyluth/sift/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.ConvergeConfig {
	return config.ConvergeConfig{
		TrainingThreshold: 0.01,
		MaxEpochs:         50,
		MinEpochs:         10,
		BatchEpochs:       5,
		Policy:            config.PolicyAbsolute,
	}
}

// runUntilStop feeds losses until the monitor stops and returns the stopping epoch.
func runUntilStop(t *testing.T, m *Monitor, loss func(epoch int) float64) int {
	t.Helper()
	for epoch := 1; epoch <= 10000; epoch++ {
		if m.ShouldStop(epoch, loss(epoch)) {
			return epoch
		}
	}
	t.Fatal("monitor never stopped")
	return 0
}

func TestNewMonitor_RejectsContradictoryConfig(t *testing.T) {
	cfg := testConfig()
	cfg.MinEpochs = 60

	_, err := NewMonitor(cfg)
	require.Error(t, err)

	var cfgErr *config.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "converge.min_epochs", cfgErr.Field)
}

func TestShouldStop_DecreasingLossRunsToCap(t *testing.T) {
	m, err := NewMonitor(testConfig())
	require.NoError(t, err)

	stop := runUntilStop(t, m, func(epoch int) float64 { return 10 - 0.05*float64(epoch) })
	assert.Equal(t, 50, stop)

	result := m.Result()
	assert.Equal(t, StopCap, result.StoppedBy)
	assert.True(t, result.Improving)
	assert.False(t, result.Converged)
	assert.Equal(t, 50, result.Epochs)
}

func TestShouldStop_FlatLossStopsByWindow(t *testing.T) {
	tests := []struct {
		minEpochs int
		wantStop  int
	}{
		{minEpochs: 1, wantStop: 6},
		{minEpochs: 3, wantStop: 6},
		{minEpochs: 5, wantStop: 6},
		{minEpochs: 10, wantStop: 10},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("min_epochs=%d", tt.minEpochs), func(t *testing.T) {
			cfg := testConfig()
			cfg.MinEpochs = tt.minEpochs
			m, err := NewMonitor(cfg)
			require.NoError(t, err)

			stop := runUntilStop(t, m, func(int) float64 { return 0.7 })
			assert.LessOrEqual(t, stop, tt.minEpochs+cfg.BatchEpochs)
			assert.Equal(t, tt.wantStop, stop)

			result := m.Result()
			assert.Equal(t, StopPlateau, result.StoppedBy)
			assert.True(t, result.Converged)
			assert.False(t, result.Improving)
		})
	}
}

func TestNewMonitor_RejectsZeroMinEpochs(t *testing.T) {
	cfg := testConfig()
	cfg.MinEpochs = 0

	_, err := NewMonitor(cfg)
	require.Error(t, err)

	var cfgErr *config.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "converge.min_epochs", cfgErr.Field)
}

func TestShouldStop_NeverBeforeMinEpochs(t *testing.T) {
	cfg := testConfig()
	cfg.MinEpochs = 20
	m, err := NewMonitor(cfg)
	require.NoError(t, err)

	for epoch := 1; epoch < 20; epoch++ {
		assert.False(t, m.ShouldStop(epoch, 1.0), "epoch %d", epoch)
	}
	assert.True(t, m.ShouldStop(20, 1.0))
}

func TestShouldStop_PlateauAfterDescent(t *testing.T) {
	m, err := NewMonitor(testConfig())
	require.NoError(t, err)

	loss := func(epoch int) float64 {
		if epoch <= 15 {
			return 2 - 0.1*float64(epoch)
		}
		return 0.5
	}
	stop := runUntilStop(t, m, loss)
	// the window [15..20] is the first with no improvement
	assert.Equal(t, 20, stop)
	assert.InDelta(t, 0.5, m.State().BestLoss, 1e-9)
}

func TestShouldStop_RelativePolicy(t *testing.T) {
	cfg := testConfig()
	cfg.Policy = config.PolicyRelative
	cfg.TrainingThreshold = 0.05
	m, err := NewMonitor(cfg)
	require.NoError(t, err)

	// large absolute drops that are small relative to the loss scale
	stop := runUntilStop(t, m, func(epoch int) float64 { return 1000 - float64(epoch) })
	assert.Equal(t, 10, stop)

	abs := testConfig()
	abs.TrainingThreshold = 0.05
	m2, err := NewMonitor(abs)
	require.NoError(t, err)
	assert.Equal(t, 50, runUntilStop(t, m2, func(epoch int) float64 { return 1000 - float64(epoch) }))
}

func TestReset(t *testing.T) {
	m, err := NewMonitor(testConfig())
	require.NoError(t, err)
	runUntilStop(t, m, func(int) float64 { return 1 })

	m.Reset()
	state := m.State()
	assert.Equal(t, 0, state.Epoch)
	assert.Empty(t, state.LossHistory)
	assert.Equal(t, StopNone, m.Result().StoppedBy)
}

func TestState_TracksEpochsSinceImprovement(t *testing.T) {
	m, err := NewMonitor(testConfig())
	require.NoError(t, err)

	m.ShouldStop(1, 1.0)
	m.ShouldStop(2, 0.8)
	m.ShouldStop(3, 0.9)
	m.ShouldStop(4, 0.85)

	state := m.State()
	assert.Equal(t, 4, state.Epoch)
	assert.Equal(t, 0.8, state.BestLoss)
	assert.Equal(t, 2, state.EpochsSinceImprovement)
	assert.Equal(t, []float64{1.0, 0.8, 0.9, 0.85}, state.LossHistory)
}
