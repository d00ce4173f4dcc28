package ledger

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestClient creates a test client connected to a miniredis instance
func setupTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&redis.Options{Addr: mr.Addr()}, "test-run")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func setupTestBolt(t *testing.T) *BoltStore {
	t.Helper()
	store, err := OpenBolt(filepath.Join(t.TempDir(), "sift.db"), "test-run")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// backends runs a test against both ledger implementations.
func backends(t *testing.T, fn func(t *testing.T, l Ledger)) {
	t.Run("redis", func(t *testing.T) {
		client, _ := setupTestClient(t)
		fn(t, client)
	})
	t.Run("bolt", func(t *testing.T) {
		fn(t, setupTestBolt(t))
	})
}

func testRun() *Run {
	return &Run{
		ID:          uuid.New().String(),
		Name:        "test-run",
		Status:      RunStatusRunning,
		Seed:        42,
		StartedAtMs: 1700000000000,
		UpdatedAtMs: 1700000000000,
	}
}

func testRound(index int) *UpdateRound {
	return &UpdateRound{
		Index:                  index,
		State:                  "labeling",
		QueriedSampleIDs:       []string{"a", "b"},
		PseudoLabeledSampleIDs: []string{"c"},
		DemotedSampleIDs:       []string{},
		PoolSizeBefore:         100,
		PoolSizeAfter:          97,
		PoolSizes:              map[string]int{"train": 12, "validation": 3, "unlabeled": 97, "pseudo": 1},
		Budget:                 2,
		Epochs:                 14,
		Converged:              true,
		TrainLoss:              0.4321,
		ValidationLoss:         0.5,
		Threshold:              0.875,
		ThresholdPassed:        true,
		Accuracy:               0.8,
		MeanClassAccuracy:      0.75,
		F1:                     0.8,
		StartedAtMs:            1700000000000,
		CompletedAtMs:          1700000005000,
	}
}

func TestNewClient(t *testing.T) {
	t.Run("rejects empty run name", func(t *testing.T) {
		_, err := NewClient(&redis.Options{Addr: "localhost:6379"}, "")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "run name cannot be empty")
	})

	t.Run("parses urls", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := NewClientFromURL("redis://"+mr.Addr(), "test-run")
		require.NoError(t, err)
		defer client.Close()
		assert.NoError(t, client.Ping(context.Background()))

		_, err = NewClientFromURL("not a url", "test-run")
		assert.Error(t, err)
	})
}

func TestRun_SaveAndGet(t *testing.T) {
	backends(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()

		_, err := l.GetRun(ctx)
		assert.True(t, IsNotFound(err))

		run := testRun()
		require.NoError(t, l.SaveRun(ctx, run))

		got, err := l.GetRun(ctx)
		require.NoError(t, err)
		assert.Equal(t, run, got)

		t.Run("rejects invalid runs", func(t *testing.T) {
			bad := testRun()
			bad.Status = "paused"
			assert.Error(t, l.SaveRun(ctx, bad))
		})
	})
}

func TestCommitRound(t *testing.T) {
	backends(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		run := testRun()
		snapshot := json.RawMessage(`{"membership":{"a":"train"}}`)

		for i := 1; i <= 3; i++ {
			run.LastRound = i
			state := &State{Round: i, Snapshot: snapshot, Checkpoint: []byte{0, 1, 2, byte(i)}}
			require.NoError(t, l.CommitRound(ctx, run, testRound(i), state))
		}

		rounds, err := l.Rounds(ctx)
		require.NoError(t, err)
		require.Len(t, rounds, 3)
		for i, r := range rounds {
			assert.Equal(t, i+1, r.Index)
		}
		assert.Equal(t, testRound(2), rounds[1])

		state, err := l.LatestState(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, state.Round)
		assert.Equal(t, []byte{0, 1, 2, 3}, state.Checkpoint)
		assert.JSONEq(t, string(snapshot), string(state.Snapshot))

		got, err := l.GetRun(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, got.LastRound)

		_, err = l.GetRound(ctx, 9)
		assert.True(t, IsNotFound(err))
	})
}

func TestCommitRound_RejectsInvalidRound(t *testing.T) {
	backends(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		round := testRound(1)
		round.PseudoLabeledSampleIDs = []string{"a"}

		err := l.CommitRound(ctx, testRun(), round, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "both queried and pseudo-labeled")

		rounds, err := l.Rounds(ctx)
		require.NoError(t, err)
		assert.Empty(t, rounds)
	})
}

func TestReset(t *testing.T) {
	backends(t, func(t *testing.T, l Ledger) {
		ctx := context.Background()
		run := testRun()
		require.NoError(t, l.CommitRound(ctx, run, testRound(1), &State{Round: 1, Snapshot: json.RawMessage(`{}`)}))

		require.NoError(t, l.Reset(ctx))

		rounds, err := l.Rounds(ctx)
		require.NoError(t, err)
		assert.Empty(t, rounds)
		_, err = l.LatestState(ctx)
		assert.True(t, IsNotFound(err))
		_, err = l.GetRun(ctx)
		assert.True(t, IsNotFound(err))
	})
}

func TestRuns_AreIsolated(t *testing.T) {
	mr := miniredis.RunT(t)
	ctx := context.Background()

	a, err := NewClient(&redis.Options{Addr: mr.Addr()}, "run-a")
	require.NoError(t, err)
	defer a.Close()
	b, err := NewClient(&redis.Options{Addr: mr.Addr()}, "run-b")
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.CommitRound(ctx, testRun(), testRound(1), nil))

	rounds, err := b.Rounds(ctx)
	require.NoError(t, err)
	assert.Empty(t, rounds)
	assert.True(t, mr.Exists(RoundKey("run-a", 1)))
}

func TestBolt_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sift.db")
	ctx := context.Background()

	store, err := OpenBolt(path, "test-run")
	require.NoError(t, err)
	require.NoError(t, store.CommitRound(ctx, testRun(), testRound(1), &State{Round: 1, Snapshot: json.RawMessage(`{}`)}))
	require.NoError(t, store.Close())

	reopened, err := OpenBolt(path, "test-run")
	require.NoError(t, err)
	defer reopened.Close()

	round, err := reopened.GetRound(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, testRound(1), round)
}

func TestSchemaKeys(t *testing.T) {
	assert.Equal(t, "sift:baseline:run", RunKey("baseline"))
	assert.Equal(t, "sift:baseline:round:7", RoundKey("baseline", 7))
	assert.Equal(t, "sift:baseline:rounds", RoundsKey("baseline"))
	assert.Equal(t, "sift:baseline:state", StateKey("baseline"))
	assert.Equal(t, 7, IndexFromScore(RoundScore(7)))
}

func TestRoundHash_EmptySlices(t *testing.T) {
	round := &UpdateRound{Index: 1}
	hash, err := RoundToHash(round)
	require.NoError(t, err)

	strs := make(map[string]string, len(hash))
	for k, v := range hash {
		strs[k] = toString(v)
	}
	got, err := HashToRound(strs)
	require.NoError(t, err)
	assert.Equal(t, []string{}, got.QueriedSampleIDs)
	assert.Nil(t, got.PoolSizes)
}

func toString(v interface{}) string {
	b, _ := json.Marshal(v)
	if s, ok := v.(string); ok {
		return s
	}
	return string(b)
}
