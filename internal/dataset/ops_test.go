package dataset

import (
	"bytes"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit(t *testing.T) {
	store := setupTestStore(t, 40, 10)

	moved, err := store.Split(0.25, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	assert.Equal(t, 10, moved)
	assert.Equal(t, 30, store.Size(PoolTrain))
	assert.Equal(t, 10, store.Size(PoolValidation))

	counts := ClassCounts(store.Examples(PoolValidation), 2)
	assert.Equal(t, []int{5, 5}, counts, "split is stratified per class")

	_, err = store.Split(1.5, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestSubset(t *testing.T) {
	store := setupTestStore(t, 0, 20)
	rng := rand.New(rand.NewSource(9))

	sub := store.Subset(PoolUnlabeled, 5, rng)
	require.Len(t, sub, 5)
	for i := 1; i < len(sub); i++ {
		assert.Less(t, sub[i-1].ID, sub[i].ID, "subset keeps insertion order")
	}

	assert.Len(t, store.Subset(PoolUnlabeled, 0, rng), 20)
	assert.Len(t, store.Subset(PoolUnlabeled, 100, rng), 20)
}

func TestBalance(t *testing.T) {
	var examples []Example
	for i := 0; i < 9; i++ {
		examples = append(examples, Example{Sample: &Sample{ID: fmt.Sprint("a", i)}, Label: 0})
	}
	examples = append(examples, Example{Sample: &Sample{ID: "b0"}, Label: 1})
	examples = append(examples, Example{Sample: &Sample{ID: "b1"}, Label: 1})

	balanced := Balance(examples, rand.New(rand.NewSource(2)))
	assert.Equal(t, []int{9, 9}, ClassCounts(balanced, 2))
	assert.Len(t, examples, 11, "input is not modified")
}

func TestClassWeights(t *testing.T) {
	examples := []Example{{Label: 0}, {Label: 0}, {Label: 0}, {Label: 1}}
	weights := ClassWeights(examples, 3)

	assert.InDelta(t, 4.0/6.0, weights[0], 1e-9)
	assert.InDelta(t, 2.0, weights[1], 1e-9)
	assert.Equal(t, 0.0, weights[2])
}

func TestSnapshotRestore(t *testing.T) {
	store := setupTestStore(t, 4, 6)
	require.NoError(t, store.Label("u000", 1))
	require.NoError(t, store.Move([]string{"u000"}, PoolUnlabeled, PoolTrain))
	require.NoError(t, store.Annotate("u001", 0, 0.99))
	require.NoError(t, store.Move([]string{"u001"}, PoolUnlabeled, PoolPseudo))
	snap := store.Snapshot()

	fresh := setupTestStore(t, 4, 6)
	require.NoError(t, fresh.Restore(snap))
	require.NoError(t, fresh.Verify())

	assert.Equal(t, store.Sizes(), fresh.Sizes())
	s, _ := fresh.Get("u000")
	require.NotNil(t, s.TrueLabel)
	assert.Equal(t, 1, *s.TrueLabel)
	assert.Equal(t, SourceQueried, s.Source)
	label, ok := fresh.PseudoLabel("u001")
	require.True(t, ok)
	assert.Equal(t, 0, label)

	t.Run("rejects a different universe", func(t *testing.T) {
		other := setupTestStore(t, 4, 7)
		err := other.Restore(snap)
		assert.Error(t, err)
		assert.Equal(t, 7, other.Size(PoolUnlabeled), "failed restore leaves the store untouched")
	})
}

func TestLoadManifest(t *testing.T) {
	manifest := strings.Join([]string{
		`{"id":"a","cell":"c1","label":1,"labeled":true,"features":[0,0,0,0]}`,
		`{"cell":"c1","label":2,"features":[1,1,1,1]}`,
		``,
		`{"id":"c","cell":"c2","features":[1,0,1,0]}`,
	}, "\n")

	store, answers, err := LoadManifest(strings.NewReader(manifest), testShape, 4)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Size(PoolTrain))
	assert.Equal(t, 2, store.Size(PoolUnlabeled))
	assert.Len(t, answers, 1)

	unlabeled := store.Samples(PoolUnlabeled)
	assert.Nil(t, unlabeled[0].TrueLabel, "oracle answers stay hidden from the store")
	assert.Equal(t, 2, answers[unlabeled[0].ID])

	again, _, err := LoadManifest(strings.NewReader(manifest), testShape, 4)
	require.NoError(t, err)
	assert.Equal(t, store.IDs(PoolUnlabeled), again.IDs(PoolUnlabeled), "generated ids are deterministic")

	t.Run("rejects out-of-range labels", func(t *testing.T) {
		_, _, err := LoadManifest(bytes.NewBufferString(`{"label":9,"labeled":true,"features":[0,0,0,0]}`), testShape, 4)
		assert.Error(t, err)
	})

	t.Run("reorders channels-first records", func(t *testing.T) {
		shape := []int{1, 2, 2}
		store, _, err := LoadManifest(strings.NewReader(`{"id":"p","layout":"chw","features":[1,2,10,20]}`), shape, 4)
		require.NoError(t, err)

		sample, ok := store.Get("p")
		require.True(t, ok)
		assert.Equal(t, []float64{1, 10, 2, 20}, sample.Vector())
		assert.Equal(t, shape, []int(sample.Features.Shape()))
	})

	t.Run("rejects unknown layouts", func(t *testing.T) {
		_, _, err := LoadManifest(strings.NewReader(`{"layout":"nchw","features":[0,0,0,0]}`), testShape, 4)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown layout")
	})
}

func TestFromChannelsFirst(t *testing.T) {
	// two channels of a 2x3 patch, channel 0 counts up from 0 and channel 1 from 100
	chw := []float64{0, 1, 2, 3, 4, 5, 100, 101, 102, 103, 104, 105}

	hwc, err := FromChannelsFirst(chw, []int{2, 3, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 100, 1, 101, 2, 102, 3, 103, 4, 104, 5, 105}, hwc)
	assert.Equal(t, []float64{0, 1, 2, 3, 4, 5, 100, 101, 102, 103, 104, 105}, chw, "input is left untouched")

	_, err = FromChannelsFirst(chw, []int{2, 2, 2})
	assert.Error(t, err)

	_, err = FromChannelsFirst(chw, []int{12})
	assert.Error(t, err)
}

func TestSynthetic(t *testing.T) {
	spec := SyntheticSpec{Labeled: 12, Unlabeled: 30, Noise: 0.05, NumClasses: 4, Shape: []int{3, 3, 3}, CellPatches: 3, Seed: 11}

	store, answers, err := Synthetic(spec)
	require.NoError(t, err)
	assert.Equal(t, 12, store.Size(PoolTrain))
	assert.Equal(t, 30, store.Size(PoolUnlabeled))
	assert.Len(t, answers, 30)

	again, _, err := Synthetic(spec)
	require.NoError(t, err)
	assert.Equal(t, store.IDs(PoolUnlabeled), again.IDs(PoolUnlabeled))

	cells := make(map[string]int)
	for _, s := range store.Samples(PoolUnlabeled) {
		cells[s.CellID]++
		for _, v := range s.Vector() {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
	}
	for _, n := range cells {
		assert.LessOrEqual(t, n, 3)
	}
}
