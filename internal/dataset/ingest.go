package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"

	"github.com/google/uuid"
)

// sampleNamespace seeds name-based (v5) sample ids so the same input always
// produces the same ids, which resuming from a snapshot depends on.
var sampleNamespace = uuid.MustParse("6f1c1f0e-4b8e-5d7a-9a52-3c1d2f7e8b10")

// Answers holds ground truth that is hidden from training and only revealed
// through an oracle when a sample is queried.
type Answers map[string]int

// manifestRecord is one line of a JSONL manifest
type manifestRecord struct {
	ID       string    `json:"id"`
	Cell     string    `json:"cell"`
	Label    *int      `json:"label"`
	Labeled  bool      `json:"labeled"`
	Layout   string    `json:"layout,omitempty"` // hwc (default) or chw
	Features []float64 `json:"features"`
}

// LoadManifestFile reads a JSONL manifest from disk.
func LoadManifestFile(path string, shape []int, numClasses int) (*Store, Answers, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer f.Close()
	return LoadManifest(f, shape, numClasses)
}

// LoadManifest ingests one sample per JSON line. Labeled records go to the
// Train pool; the rest go to Unlabeled, and any label they carry is kept
// aside as an oracle answer.
func LoadManifest(r io.Reader, shape []int, numClasses int) (*Store, Answers, error) {
	store := NewStore()
	answers := make(Answers)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), 64*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		var rec manifestRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, nil, fmt.Errorf("manifest line %d: %w", line, err)
		}
		if rec.ID == "" {
			rec.ID = uuid.NewSHA1(sampleNamespace, []byte(fmt.Sprintf("manifest/%d", line))).String()
		}
		if rec.Label != nil && (*rec.Label < 0 || *rec.Label >= numClasses) {
			return nil, nil, fmt.Errorf("manifest line %d: label %d outside [0,%d)", line, *rec.Label, numClasses)
		}

		switch rec.Layout {
		case "", LayoutHWC:
		case LayoutCHW:
			features, err := FromChannelsFirst(rec.Features, shape)
			if err != nil {
				return nil, nil, fmt.Errorf("manifest line %d: %w", line, err)
			}
			rec.Features = features
		default:
			return nil, nil, fmt.Errorf("manifest line %d: unknown layout %q (must be %q or %q)", line, rec.Layout, LayoutHWC, LayoutCHW)
		}

		sample, err := NewSample(rec.ID, rec.Cell, rec.Features, shape)
		if err != nil {
			return nil, nil, fmt.Errorf("manifest line %d: %w", line, err)
		}

		pool := PoolUnlabeled
		if rec.Labeled {
			if rec.Label == nil {
				return nil, nil, fmt.Errorf("manifest line %d: labeled record without label", line)
			}
			sample.TrueLabel = rec.Label
			pool = PoolTrain
		} else if rec.Label != nil {
			answers[rec.ID] = *rec.Label
		}

		if err := store.Add(sample, pool); err != nil {
			return nil, nil, fmt.Errorf("manifest line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	return store, answers, nil
}

// SyntheticSpec describes a generated dataset.
type SyntheticSpec struct {
	Labeled     int
	Unlabeled   int
	Noise       float64
	NumClasses  int
	Shape       []int
	CellPatches int
	Seed        int64
}

// Synthetic generates patches scattered around one random prototype per
// class. Patches are grouped into cells of CellPatches consecutive samples
// sharing a class. Labeled samples land in Train; every unlabeled sample's
// class is returned as an oracle answer.
func Synthetic(spec SyntheticSpec) (*Store, Answers, error) {
	if spec.NumClasses < 2 {
		return nil, nil, fmt.Errorf("synthetic data needs at least 2 classes")
	}
	if spec.CellPatches < 1 {
		spec.CellPatches = 1
	}
	rng := rand.New(rand.NewSource(spec.Seed))

	size := 1
	for _, d := range spec.Shape {
		size *= d
	}
	prototypes := make([][]float64, spec.NumClasses)
	for c := range prototypes {
		prototypes[c] = make([]float64, size)
		for i := range prototypes[c] {
			prototypes[c][i] = rng.Float64()
		}
	}

	store := NewStore()
	answers := make(Answers)
	total := spec.Labeled + spec.Unlabeled
	var class int
	var cellID string

	for n := 0; n < total; n++ {
		if n%spec.CellPatches == 0 {
			class = rng.Intn(spec.NumClasses)
			cellID = uuid.NewSHA1(sampleNamespace, []byte(fmt.Sprintf("synthetic/%d/cell/%d", spec.Seed, n/spec.CellPatches))).String()
		}

		features := make([]float64, size)
		for i := range features {
			v := prototypes[class][i] + spec.Noise*rng.NormFloat64()
			features[i] = math.Max(0, math.Min(1, v))
		}

		id := uuid.NewSHA1(sampleNamespace, []byte(fmt.Sprintf("synthetic/%d/%d", spec.Seed, n))).String()
		sample, err := NewSample(id, cellID, features, spec.Shape)
		if err != nil {
			return nil, nil, err
		}

		label := class
		pool := PoolUnlabeled
		if n < spec.Labeled {
			sample.TrueLabel = &label
			pool = PoolTrain
		} else {
			answers[id] = label
		}
		if err := store.Add(sample, pool); err != nil {
			return nil, nil, err
		}
	}

	return store, answers, nil
}
