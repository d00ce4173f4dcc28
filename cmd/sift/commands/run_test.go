package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dyluth/sift/internal/config"
	"github.com/dyluth/sift/pkg/ledger"
)

// A deliberately loose training_threshold stops every phase at min_epochs,
// so the run always reaches max_updates.
const testConfigYAML = `version: "1.0"
run:
  name: cli-test
  seed: 3
  workers: 2
  log_file: logs/sift.log
data:
  num_classes: 2
  input_shape: [2, 2, 1]
  synthetic:
    labeled: 30
    unlabeled: 60
    noise: 0.05
model:
  bayesian: false
  model_path: model.json
optimiser:
  epsilon: 0.0001
converge:
  training_threshold: 10
  max_epochs: 15
  min_epochs: 5
  batch_epochs: 3
active:
  first_update: 10
  max_updates: 2
bootstrap:
  bootstrap_number: 10
  bootstrap_size: 5
plotting:
  plot_dir: plots
persist:
  backend: bolt
  path: state/ledger.db
`

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sift.yml")
	require.NoError(t, os.WriteFile(path, []byte(testConfigYAML), 0644))
	return path
}

func TestRunAndRounds(t *testing.T) {
	path := writeTestConfig(t)
	dir := filepath.Dir(path)

	_, err := executeCommand(t, "run", "--config", path, "--resume=false")
	require.NoError(t, err)

	for _, name := range []string{"model.json", "state/ledger.db", "plots/rounds.jsonl", "plots/history.jsonl", "logs/sift.log"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}

	output, err := executeCommand(t, "rounds", "--config", path, "--output", "jsonl", "--rounds", "", "--follow=false")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(output), "\n")
	require.Len(t, lines, 2)

	var first ledger.UpdateRound
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, 1, first.Index)
	assert.Len(t, first.QueriedSampleIDs, 10)

	output, err = executeCommand(t, "rounds", "--config", path, "--output", "default", "--rounds", "2")
	require.NoError(t, err)
	assert.Contains(t, output, "1 round found")

	output, err = executeCommand(t, "rounds", "2", "--config", path)
	require.NoError(t, err)
	var second ledger.UpdateRound
	require.NoError(t, json.Unmarshal([]byte(output), &second))
	assert.Equal(t, 2, second.Index)
	assert.Len(t, second.QueriedSampleIDs, 5)

	_, err = executeCommand(t, "rounds", "9", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "round 9 not found")

	// following a finished run prints what is there and returns
	output, err = executeCommand(t, "rounds", "--config", path, "--output", "jsonl", "--rounds", "", "--follow")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(output), "\n"), 2)

	// a completed run cannot be resumed
	_, err = executeCommand(t, "run", "--config", path, "--resume")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot resume run")
}

func TestRun_MissingConfig(t *testing.T) {
	_, err := executeCommand(t, "run", "--config", filepath.Join(t.TempDir(), "sift.yml"), "--resume=false")
	require.Error(t, err)
	assert.Equal(t, "sift.yml not found", err.Error())
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sift.yml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1.0\"\nconverge:\n  min_epochs: 500\n"), 0644))

	_, err := executeCommand(t, "run", "--config", path, "--resume=false")
	require.Error(t, err)
	assert.Equal(t, "invalid configuration", err.Error())
}

func TestRounds_InvalidOutput(t *testing.T) {
	_, err := executeCommand(t, "rounds", "--config", writeTestConfig(t), "--output", "xml")
	require.Error(t, err)
	assert.Equal(t, "invalid output format", err.Error())
}

func TestInit_CreatesLoadableConfig(t *testing.T) {
	dir := t.TempDir()
	_, err := executeCommand(t, "init", "--dir", dir, "--force=false")
	require.NoError(t, err)

	_, err = config.Load(filepath.Join(dir, "sift.yml"))
	require.NoError(t, err)

	_, err = executeCommand(t, "init", "--dir", dir, "--force=false")
	require.Error(t, err)
	assert.Equal(t, "project already initialized", err.Error())

	_, err = executeCommand(t, "init", "--dir", dir, "--force")
	require.NoError(t, err)
}

func TestLoadDataset_RequiresSource(t *testing.T) {
	cfg := config.Default()
	_, _, err := loadDataset(&cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no dataset configured")
}
