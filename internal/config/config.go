package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

const (
	// MaxNameLength is the maximum length for a run name (it namespaces ledger keys)
	MaxNameLength = 63
)

// NamePattern is the regex pattern for valid run names: lowercase alphanumeric,
// hyphens allowed but not at start/end.
var NamePattern = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)

// Selection policies understood by the sampler
const (
	SelectionNone        = "none"
	SelectionUncertainty = "uncertainty"
	SelectionEntropy     = "entropy"
	SelectionMargin      = "margin"
)

// Convergence policies
const (
	PolicyAbsolute = "absolute"
	PolicyRelative = "relative"
)

// Bootstrap statistics
const (
	StatisticAccuracy          = "accuracy"
	StatisticConfidence        = "confidence"
	StatisticCorrectConfidence = "correct_confidence"
)

// Ledger backends
const (
	BackendBolt  = "bolt"
	BackendRedis = "redis"
)

// ConfigError reports an invalid or contradictory configuration value.
// It is always fatal and is raised before any training starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, format string, a ...any) *ConfigError {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, a...)}
}

// Config represents the top-level sift.yml configuration.
// A Config is built once by Load (or Default + Validate) and treated as
// immutable afterwards; components receive their section by value.
type Config struct {
	Version     string            `yaml:"version"`
	Run         RunConfig         `yaml:"run"`
	Data        DataConfig        `yaml:"data"`
	Model       ModelConfig       `yaml:"model"`
	Optimiser   OptimiserConfig   `yaml:"optimiser"`
	Converge    ConvergeConfig    `yaml:"converge"`
	Training    TrainingConfig    `yaml:"training"`
	Active      ActiveConfig      `yaml:"active"`
	Pseudo      PseudoConfig      `yaml:"pseudo"`
	Bootstrap   BootstrapConfig   `yaml:"bootstrap"`
	Autoencoder AutoencoderConfig `yaml:"autoencoder"`
	Plotting    PlottingConfig    `yaml:"plotting"`
	Persist     PersistConfig     `yaml:"persist"`
}

// RunConfig identifies a run and controls determinism and logging
type RunConfig struct {
	Name    string `yaml:"name"`
	Seed    int64  `yaml:"seed"`
	Workers int    `yaml:"workers"` // 0 = one per logical core
	Verbose bool   `yaml:"verbose"`
	LogFile string `yaml:"log_file"`
}

// DataConfig drives Dataset Store construction
type DataConfig struct {
	ValPer      float64          `yaml:"val_per"`
	Balance     bool             `yaml:"balance"`
	Combine     bool             `yaml:"combine"`
	CellPatches int              `yaml:"cell_patches"`
	SampleSize  int              `yaml:"sample_size"` // 0 = consider the whole unlabeled pool
	NumClasses  int              `yaml:"num_classes"`
	InputShape  []int            `yaml:"input_shape"`
	Manifest    string           `yaml:"manifest,omitempty"`
	Synthetic   *SyntheticConfig `yaml:"synthetic,omitempty"`
}

// SyntheticConfig describes a generated dataset with hidden ground truth
type SyntheticConfig struct {
	Labeled   int     `yaml:"labeled"`
	Unlabeled int     `yaml:"unlabeled"`
	Noise     float64 `yaml:"noise"`
}

// ModelConfig enables MC-uncertainty mode
type ModelConfig struct {
	Bayesian           bool    `yaml:"bayesian"`
	BayesianIterations int     `yaml:"bayesian_iterations"`
	Dropout            float64 `yaml:"dropout"`
	ModelPath          string  `yaml:"model_path"`
}

// OptimiserConfig is passed through to the model adapter (Adadelta)
type OptimiserConfig struct {
	LearningRate float64 `yaml:"learning_rate"`
	Rho          float64 `yaml:"rho"`
	Epsilon      float64 `yaml:"epsilon"`
	Decay        float64 `yaml:"decay"`
}

// ConvergeConfig parameterises the convergence monitor
type ConvergeConfig struct {
	TrainingThreshold float64 `yaml:"training_threshold"`
	MaxEpochs         int     `yaml:"max_epochs"`
	MinEpochs         int     `yaml:"min_epochs"`
	BatchEpochs       int     `yaml:"batch_epochs"`
	Policy            string  `yaml:"policy"` // absolute or relative
}

// TrainingConfig controls per-epoch training
type TrainingConfig struct {
	BatchSize    int  `yaml:"batch_size"`
	Intervals    int  `yaml:"intervals"`
	WeightedLoss bool `yaml:"weighted_loss"`
}

// ActiveConfig controls the query loop
type ActiveConfig struct {
	ModelTuning   bool    `yaml:"model_tuning"`
	FirstUpdate   int     `yaml:"first_update"`
	MaxUpdateSize int     `yaml:"max_update_size"`
	UpdatePer     float64 `yaml:"update_per"`
	MaxUpdates    int     `yaml:"max_updates"`
	Selection     string  `yaml:"selection"`
}

// PseudoConfig controls pseudo-labeling
type PseudoConfig struct {
	PseudoLabels    bool    `yaml:"pseudo_labels"`
	PseudoThreshold float64 `yaml:"pseudo_threshold"`
}

// BootstrapConfig parameterises the calibrator
type BootstrapConfig struct {
	BootstrapNumber    int     `yaml:"bootstrap_number"`
	BootstrapSize      int     `yaml:"bootstrap_size"`
	BootstrapThreshold float64 `yaml:"bootstrap_threshold"`
	Shortlist          int     `yaml:"shortlist"`
	Statistic          string  `yaml:"statistic"`
}

// AutoencoderConfig controls the optional pretraining stage
type AutoencoderConfig struct {
	AutoInit      bool    `yaml:"auto_init"`
	AutoThreshold float64 `yaml:"auto_threshold"`
	AutoMaxEpochs int     `yaml:"auto_max_epochs"`
	Hidden        int     `yaml:"hidden"`
}

// PlottingConfig names the directory receiving plot data (rendering is external)
type PlottingConfig struct {
	PlotDir string `yaml:"plot_dir"`
}

// PersistConfig selects where the audit log, snapshots and checkpoints live
type PersistConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	RedisURL string `yaml:"redis_url"`
}

// Default returns a configuration with every option at its default value.
func Default() Config {
	return Config{
		Version: "1.0",
		Run: RunConfig{
			Name: "default",
			Seed: 42,
		},
		Data: DataConfig{
			ValPer:      0.2,
			CellPatches: 1,
			NumClasses:  4,
			InputShape:  []int{27, 27, 3},
		},
		Model: ModelConfig{
			Bayesian:           true,
			BayesianIterations: 10,
			Dropout:            0.25,
		},
		Optimiser: OptimiserConfig{
			LearningRate: 1.0,
			Rho:          0.95,
			Epsilon:      1e-8,
		},
		Converge: ConvergeConfig{
			TrainingThreshold: 0.001,
			MaxEpochs:         100,
			MinEpochs:         10,
			BatchEpochs:       5,
			Policy:            PolicyAbsolute,
		},
		Training: TrainingConfig{
			BatchSize: 32,
			Intervals: 1,
		},
		Active: ActiveConfig{
			FirstUpdate:   100,
			MaxUpdateSize: 500,
			UpdatePer:     0.1,
			MaxUpdates:    20,
			Selection:     SelectionUncertainty,
		},
		Pseudo: PseudoConfig{
			PseudoThreshold: 0.95,
		},
		Bootstrap: BootstrapConfig{
			BootstrapNumber:    100,
			BootstrapSize:      50,
			BootstrapThreshold: 0.8,
			Shortlist:          1000,
			Statistic:          StatisticAccuracy,
		},
		Autoencoder: AutoencoderConfig{
			AutoThreshold: 0.0001,
			AutoMaxEpochs: 50,
			Hidden:        32,
		},
		Persist: PersistConfig{
			Backend: BackendBolt,
			Path:    "sift.db",
		},
	}
}

// InputSize returns the flattened length of one sample's features.
func (d DataConfig) InputSize() int {
	n := 1
	for _, dim := range d.InputShape {
		n *= dim
	}
	return n
}

// Validate performs strict validation on the configuration.
// Any failure is returned as a *ConfigError.
func (c *Config) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return invalid("version", "unsupported version: %s (expected: 1.0)", c.Version)
	}

	if err := ValidateName(c.Run.Name); err != nil {
		return err
	}
	if c.Run.Workers < 0 {
		return invalid("run.workers", "must be >= 0 (0 = one per core), got %d", c.Run.Workers)
	}

	if err := c.validateData(); err != nil {
		return err
	}

	if c.Model.Bayesian && c.Model.BayesianIterations < 1 {
		return invalid("model.bayesian_iterations", "must be >= 1 when bayesian is enabled, got %d", c.Model.BayesianIterations)
	}
	if c.Model.Dropout < 0 || c.Model.Dropout >= 1 {
		return invalid("model.dropout", "must be in [0,1), got %g", c.Model.Dropout)
	}

	if c.Optimiser.LearningRate <= 0 {
		return invalid("optimiser.learning_rate", "must be > 0, got %g", c.Optimiser.LearningRate)
	}
	if c.Optimiser.Rho <= 0 || c.Optimiser.Rho >= 1 {
		return invalid("optimiser.rho", "must be in (0,1), got %g", c.Optimiser.Rho)
	}
	if c.Optimiser.Epsilon <= 0 {
		return invalid("optimiser.epsilon", "must be > 0, got %g", c.Optimiser.Epsilon)
	}
	if c.Optimiser.Decay < 0 {
		return invalid("optimiser.decay", "must be >= 0, got %g", c.Optimiser.Decay)
	}

	if err := c.Converge.Validate(); err != nil {
		return err
	}

	if c.Training.BatchSize < 1 {
		return invalid("training.batch_size", "must be >= 1, got %d", c.Training.BatchSize)
	}
	if c.Training.Intervals < 1 {
		return invalid("training.intervals", "must be >= 1, got %d", c.Training.Intervals)
	}

	if err := c.validateActive(); err != nil {
		return err
	}

	if c.Pseudo.PseudoThreshold < 0 || c.Pseudo.PseudoThreshold > 1 {
		return invalid("pseudo.pseudo_threshold", "must be in [0,1], got %g", c.Pseudo.PseudoThreshold)
	}

	if err := c.validateBootstrap(); err != nil {
		return err
	}

	if c.Autoencoder.AutoInit {
		if c.Autoencoder.AutoMaxEpochs < 1 {
			return invalid("autoencoder.auto_max_epochs", "must be >= 1 when auto_init is enabled, got %d", c.Autoencoder.AutoMaxEpochs)
		}
		if c.Autoencoder.AutoThreshold <= 0 {
			return invalid("autoencoder.auto_threshold", "must be > 0, got %g", c.Autoencoder.AutoThreshold)
		}
		if c.Autoencoder.Hidden < 1 {
			return invalid("autoencoder.hidden", "must be >= 1, got %d", c.Autoencoder.Hidden)
		}
	}

	switch c.Persist.Backend {
	case BackendBolt:
		if c.Persist.Path == "" {
			return invalid("persist.path", "is required for the bolt backend")
		}
	case BackendRedis:
		if c.Persist.RedisURL == "" {
			return invalid("persist.redis_url", "is required for the redis backend")
		}
	default:
		return invalid("persist.backend", "invalid backend: %s (must be 'bolt' or 'redis')", c.Persist.Backend)
	}

	return nil
}

func (c *Config) validateData() error {
	d := c.Data
	if d.ValPer <= 0 || d.ValPer >= 1 {
		return invalid("data.val_per", "must be in (0,1), got %g", d.ValPer)
	}
	if d.NumClasses < 2 {
		return invalid("data.num_classes", "must be >= 2, got %d", d.NumClasses)
	}
	if len(d.InputShape) != 3 {
		return invalid("data.input_shape", "must be [height, width, channels], got %v", d.InputShape)
	}
	for _, dim := range d.InputShape {
		if dim < 1 {
			return invalid("data.input_shape", "dimensions must be >= 1, got %v", d.InputShape)
		}
	}
	if d.CellPatches < 1 {
		return invalid("data.cell_patches", "must be >= 1, got %d", d.CellPatches)
	}
	if d.SampleSize < 0 {
		return invalid("data.sample_size", "must be >= 0 (0 = whole pool), got %d", d.SampleSize)
	}
	if d.Manifest != "" && d.Synthetic != nil {
		return invalid("data", "manifest and synthetic are mutually exclusive")
	}
	if s := d.Synthetic; s != nil {
		if s.Labeled < 0 || s.Unlabeled < 0 {
			return invalid("data.synthetic", "sample counts must be >= 0")
		}
		if s.Noise < 0 {
			return invalid("data.synthetic.noise", "must be >= 0, got %g", s.Noise)
		}
	}
	return nil
}

func (c *Config) validateActive() error {
	a := c.Active
	if a.FirstUpdate < 0 {
		return invalid("active.first_update", "must be >= 0, got %d", a.FirstUpdate)
	}
	if a.MaxUpdateSize < 0 {
		return invalid("active.max_update_size", "must be >= 0, got %d", a.MaxUpdateSize)
	}
	if a.UpdatePer < 0 || a.UpdatePer > 1 {
		return invalid("active.update_per", "must be in [0,1], got %g", a.UpdatePer)
	}
	if a.MaxUpdates < 0 {
		return invalid("active.max_updates", "must be >= 0, got %d", a.MaxUpdates)
	}
	switch a.Selection {
	case SelectionNone, SelectionUncertainty, SelectionEntropy, SelectionMargin:
	default:
		return invalid("active.selection", "invalid selection: %s (must be 'none', 'uncertainty', 'entropy', or 'margin')", a.Selection)
	}
	return nil
}

func (c *Config) validateBootstrap() error {
	b := c.Bootstrap
	if b.BootstrapNumber < 1 {
		return invalid("bootstrap.bootstrap_number", "must be >= 1, got %d", b.BootstrapNumber)
	}
	if b.BootstrapSize < 1 {
		return invalid("bootstrap.bootstrap_size", "must be >= 1, got %d", b.BootstrapSize)
	}
	if b.BootstrapThreshold < 0 || b.BootstrapThreshold > 1 {
		return invalid("bootstrap.bootstrap_threshold", "must be in [0,1], got %g", b.BootstrapThreshold)
	}
	if b.Shortlist < 0 {
		return invalid("bootstrap.shortlist", "must be >= 0 (0 = no limit), got %d", b.Shortlist)
	}
	switch b.Statistic {
	case StatisticAccuracy, StatisticConfidence, StatisticCorrectConfidence:
	default:
		return invalid("bootstrap.statistic", "invalid statistic: %s (must be 'accuracy', 'confidence', or 'correct_confidence')", b.Statistic)
	}
	return nil
}

// Validate checks the convergence parameters on their own so the monitor can
// reject contradictory values at construction.
func (c ConvergeConfig) Validate() error {
	if c.MaxEpochs < 1 {
		return invalid("converge.max_epochs", "must be >= 1, got %d", c.MaxEpochs)
	}
	if c.MinEpochs < 1 {
		return invalid("converge.min_epochs", "must be >= 1, got %d", c.MinEpochs)
	}
	if c.MinEpochs > c.MaxEpochs {
		return invalid("converge.min_epochs", "min_epochs (%d) must not exceed max_epochs (%d)", c.MinEpochs, c.MaxEpochs)
	}
	if c.BatchEpochs < 1 {
		return invalid("converge.batch_epochs", "must be >= 1, got %d", c.BatchEpochs)
	}
	if c.TrainingThreshold <= 0 {
		return invalid("converge.training_threshold", "must be > 0, got %g", c.TrainingThreshold)
	}
	if c.Policy != PolicyAbsolute && c.Policy != PolicyRelative {
		return invalid("converge.policy", "invalid policy: %s (must be 'absolute' or 'relative')", c.Policy)
	}
	return nil
}

// ValidateName checks that a run name is usable as a ledger key namespace.
func ValidateName(name string) error {
	if name == "" {
		return invalid("run.name", "run name cannot be empty")
	}
	if len(name) > MaxNameLength {
		return invalid("run.name", "run name too long: %d characters (max: %d)", len(name), MaxNameLength)
	}
	if !NamePattern.MatchString(name) {
		return invalid("run.name", "invalid run name '%s': must be lowercase alphanumeric with hyphens (not at start/end)", name)
	}
	return nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Load reads and validates sift.yml from the specified path. Relative file
// paths inside it are resolved against the directory holding the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	config, err := Parse(data)
	if err != nil {
		return nil, err
	}
	config.ResolvePaths(filepath.Dir(path))
	return config, nil
}

// ResolvePaths makes every relative file path in the configuration relative
// to base instead of the working directory.
func (c *Config) ResolvePaths(base string) {
	for _, p := range []*string{
		&c.Run.LogFile,
		&c.Data.Manifest,
		&c.Model.ModelPath,
		&c.Plotting.PlotDir,
		&c.Persist.Path,
	} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}
