package commands

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dyluth/sift/internal/config"
	"github.com/dyluth/sift/internal/controller"
	"github.com/dyluth/sift/internal/dataset"
	"github.com/dyluth/sift/internal/model"
	"github.com/dyluth/sift/internal/printer"
	"github.com/spf13/cobra"
)

var (
	runResume  bool
	runVerbose bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the active-learning loop",
	Long: `Run the active-learning loop described by sift.yml until a termination
condition holds: max_updates rounds, an exhausted unlabeled pool, two rounds
in a row without selections, or training that fails to converge.

The dataset comes from data.manifest (JSON lines) or data.synthetic. With a
synthetic dataset, or a manifest carrying labels for unlabeled records, a
simulated oracle answers the queries.

Every round is committed to the ledger together with the pool snapshot and
model checkpoint. --resume continues a failed or interrupted run from the
round after the last committed one.

Examples:
  # Start a fresh run (any earlier ledger entries for run.name are cleared)
  sift run

  # Continue where an interrupted run stopped
  sift run --resume`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Continue the last run recorded in the ledger")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Log every epoch and state transition (overrides run.verbose)")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runVerbose {
		cfg.Run.Verbose = true
	}

	if cfg.Run.LogFile != "" {
		closeLog, err := teeLog(cfg.Run.LogFile)
		if err != nil {
			return printer.Error("cannot open log file", err.Error(), nil)
		}
		defer closeLog()
	}

	printer.Step("Loading dataset...\n")
	store, answers, err := loadDataset(cfg)
	if err != nil {
		return printer.ErrorWithContext("failed to load dataset", err.Error(),
			map[string]string{"Config": configPath}, nil)
	}
	sizes := store.Sizes()
	printer.Info("  %d samples: %d labeled, %d unlabeled\n",
		store.Len(), sizes[dataset.PoolTrain]+sizes[dataset.PoolValidation], sizes[dataset.PoolUnlabeled])

	journal, err := openLedger(ctx, cfg)
	if err != nil {
		return printer.ErrorWithContext("failed to open ledger", err.Error(),
			map[string]string{"Backend": cfg.Persist.Backend}, nil)
	}
	defer journal.Close()

	adapter := model.NewSoftmax(cfg.Data.InputSize(), cfg.Data.NumClasses, cfg.Model, cfg.Optimiser, cfg.Run.Seed)
	ctrl, err := controller.New(cfg, store, adapter, controller.NewSimulatedOracle(answers), journal)
	if err != nil {
		return printer.Error("failed to start run", err.Error(), nil)
	}

	if runResume {
		if err := ctrl.Resume(ctx); err != nil {
			return printer.Error("cannot resume run", err.Error(), []string{
				"Run 'sift rounds' to inspect what the ledger holds",
				"Run 'sift run' without --resume to start over",
			})
		}
	}

	printer.Step("Running '%s'...\n", cfg.Run.Name)
	report, err := ctrl.Run(ctx)
	if err != nil {
		suggestions := []string{"Run 'sift run --resume' to continue from the last committed round"}
		if model.IsAdapterError(err) {
			return printer.ErrorWithContext("model failure", err.Error(),
				map[string]string{"Run": cfg.Run.Name, "State": string(ctrl.State())}, suggestions)
		}
		return printer.ErrorWithContext("run failed", err.Error(),
			map[string]string{"Run": cfg.Run.Name, "State": string(ctrl.State())}, suggestions)
	}

	printReport(report)
	return nil
}

// teeLog copies the standard logger to path as well as stderr.
func teeLog(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	prev := log.Writer()
	log.SetOutput(io.MultiWriter(prev, f))
	return func() {
		log.SetOutput(prev)
		f.Close()
	}, nil
}

// loadDataset builds the store from the manifest or the synthetic generator.
func loadDataset(cfg *config.Config) (*dataset.Store, dataset.Answers, error) {
	d := cfg.Data
	switch {
	case d.Manifest != "":
		return dataset.LoadManifestFile(d.Manifest, d.InputShape, d.NumClasses)
	case d.Synthetic != nil:
		return dataset.Synthetic(dataset.SyntheticSpec{
			Labeled:     d.Synthetic.Labeled,
			Unlabeled:   d.Synthetic.Unlabeled,
			Noise:       d.Synthetic.Noise,
			NumClasses:  d.NumClasses,
			Shape:       d.InputShape,
			CellPatches: d.CellPatches,
			Seed:        cfg.Run.Seed,
		})
	default:
		return nil, nil, fmt.Errorf("no dataset configured: set data.manifest or data.synthetic")
	}
}

func printReport(r *controller.Report) {
	printer.Println()
	printer.Outcome(string(r.Termination), "Run '%s' finished: %s\n", r.RunName, r.Termination)
	printer.KeyValue("Run ID", "%s", r.RunID)
	printer.KeyValue("Rounds", "%d", r.Rounds)
	printer.KeyValue("Queried", "%d", r.Queried)
	printer.KeyValue("Pools", "train=%d validation=%d unlabeled=%d pseudo=%d",
		r.PoolSizes[dataset.PoolTrain], r.PoolSizes[dataset.PoolValidation],
		r.PoolSizes[dataset.PoolUnlabeled], r.PoolSizes[dataset.PoolPseudo])
	if r.Rounds > 0 {
		printer.KeyValue("Threshold", "%.3f (passed=%t, degraded=%t)", r.Threshold.Value, r.Threshold.Passed, r.Threshold.Degraded)
		printer.KeyValue("Accuracy", "%.1f%% (mean class %.1f%%, F1 %.3f)",
			r.Metrics.Accuracy*100, r.Metrics.MeanClassAccuracy*100, r.Metrics.F1)
	}
	printer.KeyValue("Final training", "%d epochs, loss %.4f, converged=%t", r.Epochs, r.FinalLoss, r.Converged)
	if r.DegradedStart {
		printer.Warning("Pretraining did not converge; the run started from best-effort encoder weights\n")
	}
	if len(r.Cells) > 0 {
		printer.KeyValue("Cells", "%d combined predictions", len(r.Cells))
	}
	printer.KeyValue("Duration", "%s", r.Duration().Round(time.Millisecond))
}
