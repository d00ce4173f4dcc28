package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"

	"github.com/dyluth/sift/internal/printer"
	"github.com/dyluth/sift/internal/rounds"
	"github.com/dyluth/sift/internal/timespec"
	"github.com/dyluth/sift/internal/watch"
	"github.com/dyluth/sift/pkg/ledger"
	"github.com/spf13/cobra"
)

var (
	roundsOutputFormat string
	roundsSince        string
	roundsUntil        string
	roundsRange        string
	roundsPseudoOnly   bool
	roundsFollow       bool
)

var roundsCmd = &cobra.Command{
	Use:   "rounds [INDEX]",
	Short: "Inspect the round audit log",
	Long: `Inspect the rounds recorded in the ledger for run.name.

List Mode (no INDEX):
  Displays rounds matching filters as a table or JSONL stream.

Get Mode (with INDEX):
  Displays one round as pretty-printed JSON, including every queried,
  pseudo-labeled and demoted sample id.

Output Formats (list mode only):
  default - Human-readable table with counts, threshold and accuracy
  jsonl   - Line-delimited JSON, one round per line

Filters (list mode only):
  --since   - Rounds completed after this time (duration or RFC3339)
  --until   - Rounds completed before this time
  --rounds  - Index selection: "5", "3..7", "3..", "..7"
  --pseudo  - Only rounds that promoted pseudo-labels

Follow Mode (--follow):
  Keeps printing rounds as a running process commits them, until the run
  completes or fails. The bolt ledger is locked by the writer, so following
  a live run needs persist.backend: redis.

Examples:
  sift rounds
  sift rounds --rounds=10.. --pseudo
  sift rounds --output=jsonl | jq '.queried_sample_ids | length'
  sift rounds --follow
  sift rounds 3`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRounds,
}

func init() {
	roundsCmd.Flags().StringVarP(&roundsOutputFormat, "output", "o", "default", "Output format: default or jsonl (ignored in get mode)")
	roundsCmd.Flags().StringVar(&roundsSince, "since", "", "Show rounds completed after time (duration or RFC3339)")
	roundsCmd.Flags().StringVar(&roundsUntil, "until", "", "Show rounds completed before time (duration or RFC3339)")
	roundsCmd.Flags().StringVar(&roundsRange, "rounds", "", "Round index selection (e.g. 3..7)")
	roundsCmd.Flags().BoolVar(&roundsPseudoOnly, "pseudo", false, "Only rounds that promoted pseudo-labels")
	roundsCmd.Flags().BoolVar(&roundsFollow, "follow", false, "Keep printing rounds until the run finishes")
	rootCmd.AddCommand(roundsCmd)
}

func runRounds(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	isGetMode := len(args) > 0

	var outputFormat rounds.OutputFormat
	var filters *rounds.FilterCriteria
	if !isGetMode {
		switch roundsOutputFormat {
		case "default":
			outputFormat = rounds.OutputFormatDefault
		case "jsonl":
			outputFormat = rounds.OutputFormatJSONL
		default:
			return printer.Error(
				"invalid output format",
				fmt.Sprintf("Unknown format: %s", roundsOutputFormat),
				[]string{"Valid formats: default, jsonl"},
			)
		}

		since, until, err := timespec.ParseRange(roundsSince, roundsUntil)
		if err != nil {
			return printer.Error("invalid time filter", err.Error(), nil)
		}
		from, to, err := timespec.ParseRounds(roundsRange)
		if err != nil {
			return printer.Error("invalid round filter", err.Error(), nil)
		}
		filters = &rounds.FilterCriteria{
			SinceTimestampMs: since,
			UntilTimestampMs: until,
			FromRound:        from,
			ToRound:          to,
			PseudoOnly:       roundsPseudoOnly,
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	journal, err := openLedger(ctx, cfg)
	if err != nil {
		return printer.ErrorWithContext("failed to open ledger", err.Error(),
			map[string]string{"Backend": cfg.Persist.Backend}, nil)
	}
	defer journal.Close()

	out := cmd.OutOrStdout()
	if !isGetMode {
		if err := rounds.ListRounds(ctx, journal, cfg.Run.Name, outputFormat, filters, out); err != nil {
			return err
		}
		if roundsFollow {
			return followRounds(ctx, journal, outputFormat, out)
		}
		return nil
	}

	index, err := strconv.Atoi(args[0])
	if err != nil {
		return printer.Error("invalid round index", fmt.Sprintf("%q is not a number", args[0]), nil)
	}
	if err := rounds.GetRound(ctx, journal, index, out); err != nil {
		if rounds.IsNotFound(err) {
			return printer.Error(
				fmt.Sprintf("round %d not found", index),
				fmt.Sprintf("Run '%s' has no round %d in the ledger.", cfg.Run.Name, index),
				[]string{"Run 'sift rounds' to list the recorded rounds"},
			)
		}
		return err
	}
	return nil
}

// followRounds streams rounds committed after the ones already listed.
func followRounds(ctx context.Context, journal ledger.Ledger, format rounds.OutputFormat, out io.Writer) error {
	existing, err := journal.Rounds(ctx)
	if err != nil {
		return fmt.Errorf("failed to read rounds: %w", err)
	}
	after := 0
	if n := len(existing); n > 0 {
		after = existing[n-1].Index
	}

	run, err := watch.Follow(ctx, journal, after, watch.DefaultInterval, func(r *ledger.UpdateRound) error {
		if format == rounds.OutputFormatJSONL {
			return rounds.FormatJSONL(out, []*ledger.UpdateRound{r})
		}
		rounds.FormatRow(out, r)
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if run != nil && format == rounds.OutputFormatDefault {
		printer.Outcome(run.Termination, "Run '%s' %s: %s\n", run.Name, run.Status, run.Termination)
	}
	return nil
}
