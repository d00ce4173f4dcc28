package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// configPath is shared by every command that reads sift.yml
var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sift",
	Short: "sift - active-learning training controller",
	Long: `sift trains an image-patch classifier with as few human labels as possible.

Each round it trains to convergence, calibrates a confidence threshold on the
validation pool, asks the oracle to label the most uncertain samples, and
pseudo-labels the ones the model is sure about. Every round is recorded in a
ledger (bbolt or Redis) so runs can be audited and resumed.`,
	Version: version,
	// Prevent silent success when unknown flags are passed to the root command
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "sift.yml", "Path to sift.yml")
}
