package commands

import (
	"fmt"

	"github.com/dyluth/sift/internal/printer"
	"github.com/dyluth/sift/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new sift project",
	Long: `Initialize a new sift project with a documented default configuration.

Creates:
  • sift.yml - Run configuration (synthetic dataset, bolt ledger under .sift/)

Use --force to reinitialize an existing project (WARNING: destroys existing
configuration and the .sift/ ledger, checkpoint and plot data).`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Force reinitialization (removes existing sift.yml and .sift/)")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to initialize")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	if !forceInit {
		if err := scaffold.CheckExisting(initDir); err != nil {
			return printer.Error("project already initialized", err.Error(), nil)
		}
	}

	if err := scaffold.Initialize(initDir, forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess()
	return nil
}
