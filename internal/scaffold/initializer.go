// Package scaffold writes a starter sift.yml for `sift init`.
package scaffold

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/sift/internal/config"
	"github.com/dyluth/sift/internal/printer"
)

//go:embed templates/*
var templatesFS embed.FS

// ConfigFile is the name of the project configuration.
const ConfigFile = "sift.yml"

// StateDir holds the ledger, model checkpoint and plot data of the default template.
const StateDir = ".sift"

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// Initialize writes sift.yml into dir.
// If force is true, an existing sift.yml and .sift/ directory are removed first.
func Initialize(dir string, force bool) error {
	if force {
		if err := handleForce(dir); err != nil {
			return err
		}
	}

	files, err := getTemplateFiles(dir)
	if err != nil {
		return err
	}

	if err := writeFiles(files); err != nil {
		return err
	}

	return validateCreatedFiles(dir)
}

// handleForce removes existing files if --force was specified
func handleForce(dir string) error {
	path := filepath.Join(dir, ConfigFile)
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("⚠️  Removing existing %s...\n", ConfigFile)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", ConfigFile, err)
		}
	}

	state := filepath.Join(dir, StateDir)
	if info, err := os.Stat(state); err == nil && info.IsDir() {
		fmt.Printf("⚠️  Removing existing %s/ directory...\n", StateDir)
		if err := os.RemoveAll(state); err != nil {
			return fmt.Errorf("failed to remove %s/ directory: %w", StateDir, err)
		}
	}

	return nil
}

func getTemplateFiles(dir string) ([]FileInfo, error) {
	content, err := templatesFS.ReadFile("templates/sift.yml")
	if err != nil {
		return nil, fmt.Errorf("failed to read sift.yml template: %w", err)
	}
	return []FileInfo{{
		Path:        filepath.Join(dir, ConfigFile),
		Content:     content,
		Permissions: 0644,
	}}, nil
}

func writeFiles(files []FileInfo) error {
	for _, file := range files {
		if err := os.WriteFile(file.Path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}
	return nil
}

// validateCreatedFiles loads the written sift.yml through the same strict
// path `sift run` uses.
func validateCreatedFiles(dir string) error {
	if _, err := config.Load(filepath.Join(dir, ConfigFile)); err != nil {
		return fmt.Errorf("created %s is not valid: %w", ConfigFile, err)
	}
	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess() {
	printer.Println()
	printer.Success("Successfully initialized sift project!\n")
	printer.Info("\nCreated:\n")
	printer.Info("  ✓ %s\n", ConfigFile)
	printer.Info("\nNext steps:\n")
	printer.Info("  1. Add '%s/' to your .gitignore file\n", StateDir)
	printer.Info("  2. Point data.manifest at your patches, or keep the synthetic dataset to try things out\n")
	printer.Info("  3. Run 'sift run' to start the active-learning loop\n")
}
