package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/sift/internal/config"
	"github.com/dyluth/sift/internal/printer"
	"github.com/dyluth/sift/pkg/ledger"
)

// openLedger connects to the backend named in persist.
func openLedger(ctx context.Context, cfg *config.Config) (ledger.Ledger, error) {
	switch cfg.Persist.Backend {
	case config.BackendRedis:
		client, err := ledger.NewClientFromURL(cfg.Persist.RedisURL, cfg.Run.Name)
		if err != nil {
			return nil, err
		}
		if err := client.Ping(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Persist.RedisURL, err)
		}
		return client, nil
	default:
		if dir := filepath.Dir(cfg.Persist.Path); dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create ledger directory: %w", err)
			}
		}
		return ledger.OpenBolt(cfg.Persist.Path, cfg.Run.Name)
	}
}

// loadConfig reads sift.yml and reports problems the way every command does.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err == nil {
		return cfg, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return nil, printer.Error(
			"sift.yml not found",
			fmt.Sprintf("No configuration at %s.", configPath),
			[]string{"Run 'sift init' to create one, or pass --config"},
		)
	}
	var cfgErr *config.ConfigError
	if errors.As(err, &cfgErr) {
		return nil, printer.ErrorWithContext(
			"invalid configuration",
			cfgErr.Reason,
			map[string]string{"Config": configPath, "Field": cfgErr.Field},
			[]string{"Fix the field in sift.yml and run again"},
		)
	}
	return nil, printer.ErrorWithContext("invalid configuration", err.Error(), map[string]string{"Config": configPath}, nil)
}
