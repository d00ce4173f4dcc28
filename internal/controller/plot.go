package controller

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/sift/pkg/ledger"
)

const (
	roundsFile  = "rounds.jsonl"
	historyFile = "history.jsonl"
)

// plotWriter appends plot data as JSON lines for external rendering.
// A writer with an empty dir does nothing.
type plotWriter struct {
	dir string
}

func newPlotWriter(dir string) *plotWriter {
	return &plotWriter{dir: dir}
}

// reset truncates both files at the start of a fresh run.
func (p *plotWriter) reset() error {
	if p.dir == "" {
		return nil
	}
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("failed to create plot directory: %w", err)
	}
	for _, name := range []string{roundsFile, historyFile} {
		if err := os.WriteFile(filepath.Join(p.dir, name), nil, 0644); err != nil {
			return fmt.Errorf("failed to reset %s: %w", name, err)
		}
	}
	return nil
}

func (p *plotWriter) epoch(rec epochRecord) error {
	return p.append(historyFile, rec)
}

func (p *plotWriter) round(round *ledger.UpdateRound) error {
	return p.append(roundsFile, round)
}

func (p *plotWriter) append(name string, v interface{}) error {
	if p.dir == "" {
		return nil
	}
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode plot record: %w", err)
	}
	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return fmt.Errorf("failed to create plot directory: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(p.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
