package model

import (
	"fmt"

	"github.com/dyluth/sift/internal/dataset"
)

// CellPrediction is the averaged estimate of every patch in one cell.
type CellPrediction struct {
	CellID     string    `json:"cell_id"`
	Patches    int       `json:"patches"`
	Mean       []float64 `json:"mean"`
	Predicted  int       `json:"predicted"`
	Confidence float64   `json:"confidence"`
}

// CombineCells averages patch estimates per cell, in order of first
// appearance. samples and estimates must be aligned.
func CombineCells(samples []*dataset.Sample, estimates []Estimate) ([]CellPrediction, error) {
	if len(samples) != len(estimates) {
		return nil, fmt.Errorf("got %d estimates for %d samples", len(estimates), len(samples))
	}

	index := make(map[string]int)
	var cells []CellPrediction
	for i, sample := range samples {
		est := estimates[i]
		if est.SampleID != sample.ID {
			return nil, fmt.Errorf("estimate %d is for sample %s, not %s", i, est.SampleID, sample.ID)
		}
		cellID := sample.CellID
		if cellID == "" {
			cellID = sample.ID
		}
		pos, ok := index[cellID]
		if !ok {
			pos = len(cells)
			index[cellID] = pos
			cells = append(cells, CellPrediction{CellID: cellID, Mean: make([]float64, len(est.Mean))})
		}
		cell := &cells[pos]
		cell.Patches++
		for k, p := range est.Mean {
			if k < len(cell.Mean) {
				cell.Mean[k] += p
			}
		}
	}

	for i := range cells {
		cell := &cells[i]
		for k := range cell.Mean {
			cell.Mean[k] /= float64(cell.Patches)
			if cell.Mean[k] > cell.Mean[cell.Predicted] {
				cell.Predicted = k
			}
		}
		if len(cell.Mean) > 0 {
			cell.Confidence = cell.Mean[cell.Predicted]
		}
	}
	return cells, nil
}
