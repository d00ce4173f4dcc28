package rounds

import (
	"context"
	"fmt"
	"io"

	"github.com/dyluth/sift/pkg/ledger"
)

// GetRound writes a single round as pretty-printed JSON.
// A missing round is reported as *RoundNotFoundError.
func GetRound(ctx context.Context, reader Reader, index int, w io.Writer) error {
	if index < 1 {
		return fmt.Errorf("invalid round index %d: rounds are numbered from 1", index)
	}

	round, err := reader.GetRound(ctx, index)
	if err != nil {
		if ledger.IsNotFound(err) {
			return &RoundNotFoundError{Index: index}
		}
		return fmt.Errorf("failed to fetch round: %w", err)
	}

	if err := FormatSingleJSON(w, round); err != nil {
		return fmt.Errorf("failed to format round: %w", err)
	}
	return nil
}

// RoundNotFoundError lets callers tell a missing round apart from other failures.
type RoundNotFoundError struct {
	Index int
}

func (e *RoundNotFoundError) Error() string {
	return fmt.Sprintf("round %d not found", e.Index)
}

// IsNotFound returns true if the error is a RoundNotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*RoundNotFoundError)
	return ok
}
