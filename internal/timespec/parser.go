// Package timespec parses the time and round selections of the rounds command.
package timespec

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Parse parses a time specification into a Unix timestamp (milliseconds).
// Supports two formats:
//   - Go duration format: "1h", "30m", "1h30m", "2h45m30s"
//   - RFC3339 timestamps: "2025-10-29T13:00:00Z"
//
// Duration specifications are relative to the current time (subtracted from now).
// For example, "1h" means "1 hour ago".
//
// Returns Unix timestamp in milliseconds.
func Parse(spec string) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		return time.Now().Add(-d).UnixMilli(), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use duration like '1h30m' or RFC3339 like '2025-10-29T13:00:00Z')", spec)
}

// ParseRange parses both --since and --until flags into a time range.
// Returns (sinceTimestampMs, untilTimestampMs, error).
// Zero values indicate "no bound" for that end of the range.
//
// Validates that since < until if both are specified.
func ParseRange(since, until string) (int64, int64, error) {
	var sinceMS, untilMS int64
	var err error

	if since != "" {
		sinceMS, err = Parse(since)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --since: %w", err)
		}
	}

	if until != "" {
		untilMS, err = Parse(until)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid --until: %w", err)
		}
	}

	// Validate range
	if sinceMS > 0 && untilMS > 0 && sinceMS >= untilMS {
		return 0, 0, fmt.Errorf("--since must be before --until")
	}

	return sinceMS, untilMS, nil
}

// ParseRounds parses a round selection: "5" (just round 5), "3..7"
// (inclusive), "3.." (from 3 on) or "..7" (up to 7).
// Returns (from, to, error); zero means "no bound" on that side.
func ParseRounds(spec string) (int, int, error) {
	if spec == "" {
		return 0, 0, nil
	}

	lo, hi, isRange := strings.Cut(spec, "..")
	if !isRange {
		n, err := parseIndex(spec)
		if err != nil {
			return 0, 0, err
		}
		return n, n, nil
	}

	var from, to int
	var err error
	if lo != "" {
		if from, err = parseIndex(lo); err != nil {
			return 0, 0, err
		}
	}
	if hi != "" {
		if to, err = parseIndex(hi); err != nil {
			return 0, 0, err
		}
	}
	if from == 0 && to == 0 {
		return 0, 0, fmt.Errorf("invalid round range: %s (use '5', '3..7', '3..' or '..7')", spec)
	}
	if from > 0 && to > 0 && from > to {
		return 0, 0, fmt.Errorf("invalid round range: %s (start after end)", spec)
	}
	return from, to, nil
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid round index: %q (rounds are numbered from 1)", s)
	}
	return n, nil
}
