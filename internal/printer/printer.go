package printer

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"
)

func init() {
	// Force color output even when not connected to TTY
	// Users can disable with NO_COLOR environment variable
	if os.Getenv("NO_COLOR") == "" {
		color.NoColor = false
	}
}

var (
	// Color definitions
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
)

// Success prints a success message in green with a checkmark prefix
func Success(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "✓") {
		green.Printf("✓ %s", msg)
	} else {
		green.Print(msg)
	}
}

// Info prints an informational message in the default color
func Info(format string, a ...any) {
	fmt.Printf(format, a...)
}

// Warning prints a warning message in yellow with a warning emoji prefix
func Warning(format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	if !strings.HasPrefix(msg, "⚠️") {
		yellow.Printf("⚠️  %s", msg)
	} else {
		yellow.Print(msg)
	}
}

// Error prints a formatted error (title, explanation, suggestions) to stderr
// and returns an error carrying only the title, for Cobra
func Error(title string, explanation string, suggestions []string) error {
	// Print title in red to stderr
	red.Fprintf(os.Stderr, "%s\n\n", title)

	// Print explanation
	fmt.Fprintf(os.Stderr, "%s\n", explanation)

	writeSuggestions(os.Stderr, suggestions)

	// Return simple error for Cobra (won't be printed due to SilenceErrors)
	return fmt.Errorf("%s", title)
}

// ErrorWithContext creates a formatted error with context details
// Prints the formatted error to stderr with colors and returns a simple error for Cobra
func ErrorWithContext(title string, explanation string, context map[string]string, suggestions []string) error {
	// Print title in red to stderr
	red.Fprintf(os.Stderr, "%s\n\n", title)

	// Print explanation
	if explanation != "" {
		fmt.Fprintf(os.Stderr, "%s\n", explanation)
	}

	// Context keys are sorted so the output is stable
	if len(context) > 0 {
		fmt.Fprintf(os.Stderr, "\n")
		keys := make([]string, 0, len(context))
		for key := range context {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Fprintf(os.Stderr, "  %s: %s\n", key, context[key])
		}
	}

	writeSuggestions(os.Stderr, suggestions)

	// Return simple error for Cobra (won't be printed due to SilenceErrors)
	return fmt.Errorf("%s", title)
}

// Step prints a step message with emphasis (used in multi-step operations)
func Step(format string, a ...any) {
	cyan.Printf("→ %s", fmt.Sprintf(format, a...))
}

// Println prints a plain message (for output that doesn't need coloring)
func Println(a ...any) {
	fmt.Println(a...)
}

func writeSuggestions(w io.Writer, suggestions []string) {
	if len(suggestions) == 0 {
		return
	}
	fmt.Fprintf(w, "\n")
	if len(suggestions) == 1 {
		fmt.Fprintf(w, "%s\n", suggestions[0])
		return
	}
	fmt.Fprintf(w, "Either:\n")
	for i, suggestion := range suggestions {
		fmt.Fprintf(w, "  %d. %s\n", i+1, suggestion)
	}
}

// Outcome prints how a run ended: green when it finished its work, yellow
// when it stopped early, red when training never converged.
func Outcome(termination string, format string, a ...any) {
	msg := fmt.Sprintf(format, a...)
	switch OutcomeLevel(termination) {
	case LevelSuccess:
		green.Printf("✓ %s", msg)
	case LevelWarning:
		yellow.Printf("⚠️  %s", msg)
	default:
		red.Printf("✗ %s", msg)
	}
}

// Level classifies a run outcome for display.
type Level int

const (
	LevelSuccess Level = iota
	LevelWarning
	LevelFailure
)

// OutcomeLevel maps a termination reason to a display level.
func OutcomeLevel(termination string) Level {
	switch termination {
	case "max_updates_reached", "pool_exhausted":
		return LevelSuccess
	case "selection_stagnated":
		return LevelWarning
	default:
		return LevelFailure
	}
}

// KeyValue prints an aligned "key: value" line, used for run summaries.
func KeyValue(key string, format string, a ...any) {
	fmt.Printf("  %-16s %s\n", key+":", fmt.Sprintf(format, a...))
}
