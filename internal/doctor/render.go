package doctor

import (
	"fmt"
	"io"
)

// printStage writes a single stage line to w, with details indented in
// verbose mode.
func printStage(w io.Writer, st *StageResult, verbose bool) {
	var icon string
	switch {
	case st.Skipped:
		icon = "-"
	case st.OK:
		icon = "✓"
	default:
		icon = "✗"
	}
	fmt.Fprintf(w, "  %s %s — %s\n", icon, st.Name, st.Summary) //nolint:errcheck // best-effort output
	if verbose {
		for _, d := range st.Details {
			fmt.Fprintf(w, "      %s\n", d) //nolint:errcheck // best-effort output
		}
	}
}

// Render writes the full plain-text report: every stage, the pooled
// suggestions, and a final verdict line.
func Render(w io.Writer, res *Result, verbose bool) {
	for i := range res.Stages {
		printStage(w, &res.Stages[i], verbose)
	}
	if len(res.Suggestions) > 0 {
		fmt.Fprintf(w, "\nSuggestions:\n") //nolint:errcheck // best-effort output
		for _, s := range res.Suggestions {
			fmt.Fprintf(w, "  • %s\n", s) //nolint:errcheck // best-effort output
		}
	}
	passed, skipped, failed := 0, 0, 0
	for _, st := range res.Stages {
		switch {
		case st.Skipped:
			skipped++
		case st.OK:
			passed++
		default:
			failed++
		}
	}
	fmt.Fprintf(w, "\n%d passed", passed) //nolint:errcheck // best-effort output
	if skipped > 0 {
		fmt.Fprintf(w, ", %d skipped", skipped) //nolint:errcheck // best-effort output
	}
	if failed > 0 {
		fmt.Fprintf(w, ", %d failed", failed) //nolint:errcheck // best-effort output
	}
	fmt.Fprintf(w, "\n") //nolint:errcheck // best-effort output
}
