package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/gdmcp/gdmcp/internal/doctor"
)

var (
	accent  = lipgloss.Color("39")
	okColor = lipgloss.Color("42")
	errCol  = lipgloss.Color("160")
	dim     = lipgloss.Color("245")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	subtleStyle  = lipgloss.NewStyle().Foreground(dim)
	okStyle      = lipgloss.NewStyle().Bold(true).Foreground(okColor)
	failStyle    = lipgloss.NewStyle().Bold(true).Foreground(errCol)
	suggestStyle = lipgloss.NewStyle().Foreground(dim).Italic(true)
)

// renderHeader is the banner printed before stages stream in.
func renderHeader(projectRoot string) string {
	title := titleStyle.Render("gdmcp doctor")
	if projectRoot == "" {
		return title + "  " + subtleStyle.Render("(no project)")
	}
	return title + "  " + subtleStyle.Render(projectRoot)
}

// renderFooter summarizes a finished run: pooled suggestions and the
// verdict line. Stage lines were already streamed.
func renderFooter(res *doctor.Result) string {
	var b strings.Builder

	if len(res.Suggestions) > 0 {
		b.WriteString("\n")
		b.WriteString(titleStyle.Render("Suggestions") + "\n")
		for _, s := range res.Suggestions {
			b.WriteString("  • " + suggestStyle.Render(s) + "\n")
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

	verdict := okStyle.Render("environment healthy")
	if !res.OK {
		verdict = failStyle.Render("problems found")
	}
	counts := fmt.Sprintf("%d passed", passed)
	if skipped > 0 {
		counts += fmt.Sprintf(", %d skipped", skipped)
	}
	if failed > 0 {
		counts += fmt.Sprintf(", %d failed", failed)
	}
	b.WriteString("\n" + verdict + "  " + subtleStyle.Render(counts) + "\n")
	return b.String()
}
