package scanreport

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
)

// footer is the fixed final line of every rendered report.
const footer = "_Generated by gdmcp project scan._"

// maxTopErrors caps the executive error table.
const maxTopErrors = 10

// RenderMarkdown renders a report to Markdown. It is a pure function of
// the report value: fixed section order, LF line endings, no clock reads
// beyond the GeneratedAt already captured in the report, and scan options
// serialized as RFC 8785 canonical JSON so key order cannot drift between
// renders.
func RenderMarkdown(r *Report) string {
	var b strings.Builder

	b.WriteString("# Godot Project Diagnostic Report\n\n")
	fmt.Fprintf(&b, "- Project: `%s`\n", r.ProjectPath)
	fmt.Fprintf(&b, "- Godot: %s\n", r.GodotVersion)
	fmt.Fprintf(&b, "- Generated: %s\n\n", r.GeneratedAt.UTC().Format(time.RFC3339))

	b.WriteString("## Scan Options\n\n")
	b.WriteString("```json\n")
	b.WriteString(canonicalOptions(r.Options))
	b.WriteString("\n```\n\n")

	renderSummary(&b, r.Summary)
	renderTopErrors(&b, r.Issues)
	renderCategories(&b, r.Issues)

	b.WriteString("---\n\n")
	b.WriteString(footer)
	b.WriteString("\n")
	return b.String()
}

// canonicalOptions serializes the options bag as canonical JSON. An
// unserializable bag degrades to {} rather than poisoning the render.
func canonicalOptions(options map[string]any) string {
	if len(options) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return "{}"
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "{}"
	}
	return string(canonical)
}

func renderSummary(b *strings.Builder, s Summary) {
	b.WriteString("## Summary\n\n")
	fmt.Fprintf(b, "Total issues: %d\n\n", s.Total)
	b.WriteString("| Severity | Count |\n|---|---|\n")
	fmt.Fprintf(b, "| error | %d |\n", s.BySeverity[SeverityError])
	fmt.Fprintf(b, "| warning | %d |\n", s.BySeverity[SeverityWarning])
	fmt.Fprintf(b, "| info | %d |\n", s.BySeverity[SeverityInfo])
	fmt.Fprintf(b, "\nScan duration: %.0f ms\n\n", s.ScanDurationMs)
}

func renderTopErrors(b *strings.Builder, issues []Issue) {
	b.WriteString("## Top Errors\n\n")
	var errs []Issue
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			errs = append(errs, iss)
			if len(errs) == maxTopErrors {
				break
			}
		}
	}
	if len(errs) == 0 {
		b.WriteString("No errors found.\n\n")
		return
	}
	b.WriteString("| ID | Title | Location |\n|---|---|---|\n")
	for _, iss := range errs {
		fmt.Fprintf(b, "| %s | %s | %s |\n", cell(iss.IssueID), cell(iss.Title), cell(locationString(iss.Location)))
	}
	b.WriteString("\n")
}

func renderCategories(b *strings.Builder, issues []Issue) {
	b.WriteString("## Issues by Category\n\n")
	for _, cat := range categoryOrder {
		var group []Issue
		for _, iss := range issues {
			if iss.Category == cat {
				group = append(group, iss)
			}
		}
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(b, "### %s (%d)\n\n", cat, len(group))
		b.WriteString("| ID | Severity | Title | Location |\n|---|---|---|---|\n")
		for _, iss := range group {
			fmt.Fprintf(b, "| %s | %s | %s | %s |\n",
				cell(iss.IssueID), iss.Severity, cell(iss.Title), cell(locationString(iss.Location)))
		}
		b.WriteString("\n")
		for _, iss := range group {
			renderDetail(b, iss)
		}
	}
}

// renderDetail writes the per-issue detail block: message plus whatever
// optional fields are present.
func renderDetail(b *strings.Builder, iss Issue) {
	fmt.Fprintf(b, "- **%s**: %s\n", iss.IssueID, iss.Message)
	if iss.Evidence != "" {
		fmt.Fprintf(b, "  - Evidence: `%s`\n", iss.Evidence)
	}
	if iss.SuggestedFix != "" {
		fmt.Fprintf(b, "  - Suggested fix: %s\n", iss.SuggestedFix)
	}
	for _, a := range iss.RelatedActions {
		fmt.Fprintf(b, "  - Related action: %s\n", a)
	}
	b.WriteString("\n")
}

// locationString formats a location for table cells.
func locationString(loc *Location) string {
	if loc == nil {
		return "-"
	}
	var parts []string
	if loc.File != "" {
		if loc.Line > 0 {
			parts = append(parts, fmt.Sprintf("%s:%d", loc.File, loc.Line))
		} else {
			parts = append(parts, loc.File)
		}
	}
	if loc.NodePath != "" {
		parts = append(parts, loc.NodePath)
	}
	if loc.UID != "" {
		parts = append(parts, loc.UID)
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, " ")
}

// cell escapes pipe characters so issue text cannot break table layout.
func cell(s string) string {
	if s == "" {
		return "-"
	}
	return strings.ReplaceAll(s, "|", "\\|")
}
