// Package scanreport turns the loosely-typed issue records produced by a
// project scan into a canonical, deterministic diagnostic report. Raw
// records are coerced defensively (the pipeline never rejects input),
// deduplicated on a composite key, sorted under a total order, and
// rendered to Markdown by a pure function of the report value — two
// renders of the same report byte-match.
package scanreport

import (
	"time"
)

// Severity classifies how serious an issue is.
type Severity string

// Severity values, in rank order.
const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// Category groups issues by the project area they concern.
type Category string

// Category values, in the fixed enumeration (and sort) order.
const (
	CategoryEnvironment Category = "environment"
	CategoryProject     Category = "project"
	CategoryAssets      Category = "assets"
	CategoryScripts     Category = "scripts"
	CategoryScenes      Category = "scenes"
	CategoryUID         Category = "uid"
	CategoryExport      Category = "export"
	CategoryOther       Category = "other"
)

// categoryOrder fixes the category sort rank. Unknown categories sort last.
var categoryOrder = []Category{
	CategoryEnvironment,
	CategoryProject,
	CategoryAssets,
	CategoryScripts,
	CategoryScenes,
	CategoryUID,
	CategoryExport,
	CategoryOther,
}

// severityRank maps severities to their sort rank (error < warning < info).
var severityRank = map[Severity]int{
	SeverityError:   0,
	SeverityWarning: 1,
	SeverityInfo:    2,
}

// Location pins an issue to a place in the project. Every field is
// optional; a location with no fields is omitted from the issue.
type Location struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	NodePath string `json:"nodePath,omitempty"`
	UID      string `json:"uid,omitempty"`
}

// empty reports whether no field is set.
func (l *Location) empty() bool {
	return l.File == "" && l.Line == 0 && l.NodePath == "" && l.UID == ""
}

// Issue is one canonicalized diagnostic finding.
type Issue struct {
	IssueID        string    `json:"issueId"`
	Severity       Severity  `json:"severity"`
	Category       Category  `json:"category"`
	Title          string    `json:"title"`
	Message        string    `json:"message"`
	Location       *Location `json:"location,omitempty"`
	Evidence       string    `json:"evidence,omitempty"`
	SuggestedFix   string    `json:"suggestedFix,omitempty"`
	RelatedActions []string  `json:"relatedActions,omitempty"`
}

// Summary aggregates issue counts for a report.
type Summary struct {
	Total int `json:"total"`
	// BySeverity always carries all three severity keys, zero-valued
	// when absent.
	BySeverity map[Severity]int `json:"bySeverity"`
	// ByCategory is sparse: only categories with issues appear.
	ByCategory     map[Category]int `json:"byCategory"`
	ScanDurationMs float64          `json:"scanDurationMs"`
}

// Report is the immutable product of one scan invocation.
type Report struct {
	GeneratedAt  time.Time      `json:"generatedAt"`
	ProjectPath  string         `json:"projectPath"`
	GodotVersion string         `json:"godotVersion"`
	Options      map[string]any `json:"options,omitempty"`
	Issues       []Issue        `json:"issues"`
	Summary      Summary        `json:"summary"`
}

// New assembles a Report from raw scan records: normalize, dedupe, sort,
// summarize. meta is the opaque metadata bag scan duration is pulled from.
func New(projectPath, godotVersion string, options map[string]any, raw []map[string]any, meta map[string]any, generatedAt time.Time) *Report {
	issues := DedupeSort(Normalize(raw))
	return &Report{
		GeneratedAt:  generatedAt,
		ProjectPath:  projectPath,
		GodotVersion: godotVersion,
		Options:      options,
		Issues:       issues,
		Summary:      Summarize(issues, meta),
	}
}
