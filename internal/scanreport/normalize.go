package scanreport

import (
	"sort"
	"strings"
)

// Normalize coerces raw scan records into well-formed issues. It never
// fails: missing or mistyped fields fall back to safe defaults so the
// report pipeline cannot itself crash on malformed scan output.
func Normalize(raw []map[string]any) []Issue {
	issues := make([]Issue, 0, len(raw))
	for _, rec := range raw {
		issues = append(issues, normalizeOne(rec))
	}
	return issues
}

func normalizeOne(rec map[string]any) Issue {
	iss := Issue{
		IssueID:  stringOr(rec["issueId"], "UNKNOWN"),
		Severity: normalizeSeverity(rec["severity"]),
		Category: normalizeCategory(rec["category"]),
		Title:    stringOr(rec["title"], ""),
		Message:  stringOr(rec["message"], ""),
		Evidence: stringOr(rec["evidence"], ""),
	}
	iss.SuggestedFix = stringOr(rec["suggestedFix"], "")
	iss.Location = normalizeLocation(rec["location"])
	iss.RelatedActions = normalizeActions(rec["relatedActions"])
	return iss
}

// stringOr returns v when it is a non-empty string, else fallback.
func stringOr(v any, fallback string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return fallback
}

// normalizeSeverity coerces unknown or mistyped severities to info.
func normalizeSeverity(v any) Severity {
	if s, ok := v.(string); ok {
		switch Severity(strings.ToLower(s)) {
		case SeverityError:
			return SeverityError
		case SeverityWarning:
			return SeverityWarning
		case SeverityInfo:
			return SeverityInfo
		}
	}
	return SeverityInfo
}

// normalizeCategory coerces unknown or mistyped categories to other.
func normalizeCategory(v any) Category {
	if s, ok := v.(string); ok {
		c := Category(strings.ToLower(s))
		for _, known := range categoryOrder {
			if c == known {
				return c
			}
		}
	}
	return CategoryOther
}

// normalizeLocation validates each sub-field independently, dropping the
// malformed ones; a location left with no valid fields becomes absent.
func normalizeLocation(v any) *Location {
	rec, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	loc := &Location{
		File:     stringOr(rec["file"], ""),
		NodePath: stringOr(rec["nodePath"], ""),
		UID:      stringOr(rec["uid"], ""),
	}
	loc.Line = intOrZero(rec["line"])
	if loc.empty() {
		return nil
	}
	return loc
}

// intOrZero accepts the numeric shapes JSON decoding produces; anything
// else (including negative lines) is dropped to zero.
func intOrZero(v any) int {
	switch n := v.(type) {
	case int:
		if n > 0 {
			return n
		}
	case int64:
		if n > 0 {
			return int(n)
		}
	case float64:
		if n > 0 && n == float64(int(n)) {
			return int(n)
		}
	}
	return 0
}

// normalizeActions keeps only the string entries of a related-actions list.
func normalizeActions(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range list {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// dedupKey is the composite identity two issues must fully share to be
// considered duplicates. Message is part of the key on purpose: two
// findings with the same ID but different messages are distinct.
type dedupKey struct {
	issueID  string
	severity Severity
	category Category
	file     string
	line     int
	nodePath string
	uid      string
	title    string
	message  string
}

func keyOf(iss Issue) dedupKey {
	k := dedupKey{
		issueID:  iss.IssueID,
		severity: iss.Severity,
		category: iss.Category,
		title:    iss.Title,
		message:  iss.Message,
	}
	if iss.Location != nil {
		k.file = iss.Location.File
		k.line = iss.Location.Line
		k.nodePath = iss.Location.NodePath
		k.uid = iss.Location.UID
	}
	return k
}

// DedupeSort removes duplicate issues (first occurrence wins, scan
// insertion order preserved before sorting) and sorts the remainder
// under the report's total order. Idempotent.
func DedupeSort(issues []Issue) []Issue {
	seen := make(map[dedupKey]bool, len(issues))
	out := make([]Issue, 0, len(issues))
	for _, iss := range issues {
		k := keyOf(iss)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, iss)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return less(out[i], out[j])
	})
	return out
}

// less implements the total order: severity rank, category rank, file
// (absent first), line (absent = 0), issueId, title, message.
func less(a, b Issue) bool {
	if ra, rb := severityRank[a.Severity], severityRank[b.Severity]; ra != rb {
		return ra < rb
	}
	if ra, rb := categoryRank(a.Category), categoryRank(b.Category); ra != rb {
		return ra < rb
	}
	af, al, bf, bl := "", 0, "", 0
	if a.Location != nil {
		af, al = a.Location.File, a.Location.Line
	}
	if b.Location != nil {
		bf, bl = b.Location.File, b.Location.Line
	}
	if af != bf {
		return af < bf
	}
	if al != bl {
		return al < bl
	}
	if a.IssueID != b.IssueID {
		return a.IssueID < b.IssueID
	}
	if a.Title != b.Title {
		return a.Title < b.Title
	}
	return a.Message < b.Message
}

// categoryRank returns the fixed enumeration rank; unknown sorts last.
func categoryRank(c Category) int {
	for i, known := range categoryOrder {
		if c == known {
			return i
		}
	}
	return len(categoryOrder)
}

// Summarize computes the report summary. The scan duration is taken from
// the metadata bag only when it is numeric.
func Summarize(issues []Issue, meta map[string]any) Summary {
	s := Summary{
		Total: len(issues),
		BySeverity: map[Severity]int{
			SeverityError:   0,
			SeverityWarning: 0,
			SeverityInfo:    0,
		},
		ByCategory: make(map[Category]int),
	}
	for _, iss := range issues {
		s.BySeverity[iss.Severity]++
		s.ByCategory[iss.Category]++
	}
	if meta != nil {
		switch d := meta["scanDurationMs"].(type) {
		case float64:
			s.ScanDurationMs = d
		case int:
			s.ScanDurationMs = float64(d)
		case int64:
			s.ScanDurationMs = float64(d)
		}
	}
	return s
}
