package dispatch

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gdmcp/gdmcp/internal/gdproject"
	"github.com/gdmcp/gdmcp/internal/scanreport"
	"github.com/gdmcp/gdmcp/internal/telemetry"
)

// DefaultReportPath is where ScanProject writes its Markdown report,
// relative to the project root.
const DefaultReportPath = "gdmcp_scan_report.md"

var resRefPattern = regexp.MustCompile(`res://[A-Za-z0-9_\-./]+`)

// ScanProject walks the project, collects raw issue records, and runs
// them through the report pipeline. The Markdown rendering is written
// under the project root unless options carry a report_path.
func (e *Engine) ScanProject(ctx context.Context, options map[string]any) (*scanreport.Report, error) {
	start := time.Now()
	var raw []map[string]any

	if ok, err := gdproject.HasDescriptor(e.fs, e.root); err != nil {
		return nil, err
	} else if !ok {
		raw = append(raw, map[string]any{
			"issueId":  "env-no-descriptor",
			"severity": "error",
			"category": "environment",
			"title":    "missing project descriptor",
			"message":  gdproject.DescriptorName + " not found at project root",
		})
	}

	if err := e.walkResources(e.root, func(abs string) error {
		raw = append(raw, e.scanResource(abs)...)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("walking project: %w", err)
	}
	raw = append(raw, e.scanScriptRefs()...)

	meta := map[string]any{"scanDurationMs": float64(time.Since(start).Milliseconds())}
	report := scanreport.New(e.root, stringOption(options, "godot_version"), options, raw, meta, time.Now().UTC())

	reportPath := stringOption(options, "report_path")
	if reportPath == "" {
		reportPath = DefaultReportPath
	}
	if err := e.WriteFile(reportPath, scanreport.RenderMarkdown(report)); err != nil {
		return nil, fmt.Errorf("writing scan report: %w", err)
	}
	telemetry.RecordScan(ctx, report.Summary.Total, report.Summary.BySeverity[scanreport.SeverityError])
	return report, nil
}

// scanResource checks one .tscn/.tres file and reports parse and
// structural problems plus dangling res:// references.
func (e *Engine) scanResource(abs string) []map[string]any {
	rel, _ := filepath.Rel(e.root, abs)
	category := "scenes"
	if filepath.Ext(abs) == ".tres" {
		category = "assets"
	}

	data, err := e.fs.ReadFile(abs)
	if err != nil {
		return []map[string]any{{
			"issueId":  "res-unreadable",
			"severity": "error",
			"category": category,
			"title":    "unreadable resource",
			"message":  err.Error(),
			"location": map[string]any{"file": rel},
		}}
	}

	doc, err := parseScene(string(data))
	if err != nil {
		return []map[string]any{{
			"issueId":  "res-parse",
			"severity": "error",
			"category": category,
			"title":    "resource does not parse",
			"message":  err.Error(),
			"location": map[string]any{"file": rel},
		}}
	}

	var raw []map[string]any
	for _, problem := range validateDoc(doc) {
		raw = append(raw, map[string]any{
			"issueId":  "scene-structure",
			"severity": "error",
			"category": category,
			"title":    "structural problem",
			"message":  problem,
			"location": map[string]any{"file": rel},
		})
	}
	for _, s := range doc.sections {
		if !strings.HasPrefix(s.header, "ext_resource") {
			continue
		}
		ref := attr(s.header, "path")
		if ref == "" || e.resExists(ref) {
			continue
		}
		raw = append(raw, map[string]any{
			"issueId":      "dangling-ref",
			"severity":     "error",
			"category":     category,
			"title":        "dangling resource reference",
			"message":      ref + " does not exist",
			"location":     map[string]any{"file": rel},
			"suggestedFix": "restore the missing file or update the reference",
		})
	}
	return raw
}

// scanScriptRefs flags res:// references in .gd scripts that point at
// missing files.
func (e *Engine) scanScriptRefs() []map[string]any {
	var raw []map[string]any
	e.walkExt(e.root, ".gd", func(abs string) {
		rel, _ := filepath.Rel(e.root, abs)
		data, err := e.fs.ReadFile(abs)
		if err != nil {
			return
		}
		for i, line := range strings.Split(string(data), "\n") {
			for _, ref := range resRefPattern.FindAllString(line, -1) {
				if e.resExists(ref) {
					continue
				}
				raw = append(raw, map[string]any{
					"issueId":  "script-dangling-ref",
					"severity": "warning",
					"category": "scripts",
					"title":    "script references missing resource",
					"message":  ref + " does not exist",
					"location": map[string]any{"file": rel, "line": i + 1},
				})
			}
		}
	})
	return raw
}

// walkExt visits every file with the given extension under dir.
func (e *Engine) walkExt(dir, ext string, fn func(abs string)) {
	entries, err := e.fs.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		abs := filepath.Join(dir, name)
		if entry.IsDir() {
			if strings.HasPrefix(name, ".") {
				continue
			}
			e.walkExt(abs, ext, fn)
			continue
		}
		if filepath.Ext(name) == ext {
			fn(abs)
		}
	}
}

// resExists reports whether a res:// reference resolves to a file.
func (e *Engine) resExists(ref string) bool {
	abs, err := e.resolve(ref)
	if err != nil {
		return false
	}
	_, err = e.fs.Stat(abs)
	return err == nil
}

func stringOption(options map[string]any, key string) string {
	if options == nil {
		return ""
	}
	v, _ := options[key].(string)
	return v
}
