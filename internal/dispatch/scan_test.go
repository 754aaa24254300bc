package dispatch

import (
	"context"
	"strings"
	"testing"

	"github.com/gdmcp/gdmcp/internal/scanreport"
)

func TestScanProjectFlagsMissingDescriptor(t *testing.T) {
	e, _ := newTestEngine()

	report, err := e.ScanProject(context.Background(), nil)
	if err != nil {
		t.Fatalf("ScanProject: %v", err)
	}
	found := false
	for _, iss := range report.Issues {
		if iss.IssueID == "env-no-descriptor" && iss.Severity == scanreport.SeverityError {
			found = true
		}
	}
	if !found {
		t.Errorf("issues = %+v, want env-no-descriptor error", report.Issues)
	}
}

func TestScanProjectDanglingReferences(t *testing.T) {
	e, f := newTestEngine()
	f.Files["/proj/project.godot"] = []byte("config_version=5\n")

	if err := e.CreateScene("main.tscn", "Main", "Node2D"); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}
	f.Files["/proj/icon.png"] = []byte{1}
	if err := e.LoadSprite("main.tscn", "icon.png", "Icon", ""); err != nil {
		t.Fatalf("LoadSprite: %v", err)
	}
	// Delete the texture so the scene reference dangles.
	delete(f.Files, "/proj/icon.png")

	f.Files["/proj/game.gd"] = []byte("extends Node\nvar tex = preload(\"res://missing.png\")\n")

	report, err := e.ScanProject(context.Background(), nil)
	if err != nil {
		t.Fatalf("ScanProject: %v", err)
	}

	var ids []string
	for _, iss := range report.Issues {
		ids = append(ids, iss.IssueID)
	}
	joined := strings.Join(ids, ",")
	if !strings.Contains(joined, "dangling-ref") {
		t.Errorf("issues %v, want dangling-ref", ids)
	}
	if !strings.Contains(joined, "script-dangling-ref") {
		t.Errorf("issues %v, want script-dangling-ref", ids)
	}

	// The Markdown report lands at the default path.
	md, ok := f.Files["/proj/"+DefaultReportPath]
	if !ok {
		t.Fatal("scan report not written")
	}
	if !strings.Contains(string(md), "res://icon.png does not exist") {
		t.Errorf("report missing dangling reference detail:\n%s", md)
	}
}

func TestScanProjectCleanProject(t *testing.T) {
	e, f := newTestEngine()
	f.Files["/proj/project.godot"] = []byte("config_version=5\n")
	if err := e.CreateScene("main.tscn", "Main", "Node2D"); err != nil {
		t.Fatalf("CreateScene: %v", err)
	}

	report, err := e.ScanProject(context.Background(), map[string]any{"godot_version": "4.3.stable"})
	if err != nil {
		t.Fatalf("ScanProject: %v", err)
	}
	if report.Summary.Total != 0 {
		t.Errorf("Total = %d, issues %+v", report.Summary.Total, report.Issues)
	}
	if report.GodotVersion != "4.3.stable" {
		t.Errorf("GodotVersion = %q", report.GodotVersion)
	}
}
