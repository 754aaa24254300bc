// Package docgen generates JSON Schema and markdown documentation from
// gdmcp's Go structs: the gdmcp.toml configuration, the project scan
// report, and the doctor result.
package docgen

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/gdmcp/gdmcp/internal/config"
	"github.com/gdmcp/gdmcp/internal/doctor"
	"github.com/gdmcp/gdmcp/internal/scanreport"
)

// ModuleRoot finds the repo root by walking up from the current directory
// looking for go.mod. Returns the absolute path.
func ModuleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent of %s", dir)
		}
		dir = parent
	}
}

// newReflector creates a jsonschema.Reflector using the given struct tag
// for field names, with Go doc comments extracted from the source tree.
//
// AddGoComments requires the path parameter to be "." with the working
// directory set to the module root, so that filepath.Walk produces paths
// like "internal/config" which gopath.Join maps to the correct import path.
func newReflector(fieldTag string) (*jsonschema.Reflector, error) {
	root, err := ModuleRoot()
	if err != nil {
		return nil, err
	}

	// Save and restore CWD — AddGoComments needs CWD at module root.
	orig, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	if err := os.Chdir(root); err != nil {
		return nil, fmt.Errorf("chdir to module root: %w", err)
	}
	defer func() { _ = os.Chdir(orig) }()

	r := &jsonschema.Reflector{
		FieldNameTag: fieldTag,
	}
	if err := r.AddGoComments("github.com/gdmcp/gdmcp", "."); err != nil {
		return nil, fmt.Errorf("extracting Go comments: %w", err)
	}
	return r, nil
}

// GenerateConfigSchema produces a JSON Schema for the gdmcp.toml config
// format. It reflects config.Config using TOML field names and extracts
// doc comments as descriptions.
func GenerateConfigSchema() (*jsonschema.Schema, error) {
	r, err := newReflector("toml")
	if err != nil {
		return nil, err
	}
	s := r.Reflect(&config.Config{})
	s.Title = "gdmcp Configuration"
	s.Description = "Schema for gdmcp.toml — per-project settings for the Godot MCP dispatcher and doctor."
	return s, nil
}

// GenerateScanReportSchema produces a JSON Schema for the project scan
// report emitted by the project_scan tool.
func GenerateScanReportSchema() (*jsonschema.Schema, error) {
	r, err := newReflector("json")
	if err != nil {
		return nil, err
	}
	s := r.Reflect(&scanreport.Report{})
	s.Title = "gdmcp Scan Report"
	s.Description = "Schema for the structured project scan report."
	return s, nil
}

// GenerateDoctorSchema produces a JSON Schema for the doctor result as
// printed by gdmcp doctor --json.
func GenerateDoctorSchema() (*jsonschema.Schema, error) {
	r, err := newReflector("json")
	if err != nil {
		return nil, err
	}
	s := r.Reflect(&doctor.Result{})
	s.Title = "gdmcp Doctor Result"
	s.Description = "Schema for the aggregate doctor diagnosis."
	return s, nil
}
