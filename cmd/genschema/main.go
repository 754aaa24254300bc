// Command genschema generates JSON Schema and markdown reference docs
// from gdmcp's Go structs. Run from the repository root:
//
//	go run ./cmd/genschema
//
// Output:
//
//	docs/schema/config-schema.json
//	docs/schema/scan-report-schema.json
//	docs/schema/doctor-schema.json
//	docs/reference/config.md
//	docs/reference/scan-report.md
//	docs/reference/doctor.md
//	docs/reference/cli.md
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/invopop/jsonschema"

	"github.com/gdmcp/gdmcp/internal/docgen"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "genschema: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Validate we're at repo root.
	if _, err := os.Stat("go.mod"); err != nil {
		return fmt.Errorf("must run from repository root (go.mod not found)")
	}

	// Ensure output directories exist.
	for _, dir := range []string{"docs/schema", "docs/reference"} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	type target struct {
		name       string
		generate   func() (*jsonschema.Schema, error)
		schemaPath string
		mdPath     string
	}
	targets := []target{
		{"config", docgen.GenerateConfigSchema, "docs/schema/config-schema.json", "docs/reference/config.md"},
		{"scan report", docgen.GenerateScanReportSchema, "docs/schema/scan-report-schema.json", "docs/reference/scan-report.md"},
		{"doctor", docgen.GenerateDoctorSchema, "docs/schema/doctor-schema.json", "docs/reference/doctor.md"},
	}

	var files []string
	for _, tgt := range targets {
		s, err := tgt.generate()
		if err != nil {
			return fmt.Errorf("generating %s schema: %w", tgt.name, err)
		}
		if err := writeSchema(tgt.schemaPath, s); err != nil {
			return err
		}
		if err := docgen.WriteMarkdown(tgt.mdPath, s); err != nil {
			return fmt.Errorf("writing %s: %w", tgt.mdPath, err)
		}
		files = append(files, tgt.schemaPath, tgt.mdPath)
	}

	// Generate the CLI reference via "gdmcp gen-doc" (has access to the
	// real command tree).
	genDoc := exec.Command("go", "run", "./cmd/gdmcp", "gen-doc")
	genDoc.Stdout = os.Stdout
	genDoc.Stderr = os.Stderr
	if err := genDoc.Run(); err != nil {
		return fmt.Errorf("generating CLI docs: %w", err)
	}
	files = append(files, "docs/reference/cli.md")

	fmt.Println("Generated:")
	for _, f := range files {
		fmt.Printf("  %s\n", f)
	}
	return nil
}

// writeSchema writes a JSON Schema to a file using atomic write (temp + rename).
func writeSchema(path string, s *jsonschema.Schema) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".genschema-*")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("closing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}
