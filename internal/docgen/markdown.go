package docgen

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/invopop/jsonschema"
)

// RenderMarkdown writes a field-reference document from one of the
// reflected gdmcp schemas (configuration, scan report, doctor result):
// an H2 section per $defs entry, root type first, each with a field
// table. Output is a pure function of the schema value.
func RenderMarkdown(w io.Writer, s *jsonschema.Schema) error {
	p := &printer{w: w}
	title := s.Title
	if title == "" {
		title = "Configuration Reference"
	}
	p.printf("# %s\n\n", title)
	if s.Description != "" {
		p.printf("%s\n\n", s.Description)
	}
	p.printf("> **Auto-generated** — do not edit. Run `go run ./cmd/genschema` to regenerate.\n\n")

	for _, name := range defOrder(s) {
		def := s.Definitions[name]
		if def == nil || def.Properties == nil {
			continue
		}
		p.defSection(name, def)
	}
	return p.err
}

// WriteMarkdown renders the schema reference to path via a temp file
// rename so a failed run never truncates an existing document.
func WriteMarkdown(path string, s *jsonschema.Schema) error {
	return writeAtomic(path, ".genschema-md-*", func(w io.Writer) error {
		return RenderMarkdown(w, s)
	})
}

// defOrder returns the $defs names with the root type (named by the
// schema's $ref) first and the rest alphabetical.
func defOrder(s *jsonschema.Schema) []string {
	rootName := ""
	if s.Ref != "" {
		parts := strings.Split(s.Ref, "/")
		rootName = parts[len(parts)-1]
	}
	var names []string
	for name := range s.Definitions {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if names[i] == rootName {
			return true
		}
		if names[j] == rootName {
			return false
		}
		return names[i] < names[j]
	})
	return names
}

// defSection renders one type's heading, description, and field table.
func (p *printer) defSection(name string, def *jsonschema.Schema) {
	p.printf("## %s\n\n", name)
	if def.Description != "" {
		p.printf("%s\n\n", def.Description)
	}

	required := make(map[string]bool, len(def.Required))
	for _, r := range def.Required {
		required[r] = true
	}

	p.printf("| Field | Type | Required | Default | Description |\n")
	p.printf("|-------|------|----------|---------|-------------|\n")
	for pair := def.Properties.Oldest(); pair != nil; pair = pair.Next() {
		req := ""
		if required[pair.Key] {
			req = "**yes**"
		}
		p.printf("| `%s` | %s | %s | %s | %s |\n",
			pair.Key, fieldType(pair.Value), req, defaultCell(pair.Value), descriptionCell(pair.Value))
	}
	p.printf("\n")
}

// fieldType renders a property's type the way the Go source declares
// it: referenced types by name, arrays as []T, string-keyed maps as
// map[string]V.
func fieldType(prop *jsonschema.Schema) string {
	if prop.Ref != "" {
		return refName(prop.Ref)
	}
	switch prop.Type {
	case "array":
		if prop.Items == nil {
			return "array"
		}
		if prop.Items.Ref != "" {
			return "[]" + refName(prop.Items.Ref)
		}
		return "[]" + prop.Items.Type
	case "object":
		if prop.AdditionalProperties == nil {
			return "object"
		}
		if prop.AdditionalProperties.Ref != "" {
			return "map[string]" + refName(prop.AdditionalProperties.Ref)
		}
		return "map[string]" + prop.AdditionalProperties.Type
	case "":
		return "any"
	default:
		return prop.Type
	}
}

// refName extracts the type name from a $ref like "#/$defs/Bridge".
func refName(ref string) string {
	parts := strings.Split(ref, "/")
	return parts[len(parts)-1]
}

// defaultCell renders the default value, empty when none is declared.
func defaultCell(prop *jsonschema.Schema) string {
	if prop.Default == nil {
		return ""
	}
	return fmt.Sprintf("`%v`", prop.Default)
}

// descriptionCell renders the description with enum values appended,
// flattened and pipe-escaped so it survives a markdown table cell.
func descriptionCell(prop *jsonschema.Schema) string {
	desc := prop.Description
	if len(prop.Enum) > 0 {
		vals := make([]string, len(prop.Enum))
		for i, v := range prop.Enum {
			vals[i] = fmt.Sprintf("`%v`", v)
		}
		if desc != "" {
			desc += " "
		}
		desc += "Enum: " + strings.Join(vals, ", ")
	}
	desc = strings.ReplaceAll(desc, "\n", " ")
	return strings.ReplaceAll(desc, "|", "\\|")
}

// writeAtomic renders into a temp file next to path and renames it into
// place, removing the temp file on any failure.
func writeAtomic(path, tmpPattern string, render func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), tmpPattern)
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}
	tmpName := tmp.Name()

	if err := render(tmp); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("rendering %s: %w", path, err)
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
