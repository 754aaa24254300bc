package docgen

import (
	"encoding/json"
	"testing"
)

// defProperties extracts the properties map for a named $defs entry.
func defProperties(t *testing.T, raw map[string]interface{}, defName string) map[string]interface{} {
	t.Helper()
	defs, ok := raw["$defs"].(map[string]interface{})
	if !ok {
		t.Fatal("no $defs")
	}
	def, ok := defs[defName].(map[string]interface{})
	if !ok {
		t.Fatalf("no %s definition in $defs", defName)
	}
	props, ok := def["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("%s has no properties", defName)
	}
	return props
}

func roundTrip(t *testing.T, v interface{}) map[string]interface{} {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return raw
}

func TestGenerateConfigSchema(t *testing.T) {
	s, err := GenerateConfigSchema()
	if err != nil {
		t.Fatalf("GenerateConfigSchema: %v", err)
	}
	raw := roundTrip(t, s)

	// Config properties are in $defs.Config (schema uses $ref at top level).
	props := defProperties(t, raw, "Config")
	for _, expected := range []string{"godot", "bridge", "doctor", "telemetry"} {
		if _, ok := props[expected]; !ok {
			t.Errorf("missing Config property %q", expected)
		}
	}
	// Should NOT have Go-style names.
	for _, bad := range []string{"Godot", "Bridge", "Telemetry"} {
		if _, ok := props[bad]; ok {
			t.Errorf("found Go-style property %q, expected TOML name", bad)
		}
	}

	// Bridge fields use the TOML names and carry doc comments.
	bridgeProps := defProperties(t, raw, "Bridge")
	for _, field := range []string{"host", "port", "probe_timeout_ms", "launch_timeout_ms"} {
		if _, ok := bridgeProps[field]; !ok {
			t.Errorf("Bridge missing field %q", field)
		}
	}
	probe, ok := bridgeProps["probe_timeout_ms"].(map[string]interface{})
	if !ok {
		t.Fatal("probe_timeout_ms property not a map")
	}
	if desc, ok := probe["description"].(string); !ok || desc == "" {
		t.Error("Bridge.probe_timeout_ms has no description — AddGoComments may not be extracting comments")
	}
}

func TestGenerateScanReportSchema(t *testing.T) {
	s, err := GenerateScanReportSchema()
	if err != nil {
		t.Fatalf("GenerateScanReportSchema: %v", err)
	}
	raw := roundTrip(t, s)

	props := defProperties(t, raw, "Report")
	for _, expected := range []string{"generatedAt", "projectPath", "issues", "summary"} {
		if _, ok := props[expected]; !ok {
			t.Errorf("missing Report property %q", expected)
		}
	}

	issueProps := defProperties(t, raw, "Issue")
	for _, field := range []string{"issueId", "severity", "category", "title", "message"} {
		if _, ok := issueProps[field]; !ok {
			t.Errorf("Issue missing field %q", field)
		}
	}

	// issues is an array of Issue refs.
	issues, ok := props["issues"].(map[string]interface{})
	if !ok {
		t.Fatal("issues not a map")
	}
	if issues["type"] != "array" {
		t.Errorf("issues type: got %v, want array", issues["type"])
	}
}

func TestGenerateDoctorSchema(t *testing.T) {
	s, err := GenerateDoctorSchema()
	if err != nil {
		t.Fatalf("GenerateDoctorSchema: %v", err)
	}
	raw := roundTrip(t, s)

	props := defProperties(t, raw, "Result")
	for _, expected := range []string{"ok", "stages", "godot", "suggestions"} {
		if _, ok := props[expected]; !ok {
			t.Errorf("missing Result property %q", expected)
		}
	}

	stageProps := defProperties(t, raw, "StageResult")
	for _, field := range []string{"name", "ok", "summary"} {
		if _, ok := stageProps[field]; !ok {
			t.Errorf("StageResult missing field %q", field)
		}
	}
}
