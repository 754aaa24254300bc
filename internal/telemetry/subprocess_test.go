package telemetry

import (
	"strings"
	"testing"
)

func TestBuildResourceAttrs_Empty(t *testing.T) {
	t.Setenv("GDMCP_PROJECT", "")
	t.Setenv("GDMCP_PROFILE", "")

	result := buildResourceAttrs()
	if result != "" {
		t.Errorf("expected empty string, got %q", result)
	}
}

func TestBuildResourceAttrs_AllVars(t *testing.T) {
	t.Setenv("GDMCP_PROJECT", "/home/dev/game")
	t.Setenv("GDMCP_PROFILE", "ci")

	result := buildResourceAttrs()
	for _, want := range []string{"gdmcp.project=/home/dev/game", "gdmcp.profile=ci"} {
		if !strings.Contains(result, want) {
			t.Errorf("expected %q in result, got %q", want, result)
		}
	}
	if !strings.Contains(result, ",") {
		t.Errorf("expected comma-separated result, got %q", result)
	}
}

func TestOTELEnvForSubprocess_NoLogsURL(t *testing.T) {
	t.Setenv(EnvMetricsURL, "http://localhost:8428/opentelemetry/api/v1/push")
	t.Setenv(EnvLogsURL, "")
	t.Setenv("GDMCP_PROJECT", "")
	t.Setenv("GDMCP_PROFILE", "")

	for _, e := range OTELEnvForSubprocess() {
		if strings.HasPrefix(e, EnvLogsURL+"=") {
			t.Errorf("%s should not be present when unset", EnvLogsURL)
		}
	}
}

func TestOTELEnvForSubprocess_WithResourceAttrs(t *testing.T) {
	t.Setenv(EnvMetricsURL, "http://localhost:8428/opentelemetry/api/v1/push")
	t.Setenv(EnvLogsURL, "")
	t.Setenv("GDMCP_PROJECT", "/home/dev/game")
	t.Setenv("GDMCP_PROFILE", "")

	found := false
	for _, e := range OTELEnvForSubprocess() {
		if strings.HasPrefix(e, "OTEL_RESOURCE_ATTRIBUTES=") && strings.Contains(e, "gdmcp.project=/home/dev/game") {
			found = true
		}
	}
	if !found {
		t.Error("expected gdmcp.project in OTEL_RESOURCE_ATTRIBUTES")
	}
}

func TestOTELEnvForSubprocess_Disabled(t *testing.T) {
	t.Setenv(EnvMetricsURL, "")
	env := OTELEnvForSubprocess()
	if env != nil {
		t.Errorf("expected nil when telemetry disabled, got %v", env)
	}
}

func TestOTELEnvForSubprocess_BothURLs(t *testing.T) {
	t.Setenv(EnvMetricsURL, "http://localhost:8428/opentelemetry/api/v1/push")
	t.Setenv(EnvLogsURL, "http://localhost:9428/insert/opentelemetry/v1/logs")
	t.Setenv("GDMCP_PROJECT", "")
	t.Setenv("GDMCP_PROFILE", "")

	env := OTELEnvForSubprocess()
	if len(env) == 0 {
		t.Fatal("expected non-empty env")
	}

	hasMetrics, hasLogs := false, false
	for _, e := range env {
		if strings.HasPrefix(e, EnvMetricsURL+"=") {
			hasMetrics = true
		}
		if strings.HasPrefix(e, EnvLogsURL+"=") {
			hasLogs = true
		}
	}
	if !hasMetrics {
		t.Error("expected metrics URL in subprocess env")
	}
	if !hasLogs {
		t.Error("expected logs URL in subprocess env")
	}
}
