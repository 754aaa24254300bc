package telemetry

import (
	"os"
	"strings"
)

// buildResourceAttrs builds the OTEL_RESOURCE_ATTRIBUTES value from
// gdmcp context vars present in the current process environment.
// Returns "" when none are found.
func buildResourceAttrs() string {
	var attrs []string
	if v := os.Getenv("GDMCP_PROJECT"); v != "" {
		attrs = append(attrs, "gdmcp.project="+v)
	}
	if v := os.Getenv("GDMCP_PROFILE"); v != "" {
		attrs = append(attrs, "gdmcp.profile="+v)
	}
	return strings.Join(attrs, ",")
}

// OTELEnvForSubprocess returns telemetry environment variables to
// inject into spawned dispatcher subprocesses when cmd.Env is built
// explicitly, so the child emits to the same endpoints as the parent.
//
// Returns nil when telemetry is not active (GDMCP_OTEL_METRICS_URL not
// set).
func OTELEnvForSubprocess() []string {
	metricsURL := os.Getenv(EnvMetricsURL)
	if metricsURL == "" {
		return nil
	}
	var env []string
	if attrs := buildResourceAttrs(); attrs != "" {
		env = append(env, "OTEL_RESOURCE_ATTRIBUTES="+attrs)
	}
	env = append(env, EnvMetricsURL+"="+metricsURL)
	if logsURL := os.Getenv(EnvLogsURL); logsURL != "" {
		env = append(env, EnvLogsURL+"="+logsURL)
	}
	return env
}
