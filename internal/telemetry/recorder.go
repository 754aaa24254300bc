// Recording helpers for gdmcp telemetry events. Each function emits an
// OTel log event and increments a metric counter against the global
// providers installed by Init.
package telemetry

import (
	"context"
	"os"
	"sync"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterRecorderName = "github.com/gdmcp/gdmcp"
	loggerName        = "gdmcp"
)

// recorderInstruments holds all lazy-initialized OTel metric instruments.
type recorderInstruments struct {
	doctorRunTotal   metric.Int64Counter
	doctorStageTotal metric.Int64Counter
	bridgeProbeTotal metric.Int64Counter
	launchTotal      metric.Int64Counter
	toolCallTotal    metric.Int64Counter
	scanTotal        metric.Int64Counter

	bridgeProbeDurationHist metric.Float64Histogram
	toolCallDurationHist    metric.Float64Histogram
}

var (
	instOnce sync.Once
	inst     recorderInstruments
)

// initInstruments registers all recorder metric instruments against the
// current global MeterProvider. Called lazily on first use so recording
// before Init still works against the no-op provider.
func initInstruments() {
	instOnce.Do(func() {
		m := otel.GetMeterProvider().Meter(meterRecorderName)

		inst.doctorRunTotal, _ = m.Int64Counter("gdmcp.doctor.runs.total",
			metric.WithDescription("Total doctor invocations"),
		)
		inst.doctorStageTotal, _ = m.Int64Counter("gdmcp.doctor.stages.total",
			metric.WithDescription("Total doctor stage executions"),
		)
		inst.bridgeProbeTotal, _ = m.Int64Counter("gdmcp.bridge.probes.total",
			metric.WithDescription("Total bridge connectivity probes"),
		)
		inst.launchTotal, _ = m.Int64Counter("gdmcp.launch.attempts.total",
			metric.WithDescription("Total editor auto-launch attempts"),
		)
		inst.toolCallTotal, _ = m.Int64Counter("gdmcp.tool.calls.total",
			metric.WithDescription("Total dispatcher tool invocations"),
		)
		inst.scanTotal, _ = m.Int64Counter("gdmcp.scan.runs.total",
			metric.WithDescription("Total project scans"),
		)

		inst.bridgeProbeDurationHist, _ = m.Float64Histogram("gdmcp.bridge.probe.duration_ms",
			metric.WithDescription("Bridge probe round-trip latency in milliseconds"),
			metric.WithUnit("ms"),
		)
		inst.toolCallDurationHist, _ = m.Float64Histogram("gdmcp.tool.call.duration_ms",
			metric.WithDescription("Dispatcher tool call latency in milliseconds"),
			metric.WithUnit("ms"),
		)
	})
}

// statusStr returns "ok" or "error" depending on whether err is nil.
func statusStr(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// emit sends an OTel log event with the given body and key-value attributes.
func emit(ctx context.Context, body string, sev otellog.Severity, attrs ...otellog.KeyValue) {
	logger := global.GetLoggerProvider().Logger(loggerName)
	var r otellog.Record
	r.SetBody(otellog.StringValue(body))
	r.SetSeverity(sev)
	r.AddAttributes(attrs...)
	logger.Emit(ctx, r)
}

// errKV returns a log KeyValue with the error message, or empty string if nil.
func errKV(err error) otellog.KeyValue {
	if err != nil {
		return otellog.String("error", err.Error())
	}
	return otellog.String("error", "")
}

// severity returns SeverityInfo on success, SeverityError on failure.
func severity(err error) otellog.Severity {
	if err != nil {
		return otellog.SeverityError
	}
	return otellog.SeverityInfo
}

const (
	// maxStdoutLog is the maximum number of bytes of process output captured in logs.
	maxStdoutLog = 2048
	// maxStderrLog is the maximum number of bytes of stderr captured in logs.
	maxStderrLog = 1024
)

// truncateOutput trims s to max bytes and appends "…" when truncated.
// Avoids splitting multi-byte UTF-8 characters at the boundary.
func truncateOutput(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	// Walk back from the cut point to avoid splitting a multi-byte rune.
	truncated := s[:limit]
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated + "…"
}

// RecordDoctorRun records one completed doctor invocation.
func RecordDoctorRun(ctx context.Context, ok bool, suggestionCount int) {
	initInstruments()
	status := "ok"
	sev := otellog.SeverityInfo
	if !ok {
		status = "error"
		sev = otellog.SeverityWarn
	}
	inst.doctorRunTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
	emit(ctx, "doctor.run", sev,
		otellog.String("status", status),
		otellog.Int("suggestions", suggestionCount),
	)
}

// RecordDoctorStage records one doctor stage outcome. skipped stages
// count separately from failures.
func RecordDoctorStage(ctx context.Context, stage string, ok, skipped bool, summary string) {
	initInstruments()
	status := "ok"
	sev := otellog.SeverityInfo
	switch {
	case skipped:
		status = "skipped"
	case !ok:
		status = "error"
		sev = otellog.SeverityWarn
	}
	inst.doctorStageTotal.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("status", status),
		),
	)
	emit(ctx, "doctor.stage", sev,
		otellog.String("stage", stage),
		otellog.String("status", status),
		otellog.String("summary", truncateOutput(summary, maxStderrLog)),
	)
}

// RecordBridgeProbe records one candidate-address probe with duration.
func RecordBridgeProbe(ctx context.Context, host string, port int, origin string, durationMs float64, err error) {
	initInstruments()
	status := statusStr(err)
	attrs := metric.WithAttributes(
		attribute.String("origin", origin),
		attribute.String("status", status),
	)
	inst.bridgeProbeTotal.Add(ctx, 1, attrs)
	inst.bridgeProbeDurationHist.Record(ctx, durationMs, attrs)
	emit(ctx, "bridge.probe", severity(err),
		otellog.String("host", host),
		otellog.Int("port", port),
		otellog.String("origin", origin),
		otellog.Float64("duration_ms", durationMs),
		otellog.String("status", status),
		errKV(err),
	)
}

// RecordLaunch records one auto-launch attempt. outcome is "launched",
// "timeout", "early-exit", or "failed".
func RecordLaunch(ctx context.Context, outcome string, durationMs float64, err error) {
	initInstruments()
	inst.launchTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.String("outcome", outcome)),
	)
	emit(ctx, "launch.attempt", severity(err),
		otellog.String("outcome", outcome),
		otellog.Float64("duration_ms", durationMs),
		errKV(err),
	)
}

// RecordToolCall records one dispatcher tool invocation with duration.
// output is the tool's text result; it is only included in the log
// event when GDMCP_LOG_TOOL_OUTPUT=true, since tool results may embed
// project content.
func RecordToolCall(ctx context.Context, tool string, durationMs float64, err error, output string) {
	initInstruments()
	status := statusStr(err)
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.String("status", status),
	)
	inst.toolCallTotal.Add(ctx, 1, attrs)
	inst.toolCallDurationHist.Record(ctx, durationMs, attrs)
	kvs := []otellog.KeyValue{
		otellog.String("tool", tool),
		otellog.Float64("duration_ms", durationMs),
		otellog.String("status", status),
		errKV(err),
	}
	if os.Getenv("GDMCP_LOG_TOOL_OUTPUT") == "true" {
		kvs = append(kvs, otellog.String("output", truncateOutput(output, maxStdoutLog)))
	}
	emit(ctx, "tool.call", severity(err), kvs...)
}

// RecordScan records one project scan with its issue counts.
func RecordScan(ctx context.Context, total, errorCount int) {
	initInstruments()
	inst.scanTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.Int("errors", errorCount)),
	)
	emit(ctx, "scan.run", otellog.SeverityInfo,
		otellog.Int("total", total),
		otellog.Int("errors", errorCount),
	)
}
