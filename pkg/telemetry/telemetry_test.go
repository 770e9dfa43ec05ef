package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInitWithConfigStdout(t *testing.T) {
	var out bytes.Buffer
	shutdown, err := InitWithConfig("test-service", "v0.0.1", Config{Writer: &out})
	if err != nil {
		t.Fatalf("InitWithConfig failed: %v", err)
	}
	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "camel.test.span")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
	if !strings.Contains(out.String(), "camel.test.span") {
		t.Fatalf("span not exported to the configured writer: %q", out.String())
	}
}

func TestInitWithConfigNone(t *testing.T) {
	shutdown, err := InitWithConfig("test-service", "v0.0.1", Config{Exporter: "none"})
	if err != nil {
		t.Fatalf("InitWithConfig failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestInitWithConfigErrors(t *testing.T) {
	if _, err := InitWithConfig("svc", "v", Config{Exporter: "otlp"}); err == nil {
		t.Error("expected error for otlp without endpoint")
	}
	if _, err := InitWithConfig("svc", "v", Config{Exporter: "zipkin"}); err == nil {
		t.Error("expected error for unknown exporter")
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"WARNING": "WARN",
		" error ": "ERROR",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for in, want := range cases {
		if got := parseLogLevel(in).String(); got != want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestConfigureSlogFanout(t *testing.T) {
	var console, file bytes.Buffer
	logger := ConfigureSlogFanout("info", "text", &console, &file)

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	logger.InfoContext(ctx, "camel.run.finished", "state", "finalized")
	logger.Debug("hidden")
	span.End()

	if !strings.Contains(console.String(), "msg=camel.run.finished") {
		t.Fatalf("unexpected console output %q", console.String())
	}
	if strings.Contains(console.String(), "hidden") {
		t.Fatal("debug record should be filtered")
	}
	var rec map[string]any
	if err := json.Unmarshal(file.Bytes(), &rec); err != nil {
		t.Fatalf("file output is not json: %v (%q)", err, file.String())
	}
	if rec["state"] != "finalized" {
		t.Fatalf("unexpected record %v", rec)
	}
	if rec["trace_id"] != span.SpanContext().TraceID().String() {
		t.Fatalf("missing trace id in %v", rec)
	}
}
