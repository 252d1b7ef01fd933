package telemetry

import (
	"context"
	"testing"
)

func TestSetupTracingDisabled(t *testing.T) {
	shutdown, err := SetupTracing(context.Background(), TraceConfig{ServiceName: "test", Exporter: "none"}, nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestSetupTracingRejectsUnknownExporter(t *testing.T) {
	if _, err := SetupTracing(context.Background(), TraceConfig{Exporter: "zipkin"}, nil); err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
	if _, err := SetupTracing(context.Background(), TraceConfig{Exporter: "otlp"}, nil); err == nil {
		t.Fatal("expected error for otlp without endpoint")
	}
}

func TestSamplerDescription(t *testing.T) {
	if got := sampler(0.5).Description(); got == sampler(1).Description() {
		t.Fatalf("expected ratio sampler to differ from always-on, got %s", got)
	}
}
