package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), domain.TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("noop shutdown returned %v", err)
	}
	if fields := otel.GetTextMapPropagator().Fields(); len(fields) == 0 {
		t.Error("expected trace context propagator to be installed")
	}
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio    float64
		sampled  bool
		dropped  bool
		describe string
	}{
		{ratio: 1, sampled: true, describe: "always"},
		{ratio: 2, sampled: true, describe: "clamped high"},
		{ratio: 0, dropped: true, describe: "never"},
		{ratio: -1, dropped: true, describe: "clamped low"},
	}

	for _, tt := range tests {
		t.Run(tt.describe, func(t *testing.T) {
			recorder := tracetest.NewSpanRecorder()
			provider := sdktrace.NewTracerProvider(
				sdktrace.WithSampler(Sampler(tt.ratio)),
				sdktrace.WithSpanProcessor(recorder),
			)
			defer provider.Shutdown(context.Background())

			_, span := provider.Tracer("test").Start(context.Background(), "rule.evaluate")
			span.End()

			got := len(recorder.Ended())
			if tt.sampled && got != 1 {
				t.Errorf("expected span to be recorded, got %d", got)
			}
			if tt.dropped && got != 0 {
				t.Errorf("expected span to be dropped, got %d", got)
			}
		})
	}
}

func TestResource(t *testing.T) {
	res := newResource("", "1.2.3")

	attrs := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		attrs[kv.Key] = kv.Value.AsString()
	}
	if attrs["service.name"] != "fraudguard" {
		t.Errorf("expected default service name, got %q", attrs["service.name"])
	}
	if attrs["service.version"] != "1.2.3" {
		t.Errorf("expected version 1.2.3, got %q", attrs["service.version"])
	}
}
