package telemetry

import (
	"context"
	"os"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

func TestOTLPSmoke(t *testing.T) {
	if os.Getenv("CONCORD_OTLP_SMOKE_TEST") != "1" {
		t.Skip("set CONCORD_OTLP_SMOKE_TEST=1 to run")
	}

	endpoint := os.Getenv("CONCORD_TELEMETRY_OTLP_ENDPOINT")
	if endpoint == "" {
		t.Skip("set CONCORD_TELEMETRY_OTLP_ENDPOINT for OTLP smoke test")
	}

	cfg := Config{
		Exporter:     ExporterOTLP,
		OTLPEndpoint: endpoint,
		OTLPInsecure: os.Getenv("CONCORD_TELEMETRY_OTLP_INSECURE") == "true",
	}

	shutdown, err := InitWithConfig("concord-smoke-test", "dev", cfg)
	if err != nil {
		t.Fatalf("failed to init telemetry: %v", err)
	}

	ctx, span := otel.Tracer("concord/telemetry-smoke").Start(context.Background(), "smoke.round")
	span.SetAttributes(attribute.String(AttrStage, "smoke"))
	span.End()

	if m, err := NewConsensusMetrics(); err == nil {
		m.RecordRound(ctx, "smoke", "negotiation")
	}

	time.Sleep(2 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("telemetry shutdown failed: %v", err)
	}
}
