package telemetry

import (
	"context"
	"testing"

	"github.com/m3rciful/fsmbot/core/config"
)

func TestSetupNoopWithoutEndpoint(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestSetupWithEndpoint(t *testing.T) {
	// Non-routable address; nothing is exported before shutdown.
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{Endpoint: "http://192.0.2.1:4318"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestServiceNameFallback(t *testing.T) {
	if got := serviceName(config.TelemetryConfig{ServiceName: "  "}); got != config.DefaultServiceName {
		t.Fatalf("serviceName = %q, want %q", got, config.DefaultServiceName)
	}
	if got := serviceName(config.TelemetryConfig{ServiceName: "bot-a"}); got != "bot-a" {
		t.Fatalf("serviceName = %q, want bot-a", got)
	}
}
