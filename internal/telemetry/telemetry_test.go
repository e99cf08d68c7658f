package telemetry_test

import (
	"context"
	"testing"

	"github.com/jmerrifield20/LoanTreasury/internal/telemetry"
)

func TestSetup_noopWhenEndpointEmpty(t *testing.T) {
	shutdown, err := telemetry.Setup(context.Background(), "treasuryd-test", "  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := shutdown(ctx); err != nil {
		t.Fatalf("noop shutdown should not error: %v", err)
	}
}

func TestSetup_createsProvider(t *testing.T) {
	// Non-routable address: nothing is exported during the test.
	shutdown, err := telemetry.Setup(context.Background(), "treasuryd-test", "http://192.0.2.1:4318")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if telemetry.Tracer() == nil {
		t.Fatal("expected a tracer")
	}

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}
