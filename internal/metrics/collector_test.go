package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"leadflow_backend/internal/events"
	"leadflow_backend/platform/logger"
)

func TestCollectorCountsBusEvents(t *testing.T) {
	bus := events.NewInMemoryBus(logger.New("development"))
	NewCollector().Register(bus)

	ctx := context.Background()
	beforeDecisions := testutil.ToFloat64(DecisionsTotal.WithLabelValues("doubt"))
	beforeGate := testutil.ToFloat64(GateResolutionsTotal.WithLabelValues("deterministic", "yes"))
	beforeSent := testutil.ToFloat64(AutomationsSentTotal.WithLabelValues("liberar_teste"))

	if err := bus.PublishSync(ctx, events.DecisionMade{BaseEvent: events.NewBaseEvent(), DecisionType: "doubt"}); err != nil {
		t.Fatalf("publish decision: %v", err)
	}
	if err := bus.PublishSync(ctx, events.ConfirmationResolved{BaseEvent: events.NewBaseEvent(), Layer: "deterministic", Polarity: "yes"}); err != nil {
		t.Fatalf("publish confirmation: %v", err)
	}
	if err := bus.PublishSync(ctx, events.AutomationSent{BaseEvent: events.NewBaseEvent(), AutomationID: "liberar_teste"}); err != nil {
		t.Fatalf("publish automation: %v", err)
	}

	if got := testutil.ToFloat64(DecisionsTotal.WithLabelValues("doubt")); got != beforeDecisions+1 {
		t.Fatalf("decisions counter = %v, want %v", got, beforeDecisions+1)
	}
	if got := testutil.ToFloat64(GateResolutionsTotal.WithLabelValues("deterministic", "yes")); got != beforeGate+1 {
		t.Fatalf("gate counter = %v, want %v", got, beforeGate+1)
	}
	if got := testutil.ToFloat64(AutomationsSentTotal.WithLabelValues("liberar_teste")); got != beforeSent+1 {
		t.Fatalf("automation counter = %v, want %v", got, beforeSent+1)
	}
}

func TestAutomationWithoutIDNotCounted(t *testing.T) {
	bus := events.NewInMemoryBus(logger.New("development"))
	NewCollector().Register(bus)

	before := testutil.CollectAndCount(AutomationsSentTotal)
	if err := bus.PublishSync(context.Background(), events.AutomationSent{BaseEvent: events.NewBaseEvent()}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := testutil.CollectAndCount(AutomationsSentTotal); got != before {
		t.Fatalf("series count changed for empty automation id: %d -> %d", before, got)
	}
}
