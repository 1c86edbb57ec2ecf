package metrics

import (
	"context"

	"leadflow_backend/internal/events"
)

// Collector turns bus events into Prometheus series. It is deliberately
// fire-and-forget: counting must never affect engine behavior.
type Collector struct{}

func NewCollector() *Collector { return &Collector{} }

func (c *Collector) Register(bus events.Bus) {
	bus.Subscribe(events.DecisionMade{}.EventName(), events.HandlerFunc(c.onDecision))
	bus.Subscribe(events.ConfirmationResolved{}.EventName(), events.HandlerFunc(c.onConfirmation))
	bus.Subscribe(events.AutomationSent{}.EventName(), events.HandlerFunc(c.onAutomationSent))
	bus.Subscribe(events.ReviewQueued{}.EventName(), events.HandlerFunc(c.onReviewQueued))
}

func (c *Collector) onDecision(_ context.Context, event events.Event) error {
	if e, ok := event.(events.DecisionMade); ok {
		DecisionsTotal.WithLabelValues(e.DecisionType).Inc()
	}
	return nil
}

func (c *Collector) onConfirmation(_ context.Context, event events.Event) error {
	if e, ok := event.(events.ConfirmationResolved); ok {
		GateResolutionsTotal.WithLabelValues(e.Layer, e.Polarity).Inc()
	}
	return nil
}

func (c *Collector) onAutomationSent(_ context.Context, event events.Event) error {
	if e, ok := event.(events.AutomationSent); ok && e.AutomationID != "" {
		AutomationsSentTotal.WithLabelValues(e.AutomationID).Inc()
	}
	return nil
}

func (c *Collector) onReviewQueued(_ context.Context, event events.Event) error {
	if _, ok := event.(events.ReviewQueued); ok {
		ReviewsQueuedTotal.Inc()
	}
	return nil
}
