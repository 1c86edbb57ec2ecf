package notification

import (
	"context"
	"fmt"

	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/logger"
)

const digestBatchSize = 50

// ReviewSource lists the reviews still waiting for an operator.
type ReviewSource interface {
	PendingReviews(ctx context.Context, limit int) ([]repository.ReviewItem, error)
}

// Notifier reacts to queued reviews and builds the periodic digest.
type Notifier struct {
	mailer  Mailer
	reviews ReviewSource
	log     *logger.Logger
}

func NewNotifier(mailer Mailer, reviews ReviewSource, log *logger.Logger) *Notifier {
	return &Notifier{mailer: mailer, reviews: reviews, log: log}
}

// Register subscribes the notifier to review queue events.
func (n *Notifier) Register(bus events.Bus) {
	bus.Subscribe(events.ReviewQueued{}.EventName(), events.HandlerFunc(n.onReviewQueued))
}

func (n *Notifier) onReviewQueued(ctx context.Context, event events.Event) error {
	queued, ok := event.(events.ReviewQueued)
	if !ok {
		return fmt.Errorf("unexpected event type %T", event)
	}

	if err := n.mailer.SendReviewAlert(ctx, queued.LeadID, queued.DecisionID, queued.Reason, queued.Message); err != nil {
		n.log.Warn("review alert not delivered", "lead_id", queued.LeadID, "error", err)
		return err
	}
	return nil
}

// SendDigest mails the current pending review backlog. It is a no-op when
// the backlog is empty.
func (n *Notifier) SendDigest(ctx context.Context) error {
	items, err := n.reviews.PendingReviews(ctx, digestBatchSize)
	if err != nil {
		return fmt.Errorf("load pending reviews: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	if err := n.mailer.SendReviewDigest(ctx, items); err != nil {
		return fmt.Errorf("send review digest: %w", err)
	}

	n.log.Info("review digest sent", "pending", len(items))
	return nil
}
