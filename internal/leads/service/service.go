// Package service is the lead state layer the engine talks to: snapshots,
// conversational context with lazy waiting expiry, journey events and the
// review queue.
package service

import (
	"context"
	"time"

	"leadflow_backend/internal/engine/domain"
	"leadflow_backend/internal/engine/snapshot"
	"leadflow_backend/internal/events"
	"leadflow_backend/internal/leads/repository"
	"leadflow_backend/platform/logger"
)

type Service struct {
	repo *repository.Repository
	bus  events.Bus
	log  *logger.Logger
	now  func() time.Time
}

func New(repo *repository.Repository, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, bus: bus, log: log, now: time.Now}
}

// ResolveLead finds or creates the lead for a platform identity.
func (s *Service) ResolveLead(ctx context.Context, platform, platformUserID, name string) (*domain.Lead, error) {
	return s.repo.UpsertLead(ctx, platform, platformUserID, name)
}

func (s *Service) GetLead(ctx context.Context, id string) (*domain.Lead, error) {
	return s.repo.GetLead(ctx, id)
}

// BuildEnvironment loads the stored snapshot and composes the decision
// environment from the inbound window.
func (s *Service) BuildEnvironment(ctx context.Context, lead domain.Lead, window []domain.Message) (*domain.Environment, error) {
	stored, err := s.repo.GetSnapshot(ctx, lead.ID)
	if err != nil {
		return nil, err
	}
	env := snapshot.Build(lead, stored, window)
	return &env, nil
}

// PersistSnapshot stores the merged snapshot after a turn.
func (s *Service) PersistSnapshot(ctx context.Context, leadID string, snap domain.Snapshot) error {
	return s.repo.SaveSnapshot(ctx, leadID, snap)
}

// ApplyFacts merges a set_facts payload into the stored snapshot and
// publishes the change.
func (s *Service) ApplyFacts(ctx context.Context, leadID string, facts map[string]any) (domain.Snapshot, error) {
	stored, err := s.repo.GetSnapshot(ctx, leadID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	merged, changed, err := snapshot.ApplyFacts(stored, facts)
	if err != nil {
		return domain.Snapshot{}, err
	}
	if len(changed) == 0 {
		return merged, nil
	}
	if err := s.repo.SaveSnapshot(ctx, leadID, merged); err != nil {
		return domain.Snapshot{}, err
	}
	if s.bus != nil {
		s.bus.Publish(ctx, events.FactsUpdated{
			BaseEvent: events.NewBaseEvent(),
			LeadID:    leadID,
			Changed:   changed,
		})
	}
	return merged, nil
}

// ContextState reads conversational state, expiring a stale waiting entry
// lazily: expired waits read as absent and the cleared state is persisted.
func (s *Service) ContextState(ctx context.Context, leadID string) (*domain.ContextState, error) {
	state, err := s.repo.GetContextState(ctx, leadID)
	if err != nil || state == nil {
		return state, err
	}
	if state.Waiting != nil && state.Waiting.Expired(s.now()) {
		s.log.WithLead(leadID).Info("waiting state expired, clearing lazily",
			"target", state.Waiting.Target)
		state.Waiting = nil
		state.UpdatedAt = s.now()
		if err := s.repo.SaveContextState(ctx, leadID, state); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func (s *Service) SaveContextState(ctx context.Context, leadID string, state *domain.ContextState) error {
	return s.repo.SaveContextState(ctx, leadID, state)
}

// ClearWaiting drops the waiting entry, for the clear_waiting action.
func (s *Service) ClearWaiting(ctx context.Context, leadID string) error {
	state, err := s.repo.GetContextState(ctx, leadID)
	if err != nil || state == nil {
		return err
	}
	if state.Waiting == nil {
		return nil
	}
	state.Waiting = nil
	state.UpdatedAt = s.now()
	return s.repo.SaveContextState(ctx, leadID, state)
}

func (s *Service) RecordJourneyEvent(ctx context.Context, leadID, kind string, payload any) {
	if err := s.repo.RecordJourneyEvent(ctx, leadID, kind, payload); err != nil {
		s.log.DatabaseError("journey_event", err)
	}
}

func (s *Service) JourneyEvents(ctx context.Context, leadID string, limit int) ([]repository.JourneyEvent, error) {
	return s.repo.ListJourneyEvents(ctx, leadID, limit)
}

func (s *Service) EnqueueReview(ctx context.Context, leadID, decisionID, reason, message string) error {
	if err := s.repo.EnqueueReview(ctx, leadID, decisionID, reason, message); err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(ctx, events.ReviewQueued{
			BaseEvent:  events.NewBaseEvent(),
			LeadID:     leadID,
			DecisionID: decisionID,
			Reason:     reason,
			Message:    message,
		})
	}
	return nil
}

func (s *Service) PendingReviews(ctx context.Context, limit int) ([]repository.ReviewItem, error) {
	return s.repo.ListPendingReviews(ctx, limit)
}

func (s *Service) ResolveReview(ctx context.Context, id int64, status string) error {
	return s.repo.ResolveReview(ctx, id, status)
}

// ExpireWaitingStates backs the scheduler sweep.
func (s *Service) ExpireWaitingStates(ctx context.Context) (int64, error) {
	return s.repo.ExpireWaitingStates(ctx, s.now())
}
