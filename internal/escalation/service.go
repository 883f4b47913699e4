package escalation

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hostelhub/notifyrouter/internal/audit"
	"github.com/hostelhub/notifyrouter/internal/shared/errors"
	"github.com/hostelhub/notifyrouter/internal/shared/metrics"
	"github.com/hostelhub/notifyrouter/internal/shared/types"
)

// Service exposes escalation reads and resolution
type Service struct {
	store   Store
	journal audit.Journal
	clock   types.Clock
	log     *zap.SugaredLogger
}

// NewService creates an escalation service
func NewService(store Store, journal audit.Journal, clock types.Clock, log *zap.SugaredLogger) *Service {
	return &Service{store: store, journal: journal, clock: clock.OrSystem(), log: log}
}

// Resolve acknowledges a notification and stops all future escalation for it
func (s *Service) Resolve(ctx context.Context, notificationID, resolvedBy string) (*State, error) {
	if notificationID == "" {
		return nil, errors.BadRequest("notification id is required")
	}
	if resolvedBy == "" {
		return nil, errors.Validation("invalid resolution", map[string]string{"resolved_by": "resolved_by is required"})
	}

	now := s.clock().Truncate(time.Microsecond)
	st, err := s.store.Resolve(ctx, notificationID, resolvedBy, now)
	if err != nil {
		return nil, err
	}

	metrics.RecordEscalationResolved()
	s.log.Infow("escalation resolved",
		"notification_id", notificationID,
		"resolved_by", resolvedBy,
		"level", st.CurrentLevel,
	)
	details := map[string]any{"level": st.CurrentLevel}
	if err := s.journal.Record(ctx, audit.NewEntry(audit.ActionEscalationResolved, notificationID, resolvedBy, details, now)); err != nil {
		s.log.Warnw("failed to journal resolution", "notification_id", notificationID, "error", err)
	}
	return st, nil
}

// Get returns the escalation state of a notification
func (s *Service) Get(ctx context.Context, notificationID string) (*State, error) {
	return s.store.Get(ctx, notificationID)
}

// ListExhausted returns escalations that ran out of levels unresolved
func (s *Service) ListExhausted(ctx context.Context, limit int) ([]State, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListExhausted(ctx, limit)
}
