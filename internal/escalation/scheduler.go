package escalation

import (
	"context"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/hostelhub/notifyrouter/internal/audit"
	"github.com/hostelhub/notifyrouter/internal/routing"
	"github.com/hostelhub/notifyrouter/internal/shared/metrics"
	"github.com/hostelhub/notifyrouter/internal/shared/types"
)

// Scheduler creates escalation states for freshly routed notifications
type Scheduler struct {
	store   Store
	routes  routing.RouteRepository
	journal audit.Journal
	clock   types.Clock
	log     *zap.SugaredLogger
}

// NewScheduler creates a scheduler
func NewScheduler(store Store, routes routing.RouteRepository, journal audit.Journal, clock types.Clock, log *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		store:   store,
		routes:  routes,
		journal: journal,
		clock:   clock.OrSystem(),
		log:     log,
	}
}

// MaybeSchedule starts escalation for a route when it is enabled and a path
// applies. path must come from the snapshot the route was built from. It
// returns nil when nothing was scheduled. A path without levels disables
// escalation for the route through a note rather than failing.
func (s *Scheduler) MaybeSchedule(ctx context.Context, route *routing.NotificationRoute, path *routing.EscalationPath) (*State, error) {
	if !route.EscalationEnabled || route.EscalationPathID == nil || path == nil {
		return nil, nil
	}

	now := s.clock().Truncate(time.Microsecond)

	if len(path.Levels) == 0 {
		note := routing.RouteNote{
			NotificationID: route.NotificationID,
			Kind:           routing.NoteEscalationDisabled,
			Message:        "escalation path " + path.ID.String() + " has no levels",
			CreatedAt:      now,
		}
		s.log.Warnw("escalation path has no levels, disabling escalation",
			"notification_id", route.NotificationID,
			"path_id", path.ID,
		)
		if err := s.routes.AppendNote(ctx, note); err != nil {
			return nil, err
		}
		route.Notes = append(route.Notes, note)
		s.record(ctx, audit.ActionEscalationDisabled, route.NotificationID, map[string]any{
			"path_id": path.ID.String(),
			"reason":  "no levels",
		}, now)
		return nil, nil
	}

	next := now.Add(delay(path.Levels, 1))
	state := &State{
		ID:               types.NewID(),
		NotificationID:   route.NotificationID,
		PathID:           path.ID,
		HostelID:         route.HostelID,
		TemplateCode:     route.TemplateCode,
		CurrentLevel:     0,
		MaxLevel:         len(path.Levels),
		Levels:           slices.Clone(path.Levels),
		NextEscalationAt: &next,
		History:          []HistoryEntry{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.Create(ctx, state); err != nil {
		return nil, err
	}

	metrics.RecordEscalationScheduled()
	s.log.Infow("escalation scheduled",
		"notification_id", route.NotificationID,
		"path_id", path.ID,
		"max_level", state.MaxLevel,
		"next_escalation_at", next,
	)
	s.record(ctx, audit.ActionEscalationCreated, route.NotificationID, map[string]any{
		"path_id":            path.ID.String(),
		"max_level":          state.MaxLevel,
		"next_escalation_at": next.Format(time.RFC3339),
	}, now)
	return state, nil
}

func (s *Scheduler) record(ctx context.Context, action, notificationID string, details map[string]any, at time.Time) {
	if err := s.journal.Record(ctx, audit.NewEntry(action, notificationID, audit.ActorSystem, details, at)); err != nil {
		s.log.Warnw("failed to journal escalation decision", "action", action, "error", err)
	}
}
