package engine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hostelhub/notifyrouter/internal/audit"
	"github.com/hostelhub/notifyrouter/internal/escalation"
	"github.com/hostelhub/notifyrouter/internal/notification"
	"github.com/hostelhub/notifyrouter/internal/routing"
	"github.com/hostelhub/notifyrouter/internal/shared/errors"
	"github.com/hostelhub/notifyrouter/internal/shared/metrics"
	"github.com/hostelhub/notifyrouter/internal/shared/types"
)

// Routing decision outcomes used for metrics
const (
	OutcomeMatched    = "matched"
	OutcomeDefault    = "default"
	OutcomeUnroutable = "unroutable"
	OutcomeTriage     = "triage"
	OutcomeDuplicate  = "duplicate"
	OutcomeError      = "error"
)

// Result is the outcome of routing one event
type Result struct {
	Route      *routing.NotificationRoute `json:"route"`
	Escalation *escalation.State          `json:"escalation,omitempty"`
}

// Engine routes inbound events: it selects a rule, resolves recipients,
// records the decision, schedules escalation and hands the notification to
// delivery.
type Engine struct {
	snapshots *routing.SnapshotProvider
	evaluator *routing.Evaluator
	resolver  *routing.Resolver
	builder   *routing.Builder
	routes    routing.RouteRepository
	scheduler *escalation.Scheduler
	deliverer escalation.Deliverer
	triage    notification.Triage
	journal   audit.Journal
	clock     types.Clock
	log       *zap.SugaredLogger
}

// Deps groups the engine collaborators
type Deps struct {
	Snapshots *routing.SnapshotProvider
	Evaluator *routing.Evaluator
	Resolver  *routing.Resolver
	Builder   *routing.Builder
	Routes    routing.RouteRepository
	Scheduler *escalation.Scheduler
	Deliverer escalation.Deliverer
	Triage    notification.Triage
	Journal   audit.Journal
	Clock     types.Clock
	Log       *zap.SugaredLogger
}

// New creates an engine
func New(d Deps) *Engine {
	return &Engine{
		snapshots: d.Snapshots,
		evaluator: d.Evaluator,
		resolver:  d.Resolver,
		builder:   d.Builder,
		routes:    d.Routes,
		scheduler: d.Scheduler,
		deliverer: d.Deliverer,
		triage:    d.Triage,
		journal:   d.Journal,
		clock:     d.Clock.OrSystem(),
		log:       d.Log,
	}
}

// Route makes and records the routing decision for an event. The whole
// decision reads a single configuration snapshot. Once the route is stored,
// scheduling and delivery failures are logged but do not fail the call.
func (e *Engine) Route(ctx context.Context, event routing.Event) (*Result, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	snap, err := e.snapshots.Current(ctx)
	if err != nil {
		metrics.RecordRoutingDecision(OutcomeError)
		return nil, errors.Wrap(err, "routing configuration unavailable")
	}

	match, matched := e.evaluator.Evaluate(event, snap.RulesFor(event.HostelID))

	var primary, cc routing.RecipientSpec
	var matchRef *routing.MatchResult
	if matched {
		matchRef = &match
		primary, cc = match.Rule.Recipients, match.Rule.CC
	} else {
		primary = snap.DefaultFor(event.HostelID).Recipients
	}

	recipients, err := e.resolver.Resolve(ctx, event, primary, cc)
	if err != nil {
		if errors.Is(err, errors.ErrRecipientResolution) {
			metrics.RecordRoutingDecision(OutcomeTriage)
			e.queueTriage(ctx, event, err)
			return nil, err
		}
		metrics.RecordRoutingDecision(OutcomeError)
		return nil, errors.Wrap(err, "failed to resolve recipients")
	}

	route, err := e.builder.Build(ctx, event, matchRef, recipients, snap)
	if err != nil {
		if errors.Is(err, errors.ErrDuplicateRoute) {
			metrics.RecordRoutingDecision(OutcomeDuplicate)
			e.log.Infow("duplicate routing attempt rejected", "notification_id", event.ID)
		} else {
			metrics.RecordRoutingDecision(OutcomeError)
		}
		return nil, err
	}

	outcome := OutcomeMatched
	switch {
	case route.Unroutable:
		outcome = OutcomeUnroutable
	case route.UsedDefault:
		outcome = OutcomeDefault
	}
	metrics.RecordRoutingDecision(outcome)
	e.logDecision(route, outcome)
	e.journalRoute(ctx, route)

	result := &Result{Route: route}

	if path, ok := snap.PathFor(event.HostelID, event.Type); ok {
		state, err := e.scheduler.MaybeSchedule(ctx, route, path)
		if err != nil {
			e.log.Errorw("failed to schedule escalation",
				"notification_id", route.NotificationID,
				"error", err,
			)
		}
		result.Escalation = state
	}

	e.deliver(ctx, event, route)
	return result, nil
}

func (e *Engine) deliver(ctx context.Context, event routing.Event, route *routing.NotificationRoute) {
	if route.Unroutable {
		return
	}

	err := e.deliverer.Deliver(ctx, notification.Delivery{
		NotificationID: route.NotificationID,
		Recipients:     route.Primary,
		CC:             route.CC,
		Channels:       routing.ChannelStrings(route.Channels),
		TemplateCode:   route.TemplateCode,
		Metadata: map[string]string{
			"event_type": event.Type,
			"category":   event.Category,
			"priority":   string(event.Priority),
			"hostel_id":  event.HostelID,
			"room_id":    event.RoomID,
		},
	})
	if err == nil {
		return
	}

	e.log.Warnw("initial delivery failed", "notification_id", route.NotificationID, "error", err)
	note := routing.RouteNote{
		NotificationID: route.NotificationID,
		Kind:           routing.NoteDeliveryFailed,
		Message:        fmt.Sprintf("initial delivery failed: %v", err),
		CreatedAt:      e.clock(),
	}
	if err := e.routes.AppendNote(ctx, note); err != nil {
		e.log.Warnw("failed to note delivery failure", "notification_id", route.NotificationID, "error", err)
		return
	}
	route.Notes = append(route.Notes, note)
}

func (e *Engine) queueTriage(ctx context.Context, event routing.Event, cause error) {
	e.log.Errorw("event resolved to no recipients",
		"notification_id", event.ID,
		"event_type", event.Type,
		"category", event.Category,
		"hostel_id", event.HostelID,
		"reason", cause.Error(),
	)
	err := e.triage.Enqueue(ctx, notification.TriageItem{
		NotificationID: event.ID,
		EventType:      event.Type,
		Category:       event.Category,
		HostelID:       event.HostelID,
		Reason:         cause.Error(),
		OccurredAt:     event.OccurredAt,
	})
	if err != nil {
		e.log.Errorw("failed to queue triage", "notification_id", event.ID, "error", err)
	}

	details := map[string]any{"event_type": event.Type, "reason": cause.Error()}
	if err := e.journal.Record(ctx, audit.NewEntry(audit.ActionTriageQueued, event.ID, audit.ActorSystem, details, e.clock())); err != nil {
		e.log.Warnw("failed to journal triage", "notification_id", event.ID, "error", err)
	}
}

func (e *Engine) logDecision(route *routing.NotificationRoute, outcome string) {
	fields := []any{
		"notification_id", route.NotificationID,
		"outcome", outcome,
		"primary", len(route.Primary),
		"cc", len(route.CC),
		"channels", route.Channels,
		"snapshot_version", route.SnapshotVersion,
	}
	if route.MatchedRuleID != nil {
		fields = append(fields, "rule_id", *route.MatchedRuleID)
	}
	if route.Unroutable {
		e.log.Warnw("notification is unroutable", fields...)
		return
	}
	e.log.Infow("notification routed", fields...)
}

func (e *Engine) journalRoute(ctx context.Context, route *routing.NotificationRoute) {
	action := audit.ActionRouteCreated
	if route.Unroutable {
		action = audit.ActionRouteUnroutable
	}
	details := map[string]any{
		"event_type":         route.EventType,
		"used_default":       route.UsedDefault,
		"primary":            route.Primary,
		"cc":                 route.CC,
		"channels":           routing.ChannelStrings(route.Channels),
		"escalation_enabled": route.EscalationEnabled,
		"snapshot_version":   route.SnapshotVersion,
	}
	if route.MatchedRuleID != nil {
		details["rule_id"] = route.MatchedRuleID.String()
	}
	if len(route.SecondaryRuleIDs) > 0 {
		details["secondary_rule_ids"] = types.Strings(route.SecondaryRuleIDs)
	}
	if err := e.journal.Record(ctx, audit.NewEntry(action, route.NotificationID, audit.ActorSystem, details, route.CreatedAt)); err != nil {
		e.log.Warnw("failed to journal route", "notification_id", route.NotificationID, "error", err)
	}
}

// GetRoute returns a stored route with its notes
func (e *Engine) GetRoute(ctx context.Context, notificationID string) (*routing.NotificationRoute, error) {
	return e.routes.GetRoute(ctx, notificationID)
}

// ListUnroutable returns recent routes that resolved to nobody
func (e *Engine) ListUnroutable(ctx context.Context, limit int) ([]routing.NotificationRoute, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return e.routes.ListUnroutable(ctx, limit)
}
