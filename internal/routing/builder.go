package routing

import (
	"context"

	"github.com/hostelhub/notifyrouter/internal/shared/errors"
	"github.com/hostelhub/notifyrouter/internal/shared/metrics"
	"github.com/hostelhub/notifyrouter/internal/shared/types"
)

// Builder assembles and persists the route record of a routing decision
type Builder struct {
	repo  RouteRepository
	clock types.Clock
}

// NewBuilder creates a builder
func NewBuilder(repo RouteRepository, clock types.Clock) *Builder {
	return &Builder{repo: repo, clock: clock.OrSystem()}
}

// Build creates the route for an event. match is nil when the default policy
// applied. The route is written exactly once; a second build for the same
// notification id fails with a duplicate-route error.
func (b *Builder) Build(ctx context.Context, event Event, match *MatchResult, recipients RecipientSet, snap *Snapshot) (*NotificationRoute, error) {
	policy := snap.DefaultFor(event.HostelID)

	route := &NotificationRoute{
		NotificationID:  event.ID,
		HostelID:        event.HostelID,
		EventType:       event.Type,
		Category:        event.Category,
		Priority:        event.Priority,
		Primary:         nonNil(recipients.Primary),
		CC:              nonNil(recipients.CC),
		Unroutable:      len(recipients.Primary) == 0,
		SnapshotVersion: snap.Version,
		CreatedAt:       b.clock(),
	}

	var escalationEnabled bool
	if match != nil && match.Rule != nil {
		route.MatchedRuleID = match.Rule.ID.Ptr()
		route.SecondaryRuleIDs = match.Secondary
		route.TemplateCode = match.Rule.TemplateCode
		escalationEnabled = match.Rule.EscalationEnabled
		if !route.Unroutable {
			route.Channels = match.Rule.Channels
		}
	} else {
		route.UsedDefault = true
		route.TemplateCode = policy.TemplateCode
		escalationEnabled = policy.EscalationEnabled
	}
	if route.Channels == nil {
		route.Channels = policy.Channels
	}
	if route.TemplateCode == "" {
		route.TemplateCode = policy.TemplateCode
	}

	if path, ok := snap.PathFor(event.HostelID, event.Type); ok {
		route.EscalationPathID = path.ID.Ptr()
		route.EscalationEnabled = escalationEnabled
	}

	if err := b.repo.CreateRoute(ctx, route); err != nil {
		if errors.Is(err, errors.ErrDuplicateRoute) {
			metrics.RecordDuplicateRoute()
		}
		return nil, err
	}
	return route, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
