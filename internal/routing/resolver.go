package routing

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hostelhub/notifyrouter/internal/shared/errors"
)

// Directory expands roles and groups into user ids
type Directory interface {
	ResolveRole(ctx context.Context, hostelID, role string) ([]string, error)
	ResolveGroup(ctx context.Context, hostelID, group string) ([]string, error)
}

// RecipientSet is the concrete, de-duplicated recipient list of a route
type RecipientSet struct {
	Primary []string
	CC      []string
}

// Resolver turns recipient specs into concrete user ids
type Resolver struct {
	dir Directory
	log *zap.SugaredLogger
}

// NewResolver creates a resolver backed by a directory
func NewResolver(dir Directory, log *zap.SugaredLogger) *Resolver {
	return &Resolver{dir: dir, log: log}
}

// Resolve expands primary and cc specs for an event. Duplicates are removed
// keeping first-seen order, and cc never repeats a primary recipient.
//
// An empty primary set is an error when a lone role or group source expanded
// to nobody, or when the event is critical. Otherwise it is returned as is and
// the route is stored unroutable.
func (r *Resolver) Resolve(ctx context.Context, event Event, primary, cc RecipientSpec) (RecipientSet, error) {
	primaryIDs, err := r.Expand(ctx, event.HostelID, primary)
	if err != nil {
		return RecipientSet{}, err
	}

	if len(primaryIDs) == 0 {
		if name, ok := soleLookupSource(primary); ok {
			return RecipientSet{}, errors.RecipientResolution(event.ID,
				fmt.Sprintf("sole recipient source %s resolved to no users", name))
		}
		if event.IsCritical() {
			return RecipientSet{}, errors.RecipientResolution(event.ID, "critical event resolved to no primary recipients")
		}
	}

	ccIDs, err := r.Expand(ctx, event.HostelID, cc)
	if err != nil {
		return RecipientSet{}, err
	}

	seen := make(map[string]struct{}, len(primaryIDs))
	for _, id := range primaryIDs {
		seen[id] = struct{}{}
	}
	filtered := make([]string, 0, len(ccIDs))
	for _, id := range ccIDs {
		if _, ok := seen[id]; !ok {
			filtered = append(filtered, id)
		}
	}

	r.log.Debugw("resolved recipients",
		"notification_id", event.ID,
		"primary", len(primaryIDs),
		"cc", len(filtered),
	)
	return RecipientSet{Primary: primaryIDs, CC: filtered}, nil
}

// soleLookupSource reports whether spec names exactly one source and that
// source needs a directory lookup
func soleLookupSource(spec RecipientSpec) (string, bool) {
	sources := spec.Sources()
	if len(sources) != 1 {
		return "", false
	}
	switch s := sources[0].(type) {
	case RoleSource:
		return "role " + s.Name, true
	case GroupSource:
		return "group " + s.Name, true
	}
	return "", false
}

// Expand resolves every recipient source into de-duplicated user ids
func (r *Resolver) Expand(ctx context.Context, hostelID string, spec RecipientSpec) ([]string, error) {
	var ids []string
	seen := map[string]struct{}{}
	add := func(users []string) {
		for _, u := range users {
			if u == "" {
				continue
			}
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			ids = append(ids, u)
		}
	}

	for _, src := range spec.Sources() {
		switch s := src.(type) {
		case UserSource:
			add([]string{s.ID})
		case RoleSource:
			users, err := r.dir.ResolveRole(ctx, hostelID, s.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve role %q: %w", s.Name, err)
			}
			add(users)
		case GroupSource:
			users, err := r.dir.ResolveGroup(ctx, hostelID, s.Name)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve group %q: %w", s.Name, err)
			}
			add(users)
		}
	}
	return ids, nil
}
