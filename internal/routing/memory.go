package routing

import (
	"context"
	"slices"
	"sort"
	"sync"

	"github.com/hostelhub/notifyrouter/internal/shared/errors"
)

// MemoryRepository is an in-process RouteRepository and ConfigLoader
type MemoryRepository struct {
	mu       sync.RWMutex
	rules    []Rule
	paths    []EscalationPath
	defaults []DefaultPolicy
	routes   map[string]*NotificationRoute
	notes    map[string][]RouteNote
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		routes: make(map[string]*NotificationRoute),
		notes:  make(map[string][]RouteNote),
	}
}

// SetConfig replaces the stored configuration
func (m *MemoryRepository) SetConfig(rules []Rule, paths []EscalationPath, defaults []DefaultPolicy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = slices.Clone(rules)
	m.paths = slices.Clone(paths)
	m.defaults = slices.Clone(defaults)
}

func (m *MemoryRepository) LoadRules(ctx context.Context) ([]Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.rules), nil
}

func (m *MemoryRepository) LoadPaths(ctx context.Context) ([]EscalationPath, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.paths), nil
}

func (m *MemoryRepository) LoadDefaults(ctx context.Context) ([]DefaultPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.defaults), nil
}

func (m *MemoryRepository) CreateRoute(ctx context.Context, route *NotificationRoute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.routes[route.NotificationID]; exists {
		return errors.DuplicateRoute(route.NotificationID)
	}
	stored := *route
	stored.Notes = nil
	m.routes[route.NotificationID] = &stored
	return nil
}

func (m *MemoryRepository) GetRoute(ctx context.Context, notificationID string) (*NotificationRoute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stored, ok := m.routes[notificationID]
	if !ok {
		return nil, errors.NotFound("notification route", notificationID)
	}
	route := *stored
	route.Notes = slices.Clone(m.notes[notificationID])
	return &route, nil
}

func (m *MemoryRepository) AppendNote(ctx context.Context, note RouteNote) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.routes[note.NotificationID]; !ok {
		return errors.NotFound("notification route", note.NotificationID)
	}
	m.notes[note.NotificationID] = append(m.notes[note.NotificationID], note)
	return nil
}

func (m *MemoryRepository) ListUnroutable(ctx context.Context, limit int) ([]NotificationRoute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []NotificationRoute
	for _, r := range m.routes {
		if r.Unroutable {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
