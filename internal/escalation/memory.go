package escalation

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/hostelhub/notifyrouter/internal/shared/errors"
)

// MemoryStore is an in-process Store. Claim is guarded by a mutex, which
// gives the same single-winner guarantee as the conditional update in SQL.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]*State
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

func (m *MemoryStore) Create(ctx context.Context, state *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.states[state.NotificationID]; ok && !existing.Resolved {
		return errors.Conflict("escalation already active for notification")
	}
	m.states[state.NotificationID] = cloneState(state)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, notificationID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[notificationID]
	if !ok {
		return nil, errors.NotFound("escalation", notificationID)
	}
	return cloneState(st), nil
}

func (m *MemoryStore) ListDue(ctx context.Context, now time.Time, limit int) ([]State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []State
	for _, st := range m.states {
		if st.IsDue(now) {
			due = append(due, *cloneState(st))
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextEscalationAt.Before(*due[j].NextEscalationAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemoryStore) Claim(ctx context.Context, t Transition) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var st *State
	for _, candidate := range m.states {
		if candidate.ID == t.StateID {
			st = candidate
			break
		}
	}
	if st == nil || st.Resolved || st.CurrentLevel != t.ExpectedLevel ||
		st.NextEscalationAt == nil || !st.NextEscalationAt.Equal(t.ExpectedNext) {
		return false, nil
	}

	at := t.At
	st.CurrentLevel = t.NewLevel
	st.NextEscalationAt = t.Next
	st.LastEscalatedAt = &at
	st.History = append(st.History, HistoryEntry{Level: t.NewLevel, EscalatedAt: at})
	st.UpdatedAt = at
	return true, nil
}

func (m *MemoryStore) Resolve(ctx context.Context, notificationID, resolvedBy string, at time.Time) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[notificationID]
	if !ok {
		return nil, errors.NotFound("escalation", notificationID)
	}
	if st.Resolved {
		return nil, errors.Conflict("escalation already resolved")
	}
	st.Resolved = true
	st.NextEscalationAt = nil
	st.ResolvedAt = &at
	st.ResolvedBy = resolvedBy
	st.UpdatedAt = at
	return cloneState(st), nil
}

func (m *MemoryStore) ListExhausted(ctx context.Context, limit int) ([]State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []State
	for _, st := range m.states {
		if st.Status() == StatusExhausted {
			out = append(out, *cloneState(st))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneState(s *State) *State {
	c := *s
	c.Levels = slices.Clone(s.Levels)
	c.History = slices.Clone(s.History)
	return &c
}
