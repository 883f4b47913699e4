package escalation

import (
	"context"
	"time"

	"github.com/hostelhub/notifyrouter/internal/routing"
	"github.com/hostelhub/notifyrouter/internal/shared/types"
)

// Status is the reporting state of an escalation
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusEscalated Status = "ESCALATED"
	StatusExhausted Status = "EXHAUSTED"
	StatusResolved  Status = "RESOLVED"
)

// HistoryEntry records one level firing
type HistoryEntry struct {
	Level       int       `json:"level"`
	EscalatedAt time.Time `json:"escalated_at"`
}

// State is the live escalation progress of one notification. Levels are
// copied from the path at scheduling time, so later path edits do not apply
// to escalations already in flight.
type State struct {
	ID               types.ID                  `json:"id"`
	NotificationID   string                    `json:"notification_id"`
	PathID           types.ID                  `json:"path_id"`
	HostelID         string                    `json:"hostel_id,omitempty"`
	TemplateCode     string                    `json:"template_code,omitempty"`
	CurrentLevel     int                       `json:"current_level"`
	MaxLevel         int                       `json:"max_level"`
	Levels           []routing.EscalationLevel `json:"levels"`
	LastEscalatedAt  *time.Time                `json:"last_escalated_at,omitempty"`
	NextEscalationAt *time.Time                `json:"next_escalation_at,omitempty"`
	Resolved         bool                      `json:"resolved"`
	ResolvedAt       *time.Time                `json:"resolved_at,omitempty"`
	ResolvedBy       string                    `json:"resolved_by,omitempty"`
	History          []HistoryEntry            `json:"history"`
	CreatedAt        time.Time                 `json:"created_at"`
	UpdatedAt        time.Time                 `json:"updated_at"`
}

// Status derives the reporting state
func (s *State) Status() Status {
	switch {
	case s.Resolved:
		return StatusResolved
	case s.CurrentLevel >= s.MaxLevel && s.NextEscalationAt == nil:
		return StatusExhausted
	case s.CurrentLevel == 0:
		return StatusPending
	default:
		return StatusEscalated
	}
}

// IsDue reports whether the ticker should advance the state at now
func (s *State) IsDue(now time.Time) bool {
	return !s.Resolved && s.NextEscalationAt != nil && !s.NextEscalationAt.After(now)
}

// Level returns the configuration of level n (1-based)
func (s *State) Level(n int) (routing.EscalationLevel, bool) {
	if n < 1 || n > len(s.Levels) {
		return routing.EscalationLevel{}, false
	}
	return s.Levels[n-1], true
}

// delay returns how long after level n-1 fires level n becomes due. Level
// hours are cumulative, so the wait is the gap to the previous level.
func delay(levels []routing.EscalationLevel, n int) time.Duration {
	if n < 1 || n > len(levels) {
		return 0
	}
	d := levels[n-1].After()
	if n > 1 {
		d -= levels[n-2].After()
	}
	return d
}

// Transition is a conditional level advance. It applies only if the row
// still has ExpectedLevel and ExpectedNext and is not resolved.
type Transition struct {
	StateID       types.ID
	ExpectedLevel int
	ExpectedNext  time.Time
	NewLevel      int
	Next          *time.Time
	At            time.Time
}

// Store persists escalation states
type Store interface {
	// Create stores a new state; a second active state for the same
	// notification is a conflict
	Create(ctx context.Context, state *State) error
	// Get returns the state of a notification
	Get(ctx context.Context, notificationID string) (*State, error)
	// ListDue returns unresolved states whose deadline is at or before now
	ListDue(ctx context.Context, now time.Time, limit int) ([]State, error)
	// Claim applies a transition and reports whether this caller won it
	Claim(ctx context.Context, t Transition) (bool, error)
	// Resolve marks the state resolved; NotFound if missing, Conflict if
	// already resolved
	Resolve(ctx context.Context, notificationID, resolvedBy string, at time.Time) (*State, error)
	// ListExhausted returns unresolved states with every level fired
	ListExhausted(ctx context.Context, limit int) ([]State, error)
}
