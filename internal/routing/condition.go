package routing

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// ConditionKind discriminates condition variants in storage
type ConditionKind string

const (
	KindEventType      ConditionKind = "event_type"
	KindCategory       ConditionKind = "category"
	KindPriority       ConditionKind = "priority"
	KindScope          ConditionKind = "scope"
	KindTimeWindow     ConditionKind = "time_window"
	KindAttributeEqual ConditionKind = "attribute_equals"
)

// Condition is a predicate over an event. The set of variants is closed;
// matching dispatches on the concrete type.
type Condition interface {
	Kind() ConditionKind
}

// EventTypeCondition matches any of the listed event types
type EventTypeCondition struct {
	Types []string
}

// CategoryCondition matches any of the listed categories
type CategoryCondition struct {
	Categories []string
}

// PriorityCondition matches an exact priority, or any priority at or above it
// when Minimum is set
type PriorityCondition struct {
	Priority Priority
	Minimum  bool
}

// ScopeCondition matches events from the listed hostels and/or rooms.
// An empty list places no constraint on that dimension.
type ScopeCondition struct {
	HostelIDs []string
	RoomIDs   []string
}

// TimeWindowCondition matches events whose local time-of-day falls in
// [Start, End). Start after End wraps past midnight; Start equal to End
// covers the whole day.
type TimeWindowCondition struct {
	Start int // minutes after midnight
	End   int
}

// AttributeEqualsCondition matches an event attribute by exact value
type AttributeEqualsCondition struct {
	Key   string
	Value string
}

func (EventTypeCondition) Kind() ConditionKind       { return KindEventType }
func (CategoryCondition) Kind() ConditionKind        { return KindCategory }
func (PriorityCondition) Kind() ConditionKind        { return KindPriority }
func (ScopeCondition) Kind() ConditionKind           { return KindScope }
func (TimeWindowCondition) Kind() ConditionKind      { return KindTimeWindow }
func (AttributeEqualsCondition) Kind() ConditionKind { return KindAttributeEqual }

// NewTimeWindow builds a window from "HH:MM" clock strings
func NewTimeWindow(start, end string) (TimeWindowCondition, error) {
	s, err := parseClock(start)
	if err != nil {
		return TimeWindowCondition{}, err
	}
	e, err := parseClock(end)
	if err != nil {
		return TimeWindowCondition{}, err
	}
	return TimeWindowCondition{Start: s, End: e}, nil
}

// Contains reports whether a minute-of-day falls in the window
func (w TimeWindowCondition) Contains(minute int) bool {
	switch {
	case w.Start == w.End:
		return true
	case w.Start < w.End:
		return minute >= w.Start && minute < w.End
	default:
		return minute >= w.Start || minute < w.End
	}
}

// Matches evaluates a condition against an event. loc is the timezone used
// for time-of-day conditions.
func Matches(c Condition, e Event, loc *time.Location) bool {
	switch cond := c.(type) {
	case EventTypeCondition:
		return slices.Contains(cond.Types, e.Type)
	case CategoryCondition:
		return slices.Contains(cond.Categories, e.Category)
	case PriorityCondition:
		if cond.Minimum {
			return e.Priority.Valid() && e.Priority.Rank() >= cond.Priority.Rank()
		}
		return e.Priority == cond.Priority
	case ScopeCondition:
		if len(cond.HostelIDs) > 0 && !slices.Contains(cond.HostelIDs, e.HostelID) {
			return false
		}
		if len(cond.RoomIDs) > 0 && !slices.Contains(cond.RoomIDs, e.RoomID) {
			return false
		}
		return true
	case TimeWindowCondition:
		if loc == nil {
			loc = time.UTC
		}
		local := e.OccurredAt.In(loc)
		return cond.Contains(local.Hour()*60 + local.Minute())
	case AttributeEqualsCondition:
		v, ok := e.Attributes[cond.Key]
		return ok && v == cond.Value
	}
	return false
}

func validateCondition(c Condition) error {
	switch cond := c.(type) {
	case EventTypeCondition:
		if len(cond.Types) == 0 {
			return fmt.Errorf("event_type condition needs at least one type")
		}
	case CategoryCondition:
		if len(cond.Categories) == 0 {
			return fmt.Errorf("category condition needs at least one category")
		}
	case PriorityCondition:
		if !cond.Priority.Valid() {
			return fmt.Errorf("priority condition has unknown priority %q", cond.Priority)
		}
	case ScopeCondition:
		if len(cond.HostelIDs) == 0 && len(cond.RoomIDs) == 0 {
			return fmt.Errorf("scope condition needs a hostel or room")
		}
	case TimeWindowCondition:
		if cond.Start < 0 || cond.Start >= 24*60 || cond.End < 0 || cond.End >= 24*60 {
			return fmt.Errorf("time_window bounds out of range")
		}
	case AttributeEqualsCondition:
		if cond.Key == "" {
			return fmt.Errorf("attribute_equals condition needs a key")
		}
	case nil:
		return fmt.Errorf("nil condition")
	default:
		return fmt.Errorf("unsupported condition %T", c)
	}
	return nil
}

// conditionRecord is the storage shape of a condition
type conditionRecord struct {
	Kind       ConditionKind `json:"kind"`
	Types      []string      `json:"types,omitempty"`
	Categories []string      `json:"categories,omitempty"`
	Priority   Priority      `json:"priority,omitempty"`
	Minimum    bool          `json:"minimum,omitempty"`
	HostelIDs  []string      `json:"hostel_ids,omitempty"`
	RoomIDs    []string      `json:"room_ids,omitempty"`
	Start      string        `json:"start,omitempty"`
	End        string        `json:"end,omitempty"`
	Key        string        `json:"key,omitempty"`
	Value      string        `json:"value,omitempty"`
}

// MarshalConditions encodes conditions as a JSON array of tagged records
func MarshalConditions(conds []Condition) ([]byte, error) {
	records := make([]conditionRecord, 0, len(conds))
	for i, c := range conds {
		if c == nil {
			return nil, fmt.Errorf("condition %d is nil", i)
		}
		rec := conditionRecord{Kind: c.Kind()}
		switch cond := c.(type) {
		case EventTypeCondition:
			rec.Types = cond.Types
		case CategoryCondition:
			rec.Categories = cond.Categories
		case PriorityCondition:
			rec.Priority = cond.Priority
			rec.Minimum = cond.Minimum
		case ScopeCondition:
			rec.HostelIDs = cond.HostelIDs
			rec.RoomIDs = cond.RoomIDs
		case TimeWindowCondition:
			rec.Start = formatClock(cond.Start)
			rec.End = formatClock(cond.End)
		case AttributeEqualsCondition:
			rec.Key = cond.Key
			rec.Value = cond.Value
		default:
			return nil, fmt.Errorf("unsupported condition %T", c)
		}
		records = append(records, rec)
	}
	return json.Marshal(records)
}

// UnmarshalConditions decodes a JSON array produced by MarshalConditions
func UnmarshalConditions(data []byte) ([]Condition, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var records []conditionRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode conditions: %w", err)
	}

	conds := make([]Condition, 0, len(records))
	for _, rec := range records {
		var c Condition
		switch rec.Kind {
		case KindEventType:
			c = EventTypeCondition{Types: rec.Types}
		case KindCategory:
			c = CategoryCondition{Categories: rec.Categories}
		case KindPriority:
			c = PriorityCondition{Priority: rec.Priority, Minimum: rec.Minimum}
		case KindScope:
			c = ScopeCondition{HostelIDs: rec.HostelIDs, RoomIDs: rec.RoomIDs}
		case KindTimeWindow:
			w, err := NewTimeWindow(rec.Start, rec.End)
			if err != nil {
				return nil, err
			}
			c = w
		case KindAttributeEqual:
			c = AttributeEqualsCondition{Key: rec.Key, Value: rec.Value}
		default:
			return nil, fmt.Errorf("unknown condition kind %q", rec.Kind)
		}
		conds = append(conds, c)
	}
	return conds, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q, expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func formatClock(minute int) string {
	return fmt.Sprintf("%02d:%02d", minute/60, minute%60)
}
