package routing

import (
	"fmt"
	"time"

	"github.com/hostelhub/notifyrouter/internal/shared/errors"
	"github.com/hostelhub/notifyrouter/internal/shared/types"
)

// Channel is a delivery channel
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in_app"
)

// Valid reports whether the channel is one of the supported channels
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush, ChannelInApp:
		return true
	}
	return false
}

// ParseChannels converts and validates a list of channel names
func ParseChannels(names []string) ([]Channel, error) {
	channels := make([]Channel, 0, len(names))
	for _, name := range names {
		c := Channel(name)
		if !c.Valid() {
			return nil, fmt.Errorf("unknown channel %q", name)
		}
		channels = append(channels, c)
	}
	return channels, nil
}

// ChannelStrings converts channels to their string form
func ChannelStrings(channels []Channel) []string {
	out := make([]string, len(channels))
	for i, c := range channels {
		out[i] = string(c)
	}
	return out
}

// Priority of an event
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityUrgent   Priority = "urgent"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityLow:      1,
	PriorityNormal:   2,
	PriorityHigh:     3,
	PriorityUrgent:   4,
	PriorityCritical: 5,
}

// Rank orders priorities; unknown priorities rank 0
func (p Priority) Rank() int {
	return priorityRank[p]
}

// Valid reports whether p is a known priority
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// CategoryEmergency marks critical events: an emergency that resolves to
// nobody is an error rather than an unroutable notification.
const CategoryEmergency = "emergency"

// Event is an inbound notification-worthy event produced by a domain module
type Event struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Category   string            `json:"category"`
	Priority   Priority          `json:"priority"`
	HostelID   string            `json:"hostel_id,omitempty"`
	RoomID     string            `json:"room_id,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Validate checks the required event fields
func (e Event) Validate() error {
	details := map[string]string{}
	if e.ID == "" {
		details["id"] = "id is required"
	}
	if e.Type == "" {
		details["type"] = "type is required"
	}
	if e.OccurredAt.IsZero() {
		details["occurred_at"] = "occurred_at is required"
	}
	if e.Priority != "" && !e.Priority.Valid() {
		details["priority"] = fmt.Sprintf("unknown priority %q", e.Priority)
	}
	if len(details) > 0 {
		return errors.Validation("invalid event", details)
	}
	return nil
}

// IsCritical reports whether the event must never route to an empty recipient set
func (e Event) IsCritical() bool {
	return e.Category == CategoryEmergency
}

// RecipientSpec is the abstract recipient definition of a rule or policy
type RecipientSpec struct {
	Roles  []string `json:"roles,omitempty"`
	Users  []string `json:"users,omitempty"`
	Groups []string `json:"groups,omitempty"`
}

// IsEmpty reports whether no recipient source is configured
func (s RecipientSpec) IsEmpty() bool {
	return len(s.Roles) == 0 && len(s.Users) == 0 && len(s.Groups) == 0
}

// Sources flattens the recipients into an ordered list: roles, then users, then groups
func (s RecipientSpec) Sources() []RecipientSource {
	sources := make([]RecipientSource, 0, len(s.Roles)+len(s.Users)+len(s.Groups))
	for _, r := range s.Roles {
		sources = append(sources, RoleSource{Name: r})
	}
	for _, u := range s.Users {
		sources = append(sources, UserSource{ID: u})
	}
	for _, g := range s.Groups {
		sources = append(sources, GroupSource{Name: g})
	}
	return sources
}

// RecipientSource is one of RoleSource, UserSource or GroupSource
type RecipientSource interface {
	recipientSource()
}

// RoleSource expands to every user holding the role
type RoleSource struct{ Name string }

// UserSource is a specific user, passed through unchanged
type UserSource struct{ ID string }

// GroupSource expands to every member of the group
type GroupSource struct{ Name string }

func (RoleSource) recipientSource()  {}
func (UserSource) recipientSource()  {}
func (GroupSource) recipientSource() {}

// Rule is one conditional routing policy
type Rule struct {
	ID       types.ID `json:"id"`
	HostelID string   `json:"hostel_id,omitempty"` // empty for global rules
	Name     string   `json:"name"`
	// Priority orders evaluation, higher first
	Priority int `json:"rule_priority"`
	// Position is the declaration order, used to break priority ties
	Position          int           `json:"position"`
	Conditions        []Condition   `json:"-"`
	Recipients        RecipientSpec `json:"recipients"`
	CC                RecipientSpec `json:"cc"`
	Channels          []Channel     `json:"channels"`
	TemplateCode      string        `json:"template_code"`
	StopOnMatch       bool          `json:"stop_on_match"`
	EscalationEnabled bool          `json:"escalation_enabled"`
	Timezone          string        `json:"timezone,omitempty"`
	Active            bool          `json:"active"`
}

// IsGlobal reports whether the rule applies to every hostel
func (r Rule) IsGlobal() bool {
	return r.HostelID == ""
}

// Validate checks the rule invariants
func (r Rule) Validate() error {
	if r.Recipients.IsEmpty() {
		return fmt.Errorf("rule %s: at least one recipient source is required", r.ID)
	}
	if len(r.Channels) == 0 {
		return fmt.Errorf("rule %s: at least one channel is required", r.ID)
	}
	for _, c := range r.Channels {
		if !c.Valid() {
			return fmt.Errorf("rule %s: unknown channel %q", r.ID, c)
		}
	}
	if r.Timezone != "" {
		if _, err := time.LoadLocation(r.Timezone); err != nil {
			return fmt.Errorf("rule %s: invalid timezone: %w", r.ID, err)
		}
	}
	for _, c := range r.Conditions {
		if err := validateCondition(c); err != nil {
			return fmt.Errorf("rule %s: %w", r.ID, err)
		}
	}
	return nil
}

// DefaultPolicy is the tenant fallback used when no rule matches
type DefaultPolicy struct {
	HostelID          string        `json:"hostel_id,omitempty"` // empty for the global default
	Recipients        RecipientSpec `json:"recipients"`
	Channels          []Channel     `json:"channels"`
	TemplateCode      string        `json:"template_code"`
	EscalationEnabled bool          `json:"escalation_enabled"`
}

// Validate checks the policy can route something
func (p DefaultPolicy) Validate() error {
	if len(p.Channels) == 0 {
		return fmt.Errorf("default policy %q: at least one channel is required", p.HostelID)
	}
	for _, c := range p.Channels {
		if !c.Valid() {
			return fmt.Errorf("default policy %q: unknown channel %q", p.HostelID, c)
		}
	}
	return nil
}

// EscalationPath is an ordered chain of levels for a (scope, event type) pair
type EscalationPath struct {
	ID           types.ID          `json:"id"`
	HostelID     string            `json:"hostel_id,omitempty"`
	EventType    string            `json:"event_type"`
	Name         string            `json:"name"`
	Levels       []EscalationLevel `json:"levels"`
	AutoEscalate bool              `json:"auto_escalate"`
	Active       bool              `json:"active"`
}

// EscalationLevel is one rung of an escalation path. EscalateAfterHours is
// cumulative from scheduling: levels at 4, 12 and 24 hours fire 4, 8 and 12
// hours apart. Each gap is measured from when the previous level actually fired.
type EscalationLevel struct {
	Level              int       `json:"level"`
	Users              []string  `json:"users,omitempty"`
	Roles              []string  `json:"roles,omitempty"`
	Channels           []Channel `json:"channels"`
	EscalateAfterHours float64   `json:"escalate_after_hours"`
}

// After returns EscalateAfterHours as a duration
func (l EscalationLevel) After() time.Duration {
	return time.Duration(l.EscalateAfterHours * float64(time.Hour))
}

// Recipients returns the level recipients as a RecipientSpec
func (l EscalationLevel) Recipients() RecipientSpec {
	return RecipientSpec{Roles: l.Roles, Users: l.Users}
}

// Validate checks levels are numbered 1..N and deadlines strictly increase.
// A path without levels is valid configuration; scheduling disables escalation for it.
func (p EscalationPath) Validate() error {
	if p.EventType == "" {
		return fmt.Errorf("path %s: event type is required", p.ID)
	}
	prev := 0.0
	for i, l := range p.Levels {
		if l.Level != i+1 {
			return fmt.Errorf("path %s: level %d out of sequence at position %d", p.ID, l.Level, i+1)
		}
		if l.EscalateAfterHours <= 0 {
			return fmt.Errorf("path %s: level %d escalate_after_hours must be positive", p.ID, l.Level)
		}
		if l.EscalateAfterHours <= prev {
			return fmt.Errorf("path %s: level %d escalate_after_hours must exceed level %d", p.ID, l.Level, l.Level-1)
		}
		for _, c := range l.Channels {
			if !c.Valid() {
				return fmt.Errorf("path %s: level %d unknown channel %q", p.ID, l.Level, c)
			}
		}
		prev = l.EscalateAfterHours
	}
	return nil
}

// NoteKind classifies route notes
type NoteKind string

const (
	// NoteEscalationDisabled retroactively turns escalation off for a route
	NoteEscalationDisabled NoteKind = "escalation_disabled"
	NoteDeliveryFailed     NoteKind = "delivery_failed"
)

// RouteNote is an append-only annotation on a route
type RouteNote struct {
	NotificationID string    `json:"notification_id"`
	Kind           NoteKind  `json:"kind"`
	Message        string    `json:"message"`
	CreatedAt      time.Time `json:"created_at"`
}

// NotificationRoute is the immutable record of one routing decision
type NotificationRoute struct {
	NotificationID    string      `json:"notification_id"`
	HostelID          string      `json:"hostel_id,omitempty"`
	EventType         string      `json:"event_type"`
	Category          string      `json:"category,omitempty"`
	Priority          Priority    `json:"priority,omitempty"`
	MatchedRuleID     *types.ID   `json:"matched_rule_id,omitempty"`
	SecondaryRuleIDs  []types.ID  `json:"secondary_rule_ids,omitempty"`
	UsedDefault       bool        `json:"used_default"`
	Primary           []string    `json:"primary"`
	CC                []string    `json:"cc"`
	Channels          []Channel   `json:"channels"`
	TemplateCode      string      `json:"template_code,omitempty"`
	EscalationEnabled bool        `json:"escalation_enabled"`
	EscalationPathID  *types.ID   `json:"escalation_path_id,omitempty"`
	Unroutable        bool        `json:"unroutable"`
	SnapshotVersion   int64       `json:"snapshot_version"`
	CreatedAt         time.Time   `json:"created_at"`
	Notes             []RouteNote `json:"notes,omitempty"`
}

// EffectiveEscalationEnabled applies retroactive notes to the recorded flag
func (r *NotificationRoute) EffectiveEscalationEnabled() bool {
	if !r.EscalationEnabled {
		return false
	}
	for _, n := range r.Notes {
		if n.Kind == NoteEscalationDisabled {
			return false
		}
	}
	return true
}
