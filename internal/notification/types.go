package notification

import (
	"context"
	"time"
)

// Delivery asks the delivery subsystem to notify recipients on channels.
// Level is 0 for the initial notification and the escalation level otherwise.
type Delivery struct {
	NotificationID string            `json:"notification_id"`
	Recipients     []string          `json:"recipients"`
	CC             []string          `json:"cc,omitempty"`
	Channels       []string          `json:"channels"`
	TemplateCode   string            `json:"template_code,omitempty"`
	Level          int               `json:"level"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Message is the per-channel unit handed to a transport
type Message struct {
	NotificationID string            `json:"notification_id"`
	Channel        string            `json:"channel"`
	Recipients     []string          `json:"recipients"`
	CC             []string          `json:"cc,omitempty"`
	TemplateCode   string            `json:"template_code,omitempty"`
	Level          int               `json:"level"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	QueuedAt       time.Time         `json:"queued_at"`
}

// Transport hands messages to the channel workers
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// TriageItem is a notification that needs an operator to route it by hand
type TriageItem struct {
	NotificationID string
	EventType      string
	Category       string
	HostelID       string
	Reason         string
	OccurredAt     time.Time
}
