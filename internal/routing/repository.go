package routing

import (
	"context"
)

// RouteRepository persists routing decisions. CreateRoute must fail with a
// duplicate-route error when the notification id already has a route.
type RouteRepository interface {
	CreateRoute(ctx context.Context, route *NotificationRoute) error
	GetRoute(ctx context.Context, notificationID string) (*NotificationRoute, error)
	AppendNote(ctx context.Context, note RouteNote) error
	ListUnroutable(ctx context.Context, limit int) ([]NotificationRoute, error)
}

// ConfigLoader reads active routing configuration
type ConfigLoader interface {
	LoadRules(ctx context.Context) ([]Rule, error)
	LoadPaths(ctx context.Context) ([]EscalationPath, error)
	LoadDefaults(ctx context.Context) ([]DefaultPolicy, error)
}
