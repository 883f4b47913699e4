package routing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hostelhub/notifyrouter/internal/shared/errors"
	"github.com/hostelhub/notifyrouter/internal/shared/types"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// PostgresRepository stores routing configuration and decisions in PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// --- Configuration ---

// LoadRules returns all active rules
func (r *PostgresRepository) LoadRules(ctx context.Context) ([]Rule, error) {
	query := `
		SELECT id, COALESCE(hostel_id, ''), name, rule_priority, position, conditions,
			recipient_roles, recipient_users, recipient_groups,
			cc_roles, cc_users, cc_groups,
			channels, template_code, stop_on_match, escalation_enabled, timezone, is_active
		FROM routing_rules
		WHERE is_active
		ORDER BY position, created_at`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load routing rules")
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		var (
			rule       Rule
			conditions []byte
			channels   []string
		)
		if err := rows.Scan(
			&rule.ID, &rule.HostelID, &rule.Name, &rule.Priority, &rule.Position, &conditions,
			&rule.Recipients.Roles, &rule.Recipients.Users, &rule.Recipients.Groups,
			&rule.CC.Roles, &rule.CC.Users, &rule.CC.Groups,
			&channels, &rule.TemplateCode, &rule.StopOnMatch, &rule.EscalationEnabled, &rule.Timezone, &rule.Active,
		); err != nil {
			return nil, errors.Wrap(err, "failed to scan routing rule")
		}

		rule.Conditions, err = UnmarshalConditions(conditions)
		if err != nil {
			return nil, errors.Wrap(err, "failed to decode rule conditions")
		}
		rule.Channels = toChannels(channels)
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate routing rules")
	}
	return rules, nil
}

// LoadPaths returns all active escalation paths
func (r *PostgresRepository) LoadPaths(ctx context.Context) ([]EscalationPath, error) {
	query := `
		SELECT id, COALESCE(hostel_id, ''), event_type, name, levels, auto_escalate, is_active
		FROM escalation_paths
		WHERE is_active`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load escalation paths")
	}
	defer rows.Close()

	var paths []EscalationPath
	for rows.Next() {
		var (
			path   EscalationPath
			levels []byte
		)
		if err := rows.Scan(&path.ID, &path.HostelID, &path.EventType, &path.Name, &levels, &path.AutoEscalate, &path.Active); err != nil {
			return nil, errors.Wrap(err, "failed to scan escalation path")
		}
		if err := json.Unmarshal(levels, &path.Levels); err != nil {
			return nil, errors.Wrap(err, "failed to decode escalation levels")
		}
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate escalation paths")
	}
	return paths, nil
}

// LoadDefaults returns stored default policies
func (r *PostgresRepository) LoadDefaults(ctx context.Context) ([]DefaultPolicy, error) {
	query := `
		SELECT hostel_id, roles, users, groups, channels, template_code, escalation_enabled
		FROM default_policies`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load default policies")
	}
	defer rows.Close()

	var policies []DefaultPolicy
	for rows.Next() {
		var (
			p        DefaultPolicy
			channels []string
		)
		if err := rows.Scan(&p.HostelID, &p.Recipients.Roles, &p.Recipients.Users, &p.Recipients.Groups,
			&channels, &p.TemplateCode, &p.EscalationEnabled); err != nil {
			return nil, errors.Wrap(err, "failed to scan default policy")
		}
		p.Channels = toChannels(channels)
		policies = append(policies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate default policies")
	}
	return policies, nil
}

// --- Routes ---

// CreateRoute inserts a route. The primary key on notification_id enforces
// one route per notification.
func (r *PostgresRepository) CreateRoute(ctx context.Context, route *NotificationRoute) error {
	query := `
		INSERT INTO notification_routes (
			notification_id, hostel_id, event_type, category, priority,
			matched_rule_id, secondary_rule_ids, used_default,
			primary_recipients, cc_recipients, channels, template_code,
			escalation_enabled, escalation_path_id, unroutable, snapshot_version, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10, $11, $12,
			$13, $14, $15, $16, $17
		)`

	_, err := r.pool.Exec(ctx, query,
		route.NotificationID, route.HostelID, route.EventType, route.Category, string(route.Priority),
		route.MatchedRuleID, types.Strings(route.SecondaryRuleIDs), route.UsedDefault,
		route.Primary, route.CC, ChannelStrings(route.Channels), route.TemplateCode,
		route.EscalationEnabled, route.EscalationPathID, route.Unroutable, route.SnapshotVersion, route.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.DuplicateRoute(route.NotificationID)
		}
		return errors.Wrap(err, "failed to create notification route")
	}
	return nil
}

// GetRoute retrieves a route with its notes
func (r *PostgresRepository) GetRoute(ctx context.Context, notificationID string) (*NotificationRoute, error) {
	query := `
		SELECT notification_id, hostel_id, event_type, category, priority,
			matched_rule_id, secondary_rule_ids, used_default,
			primary_recipients, cc_recipients, channels, template_code,
			escalation_enabled, escalation_path_id, unroutable, snapshot_version, created_at
		FROM notification_routes
		WHERE notification_id = $1`

	route, err := scanRoute(r.pool.QueryRow(ctx, query, notificationID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("notification route", notificationID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get notification route")
	}

	notes, err := r.listNotes(ctx, notificationID)
	if err != nil {
		return nil, err
	}
	route.Notes = notes
	return route, nil
}

// AppendNote adds an annotation to an existing route
func (r *PostgresRepository) AppendNote(ctx context.Context, note RouteNote) error {
	query := `
		INSERT INTO notification_route_notes (notification_id, kind, message, created_at)
		VALUES ($1, $2, $3, $4)`

	_, err := r.pool.Exec(ctx, query, note.NotificationID, string(note.Kind), note.Message, note.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
			return errors.NotFound("notification route", note.NotificationID)
		}
		return errors.Wrap(err, "failed to append route note")
	}
	return nil
}

// ListUnroutable returns the most recent routes that resolved to nobody
func (r *PostgresRepository) ListUnroutable(ctx context.Context, limit int) ([]NotificationRoute, error) {
	query := `
		SELECT notification_id, hostel_id, event_type, category, priority,
			matched_rule_id, secondary_rule_ids, used_default,
			primary_recipients, cc_recipients, channels, template_code,
			escalation_enabled, escalation_path_id, unroutable, snapshot_version, created_at
		FROM notification_routes
		WHERE unroutable
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list unroutable notifications")
	}
	defer rows.Close()

	var routes []NotificationRoute
	for rows.Next() {
		route, err := scanRoute(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan notification route")
		}
		routes = append(routes, *route)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate notification routes")
	}
	return routes, nil
}

func (r *PostgresRepository) listNotes(ctx context.Context, notificationID string) ([]RouteNote, error) {
	query := `
		SELECT notification_id, kind, message, created_at
		FROM notification_route_notes
		WHERE notification_id = $1
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query, notificationID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list route notes")
	}
	defer rows.Close()

	var notes []RouteNote
	for rows.Next() {
		var n RouteNote
		if err := rows.Scan(&n.NotificationID, &n.Kind, &n.Message, &n.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "failed to scan route note")
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

func scanRoute(row pgx.Row) (*NotificationRoute, error) {
	var (
		route     NotificationRoute
		priority  string
		secondary []string
		channels  []string
	)
	err := row.Scan(
		&route.NotificationID, &route.HostelID, &route.EventType, &route.Category, &priority,
		&route.MatchedRuleID, &secondary, &route.UsedDefault,
		&route.Primary, &route.CC, &channels, &route.TemplateCode,
		&route.EscalationEnabled, &route.EscalationPathID, &route.Unroutable, &route.SnapshotVersion, &route.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	route.Priority = Priority(priority)
	route.Channels = toChannels(channels)
	if route.SecondaryRuleIDs, err = types.ParseIDs(secondary); err != nil {
		return nil, fmt.Errorf("route %s: %w", route.NotificationID, err)
	}
	return &route, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func toChannels(names []string) []Channel {
	out := make([]Channel, len(names))
	for i, n := range names {
		out[i] = Channel(n)
	}
	return out
}
