package escalation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hostelhub/notifyrouter/internal/shared/errors"
)

const stateColumns = `
	id, notification_id, path_id, hostel_id, template_code,
	current_level, max_level, levels,
	last_escalated_at, next_escalation_at,
	resolved, resolved_at, resolved_by, history,
	created_at, updated_at`

// PostgresStore persists escalation states in PostgreSQL
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, state *State) error {
	levels, err := json.Marshal(state.Levels)
	if err != nil {
		return errors.Wrap(err, "failed to encode escalation levels")
	}
	history, err := json.Marshal(nonNilHistory(state.History))
	if err != nil {
		return errors.Wrap(err, "failed to encode escalation history")
	}

	query := `
		INSERT INTO escalation_states (` + stateColumns + `
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8,
			$9, $10,
			$11, $12, $13, $14,
			$15, $16
		)`

	_, err = s.pool.Exec(ctx, query,
		state.ID, state.NotificationID, state.PathID, state.HostelID, state.TemplateCode,
		state.CurrentLevel, state.MaxLevel, levels,
		state.LastEscalatedAt, state.NextEscalationAt,
		state.Resolved, state.ResolvedAt, state.ResolvedBy, history,
		state.CreatedAt, state.UpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return errors.Conflict("escalation already active for notification")
		}
		return errors.Wrap(err, "failed to create escalation state")
	}
	return nil
}

// Get returns the active state of a notification, or its latest resolved one
func (s *PostgresStore) Get(ctx context.Context, notificationID string) (*State, error) {
	query := `SELECT ` + stateColumns + `
		FROM escalation_states
		WHERE notification_id = $1
		ORDER BY resolved, created_at DESC
		LIMIT 1`

	st, err := scanState(s.pool.QueryRow(ctx, query, notificationID))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("escalation", notificationID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get escalation state")
	}
	return st, nil
}

// ListDue uses the (resolved, next_escalation_at) index
func (s *PostgresStore) ListDue(ctx context.Context, now time.Time, limit int) ([]State, error) {
	query := `SELECT ` + stateColumns + `
		FROM escalation_states
		WHERE resolved = false AND next_escalation_at <= $1
		ORDER BY next_escalation_at
		LIMIT $2`

	return s.list(ctx, query, now, limit)
}

// Claim advances a level with a compare-and-set update. Exactly one of any
// number of concurrent callers with the same expectation sees a row change.
func (s *PostgresStore) Claim(ctx context.Context, t Transition) (bool, error) {
	entry, err := json.Marshal([]HistoryEntry{{Level: t.NewLevel, EscalatedAt: t.At}})
	if err != nil {
		return false, errors.Wrap(err, "failed to encode history entry")
	}

	query := `
		UPDATE escalation_states SET
			current_level = $4,
			next_escalation_at = $5,
			last_escalated_at = $6,
			history = history || $7::jsonb,
			updated_at = $6
		WHERE id = $1
			AND resolved = false
			AND current_level = $2
			AND next_escalation_at = $3`

	result, err := s.pool.Exec(ctx, query,
		t.StateID, t.ExpectedLevel, t.ExpectedNext,
		t.NewLevel, t.Next, t.At, entry,
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to claim escalation")
	}
	return result.RowsAffected() == 1, nil
}

func (s *PostgresStore) Resolve(ctx context.Context, notificationID, resolvedBy string, at time.Time) (*State, error) {
	query := `
		UPDATE escalation_states SET
			resolved = true,
			next_escalation_at = NULL,
			resolved_at = $2,
			resolved_by = $3,
			updated_at = $2
		WHERE notification_id = $1 AND resolved = false
		RETURNING ` + stateColumns

	st, err := scanState(s.pool.QueryRow(ctx, query, notificationID, at, resolvedBy))
	if err == pgx.ErrNoRows {
		var exists bool
		if err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM escalation_states WHERE notification_id = $1)`,
			notificationID,
		).Scan(&exists); err != nil {
			return nil, errors.Wrap(err, "failed to check escalation state")
		}
		if exists {
			return nil, errors.Conflict("escalation already resolved")
		}
		return nil, errors.NotFound("escalation", notificationID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to resolve escalation")
	}
	return st, nil
}

func (s *PostgresStore) ListExhausted(ctx context.Context, limit int) ([]State, error) {
	query := `SELECT ` + stateColumns + `
		FROM escalation_states
		WHERE resolved = false AND next_escalation_at IS NULL AND current_level >= max_level
		ORDER BY updated_at DESC
		LIMIT $1`

	return s.list(ctx, query, limit)
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]State, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list escalation states")
	}
	defer rows.Close()

	var states []State
	for rows.Next() {
		st, err := scanState(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan escalation state")
		}
		states = append(states, *st)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate escalation states")
	}
	return states, nil
}

func scanState(row pgx.Row) (*State, error) {
	var (
		st      State
		levels  []byte
		history []byte
	)
	err := row.Scan(
		&st.ID, &st.NotificationID, &st.PathID, &st.HostelID, &st.TemplateCode,
		&st.CurrentLevel, &st.MaxLevel, &levels,
		&st.LastEscalatedAt, &st.NextEscalationAt,
		&st.Resolved, &st.ResolvedAt, &st.ResolvedBy, &history,
		&st.CreatedAt, &st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(levels, &st.Levels); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(history, &st.History); err != nil {
		return nil, err
	}
	return &st, nil
}

func nonNilHistory(h []HistoryEntry) []HistoryEntry {
	if h == nil {
		return []HistoryEntry{}
	}
	return h
}
