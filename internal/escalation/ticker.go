package escalation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hostelhub/notifyrouter/internal/audit"
	"github.com/hostelhub/notifyrouter/internal/notification"
	"github.com/hostelhub/notifyrouter/internal/routing"
	"github.com/hostelhub/notifyrouter/internal/shared/metrics"
	"github.com/hostelhub/notifyrouter/internal/shared/types"
)

// Deliverer is the outbound delivery collaborator
type Deliverer interface {
	Deliver(ctx context.Context, d notification.Delivery) error
}

// TickerConfig holds ticker settings
type TickerConfig struct {
	Interval time.Duration
	// Batch caps how many due states one scan picks up
	Batch int
}

// Ticker periodically advances due escalations. Any number of tickers may
// run against the same store; the conditional claim fires each level once.
type Ticker struct {
	store     Store
	deliverer Deliverer
	resolver  *routing.Resolver
	routes    routing.RouteRepository
	journal   audit.Journal
	config    TickerConfig
	clock     types.Clock
	log       *zap.SugaredLogger
}

// NewTicker creates a ticker
func NewTicker(
	store Store,
	deliverer Deliverer,
	resolver *routing.Resolver,
	routes routing.RouteRepository,
	journal audit.Journal,
	config TickerConfig,
	clock types.Clock,
	log *zap.SugaredLogger,
) *Ticker {
	return &Ticker{
		store:     store,
		deliverer: deliverer,
		resolver:  resolver,
		routes:    routes,
		journal:   journal,
		config:    config,
		clock:     clock.OrSystem(),
		log:       log,
	}
}

// Run scans on every interval until ctx is cancelled
func (t *Ticker) Run(ctx context.Context) error {
	ticker := time.NewTicker(t.config.Interval)
	defer ticker.Stop()

	t.log.Infow("escalation ticker started", "interval", t.config.Interval, "batch", t.config.Batch)
	for {
		select {
		case <-ctx.Done():
			t.log.Info("escalation ticker stopped")
			return nil
		case <-ticker.C:
			if _, err := t.Tick(ctx); err != nil {
				t.log.Errorw("escalation tick failed", "error", err)
			}
		}
	}
}

// Tick runs one scan and returns how many levels this instance fired
func (t *Ticker) Tick(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { metrics.RecordTick(time.Since(start)) }()

	now := t.clock().Truncate(time.Microsecond)
	due, err := t.store.ListDue(ctx, now, t.config.Batch)
	if err != nil {
		return 0, err
	}

	fired := 0
	for i := range due {
		if ctx.Err() != nil {
			return fired, ctx.Err()
		}
		ok, err := t.advance(ctx, &due[i], now)
		if err != nil {
			t.log.Errorw("failed to advance escalation",
				"notification_id", due[i].NotificationID,
				"error", err,
			)
			continue
		}
		if ok {
			fired++
		}
	}
	return fired, nil
}

// advance claims and fires the next level of one state
func (t *Ticker) advance(ctx context.Context, st *State, now time.Time) (bool, error) {
	if st.NextEscalationAt == nil || st.CurrentLevel >= st.MaxLevel {
		return false, nil
	}

	newLevel := st.CurrentLevel + 1
	var next *time.Time
	if newLevel < st.MaxLevel {
		n := now.Add(delay(st.Levels, newLevel+1))
		next = &n
	}

	won, err := t.store.Claim(ctx, Transition{
		StateID:       st.ID,
		ExpectedLevel: st.CurrentLevel,
		ExpectedNext:  *st.NextEscalationAt,
		NewLevel:      newLevel,
		Next:          next,
		At:            now,
	})
	if err != nil {
		return false, err
	}
	if !won {
		metrics.RecordClaimConflict()
		t.log.Debugw("escalation claimed elsewhere",
			"notification_id", st.NotificationID,
			"level", newLevel,
		)
		return false, nil
	}

	metrics.RecordEscalationFired(newLevel)
	t.log.Infow("escalation fired",
		"notification_id", st.NotificationID,
		"level", newLevel,
		"max_level", st.MaxLevel,
		"next_escalation_at", next,
	)

	details := map[string]any{"level": newLevel, "max_level": st.MaxLevel}
	if err := t.journal.Record(ctx, audit.NewEntry(audit.ActionEscalationFired, st.NotificationID, audit.ActorSystem, details, now)); err != nil {
		t.log.Warnw("failed to journal escalation", "notification_id", st.NotificationID, "error", err)
	}

	// The level has fired once the claim commits. Delivery problems are
	// noted on the route but never roll the state back.
	if err := t.notify(ctx, st, newLevel); err != nil {
		t.log.Warnw("escalation delivery failed",
			"notification_id", st.NotificationID,
			"level", newLevel,
			"error", err,
		)
		note := routing.RouteNote{
			NotificationID: st.NotificationID,
			Kind:           routing.NoteDeliveryFailed,
			Message:        fmt.Sprintf("level %d delivery failed: %v", newLevel, err),
			CreatedAt:      now,
		}
		if err := t.routes.AppendNote(ctx, note); err != nil {
			t.log.Warnw("failed to note delivery failure", "notification_id", st.NotificationID, "error", err)
		}
	}
	return true, nil
}

func (t *Ticker) notify(ctx context.Context, st *State, levelNo int) error {
	level, ok := st.Level(levelNo)
	if !ok {
		return fmt.Errorf("level %d not configured", levelNo)
	}

	recipients, err := t.resolver.Expand(ctx, st.HostelID, level.Recipients())
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		return fmt.Errorf("level %d resolved to no recipients", levelNo)
	}

	return t.deliverer.Deliver(ctx, notification.Delivery{
		NotificationID: st.NotificationID,
		Recipients:     recipients,
		Channels:       routing.ChannelStrings(level.Channels),
		TemplateCode:   st.TemplateCode,
		Level:          levelNo,
		Metadata: map[string]string{
			"escalation_level": fmt.Sprintf("%d", levelNo),
			"max_level":        fmt.Sprintf("%d", st.MaxLevel),
			"path_id":          st.PathID.String(),
		},
	})
}
