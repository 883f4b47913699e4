package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hostelhub/notifyrouter/internal/audit"
	"github.com/hostelhub/notifyrouter/internal/notification"
	"github.com/hostelhub/notifyrouter/internal/routing"
	"github.com/hostelhub/notifyrouter/internal/shared/logging"
	"github.com/hostelhub/notifyrouter/internal/shared/types"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type recordingDeliverer struct {
	mu         sync.Mutex
	deliveries []notification.Delivery
	err        error
}

func (d *recordingDeliverer) Deliver(ctx context.Context, delivery notification.Delivery) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deliveries = append(d.deliveries, delivery)
	return d.err
}

func (d *recordingDeliverer) Deliveries() []notification.Delivery {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]notification.Delivery(nil), d.deliveries...)
}

type staticDirectory map[string][]string

func (d staticDirectory) ResolveRole(ctx context.Context, hostelID, role string) ([]string, error) {
	return d[role], nil
}

func (d staticDirectory) ResolveGroup(ctx context.Context, hostelID, group string) ([]string, error) {
	return nil, fmt.Errorf("unknown group %q", group)
}

// threeLevelPath escalates at 4, 12 and 24 hours
func threeLevelPath() *routing.EscalationPath {
	return &routing.EscalationPath{
		ID:        types.NewID(),
		EventType: "complaint",
		Active:    true,
		Levels: []routing.EscalationLevel{
			{Level: 1, Roles: []string{"manager"}, Channels: []routing.Channel{routing.ChannelEmail}, EscalateAfterHours: 4},
			{Level: 2, Roles: []string{"regional"}, Channels: []routing.Channel{routing.ChannelSMS}, EscalateAfterHours: 12},
			{Level: 3, Users: []string{"ceo"}, Channels: []routing.Channel{routing.ChannelSMS, routing.ChannelEmail}, EscalateAfterHours: 24},
		},
	}
}

type fixture struct {
	clock     *testClock
	store     *MemoryStore
	routes    *routing.MemoryRepository
	journal   *audit.MemoryJournal
	deliverer *recordingDeliverer
	scheduler *Scheduler
	ticker    *Ticker
	service   *Service
}

func newFixture() *fixture {
	f := &fixture{
		clock:     &testClock{now: baseTime},
		store:     NewMemoryStore(),
		routes:    routing.NewMemoryRepository(),
		journal:   audit.NewMemoryJournal(),
		deliverer: &recordingDeliverer{},
	}
	log := logging.Nop()
	f.scheduler = NewScheduler(f.store, f.routes, f.journal, f.clock.Now, log)
	f.ticker = f.newTicker()
	f.service = NewService(f.store, f.journal, f.clock.Now, log)
	return f
}

func (f *fixture) newTicker() *Ticker {
	dir := staticDirectory{"manager": {"m1"}, "regional": {"r1", "r2"}}
	resolver := routing.NewResolver(dir, logging.Nop())
	return NewTicker(f.store, f.deliverer, resolver, f.routes, f.journal,
		TickerConfig{Interval: time.Minute, Batch: 10}, f.clock.Now, logging.Nop())
}

// route persists a route that escalates along path
func (f *fixture) route(id string, path *routing.EscalationPath) *routing.NotificationRoute {
	route := &routing.NotificationRoute{
		NotificationID:    id,
		HostelID:          "H1",
		EventType:         "complaint",
		Primary:           []string{"w1"},
		CC:                []string{},
		Channels:          []routing.Channel{routing.ChannelEmail},
		TemplateCode:      "safety_complaint",
		EscalationEnabled: true,
		EscalationPathID:  path.ID.Ptr(),
		CreatedAt:         f.clock.Now(),
	}
	if err := f.routes.CreateRoute(context.Background(), route); err != nil {
		panic(err)
	}
	return route
}

func (f *fixture) actions() []string {
	var out []string
	for _, e := range f.journal.Entries() {
		out = append(out, e.Action)
	}
	return out
}
