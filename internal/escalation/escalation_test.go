package escalation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hostelhub/notifyrouter/internal/audit"
	"github.com/hostelhub/notifyrouter/internal/routing"
	"github.com/hostelhub/notifyrouter/internal/shared/errors"
)

func at(hours float64) time.Time {
	return baseTime.Add(time.Duration(hours * float64(time.Hour)))
}

func TestScheduleSetsFirstDeadline(t *testing.T) {
	f := newFixture()
	path := threeLevelPath()
	route := f.route("n-1", path)

	st, err := f.scheduler.MaybeSchedule(context.Background(), route, path)
	require.NoError(t, err)
	require.NotNil(t, st)

	assert.Equal(t, 0, st.CurrentLevel)
	assert.Equal(t, 3, st.MaxLevel)
	require.NotNil(t, st.NextEscalationAt)
	assert.Equal(t, at(4), *st.NextEscalationAt)
	assert.Equal(t, StatusPending, st.Status())
	assert.Equal(t, []string{audit.ActionEscalationCreated}, f.actions())
}

func TestEscalationTimeline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	path := threeLevelPath()
	_, err := f.scheduler.MaybeSchedule(ctx, f.route("n-1", path), path)
	require.NoError(t, err)

	steps := []struct {
		now       time.Time
		fired     int
		level     int
		next      *time.Time
		status    Status
		delivered int
	}{
		{now: at(3.99), fired: 0, level: 0, next: ptr(at(4)), status: StatusPending, delivered: 0},
		{now: at(4), fired: 1, level: 1, next: ptr(at(12)), status: StatusEscalated, delivered: 1},
		{now: at(11), fired: 0, level: 1, next: ptr(at(12)), status: StatusEscalated, delivered: 1},
		{now: at(12), fired: 1, level: 2, next: ptr(at(24)), status: StatusEscalated, delivered: 2},
		{now: at(24), fired: 1, level: 3, next: nil, status: StatusExhausted, delivered: 3},
		{now: at(100), fired: 0, level: 3, next: nil, status: StatusExhausted, delivered: 3},
	}
	for _, step := range steps {
		f.clock.Set(step.now)
		fired, err := f.ticker.Tick(ctx)
		require.NoError(t, err)
		assert.Equal(t, step.fired, fired, "fired at %s", step.now)

		st, err := f.store.Get(ctx, "n-1")
		require.NoError(t, err)
		assert.Equal(t, step.level, st.CurrentLevel, "level at %s", step.now)
		assert.Equal(t, step.next, st.NextEscalationAt, "next at %s", step.now)
		assert.Equal(t, step.status, st.Status(), "status at %s", step.now)
		assert.Len(t, f.deliverer.Deliveries(), step.delivered)
	}

	st, err := f.store.Get(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, st.History, 3)
	for i, h := range st.History {
		assert.Equal(t, i+1, h.Level)
	}

	deliveries := f.deliverer.Deliveries()
	assert.Equal(t, []string{"m1"}, deliveries[0].Recipients)
	assert.Equal(t, []string{"email"}, deliveries[0].Channels)
	assert.Equal(t, 1, deliveries[0].Level)
	assert.Equal(t, []string{"r1", "r2"}, deliveries[1].Recipients)
	assert.Equal(t, []string{"ceo"}, deliveries[2].Recipients)
	assert.Equal(t, "safety_complaint", deliveries[2].TemplateCode)

	exhausted, err := f.service.ListExhausted(ctx, 0)
	require.NoError(t, err)
	require.Len(t, exhausted, 1)
	assert.Equal(t, "n-1", exhausted[0].NotificationID)
}

func TestLateTickMeasuresFromFireTime(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	path := threeLevelPath()
	_, err := f.scheduler.MaybeSchedule(ctx, f.route("n-1", path), path)
	require.NoError(t, err)

	f.clock.Set(at(5))
	fired, err := f.ticker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	st, err := f.store.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, at(13), *st.NextEscalationAt)
	assert.Equal(t, at(5), *st.LastEscalatedAt)
}

func TestTickFiresOneLevelPerScan(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	path := threeLevelPath()
	_, err := f.scheduler.MaybeSchedule(ctx, f.route("n-1", path), path)
	require.NoError(t, err)

	// far past every deadline: levels still fire one at a time
	f.clock.Set(at(48))
	fired, err := f.ticker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	st, err := f.store.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.CurrentLevel)
}

func TestResolveHaltsEscalation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	path := threeLevelPath()
	_, err := f.scheduler.MaybeSchedule(ctx, f.route("n-1", path), path)
	require.NoError(t, err)

	f.clock.Set(at(4))
	_, err = f.ticker.Tick(ctx)
	require.NoError(t, err)

	f.clock.Set(at(6))
	st, err := f.service.Resolve(ctx, "n-1", "warden-7")
	require.NoError(t, err)
	assert.Equal(t, StatusResolved, st.Status())
	assert.Equal(t, "warden-7", st.ResolvedBy)
	assert.Equal(t, at(6), *st.ResolvedAt)
	assert.Nil(t, st.NextEscalationAt)

	f.clock.Set(at(100))
	fired, err := f.ticker.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, fired)

	st, err = f.store.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.CurrentLevel)
	assert.Nil(t, st.NextEscalationAt)
	assert.Len(t, f.deliverer.Deliveries(), 1)

	exhausted, err := f.service.ListExhausted(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, exhausted)

	entries := f.journal.Entries()
	last := entries[len(entries)-1]
	assert.Equal(t, audit.ActionEscalationResolved, last.Action)
	assert.Equal(t, "warden-7", last.Actor)
	assert.True(t, audit.Verify(entries).Valid)
}

func TestResolveErrors(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	path := threeLevelPath()
	_, err := f.scheduler.MaybeSchedule(ctx, f.route("n-1", path), path)
	require.NoError(t, err)

	_, err = f.service.Resolve(ctx, "missing", "warden-7")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	_, err = f.service.Resolve(ctx, "n-1", "")
	assert.True(t, errors.Is(err, errors.ErrValidation))

	_, err = f.service.Resolve(ctx, "n-1", "warden-7")
	require.NoError(t, err)
	_, err = f.service.Resolve(ctx, "n-1", "warden-8")
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	path := threeLevelPath()
	st, err := f.scheduler.MaybeSchedule(ctx, f.route("n-1", path), path)
	require.NoError(t, err)

	next := at(16)
	transition := Transition{
		StateID:       st.ID,
		ExpectedLevel: 0,
		ExpectedNext:  *st.NextEscalationAt,
		NewLevel:      1,
		Next:          &next,
		At:            at(4),
	}

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := f.store.Claim(ctx, transition)
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)

	got, err := f.store.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Len(t, got.History, 1)
}

func TestConcurrentTickersFireLevelOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	path := threeLevelPath()
	for _, id := range []string{"n-1", "n-2", "n-3"} {
		_, err := f.scheduler.MaybeSchedule(ctx, f.route(id, path), path)
		require.NoError(t, err)
	}
	f.clock.Set(at(4))

	tickers := []*Ticker{f.ticker, f.newTicker(), f.newTicker(), f.newTicker()}
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		total int
	)
	for _, tk := range tickers {
		wg.Add(1)
		go func(tk *Ticker) {
			defer wg.Done()
			fired, err := tk.Tick(ctx)
			assert.NoError(t, err)
			mu.Lock()
			total += fired
			mu.Unlock()
		}(tk)
	}
	wg.Wait()

	assert.Equal(t, 3, total)
	assert.Len(t, f.deliverer.Deliveries(), 3)
}

func TestZeroLevelPathDisablesEscalation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	path := threeLevelPath()
	path.Levels = nil
	route := f.route("n-1", path)

	st, err := f.scheduler.MaybeSchedule(ctx, route, path)
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = f.store.Get(ctx, "n-1")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	stored, err := f.routes.GetRoute(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, stored.Notes, 1)
	assert.Equal(t, routing.NoteEscalationDisabled, stored.Notes[0].Kind)
	assert.False(t, stored.EffectiveEscalationEnabled())
	// the stored flag itself is never rewritten
	assert.True(t, stored.EscalationEnabled)
	assert.False(t, route.EffectiveEscalationEnabled())

	assert.Equal(t, []string{audit.ActionEscalationDisabled}, f.actions())
}

func TestScheduleSkipsDisabledRoutes(t *testing.T) {
	f := newFixture()
	path := threeLevelPath()
	route := f.route("n-1", path)
	route.EscalationEnabled = false

	st, err := f.scheduler.MaybeSchedule(context.Background(), route, path)
	require.NoError(t, err)
	assert.Nil(t, st)
	assert.Empty(t, f.actions())

	route.EscalationEnabled = true
	route.EscalationPathID = nil
	st, err = f.scheduler.MaybeSchedule(context.Background(), route, nil)
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestScheduleRejectsSecondActiveState(t *testing.T) {
	f := newFixture()
	path := threeLevelPath()
	route := f.route("n-1", path)

	_, err := f.scheduler.MaybeSchedule(context.Background(), route, path)
	require.NoError(t, err)
	_, err = f.scheduler.MaybeSchedule(context.Background(), route, path)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestLevelsArePinnedAtScheduling(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	path := threeLevelPath()
	_, err := f.scheduler.MaybeSchedule(ctx, f.route("n-1", path), path)
	require.NoError(t, err)

	path.Levels[0].Roles = []string{"regional"}
	path.Levels[1].EscalateAfterHours = 100

	f.clock.Set(at(4))
	_, err = f.ticker.Tick(ctx)
	require.NoError(t, err)

	st, err := f.store.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, at(12), *st.NextEscalationAt)
	assert.Equal(t, []string{"m1"}, f.deliverer.Deliveries()[0].Recipients)
}

func TestDeliveryFailureStillAdvances(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.deliverer.err = assert.AnError
	path := threeLevelPath()
	_, err := f.scheduler.MaybeSchedule(ctx, f.route("n-1", path), path)
	require.NoError(t, err)

	f.clock.Set(at(4))
	fired, err := f.ticker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)

	st, err := f.store.Get(ctx, "n-1")
	require.NoError(t, err)
	assert.Equal(t, 1, st.CurrentLevel)

	stored, err := f.routes.GetRoute(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, stored.Notes, 1)
	assert.Equal(t, routing.NoteDeliveryFailed, stored.Notes[0].Kind)
	assert.True(t, stored.EffectiveEscalationEnabled())
}

func TestLevelWithoutRecipientsIsNoted(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	path := threeLevelPath()
	path.Levels[0].Roles = []string{"nobody"}
	_, err := f.scheduler.MaybeSchedule(ctx, f.route("n-1", path), path)
	require.NoError(t, err)

	f.clock.Set(at(4))
	fired, err := f.ticker.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, fired)
	assert.Empty(t, f.deliverer.Deliveries())

	stored, err := f.routes.GetRoute(ctx, "n-1")
	require.NoError(t, err)
	require.Len(t, stored.Notes, 1)
	assert.Equal(t, routing.NoteDeliveryFailed, stored.Notes[0].Kind)
}

func TestTickerRunStopsOnCancel(t *testing.T) {
	f := newFixture()
	f.ticker.config.Interval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ticker.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop")
	}
}

func TestStatusDerivation(t *testing.T) {
	next := at(4)
	tests := []struct {
		name  string
		state State
		want  Status
	}{
		{"pending", State{MaxLevel: 3, NextEscalationAt: &next}, StatusPending},
		{"escalated", State{CurrentLevel: 1, MaxLevel: 3, NextEscalationAt: &next}, StatusEscalated},
		{"exhausted", State{CurrentLevel: 3, MaxLevel: 3}, StatusExhausted},
		{"resolved wins", State{CurrentLevel: 3, MaxLevel: 3, Resolved: true}, StatusResolved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.state.Status())
		})
	}
}

func TestDelay(t *testing.T) {
	levels := threeLevelPath().Levels
	assert.Equal(t, 4*time.Hour, delay(levels, 1))
	assert.Equal(t, 8*time.Hour, delay(levels, 2))
	assert.Equal(t, 12*time.Hour, delay(levels, 3))
	assert.Zero(t, delay(levels, 4))
}

func ptr(t time.Time) *time.Time { return &t }
