package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func complaintEvent() Event {
	return Event{
		ID:         "n-1",
		Type:       "complaint",
		Category:   "safety",
		Priority:   PriorityHigh,
		HostelID:   "H1",
		OccurredAt: baseTime.Add(10 * time.Hour),
	}
}

func TestEvaluateSafetyScenario(t *testing.T) {
	safety := newRule(10, CategoryCondition{Categories: []string{"safety"}})
	safety.Channels = []Channel{ChannelSMS, ChannelPush}
	catchAll := newRule(1)
	catchAll.Channels = []Channel{ChannelEmail}

	ev := NewEvaluator(time.UTC)
	match, ok := ev.Evaluate(complaintEvent(), []Rule{catchAll, safety})
	require.True(t, ok)
	assert.Equal(t, safety.ID, match.Rule.ID)
	assert.Equal(t, []Channel{ChannelSMS, ChannelPush}, match.Rule.Channels)
	assert.Empty(t, match.Secondary)
}

func TestEvaluatePriorityOrdering(t *testing.T) {
	a := newRule(5)
	b := newRule(10)

	ev := NewEvaluator(nil)
	match, ok := ev.Evaluate(complaintEvent(), []Rule{a, b})
	require.True(t, ok)
	assert.Equal(t, b.ID, match.Rule.ID)
}

func TestEvaluateTiesKeepDeclarationOrder(t *testing.T) {
	first := newRule(5)
	second := newRule(5)

	match, ok := NewEvaluator(nil).Evaluate(complaintEvent(), []Rule{first, second})
	require.True(t, ok)
	assert.Equal(t, first.ID, match.Rule.ID)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	rules := []Rule{
		newRule(3, PriorityCondition{Priority: PriorityNormal, Minimum: true}),
		newRule(3, CategoryCondition{Categories: []string{"safety"}}),
		newRule(7, EventTypeCondition{Types: []string{"payment"}}),
		newRule(1),
	}
	ev := NewEvaluator(nil)
	first, _ := ev.Evaluate(complaintEvent(), rules)
	for i := 0; i < 50; i++ {
		again, ok := ev.Evaluate(complaintEvent(), rules)
		require.True(t, ok)
		assert.Equal(t, first.Rule.ID, again.Rule.ID)
	}
}

func TestEvaluateConditionsAreConjunctive(t *testing.T) {
	rule := newRule(10,
		CategoryCondition{Categories: []string{"safety"}},
		PriorityCondition{Priority: PriorityCritical},
	)
	_, ok := NewEvaluator(nil).Evaluate(complaintEvent(), []Rule{rule})
	assert.False(t, ok)
}

func TestEvaluateSkipsInactive(t *testing.T) {
	inactive := newRule(10)
	inactive.Active = false
	active := newRule(1)

	match, ok := NewEvaluator(nil).Evaluate(complaintEvent(), []Rule{inactive, active})
	require.True(t, ok)
	assert.Equal(t, active.ID, match.Rule.ID)
}

func TestEvaluateRecordsSecondaryMatches(t *testing.T) {
	top := newRule(10)
	top.StopOnMatch = false
	middle := newRule(5, EventTypeCondition{Types: []string{"payment"}})
	bottom := newRule(1)

	match, ok := NewEvaluator(nil).Evaluate(complaintEvent(), []Rule{bottom, middle, top})
	require.True(t, ok)
	assert.Equal(t, top.ID, match.Rule.ID)
	require.Len(t, match.Secondary, 1)
	assert.Equal(t, bottom.ID, match.Secondary[0])
}

func TestEvaluateNoMatch(t *testing.T) {
	rule := newRule(10, EventTypeCondition{Types: []string{"payment"}})
	match, ok := NewEvaluator(nil).Evaluate(complaintEvent(), []Rule{rule})
	assert.False(t, ok)
	assert.Nil(t, match.Rule)
}

func TestEvaluateUsesRuleTimezone(t *testing.T) {
	night, err := NewTimeWindow("22:00", "06:00")
	require.NoError(t, err)
	rule := newRule(10, night)
	rule.Timezone = "Asia/Tokyo"

	// 14:00 UTC is 23:00 in Tokyo
	event := complaintEvent()
	event.OccurredAt = time.Date(2024, 1, 1, 14, 0, 0, 0, time.UTC)

	_, ok := NewEvaluator(time.UTC).Evaluate(event, []Rule{rule})
	assert.True(t, ok)

	rule.Timezone = ""
	_, ok = NewEvaluator(time.UTC).Evaluate(event, []Rule{rule})
	assert.False(t, ok)
}
