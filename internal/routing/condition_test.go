package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatches(t *testing.T) {
	event := Event{
		ID:         "n-1",
		Type:       "complaint",
		Category:   "safety",
		Priority:   PriorityHigh,
		HostelID:   "h1",
		RoomID:     "r101",
		OccurredAt: time.Date(2024, 1, 1, 23, 30, 0, 0, time.UTC),
		Attributes: map[string]string{"floor": "2"},
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"event type hit", EventTypeCondition{Types: []string{"maintenance", "complaint"}}, true},
		{"event type miss", EventTypeCondition{Types: []string{"payment"}}, false},
		{"category hit", CategoryCondition{Categories: []string{"safety"}}, true},
		{"category miss", CategoryCondition{Categories: []string{"noise"}}, false},
		{"exact priority", PriorityCondition{Priority: PriorityHigh}, true},
		{"exact priority miss", PriorityCondition{Priority: PriorityUrgent}, false},
		{"minimum priority below", PriorityCondition{Priority: PriorityNormal, Minimum: true}, true},
		{"minimum priority above", PriorityCondition{Priority: PriorityCritical, Minimum: true}, false},
		{"scope hostel", ScopeCondition{HostelIDs: []string{"h1"}}, true},
		{"scope hostel and room", ScopeCondition{HostelIDs: []string{"h1"}, RoomIDs: []string{"r102"}}, false},
		{"scope room only", ScopeCondition{RoomIDs: []string{"r101"}}, true},
		{"window wraps midnight", TimeWindowCondition{Start: 22 * 60, End: 6 * 60}, true},
		{"window daytime", TimeWindowCondition{Start: 9 * 60, End: 17 * 60}, false},
		{"window whole day", TimeWindowCondition{Start: 0, End: 0}, true},
		{"attribute equals", AttributeEqualsCondition{Key: "floor", Value: "2"}, true},
		{"attribute differs", AttributeEqualsCondition{Key: "floor", Value: "3"}, false},
		{"attribute missing", AttributeEqualsCondition{Key: "wing", Value: ""}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.cond, event, time.UTC))
		})
	}
}

func TestTimeWindowUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Belgrade")
	require.NoError(t, err)

	quiet, err := NewTimeWindow("22:00", "06:00")
	require.NoError(t, err)

	// 21:30 UTC is 22:30 in Belgrade during winter
	event := Event{OccurredAt: time.Date(2024, 1, 15, 21, 30, 0, 0, time.UTC)}
	assert.False(t, Matches(quiet, event, time.UTC))
	assert.True(t, Matches(quiet, event, loc))
}

func TestTimeWindowBoundaries(t *testing.T) {
	w := TimeWindowCondition{Start: 22 * 60, End: 6 * 60}
	assert.True(t, w.Contains(22*60))
	assert.True(t, w.Contains(0))
	assert.True(t, w.Contains(6*60-1))
	assert.False(t, w.Contains(6*60))
	assert.False(t, w.Contains(12*60))
}

func TestNewTimeWindowRejectsBadClock(t *testing.T) {
	_, err := NewTimeWindow("25:00", "06:00")
	assert.Error(t, err)
	_, err = NewTimeWindow("22:00", "6pm")
	assert.Error(t, err)
}

func TestConditionCodec(t *testing.T) {
	window, err := NewTimeWindow("22:00", "06:30")
	require.NoError(t, err)

	conds := []Condition{
		EventTypeCondition{Types: []string{"complaint"}},
		CategoryCondition{Categories: []string{"safety"}},
		PriorityCondition{Priority: PriorityUrgent, Minimum: true},
		ScopeCondition{HostelIDs: []string{"h1"}, RoomIDs: []string{"r1"}},
		window,
		AttributeEqualsCondition{Key: "floor", Value: "2"},
	}

	data, err := MarshalConditions(conds)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"start":"22:00"`)

	decoded, err := UnmarshalConditions(data)
	require.NoError(t, err)
	assert.Equal(t, conds, decoded)
}

func TestUnmarshalConditionsRejectsUnknownKind(t *testing.T) {
	_, err := UnmarshalConditions([]byte(`[{"kind":"moon_phase"}]`))
	assert.Error(t, err)

	conds, err := UnmarshalConditions(nil)
	require.NoError(t, err)
	assert.Empty(t, conds)
}

func TestMarshalConditionsRejectsNil(t *testing.T) {
	conds := []Condition{CategoryCondition{Categories: []string{"safety"}}, nil}

	var err error
	require.NotPanics(t, func() { _, err = MarshalConditions(conds) })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "condition 1 is nil")
}

func TestRuleValidate(t *testing.T) {
	valid := newRule(1, CategoryCondition{Categories: []string{"safety"}})
	require.NoError(t, valid.Validate())

	noRecipients := valid
	noRecipients.Recipients = RecipientSpec{}
	assert.Error(t, noRecipients.Validate())

	badChannel := valid
	badChannel.Channels = []Channel{"pigeon"}
	assert.Error(t, badChannel.Validate())

	noChannels := valid
	noChannels.Channels = nil
	assert.Error(t, noChannels.Validate())

	badCond := valid
	badCond.Conditions = []Condition{PriorityCondition{Priority: "extreme"}}
	assert.Error(t, badCond.Validate())

	badZone := valid
	badZone.Timezone = "Mars/Olympus"
	assert.Error(t, badZone.Validate())
}

func TestEscalationPathValidate(t *testing.T) {
	tests := []struct {
		name    string
		levels  []EscalationLevel
		wantErr bool
	}{
		{"no levels", nil, false},
		{"increasing", []EscalationLevel{{Level: 1, EscalateAfterHours: 4}, {Level: 2, EscalateAfterHours: 12}}, false},
		{"gap", []EscalationLevel{{Level: 1, EscalateAfterHours: 4}, {Level: 3, EscalateAfterHours: 12}}, true},
		{"not increasing", []EscalationLevel{{Level: 1, EscalateAfterHours: 4}, {Level: 2, EscalateAfterHours: 4}}, true},
		{"zero delay", []EscalationLevel{{Level: 1, EscalateAfterHours: 0}}, true},
		{"bad channel", []EscalationLevel{{Level: 1, EscalateAfterHours: 1, Channels: []Channel{"fax"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := EscalationPath{EventType: "complaint", Levels: tt.levels}.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
