package routing

import (
	"context"
	"fmt"
	"time"

	"github.com/hostelhub/notifyrouter/internal/shared/types"
)

var baseTime = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) types.Clock {
	return func() time.Time { return t }
}

// fakeDirectory resolves roles and groups from maps; hostel-specific role
// entries are keyed "hostel/role".
type fakeDirectory struct {
	roles  map[string][]string
	groups map[string][]string
	err    error
}

func (d *fakeDirectory) ResolveRole(ctx context.Context, hostelID, role string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	if users, ok := d.roles[hostelID+"/"+role]; ok {
		return users, nil
	}
	return d.roles[role], nil
}

func (d *fakeDirectory) ResolveGroup(ctx context.Context, hostelID, group string) ([]string, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.groups[group], nil
}

func newRule(priority int, conds ...Condition) Rule {
	return Rule{
		ID:          types.NewID(),
		Name:        fmt.Sprintf("rule-p%d", priority),
		Priority:    priority,
		Conditions:  conds,
		Recipients:  RecipientSpec{Roles: []string{"warden"}},
		Channels:    []Channel{ChannelEmail},
		StopOnMatch: true,
		Active:      true,
	}
}

func globalDefault() DefaultPolicy {
	return DefaultPolicy{
		Recipients:        RecipientSpec{Roles: []string{"warden"}},
		Channels:          []Channel{ChannelInApp},
		TemplateCode:      "generic",
		EscalationEnabled: true,
	}
}

func mustSnapshot(rules []Rule, paths []EscalationPath, defaults ...DefaultPolicy) *Snapshot {
	if len(defaults) == 0 {
		defaults = []DefaultPolicy{globalDefault()}
	}
	snap, err := NewSnapshot(1, baseTime, rules, paths, defaults)
	if err != nil {
		panic(err)
	}
	return snap
}
