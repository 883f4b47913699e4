package routing

import (
	"sort"
	"time"

	"github.com/hostelhub/notifyrouter/internal/shared/types"
)

// MatchResult is the outcome of evaluating an event against a rule set
type MatchResult struct {
	Rule *Rule
	// Secondary lists lower-priority rules that also matched when the winning
	// rule does not stop on match. They are audit information only.
	Secondary []types.ID
}

// Evaluator selects the winning rule for an event
type Evaluator struct {
	defaultLoc *time.Location
}

// NewEvaluator creates an evaluator. loc applies to time-of-day conditions
// on rules that do not carry their own timezone.
func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{defaultLoc: loc}
}

// Evaluate walks rules in descending rule priority (declaration order breaks
// ties) and returns the first rule whose conditions all match. The second
// return value is false when nothing matched.
func (ev *Evaluator) Evaluate(event Event, rules []Rule) (MatchResult, bool) {
	ordered := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Active {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	var result MatchResult
	for i := range ordered {
		rule := ordered[i]
		if !ev.matchesAll(rule, event) {
			continue
		}
		if result.Rule == nil {
			result.Rule = &rule
			if rule.StopOnMatch {
				return result, true
			}
			continue
		}
		result.Secondary = append(result.Secondary, rule.ID)
	}
	return result, result.Rule != nil
}

func (ev *Evaluator) matchesAll(rule Rule, event Event) bool {
	loc := ev.location(rule)
	for _, c := range rule.Conditions {
		if !Matches(c, event, loc) {
			return false
		}
	}
	return true
}

func (ev *Evaluator) location(rule Rule) *time.Location {
	if rule.Timezone == "" {
		return ev.defaultLoc
	}
	loc, err := time.LoadLocation(rule.Timezone)
	if err != nil {
		// validated at snapshot load
		return ev.defaultLoc
	}
	return loc
}
