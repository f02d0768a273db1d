package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRule() *Rule {
	return &Rule{
		ID:             "rule-1",
		Name:           "Block scrapers",
		Enabled:        true,
		Priority:       100,
		ConditionLogic: LogicAND,
		Conditions: []Condition{
			{Field: "userAgent", Operator: OpContains, Value: "bot"},
		},
		Action: Action{Type: ActionBlock},
	}
}

func TestRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Rule)
		wantErr string
	}{
		{"valid rule", func(r *Rule) {}, ""},
		{"missing name", func(r *Rule) { r.Name = "  " }, "name is required"},
		{"name too long", func(r *Rule) { r.Name = strings.Repeat("x", 201) }, "name too long"},
		{"description too long", func(r *Rule) { r.Description = strings.Repeat("x", 2001) }, "description too long"},
		{"no conditions", func(r *Rule) { r.Conditions = nil }, "at least one condition"},
		{"bad logic", func(r *Rule) { r.ConditionLogic = "XOR" }, "invalid condition logic"},
		{"bad condition", func(r *Rule) { r.Conditions[0].Field = "" }, "condition 0"},
		{"bad action", func(r *Rule) { r.Action.Type = "teleport" }, "invalid action type"},
		{
			"challenge without challenge type",
			func(r *Rule) { r.Action = Action{Type: ActionChallenge} },
			"require a challenge_type",
		},
		{
			"rate limit without budget",
			func(r *Rule) { r.Action = Action{Type: ActionRateLimit} },
			"require a rate_limit block",
		},
		{
			"rate limit with zero window",
			func(r *Rule) {
				r.Action = Action{Type: ActionRateLimit, RateLimit: &RateLimit{Requests: 10, WindowSeconds: 0}}
			},
			"window must be positive",
		},
		{
			"too many conditions",
			func(r *Rule) {
				r.Conditions = make([]Condition, MaxConditionsPerRule+1)
				for i := range r.Conditions {
					r.Conditions[i] = Condition{Field: "f", Operator: OpEquals, Value: "v"}
				}
			},
			"too many conditions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(rule)
			err := rule.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestAction_ValidateChallengeTypes(t *testing.T) {
	for _, ct := range []ChallengeType{ChallengeRecaptcha, ChallengeHCaptcha, ChallengeTurnstile} {
		action := Action{Type: ActionChallenge, ChallengeType: ct}
		assert.NoError(t, action.Validate())
	}
	action := Action{Type: ActionChallenge, ChallengeType: "quiz"}
	assert.Error(t, action.Validate())
}

func TestSortRules_PriorityDescendingThenRecency(t *testing.T) {
	now := time.Now().UTC()
	rules := []Rule{
		{ID: "a", Priority: 10, CreatedAt: now.Add(-3 * time.Hour)},
		{ID: "b", Priority: 100, CreatedAt: now.Add(-2 * time.Hour)},
		{ID: "c", Priority: 100, CreatedAt: now.Add(-1 * time.Hour)},
		{ID: "d", Priority: 50, CreatedAt: now},
	}

	SortRules(rules)

	got := make([]string, len(rules))
	for i, r := range rules {
		got[i] = r.ID
	}
	// Equal priorities: most recently created first
	assert.Equal(t, []string{"c", "b", "d", "a"}, got)
}

func TestCondition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		wantErr bool
	}{
		{"valid equals", Condition{Field: "f", Operator: OpEquals, Value: "v"}, false},
		{"missing field", Condition{Operator: OpEquals, Value: "v"}, true},
		{"unknown operator", Condition{Field: "f", Operator: "similarTo", Value: "v"}, true},
		{"nil value", Condition{Field: "f", Operator: OpEquals}, true},
		{"in with array", Condition{Field: "f", Operator: OpIn, Value: []interface{}{"a"}}, false},
		{"in with string slice", Condition{Field: "f", Operator: OpIn, Value: []string{"a"}}, false},
		{"in with scalar", Condition{Field: "f", Operator: OpIn, Value: "a"}, true},
		{"matches with valid pattern", Condition{Field: "f", Operator: OpMatches, Value: "^bot"}, false},
		{"matches with invalid pattern", Condition{Field: "f", Operator: OpMatches, Value: "([bad"}, true},
		{"matches with non-string", Condition{Field: "f", Operator: OpMatches, Value: 12}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
