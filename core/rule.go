package core

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ActionType is the decision the engine returns for a matched rule.
type ActionType string

const (
	ActionAllow     ActionType = "allow"
	ActionBlock     ActionType = "block"
	ActionChallenge ActionType = "challenge"
	ActionRateLimit ActionType = "rate_limit"
	ActionMonitor   ActionType = "monitor"
	ActionFlag      ActionType = "flag"
)

// IsValid checks if the action type is valid
func (a ActionType) IsValid() bool {
	switch a {
	case ActionAllow, ActionBlock, ActionChallenge, ActionRateLimit, ActionMonitor, ActionFlag:
		return true
	}
	return false
}

// ChallengeType identifies the CAPTCHA provider used for challenge actions.
type ChallengeType string

const (
	ChallengeRecaptcha ChallengeType = "recaptcha"
	ChallengeHCaptcha  ChallengeType = "hcaptcha"
	ChallengeTurnstile ChallengeType = "turnstile"
)

// IsValid checks if the challenge type is valid
func (c ChallengeType) IsValid() bool {
	switch c {
	case ChallengeRecaptcha, ChallengeHCaptcha, ChallengeTurnstile:
		return true
	}
	return false
}

// RateLimit defines the budget for a rate_limit action.
type RateLimit struct {
	Requests      int `json:"requests" validate:"required,min=1"`
	WindowSeconds int `json:"window" validate:"required,min=1"`
}

// Action represents what the engine does when a rule matches.
type Action struct {
	Type          ActionType    `json:"type" example:"block"`
	ChallengeType ChallengeType `json:"challenge_type,omitempty" example:"turnstile"`
	RateLimit     *RateLimit    `json:"rate_limit,omitempty"`
	Message       string        `json:"message,omitempty" example:"Request blocked by bot mitigation"`
}

// Validate validates the action. Challenge actions need a challenge type,
// rate_limit actions need a positive budget.
func (a *Action) Validate() error {
	if !a.Type.IsValid() {
		return fmt.Errorf("invalid action type: %s", a.Type)
	}
	if a.Type == ActionChallenge {
		if a.ChallengeType == "" {
			return fmt.Errorf("challenge actions require a challenge_type")
		}
		if !a.ChallengeType.IsValid() {
			return fmt.Errorf("invalid challenge type: %s", a.ChallengeType)
		}
	}
	if a.Type == ActionRateLimit {
		if a.RateLimit == nil {
			return fmt.Errorf("rate_limit actions require a rate_limit block")
		}
		if a.RateLimit.Requests <= 0 {
			return fmt.Errorf("rate_limit requests must be positive, got %d", a.RateLimit.Requests)
		}
		if a.RateLimit.WindowSeconds <= 0 {
			return fmt.Errorf("rate_limit window must be positive, got %d", a.RateLimit.WindowSeconds)
		}
	}
	return nil
}

// ConditionLogic determines how a rule combines its condition results.
type ConditionLogic string

const (
	LogicAND ConditionLogic = "AND"
	LogicOR  ConditionLogic = "OR"
)

// IsValid checks if the condition logic is valid
func (l ConditionLogic) IsValid() bool {
	return l == LogicAND || l == LogicOR
}

// RuleMetadata carries audit fields and hit statistics for a rule.
// HitCount and LastHit are maintained by the engine; they only move forward.
type RuleMetadata struct {
	CreatedBy      string     `json:"created_by,omitempty" example:"admin"`
	LastModifiedBy string     `json:"last_modified_by,omitempty" example:"admin"`
	HitCount       uint64     `json:"hit_count" example:"42"`
	LastHit        *time.Time `json:"last_hit,omitempty" swaggertype:"string"`
}

// Rule represents a bot-mitigation rule mapping a set of conditions to one action.
// Only enabled rules participate in evaluation. Priority is not required to be
// unique; ties are broken by recency (most recently created wins).
type Rule struct {
	ID             string         `json:"id" example:"rule-8f14e45f"`
	Name           string         `json:"name" validate:"required,min=1,max=200" example:"Block scraper user agents"`
	Description    string         `json:"description,omitempty" validate:"max=2000"`
	Enabled        bool           `json:"enabled" example:"true"`
	Priority       int            `json:"priority" example:"100"`
	Conditions     []Condition    `json:"conditions" validate:"required,min=1"`
	ConditionLogic ConditionLogic `json:"condition_logic" example:"AND"`
	Action         Action         `json:"action"`
	Metadata       RuleMetadata   `json:"metadata"`
	CreatedAt      time.Time      `json:"created_at" swaggertype:"string"`
	UpdatedAt      time.Time      `json:"updated_at" swaggertype:"string"`
}

// Maximum field sizes for rule validation
const (
	MaxRuleNameLength        = 200
	MaxRuleDescriptionLength = 2000
	MaxConditionsPerRule     = 100
)

// Validate validates the rule structurally. Structural errors are rejected
// here, at the write boundary, so evaluation never has to deal with them.
func (r *Rule) Validate() error {
	if r == nil {
		return fmt.Errorf("cannot validate nil rule")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("rule name is required")
	}
	if len(r.Name) > MaxRuleNameLength {
		return fmt.Errorf("rule name too long (max %d characters)", MaxRuleNameLength)
	}
	if len(r.Description) > MaxRuleDescriptionLength {
		return fmt.Errorf("rule description too long (max %d characters)", MaxRuleDescriptionLength)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("rule must have at least one condition")
	}
	if len(r.Conditions) > MaxConditionsPerRule {
		return fmt.Errorf("too many conditions: %d (max %d)", len(r.Conditions), MaxConditionsPerRule)
	}
	if !r.ConditionLogic.IsValid() {
		return fmt.Errorf("invalid condition logic: %q (must be AND or OR)", r.ConditionLogic)
	}
	for i := range r.Conditions {
		if err := r.Conditions[i].Validate(); err != nil {
			return fmt.Errorf("condition %d: %w", i, err)
		}
	}
	if err := r.Action.Validate(); err != nil {
		return fmt.Errorf("action: %w", err)
	}
	return nil
}

// SortRules orders rules for evaluation: priority descending, then creation
// time descending so the most recently created rule wins priority ties.
// The slice is sorted in place.
func SortRules(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].CreatedAt.After(rules[j].CreatedAt)
	})
}
