package core

import (
	"fmt"
	"strings"

	"botguard/util"
)

// Operator is the comparison applied by a single condition.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpContains    Operator = "contains"
	OpStartsWith  Operator = "startsWith"
	OpEndsWith    Operator = "endsWith"
	OpMatches     Operator = "matches"
	OpIn          Operator = "in"
	OpGreaterThan Operator = "greaterThan"
	OpLessThan    Operator = "lessThan"
)

// IsValid checks if the operator is valid
func (o Operator) IsValid() bool {
	switch o {
	case OpEquals, OpContains, OpStartsWith, OpEndsWith, OpMatches, OpIn, OpGreaterThan, OpLessThan:
		return true
	}
	return false
}

// Condition is a single predicate over one request attribute. Field is a
// dotted path into the request context (e.g. "headers.x-forwarded-for").
// Comparisons are case-insensitive unless CaseSensitive is set; the numeric
// operators ignore the case flag.
type Condition struct {
	Field         string      `json:"field" validate:"required" example:"userAgent"`
	Operator      Operator    `json:"operator" validate:"required" example:"contains"`
	Value         interface{} `json:"value"`
	CaseSensitive bool        `json:"case_sensitive,omitempty"`
}

// Validate validates the condition structurally. A condition that passes here
// can still evaluate to false at runtime (absent field, non-numeric input) but
// never errors.
func (c *Condition) Validate() error {
	if strings.TrimSpace(c.Field) == "" {
		return fmt.Errorf("condition field is required")
	}
	if !c.Operator.IsValid() {
		return fmt.Errorf("unknown operator: %q", c.Operator)
	}
	if c.Value == nil {
		return fmt.Errorf("condition value is required")
	}

	switch c.Operator {
	case OpIn:
		if _, ok := c.Value.([]interface{}); !ok {
			if _, ok := c.Value.([]string); !ok {
				return fmt.Errorf("operator %q requires an array value", OpIn)
			}
		}
	case OpMatches:
		pattern, ok := c.Value.(string)
		if !ok {
			return fmt.Errorf("operator %q requires a string pattern", OpMatches)
		}
		if err := util.ValidateRegexPattern(pattern); err != nil {
			return fmt.Errorf("invalid regex pattern: %w", err)
		}
	}
	return nil
}

// Values returns the condition value as a slice for the in operator.
// The second return is false if the value is not an array.
func (c *Condition) Values() ([]interface{}, bool) {
	switch v := c.Value.(type) {
	case []interface{}:
		return v, true
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}
