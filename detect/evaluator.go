package detect

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"botguard/core"
	"botguard/util"
)

// conditionMatcher is a condition with its regex precompiled. Matchers are
// built once per rule snapshot so evaluation never compiles patterns on the
// request path.
type conditionMatcher struct {
	cond core.Condition
	re   *regexp.Regexp // non-nil only for a matches operator with a valid pattern
}

// newConditionMatcher precompiles the condition. A malformed pattern leaves
// re nil, which degrades the condition to false at evaluation time instead
// of erroring.
func newConditionMatcher(cond core.Condition) conditionMatcher {
	m := conditionMatcher{cond: cond}
	if cond.Operator == core.OpMatches {
		if pattern, ok := cond.Value.(string); ok {
			if re, err := util.CompilePattern(pattern, cond.CaseSensitive); err == nil {
				m.re = re
			}
		}
	}
	return m
}

// Match evaluates the condition against an extracted value. An absent or nil
// value is false for every operator, including in: there is no negation
// operator, so an absent attribute can never satisfy a rule.
func (m conditionMatcher) Match(value interface{}, present bool) bool {
	if !present || value == nil {
		return false
	}

	cond := m.cond
	switch cond.Operator {
	case core.OpEquals:
		return foldCompare(value, cond.Value, cond.CaseSensitive, func(a, b string) bool { return a == b })
	case core.OpContains:
		return foldCompare(value, cond.Value, cond.CaseSensitive, strings.Contains)
	case core.OpStartsWith:
		return foldCompare(value, cond.Value, cond.CaseSensitive, strings.HasPrefix)
	case core.OpEndsWith:
		return foldCompare(value, cond.Value, cond.CaseSensitive, strings.HasSuffix)
	case core.OpMatches:
		if m.re == nil {
			return false
		}
		return m.re.MatchString(stringify(value))
	case core.OpIn:
		candidates, ok := cond.Values()
		if !ok {
			return false
		}
		for _, candidate := range candidates {
			if foldCompare(value, candidate, cond.CaseSensitive, func(a, b string) bool { return a == b }) {
				return true
			}
		}
		return false
	case core.OpGreaterThan:
		return compareNumbers(value, cond.Value, func(a, b float64) bool { return a > b })
	case core.OpLessThan:
		return compareNumbers(value, cond.Value, func(a, b float64) bool { return a < b })
	}
	// Unrecognized operators are false, never an error
	return false
}

// EvaluateCondition evaluates one condition against one extracted value.
// This is the dry-run entry used by rule testing; the engine itself works on
// precompiled matchers.
func EvaluateCondition(value interface{}, cond core.Condition) bool {
	return newConditionMatcher(cond).Match(value, value != nil)
}

// stringify renders a value the way it is compared: scalars as their natural
// string form, anything else through fmt.
func stringify(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprintf("%v", v)
}

// foldCompare compares the string forms of both sides, lower-casing them
// unless the condition is case-sensitive.
func foldCompare(value, condValue interface{}, caseSensitive bool, cmp func(a, b string) bool) bool {
	a := stringify(value)
	b := stringify(condValue)
	if !caseSensitive {
		a = strings.ToLower(a)
		b = strings.ToLower(b)
	}
	return cmp(a, b)
}

// compareNumbers coerces both sides to numbers; anything unparseable or NaN
// makes the comparison false.
func compareNumbers(a, b interface{}, cmp func(a, b float64) bool) bool {
	fa, ok := toNumber(a)
	if !ok {
		return false
	}
	fb, ok := toNumber(b)
	if !ok {
		return false
	}
	return cmp(fa, fb)
}

// toNumber coerces a scalar to float64
func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil || math.IsNaN(parsed) {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}
