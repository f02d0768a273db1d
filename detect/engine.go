package detect

import (
	"sync"
	"sync/atomic"
	"time"

	"botguard/core"
	"botguard/metrics"

	"go.uber.org/zap"
)

// Decision is the result of evaluating one request context against the
// current rule set. When no rule matches, Action is the default allow and
// MatchedRule is nil.
type Decision struct {
	Action            core.Action      `json:"action"`
	MatchedRule       *core.Rule       `json:"matched_rule,omitempty"`
	MatchedConditions []core.Condition `json:"matched_conditions,omitempty"`
	Default           bool             `json:"default"`
}

// TestResult is the outcome of a dry-run evaluation of a single rule
type TestResult struct {
	Matched           bool             `json:"matched"`
	MatchedConditions []core.Condition `json:"matched_conditions"`
}

// HitStat is a point-in-time view of one rule's hit counter
type HitStat struct {
	Count   uint64
	LastHit *time.Time
}

// hitCounter is the per-rule concurrent hit state. Counters are shared
// across snapshot swaps so a rule edit never resets its statistics.
type hitCounter struct {
	count       atomic.Uint64
	lastHitNano atomic.Int64 // unix nanos, 0 = never hit
}

// compiledRule is an immutable rule prepared for evaluation
type compiledRule struct {
	rule     core.Rule
	matchers []conditionMatcher
	hits     *hitCounter
}

// ruleSet is one immutable evaluation snapshot: enabled rules only, ordered
// by priority descending then creation time descending.
type ruleSet struct {
	rules []*compiledRule
}

// Engine resolves one inbound request context to one action. Evaluation is
// pure computation over an atomically swapped snapshot, so concurrent
// reorders or toggles never expose a torn ordering mid-batch. Hit counters
// use atomic increments; evaluation itself takes no locks.
type Engine struct {
	snapshot atomic.Pointer[ruleSet]

	mu       sync.Mutex // serializes Reload
	counters map[string]*hitCounter

	logger *zap.SugaredLogger
}

// NewEngine creates an engine evaluating the given rules
func NewEngine(rules []core.Rule, logger *zap.SugaredLogger) *Engine {
	if logger == nil {
		panic("logger is required")
	}
	e := &Engine{
		counters: make(map[string]*hitCounter),
		logger:   logger,
	}
	e.Reload(rules)
	return e
}

// Reload replaces the evaluation snapshot with a new rule set. The swap is
// atomic: concurrent evaluations finish against the old snapshot and new
// ones see the complete new set. Counters are carried over by rule ID and
// seeded from persisted metadata for rules the engine has not seen before.
func (e *Engine) Reload(rules []core.Rule) {
	e.mu.Lock()
	defer e.mu.Unlock()

	enabled := make([]core.Rule, 0, len(rules))
	for _, r := range rules {
		if r.Enabled {
			enabled = append(enabled, r)
		}
	}
	core.SortRules(enabled)

	seen := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		seen[r.ID] = struct{}{}
	}

	compiled := make([]*compiledRule, 0, len(enabled))
	for _, r := range enabled {
		hits, ok := e.counters[r.ID]
		if !ok {
			hits = &hitCounter{}
			hits.count.Store(r.Metadata.HitCount)
			if r.Metadata.LastHit != nil {
				hits.lastHitNano.Store(r.Metadata.LastHit.UnixNano())
			}
			e.counters[r.ID] = hits
		}
		matchers := make([]conditionMatcher, len(r.Conditions))
		for i, cond := range r.Conditions {
			matchers[i] = newConditionMatcher(cond)
		}
		compiled = append(compiled, &compiledRule{rule: r, matchers: matchers, hits: hits})
	}

	// Drop counters for deleted rules; disabled rules keep theirs
	for id := range e.counters {
		if _, ok := seen[id]; !ok {
			delete(e.counters, id)
		}
	}

	e.snapshot.Store(&ruleSet{rules: compiled})
	e.logger.Infow("Rule snapshot reloaded", "enabled_rules", len(compiled), "total_rules", len(rules))
}

// Evaluate resolves a request context to an action. Rules are tried in
// priority order and the first match wins: its hit counter is incremented
// atomically and its action returned. No match resolves to allow.
// The evaluation path never returns an error.
func (e *Engine) Evaluate(reqCtx core.RequestContext) Decision {
	start := time.Now()
	snap := e.snapshot.Load()

	for _, cr := range snap.rules {
		matched := e.matchConditions(cr, reqCtx)
		if !ruleMatches(cr.rule.ConditionLogic, len(matched), len(cr.matchers)) {
			continue
		}

		now := time.Now().UTC()
		cr.hits.count.Add(1)
		cr.hits.lastHitNano.Store(now.UnixNano())

		metrics.EvaluationsTotal.WithLabelValues(string(cr.rule.Action.Type)).Inc()
		metrics.EvaluationDuration.Observe(time.Since(start).Seconds())

		rule := cr.rule // copy so callers cannot mutate the snapshot
		return Decision{
			Action:            rule.Action,
			MatchedRule:       &rule,
			MatchedConditions: matched,
		}
	}

	metrics.EvaluationsTotal.WithLabelValues(string(core.ActionAllow)).Inc()
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	return Decision{
		Action:  core.Action{Type: core.ActionAllow},
		Default: true,
	}
}

// Test runs the condition logic of a single, possibly unpersisted rule
// against a context. It never mutates hit counters; it exists for rule
// authoring and validation.
func (e *Engine) Test(rule core.Rule, reqCtx core.RequestContext) TestResult {
	matchers := make([]conditionMatcher, len(rule.Conditions))
	for i, cond := range rule.Conditions {
		matchers[i] = newConditionMatcher(cond)
	}
	cr := &compiledRule{rule: rule, matchers: matchers}
	matched := e.matchConditions(cr, reqCtx)
	return TestResult{
		Matched:           ruleMatches(rule.ConditionLogic, len(matched), len(matchers)),
		MatchedConditions: matched,
	}
}

// matchConditions returns the subset of the rule's conditions satisfied by
// the context.
func (e *Engine) matchConditions(cr *compiledRule, reqCtx core.RequestContext) []core.Condition {
	matched := make([]core.Condition, 0, len(cr.matchers))
	for _, m := range cr.matchers {
		value, present := reqCtx.Lookup(m.cond.Field)
		if m.Match(value, present) {
			matched = append(matched, m.cond)
		}
	}
	return matched
}

// ruleMatches applies the rule's condition logic: AND requires every
// condition, OR requires at least one.
func ruleMatches(logic core.ConditionLogic, matched, total int) bool {
	if total == 0 {
		return false
	}
	if logic == core.LogicOR {
		return matched > 0
	}
	return matched == total
}

// HitStats returns a snapshot of all hit counters keyed by rule ID, for
// periodic persistence.
func (e *Engine) HitStats() map[string]HitStat {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make(map[string]HitStat, len(e.counters))
	for id, c := range e.counters {
		stat := HitStat{Count: c.count.Load()}
		if nanos := c.lastHitNano.Load(); nanos > 0 {
			t := time.Unix(0, nanos).UTC()
			stat.LastHit = &t
		}
		out[id] = stat
	}
	return out
}
