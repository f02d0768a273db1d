package service

import (
	"testing"
	"time"

	"botguard/core"
	"botguard/detect"
	"botguard/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRuleService(t *testing.T) (*RuleService, *storage.MockRuleStorage, *detect.Engine) {
	t.Helper()
	store := storage.NewMockRuleStorage()
	engine := detect.NewEngine(nil, zap.NewNop().Sugar())
	svc := NewRuleService(store, engine, zap.NewNop().Sugar())
	return svc, store, engine
}

func draftRule(name string) *core.Rule {
	return &core.Rule{
		Name:           name,
		Enabled:        true,
		Priority:       100,
		ConditionLogic: core.LogicAND,
		Conditions: []core.Condition{
			{Field: "userAgent", Operator: core.OpContains, Value: "bot"},
		},
		Action: core.Action{Type: core.ActionBlock},
	}
}

func TestRuleService_CreateAssignsIDAndReloadsEngine(t *testing.T) {
	svc, _, engine := newRuleService(t)

	created, err := svc.CreateRule(draftRule("Block bots"), "admin")
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "admin", created.Metadata.CreatedBy)
	assert.False(t, created.CreatedAt.IsZero())

	// The new rule is live immediately
	decision := engine.Evaluate(core.RequestContext{"userAgent": "scraperbot"})
	require.NotNil(t, decision.MatchedRule)
	assert.Equal(t, created.ID, decision.MatchedRule.ID)
}

func TestRuleService_CreateDefaultsConditionLogic(t *testing.T) {
	svc, _, _ := newRuleService(t)

	rule := draftRule("defaults")
	rule.ConditionLogic = ""
	created, err := svc.CreateRule(rule, "admin")
	require.NoError(t, err)
	assert.Equal(t, core.LogicAND, created.ConditionLogic)
}

func TestRuleService_CreateRejectsInvalid(t *testing.T) {
	svc, _, _ := newRuleService(t)

	rule := draftRule("bad")
	rule.Conditions = nil
	_, err := svc.CreateRule(rule, "admin")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateRule(nil, "admin")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRuleService_UpdatePreservesAuditFields(t *testing.T) {
	svc, _, _ := newRuleService(t)
	created, err := svc.CreateRule(draftRule("original"), "admin")
	require.NoError(t, err)

	edit := draftRule("edited")
	updated, err := svc.UpdateRule(created.ID, edit, "editor")
	require.NoError(t, err)

	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "edited", updated.Name)
	assert.Equal(t, "admin", updated.Metadata.CreatedBy)
	assert.Equal(t, "editor", updated.Metadata.LastModifiedBy)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)
}

func TestRuleService_UpdateMissingRule(t *testing.T) {
	svc, _, _ := newRuleService(t)
	_, err := svc.UpdateRule("ghost", draftRule("x"), "editor")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRuleService_ToggleFlipsAndReloads(t *testing.T) {
	svc, _, engine := newRuleService(t)
	created, err := svc.CreateRule(draftRule("toggle me"), "admin")
	require.NoError(t, err)

	enabled, err := svc.ToggleRule(created.ID)
	require.NoError(t, err)
	assert.False(t, enabled)

	decision := engine.Evaluate(core.RequestContext{"userAgent": "scraperbot"})
	assert.True(t, decision.Default, "disabled rule must not match")

	enabled, err = svc.ToggleRule(created.ID)
	require.NoError(t, err)
	assert.True(t, enabled)
}

func TestRuleService_DeleteRemovesFromEngine(t *testing.T) {
	svc, _, engine := newRuleService(t)
	created, err := svc.CreateRule(draftRule("short lived"), "admin")
	require.NoError(t, err)

	require.NoError(t, svc.DeleteRule(created.ID))
	assert.True(t, engine.Evaluate(core.RequestContext{"userAgent": "scraperbot"}).Default)
	assert.ErrorIs(t, svc.DeleteRule(created.ID), storage.ErrNotFound)
}

func TestRuleService_TestRuleDryRun(t *testing.T) {
	svc, _, engine := newRuleService(t)
	created, err := svc.CreateRule(draftRule("live rule"), "admin")
	require.NoError(t, err)

	result, err := svc.TestRule(draftRule("draft"), core.RequestContext{"userAgent": "scraperbot"})
	require.NoError(t, err)
	assert.True(t, result.Matched)

	stats := engine.HitStats()
	assert.Equal(t, uint64(0), stats[created.ID].Count, "dry run must not touch counters")
}

func TestRuleService_ReorderValidation(t *testing.T) {
	svc, _, _ := newRuleService(t)

	assert.ErrorIs(t, svc.ReorderRules(nil), ErrValidation)
	assert.ErrorIs(t, svc.ReorderRules([]storage.RulePriority{{ID: " "}}), ErrValidation)
	assert.ErrorIs(t, svc.ReorderRules([]storage.RulePriority{
		{ID: "a", Priority: 1},
		{ID: "a", Priority: 2},
	}), ErrValidation)
}

func TestRuleService_ReorderSwapsEvaluationOrder(t *testing.T) {
	svc, _, engine := newRuleService(t)

	first, err := svc.CreateRule(draftRule("first"), "admin")
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	second, err := svc.CreateRule(draftRule("second"), "admin")
	require.NoError(t, err)

	// Both have priority 100; the newer one wins the tie
	decision := engine.Evaluate(core.RequestContext{"userAgent": "scraperbot"})
	require.NotNil(t, decision.MatchedRule)
	assert.Equal(t, second.ID, decision.MatchedRule.ID)

	require.NoError(t, svc.ReorderRules([]storage.RulePriority{
		{ID: first.ID, Priority: 200},
		{ID: second.ID, Priority: 100},
	}))

	decision = engine.Evaluate(core.RequestContext{"userAgent": "scraperbot"})
	require.NotNil(t, decision.MatchedRule)
	assert.Equal(t, first.ID, decision.MatchedRule.ID)
}

func TestRuleService_ReorderMissingRuleRejectsBatch(t *testing.T) {
	svc, _, _ := newRuleService(t)
	created, err := svc.CreateRule(draftRule("keeper"), "admin")
	require.NoError(t, err)

	err = svc.ReorderRules([]storage.RulePriority{
		{ID: created.ID, Priority: 5},
		{ID: "ghost", Priority: 6},
	})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := svc.GetRule(created.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Priority, "failed batch must not partially apply")
}

func TestRuleService_FlushHitStatsPersistsCounters(t *testing.T) {
	svc, store, engine := newRuleService(t)
	created, err := svc.CreateRule(draftRule("counted"), "admin")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		engine.Evaluate(core.RequestContext{"userAgent": "scraperbot"})
	}
	require.NoError(t, svc.FlushHitStats())

	persisted, err := store.GetRule(created.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), persisted.Metadata.HitCount)
	assert.NotNil(t, persisted.Metadata.LastHit)
}

func TestRuleService_ListRulesPagination(t *testing.T) {
	svc, _, _ := newRuleService(t)
	for i := 0; i < 3; i++ {
		_, err := svc.CreateRule(draftRule("rule"), "admin")
		require.NoError(t, err)
	}

	rules, total, err := svc.ListRules(2, 0)
	require.NoError(t, err)
	assert.Len(t, rules, 2)
	assert.Equal(t, int64(3), total)

	rules, _, err = svc.ListRules(2, 2)
	require.NoError(t, err)
	assert.Len(t, rules, 1)
}
