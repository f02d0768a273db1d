package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"botguard/core"
	"botguard/detect"
	"botguard/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrValidation marks errors caused by a malformed admin payload. Handlers
// map it to a 400; everything else that is not a missing record is a 500.
var ErrValidation = errors.New("validation failed")

// Pagination limits for rule listings
const (
	defaultRulePageSize = 50
	maxRulePageSize     = 1000
)

// RuleService provides the rule administration surface: CRUD, toggle,
// dry-run testing and bulk reorder. Every mutation rebuilds the engine
// snapshot so evaluation always sees a consistent rule set.
type RuleService struct {
	ruleStorage storage.RuleStorageInterface
	engine      *detect.Engine
	logger      *zap.SugaredLogger
}

// NewRuleService creates a new RuleService. All dependencies are required.
func NewRuleService(ruleStorage storage.RuleStorageInterface, engine *detect.Engine, logger *zap.SugaredLogger) *RuleService {
	if ruleStorage == nil {
		panic("ruleStorage is required")
	}
	if engine == nil {
		panic("engine is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &RuleService{ruleStorage: ruleStorage, engine: engine, logger: logger}
}

// ListRules returns rules with pagination
func (s *RuleService) ListRules(limit, offset int) ([]core.Rule, int64, error) {
	if limit <= 0 {
		limit = defaultRulePageSize
	}
	if limit > maxRulePageSize {
		limit = maxRulePageSize
	}
	if offset < 0 {
		offset = 0
	}

	rules, err := s.ruleStorage.GetRules(limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list rules: %w", err)
	}
	total, err := s.ruleStorage.GetRuleCount()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count rules: %w", err)
	}
	return rules, total, nil
}

// GetRule returns one rule by ID
func (s *RuleService) GetRule(id string) (*core.Rule, error) {
	return s.ruleStorage.GetRule(id)
}

// CreateRule validates and persists a new rule, then reloads the engine
func (s *RuleService) CreateRule(rule *core.Rule, createdBy string) (*core.Rule, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: rule payload is required", ErrValidation)
	}
	if rule.ConditionLogic == "" {
		rule.ConditionLogic = core.LogicAND
	}
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := time.Now().UTC()
	if strings.TrimSpace(rule.ID) == "" {
		rule.ID = "rule-" + uuid.New().String()[:8]
	}
	rule.Metadata = core.RuleMetadata{CreatedBy: createdBy, LastModifiedBy: createdBy}
	rule.CreatedAt = now
	rule.UpdatedAt = now

	if err := s.ruleStorage.CreateRule(rule); err != nil {
		return nil, fmt.Errorf("failed to create rule: %w", err)
	}

	s.logger.Infow("Rule created", "rule_id", rule.ID, "name", rule.Name, "created_by", createdBy)
	if err := s.reloadEngine(); err != nil {
		return nil, err
	}
	return rule, nil
}

// UpdateRule validates and persists changes to an existing rule, then
// reloads the engine. Hit statistics are preserved.
func (s *RuleService) UpdateRule(id string, rule *core.Rule, modifiedBy string) (*core.Rule, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: rule payload is required", ErrValidation)
	}
	existing, err := s.ruleStorage.GetRule(id)
	if err != nil {
		return nil, err
	}

	rule.ID = id
	if rule.ConditionLogic == "" {
		rule.ConditionLogic = core.LogicAND
	}
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	rule.Metadata = existing.Metadata
	rule.Metadata.LastModifiedBy = modifiedBy
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	if err := s.ruleStorage.UpdateRule(id, rule); err != nil {
		return nil, fmt.Errorf("failed to update rule %s: %w", id, err)
	}

	s.logger.Infow("Rule updated", "rule_id", id, "modified_by", modifiedBy)
	if err := s.reloadEngine(); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes a rule and reloads the engine
func (s *RuleService) DeleteRule(id string) error {
	if err := s.ruleStorage.DeleteRule(id); err != nil {
		return err
	}
	s.logger.Infow("Rule deleted", "rule_id", id)
	return s.reloadEngine()
}

// ToggleRule flips a rule's enabled flag and returns the new state
func (s *RuleService) ToggleRule(id string) (bool, error) {
	rule, err := s.ruleStorage.GetRule(id)
	if err != nil {
		return false, err
	}
	enabled := !rule.Enabled
	if err := s.ruleStorage.SetRuleEnabled(id, enabled); err != nil {
		return false, fmt.Errorf("failed to toggle rule %s: %w", id, err)
	}
	s.logger.Infow("Rule toggled", "rule_id", id, "enabled", enabled)
	if err := s.reloadEngine(); err != nil {
		return false, err
	}
	return enabled, nil
}

// TestRule dry-runs a single, possibly unpersisted rule against a sample
// request context. It never touches hit counters.
func (s *RuleService) TestRule(rule *core.Rule, sample core.RequestContext) (*detect.TestResult, error) {
	if rule == nil {
		return nil, fmt.Errorf("%w: rule payload is required", ErrValidation)
	}
	if rule.ConditionLogic == "" {
		rule.ConditionLogic = core.LogicAND
	}
	if err := rule.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	result := s.engine.Test(*rule, sample)
	return &result, nil
}

// ReorderRules applies a bulk priority reassignment as one atomic batch and
// swaps in the resulting snapshot. Concurrent evaluations see either the old
// ordering or the new one, never a mix.
func (s *RuleService) ReorderRules(pairs []storage.RulePriority) error {
	if len(pairs) == 0 {
		return fmt.Errorf("%w: reorder requires at least one rule", ErrValidation)
	}
	seen := make(map[string]struct{}, len(pairs))
	for _, pair := range pairs {
		if strings.TrimSpace(pair.ID) == "" {
			return fmt.Errorf("%w: reorder entries require a rule id", ErrValidation)
		}
		if _, dup := seen[pair.ID]; dup {
			return fmt.Errorf("%w: duplicate rule id in reorder: %s", ErrValidation, pair.ID)
		}
		seen[pair.ID] = struct{}{}
	}

	if err := s.ruleStorage.UpdatePriorities(pairs); err != nil {
		return err
	}
	s.logger.Infow("Rules reordered", "count", len(pairs))
	return s.reloadEngine()
}

// FlushHitStats persists the engine's hit counters. Called periodically and
// on shutdown; evaluation itself never writes to storage.
func (s *RuleService) FlushHitStats() error {
	stats := s.engine.HitStats()
	var firstErr error
	for id, stat := range stats {
		if err := s.ruleStorage.UpdateHitStats(id, stat.Count, stat.LastHit); err != nil {
			s.logger.Warnw("Failed to flush hit stats", "rule_id", id, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// reloadEngine rebuilds the evaluation snapshot from storage
func (s *RuleService) reloadEngine() error {
	rules, err := s.ruleStorage.GetAllRules()
	if err != nil {
		return fmt.Errorf("failed to reload rules: %w", err)
	}
	s.engine.Reload(rules)
	return nil
}
