package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"botguard/core"

	"go.uber.org/zap"
)

// SQLiteRuleStorage handles rule persistence in SQLite
type SQLiteRuleStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteRuleStorage creates a new SQLite rule storage handler
func NewSQLiteRuleStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteRuleStorage {
	return &SQLiteRuleStorage{sqlite: sqlite, logger: logger}
}

const ruleColumns = `id, name, description, enabled, priority, condition_logic,
	conditions, action, created_by, last_modified_by, hit_count, last_hit,
	created_at, updated_at`

// GetRules retrieves rules with pagination, newest first
func (s *SQLiteRuleStorage) GetRules(limit int, offset int) ([]core.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.sqlite.ReadDB.Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()
	return s.scanRules(rows)
}

// GetAllRules retrieves every rule, used to build engine snapshots
func (s *SQLiteRuleStorage) GetAllRules() ([]core.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules ORDER BY priority DESC, created_at DESC`
	rows, err := s.sqlite.ReadDB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query all rules: %w", err)
	}
	defer rows.Close()
	return s.scanRules(rows)
}

// GetRule retrieves a single rule by ID
func (s *SQLiteRuleStorage) GetRule(id string) (*core.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE id = ?`
	row := s.sqlite.ReadDB.QueryRow(query, id)

	rule, err := s.scanRule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rule %s: %w", id, err)
	}
	return rule, nil
}

// GetRuleCount returns the total number of rules
func (s *SQLiteRuleStorage) GetRuleCount() (int64, error) {
	var count int64
	if err := s.sqlite.ReadDB.QueryRow("SELECT COUNT(*) FROM rules").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rules: %w", err)
	}
	return count, nil
}

// CreateRule inserts a new rule
func (s *SQLiteRuleStorage) CreateRule(rule *core.Rule) error {
	conditions, action, err := marshalRuleParts(rule)
	if err != nil {
		return err
	}

	query := `INSERT INTO rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.sqlite.WriteDB.Exec(query,
		rule.ID, rule.Name, rule.Description, boolToInt(rule.Enabled), rule.Priority,
		string(rule.ConditionLogic), conditions, action,
		rule.Metadata.CreatedBy, rule.Metadata.LastModifiedBy,
		int64(rule.Metadata.HitCount), nullableTime(rule.Metadata.LastHit),
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// UpdateRule replaces a rule's definition. Hit statistics are not touched
// here; they belong to UpdateHitStats.
func (s *SQLiteRuleStorage) UpdateRule(id string, rule *core.Rule) error {
	conditions, action, err := marshalRuleParts(rule)
	if err != nil {
		return err
	}

	query := `UPDATE rules SET name = ?, description = ?, enabled = ?, priority = ?,
		condition_logic = ?, conditions = ?, action = ?, last_modified_by = ?, updated_at = ?
		WHERE id = ?`
	result, err := s.sqlite.WriteDB.Exec(query,
		rule.Name, rule.Description, boolToInt(rule.Enabled), rule.Priority,
		string(rule.ConditionLogic), conditions, action,
		rule.Metadata.LastModifiedBy, rule.UpdatedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update rule %s: %w", id, err)
	}
	return requireRowsAffected(result, id)
}

// DeleteRule removes a rule
func (s *SQLiteRuleStorage) DeleteRule(id string) error {
	result, err := s.sqlite.WriteDB.Exec("DELETE FROM rules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}
	return requireRowsAffected(result, id)
}

// SetRuleEnabled toggles a rule
func (s *SQLiteRuleStorage) SetRuleEnabled(id string, enabled bool) error {
	result, err := s.sqlite.WriteDB.Exec(
		"UPDATE rules SET enabled = ?, updated_at = ? WHERE id = ?",
		boolToInt(enabled), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to toggle rule %s: %w", id, err)
	}
	return requireRowsAffected(result, id)
}

// UpdatePriorities applies a bulk priority reassignment inside a single
// transaction. Either every pair applies or none does; a missing rule ID
// aborts the whole batch.
func (s *SQLiteRuleStorage) UpdatePriorities(pairs []RulePriority) error {
	tx, err := s.sqlite.WriteDB.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin reorder transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare("UPDATE rules SET priority = ?, updated_at = ? WHERE id = ?")
	if err != nil {
		return fmt.Errorf("failed to prepare reorder statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, pair := range pairs {
		result, err := stmt.Exec(pair.Priority, now, pair.ID)
		if err != nil {
			return fmt.Errorf("failed to reorder rule %s: %w", pair.ID, err)
		}
		if err := requireRowsAffected(result, pair.ID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reorder: %w", err)
	}
	return nil
}

// UpdateHitStats persists engine hit counters for one rule. hit_count only
// moves forward, so a stale flush can never shrink the persisted value.
func (s *SQLiteRuleStorage) UpdateHitStats(id string, hitCount uint64, lastHit *time.Time) error {
	_, err := s.sqlite.WriteDB.Exec(
		`UPDATE rules SET hit_count = MAX(hit_count, ?), last_hit = COALESCE(?, last_hit) WHERE id = ?`,
		int64(hitCount), nullableTime(lastHit), id)
	if err != nil {
		return fmt.Errorf("failed to update hit stats for rule %s: %w", id, err)
	}
	return nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *SQLiteRuleStorage) scanRules(rows *sql.Rows) ([]core.Rule, error) {
	var rules []core.Rule
	for rows.Next() {
		rule, err := s.scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rules: %w", err)
	}
	return rules, nil
}

func (s *SQLiteRuleStorage) scanRule(row rowScanner) (*core.Rule, error) {
	var (
		rule           core.Rule
		enabled        int
		logic          string
		conditionsJSON string
		actionJSON     string
		hitCount       int64
		lastHit        sql.NullTime
	)
	err := row.Scan(&rule.ID, &rule.Name, &rule.Description, &enabled, &rule.Priority,
		&logic, &conditionsJSON, &actionJSON,
		&rule.Metadata.CreatedBy, &rule.Metadata.LastModifiedBy,
		&hitCount, &lastHit, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rule.Enabled = enabled != 0
	rule.ConditionLogic = core.ConditionLogic(logic)
	rule.Metadata.HitCount = uint64(hitCount)
	if lastHit.Valid {
		t := lastHit.Time.UTC()
		rule.Metadata.LastHit = &t
	}
	if err := json.Unmarshal([]byte(conditionsJSON), &rule.Conditions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conditions for rule %s: %w", rule.ID, err)
	}
	if err := json.Unmarshal([]byte(actionJSON), &rule.Action); err != nil {
		return nil, fmt.Errorf("failed to unmarshal action for rule %s: %w", rule.ID, err)
	}
	return &rule, nil
}

func marshalRuleParts(rule *core.Rule) (conditions, action string, err error) {
	conditionsBytes, err := json.Marshal(rule.Conditions)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal conditions: %w", err)
	}
	actionBytes, err := json.Marshal(rule.Action)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal action: %w", err)
	}
	return string(conditionsBytes), string(actionBytes), nil
}

func requireRowsAffected(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}
