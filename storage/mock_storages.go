package storage

import (
	"sort"
	"sync"
	"time"

	"botguard/core"
)

// MockRuleStorage is an in-memory RuleStorageInterface for tests
type MockRuleStorage struct {
	mu    sync.RWMutex
	rules map[string]core.Rule
}

// NewMockRuleStorage creates an empty in-memory rule store
func NewMockRuleStorage() *MockRuleStorage {
	return &MockRuleStorage{rules: make(map[string]core.Rule)}
}

func (m *MockRuleStorage) GetRules(limit int, offset int) ([]core.Rule, error) {
	all, err := m.GetAllRules()
	if err != nil {
		return nil, err
	}
	if offset >= len(all) {
		return []core.Rule{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MockRuleStorage) GetAllRules() ([]core.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, r)
	}
	core.SortRules(out)
	return out, nil
}

func (m *MockRuleStorage) GetRule(id string) (*core.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &rule, nil
}

func (m *MockRuleStorage) GetRuleCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.rules)), nil
}

func (m *MockRuleStorage) CreateRule(rule *core.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.ID] = *rule
	return nil
}

func (m *MockRuleStorage) UpdateRule(id string, rule *core.Rule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return ErrNotFound
	}
	m.rules[id] = *rule
	return nil
}

func (m *MockRuleStorage) DeleteRule(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rules[id]; !ok {
		return ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

func (m *MockRuleStorage) SetRuleEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok {
		return ErrNotFound
	}
	rule.Enabled = enabled
	rule.UpdatedAt = time.Now().UTC()
	m.rules[id] = rule
	return nil
}

func (m *MockRuleStorage) UpdatePriorities(pairs []RulePriority) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Validate the whole batch before touching anything, mirroring the
	// all-or-nothing transaction of the SQLite implementation.
	for _, pair := range pairs {
		if _, ok := m.rules[pair.ID]; !ok {
			return ErrNotFound
		}
	}
	now := time.Now().UTC()
	for _, pair := range pairs {
		rule := m.rules[pair.ID]
		rule.Priority = pair.Priority
		rule.UpdatedAt = now
		m.rules[pair.ID] = rule
	}
	return nil
}

func (m *MockRuleStorage) UpdateHitStats(id string, hitCount uint64, lastHit *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok {
		return ErrNotFound
	}
	if hitCount > rule.Metadata.HitCount {
		rule.Metadata.HitCount = hitCount
	}
	if lastHit != nil {
		rule.Metadata.LastHit = lastHit
	}
	m.rules[id] = rule
	return nil
}

// MockIncidentStorage is an in-memory IncidentStorageInterface for tests
type MockIncidentStorage struct {
	mu        sync.RWMutex
	incidents map[string]core.Incident
}

// NewMockIncidentStorage creates an empty in-memory incident store
func NewMockIncidentStorage() *MockIncidentStorage {
	return &MockIncidentStorage{incidents: make(map[string]core.Incident)}
}

func (m *MockIncidentStorage) GetIncidents(limit int, offset int) ([]core.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.sorted()
	if offset >= len(all) {
		return []core.Incident{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MockIncidentStorage) GetActiveIncidents() ([]core.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.Incident
	for _, incident := range m.sorted() {
		if incident.Status != core.IncidentStatusResolved {
			out = append(out, incident)
		}
	}
	return out, nil
}

func (m *MockIncidentStorage) GetIncident(id string) (*core.Incident, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	incident, ok := m.incidents[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &incident, nil
}

func (m *MockIncidentStorage) GetIncidentCount() (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.incidents)), nil
}

func (m *MockIncidentStorage) CreateIncident(incident *core.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents[incident.ID] = *incident
	return nil
}

func (m *MockIncidentStorage) UpdateIncident(id string, incident *core.Incident) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[id]; !ok {
		return ErrNotFound
	}
	m.incidents[id] = *incident
	return nil
}

func (m *MockIncidentStorage) DeleteIncident(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.incidents[id]; !ok {
		return ErrNotFound
	}
	delete(m.incidents, id)
	return nil
}

// sorted returns incidents newest first; callers hold the lock
func (m *MockIncidentStorage) sorted() []core.Incident {
	out := make([]core.Incident, 0, len(m.incidents))
	for _, incident := range m.incidents {
		out = append(out, incident)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// MockCaptchaStorage is an in-memory CaptchaStorageInterface for tests
type MockCaptchaStorage struct {
	mu     sync.RWMutex
	config *core.CaptchaConfig
	stats  *core.VerificationStats
}

// NewMockCaptchaStorage creates an empty in-memory captcha store
func NewMockCaptchaStorage() *MockCaptchaStorage {
	return &MockCaptchaStorage{}
}

func (m *MockCaptchaStorage) GetCaptchaConfig() (*core.CaptchaConfig, *core.VerificationStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.config == nil {
		return nil, nil, ErrNotFound
	}
	stats := *m.stats
	return m.config.Clone(), &stats, nil
}

func (m *MockCaptchaStorage) SaveCaptchaConfig(cfg *core.CaptchaConfig, stats *core.VerificationStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config = cfg.Clone()
	if stats == nil {
		stats = &core.VerificationStats{}
	}
	statsCopy := *stats
	m.stats = &statsCopy
	return nil
}
