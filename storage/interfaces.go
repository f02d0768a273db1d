package storage

import (
	"time"

	"botguard/core"
)

// RulePriority is one entry of a bulk priority reassignment
type RulePriority struct {
	ID       string `json:"id" validate:"required"`
	Priority int    `json:"priority"`
}

// RuleStorageInterface defines the interface for rule persistence
type RuleStorageInterface interface {
	GetRules(limit int, offset int) ([]core.Rule, error)
	GetAllRules() ([]core.Rule, error)
	GetRule(id string) (*core.Rule, error)
	GetRuleCount() (int64, error)
	CreateRule(rule *core.Rule) error
	UpdateRule(id string, rule *core.Rule) error
	DeleteRule(id string) error
	SetRuleEnabled(id string, enabled bool) error
	// UpdatePriorities applies a bulk priority reassignment in a single
	// transaction so readers never observe a partially applied reorder.
	UpdatePriorities(pairs []RulePriority) error
	UpdateHitStats(id string, hitCount uint64, lastHit *time.Time) error
}

// IncidentStorageInterface defines the interface for incident persistence
type IncidentStorageInterface interface {
	GetIncidents(limit int, offset int) ([]core.Incident, error)
	GetActiveIncidents() ([]core.Incident, error)
	GetIncident(id string) (*core.Incident, error)
	GetIncidentCount() (int64, error)
	CreateIncident(incident *core.Incident) error
	UpdateIncident(id string, incident *core.Incident) error
	DeleteIncident(id string) error
}

// CaptchaStorageInterface persists the process-wide CAPTCHA configuration
// and its running statistics
type CaptchaStorageInterface interface {
	GetCaptchaConfig() (*core.CaptchaConfig, *core.VerificationStats, error)
	SaveCaptchaConfig(cfg *core.CaptchaConfig, stats *core.VerificationStats) error
}
