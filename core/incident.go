package core

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// IncidentSeverity represents the severity level of an incident
type IncidentSeverity string

const (
	IncidentSeverityLow      IncidentSeverity = "low"
	IncidentSeverityMedium   IncidentSeverity = "medium"
	IncidentSeverityHigh     IncidentSeverity = "high"
	IncidentSeverityCritical IncidentSeverity = "critical"
)

// IsValid checks if the incident severity is valid
func (s IncidentSeverity) IsValid() bool {
	switch s {
	case IncidentSeverityLow, IncidentSeverityMedium, IncidentSeverityHigh, IncidentSeverityCritical:
		return true
	}
	return false
}

// RequiresAlert reports whether incidents of this severity trigger an
// alert broadcast on creation.
func (s IncidentSeverity) RequiresAlert() bool {
	return s == IncidentSeverityHigh || s == IncidentSeverityCritical
}

// IncidentStatus represents the current state of an incident.
// Transitions are intentionally unrestricted; every status change is
// recorded in the timeline instead of being guarded by a transition table.
type IncidentStatus string

const (
	IncidentStatusActive        IncidentStatus = "active"
	IncidentStatusInvestigating IncidentStatus = "investigating"
	IncidentStatusMitigating    IncidentStatus = "mitigating"
	IncidentStatusResolved      IncidentStatus = "resolved"
)

// IsValid checks if the incident status is valid
func (s IncidentStatus) IsValid() bool {
	switch s {
	case IncidentStatusActive, IncidentStatusInvestigating, IncidentStatusMitigating, IncidentStatusResolved:
		return true
	}
	return false
}

// IncidentType classifies the attack pattern behind an incident
type IncidentType string

const (
	IncidentTypeBotAttack          IncidentType = "bot_attack"
	IncidentTypeCredentialStuffing IncidentType = "credential_stuffing"
	IncidentTypeScraping           IncidentType = "scraping"
	IncidentTypeDDoS               IncidentType = "ddos"
	IncidentTypeAPIAbuse           IncidentType = "api_abuse"
	IncidentTypeOther              IncidentType = "other"
)

// IsValid checks if the incident type is valid
func (t IncidentType) IsValid() bool {
	switch t {
	case IncidentTypeBotAttack, IncidentTypeCredentialStuffing, IncidentTypeScraping,
		IncidentTypeDDoS, IncidentTypeAPIAbuse, IncidentTypeOther:
		return true
	}
	return false
}

// AffectedResource names one resource impacted by an incident
type AffectedResource struct {
	Resource string `json:"resource" example:"/api/login"`
	Impact   string `json:"impact" example:"degraded"`
}

// IncidentMetrics holds derived counters for an incident. DurationSeconds is
// set exactly once, at resolution.
type IncidentMetrics struct {
	RequestsBlocked int64   `json:"requests_blocked"`
	UniqueBots      int64   `json:"unique_bots"`
	PeakRPS         float64 `json:"peak_rps"`
	DurationSeconds int64   `json:"duration"`
}

// IncidentMetricsPatch is a partial metrics update. Only non-nil fields are
// applied, so automated detectors and manual edits do not clobber each
// other's counters.
type IncidentMetricsPatch struct {
	RequestsBlocked *int64   `json:"requests_blocked,omitempty"`
	UniqueBots      *int64   `json:"unique_bots,omitempty"`
	PeakRPS         *float64 `json:"peak_rps,omitempty"`
}

// Apply merges the patch into the metrics, field by field.
func (p *IncidentMetricsPatch) Apply(m *IncidentMetrics) {
	if p == nil {
		return
	}
	if p.RequestsBlocked != nil {
		m.RequestsBlocked = *p.RequestsBlocked
	}
	if p.UniqueBots != nil {
		m.UniqueBots = *p.UniqueBots
	}
	if p.PeakRPS != nil {
		m.PeakRPS = *p.PeakRPS
	}
}

// IncidentAction is an operator intervention recorded on an incident.
// Distinct from the timeline, which is system/state history.
type IncidentAction struct {
	ID          string    `json:"id"`
	Action      string    `json:"action" example:"Blocked offending ASN at the edge"`
	PerformedBy string    `json:"performed_by" example:"analyst1"`
	Timestamp   time.Time `json:"timestamp" swaggertype:"string"`
	Notes       string    `json:"notes,omitempty"`
}

// TimelineEntry is a system event recorded on an incident
type TimelineEntry struct {
	Event     string                 `json:"event" example:"status changed: active -> mitigating"`
	Timestamp time.Time              `json:"timestamp" swaggertype:"string"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Resolution captures how an incident was closed out
type Resolution struct {
	Summary            string    `json:"summary"`
	ResolvedAt         time.Time `json:"resolved_at" swaggertype:"string"`
	ResolvedBy         string    `json:"resolved_by"`
	PreventiveMeasures []string  `json:"preventive_measures,omitempty"`
}

// IncidentMetadata carries ownership and tagging for an incident
type IncidentMetadata struct {
	CreatedBy  string   `json:"created_by,omitempty"`
	AssignedTo string   `json:"assigned_to,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Incident represents a tracked security event with an append-only audit
// trail and derived resolution metrics. Timeline and Actions are append-only:
// entries are never removed or reordered in place, ordering is resolved by
// timestamp at read time.
type Incident struct {
	ID                string             `json:"id" example:"INC-20250108-a3f1"`
	Title             string             `json:"title" validate:"required,min=1,max=200"`
	Description       string             `json:"description,omitempty" validate:"max=2000"`
	Severity          IncidentSeverity   `json:"severity" validate:"required" example:"high"`
	Status            IncidentStatus     `json:"status" example:"active"`
	Type              IncidentType       `json:"type" example:"bot_attack"`
	AffectedResources []AffectedResource `json:"affected_resources,omitempty"`
	SourceIPs         []string           `json:"source_ips,omitempty"`
	BotSignatures     []string           `json:"bot_signatures,omitempty"`
	Metrics           IncidentMetrics    `json:"metrics"`
	Actions           []IncidentAction   `json:"actions"`
	Timeline          []TimelineEntry    `json:"timeline"`
	Resolution        *Resolution        `json:"resolution,omitempty"`
	Metadata          IncidentMetadata   `json:"metadata"`
	CreatedAt         time.Time          `json:"created_at" swaggertype:"string"`
	UpdatedAt         time.Time          `json:"updated_at" swaggertype:"string"`
}

// NewIncident creates a new incident in the active state with the synthetic
// first timeline entry.
func NewIncident(title, description string, severity IncidentSeverity, incidentType IncidentType, createdBy string) *Incident {
	now := time.Now().UTC()
	return &Incident{
		ID:          generateIncidentID(now),
		Title:       title,
		Description: description,
		Severity:    severity,
		Status:      IncidentStatusActive,
		Type:        incidentType,
		Actions:     []IncidentAction{},
		Timeline: []TimelineEntry{{
			Event:     "Incident created",
			Timestamp: now,
			Details:   map[string]interface{}{"created_by": createdBy, "severity": string(severity)},
		}},
		Metadata:  IncidentMetadata{CreatedBy: createdBy, Tags: []string{}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// generateIncidentID generates a unique incident ID in format INC-YYYYMMDD-xxxx
func generateIncidentID(timestamp time.Time) string {
	dateStr := timestamp.Format("20060102")
	shortUUID := uuid.New().String()[:4]
	return fmt.Sprintf("INC-%s-%s", dateStr, shortUUID)
}

// Validate performs validation on the incident
func (i *Incident) Validate() error {
	if i.Title == "" {
		return fmt.Errorf("incident title is required")
	}
	if len(i.Title) > 200 {
		return fmt.Errorf("incident title too long (max 200 characters)")
	}
	if len(i.Description) > 2000 {
		return fmt.Errorf("incident description too long (max 2000 characters)")
	}
	if !i.Severity.IsValid() {
		return fmt.Errorf("invalid incident severity: %s", i.Severity)
	}
	if i.Status != "" && !i.Status.IsValid() {
		return fmt.Errorf("invalid incident status: %s", i.Status)
	}
	if i.Type != "" && !i.Type.IsValid() {
		return fmt.Errorf("invalid incident type: %s", i.Type)
	}
	if i.Resolution != nil && i.Status != IncidentStatusResolved {
		return fmt.Errorf("resolution is only valid on resolved incidents")
	}
	return nil
}

// AppendTimeline appends a system event to the incident timeline
func (i *Incident) AppendTimeline(event string, details map[string]interface{}) {
	now := time.Now().UTC()
	i.Timeline = append(i.Timeline, TimelineEntry{
		Event:     event,
		Timestamp: now,
		Details:   details,
	})
	i.UpdatedAt = now
}

// SetStatus changes the incident status, recording the transition in the
// timeline. Any state is settable from any state; resolved is terminal in
// practice but not enforced as such.
func (i *Incident) SetStatus(status IncidentStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid incident status: %s", status)
	}
	if status == i.Status {
		return nil
	}
	old := i.Status
	i.Status = status
	i.AppendTimeline(fmt.Sprintf("status changed: %s -> %s", old, status), nil)
	return nil
}

// AddAction appends an operator intervention to the incident
func (i *Incident) AddAction(action, performedBy, notes string) {
	now := time.Now().UTC()
	i.Actions = append(i.Actions, IncidentAction{
		ID:          uuid.New().String(),
		Action:      action,
		PerformedBy: performedBy,
		Timestamp:   now,
		Notes:       notes,
	})
	i.UpdatedAt = now
}

// Resolve closes the incident: sets status to resolved, writes the resolution
// block and computes the duration metric. The duration is set exactly once;
// resolving an already-resolved incident is rejected.
func (i *Incident) Resolve(summary, resolvedBy string, preventiveMeasures []string) error {
	if i.Resolution != nil {
		return fmt.Errorf("incident %s is already resolved", i.ID)
	}

	now := time.Now().UTC()
	old := i.Status
	i.Status = IncidentStatusResolved
	i.Resolution = &Resolution{
		Summary:            summary,
		ResolvedAt:         now,
		ResolvedBy:         resolvedBy,
		PreventiveMeasures: preventiveMeasures,
	}
	duration := now.Sub(i.CreatedAt) / time.Second
	if duration < 0 {
		duration = 0
	}
	i.Metrics.DurationSeconds = int64(duration)
	i.AppendTimeline(fmt.Sprintf("status changed: %s -> %s", old, IncidentStatusResolved),
		map[string]interface{}{"resolved_by": resolvedBy})
	return nil
}

// TimelineEventOrigin tags merged timeline entries with their source log
type TimelineEventOrigin string

const (
	TimelineOriginSystem TimelineEventOrigin = "timeline"
	TimelineOriginAction TimelineEventOrigin = "action"
)

// MergedTimelineEntry is one entry of the combined timeline/actions view
type MergedTimelineEntry struct {
	Origin      TimelineEventOrigin    `json:"origin"`
	Event       string                 `json:"event"`
	Timestamp   time.Time              `json:"timestamp" swaggertype:"string"`
	PerformedBy string                 `json:"performed_by,omitempty"`
	Notes       string                 `json:"notes,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// MergedTimeline returns timeline and actions merged, each entry tagged with
// its origin, sorted by timestamp descending.
func (i *Incident) MergedTimeline() []MergedTimelineEntry {
	merged := make([]MergedTimelineEntry, 0, len(i.Timeline)+len(i.Actions))
	for _, entry := range i.Timeline {
		merged = append(merged, MergedTimelineEntry{
			Origin:    TimelineOriginSystem,
			Event:     entry.Event,
			Timestamp: entry.Timestamp,
			Details:   entry.Details,
		})
	}
	for _, action := range i.Actions {
		merged = append(merged, MergedTimelineEntry{
			Origin:      TimelineOriginAction,
			Event:       action.Action,
			Timestamp:   action.Timestamp,
			PerformedBy: action.PerformedBy,
			Notes:       action.Notes,
		})
	}
	sort.SliceStable(merged, func(a, b int) bool {
		return merged[a].Timestamp.After(merged[b].Timestamp)
	})
	return merged
}
