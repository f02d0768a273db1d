package service

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"botguard/core"
	"botguard/metrics"
	"botguard/notify"
	"botguard/storage"

	"go.uber.org/zap"
)

// Pagination limits for incident listings
const (
	defaultIncidentPageSize = 50
	maxIncidentPageSize     = 500
)

// Automated detection window: this many rule matches from a single IP within
// the window opens a bot_attack incident for that IP.
const (
	autoDetectThreshold = 25
	autoDetectWindow    = 5 * time.Minute
)

// IncidentUpdate is a partial update applied to an incident. Only provided
// fields change; timeline and actions are append-only and never patched here.
type IncidentUpdate struct {
	Title       *string                   `json:"title,omitempty"`
	Description *string                   `json:"description,omitempty"`
	Severity    *core.IncidentSeverity    `json:"severity,omitempty"`
	Status      *core.IncidentStatus      `json:"status,omitempty"`
	Type        *core.IncidentType        `json:"type,omitempty"`
	SourceIPs   []string                  `json:"source_ips,omitempty"`
	Signatures  []string                  `json:"bot_signatures,omitempty"`
	Resources   []core.AffectedResource   `json:"affected_resources,omitempty"`
	Metrics     *core.IncidentMetricsPatch `json:"metrics,omitempty"`
	AssignedTo  *string                   `json:"assigned_to,omitempty"`
	Tags        []string                  `json:"tags,omitempty"`
}

// matchBucket counts rule matches from one source IP inside the detection
// window
type matchBucket struct {
	count       int
	windowStart time.Time
	signatures  map[string]struct{}
	incidentID  string
}

// IncidentService manages the incident lifecycle: creation, partial updates,
// operator actions, resolution and automated detection. Each incident's
// read-modify-write cycle is serialized under a per-incident lock so
// concurrent appends never lose entries.
type IncidentService struct {
	incidentStorage storage.IncidentStorageInterface
	broadcaster     notify.Broadcaster
	logger          *zap.SugaredLogger

	// locks maps incident ID to its *sync.Mutex
	locks sync.Map

	detectMu sync.Mutex
	buckets  map[string]*matchBucket
}

// NewIncidentService creates a new IncidentService. The broadcaster is
// optional; without one, alert-worthy incidents are only logged.
func NewIncidentService(incidentStorage storage.IncidentStorageInterface, broadcaster notify.Broadcaster, logger *zap.SugaredLogger) *IncidentService {
	if incidentStorage == nil {
		panic("incidentStorage is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &IncidentService{
		incidentStorage: incidentStorage,
		broadcaster:     broadcaster,
		logger:          logger,
		buckets:         make(map[string]*matchBucket),
	}
}

// lockFor returns the mutex serializing updates to one incident
func (s *IncidentService) lockFor(id string) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ListIncidents returns incidents with pagination, newest first
func (s *IncidentService) ListIncidents(limit, offset int) ([]core.Incident, int64, error) {
	if limit <= 0 {
		limit = defaultIncidentPageSize
	}
	if limit > maxIncidentPageSize {
		limit = maxIncidentPageSize
	}
	if offset < 0 {
		offset = 0
	}

	incidents, err := s.incidentStorage.GetIncidents(limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list incidents: %w", err)
	}
	total, err := s.incidentStorage.GetIncidentCount()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count incidents: %w", err)
	}
	return incidents, total, nil
}

// GetActiveIncidents returns every incident not yet resolved
func (s *IncidentService) GetActiveIncidents() ([]core.Incident, error) {
	return s.incidentStorage.GetActiveIncidents()
}

// GetIncident returns one incident by ID
func (s *IncidentService) GetIncident(id string) (*core.Incident, error) {
	return s.incidentStorage.GetIncident(id)
}

// CreateIncident opens a new incident. High and critical incidents are
// announced through the broadcaster; a failed broadcast is logged and never
// fails the creation.
func (s *IncidentService) CreateIncident(title, description string, severity core.IncidentSeverity, incidentType core.IncidentType, createdBy string) (*core.Incident, error) {
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: incident title is required", ErrValidation)
	}
	if incidentType == "" {
		incidentType = core.IncidentTypeOther
	}

	incident := core.NewIncident(title, description, severity, incidentType, createdBy)
	if err := incident.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if err := s.incidentStorage.CreateIncident(incident); err != nil {
		return nil, fmt.Errorf("failed to create incident: %w", err)
	}

	metrics.IncidentsCreated.WithLabelValues(string(incident.Severity)).Inc()
	s.logger.Infow("Incident created",
		"incident_id", incident.ID,
		"severity", string(incident.Severity),
		"type", string(incident.Type),
		"created_by", createdBy)

	if incident.Severity.RequiresAlert() {
		s.publishIncidentAlert(incident)
	}
	return incident, nil
}

// UpdateIncident applies a partial update under the incident's lock. Status
// changes go through SetStatus so the transition lands in the timeline.
func (s *IncidentService) UpdateIncident(id string, update *IncidentUpdate) (*core.Incident, error) {
	if update == nil {
		return nil, fmt.Errorf("%w: update payload is required", ErrValidation)
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	incident, err := s.incidentStorage.GetIncident(id)
	if err != nil {
		return nil, err
	}

	if update.Title != nil {
		incident.Title = *update.Title
	}
	if update.Description != nil {
		incident.Description = *update.Description
	}
	if update.Severity != nil {
		incident.Severity = *update.Severity
	}
	if update.Type != nil {
		incident.Type = *update.Type
	}
	if update.Status != nil {
		if err := incident.SetStatus(*update.Status); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	if update.SourceIPs != nil {
		incident.SourceIPs = update.SourceIPs
	}
	if update.Signatures != nil {
		incident.BotSignatures = update.Signatures
	}
	if update.Resources != nil {
		incident.AffectedResources = update.Resources
	}
	update.Metrics.Apply(&incident.Metrics)
	if update.AssignedTo != nil {
		incident.Metadata.AssignedTo = *update.AssignedTo
	}
	if update.Tags != nil {
		incident.Metadata.Tags = update.Tags
	}
	incident.UpdatedAt = time.Now().UTC()

	if err := incident.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.incidentStorage.UpdateIncident(id, incident); err != nil {
		return nil, fmt.Errorf("failed to update incident %s: %w", id, err)
	}
	s.logger.Infow("Incident updated", "incident_id", id)
	return incident, nil
}

// AddAction records an operator intervention on an incident
func (s *IncidentService) AddAction(id, action, performedBy, notes string) (*core.Incident, error) {
	if strings.TrimSpace(action) == "" {
		return nil, fmt.Errorf("%w: action text is required", ErrValidation)
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	incident, err := s.incidentStorage.GetIncident(id)
	if err != nil {
		return nil, err
	}
	incident.AddAction(action, performedBy, notes)
	if err := s.incidentStorage.UpdateIncident(id, incident); err != nil {
		return nil, fmt.Errorf("failed to record action on incident %s: %w", id, err)
	}
	s.logger.Infow("Incident action recorded", "incident_id", id, "performed_by", performedBy)
	return incident, nil
}

// GetTimeline returns the merged timeline and action history of an incident,
// newest first
func (s *IncidentService) GetTimeline(id string) ([]core.MergedTimelineEntry, error) {
	incident, err := s.incidentStorage.GetIncident(id)
	if err != nil {
		return nil, err
	}
	return incident.MergedTimeline(), nil
}

// ResolveIncident closes an incident. Resolving twice is a validation error.
func (s *IncidentService) ResolveIncident(id, summary, resolvedBy string, preventiveMeasures []string) (*core.Incident, error) {
	if strings.TrimSpace(summary) == "" {
		return nil, fmt.Errorf("%w: resolution summary is required", ErrValidation)
	}

	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	incident, err := s.incidentStorage.GetIncident(id)
	if err != nil {
		return nil, err
	}
	if err := incident.Resolve(summary, resolvedBy, preventiveMeasures); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := s.incidentStorage.UpdateIncident(id, incident); err != nil {
		return nil, fmt.Errorf("failed to resolve incident %s: %w", id, err)
	}
	s.logger.Infow("Incident resolved",
		"incident_id", id,
		"resolved_by", resolvedBy,
		"duration_seconds", incident.Metrics.DurationSeconds)
	return incident, nil
}

// DeleteIncident removes an incident permanently
func (s *IncidentService) DeleteIncident(id string) error {
	if err := s.incidentStorage.DeleteIncident(id); err != nil {
		return err
	}
	s.locks.Delete(id)
	s.logger.Infow("Incident deleted", "incident_id", id)
	return nil
}

// RecordMatch feeds one blocking rule match into automated detection. When a
// single IP crosses the threshold inside the window, a bot_attack incident is
// opened for it; further matches in the same window attach to that incident's
// counters instead of opening duplicates.
func (s *IncidentService) RecordMatch(ruleID, ruleName, ip, signature string) {
	if ip == "" {
		return
	}

	s.detectMu.Lock()
	now := time.Now().UTC()
	bucket, ok := s.buckets[ip]
	if !ok || now.Sub(bucket.windowStart) > autoDetectWindow {
		bucket = &matchBucket{windowStart: now, signatures: make(map[string]struct{})}
		s.buckets[ip] = bucket
	}
	bucket.count++
	if signature != "" {
		bucket.signatures[signature] = struct{}{}
	}

	shouldOpen := bucket.count == autoDetectThreshold && bucket.incidentID == ""
	incidentID := bucket.incidentID
	count := bucket.count
	signatures := make([]string, 0, len(bucket.signatures))
	for sig := range bucket.signatures {
		signatures = append(signatures, sig)
	}
	s.detectMu.Unlock()

	if shouldOpen {
		s.openAutoIncident(ip, ruleID, ruleName, count, signatures)
		return
	}
	if incidentID != "" {
		s.bumpAutoIncident(incidentID, int64(count))
	}
}

// openAutoIncident creates the incident for a detection-window breach
func (s *IncidentService) openAutoIncident(ip, ruleID, ruleName string, count int, signatures []string) {
	title := fmt.Sprintf("Automated bot activity from %s", ip)
	description := fmt.Sprintf("Rule %q matched %d times within %s from a single source",
		ruleName, count, autoDetectWindow)

	incident, err := s.CreateIncident(title, description, core.IncidentSeverityHigh, core.IncidentTypeBotAttack, "automated-detection")
	if err != nil {
		s.logger.Errorw("Failed to open automated incident", "ip", ip, "rule_id", ruleID, "error", err)
		return
	}

	mu := s.lockFor(incident.ID)
	mu.Lock()
	incident.SourceIPs = []string{ip}
	incident.BotSignatures = signatures
	incident.Metrics.RequestsBlocked = int64(count)
	incident.Metrics.UniqueBots = 1
	incident.AppendTimeline("automated detection threshold crossed", map[string]interface{}{
		"rule_id":   ruleID,
		"rule_name": ruleName,
		"matches":   count,
	})
	if err := s.incidentStorage.UpdateIncident(incident.ID, incident); err != nil {
		s.logger.Errorw("Failed to attach detection details", "incident_id", incident.ID, "error", err)
	}
	mu.Unlock()

	s.detectMu.Lock()
	if bucket, ok := s.buckets[ip]; ok {
		bucket.incidentID = incident.ID
	}
	s.detectMu.Unlock()
}

// bumpAutoIncident refreshes the blocked-request counter on an open
// automated incident
func (s *IncidentService) bumpAutoIncident(incidentID string, count int64) {
	mu := s.lockFor(incidentID)
	mu.Lock()
	defer mu.Unlock()

	incident, err := s.incidentStorage.GetIncident(incidentID)
	if err != nil {
		return
	}
	if incident.Status == core.IncidentStatusResolved {
		return
	}
	if count > incident.Metrics.RequestsBlocked {
		incident.Metrics.RequestsBlocked = count
		incident.UpdatedAt = time.Now().UTC()
		if err := s.incidentStorage.UpdateIncident(incidentID, incident); err != nil {
			s.logger.Warnw("Failed to update automated incident counters", "incident_id", incidentID, "error", err)
		}
	}
}

// publishIncidentAlert pushes an incident creation event to the broadcaster.
// Failures are logged and swallowed.
func (s *IncidentService) publishIncidentAlert(incident *core.Incident) {
	if s.broadcaster == nil {
		return
	}
	event := notify.AlertEvent{
		Type:       notify.EventIncident,
		Severity:   incident.Severity,
		Title:      incident.Title,
		Message:    incident.Description,
		IncidentID: incident.ID,
		Timestamp:  time.Now().UTC(),
	}
	if err := s.broadcaster.Publish(event); err != nil {
		s.logger.Warnw("Failed to publish incident alert",
			"incident_id", incident.ID,
			"severity", string(incident.Severity),
			"error", err)
	}
}
