package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"botguard/core"

	"go.uber.org/zap"
)

// SQLiteIncidentStorage handles incident persistence in SQLite
type SQLiteIncidentStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteIncidentStorage creates a new SQLite incident storage handler
func NewSQLiteIncidentStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteIncidentStorage {
	return &SQLiteIncidentStorage{sqlite: sqlite, logger: logger}
}

const incidentColumns = `id, title, description, severity, status, type,
	affected_resources, source_ips, bot_signatures, metrics, actions, timeline,
	resolution, metadata, created_at, updated_at`

// GetIncidents retrieves incidents with pagination, newest first
func (s *SQLiteIncidentStorage) GetIncidents(limit int, offset int) ([]core.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := s.sqlite.ReadDB.Query(query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()
	return s.scanIncidents(rows)
}

// GetActiveIncidents retrieves every incident not yet resolved
func (s *SQLiteIncidentStorage) GetActiveIncidents() ([]core.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE status != ? ORDER BY created_at DESC`
	rows, err := s.sqlite.ReadDB.Query(query, string(core.IncidentStatusResolved))
	if err != nil {
		return nil, fmt.Errorf("failed to query active incidents: %w", err)
	}
	defer rows.Close()
	return s.scanIncidents(rows)
}

// GetIncident retrieves a single incident by ID
func (s *SQLiteIncidentStorage) GetIncident(id string) (*core.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents WHERE id = ?`
	row := s.sqlite.ReadDB.QueryRow(query, id)

	incident, err := s.scanIncident(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get incident %s: %w", id, err)
	}
	return incident, nil
}

// GetIncidentCount returns the total number of incidents
func (s *SQLiteIncidentStorage) GetIncidentCount() (int64, error) {
	var count int64
	if err := s.sqlite.ReadDB.QueryRow("SELECT COUNT(*) FROM incidents").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count incidents: %w", err)
	}
	return count, nil
}

// CreateIncident inserts a new incident
func (s *SQLiteIncidentStorage) CreateIncident(incident *core.Incident) error {
	parts, err := marshalIncidentParts(incident)
	if err != nil {
		return err
	}

	query := `INSERT INTO incidents (` + incidentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.sqlite.WriteDB.Exec(query,
		incident.ID, incident.Title, incident.Description,
		string(incident.Severity), string(incident.Status), string(incident.Type),
		parts.affectedResources, parts.sourceIPs, parts.botSignatures,
		parts.metrics, parts.actions, parts.timeline, parts.resolution, parts.metadata,
		incident.CreatedAt, incident.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert incident: %w", err)
	}
	return nil
}

// UpdateIncident replaces the stored incident state
func (s *SQLiteIncidentStorage) UpdateIncident(id string, incident *core.Incident) error {
	parts, err := marshalIncidentParts(incident)
	if err != nil {
		return err
	}

	query := `UPDATE incidents SET title = ?, description = ?, severity = ?, status = ?,
		type = ?, affected_resources = ?, source_ips = ?, bot_signatures = ?,
		metrics = ?, actions = ?, timeline = ?, resolution = ?, metadata = ?, updated_at = ?
		WHERE id = ?`
	result, err := s.sqlite.WriteDB.Exec(query,
		incident.Title, incident.Description,
		string(incident.Severity), string(incident.Status), string(incident.Type),
		parts.affectedResources, parts.sourceIPs, parts.botSignatures,
		parts.metrics, parts.actions, parts.timeline, parts.resolution, parts.metadata,
		incident.UpdatedAt, id)
	if err != nil {
		return fmt.Errorf("failed to update incident %s: %w", id, err)
	}
	return requireRowsAffected(result, id)
}

// DeleteIncident removes an incident
func (s *SQLiteIncidentStorage) DeleteIncident(id string) error {
	result, err := s.sqlite.WriteDB.Exec("DELETE FROM incidents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete incident %s: %w", id, err)
	}
	return requireRowsAffected(result, id)
}

type incidentParts struct {
	affectedResources string
	sourceIPs         string
	botSignatures     string
	metrics           string
	actions           string
	timeline          string
	resolution        interface{} // nil when unresolved
	metadata          string
}

func marshalIncidentParts(incident *core.Incident) (*incidentParts, error) {
	parts := &incidentParts{}

	fields := []struct {
		name string
		src  interface{}
		dst  *string
	}{
		{"affected_resources", incident.AffectedResources, &parts.affectedResources},
		{"source_ips", incident.SourceIPs, &parts.sourceIPs},
		{"bot_signatures", incident.BotSignatures, &parts.botSignatures},
		{"metrics", incident.Metrics, &parts.metrics},
		{"actions", incident.Actions, &parts.actions},
		{"timeline", incident.Timeline, &parts.timeline},
		{"metadata", incident.Metadata, &parts.metadata},
	}
	for _, f := range fields {
		data, err := json.Marshal(f.src)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal incident %s: %w", f.name, err)
		}
		*f.dst = string(data)
	}

	if incident.Resolution != nil {
		data, err := json.Marshal(incident.Resolution)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal incident resolution: %w", err)
		}
		parts.resolution = string(data)
	}
	return parts, nil
}

func (s *SQLiteIncidentStorage) scanIncidents(rows *sql.Rows) ([]core.Incident, error) {
	var incidents []core.Incident
	for rows.Next() {
		incident, err := s.scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, *incident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate incidents: %w", err)
	}
	return incidents, nil
}

func (s *SQLiteIncidentStorage) scanIncident(row rowScanner) (*core.Incident, error) {
	var (
		incident   core.Incident
		severity   string
		status     string
		incType    string
		affected   string
		sourceIPs  string
		signatures string
		metricsStr string
		actions    string
		timeline   string
		resolution sql.NullString
		metadata   string
	)
	err := row.Scan(&incident.ID, &incident.Title, &incident.Description,
		&severity, &status, &incType,
		&affected, &sourceIPs, &signatures, &metricsStr, &actions, &timeline,
		&resolution, &metadata, &incident.CreatedAt, &incident.UpdatedAt)
	if err != nil {
		return nil, err
	}

	incident.Severity = core.IncidentSeverity(severity)
	incident.Status = core.IncidentStatus(status)
	incident.Type = core.IncidentType(incType)

	unmarshals := []struct {
		name string
		src  string
		dst  interface{}
	}{
		{"affected_resources", affected, &incident.AffectedResources},
		{"source_ips", sourceIPs, &incident.SourceIPs},
		{"bot_signatures", signatures, &incident.BotSignatures},
		{"metrics", metricsStr, &incident.Metrics},
		{"actions", actions, &incident.Actions},
		{"timeline", timeline, &incident.Timeline},
		{"metadata", metadata, &incident.Metadata},
	}
	for _, u := range unmarshals {
		if err := json.Unmarshal([]byte(u.src), u.dst); err != nil {
			return nil, fmt.Errorf("failed to unmarshal incident %s for %s: %w", u.name, incident.ID, err)
		}
	}

	if resolution.Valid {
		incident.Resolution = &core.Resolution{}
		if err := json.Unmarshal([]byte(resolution.String), incident.Resolution); err != nil {
			return nil, fmt.Errorf("failed to unmarshal resolution for %s: %w", incident.ID, err)
		}
	}
	return &incident, nil
}
