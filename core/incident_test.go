package core

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncident_InitialState(t *testing.T) {
	incident := NewIncident("Credential stuffing on /login", "burst of failed logins",
		IncidentSeverityHigh, IncidentTypeCredentialStuffing, "analyst1")

	assert.True(t, strings.HasPrefix(incident.ID, "INC-"))
	assert.Equal(t, IncidentStatusActive, incident.Status)
	assert.Equal(t, "analyst1", incident.Metadata.CreatedBy)
	require.Len(t, incident.Timeline, 1)
	assert.Equal(t, "Incident created", incident.Timeline[0].Event)
	assert.Empty(t, incident.Actions)
	assert.Nil(t, incident.Resolution)
	assert.NoError(t, incident.Validate())
}

func TestIncident_SetStatusRecordsTransition(t *testing.T) {
	incident := NewIncident("t", "", IncidentSeverityLow, IncidentTypeOther, "op")

	require.NoError(t, incident.SetStatus(IncidentStatusInvestigating))
	require.NoError(t, incident.SetStatus(IncidentStatusMitigating))

	// Permissive transitions: back to active is allowed
	require.NoError(t, incident.SetStatus(IncidentStatusActive))

	require.Len(t, incident.Timeline, 4)
	assert.Equal(t, "status changed: active -> investigating", incident.Timeline[1].Event)
	assert.Equal(t, "status changed: investigating -> mitigating", incident.Timeline[2].Event)
	assert.Equal(t, "status changed: mitigating -> active", incident.Timeline[3].Event)
}

func TestIncident_SetStatusNoopOnSameStatus(t *testing.T) {
	incident := NewIncident("t", "", IncidentSeverityLow, IncidentTypeOther, "op")
	require.NoError(t, incident.SetStatus(IncidentStatusActive))
	assert.Len(t, incident.Timeline, 1, "same-status set must not append a timeline entry")
}

func TestIncident_SetStatusRejectsUnknown(t *testing.T) {
	incident := NewIncident("t", "", IncidentSeverityLow, IncidentTypeOther, "op")
	assert.Error(t, incident.SetStatus("paused"))
}

func TestIncident_ResolveSetsDurationOnce(t *testing.T) {
	incident := NewIncident("t", "", IncidentSeverityMedium, IncidentTypeScraping, "op")
	incident.CreatedAt = time.Now().UTC().Add(-90 * time.Second)

	require.NoError(t, incident.Resolve("blocked the ASN", "analyst2", []string{"edge rule"}))

	assert.Equal(t, IncidentStatusResolved, incident.Status)
	require.NotNil(t, incident.Resolution)
	assert.Equal(t, "analyst2", incident.Resolution.ResolvedBy)
	// floor((resolvedAt - createdAt) / 1s)
	assert.GreaterOrEqual(t, incident.Metrics.DurationSeconds, int64(90))
	assert.Less(t, incident.Metrics.DurationSeconds, int64(95))

	err := incident.Resolve("again", "analyst3", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already resolved")
	assert.Equal(t, "analyst2", incident.Resolution.ResolvedBy, "first resolution must be preserved")
}

func TestIncident_ResolveClampsNegativeDuration(t *testing.T) {
	incident := NewIncident("t", "", IncidentSeverityLow, IncidentTypeOther, "op")
	incident.CreatedAt = time.Now().UTC().Add(time.Hour)

	require.NoError(t, incident.Resolve("done", "op", nil))
	assert.Equal(t, int64(0), incident.Metrics.DurationSeconds)
}

func TestIncident_ValidateResolutionRequiresResolvedStatus(t *testing.T) {
	incident := NewIncident("t", "", IncidentSeverityLow, IncidentTypeOther, "op")
	incident.Resolution = &Resolution{Summary: "s", ResolvedBy: "op", ResolvedAt: time.Now().UTC()}
	assert.Error(t, incident.Validate())

	incident.Status = IncidentStatusResolved
	assert.NoError(t, incident.Validate())
}

func TestIncident_AddActionAppends(t *testing.T) {
	incident := NewIncident("t", "", IncidentSeverityLow, IncidentTypeOther, "op")
	incident.AddAction("Blocked offending ASN", "analyst1", "asn 64500")
	incident.AddAction("Rotated API keys", "analyst2", "")

	require.Len(t, incident.Actions, 2)
	assert.NotEmpty(t, incident.Actions[0].ID)
	assert.NotEqual(t, incident.Actions[0].ID, incident.Actions[1].ID)
	assert.Equal(t, "analyst1", incident.Actions[0].PerformedBy)
	// Timeline is untouched by operator actions
	assert.Len(t, incident.Timeline, 1)
}

func TestIncident_MergedTimelineNewestFirstWithOrigins(t *testing.T) {
	incident := NewIncident("t", "", IncidentSeverityLow, IncidentTypeOther, "op")
	incident.Timeline[0].Timestamp = time.Now().UTC().Add(-3 * time.Hour)

	incident.AddAction("first action", "op", "")
	incident.Actions[0].Timestamp = time.Now().UTC().Add(-2 * time.Hour)

	incident.AppendTimeline("status changed: active -> mitigating", nil)
	incident.Timeline[1].Timestamp = time.Now().UTC().Add(-1 * time.Hour)

	merged := incident.MergedTimeline()
	require.Len(t, merged, 3)

	assert.Equal(t, TimelineOriginSystem, merged[0].Origin)
	assert.Equal(t, "status changed: active -> mitigating", merged[0].Event)
	assert.Equal(t, TimelineOriginAction, merged[1].Origin)
	assert.Equal(t, "first action", merged[1].Event)
	assert.Equal(t, "Incident created", merged[2].Event)

	for i := 1; i < len(merged); i++ {
		assert.False(t, merged[i].Timestamp.After(merged[i-1].Timestamp), "merged timeline must be newest first")
	}
}

func TestIncidentMetricsPatch_ApplyMergesOnlyProvidedFields(t *testing.T) {
	metrics := IncidentMetrics{RequestsBlocked: 10, UniqueBots: 2, PeakRPS: 50, DurationSeconds: 7}
	blocked := int64(25)
	patch := &IncidentMetricsPatch{RequestsBlocked: &blocked}

	patch.Apply(&metrics)

	assert.Equal(t, int64(25), metrics.RequestsBlocked)
	assert.Equal(t, int64(2), metrics.UniqueBots)
	assert.Equal(t, float64(50), metrics.PeakRPS)
	assert.Equal(t, int64(7), metrics.DurationSeconds, "duration is never patched")

	var nilPatch *IncidentMetricsPatch
	nilPatch.Apply(&metrics)
	assert.Equal(t, int64(25), metrics.RequestsBlocked)
}

func TestIncidentSeverity_RequiresAlert(t *testing.T) {
	assert.False(t, IncidentSeverityLow.RequiresAlert())
	assert.False(t, IncidentSeverityMedium.RequiresAlert())
	assert.True(t, IncidentSeverityHigh.RequiresAlert())
	assert.True(t, IncidentSeverityCritical.RequiresAlert())
}
