package api

import (
	"net/http"

	"botguard/core"
	"botguard/service"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// listIncidentsResponse is the paginated incident listing envelope
type listIncidentsResponse struct {
	Incidents []core.Incident `json:"incidents"`
	Total     int64           `json:"total"`
	Limit     int             `json:"limit"`
	Offset    int             `json:"offset"`
}

// listIncidents handles GET /api/v1/incidents
func (a *API) listIncidents(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)
	incidents, total, err := a.incidentService.ListIncidents(limit, offset)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	if incidents == nil {
		incidents = []core.Incident{}
	}
	respondJSON(w, http.StatusOK, listIncidentsResponse{
		Incidents: incidents,
		Total:     total,
		Limit:     limit,
		Offset:    offset,
	}, a.logger)
}

// getActiveIncidents handles GET /api/v1/incidents/active
func (a *API) getActiveIncidents(w http.ResponseWriter, r *http.Request) {
	incidents, err := a.incidentService.GetActiveIncidents()
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	if incidents == nil {
		incidents = []core.Incident{}
	}
	respondJSON(w, http.StatusOK, incidents, a.logger)
}

// getIncident handles GET /api/v1/incidents/{id}
func (a *API) getIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	incident, err := a.incidentService.GetIncident(id)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, incident, a.logger)
}

// createIncidentRequest is the incident creation payload
type createIncidentRequest struct {
	Title       string                `json:"title" validate:"required,min=1,max=200"`
	Description string                `json:"description" validate:"max=5000"`
	Severity    core.IncidentSeverity `json:"severity" validate:"required"`
	Type        core.IncidentType     `json:"type"`
}

// createIncident handles POST /api/v1/incidents
func (a *API) createIncident(w http.ResponseWriter, r *http.Request) {
	var req createIncidentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	validate := validator.New()
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err, a.logger)
		return
	}

	incident, err := a.incidentService.CreateIncident(req.Title, req.Description, req.Severity, req.Type, requestActor(r))
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusCreated, incident, a.logger)
}

// updateIncident handles PATCH /api/v1/incidents/{id}
func (a *API) updateIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var update service.IncidentUpdate
	if err := decodeJSONBody(r, &update); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	incident, err := a.incidentService.UpdateIncident(id, &update)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, incident, a.logger)
}

// deleteIncident handles DELETE /api/v1/incidents/{id}
func (a *API) deleteIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.incidentService.DeleteIncident(id); err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusNoContent, nil, a.logger)
}

// addActionRequest is the operator action payload
type addActionRequest struct {
	Action string `json:"action"`
	Notes  string `json:"notes"`
}

// addIncidentAction handles POST /api/v1/incidents/{id}/actions
func (a *API) addIncidentAction(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req addActionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	incident, err := a.incidentService.AddAction(id, req.Action, requestActor(r), req.Notes)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusCreated, incident, a.logger)
}

// getIncidentTimeline handles GET /api/v1/incidents/{id}/timeline. Returns
// timeline and actions merged, newest first, each entry tagged with its
// origin.
func (a *API) getIncidentTimeline(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	timeline, err := a.incidentService.GetTimeline(id)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, timeline, a.logger)
}

// resolveIncidentRequest is the resolution payload
type resolveIncidentRequest struct {
	Summary            string   `json:"summary"`
	PreventiveMeasures []string `json:"preventive_measures"`
}

// resolveIncident handles POST /api/v1/incidents/{id}/resolve
func (a *API) resolveIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req resolveIncidentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	incident, err := a.incidentService.ResolveIncident(id, req.Summary, requestActor(r), req.PreventiveMeasures)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, incident, a.logger)
}
