package api

import (
	"net/http"

	"botguard/core"
	"botguard/storage"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
)

// listRulesResponse is the paginated rule listing envelope
type listRulesResponse struct {
	Rules  []core.Rule `json:"rules"`
	Total  int64       `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// listRules handles GET /api/v1/rules
func (a *API) listRules(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationParams(r)
	rules, total, err := a.ruleService.ListRules(limit, offset)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	if rules == nil {
		rules = []core.Rule{}
	}
	respondJSON(w, http.StatusOK, listRulesResponse{
		Rules:  rules,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, a.logger)
}

// getRule handles GET /api/v1/rules/{id}
func (a *API) getRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	rule, err := a.ruleService.GetRule(id)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, rule, a.logger)
}

// createRule handles POST /api/v1/rules
func (a *API) createRule(w http.ResponseWriter, r *http.Request) {
	var rule core.Rule
	if err := decodeJSONBody(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	validate := validator.New()
	if err := validate.Struct(rule); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err, a.logger)
		return
	}

	created, err := a.ruleService.CreateRule(&rule, requestActor(r))
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusCreated, created, a.logger)
}

// updateRule handles PUT /api/v1/rules/{id}
func (a *API) updateRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var rule core.Rule
	if err := decodeJSONBody(r, &rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	validate := validator.New()
	if err := validate.Struct(rule); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err, a.logger)
		return
	}

	updated, err := a.ruleService.UpdateRule(id, &rule, requestActor(r))
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, updated, a.logger)
}

// deleteRule handles DELETE /api/v1/rules/{id}
func (a *API) deleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := a.ruleService.DeleteRule(id); err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusNoContent, nil, a.logger)
}

// toggleRule handles POST /api/v1/rules/{id}/toggle
func (a *API) toggleRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	enabled, err := a.ruleService.ToggleRule(id)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"id": id, "enabled": enabled}, a.logger)
}

// testRuleRequest carries a candidate rule and a sample request context
type testRuleRequest struct {
	Rule    core.Rule           `json:"rule"`
	Context core.RequestContext `json:"context"`
}

// testRule handles POST /api/v1/rules/test. The rule does not need to be
// persisted; hit counters are never touched.
func (a *API) testRule(w http.ResponseWriter, r *http.Request) {
	var req testRuleRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	result, err := a.ruleService.TestRule(&req.Rule, req.Context)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, result, a.logger)
}

// reorderRulesRequest is the bulk priority reassignment payload
type reorderRulesRequest struct {
	Rules []storage.RulePriority `json:"rules"`
}

// reorderRules handles POST /api/v1/rules/reorder. The batch applies
// atomically; a missing rule ID rejects the whole request.
func (a *API) reorderRules(w http.ResponseWriter, r *http.Request) {
	var req reorderRulesRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	if err := a.ruleService.ReorderRules(req.Rules); err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"updated": len(req.Rules)}, a.logger)
}
