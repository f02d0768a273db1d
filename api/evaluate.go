package api

import (
	"net/http"

	"botguard/core"
	"botguard/detect"
	"botguard/metrics"
	"botguard/service"

	"go.uber.org/zap"
)

// Evaluator resolves one inbound request context to an effective action. It
// wraps the engine decision with the runtime pieces a decision alone cannot
// carry: token buckets for rate_limit actions and automated incident
// detection for blocks.
type Evaluator struct {
	engine          *detect.Engine
	limiters        *detect.RateLimiterCache
	incidentService *service.IncidentService
	logger          *zap.SugaredLogger
}

// NewEvaluator creates an evaluator. The incident service is optional;
// without it, blocks are not fed into automated detection.
func NewEvaluator(engine *detect.Engine, limiters *detect.RateLimiterCache, incidentService *service.IncidentService, logger *zap.SugaredLogger) *Evaluator {
	if engine == nil {
		panic("engine is required")
	}
	if limiters == nil {
		panic("limiters is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Evaluator{
		engine:          engine,
		limiters:        limiters,
		incidentService: incidentService,
		logger:          logger,
	}
}

// EvaluateResponse is the decision returned to the enforcement point.
// EffectiveAction folds rate_limit resolution into a final verdict: a
// rate_limit match within budget reports allow, over budget reports block.
type EvaluateResponse struct {
	EffectiveAction core.ActionType `json:"effective_action"`
	Decision        detect.Decision `json:"decision"`
	RateLimited     bool            `json:"rate_limited,omitempty"`
}

// Evaluate resolves a request context end to end
func (e *Evaluator) Evaluate(reqCtx core.RequestContext) EvaluateResponse {
	decision := e.engine.Evaluate(reqCtx)
	resp := EvaluateResponse{
		EffectiveAction: decision.Action.Type,
		Decision:        decision,
	}

	if decision.MatchedRule == nil {
		return resp
	}
	rule := decision.MatchedRule

	if decision.Action.Type == core.ActionRateLimit && decision.Action.RateLimit != nil {
		if e.limiters.Allow(clientKey(reqCtx), rule.ID, *decision.Action.RateLimit) {
			resp.EffectiveAction = core.ActionAllow
			metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
		} else {
			resp.EffectiveAction = core.ActionBlock
			resp.RateLimited = true
			metrics.RateLimitDecisions.WithLabelValues("limited").Inc()
		}
	}

	if resp.EffectiveAction == core.ActionBlock && e.incidentService != nil {
		ip, _ := reqCtx.Lookup("ip")
		ua, _ := reqCtx.Lookup("userAgent")
		ipStr, _ := ip.(string)
		uaStr, _ := ua.(string)
		e.incidentService.RecordMatch(rule.ID, rule.Name, ipStr, uaStr)
	}
	return resp
}

// clientKey identifies the client for rate limiting. IP is the primary key;
// a missing IP falls back to a shared bucket.
func clientKey(reqCtx core.RequestContext) string {
	if value, ok := reqCtx.Lookup("ip"); ok {
		if ip, ok := value.(string); ok && ip != "" {
			return ip
		}
	}
	return "unknown"
}

// evaluateRequest handles POST /api/v1/evaluate. The body is the request
// context to evaluate; evaluation itself never fails, so the only error
// surface is a malformed body.
func (a *API) evaluateRequest(w http.ResponseWriter, r *http.Request) {
	var reqCtx core.RequestContext
	if err := decodeJSONBody(r, &reqCtx); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	if reqCtx == nil {
		reqCtx = core.RequestContext{}
	}
	if _, ok := reqCtx.Lookup("ip"); !ok {
		reqCtx["ip"] = requestIP(r)
	}

	respondJSON(w, http.StatusOK, a.evaluator.Evaluate(reqCtx), a.logger)
}
