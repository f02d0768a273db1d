package api

import (
	"net/http"

	"botguard/core"
)

// captchaConfigResponse pairs the config with its running statistics.
// Secret keys are redacted before leaving the process.
type captchaConfigResponse struct {
	Config *core.CaptchaConfig    `json:"config"`
	Stats  core.VerificationStats `json:"stats"`
}

// redactSecrets blanks secret keys on an already-cloned config
func redactSecrets(cfg *core.CaptchaConfig) *core.CaptchaConfig {
	for provider, keys := range cfg.SiteKeys {
		keys.SecretKey = ""
		cfg.SiteKeys[provider] = keys
	}
	return cfg
}

// getCaptchaConfig handles GET /api/v1/captcha/config
func (a *API) getCaptchaConfig(w http.ResponseWriter, r *http.Request) {
	cfg, stats := a.captchaService.GetConfig()
	respondJSON(w, http.StatusOK, captchaConfigResponse{
		Config: redactSecrets(cfg),
		Stats:  stats,
	}, a.logger)
}

// updateCaptchaConfig handles PUT /api/v1/captcha/config. The payload is a
// partial update; omitted fields keep their current values.
func (a *API) updateCaptchaConfig(w http.ResponseWriter, r *http.Request) {
	var patch core.CaptchaConfigPatch
	if err := decodeJSONBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}

	cfg, err := a.captchaService.UpdateConfig(&patch)
	if err != nil {
		writeServiceError(w, err, a.logger)
		return
	}
	respondJSON(w, http.StatusOK, redactSecrets(cfg), a.logger)
}

// verifyCaptchaRequest is the token verification payload. Context carries
// the request attributes, at minimum the client "ip".
type verifyCaptchaRequest struct {
	Token    string               `json:"token"`
	Provider core.CaptchaProvider `json:"provider,omitempty"`
	Context  core.RequestContext  `json:"context,omitempty"`
}

// verifyCaptcha handles POST /api/v1/captcha/verify
func (a *API) verifyCaptcha(w http.ResponseWriter, r *http.Request) {
	var req verifyCaptchaRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil, a.logger)
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required", nil, a.logger)
		return
	}
	if req.Context == nil {
		req.Context = core.RequestContext{"ip": requestIP(r)}
	}

	result := a.captchaService.Verify(r.Context(), req.Token, req.Provider, req.Context)
	respondJSON(w, http.StatusOK, result, a.logger)
}
