package captcha

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"botguard/core"
	"botguard/metrics"
	"botguard/notify"

	"go.uber.org/zap"
)

// Outcome classifies how a verification resolved. Provider errors are kept
// distinct from a genuine not-human determination for logs and metrics, even
// though both count as failed verifications in the running statistics.
type Outcome string

const (
	OutcomeVerified      Outcome = "verified"
	OutcomeFailed        Outcome = "failed"
	OutcomeProviderError Outcome = "provider_error"
	OutcomeExcluded      Outcome = "excluded"
	OutcomeDisabled      Outcome = "disabled"
)

// Result is the outcome of one token verification
type Result struct {
	Verified bool     `json:"verified"`
	Score    *float64 `json:"score,omitempty"`
	Outcome  Outcome  `json:"outcome"`
}

// Verifier validates challenge tokens against an external provider and
// maintains running verification statistics. Configuration is read as an
// immutable snapshot per verification and swapped atomically on admin
// update, so a concurrent config change never tears a verification.
type Verifier struct {
	config atomic.Pointer[core.CaptchaConfig]
	client ProviderClient

	statsMu sync.Mutex
	stats   core.VerificationStats

	broadcaster notify.Broadcaster
	logger      *zap.SugaredLogger
}

// NewVerifier creates a verifier with the given starting configuration
func NewVerifier(cfg *core.CaptchaConfig, client ProviderClient, broadcaster notify.Broadcaster, logger *zap.SugaredLogger) *Verifier {
	if client == nil {
		panic("provider client is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	if cfg == nil {
		cfg = core.DefaultCaptchaConfig()
	}
	v := &Verifier{
		client:      client,
		broadcaster: broadcaster,
		logger:      logger,
	}
	v.config.Store(cfg.Clone())
	return v
}

// Config returns the current configuration snapshot. Callers must not
// mutate it.
func (v *Verifier) Config() *core.CaptchaConfig {
	return v.config.Load()
}

// SetConfig atomically swaps in a new configuration
func (v *Verifier) SetConfig(cfg *core.CaptchaConfig) {
	v.config.Store(cfg.Clone())
}

// Stats returns a copy of the running verification statistics
func (v *Verifier) Stats() core.VerificationStats {
	v.statsMu.Lock()
	defer v.statsMu.Unlock()
	return v.stats
}

// SetStats restores persisted statistics at startup
func (v *Verifier) SetStats(stats core.VerificationStats) {
	v.statsMu.Lock()
	defer v.statsMu.Unlock()
	v.stats = stats
}

// Verify validates one challenge token. The provider call carries the
// configured timeout; a provider error or timeout resolves per the
// configured failure policy (fail-closed by default, i.e. not verified).
// Every call updates the running statistics, and every call publishes a
// challenge event; publish failures are logged and never fail verification.
func (v *Verifier) Verify(ctx context.Context, token string, provider core.CaptchaProvider, reqCtx core.RequestContext) Result {
	cfg := v.config.Load()
	ip := clientIP(reqCtx)

	if provider == "" {
		provider = cfg.Provider
	}

	result := v.verify(ctx, cfg, provider, token, ip)

	v.recordStats(result)
	metrics.CaptchaVerifications.WithLabelValues(string(provider), string(result.Outcome)).Inc()
	v.publishChallengeEvent(provider, ip, result)

	return result
}

// verify resolves the token without touching statistics
func (v *Verifier) verify(ctx context.Context, cfg *core.CaptchaConfig, provider core.CaptchaProvider, token, ip string) Result {
	if !cfg.Enabled {
		return Result{Verified: true, Outcome: OutcomeDisabled}
	}

	for _, excluded := range cfg.ExcludedIPs {
		if excluded == ip {
			return Result{Verified: true, Outcome: OutcomeExcluded}
		}
	}

	keys, ok := cfg.SiteKeys[provider]
	if !ok || keys.SecretKey == "" {
		v.logger.Errorw("No secret key configured for captcha provider", "provider", string(provider))
		return v.resolveProviderFailure(cfg, fmt.Errorf("no secret key for provider %s", provider))
	}

	verifyCtx, cancel := context.WithTimeout(ctx, cfg.VerifyTimeout)
	defer cancel()

	res, err := v.client.Verify(verifyCtx, provider, keys.SecretKey, token, ip)
	if err != nil {
		return v.resolveProviderFailure(cfg, err)
	}

	result := Result{Score: res.Score}
	switch {
	case res.Success != nil:
		// The provider's boolean determination is authoritative
		result.Verified = *res.Success
	case res.Score != nil:
		result.Verified = *res.Score >= cfg.ScoreThreshold
	default:
		result.Verified = false
	}

	if result.Verified {
		result.Outcome = OutcomeVerified
	} else {
		result.Outcome = OutcomeFailed
	}
	return result
}

// resolveProviderFailure applies the fail-open/fail-closed policy
func (v *Verifier) resolveProviderFailure(cfg *core.CaptchaConfig, err error) Result {
	v.logger.Warnw("Captcha provider error",
		"provider", string(cfg.Provider),
		"policy", string(cfg.FailurePolicy),
		"error", err)
	return Result{
		Verified: cfg.FailurePolicy == core.FailOpen,
		Outcome:  OutcomeProviderError,
	}
}

// recordStats updates the running statistics in O(1). The online mean is
// skipped when no numeric score is available.
func (v *Verifier) recordStats(result Result) {
	v.statsMu.Lock()
	defer v.statsMu.Unlock()

	v.stats.TotalVerifications++
	if result.Verified {
		v.stats.SuccessfulVerifications++
	} else {
		v.stats.FailedVerifications++
	}
	if result.Score != nil {
		v.stats.AverageScore += (*result.Score - v.stats.AverageScore) / float64(v.stats.TotalVerifications)
	}
}

// publishChallengeEvent pushes the verification outcome to dashboards
func (v *Verifier) publishChallengeEvent(provider core.CaptchaProvider, ip string, result Result) {
	if v.broadcaster == nil {
		return
	}
	verified := result.Verified
	event := notify.AlertEvent{
		Type:     notify.EventChallenge,
		Title:    fmt.Sprintf("Captcha %s", result.Outcome),
		IP:       ip,
		Provider: provider,
		Verified: &verified,
		Score:    result.Score,
		Details:  map[string]interface{}{"outcome": string(result.Outcome)},
	}
	if err := v.broadcaster.Publish(event); err != nil {
		v.logger.Warnw("Failed to publish challenge event", "error", err)
	}
}

// clientIP pulls the client address out of the request context
func clientIP(reqCtx core.RequestContext) string {
	if reqCtx == nil {
		return ""
	}
	if value, ok := reqCtx.Lookup("ip"); ok {
		if ip, ok := value.(string); ok {
			return ip
		}
	}
	return ""
}
