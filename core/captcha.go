package core

import (
	"fmt"
	"time"
)

// CaptchaProvider identifies an external challenge provider
type CaptchaProvider string

const (
	ProviderRecaptcha CaptchaProvider = "recaptcha"
	ProviderHCaptcha  CaptchaProvider = "hcaptcha"
	ProviderTurnstile CaptchaProvider = "turnstile"
)

// IsValid checks if the captcha provider is valid
func (p CaptchaProvider) IsValid() bool {
	switch p {
	case ProviderRecaptcha, ProviderHCaptcha, ProviderTurnstile:
		return true
	}
	return false
}

// SiteKeys holds the key pair for one provider
type SiteKeys struct {
	SiteKey   string `json:"site_key"`
	SecretKey string `json:"secret_key"`
}

// FailurePolicy controls how a provider timeout or error resolves.
// Fail-closed treats it as a failed verification (toward block); fail-open
// permits the request.
type FailurePolicy string

const (
	FailClosed FailurePolicy = "fail_closed"
	FailOpen   FailurePolicy = "fail_open"
)

// IsValid checks if the failure policy is valid
func (p FailurePolicy) IsValid() bool {
	return p == FailClosed || p == FailOpen
}

// CaptchaConfig is the process-wide CAPTCHA configuration. It is mutated only
// by admin updates and read as an immutable snapshot by every verification;
// callers must treat a config they receive as read-only.
type CaptchaConfig struct {
	Provider       CaptchaProvider             `json:"provider" example:"turnstile"`
	Enabled        bool                        `json:"enabled"`
	ScoreThreshold float64                     `json:"score_threshold" validate:"min=0,max=1" example:"0.5"`
	SiteKeys       map[CaptchaProvider]SiteKeys `json:"site_keys,omitempty"`
	Routes         []string                    `json:"routes,omitempty"`
	ExcludedIPs    []string                    `json:"excluded_ips,omitempty"`
	FailurePolicy  FailurePolicy               `json:"failure_policy" example:"fail_closed"`
	VerifyTimeout  time.Duration               `json:"verify_timeout" swaggertype:"integer" example:"5000000000"`
}

// DefaultCaptchaConfig returns the config used before any admin update
func DefaultCaptchaConfig() *CaptchaConfig {
	return &CaptchaConfig{
		Provider:       ProviderRecaptcha,
		Enabled:        false,
		ScoreThreshold: 0.5,
		SiteKeys:       map[CaptchaProvider]SiteKeys{},
		FailurePolicy:  FailClosed,
		VerifyTimeout:  5 * time.Second,
	}
}

// Validate validates the captcha configuration
func (c *CaptchaConfig) Validate() error {
	if !c.Provider.IsValid() {
		return fmt.Errorf("invalid captcha provider: %s", c.Provider)
	}
	if c.ScoreThreshold < 0 || c.ScoreThreshold > 1 {
		return fmt.Errorf("score threshold must be between 0 and 1, got %v", c.ScoreThreshold)
	}
	if !c.FailurePolicy.IsValid() {
		return fmt.Errorf("invalid failure policy: %s", c.FailurePolicy)
	}
	if c.VerifyTimeout <= 0 {
		return fmt.Errorf("verify timeout must be positive, got %v", c.VerifyTimeout)
	}
	return nil
}

// Clone returns a deep copy of the config for snapshot swapping
func (c *CaptchaConfig) Clone() *CaptchaConfig {
	out := *c
	out.SiteKeys = make(map[CaptchaProvider]SiteKeys, len(c.SiteKeys))
	for k, v := range c.SiteKeys {
		out.SiteKeys[k] = v
	}
	out.Routes = append([]string(nil), c.Routes...)
	out.ExcludedIPs = append([]string(nil), c.ExcludedIPs...)
	return &out
}

// CaptchaConfigPatch is a partial admin update. Only non-nil fields are
// merged into the current config.
type CaptchaConfigPatch struct {
	Provider       *CaptchaProvider             `json:"provider,omitempty"`
	Enabled        *bool                        `json:"enabled,omitempty"`
	ScoreThreshold *float64                     `json:"score_threshold,omitempty"`
	SiteKeys       map[CaptchaProvider]SiteKeys `json:"site_keys,omitempty"`
	Routes         *[]string                    `json:"routes,omitempty"`
	ExcludedIPs    *[]string                    `json:"excluded_ips,omitempty"`
	FailurePolicy  *FailurePolicy               `json:"failure_policy,omitempty"`
	VerifyTimeout  *time.Duration               `json:"verify_timeout,omitempty"`
}

// Apply merges the patch into a copy of cfg and returns it. The original is
// left untouched so in-flight verifications keep a consistent snapshot.
func (p *CaptchaConfigPatch) Apply(cfg *CaptchaConfig) *CaptchaConfig {
	out := cfg.Clone()
	if p == nil {
		return out
	}
	if p.Provider != nil {
		out.Provider = *p.Provider
	}
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	if p.ScoreThreshold != nil {
		out.ScoreThreshold = *p.ScoreThreshold
	}
	for k, v := range p.SiteKeys {
		out.SiteKeys[k] = v
	}
	if p.Routes != nil {
		out.Routes = append([]string(nil), (*p.Routes)...)
	}
	if p.ExcludedIPs != nil {
		out.ExcludedIPs = append([]string(nil), (*p.ExcludedIPs)...)
	}
	if p.FailurePolicy != nil {
		out.FailurePolicy = *p.FailurePolicy
	}
	if p.VerifyTimeout != nil {
		out.VerifyTimeout = *p.VerifyTimeout
	}
	return out
}

// VerificationStats holds running CAPTCHA verification statistics.
// AverageScore is maintained online: avg += (score - avg) / total.
type VerificationStats struct {
	TotalVerifications      uint64  `json:"total_verifications"`
	SuccessfulVerifications uint64  `json:"successful_verifications"`
	FailedVerifications     uint64  `json:"failed_verifications"`
	AverageScore            float64 `json:"average_score"`
}
