package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"botguard/core"
)

// Vendor siteverify endpoints. Only the normalized success/score shape is
// consumed from their responses.
var providerEndpoints = map[core.CaptchaProvider]string{
	core.ProviderRecaptcha: "https://www.google.com/recaptcha/api/siteverify",
	core.ProviderHCaptcha:  "https://hcaptcha.com/siteverify",
	core.ProviderTurnstile: "https://challenges.cloudflare.com/turnstile/v0/siteverify",
}

// maxProviderResponseSize caps how much of a vendor response is read
const maxProviderResponseSize = 64 * 1024

// ProviderResult is the normalized provider response. Success, when present,
// is authoritative; Score is only meaningful for score-based providers.
type ProviderResult struct {
	Success    *bool    `json:"success,omitempty"`
	Score      *float64 `json:"score,omitempty"`
	ErrorCodes []string `json:"error_codes,omitempty"`
}

// ProviderClient validates one challenge token with an external vendor
type ProviderClient interface {
	Verify(ctx context.Context, provider core.CaptchaProvider, secret, token, remoteIP string) (*ProviderResult, error)
}

// HTTPProviderClient posts tokens to the vendor siteverify endpoints
type HTTPProviderClient struct {
	client    *http.Client
	endpoints map[core.CaptchaProvider]string
}

// NewHTTPProviderClient creates a provider client. The per-call timeout comes
// from the verification context, not the transport.
func NewHTTPProviderClient() *HTTPProviderClient {
	return &HTTPProviderClient{
		client:    &http.Client{Timeout: 30 * time.Second},
		endpoints: providerEndpoints,
	}
}

// providerResponse is the raw wire shape shared by all three vendors
type providerResponse struct {
	Success    *bool    `json:"success"`
	IsHuman    *bool    `json:"isHuman"`
	Score      *float64 `json:"score"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify posts the token to the provider and normalizes the response
func (c *HTTPProviderClient) Verify(ctx context.Context, provider core.CaptchaProvider, secret, token, remoteIP string) (*ProviderResult, error) {
	endpoint, ok := c.endpoints[provider]
	if !ok {
		return nil, fmt.Errorf("unknown captcha provider: %s", provider)
	}

	form := url.Values{}
	form.Set("secret", secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProviderResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read provider response: %w", err)
	}

	var raw providerResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse provider response: %w", err)
	}

	result := &ProviderResult{Score: raw.Score, ErrorCodes: raw.ErrorCodes}
	// Some vendors report success, others isHuman; either is authoritative
	if raw.Success != nil {
		result.Success = raw.Success
	} else if raw.IsHuman != nil {
		result.Success = raw.IsHuman
	}
	return result, nil
}
