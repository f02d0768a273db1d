package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"botguard/core"
	"botguard/metrics"

	"go.uber.org/zap"
)

// AlertEventType distinguishes the kinds of events pushed to dashboards
type AlertEventType string

const (
	// EventIncident is published when a high or critical incident is created
	EventIncident AlertEventType = "incident"
	// EventChallenge is published for every CAPTCHA verification
	EventChallenge AlertEventType = "challenge"
)

// AlertEvent is the payload delivered to dashboards and on-call sinks
type AlertEvent struct {
	Type       AlertEventType         `json:"type"`
	Severity   core.IncidentSeverity  `json:"severity,omitempty"`
	Title      string                 `json:"title,omitempty"`
	Message    string                 `json:"message,omitempty"`
	IncidentID string                 `json:"incident_id,omitempty"`
	IP         string                 `json:"ip,omitempty"`
	Provider   core.CaptchaProvider   `json:"provider,omitempty"`
	Verified   *bool                  `json:"verified,omitempty"`
	Score      *float64               `json:"score,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Broadcaster is the fire-and-forget event sink. Publish failures are the
// caller's to log; they must never fail the operation that produced the
// event.
type Broadcaster interface {
	Publish(event AlertEvent) error
}

// ChannelType represents the type of notification channel
type ChannelType string

const (
	ChannelWebhook ChannelType = "webhook"
	ChannelSlack   ChannelType = "slack"
)

// ChannelConfig holds configuration for one notification channel
type ChannelConfig struct {
	Enabled bool        `json:"enabled" mapstructure:"enabled"`
	Type    ChannelType `json:"type" mapstructure:"type"`

	WebhookURL     string            `json:"webhook_url" mapstructure:"webhook_url"`
	WebhookMethod  string            `json:"webhook_method" mapstructure:"webhook_method"`
	WebhookHeaders map[string]string `json:"webhook_headers" mapstructure:"webhook_headers"`

	// MinSeverity filters incident events; challenge events always pass.
	MinSeverity core.IncidentSeverity `json:"min_severity" mapstructure:"min_severity"`
}

// HTTPBroadcaster fans events out to the configured webhook/slack channels
type HTTPBroadcaster struct {
	channels []ChannelConfig
	client   *http.Client
	logger   *zap.SugaredLogger
}

// NewHTTPBroadcaster creates a broadcaster for the given channels
func NewHTTPBroadcaster(channels []ChannelConfig, timeout time.Duration, logger *zap.SugaredLogger) *HTTPBroadcaster {
	if logger == nil {
		panic("logger is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPBroadcaster{
		channels: channels,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// severityRank orders severities for the MinSeverity filter
var severityRank = map[core.IncidentSeverity]int{
	core.IncidentSeverityLow:      0,
	core.IncidentSeverityMedium:   1,
	core.IncidentSeverityHigh:     2,
	core.IncidentSeverityCritical: 3,
}

// Publish delivers the event to every enabled channel. The first delivery
// error is returned after all channels have been attempted; partial delivery
// is acceptable for a fire-and-forget sink.
func (b *HTTPBroadcaster) Publish(event AlertEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	var firstErr error
	for _, ch := range b.channels {
		if !ch.Enabled {
			continue
		}
		if !b.passesFilter(ch, event) {
			continue
		}

		var err error
		switch ch.Type {
		case ChannelWebhook:
			err = b.sendWebhook(ch, event)
		case ChannelSlack:
			err = b.sendSlack(ch, event)
		default:
			err = fmt.Errorf("unknown channel type: %s", ch.Type)
		}

		if err != nil {
			metrics.AlertPublishFailures.Inc()
			b.logger.Warnw("Alert broadcast failed",
				"channel", string(ch.Type),
				"event_type", string(event.Type),
				"error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// passesFilter applies the channel's severity filter to incident events
func (b *HTTPBroadcaster) passesFilter(ch ChannelConfig, event AlertEvent) bool {
	if event.Type != EventIncident || ch.MinSeverity == "" {
		return true
	}
	return severityRank[event.Severity] >= severityRank[ch.MinSeverity]
}

// sendWebhook posts the event as JSON to a generic webhook
func (b *HTTPBroadcaster) sendWebhook(ch ChannelConfig, event AlertEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	method := ch.WebhookMethod
	if method == "" {
		method = http.MethodPost
	}
	req, err := http.NewRequest(method, ch.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range ch.WebhookHeaders {
		req.Header.Set(k, v)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// sendSlack posts the event as a Slack incoming-webhook message
func (b *HTTPBroadcaster) sendSlack(ch ChannelConfig, event AlertEvent) error {
	text := fmt.Sprintf("[%s] %s", event.Type, event.Title)
	if event.Type == EventIncident {
		text = fmt.Sprintf(":rotating_light: [%s] %s — %s", event.Severity, event.Title, event.Message)
	}
	payload := map[string]interface{}{"text": text}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}

	resp, err := b.client.Post(ch.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}
