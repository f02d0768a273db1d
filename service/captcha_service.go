package service

import (
	"context"
	"fmt"
	"sync"

	"botguard/captcha"
	"botguard/core"
	"botguard/storage"

	"go.uber.org/zap"
)

// CaptchaService manages the process-wide CAPTCHA configuration. Admin
// updates are serialized here; the verifier only ever sees fully merged,
// validated snapshots.
type CaptchaService struct {
	captchaStorage storage.CaptchaStorageInterface
	verifier       *captcha.Verifier
	logger         *zap.SugaredLogger

	// mu serializes read-merge-persist-swap cycles of UpdateConfig
	mu sync.Mutex
}

// NewCaptchaService creates a new CaptchaService. All dependencies are
// required.
func NewCaptchaService(captchaStorage storage.CaptchaStorageInterface, verifier *captcha.Verifier, logger *zap.SugaredLogger) *CaptchaService {
	if captchaStorage == nil {
		panic("captchaStorage is required")
	}
	if verifier == nil {
		panic("verifier is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &CaptchaService{captchaStorage: captchaStorage, verifier: verifier, logger: logger}
}

// Verify validates one challenge token against the live configuration
func (s *CaptchaService) Verify(ctx context.Context, token string, provider core.CaptchaProvider, reqCtx core.RequestContext) captcha.Result {
	return s.verifier.Verify(ctx, token, provider, reqCtx)
}

// GetConfig returns the live configuration and running statistics
func (s *CaptchaService) GetConfig() (*core.CaptchaConfig, core.VerificationStats) {
	return s.verifier.Config().Clone(), s.verifier.Stats()
}

// UpdateConfig merges the patch into the current configuration, validates the
// result, persists it and swaps it into the verifier. In-flight verifications
// keep the snapshot they started with.
func (s *CaptchaService) UpdateConfig(patch *core.CaptchaConfigPatch) (*core.CaptchaConfig, error) {
	if patch == nil {
		return nil, fmt.Errorf("%w: config payload is required", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	merged := patch.Apply(s.verifier.Config())
	if err := merged.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	stats := s.verifier.Stats()
	if err := s.captchaStorage.SaveCaptchaConfig(merged, &stats); err != nil {
		return nil, fmt.Errorf("failed to persist captcha config: %w", err)
	}
	s.verifier.SetConfig(merged)

	s.logger.Infow("Captcha config updated",
		"provider", string(merged.Provider),
		"enabled", merged.Enabled,
		"score_threshold", merged.ScoreThreshold,
		"failure_policy", string(merged.FailurePolicy))
	return merged.Clone(), nil
}

// PersistStats writes the current verification statistics alongside the
// stored config. Called periodically and on shutdown.
func (s *CaptchaService) PersistStats() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.verifier.Stats()
	return s.captchaStorage.SaveCaptchaConfig(s.verifier.Config(), &stats)
}
