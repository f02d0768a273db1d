package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"botguard/core"

	"go.uber.org/zap"
)

// SQLiteCaptchaStorage persists the single process-wide CAPTCHA config row
type SQLiteCaptchaStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteCaptchaStorage creates a new SQLite captcha storage handler
func NewSQLiteCaptchaStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteCaptchaStorage {
	return &SQLiteCaptchaStorage{sqlite: sqlite, logger: logger}
}

// GetCaptchaConfig loads the stored config and statistics. Returns
// ErrNotFound when no config has ever been saved.
func (s *SQLiteCaptchaStorage) GetCaptchaConfig() (*core.CaptchaConfig, *core.VerificationStats, error) {
	var configJSON, statsJSON string
	err := s.sqlite.ReadDB.QueryRow("SELECT config, stats FROM captcha_config WHERE id = 1").
		Scan(&configJSON, &statsJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to load captcha config: %w", err)
	}

	cfg := &core.CaptchaConfig{}
	if err := json.Unmarshal([]byte(configJSON), cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal captcha config: %w", err)
	}
	stats := &core.VerificationStats{}
	if err := json.Unmarshal([]byte(statsJSON), stats); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal captcha stats: %w", err)
	}
	return cfg, stats, nil
}

// SaveCaptchaConfig upserts the config row
func (s *SQLiteCaptchaStorage) SaveCaptchaConfig(cfg *core.CaptchaConfig, stats *core.VerificationStats) error {
	configJSON, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal captcha config: %w", err)
	}
	if stats == nil {
		stats = &core.VerificationStats{}
	}
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal captcha stats: %w", err)
	}

	query := `INSERT INTO captcha_config (id, config, stats, updated_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET config = excluded.config, stats = excluded.stats,
		updated_at = excluded.updated_at`
	if _, err := s.sqlite.WriteDB.Exec(query, string(configJSON), string(statsJSON), time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save captcha config: %w", err)
	}
	return nil
}
