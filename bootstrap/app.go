package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"botguard/api"
	"botguard/captcha"
	"botguard/config"
	"botguard/core"
	"botguard/detect"
	"botguard/notify"
	"botguard/service"
	"botguard/storage"

	"go.uber.org/zap"
)

// App wires the botguard components together and owns their lifecycle
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	SQLite *storage.SQLite

	Engine   *detect.Engine
	Limiters *detect.RateLimiterCache
	Verifier *captcha.Verifier

	RuleService     *service.RuleService
	IncidentService *service.IncidentService
	CaptchaService  *service.CaptchaService

	APIServer *api.API

	shutdownCh chan struct{}
	flushDone  chan struct{}
}

// NewApp creates a new application instance and initializes all components
func NewApp(ctx context.Context) (*App, error) {
	app := &App{
		shutdownCh: make(chan struct{}),
		flushDone:  make(chan struct{}),
	}

	// Config has to load before the logger so the level is known
	cfg, err := InitConfig()
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	logger, sugar, err := InitLogger(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("botguard starting...")
	if ConfigFileUsed() == "" {
		sugar.Info("No config file found, using defaults and env vars")
	}

	if err := EnsureDataDirectories(cfg, sugar); err != nil {
		return nil, err
	}

	sqlite, err := storage.NewSQLite(cfg.DataPaths.SQLitePath, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	app.SQLite = sqlite

	ruleStorage := storage.NewSQLiteRuleStorage(sqlite, sugar)
	incidentStorage := storage.NewSQLiteIncidentStorage(sqlite, sugar)
	captchaStorage := storage.NewSQLiteCaptchaStorage(sqlite, sugar)

	var broadcaster notify.Broadcaster
	if cfg.Alerts.Enabled {
		broadcaster = notify.NewHTTPBroadcaster(cfg.Alerts.Channels, cfg.Alerts.Timeout, sugar)
		sugar.Infow("Alert broadcasting enabled", "channels", len(cfg.Alerts.Channels))
	}

	rules, err := ruleStorage.GetAllRules()
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	app.Engine = detect.NewEngine(rules, sugar)

	limiters, err := detect.NewRateLimiterCache(cfg.Engine.RateLimiterCacheSize)
	if err != nil {
		return nil, err
	}
	app.Limiters = limiters

	captchaCfg, captchaStats, err := captchaStorage.GetCaptchaConfig()
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("failed to load captcha config: %w", err)
		}
		captchaCfg = core.DefaultCaptchaConfig()
		captchaCfg.VerifyTimeout = cfg.Captcha.VerifyTimeout
		captchaStats = &core.VerificationStats{}
	}
	app.Verifier = captcha.NewVerifier(captchaCfg, captcha.NewHTTPProviderClient(), broadcaster, sugar)
	app.Verifier.SetStats(*captchaStats)

	app.RuleService = service.NewRuleService(ruleStorage, app.Engine, sugar)
	app.IncidentService = service.NewIncidentService(incidentStorage, broadcaster, sugar)
	app.CaptchaService = service.NewCaptchaService(captchaStorage, app.Verifier, sugar)

	evaluator := api.NewEvaluator(app.Engine, app.Limiters, app.IncidentService, sugar)
	app.APIServer = api.NewAPI(app.RuleService, app.IncidentService, app.CaptchaService, evaluator, cfg, sugar)

	return app, nil
}

// Start launches the API server and the background hit-count flusher
func (app *App) Start(ctx context.Context) error {
	go app.flushLoop()

	addr := fmt.Sprintf("%s:%d", app.Config.API.Host, app.Config.API.Port)
	app.Sugar.Infow("API server listening", "addr", addr)
	go func() {
		if err := app.APIServer.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Sugar.Errorw("API server failed", "error", err)
		}
	}()
	return nil
}

// flushLoop periodically persists rule hit counters and captcha statistics
func (app *App) flushLoop() {
	defer close(app.flushDone)
	ticker := time.NewTicker(app.Config.Engine.HitFlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-app.shutdownCh:
			return
		case <-ticker.C:
			if err := app.RuleService.FlushHitStats(); err != nil {
				app.Sugar.Warnw("Hit stats flush failed", "error", err)
			}
			if err := app.CaptchaService.PersistStats(); err != nil {
				app.Sugar.Warnw("Captcha stats flush failed", "error", err)
			}
		}
	}
}

// WaitForShutdown blocks until SIGINT or SIGTERM
func (app *App) WaitForShutdown() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	app.Sugar.Infow("Shutdown signal received", "signal", sig.String())
}

// Shutdown stops the server and flushes state one last time
func (app *App) Shutdown() {
	app.Sugar.Info("Shutting down...")

	close(app.shutdownCh)
	<-app.flushDone

	ctx, cancel := context.WithTimeout(context.Background(), app.Config.API.ShutdownTimeout)
	defer cancel()
	if err := app.APIServer.Stop(ctx); err != nil {
		app.Sugar.Warnw("API shutdown failed", "error", err)
	}

	if err := app.RuleService.FlushHitStats(); err != nil {
		app.Sugar.Warnw("Final hit stats flush failed", "error", err)
	}
	if err := app.CaptchaService.PersistStats(); err != nil {
		app.Sugar.Warnw("Final captcha stats flush failed", "error", err)
	}

	if err := app.SQLite.Close(); err != nil {
		app.Sugar.Warnw("SQLite close failed", "error", err)
	}

	app.Sugar.Info("Shutdown complete")
	_ = app.Logger.Sync()
}
