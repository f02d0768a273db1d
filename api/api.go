package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"botguard/config"
	"botguard/service"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// rateLimiterEntry holds a per-IP rate limiter with last seen time
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API holds the HTTP server: the admin surface for rules, incidents and
// CAPTCHA configuration plus the evaluation and verification endpoints.
type API struct {
	router *mux.Router
	server *http.Server

	ruleService     *service.RuleService
	incidentService *service.IncidentService
	captchaService  *service.CaptchaService
	evaluator       *Evaluator

	config *config.Config
	logger *zap.SugaredLogger

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
}

// NewAPI creates a new API server
func NewAPI(ruleService *service.RuleService, incidentService *service.IncidentService,
	captchaService *service.CaptchaService, evaluator *Evaluator,
	cfg *config.Config, logger *zap.SugaredLogger) *API {
	if logger == nil {
		panic("logger is required")
	}
	api := &API{
		router:          mux.NewRouter(),
		ruleService:     ruleService,
		incidentService: incidentService,
		captchaService:  captchaService,
		evaluator:       evaluator,
		config:          cfg,
		logger:          logger,
		rateLimiters:    make(map[string]*rateLimiterEntry),
		stopCh:          make(chan struct{}),
	}
	api.setupRoutes()
	go api.cleanupRateLimiters()
	return api
}

// Router exposes the configured router, mainly for tests
func (a *API) Router() *mux.Router {
	return a.router
}

// setupRoutes sets up the API routes
func (a *API) setupRoutes() {
	a.router.Use(a.corsMiddleware)
	a.router.Use(a.rateLimitMiddleware)

	v1 := a.router.PathPrefix("/api/v1").Subrouter()

	v1.HandleFunc("/evaluate", a.evaluateRequest).Methods("POST")

	v1.HandleFunc("/rules", a.listRules).Methods("GET")
	v1.HandleFunc("/rules", a.createRule).Methods("POST")
	v1.HandleFunc("/rules/reorder", a.reorderRules).Methods("POST")
	v1.HandleFunc("/rules/test", a.testRule).Methods("POST")
	v1.HandleFunc("/rules/{id}", a.getRule).Methods("GET")
	v1.HandleFunc("/rules/{id}", a.updateRule).Methods("PUT")
	v1.HandleFunc("/rules/{id}", a.deleteRule).Methods("DELETE")
	v1.HandleFunc("/rules/{id}/toggle", a.toggleRule).Methods("POST")

	v1.HandleFunc("/incidents", a.listIncidents).Methods("GET")
	v1.HandleFunc("/incidents", a.createIncident).Methods("POST")
	v1.HandleFunc("/incidents/active", a.getActiveIncidents).Methods("GET")
	v1.HandleFunc("/incidents/{id}", a.getIncident).Methods("GET")
	v1.HandleFunc("/incidents/{id}", a.updateIncident).Methods("PATCH")
	v1.HandleFunc("/incidents/{id}", a.deleteIncident).Methods("DELETE")
	v1.HandleFunc("/incidents/{id}/actions", a.addIncidentAction).Methods("POST")
	v1.HandleFunc("/incidents/{id}/timeline", a.getIncidentTimeline).Methods("GET")
	v1.HandleFunc("/incidents/{id}/resolve", a.resolveIncident).Methods("POST")

	v1.HandleFunc("/captcha/config", a.getCaptchaConfig).Methods("GET")
	v1.HandleFunc("/captcha/config", a.updateCaptchaConfig).Methods("PUT")
	v1.HandleFunc("/captcha/verify", a.verifyCaptcha).Methods("POST")

	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler())
}

// Start starts the API server
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:         addr,
		Handler:      a.router,
		ReadTimeout:  a.config.API.ReadTimeout,
		WriteTimeout: a.config.API.WriteTimeout,
	}
	return a.server.ListenAndServe()
}

// Stop stops the API server
func (a *API) Stop(ctx context.Context) error {
	close(a.stopCh)
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// healthCheck handles the health check endpoint
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, a.logger)
}

// corsMiddleware applies the configured CORS policy
func (a *API) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range a.config.API.AllowedOrigins {
			if origin == allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				break
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimitMiddleware applies the per-IP request budget. Exempt IPs and the
// health endpoint bypass it.
func (a *API) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		ip := requestIP(r)
		for _, exempt := range a.config.API.RateLimit.ExemptIPs {
			if ip == exempt {
				next.ServeHTTP(w, r)
				return
			}
		}

		if !a.limiterFor(ip).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded", nil, a.logger)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// limiterFor returns the rate limiter for one client IP, creating it on
// first sight
func (a *API) limiterFor(ip string) *rate.Limiter {
	a.rateLimitersMu.Lock()
	defer a.rateLimitersMu.Unlock()

	entry, ok := a.rateLimiters[ip]
	if !ok {
		entry = &rateLimiterEntry{
			limiter: rate.NewLimiter(
				rate.Limit(a.config.API.RateLimit.RequestsPerSecond),
				a.config.API.RateLimit.Burst),
		}
		a.rateLimiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

// cleanupRateLimiters drops limiters for clients not seen recently
func (a *API) cleanupRateLimiters() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-10 * time.Minute)
			a.rateLimitersMu.Lock()
			for ip, entry := range a.rateLimiters {
				if entry.lastSeen.Before(cutoff) {
					delete(a.rateLimiters, ip)
				}
			}
			a.rateLimitersMu.Unlock()
		}
	}
}
