// Package worker provides the HTTP risk-scoring service.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/inspectrisk/internal/categorizer"
	"github.com/thebtf/inspectrisk/internal/config"
	"github.com/thebtf/inspectrisk/internal/db/gorm"
	"github.com/thebtf/inspectrisk/internal/maintenance"
	"github.com/thebtf/inspectrisk/internal/probability"
	"github.com/thebtf/inspectrisk/internal/rules"
	"github.com/thebtf/inspectrisk/internal/scoring"
	"github.com/thebtf/inspectrisk/internal/worker/sse"
	"github.com/thebtf/inspectrisk/pkg/models"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout is the default timeout for HTTP requests.
	DefaultHTTPTimeout = 30 * time.Second

	// EvaluateTimeout bounds a cross-validation request.
	EvaluateTimeout = 5 * time.Minute

	// ReadyPollInterval is how often WaitReady checks initialization status.
	ReadyPollInterval = 50 * time.Millisecond

	// MaxRequestBody caps request bodies; batches of a few thousand
	// records fit comfortably.
	MaxRequestBody = 16 << 20

	// EvaluateCooldown spaces out cross-validation runs.
	EvaluateCooldown = 10 * time.Second
)

// Service is the worker service orchestrator.
type Service struct {
	startTime time.Time

	// Lifecycle
	ctx       context.Context
	initError error
	cancel    context.CancelFunc

	// Configuration
	config *config.Config

	// Database (set by async init)
	store   *gorm.Store
	ruleDB  *gorm.RuleStore
	records *gorm.RecordStore

	// Risk pipeline
	engine       *probability.Engine
	adapter      *rules.Adapter
	categorizer  *categorizer.Categorizer
	scorer       *scoring.Scorer
	retrainer    *scoring.Retrainer
	rulesWatcher *rules.Watcher
	maintenance  *maintenance.Service

	// HTTP
	sseBroadcaster *sse.Broadcaster
	metrics        *Metrics
	auth           *TokenAuth
	limiter        *ClientLimiter
	evalCooldown   *CooldownLimiter
	router         *chi.Mux
	server         *http.Server

	log     zerolog.Logger
	version string
	wg      sync.WaitGroup
	initMu  sync.RWMutex
	ready   atomic.Bool
}

// NewService creates a worker service. The scoring pipeline is built
// immediately; the database is opened in the background and API routes
// answer 503 until it is ready.
func NewService(version string, cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.Get()
	}

	ctx, cancel := context.WithCancel(context.Background())

	engine := probability.NewEngine(cfg.EngineConfig())
	adapter := rules.NewAdapter(nil)
	cat := categorizer.New(cfg.CategorizerConfig())
	scorer := scoring.NewScorer(engine, adapter, cat, scoring.Config{Validation: cfg.ValidationConfig()})
	broadcaster := sse.NewBroadcaster()

	svc := &Service{
		version:        version,
		config:         cfg,
		engine:         engine,
		adapter:        adapter,
		categorizer:    cat,
		scorer:         scorer,
		sseBroadcaster: broadcaster,
		metrics:        NewMetrics(broadcaster.ClientCount),
		auth:           NewTokenAuth(cfg.AuthToken),
		limiter:        NewClientLimiter(50, 100),
		evalCooldown:   NewCooldownLimiter(EvaluateCooldown),
		router:         chi.NewRouter(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
		log:            log.With().Str("component", "worker").Logger(),
	}
	svc.metrics.ObserveRuleSet(adapter.Version(), "")
	svc.wireEvents()

	svc.setupMiddleware()
	svc.setupRoutes()

	go svc.initializeAsync()

	return svc, nil
}

// wireEvents connects pipeline notifications to metrics, the event stream
// and assessment persistence.
func (s *Service) wireEvents() {
	s.scorer.OnAssessment(func(res *models.RiskAssessmentResult) {
		s.metrics.ObserveAssessment(res)
		s.sseBroadcaster.Publish(sse.EventAssessment, map[string]any{
			"id":        res.ID,
			"record_id": res.RecordID,
			"category":  res.Category,
			"score":     res.Score,
			"priority":  res.Priority,
		})
		if store := s.recordStore(); store != nil {
			if err := store.SaveAssessment(s.ctx, res); err != nil {
				s.log.Warn().Err(err).Str("record", res.RecordID).Msg("Failed to persist assessment")
			}
		}
	})

	s.adapter.OnUpdate(func(current *models.RuleSet, entry rules.HistoryEntry) {
		s.applyThresholds(current)
		s.metrics.ObserveRuleSet(current.Version, entry.ImpactTag)
		s.sseBroadcaster.Publish(sse.EventRulesUpdated, map[string]any{
			"version":        current.Version,
			"previous":       entry.Version,
			"impact":         entry.ImpactTag,
			"change_summary": entry.ChangeSummary,
		})
	})

	s.categorizer.OnRecalibrate(func(snap categorizer.Snapshot) {
		s.metrics.ObserveRecalibration()
		s.sseBroadcaster.Publish(sse.EventRecalibration, snap)
	})
}

// applyThresholds moves the category bands to the boundaries of rs.
func (s *Service) applyThresholds(rs *models.RuleSet) {
	if err := s.categorizer.SetThresholds(rs.Thresholds); err != nil {
		s.log.Warn().Err(err).Str("version", rs.Version).Msg("Rule thresholds not applied")
	}
}

// initializeAsync opens the database and starts background components.
func (s *Service) initializeAsync() {
	s.log.Info().Msg("Starting async initialization...")

	dsn := s.config.DatabaseDSN
	if !gorm.IsPostgres(dsn) {
		if err := os.MkdirAll(filepath.Dir(dsn), 0750); err != nil {
			s.setInitError(fmt.Errorf("ensure data dir: %w", err))
			return
		}
	}

	store, err := gorm.NewStore(gorm.Config{
		DSN:      dsn,
		MaxConns: s.config.MaxConns,
		LogLevel: logger.Warn,
	})
	if err != nil {
		s.setInitError(fmt.Errorf("init database: %w", err))
		return
	}
	ruleDB := gorm.NewRuleStore(store)
	records := gorm.NewRecordStore(store)

	s.adapter.SetStore(ruleDB)
	if err := s.adapter.Restore(s.ctx); err != nil {
		_ = store.Close()
		s.setInitError(fmt.Errorf("restore rules: %w", err))
		return
	}
	s.metrics.ObserveRuleSet(s.adapter.Version(), "")
	s.applyThresholds(s.adapter.Current())

	if path := s.config.RulesFile; path != "" {
		s.loadRulesFile(path)
	}

	retrainer := scoring.NewRetrainer(records, s.scorer, s.config.LogisticConfig(), log.Logger)
	retrainer.OnRetrain(func(st scoring.RetrainerStats) {
		s.metrics.ObserveRetrain()
		s.sseBroadcaster.Publish(sse.EventRetrained, st)
	})

	maint := maintenance.NewService(records, store, maintenance.Config{
		Interval:      s.config.MaintenanceInterval,
		RetentionDays: s.config.AssessmentRetentionDays,
	}, log.Logger)

	s.initMu.Lock()
	s.store = store
	s.ruleDB = ruleDB
	s.records = records
	s.retrainer = retrainer
	s.maintenance = maint
	s.initMu.Unlock()

	if s.config.RetrainInterval > 0 {
		retrainer.SetInterval(s.config.RetrainInterval)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			retrainer.Start(s.ctx)
		}()
	}

	if s.config.MaintenanceInterval > 0 {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			maint.Start(s.ctx)
		}()
	}

	if s.config.WatchRules && s.config.RulesFile != "" {
		s.startRulesWatcher(s.config.RulesFile)
	}

	s.ready.Store(true)
	s.log.Info().
		Str("dialect", store.Dialect()).
		Str("rules", s.adapter.Version()).
		Msg("Async initialization complete - service ready")
}

// loadRulesFile applies the configured rule file unless its version is
// already current.
func (s *Service) loadRulesFile(path string) {
	rs, err := rules.LoadFile(path)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("Failed to load rules file, keeping stored rules")
		return
	}
	if rs.Version == s.adapter.Version() {
		return
	}
	if _, err := s.adapter.Apply(s.ctx, rs); err != nil {
		s.log.Warn().Err(err).Str("path", path).Str("version", rs.Version).Msg("Rules file rejected")
	}
}

func (s *Service) startRulesWatcher(path string) {
	w, err := rules.NewWatcher(path, s.adapter, log.Logger)
	if err != nil {
		s.log.Warn().Err(err).Str("path", path).Msg("Failed to create rules watcher")
		return
	}
	s.initMu.Lock()
	s.rulesWatcher = w
	s.initMu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		w.Start(s.ctx)
	}()
	s.log.Info().Str("path", path).Msg("Rules file watcher started")
}

// setInitError records an initialization error.
func (s *Service) setInitError(err error) {
	s.initMu.Lock()
	s.initError = err
	s.initMu.Unlock()
	s.log.Error().Err(err).Msg("Async initialization failed")
}

// GetInitError returns any initialization error.
func (s *Service) GetInitError() error {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	return s.initError
}

// WaitReady blocks until initialization completes, fails or ctx ends.
func (s *Service) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(ReadyPollInterval)
	defer ticker.Stop()
	for {
		if s.ready.Load() {
			return nil
		}
		if err := s.GetInitError(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) recordStore() *gorm.RecordStore {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	return s.records
}

// Handler returns the service's HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures HTTP middleware.
func (s *Service) setupMiddleware() {
	s.router.Use(RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(SecurityHeaders)
	s.router.Use(MaxBodySize(MaxRequestBody))
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	// Health answers immediately, even during init
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/ready", s.handleReady)
	s.router.Get("/api/version", s.handleVersion)

	s.router.Handle("/metrics", s.metrics.Handler())

	// SSE stays open past the request timeout
	s.router.Get("/api/events", s.sseBroadcaster.HandleSSE)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(DefaultHTTPTimeout))
		r.Use(s.requireReady)
		r.Use(s.auth.Middleware)
		r.Use(s.limiter.Middleware)
		r.Use(RequireJSONContentType)

		// Scoring
		r.Post("/api/score", s.handleScore)
		r.Post("/api/score/batch", s.handleScoreBatch)
		r.Post("/api/categorize/preview", s.handleCategorizePreview)

		// Records and assessments
		r.Post("/api/records", s.handleSaveRecords)
		r.Get("/api/records", s.handleGetRecords)
		r.Get("/api/assessments", s.handleGetAssessments)
		r.Get("/api/stats", s.handleGetStats)

		// Rules
		r.Get("/api/rules", s.handleGetRules)
		r.Put("/api/rules", s.handlePutRules)
		r.Get("/api/rules/history", s.handleGetRuleHistory)
		r.Get("/api/rules/weights", s.handleGetRuleWeights)
		r.Post("/api/rules/simulate", s.handleSimulateRules)

		// Model state
		r.Get("/api/categorizer", s.handleGetCategorizer)
		r.Get("/api/engine/trends", s.handleGetTrends)
		r.Post("/api/retrain", s.handleRetrain)
		r.Post("/api/maintenance", s.handleMaintenance)
	})

	// Cross-validation may outlive the default request timeout
	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(EvaluateTimeout))
		r.Use(s.requireReady)
		r.Use(s.auth.Middleware)
		r.Use(RequireJSONContentType)
		r.Post("/api/evaluate", s.handleEvaluate)
	})
}

// Start starts the HTTP server. Database initialization runs concurrently.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.WorkerPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.log.Info().
		Int("port", s.config.WorkerPort).
		Int("pid", os.Getpid()).
		Bool("auth", s.auth.IsEnabled()).
		Msg("Worker HTTP server started (initialization in progress)")
	return nil
}

// Shutdown gracefully shuts down the service.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	s.initMu.RLock()
	watcher := s.rulesWatcher
	retrainer := s.retrainer
	maint := s.maintenance
	store := s.store
	s.initMu.RUnlock()

	if watcher != nil {
		watcher.Stop()
	}
	if retrainer != nil {
		retrainer.Stop()
	}
	if maint != nil {
		maint.Stop()
	}

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if store != nil {
		if err := store.Close(); err != nil {
			s.log.Error().Err(err).Msg("Database close error")
		}
	}

	s.log.Info().Msg("Worker service shutdown complete")
	return nil
}
