// Package server wires storage, the rule engine, and the HTTP surface.
package server

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/meridianpay/sentinel/internal/assets"
	"github.com/meridianpay/sentinel/internal/cases"
	"github.com/meridianpay/sentinel/internal/config"
	"github.com/meridianpay/sentinel/internal/currency"
	"github.com/meridianpay/sentinel/internal/engine"
	"github.com/meridianpay/sentinel/internal/logging"
	"github.com/meridianpay/sentinel/internal/metrics"
	"github.com/meridianpay/sentinel/internal/pricing"
	"github.com/meridianpay/sentinel/internal/ratelimit"
	"github.com/meridianpay/sentinel/internal/realtime"
	"github.com/meridianpay/sentinel/internal/rules"
	"github.com/meridianpay/sentinel/internal/security"
	"github.com/meridianpay/sentinel/internal/traces"
	"github.com/meridianpay/sentinel/internal/transactions"
	"github.com/meridianpay/sentinel/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server owns the HTTP listener and every component behind it.
type Server struct {
	cfg          *config.Config
	oracle       pricing.Oracle
	normalizer   *currency.Normalizer
	ruleStore    *rules.Cached
	txStore      transactions.Store
	txQuery      transactions.Query
	caseManager  *cases.Manager
	engine       *engine.Engine
	feedHub      *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	stopTraces   func(context.Context) error
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithOracle sets a custom price oracle (for testing)
func WithOracle(o pricing.Oracle) Option {
	return func(s *Server) {
		s.oracle = o
	}
}

// New assembles a server from config: price oracle, stores (Postgres when
// DATABASE_URL is set, in-memory otherwise), rule cache, engine, and routes.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Create price oracle if not injected
	if s.oracle == nil {
		if cfg.PriceAPIURL != "" && cfg.IsProduction() {
			if err := security.ValidateOutboundURL(cfg.PriceAPIURL); err != nil {
				return nil, fmt.Errorf("PRICE_API_URL rejected: %w", err)
			}
		}
		s.oracle = pricing.NewClient(cfg.PriceAPIURL, cfg.PriceTTL)
	}
	s.normalizer = currency.NewNormalizer(s.oracle, cfg.BaseFiat, cfg.FiatPerUSD)

	var ruleInner rules.Store
	var caseStore cases.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		txStore := transactions.NewPostgresStore(db)
		s.txStore = txStore
		s.txQuery = txStore
		ruleInner = rules.NewPostgresStore(db)
		caseStore = cases.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		txStore := transactions.NewMemoryStore()
		s.txStore = txStore
		s.txQuery = txStore
		ruleInner = rules.NewMemoryStore()
		caseStore = cases.NewMemoryStore(txStore)
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Rule store with read-through cache so admin changes propagate within
	// the TTL without a round trip per evaluation
	s.ruleStore = rules.NewCached(ruleInner, cfg.RuleCacheTTL)
	if err := s.ruleStore.EnsureCatalog(ctx); err != nil {
		return nil, fmt.Errorf("failed to seed rule catalog: %w", err)
	}
	s.logger.Info("rule catalog ready", "rules", len(rules.Catalog))

	// Case feed hub for WebSocket streaming; also the case-opened notifier
	s.feedHub = realtime.NewHub(s.logger)
	s.caseManager = cases.NewManager(caseStore, s.txStore, s.feedHub)

	s.engine = engine.New(s.ruleStore, s.normalizer, s.txQuery, s.caseManager, cfg.EvalTimeout)
	s.logger.Info("rule engine ready",
		"base_fiat", cfg.BaseFiat,
		"eval_timeout", cfg.EvalTimeout.String(),
	)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())
	// Review dashboards may be served from anywhere; tighten per deployment.
	s.router.Use(security.CORSMiddleware([]string{"*"}))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// requestIDMiddleware threads an X-Request-ID (upstream's or freshly
// generated) through the context logger and response.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
		}

		logger := logging.L(c.Request.Context())
		switch {
		case status >= 500:
			logger.Error("request completed", append(attrs, "client_ip", c.ClientIP())...)
		case status >= 400:
			logger.Warn("request completed", attrs...)
		default:
			logger.Info("request completed", attrs...)
		}
	}
}

// adminAuthMiddleware guards the review/admin surface with a shared secret.
// In development with no secret configured the check is skipped so local
// setups work out of the box.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" && !s.cfg.IsProduction() {
			c.Next()
			return
		}
		provided := c.GetHeader("X-Admin-Secret")
		if provided == "" ||
			subtle.ConstantTimeCompare([]byte(provided), []byte(s.cfg.AdminSecret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Valid X-Admin-Secret header required",
			})
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :id and :key URL params on all v1 routes (no-op when absent)
	v1.Use(validation.IDParamMiddleware(), validation.KeyParamMiddleware())

	// Evaluation pipeline (screening service to the payment pipeline)
	engineHandler := engine.NewHandler(s.engine, s.txStore, s.normalizer)
	engineHandler.RegisterRoutes(v1)

	// Rule catalog (read surface is public to internal callers)
	rulesHandler := rules.NewHandler(s.ruleStore)
	rulesHandler.RegisterRoutes(v1)

	// Review cases
	casesHandler := cases.NewHandler(s.caseManager)
	casesHandler.RegisterRoutes(v1)

	// WebSocket case feed for review dashboards
	v1.GET("/cases/feed", func(c *gin.Context) {
		s.feedHub.HandleWebSocket(c.Writer, c.Request)
	})

	// ADMIN ROUTES (rule tuning and case resolution)
	admin := v1.Group("")
	admin.Use(s.adminAuthMiddleware())
	rulesHandler.RegisterAdminRoutes(admin)
	casesHandler.RegisterAdminRoutes(admin)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	checks := make(map[string]string)

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	// Storage connectivity
	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			checks["database"] = "unhealthy"
		} else {
			checks["database"] = "healthy"
		}
	} else {
		checks["database"] = "in-memory"
	}

	// Price feed. A dead feed degrades evaluation (amount rules get
	// skipped) but does not stop it, so it never fails the health check.
	if _, err := s.oracle.USDPrices(ctx, []assets.Code{assets.BTC}); err != nil {
		checks["price_oracle"] = "degraded"
	} else {
		checks["price_oracle"] = "healthy"
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if checks["database"] == "unhealthy" {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else if checks["price_oracle"] == "degraded" {
		status = "degraded"
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "Sentinel",
		"description": "Real-time transaction screening and review case management",
		"version":     "0.1.0",
		"base_fiat":   s.cfg.BaseFiat,
		"rules":       len(rules.Catalog),
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run serves HTTP until the context is cancelled or a termination signal
// arrives, then shuts down gracefully. Background goroutines (case feed hub,
// DB stats collector) share a context that Shutdown cancels.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	stopTraces, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.stopTraces = stopTraces
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.feedHub.Run(runCtx)
	if s.db != nil {
		metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Readiness flips on after the listener has had a moment to bind.
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown drains in-flight requests and releases resources. Readiness goes
// false first so load balancers stop routing before the listener closes.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Drain window for upstream load balancers.
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if s.stopTraces != nil {
		if err := s.stopTraces(ctx); err != nil {
			s.logger.Error("trace shutdown error", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router exposes the gin router for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
