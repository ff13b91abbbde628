// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
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

	"github.com/okwareddevnest/Pesa-Bridge/internal/account"
	"github.com/okwareddevnest/Pesa-Bridge/internal/authorization"
	"github.com/okwareddevnest/Pesa-Bridge/internal/circuitbreaker"
	"github.com/okwareddevnest/Pesa-Bridge/internal/config"
	"github.com/okwareddevnest/Pesa-Bridge/internal/gateway"
	"github.com/okwareddevnest/Pesa-Bridge/internal/health"
	"github.com/okwareddevnest/Pesa-Bridge/internal/logging"
	"github.com/okwareddevnest/Pesa-Bridge/internal/metrics"
	"github.com/okwareddevnest/Pesa-Bridge/internal/ratelimit"
	"github.com/okwareddevnest/Pesa-Bridge/internal/security"
	"github.com/okwareddevnest/Pesa-Bridge/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	accounts     account.Store
	txStore      authorization.Store
	authService  *authorization.Service
	authHandlers *authorization.Handlers
	expiryTimer  *authorization.Timer
	gateway      gateway.Port
	resilient    *gateway.Resilient
	simulator    *gateway.Simulator // non-nil in simulate mode
	rateLimiter  *ratelimit.Limiter
	healthReg    *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
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

// WithGateway sets a custom payment gateway port (for testing)
func WithGateway(gw gateway.Port) Option {
	return func(s *Server) {
		s.gateway = gw
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set gateway/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
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
		s.accounts = account.NewPostgresStore(db)
		s.txStore = authorization.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.accounts = account.NewMemoryStore()
		s.txStore = authorization.NewMemoryStore()
		s.logger.Warn("using in-memory storage (data lost on restart)")
	}

	// Payment gateway. Only the simulator transport is wired today; the
	// mode switch is where a real provider client would slot in.
	if s.gateway == nil {
		sim := gateway.NewSimulator()
		s.simulator = sim
		s.gateway = sim
		s.logger.Info("payment gateway in simulate mode")
	}
	// Every provider goes behind the breaker, the simulator included, so
	// development exercises the same call path production takes.
	s.resilient = gateway.NewResilient(s.gateway)
	s.gateway = s.resilient

	s.authService = authorization.NewService(s.txStore, s.accounts, s.gateway, cfg.AuthTimeout, s.logger)
	s.authHandlers = authorization.NewHandlers(s.authService, s.logger)
	s.expiryTimer = authorization.NewTimer(s.txStore, cfg.SweepInterval, s.logger)

	s.healthReg = health.NewRegistry()
	s.registerHealthChecks()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

func (s *Server) registerHealthChecks() {
	s.healthReg.Register("storage", func(ctx context.Context) health.Status {
		if s.db == nil {
			return health.Status{Name: "storage", Healthy: true, Detail: "in-memory"}
		}
		if err := s.db.PingContext(ctx); err != nil {
			return health.Status{Name: "storage", Healthy: false, Detail: err.Error()}
		}
		return health.Status{Name: "storage", Healthy: true, Detail: "postgres"}
	})
	s.healthReg.Register("expiry_sweeper", func(ctx context.Context) health.Status {
		return health.Status{Name: "expiry_sweeper", Healthy: s.expiryTimer.Running()}
	})
	s.healthReg.Register("gateway", func(ctx context.Context) health.Status {
		state := s.resilient.BreakerState(gateway.BreakerKeyPush)
		return health.Status{
			Name:    "gateway",
			Healthy: state != circuitbreaker.StateOpen,
			Detail:  "push circuit " + state.String(),
		}
	})
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

func (s *Server) setupMiddleware() {
	// Recovery with logging
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

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (merchant origins; open in dev)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.DefaultConfig())
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	s.authHandlers.RegisterRoutes(s.router)

	// Dev-only seeding and simulator controls so the full flow can be
	// exercised without a provider account.
	if s.cfg.IsDevelopment() {
		dev := s.router.Group("/v1/dev")
		dev.POST("/cardholders", s.createCardholderHandler)
		dev.POST("/cards", s.createCardHandler)
		if s.simulator != nil {
			dev.POST("/prompts/:checkoutRequestId/resolve", s.resolvePromptHandler)
			dev.GET("/prompts", s.listPromptsHandler)
		}
		s.logger.Info("dev seeding endpoints enabled")
	}
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

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
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"settlement_currency", s.cfg.SettlementCurrency,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start expiry sweeper
	go s.expiryTimer.Start(runCtx)

	// Sample DB pool stats into Prometheus gauges
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines (sweeper, stats collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	s.expiryTimer.Stop()
	s.logger.Info("expiry sweeper stopped")

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}
