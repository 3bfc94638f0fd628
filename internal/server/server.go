// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/agentwatch/internal/auth"
	"github.com/mbd888/agentwatch/internal/config"
	"github.com/mbd888/agentwatch/internal/health"
	"github.com/mbd888/agentwatch/internal/idgen"
	"github.com/mbd888/agentwatch/internal/logging"
	"github.com/mbd888/agentwatch/internal/metrics"
	"github.com/mbd888/agentwatch/internal/ratelimit"
	"github.com/mbd888/agentwatch/internal/realtime"
	"github.com/mbd888/agentwatch/internal/risk"
	"github.com/mbd888/agentwatch/internal/security"
	"github.com/mbd888/agentwatch/internal/spam"
	"github.com/mbd888/agentwatch/internal/validation"
	"github.com/mbd888/agentwatch/internal/webhooks"
)

// Version is reported by the health endpoint. Set from main.
var Version = "dev"

// HomeMessage is returned by GET /.
const HomeMessage = "Agentic AI Misuse Detection Backend Running"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg         *config.Config
	engine      *risk.Engine
	classifier  *spam.Classifier
	realtimeHub *realtime.Hub
	authMgr     *auth.Manager
	webhooks    *webhooks.Dispatcher
	hookStore   *webhooks.MemoryStore
	health      *health.Registry
	rateLimiter *ratelimit.Limiter
	router      *gin.Engine
	httpSrv     *http.Server
	logger      *slog.Logger

	clock      risk.Clock
	drainDelay time.Duration

	// cancelRunCtx cancels the context passed to background goroutines
	cancelRunCtx context.CancelFunc

	// Health state
	healthy atomic.Bool
	ready   atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithClassifier replaces the spam classifier built from config.
func WithClassifier(c *spam.Classifier) Option {
	return func(s *Server) {
		s.classifier = c
	}
}

// WithClock sets the clock used by the risk engine (for testing)
func WithClock(c risk.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

// WithDrainDelay sets how long Shutdown waits for load balancers before
// closing the listener.
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Server{
		cfg:        cfg,
		logger:     slog.Default(),
		drainDelay: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.realtimeHub = realtime.NewHub(s.logger)
	emitters := risk.MultiEmitter{s.realtimeHub}

	s.hookStore = webhooks.NewMemoryStore()
	if len(cfg.WebhookURLs) > 0 {
		if err := s.setupWebhooks(); err != nil {
			return nil, err
		}
		emitters = append(emitters, webhooks.NewEmitter(s.webhooks, s.logger))
	}

	s.engine = risk.NewEngine(cfg.AgentIDs, risk.NewMemoryLog()).WithEvents(emitters)
	keywords := risk.NewKeywordSet(risk.DefaultKeywords)
	if len(cfg.ScamKeywords) > 0 {
		keywords = risk.NewKeywordSet(cfg.ScamKeywords)
		s.engine = s.engine.WithKeywords(keywords)
	}
	if s.clock != nil {
		s.engine = s.engine.WithClock(s.clock)
	}

	if s.classifier == nil {
		s.classifier = spam.NewClassifier(spam.Config{
			Endpoint: cfg.SpamModelURL,
			Token:    cfg.SpamAPIToken,
			Label:    cfg.SpamLabel,
			Timeout:  cfg.ClassifierTimeout,
		})
	}
	if !s.classifier.Configured() {
		s.logger.Warn("spam classifier credential not set, /detect_sms will return 503")
	}

	authMgr, err := auth.FromEntries(cfg.APIKeys)
	if err != nil {
		return nil, fmt.Errorf("invalid API_KEYS: %w", err)
	}
	s.authMgr = authMgr
	if s.authMgr.Enabled() {
		s.logger.Info("API key authentication enabled", "keys", s.authMgr.Len())
	} else if cfg.IsProduction() {
		s.logger.Warn("API_KEYS not set, API endpoints are unauthenticated")
	}

	s.health = health.NewRegistry()
	s.health.Register("risk_engine", health.FromError("risk_engine", func(ctx context.Context) error {
		if len(s.engine.AgentIDs()) == 0 {
			return errors.New("no agents registered")
		}
		return nil
	}))
	s.health.RegisterOptional("spam_classifier", health.FromError("spam_classifier", s.classifier.Check))

	s.logger.Info("risk engine initialized", "agents", cfg.AgentIDs, "keywords", keywords.Terms())

	gin.SetMode(gin.ReleaseMode)
	if cfg.Env == "development" {
		gin.SetMode(gin.DebugMode)
	}
	s.router = gin.New()

	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// setupWebhooks registers one subscription per configured URL. Production
// deployments refuse targets that resolve into private address space.
func (s *Server) setupWebhooks() error {
	s.webhooks = webhooks.NewDispatcher(s.hookStore, s.logger)
	if s.cfg.IsProduction() {
		s.webhooks.WithURLValidator(func(ctx context.Context, rawURL string) error {
			return security.ValidateUpstreamURL(ctx, rawURL, net.DefaultResolver)
		})
	}

	now := time.Now()
	for _, u := range s.cfg.WebhookURLs {
		sub := &webhooks.Subscription{
			ID:        idgen.WithPrefix("wh_"),
			URL:       u,
			Secret:    s.cfg.WebhookSecret,
			Events:    webhooks.AllEvents,
			Active:    true,
			CreatedAt: now,
		}
		if err := s.hookStore.Create(context.Background(), sub); err != nil {
			return fmt.Errorf("register webhook: %w", err)
		}
	}
	s.logger.Info("alert webhooks configured",
		"count", len(s.cfg.WebhookURLs),
		"signed", s.cfg.WebhookSecret != "",
	)
	return nil
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

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

	s.router.Use(security.HeadersMiddleware())
	s.router.Use(security.CORSMiddleware(s.cfg.CORSOrigins))
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// RATE_LIMIT_RPM=0 disables limiting
	if s.cfg.RateLimitRPM > 0 {
		s.rateLimiter = ratelimit.New(ratelimit.FromRPM(s.cfg.RateLimitRPM))
		s.router.Use(s.rateLimiter.Middleware(nil))
	}

	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" || len(requestID) > 128 {
			requestID = idgen.Hex()
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

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	s.router.GET("/", s.homeHandler)

	// Health checks
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)

	s.router.GET("/metrics", metrics.Handler())

	// Everything below needs a key once API_KEYS is set. Agent-scoped
	// keys reach only their own /agent_message/:agent_id and /detect_sms.
	authed := s.router.Group("/", auth.Middleware(s.authMgr), auth.RequireAuth(s.authMgr))
	spam.NewHandler(s.classifier).RegisterRoutes(authed)

	scoped := authed.Group("/", auth.RequireScope(s.authMgr, "agent_id"))
	scoped.GET("/ws", s.realtimeHub.Handler())
	risk.NewHandler(s.engine).RegisterRoutes(scoped)
	webhooks.NewHandler(s.hookStore).RegisterRoutes(scoped)
}

func (s *Server) homeHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": HomeMessage,
		"time":    time.Now().Format(time.RFC3339),
	})
}

// HealthResponse is returned by /health
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks"`
	Realtime  map[string]any  `json:"realtime,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, checks := s.health.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	switch {
	case !healthy:
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	case health.Degraded(checks):
		status = "degraded"
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Realtime:  s.realtimeHub.Stats(),
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

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Classifier calls can take up to ClassifierTimeout.
		WriteTimeout: s.cfg.ClassifierTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"classifier_configured", s.classifier.Configured(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)
	go metrics.StartRuntimeCollector(runCtx, 15*time.Second)

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		cancel()
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

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(s.drainDelay)

	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.webhooks != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.webhooks.Stop(ctx); err != nil {
			s.logger.Warn("webhook deliveries abandoned", "error", err)
		} else {
			s.logger.Info("webhook dispatcher stopped")
		}
		cancel()
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Engine returns the risk engine.
func (s *Server) Engine() *risk.Engine {
	return s.engine
}
