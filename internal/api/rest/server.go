package rest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/brightlane/auctionhouse/internal/infrastructure/cache"
	"github.com/brightlane/auctionhouse/internal/infrastructure/config"
	"github.com/brightlane/auctionhouse/internal/infrastructure/database"
	"github.com/brightlane/auctionhouse/internal/infrastructure/queue"
	"github.com/brightlane/auctionhouse/internal/infrastructure/repository"
	"github.com/brightlane/auctionhouse/internal/metrics"
	"github.com/brightlane/auctionhouse/internal/service/admission"
	"github.com/brightlane/auctionhouse/internal/service/auctionlifecycle"
	"github.com/brightlane/auctionhouse/internal/service/bidprocessor"
)

// Server is the HTTP fallback: bid placement for callers not holding a
// WebSocket connection, health probes, and the operator admin surface.
// The Gateway (internal/api/gateway) is the primary transport and runs
// as its own process alongside this one.
type Server struct {
	config     *config.Config
	httpServer *http.Server
	logger     *slog.Logger
	tracer     trace.Tracer
	db         *database.ConnectionPool
	cache      cache.Cache
	queue      *queue.Adapter
	repos      *repository.Repositories
	admission  *admission.Controller
	processor  *bidprocessor.Processor
	ender      *auctionlifecycle.Ender
	health     *HealthService
}

// NewServer wires every dependency the HTTP fallback needs: the store,
// cache, queue and admission controller are constructed the same way
// the Gateway process constructs its own, so both transports observe
// the same acceptance semantics. The bid processor and the auction
// lifecycle ender are built only here.
func NewServer(cfg *config.Config) (*Server, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	db, err := database.NewConnectionPool(&cfg.Database, zapLogger)
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}

	redisCache, err := cache.NewRedisCache(&cfg.Redis, zapLogger)
	if err != nil {
		return nil, fmt.Errorf("connect to cache: %w", err)
	}

	q, err := queue.New(cfg.Queue, zapLogger)
	if err != nil {
		return nil, fmt.Errorf("connect to queue: %w", err)
	}

	repos := repository.NewRepositories(db.GetPrimary())

	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)

	admissionCtl := admission.New(redisCache, cfg.Admission, zapLogger, reg)
	processor := bidprocessor.New(repos.Auction, repos.Bid, repos.User, redisCache, q, cfg.Auction, zapLogger, reg)
	ender := auctionlifecycle.New(repos.Auction, redisCache, q, cfg.Auction.LifecycleSweepInterval, zapLogger)

	base := NewBaseHandler("v1", cfg.Server.Address, redisCache)
	bidHandler := NewBidHandler(base, repos.User, repos.Auction, q, admissionCtl, cfg.Auction.Currency)

	authConfig := &AuthConfig{
		JWTSecret:          []byte(cfg.Security.JWTSecret),
		TokenExpiry:        cfg.Security.TokenExpiry,
		RefreshTokenExpiry: cfg.Security.RefreshTokenExpiry,
		Issuer:             "auctionhouse",
		Audience:           []string{"auctionhouse-api"},
		UseRSA:             false,
	}
	sessionStore := NewCacheSessionStore(redisCache)
	authMiddleware := NewAuthMiddleware(authConfig, sessionStore, repos.User)

	rateLimiterMiddleware := NewCacheRateLimiter(redisCache, RateLimitConfig{
		RequestsPerSecond: cfg.Security.RateLimit.RequestsPerSecond,
		Burst:             cfg.Security.RateLimit.Burst,
		ByIP:              true,
		ByUser:            true,
		ByEndpoint:        false,
	})

	corsConfig := DefaultCORSConfig()
	corsConfig.AllowedOrigins = cfg.CORS.AllowedOrigins
	corsMiddleware := NewCORSMiddleware(corsConfig)

	health := NewHealthService(DefaultHealthConfig())
	health.RegisterChecker("store", NewStoreHealthChecker(db.GetPrimary(), "store"))
	health.RegisterChecker("cache", NewCacheHealthChecker(redisCache, "cache"))
	health.RegisterChecker("queue", NewQueueHealthChecker(q.Health, "queue"))
	health.RegisterChecker("system", NewSystemHealthChecker())

	tracer := otel.Tracer("api.rest.server")

	server := &Server{
		config:    cfg,
		logger:    logger,
		tracer:    tracer,
		db:        db,
		cache:     redisCache,
		queue:     q,
		repos:     repos,
		admission: admissionCtl,
		processor: processor,
		ender:     ender,
		health:    health,
	}

	mux := server.setupRoutes(bidHandler)

	middlewares := []Middleware{
		RequestIDMiddleware(),
		RequestLoggingMiddleware(logger),
		MetricsMiddleware(reg),
		TracingMiddleware(tracer),
		recoveryMiddleware,
		SecurityHeadersMiddleware(),
		corsMiddleware.Middleware(),
		rateLimiterMiddleware.Middleware(),
		timeoutMiddleware(30 * time.Second),
		ConditionalMiddleware(
			authMiddleware.Middleware(),
			func(r *http.Request) bool { return !isPublicAPIEndpoint(r.URL.Path) },
		),
		CompressionMiddleware(6),
	}

	var h http.Handler = mux
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}

	server.httpServer = &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      h,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures the HTTP fallback's entire surface: bid
// placement, health probes, and the operator admin endpoint. The
// WebSocket upgrade path lives in the Gateway process, not here.
func (s *Server) setupRoutes(bidHandler *BidHandler) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.health.ReadinessHandler())
	mux.HandleFunc("/healthz", s.health.LivenessHandler())
	mux.HandleFunc("/ready", s.health.ReadinessHandler())
	mux.HandleFunc("/startup", s.health.StartupHandler())

	v1 := http.NewServeMux()
	v1.HandleFunc("POST /bids", bidHandler.handlePlaceBid)
	v1.HandleFunc("POST /admin/unblock", bidHandler.handleUnblock)
	mux.Handle("/api/v1/", http.StripPrefix("/api/v1", v1))

	return mux
}

// StartConsumer runs the Bid Processor as the consumer of the Queue's
// bid-placed topic until ctx is cancelled. It is the counterpart of
// the HTTP fallback's synchronous publish in BidHandler.handlePlaceBid
// and the Gateway's own publish on a place-bid intent.
func (s *Server) StartConsumer(ctx context.Context) error {
	return s.queue.Consume(ctx, []string{s.queue.Topic(queue.TopicAuctionEvents)}, s.processor.Handle)
}

// Start runs the HTTP fallback server and the bid-processing consumer
// until an OS signal requests shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting API server",
		"address", s.httpServer.Addr,
		"environment", s.config.Environment,
	)

	consumeCtx, cancelConsume := context.WithCancel(context.Background())
	defer cancelConsume()
	go func() {
		if err := s.StartConsumer(consumeCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("bid consumer stopped", "error", err)
		}
	}()
	go func() {
		if err := s.ender.Run(consumeCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("auction lifecycle sweep stopped", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed to start: %w", err)
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the HTTP server and its dependencies.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.logger.Info("shutting down server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown server", "error", err)
		return err
	}

	if err := s.db.Close(); err != nil {
		s.logger.Error("failed to close store", "error", err)
	}

	s.queue.Close()

	s.logger.Info("server shutdown complete")
	return nil
}

// isPublicAPIEndpoint lists the paths that never require a bearer
// token: health probes and the admin unblock endpoint. This process
// has no separate operator auth scheme, so the unblock route is served
// without any authentication.
func isPublicAPIEndpoint(path string) bool {
	publicPaths := map[string]bool{
		"/health":                  true,
		"/healthz":                 true,
		"/ready":                   true,
		"/startup":                 true,
		"/api/v1/admin/unblock":    true,
	}
	return publicPaths[path]
}

// ConditionalMiddleware applies middleware only when condition holds.
func ConditionalMiddleware(mw Middleware, condition func(*http.Request) bool) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if condition(r) {
				mw(next).ServeHTTP(w, r)
			} else {
				next.ServeHTTP(w, r)
			}
		})
	}
}
