package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/brightlane/auctionhouse/internal/infrastructure/cache"
	"github.com/brightlane/auctionhouse/internal/infrastructure/config"
	"github.com/brightlane/auctionhouse/internal/infrastructure/database"
	"github.com/brightlane/auctionhouse/internal/infrastructure/queue"
	"github.com/brightlane/auctionhouse/internal/infrastructure/repository"
	"github.com/brightlane/auctionhouse/internal/metrics"
	"github.com/brightlane/auctionhouse/internal/service/admission"
)

// Server is the Gateway process: it owns its own store/cache/queue
// connections (matching the HTTP fallback's wiring one-for-one, so
// both transports observe the same acceptance semantics) and hosts
// both the WebSocket upgrade endpoint and the notification relay.
type Server struct {
	httpServer *http.Server
	gw         *Gateway
	relay      *NotificationRelay
	db         *database.ConnectionPool
	cache      cache.Cache
	queue      *queue.Adapter
	logger     *zap.Logger
}

// NewServer wires the Gateway process's dependencies.
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	db, err := database.NewConnectionPool(&cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to store: %w", err)
	}

	redisCache, err := cache.NewRedisCache(&cfg.Redis, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to cache: %w", err)
	}

	q, err := queue.New(cfg.Queue, logger)
	if err != nil {
		return nil, fmt.Errorf("connect to queue: %w", err)
	}

	repos := repository.NewRepositories(db.GetPrimary())
	reg := metrics.NewRegistry(prometheus.DefaultRegisterer)
	admissionCtl := admission.New(redisCache, cfg.Admission, logger, reg)

	gwCfg := Config{
		WriteTimeout:   cfg.Gateway.WriteTimeout,
		PongTimeout:    cfg.Gateway.PongTimeout,
		PingPeriod:     cfg.Gateway.PingPeriod,
		MaxMessageSize: cfg.Gateway.MaxMessageSize,
		RoomIdleTTL:    cfg.Gateway.RoomIdleTTL,
		Currency:       cfg.Auction.Currency,
	}
	gw := New(gwCfg, cfg.Security, redisCache, q, admissionCtl, repos.Auction, logger, reg)
	relay := NewNotificationRelay(q, redisCache, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", gw.ServeHTTP)

	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Gateway.Address,
			Handler:      mux,
			ReadTimeout:  cfg.Gateway.PongTimeout,
			WriteTimeout: cfg.Gateway.WriteTimeout,
		},
		gw:     gw,
		relay:  relay,
		db:     db,
		cache:  redisCache,
		queue:  q,
		logger: logger,
	}, nil
}

// Start runs the WebSocket upgrade endpoint, the global notification
// relay, and the Queue-backed relay consumer until an OS signal
// requests shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting gateway", zap.String("address", s.httpServer.Addr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := s.gw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("notification dispatch loop stopped", zap.Error(err))
		}
	}()
	go func() {
		if err := s.relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("notification relay stopped", zap.Error(err))
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
		return fmt.Errorf("gateway failed to start: %w", err)
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		return s.Shutdown()
	}
}

// Shutdown gracefully shuts down the HTTP server and its dependencies.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("failed to shutdown gateway http server", zap.Error(err))
		return err
	}
	if err := s.db.Close(); err != nil {
		s.logger.Error("failed to close store", zap.Error(err))
	}
	s.queue.Close()

	s.logger.Info("gateway shutdown complete")
	return nil
}
