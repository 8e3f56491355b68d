// Package server wires configuration, storage, events and the HTTP API into
// a running process.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/booksage/bookshelf/internal/config"
	"github.com/booksage/bookshelf/internal/domain/repository"
	"github.com/booksage/bookshelf/internal/infrastructure/events"
	"github.com/booksage/bookshelf/internal/infrastructure/resilience"
	"github.com/booksage/bookshelf/internal/infrastructure/storage"
	httpserver "github.com/booksage/bookshelf/internal/interface/http"
	"github.com/booksage/bookshelf/internal/usecase/library"
	"go.uber.org/zap"
)

const (
	breakerFailures = 5
	breakerCooldown = 30 * time.Second
)

type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	mu    sync.Mutex
	addr  string
	ready chan struct{}
}

func New(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger,
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the bound listen address, valid after Ready.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Run serves the API until ctx is cancelled, then drains connections for at
// most the configured shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	repo, err := storage.Open(ctx, s.cfg, s.logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			s.logger.Warn("Failed to close database", zap.Error(closeErr))
		}
	}()

	publisher := NewPublisher(s.cfg, s.logger)
	defer func() {
		if closeErr := publisher.Close(); closeErr != nil {
			s.logger.Warn("Failed to close event publisher", zap.Error(closeErr))
		}
	}()

	books := library.NewService(repo, publisher, s.logger)
	api := httpserver.NewServer(books, s.logger)

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	httpServer := &http.Server{
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(s.logger.Named("http")),
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	close(s.ready)

	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("Starting REST API server", zap.String("addr", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutdown signal received, draining connections")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	<-serveErr

	s.logger.Info("Server stopped gracefully")
	return nil
}

// NewPublisher returns the configured event publisher. Without a broker URL,
// or when the broker is unreachable at startup, events are dropped.
func NewPublisher(cfg *config.Config, logger *zap.Logger) repository.EventPublisher {
	if cfg.AMQPURL == "" {
		return events.NopPublisher{}
	}

	amqpPub, err := events.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange, logger)
	if err != nil {
		logger.Warn("Event broker unavailable, change events disabled", zap.Error(err))
		return events.NopPublisher{}
	}

	breaker := resilience.NewCircuitBreaker("amqp", breakerFailures, breakerCooldown, logger)
	return events.NewGuardedPublisher(amqpPub, breaker)
}
