package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/booksync/internal/platform/mirror"
	"github.com/kislikjeka/booksync/pkg/logger"
)

// Service polls every connection in the background
type Service struct {
	config  *Config
	engine  *Engine
	store   Store
	logger  *logger.Logger
	wg      sync.WaitGroup
	stopCh  chan struct{}
	mu      sync.RWMutex
	running bool
}

// NewService creates a new sync service
func NewService(config *Config, engine *Engine, store Store, log *logger.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	_ = config.Validate()

	return &Service{
		config: config,
		engine: engine,
		store:  store,
		logger: log.WithField("service", "sync"),
		stopCh: make(chan struct{}),
	}
}

// Run starts the background sync service
func (s *Service) Run(ctx context.Context) {
	if !s.config.Enabled {
		s.logger.Info("sync service is disabled")
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("starting sync service",
		"poll_interval", s.config.PollInterval,
		"concurrent_connections", s.config.ConcurrentConnections)

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	// Do an initial sync immediately
	s.syncAllConnections(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sync service stopping (context done)")
			s.Stop()
			return
		case <-s.stopCh:
			s.logger.Info("sync service stopping (stop signal)")
			return
		case <-ticker.C:
			s.syncAllConnections(ctx)
		}
	}
}

// Stop stops the sync service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	close(s.stopCh)
	s.wg.Wait()
	s.running = false
}

func (s *Service) syncAllConnections(ctx context.Context) {
	conns, err := s.store.ListConnections(ctx)
	if err != nil {
		s.logger.Error("failed to list connections for sync", "error", err)
		return
	}

	if len(conns) == 0 {
		s.logger.Debug("no connections to sync")
		return
	}

	s.logger.Info("syncing connections", "count", len(conns))

	// Use semaphore for concurrency control
	sem := make(chan struct{}, s.config.ConcurrentConnections)

	for _, c := range conns {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case sem <- struct{}{}:
		}

		s.wg.Add(1)
		go func(c *mirror.Connection) {
			defer s.wg.Done()
			defer func() { <-sem }()

			report := s.engine.Sync(ctx, c)
			if report.Error != "" && !report.Skipped {
				s.logger.Error("connection sync failed",
					"connection_id", c.ID,
					"error", report.Error)
			}
		}(c)
	}
}

// SyncConnection runs a pass for one connection. Used by the job dispatcher and the CLI.
func (s *Service) SyncConnection(ctx context.Context, connID uuid.UUID) (*Report, error) {
	conn, err := s.store.GetConnection(ctx, connID)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection: %w", err)
	}
	return s.engine.Sync(ctx, conn), nil
}
