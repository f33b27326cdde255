// Package cleanup enforces the sliding retention window on the vector
// store. A background sweep removes points older than the window so that
// neighbour search never surfaces stale context.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/vectorstore"
)

// Service periodically sweeps expired vector points. Sweeps are
// best-effort and idempotent; a failed round is retried on the next tick.
type Service struct {
	config *config.RetentionConfig
	store  vectorstore.Store
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a retention sweeper over the given store.
func NewService(cfg *config.RetentionConfig, store vectorstore.Store) *Service {
	return &Service{
		config: cfg,
		store:  store,
		logger: slog.With("component", "cleanup"),
	}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Retention sweeper started",
		"window", s.config.Window,
		"interval", s.config.SweepInterval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Retention sweeper stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	s.store.DeleteVectorsOlderThan24Hours(ctx)

	covered, err := s.store.Has24HoursOfData(ctx)
	if err != nil {
		s.logger.Warn("Retention: coverage check failed", "error", err)
		return
	}
	if !covered {
		s.logger.Info("Retention: window not yet filled, neighbour context may be sparse")
	}
}
