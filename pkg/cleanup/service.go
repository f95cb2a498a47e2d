// Package cleanup provides the outbox retention service.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/codeready-toolchain/beacon/pkg/config"
	"github.com/codeready-toolchain/beacon/pkg/outbox"
)

// Service periodically removes outbox entries past their TTL. Deletion
// is idempotent and safe to run from multiple pods; the delivery path
// never depends on expired rows, so a slow reaper only costs disk.
type Service struct {
	config config.RetentionConfig
	store  outbox.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg config.RetentionConfig, store outbox.Store) *Service {
	return &Service{config: cfg, store: store}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started", "interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.reapExpired(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reapExpired(ctx)
		}
	}
}

func (s *Service) reapExpired(ctx context.Context) {
	count, err := s.store.DeleteExpired(ctx)
	if err != nil {
		slog.Error("Retention: outbox cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: reaped expired outbox entries", "count", count)
	}
}
