// Package syncer implements the background worker that keeps in-process
// definitions in step with a snapshot file.
package syncer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rafaeljc/bifrost/internal/observability"
	"github.com/rafaeljc/bifrost/internal/validation"
)

// defaultInterval applies when Config.Interval is below one second.
const defaultInterval = 10 * time.Second

// Loader replaces its definitions with a decoded snapshot.
// *storage.MemoryStorage satisfies it.
type Loader interface {
	LoadSnapshot(r io.Reader) error
}

// Config holds the configuration for the Syncer service.
type Config struct {
	// Path is the definitions snapshot file.
	Path string
	// Interval is the duration between sync cycles (polling).
	Interval time.Duration
}

// Service reloads the snapshot file whenever its size or modification time
// changes.
type Service struct {
	logger *slog.Logger
	config Config
	loader Loader

	mu      sync.Mutex
	modTime time.Time
	size    int64
}

// New creates a new Syncer service. It panics if loader is nil.
func New(logger *slog.Logger, cfg Config, loader Loader) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	validation.AssertImplemented(loader, "syncer: loader")

	if cfg.Interval < time.Second {
		cfg.Interval = defaultInterval
	}

	return &Service{
		logger: logger,
		config: cfg,
		loader: loader,
	}
}

// Run polls the file until ctx is cancelled. Failed cycles are logged and
// retried on the next tick, keeping the last good definitions.
func (s *Service) Run(ctx context.Context) {
	s.logger.Info("starting syncer service",
		slog.String("path", s.config.Path),
		slog.String("interval", s.config.Interval.String()),
	)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("syncer service stopping")
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil {
				s.logger.Error("sync cycle failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sync loads the file if it changed since the last successful load and
// reports whether it did.
func (s *Service) Sync(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()

	info, err := os.Stat(s.config.Path)
	if err != nil {
		observability.SyncerCyclesTotal.WithLabelValues("fail").Inc()
		return false, fmt.Errorf("failed to stat definitions file: %w", err)
	}
	if info.ModTime().Equal(s.modTime) && info.Size() == s.size {
		observability.SyncerCyclesTotal.WithLabelValues("unchanged").Inc()
		return false, nil
	}

	if err := s.load(); err != nil {
		observability.SyncerCyclesTotal.WithLabelValues("fail").Inc()
		return false, err
	}
	s.modTime = info.ModTime()
	s.size = info.Size()

	observability.SyncerCyclesTotal.WithLabelValues("reloaded").Inc()
	observability.SyncerLastReload.SetToCurrentTime()
	s.logger.Info("sync cycle completed",
		slog.String("path", s.config.Path),
		slog.String("duration", time.Since(start).String()),
	)
	return true, nil
}

func (s *Service) load() error {
	f, err := os.Open(s.config.Path)
	if err != nil {
		return fmt.Errorf("failed to open definitions file: %w", err)
	}
	defer f.Close()

	return s.loader.LoadSnapshot(f)
}
