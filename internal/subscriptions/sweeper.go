package subscriptions

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is how often the sweeper runs cleanup.
const DefaultSweepInterval = time.Hour

// Sweeper periodically removes expired and stale subscriptions.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger

	stop chan struct{}
	done chan struct{}
}

// NewSweeper creates a sweeper over the registry. A non-positive interval
// falls back to DefaultSweepInterval.
func NewSweeper(registry *Registry, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{registry: registry, interval: interval, logger: logger}
}

// Start launches the background sweep loop. Call Stop to shut it down.
func (s *Sweeper) Start() {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop()
	s.logger.Info("subscription sweeper started", "interval", s.interval)
}

// Stop shuts down the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.stop != nil {
		close(s.stop)
		<-s.done
		s.stop = nil
		s.done = nil
	}
}

func (s *Sweeper) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if _, err := s.registry.CleanupExpired(context.Background()); err != nil {
				s.logger.Error("subscription sweep failed", "error", err)
			}
		}
	}
}
