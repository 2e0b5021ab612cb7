package signaling

import (
	"context"
	"time"

	"pkt.systems/pslog"
)

// Default liveness settings.
const (
	DefaultHeartbeatTimeout = 60 * time.Second
	DefaultSweepInterval    = 30 * time.Second
)

// Sweeper periodically evicts peers that stopped sending heartbeats.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	logger   pslog.Logger
}

// NewSweeper constructs a Sweeper. Zero durations select the defaults.
func NewSweeper(registry *Registry, interval, timeout time.Duration, logger pslog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	if logger == nil {
		logger = pslog.LoggerFromEnv()
	}
	return &Sweeper{registry: registry, interval: interval, timeout: timeout, logger: logger}
}

// Sweep runs one eviction pass.
func (s *Sweeper) Sweep() []Session {
	evicted := s.registry.Evict(s.timeout)
	if len(evicted) > 0 {
		s.logger.Debug("liveness sweep", "evicted", len(evicted))
	}
	return evicted
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info("liveness sweeper started", "interval", s.interval.String(), "timeout", s.timeout.String())
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Sweep()
		}
	}
}
