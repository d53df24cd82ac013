package host

import (
	"context"
	"time"

	"github.com/oshokin/alarm-quorum/internal/logger"
)

// Defaults applied when the supervisor is built without explicit periods.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = 15 * time.Second
)

// Supervisor evicts sessions whose last inbound event is older than the
// heartbeat timeout.
type Supervisor struct {
	registry *Registry
	interval time.Duration
	timeout  time.Duration
}

// NewSupervisor scans registry every interval and evicts sessions idle past timeout.
func NewSupervisor(registry *Registry, interval, timeout time.Duration) *Supervisor {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}

	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}

	return &Supervisor{
		registry: registry,
		interval: interval,
		timeout:  timeout,
	}
}

// Run scans until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := s.registry.EvictStale(ctx, s.timeout); len(evicted) > 0 {
				logger.WarnKV(ctx, "Evicted silent nodes", "peers", evicted, "timeout", s.timeout)
			}
		}
	}
}
