package host

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/oshokin/alarm-quorum/internal/domain/alarm"
	"github.com/oshokin/alarm-quorum/internal/event"
	"github.com/oshokin/alarm-quorum/internal/logger"
	"github.com/oshokin/alarm-quorum/internal/transport"
)

// Options configures a Host.
type Options struct {
	// HeartbeatInterval is the period of supervisor scans.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is the idle period after which a session is evicted.
	HeartbeatTimeout time.Duration
	// WriteTimeout bounds every send to a node.
	WriteTimeout time.Duration
	// TriggerTolerance is the scheduler's firing window.
	TriggerTolerance time.Duration
	// PollInterval is the scheduler period; DefaultPollInterval when zero.
	PollInterval time.Duration
	// Alarm is the initial alarm, if any.
	Alarm *alarm.Alarm
	// Metrics may be nil.
	Metrics *Metrics
}

// Host accepts node sessions, keeps them alive and runs the alarm coordinator.
type Host struct {
	registry    *Registry
	coordinator *Coordinator
	supervisor  *Supervisor
	scheduler   *Scheduler

	// stop is closed by Stop.
	stop     chan struct{}
	stopOnce sync.Once
}

// New wires the registry, coordinator, supervisor and scheduler.
func New(opts Options) *Host {
	h := &Host{
		stop: make(chan struct{}),
	}

	h.registry = NewRegistry(h,
		WithMetrics(opts.Metrics),
		WithConnOptions(transport.WithWriteTimeout(opts.WriteTimeout)),
	)
	h.coordinator = NewCoordinator(h.registry, opts.Metrics)
	h.supervisor = NewSupervisor(h.registry, opts.HeartbeatInterval, opts.HeartbeatTimeout)
	h.scheduler = NewScheduler(h.coordinator, opts.PollInterval, opts.TriggerTolerance)

	if opts.Alarm != nil {
		h.coordinator.SetAlarm(context.Background(), *opts.Alarm)
	}

	return h
}

// Registry returns the session registry.
func (h *Host) Registry() *Registry { return h.registry }

// Coordinator returns the alarm coordinator.
func (h *Host) Coordinator() *Coordinator { return h.coordinator }

// Serve runs the accept loop, the supervisor and the scheduler until ctx is
// done or Stop is called, then closes lis and every session.
func (h *Host) Serve(ctx context.Context, lis net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var loops sync.WaitGroup

	loops.Go(func() { h.supervisor.Run(ctx) })
	loops.Go(func() { h.scheduler.Run(ctx) })
	loops.Go(func() {
		select {
		case <-ctx.Done():
		case <-h.stop:
		}

		if err := lis.Close(); err != nil {
			logger.DebugKV(ctx, "Closing listener failed", "error", err)
		}
	})

	err := h.registry.Serve(ctx, lis)

	cancel()
	loops.Wait()
	h.registry.Close(ctx)

	logger.Info(ctx, "Host stopped")

	return err
}

// Stop ends Serve. It is idempotent and safe to call before Serve.
func (h *Host) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// HandleEvent answers heartbeats and feeds snoozes to the coordinator.
func (h *Host) HandleEvent(ctx context.Context, peer string, e event.Event) {
	switch e.Kind() {
	case event.KindHeartbeat:
		logger.DebugKV(ctx, "Heartbeat", "node_id", e.Text(event.KeyNodeID))

		if err := h.registry.Send(ctx, peer, event.New(event.KindHeartbeat)); err != nil {
			logger.DebugKV(ctx, "Heartbeat reply failed", "error", err)
		}
	case event.KindSnoozePressed:
		receipt, counted := h.coordinator.OnSnooze(ctx, peer)
		if !counted || receipt.Cleared {
			return
		}

		ack := event.New(event.KindAck, event.WithPayload(map[string]any{
			event.KeyAcknowledged: receipt.Acknowledged,
			event.KeyRequired:     receipt.Required,
		}))

		if err := h.registry.Send(ctx, peer, ack); err != nil {
			logger.DebugKV(ctx, "Snooze receipt failed", "error", err)
		}
	default:
		logger.DebugKV(ctx, "Ignoring event from node", "kind", e.Kind().String())
	}
}
