package host

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/oshokin/alarm-quorum/internal/domain/alarm"
	"github.com/oshokin/alarm-quorum/internal/event"
	"github.com/oshokin/alarm-quorum/internal/logger"
)

// Fleet is the view of connected nodes the coordinator needs.
type Fleet interface {
	// Members returns the identities of connected nodes.
	Members() []string
	// Broadcast sends e to every connected node.
	Broadcast(ctx context.Context, e event.Event) int
}

// Receipt describes how a snooze was counted.
type Receipt struct {
	// Acknowledged is the number of recorded snoozes, including this one.
	Acknowledged int
	// Required is the number of connected nodes at the time of the snooze.
	Required int
	// Cleared is true when this snooze completed the quorum.
	Cleared bool
}

// Coordinator is the alarm state machine of the host. A triggered alarm
// stays active until every connected node has snoozed it.
type Coordinator struct {
	fleet   Fleet
	metrics *Metrics
	now     func() time.Time

	// mu guards state and serializes broadcasts of transitions.
	mu    sync.Mutex
	state *alarm.State
}

// NewCoordinator returns an inactive coordinator without an alarm.
func NewCoordinator(fleet Fleet, metrics *Metrics) *Coordinator {
	return &Coordinator{
		fleet:   fleet,
		metrics: metrics,
		now:     time.Now,
		state:   alarm.NewState(),
	}
}

// SetAlarm replaces the current alarm. It does not touch an active alarm.
func (c *Coordinator) SetAlarm(ctx context.Context, a alarm.Alarm) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state.Current = &a

	logger.InfoKV(ctx, "Alarm set", "alarm", a.String(), "next", a.Next(c.now()))
}

// Current returns the current alarm.
func (c *Coordinator) Current() (alarm.Alarm, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Current == nil {
		return alarm.Alarm{}, false
	}

	return *c.state.Current, true
}

// Active reports whether an alarm awaits quorum.
func (c *Coordinator) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state.Active
}

// Trigger activates a and broadcasts ALARM_TRIGGERED. While an alarm is
// already active it does nothing and returns false. Without a current alarm,
// a becomes the current one.
func (c *Coordinator) Trigger(ctx context.Context, a alarm.Alarm) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Active {
		logger.DebugKV(ctx, "Trigger ignored, alarm already active", "alarm", a.String())

		return false
	}

	if c.state.Current == nil {
		c.state.Current = &a
	}

	c.state.Active = true
	clear(c.state.Acknowledged)
	c.metrics.setActive(true)

	now := c.now()
	triggered := event.New(event.KindAlarmTriggered,
		event.WithCreatedAt(now),
		event.WithExpiresAt(a.Next(now)),
		event.WithPayload(map[string]any{
			event.KeyAlarm:  a.String(),
			event.KeyHour:   a.Hour24(),
			event.KeyMinute: a.Minute,
		}),
	)

	delivered := c.fleet.Broadcast(ctx, triggered)

	logger.InfoKV(ctx, "Alarm triggered", "alarm", a.String(), "delivered", delivered)

	return true
}

// OnSnooze records peer's acknowledgment of the active alarm. When every
// connected node has acknowledged, the alarm clears and ALARM_CLEARED is
// broadcast. Snoozes while inactive, or from peers that are not connected,
// are ignored and return false.
func (c *Coordinator) OnSnooze(ctx context.Context, peer string) (Receipt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.Active {
		logger.DebugKV(ctx, "Snooze ignored, no active alarm", "peer", peer)

		return Receipt{}, false
	}

	members := c.fleet.Members()
	if !slices.Contains(members, peer) {
		logger.DebugKV(ctx, "Snooze ignored, peer is not connected", "peer", peer)

		return Receipt{}, false
	}

	c.state.Acknowledged[peer] = struct{}{}

	receipt := Receipt{
		Acknowledged: len(c.state.Acknowledged),
		Required:     len(members),
	}

	if !c.state.Covers(members) {
		logger.InfoKV(ctx, "Snooze recorded", "peer", peer,
			"acknowledged", receipt.Acknowledged, "required", receipt.Required)

		return receipt, true
	}

	c.state.Active = false
	clear(c.state.Acknowledged)
	c.metrics.setActive(false)
	c.metrics.cleared()

	receipt.Cleared = true

	cleared := event.New(event.KindAlarmCleared,
		event.WithCreatedAt(c.now()),
		event.WithPayload(map[string]any{event.KeyReason: event.ReasonQuorum}),
	)

	delivered := c.fleet.Broadcast(ctx, cleared)

	logger.InfoKV(ctx, "Alarm cleared by quorum", "peers", receipt.Required, "delivered", delivered)

	return receipt, true
}

// State returns a snapshot of the coordinator state.
func (c *Coordinator) State() *alarm.State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state.Clone()
}
