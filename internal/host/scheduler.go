package host

import (
	"context"
	"time"
)

// DefaultPollInterval is how often the scheduler compares the clock with the alarm.
const DefaultPollInterval = time.Second

// Scheduler triggers the current alarm when the wall clock reaches it.
type Scheduler struct {
	coordinator *Coordinator
	interval    time.Duration
	tolerance   time.Duration
	now         func() time.Time

	// fired is the occurrence triggered last, so each one fires at most once.
	fired time.Time
}

// NewScheduler polls every interval and fires when the alarm is within tolerance.
func NewScheduler(coordinator *Coordinator, interval, tolerance time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Scheduler{
		coordinator: coordinator,
		interval:    interval,
		tolerance:   tolerance,
		now:         time.Now,
	}
}

// Run polls until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires the current alarm once per occurrence while it is due.
func (s *Scheduler) tick(ctx context.Context) bool {
	current, ok := s.coordinator.Current()
	if !ok {
		return false
	}

	now := s.now()
	if !current.Due(now, s.tolerance) {
		return false
	}

	occurrence := current.On(now)
	if occurrence.Equal(s.fired) {
		return false
	}

	s.fired = occurrence

	return s.coordinator.Trigger(ctx, current)
}
