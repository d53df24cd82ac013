package alarm

import (
	"maps"
	"slices"
)

// State is a point-in-time view of the host's alarm coordinator.
type State struct {
	// Current is the alarm set on the host, nil when none was set.
	Current *Alarm
	// Active is true between a trigger and the quorum clear.
	Active bool
	// Acknowledged is the set of peer identities that snoozed the active alarm.
	Acknowledged map[string]struct{}
}

// NewState returns the initial coordinator state: no alarm, inactive.
func NewState() *State {
	return &State{
		Acknowledged: make(map[string]struct{}),
	}
}

// Covers reports whether every member has acknowledged.
func (s *State) Covers(members []string) bool {
	for _, member := range members {
		if _, ok := s.Acknowledged[member]; !ok {
			return false
		}
	}

	return true
}

// AcknowledgedPeers returns the acknowledged identities in sorted order.
func (s *State) AcknowledgedPeers() []string {
	return slices.Sorted(maps.Keys(s.Acknowledged))
}

// Clone returns a copy of the state to avoid leaking internal references.
func (s *State) Clone() *State {
	var current *Alarm
	if s.Current != nil {
		copied := *s.Current
		current = &copied
	}

	acknowledged := make(map[string]struct{}, len(s.Acknowledged))
	maps.Copy(acknowledged, s.Acknowledged)

	return &State{
		Current:      current,
		Active:       s.Active,
		Acknowledged: acknowledged,
	}
}
