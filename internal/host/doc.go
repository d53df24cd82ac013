// Package host implements the coordinating side of the alarm system.
//
// The Registry owns one session per connected node and fans events out to
// them. The Supervisor evicts sessions that stop sending heartbeats. The
// Coordinator holds the single alarm: a trigger activates it and broadcasts
// ALARM_TRIGGERED, and it clears with ALARM_CLEARED only once every node
// connected at the time of a snooze has snoozed. The Scheduler triggers the
// alarm when the wall clock reaches it, and Host wires them to a listener.
package host
