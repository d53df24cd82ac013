// Package node implements the peripheral side of the alarm system.
//
// A Session waits for discovery to report a host, connects to the first one
// and then runs two loops: one forwards host events to a Subscriber, the
// other sends heartbeats and gives up when the host stops answering. Any
// failure moves the session to its terminal disconnected state.
package node
