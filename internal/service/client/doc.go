// Package client wires the alarm-node process.
//
// The command finds the host through discovery, keeps a single session with
// it, drives the display and the buzzer from host events, and sends a snooze
// for every line typed on stdin.
package client
