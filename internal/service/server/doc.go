// Package server wires the alarm-host process: settings, the node listener,
// discovery advertisement, and the optional admin and health endpoints.
package server
