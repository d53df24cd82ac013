// Package config defines the settings shared by alarm-host and alarm-node and
// provides helpers to load, validate and save them in YAML format.
//
// Validate fills documented defaults (port 5001, 5s heartbeats, 15s timeout)
// before checking the discovery backend and display driver selections.
package config
