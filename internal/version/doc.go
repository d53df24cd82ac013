// Package version exposes build metadata of the alarm-host and alarm-node
// binaries: for the `version` subcommand, for startup logs and as a
// Prometheus build_info gauge.
package version
