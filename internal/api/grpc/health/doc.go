// Package health serves the standard grpc.health.v1 API for the alarm host,
// so orchestrators and probes can tell whether the host accepts nodes.
package health
