// Package checker implements alarm-checker, a probe for a running alarm host.
//
// It reads the gRPC health status and the admin /alarm snapshot of the host,
// either once (for service managers) or in a polling loop.
package checker
