// Package common holds helpers shared by the alarm-host and alarm-node commands.
//
// It opens the configured discovery backend, derives a node identity from
// the current user and hostname, and guards against a second running
// instance of the same binary.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
