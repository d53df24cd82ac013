// Package event defines the typed messages exchanged between the host and
// nodes and their text encoding.
//
// A record is one JSON object with a small integer "type" code, an optional
// "data" object, a "timestamp" in floating seconds since the epoch and an
// optional "expires_at". Records never contain a newline, which the transport
// uses as the delimiter.
package event
