// Package transport turns a duplex byte stream into a sequence of events.
//
// Every record is an encoded event followed by a single newline. Reads are
// buffered until a delimiter arrives, so records split across any number of
// physical reads decode the same as records delivered whole. Records that
// fail to decode are dropped without closing the stream.
package transport
