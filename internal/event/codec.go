package event

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedEvent is returned when a record cannot be decoded into an Event.
var ErrMalformedEvent = errors.New("malformed event")

// record is the wire shape of an Event.
type record struct {
	Type      *int           `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp *float64       `json:"timestamp"`
	ExpiresAt *float64       `json:"expires_at"`
}

// Encode renders the event as a single-line JSON record without the delimiter.
// Map keys are sorted, so equal events encode to identical bytes.
func Encode(e Event) ([]byte, error) {
	code := int(e.kind)
	timestamp := toSeconds(e.createdAt)

	rec := record{
		Type:      &code,
		Data:      e.payload,
		Timestamp: &timestamp,
	}

	if e.hasExpiry {
		expires := toSeconds(e.expiresAt)
		rec.ExpiresAt = &expires
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", e.kind, err)
	}

	return data, nil
}

// Decode parses one record. Unknown type codes and missing type or timestamp
// fields yield ErrMalformedEvent.
func Decode(data []byte) (Event, error) {
	var rec record

	decoder := json.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&rec); err != nil {
		return Event{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}

	if decoder.More() {
		return Event{}, fmt.Errorf("%w: trailing data", ErrMalformedEvent)
	}

	if rec.Type == nil {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	kind := Kind(*rec.Type)
	if !kind.Valid() {
		return Event{}, fmt.Errorf("%w: unknown type code %d", ErrMalformedEvent, *rec.Type)
	}

	if rec.Timestamp == nil {
		return Event{}, fmt.Errorf("%w: missing timestamp", ErrMalformedEvent)
	}

	opts := []Option{
		WithPayload(rec.Data),
		WithCreatedAt(fromSeconds(*rec.Timestamp)),
	}

	if rec.ExpiresAt != nil {
		opts = append(opts, WithExpiresAt(fromSeconds(*rec.ExpiresAt)))
	}

	return New(kind, opts...), nil
}

// toSeconds converts a time to floating seconds since the epoch.
func toSeconds(t time.Time) float64 {
	return float64(t.UnixMicro()) / 1e6
}

// fromSeconds converts floating seconds since the epoch, rounding to the microsecond.
func fromSeconds(seconds float64) time.Time {
	return time.UnixMicro(int64(math.Round(seconds * 1e6))).UTC()
}
