package event

import (
	"maps"
	"reflect"
	"strconv"
	"time"
)

// Kind is the type of an Event. The numeric values are the wire codes and
// must never be renumbered.
type Kind int

const (
	// KindAlarmTriggered announces that the alarm started sounding.
	KindAlarmTriggered Kind = 1
	// KindAlarmCleared announces that every connected node acknowledged.
	KindAlarmCleared Kind = 2
	// KindHeartbeat is the liveness probe sent by nodes and echoed by the host.
	KindHeartbeat Kind = 3
	// KindSnoozePressed is a node's acknowledgment of the sounding alarm.
	KindSnoozePressed Kind = 4
	// KindAck is the host's receipt for a snooze.
	KindAck Kind = 5
)

// Payload keys used by the host and nodes.
const (
	// KeyNodeID carries the node identifier in heartbeats.
	KeyNodeID = "node_id"
	// KeyAlarm carries the rendered alarm time in ALARM_TRIGGERED.
	KeyAlarm = "alarm"
	// KeyHour carries the 24-hour alarm hour in ALARM_TRIGGERED.
	KeyHour = "hour"
	// KeyMinute carries the alarm minute in ALARM_TRIGGERED.
	KeyMinute = "minute"
	// KeyReason explains an ALARM_CLEARED.
	KeyReason = "reason"
	// KeyAcknowledged is the number of snoozes recorded so far in an ACK.
	KeyAcknowledged = "acknowledged"
	// KeyRequired is the number of connected nodes in an ACK.
	KeyRequired = "required"
)

// ReasonQuorum is the clear reason broadcast when every node snoozed.
const ReasonQuorum = "quorum reached"

// String returns the upper-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindAlarmTriggered:
		return "ALARM_TRIGGERED"
	case KindAlarmCleared:
		return "ALARM_CLEARED"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindSnoozePressed:
		return "SNOOZE_PRESSED"
	case KindAck:
		return "ACK"
	default:
		return "KIND(" + strconv.Itoa(int(k)) + ")"
	}
}

// Valid reports whether k is one of the assigned codes.
func (k Kind) Valid() bool {
	return k >= KindAlarmTriggered && k <= KindAck
}

// Event is an immutable message exchanged between the host and nodes.
//
// Payload values are JSON-native (string, float64, bool, nil, []any,
// map[string]any) so that an event decodes to exactly what was encoded.
type Event struct {
	kind      Kind
	payload   map[string]any
	createdAt time.Time
	expiresAt time.Time
	hasExpiry bool
}

// Option customizes an Event under construction.
type Option func(*Event)

// WithPayload sets the payload. The map is copied with Go numbers widened to
// float64, the form Decode produces; an empty map means no payload.
func WithPayload(payload map[string]any) Option {
	return func(e *Event) {
		if len(payload) == 0 {
			e.payload = nil
			return
		}

		e.payload = nativeMap(payload)
	}
}

// nativeMap copies m converting every value with native.
func nativeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = native(v)
	}

	return out
}

// native converts Go numbers to float64 and copies nested containers.
// Values JSON cannot carry pass through and fail in Encode.
func native(v any) any {
	switch v := v.(type) {
	case int:
		return float64(v)
	case int8:
		return float64(v)
	case int16:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case uint:
		return float64(v)
	case uint8:
		return float64(v)
	case uint16:
		return float64(v)
	case uint32:
		return float64(v)
	case uint64:
		return float64(v)
	case float32:
		return float64(v)
	case map[string]any:
		return nativeMap(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = native(item)
		}

		return out
	default:
		return v
	}
}

// WithCreatedAt overrides the creation time, which defaults to now.
func WithCreatedAt(t time.Time) Option {
	return func(e *Event) {
		e.createdAt = normalize(t)
	}
}

// WithExpiresAt sets the advisory expiry, used by ALARM_TRIGGERED to carry
// the intended firing instant.
func WithExpiresAt(t time.Time) Option {
	return func(e *Event) {
		e.expiresAt = normalize(t)
		e.hasExpiry = true
	}
}

// New constructs an Event of the given kind.
func New(kind Kind, opts ...Option) Event {
	e := Event{
		kind:      kind,
		createdAt: normalize(time.Now()),
	}

	for _, opt := range opts {
		opt(&e)
	}

	return e
}

// Kind returns the event type.
func (e Event) Kind() Kind { return e.kind }

// CreatedAt returns the creation instant in UTC with microsecond precision.
func (e Event) CreatedAt() time.Time { return e.createdAt }

// ExpiresAt returns the advisory expiry and whether one is present.
func (e Event) ExpiresAt() (time.Time, bool) { return e.expiresAt, e.hasExpiry }

// Payload returns a copy of the payload, nil when empty.
func (e Event) Payload() map[string]any { return maps.Clone(e.payload) }

// Value returns a single payload value.
func (e Event) Value(key string) (any, bool) {
	v, ok := e.payload[key]

	return v, ok
}

// Text returns the payload value under key when it is a string.
func (e Event) Text(key string) string {
	s, _ := e.payload[key].(string)

	return s
}

// Number returns the payload value under key when it is a number.
func (e Event) Number(key string) (float64, bool) {
	switch v := e.payload[key].(type) {
	case float64:
		return v, true
	default:
		return 0, false
	}
}

// Equal reports whether two events carry the same fields.
func (e Event) Equal(other Event) bool {
	return e.kind == other.kind &&
		e.createdAt.Equal(other.createdAt) &&
		e.hasExpiry == other.hasExpiry &&
		e.expiresAt.Equal(other.expiresAt) &&
		reflect.DeepEqual(e.payload, other.payload)
}

// normalize keeps what the float-seconds wire format can carry exactly.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
