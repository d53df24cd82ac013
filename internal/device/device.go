package device

import (
	"context"
	"fmt"
	"sync"

	"github.com/oshokin/alarm-quorum/internal/event"
	"github.com/oshokin/alarm-quorum/internal/logger"
)

// Display shows short status texts to the user.
type Display interface {
	Show(ctx context.Context, text string) error
}

// Buzzer makes the alarm audible. Start and Stop are idempotent.
type Buzzer interface {
	Start()
	Stop()
}

// Responder drives the display and buzzer of a node from host events.
type Responder struct {
	display Display
	buzzer  Buzzer

	// mu serializes reactions so display texts follow event order.
	mu sync.Mutex
}

// NewResponder owns the given drivers; either may be nil.
func NewResponder(display Display, buzzer Buzzer) *Responder {
	return &Responder{
		display: display,
		buzzer:  buzzer,
	}
}

// HandleEvent starts the buzzer on ALARM_TRIGGERED, stops it on
// ALARM_CLEARED and shows snooze progress on ACK.
func (r *Responder) HandleEvent(ctx context.Context, e event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Kind() {
	case event.KindAlarmTriggered:
		r.startBuzzer()
		r.show(ctx, "ALARM "+e.Text(event.KeyAlarm)+" press snooze")
	case event.KindAlarmCleared:
		r.stopBuzzer()
		r.show(ctx, "Alarm cleared: "+e.Text(event.KeyReason))
	case event.KindAck:
		acknowledged, _ := e.Number(event.KeyAcknowledged)
		required, _ := e.Number(event.KeyRequired)
		r.show(ctx, fmt.Sprintf("Snoozed %d/%d waiting for others", int(acknowledged), int(required)))
	default:
	}
}

// Close silences the buzzer.
func (r *Responder) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.stopBuzzer()
}

func (r *Responder) startBuzzer() {
	if r.buzzer != nil {
		r.buzzer.Start()
	}
}

func (r *Responder) stopBuzzer() {
	if r.buzzer != nil {
		r.buzzer.Stop()
	}
}

func (r *Responder) show(ctx context.Context, text string) {
	if r.display == nil {
		return
	}

	if err := r.display.Show(ctx, text); err != nil {
		logger.WarnKV(ctx, "Display failed", "text", text, "error", err)
	}
}
