package device

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-quorum/internal/event"
)

// fakeDisplay remembers shown texts.
type fakeDisplay struct {
	shown []string
	err   error
}

// Show records text.
func (d *fakeDisplay) Show(_ context.Context, text string) error {
	d.shown = append(d.shown, text)

	return d.err
}

// fakeBuzzer counts state changes.
type fakeBuzzer struct {
	on     bool
	starts int
}

// Start turns the buzzer on.
func (b *fakeBuzzer) Start() {
	if !b.on {
		b.starts++
	}

	b.on = true
}

// Stop turns the buzzer off.
func (b *fakeBuzzer) Stop() { b.on = false }

// TestWrap lays text out on two padded rows of sixteen columns.
func TestWrap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want [Rows]string
	}{
		{
			name: "short",
			text: "ALARM",
			want: [Rows]string{"ALARM           ", "                "},
		},
		{
			name: "two rows",
			text: "Hello LCD! This wraps onto line 2.",
			want: [Rows]string{"Hello LCD! This ", "wraps onto line "},
		},
		{
			name: "runes",
			text: "Будильник 07:30!",
			want: [Rows]string{"Будильник 07:30!", "                "},
		},
		{
			name: "empty",
			want: [Rows]string{"                ", "                "},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			require.Equal(t, tt.want, Wrap(tt.text))
		})
	}

	require.NoError(t, LogDisplay{}.Show(t.Context(), "Alarm cleared"))
}

// TestResponder reacts to the alarm lifecycle.
func TestResponder(t *testing.T) {
	t.Parallel()

	display := new(fakeDisplay)
	buzzer := new(fakeBuzzer)
	r := NewResponder(display, buzzer)
	ctx := t.Context()

	r.HandleEvent(ctx, event.New(event.KindAlarmTriggered,
		event.WithPayload(map[string]any{event.KeyAlarm: "07:30"})))
	require.True(t, buzzer.on)

	r.HandleEvent(ctx, event.New(event.KindAlarmTriggered,
		event.WithPayload(map[string]any{event.KeyAlarm: "07:30"})))
	require.Equal(t, 1, buzzer.starts)

	r.HandleEvent(ctx, event.New(event.KindAck, event.WithPayload(map[string]any{
		event.KeyAcknowledged: 1.0,
		event.KeyRequired:     3.0,
	})))
	require.True(t, buzzer.on)

	r.HandleEvent(ctx, event.New(event.KindHeartbeat))

	r.HandleEvent(ctx, event.New(event.KindAlarmCleared,
		event.WithPayload(map[string]any{event.KeyReason: event.ReasonQuorum})))
	require.False(t, buzzer.on)

	require.Equal(t, []string{
		"ALARM 07:30 press snooze",
		"ALARM 07:30 press snooze",
		"Snoozed 1/3 waiting for others",
		"Alarm cleared: quorum reached",
	}, display.shown)

	r.HandleEvent(ctx, event.New(event.KindAlarmTriggered))
	r.Close()
	require.False(t, buzzer.on)
}

// TestResponder_DriverFailures keeps going without drivers or with a broken display.
func TestResponder_DriverFailures(t *testing.T) {
	t.Parallel()

	buzzer := new(fakeBuzzer)
	r := NewResponder(&fakeDisplay{err: errors.New("i2c timeout")}, buzzer)

	r.HandleEvent(t.Context(), event.New(event.KindAlarmTriggered))
	require.True(t, buzzer.on)

	bare := NewResponder(nil, nil)
	bare.HandleEvent(t.Context(), event.New(event.KindAlarmTriggered))
	bare.Close()
}

// TestBeeper repeats the bell every on/off cycle until stopped.
func TestBeeper(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		var out bytes.Buffer

		b := NewBeeper(&out)
		require.False(t, b.Beeping())

		b.Start()
		b.Start()
		require.True(t, b.Beeping())

		time.Sleep(time.Second)
		b.Stop()
		b.Stop()

		require.False(t, b.Beeping())
		require.Equal(t, "\a\a\a", out.String())

		b.Start()
		b.Stop()
		require.Equal(t, "\a\a\a\a", out.String())
	})
}
