package host

import (
	"net"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-quorum/internal/event"
)

// newTestHost returns a host with short periods.
func newTestHost() *Host {
	return New(Options{
		HeartbeatInterval: 5 * time.Second,
		HeartbeatTimeout:  15 * time.Second,
		WriteTimeout:      time.Second,
		TriggerTolerance:  time.Second,
	})
}

// number reads a numeric payload value.
func number(t *testing.T, e event.Event, key string) float64 {
	t.Helper()

	v, ok := e.Number(key)
	require.True(t, ok, "missing %s", key)

	return v
}

// TestHost_HeartbeatReply answers every heartbeat with a heartbeat.
func TestHost_HeartbeatReply(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newTestHost()
		node := attach(t, h.Registry(), "A")

		heartbeat := event.New(event.KindHeartbeat, event.WithPayload(map[string]any{event.KeyNodeID: "hall"}))
		require.NoError(t, node.conn.Send(heartbeat))
		require.Equal(t, event.KindHeartbeat, node.next(t).Kind())

		h.Registry().Close(t.Context())
		node.close()
	})
}

// TestHost_QuorumScenario connects A and B, triggers, and clears only after
// both have snoozed. A partial snooze gets a receipt.
func TestHost_QuorumScenario(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newTestHost()
		ctx := t.Context()
		a := attach(t, h.Registry(), "A")
		b := attach(t, h.Registry(), "B")

		// Snoozing an inactive alarm gets no answer.
		require.NoError(t, a.conn.Send(event.New(event.KindSnoozePressed)))
		synctest.Wait()
		require.Empty(t, a.events)

		require.True(t, h.Coordinator().Trigger(ctx, mustAlarm(t, "07:30")))
		require.Equal(t, event.KindAlarmTriggered, a.next(t).Kind())
		require.Equal(t, event.KindAlarmTriggered, b.next(t).Kind())

		require.NoError(t, a.conn.Send(event.New(event.KindSnoozePressed)))

		ack := a.next(t)
		require.Equal(t, event.KindAck, ack.Kind())
		require.InDelta(t, 1, number(t, ack, event.KeyAcknowledged), 0)
		require.InDelta(t, 2, number(t, ack, event.KeyRequired), 0)
		require.True(t, h.Coordinator().Active())

		require.NoError(t, b.conn.Send(event.New(event.KindSnoozePressed)))

		cleared := a.next(t)
		require.Equal(t, event.KindAlarmCleared, cleared.Kind())
		require.Equal(t, event.ReasonQuorum, cleared.Text(event.KeyReason))
		require.Equal(t, event.KindAlarmCleared, b.next(t).Kind())

		synctest.Wait()
		require.Empty(t, b.events)
		require.False(t, h.Coordinator().Active())

		h.Registry().Close(ctx)
		a.close()
		b.close()
	})
}

// TestHost_DisconnectDoesNotClear keeps the alarm active when a node leaves
// and lets the remaining nodes reach quorum.
func TestHost_DisconnectDoesNotClear(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		h := newTestHost()
		ctx := t.Context()
		a := attach(t, h.Registry(), "A")
		b := attach(t, h.Registry(), "B")

		require.True(t, h.Coordinator().Trigger(ctx, mustAlarm(t, "07:30")))
		require.Equal(t, event.KindAlarmTriggered, a.next(t).Kind())
		require.Equal(t, event.KindAlarmTriggered, b.next(t).Kind())

		b.close()
		synctest.Wait()
		require.True(t, h.Coordinator().Active())
		require.Equal(t, []string{"A"}, h.Registry().Members())

		require.NoError(t, a.conn.Send(event.New(event.KindSnoozePressed)))
		require.Equal(t, event.KindAlarmCleared, a.next(t).Kind())

		h.Registry().Close(ctx)
		a.close()
	})
}

// TestHost_ServeAndStop accepts over a real listener and stops idempotently.
func TestHost_ServeAndStop(t *testing.T) {
	t.Parallel()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := newTestHost()
	served := make(chan error, 1)

	go func() {
		served <- h.Serve(t.Context(), lis)
	}()

	conn, err := net.Dial("tcp", lis.Addr().String())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return h.Registry().Len() == 1
	}, 5*time.Second, 10*time.Millisecond)

	h.Stop()
	h.Stop()

	require.NoError(t, <-served)
	require.Zero(t, h.Registry().Len())

	_, err = conn.Read(make([]byte, 1))
	require.Error(t, err)
	require.NoError(t, conn.Close())
}
