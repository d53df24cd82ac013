package node

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/oshokin/alarm-quorum/internal/discovery"
	"github.com/oshokin/alarm-quorum/internal/event"
	"github.com/oshokin/alarm-quorum/internal/logger"
	"github.com/oshokin/alarm-quorum/internal/transport"
)

// fakeHost is the host end of a dialed net.Pipe.
type fakeHost struct {
	conn   *transport.Conn
	events chan event.Event
	done   chan struct{}
}

// pipeDialer hands out the node end of a pipe per dial and keeps the host ends.
type pipeDialer struct {
	mu        sync.Mutex
	addresses []string
	hosts     chan *fakeHost
	// echo makes the fake host answer every heartbeat.
	echo bool
}

// newPipeDialer returns a dialer whose hosts never answer unless echo is set.
func newPipeDialer(echo bool) *pipeDialer {
	return &pipeDialer{
		hosts: make(chan *fakeHost, 4),
		echo:  echo,
	}
}

// dial implements Dialer.
func (d *pipeDialer) dial(_ context.Context, address string) (io.ReadWriteCloser, error) {
	d.mu.Lock()
	d.addresses = append(d.addresses, address)
	d.mu.Unlock()

	hostSide, nodeSide := net.Pipe()
	host := &fakeHost{
		conn:   transport.New(hostSide),
		events: make(chan event.Event, 64),
		done:   make(chan struct{}),
	}

	go func() {
		defer close(host.done)
		defer close(host.events)

		for e := range host.conn.Events() {
			if d.echo && e.Kind() == event.KindHeartbeat {
				_ = host.conn.Send(event.New(event.KindHeartbeat))
			}

			host.events <- e
		}
	}()

	d.hosts <- host

	return nodeSide, nil
}

// dialed returns the addresses dialed so far.
func (d *pipeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return append([]string(nil), d.addresses...)
}

// added builds an Added change.
func added(name string, port int) discovery.Change {
	return discovery.Change{
		Kind:    discovery.Added,
		Service: discovery.Service{Name: name, Address: "10.0.0.2", Port: port},
	}
}

// startSession runs a session on its own goroutine.
func startSession(ctx context.Context, s *Session, changes <-chan discovery.Change) <-chan error {
	result := make(chan error, 1)

	go func() {
		result <- s.Run(ctx, changes)
	}()

	return result
}

// TestSession_ConnectsOnceAndDelivers connects to the first host only and
// forwards host events to the subscriber, surviving a panicking subscriber.
func TestSession_ConnectsOnceAndDelivers(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		dialer := newPipeDialer(true)

		var (
			mu       sync.Mutex
			received []event.Kind
		)

		s := New(Options{
			NodeID: "hall",
			Dial:   dialer.dial,
			Subscriber: SubscriberFunc(func(_ context.Context, e event.Event) {
				mu.Lock()
				received = append(received, e.Kind())
				mu.Unlock()

				if e.Kind() == event.KindAlarmTriggered {
					panic("display unplugged")
				}
			}),
		})

		ctx, cancel := context.WithCancel(t.Context())
		changes := make(chan discovery.Change, 4)
		result := startSession(ctx, s, changes)

		require.Equal(t, StateDiscovering, s.State())
		require.ErrorIs(t, s.Snooze(), ErrNotConnected)

		changes <- added("AlarmHostService", 5001)
		changes <- added("OtherHost", 5002)
		host := <-dialer.hosts

		synctest.Wait()
		require.Equal(t, StateConnected, s.State())
		require.Equal(t, []string{"10.0.0.2:5001"}, dialer.dialed())

		connected, ok := s.Host()
		require.True(t, ok)
		require.Equal(t, "AlarmHostService", connected.Name)

		require.NoError(t, host.conn.Send(event.New(event.KindAlarmTriggered)))
		require.NoError(t, host.conn.Send(event.New(event.KindAlarmCleared)))
		synctest.Wait()

		mu.Lock()
		require.Equal(t, []event.Kind{event.KindAlarmTriggered, event.KindAlarmCleared}, received)
		mu.Unlock()

		require.NoError(t, s.Snooze())
		require.Equal(t, event.KindSnoozePressed, (<-host.events).Kind())

		time.Sleep(5 * time.Second)
		synctest.Wait()

		heartbeat := <-host.events
		require.Equal(t, event.KindHeartbeat, heartbeat.Kind())
		require.Equal(t, "hall", heartbeat.Text(event.KeyNodeID))

		cancel()
		require.NoError(t, <-result)
		require.Equal(t, StateDisconnected, s.State())
		require.ErrorIs(t, s.Err(), ErrStopped)

		<-host.done
	})
}

// TestSession_HostNeverReplies self-disconnects after the heartbeat timeout.
func TestSession_HostNeverReplies(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		dialer := newPipeDialer(false)
		s := New(Options{
			Dial:              dialer.dial,
			HeartbeatInterval: 5 * time.Second,
			HeartbeatTimeout:  15 * time.Second,
		})

		changes := make(chan discovery.Change, 1)
		changes <- added("AlarmHostService", 5001)

		result := startSession(t.Context(), s, changes)
		host := <-dialer.hosts

		time.Sleep(15 * time.Second)
		synctest.Wait()
		require.Equal(t, StateConnected, s.State())

		time.Sleep(5 * time.Second)
		synctest.Wait()
		require.Equal(t, StateDisconnected, s.State())

		err := <-result
		require.ErrorIs(t, err, ErrHostLost)
		require.ErrorIs(t, s.Err(), ErrHostLost)

		select {
		case <-s.Done():
		default:
			require.FailNow(t, "done not closed")
		}

		<-host.done
		require.Len(t, drain(host.events), 3)
		require.ErrorIs(t, s.Snooze(), ErrNotConnected)
	})
}

// TestSession_RepliesKeepSessionAlive stays connected while the host answers.
func TestSession_RepliesKeepSessionAlive(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		dialer := newPipeDialer(true)
		s := New(Options{Dial: dialer.dial})

		ctx, cancel := context.WithCancel(t.Context())
		changes := make(chan discovery.Change, 1)
		changes <- added("AlarmHostService", 5001)

		result := startSession(ctx, s, changes)
		host := <-dialer.hosts

		time.Sleep(2 * time.Minute)
		synctest.Wait()
		require.Equal(t, StateConnected, s.State())
		require.WithinDuration(t, time.Now(), s.LastSeen(), DefaultHeartbeatInterval)

		cancel()
		require.NoError(t, <-result)
		<-host.done
	})
}

// TestSession_HostRemoved disconnects when discovery withdraws the connected
// host and ignores removals of other hosts.
func TestSession_HostRemoved(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		dialer := newPipeDialer(true)
		s := New(Options{Dial: dialer.dial})

		changes := make(chan discovery.Change, 4)
		changes <- added("AlarmHostService", 5001)

		result := startSession(t.Context(), s, changes)
		host := <-dialer.hosts

		changes <- discovery.Change{Kind: discovery.Removed, Service: discovery.Service{Name: "OtherHost"}}
		synctest.Wait()
		require.Equal(t, StateConnected, s.State())

		changes <- discovery.Change{Kind: discovery.Removed, Service: discovery.Service{Name: "AlarmHostService"}}
		require.ErrorIs(t, <-result, ErrHostRemoved)

		<-host.done
	})
}

// TestSession_HostCloses disconnects when the host ends the stream.
func TestSession_HostCloses(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		dialer := newPipeDialer(false)
		s := New(Options{Dial: dialer.dial})

		changes := make(chan discovery.Change, 1)
		changes <- added("AlarmHostService", 5001)

		result := startSession(t.Context(), s, changes)
		host := <-dialer.hosts

		require.NoError(t, host.conn.Close())
		require.ErrorIs(t, <-result, errHostClosed)
		require.ErrorIs(t, s.Send(event.New(event.KindSnoozePressed)), ErrNotConnected)

		<-host.done
	})
}

// TestSession_DialFailure ends in the disconnected state without retrying.
func TestSession_DialFailure(t *testing.T) {
	t.Parallel()

	refused := errors.New("connection refused")
	attempts := 0

	s := New(Options{
		Dial: func(context.Context, string) (io.ReadWriteCloser, error) {
			attempts++

			return nil, refused
		},
	})

	changes := make(chan discovery.Change, 2)
	changes <- added("AlarmHostService", 5001)
	changes <- added("AlarmHostService", 5001)

	err := s.Run(t.Context(), changes)
	require.ErrorIs(t, err, transport.ErrTransportFailure)
	require.ErrorIs(t, err, refused)
	require.Equal(t, 1, attempts)
	require.Equal(t, StateDisconnected, s.State())
}

// TestSession_DiscoveryEnded gives up when the watcher closes before any host.
func TestSession_DiscoveryEnded(t *testing.T) {
	t.Parallel()

	changes := make(chan discovery.Change)
	close(changes)

	err := New(Options{}).Run(t.Context(), changes)
	require.ErrorIs(t, err, ErrDiscoveryEnded)
}

// TestSession_SendFailureDisconnects treats a failed write as fatal and logs
// the disconnect with the session's fields.
func TestSession_SendFailureDisconnects(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		core, logs := observer.New(zapcore.DebugLevel)
		ctx := logger.ToContext(t.Context(), zap.New(core).Sugar())
		ctx = logger.WithKV(ctx, "node_id", "kitchen")

		hostSides := make(chan net.Conn, 1)

		s := New(Options{
			WriteTimeout: time.Second,
			Dial: func(context.Context, string) (io.ReadWriteCloser, error) {
				hostSide, nodeSide := net.Pipe()
				hostSides <- hostSide

				return nodeSide, nil
			},
		})

		changes := make(chan discovery.Change, 1)
		changes <- added("AlarmHostService", 5001)

		result := startSession(ctx, s, changes)
		hostSide := <-hostSides
		synctest.Wait()
		require.Equal(t, StateConnected, s.State())

		// Nobody reads the host end, so the write runs into its deadline.
		err := s.Snooze()
		require.ErrorIs(t, err, transport.ErrTransportFailure)
		require.Equal(t, StateDisconnected, s.State())
		require.ErrorIs(t, <-result, transport.ErrTransportFailure)

		entries := logs.FilterMessage("Disconnected from host").All()
		require.Len(t, entries, 1)

		fields := entries[0].ContextMap()
		require.Equal(t, "kitchen", fields["node_id"])
		require.Equal(t, "AlarmHostService", fields["host"])

		require.NoError(t, hostSide.Close())
	})
}

// TestState_String labels every state.
func TestState_String(t *testing.T) {
	t.Parallel()

	require.Equal(t, "discovering", StateDiscovering.String())
	require.Equal(t, "connected", StateConnected.String())
	require.Equal(t, "disconnected", StateDisconnected.String())
	require.Equal(t, "unknown", State(9).String())
}

// drain collects whatever is buffered in a closed channel.
func drain(events <-chan event.Event) []event.Event {
	var all []event.Event
	for e := range events {
		all = append(all, e)
	}

	return all
}
