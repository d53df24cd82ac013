package integration

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-quorum/internal/discovery"
	"github.com/oshokin/alarm-quorum/internal/event"
	"github.com/oshokin/alarm-quorum/internal/host"
	"github.com/oshokin/alarm-quorum/internal/node"
)

// Short periods keep the tests fast; the timeout leaves room for slow CI.
const (
	heartbeatInterval = 100 * time.Millisecond
	heartbeatTimeout  = time.Second
	waitFor           = 5 * time.Second
	pollEvery         = 10 * time.Millisecond
)

// reservePort returns a free loopback address.
func reservePort(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := l.Addr().String()
	require.NoError(t, l.Close())

	return addr
}

// startHost serves a host on a loopback port until the test ends.
func startHost(t *testing.T) (*host.Host, string) {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	h := host.New(host.Options{
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		WriteTimeout:      time.Second,
	})

	served := make(chan error, 1)

	go func() {
		served <- h.Serve(context.Background(), lis)
	}()

	t.Cleanup(func() {
		h.Stop()
		require.NoError(t, <-served)
	})

	return h, lis.Addr().String()
}

// inbox collects the events a node receives.
type inbox struct {
	events chan event.Event
}

// HandleEvent queues every event except heartbeats.
func (i *inbox) HandleEvent(_ context.Context, e event.Event) {
	if e.Kind() == event.KindHeartbeat {
		return
	}

	i.events <- e
}

// next returns the next event and checks its kind.
func (i *inbox) next(t *testing.T, kind event.Kind) event.Event {
	t.Helper()

	select {
	case e := <-i.events:
		require.Equal(t, kind, e.Kind())

		return e
	case <-time.After(waitFor):
		require.FailNow(t, "no event", "waiting for %s", kind)

		return event.Event{}
	}
}

// empty checks that nothing but heartbeats arrived.
func (i *inbox) empty(t *testing.T) {
	t.Helper()

	select {
	case e := <-i.events:
		require.FailNow(t, "unexpected event", "got %s", e.Kind())
	default:
	}
}

// startNode runs a node session that finds address through static discovery.
func startNode(t *testing.T, address, id string) (*node.Session, *inbox, <-chan error) {
	t.Helper()

	static, err := discovery.ParseStatic("AlarmHostService", address)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	changes, err := static.Watch(ctx, "")
	require.NoError(t, err)

	box := &inbox{events: make(chan event.Event, 16)}
	s := node.New(node.Options{
		NodeID:            id,
		HeartbeatInterval: heartbeatInterval,
		HeartbeatTimeout:  heartbeatTimeout,
		WriteTimeout:      time.Second,
		Subscriber:        box,
	})

	result := make(chan error, 1)
	finished := make(chan struct{})

	go func() {
		defer close(finished)

		result <- s.Run(ctx, changes)
	}()

	t.Cleanup(func() {
		cancel()
		<-finished
	})

	return s, box, result
}

// waitMembers waits until the host has n sessions.
func waitMembers(t *testing.T, h *host.Host, n int) {
	t.Helper()

	require.Eventually(t, func() bool {
		return h.Registry().Len() == n
	}, waitFor, pollEvery)
}
