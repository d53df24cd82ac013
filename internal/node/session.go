package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/oshokin/alarm-quorum/internal/discovery"
	"github.com/oshokin/alarm-quorum/internal/event"
	"github.com/oshokin/alarm-quorum/internal/logger"
	"github.com/oshokin/alarm-quorum/internal/transport"
)

// State is the lifecycle stage of a Session.
type State int

const (
	// StateDiscovering waits for the first host notification.
	StateDiscovering State = iota
	// StateConnected exchanges events with the host.
	StateConnected
	// StateDisconnected is terminal.
	StateDisconnected
)

// String returns a lower-case label for logs.
func (s State) String() string {
	switch s {
	case StateDiscovering:
		return "discovering"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

var (
	// ErrHostLost means no heartbeat reply arrived within the timeout.
	ErrHostLost = errors.New("host stopped answering heartbeats")
	// ErrHostRemoved means discovery reported the connected host as gone.
	ErrHostRemoved = errors.New("host withdrawn from discovery")
	// ErrNotConnected is returned by Send outside the connected state.
	ErrNotConnected = errors.New("not connected")
	// ErrDiscoveryEnded means the notification stream closed before any host appeared.
	ErrDiscoveryEnded = errors.New("discovery ended before a host appeared")
	// ErrStopped is the reason recorded when the session's context ends.
	ErrStopped = errors.New("session stopped")
	// errHostClosed is the reason recorded when the host ends the stream.
	errHostClosed = errors.New("host closed the connection")
)

// Defaults applied to zero Options fields.
const (
	DefaultHeartbeatInterval = 5 * time.Second
	DefaultHeartbeatTimeout  = 15 * time.Second
	DefaultWriteTimeout      = 5 * time.Second
)

// Subscriber receives every event from the host.
type Subscriber interface {
	HandleEvent(ctx context.Context, e event.Event)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, e event.Event)

// HandleEvent calls f.
func (f SubscriberFunc) HandleEvent(ctx context.Context, e event.Event) {
	f(ctx, e)
}

// Dialer opens a stream to "address:port".
type Dialer func(ctx context.Context, address string) (io.ReadWriteCloser, error)

// DialTCP is the default Dialer.
func DialTCP(ctx context.Context, address string) (io.ReadWriteCloser, error) {
	var dialer net.Dialer

	return dialer.DialContext(ctx, "tcp", address)
}

// Options configures a Session.
type Options struct {
	// NodeID is sent in heartbeat payloads.
	NodeID string
	// HeartbeatInterval is the period of heartbeat sends.
	HeartbeatInterval time.Duration
	// HeartbeatTimeout is how long the host may stay silent.
	HeartbeatTimeout time.Duration
	// WriteTimeout bounds every send.
	WriteTimeout time.Duration
	// Subscriber receives inbound events; may be nil.
	Subscriber Subscriber
	// Dial opens the connection; DialTCP when nil.
	Dial Dialer
}

// Session is the node's single connection to the host. It connects to the
// first host discovery reports and never reconnects: once disconnected, a new
// Session is needed.
type Session struct {
	opts Options

	// mu guards the fields below.
	mu       sync.Mutex
	state    State
	host     discovery.Service
	conn     *transport.Conn
	lastSeen time.Time
	err      error
	cancel   context.CancelFunc
	// loopCtx scopes logging to the connected host.
	loopCtx  context.Context

	// done is closed on entering StateDisconnected.
	done chan struct{}
	// loops tracks the receive and heartbeat goroutines.
	loops sync.WaitGroup
}

// New returns a discovering session.
func New(opts Options) *Session {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}

	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultHeartbeatTimeout
	}

	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultWriteTimeout
	}

	if opts.Dial == nil {
		opts.Dial = DialTCP
	}

	return &Session{
		opts: opts,
		done: make(chan struct{}),
	}
}

// Run consumes discovery changes until the session disconnects or ctx is
// done. It returns the disconnect reason, or nil when ctx ended the session.
func (s *Session) Run(ctx context.Context, changes <-chan discovery.Change) error {
	defer s.loops.Wait()

	for {
		select {
		case <-ctx.Done():
			s.disconnect(ctx, ErrStopped)

			return nil
		case <-s.done:
			return s.Err()
		case change, ok := <-changes:
			if !ok {
				changes = nil

				if s.State() == StateDiscovering {
					s.disconnect(ctx, ErrDiscoveryEnded)
				}

				continue
			}

			s.handleChange(ctx, change)
		}
	}
}

// handleChange reacts to one discovery notification.
func (s *Session) handleChange(ctx context.Context, change discovery.Change) {
	s.mu.Lock()
	state, host := s.state, s.host
	s.mu.Unlock()

	switch {
	case change.Kind == discovery.Added && state == StateDiscovering:
		s.connect(ctx, change.Service)
	case change.Kind == discovery.Added:
		logger.DebugKV(ctx, "Ignoring host, connection already attempted", "host", change.Service.Name)
	case change.Kind == discovery.Removed && state == StateConnected && change.Service.Name == host.Name:
		s.disconnect(ctx, ErrHostRemoved)
	default:
		logger.DebugKV(ctx, "Ignoring discovery change", "kind", change.Kind.String(), "host", change.Service.Name)
	}
}

// connect makes the single connection attempt of the session.
func (s *Session) connect(ctx context.Context, host discovery.Service) {
	address := host.HostPort()

	logger.InfoKV(ctx, "Connecting to host", "host", host.Name, "address", address)

	rwc, err := s.opts.Dial(ctx, address)
	if err != nil {
		s.disconnect(ctx, fmt.Errorf("%w: dial %s: %w", transport.ErrTransportFailure, address, err))

		return
	}

	loopCtx, cancel := context.WithCancel(logger.WithKV(ctx, "host", host.Name))
	conn := transport.New(rwc,
		transport.WithWriteTimeout(s.opts.WriteTimeout),
		transport.WithMalformedHandler(func(record []byte, err error) {
			logger.WarnKV(loopCtx, "Dropped malformed record", "record", string(record), "error", err)
		}),
	)

	s.mu.Lock()
	s.state = StateConnected
	s.host = host
	s.conn = conn
	s.lastSeen = time.Now()
	s.cancel = cancel
	s.loopCtx = loopCtx
	s.mu.Unlock()

	logger.InfoKV(ctx, "Connected to host", "host", host.Name, "address", address)

	s.loops.Go(func() { s.receive(loopCtx, conn) })
	s.loops.Go(func() { s.heartbeat(loopCtx) })
}

// receive forwards inbound events to the subscriber until the stream ends.
func (s *Session) receive(ctx context.Context, conn *transport.Conn) {
	for e := range conn.Events() {
		if e.Kind() == event.KindHeartbeat || e.Kind() == event.KindAck {
			s.touch()
		}

		s.deliver(ctx, e)
	}

	reason := conn.Err()
	if reason == nil {
		reason = errHostClosed
	}

	s.disconnect(ctx, reason)
}

// deliver calls the subscriber, containing its panics.
func (s *Session) deliver(ctx context.Context, e event.Event) {
	if s.opts.Subscriber == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorKV(ctx, "Subscriber panicked", "kind", e.Kind().String(), "panic", r)
		}
	}()

	s.opts.Subscriber.HandleEvent(ctx, e)
}

// heartbeat sends heartbeats and disconnects when the host stays silent.
func (s *Session) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if silence := time.Since(s.LastSeen()); silence > s.opts.HeartbeatTimeout {
				s.disconnect(ctx, fmt.Errorf("%w: silent for %s", ErrHostLost, silence))

				return
			}

			heartbeat := event.New(event.KindHeartbeat,
				event.WithPayload(map[string]any{event.KeyNodeID: s.opts.NodeID}))

			if err := s.Send(heartbeat); err != nil {
				return
			}
		}
	}
}

// touch refreshes lastSeen.
func (s *Session) touch() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeen = time.Now()
}

// Send writes e to the host. A failed write disconnects the session.
func (s *Session) Send(e event.Event) error {
	s.mu.Lock()
	state, conn, ctx := s.state, s.conn, s.loopCtx
	s.mu.Unlock()

	if state != StateConnected {
		return ErrNotConnected
	}

	if err := conn.Send(e); err != nil {
		s.disconnect(ctx, err)

		return err
	}

	return nil
}

// Snooze acknowledges the sounding alarm.
func (s *Session) Snooze() error {
	return s.Send(event.New(event.KindSnoozePressed))
}

// disconnect enters StateDisconnected once, closing the connection.
func (s *Session) disconnect(ctx context.Context, reason error) {
	s.mu.Lock()

	if s.state == StateDisconnected {
		s.mu.Unlock()

		return
	}

	s.state = StateDisconnected
	s.err = reason
	conn, cancel := s.conn, s.cancel

	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	if conn != nil {
		if err := conn.Close(); err != nil {
			logger.DebugKV(ctx, "Closing connection failed", "error", err)
		}
	}

	close(s.done)

	if errors.Is(reason, ErrStopped) {
		logger.Info(ctx, "Session stopped")
	} else {
		logger.WarnKV(ctx, "Disconnected from host", "reason", reason)
	}
}

// State returns the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Host returns the host the session connected to.
func (s *Session) Host() (discovery.Service, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.host, s.conn != nil
}

// LastSeen returns when the host last answered.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastSeen
}

// Done is closed once the session is disconnected.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the disconnect reason, nil while not disconnected.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.err
}
