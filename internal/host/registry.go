package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/oshokin/alarm-quorum/internal/event"
	"github.com/oshokin/alarm-quorum/internal/logger"
	"github.com/oshokin/alarm-quorum/internal/transport"
)

var (
	// ErrEvictionTimeout is the removal reason of sessions idle past the heartbeat timeout.
	ErrEvictionTimeout = errors.New("heartbeat timeout")
	// ErrDuplicatePeer is returned when a peer identity is already registered.
	ErrDuplicatePeer = errors.New("peer already registered")
	// ErrUnknownPeer is returned when sending to a peer that is not registered.
	ErrUnknownPeer = errors.New("unknown peer")
	// errPeerClosed is the removal reason of a stream that ended cleanly.
	errPeerClosed = errors.New("peer closed the connection")
	// errShutdown is the removal reason used by Close.
	errShutdown = errors.New("host shutting down")
)

// Handler processes events received from a peer.
type Handler interface {
	HandleEvent(ctx context.Context, peer string, e event.Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, peer string, e event.Event)

// HandleEvent calls f.
func (f HandlerFunc) HandleEvent(ctx context.Context, peer string, e event.Event) {
	f(ctx, peer, e)
}

// peerSession is the host's state for one connected node.
type peerSession struct {
	// id is the unique peer identity.
	id string
	// conn is the framed connection.
	conn *transport.Conn
	// lastSeen is the time of the last inbound event; guarded by the registry lock.
	lastSeen time.Time
}

// Registry owns the sessions of connected nodes. Map mutations happen under
// one lock; reads and writes on connections happen outside it.
type Registry struct {
	// handler receives every decoded inbound event.
	handler Handler
	// connOptions configure every accepted connection.
	connOptions []transport.Option
	// metrics may be nil.
	metrics *Metrics
	// now is the clock used for last_seen.
	now func() time.Time

	// mu guards sessions and seq.
	mu sync.Mutex
	// sessions maps peer identities to sessions.
	sessions map[string]*peerSession
	// seq disambiguates peers without a unique address.
	seq uint64
	// closed rejects sessions once Close ran.
	closed bool

	// receivers tracks receive goroutines.
	receivers sync.WaitGroup
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithConnOptions sets transport options applied to every session.
func WithConnOptions(opts ...transport.Option) RegistryOption {
	return func(r *Registry) {
		r.connOptions = append(r.connOptions, opts...)
	}
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = m
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry returns an empty registry dispatching inbound events to handler.
func NewRegistry(handler Handler, opts ...RegistryOption) *Registry {
	r := &Registry{
		handler:  handler,
		now:      time.Now,
		sessions: make(map[string]*peerSession),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Serve accepts connections until the listener fails or is closed. A closed
// listener ends Serve without error.
func (r *Registry) Serve(ctx context.Context, lis net.Listener) error {
	logger.InfoKV(ctx, "Accepting node sessions", "address", lis.Addr().String())

	for {
		conn, err := lis.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}

			return fmt.Errorf("accept: %w", err)
		}

		r.Accept(ctx, conn)
	}
}

// Accept registers a stream under an identity derived from its remote address.
func (r *Registry) Accept(ctx context.Context, rwc io.ReadWriteCloser) string {
	conn := r.newConn(ctx, rwc)
	id := conn.RemoteAddr()

	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()
		_ = conn.Close()

		return ""
	}

	if _, taken := r.sessions[id]; taken || id == "" {
		r.seq++
		id = peerName(id, r.seq)
	}

	session := r.insertLocked(id, conn)

	r.mu.Unlock()

	r.start(ctx, session)

	return id
}

// Register adds a stream under an explicit identity.
func (r *Registry) Register(ctx context.Context, id string, rwc io.ReadWriteCloser) error {
	r.mu.Lock()

	if r.closed {
		r.mu.Unlock()

		return errShutdown
	}

	if _, taken := r.sessions[id]; taken {
		r.mu.Unlock()

		return fmt.Errorf("%w: %s", ErrDuplicatePeer, id)
	}

	session := r.insertLocked(id, r.newConn(ctx, rwc))

	r.mu.Unlock()

	r.start(ctx, session)

	return nil
}

// newConn wraps a stream with the configured transport options.
func (r *Registry) newConn(ctx context.Context, rwc io.ReadWriteCloser) *transport.Conn {
	opts := slices.Clone(r.connOptions)
	opts = append(opts, transport.WithMalformedHandler(func(record []byte, err error) {
		r.metrics.malformed()
		logger.WarnKV(ctx, "Dropped malformed record", "record", string(record), "error", err)
	}))

	return transport.New(rwc, opts...)
}

// insertLocked stores a new session and reserves its receive path; r.mu must be held.
func (r *Registry) insertLocked(id string, conn *transport.Conn) *peerSession {
	session := &peerSession{
		id:       id,
		conn:     conn,
		lastSeen: r.now(),
	}

	r.sessions[id] = session
	r.metrics.setSessions(len(r.sessions))
	r.receivers.Add(1)

	return session
}

// start spawns the receive path of a session.
func (r *Registry) start(ctx context.Context, session *peerSession) {
	logger.InfoKV(ctx, "Session accepted", "peer", session.id)

	go r.receive(logger.WithKV(ctx, "peer", session.id), session)
}

// receive dispatches inbound events until the stream ends, then removes the session.
func (r *Registry) receive(ctx context.Context, session *peerSession) {
	defer r.receivers.Done()

	for e := range session.conn.Events() {
		r.touch(session)
		r.metrics.received(e.Kind())

		if r.handler != nil {
			r.handler.HandleEvent(ctx, session.id, e)
		}
	}

	reason := session.conn.Err()
	if reason == nil {
		reason = errPeerClosed
	}

	r.removeSession(ctx, session, reason)
}

// touch refreshes last_seen of a live session.
func (r *Registry) touch(session *peerSession) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sessions[session.id] == session {
		session.lastSeen = r.now()
	}
}

// LastSeen returns when the peer last sent an event.
func (r *Registry) LastSeen(id string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return time.Time{}, false
	}

	return session.lastSeen, true
}

// Members returns the identities of all registered peers, sorted.
func (r *Registry) Members() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	members := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		members = append(members, id)
	}

	slices.Sort(members)

	return members
}

// Len returns the number of registered peers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.sessions)
}

// snapshot returns the current sessions.
func (r *Registry) snapshot() []*peerSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]*peerSession, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, session)
	}

	return sessions
}

// Broadcast sends e to every session registered at call time and returns
// how many sends succeeded. Sessions whose connection fails are removed; an
// event that cannot be encoded is dropped without touching any session.
func (r *Registry) Broadcast(ctx context.Context, e event.Event) int {
	delivered := 0

	for _, session := range r.snapshot() {
		if err := session.conn.Send(e); err != nil {
			if !connectionLost(err) {
				logger.ErrorKV(ctx, "Dropped unsendable event", "kind", e.Kind().String(), "error", err)

				return delivered
			}

			r.removeSession(ctx, session, err)

			continue
		}

		r.metrics.sent(e.Kind())

		delivered++
	}

	return delivered
}

// Send delivers e to one peer. A connection failure removes the session.
func (r *Registry) Send(ctx context.Context, id string, e event.Event) error {
	r.mu.Lock()
	session, ok := r.sessions[id]
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, id)
	}

	if err := session.conn.Send(e); err != nil {
		if connectionLost(err) {
			r.removeSession(ctx, session, err)
		} else {
			logger.ErrorKV(ctx, "Dropped unsendable event", "peer", id, "kind", e.Kind().String(), "error", err)
		}

		return err
	}

	r.metrics.sent(e.Kind())

	return nil
}

// Remove drops a peer and closes its connection. It reports whether the peer
// was registered; removing an absent peer is a no-op.
func (r *Registry) Remove(ctx context.Context, id string, reason error) bool {
	r.mu.Lock()
	session, ok := r.sessions[id]
	r.mu.Unlock()

	if !ok {
		return false
	}

	return r.removeSession(ctx, session, reason)
}

// connectionLost reports whether a send error means the session is unusable.
func connectionLost(err error) bool {
	return errors.Is(err, transport.ErrTransportFailure) || errors.Is(err, transport.ErrClosed)
}

// removeSession drops exactly this session, never a newer one under the same identity.
func (r *Registry) removeSession(ctx context.Context, session *peerSession, reason error) bool {
	r.mu.Lock()

	if r.sessions[session.id] != session {
		r.mu.Unlock()

		return false
	}

	delete(r.sessions, session.id)
	r.metrics.setSessions(len(r.sessions))

	r.mu.Unlock()

	r.metrics.removed(removalLabel(reason))

	if err := session.conn.Close(); err != nil {
		logger.DebugKV(ctx, "Closing session failed", "peer", session.id, "error", err)
	}

	logger.InfoKV(ctx, "Session removed", "peer", session.id, "reason", reason)

	return true
}

// EvictStale removes sessions whose last inbound event is older than timeout
// and returns their identities.
func (r *Registry) EvictStale(ctx context.Context, timeout time.Duration) []string {
	now := r.now()

	var stale []*peerSession

	r.mu.Lock()

	for _, session := range r.sessions {
		if now.Sub(session.lastSeen) > timeout {
			stale = append(stale, session)
		}
	}

	r.mu.Unlock()

	evicted := make([]string, 0, len(stale))

	for _, session := range stale {
		if r.removeSession(ctx, session, ErrEvictionTimeout) {
			evicted = append(evicted, session.id)
		}
	}

	slices.Sort(evicted)

	return evicted
}

// Close rejects new sessions, removes every session and waits for their
// receive paths to finish. It is idempotent.
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	for _, session := range r.snapshot() {
		r.removeSession(ctx, session, errShutdown)
	}

	r.receivers.Wait()
}

// peerName appends a sequence number to an address that is empty or taken.
func peerName(address string, seq uint64) string {
	if address == "" {
		address = "peer"
	}

	return address + "#" + strconv.FormatUint(seq, 10)
}

// removalLabel maps a removal reason to a metrics label.
func removalLabel(reason error) string {
	switch {
	case errors.Is(reason, ErrEvictionTimeout):
		return reasonEvicted
	case errors.Is(reason, errShutdown):
		return reasonShutdown
	case errors.Is(reason, errPeerClosed):
		return reasonClosed
	default:
		return reasonTransport
	}
}
