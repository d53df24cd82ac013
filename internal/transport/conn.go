package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"sync"
	"time"

	"github.com/oshokin/alarm-quorum/internal/event"
)

const (
	// Delimiter terminates every record on the wire.
	Delimiter = '\n'

	// DefaultMaxRecordSize bounds a single record; longer lines break the stream.
	DefaultMaxRecordSize = 64 * 1024

	// initialBufferSize is the starting read buffer of a connection.
	initialBufferSize = 4096
)

var (
	// ErrTransportFailure wraps read and write errors of a connection.
	ErrTransportFailure = errors.New("transport failure")
	// ErrClosed is returned by Send after Close.
	ErrClosed = errors.New("connection closed")
)

// Conn frames events over a duplex byte stream, one record per line.
type Conn struct {
	// rwc is the underlying stream.
	rwc io.ReadWriteCloser
	// scanner splits the inbound stream into records.
	scanner *bufio.Scanner
	// writeTimeout bounds every Send when the stream supports deadlines.
	writeTimeout time.Duration
	// onMalformed is told about every dropped record.
	onMalformed func(record []byte, err error)

	// writeMu serializes writers so records never interleave.
	writeMu sync.Mutex
	// closeOnce guards Close.
	closeOnce sync.Once
	// closed is set once Close ran.
	closed chan struct{}
	// err is the terminal receive error, nil on a clean end of stream.
	err error
}

// Option configures a Conn.
type Option func(*Conn)

// WithWriteTimeout sets a deadline for each Send on streams implementing net.Conn.
func WithWriteTimeout(timeout time.Duration) Option {
	return func(c *Conn) {
		if timeout > 0 {
			c.writeTimeout = timeout
		}
	}
}

// WithMaxRecordSize overrides DefaultMaxRecordSize.
func WithMaxRecordSize(size int) Option {
	return func(c *Conn) {
		if size > 0 {
			c.scanner.Buffer(make([]byte, 0, min(initialBufferSize, size)), size)
		}
	}
}

// WithMalformedHandler registers a callback for records that fail to decode.
func WithMalformedHandler(fn func(record []byte, err error)) Option {
	return func(c *Conn) {
		c.onMalformed = fn
	}
}

// New wraps a stream. The Conn owns rwc and closes it on Close.
func New(rwc io.ReadWriteCloser, opts ...Option) *Conn {
	scanner := bufio.NewScanner(rwc)
	scanner.Buffer(make([]byte, 0, initialBufferSize), DefaultMaxRecordSize)
	scanner.Split(splitRecords)

	c := &Conn{
		rwc:     rwc,
		scanner: scanner,
		closed:  make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// RemoteAddr returns the peer address for network streams and "" otherwise.
func (c *Conn) RemoteAddr() string {
	if nc, ok := c.rwc.(net.Conn); ok && nc.RemoteAddr() != nil {
		return nc.RemoteAddr().String()
	}

	return ""
}

// Send writes one record followed by the delimiter in a single write.
// It is safe to call from several goroutines.
func (c *Conn) Send(e event.Event) error {
	data, err := event.Encode(e)
	if err != nil {
		return err
	}

	frame := make([]byte, 0, len(data)+1)
	frame = append(frame, data...)
	frame = append(frame, Delimiter)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	if nc, ok := c.rwc.(net.Conn); ok && c.writeTimeout > 0 {
		if err = nc.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("%w: set write deadline: %w", ErrTransportFailure, err)
		}
	}

	if _, err = c.rwc.Write(frame); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrTransportFailure, e.Kind(), err)
	}

	return nil
}

// Next blocks until the next decodable event arrives. Records that fail to
// decode are dropped and reading continues. At the end of the stream it
// returns io.EOF; read errors are wrapped in ErrTransportFailure.
// Next must be called from a single goroutine.
func (c *Conn) Next() (event.Event, error) {
	for c.scanner.Scan() {
		record := c.scanner.Bytes()

		e, err := event.Decode(record)
		if err != nil {
			if c.onMalformed != nil {
				c.onMalformed(bytes.Clone(record), err)
			}

			continue
		}

		return e, nil
	}

	if err := c.scanner.Err(); err != nil {
		if c.isClosed() {
			return event.Event{}, io.EOF
		}

		return event.Event{}, fmt.Errorf("%w: read: %w", ErrTransportFailure, err)
	}

	return event.Event{}, io.EOF
}

// Events returns the inbound events as a sequence that ends at the end of the
// stream or on the first read error, which Err then reports.
func (c *Conn) Events() iter.Seq[event.Event] {
	return func(yield func(event.Event) bool) {
		for {
			e, err := c.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					c.err = err
				}

				return
			}

			if !yield(e) {
				return
			}
		}
	}
}

// Err returns the error that ended Events, nil for a clean end of stream.
func (c *Conn) Err() error {
	return c.err
}

// Close closes the underlying stream. It is idempotent.
func (c *Conn) Close() error {
	var err error

	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.rwc.Close()
	})

	return err
}

// isClosed reports whether Close ran.
func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// splitRecords is a bufio.SplitFunc yielding delimiter-terminated records.
// A trailing partial record at the end of the stream is discarded.
func splitRecords(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.IndexByte(data, Delimiter); i >= 0 {
		return i + 1, data[:i], nil
	}

	if atEOF && len(data) > 0 {
		return len(data), nil, nil
	}

	return 0, nil, nil
}
