package transport

import (
	"bytes"
	"errors"
	"io"
	"math/rand/v2"
	"net"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/alarm-quorum/internal/event"
)

// chunkedStream delivers a fixed byte stream in predetermined read sizes and
// records everything written to it.
type chunkedStream struct {
	// chunks are returned by successive Read calls.
	chunks [][]byte
	// written accumulates Write calls.
	written bytes.Buffer
	// mu protects written.
	mu sync.Mutex
	// closed counts Close calls.
	closed int
}

// Read returns the next chunk or io.EOF once all chunks are consumed.
func (s *chunkedStream) Read(p []byte) (int, error) {
	if len(s.chunks) == 0 {
		return 0, io.EOF
	}

	n := copy(p, s.chunks[0])
	if n == len(s.chunks[0]) {
		s.chunks = s.chunks[1:]
	} else {
		s.chunks[0] = s.chunks[0][n:]
	}

	return n, nil
}

// Write appends p to the written buffer.
func (s *chunkedStream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.written.Write(p)
}

// Close records the call.
func (s *chunkedStream) Close() error {
	s.closed++

	return nil
}

// failingStream fails every read and write.
type failingStream struct{}

var errBroken = errors.New("broken pipe")

// Read always fails.
func (failingStream) Read([]byte) (int, error) { return 0, errBroken }

// Write always fails.
func (failingStream) Write([]byte) (int, error) { return 0, errBroken }

// Close does nothing.
func (failingStream) Close() error { return nil }

// sampleEvents returns a mix of events with and without payloads.
func sampleEvents() []event.Event {
	at := time.Unix(1760684400, 123456000)

	return []event.Event{
		event.New(event.KindHeartbeat, event.WithCreatedAt(at), event.WithPayload(map[string]any{event.KeyNodeID: "hall"})),
		event.New(event.KindAlarmTriggered, event.WithCreatedAt(at), event.WithExpiresAt(at.Add(time.Minute)),
			event.WithPayload(map[string]any{event.KeyAlarm: "07:30", "text": strings.Repeat("x", 300)})),
		event.New(event.KindSnoozePressed, event.WithCreatedAt(at)),
		event.New(event.KindAlarmCleared, event.WithCreatedAt(at), event.WithPayload(map[string]any{event.KeyReason: event.ReasonQuorum})),
	}
}

// encodeStream renders events as the wire stream.
func encodeStream(t *testing.T, events []event.Event) []byte {
	t.Helper()

	var buf bytes.Buffer

	for _, e := range events {
		data, err := event.Encode(e)
		require.NoError(t, err)

		buf.Write(data)
		buf.WriteByte(Delimiter)
	}

	return buf.Bytes()
}

// splitAt cuts data at the given sorted offsets.
func splitAt(data []byte, offsets []int) [][]byte {
	chunks := make([][]byte, 0, len(offsets)+1)
	prev := 0

	for _, off := range offsets {
		chunks = append(chunks, data[prev:off])
		prev = off
	}

	return append(chunks, data[prev:])
}

// collect drains a Conn into a slice.
func collect(c *Conn) []event.Event {
	return slices.Collect(c.Events())
}

// TestEvents_FragmentationInvariance delivers the same stream whole, byte by
// byte and at random cut points and expects identical event sequences.
func TestEvents_FragmentationInvariance(t *testing.T) {
	t.Parallel()

	want := sampleEvents()
	stream := encodeStream(t, want)

	whole := collect(New(&chunkedStream{chunks: [][]byte{stream}}))
	require.Equal(t, want, whole)

	bytewise := make([][]byte, 0, len(stream))
	for i := range stream {
		bytewise = append(bytewise, stream[i:i+1])
	}

	require.Equal(t, want, collect(New(&chunkedStream{chunks: bytewise})))

	rng := rand.New(rand.NewPCG(7, 11))
	for range 50 {
		cuts := make([]int, 0, 8)
		for range rng.IntN(8) + 1 {
			cuts = append(cuts, rng.IntN(len(stream)))
		}

		slices.Sort(cuts)

		conn := New(&chunkedStream{chunks: splitAt(stream, cuts)})
		require.Equal(t, want, collect(conn), "cuts %v", cuts)
		require.NoError(t, conn.Err())
	}
}

// TestEvents_DropsMalformedRecords keeps reading after records that fail to decode.
func TestEvents_DropsMalformedRecords(t *testing.T) {
	t.Parallel()

	good := sampleEvents()[:2]
	stream := encodeStream(t, good[:1])
	stream = append(stream, "garbage\n\n{\"type\":99,\"timestamp\":1}\n"...)
	stream = append(stream, encodeStream(t, good[1:])...)

	var dropped []string

	conn := New(&chunkedStream{chunks: [][]byte{stream}}, WithMalformedHandler(func(record []byte, err error) {
		require.ErrorIs(t, err, event.ErrMalformedEvent)

		dropped = append(dropped, string(record))
	}))

	require.Equal(t, good, collect(conn))
	require.Equal(t, []string{"garbage", "", `{"type":99,"timestamp":1}`}, dropped)
}

// TestEvents_DiscardsTrailingPartialRecord ends the sequence at EOF without a delimiter.
func TestEvents_DiscardsTrailingPartialRecord(t *testing.T) {
	t.Parallel()

	want := sampleEvents()[:1]
	stream := encodeStream(t, want)
	stream = append(stream, `{"type":3,"timesta`...)

	conn := New(&chunkedStream{chunks: [][]byte{stream}})
	require.Equal(t, want, collect(conn))
	require.NoError(t, conn.Err())

	_, err := conn.Next()
	require.ErrorIs(t, err, io.EOF)
}

// TestEvents_ReadFailure reports read errors as transport failures.
func TestEvents_ReadFailure(t *testing.T) {
	t.Parallel()

	conn := New(failingStream{})
	require.Empty(t, collect(conn))
	require.ErrorIs(t, conn.Err(), ErrTransportFailure)
	require.ErrorIs(t, conn.Err(), errBroken)

	err := conn.Send(event.New(event.KindHeartbeat))
	require.ErrorIs(t, err, ErrTransportFailure)
}

// TestEvents_RecordTooLong breaks the stream when a record exceeds the limit.
func TestEvents_RecordTooLong(t *testing.T) {
	t.Parallel()

	stream := append(bytes.Repeat([]byte("a"), 256), Delimiter)

	conn := New(&chunkedStream{chunks: [][]byte{stream}}, WithMaxRecordSize(64))
	require.Empty(t, collect(conn))
	require.ErrorIs(t, conn.Err(), ErrTransportFailure)
}

// TestSend_ConcurrentWritersDoNotInterleave checks every written line is a whole record.
func TestSend_ConcurrentWritersDoNotInterleave(t *testing.T) {
	t.Parallel()

	stream := new(chunkedStream)
	conn := New(stream)
	events := sampleEvents()

	var wg sync.WaitGroup

	for i := range 16 {
		wg.Go(func() {
			for range 20 {
				if err := conn.Send(events[i%len(events)]); err != nil {
					t.Error(err)
				}
			}
		})
	}

	wg.Wait()

	replay := New(&chunkedStream{chunks: [][]byte{stream.written.Bytes()}}, WithMalformedHandler(func(record []byte, err error) {
		t.Errorf("interleaved record %q: %v", record, err)
	}))
	require.Len(t, collect(replay), 16*20)
}

// TestConn_OverPipe exchanges events over net.Pipe and closes idempotently.
func TestConn_OverPipe(t *testing.T) {
	t.Parallel()

	left, right := net.Pipe()
	sender := New(left, WithWriteTimeout(time.Second))
	receiver := New(right)

	go func() {
		for _, e := range sampleEvents() {
			_ = sender.Send(e) //nolint:errcheck // Receiver asserts on the result.
		}

		_ = sender.Close()
	}()

	require.Equal(t, sampleEvents(), collect(receiver))
	require.NoError(t, receiver.Err())

	require.NoError(t, receiver.Close())
	require.NoError(t, receiver.Close())
	require.ErrorIs(t, receiver.Send(event.New(event.KindAck)), ErrClosed)
	require.Equal(t, "pipe", receiver.RemoteAddr())
}
