package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"sigchat/internal/protocol"
)

var errFakeClosed = errors.New("fake transport closed")

// fakeTransport is an in-memory Transport. Frames pushed with deliver are returned by
// ReadFrame in order; frames written by the client show up on writes.
type fakeTransport struct {
	inbound chan []byte
	writes  chan []byte
	closed  chan struct{}

	mu        sync.Mutex
	once      sync.Once
	readErr   error
	closeCode int
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan []byte, 64),
		writes:  make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
}

func (t *fakeTransport) ReadFrame() ([]byte, error) {
	select {
	case frame := <-t.inbound:
		return frame, nil
	case <-t.closed:
		t.mu.Lock()
		defer t.mu.Unlock()
		return nil, t.readErr
	}
}

func (t *fakeTransport) WriteFrame(data []byte) error {
	select {
	case <-t.closed:
		return errFakeClosed
	default:
	}
	t.writes <- data
	return nil
}

func (t *fakeTransport) Ping() error {
	return nil
}

func (t *fakeTransport) Close(code int, _ string) error {
	t.finish(code)
	return nil
}

// drop simulates the server ending the connection with code.
func (t *fakeTransport) drop(code int) {
	t.finish(code)
}

func (t *fakeTransport) finish(code int) {
	t.once.Do(func() {
		t.mu.Lock()
		t.closeCode = code
		t.readErr = &websocket.CloseError{Code: code}
		t.mu.Unlock()
		close(t.closed)
	})
}

func (t *fakeTransport) isClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

func (t *fakeTransport) code() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCode
}

func (t *fakeTransport) deliver(tb testing.TB, ev protocol.Event) {
	tb.Helper()
	frame, err := protocol.Encode(ev)
	require.NoError(tb, err)
	t.inbound <- frame
}

// nextWrite waits for the next frame the client wrote and decodes it as outbound.
func (t *fakeTransport) nextWrite(tb testing.TB) protocol.Event {
	tb.Helper()
	select {
	case frame := <-t.writes:
		ev, err := protocol.DecodeFrom(protocol.Outbound, frame)
		require.NoError(tb, err)
		return ev
	case <-time.After(2 * time.Second):
		tb.Fatal("timed out waiting for a written frame")
		return nil
	}
}

// fakeDialer hands out transports through dial, numbering calls from 1.
type fakeDialer struct {
	mu    sync.Mutex
	calls int
	dial  func(ctx context.Context, call int) (Transport, error)
}

func (d *fakeDialer) Dial(ctx context.Context, _ string) (Transport, error) {
	d.mu.Lock()
	d.calls++
	call := d.calls
	d.mu.Unlock()
	return d.dial(ctx, call)
}

func (d *fakeDialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// dialSequence returns a dialer that serves transports in order and fails once they run out.
func dialSequence(transports ...*fakeTransport) *fakeDialer {
	return &fakeDialer{
		dial: func(_ context.Context, call int) (Transport, error) {
			if call <= len(transports) {
				return transports[call-1], nil
			}
			return nil, errors.New("connection refused")
		},
	}
}

// timerLog records every delay the manager schedules while still running real timers.
type timerLog struct {
	mu     sync.Mutex
	delays map[timerKind][]time.Duration
}

func newTimerLog() *timerLog {
	return &timerLog{delays: make(map[timerKind][]time.Duration)}
}

func (l *timerLog) after(kind timerKind, d time.Duration, f func()) *time.Timer {
	l.mu.Lock()
	l.delays[kind] = append(l.delays[kind], d)
	l.mu.Unlock()
	return time.AfterFunc(d, f)
}

func (l *timerLog) of(kind timerKind) []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.delays[kind]...)
}
