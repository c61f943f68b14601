package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed to wait for a Pong (or any frame) from the server.
	pongWait = 60 * time.Second

	// frequency at which the client sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the server.
	// File messages embed their content, so this is well above any text frame.
	maxFrameSize = 8 << 20
)

// Transport is one open, message-framed connection to the signaling server.
// ReadFrame is called from a single goroutine and WriteFrame from another;
// Ping and Close may be called concurrently with both.
type Transport interface {
	// ReadFrame blocks until the next data frame arrives or the connection ends.
	ReadFrame() ([]byte, error)

	// WriteFrame writes one text frame.
	WriteFrame(data []byte) error

	// Ping sends a keepalive probe.
	Ping() error

	// Close sends a close frame with code and reason and releases the connection.
	Close(code int, reason string) error
}

// Dialer opens transports. Dial must return promptly once ctx is done.
type Dialer interface {
	Dial(ctx context.Context, address string) (Transport, error)
}

// CloseCode extracts the WebSocket close code from a read error.
// Errors that carry no close frame count as an abnormal closure.
func CloseCode(err error) int {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code
	}
	return websocket.CloseAbnormalClosure
}

// WSDialer dials the signaling server with gorilla/websocket.
type WSDialer struct {
	// Dialer is the underlying gorilla dialer; nil uses websocket.DefaultDialer settings.
	Dialer *websocket.Dialer

	// Header is sent with the opening handshake.
	Header http.Header

	// MaxFrameSize limits inbound frames; zero uses the package default.
	MaxFrameSize int64

	// PongWait is how long the connection may stay silent before reads fail.
	PongWait time.Duration

	// WriteWait bounds each write.
	WriteWait time.Duration
}

// NewWSDialer returns a WSDialer with the package defaults.
func NewWSDialer() *WSDialer {
	return &WSDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 45 * time.Second,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		MaxFrameSize: maxFrameSize,
		PongWait:     pongWait,
		WriteWait:    writeWait,
	}
}

// Dial opens a WebSocket connection to address.
func (d *WSDialer) Dial(ctx context.Context, address string) (Transport, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, resp, err := dialer.DialContext(ctx, address, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (HTTP %d)", address, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	t := &wsTransport{
		conn:      conn,
		pongWait:  valueOr(d.PongWait, pongWait),
		writeWait: valueOr(d.WriteWait, writeWait),
	}

	limit := d.MaxFrameSize
	if limit <= 0 {
		limit = maxFrameSize
	}
	conn.SetReadLimit(limit)

	if err := conn.SetReadDeadline(time.Now().Add(t.pongWait)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.pongWait))
	})

	return t, nil
}

type wsTransport struct {
	conn      *websocket.Conn
	pongWait  time.Duration
	writeWait time.Duration
}

func (t *wsTransport) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			return nil, err
		}

		// any inbound frame proves the server is alive
		if err := t.conn.SetReadDeadline(time.Now().Add(t.pongWait)); err != nil {
			return nil, err
		}

		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (t *wsTransport) WriteFrame(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeWait))
}

func (t *wsTransport) Close(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	writeErr := t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeWait))
	closeErr := t.conn.Close()

	if writeErr != nil && !errors.Is(writeErr, websocket.ErrCloseSent) {
		return errors.Join(writeErr, closeErr)
	}
	return closeErr
}

func valueOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
