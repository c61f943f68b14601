/*
Package relay implements the development signaling relay the chat client talks to.

This file defines the Client struct, one accepted WebSocket connection. Its ReadPump
decodes frames and hands them to the Room; its WritePump drains the send queue the Room
fills and keeps the connection alive with pings.
*/
package relay

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"sigchat/internal/app/user"
	"sigchat/internal/pkg/errs"
	"sigchat/internal/pkg/logx"
	"sigchat/internal/protocol"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// DefaultMaxFrameBytes is the default limit of a frame sent by the client.
	// File messages embed their content, so it sits above the attachment limit.
	DefaultMaxFrameBytes = 8 << 20

	sendChannelBuffer = 256
)

// Client struct represents an accepted WebSocket connection and, once joined, its user.
type Client struct {
	// the room the connection belongs to.
	room *Room

	// underlying WebSocket connection object.
	conn *websocket.Conn

	// server-assigned identity; nil until join. Only the Room's Run loop touches it.
	user *user.User

	// a buffered channel used to queue frames waiting to be sent to the client.
	// Only the Room's Run loop sends on or closes it.
	send chan []byte

	// maximum accepted inbound frame size.
	maxFrameBytes int64

	// structured logger with connection and room context.
	logger zerolog.Logger
}

// NewClient constructs and returns a new Client instance.
func NewClient(room *Room, wsConn *websocket.Conn, maxFrameBytes int64) *Client {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}

	clientLogger := logx.Logger().With().
		Str("remote_addr", wsConn.RemoteAddr().String()).
		Str("room", room.Name).
		Logger()

	return &Client{
		room:          room,
		conn:          wsConn,
		send:          make(chan []byte, sendChannelBuffer),
		maxFrameBytes: maxFrameBytes,
		logger:        clientLogger,
	}
}

// ReadPump handles reading frames from the WebSocket connection.
// It handles heartbeats (Pong), frame decoding, and unregisters the client when the connection ends.
func (c *Client) ReadPump() {
	defer c.cleanupOnDisconnect()

	c.conn.SetReadLimit(c.maxFrameBytes)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			break
		}

		ev, err := protocol.DecodeFrom(protocol.Outbound, frame)
		if !c.post(inbound{client: c, event: ev, err: err}) {
			break
		}
	}
}

// post hands a frame to the Room. It returns false once the Room has stopped.
func (c *Client) post(in inbound) bool {
	select {
	case c.room.inbound <- in:
		return true
	case <-c.room.stopChan:
		return false
	}
}

// cleanupOnDisconnect handles the necessary cleanup steps when the client's ReadPump terminates.
func (c *Client) cleanupOnDisconnect() {
	c.logger.Debug().Msg("Client connection cleanup starting.")

	select {
	case c.room.unregister <- c:
	case <-c.room.stopChan:
	}

	if err := c.conn.Close(); err != nil {
		c.logger.Debug().Err(err).Msg("Client connection close error")
	}
}

// WritePump handles writing frames from the Client.send channel to the WebSocket connection.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()

		// ensure the connection is closed on exit
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if !c.writeQueuedFrame(frame, ok) {
				return
			}

		case <-ticker.C:
			if !c.writePingMessage() {
				return
			}
		}
	}
}

// writeQueuedFrame writes one frame pulled from the send channel.
// A closed channel sends a normal close frame. Returns false if the WritePump loop should terminate.
func (c *Client) writeQueuedFrame(frame []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if !ok {
		closeMessage := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := c.conn.WriteMessage(websocket.CloseMessage, closeMessage); err != nil {
			c.logger.Debug().Err(err).Msg("Error writing close message")
		}
		return false
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.logger.Error().Err(err).Msg("Error writing message")
		return false
	}

	return true
}

// writePingMessage sends a periodic WebSocket Ping message to maintain the connection heartbeat.
func (c *Client) writePingMessage() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline on ping")
		return false
	}

	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Error().Err(err).Msg("Error writing ping")
		return false
	}

	return true
}

// queue adds frame to the send channel without blocking. Called only from the Room's Run loop.
func (c *Client) queue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// errorText is the text carried in an error event for err.
func errorText(err error) string {
	var customErr *errs.CustomError
	if errors.As(err, &customErr) {
		return customErr.Message
	}
	return "Internal server error: " + err.Error()
}
