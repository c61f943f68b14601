/*
Package chat is the action surface of the chat client.

This file defines the Client struct, which owns the published chat state and the session
manager, and exposes the operations a user interface calls.
*/
package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"sigchat/internal/app/session"
	"sigchat/internal/app/store"
	"sigchat/internal/pkg/errs"
	"sigchat/internal/pkg/logx"
	"sigchat/internal/pkg/randx"
	"sigchat/internal/protocol"
)

const (
	// MaxContentBytes is the maximum allowed size (in bytes) of text message content.
	MaxContentBytes = 5000

	// MaxUsernameLength is the maximum display name length in runes.
	MaxUsernameLength = 32
)

// Client struct is the entry point of the chat client core.
type Client struct {
	// store holds the published chat state.
	store *store.Store

	// session maintains the connection to the signaling server.
	session *session.Manager

	// structured logger with client context.
	logger zerolog.Logger
}

// NewClient constructs a Client. The connection is not opened until Connect.
func NewClient(opts session.Options) *Client {
	st := store.New()

	return &Client{
		store:   st,
		session: session.NewManager(opts, st),
		logger:  logx.Logger().With().Str("component", "chat").Logger(),
	}
}

// Connect opens the connection to address and joins as username.
// It returns once the transport is open; the server-assigned identity arrives shortly after
// and is visible in State().CurrentUser.
func (c *Client) Connect(ctx context.Context, address, username string) error {
	username = strings.TrimSpace(username)
	if username == "" || utf8.RuneCountInString(username) > MaxUsernameLength {
		return errs.NewError(errs.ErrInvalidParams)
	}

	return c.session.Connect(ctx, address, username)
}

// Disconnect closes the connection, stops reconnecting and clears all chat state.
func (c *Client) Disconnect() {
	c.session.Disconnect()
}

// Close disconnects and releases the Client's goroutines. The Client is unusable afterwards.
func (c *Client) Close() {
	c.session.Shutdown()
}

// SendMessage sends a message and echoes it into local state.
// targetUserID addresses a single user and is empty for a broadcast. It reports whether the
// message was sent; failures are logged and not retried.
func (c *Client) SendMessage(content string, kind protocol.ContentKind, attachment *store.FileAttachment, targetUserID string) bool {
	if _, err := c.PostMessage(content, kind, attachment, targetUserID); err != nil {
		c.logger.Warn().Err(err).Str("kind", string(kind)).Msg("Message not sent")
		return false
	}
	return true
}

// PostMessage is SendMessage returning the sent message or the reason it was not sent.
func (c *Client) PostMessage(content string, kind protocol.ContentKind, attachment *store.FileAttachment, targetUserID string) (store.Message, error) {
	me := c.store.Snapshot().CurrentUser
	if me == nil {
		return store.Message{}, errs.NewError(errs.ErrNotJoined)
	}

	if len(content) > MaxContentBytes {
		return store.Message{}, errs.NewError(errs.ErrMessageContentTooLong)
	}

	switch {
	case kind == protocol.KindFile && attachment == nil:
		return store.Message{}, errs.NewError(errs.ErrInvalidAttachment, "file message without attachment")
	case kind == protocol.KindText && attachment != nil:
		return store.Message{}, errs.NewError(errs.ErrInvalidAttachment, "text message with attachment")
	}

	msg := store.Message{
		ProtocolMessageID: randx.MessageID(),
		SenderID:          me.ID,
		SenderName:        me.Username,
		Content:           content,
		Timestamp:         time.Now().UnixMilli(),
		Kind:              kind,
		Attachment:        attachment,
		TargetUserID:      targetUserID,
	}
	if err := msg.Validate(); err != nil {
		return store.Message{}, errs.Wrap(errs.ErrInvalidAttachment, err, "invalid message")
	}

	err := c.session.SendWithEcho(msg.ToWire(), func(s store.State) store.State {
		return store.ApplyLocalMessage(s, msg)
	})
	if err != nil {
		return store.Message{}, err
	}

	c.logger.Debug().Str("message_id", msg.ProtocolMessageID).Str("target", targetUserID).Msg("Message sent")
	return msg, nil
}

// SendTypingStatus tells other users that the local user started or stopped typing.
// It is a no-op before the join completes or while disconnected.
func (c *Client) SendTypingStatus(isTyping bool, targetUserID string) {
	me := c.store.Snapshot().CurrentUser
	if me == nil {
		return
	}

	ev := protocol.Typing{
		Stopped:      !isTyping,
		UserID:       me.ID,
		Username:     me.Username,
		TargetUserID: targetUserID,
	}
	if err := c.session.Send(ev); err != nil {
		c.logger.Debug().Err(err).Bool("typing", isTyping).Msg("Typing status not sent")
	}
}

// IsActive reports whether the connection to the signaling server is open.
func (c *Client) IsActive() bool {
	return c.session.IsActive()
}

// State returns the latest published state.
func (c *Client) State() store.State {
	return c.store.Snapshot()
}

// Subscribe returns a channel that always yields the latest state, and a cancel func.
func (c *Client) Subscribe() (<-chan store.State, func()) {
	return c.store.Subscribe()
}

// Diagnostics delivers non-fatal server errors and the terminal reconnect failure.
func (c *Client) Diagnostics() <-chan error {
	return c.session.Diagnostics()
}

// ReconnectStatus returns the state of the reconnection policy.
func (c *Client) ReconnectStatus() session.Status {
	return c.session.Status()
}
