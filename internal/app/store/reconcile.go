package store

import (
	"sort"

	"sigchat/internal/app/user"
	"sigchat/internal/pkg/errs"
	"sigchat/internal/pkg/randx"
	"sigchat/internal/protocol"
)

// InsertMessage returns a new collection containing m.
// An entry with the same ProtocolMessageID is replaced (keeping its LocalID), and m is placed
// after every entry whose Timestamp is not greater than its own, so the result stays in
// non-decreasing timestamp order with ties kept in arrival order.
func InsertMessage(msgs []Message, m Message) []Message {
	out := make([]Message, 0, len(msgs)+1)
	for _, existing := range msgs {
		if existing.ProtocolMessageID == m.ProtocolMessageID {
			if m.LocalID == "" {
				m.LocalID = existing.LocalID
			}
			continue
		}
		out = append(out, existing)
	}
	if m.LocalID == "" {
		m.LocalID = randx.LocalID()
	}

	i := sort.Search(len(out), func(i int) bool {
		return out[i].Timestamp > m.Timestamp
	})

	out = append(out, Message{})
	copy(out[i+1:], out[i:])
	out[i] = m
	return out
}

// ApplyJoined records the server-assigned identity.
// firstForConnection is true when no joined event has been applied on the current connection.
// A later joined with identical fields is a no-op; a divergent one is rejected with
// ErrAlreadyJoined and leaves the state unchanged.
func ApplyJoined(s State, ev protocol.Joined, firstForConnection bool) (State, error) {
	joined := user.User{ID: ev.UserID, Username: ev.Username, IsOnline: true}

	if !firstForConnection && s.CurrentUser != nil {
		if *s.CurrentUser == joined {
			return s, nil
		}
		return s, errs.NewError(errs.ErrAlreadyJoined)
	}

	s.CurrentUser = &joined
	if s.Connection == Joining {
		s.Connection = Active
	}
	return s, nil
}

// ApplyUserList replaces the roster wholesale.
func ApplyUserList(s State, ev protocol.UserList) State {
	s.Roster = user.CloneAll(ev.Users)
	if s.Roster == nil {
		s.Roster = []user.User{}
	}
	return s
}

// ApplyInboundMessage folds a received message into the collection.
// In Broadcast mode a message sent by the local user that is already present is skipped,
// since it was inserted when sent. In Direct mode every message is inserted and the
// de-duplication key absorbs any echo.
func ApplyInboundMessage(s State, ev protocol.ChatMessage, mode Mode) State {
	m := MessageFromWire(ev)

	if mode == Broadcast && s.CurrentUser != nil &&
		m.SenderID == s.CurrentUser.ID && s.HasMessage(m.ProtocolMessageID) {
		return s
	}

	s.Messages = InsertMessage(s.Messages, m)
	return s
}

// ApplyLocalMessage inserts a message sent by this client (optimistic echo).
func ApplyLocalMessage(s State, m Message) State {
	s.Messages = InsertMessage(s.Messages, m)
	return s
}

// ApplyTyping adds or removes the signalling username from the typing set.
func ApplyTyping(s State, ev protocol.Typing) State {
	if ev.Stopped {
		return RemoveTyping(s, ev.Username)
	}
	s.Typing = s.Typing.With(ev.Username)
	return s
}

// RemoveTyping drops username from the typing set. Absent names are a no-op.
func RemoveTyping(s State, username string) State {
	s.Typing = s.Typing.Without(username)
	return s
}

// WithConnection moves the lifecycle to c and updates the connected flag.
func WithConnection(s State, c ConnectionState) State {
	s.Connection = c
	s.Connected = c.Open()
	if !s.Connected {
		s.Typing = TypingSet{}
	}
	return s
}
