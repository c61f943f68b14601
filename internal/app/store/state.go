/*
Package store holds the client's authoritative chat state and the rules for changing it.

A State value is an immutable snapshot: every transition builds a new value and never
writes into slices or sets reachable from an older one. The Store publishes each new
snapshot atomically, so readers never observe a partially applied change.
*/
package store

import (
	"fmt"
	"sort"

	"sigchat/internal/app/user"
	"sigchat/internal/protocol"
)

// ConnectionState is the lifecycle of the transport session as observed by readers.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Joining
	Active
	Closing
	Lost
)

// String returns the string representation of a ConnectionState.
func (c ConnectionState) String() string {
	switch c {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Joining:
		return "joining"
	case Active:
		return "active"
	case Closing:
		return "closing"
	case Lost:
		return "lost"
	default:
		return "unknown"
	}
}

// Open reports whether the transport is open in this state.
func (c ConnectionState) Open() bool {
	return c == Joining || c == Active
}

// Mode selects the protocol variant used for inbound message reconciliation.
type Mode int

const (
	// Broadcast is the group-chat variant: messages go to every connected user.
	Broadcast Mode = iota

	// Direct is the direct-message variant: messages carry a target user.
	Direct
)

// String returns the string representation of a Mode.
func (m Mode) String() string {
	switch m {
	case Broadcast:
		return "broadcast"
	case Direct:
		return "direct"
	default:
		return "unknown"
	}
}

// ParseMode parses "broadcast" or "direct".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "broadcast", "":
		return Broadcast, nil
	case "direct":
		return Direct, nil
	default:
		return Broadcast, fmt.Errorf("unknown chat mode %q", s)
	}
}

// FileAttachment is a file embedded in a message as encoded content.
type FileAttachment struct {
	Name           string
	ByteSize       int64
	MimeType       string
	EncodedContent string
}

// Message is one entry of the local message collection.
type Message struct {
	// LocalID identifies the entry inside this client and survives replacement.
	LocalID string

	// ProtocolMessageID is the de-duplication key shared by every copy of the message.
	ProtocolMessageID string

	SenderID   string
	SenderName string
	Content    string

	// Timestamp is in epoch milliseconds, set by the sender.
	Timestamp int64

	Kind       protocol.ContentKind
	Attachment *FileAttachment

	// TargetUserID is set for direct messages and empty for broadcasts.
	TargetUserID string
}

// Validate checks that the attachment is present iff the message is a file message.
func (m Message) Validate() error {
	return m.ToWire().Validate()
}

// MessageFromWire converts a decoded message event into a local entry.
// The LocalID is left empty and assigned on insertion.
func MessageFromWire(ev protocol.ChatMessage) Message {
	m := Message{
		ProtocolMessageID: ev.MessageID,
		SenderID:          ev.UserID,
		SenderName:        ev.Username,
		Content:           ev.Data.Content,
		Timestamp:         ev.Timestamp,
		Kind:              ev.Data.Type,
		TargetUserID:      ev.TargetUserID,
	}
	if m.Kind == "" {
		m.Kind = protocol.KindText
	}
	if fd := ev.Data.FileData; fd != nil {
		m.Attachment = &FileAttachment{
			Name:           fd.Name,
			ByteSize:       fd.Size,
			MimeType:       fd.MimeType,
			EncodedContent: fd.URL,
		}
	}
	return m
}

// ToWire converts the entry back into its wire event.
func (m Message) ToWire() protocol.ChatMessage {
	ev := protocol.ChatMessage{
		UserID:       m.SenderID,
		Username:     m.SenderName,
		TargetUserID: m.TargetUserID,
		MessageID:    m.ProtocolMessageID,
		Timestamp:    m.Timestamp,
		Data: protocol.MessageData{
			Content: m.Content,
			Type:    m.Kind,
		},
	}
	if a := m.Attachment; a != nil {
		ev.Data.FileData = &protocol.FileData{
			Name:     a.Name,
			Size:     a.ByteSize,
			MimeType: a.MimeType,
			URL:      a.EncodedContent,
		}
	}
	return ev
}

// TypingSet is an immutable set of usernames currently typing.
type TypingSet struct {
	names map[string]struct{}
}

// Has reports whether username is in the set.
func (t TypingSet) Has(username string) bool {
	_, ok := t.names[username]
	return ok
}

// Len returns the number of usernames in the set.
func (t TypingSet) Len() int {
	return len(t.names)
}

// Names returns the usernames in sorted order.
func (t TypingSet) Names() []string {
	out := make([]string, 0, len(t.names))
	for name := range t.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// With returns a set that also contains username. The receiver is not modified.
func (t TypingSet) With(username string) TypingSet {
	if t.Has(username) {
		return t
	}
	next := make(map[string]struct{}, len(t.names)+1)
	for name := range t.names {
		next[name] = struct{}{}
	}
	next[username] = struct{}{}
	return TypingSet{names: next}
}

// Without returns a set that does not contain username. The receiver is not modified.
func (t TypingSet) Without(username string) TypingSet {
	if !t.Has(username) {
		return t
	}
	next := make(map[string]struct{}, len(t.names))
	for name := range t.names {
		if name != username {
			next[name] = struct{}{}
		}
	}
	return TypingSet{names: next}
}

// State is a snapshot of everything the client publishes to its readers.
// Slices in a State are shared with later snapshots and must be treated as read-only.
type State struct {
	// CurrentUser is the local session's identity, nil until joined.
	CurrentUser *user.User

	// Roster is the last user list pushed by the server.
	Roster []user.User

	// Messages is ordered by Timestamp with unique ProtocolMessageIDs.
	Messages []Message

	// Typing holds the usernames currently signalling typing.
	Typing TypingSet

	// Connection is the transport lifecycle state.
	Connection ConnectionState

	// Connected mirrors whether the transport is open.
	Connected bool
}

// Empty returns the initial state: nothing known, disconnected.
func Empty() State {
	return State{Connection: Disconnected}
}

// HasMessage reports whether a message with the given protocol id is present.
func (s State) HasMessage(protocolMessageID string) bool {
	return indexOf(s.Messages, protocolMessageID) >= 0
}

// Message returns the entry with the given protocol id.
func (s State) Message(protocolMessageID string) (Message, bool) {
	if i := indexOf(s.Messages, protocolMessageID); i >= 0 {
		return s.Messages[i], true
	}
	return Message{}, false
}

// Conversation returns the direct messages exchanged between selfID and peerID, in order.
func (s State) Conversation(selfID, peerID string) []Message {
	var out []Message
	for _, m := range s.Messages {
		if (m.SenderID == selfID && m.TargetUserID == peerID) ||
			(m.SenderID == peerID && m.TargetUserID == selfID) {
			out = append(out, m)
		}
	}
	return out
}

// OnlinePeers returns the roster entries that are online and not the current user.
func (s State) OnlinePeers() []user.User {
	var out []user.User
	for _, u := range s.Roster {
		if !u.IsOnline {
			continue
		}
		if s.CurrentUser != nil && u.ID == s.CurrentUser.ID {
			continue
		}
		out = append(out, u)
	}
	return out
}

func indexOf(msgs []Message, protocolMessageID string) int {
	for i := range msgs {
		if msgs[i].ProtocolMessageID == protocolMessageID {
			return i
		}
	}
	return -1
}
