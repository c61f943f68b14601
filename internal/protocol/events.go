/*
Package protocol defines the signaling wire contract shared by the chat client and the relay.

Every frame is one UTF-8 JSON object tagged by its "type" field. The event kinds form a
closed set of Go types implementing Event; anything outside that set fails to decode.
*/
package protocol

import (
	"encoding/json"

	"sigchat/internal/app/user"
)

// EventType is the value of the "type" tag of a frame.
type EventType string

const (
	TypeJoin         EventType = "join"
	TypeJoined       EventType = "joined"
	TypeUserList     EventType = "user-list"
	TypeMessage      EventType = "message"
	TypeTyping       EventType = "typing"
	TypeStopTyping   EventType = "stop-typing"
	TypeOffer        EventType = "offer"
	TypeAnswer       EventType = "answer"
	TypeICECandidate EventType = "ice-candidate"
	TypeError        EventType = "error"
)

// ContentKind distinguishes plain text from file messages.
type ContentKind string

const (
	KindText ContentKind = "text"
	KindFile ContentKind = "file"
)

// Event is implemented by every frame variant.
type Event interface {
	EventType() EventType
	event()
}

// Join asks the server to register the session under a display name.
type Join struct {
	Username string `json:"username"`
}

// Joined acknowledges a join and carries the server-assigned identity.
type Joined struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// UserList is a full roster snapshot.
type UserList struct {
	Users []user.User `json:"users"`
}

// FileData is an attachment embedded in a message as a data URL.
type FileData struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"type"`
	URL      string `json:"url"`
}

// MessageData is the content part of a chat message.
type MessageData struct {
	Content  string      `json:"content"`
	Type     ContentKind `json:"type"`
	FileData *FileData   `json:"fileData,omitempty"`
}

// ChatMessage is a chat message in either direction. TargetUserID is empty for broadcasts.
type ChatMessage struct {
	UserID       string      `json:"userId"`
	Username     string      `json:"username"`
	TargetUserID string      `json:"targetUserId,omitempty"`
	MessageID    string      `json:"messageId"`
	Timestamp    int64       `json:"timestamp"`
	Data         MessageData `json:"data"`
}

// Typing is a typing or stop-typing signal, selected by Stopped.
type Typing struct {
	Stopped      bool   `json:"-"`
	UserID       string `json:"userId,omitempty"`
	Username     string `json:"username"`
	TargetUserID string `json:"targetUserId,omitempty"`
}

// Signal is one of the reserved peer-negotiation kinds (offer, answer, ice-candidate).
// The negotiation itself is not implemented; the payload is carried opaquely.
type Signal struct {
	Kind         EventType       `json:"-"`
	UserID       string          `json:"userId,omitempty"`
	TargetUserID string          `json:"targetUserId,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// ServerError is a non-fatal diagnostic sent by the server.
type ServerError struct {
	Error string `json:"error"`
}

func (Join) EventType() EventType        { return TypeJoin }
func (Joined) EventType() EventType      { return TypeJoined }
func (UserList) EventType() EventType    { return TypeUserList }
func (ChatMessage) EventType() EventType { return TypeMessage }
func (ServerError) EventType() EventType { return TypeError }

func (t Typing) EventType() EventType {
	if t.Stopped {
		return TypeStopTyping
	}
	return TypeTyping
}

func (s Signal) EventType() EventType { return s.Kind }

func (Join) event()        {}
func (Joined) event()      {}
func (UserList) event()    {}
func (ChatMessage) event() {}
func (Typing) event()      {}
func (Signal) event()      {}
func (ServerError) event() {}
