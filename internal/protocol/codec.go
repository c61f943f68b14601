package protocol

import (
	"encoding/json"
	"fmt"

	"sigchat/internal/app/user"
	"sigchat/internal/pkg/errs"
)

// Direction selects which tag set a decoder accepts.
type Direction int

const (
	// Inbound frames travel from the server to a client.
	Inbound Direction = iota

	// Outbound frames travel from a client to the server.
	Outbound
)

// String returns the direction name used in logs.
func (d Direction) String() string {
	switch d {
	case Inbound:
		return "inbound"
	case Outbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// accepts reports whether t is a recognized tag for the direction.
// The reserved negotiation kinds are accepted both ways so a relay can forward them.
func (d Direction) accepts(t EventType) bool {
	switch t {
	case TypeMessage, TypeTyping, TypeStopTyping, TypeOffer, TypeAnswer, TypeICECandidate:
		return true
	case TypeJoined, TypeUserList, TypeError:
		return d == Inbound
	case TypeJoin:
		return d == Outbound
	default:
		return false
	}
}

// Encode serializes ev into a single text frame.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, fmt.Errorf("encode: nil event")
	}

	var v any
	switch e := ev.(type) {
	case Join:
		v = struct {
			Type EventType `json:"type"`
			Join
		}{TypeJoin, e}
	case Joined:
		v = struct {
			Type EventType `json:"type"`
			Joined
		}{TypeJoined, e}
	case UserList:
		if e.Users == nil {
			e.Users = []user.User{}
		}
		v = struct {
			Type EventType `json:"type"`
			UserList
		}{TypeUserList, e}
	case ChatMessage:
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("encode message: %w", err)
		}
		v = struct {
			Type EventType `json:"type"`
			ChatMessage
		}{TypeMessage, e}
	case Typing:
		v = struct {
			Type EventType `json:"type"`
			Typing
		}{e.EventType(), e}
	case Signal:
		if !isSignalKind(e.Kind) {
			return nil, fmt.Errorf("encode: %q is not a signal kind", e.Kind)
		}
		v = struct {
			Type EventType `json:"type"`
			Signal
		}{e.Kind, e}
	case ServerError:
		v = struct {
			Type EventType `json:"type"`
			ServerError
		}{TypeError, e}
	default:
		return nil, fmt.Errorf("encode: unsupported event %T", ev)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", ev.EventType(), err)
	}
	return data, nil
}

// Decode parses a server-to-client frame.
func Decode(frame []byte) (Event, error) {
	return DecodeFrom(Inbound, frame)
}

// DecodeFrom parses a frame travelling in direction dir.
// Every failure, including an unknown or misplaced tag, wraps errs.ErrMalformedFrame.
func DecodeFrom(dir Direction, frame []byte) (Event, error) {
	var envelope struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return nil, malformed(err)
	}
	if envelope.Type == "" {
		return nil, malformed("missing type tag")
	}
	if !dir.accepts(envelope.Type) {
		return nil, malformed(fmt.Sprintf("unexpected %s type %q", dir, envelope.Type))
	}

	switch envelope.Type {
	case TypeJoin:
		var e Join
		if err := json.Unmarshal(frame, &e); err != nil {
			return nil, malformed(err)
		}
		if e.Username == "" {
			return nil, malformed("join without username")
		}
		return e, nil

	case TypeJoined:
		var e Joined
		if err := json.Unmarshal(frame, &e); err != nil {
			return nil, malformed(err)
		}
		if e.UserID == "" {
			return nil, malformed("joined without userId")
		}
		return e, nil

	case TypeUserList:
		var e UserList
		if err := json.Unmarshal(frame, &e); err != nil {
			return nil, malformed(err)
		}
		if e.Users == nil {
			e.Users = []user.User{}
		}
		return e, nil

	case TypeMessage:
		var e ChatMessage
		if err := json.Unmarshal(frame, &e); err != nil {
			return nil, malformed(err)
		}
		if e.Data.Type == "" {
			e.Data.Type = KindText
		}
		if err := e.Validate(); err != nil {
			return nil, malformed(err)
		}
		return e, nil

	case TypeTyping, TypeStopTyping:
		var e Typing
		if err := json.Unmarshal(frame, &e); err != nil {
			return nil, malformed(err)
		}
		if dir == Inbound && e.Username == "" {
			return nil, malformed("typing signal without username")
		}
		e.Stopped = envelope.Type == TypeStopTyping
		return e, nil

	case TypeOffer, TypeAnswer, TypeICECandidate:
		var e Signal
		if err := json.Unmarshal(frame, &e); err != nil {
			return nil, malformed(err)
		}
		e.Kind = envelope.Type
		return e, nil

	case TypeError:
		var e ServerError
		if err := json.Unmarshal(frame, &e); err != nil {
			return nil, malformed(err)
		}
		return e, nil
	}

	return nil, malformed(fmt.Sprintf("unhandled type %q", envelope.Type))
}

// Validate checks the structural rules of a chat message: a message id is present,
// the kind is known, and file data is present iff the kind is file.
func (m ChatMessage) Validate() error {
	if m.MessageID == "" {
		return fmt.Errorf("message without messageId")
	}

	switch m.Data.Type {
	case KindText:
		if m.Data.FileData != nil {
			return fmt.Errorf("text message %s carries fileData", m.MessageID)
		}
	case KindFile:
		if m.Data.FileData == nil {
			return fmt.Errorf("file message %s has no fileData", m.MessageID)
		}
	default:
		return fmt.Errorf("message %s has unknown kind %q", m.MessageID, m.Data.Type)
	}

	return nil
}

func isSignalKind(t EventType) bool {
	return t == TypeOffer || t == TypeAnswer || t == TypeICECandidate
}

func malformed(reason any) error {
	if err, ok := reason.(error); ok {
		return errs.Wrap(errs.ErrMalformedFrame, err, "decode failed")
	}
	return errs.NewError(errs.ErrMalformedFrame, reason)
}
