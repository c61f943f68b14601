/*
Package relay implements the development signaling relay the chat client talks to.

This file defines the Room struct, the hub for one named chat. Its Run loop owns every
connection in the room: it registers and unregisters connections, assigns identities on
join, routes messages, typing and signaling events, and rebroadcasts the roster. An empty
room shuts itself down after a period of inactivity.
*/
package relay

import (
	"cmp"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"sigchat/internal/app/user"
	"sigchat/internal/pkg/errs"
	"sigchat/internal/pkg/logx"
	"sigchat/internal/pkg/randx"
	"sigchat/internal/protocol"
)

const inboundChannelBuffer = 1024

const (
	// DefaultMaxClients is the capacity of a room. Zero means unlimited.
	DefaultMaxClients = 50

	// RoomInactivityTimeout is the duration after which an empty room will automatically shut down.
	RoomInactivityTimeout = 5 * time.Minute

	// MaxContentBytes is the maximum allowed size (in bytes) of text message content.
	MaxContentBytes = 5000

	// MaxUsernameLength is the maximum display name length in runes.
	MaxUsernameLength = 32
)

// inbound is a decoded frame, or a decode error, from one connection.
type inbound struct {
	client *Client
	event  protocol.Event
	err    error
}

// Room struct represents a single, active chat room.
type Room struct {
	// unique name of the room.
	Name string

	// maximum number of connections allowed in the room.
	MaxClients int

	// every registered connection, joined or not.
	clients map[*Client]struct{}

	// joined connections keyed by their server-assigned user ID.
	members map[string]*Client

	// frames from all connections in arrival order.
	inbound chan inbound

	// a channel for connections requesting to enter the room.
	register chan *Client

	// a channel for connections leaving the room.
	unregister chan *Client

	// a write-only channel used to notify the Manager to clean up this room.
	cleanupChan chan<- RoomCleanupMsg

	// managerDone is closed when the Manager no longer reads cleanupChan.
	managerDone <-chan struct{}

	// closed when the Run loop stops or is asked to stop.
	stopChan chan struct{}
	stopOnce sync.Once

	// inactivity is how long the room may stay empty before shutting down.
	inactivity    time.Duration
	shutdownTimer *time.Timer

	// structured logger with room context.
	logger zerolog.Logger
}

// RoomCleanupMsg is sent to the Manager when a Room's Run loop exits.
type RoomCleanupMsg struct {
	RoomName string
}

// NewRoom creates and initializes a new Room instance.
func NewRoom(name string, maxClients int, inactivity time.Duration, cleanupChan chan<- RoomCleanupMsg, managerDone <-chan struct{}) *Room {
	if inactivity <= 0 {
		inactivity = RoomInactivityTimeout
	}

	return &Room{
		Name:          name,
		MaxClients:    maxClients,
		clients:       make(map[*Client]struct{}),
		members:       make(map[string]*Client),
		inbound:       make(chan inbound, inboundChannelBuffer),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		cleanupChan:   cleanupChan,
		managerDone:   managerDone,
		stopChan:      make(chan struct{}),
		inactivity:    inactivity,
		shutdownTimer: time.NewTimer(inactivity),
		logger:        logx.Logger().With().Str("room", name).Logger(),
	}
}

// Stop sends a signal to immediately terminate the Room's Run loop.
func (r *Room) Stop() {
	r.logger.Info().Msg("Received stop signal. Stopping room immediately.")
	r.stopOnce.Do(func() { close(r.stopChan) })
}

// Run starts the main event loop for the Room.
func (r *Room) Run() {
	defer r.finish()

	for {
		select {
		case client := <-r.register:
			r.handleRegister(client)

		case client := <-r.unregister:
			r.handleUnregister(client)

		case in := <-r.inbound:
			r.handleInbound(in)

		case <-r.shutdownTimer.C:
			r.logger.Info().Dur("timeout", r.inactivity).Msg("Room inactivity timeout reached. Shutting down.")
			return

		case <-r.stopChan:
			r.logger.Info().Msg("Room forced stop initiated.")
			return
		}
	}
}

// finish closes every connection's send queue and notifies the Manager.
func (r *Room) finish() {
	r.shutdownTimer.Stop()
	r.stopOnce.Do(func() { close(r.stopChan) })

	for client := range r.clients {
		close(client.send)
	}
	r.clients = nil
	r.members = nil

	r.notifyCleanup()
}

// notifyCleanup tells the Manager this room is gone, unless the Manager has already stopped.
func (r *Room) notifyCleanup() {
	select {
	case r.cleanupChan <- RoomCleanupMsg{RoomName: r.Name}:
		r.logger.Info().Msg("Sent cleanup notification to Manager.")
	case <-r.managerDone:
		r.logger.Debug().Msg("Manager stopped. Skipping cleanup notification.")
	}
}

// Register hands a new connection to the Run loop. It returns false if the room has stopped.
func (r *Room) Register(client *Client) bool {
	select {
	case r.register <- client:
		return true
	case <-r.stopChan:
		return false
	}
}

func (r *Room) handleRegister(client *Client) {
	if r.MaxClients > 0 && len(r.clients) >= r.MaxClients {
		r.logger.Warn().Int("max_clients", r.MaxClients).Msg("Room is full. New connection rejected.")
		r.sendError(client, errs.NewError(errs.ErrRoomIsFull))
		close(client.send)
		return
	}

	r.shutdownTimer.Stop()
	r.clients[client] = struct{}{}

	r.logger.Debug().Int("total_connections", len(r.clients)).Msg("Connection registered.")
}

func (r *Room) handleUnregister(client *Client) {
	if _, ok := r.clients[client]; !ok {
		return
	}
	r.remove(client)

	if client.user != nil {
		r.broadcastRoster()
	}
}

// remove drops client from the room and closes its send queue.
func (r *Room) remove(client *Client) {
	delete(r.clients, client)
	close(client.send)

	if client.user != nil {
		if current, ok := r.members[client.user.ID]; ok && current == client {
			delete(r.members, client.user.ID)
		}
		r.logger.Info().
			Str("user_id", client.user.ID).
			Int("total_users", len(r.members)).
			Msg("User left room.")
	}

	if len(r.clients) == 0 {
		r.logger.Info().Dur("timeout", r.inactivity).Msg("Room is empty. Arming inactivity timer.")
		r.shutdownTimer.Reset(r.inactivity)
	}
}

func (r *Room) handleInbound(in inbound) {
	client := in.client
	if _, ok := r.clients[client]; !ok {
		return
	}

	if in.err != nil {
		client.logger.Warn().Err(in.err).Msg("Client sent malformed frame")
		r.sendError(client, in.err)
		return
	}

	if join, ok := in.event.(protocol.Join); ok {
		r.handleJoin(client, join)
		return
	}

	if client.user == nil {
		r.sendError(client, errs.NewError(errs.ErrNotJoined))
		return
	}

	switch ev := in.event.(type) {
	case protocol.ChatMessage:
		r.handleMessage(client, ev)

	case protocol.Typing:
		ev.UserID = client.user.ID
		ev.Username = client.user.Username
		r.route(client, ev.TargetUserID, ev)

	case protocol.Signal:
		if ev.TargetUserID == "" {
			r.sendError(client, errs.NewError(errs.ErrInvalidParams))
			return
		}
		ev.UserID = client.user.ID
		r.route(client, ev.TargetUserID, ev)

	default:
		client.logger.Warn().Str("type", string(in.event.EventType())).Msg("Client sent unsupported event")
	}
}

func (r *Room) handleJoin(client *Client, join protocol.Join) {
	if client.user != nil {
		r.sendError(client, errs.NewError(errs.ErrAlreadyJoined))
		return
	}

	name := strings.TrimSpace(join.Username)
	if name == "" || utf8.RuneCountInString(name) > MaxUsernameLength {
		r.sendError(client, errs.NewError(errs.ErrInvalidParams))
		return
	}

	u := user.User{ID: randx.UserID(), Username: name, IsOnline: true}
	client.user = &u
	r.members[u.ID] = client

	r.logger.Info().
		Str("user_id", u.ID).
		Str("username", u.Username).
		Int("total_users", len(r.members)).
		Msg("User joined room.")

	r.deliver(client, protocol.Joined{UserID: u.ID, Username: u.Username})
	r.broadcastRoster()
}

func (r *Room) handleMessage(client *Client, msg protocol.ChatMessage) {
	if len(msg.Data.Content) > MaxContentBytes {
		r.sendError(client, errs.NewError(errs.ErrMessageContentTooLong))
		return
	}

	msg.UserID = client.user.ID
	msg.Username = client.user.Username
	if msg.Timestamp <= 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	r.route(client, msg.TargetUserID, msg)
}

// route delivers ev to targetID only when set, otherwise to every member except the sender.
func (r *Room) route(sender *Client, targetID string, ev protocol.Event) {
	frame, err := protocol.Encode(ev)
	if err != nil {
		sender.logger.Error().Err(err).Str("type", string(ev.EventType())).Msg("Failed to encode event for routing")
		return
	}

	if targetID != "" {
		target, ok := r.members[targetID]
		if !ok {
			r.sendError(sender, errs.NewError(errs.ErrUnknownTarget, targetID))
			return
		}
		if target != sender {
			r.enqueue(target, frame)
		}
		return
	}

	var slow []*Client
	for id, member := range r.members {
		if id == sender.user.ID {
			continue
		}
		if !member.queue(frame) {
			slow = append(slow, member)
		}
	}
	r.dropSlow(slow)
}

// broadcastRoster sends the full roster to every joined member.
func (r *Room) broadcastRoster() {
	users := make([]user.User, 0, len(r.members))
	for _, member := range r.members {
		users = append(users, *member.user)
	}
	sortUsers(users)

	frame, err := protocol.Encode(protocol.UserList{Users: users})
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to encode user list")
		return
	}

	var slow []*Client
	for _, member := range r.members {
		if !member.queue(frame) {
			slow = append(slow, member)
		}
	}
	r.dropSlow(slow)
}

func (r *Room) deliver(client *Client, ev protocol.Event) {
	frame, err := protocol.Encode(ev)
	if err != nil {
		client.logger.Error().Err(err).Str("type", string(ev.EventType())).Msg("Failed to encode event")
		return
	}
	r.enqueue(client, frame)
}

func (r *Room) enqueue(client *Client, frame []byte) {
	if !client.queue(frame) {
		r.dropSlow([]*Client{client})
	}
}

// dropSlow disconnects clients whose send queue is full.
func (r *Room) dropSlow(slow []*Client) {
	if len(slow) == 0 {
		return
	}

	rosterChanged := false
	for _, client := range slow {
		if _, ok := r.clients[client]; !ok {
			continue
		}
		client.logger.Warn().Msg("Client send channel full, unregistering.")
		rosterChanged = rosterChanged || client.user != nil
		r.remove(client)
	}

	if rosterChanged {
		r.broadcastRoster()
	}
}

// sendError replies to client with an error event.
func (r *Room) sendError(client *Client, err error) {
	r.deliver(client, protocol.ServerError{Error: errorText(err)})
}

func sortUsers(users []user.User) {
	slices.SortFunc(users, func(a, b user.User) int {
		return cmp.Or(cmp.Compare(a.Username, b.Username), cmp.Compare(a.ID, b.ID))
	})
}
