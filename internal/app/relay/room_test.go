package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigchat/internal/app/user"
	"sigchat/internal/protocol"
)

const readTimeout = 2 * time.Second

// startRelay serves a single-room relay over httptest and returns its manager and ws URL.
func startRelay(t *testing.T, maxClients int) (*Manager, string) {
	t.Helper()

	m := NewManager(maxClients, time.Minute)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		room := m.GetOrCreateRoom(DefaultRoom)
		client := NewClient(room, conn, 0)
		if !room.Register(client) {
			_ = conn.Close()
			return
		}

		go client.WritePump()
		client.ReadPump()
	}))

	t.Cleanup(func() {
		m.Shutdown()
		srv.Close()
	})

	return m, "ws" + strings.TrimPrefix(srv.URL, "http")
}

type peer struct {
	t    *testing.T
	conn *websocket.Conn
}

func dialPeer(t *testing.T, url string) *peer {
	t.Helper()

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &peer{t: t, conn: conn}
}

func (p *peer) send(ev protocol.Event) {
	p.t.Helper()
	frame, err := protocol.Encode(ev)
	require.NoError(p.t, err)
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, frame))
}

func (p *peer) sendRaw(frame string) {
	p.t.Helper()
	require.NoError(p.t, p.conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func (p *peer) next() protocol.Event {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(readTimeout)))

	_, frame, err := p.conn.ReadMessage()
	require.NoError(p.t, err)

	ev, err := protocol.Decode(frame)
	require.NoError(p.t, err)
	return ev
}

// nextOf reads until an event of type T arrives, skipping anything else.
func nextOf[T protocol.Event](p *peer) T {
	p.t.Helper()
	for {
		if ev, ok := p.next().(T); ok {
			return ev
		}
	}
}

func (p *peer) join(name string) protocol.Joined {
	p.t.Helper()
	p.send(protocol.Join{Username: name})
	joined := nextOf[protocol.Joined](p)
	nextOf[protocol.UserList](p)
	return joined
}

func usernames(users []user.User) []string {
	names := make([]string, 0, len(users))
	for _, u := range users {
		names = append(names, u.Username)
	}
	return names
}

func textMessage(id, content string) protocol.ChatMessage {
	return protocol.ChatMessage{
		MessageID: id,
		Timestamp: 1000,
		Data:      protocol.MessageData{Content: content, Type: protocol.KindText},
	}
}

func TestJoin_AssignsIdentityAndBroadcastsRoster(t *testing.T) {
	_, url := startRelay(t, 10)

	alice := dialPeer(t, url)
	alice.send(protocol.Join{Username: "alice"})

	joined := nextOf[protocol.Joined](alice)
	assert.Equal(t, "alice", joined.Username)
	assert.True(t, strings.HasPrefix(joined.UserID, "u_"))

	roster := nextOf[protocol.UserList](alice)
	require.Len(t, roster.Users, 1)
	assert.Equal(t, user.User{ID: joined.UserID, Username: "alice", IsOnline: true}, roster.Users[0])

	bob := dialPeer(t, url)
	bobID := bob.join("bob").UserID
	assert.NotEqual(t, joined.UserID, bobID)

	roster = nextOf[protocol.UserList](alice)
	assert.Equal(t, []string{"alice", "bob"}, usernames(roster.Users))
}

func TestMessage_BroadcastExcludesSenderAndStampsIdentity(t *testing.T) {
	_, url := startRelay(t, 10)

	alice, bob := dialPeer(t, url), dialPeer(t, url)
	aliceID := alice.join("alice").UserID
	bob.join("bob")
	nextOf[protocol.UserList](alice)

	spoofed := textMessage("m-1", "hello")
	spoofed.UserID = "u_forged"
	spoofed.Username = "mallory"
	alice.send(spoofed)

	got := nextOf[protocol.ChatMessage](bob)
	assert.Equal(t, "m-1", got.MessageID)
	assert.Equal(t, aliceID, got.UserID)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, "hello", got.Data.Content)

	// alice's next message is bob's reply, not an echo of her own
	bob.send(textMessage("m-2", "hi alice"))
	reply := nextOf[protocol.ChatMessage](alice)
	assert.Equal(t, "m-2", reply.MessageID)
}

func TestMessage_DirectReachesOnlyTarget(t *testing.T) {
	_, url := startRelay(t, 10)

	alice, bob, carol := dialPeer(t, url), dialPeer(t, url), dialPeer(t, url)
	alice.join("alice")
	bobID := bob.join("bob").UserID
	carol.join("carol")

	direct := textMessage("m-direct", "psst")
	direct.TargetUserID = bobID
	alice.send(direct)
	alice.send(textMessage("m-public", "hello all"))

	first := nextOf[protocol.ChatMessage](bob)
	assert.Equal(t, "m-direct", first.MessageID)
	assert.Equal(t, bobID, first.TargetUserID)

	// carol sees the public message first, so the direct one never reached her
	assert.Equal(t, "m-public", nextOf[protocol.ChatMessage](carol).MessageID)

	// and alice, the sender, gets neither echoed back
	carol.send(textMessage("m-carol", "hey"))
	assert.Equal(t, "m-carol", nextOf[protocol.ChatMessage](alice).MessageID)
}

func TestMessage_UnknownTarget(t *testing.T) {
	_, url := startRelay(t, 10)

	alice := dialPeer(t, url)
	alice.join("alice")

	direct := textMessage("m-1", "anyone?")
	direct.TargetUserID = "u_ghost"
	alice.send(direct)

	serverErr := nextOf[protocol.ServerError](alice)
	assert.Contains(t, serverErr.Error, "u_ghost")
}

func TestMessage_ContentTooLong(t *testing.T) {
	_, url := startRelay(t, 10)

	alice := dialPeer(t, url)
	alice.join("alice")
	alice.send(textMessage("m-1", strings.Repeat("a", MaxContentBytes+1)))

	serverErr := nextOf[protocol.ServerError](alice)
	assert.Contains(t, serverErr.Error, "too long")
}

func TestTyping_ForwardedWithSender(t *testing.T) {
	_, url := startRelay(t, 10)

	alice, bob := dialPeer(t, url), dialPeer(t, url)
	aliceID := alice.join("alice").UserID
	bob.join("bob")

	alice.send(protocol.Typing{})
	typing := nextOf[protocol.Typing](bob)
	assert.False(t, typing.Stopped)
	assert.Equal(t, "alice", typing.Username)
	assert.Equal(t, aliceID, typing.UserID)

	alice.send(protocol.Typing{Stopped: true})
	stopped := nextOf[protocol.Typing](bob)
	assert.True(t, stopped.Stopped)
	assert.Equal(t, "alice", stopped.Username)
}

func TestSignal_ForwardedToTarget(t *testing.T) {
	_, url := startRelay(t, 10)

	alice, bob := dialPeer(t, url), dialPeer(t, url)
	aliceID := alice.join("alice").UserID
	bobID := bob.join("bob").UserID

	alice.send(protocol.Signal{
		Kind:         protocol.TypeICECandidate,
		TargetUserID: bobID,
		Payload:      json.RawMessage(`{"candidate":"c1"}`),
	})

	sig := nextOf[protocol.Signal](bob)
	assert.Equal(t, protocol.TypeICECandidate, sig.Kind)
	assert.Equal(t, aliceID, sig.UserID)
	assert.JSONEq(t, `{"candidate":"c1"}`, string(sig.Payload))
}

func TestProtocolViolations_ReplyWithError(t *testing.T) {
	_, url := startRelay(t, 10)

	p := dialPeer(t, url)

	p.sendRaw("{broken")
	assert.Contains(t, nextOf[protocol.ServerError](p).Error, "Malformed frame")

	p.sendRaw(`{"type":"joined","userId":"u1","username":"me"}`)
	assert.Contains(t, nextOf[protocol.ServerError](p).Error, "Malformed frame")

	p.send(textMessage("m-1", "too early"))
	assert.Contains(t, nextOf[protocol.ServerError](p).Error, "Join the chat")

	p.send(protocol.Join{Username: strings.Repeat("x", MaxUsernameLength+1)})
	assert.Contains(t, nextOf[protocol.ServerError](p).Error, "Invalid")

	// the connection survives every violation
	p.join("alice")

	p.send(protocol.Join{Username: "alice-again"})
	assert.Contains(t, nextOf[protocol.ServerError](p).Error, "Already joined")
}

func TestDisconnect_RebroadcastsRoster(t *testing.T) {
	_, url := startRelay(t, 10)

	alice, bob := dialPeer(t, url), dialPeer(t, url)
	alice.join("alice")
	bob.join("bob")
	assert.Len(t, nextOf[protocol.UserList](alice).Users, 2)

	require.NoError(t, bob.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")))
	_ = bob.conn.Close()

	roster := nextOf[protocol.UserList](alice)
	assert.Equal(t, []string{"alice"}, usernames(roster.Users))
}

func TestRoom_RejectsConnectionsWhenFull(t *testing.T) {
	_, url := startRelay(t, 1)

	alice := dialPeer(t, url)
	alice.join("alice")

	late := dialPeer(t, url)
	assert.Contains(t, nextOf[protocol.ServerError](late).Error, "Room is full")

	require.NoError(t, late.conn.SetReadDeadline(time.Now().Add(readTimeout)))
	_, _, err := late.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestManager_RoomLifecycle(t *testing.T) {
	m := NewManager(5, 20*time.Millisecond)
	t.Cleanup(m.Shutdown)

	room := m.GetOrCreateRoom("quiet")
	assert.Same(t, room, m.GetOrCreateRoom("quiet"))
	assert.Same(t, room, m.GetRoom("quiet"))
	assert.Equal(t, 1, m.RoomCount())

	// an empty room shuts down after its inactivity timeout and is forgotten
	require.Eventually(t, func() bool {
		return m.RoomCount() == 0
	}, readTimeout, 5*time.Millisecond)
	assert.Nil(t, m.GetRoom("quiet"))

	fresh := m.GetOrCreateRoom("quiet")
	assert.NotSame(t, room, fresh)
}

func TestManager_ShutdownWaitsForRooms(t *testing.T) {
	for i := 0; i < 20; i++ {
		m := NewManager(0, time.Minute)
		rooms := []*Room{m.GetOrCreateRoom(DefaultRoom), m.GetOrCreateRoom("second")}

		m.Shutdown()

		for _, room := range rooms {
			select {
			case <-room.stopChan:
			default:
				t.Fatalf("room %s still running after Shutdown", room.Name)
			}
		}
		assert.Equal(t, 0, m.RoomCount())
	}
}

func TestManager_AfterShutdownRoomsRejectConnections(t *testing.T) {
	m := NewManager(0, time.Minute)
	m.GetOrCreateRoom(DefaultRoom)
	m.Shutdown()
	m.Shutdown()

	room := m.GetOrCreateRoom(DefaultRoom)
	require.NotNil(t, room)
	assert.False(t, room.Register(nil), "a room handed out after shutdown is already stopped")
	assert.Equal(t, 0, m.RoomCount())
}
