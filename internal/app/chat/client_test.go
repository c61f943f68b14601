package chat

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigchat/internal/app/session"
	"sigchat/internal/app/store"
	"sigchat/internal/app/user"
	"sigchat/internal/configs"
	"sigchat/internal/handler"
	"sigchat/internal/pkg/errs"
	"sigchat/internal/pkg/randx"
	"sigchat/internal/protocol"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

// startRelay runs the real relay router behind httptest and returns its WebSocket URL.
func startRelay(t *testing.T) string {
	t.Helper()

	deps := handler.NewAppDeps(&configs.ServerConfig{
		Environment:    configs.EnvDevelopment,
		AllowedOrigins: []string{},
		MaxFrameBytes:  8 << 20,
		JoinRate:       1000,
		JoinBurst:      1000,
		RoomCapacity:   10,
	})
	srv := httptest.NewServer(handler.Router(deps))
	t.Cleanup(func() {
		deps.Close()
		srv.Close()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func newTestClient(t *testing.T, mode store.Mode) *Client {
	t.Helper()

	opts := session.DefaultOptions()
	opts.Mode = mode
	opts.JoinDelay = 5 * time.Millisecond
	opts.ConnectTimeout = 2 * time.Second

	c := NewClient(opts)
	t.Cleanup(c.Close)
	return c
}

// connectAs connects c and waits for the server-assigned identity.
func connectAs(t *testing.T, c *Client, url, username string) user.User {
	t.Helper()

	require.NoError(t, c.Connect(context.Background(), url, username))
	require.Eventually(t, func() bool {
		return c.State().CurrentUser != nil
	}, waitFor, tick)

	return *c.State().CurrentUser
}

func waitForMessages(t *testing.T, c *Client, n int) []store.Message {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.State().Messages) == n
	}, waitFor, tick)
	return c.State().Messages
}

func waitForRoster(t *testing.T, c *Client, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.State().Roster) == n
	}, waitFor, tick)
}

func TestClient_JoinAssignsIdentity(t *testing.T) {
	url := startRelay(t)
	alice := newTestClient(t, store.Broadcast)

	me := connectAs(t, alice, url, "alice")
	assert.Equal(t, "alice", me.Username)
	assert.True(t, me.IsOnline)
	assert.True(t, strings.HasPrefix(me.ID, randx.UserIDPrefix))

	waitForRoster(t, alice, 1)
	s := alice.State()
	assert.Equal(t, store.Active, s.Connection)
	assert.True(t, s.Connected)
	assert.True(t, alice.IsActive())
}

func TestClient_ConnectRejectsBadUsername(t *testing.T) {
	alice := newTestClient(t, store.Broadcast)

	err := alice.Connect(context.Background(), "ws://localhost:1/ws", "   ")
	assert.True(t, errs.HasCode(err, errs.ErrInvalidParams))

	err = alice.Connect(context.Background(), "ws://localhost:1/ws", strings.Repeat("n", MaxUsernameLength+1))
	assert.True(t, errs.HasCode(err, errs.ErrInvalidParams))
}

func TestClient_BroadcastEchoAppearsOnce(t *testing.T) {
	url := startRelay(t)
	alice, bob := newTestClient(t, store.Broadcast), newTestClient(t, store.Broadcast)

	connectAs(t, alice, url, "alice")
	connectAs(t, bob, url, "bob")
	waitForRoster(t, alice, 2)

	require.True(t, alice.SendMessage("hello", protocol.KindText, nil, ""))

	// the optimistic echo is visible as soon as SendMessage returns
	local := alice.State().Messages
	require.Len(t, local, 1)
	assert.True(t, randx.IsValidMessageID(local[0].ProtocolMessageID))

	got := waitForMessages(t, bob, 1)
	assert.Equal(t, local[0].ProtocolMessageID, got[0].ProtocolMessageID)
	assert.Equal(t, "alice", got[0].SenderName)
	assert.Equal(t, "hello", got[0].Content)

	require.True(t, bob.SendMessage("hi alice", protocol.KindText, nil, ""))
	msgs := waitForMessages(t, alice, 2)
	assert.Equal(t, "hello", msgs[0].Content)
	assert.Equal(t, "hi alice", msgs[1].Content)
}

func TestClient_DuplicateMessageIDLastWriteWins(t *testing.T) {
	url := startRelay(t)
	alice := newTestClient(t, store.Broadcast)
	connectAs(t, alice, url, "alice")

	bob, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer bob.Close()

	send := func(ev protocol.Event) {
		frame, err := protocol.Encode(ev)
		require.NoError(t, err)
		require.NoError(t, bob.WriteMessage(websocket.TextMessage, frame))
	}

	send(protocol.Join{Username: "bob"})
	waitForRoster(t, alice, 2)

	first := protocol.ChatMessage{
		MessageID: "m1",
		Timestamp: 1000,
		Data:      protocol.MessageData{Content: "first", Type: protocol.KindText},
	}
	second := first
	second.Timestamp = 2000
	second.Data.Content = "second"

	send(first)
	send(second)

	require.Eventually(t, func() bool {
		m, ok := alice.State().Message("m1")
		return ok && m.Timestamp == 2000
	}, waitFor, tick)

	msgs := alice.State().Messages
	require.Len(t, msgs, 1)
	assert.Equal(t, "second", msgs[0].Content)
	assert.Equal(t, "bob", msgs[0].SenderName)
}

func TestClient_DirectMessageReachesOnlyTarget(t *testing.T) {
	url := startRelay(t)
	alice := newTestClient(t, store.Direct)
	bob := newTestClient(t, store.Direct)
	carol := newTestClient(t, store.Direct)

	aliceUser := connectAs(t, alice, url, "alice")
	bobUser := connectAs(t, bob, url, "bob")
	connectAs(t, carol, url, "carol")
	waitForRoster(t, alice, 3)

	require.True(t, alice.SendMessage("psst", protocol.KindText, nil, bobUser.ID))
	require.True(t, alice.SendMessage("hello all", protocol.KindText, nil, ""))

	got := waitForMessages(t, bob, 2)
	assert.Equal(t, bobUser.ID, got[0].TargetUserID)

	conversation := bob.State().Conversation(bobUser.ID, aliceUser.ID)
	require.Len(t, conversation, 1)
	assert.Equal(t, "psst", conversation[0].Content)

	carolMsgs := waitForMessages(t, carol, 1)
	assert.Equal(t, "hello all", carolMsgs[0].Content)

	// the sender keeps exactly its own two copies
	assert.Len(t, alice.State().Messages, 2)
}

func TestClient_SendMessageFailures(t *testing.T) {
	url := startRelay(t)
	alice := newTestClient(t, store.Broadcast)

	assert.False(t, alice.SendMessage("too early", protocol.KindText, nil, ""))

	connectAs(t, alice, url, "alice")

	assert.False(t, alice.SendMessage("", protocol.KindFile, nil, ""))

	attachment, err := AttachmentFromBytes("note.txt", []byte("hello"))
	require.NoError(t, err)
	assert.False(t, alice.SendMessage("", protocol.KindText, attachment, ""))

	_, err = alice.PostMessage(strings.Repeat("a", MaxContentBytes+1), protocol.KindText, nil, "")
	assert.True(t, errs.HasCode(err, errs.ErrMessageContentTooLong))

	alice.Disconnect()
	_, err = alice.PostMessage("after disconnect", protocol.KindText, nil, "")
	assert.True(t, errs.HasCode(err, errs.ErrNotJoined))

	assert.Empty(t, alice.State().Messages)
}

func TestClient_FileMessage(t *testing.T) {
	url := startRelay(t)
	alice, bob := newTestClient(t, store.Broadcast), newTestClient(t, store.Broadcast)
	connectAs(t, alice, url, "alice")
	connectAs(t, bob, url, "bob")
	waitForRoster(t, alice, 2)

	content := []byte("GIF89a" + strings.Repeat("\x00", 32))
	attachment, err := AttachmentFromBytes("party", content)
	require.NoError(t, err)

	require.True(t, alice.SendMessage("", protocol.KindFile, attachment, ""))

	got := waitForMessages(t, bob, 1)[0]
	require.NotNil(t, got.Attachment)
	assert.Equal(t, protocol.KindFile, got.Kind)
	assert.Equal(t, "image/gif", got.Attachment.MimeType)
	assert.Equal(t, "party.gif", got.Attachment.Name)

	data, err := DecodeAttachment(got.Attachment)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestClient_TypingStatus(t *testing.T) {
	url := startRelay(t)
	alice, bob := newTestClient(t, store.Broadcast), newTestClient(t, store.Broadcast)
	connectAs(t, alice, url, "alice")
	connectAs(t, bob, url, "bob")
	waitForRoster(t, bob, 2)

	alice.SendTypingStatus(true, "")
	require.Eventually(t, func() bool {
		return bob.State().Typing.Has("alice")
	}, waitFor, tick)

	alice.SendTypingStatus(false, "")
	require.Eventually(t, func() bool {
		return !bob.State().Typing.Has("alice")
	}, waitFor, tick)
}

func TestClient_DisconnectClearsStateAndRoster(t *testing.T) {
	url := startRelay(t)
	alice, bob := newTestClient(t, store.Broadcast), newTestClient(t, store.Broadcast)
	connectAs(t, alice, url, "alice")
	connectAs(t, bob, url, "bob")
	waitForRoster(t, alice, 2)

	require.True(t, alice.SendMessage("bye", protocol.KindText, nil, ""))
	alice.Disconnect()

	assert.False(t, alice.IsActive())
	s := alice.State()
	assert.Nil(t, s.CurrentUser)
	assert.Empty(t, s.Messages)
	assert.Empty(t, s.Roster)
	assert.Equal(t, session.PolicyGivenUp, alice.ReconnectStatus().Policy)

	waitForRoster(t, bob, 1)
	assert.Equal(t, "bob", bob.State().Roster[0].Username)
}

func TestClient_SubscribeSeesLatestState(t *testing.T) {
	url := startRelay(t)
	alice := newTestClient(t, store.Broadcast)

	updates, cancel := alice.Subscribe()
	defer cancel()

	connectAs(t, alice, url, "alice")

	deadline := time.After(waitFor)
	for {
		select {
		case s := <-updates:
			if s.CurrentUser != nil && len(s.Roster) == 1 {
				assert.Equal(t, "alice", s.CurrentUser.Username)
				return
			}
		case <-deadline:
			t.Fatal("subscriber never saw the joined state")
		}
	}
}
