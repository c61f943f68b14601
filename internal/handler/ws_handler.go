/*
Package handler provides the HTTP handler function for WebSocket connection upgrading and initialization.

This file contains the HandleWebSocket function, which is responsible for validating the room
parameter, upgrading the HTTP connection to WebSocket, and handing the connection to its room.
*/
package handler

import (
	"net/http"
	"regexp"

	"github.com/gorilla/websocket"

	"sigchat/internal/app/relay"
	"sigchat/internal/pkg/errs"
	"sigchat/internal/pkg/logx"
	"sigchat/internal/pkg/resp"
)

// roomNamePattern restricts the optional room query parameter.
var roomNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,32}$`)

// registerAttempts bounds retries when a room stops between lookup and registration.
const registerAttempts = 2

// HandleWebSocket creates an HTTP HandlerFunc to process WebSocket connection requests.
// Rate limiting is applied by the router; identity is assigned later by the room on join.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomName := r.URL.Query().Get("room")
		if roomName == "" {
			roomName = relay.DefaultRoom
		}
		if !roomNamePattern.MatchString(roomName) {
			logx.Warn("WebSocket request rejected: Invalid room name", "room", roomName)
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		for attempt := 0; attempt < registerAttempts; attempt++ {
			room := deps.Relay.GetOrCreateRoom(roomName)
			client := relay.NewClient(room, conn, deps.Config.MaxFrameBytes)

			if room.Register(client) {
				logx.Debug("WebSocket connection established and registered", "room", roomName)

				go client.WritePump()
				client.ReadPump()
				return
			}
		}

		logx.Warn("WebSocket connection dropped: Room stopped during registration.", "room", roomName)
		closeMessage := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "room unavailable")
		_ = conn.WriteMessage(websocket.CloseMessage, closeMessage)
		_ = conn.Close()
	}
}
