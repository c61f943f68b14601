/*
Package handler provides the HTTP handlers and routing setup for the signaling relay.

This file defines the main Router, applying necessary middleware like logging, CORS,
and IP-based rate limiting before delegating requests to the health and WebSocket handlers.
*/
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"sigchat/internal/app/relay"
	"sigchat/internal/configs"
	"sigchat/internal/pkg/limiter"
	"sigchat/internal/pkg/logx"
	"sigchat/internal/pkg/resp"
)

// AppDeps holds the dependencies shared by the relay's handlers.
type AppDeps struct {
	Config  *configs.ServerConfig
	Relay   *relay.Manager
	Limiter *limiter.IPRateLimiter
}

// NewAppDeps builds the relay dependencies from cfg.
func NewAppDeps(cfg *configs.ServerConfig) *AppDeps {
	return &AppDeps{
		Config:  cfg,
		Relay:   relay.NewManager(cfg.RoomCapacity, relay.RoomInactivityTimeout),
		Limiter: limiter.NewIPRateLimiter(rate.Limit(cfg.JoinRate), cfg.JoinBurst),
	}
}

// Close stops the relay rooms and the limiter's cleanup goroutine.
func (d *AppDeps) Close() {
	d.Relay.Shutdown()
	d.Limiter.Stop()
}

// Router sets up the main HTTP routing table (chi.Router) for the relay.
// It configures CORS, the WebSocket upgrader's origin check, and applies global and per-route middleware.
func Router(deps *AppDeps) http.Handler {
	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	var wsUpgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			// non-browser clients send no Origin header
			if origin == "" {
				return true
			}
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]any{
			"status":  "ok",
			"service": "sigchat relay",
			"rooms":   deps.Relay.RoomCount(),
		}
		resp.RespondSuccess(w, r, data)
	})

	r.With(deps.Limiter.Middleware).Get("/ws", HandleWebSocket(deps, wsUpgrader))

	return r
}
