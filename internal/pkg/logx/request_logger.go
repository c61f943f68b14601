/*
Package logx provides a structured logging wrapper based on zerolog.

This file contains the HTTP middleware used by the relay router to log the request lifecycle
(URI, method, response status, latency). Remote addresses are anonymized before logging.
*/
package logx

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// anonymizeIP zeros the last IPv4 octet or the interface half of an IPv6 address.
func anonymizeIP(ipStr string) string {
	host, _, err := net.SplitHostPort(ipStr)
	if err == nil {
		ipStr = host
	}

	ip := net.ParseIP(ipStr)
	if ip == nil {
		return "unknown_ip"
	}

	if ip.IsLoopback() {
		return "127.0.0.1"
	}

	if v4 := ip.To4(); v4 != nil {
		return net.IPv4(v4[0], v4[1], v4[2], 0).String()
	}

	if v6 := ip.To16(); v6 != nil {
		masked := make(net.IP, net.IPv6len)
		copy(masked, v6[:8])
		return masked.String()
	}

	return ipStr
}

// RequestLogger returns an HTTP middleware that logs every request handled by the relay.
// The per-request logger is injected into the request context. A request upgraded to a
// WebSocket is logged once the connection ends, with its lifetime as the latency.
func RequestLogger() func(next http.Handler) http.Handler {
	baseLogger := Logger()

	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			logger := baseLogger.With().
				Str("component", "http").
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("remote_ip", anonymizeIP(r.RemoteAddr)).
				Str("request_method", r.Method).
				Str("request_uri", r.RequestURI).
				Logger()

			r = r.WithContext(logger.WithContext(r.Context()))

			start := time.Now()
			next.ServeHTTP(ww, r)
			latency := time.Since(start)

			status := ww.Status()

			// the upgrader hijacks the connection, so no status passes through the wrapper
			if status == 0 && isWebSocketUpgrade(r) {
				logger.Info().
					Str("room", r.URL.Query().Get("room")).
					Dur("duration", latency).
					Msg("WebSocket session closed")
				return
			}

			logEvent := logger.Info()
			if status >= 500 {
				logEvent = logger.Error()
			} else if status >= 400 {
				logEvent = logger.Warn()
			}

			logEvent.
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("latency", latency).
				Msg("Request completed")
		}

		return http.HandlerFunc(fn)
	}
}

func isWebSocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
