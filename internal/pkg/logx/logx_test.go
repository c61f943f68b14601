package logx

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnonymizeIP(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"203.0.113.45:443", "203.0.113.0"},
		{"203.0.113.45", "203.0.113.0"},
		{"10.20.30.255:1", "10.20.30.0"},
		{"[::ffff:192.0.2.7]:80", "192.0.2.0"},
		{"127.0.0.1:8080", "127.0.0.1"},
		{"[::1]:8080", "127.0.0.1"},
		{"[2001:db8:1:2:3:4:5:6]:443", "2001:db8:1:2::"},
		{"not-an-ip", "unknown_ip"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, anonymizeIP(tt.in))
		})
	}
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	InitGlobalLogger(&buf, false)
	return &buf
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestRequestLogger_LogsStatusAndLevel(t *testing.T) {
	buf := captureLogs(t)

	h := middleware.RequestID(RequestLogger()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})))

	req := httptest.NewRequest(http.MethodGet, "/ws?room=lobby", nil)
	req.RemoteAddr = "198.51.100.23:5000"
	h.ServeHTTP(httptest.NewRecorder(), req)

	entry := lastEntry(t, buf)
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "Request completed", entry["message"])
	assert.Equal(t, float64(http.StatusTooManyRequests), entry["status"])
	assert.Equal(t, "198.51.100.0", entry["remote_ip"])
	assert.NotEmpty(t, entry["request_id"])
}

func TestRequestLogger_WebSocketSession(t *testing.T) {
	buf := captureLogs(t)

	// a handler that writes nothing stands in for a hijacked upgrade
	h := RequestLogger()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/ws?room=general", nil)
	req.Header.Set("Upgrade", "websocket")
	h.ServeHTTP(httptest.NewRecorder(), req)

	entry := lastEntry(t, buf)
	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "WebSocket session closed", entry["message"])
	assert.Equal(t, "general", entry["room"])
}

func TestCheckFields_OddCountIgnored(t *testing.T) {
	buf := captureLogs(t)

	Info("hello", "key")

	entry := lastEntry(t, buf)
	assert.Equal(t, "hello", entry["message"])
	assert.NotContains(t, entry, "key")
}
