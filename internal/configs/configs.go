/*
Package configs is responsible for loading and parsing the application's configuration settings.

It reads operating system environment variables, optionally seeded from a .env file, to
configure the chat client (signaling endpoint, chat mode, connection timing) and the
development relay (port, CORS allowed origins, frame and rate limits).
*/
package configs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"sigchat/internal/app/store"
)

const (
	// EnvDevelopment is the default running environment.
	EnvDevelopment = "development"

	// DevSignalingURL is the signaling endpoint used in development.
	DevSignalingURL = "ws://localhost:8080/ws"

	// ProdSignalingURL is the signaling endpoint used outside development.
	ProdSignalingURL = "wss://signal.sigchat.app/ws"
)

// ClientConfig contains the settings of the chat client.
type ClientConfig struct {
	// General Settings
	Environment  string
	SignalingURL string
	Mode         store.Mode

	// Connection Settings
	ConnectTimeout       time.Duration
	ReconnectBaseDelay   time.Duration
	MaxReconnectAttempts int
	TypingExpiry         time.Duration
}

// IsDevelopment reports whether the client runs in the development environment.
func (c *ClientConfig) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// ServerConfig contains all configuration parameters required for the relay to run.
type ServerConfig struct {
	// General Server Settings
	Environment string
	Port        int

	// Security Settings
	AllowedOrigins []string

	// Relay Limits
	MaxFrameBytes int64
	JoinRate      float64
	JoinBurst     int
	RoomCapacity  int
}

// IsDevelopment reports whether the relay runs in the development environment.
func (c *ServerConfig) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// LoadDotEnv loads variables from the given .env files (default ".env") without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}

	for _, name := range filenames {
		if err := godotenv.Load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// LoadClientConfig reads and parses the client configuration from environment variables.
func LoadClientConfig() (*ClientConfig, error) {
	cfg := &ClientConfig{}
	var err error

	// --- General Settings ---
	cfg.Environment = environment()

	cfg.SignalingURL = os.Getenv("SIGNALING_URL")
	if cfg.SignalingURL == "" {
		if cfg.IsDevelopment() {
			cfg.SignalingURL = DevSignalingURL
		} else {
			cfg.SignalingURL = ProdSignalingURL
		}
	}
	if !strings.HasPrefix(cfg.SignalingURL, "ws://") && !strings.HasPrefix(cfg.SignalingURL, "wss://") {
		return nil, fmt.Errorf("SIGNALING_URL must use the ws or wss scheme, got %q", cfg.SignalingURL)
	}

	mode := os.Getenv("CHAT_MODE")
	if mode == "" {
		mode = store.Broadcast.String()
	}
	if cfg.Mode, err = store.ParseMode(mode); err != nil {
		return nil, fmt.Errorf("invalid CHAT_MODE environment variable: %w", err)
	}

	// --- Connection Settings ---
	if cfg.ConnectTimeout, err = durationEnv("CONNECT_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.ReconnectBaseDelay, err = durationEnv("RECONNECT_BASE_DELAY", time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxReconnectAttempts, err = intEnv("MAX_RECONNECT_ATTEMPTS", 5); err != nil {
		return nil, err
	}
	if cfg.MaxReconnectAttempts < 1 {
		return nil, fmt.Errorf("MAX_RECONNECT_ATTEMPTS must be at least 1, got %d", cfg.MaxReconnectAttempts)
	}
	if cfg.TypingExpiry, err = durationEnv("TYPING_EXPIRY", 5*time.Second); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadServerConfig reads and parses the relay configuration from environment variables.
// It provides default values for each configuration item and performs necessary type conversions and validation.
func LoadServerConfig() (*ServerConfig, error) {
	cfg := &ServerConfig{}
	var err error

	// --- General Server Settings ---
	cfg.Environment = environment()

	if cfg.Port, err = intEnv("PORT", 8080); err != nil {
		return nil, err
	}
	if cfg.Port < 1024 || cfg.Port > 65535 {
		return nil, fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", cfg.Port, 1024, 65535)
	}

	// --- Security Settings ---
	cfg.AllowedOrigins = []string{}
	for _, origin := range strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
		}
	}
	if !cfg.IsDevelopment() && len(cfg.AllowedOrigins) == 0 {
		return nil, fmt.Errorf("ALLOWED_ORIGINS environment variable is required in %s environment", cfg.Environment)
	}

	// --- Relay Limits ---
	frameBytes, err := intEnv("MAX_FRAME_BYTES", 8<<20)
	if err != nil {
		return nil, err
	}
	if frameBytes < 1024 {
		return nil, fmt.Errorf("MAX_FRAME_BYTES must be at least 1024, got %d", frameBytes)
	}
	cfg.MaxFrameBytes = int64(frameBytes)

	rateStr := os.Getenv("WS_JOIN_RATE")
	if rateStr == "" {
		rateStr = "0.2"
	}
	if cfg.JoinRate, err = strconv.ParseFloat(rateStr, 64); err != nil {
		return nil, fmt.Errorf("invalid WS_JOIN_RATE environment variable: %w", err)
	}
	if cfg.JoinRate <= 0 {
		return nil, fmt.Errorf("WS_JOIN_RATE must be positive, got %v", cfg.JoinRate)
	}

	if cfg.JoinBurst, err = intEnv("WS_JOIN_BURST", 5); err != nil {
		return nil, err
	}
	if cfg.RoomCapacity, err = intEnv("ROOM_CAPACITY", 50); err != nil {
		return nil, err
	}

	return cfg, nil
}

func environment() string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = EnvDevelopment
	}
	return env
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %s", key, d)
	}
	return d, nil
}
