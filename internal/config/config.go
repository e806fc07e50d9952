// Package config loads client configuration from the environment, with
// development defaults matching the chat service's local setup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds everything the client needs to reach the service.
type Config struct {
	// APIBaseURL is the REST API root, e.g. "http://127.0.0.1:8000/api/".
	APIBaseURL string

	// RosterSocketURL is the global room roster channel. It carries no
	// token; the service leaves this channel unauthenticated.
	RosterSocketURL string

	// RoomSocketBase is the per-room chat channel root; the room id and
	// trailing slash are appended per connection.
	RoomSocketBase string

	// ReconnectDelay is the pause before redialing a dropped socket.
	ReconnectDelay time.Duration

	// SessionPath is where bearer tokens are persisted between runs.
	SessionPath string
}

// Load reads configuration from a .env file (if present) and the
// environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file, using environment variables directly")
	}

	cfg := Config{
		APIBaseURL:      getenv("CHAT_API_URL", "http://127.0.0.1:8000/api/"),
		RosterSocketURL: getenv("CHAT_ROSTER_WS_URL", "ws://127.0.0.1:8001/ws/rooms/"),
		RoomSocketBase:  getenv("CHAT_ROOM_WS_URL", "ws://127.0.0.1:8000/ws/chat/"),
		ReconnectDelay:  time.Second,
		SessionPath:     os.Getenv("CHAT_SESSION_PATH"),
	}

	if raw := os.Getenv("CHAT_RECONNECT_DELAY"); raw != "" {
		delay, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid CHAT_RECONNECT_DELAY %q: %w", raw, err)
		}
		cfg.ReconnectDelay = delay
	}

	if cfg.SessionPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return Config{}, fmt.Errorf("failed to resolve home directory: %w", err)
		}
		cfg.SessionPath = filepath.Join(home, ".config", "vintagechat", "session.json")
	}

	return cfg, nil
}

// RoomSocketURL derives the chat channel endpoint for one room.
func (c Config) RoomSocketURL(roomID int) string {
	return fmt.Sprintf("%s%d/", c.RoomSocketBase, roomID)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
