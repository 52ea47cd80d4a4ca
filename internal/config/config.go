// Package config holds the tunables for the signaling channel and session
// lifecycle. Values come from built-in defaults, optionally overridden by
// VOICEWIRE_* environment variables, and finally by CLI flags in cmd/.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config stores every knob for both the client and server roles. Zero values
// are never valid; always start from Default().
type Config struct {
	// Server role.
	ListenAddr    string // address the signaling server binds to
	SignalingPath string // HTTP path upgraded to the signaling WebSocket

	// Client role.
	ServerURL string // WebSocket URL of the signaling server

	// Heartbeat.
	HeartbeatInterval time.Duration // time between outbound pings
	HeartbeatTimeout  time.Duration // max wait for a pong before the transport is declared dead

	// Reconnect backoff.
	ReconnectInitialDelay time.Duration
	ReconnectFactor       float64
	ReconnectMaxDelay     time.Duration
	ReconnectMaxAttempts  int

	// Negotiation.
	NegotiationDeadline  time.Duration // max time a session may stay in Negotiating
	MaxPendingCandidates int           // cap on buffered pre-description ICE candidates

	// ICE servers.
	STUNServers []string
	TURNServers []string
}

// Default returns the configuration used when nothing is overridden.
// The reconnect policy matches the observed production values:
// 1s initial delay, factor 1.5, 30s ceiling, 10 attempts.
func Default() Config {
	return Config{
		ListenAddr:    "127.0.0.1:8080",
		SignalingPath: "/ws/signaling",

		HeartbeatInterval: 20 * time.Second,
		HeartbeatTimeout:  8 * time.Second,

		ReconnectInitialDelay: 1 * time.Second,
		ReconnectFactor:       1.5,
		ReconnectMaxDelay:     30 * time.Second,
		ReconnectMaxAttempts:  10,

		NegotiationDeadline:  30 * time.Second,
		MaxPendingCandidates: 64,

		STUNServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
	}
}

// Load returns Default() with any VOICEWIRE_* environment overrides applied.
func Load() Config {
	cfg := Default()

	cfg.ListenAddr = getEnv("VOICEWIRE_LISTEN_ADDR", cfg.ListenAddr)
	cfg.SignalingPath = getEnv("VOICEWIRE_SIGNALING_PATH", cfg.SignalingPath)
	cfg.ServerURL = getEnv("VOICEWIRE_SERVER_URL", cfg.ServerURL)

	cfg.HeartbeatInterval = getEnvDuration("VOICEWIRE_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.HeartbeatTimeout = getEnvDuration("VOICEWIRE_HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout)

	cfg.ReconnectInitialDelay = getEnvDuration("VOICEWIRE_RECONNECT_INITIAL_DELAY", cfg.ReconnectInitialDelay)
	cfg.ReconnectFactor = getEnvFloat("VOICEWIRE_RECONNECT_FACTOR", cfg.ReconnectFactor)
	cfg.ReconnectMaxDelay = getEnvDuration("VOICEWIRE_RECONNECT_MAX_DELAY", cfg.ReconnectMaxDelay)
	cfg.ReconnectMaxAttempts = getEnvInt("VOICEWIRE_RECONNECT_MAX_ATTEMPTS", cfg.ReconnectMaxAttempts)

	cfg.NegotiationDeadline = getEnvDuration("VOICEWIRE_NEGOTIATION_DEADLINE", cfg.NegotiationDeadline)
	cfg.MaxPendingCandidates = getEnvInt("VOICEWIRE_MAX_PENDING_CANDIDATES", cfg.MaxPendingCandidates)

	if raw := os.Getenv("VOICEWIRE_STUN_SERVERS"); raw != "" {
		cfg.STUNServers = splitList(raw)
	}
	if raw := os.Getenv("VOICEWIRE_TURN_SERVERS"); raw != "" {
		cfg.TURNServers = splitList(raw)
	}

	return cfg
}

// ICEServers returns the combined STUN + TURN URL list.
func (c Config) ICEServers() []string {
	return append(append([]string{}, c.STUNServers...), c.TURNServers...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
