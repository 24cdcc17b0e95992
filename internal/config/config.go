// Package config holds the broker's startup configuration and the
// flag-based loader main binds to, grounded on models.go's Config
// struct and main.go's flag.Parse-then-fallback-default pattern — the
// teacher has no layered config file format, and neither do we.
package config

import (
	"flag"
	"time"
)

// Config is the broker's full set of startup knobs.
type Config struct {
	// TCPAddress is where the raw framed-TCP listener binds (spec.md
	// §2's primary transport). Empty disables the listener.
	TCPAddress string
	// WebSocketAddress is where the WebSocket listener binds. Empty
	// disables the listener.
	WebSocketAddress string

	// OutboundQueueCapacity bounds each endpoint's outbound FIFO before
	// backpressure kicks in (spec.md §4.1/§4.5).
	OutboundQueueCapacity int
	// MaxMessageSize bounds a single decoded frame's payload size.
	MaxMessageSize uint32

	// RequireTokenForRemote gates whether non-local connections must
	// present a token accepted by the token manager during handshake.
	RequireTokenForRemote bool
	// Tokens seeds the token manager at startup.
	Tokens []string

	// LogLevel controls the ambient logger's verbosity.
	LogLevel string
	// MetricsInterval controls how often throughput is logged.
	MetricsInterval time.Duration
}

// Default returns the broker's out-of-the-box configuration, used when
// no flags override it — mirroring main.go's "fall back to a hardcoded
// Config if nothing else applies" behavior.
func Default() *Config {
	return &Config{
		TCPAddress:            "127.0.0.1:8596",
		WebSocketAddress:      "127.0.0.1:8597",
		OutboundQueueCapacity: 256,
		MaxMessageSize:        16 * 1024 * 1024,
		RequireTokenForRemote: false,
		LogLevel:              "info",
		MetricsInterval:       5 * time.Second,
	}
}

// LoadFromFlags parses os.Args-style flags into a Config seeded with
// Default(), matching main.go's flag.Bool/flag.String overrides on top
// of a predefined baseline.
func LoadFromFlags(args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet("tdmd", flag.ContinueOnError)
	tcpAddr := fs.String("tcp", cfg.TCPAddress, "address to bind the raw framed-TCP listener (empty disables it)")
	wsAddr := fs.String("ws", cfg.WebSocketAddress, "address to bind the WebSocket listener (empty disables it)")
	queueCap := fs.Int("outbound-queue-capacity", cfg.OutboundQueueCapacity, "per-endpoint outbound queue capacity before backpressure")
	maxMsg := fs.Uint("max-message-size", uint(cfg.MaxMessageSize), "maximum accepted frame payload size in bytes")
	requireToken := fs.Bool("require-token", cfg.RequireTokenForRemote, "require a valid token from non-local connections")
	logLevel := fs.String("log-level", cfg.LogLevel, "error|warn|info|debug")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.TCPAddress = *tcpAddr
	cfg.WebSocketAddress = *wsAddr
	cfg.OutboundQueueCapacity = *queueCap
	cfg.MaxMessageSize = uint32(*maxMsg)
	cfg.RequireTokenForRemote = *requireToken
	cfg.LogLevel = logLevel2(*logLevel)
	return cfg, nil
}

func logLevel2(s string) string {
	switch s {
	case "error", "warn", "info", "debug":
		return s
	default:
		return "info"
	}
}
