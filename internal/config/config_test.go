package config

import "testing"

func TestLoadFromFlagsOverridesDefaults(t *testing.T) {
	cfg, err := LoadFromFlags([]string{
		"-tcp", "0.0.0.0:9000",
		"-ws", "",
		"-outbound-queue-capacity", "16",
		"-require-token=true",
		"-log-level", "debug",
	})
	if err != nil {
		t.Fatalf("LoadFromFlags: %v", err)
	}
	if cfg.TCPAddress != "0.0.0.0:9000" {
		t.Fatalf("expected tcp override, got %q", cfg.TCPAddress)
	}
	if cfg.WebSocketAddress != "" {
		t.Fatalf("expected ws disabled, got %q", cfg.WebSocketAddress)
	}
	if cfg.OutboundQueueCapacity != 16 {
		t.Fatalf("expected queue capacity 16, got %d", cfg.OutboundQueueCapacity)
	}
	if !cfg.RequireTokenForRemote {
		t.Fatalf("expected require-token true")
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected log level debug, got %q", cfg.LogLevel)
	}
	// Anything not overridden keeps Default()'s value.
	if cfg.MaxMessageSize != Default().MaxMessageSize {
		t.Fatalf("expected default max message size untouched")
	}
}

func TestLoadFromFlagsRejectsUnknownLogLevel(t *testing.T) {
	cfg, err := LoadFromFlags([]string{"-log-level", "verbose"})
	if err != nil {
		t.Fatalf("LoadFromFlags: %v", err)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected unknown log level to fall back to info, got %q", cfg.LogLevel)
	}
}

func TestDefaultBindsBothListeners(t *testing.T) {
	cfg := Default()
	if cfg.TCPAddress == "" || cfg.WebSocketAddress == "" {
		t.Fatalf("expected both listener addresses to be set out of the box")
	}
}
