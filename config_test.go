package rawecho

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewConfig(t *testing.T) {
	config := NewConfig()

	if config.Host != "" {
		t.Errorf("Expected empty host, got %q", config.Host)
	}
	if config.Port != "amqp" {
		t.Errorf("Expected default port amqp, got %q", config.Port)
	}
	if config.MaxConnections != 5 {
		t.Errorf("Expected 5 connection slots, got %d", config.MaxConnections)
	}
	if config.ReadBuffers != 4 {
		t.Errorf("Expected 4 read buffers, got %d", config.ReadBuffers)
	}
	if config.BufferSize != 1024 {
		t.Errorf("Expected 1024 byte buffers, got %d", config.BufferSize)
	}
	if config.Backlog != 16 {
		t.Errorf("Expected backlog 16, got %d", config.Backlog)
	}
	if config.WakeInterval != 5*time.Second {
		t.Errorf("Expected 5s wake interval, got %v", config.WakeInterval)
	}
	if config.IdleTimeout != 20*time.Second {
		t.Errorf("Expected 20s idle timeout, got %v", config.IdleTimeout)
	}
	if config.Sink != os.Stdout {
		t.Errorf("Expected stdout sink by default")
	}
}

func TestConfigBuilders(t *testing.T) {
	var sink bytes.Buffer
	config := NewConfig().
		WithAddress("localhost", "7777").
		WithMaxConnections(2).
		WithReadBuffers(8).
		WithBufferSize(256).
		WithWakeInterval(time.Second).
		WithIdleTimeout(3 * time.Second).
		WithSink(&sink)

	if config.Host != "localhost" || config.Port != "7777" {
		t.Errorf("Expected localhost:7777, got %s:%s", config.Host, config.Port)
	}
	if config.MaxConnections != 2 {
		t.Errorf("Expected 2 connection slots, got %d", config.MaxConnections)
	}
	if config.ReadBuffers != 8 {
		t.Errorf("Expected 8 read buffers, got %d", config.ReadBuffers)
	}
	if config.BufferSize != 256 {
		t.Errorf("Expected 256 byte buffers, got %d", config.BufferSize)
	}
	if config.WakeInterval != time.Second {
		t.Errorf("Expected 1s wake interval, got %v", config.WakeInterval)
	}
	if config.IdleTimeout != 3*time.Second {
		t.Errorf("Expected 3s idle timeout, got %v", config.IdleTimeout)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestConfigWithAddressKeepsDefaultPort(t *testing.T) {
	config := NewConfig().WithAddress("example.com", "")
	if config.Port != "amqp" {
		t.Errorf("Expected empty port to keep the default, got %q", config.Port)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		shouldError bool
	}{
		{
			name:        "defaults are valid",
			mutate:      func(c *Config) {},
			shouldError: false,
		},
		{
			name:        "zero connections",
			mutate:      func(c *Config) { c.MaxConnections = 0 },
			shouldError: true,
		},
		{
			name:        "negative read buffers",
			mutate:      func(c *Config) { c.ReadBuffers = -1 },
			shouldError: true,
		},
		{
			name:        "zero buffer size",
			mutate:      func(c *Config) { c.BufferSize = 0 },
			shouldError: true,
		},
		{
			name:        "zero wake interval",
			mutate:      func(c *Config) { c.WakeInterval = 0 },
			shouldError: true,
		},
		{
			name:        "negative idle timeout",
			mutate:      func(c *Config) { c.IdleTimeout = -time.Second },
			shouldError: true,
		},
		{
			name:        "nil sink",
			mutate:      func(c *Config) { c.Sink = nil },
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := NewConfig()
			tt.mutate(config)

			err := config.Validate()
			if tt.shouldError && err == nil {
				t.Errorf("Expected validation error, got nil")
			}
			if !tt.shouldError && err != nil {
				t.Errorf("Expected valid config, got %v", err)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rawecho.yaml")
	data := []byte("host: 127.0.0.1\nport: \"9999\"\nmax_connections: 3\nwake_interval: 2s\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("Expected config to load, got %v", err)
	}

	if config.Host != "127.0.0.1" || config.Port != "9999" {
		t.Errorf("Expected 127.0.0.1:9999, got %s:%s", config.Host, config.Port)
	}
	if config.MaxConnections != 3 {
		t.Errorf("Expected 3 connection slots, got %d", config.MaxConnections)
	}
	if config.WakeInterval != 2*time.Second {
		t.Errorf("Expected 2s wake interval, got %v", config.WakeInterval)
	}

	// Keys absent from the file keep their defaults.
	if config.ReadBuffers != 4 {
		t.Errorf("Expected default read buffers, got %d", config.ReadBuffers)
	}
	if config.IdleTimeout != 20*time.Second {
		t.Errorf("Expected default idle timeout, got %v", config.IdleTimeout)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("Expected error for missing file")
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("max_connections: -2\n"), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Errorf("Expected validation error for bad config")
	}
}
