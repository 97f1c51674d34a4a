package rawecho

import (
	"io"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/samber/oops"
)

// Config contains configuration for the echo service.
// It follows the builder pattern for optional configuration and
// validation.
type Config struct {
	// Host is the listen host; empty means all interfaces.
	Host string `yaml:"host"`

	// Port is the listen port or service name.
	// Default: "amqp"
	Port string `yaml:"port"`

	// MaxConnections is the fixed number of connection slots. Further
	// connections are accepted and immediately closed.
	// Default: 5
	MaxConnections int `yaml:"max_connections"`

	// ReadBuffers is the number of read buffers issued to each
	// connection when it is confirmed.
	// Default: 4
	ReadBuffers int `yaml:"read_buffers"`

	// BufferSize is the fixed capacity of each raw buffer in bytes.
	// Default: 1024
	BufferSize int `yaml:"buffer_size"`

	// Backlog is the listen queue depth requested from the engine.
	// Default: 16
	Backlog int `yaml:"backlog"`

	// WakeInterval is the keepalive sweep period while connections are
	// active, and the default timer re-arm delay.
	// Default: 5 seconds
	WakeInterval time.Duration `yaml:"wake_interval"`

	// IdleTimeout is both the idle check interval and the idle window
	// after which the listener is closed.
	// Default: 20 seconds
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// Sink receives the payload of every buffer as it arrives.
	// Default: os.Stdout
	Sink io.Writer `yaml:"-"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Port:           "amqp",
		MaxConnections: 5,
		ReadBuffers:    4,
		BufferSize:     1024,
		Backlog:        16,
		WakeInterval:   5 * time.Second,
		IdleTimeout:    20 * time.Second,
		Sink:           os.Stdout,
	}
}

// WithAddress sets the listen host and port.
func (c *Config) WithAddress(host, port string) *Config {
	c.Host = host
	if port != "" {
		c.Port = port
	}
	return c
}

// WithMaxConnections sets the number of connection slots.
func (c *Config) WithMaxConnections(n int) *Config {
	c.MaxConnections = n
	return c
}

// WithReadBuffers sets the per-connection read buffer count.
func (c *Config) WithReadBuffers(n int) *Config {
	c.ReadBuffers = n
	return c
}

// WithBufferSize sets the fixed buffer capacity in bytes.
func (c *Config) WithBufferSize(n int) *Config {
	c.BufferSize = n
	return c
}

// WithWakeInterval sets the keepalive sweep period.
func (c *Config) WithWakeInterval(d time.Duration) *Config {
	c.WakeInterval = d
	return c
}

// WithIdleTimeout sets the idle window after which the listener closes.
func (c *Config) WithIdleTimeout(d time.Duration) *Config {
	c.IdleTimeout = d
	return c
}

// WithSink sets the destination for received payload.
func (c *Config) WithSink(w io.Writer) *Config {
	c.Sink = w
	return c
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.MaxConnections <= 0 {
		return oops.
			Code("INVALID_CONFIG").
			In("rawecho").
			With("max_connections", c.MaxConnections).
			Errorf("max connections must be positive")
	}

	if c.ReadBuffers <= 0 {
		return oops.
			Code("INVALID_CONFIG").
			In("rawecho").
			With("read_buffers", c.ReadBuffers).
			Errorf("read buffer count must be positive")
	}

	if c.BufferSize <= 0 {
		return oops.
			Code("INVALID_CONFIG").
			In("rawecho").
			With("buffer_size", c.BufferSize).
			Errorf("buffer size must be positive")
	}

	if c.WakeInterval <= 0 {
		return oops.
			Code("INVALID_CONFIG").
			In("rawecho").
			With("wake_interval", c.WakeInterval).
			Errorf("wake interval must be positive")
	}

	if c.IdleTimeout <= 0 {
		return oops.
			Code("INVALID_CONFIG").
			In("rawecho").
			With("idle_timeout", c.IdleTimeout).
			Errorf("idle timeout must be positive")
	}

	if c.Sink == nil {
		return oops.
			Code("INVALID_CONFIG").
			In("rawecho").
			Errorf("sink cannot be nil")
	}

	return nil
}

// LoadConfig reads a YAML config file on top of the defaults. Keys not
// present in the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, oops.
			Code("INVALID_CONFIG").
			In("rawecho").
			With("path", path).
			Wrapf(err, "failed to read config file")
	}

	cfg := NewConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, oops.
			Code("INVALID_CONFIG").
			In("rawecho").
			With("path", path).
			Wrapf(err, "failed to parse config file")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
