package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/universe-player/bridge/x/codec"
)

// Companion launch modes.
const (
	ModeProcess = "process" // child process over stdin/stdout
	ModeSocket  = "socket"  // child process connecting back over localhost TCP
	ModeStdio   = "stdio"   // this process's own stdin/stdout, when started by the companion
)

// EnvPrefix prefixes environment overrides, e.g. BRIDGE_LOG_LEVEL.
const EnvPrefix = "BRIDGE"

// Config holds the complete application configuration
type Config struct {
	Companion  CompanionConfig  `mapstructure:"companion"   yaml:"companion"`
	Transport  TransportConfig  `mapstructure:"transport"   yaml:"transport"`
	Bridge     BridgeConfig     `mapstructure:"bridge"      yaml:"bridge"`
	Heartbeat  HeartbeatConfig  `mapstructure:"heartbeat"   yaml:"heartbeat"`
	LogForward LogForwardConfig `mapstructure:"log_forward" yaml:"log_forward"`
	API        APIServerConfig  `mapstructure:"api"         yaml:"api"`
	Metrics    MetricsConfig    `mapstructure:"metrics"     yaml:"metrics"`
	Log        LogConfig        `mapstructure:"log"         yaml:"log"`
}

// CompanionConfig describes how to reach the companion
type CompanionConfig struct {
	Mode           string        `mapstructure:"mode"            yaml:"mode"`
	Path           string        `mapstructure:"path"            yaml:"path"`
	Args           []string      `mapstructure:"args"            yaml:"args"`
	Dir            string        `mapstructure:"dir"             yaml:"dir"`
	Env            []string      `mapstructure:"env"             yaml:"env"`
	StartupGrace   time.Duration `mapstructure:"startup_grace"   yaml:"startup_grace"`
	TerminateGrace time.Duration `mapstructure:"terminate_grace" yaml:"terminate_grace"`
}

// TransportConfig holds framing and socket settings
type TransportConfig struct {
	Codec          string        `mapstructure:"codec"            yaml:"codec"`
	ByteOrder      string        `mapstructure:"byte_order"       yaml:"byte_order"`
	MaxMessageSize int           `mapstructure:"max_message_size" yaml:"max_message_size"`
	SocketAddr     string        `mapstructure:"socket_addr"      yaml:"socket_addr"`
	AcceptTimeout  time.Duration `mapstructure:"accept_timeout"   yaml:"accept_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"     yaml:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"    yaml:"write_timeout"`
}

// BridgeConfig holds request multiplexing settings
type BridgeConfig struct {
	QueueSize         int           `mapstructure:"queue_size"          yaml:"queue_size"`
	MaxDecodeFailures int           `mapstructure:"max_decode_failures" yaml:"max_decode_failures"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"     yaml:"command_timeout"`
	SerialRequests    bool          `mapstructure:"serial_requests"     yaml:"serial_requests"`
}

// HeartbeatConfig holds liveness probe settings
type HeartbeatConfig struct {
	Enabled   bool          `mapstructure:"enabled"    yaml:"enabled"`
	Interval  time.Duration `mapstructure:"interval"   yaml:"interval"`
	Timeout   time.Duration `mapstructure:"timeout"    yaml:"timeout"`
	MaxMisses int           `mapstructure:"max_misses" yaml:"max_misses"`
}

// LogForwardConfig controls forwarding host logs to the companion
type LogForwardConfig struct {
	Enabled  bool          `mapstructure:"enabled"  yaml:"enabled"`
	Level    string        `mapstructure:"level"    yaml:"level"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"  yaml:"timeout"`
	Capacity int           `mapstructure:"capacity" yaml:"capacity"`
}

// APIServerConfig holds local HTTP control API configuration
type APIServerConfig struct {
	Enabled           bool          `mapstructure:"enabled"             yaml:"enabled"`
	ListenAddr        string        `mapstructure:"listen_addr"         yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"        yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"       yaml:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"        yaml:"idle_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"    yaml:"max_header_bytes"`
	CORSOrigins       []string      `mapstructure:"cors_origins"        yaml:"cors_origins"`
}

// MetricsConfig holds metrics configuration. Metrics are served on the API
// server when it is enabled, otherwise on ListenAddr.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"     yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	Path       string `mapstructure:"path"        yaml:"path"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"`
	Pretty bool   `mapstructure:"pretty" yaml:"pretty"`
}

// Load reads configPath, then environment overrides. A missing file leaves
// the defaults in place.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults mirrors Default for viper
func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("companion.mode", d.Companion.Mode)
	v.SetDefault("companion.path", d.Companion.Path)
	v.SetDefault("companion.args", d.Companion.Args)
	v.SetDefault("companion.dir", d.Companion.Dir)
	v.SetDefault("companion.env", d.Companion.Env)
	v.SetDefault("companion.startup_grace", d.Companion.StartupGrace)
	v.SetDefault("companion.terminate_grace", d.Companion.TerminateGrace)

	v.SetDefault("transport.codec", d.Transport.Codec)
	v.SetDefault("transport.byte_order", d.Transport.ByteOrder)
	v.SetDefault("transport.max_message_size", d.Transport.MaxMessageSize)
	v.SetDefault("transport.socket_addr", d.Transport.SocketAddr)
	v.SetDefault("transport.accept_timeout", d.Transport.AcceptTimeout)
	v.SetDefault("transport.read_timeout", d.Transport.ReadTimeout)
	v.SetDefault("transport.write_timeout", d.Transport.WriteTimeout)

	v.SetDefault("bridge.queue_size", d.Bridge.QueueSize)
	v.SetDefault("bridge.max_decode_failures", d.Bridge.MaxDecodeFailures)
	v.SetDefault("bridge.command_timeout", d.Bridge.CommandTimeout)
	v.SetDefault("bridge.serial_requests", d.Bridge.SerialRequests)

	v.SetDefault("heartbeat.enabled", d.Heartbeat.Enabled)
	v.SetDefault("heartbeat.interval", d.Heartbeat.Interval)
	v.SetDefault("heartbeat.timeout", d.Heartbeat.Timeout)
	v.SetDefault("heartbeat.max_misses", d.Heartbeat.MaxMisses)

	v.SetDefault("log_forward.enabled", d.LogForward.Enabled)
	v.SetDefault("log_forward.level", d.LogForward.Level)
	v.SetDefault("log_forward.interval", d.LogForward.Interval)
	v.SetDefault("log_forward.timeout", d.LogForward.Timeout)
	v.SetDefault("log_forward.capacity", d.LogForward.Capacity)

	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.listen_addr", d.API.ListenAddr)
	v.SetDefault("api.read_header_timeout", d.API.ReadHeaderTimeout)
	v.SetDefault("api.read_timeout", d.API.ReadTimeout)
	v.SetDefault("api.write_timeout", d.API.WriteTimeout)
	v.SetDefault("api.idle_timeout", d.API.IdleTimeout)
	v.SetDefault("api.max_header_bytes", d.API.MaxHeaderBytes)
	v.SetDefault("api.cors_origins", d.API.CORSOrigins)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen_addr", d.Metrics.ListenAddr)
	v.SetDefault("metrics.path", d.Metrics.Path)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateCompanion(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	if err := c.validateBridge(); err != nil {
		return err
	}
	if err := c.validateHeartbeat(); err != nil {
		return err
	}
	if err := c.validateLogForward(); err != nil {
		return err
	}
	if err := c.validateMetrics(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCompanion() error {
	switch c.Companion.Mode {
	case ModeProcess, ModeSocket:
		if strings.TrimSpace(c.Companion.Path) == "" {
			return fmt.Errorf("companion.path is required in %s mode", c.Companion.Mode)
		}
	case ModeStdio:
	default:
		return fmt.Errorf("companion.mode must be one of %s, %s, %s, got %q", ModeProcess, ModeSocket, ModeStdio, c.Companion.Mode)
	}
	if c.Companion.TerminateGrace < 0 || c.Companion.StartupGrace < 0 {
		return fmt.Errorf("companion grace periods must not be negative")
	}
	return nil
}

func (c *Config) validateTransport() error {
	if _, ok := codec.NewRegistry(c.Transport.MaxMessageSize).Get(c.Transport.Codec); !ok {
		return fmt.Errorf("transport.codec %q is not registered", c.Transport.Codec)
	}
	if _, err := codec.ParseByteOrder(c.Transport.ByteOrder); err != nil {
		return fmt.Errorf("transport.byte_order: %w", err)
	}
	if c.Transport.MaxMessageSize <= 0 {
		return fmt.Errorf("transport.max_message_size must be positive, got %d", c.Transport.MaxMessageSize)
	}
	if c.Companion.Mode == ModeSocket && c.Transport.AcceptTimeout <= 0 {
		return fmt.Errorf("transport.accept_timeout must be positive in socket mode")
	}
	return nil
}

func (c *Config) validateBridge() error {
	if c.Bridge.QueueSize <= 0 {
		return fmt.Errorf("bridge.queue_size must be positive, got %d", c.Bridge.QueueSize)
	}
	if c.Bridge.MaxDecodeFailures <= 0 {
		return fmt.Errorf("bridge.max_decode_failures must be positive, got %d", c.Bridge.MaxDecodeFailures)
	}
	if c.Bridge.CommandTimeout <= 0 {
		return fmt.Errorf("bridge.command_timeout must be positive")
	}
	return nil
}

func (c *Config) validateHeartbeat() error {
	if !c.Heartbeat.Enabled {
		return nil
	}
	if c.Heartbeat.Interval <= 0 || c.Heartbeat.Timeout <= 0 {
		return fmt.Errorf("heartbeat.interval and heartbeat.timeout must be positive")
	}
	if c.Heartbeat.Timeout > c.Heartbeat.Interval {
		return fmt.Errorf("heartbeat.timeout (%s) must not exceed heartbeat.interval (%s)", c.Heartbeat.Timeout, c.Heartbeat.Interval)
	}
	if c.Heartbeat.MaxMisses <= 0 {
		return fmt.Errorf("heartbeat.max_misses must be positive, got %d", c.Heartbeat.MaxMisses)
	}
	return nil
}

func (c *Config) validateLogForward() error {
	if !c.LogForward.Enabled {
		return nil
	}
	if _, err := zerolog.ParseLevel(c.LogForward.Level); err != nil {
		return fmt.Errorf("log_forward.level: %w", err)
	}
	if c.LogForward.Interval <= 0 || c.LogForward.Capacity <= 0 {
		return fmt.Errorf("log_forward.interval and log_forward.capacity must be positive")
	}
	return nil
}

func (c *Config) validateMetrics() error {
	if !c.Metrics.Enabled {
		return nil
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}
	if !c.API.Enabled && strings.TrimSpace(c.Metrics.ListenAddr) == "" {
		return fmt.Errorf("metrics.listen_addr is required when the API is disabled")
	}
	return nil
}

// Default returns default configuration
func Default() *Config {
	return &Config{
		Companion: CompanionConfig{
			Mode:           ModeProcess,
			Path:           "companion",
			Args:           []string{},
			Env:            []string{},
			StartupGrace:   500 * time.Millisecond,
			TerminateGrace: 2 * time.Second,
		},
		Transport: TransportConfig{
			Codec:          "json",
			ByteOrder:      "native",
			MaxMessageSize: codec.DefaultMaxMessageSize,
			SocketAddr:     "127.0.0.1:0",
			AcceptTimeout:  30 * time.Second,
			WriteTimeout:   20 * time.Second,
		},
		Bridge: BridgeConfig{
			QueueSize:         64,
			MaxDecodeFailures: 3,
			CommandTimeout:    10 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Enabled:   true,
			Interval:  5 * time.Second,
			Timeout:   2 * time.Second,
			MaxMisses: 3,
		},
		LogForward: LogForwardConfig{
			Enabled:  false,
			Level:    "info",
			Interval: time.Second,
			Timeout:  5 * time.Second,
			Capacity: 1000,
		},
		API: APIServerConfig{
			Enabled:           false,
			ListenAddr:        "127.0.0.1:8765",
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       120 * time.Second,
			MaxHeaderBytes:    1 << 16,
			CORSOrigins:       []string{},
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: "127.0.0.1:9465",
			Path:       "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Pretty: false,
		},
	}
}
