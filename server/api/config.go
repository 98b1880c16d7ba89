package api

import "time"

// Config defines runtime parameters for the local control API.
type Config struct {
	Enabled           bool          `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr        string        `mapstructure:"listen_addr" yaml:"listen_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes" yaml:"max_header_bytes"`
	CORSOrigins       []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout" yaml:"command_timeout"`
}

// DefaultConfig binds to loopback only; the API drives a local process.
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		ListenAddr:        "127.0.0.1:8765",
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 16,
		CommandTimeout:    10 * time.Second,
	}
}
