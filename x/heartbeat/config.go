package heartbeat

import (
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultInterval  = 5 * time.Second
	DefaultTimeout   = 2 * time.Second
	DefaultMaxMisses = 3
)

// Config configures a Monitor.
type Config struct {
	// Pinger is probed once per Interval.
	Pinger Pinger
	// Interval between probes.
	Interval time.Duration
	// Timeout for a single probe.
	Timeout time.Duration
	// MaxMisses is the number of consecutive failed probes after which the
	// companion is declared dead.
	MaxMisses int
	// OnDead is invoked once when the companion is declared dead.
	OnDead DeadCallback
	// Now returns the current time. Useful for deterministic tests. Defaults to time.Now if nil.
	Now    func() time.Time
	Logger zerolog.Logger
}

// DefaultConfig returns a config with the default cadence.
func DefaultConfig(logger zerolog.Logger) Config {
	return Config{
		Interval:  DefaultInterval,
		Timeout:   DefaultTimeout,
		MaxMisses: DefaultMaxMisses,
		Now:       time.Now,
		Logger:    logger.With().Str("component", "heartbeat").Logger(),
	}
}
