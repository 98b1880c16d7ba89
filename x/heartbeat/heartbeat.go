// Package heartbeat probes the companion periodically and reports it dead
// after consecutive failed probes.
package heartbeat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/universe-player/bridge/x/command"
)

// ErrDead is the reason passed to OnDead.
var ErrDead = errors.New("companion missed heartbeats")

// Pinger sends one liveness probe.
type Pinger interface {
	Ping(ctx context.Context, timeout time.Duration) (command.Result, error)
}

// PingerFunc adapts a function to Pinger.
type PingerFunc func(ctx context.Context, timeout time.Duration) (command.Result, error)

// Ping calls f.
func (f PingerFunc) Ping(ctx context.Context, timeout time.Duration) (command.Result, error) {
	return f(ctx, timeout)
}

// DeadCallback is invoked when the companion is declared dead.
type DeadCallback func(ctx context.Context, status Status)

// Status is a snapshot of the monitor.
type Status struct {
	LastSuccess       time.Time     `json:"last_success"`
	LastRTT           time.Duration `json:"last_rtt"`
	ConsecutiveMisses int           `json:"consecutive_misses"`
	Probes            uint64        `json:"probes"`
	Dead              bool          `json:"dead"`
	LastError         string        `json:"last_error,omitempty"`
}

// Monitor pings on a fixed interval.
type Monitor struct {
	cfg Config

	mu      sync.Mutex
	status  Status
	cancel  context.CancelFunc
	started bool
	done    chan struct{}
}

// New constructs a Monitor. Zero fields in cfg take their defaults.
func New(cfg Config) *Monitor {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxMisses <= 0 {
		cfg.MaxMisses = DefaultMaxMisses
	}
	return &Monitor{cfg: cfg}
}

// Start begins probing until the context is canceled, Stop is called, or the
// companion is declared dead.
func (m *Monitor) Start(ctx context.Context) error {
	if m.cfg.Pinger == nil {
		return fmt.Errorf("heartbeat: pinger is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.started = true
	m.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		m.run(runCtx)
	}(m.done)
	return nil
}

// Run probes until ctx ends or the companion is declared dead. It returns
// ErrDead in the latter case.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	done := m.done
	m.mu.Unlock()

	<-done
	if m.Status().Dead {
		return ErrDead
	}
	return nil
}

// Stop halts the monitor and waits for the probe loop to exit.
func (m *Monitor) Stop(context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	cancel, done := m.cancel, m.done
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-done
	return nil
}

// Status returns a snapshot of the probe history.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Monitor) run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if dead := m.probe(ctx); dead {
				return
			}
		}
	}
}

// probe sends one ping and reports whether the companion is now dead.
func (m *Monitor) probe(ctx context.Context) bool {
	start := m.cfg.Now()
	res, err := m.cfg.Pinger.Ping(ctx, m.cfg.Timeout)
	if ctx.Err() != nil {
		return false
	}
	if err == nil && !res.Success {
		err = res.Err()
	}

	m.mu.Lock()
	m.status.Probes++
	if err == nil {
		m.status.LastSuccess = m.cfg.Now()
		m.status.LastRTT = m.status.LastSuccess.Sub(start)
		m.status.ConsecutiveMisses = 0
		m.status.LastError = ""
		m.mu.Unlock()
		return false
	}

	m.status.ConsecutiveMisses++
	m.status.LastError = err.Error()
	misses := m.status.ConsecutiveMisses
	dead := misses >= m.cfg.MaxMisses
	if dead {
		m.status.Dead = true
	}
	status := m.status
	m.mu.Unlock()

	m.cfg.Logger.Warn().Err(err).Int("misses", misses).Int("max_misses", m.cfg.MaxMisses).Msg("Heartbeat missed")

	if dead {
		m.cfg.Logger.Error().Time("last_success", status.LastSuccess).Msg("Companion declared dead")
		if m.cfg.OnDead != nil {
			m.cfg.OnDead(ctx, status)
		}
	}
	return dead
}
