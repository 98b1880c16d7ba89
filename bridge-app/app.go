package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/universe-player/bridge/bridge-app/config"
	"github.com/universe-player/bridge/metrics"
	apisrv "github.com/universe-player/bridge/server/api"
	apimw "github.com/universe-player/bridge/server/api/middleware"
	"github.com/universe-player/bridge/x/bridge"
	"github.com/universe-player/bridge/x/codec"
	"github.com/universe-player/bridge/x/command"
	"github.com/universe-player/bridge/x/companion"
	"github.com/universe-player/bridge/x/heartbeat"
	"github.com/universe-player/bridge/x/logqueue"
	"github.com/universe-player/bridge/x/playback"
	"github.com/universe-player/bridge/x/transport/tcp"
)

const statsInterval = 30 * time.Second

// App wires the companion bridge and its host services together
type App struct {
	cfg *config.Config
	log zerolog.Logger

	bridge    *bridge.Bridge
	player    *playback.Client
	monitor   *heartbeat.Monitor
	forwarder *logqueue.Forwarder

	apiServer     *apisrv.Server
	metricsServer *apisrv.Server
}

// NewApp launches the companion and builds every enabled component. queue
// may be nil when log forwarding is disabled.
func NewApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, queue *logqueue.Queue) (*App, error) {
	return newApp(ctx, cfg, log, queue, launcher(cfg))
}

func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger, queue *logqueue.Queue, l companion.Launcher) (*App, error) {
	app := &App{
		cfg: cfg,
		log: log.With().Str("component", "app").Logger(),
	}

	b, err := newBridge(ctx, cfg, l, log)
	if err != nil {
		return nil, err
	}
	app.bridge = b

	app.initializePlayer(log)
	app.initializeHeartbeat(log)
	if cfg.LogForward.Enabled && queue != nil {
		app.forwarder = logqueue.NewForwarder(queue, b, cfg.LogForward.Interval, cfg.LogForward.Timeout, log)
	}
	app.initializeHTTP(log)

	return app, nil
}

// newBridge launches the companion through l and returns a bridge that has
// not started running yet.
func newBridge(ctx context.Context, cfg *config.Config, l companion.Launcher, log zerolog.Logger) (*bridge.Bridge, error) {
	cd, ok := codec.NewRegistry(cfg.Transport.MaxMessageSize).Get(cfg.Transport.Codec)
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", cfg.Transport.Codec)
	}
	order, err := codec.ParseByteOrder(cfg.Transport.ByteOrder)
	if err != nil {
		return nil, err
	}

	opts := []bridge.Option{
		bridge.WithLogger(log),
		bridge.WithCodec(cd),
		bridge.WithByteOrder(order),
		bridge.WithQueueSize(cfg.Bridge.QueueSize),
		bridge.WithMaxDecodeFailures(cfg.Bridge.MaxDecodeFailures),
		bridge.WithTimeout(cfg.Bridge.CommandTimeout),
		bridge.WithTerminateGrace(cfg.Companion.TerminateGrace),
	}
	if cfg.Bridge.SerialRequests {
		opts = append(opts, bridge.WithSerialRequests())
	}

	b, err := bridge.New(ctx, l, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to start companion: %w", err)
	}
	return b, nil
}

func launcher(cfg *config.Config) companion.Launcher {
	proc := companion.ProcessLauncher{
		Path:         cfg.Companion.Path,
		Args:         cfg.Companion.Args,
		Dir:          cfg.Companion.Dir,
		Env:          cfg.Companion.Env,
		StartupGrace: cfg.Companion.StartupGrace,
	}

	switch cfg.Companion.Mode {
	case config.ModeSocket:
		return &companion.SocketLauncher{
			Process: proc,
			Addr:    cfg.Transport.SocketAddr,
			Timeouts: tcp.TimeoutConfig{
				Accept: cfg.Transport.AcceptTimeout,
				Read:   cfg.Transport.ReadTimeout,
				Write:  cfg.Transport.WriteTimeout,
			},
		}
	case config.ModeStdio:
		return companion.Attach(os.Stdin, os.Stdout)
	default:
		return &proc
	}
}

func (a *App) initializePlayer(log zerolog.Logger) {
	a.player = playback.NewClient(a.bridge, a.cfg.Bridge.CommandTimeout, log)
	a.player.Watch(a.bridge.Router())
	a.player.Subscribe(func(info command.PlaybackInfo) {
		a.log.Debug().
			Str("status", string(info.Status)).
			Float64("time", info.Time).
			Float64("length", info.Length).
			Str("song", info.Song).
			Msg("Playback changed")
	})
}

func (a *App) initializeHeartbeat(log zerolog.Logger) {
	if !a.cfg.Heartbeat.Enabled {
		return
	}
	hb := heartbeat.DefaultConfig(log)
	hb.Pinger = a.bridge
	hb.Interval = a.cfg.Heartbeat.Interval
	hb.Timeout = a.cfg.Heartbeat.Timeout
	hb.MaxMisses = a.cfg.Heartbeat.MaxMisses
	hb.OnDead = func(_ context.Context, st heartbeat.Status) {
		a.log.Error().
			Int("missed", st.ConsecutiveMisses).
			Time("last_success", st.LastSuccess).
			Msg("Companion stopped answering heartbeats")
	}
	a.monitor = heartbeat.New(hb)
}

func (a *App) initializeHTTP(log zerolog.Logger) {
	if a.cfg.API.Enabled {
		s := newHTTPServer(apisrv.Config{
			ListenAddr:        a.cfg.API.ListenAddr,
			ReadHeaderTimeout: a.cfg.API.ReadHeaderTimeout,
			ReadTimeout:       a.cfg.API.ReadTimeout,
			WriteTimeout:      a.cfg.API.WriteTimeout,
			IdleTimeout:       a.cfg.API.IdleTimeout,
			MaxHeaderBytes:    a.cfg.API.MaxHeaderBytes,
			CORSOrigins:       a.cfg.API.CORSOrigins,
			CommandTimeout:    a.cfg.Bridge.CommandTimeout,
		}, log)
		s.EnableCORS()

		var hb apisrv.HeartbeatStatus
		if a.monitor != nil {
			hb = a.monitor.Status
		}
		apisrv.RegisterBridgeRoutes(s, a.bridge, hb)
		s.Router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
		a.apiServer = s
	}

	if !a.cfg.Metrics.Enabled {
		return
	}
	target := a.apiServer
	if target == nil {
		cfg := apisrv.DefaultConfig()
		cfg.ListenAddr = a.cfg.Metrics.ListenAddr
		target = newHTTPServer(cfg, log)
		a.metricsServer = target
	}
	apisrv.RegisterMetrics(target, a.cfg.Metrics.Path, metrics.GetRegistry())
}

func newHTTPServer(cfg apisrv.Config, log zerolog.Logger) *apisrv.Server {
	s := apisrv.NewServer(cfg, log)
	s.Use(apimw.RequestID())
	s.Use(apimw.Recover(log))
	s.Use(apimw.Logger(log))
	return s
}

// Run starts every component and blocks until the bridge stops, the
// companion is declared dead, a signal arrives, or ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	// Anything that ends the bridge ends the app.
	g.Go(func() error {
		err := a.bridge.Run(gctx)
		if err == nil && gctx.Err() == nil {
			return errBridgeDone
		}
		return err
	})

	select {
	case <-a.bridge.Ready():
	case <-a.bridge.Done():
		err := g.Wait()
		if errors.Is(err, errBridgeDone) {
			err = nil
		}
		return a.shutdown(err)
	}

	a.log.Info().
		Str("session_id", a.bridge.SessionID()).
		Int("pid", a.bridge.Stats().PID).
		Msg("Companion bridge started")

	if a.monitor != nil {
		g.Go(func() error {
			return a.monitor.Run(gctx)
		})
	}
	if a.forwarder != nil {
		g.Go(func() error {
			return a.forwarder.Run(gctx)
		})
	}
	if a.apiServer != nil {
		g.Go(func() error {
			return a.apiServer.Start(gctx)
		})
	}
	if a.metricsServer != nil {
		g.Go(func() error {
			return a.metricsServer.Start(gctx)
		})
	}
	g.Go(func() error {
		a.statsReporter(gctx)
		return nil
	})

	err := g.Wait()
	if errors.Is(err, errBridgeDone) {
		err = nil
	}
	return a.shutdown(err)
}

var errBridgeDone = errors.New("bridge stopped")

// shutdown stops the bridge and reports the first component failure.
func (a *App) shutdown(runErr error) error {
	a.log.Info().Msg("Initiating graceful shutdown")

	if err := a.bridge.Stop(); err != nil {
		a.log.Warn().Err(err).Msg("Companion did not exit cleanly")
	}

	if runErr != nil {
		a.log.Error().Err(runErr).Msg("Bridge app stopped with error")
		return runErr
	}
	a.log.Info().Msg("Graceful shutdown complete")
	return nil
}

func (a *App) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := a.bridge.Stats()
	status, code := "healthy", http.StatusOK
	if stats.State != bridge.StateRunning.String() {
		status, code = stats.State, http.StatusServiceUnavailable
	}
	if a.monitor != nil && a.monitor.Status().Dead {
		status, code = "companion_dead", http.StatusServiceUnavailable
	}
	apisrv.WriteJSON(w, code, map[string]any{
		"status":     status,
		"version":    Version,
		"git_commit": GitCommit,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// statsReporter periodically logs bridge statistics.
func (a *App) statsReporter(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := a.bridge.Stats()
			a.log.Info().
				Str("state", stats.State).
				Int("pending", stats.Pending).
				Uint64("sent", stats.Sent).
				Uint64("received", stats.Received).
				Uint64("orphans", stats.Orphans).
				Uint64("decode_errors", stats.DecodeErrors).
				Dur("since_last_seen", time.Since(stats.LastSeen)).
				Msg("Bridge statistics")
		}
	}
}
