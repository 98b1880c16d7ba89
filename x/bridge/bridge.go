// Package bridge multiplexes commands to the companion process over a single
// frame stream and hands results back through futures.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/universe-player/bridge/x/codec"
	"github.com/universe-player/bridge/x/command"
	"github.com/universe-player/bridge/x/companion"
	"github.com/universe-player/bridge/x/correlation"
	"github.com/universe-player/bridge/x/transport"
)

// exitDrainDelay is how long the reader may keep draining replies after
// the companion process exits.
const exitDrainDelay = 250 * time.Millisecond

// CompanionLogComponent tags host log events replayed from companion logs.
const CompanionLogComponent = "companion-log"

// outbound is one encoded frame waiting for the writer.
type outbound struct {
	id     string
	label  string
	body   []byte
	future *correlation.Future
}

// Stats is a snapshot of the bridge.
type Stats struct {
	SessionID    string                   `json:"session_id"`
	State        string                   `json:"state"`
	StartedAt    time.Time                `json:"started_at"`
	LastSeen     time.Time                `json:"last_seen"`
	PID          int                      `json:"pid,omitempty"`
	Codec        string                   `json:"codec"`
	Pending      int                      `json:"pending"`
	Sent         uint64                   `json:"sent"`
	Received     uint64                   `json:"received"`
	Orphans      uint64                   `json:"orphans"`
	Updates      uint64                   `json:"updates"`
	DecodeErrors uint64                   `json:"decode_errors"`
	Channel      transport.ConnectionInfo `json:"channel"`
}

// Bridge owns the companion, its channel, and the correlation table.
type Bridge struct {
	cfg       *Config
	log       zerolog.Logger
	sessionID string

	codec     codec.Codec
	companion companion.Companion
	channel   transport.Channel
	table     *correlation.Table
	router    UpdateRouter
	metrics   *Metrics

	mu           sync.RWMutex
	state        State
	loopsStarted bool
	startedAt    time.Time
	stopReason   error
	terminateErr error

	outbound   chan outbound
	readyCh    chan struct{}
	stopCh     chan struct{}
	doneCh     chan struct{}
	readerDone chan struct{}
	writerDone chan struct{}
	stopOnce   sync.Once
	runCtx     context.Context
	runCancel  context.CancelFunc

	lastSeen     atomic.Int64
	sent         atomic.Uint64
	received     atomic.Uint64
	orphans      atomic.Uint64
	updates      atomic.Uint64
	decodeErrors atomic.Uint64
}

// New launches or attaches to the companion and returns a bridge in the
// Starting state. Call Run to start exchanging messages. Launch failures are
// returned as *LaunchError.
func New(ctx context.Context, launcher companion.Launcher, opts ...Option) (*Bridge, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if launcher == nil {
		return nil, companion.NewLaunchError(companion.LaunchErrorConfig, "launcher is required")
	}
	if cfg.Codec == nil {
		return nil, companion.NewLaunchError(companion.LaunchErrorConfig, "codec is required")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.MaxDecodeFailures <= 0 {
		cfg.MaxDecodeFailures = DefaultMaxDecodeFailures
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	if cfg.IDGenerator == nil {
		cfg.IDGenerator = correlation.NewID
	}
	if cfg.Router == nil {
		cfg.Router = NewUpdateRouter()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics()
	}

	sessionID := uuid.NewString()
	log := cfg.Logger.With().Str("component", "bridge").Str("session_id", sessionID).Logger()

	b := &Bridge{
		cfg:        cfg,
		log:        log,
		sessionID:  sessionID,
		codec:      cfg.Codec,
		table:      correlation.NewTable(log, cfg.TableOptions...),
		router:     cfg.Router,
		metrics:    cfg.Metrics,
		state:      StateUnstarted,
		outbound:   make(chan outbound, cfg.QueueSize),
		readyCh:    make(chan struct{}),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		readerDone: make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	framer := codec.NewFramer(cfg.Codec.MaxMessageSize(), cfg.ByteOrder)
	comp, err := launcher.Launch(ctx, framer, cfg.Logger)
	if err != nil {
		var le *LaunchError
		if !errors.As(err, &le) {
			le = companion.NewLaunchError(companion.LaunchErrorStart, "failed to launch companion").WithCause(err)
		}
		log.Error().Err(le).Msg("Companion launch failed")
		return nil, le
	}

	b.companion = comp
	b.channel = comp.Channel()
	b.touch()
	b.setState(StateStarting)
	b.registerDefaultHandlers()

	log.Info().
		Int("pid", comp.PID()).
		Str("codec", cfg.Codec.Name()).
		Bool("serial", cfg.SerialRequests).
		Msg("Companion launched")

	return b, nil
}

// Run moves the bridge to Running and blocks until it stops. It returns the
// reason the bridge stopped, or nil after Stop or cancellation of ctx.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.state != StateStarting {
		state := b.state
		b.mu.Unlock()
		if state >= StateStopping {
			return ErrBridgeStopped
		}
		return fmt.Errorf("%w: cannot run from state %s", ErrNotRunning, state)
	}
	b.runCtx, b.runCancel = context.WithCancel(ctx)
	b.startedAt = time.Now()
	b.loopsStarted = true
	b.transitionLocked(StateRunning)

	go b.loop("reader", b.readerDone, b.readLoop)
	go b.loop("writer", b.writerDone, b.writeLoop)
	b.mu.Unlock()

	close(b.readyCh)
	b.log.Info().Msg("Bridge running")

	go b.watchCompanion()

	select {
	case <-ctx.Done():
		b.shutdown(nil)
	case <-b.doneCh:
	}
	<-b.doneCh

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopReason
}

// Ready is closed once the bridge is Running.
func (b *Bridge) Ready() <-chan struct{} {
	return b.readyCh
}

// Done is closed once the bridge is Stopped.
func (b *Bridge) Done() <-chan struct{} {
	return b.doneCh
}

// Stop shuts the bridge down: it closes the channel, fails every pending
// request with ErrBridgeStopped, waits for the reader and writer, and
// terminates the companion. Only the first call acts; later calls wait for
// the same shutdown.
func (b *Bridge) Stop() error {
	b.shutdown(nil)
	<-b.doneCh

	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.terminateErr
}

// Send submits cmd and returns its future immediately. Failures before the
// command reaches the writer are reported through an already-failed future.
func (b *Bridge) Send(cmd command.Command) *correlation.Future {
	return b.SendWithID("", cmd)
}

// SendWithID is Send with a caller-chosen correlation id.
func (b *Bridge) SendWithID(id string, cmd command.Command) *correlation.Future {
	if cmd == nil {
		b.metrics.RecordRequest("nil", "rejected")
		return correlation.Failed(id, fmt.Errorf("%w: nil command", ErrUnknownCommand))
	}

	payload, err := command.Encode(cmd)
	if err != nil {
		b.metrics.RecordRequest(cmd.Name(), "rejected")
		return correlation.Failed(id, err)
	}
	return b.submit(codec.KindCommand, id, cmd.Name(), payload)
}

// Call sends cmd and waits up to timeout for its result. The error is
// non-nil when the wait fails or the result is a failure.
func (b *Bridge) Call(ctx context.Context, cmd command.Command, timeout time.Duration) (command.Result, error) {
	return b.await(ctx, b.Send(cmd), timeout)
}

// Ping sends the bare ping command; a live companion answers "pong".
func (b *Bridge) Ping(ctx context.Context, timeout time.Duration) (command.Result, error) {
	return b.Call(ctx, command.Ping{}, timeout)
}

// PingNumber asks the companion to echo n.
func (b *Bridge) PingNumber(ctx context.Context, n int, timeout time.Duration) (command.Result, error) {
	return b.Call(ctx, command.NumberedPing{Index: n}, timeout)
}

// QuerySongData asks the companion to resolve metadata for url.
func (b *Bridge) QuerySongData(ctx context.Context, url string, timeout time.Duration) (command.Result, error) {
	return b.Call(ctx, command.SongDataQuery{URL: url}, timeout)
}

// Router returns the update router for registering handlers.
func (b *Bridge) Router() UpdateRouter {
	return b.router
}

// State returns the lifecycle state.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// LastSeen returns when the companion was last heard from.
func (b *Bridge) LastSeen() time.Time {
	return time.Unix(0, b.lastSeen.Load())
}

// SessionID identifies this bridge instance in logs.
func (b *Bridge) SessionID() string {
	return b.sessionID
}

// Pending lists outstanding requests, oldest first.
func (b *Bridge) Pending() []correlation.PendingInfo {
	return b.table.Pending()
}

// Stats returns current statistics
func (b *Bridge) Stats() Stats {
	b.mu.RLock()
	state, startedAt := b.state, b.startedAt
	b.mu.RUnlock()

	s := Stats{
		SessionID:    b.sessionID,
		State:        state.String(),
		StartedAt:    startedAt,
		LastSeen:     b.LastSeen(),
		Codec:        b.codec.Name(),
		Pending:      b.table.Len(),
		Sent:         b.sent.Load(),
		Received:     b.received.Load(),
		Orphans:      b.orphans.Load(),
		Updates:      b.updates.Load(),
		DecodeErrors: b.decodeErrors.Load(),
	}
	if b.companion != nil {
		s.PID = b.companion.PID()
	}
	if b.channel != nil {
		s.Channel = b.channel.Info()
	}
	return s
}

func (b *Bridge) await(ctx context.Context, fut *correlation.Future, timeout time.Duration) (command.Result, error) {
	if timeout <= 0 {
		timeout = b.cfg.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := fut.Await(ctx)
	if err != nil {
		return res, fmt.Errorf("request %s: %w", fut.ID(), err)
	}
	return res, res.Err()
}

// submit registers a request and queues its frame. The read lock is held
// across the state check, registration and enqueue so shutdown cannot slip
// in between and leave an entry behind.
func (b *Bridge) submit(kind codec.Kind, id, label string, payload json.RawMessage) *correlation.Future {
	if id == "" {
		id = b.cfg.IDGenerator()
	}

	body, err := b.codec.Encode(&codec.Envelope{Kind: kind, CorrelationID: id, Payload: payload})
	if err != nil {
		b.metrics.RecordRequest(label, "rejected")
		return correlation.Failed(id, fmt.Errorf("failed to encode %s: %w", label, err))
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.state != StateRunning {
		b.metrics.RecordRequest(label, "not_running")
		return correlation.Failed(id, fmt.Errorf("%w: state %s", ErrNotRunning, b.state))
	}

	fut, err := b.table.RegisterLabeled(id, label)
	if err != nil {
		b.metrics.RecordRequest(label, "rejected")
		return correlation.Failed(id, err)
	}

	select {
	case b.outbound <- outbound{id: id, label: label, body: body, future: fut}:
		b.metrics.QueueDepth.Set(float64(len(b.outbound)))
	default:
		b.metrics.RecordRequest(label, "backpressure")
		b.table.Fail(id, ErrBackpressure)
	}
	return fut
}

// enqueueReply queues a frame nobody waits for, such as a pong.
func (b *Bridge) enqueueReply(env *codec.Envelope) {
	body, err := b.codec.Encode(env)
	if err != nil {
		b.log.Warn().Err(err).Str("kind", string(env.Kind)).Msg("Failed to encode reply")
		return
	}
	select {
	case b.outbound <- outbound{id: env.CorrelationID, label: string(env.Kind), body: body}:
	default:
		b.log.Warn().Str("kind", string(env.Kind)).Msg("Outbound queue full, dropping reply")
	}
}

// loop runs fn and stops the bridge with its result. done is closed before
// shutdown so shutdown can wait on it from this goroutine.
func (b *Bridge) loop(name string, done chan struct{}, fn func() error) {
	err := fn()
	close(done)
	if err != nil {
		b.log.Warn().Err(err).Str("loop", name).Msg("Bridge loop exited")
	}
	b.shutdown(err)
}

func (b *Bridge) readLoop() error {
	failures := 0
	for {
		body, err := b.channel.ReadMessage()
		if err != nil {
			if b.stopping() {
				return nil
			}
			if errors.Is(err, codec.ErrMalformedMessage) {
				if b.decodeFailed(err, &failures) {
					return fmt.Errorf("%w: %d consecutive undecodable frames", ErrProtocolCorruption, failures)
				}
				continue
			}
			return fmt.Errorf("%w: %v", ErrCompanionDisconnected, err)
		}

		env, err := b.codec.Decode(body)
		if err != nil {
			if b.decodeFailed(err, &failures) {
				return fmt.Errorf("%w: %d consecutive undecodable frames", ErrProtocolCorruption, failures)
			}
			continue
		}

		failures = 0
		b.touch()
		b.dispatch(env)
	}
}

// decodeFailed records an undecodable frame and reports whether the limit
// of consecutive failures has been reached.
func (b *Bridge) decodeFailed(err error, failures *int) bool {
	*failures++
	b.decodeErrors.Add(1)
	b.metrics.DecodeErrorsTotal.Inc()
	b.log.Warn().Err(err).Int("consecutive", *failures).Msg("Dropping undecodable frame")
	return *failures >= b.cfg.MaxDecodeFailures
}

func (b *Bridge) dispatch(env *codec.Envelope) {
	b.received.Add(1)

	switch env.Kind {
	case codec.KindResult:
		res, err := command.DecodeResult(env.Payload)
		if err != nil {
			res = command.Failure(fmt.Errorf("%w: %v", ErrMalformedMessage, err))
		}
		if !b.table.Resolve(env.CorrelationID, res) {
			b.orphans.Add(1)
		}

	case codec.KindPong:
		// Liveness only; lastSeen is already refreshed.

	case codec.KindPing:
		b.enqueueReply(&codec.Envelope{Kind: codec.KindPong})

	case codec.KindUpdate:
		b.updates.Add(1)
		update, err := command.DecodeUpdate(env.Payload)
		if err != nil {
			b.log.Warn().Err(err).Msg("Dropping malformed update")
			return
		}
		b.metrics.UpdatesTotal.WithLabelValues(update.Type).Inc()
		if err := b.router.Route(b.runCtx, update); err != nil {
			b.log.Debug().Err(err).Str("type", update.Type).Msg("Update not handled")
		}

	case codec.KindCommand:
		b.log.Warn().Str("correlation_id", env.CorrelationID).Msg("Companion sent a command, rejecting")
		reply, err := command.EncodeResult(command.Failure(fmt.Errorf("%w: host accepts no commands", ErrUnknownCommand)))
		if err == nil {
			b.enqueueReply(&codec.Envelope{Kind: codec.KindResult, CorrelationID: env.CorrelationID, Payload: reply})
		}
	}
}

func (b *Bridge) writeLoop() error {
	for {
		select {
		case <-b.stopCh:
			return nil
		case out := <-b.outbound:
			b.metrics.QueueDepth.Set(float64(len(b.outbound)))

			if out.future != nil {
				if _, done := out.future.Result(); done {
					continue
				}
			}

			if err := b.channel.WriteMessage(out.body); err != nil {
				if b.stopping() {
					return nil
				}
				if errors.Is(err, transport.ErrStreamClosed) {
					if out.future != nil {
						b.table.Fail(out.id, ErrCompanionDisconnected)
					}
					return fmt.Errorf("%w: %v", ErrCompanionDisconnected, err)
				}
				b.metrics.RecordRequest(out.label, "write_failed")
				if out.future != nil {
					b.table.Fail(out.id, err)
				}
				continue
			}

			b.sent.Add(1)
			if out.future == nil {
				continue
			}
			b.metrics.RecordRequest(out.label, "sent")

			if b.cfg.SerialRequests {
				b.awaitSerial(out)
			}
		}
	}
}

// awaitSerial holds the writer until the in-flight request resolves or its
// default timeout passes.
func (b *Bridge) awaitSerial(out outbound) {
	timer := time.NewTimer(b.cfg.DefaultTimeout)
	defer timer.Stop()

	select {
	case <-out.future.Done():
	case <-b.stopCh:
	case <-timer.C:
		b.log.Debug().Str("correlation_id", out.id).Msg("Serial request unanswered, releasing writer")
	}
}

// watchCompanion stops the bridge when the companion process exits, after
// giving the reader a moment to drain replies already written.
func (b *Bridge) watchCompanion() {
	select {
	case <-b.companion.Done():
	case <-b.stopCh:
		return
	}

	timer := time.NewTimer(exitDrainDelay)
	defer timer.Stop()
	select {
	case <-b.stopCh:
		return
	case <-timer.C:
	}

	reason := ErrCompanionDisconnected
	if exitErr := b.companion.ExitErr(); exitErr != nil {
		reason = fmt.Errorf("%w: companion exited: %v", ErrCompanionDisconnected, exitErr)
	}
	b.shutdown(reason)
}

// shutdown performs the Stopping -> Stopped sequence once. A nil reason is
// an orderly stop.
func (b *Bridge) shutdown(reason error) {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		loops := b.loopsStarted
		b.stopReason = reason
		b.transitionLocked(StateStopping)
		b.mu.Unlock()

		close(b.stopCh)
		if b.runCancel != nil {
			b.runCancel()
		}

		label := "stopped"
		if reason != nil {
			label = stopLabel(reason)
			b.log.Warn().Err(reason).Msg("Bridge stopping")
		} else {
			b.log.Info().Msg("Bridge stopping")
		}
		b.metrics.StopsTotal.WithLabelValues(label).Inc()

		if b.channel != nil {
			_ = b.channel.Close()
		}

		failReason := reason
		if failReason == nil {
			failReason = ErrBridgeStopped
		}
		failed := b.table.FailAll(failReason)

		if loops {
			<-b.readerDone
			<-b.writerDone
		}
		// Requests registered before Stopping may still be queued.
		failed += b.table.FailAll(failReason)

		var terminateErr error
		if b.companion != nil {
			terminateErr = b.companion.Terminate(b.cfg.TerminateGrace)
		}

		b.mu.Lock()
		b.terminateErr = terminateErr
		b.transitionLocked(StateStopped)
		b.mu.Unlock()

		b.log.Info().
			Int("failed_pending", failed).
			Uint64("sent", b.sent.Load()).
			Uint64("received", b.received.Load()).
			Uint64("orphans", b.orphans.Load()).
			Msg("Bridge stopped")

		close(b.doneCh)
	})
}

func stopLabel(reason error) string {
	switch {
	case errors.Is(reason, ErrProtocolCorruption):
		return "protocol_corruption"
	case errors.Is(reason, ErrCompanionDisconnected):
		return "disconnected"
	default:
		return "error"
	}
}

func (b *Bridge) stopping() bool {
	select {
	case <-b.stopCh:
		return true
	default:
		return false
	}
}

func (b *Bridge) touch() {
	b.lastSeen.Store(time.Now().UnixNano())
}

func (b *Bridge) setState(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(s)
}

// transitionLocked moves to s when the lifecycle allows it. Starting may go
// straight to Stopping when the bridge is stopped before Run.
func (b *Bridge) transitionLocked(s State) {
	if !canTransition(b.state, s) {
		return
	}
	b.state = s
	b.metrics.State.Set(float64(s))
}

func (b *Bridge) registerDefaultHandlers() {
	companionLog := b.cfg.Logger.With().Str("component", CompanionLogComponent).Logger()

	b.router.Register(command.UpdateLog, func(_ context.Context, u command.Update) error {
		entry, err := u.Log()
		if err != nil {
			return err
		}
		level, err := zerolog.ParseLevel(entry.Level)
		if err != nil || level == zerolog.NoLevel {
			level = zerolog.InfoLevel
		}
		companionLog.WithLevel(level).Str("logger", entry.Logger).Msg(entry.Text())
		return nil
	})
}
