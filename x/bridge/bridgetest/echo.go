// Package bridgetest provides an in-memory companion for exercising the
// bridge without a browser.
package bridgetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/universe-player/bridge/x/codec"
	"github.com/universe-player/bridge/x/command"
	"github.com/universe-player/bridge/x/companion"
)

// DefaultSongLength is the length in seconds reported for every loaded song.
const DefaultSongLength = 180.0

// Option configures an EchoCompanion.
type Option func(*EchoCompanion)

// WithReplyDelay delays the reply to each command by delay(cmd). Delayed
// replies are written from their own goroutine, so they may overtake each
// other.
func WithReplyDelay(delay func(cmd command.Command) time.Duration) Option {
	return func(e *EchoCompanion) { e.delay = delay }
}

// WithLegacyReplies answers with the {returnValue, confirmation} shape.
func WithLegacyReplies() Option {
	return func(e *EchoCompanion) { e.legacy = true }
}

// WithCodec sets the envelope codec; JSON by default.
func WithCodec(c codec.Codec) Option {
	return func(e *EchoCompanion) { e.codec = c }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *EchoCompanion) { e.log = log }
}

// EchoCompanion answers the command set the way the browser companion does,
// keeping a small player state machine for the playback commands.
type EchoCompanion struct {
	codec  codec.Codec
	log    zerolog.Logger
	delay  func(cmd command.Command) time.Duration
	legacy bool

	writeMu sync.Mutex
	w       io.Writer
	framer  *codec.Framer

	mu       sync.Mutex
	song     string
	status   command.PlaybackStatus
	position float64
	logs     []command.LogRecord
	commands []string
	quit     bool

	pending sync.WaitGroup
}

// NewEchoCompanion creates an idle companion.
func NewEchoCompanion(opts ...Option) *EchoCompanion {
	e := &EchoCompanion{
		codec:  codec.NewJSONCodec(codec.DefaultMaxMessageSize),
		log:    zerolog.Nop(),
		status: command.StatusEmpty,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Serve reads frames from r and writes replies to w until r is exhausted.
func (e *EchoCompanion) Serve(r io.Reader, w io.Writer, framer *codec.Framer) error {
	e.writeMu.Lock()
	e.w, e.framer = w, framer
	e.writeMu.Unlock()

	defer e.pending.Wait()

	for {
		body, err := framer.ReadFrame(r)
		if err != nil {
			if errors.Is(err, codec.ErrMalformedMessage) {
				continue
			}
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			return err
		}

		env, err := e.codec.Decode(body)
		if err != nil {
			e.log.Warn().Err(err).Msg("Echo companion dropped frame")
			continue
		}
		e.handle(env)
	}
}

// PushUpdate sends an unsolicited update of the given type.
func (e *EchoCompanion) PushUpdate(typ string, data any) error {
	payload, err := command.EncodeUpdate(typ, data)
	if err != nil {
		return err
	}
	return e.write(&codec.Envelope{Kind: codec.KindUpdate, Payload: payload})
}

// SendPing sends a liveness ping the host must answer with a pong.
func (e *EchoCompanion) SendPing() error {
	return e.write(&codec.Envelope{Kind: codec.KindPing})
}

// ForwardedLogs returns every record received through ForwardLogs.
func (e *EchoCompanion) ForwardedLogs() []command.LogRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]command.LogRecord, len(e.logs))
	copy(out, e.logs)
	return out
}

// Commands returns the names of the commands received, in arrival order.
func (e *EchoCompanion) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.commands))
	copy(out, e.commands)
	return out
}

// QuitReceived reports whether a Quit command arrived.
func (e *EchoCompanion) QuitReceived() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.quit
}

// Playback returns the current player state.
func (e *EchoCompanion) Playback() command.PlaybackInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	info := command.PlaybackInfo{Status: e.status, Time: e.position, Song: e.song}
	if e.song != "" {
		info.Length = DefaultSongLength
	}
	return info
}

func (e *EchoCompanion) handle(env *codec.Envelope) {
	switch env.Kind {
	case codec.KindPing:
		_ = e.write(&codec.Envelope{Kind: codec.KindPong})
		return
	case codec.KindCommand:
	default:
		return
	}

	cmd, err := command.Decode(env.Payload)
	var res command.Result
	if err != nil {
		res = command.Failure(err)
	} else {
		res = e.execute(cmd)
	}

	var delay time.Duration
	if e.delay != nil && cmd != nil {
		delay = e.delay(cmd)
	}
	if delay <= 0 {
		e.reply(env.CorrelationID, res)
		return
	}

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()
		time.Sleep(delay)
		e.reply(env.CorrelationID, res)
	}()
}

func (e *EchoCompanion) execute(cmd command.Command) command.Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.commands = append(e.commands, cmd.Name())

	switch c := cmd.(type) {
	case command.Ping:
		return command.Success(command.MustValue("pong"))

	case command.NumberedPing:
		// The browser side only knows doubles.
		return command.Success(command.RawValue(json.RawMessage(fmt.Sprintf("%.1f", float64(c.Index)))))

	case command.SongDataQuery:
		if c.URL == "" {
			return command.Failure(errors.New("missing url"))
		}
		return command.Success(command.MustValue(command.SongMetadata{
			URL:      c.URL,
			Title:    "Title of " + c.URL,
			Artist:   "Echo",
			Duration: DefaultSongLength,
		}))

	case command.LoadSong:
		if c.URL == "" {
			return command.Failure(errors.New("missing song"))
		}
		e.song, e.status, e.position = c.URL, command.StatusPaused, 0
		return command.Success(command.Value{})

	case command.SetPlayback:
		if e.song == "" {
			return command.Failure(errors.New("no song loaded"))
		}
		if c.Status == command.PlaybackPlay {
			e.status = command.StatusPlaying
		} else {
			e.status = command.StatusPaused
		}
		return command.Success(command.Value{})

	case command.Seek:
		if e.song == "" {
			return command.Failure(errors.New("no song loaded"))
		}
		pos := c.Time
		if c.Relative {
			pos += e.position
		}
		e.position = math.Max(0, math.Min(pos, DefaultSongLength))
		if e.position >= DefaultSongLength {
			e.status = command.StatusFinished
		}
		return command.Success(command.Value{})

	case command.QueryStatus:
		return command.Success(command.MustValue(e.status))

	case command.QueryTime:
		return command.Success(command.MustValue(e.position))

	case command.QueryLength:
		if e.song == "" {
			return command.Success(command.MustValue(0.0))
		}
		return command.Success(command.MustValue(DefaultSongLength))

	case command.QueryPaused:
		return command.Success(command.MustValue(e.status != command.StatusPlaying))

	case command.Quit:
		e.quit = true
		e.song, e.status, e.position = "", command.StatusStopped, 0
		return command.Success(command.Value{})

	case command.ForwardLogs:
		e.logs = append(e.logs, c.Records...)
		return command.Success(command.MustValue(len(c.Records)))

	case command.ErrorProbe:
		if c.Forward {
			return command.Failure(errors.New("test error raised in tab"))
		}
		return command.Failure(errors.New("test error raised in background"))

	default:
		return command.Failure(fmt.Errorf("unsupported command %q", cmd.Name()))
	}
}

func (e *EchoCompanion) reply(id string, res command.Result) {
	var (
		payload json.RawMessage
		err     error
	)
	if e.legacy {
		payload, err = legacyResult(res)
	} else {
		payload, err = command.EncodeResult(res)
	}
	if err != nil {
		e.log.Warn().Err(err).Msg("Echo companion could not encode result")
		return
	}
	if err := e.write(&codec.Envelope{Kind: codec.KindResult, CorrelationID: id, Payload: payload}); err != nil {
		e.log.Debug().Err(err).Msg("Echo companion could not write result")
	}
}

func legacyResult(res command.Result) (json.RawMessage, error) {
	type confirmation struct {
		Message   string `json:"message"`
		ErrorCode any    `json:"errorCode"`
	}
	w := struct {
		ReturnValue  json.RawMessage `json:"returnValue"`
		Confirmation confirmation    `json:"confirmation"`
	}{ReturnValue: res.Value.Raw(), Confirmation: confirmation{Message: "ok"}}
	if !res.Success {
		w.Confirmation = confirmation{Message: res.Error, ErrorCode: "COMMAND_FAILED"}
	}
	return json.Marshal(w)
}

func (e *EchoCompanion) write(env *codec.Envelope) error {
	body, err := e.codec.Encode(env)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if e.w == nil {
		return errors.New("echo companion is not serving")
	}
	return e.framer.WriteFrame(e.w, body)
}

// Launcher returns a launcher that connects the bridge to c over in-memory
// pipes. The companion stops serving when the bridge closes its side.
func Launcher(c *EchoCompanion) companion.Launcher {
	return companion.LauncherFunc(func(ctx context.Context, framer *codec.Framer, log zerolog.Logger) (companion.Companion, error) {
		hostR, companionW := io.Pipe()
		companionR, hostW := io.Pipe()

		go func() {
			err := c.Serve(companionR, companionW, framer)
			_ = companionW.CloseWithError(err)
			_ = companionR.Close()
		}()

		return companion.Attach(hostR, hostW).Launch(ctx, framer, log)
	})
}
