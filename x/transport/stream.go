package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/universe-player/bridge/x/codec"
)

const bufferSize = 16384

// Hooks run before each read or write, e.g. to arm deadlines.
type Hooks struct {
	BeforeRead  func() error
	BeforeWrite func() error
}

// StreamOption configures a Stream.
type StreamOption func(*Stream)

// WithHooks sets per-operation hooks.
func WithHooks(h Hooks) StreamOption {
	return func(s *Stream) { s.hooks = h }
}

// WithRemoteAddr sets the address reported by Info.
func WithRemoteAddr(addr string) StreamOption {
	return func(s *Stream) { s.info.RemoteAddr = addr }
}

// WithMetrics replaces the default transport metrics.
func WithMetrics(m *Metrics) StreamOption {
	return func(s *Stream) { s.metrics = m }
}

// Stream implements Channel over any reader/writer pair.
type Stream struct {
	id     string
	framer *codec.Framer
	log    zerolog.Logger
	hooks  Hooks

	// Buffered I/O
	reader  *bufio.Reader
	writer  *bufio.Writer
	writeMu sync.Mutex
	closers []io.Closer

	mu        sync.RWMutex
	info      ConnectionInfo
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	framesRead    atomic.Uint64
	framesWritten atomic.Uint64
	bytesRead     atomic.Uint64
	bytesWritten  atomic.Uint64

	metrics *Metrics
}

// NewStream wraps r and w. Closing the stream closes every closer, which must
// unblock a read in progress on r.
func NewStream(
	id string, r io.Reader, w io.Writer, framer *codec.Framer, log zerolog.Logger,
	closers []io.Closer, opts ...StreamOption,
) *Stream {
	now := time.Now()
	s := &Stream{
		id:      id,
		framer:  framer,
		log:     log.With().Str("channel_id", id).Logger(),
		reader:  bufio.NewReaderSize(r, bufferSize),
		writer:  bufio.NewWriterSize(w, bufferSize),
		closers: closers,
		info: ConnectionInfo{
			ID:          id,
			ConnectedAt: now,
			LastSeen:    now,
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics()
	}
	s.metrics.ChannelsOpen.Inc()
	return s
}

// ReadMessage blocks until one frame body is available.
//
// A frame that is empty or exceeds the size limit yields
// codec.ErrMalformedMessage and leaves the stream aligned on the next frame.
// Any other failure closes the stream and yields ErrStreamClosed.
func (s *Stream) ReadMessage() ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrStreamClosed
	}

	if s.hooks.BeforeRead != nil {
		if err := s.hooks.BeforeRead(); err != nil {
			return nil, s.fail("read", fmt.Errorf("failed to arm read: %w", err))
		}
	}

	body, err := s.framer.ReadFrame(s.reader)
	if err != nil {
		if errors.Is(err, codec.ErrMalformedMessage) {
			s.metrics.RecordError("malformed_frame")
			return nil, err
		}
		return nil, s.fail("read", err)
	}

	s.framesRead.Add(1)
	s.bytesRead.Add(uint64(len(body)) + 4)
	s.metrics.RecordFrame("in", len(body))
	s.UpdateLastSeen()

	return body, nil
}

// WriteMessage frames and writes body. Concurrent callers are serialized.
func (s *Stream) WriteMessage(body []byte) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty frame", codec.ErrMalformedMessage)
	}
	if len(body) > s.framer.MaxMessageSize() {
		return fmt.Errorf("message size %d exceeds max %d", len(body), s.framer.MaxMessageSize())
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed.Load() {
		return ErrStreamClosed
	}

	if s.hooks.BeforeWrite != nil {
		if err := s.hooks.BeforeWrite(); err != nil {
			return s.fail("write", fmt.Errorf("failed to arm write: %w", err))
		}
	}

	if err := s.framer.WriteFrame(s.writer, body); err != nil {
		return s.fail("write", err)
	}
	if err := s.writer.Flush(); err != nil {
		return s.fail("write", err)
	}

	s.framesWritten.Add(1)
	s.bytesWritten.Add(uint64(len(body)) + 4)
	s.metrics.RecordFrame("out", len(body))

	return nil
}

// fail closes the stream after an I/O error and reports it as ErrStreamClosed.
func (s *Stream) fail(op string, err error) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	if !errors.Is(err, io.EOF) {
		s.metrics.RecordError(op)
		s.log.Debug().Err(err).Str("op", op).Msg("Channel I/O failed")
	}
	_ = s.Close()
	return fmt.Errorf("%w: %s: %v", ErrStreamClosed, op, err)
}

// Close closes the underlying streams. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.metrics.ChannelsOpen.Dec()

		var errs []error
		for _, c := range s.closers {
			if c == nil {
				continue
			}
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)

		s.log.Debug().Msg("Channel closed")
	})
	return s.closeErr
}

// ID returns the channel ID.
func (s *Stream) ID() string {
	return s.id
}

// Info returns channel information.
func (s *Stream) Info() ConnectionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := s.info
	info.FramesRead = s.framesRead.Load()
	info.FramesWritten = s.framesWritten.Load()
	info.BytesRead = s.bytesRead.Load()
	info.BytesWritten = s.bytesWritten.Load()
	info.Closed = s.closed.Load()

	return info
}

// UpdateLastSeen updates the last seen timestamp.
func (s *Stream) UpdateLastSeen() {
	s.mu.Lock()
	s.info.LastSeen = time.Now()
	s.mu.Unlock()
}
