package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
)

const prefixSize = 4

// DefaultMaxMessageSize is the frame limit browsers apply to native
// messaging hosts.
const DefaultMaxMessageSize = 1 << 20

// ParseByteOrder maps "native", "little" and "big" to a byte order.
func ParseByteOrder(name string) (binary.ByteOrder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "native":
		return binary.NativeEndian, nil
	case "little", "little-endian", "le":
		return binary.LittleEndian, nil
	case "big", "big-endian", "be":
		return binary.BigEndian, nil
	default:
		return nil, fmt.Errorf("unknown byte order %q", name)
	}
}

// Framer writes and reads 4-byte length-prefixed frames.
type Framer struct {
	order          binary.ByteOrder
	maxMessageSize int

	// Buffer pool for assembling prefix and body into a single write
	bufferPool sync.Pool
}

// NewFramer creates a framer. A nil order selects the host's native order.
func NewFramer(maxMessageSize int, order binary.ByteOrder) *Framer {
	if order == nil {
		order = binary.NativeEndian
	}
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Framer{
		order:          order,
		maxMessageSize: maxMessageSize,
		bufferPool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, 0, 1024) // Start with 1KB capacity
				return &buf
			},
		},
	}
}

// ReadFrame reads one frame body.
//
// Stream errors (io.EOF at a frame boundary, io.ErrUnexpectedEOF inside one)
// are returned unchanged. An empty or oversize frame yields
// ErrMalformedMessage after its body has been consumed, so the next call
// starts at the next frame.
func (f *Framer) ReadFrame(r io.Reader) ([]byte, error) {
	var prefix [prefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	length := f.order.Uint32(prefix[:])
	if length == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedMessage)
	}
	if uint64(length) > uint64(f.maxMessageSize) {
		if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		return nil, fmt.Errorf("%w: message size %d exceeds max %d", ErrMalformedMessage, length, f.maxMessageSize)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return body, nil
}

// WriteFrame writes body with its length prefix in a single Write call.
func (f *Framer) WriteFrame(w io.Writer, body []byte) error {
	bufPtr := f.bufferPool.Get().(*[]byte)
	defer f.bufferPool.Put(bufPtr)

	frame, err := f.AppendFrame((*bufPtr)[:0], body)
	if err != nil {
		return err
	}
	*bufPtr = frame

	_, err = w.Write(frame)
	return err
}

// AppendFrame appends the framed body to dst.
func (f *Framer) AppendFrame(dst, body []byte) ([]byte, error) {
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformedMessage)
	}
	if len(body) > f.maxMessageSize || uint64(len(body)) > math.MaxUint32 {
		return nil, fmt.Errorf("message size %d exceeds max %d", len(body), f.maxMessageSize)
	}

	var prefix [prefixSize]byte
	f.order.PutUint32(prefix[:], uint32(len(body)))
	dst = append(dst, prefix[:]...)
	return append(dst, body...), nil
}

// MaxMessageSize returns the maximum frame body size
func (f *Framer) MaxMessageSize() int {
	return f.maxMessageSize
}

// ByteOrder returns the order of the length prefix.
func (f *Framer) ByteOrder() binary.ByteOrder {
	return f.order
}

// Framed pairs a Codec with a Framer to form a StreamCodec.
type Framed struct {
	Codec
	framer *Framer
}

// NewFramed creates a StreamCodec sharing the codec's size limit.
func NewFramed(c Codec, order binary.ByteOrder) *Framed {
	return &Framed{Codec: c, framer: NewFramer(c.MaxMessageSize(), order)}
}

// ReadFrame reads one frame body.
func (s *Framed) ReadFrame(r io.Reader) ([]byte, error) { return s.framer.ReadFrame(r) }

// WriteFrame writes one frame body.
func (s *Framed) WriteFrame(w io.Writer, body []byte) error { return s.framer.WriteFrame(w, body) }

// DecodeStream reads and decodes one envelope.
func (s *Framed) DecodeStream(r io.Reader) (*Envelope, error) {
	body, err := s.framer.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return s.Decode(body)
}

// EncodeStream encodes and writes one envelope.
func (s *Framed) EncodeStream(w io.Writer, env *Envelope) error {
	body, err := s.Encode(env)
	if err != nil {
		return err
	}
	return s.framer.WriteFrame(w, body)
}
