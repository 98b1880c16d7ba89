package codec

import (
	"io"
)

// Codec converts envelopes to and from frame bodies. The length prefix is
// not part of the body; see Framer.
type Codec interface {
	Name() string
	Encode(env *Envelope) ([]byte, error)
	Decode(data []byte) (*Envelope, error)
	MaxMessageSize() int
}

// StreamCodec extends Codec with length-prefixed framing over a byte stream.
type StreamCodec interface {
	Codec
	ReadFrame(r io.Reader) ([]byte, error)
	WriteFrame(w io.Writer, body []byte) error
	DecodeStream(r io.Reader) (*Envelope, error)
	EncodeStream(w io.Writer, env *Envelope) error
}

// Registry manages multiple codec implementations
type Registry interface {
	Register(name string, codec Codec)
	Get(name string) (Codec, bool)
	Default() Codec
	SetDefault(name string) error
}
