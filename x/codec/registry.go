package codec

import (
	"fmt"
	"sync"
)

// registry implements Registry interface
type registry struct {
	mu       sync.RWMutex
	codecs   map[string]Codec
	default_ string
}

// NewRegistry creates a codec registry holding the json (default) and
// protobuf codecs.
func NewRegistry(maxMessageSize int) Registry {
	if maxMessageSize <= 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	r := &registry{
		codecs: make(map[string]Codec),
	}

	jsonCodec := NewJSONCodec(maxMessageSize)
	r.Register(jsonCodec.Name(), jsonCodec)
	pbCodec := NewProtobufCodec(maxMessageSize)
	r.Register(pbCodec.Name(), pbCodec)
	r.default_ = jsonCodec.Name()

	return r
}

// Register registers a codec with a name
func (r *registry) Register(name string, codec Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[name] = codec
}

// Get retrieves a codec by name
func (r *registry) Get(name string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codec, exists := r.codecs[name]
	return codec, exists
}

// Default returns the default codec
func (r *registry) Default() Codec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.codecs[r.default_]
}

// SetDefault selects a registered codec as the default
func (r *registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codecs[name]; !ok {
		return fmt.Errorf("codec %q is not registered", name)
	}
	r.default_ = name
	return nil
}
