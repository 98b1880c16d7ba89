package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedMessage is returned for a frame that cannot be turned into a
// valid Envelope. The stream itself stays usable.
var ErrMalformedMessage = errors.New("malformed message")

// Kind distinguishes the envelopes exchanged with the companion.
type Kind string

const (
	KindCommand Kind = "command"
	KindResult  Kind = "result"
	KindPing    Kind = "ping"
	KindPong    Kind = "pong"
	KindUpdate  Kind = "update"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCommand, KindResult, KindPing, KindPong, KindUpdate:
		return true
	}
	return false
}

// Envelope is one framed message on the wire.
type Envelope struct {
	Kind          Kind
	CorrelationID string
	Payload       json.RawMessage
}

// Validate checks the fields every decoded or outgoing envelope must carry.
func (e *Envelope) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil envelope", ErrMalformedMessage)
	}
	if e.Kind == "" {
		return fmt.Errorf("%w: missing kind", ErrMalformedMessage)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrMalformedMessage, e.Kind)
	}
	if (e.Kind == KindCommand || e.Kind == KindResult) && e.CorrelationID == "" {
		return fmt.Errorf("%w: %s without correlationId", ErrMalformedMessage, e.Kind)
	}
	return nil
}
