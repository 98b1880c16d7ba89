package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// JSONCodec encodes envelopes as {"kind":..,"correlationId":..,"payload":..}.
type JSONCodec struct {
	maxMessageSize int
}

// NewJSONCodec creates a JSON codec.
func NewJSONCodec(maxMessageSize int) *JSONCodec {
	return &JSONCodec{maxMessageSize: maxMessageSize}
}

type jsonEnvelope struct {
	Kind          Kind            `json:"kind"`
	CorrelationID json.RawMessage `json:"correlationId,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Name returns the registry name of the codec.
func (c *JSONCodec) Name() string { return "json" }

// Encode marshals env into a frame body.
func (c *JSONCodec) Encode(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	wire := jsonEnvelope{Kind: env.Kind}
	if env.CorrelationID != "" {
		id, err := json.Marshal(env.CorrelationID)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal correlation id: %w", err)
		}
		wire.CorrelationID = id
	}
	if len(env.Payload) > 0 {
		if !json.Valid(env.Payload) {
			return nil, fmt.Errorf("%w: payload is not valid JSON", ErrMalformedMessage)
		}
		wire.Payload = env.Payload
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal: %w", err)
	}
	if len(data) > c.maxMessageSize {
		return nil, fmt.Errorf("message size %d exceeds max %d", len(data), c.maxMessageSize)
	}
	return data, nil
}

// Decode parses a frame body. Numbers inside the payload keep their literal
// form, and an integer correlationId is normalized to its decimal string.
func (c *JSONCodec) Decode(data []byte) (*Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var wire jsonEnvelope
	if err := dec.Decode(&wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after envelope", ErrMalformedMessage)
	}

	id, err := normalizeID(wire.CorrelationID)
	if err != nil {
		return nil, err
	}

	env := &Envelope{Kind: wire.Kind, CorrelationID: id}
	if p := bytes.TrimSpace(wire.Payload); len(p) > 0 && !bytes.Equal(p, []byte("null")) {
		env.Payload = append(json.RawMessage(nil), p...)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// MaxMessageSize returns the maximum message size
func (c *JSONCodec) MaxMessageSize() int {
	return c.maxMessageSize
}

func normalizeID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: correlationId: %v", ErrMalformedMessage, err)
		}
		return s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("%w: correlationId must be a string or an integer", ErrMalformedMessage)
	}
	if _, err := n.Int64(); err != nil {
		return "", fmt.Errorf("%w: correlationId %s is not an integer", ErrMalformedMessage, n)
	}
	return n.String(), nil
}
