package codec

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtobufCodec encodes envelopes as a google.protobuf.Struct with the
// fields kind, correlationId and payload.
type ProtobufCodec struct {
	maxMessageSize int
}

// NewProtobufCodec creates a new protobuf codec
func NewProtobufCodec(maxMessageSize int) *ProtobufCodec {
	return &ProtobufCodec{maxMessageSize: maxMessageSize}
}

// Name returns the registry name of the codec.
func (c *ProtobufCodec) Name() string { return "protobuf" }

// Encode marshals env into a frame body.
func (c *ProtobufCodec) Encode(env *Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	fields := map[string]*structpb.Value{
		"kind": structpb.NewStringValue(string(env.Kind)),
	}
	if env.CorrelationID != "" {
		fields["correlationId"] = structpb.NewStringValue(env.CorrelationID)
	}
	if len(env.Payload) > 0 {
		var payload any
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return nil, fmt.Errorf("%w: payload is not valid JSON: %v", ErrMalformedMessage, err)
		}
		v, err := structpb.NewValue(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to convert payload: %w", err)
		}
		fields["payload"] = v
	}

	data, err := proto.Marshal(&structpb.Struct{Fields: fields})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal: %w", err)
	}
	if len(data) > c.maxMessageSize {
		return nil, fmt.Errorf("message size %d exceeds max %d", len(data), c.maxMessageSize)
	}
	return data, nil
}

// Decode parses a frame body. Numeric payload values arrive as doubles.
func (c *ProtobufCodec) Decode(data []byte) (*Envelope, error) {
	var st structpb.Struct
	if err := proto.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	env := &Envelope{}
	if v, ok := st.Fields["kind"]; ok {
		env.Kind = Kind(v.GetStringValue())
	}
	if v, ok := st.Fields["correlationId"]; ok {
		id, err := structID(v)
		if err != nil {
			return nil, err
		}
		env.CorrelationID = id
	}
	if v, ok := st.Fields["payload"]; ok {
		if _, isNull := v.GetKind().(*structpb.Value_NullValue); !isNull {
			payload, err := json.Marshal(v.AsInterface())
			if err != nil {
				return nil, fmt.Errorf("%w: payload: %v", ErrMalformedMessage, err)
			}
			env.Payload = payload
		}
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// MaxMessageSize returns the maximum message size
func (c *ProtobufCodec) MaxMessageSize() int {
	return c.maxMessageSize
}

func structID(v *structpb.Value) (string, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return k.StringValue, nil
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f != math.Trunc(f) || math.IsInf(f, 0) {
			return "", fmt.Errorf("%w: correlationId %v is not an integer", ErrMalformedMessage, f)
		}
		return strconv.FormatInt(int64(f), 10), nil
	case *structpb.Value_NullValue:
		return "", nil
	default:
		return "", fmt.Errorf("%w: correlationId must be a string or an integer", ErrMalformedMessage)
	}
}
