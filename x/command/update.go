package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Update types pushed by the companion without a request.
const (
	UpdateLog      = "log"
	UpdatePlayback = "playback"
)

// ErrMalformedUpdate is returned for an update payload without a type.
var ErrMalformedUpdate = errors.New("malformed update")

// Update is an unsolicited message from the companion.
type Update struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// CompanionLog is a log line emitted inside the companion.
type CompanionLog struct {
	Logger  string `json:"logger"`
	Level   string `json:"level"`
	Message []any  `json:"message"`
}

// Text joins the message parts the way a console would print them.
func (l CompanionLog) Text() string {
	parts := make([]string, 0, len(l.Message))
	for _, m := range l.Message {
		switch v := m.(type) {
		case string:
			parts = append(parts, v)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				parts = append(parts, fmt.Sprint(v))
				continue
			}
			parts = append(parts, string(data))
		}
	}
	return strings.Join(parts, " ")
}

// DecodeUpdate parses an update payload.
func DecodeUpdate(raw json.RawMessage) (Update, error) {
	var u Update
	if err := json.Unmarshal(bytes.TrimSpace(raw), &u); err != nil {
		return Update{}, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	if u.Type == "" {
		return Update{}, fmt.Errorf("%w: missing type", ErrMalformedUpdate)
	}
	return u, nil
}

// EncodeUpdate builds an update payload of the given type around data.
func EncodeUpdate(typ string, data any) (json.RawMessage, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s update: %w", typ, err)
	}
	out, err := json.Marshal(Update{Type: typ, Data: body})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s update: %w", typ, err)
	}
	return out, nil
}

// Log decodes a log update.
func (u Update) Log() (CompanionLog, error) {
	var l CompanionLog
	if u.Type != UpdateLog {
		return l, fmt.Errorf("%w: %s is not a log update", ErrMalformedUpdate, u.Type)
	}
	if err := unmarshalNumber(u.Data, &l); err != nil {
		return l, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	return l, nil
}

// Playback decodes a playback update.
func (u Update) Playback() (PlaybackInfo, error) {
	var p PlaybackInfo
	if u.Type != UpdatePlayback {
		return p, fmt.Errorf("%w: %s is not a playback update", ErrMalformedUpdate, u.Type)
	}
	if err := json.Unmarshal(u.Data, &p); err != nil {
		return p, fmt.Errorf("%w: %v", ErrMalformedUpdate, err)
	}
	return p, nil
}
