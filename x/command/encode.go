package command

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Encode returns the wire representation of cmd.
//
// The bare Ping encodes as the JSON string "ping". Every other variant
// encodes as an object carrying a "command" discriminator next to its own
// fields, e.g. {"command":"numberPing","index":2}.
func Encode(cmd Command) (json.RawMessage, error) {
	switch c := cmd.(type) {
	case Ping, *Ping:
		return json.RawMessage(`"ping"`), nil
	case NumberedPing:
		return encodeObject(c.Name(), c)
	case SongDataQuery:
		return encodeObject(c.Name(), c)
	case LoadSong:
		return encodeObject(c.Name(), c)
	case SetPlayback:
		if c.Status != PlaybackPlay && c.Status != PlaybackPause {
			return nil, fmt.Errorf("%w: playback status %q", ErrUnknownCommand, c.Status)
		}
		return encodeObject(c.Name(), c)
	case Seek:
		return encodeObject(c.Name(), c)
	case QueryStatus, QueryTime, QueryLength, QueryPaused, Quit:
		return encodeObject(c.Name(), struct{}{})
	case ForwardLogs:
		if c.Records == nil {
			c.Records = []LogRecord{}
		}
		return encodeObject(c.Name(), c)
	case ErrorProbe:
		return encodeObject(c.Name(), c)
	case Custom:
		return encodeCustom(c)
	case nil:
		return nil, fmt.Errorf("%w: nil command", ErrUnknownCommand)
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}

func encodeObject(name string, fields any) (json.RawMessage, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s command: %w", name, err)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, fmt.Errorf("failed to flatten %s command: %w", name, err)
	}
	if obj == nil {
		obj = make(map[string]json.RawMessage, 1)
	}
	obj[commandFieldName], _ = json.Marshal(name)

	return json.Marshal(obj)
}

func encodeCustom(c Custom) (json.RawMessage, error) {
	if strings.TrimSpace(c.Command) == "" {
		return nil, fmt.Errorf("%w: custom command without a name", ErrUnknownCommand)
	}
	if _, ok := c.Args[commandFieldName]; ok {
		return nil, fmt.Errorf("%w: custom command args may not set %q", ErrUnknownCommand, commandFieldName)
	}

	obj := make(map[string]any, len(c.Args)+1)
	for k, v := range c.Args {
		obj[k] = v
	}
	obj[commandFieldName] = c.Command

	data, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal custom command %s: %w", c.Command, err)
	}
	return data, nil
}

// Decode parses a wire command back into its variant. Objects without a
// "command" discriminator are matched on their fields: {"index":n} is a
// NumberedPing and {"url":"..."} a SongDataQuery. Objects naming a command
// this package does not declare decode to Custom.
func Decode(raw json.RawMessage) (Command, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUnknownCommand)
	}

	if raw[0] == '"' {
		var tag string
		if err := json.Unmarshal(raw, &tag); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownCommand, err)
		}
		switch tag {
		case NamePing:
			return Ping{}, nil
		case NameQuit:
			return Quit{}, nil
		default:
			return nil, fmt.Errorf("%w: bare tag %q", ErrUnknownCommand, tag)
		}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return nil, fmt.Errorf("%w: payload is neither a tag nor an object", ErrUnknownCommand)
	}

	name := ""
	if v, ok := obj[commandFieldName]; ok {
		if err := json.Unmarshal(v, &name); err != nil {
			return nil, fmt.Errorf("%w: command discriminator is not a string", ErrUnknownCommand)
		}
	} else {
		switch {
		case obj["index"] != nil:
			name = NameNumberPing
		case obj["url"] != nil:
			name = NameSongData
		default:
			return nil, fmt.Errorf("%w: object without a command discriminator", ErrUnknownCommand)
		}
	}

	return decodeNamed(name, raw, obj)
}

func decodeNamed(name string, raw json.RawMessage, obj map[string]json.RawMessage) (Command, error) {
	var (
		cmd Command
		err error
	)
	switch name {
	case NamePing:
		cmd = Ping{}
	case NameNumberPing:
		var c NumberedPing
		err = json.Unmarshal(raw, &c)
		cmd = c
	case NameSongData:
		var c SongDataQuery
		err = json.Unmarshal(raw, &c)
		cmd = c
	case NameLoadSong:
		var c LoadSong
		err = json.Unmarshal(raw, &c)
		cmd = c
	case NameSetPlayback:
		var c SetPlayback
		err = json.Unmarshal(raw, &c)
		cmd = c
	case NameSeek:
		var c Seek
		err = json.Unmarshal(raw, &c)
		cmd = c
	case NameStatus:
		cmd = QueryStatus{}
	case NameTime:
		cmd = QueryTime{}
	case NameLength:
		cmd = QueryLength{}
	case NamePaused:
		cmd = QueryPaused{}
	case NameQuit:
		cmd = Quit{}
	case NameForwardLogs:
		var c ForwardLogs
		err = json.Unmarshal(raw, &c)
		cmd = c
	case NameErrorProbe:
		var c ErrorProbe
		err = json.Unmarshal(raw, &c)
		cmd = c
	default:
		args := make(map[string]any, len(obj))
		for k, v := range obj {
			if k == commandFieldName {
				continue
			}
			var val any
			if uerr := unmarshalNumber(v, &val); uerr != nil {
				return nil, fmt.Errorf("%w: argument %s: %v", ErrUnknownCommand, k, uerr)
			}
			args[k] = val
		}
		cmd = Custom{Command: name, Args: args}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnknownCommand, name, err)
	}
	return cmd, nil
}

func unmarshalNumber(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}
