package logqueue

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/universe-player/bridge/x/command"
)

// Writer turns zerolog JSON events into records on a Queue. Plug it into
// the process logger with zerolog.MultiLevelWriter.
type Writer struct {
	queue    *Queue
	minLevel zerolog.Level
	exclude  map[string]struct{}
}

// NewWriter creates a writer that keeps events at minLevel or above. Events
// whose "component" field is listed in exclude are skipped.
func NewWriter(q *Queue, minLevel zerolog.Level, exclude ...string) *Writer {
	w := &Writer{queue: q, minLevel: minLevel, exclude: make(map[string]struct{}, len(exclude))}
	for _, c := range exclude {
		w.exclude[c] = struct{}{}
	}
	return w
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

// WriteLevel implements zerolog.LevelWriter.
func (w *Writer) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level != zerolog.NoLevel && level < w.minLevel {
		return len(p), nil
	}

	rec, ok := w.parse(p)
	if !ok {
		return len(p), nil
	}
	if lvl, err := zerolog.ParseLevel(rec.Level); err == nil && lvl != zerolog.NoLevel && lvl < w.minLevel {
		return len(p), nil
	}
	if _, skip := w.exclude[rec.Logger]; skip {
		return len(p), nil
	}

	w.queue.Append(rec)
	return len(p), nil
}

func (w *Writer) parse(p []byte) (command.LogRecord, bool) {
	dec := json.NewDecoder(bytes.NewReader(p))
	dec.UseNumber()

	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return command.LogRecord{}, false
	}

	rec := command.LogRecord{Time: time.Now()}
	if v, ok := fields[zerolog.TimestampFieldName].(string); ok {
		if ts, err := time.Parse(zerolog.TimeFieldFormat, v); err == nil {
			rec.Time = ts
		} else if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.Time = ts
		}
	}
	rec.Level, _ = fields[zerolog.LevelFieldName].(string)
	rec.Message, _ = fields[zerolog.MessageFieldName].(string)
	rec.Logger, _ = fields["component"].(string)

	delete(fields, zerolog.TimestampFieldName)
	delete(fields, zerolog.LevelFieldName)
	delete(fields, zerolog.MessageFieldName)
	delete(fields, "component")
	if len(fields) > 0 {
		rec.Fields = fields
	}
	return rec, true
}
