// Package log builds the process logger.
package log

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps the configured zerolog logger.
type Logger struct {
	zerolog.Logger
}

// New creates a logger writing to stderr at the given level. Pretty selects
// the human-readable console format. Extra writers receive every event in
// JSON form, e.g. a queue that forwards host logs to the companion.
func New(level string, pretty bool, extra ...io.Writer) *Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"}
	}
	if len(extra) > 0 {
		writers := make([]io.Writer, 0, len(extra)+1)
		writers = append(writers, out)
		writers = append(writers, extra...)
		out = zerolog.MultiLevelWriter(writers...)
	}

	l := zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	if err != nil {
		l.Warn().Str("level", level).Msg("Unknown log level, using info")
	}
	return &Logger{Logger: l}
}
