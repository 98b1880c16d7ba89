package log

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNew_LevelAndExtraWriter(t *testing.T) {
	var buf bytes.Buffer
	l := New("warn", false, &buf)
	assert.Equal(t, zerolog.WarnLevel, l.GetLevel())

	l.Info().Msg("dropped")
	l.Warn().Msg("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"message":"kept"`)
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	l := New("chatty", false)
	assert.Equal(t, zerolog.InfoLevel, l.GetLevel())
}
