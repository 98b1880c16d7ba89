package command

import (
	"errors"
)

// ErrUnknownCommand is returned for a Command variant that has no wire form.
var ErrUnknownCommand = errors.New("unknown command variant")

// Command names understood by the companion.
const (
	NamePing         = "ping"
	NameNumberPing   = "numberPing"
	NameSongData     = "getSongData"
	NameLoadSong     = "loadSong"
	NameSetPlayback  = "playback"
	NameSeek         = "seek"
	NameStatus       = "getStatus"
	NameTime         = "currentTime"
	NameLength       = "getLength"
	NamePaused       = "paused"
	NameQuit         = "quit"
	NameForwardLogs  = "logs"
	NameErrorProbe   = "error"
	commandFieldName = "command"
)

// Command is a request the companion process knows how to execute.
// Only the variants declared in this package can be encoded; any other
// implementation is rejected by Encode with ErrUnknownCommand.
type Command interface {
	Name() string
}

// Ping is the bare liveness command. The companion answers "pong".
type Ping struct{}

func (Ping) Name() string { return NamePing }

// NumberedPing asks the companion to echo Index back.
type NumberedPing struct {
	Index int `json:"index"`
}

func (NumberedPing) Name() string { return NameNumberPing }

// SongDataQuery asks the companion to resolve metadata for a song URL.
type SongDataQuery struct {
	URL string `json:"url"`
}

func (SongDataQuery) Name() string { return NameSongData }

// LoadSong opens the song at URL in the companion, replacing the current one.
type LoadSong struct {
	URL string `json:"song"`
}

func (LoadSong) Name() string { return NameLoadSong }

// Playback is the requested playback state for SetPlayback.
type Playback string

const (
	PlaybackPlay  Playback = "PLAY"
	PlaybackPause Playback = "PAUSE"
)

// SetPlayback plays or pauses the current song.
type SetPlayback struct {
	Status Playback `json:"status"`
}

func (SetPlayback) Name() string { return NameSetPlayback }

// Play returns a SetPlayback command that resumes playback.
func Play() SetPlayback { return SetPlayback{Status: PlaybackPlay} }

// Pause returns a SetPlayback command that pauses playback.
func Pause() SetPlayback { return SetPlayback{Status: PlaybackPause} }

// Seek moves the play head to Time seconds, or by Time seconds when Relative.
type Seek struct {
	Time     float64 `json:"time"`
	Relative bool    `json:"relative"`
}

func (Seek) Name() string { return NameSeek }

// QueryStatus returns the companion's PlaybackStatus.
type QueryStatus struct{}

func (QueryStatus) Name() string { return NameStatus }

// QueryTime returns the current play time in seconds.
type QueryTime struct{}

func (QueryTime) Name() string { return NameTime }

// QueryLength returns the length of the current song in seconds.
type QueryLength struct{}

func (QueryLength) Name() string { return NameLength }

// QueryPaused reports whether playback is paused.
type QueryPaused struct{}

func (QueryPaused) Name() string { return NamePaused }

// Quit closes every companion tab and asks it to exit.
type Quit struct{}

func (Quit) Name() string { return NameQuit }

// ForwardLogs carries host log records to the companion for display.
type ForwardLogs struct {
	Records []LogRecord `json:"records"`
}

func (ForwardLogs) Name() string { return NameForwardLogs }

// ErrorProbe makes the companion raise an error, either in its background
// context or, when Forward is set, in the playing tab.
type ErrorProbe struct {
	Forward bool `json:"forward"`
}

func (ErrorProbe) Name() string { return NameErrorProbe }

// Custom is an arbitrary named command with free-form arguments.
// Args must not contain the key "command".
type Custom struct {
	Command string
	Args    map[string]any
}

func (c Custom) Name() string { return c.Command }
