package command

import (
	"fmt"
)

// PlaybackStatus is the companion's player state.
type PlaybackStatus string

const (
	StatusPlaying  PlaybackStatus = "PLAYING"
	StatusPaused   PlaybackStatus = "PAUSED"
	StatusStopped  PlaybackStatus = "STOPPED"
	StatusFinished PlaybackStatus = "FINISHED"
	StatusEmpty    PlaybackStatus = "EMPTY"
)

// Valid reports whether s is one of the declared statuses.
func (s PlaybackStatus) Valid() bool {
	switch s {
	case StatusPlaying, StatusPaused, StatusStopped, StatusFinished, StatusEmpty:
		return true
	}
	return false
}

// ParsePlaybackStatus converts a result value into a PlaybackStatus.
func ParsePlaybackStatus(v Value) (PlaybackStatus, error) {
	s, err := v.AsString()
	if err != nil {
		return "", err
	}
	status := PlaybackStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("unknown playback status %q", s)
	}
	return status, nil
}

// PlaybackInfo is pushed by the companion whenever the player changes state.
type PlaybackInfo struct {
	Status   PlaybackStatus `json:"status"`
	Time     float64        `json:"time"`
	Length   float64        `json:"length"`
	Song     string         `json:"song,omitempty"`
	Metadata *SongMetadata  `json:"metadata,omitempty"`
}

// SongMetadata is the record a SongDataQuery resolves to.
type SongMetadata struct {
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Artist    string  `json:"artist,omitempty"`
	Album     string  `json:"album,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Duration  float64 `json:"duration"`
}
