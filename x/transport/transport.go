// Package transport moves length-prefixed frames between the host and the
// companion process.
package transport

import (
	"errors"
	"time"
)

// ErrStreamClosed is returned once the underlying stream has reached EOF,
// failed, or been closed locally.
var ErrStreamClosed = errors.New("stream closed")

// Channel is a bidirectional frame stream to the companion. ReadMessage is
// called from one goroutine; WriteMessage may be called concurrently and is
// serialized internally.
type Channel interface {
	ReadMessage() ([]byte, error)
	WriteMessage(body []byte) error
	Close() error
	Info() ConnectionInfo
}

// ConnectionInfo describes a channel for diagnostics.
type ConnectionInfo struct {
	ID            string    `json:"id"`
	RemoteAddr    string    `json:"remote_addr"`
	ConnectedAt   time.Time `json:"connected_at"`
	LastSeen      time.Time `json:"last_seen"`
	FramesRead    uint64    `json:"frames_read"`
	FramesWritten uint64    `json:"frames_written"`
	BytesRead     uint64    `json:"bytes_read"`
	BytesWritten  uint64    `json:"bytes_written"`
	Closed        bool      `json:"closed"`
}
