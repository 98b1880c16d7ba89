package bridge

import (
	"errors"

	"github.com/universe-player/bridge/x/codec"
	"github.com/universe-player/bridge/x/command"
	"github.com/universe-player/bridge/x/companion"
	"github.com/universe-player/bridge/x/transport"
)

var (
	// ErrNotRunning is delivered through an already-failed future when a
	// command is sent outside the Running state.
	ErrNotRunning = errors.New("bridge is not running")
	// ErrBridgeStopped fails requests still pending when the bridge stops.
	ErrBridgeStopped = errors.New("bridge stopped")
	// ErrCompanionDisconnected fails pending requests when the companion's
	// stream closes or the process exits.
	ErrCompanionDisconnected = errors.New("companion disconnected")
	// ErrProtocolCorruption fails pending requests after repeated undecodable
	// frames.
	ErrProtocolCorruption = errors.New("protocol corruption")
	// ErrBackpressure fails a request when the outbound queue is full.
	ErrBackpressure = errors.New("outbound queue full")

	// Re-exported so callers need only this package for errors.Is checks.
	ErrUnknownCommand   = command.ErrUnknownCommand
	ErrMalformedMessage = codec.ErrMalformedMessage
	ErrStreamClosed     = transport.ErrStreamClosed
)

// LaunchError is returned by New when the companion cannot be started.
type LaunchError = companion.LaunchError
