// Package playback is a typed client for the companion's player commands.
package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/universe-player/bridge/x/bridge"
	"github.com/universe-player/bridge/x/command"
)

// DefaultTimeout bounds each player command.
const DefaultTimeout = 5 * time.Second

// Caller sends one command and waits for its result.
type Caller interface {
	Call(ctx context.Context, cmd command.Command, timeout time.Duration) (command.Result, error)
}

// Listener receives playback updates pushed by the companion.
type Listener func(info command.PlaybackInfo)

// Client wraps a Caller with one method per player command.
type Client struct {
	caller  Caller
	timeout time.Duration
	log     zerolog.Logger

	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
	last      *command.PlaybackInfo
}

// NewClient creates a client. A non-positive timeout selects DefaultTimeout.
func NewClient(caller Caller, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		caller:    caller,
		timeout:   timeout,
		log:       log.With().Str("component", "playback").Logger(),
		listeners: make(map[int]Listener),
	}
}

// LoadSong opens url in the companion.
func (c *Client) LoadSong(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("song url is required")
	}
	_, err := c.call(ctx, command.LoadSong{URL: url})
	return err
}

// Play resumes playback.
func (c *Client) Play(ctx context.Context) error {
	_, err := c.call(ctx, command.Play())
	return err
}

// Pause pauses playback.
func (c *Client) Pause(ctx context.Context) error {
	_, err := c.call(ctx, command.Pause())
	return err
}

// Seek moves the play head to seconds.
func (c *Client) Seek(ctx context.Context, seconds float64) error {
	_, err := c.call(ctx, command.Seek{Time: seconds})
	return err
}

// SeekBy moves the play head by delta seconds.
func (c *Client) SeekBy(ctx context.Context, delta float64) error {
	_, err := c.call(ctx, command.Seek{Time: delta, Relative: true})
	return err
}

// Status returns the player state.
func (c *Client) Status(ctx context.Context) (command.PlaybackStatus, error) {
	res, err := c.call(ctx, command.QueryStatus{})
	if err != nil {
		return "", err
	}
	return command.ParsePlaybackStatus(res.Value)
}

// Time returns the play head position in seconds.
func (c *Client) Time(ctx context.Context) (float64, error) {
	res, err := c.call(ctx, command.QueryTime{})
	if err != nil {
		return 0, err
	}
	return res.Value.AsFloat()
}

// Length returns the length of the loaded song in seconds.
func (c *Client) Length(ctx context.Context) (float64, error) {
	res, err := c.call(ctx, command.QueryLength{})
	if err != nil {
		return 0, err
	}
	return res.Value.AsFloat()
}

// Paused reports whether playback is paused.
func (c *Client) Paused(ctx context.Context) (bool, error) {
	res, err := c.call(ctx, command.QueryPaused{})
	if err != nil {
		return false, err
	}
	return res.Value.AsBool()
}

// SongData resolves metadata for url without loading it.
func (c *Client) SongData(ctx context.Context, url string) (command.SongMetadata, error) {
	var meta command.SongMetadata
	res, err := c.call(ctx, command.SongDataQuery{URL: url})
	if err != nil {
		return meta, err
	}
	if err := res.Value.Decode(&meta); err != nil {
		return meta, err
	}
	return meta, nil
}

// Quit closes the companion's tabs.
func (c *Client) Quit(ctx context.Context) error {
	_, err := c.call(ctx, command.Quit{})
	return err
}

// ErrorProbe asks the companion to raise a test error and returns it.
func (c *Client) ErrorProbe(ctx context.Context, forward bool) error {
	_, err := c.call(ctx, command.ErrorProbe{Forward: forward})
	return err
}

func (c *Client) call(ctx context.Context, cmd command.Command) (command.Result, error) {
	res, err := c.caller.Call(ctx, cmd, c.timeout)
	if err != nil {
		c.log.Debug().Err(err).Str("command", cmd.Name()).Msg("Player command failed")
		return res, fmt.Errorf("%s: %w", cmd.Name(), err)
	}
	return res, nil
}

// Watch registers the client for playback updates on router.
func (c *Client) Watch(router bridge.UpdateRouter) {
	router.Register(command.UpdatePlayback, c.HandleUpdate)
}

// HandleUpdate delivers a playback update to every listener.
func (c *Client) HandleUpdate(_ context.Context, u command.Update) error {
	info, err := u.Playback()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.last = &info
	listeners := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		listeners = append(listeners, l)
	}
	c.mu.Unlock()

	for _, l := range listeners {
		l(info)
	}
	return nil
}

// Subscribe adds a listener and returns a function that removes it.
func (c *Client) Subscribe(l Listener) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// Last returns the most recent playback update.
func (c *Client) Last() (command.PlaybackInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return command.PlaybackInfo{}, false
	}
	return *c.last, true
}
