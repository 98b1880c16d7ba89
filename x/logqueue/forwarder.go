package logqueue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/universe-player/bridge/x/command"
	"github.com/universe-player/bridge/x/correlation"
)

// ComponentName is the logger component of the Forwarder. Writers should
// exclude it so forwarding failures are not forwarded again.
const ComponentName = "log-forwarder"

// Sender submits a command to the companion.
type Sender interface {
	Send(cmd command.Command) *correlation.Future
}

// Forwarder periodically drains a Queue and sends the batch to the companion
// as one ForwardLogs command.
type Forwarder struct {
	queue    *Queue
	sender   Sender
	interval time.Duration
	timeout  time.Duration
	log      zerolog.Logger
}

// NewForwarder creates a forwarder.
func NewForwarder(q *Queue, sender Sender, interval, timeout time.Duration, log zerolog.Logger) *Forwarder {
	if interval <= 0 {
		interval = time.Second
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Forwarder{
		queue:    q,
		sender:   sender,
		interval: interval,
		timeout:  timeout,
		log:      log.With().Str("component", ComponentName).Logger(),
	}
}

// Run flushes on every interval until ctx ends, then flushes once more
// without waiting for the reply.
func (f *Forwarder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if f.queue.HasPending() {
				f.sender.Send(command.ForwardLogs{Records: f.queue.Drain()})
			}
			return nil
		case <-ticker.C:
			f.Flush(ctx)
		}
	}
}

// Flush sends all queued records and waits for the companion to acknowledge
// them. It returns the number of records delivered. A batch that never
// reached the companion is requeued; one the companion rejected is dropped.
func (f *Forwarder) Flush(ctx context.Context) int {
	if !f.queue.HasPending() {
		return 0
	}
	records := f.queue.Drain()

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	res, err := f.sender.Send(command.ForwardLogs{Records: records}).Await(ctx)
	if err == nil && !res.Success {
		var remote *command.RemoteError
		if errors.As(res.Err(), &remote) {
			f.log.Debug().Str("error", res.Error).Int("count", len(records)).Msg("Companion rejected log batch")
			return len(records)
		}
		err = res.Err()
	}
	if err != nil {
		f.queue.Requeue(records)
		f.log.Debug().Err(err).Int("count", len(records)).Msg("Log batch not delivered, requeued")
		return 0
	}
	return len(records)
}
