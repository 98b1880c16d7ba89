// Package correlation matches replies from the companion to the requests
// that produced them.
package correlation

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"
	"github.com/universe-player/bridge/x/command"
)

var (
	// ErrDuplicateID is returned when registering an id that is still pending.
	ErrDuplicateID = errors.New("correlation id already pending")
	// ErrEmptyID is returned when registering an empty id.
	ErrEmptyID = errors.New("empty correlation id")
)

// NewID returns a fresh correlation id.
func NewID() string {
	return shortuuid.New()
}

type pending struct {
	id          string
	future      *Future
	submittedAt time.Time
	label       string
}

// PendingInfo describes an outstanding request.
type PendingInfo struct {
	ID          string        `json:"id"`
	Label       string        `json:"label,omitempty"`
	SubmittedAt time.Time     `json:"submitted_at"`
	Age         time.Duration `json:"age"`
}

// Option configures a Table.
type Option func(*Table)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Table) { t.now = now }
}

// WithMetrics replaces the default correlation metrics.
func WithMetrics(m *Metrics) Option {
	return func(t *Table) { t.metrics = m }
}

// Table maps correlation ids to pending futures. Every registered entry is
// removed exactly once, by Resolve, Fail or FailAll.
type Table struct {
	mu      sync.Mutex
	pending map[string]*pending

	log     zerolog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewTable creates an empty table.
func NewTable(log zerolog.Logger, opts ...Option) *Table {
	t := &Table{
		pending: make(map[string]*pending),
		log:     log.With().Str("component", "correlation").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.metrics == nil {
		t.metrics = NewMetrics()
	}
	return t
}

// Register adds a pending entry for id and returns its future.
func (t *Table) Register(id string) (*Future, error) {
	return t.RegisterLabeled(id, "")
}

// RegisterLabeled is Register with a label (usually the command name) kept
// for diagnostics.
func (t *Table) RegisterLabeled(id, label string) (*Future, error) {
	if id == "" {
		return nil, ErrEmptyID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.pending[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, id)
	}

	f := newFuture(id)
	t.pending[id] = &pending{id: id, future: f, submittedAt: t.now(), label: label}
	t.metrics.Pending.Set(float64(len(t.pending)))

	return f, nil
}

// Resolve completes the entry for id with r. It returns false for an id that
// is not pending, which happens for late or duplicate replies.
func (t *Table) Resolve(id string, r command.Result) bool {
	p := t.take(id)
	if p == nil {
		t.metrics.Orphans.Inc()
		t.log.Debug().Str("correlation_id", id).Bool("success", r.Success).Msg("Dropping reply for unknown request")
		return false
	}

	outcome := "success"
	if !r.Success {
		outcome = "failure"
	}
	t.metrics.RecordResolved(outcome, t.now().Sub(p.submittedAt))
	p.future.complete(r)
	return true
}

// Fail completes the entry for id with a failure carrying err.
func (t *Table) Fail(id string, err error) bool {
	p := t.take(id)
	if p == nil {
		return false
	}
	t.metrics.RecordResolved("failure", t.now().Sub(p.submittedAt))
	p.future.complete(command.Failure(err))
	return true
}

// FailAll completes every pending entry with a failure carrying reason and
// returns how many there were.
func (t *Table) FailAll(reason error) int {
	t.mu.Lock()
	drained := t.pending
	t.pending = make(map[string]*pending)
	t.metrics.Pending.Set(0)
	t.mu.Unlock()

	for _, p := range drained {
		t.metrics.RecordResolved("failure", t.now().Sub(p.submittedAt))
		p.future.complete(command.Failure(reason))
	}

	if len(drained) > 0 {
		t.log.Debug().Int("count", len(drained)).Err(reason).Msg("Failed all pending requests")
	}
	return len(drained)
}

// Len returns the number of pending entries.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Pending lists the outstanding requests, oldest first.
func (t *Table) Pending() []PendingInfo {
	now := t.now()

	t.mu.Lock()
	out := make([]PendingInfo, 0, len(t.pending))
	for _, p := range t.pending {
		out = append(out, PendingInfo{
			ID:          p.id,
			Label:       p.label,
			SubmittedAt: p.submittedAt,
			Age:         now.Sub(p.submittedAt),
		})
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out
}

func (t *Table) take(id string) *pending {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.pending[id]
	if !ok {
		return nil
	}
	delete(t.pending, id)
	t.metrics.Pending.Set(float64(len(t.pending)))
	return p
}
