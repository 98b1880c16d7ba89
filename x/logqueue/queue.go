// Package logqueue collects host log records and forwards them to the
// companion in batches.
package logqueue

import (
	"sync"

	"github.com/universe-player/bridge/x/command"
)

// DefaultCapacity bounds a Queue created with a non-positive capacity.
const DefaultCapacity = 1000

// Queue accumulates log records in insertion order. It never logs itself,
// since it is usually fed by the process logger.
type Queue struct {
	mu       sync.Mutex
	records  []command.LogRecord
	capacity int
	dropped  uint64
}

// NewQueue creates a queue holding at most capacity records; older records
// are dropped first once it is full.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{capacity: capacity}
}

// Append adds a record to the queue
func (q *Queue) Append(rec command.LogRecord) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.records) >= q.capacity {
		over := len(q.records) - q.capacity + 1
		q.records = append(q.records[:0], q.records[over:]...)
		q.dropped += uint64(over)
	}
	q.records = append(q.records, rec)
}

// Requeue puts records back at the head of the queue, ahead of anything
// appended since they were drained. Capacity still applies: the oldest
// records are dropped first.
func (q *Queue) Requeue(records []command.LogRecord) {
	if len(records) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]command.LogRecord, 0, len(records)+len(q.records))
	merged = append(merged, records...)
	merged = append(merged, q.records...)
	if over := len(merged) - q.capacity; over > 0 {
		merged = merged[over:]
		q.dropped += uint64(over)
	}
	q.records = merged
}

// HasPending reports whether any records are waiting
func (q *Queue) HasPending() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records) > 0
}

// Drain retrieves and removes all queued records
func (q *Queue) Drain() []command.LogRecord {
	q.mu.Lock()
	drained := q.records
	q.records = nil
	q.mu.Unlock()

	return drained
}

// Len returns the number of queued records
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// Dropped returns how many records were discarded because the queue was full
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
