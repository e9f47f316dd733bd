package resilience

import (
	"sync"
	"time"
)

// DeadLetter is one operation that exhausted all retries, preserved with
// its original payload for manual inspection and replay. This is the
// terminal failure path — data is never silently dropped.
type DeadLetter struct {
	Op       string    `json:"op"`
	Payload  string    `json:"payload"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
	FailedAt time.Time `json:"failed_at"`
}

// DeadLetterQueue is a bounded in-process queue. When full, the oldest
// entry is evicted to make room — recent failures are the actionable
// ones.
type DeadLetterQueue struct {
	mu       sync.Mutex
	entries  []DeadLetter
	capacity int
}

// NewDeadLetterQueue builds a queue holding at most capacity entries
// (default 1000 when capacity <= 0).
func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	if capacity <= 0 {
		capacity = 1000
	}
	return &DeadLetterQueue{capacity: capacity}
}

// Append adds an entry, evicting the oldest when the queue is full.
func (q *DeadLetterQueue) Append(entry DeadLetter) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) >= q.capacity {
		q.entries = q.entries[1:]
	}
	q.entries = append(q.entries, entry)
}

// Entries returns a copy of the queue, oldest first.
func (q *DeadLetterQueue) Entries() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.entries))
	copy(out, q.entries)
	return out
}

// Len returns the number of queued entries.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// Replay drains the queue through fn. Entries fn rejects are re-queued
// in order, so a partially failing replay loses nothing.
func (q *DeadLetterQueue) Replay(fn func(DeadLetter) error) (replayed int) {
	q.mu.Lock()
	drained := q.entries
	q.entries = nil
	q.mu.Unlock()

	for _, entry := range drained {
		if err := fn(entry); err != nil {
			q.Append(entry)
			continue
		}
		replayed++
	}
	return replayed
}
