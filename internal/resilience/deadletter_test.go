package resilience

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeadLetterQueueBoundedEviction(t *testing.T) {
	q := NewDeadLetterQueue(3)
	for i := 0; i < 5; i++ {
		q.Append(DeadLetter{Op: fmt.Sprintf("op-%d", i), FailedAt: time.Now()})
	}

	require.Equal(t, 3, q.Len())
	entries := q.Entries()
	assert.Equal(t, "op-2", entries[0].Op, "oldest surviving entry after eviction")
	assert.Equal(t, "op-4", entries[2].Op)
}

func TestDeadLetterQueuePreservesPayload(t *testing.T) {
	q := NewDeadLetterQueue(10)
	q.Append(DeadLetter{Op: "memory.working.remove", Payload: "threat-42", Reason: "unavailable", Attempts: 3})

	entries := q.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "threat-42", entries[0].Payload)
	assert.Equal(t, 3, entries[0].Attempts)
}

func TestDeadLetterQueueReplayRequeuesFailures(t *testing.T) {
	q := NewDeadLetterQueue(10)
	q.Append(DeadLetter{Op: "ok-1", Payload: "a"})
	q.Append(DeadLetter{Op: "bad", Payload: "b"})
	q.Append(DeadLetter{Op: "ok-2", Payload: "c"})

	replayed := q.Replay(func(dl DeadLetter) error {
		if dl.Op == "bad" {
			return errors.New("still failing")
		}
		return nil
	})

	assert.Equal(t, 2, replayed)
	require.Equal(t, 1, q.Len())
	assert.Equal(t, "bad", q.Entries()[0].Op)
}

func TestDeadLetterQueueEntriesReturnsCopy(t *testing.T) {
	q := NewDeadLetterQueue(10)
	q.Append(DeadLetter{Op: "op"})

	entries := q.Entries()
	entries[0].Op = "mutated"
	assert.Equal(t, "op", q.Entries()[0].Op)
}
