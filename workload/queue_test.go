package workload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePopDueOrdersByScheduledTime(t *testing.T) {
	base := time.Now()
	q := NewQueue(base.Add(time.Hour))
	q.Push(Item{Key: 3, ScheduledTime: base.Add(3 * time.Second)})
	q.Push(Item{Key: 1, ScheduledTime: base.Add(1 * time.Second)})
	q.Push(Item{Key: 2, ScheduledTime: base.Add(2 * time.Second)})

	item, ok := q.PopDue(base.Add(10 * time.Second))
	require.True(t, ok)
	assert.Equal(t, uint64(1), item.Key)

	item, ok = q.PopDue(base.Add(10 * time.Second))
	require.True(t, ok)
	assert.Equal(t, uint64(2), item.Key)
}

func TestQueuePopDueWithholdsNotYetDueItems(t *testing.T) {
	base := time.Now()
	q := NewQueue(base.Add(time.Hour))
	q.Push(Item{Key: 1, ScheduledTime: base.Add(time.Minute)})

	_, ok := q.PopDue(base)
	assert.False(t, ok, "item scheduled in the future must not be popped early")
	assert.Equal(t, 1, q.Len())
}

func TestQueuePopDueEmpty(t *testing.T) {
	q := NewQueue(time.Now())
	_, ok := q.PopDue(time.Now())
	assert.False(t, ok)
}
