package workload

import (
	"container/heap"
	"time"
)

// Queue is the time-ordered queue of due operations the tick loop drains
// a bounded prefix of, per spec.md §5 "Scheduling model". No third-party
// priority-queue implementation appears anywhere in the retrieved
// examples, so this uses container/heap the way the wider Go ecosystem
// does for the same problem — see DESIGN.md.
type Queue struct {
	items    itemHeap
	deadline time.Time
}

// NewQueue returns an empty queue with the given simulation deadline: past
// this time, tick stops scheduling new operations (spec.md §5
// "Cancellation").
func NewQueue(deadline time.Time) *Queue {
	q := &Queue{deadline: deadline}
	heap.Init(&q.items)
	return q
}

func (q *Queue) Deadline() time.Time { return q.deadline }

// Push enqueues an item to be dequeued once its ScheduledTime is reached.
func (q *Queue) Push(item Item) {
	heap.Push(&q.items, item)
}

// PopDue removes and returns the earliest item if it is due by now.
// It leaves the queue untouched and returns false otherwise.
func (q *Queue) PopDue(now time.Time) (Item, bool) {
	if len(q.items) == 0 {
		return Item{}, false
	}
	if q.items[0].ScheduledTime.After(now) {
		return Item{}, false
	}
	return heap.Pop(&q.items).(Item), true
}

func (q *Queue) Len() int { return len(q.items) }

type itemHeap []Item

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	return h[i].ScheduledTime.Before(h[j].ScheduledTime)
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(Item)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
