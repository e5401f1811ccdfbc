package billing

import (
	"container/heap"
	"context"
	"sync"
	"time"

	"github.com/core-coin/x402/internal/models"
)

// MemoryQueue is a process-local TaskQueue ordered by due time.
// Pending tasks are lost on restart; use the Postgres queue for durability.
type MemoryQueue struct {
	mu    sync.Mutex
	items taskHeap
	byID  map[string]*queued
}

type queued struct {
	task  *models.ScheduledTask
	index int
}

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{byID: make(map[string]*queued)}
}

func (q *MemoryQueue) Schedule(_ context.Context, task *models.ScheduledTask) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := *task
	if existing, ok := q.byID[t.ID]; ok {
		existing.task = &t
		heap.Fix(&q.items, existing.index)
		return nil
	}
	item := &queued{task: &t}
	q.byID[t.ID] = item
	heap.Push(&q.items, item)
	return nil
}

func (q *MemoryQueue) CancelFor(_ context.Context, subscriptionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, item := range q.byID {
		if item.task.SubscriptionID == subscriptionID {
			heap.Remove(&q.items, item.index)
			delete(q.byID, id)
		}
	}
	return nil
}

func (q *MemoryQueue) PopDue(_ context.Context, now time.Time, limit int) ([]*models.ScheduledTask, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*models.ScheduledTask
	for q.items.Len() > 0 && (limit <= 0 || len(due) < limit) {
		next := q.items[0]
		if next.task.DueAt.After(now) {
			break
		}
		heap.Pop(&q.items)
		delete(q.byID, next.task.ID)
		due = append(due, next.task)
	}
	return due, nil
}

// Len returns the number of pending tasks.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

type taskHeap []*queued

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.DueAt.Equal(h[j].task.DueAt) {
		return h[i].task.ID < h[j].task.ID
	}
	return h[i].task.DueAt.Before(h[j].task.DueAt)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x interface{}) {
	item := x.(*queued)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
