package queue

import (
	"sync"

	"github.com/ghalamif/AegisRT/internal/domain"
	"github.com/ghalamif/AegisRT/internal/ports"
)

// MemQueue is a bounded in-memory FIFO of observations. Enqueue never blocks;
// when the queue is full the observation is rejected and counted.
type MemQueue struct {
	mu      sync.Mutex
	data    []domain.Observation
	cap     int
	dropped uint64
}

func NewMemQueue(capacity int) *MemQueue {
	if capacity <= 0 {
		capacity = 1
	}
	return &MemQueue{
		data: make([]domain.Observation, 0, capacity),
		cap:  capacity,
	}
}

func (q *MemQueue) Enqueue(o domain.Observation) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) >= q.cap {
		q.dropped++
		return false
	}
	q.data = append(q.data, o)
	return true
}

// Drain removes up to max observations in arrival order. max <= 0 drains all.
func (q *MemQueue) Drain(max int) []domain.Observation {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.data) == 0 {
		return nil
	}
	if max <= 0 || max > len(q.data) {
		max = len(q.data)
	}
	out := make([]domain.Observation, max)
	copy(out, q.data[:max])
	q.data = append(q.data[:0], q.data[max:]...)
	return out
}

func (q *MemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// Dropped reports how many observations were rejected because the queue was full.
func (q *MemQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

var _ ports.ObservationQueue = (*MemQueue)(nil)
