// Package memory provides an in-process Queue used by tests and local
// development without a broker.
package memory

import (
	"sync"

	"github.com/finsentry/fraud-risk-service/internal/domain"
)

// Queue buffers task payloads in memory. Enqueue never blocks; a test drains
// payloads via Drain or pops them one by one via Pop.
type Queue struct {
	mu       sync.Mutex
	payloads []domain.TaskPayload

	// FailWith, when set, makes Enqueue return that error. Used by tests to
	// exercise broker-unavailable paths.
	FailWith error
}

// NewQueue returns an empty Queue.
func NewQueue() *Queue { return &Queue{} }

func (q *Queue) Enqueue(_ domain.Context, payload domain.TaskPayload) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.FailWith != nil {
		return q.FailWith
	}
	q.payloads = append(q.payloads, payload)
	return nil
}

// Pop removes and returns the oldest payload, if any.
func (q *Queue) Pop() (domain.TaskPayload, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.payloads) == 0 {
		return domain.TaskPayload{}, false
	}
	p := q.payloads[0]
	q.payloads = q.payloads[1:]
	return p, true
}

// Drain returns all buffered payloads and empties the queue.
func (q *Queue) Drain() []domain.TaskPayload {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.payloads
	q.payloads = nil
	return out
}

// Len reports the number of buffered payloads.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.payloads)
}
