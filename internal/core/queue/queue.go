package queue

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// ErrQueueFull is the admission rejection: the queue is at capacity and the
// submission is refused immediately rather than blocking the caller.
var ErrQueueFull = errors.New("job queue is full")

// ErrClosed is returned from Dequeue once the queue is shut down and drained.
var ErrClosed = errors.New("job queue is closed")

// Queue is a bounded FIFO of pending job IDs feeding the worker pool. It
// holds identifiers only and never touches job state.
type Queue struct {
	ch      chan string
	maxSize int
}

func New(maxSize int) *Queue {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &Queue{
		ch:      make(chan string, maxSize),
		maxSize: maxSize,
	}
}

// Enqueue admits a job ID without blocking. When the queue is at capacity
// it returns ErrQueueFull and the ID is not enqueued.
func (q *Queue) Enqueue(id string) error {
	select {
	case q.ch <- id:
		log.Debug().Str("job_id", id).Int("queue_size", len(q.ch)).Msg("job enqueued")
		return nil
	default:
		log.Warn().Str("job_id", id).Msg("queue full, job rejected")
		return ErrQueueFull
	}
}

// Dequeue blocks until a job ID is available, the context is cancelled, or
// the queue is closed and drained. IDs come out in FIFO order.
func (q *Queue) Dequeue(ctx context.Context) (string, error) {
	select {
	case id, ok := <-q.ch:
		if !ok {
			return "", ErrClosed
		}
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops admission permanently. Pending IDs remain dequeueable.
func (q *Queue) Close() {
	close(q.ch)
}

// Size is a point-in-time observation, advisory under concurrent mutation.
func (q *Queue) Size() int { return len(q.ch) }

func (q *Queue) MaxSize() int { return q.maxSize }

func (q *Queue) IsFull() bool { return len(q.ch) == q.maxSize }

func (q *Queue) IsEmpty() bool { return len(q.ch) == 0 }

// Stats is the queue statistics snapshot.
type Stats struct {
	CurrentSize int  `json:"current_size"`
	MaxSize     int  `json:"max_size"`
	IsFull      bool `json:"is_full"`
	IsEmpty     bool `json:"is_empty"`
}

func (q *Queue) Stats() Stats {
	n := len(q.ch)
	return Stats{
		CurrentSize: n,
		MaxSize:     q.maxSize,
		IsFull:      n == q.maxSize,
		IsEmpty:     n == 0,
	}
}
