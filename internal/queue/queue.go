// Package queue carries inbound request contexts from the ingestion layer
// to the runner. It is the only structure shared between the two.
package queue

import (
	"log/slog"
	"sync"
	"time"

	"botflow/internal/domain"
)

const enqueueTimeout = 10 * time.Second

// Queue is a thread-safe FIFO of request contexts.
type Queue struct {
	inbound chan *domain.RequestContext
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger
}

// New creates a queue with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *Queue {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Queue{
		inbound: make(chan *domain.RequestContext, bufferSize),
		logger:  logger,
	}
}

// Enqueue hands a request to the runner without blocking the caller.
// Blocks up to 10 seconds if the queue is full instead of dropping.
func (q *Queue) Enqueue(rc *domain.RequestContext) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.logger.Warn("attempted to enqueue to closed queue")
		return
	}

	select {
	case q.inbound <- rc:
	default:
		q.logger.Warn("work queue full, waiting...",
			"service", rc.Request.ServiceIn,
			"sender", rc.Request.User.UserID,
		)
		timer := time.NewTimer(enqueueTimeout)
		defer timer.Stop()
		select {
		case q.inbound <- rc:
			q.logger.Info("request accepted after wait", "service", rc.Request.ServiceIn)
		case <-timer.C:
			q.logger.Error("request dropped: queue full for 10s",
				"service", rc.Request.ServiceIn,
				"sender", rc.Request.User.UserID,
			)
		}
	}
}

// Dequeue blocks up to timeout for the next request. ok is false on
// timeout or when the queue is closed and drained.
func (q *Queue) Dequeue(timeout time.Duration) (rc *domain.RequestContext, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case rc, open := <-q.inbound:
		if !open {
			return nil, false
		}
		return rc, true
	case <-timer.C:
		return nil, false
	}
}

// Len reports the number of queued requests.
func (q *Queue) Len() int {
	return len(q.inbound)
}

func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.closed {
		q.closed = true
		close(q.inbound)
	}
}
