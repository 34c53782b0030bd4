package queue

import (
	"context"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
)

// MaxReceiveBatch bounds a single Receive call regardless of the requested size.
const MaxReceiveBatch = 10

// Producer sends summarization jobs to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, job domain.Job) error
}

// Receiver hands out jobs in bounded batches with at-least-once delivery.
// A delivery that is neither acked nor dead-lettered becomes visible again
// once the backend's ack deadline passes.
type Receiver interface {
	Receive(ctx context.Context, max int) ([]domain.Delivery, error)
	Ack(ctx context.Context, delivery domain.Delivery) error
	DeadLetter(ctx context.Context, delivery domain.Delivery, reason string) error
}

// BacklogReporter exposes the number of jobs not yet acknowledged.
type BacklogReporter interface {
	Backlog(ctx context.Context) (int64, error)
}

// DeadLetter is a job parked after exhausting its delivery attempts.
type DeadLetter struct {
	Delivery domain.Delivery
	Reason   string
}

func clampBatch(max int) int {
	if max <= 0 {
		return 1
	}
	if max > MaxReceiveBatch {
		return MaxReceiveBatch
	}
	return max
}
