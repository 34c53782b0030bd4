package queue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
)

var ErrUnknownReceipt = errors.New("unknown or expired receipt")

type localEntry struct {
	id             string
	job            domain.Job
	attempts       int
	invisibleUntil time.Time
	receipt        string
}

// LocalQueue is an in-process queue used when Redis is not configured.
// It keeps the visibility timeout and attempt counting of a real broker.
type LocalQueue struct {
	mu         sync.Mutex
	entries    []*localEntry
	dlq        []DeadLetter
	visibility time.Duration
	seq        uint64
	logger     zerolog.Logger
	now        func() time.Time
}

func NewLocalQueue(visibility time.Duration, logger zerolog.Logger) *LocalQueue {
	if visibility <= 0 {
		visibility = 60 * time.Second
	}
	return &LocalQueue{
		entries:    make([]*localEntry, 0),
		dlq:        make([]DeadLetter, 0),
		visibility: visibility,
		logger:     logger,
		now:        time.Now,
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, job domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = q.now().UTC()
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.entries = append(q.entries, &localEntry{
		id:  strconv.FormatUint(q.seq, 10),
		job: job,
	})
	return nil
}

func (q *LocalQueue) Receive(ctx context.Context, max int) ([]domain.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	max = clampBatch(max)
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	deliveries := make([]domain.Delivery, 0, max)
	for _, entry := range q.entries {
		if len(deliveries) == max {
			break
		}
		if now.Before(entry.invisibleUntil) {
			continue
		}
		entry.attempts++
		entry.invisibleUntil = now.Add(q.visibility)
		entry.receipt = entry.id + "-" + strconv.Itoa(entry.attempts)

		job := entry.job
		job.AttemptCount = entry.attempts
		deliveries = append(deliveries, domain.Delivery{
			ID:      entry.receipt,
			Job:     job,
			Attempt: entry.attempts,
		})
	}
	return deliveries, nil
}

// Ack removes the message. A receipt from an earlier, expired delivery is rejected.
func (q *LocalQueue) Ack(_ context.Context, delivery domain.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	index := q.indexOfReceipt(delivery.ID)
	if index < 0 {
		return ErrUnknownReceipt
	}
	q.entries = append(q.entries[:index], q.entries[index+1:]...)
	return nil
}

func (q *LocalQueue) DeadLetter(_ context.Context, delivery domain.Delivery, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	index := q.indexOfReceipt(delivery.ID)
	if index < 0 {
		return ErrUnknownReceipt
	}
	q.entries = append(q.entries[:index], q.entries[index+1:]...)
	q.dlq = append(q.dlq, DeadLetter{Delivery: delivery, Reason: reason})
	q.logger.Warn().
		Str("document_id", delivery.Job.DocumentID).
		Int("attempt", delivery.Attempt).
		Str("reason", reason).
		Msg("local queue moved message to DLQ")
	return nil
}

func (q *LocalQueue) Backlog(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.entries)), nil
}

func (q *LocalQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dlq...)
}

func (q *LocalQueue) DLQSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dlq)
}

func (q *LocalQueue) indexOfReceipt(receipt string) int {
	for index, entry := range q.entries {
		if entry.receipt != "" && entry.receipt == receipt {
			return index
		}
	}
	return -1
}
