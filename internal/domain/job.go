package domain

import "time"

// Job asks a worker to summarize one document. It references the document and
// never carries lifecycle state of its own.
type Job struct {
	DocumentID   string    `json:"document_id"`
	OwnerID      string    `json:"owner_id"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	AttemptCount int       `json:"attempt_count"`
}

// Delivery is a job handed to a consumer together with the queue receipt needed
// to acknowledge it. Attempt starts at 1 for the first delivery.
type Delivery struct {
	ID      string
	Job     Job
	Attempt int
}

// Age reports how long the job waited since it was enqueued.
func (d Delivery) Age(now time.Time) time.Duration {
	if d.Job.EnqueuedAt.IsZero() {
		return 0
	}
	return now.Sub(d.Job.EnqueuedAt)
}
