package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
)

var (
	ErrQueueBackpressure = errors.New("queue backpressure: enqueue buffer is full")
	ErrBatchingClosed    = errors.New("batching producer is closed")
)

type BatchingConfig struct {
	MaxBatchSize       int
	FlushInterval      time.Duration
	FlushTimeout       time.Duration
	QueueCapacity      int
	MaxInFlightBatches int
}

type batchCapableProducer interface {
	EnqueueBatch(ctx context.Context, jobs []domain.Job) error
}

type pendingJob struct {
	ctx  context.Context
	job  domain.Job
	done chan error
}

// BatchingProducer coalesces enqueues that arrive within FlushInterval into one
// write against the base producer. Every caller still waits for the write that
// carried its job, so a nil return means the job is durable in the base queue.
//
// A full buffer fails fast with ErrQueueBackpressure. Jobs for the same
// document inside one window are written once and all their callers share the
// result.
type BatchingProducer struct {
	base    Producer
	batcher batchCapableProducer
	config  BatchingConfig

	in         chan pendingJob
	stop       chan struct{}
	done       chan struct{}
	closeOnce  sync.Once
	parentDone <-chan struct{}
	flushes    errgroup.Group
}

func NewBatchingProducer(parent context.Context, base Producer, cfg BatchingConfig) *BatchingProducer {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 32
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 25 * time.Millisecond
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 3 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 2048
	}
	if cfg.MaxInFlightBatches <= 0 {
		cfg.MaxInFlightBatches = 4
	}

	p := &BatchingProducer{
		base:       base,
		config:     cfg,
		in:         make(chan pendingJob, cfg.QueueCapacity),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		parentDone: parent.Done(),
	}
	p.batcher, _ = base.(batchCapableProducer)
	p.flushes.SetLimit(cfg.MaxInFlightBatches)

	go p.run()
	return p
}

func (p *BatchingProducer) Enqueue(ctx context.Context, job domain.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-p.done:
		return ErrBatchingClosed
	default:
	}

	pending := pendingJob{ctx: ctx, job: job, done: make(chan error, 1)}
	select {
	case p.in <- pending:
	default:
		return ErrQueueBackpressure
	}

	select {
	case err := <-pending.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		select {
		case err := <-pending.done:
			return err
		default:
			return ErrBatchingClosed
		}
	}
}

// Close flushes everything already buffered and waits for in-flight writes.
func (p *BatchingProducer) Close() {
	p.closeOnce.Do(func() {
		close(p.stop)
		<-p.done
	})
}

func (p *BatchingProducer) run() {
	defer close(p.done)

	buffer := make([]pendingJob, 0, p.config.MaxBatchSize)
	timer := time.NewTimer(p.config.FlushInterval)
	timer.Stop()

	for {
		select {
		case <-p.parentDone:
			p.shutdown(buffer, timer)
			return
		case <-p.stop:
			p.shutdown(buffer, timer)
			return
		case <-timer.C:
			buffer = p.dispatch(buffer)
		case pending := <-p.in:
			buffer = append(buffer, pending)
			if len(buffer) == 1 {
				timer.Reset(p.config.FlushInterval)
			}
			if len(buffer) >= p.config.MaxBatchSize {
				timer.Stop()
				buffer = p.dispatch(buffer)
			}
		}
	}
}

func (p *BatchingProducer) shutdown(buffer []pendingJob, timer *time.Timer) {
	timer.Stop()
	for {
		select {
		case pending := <-p.in:
			buffer = append(buffer, pending)
			continue
		default:
		}
		break
	}
	p.dispatch(buffer)
	_ = p.flushes.Wait()
}

// dispatch hands the buffer to a flush goroutine. It blocks while
// MaxInFlightBatches writes are running, which lets the input buffer fill and
// turns into backpressure for callers.
func (p *BatchingProducer) dispatch(buffer []pendingJob) []pendingJob {
	if len(buffer) == 0 {
		return buffer
	}
	batch := buffer
	p.flushes.Go(func() error {
		p.write(batch)
		return nil
	})
	return make([]pendingJob, 0, p.config.MaxBatchSize)
}

func (p *BatchingProducer) write(batch []pendingJob) {
	waiters := make(map[string][]pendingJob, len(batch))
	jobs := make([]domain.Job, 0, len(batch))
	for _, pending := range batch {
		if err := pending.ctx.Err(); err != nil {
			pending.done <- err
			continue
		}
		id := pending.job.DocumentID
		if _, seen := waiters[id]; !seen {
			jobs = append(jobs, pending.job)
		}
		waiters[id] = append(waiters[id], pending)
	}
	if len(jobs) == 0 {
		return
	}

	// Jobs of one owner stay adjacent and in enqueue order.
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].OwnerID == jobs[j].OwnerID {
			return jobs[i].EnqueuedAt.Before(jobs[j].EnqueuedAt)
		}
		return jobs[i].OwnerID < jobs[j].OwnerID
	})

	ctx, cancel := context.WithTimeout(context.Background(), p.config.FlushTimeout)
	defer cancel()

	results := make(map[string]error, len(jobs))
	if p.batcher != nil {
		err := p.batcher.EnqueueBatch(ctx, jobs)
		for _, job := range jobs {
			results[job.DocumentID] = err
		}
	} else {
		for _, job := range jobs {
			results[job.DocumentID] = p.base.Enqueue(ctx, job)
		}
	}

	for id, pendings := range waiters {
		for _, pending := range pendings {
			pending.done <- results[id]
		}
	}
}
