package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/queue"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/retry"
)

type PoolConfig struct {
	Workers   int
	BatchSize int
	IdleBase  time.Duration
	IdleMax   time.Duration
}

type Stats struct {
	Batches     int64
	Processed   int64
	Completed   int64
	Failed      int64
	Noop        int64
	Retried     int64
	Errors      int64
	MaxInFlight int64
}

// Pool runs independent pull loops. Each loop receives one bounded batch,
// processes it concurrently and waits for every job before receiving again.
type Pool struct {
	receiver  queue.Receiver
	processor *Processor
	config    PoolConfig
	logger    zerolog.Logger

	batches     atomic.Int64
	processed   atomic.Int64
	completed   atomic.Int64
	failed      atomic.Int64
	noop        atomic.Int64
	retried     atomic.Int64
	errors      atomic.Int64
	maxInFlight atomic.Int64
}

func NewPool(receiver queue.Receiver, processor *Processor, config PoolConfig, logger zerolog.Logger) *Pool {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 5
	}
	if config.BatchSize > queue.MaxReceiveBatch {
		config.BatchSize = queue.MaxReceiveBatch
	}
	if config.IdleBase <= 0 {
		config.IdleBase = 500 * time.Millisecond
	}
	if config.IdleMax <= 0 {
		config.IdleMax = 20 * time.Second
	}
	return &Pool{
		receiver:  receiver,
		processor: processor,
		config:    config,
		logger:    logger,
	}
}

// Run blocks until ctx is cancelled.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for index := 0; index < p.config.Workers; index++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			p.loop(ctx, workerID)
		}(index + 1)
	}
	p.logger.Info().
		Int("workers", p.config.Workers).
		Int("batch_size", p.config.BatchSize).
		Msg("worker pool started")
	wg.Wait()
	p.logger.Info().Interface("stats", p.Stats()).Msg("worker pool stopped")
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	logger := p.logger.With().Int("worker", workerID).Logger()
	emptyPolls := 0
	receiveErrors := 0

	for ctx.Err() == nil {
		handled, err := p.PollOnce(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			receiveErrors++
			delay := retry.NextDelay(receiveErrors-1, p.config.IdleBase, p.config.IdleMax)
			logger.Error().Err(err).Dur("retry_in", delay).Msg("receive failed")
			_ = retry.Sleep(ctx, delay)
		case handled == 0:
			receiveErrors = 0
			emptyPolls++
			_ = retry.Sleep(ctx, IdleDelay(emptyPolls, p.config.IdleBase, p.config.IdleMax))
		default:
			receiveErrors = 0
			emptyPolls = 0
		}
	}
}

// PollOnce receives at most one batch and processes it to completion.
func (p *Pool) PollOnce(ctx context.Context) (int, error) {
	batch, err := p.receiver.Receive(ctx, p.config.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(batch) == 0 {
		return 0, nil
	}
	p.batches.Add(1)
	p.runBatch(ctx, batch)
	return len(batch), nil
}

func (p *Pool) runBatch(ctx context.Context, batch []domain.Delivery) {
	var inFlight atomic.Int64
	var group errgroup.Group
	group.SetLimit(len(batch))

	for _, delivery := range batch {
		group.Go(func() error {
			p.observeInFlight(inFlight.Add(1))
			defer inFlight.Add(-1)

			outcome, err := p.processor.Process(ctx, delivery)
			p.record(outcome, err)
			if err != nil && outcome != OutcomeRetry {
				p.logger.Error().Err(err).
					Str("document_id", delivery.Job.DocumentID).
					Str("outcome", string(outcome)).
					Msg("delivery handling failed")
			}
			return nil
		})
	}
	_ = group.Wait()
}

func (p *Pool) observeInFlight(current int64) {
	for {
		seen := p.maxInFlight.Load()
		if current <= seen || p.maxInFlight.CompareAndSwap(seen, current) {
			return
		}
	}
}

func (p *Pool) record(outcome Outcome, err error) {
	p.processed.Add(1)
	switch outcome {
	case OutcomeCompleted:
		p.completed.Add(1)
	case OutcomeFailed, OutcomeOrphan:
		p.failed.Add(1)
	case OutcomeNoop:
		p.noop.Add(1)
	case OutcomeRetry:
		p.retried.Add(1)
	}
	if err != nil && outcome != OutcomeRetry {
		p.errors.Add(1)
	}
}

func (p *Pool) Stats() Stats {
	return Stats{
		Batches:     p.batches.Load(),
		Processed:   p.processed.Load(),
		Completed:   p.completed.Load(),
		Failed:      p.failed.Load(),
		Noop:        p.noop.Load(),
		Retried:     p.retried.Load(),
		Errors:      p.errors.Load(),
		MaxInFlight: p.maxInFlight.Load(),
	}
}

// IdleDelay is the pause after emptyPolls consecutive empty receives.
func IdleDelay(emptyPolls int, base, max time.Duration) time.Duration {
	if emptyPolls <= 0 {
		return 0
	}
	return retry.NextDelay(emptyPolls-1, base, max)
}
