package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/ai"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/cache"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/queue"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/repository"
)

// Outcome is what happened to one delivery.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	// OutcomeNoop acks a job whose document is already terminal.
	OutcomeNoop Outcome = "duplicate_noop"
	// OutcomeNotReady leaves the job for redelivery; the document is not
	// waiting for a summary yet.
	OutcomeNotReady  Outcome = "not_ready"
	OutcomeLeaseHeld Outcome = "lease_held"
	OutcomeRetry     Outcome = "retry"
	OutcomeFailed    Outcome = "failed"
	OutcomeOrphan    Outcome = "orphan"
	OutcomeTransient Outcome = "transient_error"
)

const leaseKeyPrefix = "lease:"

type ProcessorConfig struct {
	MaxAttempts int
	LeaseTTL    time.Duration
}

// Processor handles a single delivery. It never returns a delivery to the
// queue explicitly; anything not acked is redelivered after the ack deadline.
type Processor struct {
	repo       repository.DocumentsRepository
	receiver   queue.Receiver
	summarizer ai.Summarizer
	cache      cache.StatusCache
	leases     cache.KeyStore
	config     ProcessorConfig
	logger     zerolog.Logger
}

func NewProcessor(
	repo repository.DocumentsRepository,
	receiver queue.Receiver,
	summarizer ai.Summarizer,
	statusCache cache.StatusCache,
	leases cache.KeyStore,
	config ProcessorConfig,
	logger zerolog.Logger,
) *Processor {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = 60 * time.Second
	}
	return &Processor{
		repo:       repo,
		receiver:   receiver,
		summarizer: summarizer,
		cache:      statusCache,
		leases:     leases,
		config:     config,
		logger:     logger,
	}
}

func (p *Processor) Process(ctx context.Context, delivery domain.Delivery) (Outcome, error) {
	documentID := delivery.Job.DocumentID
	logger := p.logger.With().
		Str("document_id", documentID).
		Int("attempt", delivery.Attempt).
		Logger()

	doc, err := p.repo.Get(ctx, documentID)
	if errors.Is(err, domain.ErrNotFound) {
		logger.Warn().Msg("job references unknown document")
		return OutcomeOrphan, p.receiver.DeadLetter(ctx, delivery, "document not found")
	}
	if err != nil {
		return OutcomeTransient, fmt.Errorf("load document %s: %w", documentID, err)
	}

	if doc.Status.IsTerminal() {
		logger.Debug().Str("status", string(doc.Status)).Msg("document already terminal")
		return OutcomeNoop, p.ack(ctx, delivery)
	}
	if doc.Status != domain.StatusProcessingSummary {
		return OutcomeNotReady, nil
	}

	if delivery.Attempt > p.config.MaxAttempts {
		reason := fmt.Sprintf("summarization attempts exhausted after %d deliveries", delivery.Attempt-1)
		return p.fail(ctx, logger, delivery, reason)
	}

	token := uuid.NewString()
	acquired, err := p.acquireLease(ctx, documentID, token)
	if err != nil {
		return OutcomeTransient, err
	}
	if !acquired {
		logger.Debug().Msg("document leased by another worker")
		return OutcomeLeaseHeld, nil
	}
	defer p.releaseLease(ctx, documentID, token)

	started := time.Now()
	summary, err := p.summarizer.Summarize(ctx, doc.ExtractedText)
	if err == nil && strings.TrimSpace(summary) == "" {
		err = errors.New("empty summary")
	}
	if err != nil {
		failure := &domain.SummarizationFailure{DocumentID: documentID, Attempt: delivery.Attempt, Err: err}
		if delivery.Attempt >= p.config.MaxAttempts {
			return p.fail(ctx, logger, delivery, "summarization attempts exhausted: "+err.Error())
		}
		logger.Warn().Err(err).Int64("duration_ms", time.Since(started).Milliseconds()).Msg("summarization failed, awaiting redelivery")
		return OutcomeRetry, failure
	}

	updated, err := p.repo.Transition(ctx, documentID, domain.StatusProcessingSummary, domain.Update{
		Status:  domain.StatusCompleted,
		Summary: strings.TrimSpace(summary),
	})
	if errors.Is(err, domain.ErrStaleStatus) {
		logger.Info().Msg("document finished by a concurrent writer")
		return OutcomeNoop, p.ack(ctx, delivery)
	}
	if err != nil {
		return OutcomeTransient, fmt.Errorf("complete document %s: %w", documentID, err)
	}

	p.writeThrough(ctx, updated)
	logger.Info().
		Int64("duration_ms", time.Since(started).Milliseconds()).
		Dur("queue_age", delivery.Age(time.Now())).
		Msg("document summarized")
	return OutcomeCompleted, p.ack(ctx, delivery)
}

func (p *Processor) fail(ctx context.Context, logger zerolog.Logger, delivery domain.Delivery, reason string) (Outcome, error) {
	updated, err := p.repo.Transition(ctx, delivery.Job.DocumentID, domain.StatusProcessingSummary, domain.Update{
		Status:       domain.StatusFailed,
		ErrorMessage: reason,
	})
	switch {
	case errors.Is(err, domain.ErrStaleStatus):
		return OutcomeNoop, p.ack(ctx, delivery)
	case err != nil:
		return OutcomeTransient, fmt.Errorf("fail document %s: %w", delivery.Job.DocumentID, err)
	}

	p.writeThrough(ctx, updated)
	logger.Error().Str("reason", reason).Msg("document failed, job dead-lettered")
	return OutcomeFailed, p.receiver.DeadLetter(ctx, delivery, reason)
}

func (p *Processor) ack(ctx context.Context, delivery domain.Delivery) error {
	if err := p.receiver.Ack(ctx, delivery); err != nil {
		return fmt.Errorf("ack %s: %w", delivery.ID, err)
	}
	return nil
}

func (p *Processor) acquireLease(ctx context.Context, documentID, token string) (bool, error) {
	if p.leases == nil {
		return true, nil
	}
	acquired, err := p.leases.SetIfAbsent(ctx, leaseKeyPrefix+documentID, token, p.config.LeaseTTL)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return acquired, nil
}

// releaseLease only removes the lease this delivery still holds. Once it has
// expired another worker may own the key.
func (p *Processor) releaseLease(ctx context.Context, documentID, token string) {
	if p.leases == nil {
		return
	}
	released, err := p.leases.DeleteIfValue(context.WithoutCancel(ctx), leaseKeyPrefix+documentID, token)
	if err != nil {
		p.logger.Warn().Err(err).Str("document_id", documentID).Msg("lease release failed")
		return
	}
	if !released {
		p.logger.Debug().Str("document_id", documentID).Msg("lease expired before release")
	}
}

func (p *Processor) writeThrough(ctx context.Context, doc *domain.Document) {
	if p.cache == nil || doc == nil {
		return
	}
	if err := p.cache.Set(ctx, doc); err != nil {
		p.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("status cache write failed")
	}
}
