package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/cache"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/repository"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/retry"
)

var ErrPollExhausted = errors.New("document did not reach a terminal status in time")

type DocumentsService struct {
	repo   repository.DocumentsRepository
	cache  cache.StatusCache
	logger zerolog.Logger
}

func NewDocumentsService(repo repository.DocumentsRepository, statusCache cache.StatusCache, logger zerolog.Logger) *DocumentsService {
	return &DocumentsService{repo: repo, cache: statusCache, logger: logger}
}

// Get serves from the status cache when it holds the owner's document and
// falls back to the store otherwise.
func (s *DocumentsService) Get(ctx context.Context, ownerID, documentID string) (*domain.Document, error) {
	if s.cache != nil {
		if doc, ok := s.cache.Get(ctx, documentID); ok {
			if doc.OwnerID != ownerID {
				return nil, domain.ErrNotFound
			}
			return doc, nil
		}
	}

	doc, err := s.repo.GetOwned(ctx, ownerID, documentID)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, doc); err != nil {
			s.logger.Warn().Err(err).Str("document_id", documentID).Msg("status cache fill failed")
		}
	}
	return doc, nil
}

func (s *DocumentsService) List(ctx context.Context, ownerID string, limit, skip int) ([]*domain.Document, int, int, error) {
	limit, skip = repository.NormalizePage(limit, skip)
	docs, err := s.repo.List(ctx, ownerID, limit, skip)
	if err != nil {
		return nil, limit, skip, err
	}
	return docs, limit, skip, nil
}

type PollPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
}

// PollUntilTerminal re-reads the document until it completes or fails.
func (s *DocumentsService) PollUntilTerminal(ctx context.Context, ownerID, documentID string, policy PollPolicy) (*domain.Document, error) {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 10
	}
	if policy.Initial <= 0 {
		policy.Initial = 500 * time.Millisecond
	}
	if policy.Max <= 0 {
		policy.Max = 10 * time.Second
	}

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		doc, err := s.Get(ctx, ownerID, documentID)
		if err != nil {
			return nil, err
		}
		if doc.Status.IsTerminal() {
			return doc, nil
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}
		if err := retry.Sleep(ctx, retry.NextDelay(attempt, policy.Initial, policy.Max)); err != nil {
			return nil, err
		}
	}
	return nil, ErrPollExhausted
}
