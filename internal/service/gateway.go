package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/ai"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/cache"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/pdf"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/queue"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/repository"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/retry"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/storage"
)

const (
	MaxDisplayNameLength = 255

	errSummarizationUnreachable = "summarization unreachable"
)

type GatewayConfig struct {
	MaxImageBytes      int64
	MaxPDFBytes        int64
	MaxPDFPages        int
	EnqueueMaxAttempts int
	EnqueueBackoff     time.Duration
}

type SubmitRequest struct {
	OwnerID     string
	DisplayName string
	FileType    domain.FileType
	ContentType string
	Data        []byte
}

type SubmitResult struct {
	DocumentID    string
	DisplayName   string
	ExtractedText string
	Status        domain.DocumentStatus
}

// Gateway runs the synchronous half of the pipeline: validate, persist,
// extract and hand the document to the summarization queue.
type Gateway struct {
	repo      repository.DocumentsRepository
	blobs     storage.BlobStore
	extractor ai.Extractor
	producer  queue.Producer
	cache     cache.StatusCache
	inspect   func([]byte) (pdf.Info, error)
	config    GatewayConfig
	logger    zerolog.Logger
	newID     func() string
	now       func() time.Time
}

func NewGateway(
	repo repository.DocumentsRepository,
	blobs storage.BlobStore,
	extractor ai.Extractor,
	producer queue.Producer,
	statusCache cache.StatusCache,
	config GatewayConfig,
	logger zerolog.Logger,
) *Gateway {
	if config.MaxImageBytes <= 0 {
		config.MaxImageBytes = 5 << 20
	}
	if config.MaxPDFBytes <= 0 {
		config.MaxPDFBytes = 10 << 20
	}
	if config.MaxPDFPages <= 0 {
		config.MaxPDFPages = 20
	}
	if config.EnqueueMaxAttempts <= 0 {
		config.EnqueueMaxAttempts = 3
	}
	if config.EnqueueBackoff <= 0 {
		config.EnqueueBackoff = 200 * time.Millisecond
	}
	return &Gateway{
		repo:      repo,
		blobs:     blobs,
		extractor: extractor,
		producer:  producer,
		cache:     statusCache,
		inspect:   pdf.Inspect,
		config:    config,
		logger:    logger,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

func (g *Gateway) Submit(ctx context.Context, request SubmitRequest) (*SubmitResult, error) {
	request.OwnerID = strings.TrimSpace(request.OwnerID)
	request.DisplayName = strings.TrimSpace(request.DisplayName)

	pageCount, err := g.validate(request)
	if err != nil {
		return nil, err
	}

	now := g.now().UTC()
	doc := &domain.Document{
		ID:          g.newID(),
		OwnerID:     request.OwnerID,
		DisplayName: request.DisplayName,
		FileType:    request.FileType,
		Status:      domain.StatusUploading,
		PageCount:   pageCount,
		SizeBytes:   int64(len(request.Data)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := g.repo.Create(ctx, doc); err != nil {
		return nil, err
	}
	// Once the record exists the pipeline must reach processing_summary with a
	// queued job or failed. A client disconnect does not stop it; the
	// extraction timeout and the enqueue attempts bound the remaining work.
	ctx = context.WithoutCancel(ctx)

	logger := g.logger.With().Str("document_id", doc.ID).Str("owner_id", doc.OwnerID).Logger()

	key := storage.ObjectKey(doc.OwnerID, doc.ID, doc.DisplayName, extensionFor(request))
	uri, err := g.blobs.Put(ctx, key, request.ContentType, request.Data)
	if err != nil {
		logger.Error().Err(err).Msg("raw upload failed")
		g.markFailed(ctx, doc.ID, domain.StatusUploading, "upload failed: "+err.Error())
		return nil, fmt.Errorf("store upload: %w", err)
	}

	doc, err = g.repo.Transition(ctx, doc.ID, domain.StatusUploading, domain.Update{
		Status:    domain.StatusProcessingExtraction,
		SourceURI: uri,
	})
	if err != nil {
		return nil, fmt.Errorf("start extraction: %w", err)
	}
	g.writeThrough(ctx, doc)

	started := time.Now()
	text, err := g.extractor.Extract(ctx, ai.Source{
		FileType:    request.FileType,
		ContentType: request.ContentType,
		Data:        request.Data,
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = errors.New("no text found")
	}
	if err != nil {
		logger.Warn().Err(err).Int64("duration_ms", time.Since(started).Milliseconds()).Msg("extraction failed")
		g.markFailed(ctx, doc.ID, domain.StatusProcessingExtraction, "extraction failed: "+err.Error())
		return nil, &domain.ExtractionFailure{DocumentID: doc.ID, Err: err}
	}
	logger.Info().Int64("duration_ms", time.Since(started).Milliseconds()).Int("chars", len(text)).Msg("text extracted")

	doc, err = g.repo.Transition(ctx, doc.ID, domain.StatusProcessingExtraction, domain.Update{
		Status:        domain.StatusProcessingSummary,
		ExtractedText: text,
	})
	if err != nil {
		return nil, fmt.Errorf("record extracted text: %w", err)
	}
	// Cached before enqueueing: a worker may complete the job before Enqueue
	// returns and its snapshot must win.
	g.writeThrough(ctx, doc)

	job := domain.Job{DocumentID: doc.ID, OwnerID: doc.OwnerID, EnqueuedAt: g.now().UTC()}
	attempts, err := retry.Do(ctx, retry.Policy{
		MaxAttempts: g.config.EnqueueMaxAttempts,
		Initial:     g.config.EnqueueBackoff,
		Max:         4 * g.config.EnqueueBackoff,
	}, func(ctx context.Context) error {
		return g.producer.Enqueue(ctx, job)
	})
	if err != nil {
		logger.Error().Err(err).Int("attempts", attempts).Msg("enqueue failed")
		g.markFailed(ctx, doc.ID, domain.StatusProcessingSummary, errSummarizationUnreachable)
		return nil, &domain.EnqueueFailure{DocumentID: doc.ID, Attempts: attempts, Err: err}
	}

	logger.Info().Int("attempts", attempts).Msg("summarization job enqueued")

	return &SubmitResult{
		DocumentID:    doc.ID,
		DisplayName:   doc.DisplayName,
		ExtractedText: doc.ExtractedText,
		Status:        doc.Status,
	}, nil
}

func (g *Gateway) validate(request SubmitRequest) (int, error) {
	if request.OwnerID == "" {
		return 0, &domain.ValidationError{Field: "owner_id", Message: "is required"}
	}
	if request.DisplayName == "" {
		return 0, &domain.ValidationError{Field: "display_name", Message: "is required"}
	}
	if utf8.RuneCountInString(request.DisplayName) > MaxDisplayNameLength {
		return 0, &domain.ValidationError{
			Field:   "display_name",
			Message: fmt.Sprintf("must be at most %d characters", MaxDisplayNameLength),
		}
	}
	if !request.FileType.Valid() {
		return 0, &domain.ValidationError{Field: "file_type", Message: "must be image or pdf"}
	}
	if len(request.Data) == 0 {
		return 0, &domain.ValidationError{Field: "file", Message: "is empty"}
	}

	size := int64(len(request.Data))
	switch request.FileType {
	case domain.FileTypeImage:
		if !strings.HasPrefix(strings.ToLower(request.ContentType), "image/") {
			return 0, &domain.ValidationError{Field: "file", Message: "content type must be image/*"}
		}
		if size > g.config.MaxImageBytes {
			return 0, &domain.ValidationError{
				Field:    "file",
				Message:  fmt.Sprintf("image exceeds %d bytes", g.config.MaxImageBytes),
				TooLarge: true,
			}
		}
		return 0, nil
	default:
		if size > g.config.MaxPDFBytes {
			return 0, &domain.ValidationError{
				Field:    "file",
				Message:  fmt.Sprintf("pdf exceeds %d bytes", g.config.MaxPDFBytes),
				TooLarge: true,
			}
		}
		info, err := g.inspect(request.Data)
		if err != nil {
			return 0, &domain.ValidationError{Field: "file", Message: "not a readable pdf: " + err.Error()}
		}
		if info.Pages > g.config.MaxPDFPages {
			return 0, &domain.ValidationError{
				Field:   "file",
				Message: fmt.Sprintf("pdf has %d pages, at most %d allowed", info.Pages, g.config.MaxPDFPages),
			}
		}
		return info.Pages, nil
	}
}

// markFailed is best effort; the caller already reports the original error.
func (g *Gateway) markFailed(ctx context.Context, documentID string, from domain.DocumentStatus, reason string) {
	doc, err := g.repo.Transition(ctx, documentID, from, domain.Update{
		Status:       domain.StatusFailed,
		ErrorMessage: reason,
	})
	if err != nil {
		g.logger.Error().Err(err).Str("document_id", documentID).Msg("could not mark document failed")
		return
	}
	g.writeThrough(ctx, doc)
}

func (g *Gateway) writeThrough(ctx context.Context, doc *domain.Document) {
	if g.cache == nil || doc == nil {
		return
	}
	if err := g.cache.Set(ctx, doc); err != nil {
		g.logger.Warn().Err(err).Str("document_id", doc.ID).Msg("status cache write failed")
	}
}

var imageExtensions = map[string]string{
	"image/png":  "png",
	"image/jpeg": "jpg",
	"image/jpg":  "jpg",
	"image/gif":  "gif",
	"image/webp": "webp",
	"image/heic": "heic",
	"image/tiff": "tiff",
}

// extensionFor picks the object key extension. It returns "" when the display
// name already ends with it.
func extensionFor(request SubmitRequest) string {
	extension := "pdf"
	if request.FileType == domain.FileTypeImage {
		extension = imageExtensions[strings.ToLower(request.ContentType)]
		if extension == "" {
			extension = "img"
		}
	}
	if strings.EqualFold(strings.TrimPrefix(filepath.Ext(request.DisplayName), "."), extension) {
		return ""
	}
	return extension
}
