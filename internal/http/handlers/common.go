package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/http/middleware"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/service"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/worker"
)

type Submitter interface {
	Submit(ctx context.Context, request service.SubmitRequest) (*service.SubmitResult, error)
}

type DocumentReader interface {
	Get(ctx context.Context, ownerID, documentID string) (*domain.Document, error)
	List(ctx context.Context, ownerID string, limit, skip int) ([]*domain.Document, int, int, error)
}

type ScalingAdvisor interface {
	Decide(ctx context.Context) (worker.ScalingDecision, error)
}

type API struct {
	submitter     Submitter
	documents     DocumentReader
	scaling       ScalingAdvisor
	maxUploadSize int64
	logger        zerolog.Logger
}

func NewAPI(submitter Submitter, documents DocumentReader, scaling ScalingAdvisor, maxUploadSize int64, logger zerolog.Logger) *API {
	if maxUploadSize <= 0 {
		maxUploadSize = 10 << 20
	}
	return &API{
		submitter:     submitter,
		documents:     documents,
		scaling:       scaling,
		maxUploadSize: maxUploadSize,
		logger:        logger,
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, r *http.Request, statusCode int, kind, message string) {
	middleware.WriteError(w, r, statusCode, kind, message)
}

// writeServiceError maps the domain error taxonomy onto HTTP responses.
func (api *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *domain.ValidationError
		conflictErr   *domain.ConflictError
		extractionErr *domain.ExtractionFailure
		enqueueErr    *domain.EnqueueFailure
	)

	switch {
	case errors.As(err, &validationErr):
		status := http.StatusBadRequest
		if validationErr.TooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, r, status, "validation_error", validationErr.Error())
	case errors.As(err, &conflictErr):
		writeError(w, r, http.StatusConflict, "conflict", conflictErr.Error())
	case errors.As(err, &extractionErr):
		writeError(w, r, http.StatusBadGateway, "extraction_failed", fmt.Sprintf(
			"text extraction failed: %v; document %s was marked failed", extractionErr.Err, extractionErr.DocumentID))
	case errors.As(err, &enqueueErr):
		writeError(w, r, http.StatusServiceUnavailable, "enqueue_failed", fmt.Sprintf(
			"summarization is unavailable after %d attempts: %v; document %s was marked failed",
			enqueueErr.Attempts, enqueueErr.Err, enqueueErr.DocumentID))
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "document not found")
	default:
		api.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("unhandled service error")
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}
