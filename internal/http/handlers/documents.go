package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/http/middleware"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/service"
)

// Multipart framing on top of the file itself.
const multipartOverhead = 1 << 20

type uploadResponse struct {
	DocumentID    string `json:"document_id"`
	DisplayName   string `json:"display_name"`
	Status        string `json:"status"`
	ExtractedText string `json:"extracted_text"`
}

type documentView struct {
	DocumentID    string    `json:"document_id"`
	DisplayName   string    `json:"display_name"`
	FileType      string    `json:"file_type"`
	Status        string    `json:"status"`
	ExtractedText string    `json:"extracted_text"`
	Summary       *string   `json:"summary"`
	Error         string    `json:"error,omitempty"`
	PageCount     int       `json:"page_count,omitempty"`
	SizeBytes     int64     `json:"size_bytes"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type listResponse struct {
	Documents []documentView `json:"documents"`
	Limit     int            `json:"limit"`
	Skip      int            `json:"skip"`
}

func toView(doc *domain.Document) documentView {
	view := documentView{
		DocumentID:    doc.ID,
		DisplayName:   doc.DisplayName,
		FileType:      string(doc.FileType),
		Status:        string(doc.Status),
		ExtractedText: doc.ExtractedText,
		Error:         doc.ErrorMessage,
		PageCount:     doc.PageCount,
		SizeBytes:     doc.SizeBytes,
		CreatedAt:     doc.CreatedAt,
		UpdatedAt:     doc.UpdatedAt,
	}
	if doc.HasSummary() {
		summary := doc.Summary
		view.Summary = &summary
	}
	return view
}

func (api *API) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, api.maxUploadSize+multipartOverhead)
	if err := r.ParseMultipartForm(api.maxUploadSize + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "validation_error", "upload exceeds the maximum allowed size")
			return
		}
		writeError(w, r, http.StatusBadRequest, "validation_error", "expected a multipart/form-data body")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", "file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", "could not read uploaded file")
		return
	}

	contentType := uploadContentType(header)
	fileType := domain.FileType(strings.ToLower(strings.TrimSpace(r.FormValue("file_type"))))
	if fileType == "" {
		fileType = inferFileType(contentType)
	}
	displayName := strings.TrimSpace(r.FormValue("display_name"))
	if displayName == "" {
		displayName = strings.TrimSuffix(header.Filename, filepath.Ext(header.Filename))
	}

	result, err := api.submitter.Submit(r.Context(), service.SubmitRequest{
		OwnerID:     middleware.GetOwnerID(r.Context()),
		DisplayName: displayName,
		FileType:    fileType,
		ContentType: contentType,
		Data:        data,
	})
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, uploadResponse{
		DocumentID:    result.DocumentID,
		DisplayName:   result.DisplayName,
		Status:        string(result.Status),
		ExtractedText: result.ExtractedText,
	})
}

func (api *API) GetDocument(w http.ResponseWriter, r *http.Request) {
	documentID := strings.TrimSpace(chi.URLParam(r, "documentID"))
	if documentID == "" {
		writeError(w, r, http.StatusBadRequest, "validation_error", "document id is required")
		return
	}

	doc, err := api.documents.Get(r.Context(), middleware.GetOwnerID(r.Context()), documentID)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(doc))
}

func (api *API) ListDocuments(w http.ResponseWriter, r *http.Request) {
	limit, err := optionalInt(r, "limit")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", "limit must be an integer")
		return
	}
	skip, err := optionalInt(r, "skip")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", "skip must be an integer")
		return
	}

	docs, limit, skip, err := api.documents.List(r.Context(), middleware.GetOwnerID(r.Context()), limit, skip)
	if err != nil {
		api.writeServiceError(w, r, err)
		return
	}

	views := make([]documentView, 0, len(docs))
	for _, doc := range docs {
		views = append(views, toView(doc))
	}
	writeJSON(w, http.StatusOK, listResponse{Documents: views, Limit: limit, Skip: skip})
}

func optionalInt(r *http.Request, key string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func uploadContentType(header *multipart.FileHeader) string {
	contentType := strings.TrimSpace(header.Header.Get("Content-Type"))
	if contentType == "" || contentType == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".pdf":
			return "application/pdf"
		case ".png":
			return "image/png"
		case ".jpg", ".jpeg":
			return "image/jpeg"
		case ".webp":
			return "image/webp"
		case ".gif":
			return "image/gif"
		}
	}
	if mediaType, _, found := strings.Cut(contentType, ";"); found {
		return strings.TrimSpace(mediaType)
	}
	return contentType
}

func inferFileType(contentType string) domain.FileType {
	switch {
	case contentType == "application/pdf":
		return domain.FileTypePDF
	case strings.HasPrefix(contentType, "image/"):
		return domain.FileTypeImage
	default:
		return ""
	}
}
