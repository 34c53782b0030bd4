package ai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
)

const extractionPrompt = "Extract all readable text from this image. Preserve line breaks and reading order. Return only the text."

type Source struct {
	FileType    domain.FileType
	ContentType string
	Data        []byte
}

type Extractor interface {
	Extract(ctx context.Context, source Source) (string, error)
}

type PageRenderer interface {
	RenderPages(ctx context.Context, data []byte) ([][]byte, error)
}

// VisionExtractor reads text out of images with a vision-capable chat model.
// PDFs are rendered page by page and each page is extracted separately.
type VisionExtractor struct {
	client   ChatCompleter
	router   *ModelRouter
	renderer PageRenderer
	timeout  time.Duration
}

func NewVisionExtractor(client ChatCompleter, router *ModelRouter, renderer PageRenderer, timeout time.Duration) *VisionExtractor {
	if router == nil {
		router = NewModelRouter(ModelRouterConfig{})
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &VisionExtractor{client: client, router: router, renderer: renderer, timeout: timeout}
}

func (e *VisionExtractor) Extract(ctx context.Context, source Source) (string, error) {
	if e.client == nil || !e.client.Available() {
		return "", ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	switch source.FileType {
	case domain.FileTypeImage:
		return e.extractImage(ctx, source.ContentType, source.Data, extractionPrompt)
	case domain.FileTypePDF:
		return e.extractPDF(ctx, source.Data)
	default:
		return "", fmt.Errorf("unsupported file type %q", source.FileType)
	}
}

func (e *VisionExtractor) extractPDF(ctx context.Context, data []byte) (string, error) {
	if e.renderer == nil {
		return "", errors.New("pdf renderer not configured")
	}
	pages, err := e.renderer.RenderPages(ctx, data)
	if err != nil {
		return "", fmt.Errorf("render pdf: %w", err)
	}

	sections := make([]string, 0, len(pages))
	for index, page := range pages {
		number := index + 1
		prompt := fmt.Sprintf("%s This is page %d of a PDF document.", extractionPrompt, number)
		text, err := e.extractImage(ctx, "image/jpeg", page, prompt)
		if err != nil {
			return "", fmt.Errorf("extract page %d: %w", number, err)
		}
		sections = append(sections, JoinPage(number, text))
	}
	return strings.Join(sections, "\n"), nil
}

func (e *VisionExtractor) extractImage(ctx context.Context, contentType string, data []byte, prompt string) (string, error) {
	profile := e.router.Select(TaskExtraction)
	result, err := e.client.Complete(ctx, ChatRequest{
		Model:           profile.Model,
		Parts:           []ContentPart{TextPart(prompt), ImagePart(contentType, data)},
		Temperature:     profile.Temperature,
		MaxOutputTokens: profile.MaxOutputTokens,
	})
	if err != nil {
		return "", err
	}
	return result.Text, nil
}

// JoinPage formats one page of extracted PDF text.
func JoinPage(number int, text string) string {
	return fmt.Sprintf("--- Page %d ---\n%s\n", number, strings.TrimSpace(text))
}

func DataURL(contentType string, data []byte) string {
	if strings.TrimSpace(contentType) == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
