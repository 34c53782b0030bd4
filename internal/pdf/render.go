package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"

	"github.com/gen2brain/go-fitz"
)

// Renderer turns PDF pages into JPEG images for the vision model.
type Renderer struct {
	Quality int
}

func NewRenderer() *Renderer {
	return &Renderer{Quality: 85}
}

func (r *Renderer) RenderPages(ctx context.Context, data []byte) ([][]byte, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	count := doc.NumPage()
	if count == 0 {
		return nil, ErrEmptyDocument
	}

	quality := r.Quality
	if quality <= 0 || quality > 100 {
		quality = 85
	}

	pages := make([][]byte, 0, count)
	for index := 0; index < count; index++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.Image(index)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", index+1, err)
		}
		var buffer bytes.Buffer
		if err := jpeg.Encode(&buffer, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", index+1, err)
		}
		pages = append(pages, buffer.Bytes())
	}
	return pages, nil
}
