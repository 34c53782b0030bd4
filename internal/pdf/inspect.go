// Package pdf validates uploaded PDFs and renders their pages for extraction.
package pdf

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

var ErrEmptyDocument = errors.New("pdf has no pages")

func init() {
	// Inspection runs on request paths; keep pdfcpu away from the user config dir.
	api.DisableConfigDir()
}

type Info struct {
	Pages     int
	SizeBytes int64
}

// Inspect parses data as a PDF and reports its page count.
func Inspect(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmptyDocument
	}

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pages, err := api.PageCount(bytes.NewReader(data), conf)
	if err != nil {
		return Info{}, fmt.Errorf("read pdf: %w", err)
	}
	if pages <= 0 {
		return Info{}, ErrEmptyDocument
	}
	return Info{Pages: pages, SizeBytes: int64(len(data))}, nil
}
