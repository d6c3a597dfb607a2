// Package split decodes a source document into ordered rasterized page
// units.
package split

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/go-fitz"

	"github.com/cin-dennis/ocr-engine/internal/domain"
	"github.com/cin-dennis/ocr-engine/internal/observability"
)

// Splitter turns document bytes into page units, one per page, numbered
// from 1. PDF pages are rasterized to JPEG; single raster images pass
// through as a one-unit sequence.
type Splitter struct {
	maxPages int
	quality  int
	logger   *observability.Logger
}

// Options holds splitter configuration.
type Options struct {
	MaxPages    int
	JPEGQuality int
}

// NewSplitter creates a new splitter.
func NewSplitter(opts Options, logger *observability.Logger) *Splitter {
	quality := opts.JPEGQuality
	if quality < 1 || quality > 100 {
		quality = 85
	}

	return &Splitter{
		maxPages: opts.MaxPages,
		quality:  quality,
		logger:   logger.WithComponent("splitter"),
	}
}

// Split decodes data into page units. It fails with a decode error on
// corrupt or unsupported input and emits no units on failure.
func (s *Splitter) Split(ctx context.Context, data []byte, mediaType string) ([]domain.PageUnit, error) {
	switch mediaType {
	case domain.MediaTypePDF:
		return s.splitPDF(ctx, data)
	case domain.MediaTypePNG:
		if _, err := png.Decode(bytes.NewReader(data)); err != nil {
			return nil, domain.DecodeError("corrupt PNG image", err)
		}
		return []domain.PageUnit{{PageNumber: 1, Image: data, MediaType: mediaType}}, nil
	case domain.MediaTypeJPEG:
		if _, err := jpeg.Decode(bytes.NewReader(data)); err != nil {
			return nil, domain.DecodeError("corrupt JPEG image", err)
		}
		return []domain.PageUnit{{PageNumber: 1, Image: data, MediaType: mediaType}}, nil
	default:
		return nil, domain.DecodeError(fmt.Sprintf("unsupported media type %q", mediaType), nil)
	}
}

// splitPDF rasterizes every PDF page to a JPEG page unit.
func (s *Splitter) splitPDF(ctx context.Context, data []byte) ([]domain.PageUnit, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, domain.DecodeError("failed to open PDF", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return nil, domain.DecodeError("PDF has no decodable pages", nil)
	}
	if s.maxPages > 0 && pageCount > s.maxPages {
		return nil, domain.DecodeError(
			fmt.Sprintf("PDF has %d pages, limit is %d", pageCount, s.maxPages), nil)
	}

	units := make([]domain.PageUnit, 0, pageCount)

	for pageNum := 0; pageNum < pageCount; pageNum++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		img, err := doc.Image(pageNum)
		if err != nil {
			return nil, domain.DecodeError(fmt.Sprintf("failed to rasterize page %d", pageNum+1), err)
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: s.quality}); err != nil {
			return nil, domain.DecodeError(fmt.Sprintf("failed to encode page %d", pageNum+1), err)
		}

		units = append(units, domain.PageUnit{
			PageNumber: pageNum + 1,
			Image:      buf.Bytes(),
			MediaType:  domain.MediaTypeJPEG,
		})
	}

	s.logger.Debug().Int("pages", len(units)).Msg("document split into page units")
	return units, nil
}
