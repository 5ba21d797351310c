package pdfutil

import (
	"bytes"
	"context"
	"fmt"
	"image/png"

	fitz "github.com/gen2brain/go-fitz"
)

// Page is one rendered page of a document.
type Page struct {
	Number int
	PNG    []byte
}

// Renderer rasterizes PDF pages to PNG with MuPDF.
type Renderer struct {
	// MaxPages stops rendering after this many pages; zero renders all.
	MaxPages int
}

// Convert renders each page of data to a PNG image in page order.
func (r Renderer) Convert(ctx context.Context, data []byte) ([]Page, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer doc.Close()

	total := doc.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("render pdf: document has no pages")
	}
	if r.MaxPages > 0 && total > r.MaxPages {
		total = r.MaxPages
	}
	pages := make([]Page, 0, total)
	for i := 0; i < total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		img, err := doc.Image(i)
		if err != nil {
			return nil, fmt.Errorf("render page %d: %w", i+1, err)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, fmt.Errorf("encode page %d: %w", i+1, err)
		}
		pages = append(pages, Page{Number: i + 1, PNG: buf.Bytes()})
	}
	return pages, nil
}
