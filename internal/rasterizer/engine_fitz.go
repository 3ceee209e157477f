package rasterizer

import (
	"context"
	"image"

	fitz "github.com/gen2brain/go-fitz"
)

// fitzEngine renders in-process with the MuPDF bindings from go-fitz.
type fitzEngine struct{}

func (fitzEngine) Name() string { return "fitz" }

func (fitzEngine) Open(data []byte) (Source, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, err
	}
	return &fitzSource{doc: doc}, nil
}

type fitzSource struct {
	doc *fitz.Document
}

func (s *fitzSource) NumPage() int { return s.doc.NumPage() }

// RenderPage cannot be interrupted once MuPDF starts drawing; the Document
// wrapper abandons the result when ctx is canceled.
func (s *fitzSource) RenderPage(_ context.Context, index int, dpi float64) (*image.RGBA, error) {
	return s.doc.ImageDPI(index, dpi)
}

func (s *fitzSource) Close() error { return s.doc.Close() }
