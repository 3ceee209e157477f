package source

import (
	"errors"
	"sync"
	"time"

	"github.com/local/receiptprint/internal/crop"
)

var (
	// ErrPreviewSet is returned when a file already has its print preview.
	ErrPreviewSet = errors.New("preview already set")
	// ErrNotFound is returned for unknown file ids.
	ErrNotFound = errors.New("file not found")
	// ErrNotPDF is returned when a PDF-only operation gets an image.
	ErrNotPDF = errors.New("not a pdf")
)

// Kind is the accepted content family of a file.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindJPEG Kind = "jpeg"
	KindPNG  Kind = "png"
)

// File is one uploaded document or image.
type File struct {
	ID      string
	Name    string
	MIME    string
	Kind    Kind
	Data    []byte
	AddedAt time.Time

	mu      sync.RWMutex
	preview *crop.Image
}

func (f *File) IsPDF() bool { return f.Kind == KindPDF }

// Preview returns the print-ready image, or nil if none has been produced.
func (f *File) Preview() *crop.Image {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.preview
}

func (f *File) HasPreview() bool { return f.Preview() != nil }

// SetPreview assigns the preview exactly once.
func (f *File) SetPreview(img *crop.Image) error {
	if img == nil {
		return errors.New("nil preview")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.preview != nil {
		return ErrPreviewSet
	}
	f.preview = img
	return nil
}
