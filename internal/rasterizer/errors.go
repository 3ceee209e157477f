package rasterizer

import (
	"context"
	"errors"
	"fmt"
)

// ErrRenderCanceled is returned when a render was aborted through its context.
// The context's error is wrapped alongside it, so a deadline still matches
// context.DeadlineExceeded.
var ErrRenderCanceled = errors.New("render canceled")

// ErrClosed is returned when rendering from a document that was closed.
var ErrClosed = errors.New("document closed")

// DecodeError represents bytes that are not a usable document.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode document: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// PageOutOfRangeError represents a page request outside 1..Total.
type PageOutOfRangeError struct {
	Page  int
	Total int
}

func (e *PageOutOfRangeError) Error() string {
	return fmt.Sprintf("page %d out of range (document has %d pages)", e.Page, e.Total)
}

func canceled(ctx context.Context) error {
	if cause := ctx.Err(); cause != nil {
		return fmt.Errorf("%w: %w", ErrRenderCanceled, cause)
	}
	return ErrRenderCanceled
}

// IsCanceled reports whether err is a deliberately canceled render. A render
// that ran out of time is not canceled; see IsTimeout.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrRenderCanceled) && !errors.Is(err, context.DeadlineExceeded)
}

// IsTimeout reports whether a render was aborted by its deadline.
func IsTimeout(err error) bool { return errors.Is(err, context.DeadlineExceeded) }

// IsDecodeError reports whether err wraps a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsPageOutOfRange reports whether err wraps a *PageOutOfRangeError.
func IsPageOutOfRange(err error) bool {
	var pe *PageOutOfRangeError
	return errors.As(err, &pe)
}
