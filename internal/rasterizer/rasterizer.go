package rasterizer

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/receiptprint/internal/metrics"
)

// DefaultScale is the upscale applied to page rendering (2x = 144 DPI).
const DefaultScale = 2.0

const pointsPerInch = 72.0

// RenderedPage is a rasterized page. Image is owned by the caller.
type RenderedPage struct {
	Image *image.RGBA
	Page  int
	Scale float64
}

func (p *RenderedPage) Width() int  { return p.Image.Bounds().Dx() }
func (p *RenderedPage) Height() int { return p.Image.Bounds().Dy() }

// Rasterizer opens documents and renders their pages to RGBA bitmaps.
// The engine is resolved on first use and cached for the process lifetime.
type Rasterizer struct {
	opts   Options
	once   sync.Once
	engine Engine
}

func New(opts Options) *Rasterizer {
	return &Rasterizer{opts: opts}
}

// NewWithEngine bypasses resolution and uses e for every document.
func NewWithEngine(e Engine) *Rasterizer {
	r := &Rasterizer{engine: e}
	r.once.Do(func() {})
	return r
}

// Engine returns the resolved rendering engine.
func (r *Rasterizer) Engine() Engine {
	r.once.Do(func() {
		r.engine = resolveEngine(r.opts)
		log.Info().Str("engine", r.engine.Name()).Msg("render engine resolved")
	})
	return r.engine
}

// Open decodes data and returns a document ready for rendering.
func (r *Rasterizer) Open(ctx context.Context, data []byte) (*Document, error) {
	if ctx.Err() != nil {
		return nil, canceled(ctx)
	}
	if len(data) == 0 {
		return nil, &DecodeError{Err: errors.New("empty document")}
	}
	eng := r.Engine()
	src, err := eng.Open(data)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	n := src.NumPage()
	if n <= 0 {
		src.Close()
		return nil, &DecodeError{Err: errors.New("document has no pages")}
	}
	return &Document{src: src, pages: n, engine: eng.Name()}, nil
}

// Render is a one-shot Open + Render + Close.
func (r *Rasterizer) Render(ctx context.Context, data []byte, page int, scale float64) (*RenderedPage, error) {
	doc, err := r.Open(ctx, data)
	if err != nil {
		return nil, err
	}
	out, err := doc.Render(ctx, page, scale)
	if errors.Is(err, ErrRenderCanceled) {
		// an abandoned render may still hold the document
		go doc.Close()
		return nil, err
	}
	doc.Close()
	return out, err
}

// Document is an opened document. Render is safe for concurrent use; Close
// waits for renders still running inside the engine.
type Document struct {
	src    Source
	pages  int
	engine string

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// NumPages returns the page count, always >= 1.
func (d *Document) NumPages() int { return d.pages }

// Render rasterizes the 1-based page at scale. When ctx is done before the
// engine finishes, it returns ErrRenderCanceled wrapping ctx.Err() and no image.
func (d *Document) Render(ctx context.Context, page int, scale float64) (*RenderedPage, error) {
	if page < 1 || page > d.pages {
		return nil, &PageOutOfRangeError{Page: page, Total: d.pages}
	}
	if scale <= 0 {
		scale = DefaultScale
	}
	if ctx.Err() != nil {
		metrics.ObserveRender(d.engine, "canceled", 0)
		return nil, canceled(ctx)
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.inflight.Add(1)
	d.mu.Unlock()

	type result struct {
		img *image.RGBA
		err error
	}
	done := make(chan result, 1)
	start := time.Now()
	go func() {
		defer d.inflight.Done()
		img, err := d.src.RenderPage(ctx, page-1, scale*pointsPerInch)
		done <- result{img: img, err: err}
	}()

	select {
	case <-ctx.Done():
		metrics.ObserveRender(d.engine, "canceled", time.Since(start))
		return nil, canceled(ctx)
	case res := <-done:
		dur := time.Since(start)
		if ctx.Err() != nil {
			metrics.ObserveRender(d.engine, "canceled", dur)
			return nil, canceled(ctx)
		}
		if res.err != nil {
			metrics.ObserveRender(d.engine, "error", dur)
			return nil, fmt.Errorf("render page %d: %w", page, res.err)
		}
		if res.img == nil {
			metrics.ObserveRender(d.engine, "error", dur)
			return nil, fmt.Errorf("render page %d: engine returned no image", page)
		}
		metrics.ObserveRender(d.engine, "ok", dur)
		b := res.img.Bounds()
		log.Debug().Str("engine", d.engine).Int("page", page).Int("w", b.Dx()).Int("h", b.Dy()).
			Dur("took", dur).Msg("page rendered")
		return &RenderedPage{Image: res.img, Page: page, Scale: scale}, nil
	}
}

// Close releases the engine document. It is idempotent.
func (d *Document) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	d.inflight.Wait()
	return d.src.Close()
}
