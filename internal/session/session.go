package session

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/local/receiptprint/internal/crop"
	"github.com/local/receiptprint/internal/logger"
	"github.com/local/receiptprint/internal/metrics"
	"github.com/local/receiptprint/internal/rasterizer"
	"github.com/local/receiptprint/internal/source"
)

// State is the session lifecycle position.
type State string

const (
	StateLoading   State = "loading"
	StatePageReady State = "page_ready"
	StateCropped   State = "cropped"
	StateSkipped   State = "skipped"
	StateFailed    State = "failed"
)

var (
	ErrBusy         = errors.New("render in progress")
	ErrInvalidState = errors.New("operation not allowed in current state")
	ErrNotPDF       = errors.New("interactive crop requires a pdf")
)

// Viewport is the display area available to the page, in display pixels.
type Viewport struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CropBox is a square in display coordinates over the displayed page.
type CropBox struct {
	Left float64 `json:"left"`
	Top  float64 `json:"top"`
	Side float64 `json:"side"`
}

// Opener decodes documents.
type Opener interface {
	Open(ctx context.Context, data []byte) (*rasterizer.Document, error)
}

// Session drives cropping of one PDF. At most one render is in flight; a
// newer navigation cancels and supersedes the previous one.
type Session struct {
	ID   string
	file *source.File
	open Opener
	log  zerolog.Logger

	mu        sync.Mutex
	state     State
	doc       *rasterizer.Document
	total     int
	page      int
	requested int
	rendered  *rasterizer.RenderedPage
	viewport  Viewport
	box       CropBox
	result    *crop.Image
	lastErr   error
	seq       uint64
	cancel    context.CancelFunc
	busy      bool
	closed    bool

	lastUsed atomic.Int64
}

// New creates a session in Loading. Load must be called to decode the file.
func New(file *source.File, open Opener, vp Viewport) (*Session, error) {
	if !file.IsPDF() {
		return nil, ErrNotPDF
	}
	id := uuid.NewString()
	l := logger.For("session")
	s := &Session{
		ID:       id,
		file:     file,
		open:     open,
		log:      l.With().Str("session_id", id).Str("file_id", file.ID).Logger(),
		state:    StateLoading,
		viewport: vp,
	}
	s.touch(time.Now())
	return s, nil
}

func (s *Session) touch(t time.Time) { s.lastUsed.Store(t.UnixNano()) }

// idleSince reports the last access time, or false while a render is running.
func (s *Session) idleSince() (time.Time, bool) {
	s.mu.Lock()
	busy := s.busy
	s.mu.Unlock()
	if busy {
		return time.Time{}, false
	}
	return time.Unix(0, s.lastUsed.Load()), true
}

func (s *Session) File() *source.File { return s.file }

// supersede cancels any in-flight render and returns a new sequence number.
// Caller holds s.mu.
func (s *Session) supersede(ctx context.Context) (uint64, context.Context, context.CancelFunc) {
	if s.cancel != nil {
		s.cancel()
	}
	s.seq++
	rctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.busy = true
	return s.seq, rctx, cancel
}

// settle clears the in-flight marker. Caller holds s.mu.
func (s *Session) settle(cancel context.CancelFunc) {
	cancel()
	s.cancel = nil
	s.busy = false
}

// Load decodes the document and renders page 1. Allowed on a new session and
// after a decode failure (retry).
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || (s.state != StateLoading && s.state != StateFailed) {
		s.mu.Unlock()
		return ErrInvalidState
	}
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.state = StateLoading
	s.lastErr = nil
	seq, rctx, cancel := s.supersede(ctx)
	s.mu.Unlock()

	doc, err := s.open.Open(rctx, s.file.Data)
	var rp *rasterizer.RenderedPage
	if err == nil {
		rp, err = doc.Render(rctx, 1, rasterizer.DefaultScale)
	}

	s.mu.Lock()
	if seq != s.seq {
		s.mu.Unlock()
		if doc != nil {
			doc.Close()
		}
		return nil
	}
	s.settle(cancel)
	if err != nil {
		canceled := rasterizer.IsCanceled(err)
		if !canceled {
			s.state = StateFailed
			s.lastErr = err
		}
		s.mu.Unlock()
		if doc != nil {
			doc.Close()
		}
		if canceled {
			s.log.Debug().Msg("load canceled")
			return nil
		}
		s.log.Warn().Err(err).Msg("document failed to load")
		return err
	}
	s.doc = doc
	s.total = doc.NumPages()
	s.page, s.requested = 1, 1
	s.rendered = rp
	s.state = StatePageReady
	s.box = s.defaultBox()
	s.mu.Unlock()
	s.log.Info().Int("pages", s.total).Msg("document loaded")
	return nil
}

// GoTo renders page n. Out of range requests leave the session unchanged.
func (s *Session) GoTo(ctx context.Context, n int) error {
	return s.navigate(ctx, func(int) int { return n })
}

// Next moves one page forward from the latest requested page.
func (s *Session) Next(ctx context.Context) error {
	return s.navigate(ctx, func(cur int) int { return cur + 1 })
}

// Prev moves one page back from the latest requested page.
func (s *Session) Prev(ctx context.Context) error {
	return s.navigate(ctx, func(cur int) int { return cur - 1 })
}

func (s *Session) navigate(ctx context.Context, target func(int) int) error {
	s.mu.Lock()
	if s.closed || s.state != StatePageReady {
		s.mu.Unlock()
		return ErrInvalidState
	}
	n := target(s.requested)
	if n < 1 || n > s.total {
		s.mu.Unlock()
		return &rasterizer.PageOutOfRangeError{Page: n, Total: s.total}
	}
	seq, rctx, cancel := s.supersede(ctx)
	s.requested = n
	doc := s.doc
	s.mu.Unlock()

	rp, err := doc.Render(rctx, n, rasterizer.DefaultScale)

	s.mu.Lock()
	defer s.mu.Unlock()
	if seq != s.seq {
		s.log.Debug().Int("page", n).Msg("render superseded")
		return nil
	}
	s.settle(cancel)
	if err != nil {
		s.requested = s.page
		if rasterizer.IsCanceled(err) {
			s.log.Debug().Int("page", n).Msg("render canceled")
			return nil
		}
		s.lastErr = err
		s.log.Warn().Err(err).Int("page", n).Msg("page render failed")
		return err
	}
	s.page = n
	s.rendered = rp
	s.lastErr = nil
	s.box = s.defaultBox()
	return nil
}

// SetViewport updates the display area and keeps the crop box inside the page.
func (s *Session) SetViewport(vp Viewport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewport = vp
	if s.rendered != nil {
		s.box = s.clampBox(s.box)
	}
}

// SetCropBox moves or resizes the crop box. The box stays square and inside
// the displayed page.
func (s *Session) SetCropBox(b CropBox) (CropBox, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePageReady || s.rendered == nil {
		return CropBox{}, ErrInvalidState
	}
	s.box = s.clampBox(b)
	return s.box, nil
}

// Confirm crops the current box at rendered resolution and resamples to
// crop.OutputSide.
func (s *Session) Confirm(ctx context.Context) error {
	return s.finish(ctx, crop.OriginManual, func(rp *rasterizer.RenderedPage) *crop.Image {
		scale := s.displayScale()
		region := crop.Region{
			X:    int(math.Round(s.box.Left / scale)),
			Y:    int(math.Round(s.box.Top / scale)),
			Side: int(math.Round(s.box.Side / scale)),
		}
		out := crop.Extract(rp.Image, region, crop.OutputSide)
		return crop.NewImage(out, crop.OriginManual)
	})
}

// AutoCrop applies the auto-crop rule to the current page.
func (s *Session) AutoCrop(ctx context.Context) error {
	return s.finish(ctx, crop.OriginAuto, crop.FromPage)
}

func (s *Session) finish(ctx context.Context, origin crop.Origin, produce func(*rasterizer.RenderedPage) *crop.Image) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.mu.Lock()
	if s.closed || s.state != StatePageReady || s.rendered == nil {
		s.mu.Unlock()
		return ErrInvalidState
	}
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	img := produce(s.rendered)
	if err := s.file.SetPreview(img); err != nil {
		s.mu.Unlock()
		return err
	}
	if origin == crop.OriginManual {
		metrics.IncCrop(string(origin), true)
	}
	s.result = img
	s.state = StateCropped
	doc := s.release()
	page := s.page
	s.mu.Unlock()

	if doc != nil {
		doc.Close()
	}
	s.log.Info().Int("page", page).Str("path", string(origin)).Msg("crop confirmed")
	return nil
}

// Skip dismisses the file without producing a preview.
func (s *Session) Skip() error {
	s.mu.Lock()
	switch s.state {
	case StateCropped, StateSkipped:
		s.mu.Unlock()
		return ErrInvalidState
	}
	s.state = StateSkipped
	doc := s.release()
	s.mu.Unlock()
	if doc != nil {
		doc.Close()
	}
	s.log.Info().Msg("file skipped")
	return nil
}

// Close cancels any render and frees the document. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	doc := s.release()
	s.mu.Unlock()
	if doc != nil {
		doc.Close()
	}
}

// release cancels in-flight work and detaches the document. Caller holds s.mu.
func (s *Session) release() *rasterizer.Document {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.seq++
	s.busy = false
	doc := s.doc
	s.doc = nil
	return doc
}

// Result returns the produced crop once the session is Cropped.
func (s *Session) Result() *crop.Image {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// Page returns the currently displayed render.
func (s *Session) Page() (*rasterizer.RenderedPage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rendered, s.rendered != nil
}

// Snapshot is a point-in-time view of the session.
type Snapshot struct {
	ID            string   `json:"id"`
	FileID        string   `json:"file_id"`
	FileName      string   `json:"file_name"`
	State         State    `json:"state"`
	Page          int      `json:"page"`
	RequestedPage int      `json:"requested_page"`
	TotalPages    int      `json:"total_pages"`
	Busy          bool     `json:"busy"`
	Viewport      Viewport `json:"viewport"`
	DisplayWidth  float64  `json:"display_width"`
	DisplayHeight float64  `json:"display_height"`
	DisplayScale  float64  `json:"display_scale"`
	CropBox       CropBox  `json:"crop_box"`
	Error         string   `json:"error,omitempty"`
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:            s.ID,
		FileID:        s.file.ID,
		FileName:      s.file.Name,
		State:         s.state,
		Page:          s.page,
		RequestedPage: s.requested,
		TotalPages:    s.total,
		Busy:          s.busy,
		Viewport:      s.viewport,
		CropBox:       s.box,
	}
	if s.rendered != nil {
		snap.DisplayScale = s.displayScale()
		snap.DisplayWidth, snap.DisplayHeight = s.displaySize()
	}
	if s.lastErr != nil {
		snap.Error = s.lastErr.Error()
	}
	return snap
}

// displayScale maps rendered pixels to display pixels. Pages are shrunk to
// fit the viewport, never enlarged. Caller holds s.mu.
func (s *Session) displayScale() float64 {
	rw, rh := float64(s.rendered.Width()), float64(s.rendered.Height())
	scale := 1.0
	if s.viewport.Width > 0 && s.viewport.Width/rw < scale {
		scale = s.viewport.Width / rw
	}
	if s.viewport.Height > 0 && s.viewport.Height/rh < scale {
		scale = s.viewport.Height / rh
	}
	return scale
}

func (s *Session) displaySize() (float64, float64) {
	scale := s.displayScale()
	return float64(s.rendered.Width()) * scale, float64(s.rendered.Height()) * scale
}

// defaultBox is the top-left square of side min(DisplaySide, 0.8 × the
// smaller viewport edge), kept inside the displayed page. Caller holds s.mu.
func (s *Session) defaultBox() CropBox {
	side := float64(crop.DisplaySide)
	if m := 0.8 * math.Min(s.viewport.Width, s.viewport.Height); m > 0 && m < side {
		side = m
	}
	return s.clampBox(CropBox{Side: side})
}

func (s *Session) clampBox(b CropBox) CropBox {
	dw, dh := s.displaySize()
	side := math.Min(b.Side, math.Min(dw, dh))
	if side < 1 {
		side = 1
	}
	b.Side = side
	b.Left = math.Max(0, math.Min(b.Left, dw-side))
	b.Top = math.Max(0, math.Min(b.Top, dh-side))
	return b
}
