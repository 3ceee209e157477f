package printsheet

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"math"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/rs/zerolog/log"
	xdraw "golang.org/x/image/draw"

	"github.com/local/receiptprint/internal/crop"
	"github.com/local/receiptprint/internal/layout"
	"github.com/local/receiptprint/internal/metrics"
)

const (
	mmPerInch     = 25.4
	pointsPerInch = 72.0
)

var ErrNothingToPrint = errors.New("no images to print")

// Item is one printable image.
type Item struct {
	Name  string
	Image *crop.Image
}

// Composer lays out images on A4 sheets.
type Composer struct {
	sheet layout.Sheet
	dpi   float64
}

func NewComposer(sheet layout.Sheet, dpi float64) *Composer {
	if dpi <= 0 {
		dpi = 150
	}
	return &Composer{sheet: sheet, dpi: dpi}
}

func (c *Composer) Sheet() layout.Sheet { return c.sheet }

func (c *Composer) px(mm float64) float64 { return mm / mmPerInch * c.dpi }

// RenderSheet rasterizes one page onto a white canvas at the composer DPI.
func (c *Composer) RenderSheet(page layout.Page[Item], d layout.Density) (*image.RGBA, error) {
	cells, err := c.sheet.Cells(d)
	if err != nil {
		return nil, err
	}
	w := int(math.Round(c.px(c.sheet.WidthMM)))
	h := int(math.Round(c.px(c.sheet.HeightMM)))
	canvas := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, xdraw.Src)

	for i, slot := range page.Slots {
		if !slot.Filled || i >= len(cells) {
			continue
		}
		src := slot.Item.Image.Pixels()
		box := cells[i].Inset(c.sheet.CellPaddingMM)
		fit := layout.Contain(float64(src.Bounds().Dx()), float64(src.Bounds().Dy()), box)
		dr := image.Rect(
			int(math.Round(c.px(fit.X))),
			int(math.Round(c.px(fit.Y))),
			int(math.Round(c.px(fit.X+fit.W))),
			int(math.Round(c.px(fit.Y+fit.H))),
		)
		if dr.Empty() {
			continue
		}
		xdraw.CatmullRom.Scale(canvas, dr, src, src.Bounds(), xdraw.Over, nil)
	}
	return canvas, nil
}

// WritePDF writes one A4 PDF page per sheet. Returns the number of pages.
func (c *Composer) WritePDF(w io.Writer, items []Item, d layout.Density) (int, error) {
	if _, err := layout.GridGeometry(d); err != nil {
		return 0, err
	}
	pages := layout.Paginate(items, d)
	if len(pages) == 0 {
		return 0, ErrNothingToPrint
	}

	readers := make([]io.Reader, 0, len(pages))
	for _, p := range pages {
		img, err := c.RenderSheet(p, d)
		if err != nil {
			return 0, err
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 92}); err != nil {
			return 0, fmt.Errorf("encode sheet %d: %w", p.Index+1, err)
		}
		readers = append(readers, &buf)
	}

	imp := pdfcpu.DefaultImportConfig()
	imp.PageDim = &types.Dim{
		Width:  c.sheet.WidthMM / mmPerInch * pointsPerInch,
		Height: c.sheet.HeightMM / mmPerInch * pointsPerInch,
	}
	imp.Pos = types.Center
	imp.Scale = 1.0
	imp.ScaleAbs = false
	if err := api.ImportImages(nil, w, readers, imp, model.NewDefaultConfiguration()); err != nil {
		return 0, fmt.Errorf("assemble pdf: %w", err)
	}
	metrics.AddPrintSheets("pdf", len(pages))
	log.Info().Int("sheets", len(pages)).Int("images", len(items)).Int("density", int(d)).Msg("print pdf written")
	return len(pages), nil
}
