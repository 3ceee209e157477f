package printsheet

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/local/receiptprint/internal/layout"
	"github.com/local/receiptprint/internal/metrics"
)

//go:embed templates/*.html
var templateFS embed.FS

var sheetTpl = template.Must(template.ParseFS(templateFS, "templates/sheet.html"))

type htmlSlot struct {
	Filled bool
	Src    template.URL
	Name   string
}

type htmlPage struct {
	Number int
	Slots  []htmlSlot
}

type htmlDoc struct {
	layout.Sheet
	layout.Geometry
	PaddingMM float64
	Pages     []htmlPage
}

// WriteHTML writes a printable document with one A4 sheet per page. Returns
// the number of sheets, or ErrNothingToPrint when items is empty.
func (c *Composer) WriteHTML(w io.Writer, items []Item, d layout.Density) (int, error) {
	g, err := layout.GridGeometry(d)
	if err != nil {
		return 0, err
	}
	pages := layout.Paginate(items, d)
	if len(pages) == 0 {
		return 0, ErrNothingToPrint
	}
	doc := htmlDoc{Sheet: c.sheet, Geometry: g, PaddingMM: c.sheet.CellPaddingMM}
	for _, p := range pages {
		hp := htmlPage{Number: p.Index + 1}
		for _, s := range p.Slots {
			if !s.Filled {
				hp.Slots = append(hp.Slots, htmlSlot{})
				continue
			}
			src, err := s.Item.Image.DataURL()
			if err != nil {
				return 0, fmt.Errorf("encode %s: %w", s.Item.Name, err)
			}
			hp.Slots = append(hp.Slots, htmlSlot{Filled: true, Src: template.URL(src), Name: s.Item.Name})
		}
		doc.Pages = append(doc.Pages, hp)
	}
	if err := sheetTpl.Execute(w, doc); err != nil {
		return 0, err
	}
	metrics.AddPrintSheets("html", len(pages))
	return len(pages), nil
}
