package api

import (
	"bytes"
	"net/http"
	"strconv"

	"github.com/local/receiptprint/internal/layout"
	"github.com/local/receiptprint/internal/printsheet"
)

func (s *Server) density(r *http.Request) (layout.Density, error) {
	v := r.URL.Query().Get("density")
	if v == "" {
		return s.deps.DefaultDensity, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, badRequest("density must be an integer")
	}
	return layout.ParseDensity(n)
}

// printItems returns every file with a preview, in upload order.
func (s *Server) printItems() []printsheet.Item {
	files := s.deps.Library.Printable()
	items := make([]printsheet.Item, 0, len(files))
	for _, f := range files {
		items = append(items, printsheet.Item{Name: f.Name, Image: f.Preview()})
	}
	return items
}

type layoutPage struct {
	Index    int       `json:"index"`
	Occupied int       `json:"occupied"`
	Slots    []*string `json:"slots"`
}

type layoutResp struct {
	Density  int          `json:"density"`
	Rows     int          `json:"rows"`
	Columns  int          `json:"columns"`
	Centered bool         `json:"centered"`
	Images   int          `json:"images"`
	Pages    []layoutPage `json:"pages"`
}

// handleLayout summarizes the pagination. Empty slots are null.
func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	d, err := s.density(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	g, err := layout.GridGeometry(d)
	if err != nil {
		writeError(w, r, err)
		return
	}
	files := s.deps.Library.Printable()
	resp := layoutResp{
		Density:  int(d),
		Rows:     g.Rows,
		Columns:  g.Columns,
		Centered: g.Centered,
		Images:   len(files),
		Pages:    []layoutPage{},
	}
	for _, p := range layout.Paginate(files, d) {
		lp := layoutPage{Index: p.Index, Occupied: p.Occupied(), Slots: make([]*string, len(p.Slots))}
		for i, slot := range p.Slots {
			if slot.Filled {
				id := slot.Item.ID
				lp.Slots[i] = &id
			}
		}
		resp.Pages = append(resp.Pages, lp)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePrintHTML(w http.ResponseWriter, r *http.Request) {
	d, err := s.density(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if _, err := s.deps.Composer.WriteHTML(&buf, s.printItems(), d); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handlePrintPDF(w http.ResponseWriter, r *http.Request) {
	d, err := s.density(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if _, err := s.deps.Composer.WritePDF(&buf, s.printItems(), d); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `inline; filename="receipts.pdf"`)
	_, _ = w.Write(buf.Bytes())
}
