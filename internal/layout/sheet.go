package layout

// Rect is a rectangle in millimetres, origin at the sheet's top-left.
type Rect struct {
	X, Y, W, H float64
}

// Inset shrinks r by d on every side.
func (r Rect) Inset(d float64) Rect {
	w, h := r.W-2*d, r.H-2*d
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	return Rect{X: r.X + d, Y: r.Y + d, W: w, H: h}
}

// Sheet describes the printable page.
type Sheet struct {
	WidthMM       float64
	HeightMM      float64
	MarginMM      float64
	GapMM         float64
	CellPaddingMM float64
}

// A4 returns the default portrait A4 sheet.
func A4() Sheet {
	return Sheet{WidthMM: 210, HeightMM: 297, MarginMM: 8, GapMM: 3, CellPaddingMM: 3}
}

// Content is the area inside the margins.
func (s Sheet) Content() Rect {
	return Rect{X: s.MarginMM, Y: s.MarginMM, W: s.WidthMM - 2*s.MarginMM, H: s.HeightMM - 2*s.MarginMM}
}

// Cells returns the grid cells for d in row-major order. Cells include the
// padding; use Inset(CellPaddingMM) for the image box.
func (s Sheet) Cells(d Density) ([]Rect, error) {
	g, err := GridGeometry(d)
	if err != nil {
		return nil, err
	}
	c := s.Content()
	cw := (c.W - s.GapMM*float64(g.Columns-1)) / float64(g.Columns)
	ch := (c.H - s.GapMM*float64(g.Rows-1)) / float64(g.Rows)
	cells := make([]Rect, 0, g.Rows*g.Columns)
	for row := 0; row < g.Rows; row++ {
		for col := 0; col < g.Columns; col++ {
			cells = append(cells, Rect{
				X: c.X + float64(col)*(cw+s.GapMM),
				Y: c.Y + float64(row)*(ch+s.GapMM),
				W: cw,
				H: ch,
			})
		}
	}
	return cells, nil
}

// Contain fits a w×h image inside box preserving aspect ratio, centered.
func Contain(w, h float64, box Rect) Rect {
	if w <= 0 || h <= 0 || box.W <= 0 || box.H <= 0 {
		return Rect{X: box.X + box.W/2, Y: box.Y + box.H/2}
	}
	scale := box.W / w
	if s := box.H / h; s < scale {
		scale = s
	}
	fw, fh := w*scale, h*scale
	return Rect{X: box.X + (box.W-fw)/2, Y: box.Y + (box.H-fh)/2, W: fw, H: fh}
}
