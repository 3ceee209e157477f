package layout

import (
	"fmt"
	"sort"
)

// Density is the number of images per printed page.
type Density int

// Geometry is the grid used for a density.
type Geometry struct {
	Rows     int
	Columns  int
	Centered bool
}

var geometries = map[Density]Geometry{
	1:  {Rows: 1, Columns: 1, Centered: true},
	2:  {Rows: 1, Columns: 2},
	3:  {Rows: 1, Columns: 3},
	4:  {Rows: 2, Columns: 2},
	6:  {Rows: 2, Columns: 3},
	8:  {Rows: 2, Columns: 4},
	9:  {Rows: 3, Columns: 3},
	12: {Rows: 3, Columns: 4},
	15: {Rows: 3, Columns: 5},
	16: {Rows: 4, Columns: 4},
}

// InvalidDensityError reports a density outside the supported set.
type InvalidDensityError struct {
	Value int
}

func (e *InvalidDensityError) Error() string {
	return fmt.Sprintf("unsupported density %d (allowed: %v)", e.Value, Densities())
}

// ParseDensity validates n against the supported densities.
func ParseDensity(n int) (Density, error) {
	d := Density(n)
	if _, ok := geometries[d]; !ok {
		return 0, &InvalidDensityError{Value: n}
	}
	return d, nil
}

// Densities lists the supported densities in ascending order.
func Densities() []Density {
	out := make([]Density, 0, len(geometries))
	for d := range geometries {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// GridGeometry returns the fixed grid for d.
func GridGeometry(d Density) (Geometry, error) {
	g, ok := geometries[d]
	if !ok {
		return Geometry{}, &InvalidDensityError{Value: int(d)}
	}
	return g, nil
}

// Slot is one grid position. Filled is false for padding slots on the last page.
type Slot[T any] struct {
	Item   T
	Filled bool
}

// Page is one printed sheet.
type Page[T any] struct {
	Index int
	Slots []Slot[T]
}

// Occupied counts filled slots.
func (p Page[T]) Occupied() int {
	n := 0
	for _, s := range p.Slots {
		if s.Filled {
			n++
		}
	}
	return n
}

// Paginate splits items into pages of d slots in input order, padding the
// last page with empty slots. Empty input yields no pages.
func Paginate[T any](items []T, d Density) []Page[T] {
	per := int(d)
	if per < 1 || len(items) == 0 {
		return nil
	}
	n := (len(items) + per - 1) / per
	pages := make([]Page[T], 0, n)
	for i := 0; i < n; i++ {
		slots := make([]Slot[T], per)
		for j := 0; j < per; j++ {
			k := i*per + j
			if k < len(items) {
				slots[j] = Slot[T]{Item: items[k], Filled: true}
			}
		}
		pages = append(pages, Page[T]{Index: i, Slots: slots})
	}
	return pages
}
