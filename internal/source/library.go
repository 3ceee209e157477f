package source

import (
	"sync"

	"github.com/local/receiptprint/internal/crop"
)

// Library holds uploaded files in upload order.
type Library struct {
	mu    sync.RWMutex
	files []*File
	byID  map[string]*File
}

func NewLibrary() *Library {
	return &Library{byID: make(map[string]*File)}
}

// Add appends files, ignoring ids already present.
func (l *Library) Add(files ...*File) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range files {
		if f == nil {
			continue
		}
		if _, ok := l.byID[f.ID]; ok {
			continue
		}
		l.files = append(l.files, f)
		l.byID[f.ID] = f
	}
}

func (l *Library) Get(id string) (*File, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	f, ok := l.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return f, nil
}

func (l *Library) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byID[id]; !ok {
		return ErrNotFound
	}
	delete(l.byID, id)
	for i, f := range l.files {
		if f.ID == id {
			l.files = append(l.files[:i:i], l.files[i+1:]...)
			break
		}
	}
	return nil
}

// List returns a snapshot in upload order.
func (l *Library) List() []*File {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*File, len(l.files))
	copy(out, l.files)
	return out
}

func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.files)
}

// PendingPDFs returns PDFs that still lack a preview, in upload order.
func (l *Library) PendingPDFs() []*File {
	return l.filter(func(f *File) bool { return f.IsPDF() && !f.HasPreview() })
}

// Printable returns files that have a preview, in upload order.
func (l *Library) Printable() []*File {
	return l.filter(func(f *File) bool { return f.HasPreview() })
}

// SetPreview assigns a preview to the file with id.
func (l *Library) SetPreview(id string, img *crop.Image) error {
	f, err := l.Get(id)
	if err != nil {
		return err
	}
	return f.SetPreview(img)
}

func (l *Library) filter(keep func(*File) bool) []*File {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*File
	for _, f := range l.files {
		if keep(f) {
			out = append(out, f)
		}
	}
	return out
}
