package session

import (
	"errors"
	"sync"
	"time"

	"github.com/local/receiptprint/internal/metrics"
	"github.com/local/receiptprint/internal/source"
)

var ErrNotFound = errors.New("session not found")

// Registry tracks open sessions by id.
type Registry struct {
	open     Opener
	viewport Viewport

	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewRegistry creates sessions with open and the fallback viewport vp.
func NewRegistry(open Opener, vp Viewport) *Registry {
	return &Registry{open: open, viewport: vp, now: time.Now, sessions: make(map[string]*Session)}
}

// Create opens a session for file. A zero viewport uses the registry default.
func (r *Registry) Create(file *source.File, vp Viewport) (*Session, error) {
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = r.viewport
	}
	s, err := New(file, r.open, vp)
	if err != nil {
		return nil, err
	}
	s.touch(r.now())
	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	metrics.SessionOpened()
	return s, nil
}

// Get returns the session and marks it as used.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	s.touch(r.now())
	return s, nil
}

// Remove closes and forgets the session.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.Close()
	metrics.SessionClosed()
	return nil
}

// RemoveForFile closes every session bound to fileID.
func (r *Registry) RemoveForFile(fileID string) {
	r.mu.Lock()
	var ids []string
	for id, s := range r.sessions {
		if s.file.ID == fileID {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Remove(id)
	}
}

// SweepIdle closes sessions not used for maxIdle. Sessions with a render in
// flight are kept. It returns the number closed.
func (r *Registry) SweepIdle(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := r.now().Add(-maxIdle)
	r.mu.Lock()
	var ids []string
	for id, s := range r.sessions {
		if last, ok := s.idleSince(); ok && last.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()
	n := 0
	for _, id := range ids {
		if r.Remove(id) == nil {
			n++
		}
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CloseAll closes every session; used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Remove(id)
	}
}
