package api

import (
	"bytes"
	"context"
	"image/png"
	"net/http"
	"strconv"

	"github.com/local/receiptprint/internal/session"
)

type createSessionReq struct {
	FileID   string           `json:"file_id"`
	Viewport session.Viewport `json:"viewport"`
}

// handleCreateSession opens a session and loads page 1. A decode failure is
// reported in the snapshot; the session stays open for retry via /load.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionReq
	if err := decodeJSON(r, &req); err != nil || req.FileID == "" {
		writeError(w, r, badRequest("expected {\"file_id\": ...}"))
		return
	}
	f, err := s.deps.Library.Get(req.FileID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sess, err := s.deps.Sessions.Create(f, req.Viewport)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.RenderTimeout)
	defer cancel()
	_ = sess.Load(ctx)
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Sessions.Remove(r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionAction(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.RenderTimeout)
	defer cancel()

	switch r.PathValue("action") {
	case "load":
		err = sess.Load(ctx)
	case "next":
		err = sess.Next(ctx)
	case "prev":
		err = sess.Prev(ctx)
	case "page":
		n, convErr := strconv.Atoi(r.URL.Query().Get("n"))
		if convErr != nil {
			writeError(w, r, badRequest("n must be an integer"))
			return
		}
		err = sess.GoTo(ctx, n)
	case "cropbox":
		var box session.CropBox
		if decErr := decodeJSON(r, &box); decErr != nil {
			writeError(w, r, badRequest("invalid crop box"))
			return
		}
		_, err = sess.SetCropBox(box)
	case "viewport":
		var vp session.Viewport
		if decErr := decodeJSON(r, &vp); decErr != nil || vp.Width <= 0 || vp.Height <= 0 {
			writeError(w, r, badRequest("invalid viewport"))
			return
		}
		sess.SetViewport(vp)
	case "confirm":
		err = sess.Confirm(ctx)
	case "autocrop":
		err = sess.AutoCrop(ctx)
	case "skip":
		// a skipped file leaves the library along with its sessions
		if err = sess.Skip(); err == nil {
			snap := sess.Snapshot()
			fileID := sess.File().ID
			_ = s.deps.Library.Remove(fileID)
			s.deps.Sessions.RemoveForFile(fileID)
			writeJSON(w, http.StatusOK, snap)
			return
		}
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown action"})
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleSessionPage(w http.ResponseWriter, r *http.Request) {
	sess, err := s.deps.Sessions.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	rp, ok := sess.Page()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no page rendered"})
		return
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, rp.Image); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Page", strconv.Itoa(rp.Page))
	_, _ = w.Write(buf.Bytes())
}
