package api

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/receiptprint/internal/source"
)

type fileJSON struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Kind          string    `json:"kind"`
	MIME          string    `json:"mime"`
	Size          int       `json:"size"`
	HasPreview    bool      `json:"has_preview"`
	PreviewOrigin string    `json:"preview_origin,omitempty"`
	AddedAt       time.Time `json:"added_at"`
}

func toFileJSON(f *source.File) fileJSON {
	out := fileJSON{
		ID:      f.ID,
		Name:    f.Name,
		Kind:    string(f.Kind),
		MIME:    f.MIME,
		Size:    len(f.Data),
		AddedAt: f.AddedAt,
	}
	if p := f.Preview(); p != nil {
		out.HasPreview = true
		out.PreviewOrigin = string(p.Origin())
	}
	return out
}

type addFilesReq struct {
	Refs []string `json:"refs"`
}

type addFilesResp struct {
	Accepted []fileJSON `json:"accepted"`
	Dropped  []string   `json:"dropped"`
}

// handleAddFiles accepts multipart uploads under "file" or a JSON list of
// remote refs. Unsupported content is dropped, not rejected.
func (s *Server) handleAddFiles(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)
	resp := addFilesResp{Accepted: []fileJSON{}, Dropped: []string{}}
	add := func(name string, data []byte) {
		f, ok := source.Accept(name, data)
		if !ok {
			resp.Dropped = append(resp.Dropped, name)
			return
		}
		s.deps.Library.Add(f)
		resp.Accepted = append(resp.Accepted, toFileJSON(f))
	}

	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(s.deps.MaxUploadBytes); err != nil {
			writeError(w, r, badRequest("invalid multipart form"))
			return
		}
		headers := r.MultipartForm.File["file"]
		if len(headers) == 0 {
			writeError(w, r, badRequest("missing file"))
			return
		}
		for _, h := range headers {
			fh, err := h.Open()
			if err != nil {
				writeError(w, r, fmt.Errorf("open upload %s: %w", h.Filename, err))
				return
			}
			data, err := io.ReadAll(fh)
			fh.Close()
			if err != nil {
				writeError(w, r, fmt.Errorf("read upload %s: %w", h.Filename, err))
				return
			}
			add(h.Filename, data)
		}
	case "application/json":
		var req addFilesReq
		if err := decodeJSON(r, &req); err != nil || len(req.Refs) == 0 {
			writeError(w, r, badRequest("expected {\"refs\": [...]}"))
			return
		}
		if s.deps.Fetcher == nil {
			writeError(w, r, badRequest("remote refs are not enabled"))
			return
		}
		for _, ref := range req.Refs {
			name, data, err := s.deps.Fetcher.Fetch(r.Context(), ref)
			if err != nil {
				log.Warn().Err(err).Str("ref", ref).Msg("fetch failed")
				resp.Dropped = append(resp.Dropped, ref)
				continue
			}
			add(name, data)
		}
	default:
		writeError(w, r, badRequest("unsupported content type"))
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files := s.deps.Library.List()
	out := make([]fileJSON, 0, len(files))
	for _, f := range files {
		out = append(out, toFileJSON(f))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRemoveFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Library.Remove(id); err != nil {
		writeError(w, r, err)
		return
	}
	s.deps.Sessions.RemoveForFile(id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	f, err := s.deps.Library.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	p := f.Preview()
	if p == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no preview yet"})
		return
	}
	b, err := p.PNG()
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(b)
}

// handleAutoCropFile crops page ?page=N (default 1) of a PDF without a session.
func (s *Server) handleAutoCropFile(w http.ResponseWriter, r *http.Request) {
	f, err := s.deps.Library.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !f.IsPDF() {
		writeError(w, r, source.ErrNotPDF)
		return
	}
	if f.HasPreview() {
		writeError(w, r, source.ErrPreviewSet)
		return
	}
	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, badRequest("page must be an integer"))
			return
		}
		page = n
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.deps.RenderTimeout)
	defer cancel()
	img, err := s.deps.Cropper.AutoCrop(ctx, f.Data, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := f.SetPreview(img); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFileJSON(f))
}
