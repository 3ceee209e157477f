package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/local/receiptprint/internal/crop"
	"github.com/local/receiptprint/internal/layout"
	"github.com/local/receiptprint/internal/metrics"
	"github.com/local/receiptprint/internal/printsheet"
	"github.com/local/receiptprint/internal/rasterizer"
	"github.com/local/receiptprint/internal/records"
	"github.com/local/receiptprint/internal/session"
	"github.com/local/receiptprint/internal/source"
	"github.com/local/receiptprint/internal/statuscheck"
	"github.com/local/receiptprint/internal/store"
)

type Fetcher interface {
	Fetch(ctx context.Context, ref string) (string, []byte, error)
}

type AutoCropper interface {
	AutoCrop(ctx context.Context, data []byte, page int) (*crop.Image, error)
}

// BatchQueue submits and cancels batch auto-crop jobs.
type BatchQueue interface {
	Enqueue(ctx context.Context, payload []byte) (string, error)
	Cancel(ctx context.Context, jobID string) error
}

type BatchStatus interface {
	Set(ctx context.Context, jobID string, st store.BatchStatus) error
	Get(ctx context.Context, jobID string) (store.BatchStatus, bool, error)
}

type RecordStore interface {
	Get(ctx context.Context, id string) (*records.Record, error)
	List(ctx context.Context, f records.Filters) ([]records.Record, error)
	Create(ctx context.Context, f records.Fields) (*records.Record, error)
	Update(ctx context.Context, id string, f records.Fields) (*records.Record, error)
	Delete(ctx context.Context, id string) error
	RecordPayment(ctx context.Context, id string, amount float64, notes string) (*records.Record, error)
	AuditLog(ctx context.Context, recordID string) ([]records.AuditEntry, error)
}

type Health interface {
	Summary(ctx context.Context) statuscheck.Summary
}

type Dependencies struct {
	Library        *source.Library
	Fetcher        Fetcher
	Sessions       *session.Registry
	Cropper        AutoCropper
	Composer       *printsheet.Composer
	DefaultDensity layout.Density
	Batch          BatchQueue
	BatchStatus    BatchStatus
	Records        RecordStore
	Health         Health
	// Passcode guards the record endpoints. Empty disables the gate.
	Passcode       string
	MaxUploadBytes int64
	RenderTimeout  time.Duration
}

type Server struct {
	deps         Dependencies
	passcodeHash []byte

	mu     sync.Mutex
	tokens map[string]time.Time
}

const (
	authCookie = "auth"
	authTTL    = 12 * time.Hour
)

func New(deps Dependencies) (*Server, error) {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 64 << 20
	}
	if deps.RenderTimeout <= 0 {
		deps.RenderTimeout = 30 * time.Second
	}
	if deps.DefaultDensity == 0 {
		deps.DefaultDensity = 4
	}
	s := &Server{deps: deps, tokens: make(map[string]time.Time)}
	if deps.Passcode != "" {
		h, err := bcrypt.GenerateFromPassword([]byte(deps.Passcode), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		s.passcodeHash = h
	} else {
		log.Warn().Msg("APP_PASSCODE not set; record endpoints are open")
	}
	return s, nil
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /health/details", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /files", s.handleAddFiles)
	mux.HandleFunc("GET /files", s.handleListFiles)
	mux.HandleFunc("DELETE /files/{id}", s.handleRemoveFile)
	mux.HandleFunc("GET /files/{id}/preview", s.handlePreview)
	mux.HandleFunc("POST /files/{id}/autocrop", s.handleAutoCropFile)

	mux.HandleFunc("POST /batch", s.handleStartBatch)
	mux.HandleFunc("GET /batch/{id}", s.handleBatchStatus)
	mux.HandleFunc("POST /batch/{id}/cancel", s.handleCancelBatch)

	mux.HandleFunc("POST /sessions", s.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleCloseSession)
	mux.HandleFunc("POST /sessions/{id}/{action}", s.handleSessionAction)
	mux.HandleFunc("GET /sessions/{id}/page.png", s.handleSessionPage)

	mux.HandleFunc("GET /layout", s.handleLayout)
	mux.HandleFunc("GET /print.html", s.handlePrintHTML)
	mux.HandleFunc("GET /print.pdf", s.handlePrintPDF)

	mux.HandleFunc("POST /auth/verify", s.handleVerify)
	mux.HandleFunc("GET /records", s.requireAuth(s.handleListRecords))
	mux.HandleFunc("POST /records", s.requireAuth(s.handleCreateRecord))
	mux.HandleFunc("GET /records/{id}", s.requireAuth(s.handleGetRecord))
	mux.HandleFunc("PUT /records/{id}", s.requireAuth(s.handleUpdateRecord))
	mux.HandleFunc("DELETE /records/{id}", s.requireAuth(s.handleDeleteRecord))
	mux.HandleFunc("POST /records/{id}/payment", s.requireAuth(s.handlePayment))
	mux.HandleFunc("GET /records/{id}/logs", s.requireAuth(s.handleRecordLogs))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	sum := s.deps.Health.Summary(r.Context())
	code := http.StatusOK
	if !sum.OK() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, sum)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= 500 {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	var (
		decodeErr  *rasterizer.DecodeError
		rangeErr   *rasterizer.PageOutOfRangeError
		validation *records.ValidationError
		densityErr *layout.InvalidDensityError
	)
	switch {
	case errors.Is(err, source.ErrNotFound), errors.Is(err, session.ErrNotFound), errors.Is(err, records.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrInvalidState),
		errors.Is(err, source.ErrPreviewSet), errors.Is(err, printsheet.ErrNothingToPrint):
		return http.StatusConflict
	case errors.As(err, &decodeErr), errors.As(err, &rangeErr),
		errors.Is(err, session.ErrNotPDF), errors.Is(err, source.ErrNotPDF):
		return http.StatusUnprocessableEntity
	case errors.As(err, &validation), errors.As(err, &densityErr), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

type badRequest string

func (e badRequest) Error() string { return string(e) }
func (e badRequest) Is(target error) bool { return target == errBadRequest }
