package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/local/receiptprint/internal/records"
)

type verifyReq struct {
	Passcode string `json:"passcode"`
}

// handleVerify checks the passcode and issues an auth cookie.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, badRequest("invalid json"))
		return
	}
	if s.passcodeHash == nil {
		writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
		return
	}
	if bcrypt.CompareHashAndPassword(s.passcodeHash, []byte(req.Passcode)) != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]bool{"valid": false})
		return
	}
	token := uuid.NewString()
	s.mu.Lock()
	s.tokens[token] = time.Now().Add(authTTL)
	s.mu.Unlock()
	http.SetCookie(w, &http.Cookie{
		Name:     authCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(authTTL.Seconds()),
	})
	writeJSON(w, http.StatusOK, map[string]bool{"valid": true})
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.passcodeHash == nil {
			next(w, r)
			return
		}
		c, err := r.Cookie(authCookie)
		if err != nil || !s.validToken(c.Value) {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "passcode required"})
			return
		}
		next(w, r)
	}
}

func (s *Server) validToken(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.tokens[token]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(s.tokens, token)
		return false
	}
	return true
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := s.deps.Records.List(r.Context(), records.Filters{
		Name:      q.Get("name"),
		Status:    records.Status(q.Get("status")),
		CreatedOn: q.Get("created_on"),
		DueOn:     q.Get("due_on"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []records.Record{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var f records.Fields
	if err := decodeJSON(r, &f); err != nil {
		writeError(w, r, badRequest("invalid json"))
		return
	}
	rec, err := s.deps.Records.Create(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.deps.Records.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	var f records.Fields
	if err := decodeJSON(r, &f); err != nil {
		writeError(w, r, badRequest("invalid json"))
		return
	}
	rec, err := s.deps.Records.Update(r.Context(), r.PathValue("id"), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Records.Delete(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type paymentReq struct {
	Amount float64 `json:"amount"`
	Notes  string  `json:"notes"`
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	var req paymentReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, badRequest("invalid json"))
		return
	}
	rec, err := s.deps.Records.RecordPayment(r.Context(), r.PathValue("id"), req.Amount, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRecordLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.deps.Records.AuditLog(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if logs == nil {
		logs = []records.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, logs)
}
