// Package api exposes the import pipeline to the host process over a local
// HTTP surface. It returns decrypted plain entities as JSON; any
// markup-safe rendering is the presentation layer's responsibility.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"chatvault/internal/crypto"
	"chatvault/internal/importer"
	"chatvault/internal/store"
)

type Server struct {
	router   *chi.Mux
	addr     string
	crypto   *crypto.Service
	store    *store.Store
	importer *importer.Importer
	logger   *slog.Logger
}

func NewServer(addr string, cs *crypto.Service, st *store.Store, imp *importer.Importer, logger *slog.Logger) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		addr:     addr,
		crypto:   cs,
		store:    st,
		importer: imp,
		logger:   logger,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/status", s.status)
	router.Post("/api/v1/unlock", s.unlock)
	router.Post("/api/v1/lock", s.lock)
	router.Post("/api/v1/import", s.importFile)
	router.Get("/api/v1/conversations", s.listConversations)
	router.Get("/api/v1/conversations/{id}/messages", s.listMessages)

	return s
}

func (s *Server) Start() error {
	s.logger.Info("API server starting", "addr", s.addr)
	return http.ListenAndServe(s.addr, s.router)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"locked": !s.crypto.IsInitialized(),
	}
	if n, err := s.store.GetConversationCount(r.Context()); err == nil {
		resp["conversations"] = n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) unlock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.crypto.Initialize(body.Password); err != nil {
		switch {
		case errors.Is(err, crypto.ErrDecryption):
			writeError(w, http.StatusUnauthorized, "wrong password")
		case errors.Is(err, crypto.ErrKeyDerivation):
			writeError(w, http.StatusBadRequest, "key derivation failed")
		default:
			s.logger.Error("unlock failed", "error", err)
			writeError(w, http.StatusInternalServerError, "unlock failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unlocked"})
}

func (s *Server) lock(w http.ResponseWriter, r *http.Request) {
	s.crypto.Clear()
	writeJSON(w, http.StatusOK, map[string]string{"status": "locked"})
}

func (s *Server) importFile(w http.ResponseWriter, r *http.Request) {
	if !s.crypto.IsInitialized() {
		writeError(w, http.StatusConflict, "vault is locked")
		return
	}

	name := r.Header.Get("X-Filename")
	if name == "" {
		name = "upload"
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, importer.MaxImportBytes+1))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	report, err := s.importer.ImportFiles(r.Context(), []importer.File{{Name: name, Data: data}})
	if err != nil {
		// Only context cancellation reaches here; per-file failures are in
		// the report.
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if len(report.Files) == 1 && report.Files[0].Error != "" {
		// Unrecognized format, validation failure, parser limit: the report
		// body carries the detail.
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, report)
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orderBy := q.Get("order_by")
	if orderBy == "" {
		orderBy = "end_time"
	}
	limit := intParam(q.Get("limit"), 50)
	offset := intParam(q.Get("offset"), 0)

	convs, err := s.store.GetConversations(r.Context(), orderBy, limit, offset)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	msgs, err := s.store.GetMessagesForConversation(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// storeError maps persistence-layer failures onto statuses without leaking
// internals.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrEncryptionNotReady):
		writeError(w, http.StatusConflict, "vault is locked")
	case errors.Is(err, store.ErrNotInitialized), errors.Is(err, store.ErrClosed):
		writeError(w, http.StatusConflict, "store not ready")
	case errors.Is(err, crypto.ErrDecryption):
		writeError(w, http.StatusInternalServerError, "decryption failed")
	default:
		s.logger.Error("store operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func intParam(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
