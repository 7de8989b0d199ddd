// Package api exposes the control plane over local HTTP. One endpoint
// dispatches tool invocations; the rest are conveniences for the CLI.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/roelfdiedericks/browserd/internal/browser"
	. "github.com/roelfdiedericks/browserd/internal/logging"
)

// Server serves the tool API on a local listen address.
type Server struct {
	plane *browser.Plane
	http  *http.Server
}

// New builds the API server around a control plane.
func New(listen string, plane *browser.Plane) *Server {
	s := &Server{plane: plane}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Get("/tools", s.handleTools)
	r.Post("/tools/call", s.handleToolCall)
	r.Post("/stop", s.handleStop)

	s.http = &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown or failure.
func (s *Server) ListenAndServe() error {
	L_info("api: listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := s.plane.Dispatch(r.Context(), &browser.Invocation{Name: "status"})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tools": s.plane.Tools()})
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var inv browser.Invocation
	if err := json.NewDecoder(r.Body).Decode(&inv); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "invalid JSON body"})
		return
	}
	if inv.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": "name is required"})
		return
	}

	result, err := s.plane.Dispatch(r.Context(), &inv)
	if err != nil {
		L_warn("api: tool call failed", "name", inv.Name, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	result, err := s.plane.Dispatch(r.Context(), &browser.Invocation{Name: "stop"})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeError maps the error taxonomy onto HTTP statuses and emits the
// uniform failure envelope.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, browser.StatusFor(err), map[string]any{"ok": false, "error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		L_trace("api: response encode failed", "error", err)
	}
}
