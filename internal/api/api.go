// Package api wires the board's HTTP surface: a plain
// net/http.ServeMux of board routes, each handler doing nothing but
// decoding a request, calling into internal/board, and encoding the
// response. No business logic lives here.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kanbeast/kanbeast/internal/board"
)

// Server holds the dependencies every handler needs: the board service
// and, optionally, a websocket hub mounted at /ws by the caller (kept
// out of this package so api never imports hub — see internal/hub's
// doc comment for the mirrored reasoning on the board side).
type Server struct {
	Board *board.Service
	Log   *slog.Logger
}

// New returns a Server. logger may be nil.
func New(boardSvc *board.Service, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{Board: boardSvc, Log: logger}
}

// Mount registers every route on mux. Callers add /ws, /metrics, and
// static asset handlers separately; this package owns only the board
// CRUD surface.
func (s *Server) Mount(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/tickets", s.handleListTickets)
	mux.HandleFunc("POST /api/tickets", s.handleCreateTicket)
	mux.HandleFunc("GET /api/tickets/{id}", s.handleGetTicket)
	mux.HandleFunc("DELETE /api/tickets/{id}", s.handleDeleteTicket)
	mux.HandleFunc("POST /api/tickets/{id}/status", s.handleUpdateStatus)
	mux.HandleFunc("POST /api/tickets/{id}/tasks", s.handleAddTask)
	mux.HandleFunc("POST /api/tickets/{id}/tasks/{taskId}/subtasks", s.handleAddSubtask)
	mux.HandleFunc("POST /api/tickets/{id}/tasks/{taskId}/subtasks/{subtaskId}/status", s.handleSetSubtaskStatus)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "ts": time.Now().UTC()})
}

func (s *Server) handleListTickets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Board.List())
}

func (s *Server) handleCreateTicket(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if strings.TrimSpace(in.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	writeJSON(w, http.StatusCreated, s.Board.Create(in.Title, in.Description))
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	t := s.Board.Get(r.PathValue("id"))
	if t == nil {
		writeError(w, http.StatusNotFound, "ticket not found")
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTicket(w http.ResponseWriter, r *http.Request) {
	if err := s.Board.Delete(r.PathValue("id")); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status board.Status `json:"status"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := s.Board.UpdateStatus(r.PathValue("id"), in.Status); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.Board.Get(r.PathValue("id")))
}

func (s *Server) handleAddTask(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	task, err := s.Board.AddTask(r.PathValue("id"), in.Name, in.Description)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (s *Server) handleAddSubtask(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	sub, err := s.Board.AddSubtask(r.PathValue("id"), r.PathValue("taskId"), in.Name, in.Description)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

func (s *Server) handleSetSubtaskStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Status board.SubtaskStatus `json:"status"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if err := s.Board.SetSubtaskStatus(r.PathValue("id"), r.PathValue("taskId"), r.PathValue("subtaskId"), in.Status); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		writeError(w, http.StatusBadRequest, "request body is required")
		return false
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
