package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/taskflowd/taskflowd/internal/model"
)

// TaskService is the subset of internal/service.Service the HTTP layer
// needs. Declared here, not in the service package, so handlers depend on
// the narrowest contract they use.
type TaskService interface {
	Create(ctx context.Context, service, userID string, parameters map[string]interface{}) (*model.Record, error)
	Get(ctx context.Context, taskID, service, userID string) (*model.Record, error)
	Cancel(ctx context.Context, taskID, service, userID string) (*model.Record, error)
	Cleanup(ctx context.Context, taskID, service, userID string) (bool, error)
	ListAll(ctx context.Context) ([]*model.Record, error)
	ListByService(ctx context.Context, service string) ([]*model.Record, error)
	ListByServiceAndUser(ctx context.Context, service, userID string) ([]*model.Record, error)
	ListUsersByService(ctx context.Context, service string) ([]string, error)
}

// Handlers implements every route NewRouter registers.
type Handlers struct {
	svc         TaskService
	health      pinger
	stream      *StreamHub
	idempotency *IdempotencyStore
	upgr        websocket.Upgrader
}

// NewHandlers constructs the handler set. health and stream may be nil:
// health disables the store-connectivity check in /health, stream disables
// the /stream websocket route entirely (see NewRouter).
func NewHandlers(svc TaskService, health pinger, stream *StreamHub) *Handlers {
	return &Handlers{
		svc:         svc,
		health:      health,
		stream:      stream,
		idempotency: NewIdempotencyStore(),
		upgr:        websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Printf("api: encode response: %v", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleHealth reports 503 when the store can't be reached, 200 otherwise.
// Without a health pinger wired in, it always reports ok (e.g. the
// in-memory store has no connection to lose).
func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createTaskRequest struct {
	Service    string                 `json:"service"`
	UserID     string                 `json:"user_id"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// handleTasksCollection serves POST /tasks (create) and GET /tasks (list,
// branching to list-all, list-by-service, or list-by-service-and-user
// depending on which query parameters are present).
func (h *Handlers) handleTasksCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.idempotency.WithIdempotency(h.handleCreate)(w, r)
	case http.MethodGet:
		h.handleList(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handlers) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Service == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "service and user_id are required")
		return
	}

	rec, err := h.svc.Create(r.Context(), req.Service, req.UserID, req.Parameters)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handlers) handleList(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	userID := r.URL.Query().Get("user_id")

	var (
		recs []*model.Record
		err  error
	)
	switch {
	case service != "" && userID != "":
		recs, err = h.svc.ListByServiceAndUser(r.Context(), service, userID)
	case service != "":
		recs, err = h.svc.ListByService(r.Context(), service)
	default:
		recs, err = h.svc.ListAll(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleTaskItem dispatches every /tasks/{id}... route: plain item
// get/cancel/delete, and the /tasks/users listing, via manual path-suffix
// parsing rather than pulling in a router library for this alone.
func (h *Handlers) handleTaskItem(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if rest == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	if rest == "users" {
		h.handleListUsers(w, r)
		return
	}

	if taskID, ok := strings.CutSuffix(rest, "/cancel"); ok {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleCancel(w, r, taskID)
		return
	}

	taskID := rest
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r, taskID)
	case http.MethodDelete:
		h.handleCleanup(w, r, taskID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handlers) handleGet(w http.ResponseWriter, r *http.Request, taskID string) {
	service := r.URL.Query().Get("service")
	userID := r.URL.Query().Get("user_id")

	rec, err := h.svc.Get(r.Context(), taskID, service, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) handleCancel(w http.ResponseWriter, r *http.Request, taskID string) {
	service := r.URL.Query().Get("service")
	userID := r.URL.Query().Get("user_id")

	rec, err := h.svc.Cancel(r.Context(), taskID, service, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) handleCleanup(w http.ResponseWriter, r *http.Request, taskID string) {
	service := r.URL.Query().Get("service")
	userID := r.URL.Query().Get("user_id")

	ok, err := h.svc.Cleanup(r.Context(), taskID, service, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) handleListUsers(w http.ResponseWriter, r *http.Request) {
	service := r.URL.Query().Get("service")
	if service == "" {
		writeError(w, http.StatusBadRequest, "service is required")
		return
	}
	users, err := h.svc.ListUsersByService(r.Context(), service)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// handleStream upgrades to a websocket and subscribes the connection to
// the status stream, optionally filtered to a service/user, so operators
// can watch their own tasks instead of polling GET /tasks in a loop.
func (h *Handlers) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgr.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: stream upgrade failed: %v", err)
		return
	}
	service := r.URL.Query().Get("service")
	userID := r.URL.Query().Get("user_id")
	h.stream.Register(conn, service, userID)

	// Drain and discard inbound frames so the read side observes a client
	// disconnect and can unregister; this endpoint is push-only.
	go func() {
		defer h.stream.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
