// Package api exposes the Task Service over HTTP: the operator-facing
// task CRUD surface, plus the ambient health/metrics/stream endpoints
// that ship alongside it.
package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// pinger is satisfied by store.RedisRepository; asserted rather than added
// to store.Repository because store.MemoryRepository has no connection to
// ping.
type pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter builds the *http.ServeMux wiring every route, using flat
// http.Handle registration and manual path-suffix parsing rather than a
// router library.
func NewRouter(h *Handlers, operatorToken string) http.Handler {
	mux := http.NewServeMux()

	auth := func(next http.HandlerFunc) http.Handler {
		return AuthMiddleware(operatorToken, next)
	}

	mux.HandleFunc("/health", h.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	mux.Handle("/tasks", auth(h.handleTasksCollection))
	mux.Handle("/tasks/", auth(h.handleTaskItem))

	if h.stream != nil {
		mux.Handle("/stream", auth(h.handleStream))
	}

	return CORSMiddleware(mux)
}
