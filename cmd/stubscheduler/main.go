// Command stubscheduler is a local development double for the external
// scheduler taskserver dispatches to. It accepts every /task and /cancel
// call by default, with optional failure injection via environment
// variables so the Event Processor's partial-failure branches
// can be exercised without a real scheduler.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
)

type taskPayload struct {
	TaskID  string                 `json:"task_id"`
	Service string                 `json:"service"`
	UserID  string                 `json:"user_id"`
	Extra   map[string]interface{} `json:"parameters,omitempty"`
}

type cancelPayload struct {
	TaskID string `json:"task_id"`
}

type state struct {
	mu    sync.Mutex
	tasks map[string]taskPayload
}

func newState() *state {
	return &state{tasks: make(map[string]taskPayload)}
}

// failureMode reads STUB_FAIL_RATE (0..1) and STUB_FAIL_STATUS (an HTTP
// status to return on injected failures, default 500) from the
// environment, matching the env-var-driven config style the rest of this
// module uses instead of a flags package.
type failureMode struct {
	rate   float64
	status int
}

func loadFailureMode() failureMode {
	fm := failureMode{status: http.StatusInternalServerError}
	if raw := os.Getenv("STUB_FAIL_RATE"); raw != "" {
		var r float64
		if _, err := fmt.Sscanf(raw, "%f", &r); err == nil {
			fm.rate = r
		}
	}
	if raw := os.Getenv("STUB_FAIL_STATUS"); raw != "" {
		var s int
		if _, err := fmt.Sscanf(raw, "%d", &s); err == nil {
			fm.status = s
		}
	}
	return fm
}

func (fm failureMode) shouldFail() bool {
	return fm.rate > 0 && rand.Float64() < fm.rate
}

func main() {
	addr := os.Getenv("STUB_LISTEN_ADDR")
	if addr == "" {
		addr = ":9090"
	}
	fm := loadFailureMode()
	st := newState()

	http.HandleFunc("/task", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var p taskPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if fm.shouldFail() {
			log.Printf("stubscheduler: injecting failure %d for task %s", fm.status, p.TaskID)
			http.Error(w, "injected failure", fm.status)
			return
		}

		st.mu.Lock()
		st.tasks[p.TaskID] = p
		st.mu.Unlock()

		log.Printf("stubscheduler: accepted task %s (service=%s user=%s)", p.TaskID, p.Service, p.UserID)
		writeJSON(w, map[string]string{"status": "accepted", "task_id": p.TaskID})
	})

	http.HandleFunc("/cancel", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var p cancelPayload
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if p.TaskID == "" {
			http.Error(w, "task_id is required", http.StatusBadRequest)
			return
		}
		if fm.shouldFail() {
			log.Printf("stubscheduler: injecting failure %d for cancel %s", fm.status, p.TaskID)
			http.Error(w, "injected failure", fm.status)
			return
		}

		st.mu.Lock()
		_, known := st.tasks[p.TaskID]
		delete(st.tasks, p.TaskID)
		st.mu.Unlock()
		if !known {
			log.Printf("stubscheduler: cancel for unknown task %s", p.TaskID)
		}

		writeJSON(w, map[string]string{"status": "cancelled", "task_id": p.TaskID})
	})

	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	log.Printf("stubscheduler: listening on %s (fail_rate=%.2f fail_status=%d)", addr, fm.rate, fm.status)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
