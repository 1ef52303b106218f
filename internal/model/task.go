// Package model defines the durable task record and its status lifecycle.
package model

import "time"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending         Status = "pending"
	StatusDispatching     Status = "dispatching"
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelRequested Status = "cancel_requested"
	StatusCancelled       Status = "cancelled"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Priority is carried on every task but never consulted for dispatch
// ordering; the scheduler is strictly FIFO.
type Priority string

const (
	PriorityHigh Priority = "high"
	PriorityLow  Priority = "low"
)

// Result holds the optional structured outcome reported by the scheduler.
type Result struct {
	PodStatus      *string `json:"pod_status,omitempty"`
	LauncherOutput *string `json:"launcher_output,omitempty"`
}

// Record is the durable unit persisted by the repository.
type Record struct {
	TaskID     string                 `json:"task_id"`
	Service    string                 `json:"service"`
	UserID     string                 `json:"user_id"`
	Status     Status                 `json:"status"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	UpdatedAt  time.Time              `json:"updated_at"`
	Logs       []string               `json:"logs,omitempty"`
	Result     Result                 `json:"result"`
	Priority   Priority               `json:"priority"`
}

// Clone returns a deep-enough copy safe for the caller to mutate without
// racing the copy held by the repository layer.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Parameters != nil {
		cp.Parameters = make(map[string]interface{}, len(r.Parameters))
		for k, v := range r.Parameters {
			cp.Parameters[k] = v
		}
	}
	if r.Logs != nil {
		cp.Logs = append([]string(nil), r.Logs...)
	}
	return &cp
}

// Matches reports whether the record belongs to the given service/user
// filter. An empty filter component matches anything in that position.
func (r *Record) Matches(service, userID string) bool {
	if service != "" && r.Service != service {
		return false
	}
	if userID != "" && r.UserID != userID {
		return false
	}
	return true
}
