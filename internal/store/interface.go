// Package store implements the Task Repository: durable task records plus
// the secondary indexes and TTL discipline around them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/taskflowd/taskflowd/internal/model"
)

// ErrInvalidTTL is returned by constructors when the configured TTL is not
// positive. Construction fails fast rather than silently disabling expiry.
var ErrInvalidTTL = errors.New("store: task TTL must be positive")

// Metadata is the durable (service, user_id) breadcrumb written alongside
// each task so the Expiration Listener can recover index membership after
// the primary record has already expired.
type Metadata struct {
	Service string `json:"service"`
	UserID  string `json:"user_id"`
}

// Repository is the Task Repository's public contract. Every
// operation is safe for concurrent use.
type Repository interface {
	// NextTaskID atomically allocates the next monotonic task id.
	NextTaskID(ctx context.Context) (string, error)

	// Save writes the record under its primary key and re-stamps every
	// index and the metadata breadcrumb with a fresh TTL.
	Save(ctx context.Context, rec *model.Record) error

	// Get returns the task, or nil if it doesn't exist (or has expired).
	Get(ctx context.Context, taskID string) (*model.Record, error)

	// Delete removes the task and prunes every index that referenced it.
	Delete(ctx context.Context, taskID string) error

	// SetStatus performs a read-modify-write status transition, optionally
	// appending a log line, and returns the updated record. Returns nil if
	// the task doesn't exist.
	SetStatus(ctx context.Context, taskID string, status model.Status, logEntry string) (*model.Record, error)

	// AppendLog appends a timestamped log line without changing status.
	AppendLog(ctx context.Context, taskID string, message string) (*model.Record, error)

	// UpdateResult merges non-nil fields into the task's result. A no-op
	// if both arguments are nil.
	UpdateResult(ctx context.Context, taskID string, podStatus, launcherOutput *string) (*model.Record, error)

	// ListByIDs bulk-fetches tasks, silently skipping missing members.
	ListByIDs(ctx context.Context, ids []string) ([]*model.Record, error)

	// ListAll returns every live task.
	ListAll(ctx context.Context) ([]*model.Record, error)

	// ListByService returns every live task for a service.
	ListByService(ctx context.Context, service string) ([]*model.Record, error)

	// ListByServiceAndUser returns every live task for a (service, user) pair.
	ListByServiceAndUser(ctx context.Context, service, userID string) ([]*model.Record, error)

	// ListUsersByService returns every user id with at least one live task
	// in the given service.
	ListUsersByService(ctx context.Context, service string) ([]string, error)

	// HandleTaskExpired is invoked by the Expiration Listener when the
	// store reports that task:{id} has expired. It recovers (service,
	// user_id) from the metadata breadcrumb and prunes all indexes.
	// Idempotent: calling it twice for the same id is a no-op the second
	// time.
	HandleTaskExpired(ctx context.Context, taskID string) error
}

// TTL bundles the primary TTL and the derived metadata-breadcrumb TTL.
type TTL struct {
	Task     time.Duration
	Metadata time.Duration
}

// NewTTL validates and constructs a TTL pair: the metadata breadcrumb
// always outlives the primary record by a small grace window so the
// Expiration Listener can still read it after the primary key expires.
func NewTTL(task time.Duration) (TTL, error) {
	if task <= 0 {
		return TTL{}, ErrInvalidTTL
	}
	return TTL{Task: task, Metadata: task + graceSeconds*time.Second}, nil
}
