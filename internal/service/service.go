// Package service implements the Task Service: the state machine guards
// around create/cancel/cleanup, delegating storage to the Task Repository
// and dispatch to the Event Processor via the event queue.
package service

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/taskflowd/taskflowd/internal/events"
	"github.com/taskflowd/taskflowd/internal/model"
	"github.com/taskflowd/taskflowd/internal/observability"
	"github.com/taskflowd/taskflowd/internal/queue"
	"github.com/taskflowd/taskflowd/internal/store"
)

// Service orchestrates create/cancel/cleanup and enforces the FSM guards.
// It never talks to the scheduler directly; that's the Event Processor's
// job once an event is dequeued.
type Service struct {
	repo  store.Repository
	queue *queue.Queue

	// Per-(service,user) submission smoothing. It only delays bursts, it
	// never rejects or reorders, so it cannot violate the FIFO/no-priority
	// guarantee.
	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
	burstRate rate.Limit
	burstSize int
}

// New constructs a Task Service. burstRate/burstSize of 0 disables
// submission smoothing (no limiter is created for any key).
func New(repo store.Repository, q *queue.Queue, burstRate float64, burstSize int) *Service {
	s := &Service{
		repo:     repo,
		queue:    q,
		limiters: make(map[string]*rate.Limiter),
	}
	if burstRate > 0 && burstSize > 0 {
		s.burstRate = rate.Limit(burstRate)
		s.burstSize = burstSize
	}
	return s
}

func (s *Service) limiterFor(service, userID string) *rate.Limiter {
	if s.burstRate == 0 {
		return nil
	}
	key := service + "/" + userID
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	l, ok := s.limiters[key]
	if !ok {
		l = rate.NewLimiter(s.burstRate, s.burstSize)
		s.limiters[key] = l
	}
	return l
}

// Create allocates an id, saves a PENDING record, and enqueues
// TASK_SUBMITTED.
func (s *Service) Create(ctx context.Context, service, userID string, parameters map[string]interface{}) (*model.Record, error) {
	if l := s.limiterFor(service, userID); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, err
		}
	}

	id, err := s.repo.NextTaskID(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rec := &model.Record{
		TaskID:     id,
		Service:    service,
		UserID:     userID,
		Status:     model.StatusPending,
		Parameters: parameters,
		CreatedAt:  now,
		UpdatedAt:  now,
		Priority:   model.PriorityLow,
	}
	if err := s.repo.Save(ctx, rec); err != nil {
		return nil, err
	}
	observability.TaskStatusTransitions.WithLabelValues(string(model.StatusPending)).Inc()

	s.queue.Enqueue(events.Event{
		Kind:       events.TaskSubmitted,
		TaskID:     id,
		Service:    service,
		UserID:     userID,
		Parameters: parameters,
	})

	return rec, nil
}

// Get delegates to the repository, applying an ownership filter when
// service/userID are non-empty. A mismatch is treated as not found.
func (s *Service) Get(ctx context.Context, taskID, service, userID string) (*model.Record, error) {
	rec, err := s.repo.Get(ctx, taskID)
	if err != nil || rec == nil {
		return nil, err
	}
	if !rec.Matches(service, userID) {
		return nil, nil
	}
	return rec, nil
}

// Cancel requests cancellation. If the ownership
// filter is given and mismatches, returns nil (not found). If the task is
// already terminal, returns the record unchanged (idempotent). Otherwise
// it moves to CANCEL_REQUESTED (unless already there) and always
// re-enqueues TASK_CANCELLED so repeated calls re-drive the scheduler
// call.
func (s *Service) Cancel(ctx context.Context, taskID, service, userID string) (*model.Record, error) {
	rec, err := s.repo.Get(ctx, taskID)
	if err != nil || rec == nil {
		return nil, err
	}
	if !rec.Matches(service, userID) {
		return nil, nil
	}

	if !rec.Status.Terminal() && rec.Status != model.StatusCancelRequested {
		if !model.CanTransition(rec.Status, model.StatusCancelRequested) {
			// Not listed in the FSM table: ignore, return current record.
			return rec, nil
		}
		updated, err := s.repo.SetStatus(ctx, taskID, model.StatusCancelRequested, "Cancellation requested")
		if err != nil {
			return nil, err
		}
		if updated != nil {
			rec = updated
			observability.TaskStatusTransitions.WithLabelValues(string(model.StatusCancelRequested)).Inc()
		}
	}

	if !rec.Status.Terminal() {
		s.queue.Enqueue(events.Event{
			Kind:    events.TaskCancelled,
			TaskID:  taskID,
			Service: rec.Service,
			UserID:  rec.UserID,
		})
	}

	return rec, nil
}

// Cleanup is cancel followed by delete. Returns true
// if the task existed and passed the ownership filter.
func (s *Service) Cleanup(ctx context.Context, taskID, service, userID string) (bool, error) {
	rec, err := s.Cancel(ctx, taskID, service, userID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	if err := s.repo.Delete(ctx, taskID); err != nil {
		return false, err
	}
	return true, nil
}

// ListAll, ListByService, ListByServiceAndUser and ListUsersByService
// delegate to the repository. Reads are best-effort eventually consistent
// with concurrent mutations.
func (s *Service) ListAll(ctx context.Context) ([]*model.Record, error) {
	return s.repo.ListAll(ctx)
}

func (s *Service) ListByService(ctx context.Context, service string) ([]*model.Record, error) {
	return s.repo.ListByService(ctx, service)
}

func (s *Service) ListByServiceAndUser(ctx context.Context, service, userID string) ([]*model.Record, error) {
	return s.repo.ListByServiceAndUser(ctx, service, userID)
}

func (s *Service) ListUsersByService(ctx context.Context, service string) ([]string, error) {
	return s.repo.ListUsersByService(ctx, service)
}
