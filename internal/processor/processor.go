// Package processor implements the Event Processor: a bounded worker pool
// that bridges durable task state to the external scheduler, distinguishing
// permanent rejections from transient failures at every step.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/taskflowd/taskflowd/internal/events"
	"github.com/taskflowd/taskflowd/internal/model"
	"github.com/taskflowd/taskflowd/internal/observability"
	"github.com/taskflowd/taskflowd/internal/queue"
	"github.com/taskflowd/taskflowd/internal/schedclient"
	"github.com/taskflowd/taskflowd/internal/store"
)

// Processor owns N workers, each independently pulling from the shared
// queue; tasks are not serialized to a specific worker by default.
type Processor struct {
	repo    store.Repository
	sched   *schedclient.Client
	queue   *queue.Queue
	workers int
	audit   *store.PostgresAuditSink
	notify  func(events.StatusEvent)

	// schedSem caps in-flight calls to the external scheduler
	// independently of worker count: a pool sized for fast state
	// transitions shouldn't also mean hammering the scheduler with one
	// outbound call per worker.
	schedSem *semaphore.Weighted

	wg sync.WaitGroup
}

// New constructs a Processor with workerCount workers (clamped to >= 1).
// audit may be nil. maxInFlightSchedulerCalls bounds concurrent
// scheduler RPCs across all workers; a non-positive value falls back to
// workerCount (no additional throttling beyond the pool itself).
func New(repo store.Repository, sched *schedclient.Client, q *queue.Queue, workerCount int, audit *store.PostgresAuditSink, maxInFlightSchedulerCalls int) *Processor {
	if workerCount < 1 {
		workerCount = 1
	}
	if maxInFlightSchedulerCalls < 1 {
		maxInFlightSchedulerCalls = workerCount
	}
	return &Processor{
		repo:     repo,
		sched:    sched,
		queue:    q,
		workers:  workerCount,
		audit:    audit,
		schedSem: semaphore.NewWeighted(int64(maxInFlightSchedulerCalls)),
	}
}

// SetNotifier registers a callback fired after every status transition the
// processor commits. fn must not block; the status-stream hub it typically
// feeds is non-blocking by construction (internal/api.StreamHub.Publish).
func (p *Processor) SetNotifier(fn func(events.StatusEvent)) {
	p.notify = fn
}

func (p *Processor) notifyStatus(ev events.Event, status model.Status, message string) {
	if p.notify == nil {
		return
	}
	p.notify(events.StatusEvent{
		TaskID:  ev.TaskID,
		Service: ev.Service,
		UserID:  ev.UserID,
		Status:  string(status),
		Message: message,
	})
}

// Start spawns the worker pool. It returns immediately; cancel ctx to wind
// the workers down, then Wait for them to finish any in-flight event.
func (p *Processor) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Wait blocks until every worker has returned, i.e. finished its current
// event and observed the stop signal.
func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-p.queue.C():
			observability.EventQueueDepth.Set(float64(p.queue.Len()))
			p.handle(ctx, ev)
		}
	}
}

func (p *Processor) handle(ctx context.Context, ev events.Event) {
	switch ev.Kind {
	case events.TaskSubmitted:
		p.handleSubmitted(ctx, ev)
	case events.TaskCancelled:
		p.handleCancelled(ctx, ev)
	}
}

// handleSubmitted moves a submitted task from PENDING through DISPATCHING
// to its outcome, branching on whether the scheduler accepted, permanently
// rejected, or transiently failed the submission.
func (p *Processor) handleSubmitted(ctx context.Context, ev events.Event) {
	if _, err := p.repo.SetStatus(ctx, ev.TaskID, model.StatusDispatching, "Dispatching to scheduler"); err != nil {
		log.Printf("processor: set_status dispatching for task %s: %v", ev.TaskID, err)
		return
	}
	observability.TaskStatusTransitions.WithLabelValues(string(model.StatusDispatching)).Inc()
	p.notifyStatus(ev, model.StatusDispatching, "Dispatching to scheduler")

	if err := p.schedSem.Acquire(ctx, 1); err != nil {
		log.Printf("processor: scheduler semaphore for task %s: %v", ev.TaskID, err)
		return
	}
	err := p.sched.SubmitTask(ctx, schedclient.SubmitRequest{
		TaskID:     ev.TaskID,
		Service:    ev.Service,
		UserID:     ev.UserID,
		Parameters: ev.Parameters,
	})
	p.schedSem.Release(1)

	var unavailable *schedclient.UnavailableError
	var response *schedclient.ResponseError

	switch {
	case err == nil:
		if _, aerr := p.repo.AppendLog(ctx, ev.TaskID, "Scheduler acknowledged submission"); aerr != nil {
			log.Printf("processor: append_log for task %s: %v", ev.TaskID, aerr)
		}
		p.finishSubmission(ctx, ev, model.StatusRunning, "")
		p.archiveIfTerminal(ctx, ev.TaskID, model.StatusRunning)

	case errors.As(err, &unavailable):
		p.finishSubmission(ctx, ev, model.StatusFailed,
			fmt.Sprintf("Scheduler unavailable at %s: %v", unavailable.URL, unavailable.Cause))
		p.archiveIfTerminal(ctx, ev.TaskID, model.StatusFailed)

	case errors.As(err, &response):
		if response.Permanent() {
			p.finishSubmission(ctx, ev, model.StatusFailed,
				fmt.Sprintf("Scheduler returned %d: %s", response.StatusCode, response.Body))
			p.archiveIfTerminal(ctx, ev.TaskID, model.StatusFailed)
		} else {
			// Transient non-2xx: logged for operator attention, but the
			// task stays in DISPATCHING.
			log.Printf("CRITICAL: task %s scheduler submit returned transient status %d: %s", ev.TaskID, response.StatusCode, response.Body)
			if _, aerr := p.repo.AppendLog(ctx, ev.TaskID, fmt.Sprintf("Scheduler returned %d: %s", response.StatusCode, response.Body)); aerr != nil {
				log.Printf("processor: append_log for task %s: %v", ev.TaskID, aerr)
			}
			observability.EventsProcessed.WithLabelValues(events.TaskSubmitted.String(), "transient_error").Inc()
		}

	default:
		p.finishSubmission(ctx, ev, model.StatusFailed, err.Error())
		p.archiveIfTerminal(ctx, ev.TaskID, model.StatusFailed)
	}
}

func (p *Processor) finishSubmission(ctx context.Context, ev events.Event, status model.Status, logMsg string) {
	if _, err := p.repo.SetStatus(ctx, ev.TaskID, status, logMsg); err != nil {
		log.Printf("processor: set_status %s for task %s: %v", status, ev.TaskID, err)
		return
	}
	observability.TaskStatusTransitions.WithLabelValues(string(status)).Inc()
	p.notifyStatus(ev, status, logMsg)
	outcome := "ok"
	if status == model.StatusFailed {
		outcome = "failed"
	}
	observability.EventsProcessed.WithLabelValues(events.TaskSubmitted.String(), outcome).Inc()
}

// handleCancelled asks the scheduler to cancel a task and resolves the
// CANCEL_REQUESTED status based on the outcome.
func (p *Processor) handleCancelled(ctx context.Context, ev events.Event) {
	if err := p.schedSem.Acquire(ctx, 1); err != nil {
		log.Printf("processor: scheduler semaphore for task %s: %v", ev.TaskID, err)
		return
	}
	err := p.sched.CancelTask(ctx, schedclient.CancelRequest{
		TaskID:  ev.TaskID,
		Service: ev.Service,
		UserID:  ev.UserID,
	})
	p.schedSem.Release(1)

	var unavailable *schedclient.UnavailableError
	var response *schedclient.ResponseError

	switch {
	case err == nil:
		if _, serr := p.repo.SetStatus(ctx, ev.TaskID, model.StatusCancelled, "Task cancelled"); serr != nil {
			log.Printf("processor: set_status cancelled for task %s: %v", ev.TaskID, serr)
			return
		}
		observability.TaskStatusTransitions.WithLabelValues(string(model.StatusCancelled)).Inc()
		p.notifyStatus(ev, model.StatusCancelled, "Task cancelled")
		observability.EventsProcessed.WithLabelValues(events.TaskCancelled.String(), "ok").Inc()
		p.archiveIfTerminal(ctx, ev.TaskID, model.StatusCancelled)

	case errors.As(err, &response):
		if response.Permanent() {
			if _, serr := p.repo.SetStatus(ctx, ev.TaskID, model.StatusFailed,
				fmt.Sprintf("Scheduler returned %d: %s", response.StatusCode, response.Body)); serr != nil {
				log.Printf("processor: set_status failed for task %s: %v", ev.TaskID, serr)
				return
			}
			observability.TaskStatusTransitions.WithLabelValues(string(model.StatusFailed)).Inc()
			p.notifyStatus(ev, model.StatusFailed, fmt.Sprintf("Scheduler returned %d: %s", response.StatusCode, response.Body))
			observability.EventsProcessed.WithLabelValues(events.TaskCancelled.String(), "failed").Inc()
			p.archiveIfTerminal(ctx, ev.TaskID, model.StatusFailed)
		} else {
			// Transient: logged, no state change. Stays CANCEL_REQUESTED
			// awaiting resolution.
			if _, aerr := p.repo.AppendLog(ctx, ev.TaskID, fmt.Sprintf("Scheduler returned %d: %s", response.StatusCode, response.Body)); aerr != nil {
				log.Printf("processor: append_log for task %s: %v", ev.TaskID, aerr)
			}
			observability.EventsProcessed.WithLabelValues(events.TaskCancelled.String(), "transient_error").Inc()
		}

	case errors.As(err, &unavailable):
		if _, aerr := p.repo.AppendLog(ctx, ev.TaskID, fmt.Sprintf("Scheduler unavailable at %s: %v", unavailable.URL, unavailable.Cause)); aerr != nil {
			log.Printf("processor: append_log for task %s: %v", ev.TaskID, aerr)
		}
		observability.EventsProcessed.WithLabelValues(events.TaskCancelled.String(), "unavailable").Inc()

	default:
		if _, aerr := p.repo.AppendLog(ctx, ev.TaskID, fmt.Sprintf("Cancellation error: %v", err)); aerr != nil {
			log.Printf("processor: append_log for task %s: %v", ev.TaskID, aerr)
		}
		observability.EventsProcessed.WithLabelValues(events.TaskCancelled.String(), "error").Inc()
	}
}

// archiveIfTerminal fires the optional Postgres audit sink for a task that
// just reached a terminal status. Best-effort, never blocks the caller
// beyond the archive call itself.
func (p *Processor) archiveIfTerminal(ctx context.Context, taskID string, status model.Status) {
	if p.audit == nil || !status.Terminal() {
		return
	}
	rec, err := p.repo.Get(ctx, taskID)
	if err != nil || rec == nil {
		return
	}
	p.audit.Archive(ctx, rec)
}
