package processor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/taskflowd/taskflowd/internal/events"
	"github.com/taskflowd/taskflowd/internal/model"
	"github.com/taskflowd/taskflowd/internal/queue"
	"github.com/taskflowd/taskflowd/internal/schedclient"
	"github.com/taskflowd/taskflowd/internal/store"
)

func waitForStatus(t *testing.T, repo store.Repository, taskID string, want model.Status) *model.Record {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := repo.Get(context.Background(), taskID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec != nil && rec.Status == want {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s never reached status %s", taskID, want)
	return nil
}

func newTestProcessor(t *testing.T, schedulerStatus int) (*Processor, *queue.Queue, store.Repository, func()) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(schedulerStatus)
	}))

	repo := store.NewMemoryRepository()
	q := queue.New(16)
	sched := schedclient.New(schedclient.Config{BaseURL: srv.URL})
	p := New(repo, sched, q, 2, nil, 0)

	return p, q, repo, func() {
		sched.Close()
		srv.Close()
	}
}

func TestProcessorSubmittedSuccessMovesToRunning(t *testing.T) {
	p, q, repo, cleanup := newTestProcessor(t, http.StatusAccepted)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Wait()

	repo.Save(ctx, &model.Record{TaskID: "1", Service: "sync", UserID: "alice", Status: model.StatusPending})
	q.Enqueue(events.Event{Kind: events.TaskSubmitted, TaskID: "1", Service: "sync", UserID: "alice"})

	waitForStatus(t, repo, "1", model.StatusRunning)
}

func TestProcessorSubmittedPermanentRejectionFails(t *testing.T) {
	p, q, repo, cleanup := newTestProcessor(t, http.StatusForbidden)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Wait()

	repo.Save(ctx, &model.Record{TaskID: "1", Service: "sync", UserID: "alice", Status: model.StatusPending})
	q.Enqueue(events.Event{Kind: events.TaskSubmitted, TaskID: "1", Service: "sync", UserID: "alice"})

	waitForStatus(t, repo, "1", model.StatusFailed)
}

func TestProcessorSubmittedTransientErrorStaysInDispatching(t *testing.T) {
	p, q, repo, cleanup := newTestProcessor(t, http.StatusInternalServerError)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Wait()

	repo.Save(ctx, &model.Record{TaskID: "1", Service: "sync", UserID: "alice", Status: model.StatusPending})
	q.Enqueue(events.Event{Kind: events.TaskSubmitted, TaskID: "1", Service: "sync", UserID: "alice"})

	rec := waitForStatus(t, repo, "1", model.StatusDispatching)
	deadline := time.Now().Add(2 * time.Second)
	for len(rec.Logs) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		rec, _ = repo.Get(context.Background(), "1")
	}
	if len(rec.Logs) < 2 || !strings.HasSuffix(rec.Logs[1], ",Scheduler returned 500: ") {
		t.Fatalf("expected a log entry recording the transient error, got %v", rec.Logs)
	}
	if rec.Status != model.StatusDispatching {
		t.Fatalf("Status = %s, want dispatching after a transient error", rec.Status)
	}
}

func TestProcessorCancelledSuccessMovesToCancelled(t *testing.T) {
	p, q, repo, cleanup := newTestProcessor(t, http.StatusOK)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Wait()

	repo.Save(ctx, &model.Record{TaskID: "1", Service: "sync", UserID: "alice", Status: model.StatusCancelRequested})
	q.Enqueue(events.Event{Kind: events.TaskCancelled, TaskID: "1", Service: "sync", UserID: "alice"})

	waitForStatus(t, repo, "1", model.StatusCancelled)
}

func TestProcessorNotifiesOnTransition(t *testing.T) {
	p, q, repo, cleanup := newTestProcessor(t, http.StatusAccepted)
	defer cleanup()

	notified := make(chan events.StatusEvent, 8)
	p.SetNotifier(func(ev events.StatusEvent) { notified <- ev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Wait()

	repo.Save(ctx, &model.Record{TaskID: "1", Service: "sync", UserID: "alice", Status: model.StatusPending})
	q.Enqueue(events.Event{Kind: events.TaskSubmitted, TaskID: "1", Service: "sync", UserID: "alice"})

	waitForStatus(t, repo, "1", model.StatusRunning)

	seen := map[string]bool{}
	deadline := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case ev := <-notified:
			seen[ev.Status] = true
		case <-deadline:
			t.Fatalf("only observed notifications %v", seen)
		}
	}
	if !seen[string(model.StatusDispatching)] || !seen[string(model.StatusRunning)] {
		t.Fatalf("expected dispatching and running notifications, got %v", seen)
	}
}
