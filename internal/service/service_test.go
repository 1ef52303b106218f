package service

import (
	"context"
	"testing"

	"github.com/taskflowd/taskflowd/internal/events"
	"github.com/taskflowd/taskflowd/internal/model"
	"github.com/taskflowd/taskflowd/internal/queue"
	"github.com/taskflowd/taskflowd/internal/store"
)

func newTestService() (*Service, *queue.Queue, store.Repository) {
	repo := store.NewMemoryRepository()
	q := queue.New(16)
	return New(repo, q, 0, 0), q, repo
}

func TestCreateEnqueuesSubmitted(t *testing.T) {
	svc, q, _ := newTestService()
	ctx := context.Background()

	rec, err := svc.Create(ctx, "sync", "alice", map[string]interface{}{"k": "v"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.Status != model.StatusPending {
		t.Fatalf("Status = %s, want pending", rec.Status)
	}

	select {
	case ev := <-q.C():
		if ev.Kind != events.TaskSubmitted || ev.TaskID != rec.TaskID {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("expected TaskSubmitted event on queue")
	}
}

func TestGetAppliesOwnershipFilter(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	rec, _ := svc.Create(ctx, "sync", "alice", nil)

	got, err := svc.Get(ctx, rec.TaskID, "sync", "alice")
	if err != nil || got == nil {
		t.Fatalf("Get(owner) = %+v, %v", got, err)
	}

	mismatched, err := svc.Get(ctx, rec.TaskID, "sync", "bob")
	if err != nil {
		t.Fatalf("Get(mismatch): %v", err)
	}
	if mismatched != nil {
		t.Fatalf("Get(mismatch) = %+v, want nil", mismatched)
	}
}

func TestCancelIsIdempotentOnTerminalTask(t *testing.T) {
	svc, _, repo := newTestService()
	ctx := context.Background()
	rec, _ := svc.Create(ctx, "sync", "alice", nil)

	if _, err := repo.SetStatus(ctx, rec.TaskID, model.StatusDispatching, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if _, err := repo.SetStatus(ctx, rec.TaskID, model.StatusCompleted, ""); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}

	got, err := svc.Cancel(ctx, rec.TaskID, "sync", "alice")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Fatalf("Cancel on terminal task changed status to %s", got.Status)
	}
}

func TestCancelMovesToCancelRequestedAndEnqueues(t *testing.T) {
	svc, q, _ := newTestService()
	ctx := context.Background()
	rec, _ := svc.Create(ctx, "sync", "alice", nil)
	<-q.C() // drain the TaskSubmitted event from Create

	got, err := svc.Cancel(ctx, rec.TaskID, "sync", "alice")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got.Status != model.StatusCancelRequested {
		t.Fatalf("Status = %s, want cancel_requested", got.Status)
	}

	select {
	case ev := <-q.C():
		if ev.Kind != events.TaskCancelled {
			t.Fatalf("unexpected event kind %v", ev.Kind)
		}
	default:
		t.Fatal("expected TaskCancelled event on queue")
	}
}

func TestCleanupDeletesTask(t *testing.T) {
	svc, q, repo := newTestService()
	ctx := context.Background()
	rec, _ := svc.Create(ctx, "sync", "alice", nil)
	<-q.C()

	ok, err := svc.Cleanup(ctx, rec.TaskID, "sync", "alice")
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if !ok {
		t.Fatal("Cleanup returned false for an existing task")
	}

	got, _ := repo.Get(ctx, rec.TaskID)
	if got != nil {
		t.Fatalf("task still present after Cleanup: %+v", got)
	}
}

func TestCleanupOnMissingTaskReturnsFalse(t *testing.T) {
	svc, _, _ := newTestService()
	ok, err := svc.Cleanup(context.Background(), "missing", "sync", "alice")
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if ok {
		t.Fatal("Cleanup returned true for a missing task")
	}
}

func TestListByServiceAndUser(t *testing.T) {
	svc, q, _ := newTestService()
	ctx := context.Background()
	svc.Create(ctx, "sync", "alice", nil)
	<-q.C()
	svc.Create(ctx, "sync", "bob", nil)
	<-q.C()

	recs, err := svc.ListByServiceAndUser(ctx, "sync", "alice")
	if err != nil {
		t.Fatalf("ListByServiceAndUser: %v", err)
	}
	if len(recs) != 1 || recs[0].UserID != "alice" {
		t.Fatalf("ListByServiceAndUser = %+v", recs)
	}
}
