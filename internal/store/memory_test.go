package store

import (
	"context"
	"testing"

	"github.com/taskflowd/taskflowd/internal/model"
)

func TestMemoryRepositorySaveGet(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	rec := &model.Record{TaskID: "1", Service: "sync", UserID: "alice", Status: model.StatusPending}
	if err := repo.Save(ctx, rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := repo.Get(ctx, "1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil || got.TaskID != "1" {
		t.Fatalf("Get returned %+v", got)
	}

	// Mutating the returned record must not affect the stored copy.
	got.Service = "mutated"
	again, _ := repo.Get(ctx, "1")
	if again.Service != "sync" {
		t.Fatalf("Get is not defensive-copying: %+v", again)
	}
}

func TestMemoryRepositoryGetMissing(t *testing.T) {
	repo := NewMemoryRepository()
	got, err := repo.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Fatalf("Get(missing) = %+v, want nil", got)
	}
}

func TestMemoryRepositoryNextTaskIDIsMonotonic(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	ids := make(map[string]bool)
	for i := 0; i < 5; i++ {
		id, err := repo.NextTaskID(ctx)
		if err != nil {
			t.Fatalf("NextTaskID: %v", err)
		}
		if ids[id] {
			t.Fatalf("duplicate id %s", id)
		}
		ids[id] = true
	}
}

func TestMemoryRepositorySetStatusAndAppendLog(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	repo.Save(ctx, &model.Record{TaskID: "1", Service: "sync", UserID: "alice", Status: model.StatusPending})

	updated, err := repo.SetStatus(ctx, "1", model.StatusDispatching, "dispatching now")
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if updated.Status != model.StatusDispatching {
		t.Fatalf("Status = %s, want dispatching", updated.Status)
	}
	if len(updated.Logs) != 1 {
		t.Fatalf("Logs = %v, want 1 entry", updated.Logs)
	}

	updated, err = repo.AppendLog(ctx, "1", "another line")
	if err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	if len(updated.Logs) != 2 {
		t.Fatalf("Logs = %v, want 2 entries", updated.Logs)
	}
	if updated.Status != model.StatusDispatching {
		t.Fatalf("AppendLog changed status to %s", updated.Status)
	}
}

func TestMemoryRepositoryIndexesByServiceAndUser(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	repo.Save(ctx, &model.Record{TaskID: "1", Service: "sync", UserID: "alice"})
	repo.Save(ctx, &model.Record{TaskID: "2", Service: "sync", UserID: "bob"})
	repo.Save(ctx, &model.Record{TaskID: "3", Service: "other", UserID: "alice"})

	byService, err := repo.ListByService(ctx, "sync")
	if err != nil {
		t.Fatalf("ListByService: %v", err)
	}
	if len(byService) != 2 {
		t.Fatalf("ListByService(sync) = %d records, want 2", len(byService))
	}

	byUser, err := repo.ListByServiceAndUser(ctx, "sync", "alice")
	if err != nil {
		t.Fatalf("ListByServiceAndUser: %v", err)
	}
	if len(byUser) != 1 || byUser[0].TaskID != "1" {
		t.Fatalf("ListByServiceAndUser(sync, alice) = %+v", byUser)
	}

	users, err := repo.ListUsersByService(ctx, "sync")
	if err != nil {
		t.Fatalf("ListUsersByService: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("ListUsersByService(sync) = %v, want 2 users", users)
	}
}

func TestMemoryRepositoryDeletePrunesIndexes(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	repo.Save(ctx, &model.Record{TaskID: "1", Service: "sync", UserID: "alice"})

	if err := repo.Delete(ctx, "1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, _ := repo.Get(ctx, "1")
	if got != nil {
		t.Fatalf("Get after Delete = %+v, want nil", got)
	}
	users, _ := repo.ListUsersByService(ctx, "sync")
	if len(users) != 0 {
		t.Fatalf("ListUsersByService after Delete = %v, want empty", users)
	}
}

func TestMemoryRepositoryHandleTaskExpiredIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	repo.Save(ctx, &model.Record{TaskID: "1", Service: "sync", UserID: "alice"})

	if err := repo.HandleTaskExpired(ctx, "1"); err != nil {
		t.Fatalf("HandleTaskExpired: %v", err)
	}
	if err := repo.HandleTaskExpired(ctx, "1"); err != nil {
		t.Fatalf("HandleTaskExpired second call: %v", err)
	}

	got, _ := repo.Get(ctx, "1")
	if got != nil {
		t.Fatalf("Get after HandleTaskExpired = %+v, want nil", got)
	}
}

func TestMemoryRepositoryUpdateResultNoopWhenBothNil(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	repo.Save(ctx, &model.Record{TaskID: "1", Service: "sync", UserID: "alice"})

	updated, err := repo.UpdateResult(ctx, "1", nil, nil)
	if err != nil {
		t.Fatalf("UpdateResult: %v", err)
	}
	if updated.Result.PodStatus != nil || updated.Result.LauncherOutput != nil {
		t.Fatalf("UpdateResult mutated result with nil args: %+v", updated.Result)
	}
}
