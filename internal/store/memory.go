package store

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/taskflowd/taskflowd/internal/model"
)

// MemoryRepository is an in-process Repository used by tests and local
// development without Redis: mutex-guarded maps with defensive copies on
// read.
type MemoryRepository struct {
	mu             sync.Mutex
	tasks          map[string]*model.Record
	byService      map[string]map[string]bool
	byServiceUser  map[string]map[string]bool
	usersByService map[string]map[string]bool
	sequence       int64
}

// NewMemoryRepository constructs an empty in-memory repository. TTL is not
// enforced here; expiration is simulated explicitly via HandleTaskExpired in tests.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tasks:          make(map[string]*model.Record),
		byService:      make(map[string]map[string]bool),
		byServiceUser:  make(map[string]map[string]bool),
		usersByService: make(map[string]map[string]bool),
	}
}

func (m *MemoryRepository) NextTaskID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequence++
	return strconv.FormatInt(m.sequence, 10), nil
}

func (m *MemoryRepository) Save(ctx context.Context, rec *model.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveLocked(rec)
	return nil
}

func (m *MemoryRepository) saveLocked(rec *model.Record) {
	cp := rec.Clone()
	m.tasks[cp.TaskID] = cp

	ensure(m.byService, cp.Service)[cp.TaskID] = true
	ensure(m.byServiceUser, serviceUserIndexKey(cp.Service, cp.UserID))[cp.TaskID] = true
	ensure(m.usersByService, cp.Service)[cp.UserID] = true
}

func ensure(m map[string]map[string]bool, key string) map[string]bool {
	set, ok := m[key]
	if !ok {
		set = make(map[string]bool)
		m[key] = set
	}
	return set
}

func (m *MemoryRepository) Get(ctx context.Context, taskID string) (*model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[taskID]
	if !ok {
		return nil, nil
	}
	return rec.Clone(), nil
}

func (m *MemoryRepository) Delete(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[taskID]
	if !ok {
		return nil
	}
	m.removeIndexesLocked(rec.Service, rec.UserID, taskID)
	delete(m.tasks, taskID)
	return nil
}

func (m *MemoryRepository) removeIndexesLocked(service, userID, taskID string) {
	delete(m.byService[service], taskID)
	delete(m.byServiceUser[serviceUserIndexKey(service, userID)], taskID)
	if len(m.byServiceUser[serviceUserIndexKey(service, userID)]) == 0 {
		delete(m.usersByService[service], userID)
	}
}

func (m *MemoryRepository) mutateLocked(taskID string, fn func(*model.Record)) *model.Record {
	rec, ok := m.tasks[taskID]
	if !ok {
		return nil
	}
	cp := rec.Clone()
	fn(cp)
	cp.UpdatedAt = time.Now()
	m.saveLocked(cp)
	return cp.Clone()
}

func (m *MemoryRepository) SetStatus(ctx context.Context, taskID string, status model.Status, logEntry string) (*model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked(taskID, func(rec *model.Record) {
		rec.Status = status
		if logEntry != "" {
			rec.Logs = append(rec.Logs, formatLogEntry(logEntry))
		}
	}), nil
}

func (m *MemoryRepository) AppendLog(ctx context.Context, taskID string, message string) (*model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked(taskID, func(rec *model.Record) {
		rec.Logs = append(rec.Logs, formatLogEntry(message))
	}), nil
}

func (m *MemoryRepository) UpdateResult(ctx context.Context, taskID string, podStatus, launcherOutput *string) (*model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if podStatus == nil && launcherOutput == nil {
		rec, ok := m.tasks[taskID]
		if !ok {
			return nil, nil
		}
		return rec.Clone(), nil
	}
	return m.mutateLocked(taskID, func(rec *model.Record) {
		if podStatus != nil {
			rec.Result.PodStatus = podStatus
		}
		if launcherOutput != nil {
			rec.Result.LauncherOutput = launcherOutput
		}
	}), nil
}

func (m *MemoryRepository) ListByIDs(ctx context.Context, ids []string) ([]*model.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*model.Record
	for _, id := range ids {
		if rec, ok := m.tasks[id]; ok {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (m *MemoryRepository) ListAll(ctx context.Context) ([]*model.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Record, 0, len(m.tasks))
	for _, rec := range m.tasks {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (m *MemoryRepository) ListByService(ctx context.Context, service string) ([]*model.Record, error) {
	m.mu.Lock()
	ids := keysOf(m.byService[service])
	m.mu.Unlock()
	return m.ListByIDs(ctx, ids)
}

func (m *MemoryRepository) ListByServiceAndUser(ctx context.Context, service, userID string) ([]*model.Record, error) {
	m.mu.Lock()
	ids := keysOf(m.byServiceUser[serviceUserIndexKey(service, userID)])
	m.mu.Unlock()
	return m.ListByIDs(ctx, ids)
}

func (m *MemoryRepository) ListUsersByService(ctx context.Context, service string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return keysOf(m.usersByService[service]), nil
}

// HandleTaskExpired mirrors RedisRepository's behavior for tests that
// simulate expiration without a live breadcrumb lookup: it uses the
// in-memory record directly since MemoryRepository has no separate
// metadata key, then removes the primary record.
func (m *MemoryRepository) HandleTaskExpired(ctx context.Context, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tasks[taskID]
	if !ok {
		return nil
	}
	m.removeIndexesLocked(rec.Service, rec.UserID, taskID)
	delete(m.tasks, taskID)
	return nil
}

func keysOf(m map[string]bool) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
