package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskflowd/taskflowd/internal/model"
	"github.com/taskflowd/taskflowd/internal/observability"
)

// RedisRepository implements Repository against a Redis-protocol-compatible
// store, using the key layout and TTL discipline defined in this package.
type RedisRepository struct {
	client *redis.Client
	ttl    TTL
}

// NewRedisRepository opens a connection and verifies it before returning,
// failing fast at construction rather than on first use.
func NewRedisRepository(addr, password string, db int, taskTTL time.Duration) (*RedisRepository, error) {
	ttl, err := NewTTL(taskTTL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("store: connect to redis at %s: %w", addr, err)
	}

	return &RedisRepository{client: client, ttl: ttl}, nil
}

// NewRedisRepositoryFromClient wraps an already-constructed client, used to
// share one client between a writer and a reader handle for a read/write
// split, or in tests against an embedded server.
func NewRedisRepositoryFromClient(client *redis.Client, taskTTL time.Duration) (*RedisRepository, error) {
	ttl, err := NewTTL(taskTTL)
	if err != nil {
		return nil, err
	}
	return &RedisRepository{client: client, ttl: ttl}, nil
}

// Close releases the underlying connection pool.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}

// Client exposes the underlying redis client so the Expiration Listener can
// PSubscribe on the same connection this repository writes through,
// without the listener package depending on store internals.
func (r *RedisRepository) Client() *redis.Client {
	return r.client
}

// Ping checks connectivity for health checks: store unavailable post-startup
// surfaces as 503.
func (r *RedisRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisRepository) observeLatency(op string) func() {
	start := time.Now()
	return func() {
		observability.RepositoryLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// NextTaskID atomically increments task:id:sequence and returns its decimal
// form. INCR on a single key is atomic in Redis, so concurrent callers are
// guaranteed distinct results without an extra Lua script.
func (r *RedisRepository) NextTaskID(ctx context.Context) (string, error) {
	defer r.observeLatency("next_task_id")()
	n, err := r.client.Incr(ctx, sequenceKey).Result()
	if err != nil {
		return "", fmt.Errorf("store: next task id: %w", err)
	}
	return fmt.Sprintf("%d", n), nil
}

// indexKeysFor returns every index key a record participates in.
func indexKeysFor(rec *model.Record) []string {
	return []string{
		allTasksKey,
		serviceIndexKey(rec.Service),
		serviceUserIndexKey(rec.Service, rec.UserID),
		serviceUsersIndexKey(rec.Service),
	}
}

// Save writes the record and re-stamps every index and the metadata
// breadcrumb with a fresh TTL, satisfying invariant 4 (shared TTL,
// re-stamped on every write).
func (r *RedisRepository) Save(ctx context.Context, rec *model.Record) error {
	defer r.observeLatency("save")()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshal task %s: %w", rec.TaskID, err)
	}
	meta, err := json.Marshal(Metadata{Service: rec.Service, UserID: rec.UserID})
	if err != nil {
		return fmt.Errorf("store: marshal metadata %s: %w", rec.TaskID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, taskKey(rec.TaskID), data, r.ttl.Task)
	pipe.Set(ctx, metadataKey(rec.TaskID), meta, r.ttl.Metadata)
	pipe.SAdd(ctx, allTasksKey, rec.TaskID)
	pipe.Expire(ctx, allTasksKey, r.ttl.Task)
	pipe.SAdd(ctx, serviceIndexKey(rec.Service), rec.TaskID)
	pipe.Expire(ctx, serviceIndexKey(rec.Service), r.ttl.Task)
	pipe.SAdd(ctx, serviceUserIndexKey(rec.Service, rec.UserID), rec.TaskID)
	pipe.Expire(ctx, serviceUserIndexKey(rec.Service, rec.UserID), r.ttl.Task)
	pipe.SAdd(ctx, serviceUsersIndexKey(rec.Service), rec.UserID)
	pipe.Expire(ctx, serviceUsersIndexKey(rec.Service), r.ttl.Task)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: save task %s: %w", rec.TaskID, err)
	}
	return nil
}

// Get returns the task, or nil if absent/expired.
func (r *RedisRepository) Get(ctx context.Context, taskID string) (*model.Record, error) {
	defer r.observeLatency("get")()

	data, err := r.client.Get(ctx, taskKey(taskID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get task %s: %w", taskID, err)
	}
	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("store: unmarshal task %s: %w", taskID, err)
	}
	return &rec, nil
}

// Delete removes the task and prunes every index it belonged to, plus the
// user-set entry if this was that user's last task in the service.
func (r *RedisRepository) Delete(ctx context.Context, taskID string) error {
	defer r.observeLatency("delete")()

	rec, err := r.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, taskKey(taskID))
	pipe.Del(ctx, metadataKey(taskID))
	pipe.SRem(ctx, allTasksKey, taskID)
	pipe.SRem(ctx, serviceIndexKey(rec.Service), taskID)
	pipe.SRem(ctx, serviceUserIndexKey(rec.Service, rec.UserID), taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: delete task %s: %w", taskID, err)
	}

	return r.pruneUserIfEmpty(ctx, rec.Service, rec.UserID)
}

// pruneUserIfEmpty removes userID from the per-service users set once
// their per-(service,user) set is empty.
func (r *RedisRepository) pruneUserIfEmpty(ctx context.Context, service, userID string) error {
	remaining, err := r.client.SCard(ctx, serviceUserIndexKey(service, userID)).Result()
	if err != nil {
		return fmt.Errorf("store: scard %s/%s: %w", service, userID, err)
	}
	if remaining == 0 {
		if err := r.client.SRem(ctx, serviceUsersIndexKey(service), userID).Err(); err != nil {
			return fmt.Errorf("store: prune user %s from %s: %w", userID, service, err)
		}
	}
	return nil
}

// mutate is the shared read-modify-write helper backing SetStatus,
// AppendLog and UpdateResult.
func (r *RedisRepository) mutate(ctx context.Context, taskID string, fn func(*model.Record)) (*model.Record, error) {
	rec, err := r.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, nil
	}
	fn(rec)
	rec.UpdatedAt = time.Now()
	if err := r.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// SetStatus mutates status, advances updated_at, and optionally appends a
// log line.
func (r *RedisRepository) SetStatus(ctx context.Context, taskID string, status model.Status, logEntry string) (*model.Record, error) {
	defer r.observeLatency("set_status")()
	return r.mutate(ctx, taskID, func(rec *model.Record) {
		rec.Status = status
		if logEntry != "" {
			rec.Logs = append(rec.Logs, formatLogEntry(logEntry))
		}
	})
}

// AppendLog appends a timestamped log line without touching status.
func (r *RedisRepository) AppendLog(ctx context.Context, taskID string, message string) (*model.Record, error) {
	defer r.observeLatency("append_log")()
	return r.mutate(ctx, taskID, func(rec *model.Record) {
		rec.Logs = append(rec.Logs, formatLogEntry(message))
	})
}

// UpdateResult merges non-nil fields into the result struct. A no-op if
// both inputs are absent.
func (r *RedisRepository) UpdateResult(ctx context.Context, taskID string, podStatus, launcherOutput *string) (*model.Record, error) {
	if podStatus == nil && launcherOutput == nil {
		return r.Get(ctx, taskID)
	}
	defer r.observeLatency("update_result")()
	return r.mutate(ctx, taskID, func(rec *model.Record) {
		if podStatus != nil {
			rec.Result.PodStatus = podStatus
		}
		if launcherOutput != nil {
			rec.Result.LauncherOutput = launcherOutput
		}
	})
}

// ListByIDs bulk-fetches tasks, silently skipping missing members.
func (r *RedisRepository) ListByIDs(ctx context.Context, ids []string) ([]*model.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	defer r.observeLatency("list_by_ids")()

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = taskKey(id)
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("store: mget tasks: %w", err)
	}

	recs := make([]*model.Record, 0, len(values))
	for _, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec model.Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			continue
		}
		recs = append(recs, &rec)
	}
	return recs, nil
}

// ListAll returns every live task.
func (r *RedisRepository) ListAll(ctx context.Context) ([]*model.Record, error) {
	ids, err := r.client.SMembers(ctx, allTasksKey).Result()
	if err != nil {
		return nil, fmt.Errorf("store: smembers %s: %w", allTasksKey, err)
	}
	return r.ListByIDs(ctx, ids)
}

// ListByService returns every live task for a service.
func (r *RedisRepository) ListByService(ctx context.Context, service string) ([]*model.Record, error) {
	ids, err := r.client.SMembers(ctx, serviceIndexKey(service)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: smembers service index %s: %w", service, err)
	}
	return r.ListByIDs(ctx, ids)
}

// ListByServiceAndUser returns every live task for a (service, user) pair.
func (r *RedisRepository) ListByServiceAndUser(ctx context.Context, service, userID string) ([]*model.Record, error) {
	ids, err := r.client.SMembers(ctx, serviceUserIndexKey(service, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: smembers service/user index %s/%s: %w", service, userID, err)
	}
	return r.ListByIDs(ctx, ids)
}

// ListUsersByService returns every user id with a live task in the service.
func (r *RedisRepository) ListUsersByService(ctx context.Context, service string) ([]string, error) {
	users, err := r.client.SMembers(ctx, serviceUsersIndexKey(service)).Result()
	if err != nil {
		return nil, fmt.Errorf("store: smembers users index %s: %w", service, err)
	}
	return users, nil
}

// HandleTaskExpired recovers (service, user_id) from the metadata
// breadcrumb and prunes all indexes. Safe to call after the breadcrumb has
// also expired or already been cleaned up: every step is a no-op on a
// missing member.
func (r *RedisRepository) HandleTaskExpired(ctx context.Context, taskID string) error {
	defer r.observeLatency("handle_task_expired")()

	data, err := r.client.Get(ctx, metadataKey(taskID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return fmt.Errorf("store: read metadata %s: %w", taskID, err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("store: unmarshal metadata %s: %w", taskID, err)
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, metadataKey(taskID))
	pipe.SRem(ctx, allTasksKey, taskID)
	pipe.SRem(ctx, serviceIndexKey(meta.Service), taskID)
	pipe.SRem(ctx, serviceUserIndexKey(meta.Service, meta.UserID), taskID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store: prune indexes for expired task %s: %w", taskID, err)
	}

	return r.pruneUserIfEmpty(ctx, meta.Service, meta.UserID)
}

// formatLogEntry prefixes message with an ISO-8601 timestamp and comma.
func formatLogEntry(message string) string {
	return fmt.Sprintf("%s,%s", time.Now().Format(time.RFC3339Nano), message)
}
