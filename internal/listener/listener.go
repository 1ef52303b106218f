// Package listener implements the Expiration Listener: it subscribes to
// the store's key-expiration notifications and reconciles the Task
// Repository's secondary indexes when a primary task record expires.
package listener

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/taskflowd/taskflowd/internal/observability"
	"github.com/taskflowd/taskflowd/internal/store"
)

// reconnectDelay is how long the listener waits before resubscribing
// after a transport error.
const reconnectDelay = 5 * time.Second

// Repository is the subset of store.Repository the listener needs.
type Repository interface {
	HandleTaskExpired(ctx context.Context, taskID string) error
}

// Listener subscribes to __keyevent@{db}__:expired and prunes indexes for
// every expired task key.
type Listener struct {
	client *redis.Client
	repo   Repository
	db     int
}

// New constructs a Listener against the given client and logical database
// index (used to build the keyevent channel pattern).
func New(client *redis.Client, repo Repository, db int) *Listener {
	return &Listener{client: client, repo: repo, db: db}
}

func (l *Listener) pattern() string {
	return fmt.Sprintf("__keyevent@%d__:expired", l.db)
}

// Run blocks, subscribing and reacting to expiration notifications until
// ctx is cancelled. On a transport error it sleeps reconnectDelay and
// resubscribes; on cooperative cancellation it returns nil.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := l.subscribeAndServe(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("listener: subscription error, reconnecting in %s: %v", reconnectDelay, err)
			select {
			case <-time.After(reconnectDelay):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		// subscribeAndServe only returns nil when ctx was cancelled.
		return nil
	}
}

func (l *Listener) subscribeAndServe(ctx context.Context) error {
	pubsub := l.client.PSubscribe(ctx, l.pattern())
	defer pubsub.Close()

	// Confirm the subscription succeeded before entering the serve loop,
	// so a down Redis surfaces as an error immediately rather than
	// hanging silently on Receive.
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("listener: subscription channel closed")
			}
			l.handle(ctx, msg.Payload)
		}
	}
}

func (l *Listener) handle(ctx context.Context, key string) {
	taskID, ok := store.TaskIDFromExpiredKey(key)
	if !ok {
		return
	}
	if err := l.repo.HandleTaskExpired(ctx, taskID); err != nil {
		log.Printf("listener: handle_task_expired for task %s: %v", taskID, err)
		return
	}
	observability.ExpiredTasksReclaimed.Inc()
}
