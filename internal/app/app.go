// Package app is the composition root: it wires config into every
// component and owns the init -> serve -> shutdown lifecycle, so
// cmd/taskserver stays a thin entrypoint.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/taskflowd/taskflowd/internal/api"
	"github.com/taskflowd/taskflowd/internal/config"
	"github.com/taskflowd/taskflowd/internal/events"
	"github.com/taskflowd/taskflowd/internal/listener"
	"github.com/taskflowd/taskflowd/internal/processor"
	"github.com/taskflowd/taskflowd/internal/queue"
	"github.com/taskflowd/taskflowd/internal/schedclient"
	"github.com/taskflowd/taskflowd/internal/service"
	"github.com/taskflowd/taskflowd/internal/store"
)

// App holds every long-lived component. All fields are populated by New or
// left at their zero value when the corresponding feature is disabled
// (e.g. audit is nil without POSTGRES_AUDIT_DSN).
type App struct {
	cfg *config.Config

	repo     *store.RedisRepository
	readRepo *store.RedisRepository
	audit    *store.PostgresAuditSink
	sched    *schedclient.Client
	queue    *queue.Queue
	svc      *service.Service
	proc     *processor.Processor
	listener *listener.Listener
	stream   *api.StreamHub
	server   *http.Server

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs every component in dependency order. If any step fails,
// everything already constructed is released before returning the error,
// so a partially-built App never leaks connections.
func New(cfg *config.Config) (app *App, err error) {
	a := &App{cfg: cfg}

	defer func() {
		if err != nil {
			a.releasePartial()
		}
	}()

	a.repo, err = store.NewRedisRepository(cfg.RedisWriteURL, "", 0, cfg.RedisTaskTTL)
	if err != nil {
		return nil, fmt.Errorf("app: build write repository: %w", err)
	}

	if cfg.RedisReadURL != cfg.RedisWriteURL {
		a.readRepo, err = store.NewRedisRepository(cfg.RedisReadURL, "", 0, cfg.RedisTaskTTL)
		if err != nil {
			return nil, fmt.Errorf("app: build read repository: %w", err)
		}
	} else {
		a.readRepo = a.repo
	}

	if cfg.PostgresAuditDSN != "" {
		a.audit, err = store.NewPostgresAuditSink(context.Background(), cfg.PostgresAuditDSN)
		if err != nil {
			return nil, fmt.Errorf("app: build postgres audit sink: %w", err)
		}
	}

	a.sched = schedclient.New(schedclient.Config{
		BaseURL:        cfg.SchedulerBaseURL,
		TaskEndpoint:   cfg.SchedulerTaskEndpoint,
		CancelEndpoint: cfg.SchedulerCancelEndpoint,
		RequestTimeout: cfg.RequestTimeout,
	})

	a.queue = queue.New(queue.DefaultCapacity)
	a.svc = service.New(a.repo, a.queue, 0, 0)
	a.proc = processor.New(a.repo, a.sched, a.queue, cfg.EventWorkerCount, a.audit, cfg.MaxInFlightSchedulerCalls)

	a.stream = api.NewStreamHub()
	a.proc.SetNotifier(func(ev events.StatusEvent) {
		a.stream.Publish(ev)
	})

	a.listener = listener.New(a.repo.Client(), a.repo, a.repo.Client().Options().DB)

	handlers := api.NewHandlers(a.svc, a.readRepo, a.stream)
	a.server = &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewRouter(handlers, cfg.OperatorToken),
	}

	return a, nil
}

// releasePartial tears down whatever New had already constructed before
// the failure that triggered it. Safe to call on a partially-nil App.
func (a *App) releasePartial() {
	if a.sched != nil {
		a.sched.Close()
	}
	if a.audit != nil {
		a.audit.Close()
	}
	if a.readRepo != nil && a.readRepo != a.repo {
		a.readRepo.Close()
	}
	if a.repo != nil {
		a.repo.Close()
	}
}

// Start launches every background component (Event Processor workers,
// Expiration Listener, status stream, HTTP server) and returns
// immediately. Call Shutdown to wind everything down.
func (a *App) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.proc.Start(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.listener.Run(ctx); err != nil {
			log.Printf("app: expiration listener stopped: %v", err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.stream.Run(ctx)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("app: http server stopped: %v", err)
		}
	}()
}

// Shutdown stops every background component and releases every resource,
// in roughly reverse construction order. It blocks until the Event
// Processor's workers have finished whatever event they were mid-handling.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("app: http server shutdown: %w", err)
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.proc.Wait()
	a.wg.Wait()

	a.releasePartial()
	return shutdownErr
}

// Healthy reports whether the write-side store is reachable.
func (a *App) Healthy(ctx context.Context) bool {
	return a.repo.Ping(ctx) == nil
}
