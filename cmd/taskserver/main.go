// Command taskserver runs the task lifecycle engine's HTTP API, Event
// Processor workers, and Expiration Listener as a single process, built
// from one composition-root value constructed at startup.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/taskflowd/taskflowd/internal/app"
	"github.com/taskflowd/taskflowd/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("taskserver: %v", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		log.Fatalf("taskserver: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.Start(ctx)
	log.Printf("taskserver: listening on %s", cfg.ListenAddr)

	<-ctx.Done()
	log.Println("taskserver: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Printf("taskserver: shutdown error: %v", err)
	}
}
