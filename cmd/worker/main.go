package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"traffic-control-backend/internal/config"
	"traffic-control-backend/internal/mailer"
	"traffic-control-backend/internal/queue"
	"traffic-control-backend/internal/store"
	"traffic-control-backend/internal/telemetry"
	"traffic-control-backend/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatalf("migrations: %v", err)
	}

	q := queue.New(cfg)
	smtp := mailer.NewSMTP(cfg.SMTPAddr, cfg.SMTPUser, cfg.SMTPPassword)

	uploader, err := worker.NewUploader(ctx, cfg)
	if err != nil {
		log.Fatalf("init attachment uploader: %v", err)
	}

	processor := worker.NewProcessor(cfg, q, st, smtp, worker.SummaryRenderer{}, uploader)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	log.Printf("worker started with visibility=%s backoff_initial=%s", cfg.VisibilityTimeout, cfg.BackoffInitial)
	if err := processor.Run(ctx); err != nil {
		log.Printf("worker stopped: %v", err)
	}
}
