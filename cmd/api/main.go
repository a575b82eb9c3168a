package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"traffic-control-backend/internal/api"
	"traffic-control-backend/internal/capacity"
	"traffic-control-backend/internal/config"
	"traffic-control-backend/internal/lifecycle"
	"traffic-control-backend/internal/notify"
	"traffic-control-backend/internal/queue"
	"traffic-control-backend/internal/ratelimit"
	"traffic-control-backend/internal/scheduler"
	"traffic-control-backend/internal/store"
	"traffic-control-backend/internal/token"
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
	notifier := notify.NewProducer(st, q, cfg.NotifyMaxAttempts)
	checker := capacity.NewChecker(st, cfg.DailyJobCap)
	signer := token.NewSigner(cfg.SigningSecret)

	sched := scheduler.New(st, checker, signer, notifier,
		cfg.ConfirmBaseURL, cfg.ManageBaseURL, cfg.OfficePhone, cfg.ConfirmTokenTTL)
	lc := lifecycle.New(st, checker, notifier, cfg.ManageBaseURL)

	limiterClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.New(limiterClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	server := api.New(cfg, st, sched, lc, limiter)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("api listening on :%s", cfg.HTTPPort)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
