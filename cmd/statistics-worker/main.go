package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/taskboard/service/internal/app/stats"
	"github.com/taskboard/service/internal/contracts"
	"github.com/taskboard/service/internal/messaging"
	"github.com/taskboard/service/internal/platform/dbpool"
	"github.com/taskboard/service/internal/platform/env"
	"github.com/taskboard/service/internal/platform/metrics"
	"github.com/taskboard/service/internal/platform/natsutil"
)

func main() {
	_ = godotenv.Load()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	natsURL := env.String("NATS_URL", env.DefaultNATSURL)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	metricsAddr := env.String("STATISTICS_WORKER_ADDR", ":8092")

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	repo := stats.NewPostgresRepository(pool)
	if err := waitForPostgres(runCtx, repo, 30*time.Second); err != nil {
		log.Fatal(err)
	}

	client, err := natsutil.ConnectWithRetry(natsURL, 20*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	topics := messaging.NewRegistry(client.JS)
	subs := messaging.NewSubscriptionManager(topics, client.JS)

	service := stats.New(repo, subs)
	if err := service.Initialize(runCtx); err != nil {
		log.Fatal(err)
	}
	log.Println("Statistics worker subscribed")

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !client.TestConnection() {
			http.Error(w, "broker is not ready", http.StatusServiceUnavailable)
			return
		}
		exists, err := client.SubscriptionExists(contracts.TopicTaskStatusChanged, contracts.SubscriptionTaskStatistics)
		if err != nil || !exists {
			http.Error(w, "subscription is missing", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metrics.DefaultHandler())
	go func() {
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server failed: %v", err)
		}
	}()

	<-runCtx.Done()
	service.Stop()
}

func waitForPostgres(ctx context.Context, repo *stats.PostgresRepository, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = repo.Pool.Ping(attemptCtx)
		if lastErr == nil {
			lastErr = repo.EnsureSchema(attemptCtx)
		}
		cancel()

		if lastErr == nil {
			return nil
		}
		log.Printf("waiting for postgres readiness: %v", lastErr)
		time.Sleep(500 * time.Millisecond)
	}
	return lastErr
}
