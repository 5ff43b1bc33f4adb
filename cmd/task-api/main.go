package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/taskboard/service/internal/app/stats"
	"github.com/taskboard/service/internal/app/tasks"
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

	apiAddr := env.String("TASK_API_ADDR", env.DefaultAPIAddr)
	pgURL := env.String("DATABASE_URL", env.DefaultDatabaseURL)
	natsURL := env.String("NATS_URL", env.DefaultNATSURL)
	shutdownTimeout := env.Duration("SHUTDOWN_TIMEOUT", 10*time.Second)

	pool, err := dbpool.New(runCtx, pgURL)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	taskRepo := tasks.NewPostgresRepository(pool)
	statsRepo := stats.NewPostgresRepository(pool)
	if err := waitForPostgres(runCtx, pool, 30*time.Second, taskRepo.EnsureSchema, statsRepo.EnsureSchema); err != nil {
		log.Fatal(err)
	}

	client, err := natsutil.ConnectWithRetry(natsURL, 20*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	topics := messaging.NewRegistry(client.JS)
	if err := topics.InitializeAll(); err != nil {
		log.Fatal(err)
	}

	publisher := messaging.NewPublisher(topics, client.JS)
	taskService := tasks.NewService(taskRepo, publisher)
	taskHandler := tasks.NewHandler(taskService)
	statsHandler := stats.NewHandler(statsRepo)

	r := chi.NewRouter()
	r.Get("/healthz", handleHealth)
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		if err := checkReadiness(req.Context(), pool, client); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		handleHealth(w, req)
	})
	r.Handle("/metrics", metrics.DefaultHandler())
	r.Get("/api/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","message":"API is running","timestamp":%q}`, time.Now().UTC().Format(time.RFC3339))
	})
	r.Mount("/api/tasks", taskHandler.Router())
	r.Mount("/api/statistics", statsHandler.Router())

	server := &http.Server{
		Addr:              apiAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Task API listening on %s", apiAddr)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatal(err)
	case <-runCtx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("task-api graceful shutdown failed: %v", err)
	}
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func checkReadiness(ctx context.Context, pool *pgxpool.Pool, broker *natsutil.Client) error {
	if !broker.TestConnection() {
		return errors.New("broker is not ready")
	}
	for _, topic := range contracts.Topics() {
		exists, err := broker.TopicExists(topic)
		if err != nil {
			return fmt.Errorf("check topic %s: %w", topic, err)
		}
		if !exists {
			return fmt.Errorf("topic %s is missing", topic)
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, 1500*time.Millisecond)
	defer cancel()
	if err := pool.Ping(checkCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func waitForPostgres(ctx context.Context, pool *pgxpool.Pool, timeout time.Duration, ensure ...func(context.Context) error) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		lastErr = pool.Ping(attemptCtx)
		for _, fn := range ensure {
			if lastErr != nil {
				break
			}
			lastErr = fn(attemptCtx)
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
