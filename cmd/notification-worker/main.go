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
	"github.com/taskboard/service/internal/app/notifier"
	"github.com/taskboard/service/internal/contracts"
	"github.com/taskboard/service/internal/messaging"
	"github.com/taskboard/service/internal/platform/env"
	"github.com/taskboard/service/internal/platform/metrics"
	"github.com/taskboard/service/internal/platform/natsutil"
)

func main() {
	_ = godotenv.Load()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	natsURL := env.String("NATS_URL", env.DefaultNATSURL)
	metricsAddr := env.String("NOTIFICATION_WORKER_ADDR", ":8091")

	client, err := natsutil.ConnectWithRetry(natsURL, 20*time.Second)
	if err != nil {
		log.Fatal(err)
	}
	defer client.Close()

	topics := messaging.NewRegistry(client.JS)
	subs := messaging.NewSubscriptionManager(topics, client.JS)

	service := notifier.New(subs)
	if err := service.Initialize(runCtx); err != nil {
		log.Fatal(err)
	}
	log.Println("Notification worker subscribed")

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
		exists, err := client.SubscriptionExists(contracts.TopicTaskCreated, contracts.SubscriptionTaskNotification)
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
