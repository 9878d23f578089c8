package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	dirrepo "github.com/clinicaec/hospital-backend/internal/directory/repository"
	"github.com/clinicaec/hospital-backend/internal/notification"
	"github.com/clinicaec/hospital-backend/pkg/config"
	"github.com/clinicaec/hospital-backend/pkg/database"
	"github.com/clinicaec/hospital-backend/pkg/httputil"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	"github.com/clinicaec/hospital-backend/pkg/messaging"
	"github.com/go-chi/chi/v5"
)

const (
	serviceName = "notification-worker"
	queueName   = "notification-worker.events"
)

func main() {
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting Notification Worker")

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	consumer, err := messaging.NewConsumer(rmq, messaging.ConsumerConfig{
		Queue:         queueName,
		Bindings:      []messaging.Binding{messaging.AppointmentEvents, messaging.StockEvents},
		MaxDeliveries: cfg.RabbitMQ.MaxDeliveries,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create consumer")
	}

	dispatcher := notification.NewDispatcher(
		notification.NewLogNotifier(log),
		dirrepo.New(db),
		cfg.Notification.PharmacyRecipient,
		log,
	)
	if err := dispatcher.Register(consumer); err != nil {
		log.Fatal().Err(err).Msg("failed to register notification handlers")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := consumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start consumer")
	}

	// Health endpoint only
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("health server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down worker")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("worker stopped")
}
