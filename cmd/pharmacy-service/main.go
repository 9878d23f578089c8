package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/clinicaec/hospital-backend/internal/audit"
	"github.com/clinicaec/hospital-backend/internal/pharmacy/handler"
	"github.com/clinicaec/hospital-backend/internal/pharmacy/repository"
	"github.com/clinicaec/hospital-backend/internal/pharmacy/service"
	"github.com/clinicaec/hospital-backend/pkg/clock"
	"github.com/clinicaec/hospital-backend/pkg/config"
	"github.com/clinicaec/hospital-backend/pkg/database"
	"github.com/clinicaec/hospital-backend/pkg/httputil"
	"github.com/clinicaec/hospital-backend/pkg/logger"
	"github.com/clinicaec/hospital-backend/pkg/messaging"
	"github.com/clinicaec/hospital-backend/pkg/outbox"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const serviceName = "pharmacy-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting Pharmacy Service")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	// The relay may pick up rows written by any service sharing the outbox.
	publisher, err := messaging.NewPublisher(rmq, serviceName, log,
		messaging.ExchangePharmacyEvents, messaging.ExchangeSchedulingEvents)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create event publisher")
	}

	clk := clock.System{Location: cfg.Clock.Location()}
	store := repository.New(db)
	recorder := audit.NewRecorder(audit.NewRepository(db), log)

	lotService := service.NewLotService(store, recorder, clk, log)
	alertService := service.NewAlertService(store, clk, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := service.NewLotStateScheduler(lotService, cfg.Jobs.LotRecomputeInterval, log)
	scheduler.Start(ctx)

	relay := outbox.NewRelay(db, publisher, cfg.Outbox, serviceName, log.WithComponent("outbox-relay"))
	relay.Start(ctx)

	// Create router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(httputil.CallerIdentity)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes
	r.Route("/api/v1/pharmacy", func(r chi.Router) {
		handler.Routes(r, handler.NewLotHandler(lotService, log), handler.NewAlertHandler(alertService, log))
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	scheduler.Stop()
	relay.Stop()
	cancel()

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
