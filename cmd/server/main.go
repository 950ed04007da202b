package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"taximeter/internal/app"
	"taximeter/internal/config"
	"taximeter/internal/domain"
	"taximeter/internal/handler"
	"taximeter/internal/kafka"
	"taximeter/internal/logger"
	internalRedis "taximeter/internal/redis"
	"taximeter/internal/repository/postgres"
	"taximeter/internal/service"
)

func main() {
	// Load configuration.
	cfg := config.Load()
	log := logger.New(&cfg.Logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	var err error
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			log.WithError(err).Warn("Failed to initialize New Relic")
		} else {
			log.WithField("app", cfg.NewRelic.AppName).Info("New Relic enabled (with DB instrumentation)")
		}
	}

	// Initialize database with New Relic instrumentation.
	db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to database")
	}
	defer db.Close()

	if err := app.Migrate(ctx, db); err != nil {
		log.WithError(err).Fatal("Failed to apply schema")
	}
	log.Info("Connected to PostgreSQL")

	// Initialize Redis with New Relic instrumentation.
	redisClient, err := app.NewRedisClient(ctx, cfg.Redis, nrApp)
	if err != nil {
		log.WithError(err).Fatal("Failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info("Connected to Redis")

	// Event bus.
	var publisher service.EventPublisher = kafka.NopPublisher{}
	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(&cfg.Kafka, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to create kafka producer")
		}
		defer producer.Close()
		publisher = producer
	}

	// Wire dependencies.
	deps := wireServices(db, redisClient, publisher, cfg, log)

	if err := deps.pricing.Load(ctx); err != nil {
		log.WithError(err).Fatal("Failed to load fare categories")
	}
	if _, err := deps.pricing.SeedDefault(ctx, cfg.Meter); err != nil {
		log.WithError(err).Fatal("Failed to seed fare categories")
	}
	if _, err := deps.trips.RestoreActive(ctx); err != nil {
		log.WithError(err).Error("Failed to restore running meters")
	}

	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		consumer, err = kafka.NewConsumer(&cfg.Kafka, log)
		if err != nil {
			log.WithError(err).Fatal("Failed to create kafka consumer")
		}
		consumer.RegisterHandler(domain.EventTypePosition, positionHandler(deps.trips))
		if err := consumer.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start kafka consumer")
		}
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(deps, redisClient, nrApp, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine.
	go func() {
		log.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("Server error")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if consumer != nil {
		if err := consumer.Stop(); err != nil {
			log.WithError(err).Warn("Kafka consumer did not stop cleanly")
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	// Meters are saved so the next process can continue them.
	deps.trips.Shutdown()

	log.Info("Server exited")
}

type services struct {
	pricing *service.PricingService
	surge   *service.SurgeService
	drivers *service.DriverService
	trips   *service.TripService
}

// wireServices builds the stores and services.
func wireServices(db *sql.DB, redisClient *redis.Client, publisher service.EventPublisher, cfg *config.Config, log *logger.Logger) services {
	// Initialize Redis stores.
	locationStore := internalRedis.NewLocationStore(redisClient)
	lockStore := internalRedis.NewLockStore(redisClient)
	cacheStore := internalRedis.NewCacheStore(redisClient)

	// Initialize repositories.
	fareCategoryRepo := postgres.NewFareCategoryRepository(db)
	tripRepo := postgres.NewTripRepository(db)

	// Initialize services.
	notificationService := service.NewNotificationService(publisher, log)
	receiptService := service.NewReceiptService(notificationService)
	pricingService := service.NewPricingService(fareCategoryRepo, log)
	surgeService := service.NewSurgeService(locationStore, cfg.Surge, log)
	driverService := service.NewDriverService(locationStore, lockStore)
	tripService := service.NewTripService(service.TripServiceDeps{
		TripRepo:      tripRepo,
		Pricing:       pricingService,
		Surge:         surgeService,
		Locations:     locationStore,
		Locks:         lockStore,
		Cache:         cacheStore,
		Receipts:      receiptService,
		Notifications: notificationService,
		Log:           log,
		Config: service.TripConfig{
			SnapshotTTL:   cfg.Meter.SnapshotTTL,
			LockTTL:       cfg.Meter.DriverLockTTL,
			MaxMultiplier: decimal.NewFromFloat(cfg.Meter.MaxMultiplier),
		},
	})

	return services{
		pricing: pricingService,
		surge:   surgeService,
		drivers: driverService,
		trips:   tripService,
	}
}

// newRouter builds the handlers and the HTTP router.
func newRouter(s services, redisClient *redis.Client, nrApp *newrelic.Application, log *logger.Logger) http.Handler {
	return app.NewRouter(app.RouterDeps{
		FareCategoryHandler: handler.NewFareCategoryHandler(s.pricing),
		TripHandler:         handler.NewTripHandler(s.trips),
		MeterStreamHandler:  handler.NewMeterStreamHandler(s.trips, log),
		DriverHandler:       handler.NewDriverHandler(s.drivers),
		SurgeHandler:        handler.NewSurgeHandler(s.surge),
		RedisClient:         redisClient,
		NewRelicApp:         nrApp,
		Logger:              log,
	})
}

// positionHandler feeds position events from the bus into running meters.
// Samples for trips that run on another instance are skipped.
func positionHandler(trips *service.TripService) kafka.EventHandler {
	return func(ctx context.Context, event *domain.Event) error {
		report, err := kafka.DecodePosition(event)
		if err != nil {
			return err
		}
		err = trips.RecordPosition(ctx, service.RecordPositionRequest{
			TripID:    report.TripID,
			Lat:       report.Lat,
			Lng:       report.Lng,
			Timestamp: report.Timestamp,
		})
		if errors.Is(err, service.ErrTripNotActive) || errors.Is(err, service.ErrTripAlreadyEnded) {
			return nil
		}
		return err
	}
}
