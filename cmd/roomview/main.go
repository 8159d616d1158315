package main

import (
	"context"

	"roomview/internal/booking/handler"
	"roomview/internal/booking/repository"
	"roomview/internal/booking/service"
	"roomview/internal/booking/validator"
	"roomview/internal/notifier"
	"roomview/pkg/app"
	"roomview/pkg/config"
	"roomview/pkg/kafka"
)

const ServiceName = "roomview"

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()

	cfg.Log.Info("Starting viewing-room booking service")

	bookingService, events := initServices(cfg)

	snapshotNotifier := notifier.New(bookingService, cfg.Location, cfg.SnapshotInterval, cfg.Log)
	snapshotNotifier.Start()

	serverApp := app.NewApplication(cfg)
	serverApp.RegisterShutdown(snapshotNotifier.Stop)
	if events != nil {
		serverApp.RegisterShutdown(func() {
			if err := events.Close(); err != nil {
				cfg.Log.Error("Failed to close Kafka producer", "error", err)
			}
		})
	}
	serverApp.SetApp(
		handler.NewBookingHandler(bookingService, cfg.Location, cfg.Log),
		snapshotNotifier,
	)
	serverApp.Run()
}

func initServices(cfg *config.Config) (service.BookingService, *kafka.Producer) {
	bookingRepo := repository.NewMongoBookingRepository(cfg)
	lockRepo := repository.NewBookingLockRepository(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.MongoConnTimeout)
	defer cancel()
	if err := bookingRepo.EnsureIndexes(ctx); err != nil {
		cfg.Log.Fatal("Failed to ensure booking indexes", "error", err)
	}
	if err := lockRepo.EnsureIndexes(ctx); err != nil {
		cfg.Log.Fatal("Failed to ensure lock indexes", "error", err)
	}

	var events *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		var err error
		events, err = kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaTopic, ServiceName, cfg.Log)
		if err != nil {
			cfg.Log.Fatal("Failed to initialize Kafka producer", "error", err)
		}
	} else {
		cfg.Log.Info("No Kafka brokers configured; booking events disabled")
	}

	bookingValidator := validator.NewBookingValidator(cfg.Log)
	bookingService := service.NewBookingService(
		bookingRepo,
		lockRepo,
		bookingValidator,
		events,
		cfg,
	)

	cfg.Log.Info("Booking service initialized", "database", cfg.MongoDatabaseName)
	return bookingService, events
}
