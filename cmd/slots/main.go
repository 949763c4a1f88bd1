package main

import (
	"context"
	"net/http"

	"courtslots/internal/slots/events"
	"courtslots/internal/slots/handler"
	"courtslots/internal/slots/hub"
	"courtslots/internal/slots/manager"
	"courtslots/internal/slots/repository"
	"courtslots/internal/slots/service"
	"courtslots/internal/slots/store"
	"courtslots/internal/slots/validator"
	"courtslots/pkg/app"
	"courtslots/pkg/client"
	"courtslots/pkg/config"
	"courtslots/pkg/contracts"
	"courtslots/pkg/kafka"
	kafka_config "courtslots/pkg/kafka/config"
	kafka_middleware "courtslots/pkg/kafka/middleware"
)

const ServiceName = "slots"

func main() {
	cfg := config.Load(ServiceName)
	cfg.SetMongo()

	cfg.Log.Info("Starting Slots service")
	serverApp := app.NewApplication(cfg)

	repo := repository.NewMongoBookedSlotRepository(cfg)
	if err := repo.EnsureIndexes(context.Background()); err != nil {
		cfg.Log.Fatal("Failed to create booked slot indexes", "error", err)
	}

	realtimeHub := hub.NewHub(cfg)
	fanout := manager.Fanout{realtimeHub}

	var kafkaCfg *kafka_config.Config
	if cfg.KafkaEnabled {
		kafkaCfg = kafka_config.Load(cfg.Log)
		publisher := initPublisher(cfg, kafkaCfg, serverApp)
		fanout = append(fanout, publisher)
	}

	slotManager := manager.New(cfg, store.New(), repo, fanout)
	if _, err := slotManager.Restore(context.Background()); err != nil {
		cfg.Log.Fatal("Failed to restore booked slots", "error", err)
	}
	serverApp.AddWorker("expiry-sweeper", slotManager)

	slotValidator := validator.NewSlotValidator(cfg.Log, cfg.GranularityFor)
	bookingService := service.NewBookingService(
		slotManager,
		client.NewBookingClient(cfg.BookingServiceURL, cfg.BookingServiceTimeout),
		repo,
		slotValidator,
		cfg,
	)

	if cfg.KafkaEnabled {
		initCancellationConsumer(cfg, kafkaCfg, bookingService, serverApp)
	}

	gateway := hub.NewGateway(cfg, realtimeHub, slotManager, slotValidator)
	serverApp.OnDrain("realtime-hub", func() error {
		realtimeHub.Close()
		return nil
	})

	serverApp.SetApp(
		handler.NewSlotHandler(bookingService, cfg.Log),
		handler.NewHealthHandler(cfg.Client.Mongo, realtimeHub, cfg.Log),
		http.HandlerFunc(gateway.ServeWS),
	)
	serverApp.Run()
}

func initPublisher(cfg *config.Config, kafkaCfg *kafka_config.Config, serverApp *app.Application) *events.Publisher {
	producer, err := kafka.NewProducer(kafkaCfg, cfg.SlotEventsTopic, kafkaCfg.SlotEventsDLQTopic, cfg.Log)
	if err != nil {
		cfg.Log.Fatal("Failed to create slot event producer", "error", err)
	}
	if kafkaCfg.EnableMiddleware {
		producer.Use(kafka_middleware.MetricsProducerMiddleware())
		producer.Use(kafka_middleware.LoggingProducerMiddleware(cfg.Log))
	}

	publisher := events.NewPublisher(producer, kafkaCfg.PublishQueueSize, ServiceName, cfg.Log)
	serverApp.AddWorker("slot-event-publisher", publisher)
	serverApp.OnClose("slot-event-producer", producer.Close)

	cfg.Log.Info("Slot events publishing enabled", "topic", cfg.SlotEventsTopic)
	return publisher
}

func initCancellationConsumer(cfg *config.Config, kafkaCfg *kafka_config.Config, svc service.BookingService, serverApp *app.Application) {
	consumer, err := kafka.NewConsumer(
		kafkaCfg,
		cfg.BookingCancelledTopic,
		cfg.ConsumerGroupID,
		kafkaCfg.BookingCancelledDLQTopic,
		events.CancellationHandler(svc, cfg.Log),
		cfg.Log,
	)
	if err != nil {
		cfg.Log.Fatal("Failed to create booking cancellation consumer", "error", err)
	}
	if kafkaCfg.EnableMiddleware {
		consumer.Use(kafka_middleware.MetricsConsumerMiddleware())
		consumer.Use(kafka_middleware.LoggingConsumerMiddleware(cfg.Log))
	}

	serverApp.AddWorker("booking-cancelled-consumer", contracts.WorkerFunc(consumer.Start))
	serverApp.OnClose("booking-cancelled-consumer", consumer.Close)

	cfg.Log.Info("Booking cancellation consumer enabled", "topic", cfg.BookingCancelledTopic, "group", cfg.ConsumerGroupID)
}
