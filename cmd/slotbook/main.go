package main

import (
	"context"
	"fmt"

	"slotbook/internal/allocation/engine"
	"slotbook/internal/allocation/events"
	"slotbook/internal/allocation/handler"
	"slotbook/internal/allocation/pricing"
	"slotbook/internal/allocation/seed"
	"slotbook/internal/allocation/service"
	"slotbook/internal/allocation/validator"
	"slotbook/pkg/app"
	"slotbook/pkg/config"
	"slotbook/pkg/kafka"
	kafka_config "slotbook/pkg/kafka/config"
	"slotbook/pkg/metrics"
)

const ServiceName = "slotbook"

func main() {
	cfg := config.Load(ServiceName)
	cfg.Log.Info("Starting slotbook service")

	serverApp, err := buildApplication(cfg)
	if err != nil {
		cfg.Log.Fatal("Failed to start", "error", err)
	}
	serverApp.Run()
}

func buildApplication(cfg *config.Config) (*app.Application, error) {
	recorder := metrics.NewRecorder()

	registry, err := initRegistry(cfg, recorder)
	if err != nil {
		return nil, fmt.Errorf("build pool registry: %w", err)
	}

	publisher, err := initPublisher(cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize event publisher: %w", err)
	}

	allocationService := service.NewAllocationService(
		registry,
		validator.NewAllocationValidator(cfg.Log),
		publisher,
		service.NewTickClock(cfg.TickDuration),
		cfg,
	)

	healthHandler := handler.NewHealthHandler(cfg.Log, handler.ReadinessCheck{
		Name: "pools",
		Check: func(context.Context) error {
			if len(registry.Names()) == 0 {
				return fmt.Errorf("no pools registered")
			}
			return nil
		},
	})

	serverApp := app.NewApplication(cfg)
	serverApp.SetApp(healthHandler, recorder.Handler(), handler.NewAllocationHandler(allocationService, cfg.Log))
	serverApp.OnShutdown(publisher.Close)
	return serverApp, nil
}

func initRegistry(cfg *config.Config, recorder engine.Recorder) (*engine.Registry, error) {
	if cfg.CatalogFile == "" {
		strategy, err := pricing.Parse(cfg.PricingKind, cfg.PricingRate, cfg.PricingFlat)
		if err != nil {
			return nil, err
		}
		cfg.Log.Info("No catalog file configured, starting with an empty default pool",
			"pool", cfg.DefaultPool,
			"pricing", strategy.Name(),
		)
		return seed.Default(cfg.DefaultPool, strategy, engine.WithRecorder(recorder))
	}

	file, err := seed.Load(cfg.CatalogFile)
	if err != nil {
		return nil, err
	}
	return file.Build(cfg.Log, engine.WithRecorder(recorder))
}

func initPublisher(cfg *config.Config) (events.Publisher, error) {
	if !cfg.EventsEnabled {
		cfg.Log.Info("Booking events disabled")
		return events.NopPublisher{}, nil
	}

	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		return nil, err
	}
	kafkaCfg.LogConfiguration(cfg.Log.Info)

	producer, err := kafka.NewProducer(kafkaCfg, cfg.EventsTopic, cfg.EventsDLQTopic, cfg.Log)
	if err != nil {
		return nil, err
	}
	producer.Use(kafka.LoggingMiddleware(cfg.Log.Component("kafka")))

	cfg.Log.Info("Booking events enabled", "topic", cfg.EventsTopic, "dlq_topic", cfg.EventsDLQTopic)
	return events.NewKafkaPublisher(producer, ServiceName, kafkaCfg.PublishTimeout), nil
}
