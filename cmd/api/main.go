package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"example.com/extracurricular/internal/api"
	"example.com/extracurricular/internal/config"
	"example.com/extracurricular/internal/domain"
	"example.com/extracurricular/internal/logging"
	"example.com/extracurricular/internal/observability"
	"example.com/extracurricular/internal/outbox"
	"example.com/extracurricular/internal/registry"
	httptransport "example.com/extracurricular/internal/transport/http"
)

const serviceName = "signup-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.SetupTracing(ctx, serviceName, cfg.OTELEndpoint)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}

	catalogue, err := registry.Catalogue(cfg.SeedFile)
	if err != nil {
		logger.Fatal("failed to load activity catalogue", zap.String("path", cfg.SeedFile), zap.Error(err))
	}
	repo := registry.NewInMemoryRegistry(catalogue)

	var (
		recorder   domain.EventRecorder = domain.NoopRecorder{}
		dispatcher *outbox.Dispatcher
		producer   *outbox.KafkaProducer
	)
	if cfg.PublishingEnabled() {
		queue := outbox.NewQueue(cfg.OutboxQueueSize)
		dispatchCfg := outbox.DispatcherConfig{
			Topic:        cfg.KafkaTopic,
			PollInterval: cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
			MaxAttempts:  cfg.OutboxMaxAttempts,
			BaseDelay:    cfg.OutboxBaseDelay,
		}
		producer = outbox.NewKafkaProducer(cfg.KafkaBrokers, dispatchCfg)
		schemas := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher = outbox.NewDispatcher(queue, producer, schemas, dispatchCfg, logger.Named("outbox"))
		recorder = queue

		go dispatcher.Start(ctx)
		logger.Info("roster event publishing enabled",
			zap.Strings("brokers", cfg.KafkaBrokers),
			zap.String("topic", cfg.KafkaTopic))
	}

	service := domain.NewService(repo, recorder, logger.Named("domain"))

	handler := api.NewHandler(service, logger.Named("api"))
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	server := httptransport.NewServer(httptransport.ServerConfig{
		Address:      cfg.HTTPAddress,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}, httptransport.Chain(mux,
		httptransport.Tracing(serviceName),
		httptransport.AccessLog(logger.Named("http")),
		httptransport.CORS(cfg.CORSAllowedOrigin),
	))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("signup-service listening", zap.String("address", cfg.HTTPAddress))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-shutdownCh
	logger.Info("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	cancel()
	if dispatcher != nil {
		dispatcher.Wait()
	}
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Warn("closing kafka producer", zap.Error(err))
		}
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("flushing traces", zap.Error(err))
	}
}
