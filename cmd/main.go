package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openbilling/payment-core/internal/api"
	"github.com/openbilling/payment-core/internal/automaton"
	"github.com/openbilling/payment-core/internal/config"
	"github.com/openbilling/payment-core/internal/control"
	"github.com/openbilling/payment-core/internal/dispatcher"
	"github.com/openbilling/payment-core/internal/events"
	"github.com/openbilling/payment-core/internal/handlers"
	"github.com/openbilling/payment-core/internal/interfaces"
	"github.com/openbilling/payment-core/internal/lock"
	"github.com/openbilling/payment-core/internal/metrics"
	"github.com/openbilling/payment-core/internal/plugin"
	"github.com/openbilling/payment-core/internal/repository"
	"github.com/openbilling/payment-core/internal/statemachine"
	"github.com/openbilling/payment-core/internal/telemetry"
)

func main() {
	cfg := config.Load()

	logger, err := telemetry.Init("payment-core", cfg.JaegerEndpoint)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize telemetry: %v", err))
	}
	defer telemetry.Shutdown(context.Background())
	defer logger.Sync()

	logger.Info("Starting payment core")

	// State machine definition: external file or the embedded default.
	var machineConfig *statemachine.Config
	if cfg.StateMachineFile != "" {
		machineConfig, err = statemachine.LoadFile(cfg.StateMachineFile)
	} else {
		machineConfig, err = statemachine.Default()
	}
	if err != nil {
		logger.Fatal("Failed to load state machine definition", zap.Error(err))
	}

	var store interfaces.PaymentStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		pg := repository.NewPostgresStore(db)
		if err := pg.InitDB(); err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		store = pg
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory payment store")
		store = repository.NewMemoryStore()
	}

	var locker interfaces.AccountLocker
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		defer redisClient.Close()
		locker = lock.NewRedisLocker(redisClient, cfg.LockTTL, logger)
	} else {
		logger.Warn("REDIS_URL not set, using in-process account locks")
		locker = lock.NewMemoryLocker()
	}

	var publisher events.Publisher
	if cfg.KafkaBrokers != "" {
		kafkaPublisher := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher
	} else {
		logger.Warn("KAFKA_BROKERS not set, transition events disabled")
		publisher = events.NopPublisher{}
	}

	registry := plugin.NewRegistry()
	registry.RegisterGateway("sandbox", plugin.NewSandboxGateway())
	registry.RegisterControl("backoff_retry", control.NewBackoffRetryPolicy(8, time.Minute, 24*time.Hour))

	controlNames := []string{"backoff_retry"}
	if cfg.ControlPlugins != "" {
		controlNames = strings.Split(cfg.ControlPlugins, ",")
	}

	m := metrics.New(nil)
	pool := dispatcher.NewPool(cfg.PluginWorkers, cfg.PluginTimeout)
	chain := control.NewChain(registry, controlNames, logger)

	runner, err := automaton.NewRunner(machineConfig, store, locker, registry, pool, chain, publisher, m, logger, cfg.GatewayPlugin)
	if err != nil {
		logger.Fatal("Failed to construct automaton runner", zap.Error(err))
	}

	paymentHandler := handlers.NewPaymentHandler(runner, store, logger)
	router := api.NewRouter(paymentHandler, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Payment core listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}
