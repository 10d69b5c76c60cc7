// Gateflow Engine — управляет выполнением process instances.
//
// Engine:
//   - Получает новые instances из RabbitMQ
//   - Строит граф процесса и выдаёт токены по transitions
//   - Координирует gateways (exclusive, inclusive, parallel)
//   - Отслеживает гибель веток и финализирует instances
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shaiso/Gateflow/internal/mq"
	"github.com/shaiso/Gateflow/internal/orchestrator"
	"github.com/shaiso/Gateflow/internal/repo"
	"github.com/shaiso/Gateflow/internal/telemetry"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting gateflow-engine")

	// graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// DB pool
	pool, err := repo.NewPool(ctx)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	logger.Info("database connected")

	// Создаём репозитории
	definitionRepo := repo.NewDefinitionRepo(pool)
	processRepo := repo.NewProcessRepo(pool)
	nodeRepo := repo.NewNodeRepo(pool)

	// RabbitMQ
	var publisher *mq.Publisher
	var mqConn *mq.Connection
	mqURL := os.Getenv("RABBITMQ_URL")
	if mqURL == "" {
		mqURL = mq.DefaultURL()
	}

	mqConn, err = mq.NewConnection(mqURL, logger)
	if err != nil {
		logger.Warn("RabbitMQ not available, running in polling-only mode", "error", err)
	} else {
		defer mqConn.Close()
		logger.Info("RabbitMQ connected")

		// Создаём топологию
		if err := mq.SetupTopology(ctx, mqConn); err != nil {
			logger.Warn("failed to setup topology", "error", err)
		}

		publisher = mq.NewPublisher(mqConn, logger)
	}

	// Создаём engine
	engine := orchestrator.New(orchestrator.Config{
		DefinitionRepo: definitionRepo,
		ProcessRepo:    processRepo,
		NodeRepo:       nodeRepo,
		Publisher:      publisher,
		Conn:           mqConn,
		Logger:         logger,
	})

	// Запускаем engine
	if err := engine.Start(ctx); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	// HTTP mux: /healthz + /metrics
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.Handler())

	port := ":8083"
	if v := os.Getenv("ENGINE_PORT"); v != "" {
		port = ":" + v
	}

	go func() {
		logger.Info("listening", "addr", port)
		if err := http.ListenAndServe(port, mux); err != nil {
			logger.Error("http server error", "error", err)
			cancel()
		}
	}()

	// Ожидаем сигнал завершения
	<-ctx.Done()

	// Останавливаем engine
	engine.Stop()
	logger.Info("gateflow-engine stopped")
}
