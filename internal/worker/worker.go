package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/shaiso/Gateflow/internal/mq"
	"github.com/shaiso/Gateflow/internal/repo"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 50
	defaultPrefetch     = 5
)

// Worker выполняет отдельные активности процессов.
//
// Worker — stateless компонент системы, который:
//   - Получает готовые узлы из очереди RabbitMQ (event-driven)
//   - Периодически проверяет READY-узлы в БД (polling fallback)
//   - Выполняет активность в зависимости от её типа (auto, delay, script)
//   - Отправляет результат обратно в очередь nodes.completed
//
// Workers масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди.
type Worker struct {
	// Repositories
	nodeRepo       *repo.NodeRepo
	processRepo    *repo.ProcessRepo
	definitionRepo *repo.DefinitionRepo

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Executor registry
	registry *Registry

	// Consumer
	consumer *mq.Consumer

	// Configuration
	pollInterval time.Duration
	batchSize    int

	// Lifecycle
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	stopped    bool
	stoppedMu  sync.RWMutex
}

// Config — конфигурация Worker.
type Config struct {
	// Repositories
	NodeRepo       *repo.NodeRepo
	ProcessRepo    *repo.ProcessRepo
	DefinitionRepo *repo.DefinitionRepo

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Executor registry (опционально; если nil — используется NewRegistry())
	Registry *Registry

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество узлов за один poll (default: 50)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Worker.
func New(cfg Config) *Worker {
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}

	return &Worker{
		nodeRepo:       cfg.NodeRepo,
		processRepo:    cfg.ProcessRepo,
		definitionRepo: cfg.DefinitionRepo,
		publisher:      cfg.Publisher,
		conn:           cfg.Conn,
		registry:       registry,
		pollInterval:   pollInterval,
		batchSize:      batchSize,
		logger:         logger,
	}
}

// Start запускает Worker.
//
// Запускает:
//   - Consumer для nodes.ready
//   - Polling горутину для fallback
func (w *Worker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancelFunc = cancel

	w.logger.Info("starting worker",
		"poll_interval", w.pollInterval,
		"batch_size", w.batchSize,
	)

	// Создаём consumer (без MQ остаётся только polling)
	if w.conn != nil {
		w.consumer = mq.NewConsumer(w.conn, w.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueNodesReady),
			Handler:  w.handleNodeReady,
			Prefetch: defaultPrefetch,
		})

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			if err := w.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("node consumer error", "error", err)
			}
		}()
	} else {
		w.logger.Warn("no MQ connection, running in polling-only mode")
	}

	// Запускаем polling
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.pollLoop(ctx)
	}()

	w.logger.Info("worker started")
	return nil
}

// Stop останавливает Worker.
func (w *Worker) Stop() {
	w.stoppedMu.Lock()
	w.stopped = true
	w.stoppedMu.Unlock()

	w.logger.Info("stopping worker...")

	if w.cancelFunc != nil {
		w.cancelFunc()
	}

	if w.consumer != nil {
		w.consumer.Stop()
	}

	// Ждём завершения горутин
	w.wg.Wait()

	w.logger.Info("worker stopped")
}

// IsStopped проверяет, остановлен ли Worker.
func (w *Worker) IsStopped() bool {
	w.stoppedMu.RLock()
	defer w.stoppedMu.RUnlock()
	return w.stopped
}

// pollLoop — цикл polling для fallback.
func (w *Worker) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем узлы,
	// созданные пока worker был выключен)
	w.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (w *Worker) poll(ctx context.Context) {
	nodes, err := w.nodeRepo.ListReady(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("failed to list ready nodes", "error", err)
		return
	}

	if len(nodes) == 0 {
		return
	}

	w.logger.Debug("poll found ready nodes", "count", len(nodes))

	for i := range nodes {
		node := &nodes[i]

		if err := w.processNode(ctx, node.ID); err != nil {
			if errors.Is(err, ErrManualActivity) || errors.Is(err, ErrNodeNotReady) {
				continue
			}
			w.logger.Error("failed to process node from poll",
				"node_id", node.ID,
				"error", err,
			)
		}
	}
}
