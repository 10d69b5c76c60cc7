package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Gateflow/internal/domain"
	"github.com/shaiso/Gateflow/internal/expr"
	"github.com/shaiso/Gateflow/internal/mq"
)

// Default configuration values.
const (
	defaultPollInterval = 10 * time.Second
	defaultBatchSize    = 100
)

// DefinitionStore — читающая часть хранилища определений процессов.
// Реализуется repo.DefinitionRepo.
type DefinitionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ProcessDefinition, error)
}

// ProcessStore — хранилище process instances. Реализуется repo.ProcessRepo.
type ProcessStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.ProcessInstance, error)
	Update(ctx context.Context, inst *domain.ProcessInstance) error
	ListRunning(ctx context.Context, limit int) ([]domain.ProcessInstance, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// NodeStore — хранилище экземпляров узлов. Реализуется repo.NodeRepo.
type NodeStore interface {
	Create(ctx context.Context, node *domain.FlowNodeInstance) error
	CreateGateway(ctx context.Context, gw *domain.GatewayInstance) error
	ListByProcessInstance(ctx context.Context, processInstanceID uuid.UUID) ([]domain.FlowNodeInstance, error)
	SaveState(ctx context.Context, node *domain.FlowNodeInstance) error
	SaveGatewayState(ctx context.Context, gw *domain.GatewayInstance) error
	ArchiveByProcessInstance(ctx context.Context, processInstanceID uuid.UUID) error
	DeleteByProcessInstance(ctx context.Context, processInstanceID uuid.UUID) error
}

// Engine управляет выполнением process instances.
//
// Engine — центральный компонент системы, который:
//   - Получает новые инстансы из очереди RabbitMQ (event-driven)
//   - Периодически проверяет RUNNING инстансы в БД (polling fallback)
//   - Строит граф процесса для каждого инстанса
//   - Выбирает исходящие переходы по условиям (exclusive/inclusive/parallel)
//   - Координирует слияния шлюзов через MergeCoordinator
//   - Реагирует на смерть веток через BranchTracker
//   - Финализирует инстансы (COMPLETED/FAILED)
type Engine struct {
	// Repositories
	definitionRepo DefinitionStore
	processRepo    ProcessStore
	nodeRepo       NodeStore

	// MQ
	publisher *mq.Publisher
	conn      *mq.Connection

	// Evaluator — вычислитель условий переходов.
	evaluator expr.Evaluator

	// Active instances — инстансы в процессе выполнения (instanceID → state)
	active map[uuid.UUID]*InstanceState
	mu     sync.RWMutex

	// Consumers
	instanceConsumer *mq.Consumer
	nodeConsumer     *mq.Consumer
	retryConsumer    *mq.Consumer
	cancelConsumer   *mq.Consumer
	branchConsumer   *mq.Consumer

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

// Config — конфигурация Engine.
type Config struct {
	// Repositories
	DefinitionRepo DefinitionStore
	ProcessRepo    ProcessStore
	NodeRepo       NodeStore

	// MQ
	Publisher *mq.Publisher
	Conn      *mq.Connection

	// Evaluator — вычислитель условий (default: HCL).
	Evaluator expr.Evaluator

	// Polling configuration
	PollInterval time.Duration // интервал polling (default: 10s)
	BatchSize    int           // количество инстансов за один poll (default: 100)

	// Logger
	Logger *slog.Logger
}

// New создаёт новый Engine.
func New(cfg Config) *Engine {
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

	evaluator := cfg.Evaluator
	if evaluator == nil {
		evaluator = expr.NewHCLEvaluator()
	}

	return &Engine{
		definitionRepo: cfg.DefinitionRepo,
		processRepo:    cfg.ProcessRepo,
		nodeRepo:       cfg.NodeRepo,
		publisher:      cfg.Publisher,
		conn:           cfg.Conn,
		evaluator:      evaluator,
		active:         make(map[uuid.UUID]*InstanceState),
		pollInterval:   pollInterval,
		batchSize:      batchSize,
		logger:         logger,
	}
}

// Start запускает Engine.
//
// Запускает:
//   - Consumer для instances.pending и instances.cancelled
//   - Consumer для nodes.completed и nodes.retry
//   - Consumer для branches.died
//   - Polling горутину для fallback
func (e *Engine) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	e.cancelFunc = cancel

	e.logger.Info("starting engine",
		"poll_interval", e.pollInterval,
		"batch_size", e.batchSize,
	)

	// Создаём consumers (без MQ остаётся только polling)
	if e.conn != nil {
		e.instanceConsumer = mq.NewConsumer(e.conn, e.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueInstancesPending),
			Handler:  e.handleInstancePending,
			Prefetch: 10,
		})

		e.nodeConsumer = mq.NewConsumer(e.conn, e.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueNodesCompleted),
			Handler:  e.handleNodeCompleted,
			Prefetch: 10,
		})

		e.retryConsumer = mq.NewConsumer(e.conn, e.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueNodesRetry),
			Handler:  e.handleNodeRetry,
			Prefetch: 10,
		})

		e.cancelConsumer = mq.NewConsumer(e.conn, e.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueInstancesCancelled),
			Handler:  e.handleInstanceCancelled,
			Prefetch: 10,
		})

		e.branchConsumer = mq.NewConsumer(e.conn, e.logger, mq.ConsumerConfig{
			Queue:    string(mq.QueueBranchesDied),
			Handler:  e.handleBranchDied,
			Prefetch: 10,
		})

		for _, consumer := range []*mq.Consumer{e.instanceConsumer, e.nodeConsumer, e.retryConsumer, e.cancelConsumer, e.branchConsumer} {
			c := consumer
			e.wg.Add(1)
			go func() {
				defer e.wg.Done()
				if err := c.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
					e.logger.Error("consumer error", "error", err)
				}
			}()
		}
	} else {
		e.logger.Warn("no MQ connection, running in polling-only mode")
	}

	// Запускаем polling
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.pollLoop(ctx)
	}()

	e.logger.Info("engine started")
	return nil
}

// Stop останавливает Engine.
func (e *Engine) Stop() {
	e.stoppedMu.Lock()
	e.stopped = true
	e.stoppedMu.Unlock()

	e.logger.Info("stopping engine...")

	if e.cancelFunc != nil {
		e.cancelFunc()
	}

	// Останавливаем consumers
	for _, consumer := range []*mq.Consumer{e.instanceConsumer, e.nodeConsumer, e.retryConsumer, e.cancelConsumer, e.branchConsumer} {
		if consumer != nil {
			consumer.Stop()
		}
	}

	// Ждём завершения горутин
	e.wg.Wait()

	e.logger.Info("engine stopped",
		"active_instances", len(e.active),
	)
}

// IsStopped проверяет, остановлен ли Engine.
func (e *Engine) IsStopped() bool {
	e.stoppedMu.RLock()
	defer e.stoppedMu.RUnlock()
	return e.stopped
}

// pollLoop — цикл polling для fallback.
func (e *Engine) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	// Первый poll сразу при старте (подхватываем инстансы,
	// созданные пока engine был выключен)
	e.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.poll(ctx)
		}
	}
}

// poll выполняет один цикл polling.
func (e *Engine) poll(ctx context.Context) {
	instances, err := e.processRepo.ListRunning(ctx, e.batchSize)
	if err != nil {
		e.logger.Error("failed to list running instances", "error", err)
		return
	}

	if len(instances) == 0 {
		return
	}

	e.logger.Debug("poll found running instances", "count", len(instances))

	for i := range instances {
		instance := &instances[i]

		// Активный инстанс: догоняем завершения узлов, пропущенные
		// мимо очереди (polling-only режим, потерянное событие)
		if state := e.getActive(instance.ID); state != nil {
			e.reconcile(ctx, state)
			continue
		}

		if err := e.processInstance(ctx, instance.ID); err != nil {
			e.logger.Error("failed to process instance from poll",
				"instance_id", instance.ID,
				"error", err,
			)
		}
	}
}

// isActive проверяет, находится ли инстанс в обработке.
func (e *Engine) isActive(instanceID uuid.UUID) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, exists := e.active[instanceID]
	return exists
}

// getActive возвращает активный InstanceState.
func (e *Engine) getActive(instanceID uuid.UUID) *InstanceState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active[instanceID]
}

// addActive добавляет инстанс в активные.
func (e *Engine) addActive(state *InstanceState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.active[state.InstanceID()]; exists {
		return ErrInstanceAlreadyActive
	}

	e.active[state.InstanceID()] = state
	return nil
}

// removeActive удаляет инстанс из активных.
func (e *Engine) removeActive(instanceID uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, instanceID)
}

// ActiveInstancesCount возвращает количество активных инстансов.
func (e *Engine) ActiveInstancesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.active)
}

// GetActiveInstanceStats возвращает статистику по активному инстансу.
func (e *Engine) GetActiveInstanceStats(instanceID uuid.UUID) (InstanceStats, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state, exists := e.active[instanceID]
	if !exists {
		return InstanceStats{}, false
	}

	return state.Stats(), true
}
