package worker

import (
	"context"
	"fmt"

	"github.com/shaiso/Gateflow/internal/domain"
)

// Execution — единица работы для executor'а: экземпляр узла,
// его определение и снапшот переменных инстанса.
type Execution struct {
	Node      *domain.FlowNodeInstance
	Def       *domain.FlowNodeDefinition
	Variables map[string]any
}

// Executor — интерфейс для выполнения конкретного типа активности.
//
// Реализации: AutoExecutor, DelayExecutor, ScriptExecutor.
// Manual-активности worker не выполняет — их завершает оператор.
type Executor interface {
	Execute(ctx context.Context, exec *Execution) (*ExecutionResult, error)
}

// ExecutionResult — результат выполнения активности.
type ExecutionResult struct {
	// Outputs — выходные данные выполнения (сливаются в переменные инстанса).
	Outputs map[string]any

	// Error — сообщение об ошибке (логическая ошибка выполнения).
	// Инфраструктурные ошибки возвращаются через error в Execute().
	Error string
}

// Registry — реестр executor'ов по типу активности.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry создаёт реестр с зарегистрированными executor'ами по умолчанию.
//
// Регистрирует: auto, delay, script.
// manual обрабатывается оператором, воркер его не берёт.
func NewRegistry() *Registry {
	r := &Registry{executors: make(map[string]Executor)}
	r.Register(domain.ActivityAuto, &AutoExecutor{})
	r.Register(domain.ActivityDelay, &DelayExecutor{})
	r.Register(domain.ActivityScript, NewScriptExecutor())
	return r
}

// Register добавляет executor для типа активности.
func (r *Registry) Register(activityType string, executor Executor) {
	r.executors[activityType] = executor
}

// Get возвращает executor для типа активности.
func (r *Registry) Get(activityType string) (Executor, error) {
	executor, ok := r.executors[activityType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownActivityType, activityType)
	}
	return executor, nil
}
