package domain

// NodeState — состояние экземпляра flow node.
//
// Жизненный цикл:
//
//	CREATED → READY → EXECUTING → COMPLETED → ARCHIVED
//	                            ↘ FAILED → EXECUTING (retry)
//
// Шлюзы дополнительно проходят через WAITING между READY и EXECUTING,
// пока merge-счётчик не набрал ожидаемое количество прибытий:
//
//	CREATED → READY → WAITING → EXECUTING → ...
type NodeState string

const (
	// NodeStateCreated — экземпляр создан, переход ещё не активировал узел.
	NodeStateCreated NodeState = "CREATED"

	// NodeStateReady — в узел пришёл переход, узел готов к выполнению.
	NodeStateReady NodeState = "READY"

	// NodeStateWaiting — шлюз ждёт остальные входящие переходы (merge).
	NodeStateWaiting NodeState = "WAITING"

	// NodeStateExecuting — узел выполняется (для шлюза: merge сработал,
	// идёт выбор исходящих переходов).
	NodeStateExecuting NodeState = "EXECUTING"

	// NodeStateCompleted — узел успешно завершён, исходящие переходы активированы.
	NodeStateCompleted NodeState = "COMPLETED"

	// NodeStateFailed — выполнение упало: condition не вычислился или
	// ни один исходящий переход не подошёл и default отсутствует.
	// Восстанавливается только явным retry.
	NodeStateFailed NodeState = "FAILED"

	// NodeStateArchived — экземпляр заархивирован после завершения
	// или удаления process instance.
	NodeStateArchived NodeState = "ARCHIVED"
)

// nodeStateTransitions — допустимые переходы состояний.
// Единственный источник правды для state machine узла.
var nodeStateTransitions = map[NodeState][]NodeState{
	NodeStateCreated:   {NodeStateReady},
	NodeStateReady:     {NodeStateWaiting, NodeStateExecuting, NodeStateArchived},
	NodeStateWaiting:   {NodeStateExecuting, NodeStateArchived},
	NodeStateExecuting: {NodeStateCompleted, NodeStateFailed, NodeStateArchived},
	NodeStateFailed:    {NodeStateExecuting, NodeStateArchived},
	NodeStateCompleted: {NodeStateArchived, NodeStateWaiting},
	NodeStateArchived:  {},
}

// CanTransition проверяет, допустим ли переход в состояние to.
//
// COMPLETED → WAITING разрешён только для шлюзов: повторный проход
// по циклу (следующее поколение токена) заново взводит merge.
func (s NodeState) CanTransition(to NodeState) bool {
	for _, allowed := range nodeStateTransitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal возвращает true, если состояние финальное для текущего прохода.
// FAILED не считается терминальным — узел можно перезапустить через retry.
func (s NodeState) IsTerminal() bool {
	switch s {
	case NodeStateCompleted, NodeStateArchived:
		return true
	default:
		return false
	}
}

// IsLive возвращает true, если узел ещё способен продолжить выполнение
// и активировать исходящие переходы. Используется Branch Lifecycle
// Tracker'ом при подсчёте живых веток.
func (s NodeState) IsLive() bool {
	switch s {
	case NodeStateCreated, NodeStateReady, NodeStateWaiting, NodeStateExecuting, NodeStateFailed:
		return true
	default:
		return false
	}
}

// InstanceStatus — статус выполнения process instance.
//
// Жизненный цикл:
//
//	RUNNING → COMPLETED
//	        ↘ FAILED
//	        ↘ CANCELLED (по запросу на удаление)
type InstanceStatus string

const (
	// InstanceStatusRunning — процесс выполняется.
	InstanceStatusRunning InstanceStatus = "RUNNING"

	// InstanceStatusCompleted — все ветки дошли до конца, процесс завершён.
	InstanceStatusCompleted InstanceStatus = "COMPLETED"

	// InstanceStatusFailed — процесс завершён с ошибкой.
	InstanceStatusFailed InstanceStatus = "FAILED"

	// InstanceStatusCancelled — процесс удалён/отменён оператором.
	InstanceStatusCancelled InstanceStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s InstanceStatus) IsTerminal() bool {
	switch s {
	case InstanceStatusCompleted, InstanceStatusFailed, InstanceStatusCancelled:
		return true
	default:
		return false
	}
}
