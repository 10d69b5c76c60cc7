package engine

import "errors"

// Ошибки валидации определения процесса (deploy-time, фатальные).
var (
	// ErrEmptyNodes — определение не содержит узлов.
	ErrEmptyNodes = errors.New("process definition has no nodes")

	// ErrEmptyNodeID — узел не имеет ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrDuplicateNodeID — несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrDuplicateTransitionID — несколько переходов с одинаковым ID.
	ErrDuplicateTransitionID = errors.New("duplicate transition ID")

	// ErrUnknownKind — неизвестный вид узла.
	ErrUnknownKind = errors.New("unknown node kind")

	// ErrUnknownGatewayType — неизвестный тип шлюза.
	ErrUnknownGatewayType = errors.New("unknown gateway type")

	// ErrUnknownTarget — переход ведёт в несуществующий узел.
	ErrUnknownTarget = errors.New("transition targets unknown node")

	// ErrMultipleDefaults — более одного default-перехода на узел.
	ErrMultipleDefaults = errors.New("multiple default transitions")

	// ErrDefaultWithCondition — default-переход не может иметь условия.
	ErrDefaultWithCondition = errors.New("default transition has a condition")

	// ErrConditionalParallel — у PARALLEL-шлюза все исходящие переходы
	// должны быть безусловными и не-default.
	ErrConditionalParallel = errors.New("parallel gateway has conditional or default transition")

	// ErrNoStartNode — в процессе нет стартового события.
	ErrNoStartNode = errors.New("process has no start event")
)

// Ошибки времени исполнения.
var (
	// ErrNoRoute — ни один исходящий переход не подошёл и default
	// отсутствует. Узел переходит в FAILED, состояние восстановимо
	// только явным retry.
	ErrNoRoute = errors.New("no outgoing transition qualifies and no default exists")

	// ErrStaleGateway — прибытие или branch-death адресованы уже
	// завершённому или удалённому шлюзу. Поглощается как no-op.
	ErrStaleGateway = errors.New("gateway already completed or deleted")
)

// DefinitionError — структурная ошибка определения процесса.
// Возвращается деплоеру синхронно и отклоняет деплой.
type DefinitionError struct {
	NodeID  string // ID узла, где обнаружена ошибка
	Field   string // поле, вызвавшее ошибку
	Message string // описание ошибки
	Err     error  // базовая ошибка
}

// Error реализует интерфейс error.
func (e *DefinitionError) Error() string {
	if e.NodeID != "" {
		return "node " + e.NodeID + ": " + e.Message
	}
	return e.Message
}

// Unwrap возвращает базовую ошибку.
func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// NewDefinitionError создаёт новую ошибку определения.
func NewDefinitionError(nodeID, field, message string, err error) *DefinitionError {
	return &DefinitionError{
		NodeID:  nodeID,
		Field:   field,
		Message: message,
		Err:     err,
	}
}

// EvaluationError — условие перехода не вычислилось (нет данных,
// несовместимые типы). Узел-источник переходит в FAILED; ошибка
// никогда не приводится к false молча.
type EvaluationError struct {
	TransitionID string
	Err          error
}

// Error реализует интерфейс error.
func (e *EvaluationError) Error() string {
	return "transition " + e.TransitionID + ": " + e.Err.Error()
}

// Unwrap возвращает базовую ошибку.
func (e *EvaluationError) Unwrap() error {
	return e.Err
}
