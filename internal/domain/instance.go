package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FlowNodeInstance — экземпляр flow node внутри process instance.
//
// Создаётся когда переход активирует определение узла, мутируется
// state machine и merge-координатором, архивируется при завершении
// или удалении process instance.
type FlowNodeInstance struct {
	// ID — уникальный идентификатор экземпляра.
	ID uuid.UUID `json:"id"`

	// ProcessInstanceID — ссылка на process instance.
	ProcessInstanceID uuid.UUID `json:"process_instance_id"`

	// DefinitionID — ID определения узла (FlowNodeDefinition.ID).
	DefinitionID string `json:"definition_id"`

	// Kind — вид узла (копия из определения, для удобства выборок).
	Kind NodeKind `json:"kind"`

	// State — текущее состояние.
	State NodeState `json:"state"`

	// Cycle — поколение токена. Для узлов в циклах каждый повторный
	// проход получает новое поколение, чтобы merge-подсчёт шлюзов
	// не смешивал итерации.
	Cycle int `json:"cycle"`

	// Attempt — номер попытки выполнения (увеличивается при retry).
	Attempt int `json:"attempt"`

	// Error — текст ошибки при FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания экземпляра.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt — время последнего изменения состояния.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFlowNodeInstance создаёт экземпляр в состоянии CREATED.
func NewFlowNodeInstance(processInstanceID uuid.UUID, def *FlowNodeDefinition, cycle int) *FlowNodeInstance {
	now := time.Now()
	return &FlowNodeInstance{
		ID:                uuid.New(),
		ProcessInstanceID: processInstanceID,
		DefinitionID:      def.ID,
		Kind:              def.Kind,
		State:             NodeStateCreated,
		Cycle:             cycle,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// transition переводит экземпляр в состояние to с проверкой допустимости.
func (n *FlowNodeInstance) transition(to NodeState) error {
	if !n.State.CanTransition(to) {
		return fmt.Errorf("%w: %s → %s (node %s)", ErrInvalidTransition, n.State, to, n.DefinitionID)
	}
	n.State = to
	n.UpdatedAt = time.Now()
	return nil
}

// MarkReady переводит узел в READY: в него пришёл переход.
func (n *FlowNodeInstance) MarkReady() error {
	return n.transition(NodeStateReady)
}

// MarkWaiting переводит шлюз в WAITING: merge ещё не собран.
func (n *FlowNodeInstance) MarkWaiting() error {
	return n.transition(NodeStateWaiting)
}

// MarkExecuting переводит узел в EXECUTING.
// Для активностей — старт выполнения, для шлюзов — merge сработал.
func (n *FlowNodeInstance) MarkExecuting() error {
	if err := n.transition(NodeStateExecuting); err != nil {
		return err
	}
	n.Attempt++
	return nil
}

// MarkCompleted переводит узел в COMPLETED.
func (n *FlowNodeInstance) MarkCompleted() error {
	if err := n.transition(NodeStateCompleted); err != nil {
		return err
	}
	n.Error = ""
	return nil
}

// MarkFailed переводит узел в FAILED с текстом ошибки.
func (n *FlowNodeInstance) MarkFailed(errMsg string) error {
	if err := n.transition(NodeStateFailed); err != nil {
		return err
	}
	n.Error = errMsg
	return nil
}

// MarkRetrying переводит FAILED-узел обратно в EXECUTING.
//
// Retry перезапускает тот же шаг с начала: условия и переходы
// вычисляются заново по обновлённым данным. Новый экземпляр не создаётся.
func (n *FlowNodeInstance) MarkRetrying() error {
	if n.State != NodeStateFailed {
		return fmt.Errorf("%w: retry from %s (node %s)", ErrInvalidTransition, n.State, n.DefinitionID)
	}
	if err := n.transition(NodeStateExecuting); err != nil {
		return err
	}
	n.Attempt++
	n.Error = ""
	return nil
}

// MarkArchived архивирует экземпляр (завершение или удаление процесса).
func (n *FlowNodeInstance) MarkArchived() error {
	return n.transition(NodeStateArchived)
}

// GatewayInstance — экземпляр шлюза.
//
// Помимо обычного жизненного цикла узла держит hit-счётчик (сколько
// входящих переходов уже пришло) и динамически пересчитываемое
// ожидание прибытий. Инвариант: в момент завершения hit-счётчик не
// превышает ожидание; после завершения дальнейшие прибытия того же
// поколения игнорируются.
type GatewayInstance struct {
	FlowNodeInstance

	// GatewayType — тип шлюза (копия из определения).
	GatewayType GatewayType `json:"gateway_type"`

	// HitCount — количество прибывших входящих переходов текущего поколения.
	// Актуальное значение во время merge живёт в MergeCoordinator;
	// сюда сбрасывается при сохранении состояния.
	HitCount int `json:"hit_count"`

	// Expected — ожидаемое количество прибытий на момент последнего
	// пересчёта. Для PARALLEL — статическое число входящих переходов,
	// для INCLUSIVE — число живых веток.
	Expected int `json:"expected"`
}

// NewGatewayInstance создаёт экземпляр шлюза в состоянии CREATED.
func NewGatewayInstance(processInstanceID uuid.UUID, def *FlowNodeDefinition, cycle int) *GatewayInstance {
	return &GatewayInstance{
		FlowNodeInstance: *NewFlowNodeInstance(processInstanceID, def, cycle),
		GatewayType:      def.GatewayType,
	}
}

// BeginCycle взводит шлюз на следующее поколение токена.
//
// Завершённый шлюз при повторном входе по циклу возвращается в WAITING
// с обнулённым счётчиком; поколения не смешиваются.
func (g *GatewayInstance) BeginCycle() error {
	if err := g.transition(NodeStateWaiting); err != nil {
		return err
	}
	g.Cycle++
	g.HitCount = 0
	g.Expected = 0
	return nil
}
