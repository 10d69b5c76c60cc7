package domain

import (
	"time"

	"github.com/google/uuid"
)

// NodeKind — вид flow node.
type NodeKind string

const (
	// KindActivity — обычная активность (задача).
	KindActivity NodeKind = "activity"

	// KindGateway — шлюз (exclusive, inclusive, parallel).
	KindGateway NodeKind = "gateway"

	// KindEvent — событие (start, end, terminate).
	KindEvent NodeKind = "event"
)

// GatewayType — тип шлюза.
//
// Закрытый набор вариантов: одна merge-функция параметризуется типом,
// без иерархии реализаций. Решение о завершении шлюза исчерпывающе
// проверяется per-вариант.
type GatewayType string

const (
	// GatewayExclusive — XOR: берётся первый истинный переход,
	// при слиянии каждое прибытие проходит насквозь.
	GatewayExclusive GatewayType = "EXCLUSIVE"

	// GatewayInclusive — OR: берутся все истинные переходы,
	// при слиянии ожидаются все живые ветки.
	GatewayInclusive GatewayType = "INCLUSIVE"

	// GatewayParallel — AND: берутся все переходы безусловно,
	// при слиянии ожидаются все статические входящие.
	GatewayParallel GatewayType = "PARALLEL"
)

// EventType — тип события.
type EventType string

const (
	// EventStart — стартовое событие процесса.
	EventStart EventType = "start"

	// EventEnd — обычное завершающее событие: завершает свою ветку.
	EventEnd EventType = "end"

	// EventTerminate — терминирующее завершающее событие:
	// убивает ветку (branch death для downstream inclusive-шлюзов).
	EventTerminate EventType = "terminate"
)

// Типы активностей.
const (
	// ActivityAuto — автоматическая активность: завершается сразу.
	ActivityAuto = "auto"

	// ActivityDelay — задержка на заданное количество секунд.
	ActivityDelay = "delay"

	// ActivityScript — вычисление HCL-выражения над переменными инстанса.
	ActivityScript = "script"

	// ActivityManual — ручная активность: завершается оператором.
	ActivityManual = "manual"
)

// TransitionDefinition — определение перехода (sequence flow) между узлами.
type TransitionDefinition struct {
	// ID — уникальный идентификатор перехода в рамках определения процесса.
	ID string `json:"id"`

	// Source — ID узла-источника.
	Source string `json:"source"`

	// Target — ID узла-назначения.
	Target string `json:"target"`

	// Condition — условие перехода (HCL-выражение над переменными процесса).
	// Пустая строка — безусловный переход.
	Condition string `json:"condition,omitempty"`

	// IsDefault — переход по умолчанию: берётся только когда
	// ни один другой исходящий переход не подошёл.
	// Не более одного default на узел-источник.
	IsDefault bool `json:"is_default,omitempty"`
}

// HasCondition возвращает true, если у перехода есть условие.
func (t *TransitionDefinition) HasCondition() bool {
	return t.Condition != ""
}

// FlowNodeDefinition — определение flow node в процессе.
//
// Неизменяемо после деплоя определения процесса.
type FlowNodeDefinition struct {
	// ID — уникальный идентификатор узла в рамках процесса.
	ID string `json:"id"`

	// Name — человекочитаемое имя узла.
	Name string `json:"name,omitempty"`

	// Kind — вид узла: activity, gateway, event.
	Kind NodeKind `json:"kind"`

	// GatewayType — тип шлюза (только для Kind == gateway).
	GatewayType GatewayType `json:"gateway_type,omitempty"`

	// EventType — тип события (только для Kind == event).
	EventType EventType `json:"event_type,omitempty"`

	// ActivityType — тип активности (только для Kind == activity):
	// "auto", "delay", "script", "manual".
	// auto/delay/script выполняются worker'ом, manual завершается оператором.
	ActivityType string `json:"activity_type,omitempty"`

	// Config — конфигурация активности (параметры для executor'а).
	Config map[string]any `json:"config,omitempty"`

	// Outgoing — исходящие переходы в авторском порядке.
	// Авторский порядок — единственная гарантия порядка вычисления условий.
	Outgoing []TransitionDefinition `json:"outgoing,omitempty"`

	// Incoming — ID входящих переходов.
	// Выводится из графа процесса при деплое, не авторское поле.
	Incoming []string `json:"-"`
}

// IsGateway возвращает true для шлюзов.
func (n *FlowNodeDefinition) IsGateway() bool {
	return n.Kind == KindGateway
}

// IsTerminateEvent возвращает true для терминирующего end-события.
func (n *FlowNodeDefinition) IsTerminateEvent() bool {
	return n.Kind == KindEvent && n.EventType == EventTerminate
}

// DefaultTransition возвращает переход по умолчанию или nil.
func (n *FlowNodeDefinition) DefaultTransition() *TransitionDefinition {
	for i := range n.Outgoing {
		if n.Outgoing[i].IsDefault {
			return &n.Outgoing[i]
		}
	}
	return nil
}

// OutgoingByID возвращает исходящий переход по ID или nil.
func (n *FlowNodeDefinition) OutgoingByID(id string) *TransitionDefinition {
	for i := range n.Outgoing {
		if n.Outgoing[i].ID == id {
			return &n.Outgoing[i]
		}
	}
	return nil
}

// ProcessDefinition — определение процесса (версионируемый "рецепт").
//
// Одно определение может иметь множество версий. Каждый process instance
// выполняет конкретную версию. Определение неизменяемо после деплоя.
type ProcessDefinition struct {
	// ID — уникальный идентификатор определения.
	ID uuid.UUID `json:"id"`

	// Name — уникальное имя процесса (например, "order-approval").
	Name string `json:"name"`

	// Version — номер версии (1, 2, 3, ...).
	Version int `json:"version"`

	// Nodes — узлы процесса.
	Nodes []FlowNodeDefinition `json:"nodes"`

	// CreatedAt — время деплоя версии.
	CreatedAt time.Time `json:"created_at"`
}

// NodeByID возвращает узел по ID или nil.
func (d *ProcessDefinition) NodeByID(id string) *FlowNodeDefinition {
	for i := range d.Nodes {
		if d.Nodes[i].ID == id {
			return &d.Nodes[i]
		}
	}
	return nil
}

// StartNodes возвращает стартовые события процесса.
func (d *ProcessDefinition) StartNodes() []*FlowNodeDefinition {
	var starts []*FlowNodeDefinition
	for i := range d.Nodes {
		if d.Nodes[i].Kind == KindEvent && d.Nodes[i].EventType == EventStart {
			starts = append(starts, &d.Nodes[i])
		}
	}
	return starts
}
