package engine

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shaiso/Gateflow/internal/domain"
)

// Arrival — результат обработки прибытия (или перепроверки) шлюза.
type Arrival struct {
	// Completed — это прибытие завершило шлюз; ровно одно прибытие
	// поколения наблюдает Completed == true.
	Completed bool

	// Stale — прибытие адресовано уже завершённому поколению шлюза;
	// поглощено как no-op.
	Stale bool

	// Hits — значение hit-счётчика после прибытия.
	Hits int

	// Expected — ожидание прибытий на момент решения.
	Expected int
}

// mergeKey — ключ hit-подсчёта: (экземпляр шлюза, поколение токена).
//
// Переход из узла назад в себя или в предка заново входит в тот же шлюз
// на следующих итерациях; каждое повторное вхождение — новое поколение
// и не смешивается с fan-in одного прохода.
type mergeKey struct {
	gateway uuid.UUID
	cycle   int
}

// mergeEntry — состояние слияния одного поколения шлюза.
type mergeEntry struct {
	// hits — атомарный счётчик прибытий; единственное разделяемое
	// изменяемое значение, масштабируется на большой fan-in без O(n²).
	hits atomic.Int64

	// completed — одноразовый флаг завершения (compare-and-swap).
	completed atomic.Bool

	// mu защищает arrived и решение inclusive-слияния
	// (пересчёт ожидания + сравнение должны быть атомарны).
	mu sync.Mutex

	// arrived — пришедшие переходы; аудит и вход для подсчёта живых
	// веток, не источник решения о завершении parallel.
	arrived map[string]bool
}

// MergeCoordinator решает, когда прибывший переход завершает шлюз.
//
// Политики по типу шлюза:
//   - EXCLUSIVE: каждое прибытие проходит насквозь, подсчёт не нужен.
//   - PARALLEL: ожидание — статическое число входящих переходов;
//     завершение ровно один раз, когда счётчик сравнялся с ожиданием.
//     Смерть питающей ветки не корректируется — шлюз блокируется навсегда.
//   - INCLUSIVE: ожидание — число живых веток, пересчитывается
//     tracker'ом при каждом прибытии и при каждой смерти ветки.
//
// Решение слияния коммутативно: порядок прибытий не влияет на результат.
// Сериализация — только per-поколение шлюза, без общих блокировок между
// несвязанными шлюзами.
type MergeCoordinator struct {
	graph   *ProcessGraph
	tracker *BranchTracker

	mu      sync.Mutex
	entries map[mergeKey]*mergeEntry
}

// NewMergeCoordinator создаёт координатор для одного process instance.
func NewMergeCoordinator(graph *ProcessGraph, tracker *BranchTracker) *MergeCoordinator {
	return &MergeCoordinator{
		graph:   graph,
		tracker: tracker,
		entries: make(map[mergeKey]*mergeEntry),
	}
}

// entry возвращает (создавая при необходимости) состояние поколения шлюза.
func (m *MergeCoordinator) entry(key mergeKey) *mergeEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, exists := m.entries[key]
	if !exists {
		e = &mergeEntry{arrived: make(map[string]bool)}
		m.entries[key] = e
	}
	return e
}

// Arrive обрабатывает прибытие входящего перехода transitionID
// в шлюз gw текущего поколения.
func (m *MergeCoordinator) Arrive(gw *domain.GatewayInstance, transitionID string) Arrival {
	def := m.graph.Node(gw.DefinitionID)

	// EXCLUSIVE merge: одиночное прибытие всегда немедленно завершает
	// шлюз; состояние не заводится.
	if gw.GatewayType == domain.GatewayExclusive {
		return Arrival{Completed: true, Hits: 1, Expected: 1}
	}

	e := m.entry(mergeKey{gateway: gw.ID, cycle: gw.Cycle})

	if e.completed.Load() {
		return Arrival{Stale: true}
	}

	switch gw.GatewayType {
	case domain.GatewayParallel:
		return m.arriveParallel(e, def, transitionID)
	case domain.GatewayInclusive:
		return m.arriveInclusive(e, def, transitionID)
	default:
		return Arrival{Stale: true}
	}
}

// arriveParallel — PARALLEL-слияние: решение на одном атомарном счётчике.
func (m *MergeCoordinator) arriveParallel(e *mergeEntry, def *domain.FlowNodeDefinition, transitionID string) Arrival {
	expected := len(m.graph.Incoming(def.ID))

	e.mu.Lock()
	e.arrived[transitionID] = true
	e.mu.Unlock()

	hits := int(e.hits.Add(1))

	switch {
	case hits < expected:
		return Arrival{Hits: hits, Expected: expected}

	case hits == expected && e.completed.CompareAndSwap(false, true):
		// Ровно одно прибытие наблюдает "счётчик сравнялся с ожиданием".
		return Arrival{Completed: true, Hits: hits, Expected: expected}

	default:
		return Arrival{Stale: true, Hits: hits, Expected: expected}
	}
}

// arriveInclusive — INCLUSIVE-слияние: ожидание пересчитывается
// по живым веткам под per-поколенческим замком.
func (m *MergeCoordinator) arriveInclusive(e *mergeEntry, def *domain.FlowNodeDefinition, transitionID string) Arrival {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed.Load() {
		return Arrival{Stale: true}
	}

	e.arrived[transitionID] = true
	hits := int(e.hits.Add(1))
	expected := m.tracker.LiveIncoming(def, e.arrived)

	if hits >= expected && e.completed.CompareAndSwap(false, true) {
		return Arrival{Completed: true, Hits: hits, Expected: expected}
	}
	return Arrival{Hits: hits, Expected: expected}
}

// Reevaluate перепроверяет inclusive-шлюз после смерти ветки.
//
// Вызывается, когда branch-death уведомление адресовано предку ждущего
// шлюза: ожидание могло уменьшиться, и уже пришедших прибытий может
// хватить для завершения. Для завершённого поколения — no-op.
func (m *MergeCoordinator) Reevaluate(gw *domain.GatewayInstance) Arrival {
	if gw.GatewayType != domain.GatewayInclusive {
		return Arrival{Stale: true}
	}

	def := m.graph.Node(gw.DefinitionID)
	e := m.entry(mergeKey{gateway: gw.ID, cycle: gw.Cycle})

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.completed.Load() {
		return Arrival{Stale: true}
	}

	hits := int(e.hits.Load())
	expected := m.tracker.LiveIncoming(def, e.arrived)

	// Без единого прибытия шлюз не завершается: некому выдать токен.
	if hits > 0 && hits >= expected && e.completed.CompareAndSwap(false, true) {
		return Arrival{Completed: true, Hits: hits, Expected: expected}
	}
	return Arrival{Hits: hits, Expected: expected}
}

// Forget удаляет все поколения шлюза из координатора.
//
// Вызывается при архивации/удалении process instance: операция слияния,
// ссылающаяся на удалённый экземпляр, обязана завершиться закрыто —
// никакое завершение не срабатывает после удаления.
func (m *MergeCoordinator) Forget(gatewayID uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, e := range m.entries {
		if key.gateway == gatewayID {
			e.completed.Store(true)
			delete(m.entries, key)
		}
	}
}
