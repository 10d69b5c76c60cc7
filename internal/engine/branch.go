package engine

import (
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Gateflow/internal/domain"
)

// InstanceView — представление живых экземпляров узлов процесса.
//
// Оркестратор предоставляет tracker'у доступ к текущим экземплярам;
// tracker не хранит ветки как самостоятельные записи, а выводит
// живость из состояний экземпляров, достижимых из предшественников шлюза.
type InstanceView interface {
	// Instances возвращает экземпляры узла с данным definition ID.
	Instances(definitionID string) []*domain.FlowNodeInstance
}

// BranchTracker отслеживает живые и мёртвые ветки процесса.
//
// Ветка умирает, когда: (a) достигает терминирующего end-события,
// (b) прерывающее boundary-событие убивает её фронтир, (c) владеющий
// process instance удалён. Смерть ветки идемпотентна: повторная
// доставка уведомления не даёт двойного декремента.
//
// Только прерывающие завершения считаются смертью ветки;
// непрерывающие пути остаются живыми до собственного завершения.
type BranchTracker struct {
	graph *ProcessGraph
	view  InstanceView

	mu   sync.Mutex
	dead map[uuid.UUID]struct{}
}

// NewBranchTracker создаёт tracker для одного process instance.
func NewBranchTracker(graph *ProcessGraph, view InstanceView) *BranchTracker {
	return &BranchTracker{
		graph: graph,
		view:  view,
		dead:  make(map[uuid.UUID]struct{}),
	}
}

// MarkDead помечает экземпляр-фронтир ветки мёртвым.
//
// Возвращает true, если экземпляр помечен впервые. Повторная пометка —
// no-op (идемпотентность для повторно доставленных сигналов).
func (t *BranchTracker) MarkDead(frontier uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.dead[frontier]; exists {
		return false
	}
	t.dead[frontier] = struct{}{}
	return true
}

// IsDead проверяет, помечен ли экземпляр мёртвым.
func (t *BranchTracker) IsDead(id uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, exists := t.dead[id]
	return exists
}

// LiveIncoming возвращает актуальное ожидание прибытий для inclusive-шлюза:
// количество входящих переходов, чья порождающая ветка жива.
//
// Входящий переход считается живым, если токен по нему уже пришёл
// (arrived) или в обратном замыкании его источника есть живой экземпляр,
// способный ещё доставить токен. Пересчёт выполняется и при прибытии,
// и при смерти ветки: ветка может умереть после того, как шлюз начал ждать.
func (t *BranchTracker) LiveIncoming(gw *domain.FlowNodeDefinition, arrived map[string]bool) int {
	live := 0
	for _, tr := range t.graph.Incoming(gw.ID) {
		if arrived[tr.ID] || t.branchAlive(tr.Source, gw.ID) {
			live++
		}
	}
	return live
}

// branchAlive проверяет, способна ли ветка, питающая узел sourceID,
// ещё доставить токен. Обратный обход от источника входящего перехода;
// сам шлюз исключается, чтобы цикл через шлюз не держал ветку живой.
func (t *BranchTracker) branchAlive(sourceID, gatewayID string) bool {
	closure := t.graph.BackwardClosure(sourceID)

	t.mu.Lock()
	defer t.mu.Unlock()

	for nodeID := range closure {
		if nodeID == gatewayID {
			continue
		}
		for _, inst := range t.view.Instances(nodeID) {
			if _, isDead := t.dead[inst.ID]; isDead {
				continue
			}
			if inst.State.IsLive() {
				return true
			}
		}
	}
	return false
}

// AffectedInclusiveGateways возвращает ID определений inclusive-шлюзов
// ниже по потоку от умершего узла — адресаты branch-death уведомления.
//
// PARALLEL-шлюзы намеренно не подписаны на смерть веток: мёртвая ветка
// навсегда блокирует parallel join, это ожидаемое поведение движка.
func (t *BranchTracker) AffectedInclusiveGateways(deadNodeDefID string) []string {
	downstream := t.graph.DownstreamNodes(deadNodeDefID)

	var affected []string
	for nodeID := range downstream {
		node := t.graph.Node(nodeID)
		if node != nil && node.Kind == domain.KindGateway && node.GatewayType == domain.GatewayInclusive {
			affected = append(affected, nodeID)
		}
	}
	return affected
}
