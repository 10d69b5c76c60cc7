package engine

import (
	"fmt"
	"sync"

	"github.com/shaiso/Gateflow/internal/domain"
)

// ProcessGraph — граф процесса, построенный из определения.
//
// Узлы индексированы по ID, входящие переходы выведены из исходящих.
// Граф может содержать циклы (переходы назад к ранним узлам) — это
// не дерево и не DAG; повторные проходы через узел различаются
// поколением токена, а не структурой графа.
type ProcessGraph struct {
	// Definition — исходное определение процесса.
	Definition *domain.ProcessDefinition

	nodes       map[string]*domain.FlowNodeDefinition
	transitions map[string]*domain.TransitionDefinition

	// incoming — входящие переходы по ID узла-назначения.
	incoming map[string][]*domain.TransitionDefinition

	// backward — кэш обратного замыкания: nodeID → множество узлов,
	// из которых узел достижим. Граф неизменяем после деплоя, кэш
	// заполняется лениво и не инвалидируется.
	backwardMu sync.Mutex
	backward   map[string]map[string]bool
}

// BuildGraph строит и валидирует граф процесса.
//
// Структурные нарушения (условный или default переход у PARALLEL-шлюза,
// больше одного default на узел, неизвестные цели переходов) — ошибки
// времени деплоя, возвращаются как DefinitionError.
func BuildGraph(def *domain.ProcessDefinition) (*ProcessGraph, error) {
	if def == nil || len(def.Nodes) == 0 {
		return nil, NewDefinitionError("", "nodes", "process definition has no nodes", ErrEmptyNodes)
	}

	g := &ProcessGraph{
		Definition:  def,
		nodes:       make(map[string]*domain.FlowNodeDefinition, len(def.Nodes)),
		transitions: make(map[string]*domain.TransitionDefinition),
		incoming:    make(map[string][]*domain.TransitionDefinition),
		backward:    make(map[string]map[string]bool),
	}

	// Первый проход: индексируем узлы, проверяем вид и тип.
	for i := range def.Nodes {
		node := &def.Nodes[i]

		if node.ID == "" {
			return nil, NewDefinitionError("", "id", "node has empty ID", ErrEmptyNodeID)
		}
		if _, exists := g.nodes[node.ID]; exists {
			return nil, NewDefinitionError(node.ID, "id",
				fmt.Sprintf("duplicate node ID: %s", node.ID), ErrDuplicateNodeID)
		}

		if err := validateNodeKind(node); err != nil {
			return nil, err
		}

		// Производное поле: пересчитывается при каждом построении,
		// иначе повторный BuildGraph по тому же определению его удвоит
		node.Incoming = node.Incoming[:0]

		g.nodes[node.ID] = node
	}

	// Второй проход: валидируем переходы и выводим входящие.
	for i := range def.Nodes {
		node := &def.Nodes[i]

		if err := g.linkTransitions(node); err != nil {
			return nil, err
		}
	}

	if len(def.StartNodes()) == 0 {
		return nil, NewDefinitionError("", "nodes", "process has no start event", ErrNoStartNode)
	}

	return g, nil
}

// validateNodeKind проверяет вид узла и обязательные подтипы.
func validateNodeKind(node *domain.FlowNodeDefinition) error {
	switch node.Kind {
	case domain.KindActivity, domain.KindEvent:
		return nil

	case domain.KindGateway:
		switch node.GatewayType {
		case domain.GatewayExclusive, domain.GatewayInclusive, domain.GatewayParallel:
			return nil
		default:
			return NewDefinitionError(node.ID, "gateway_type",
				fmt.Sprintf("unknown gateway type: %q", node.GatewayType), ErrUnknownGatewayType)
		}

	default:
		return NewDefinitionError(node.ID, "kind",
			fmt.Sprintf("unknown node kind: %q", node.Kind), ErrUnknownKind)
	}
}

// linkTransitions валидирует исходящие переходы узла и заполняет
// производные входящие у узлов-назначений.
func (g *ProcessGraph) linkTransitions(node *domain.FlowNodeDefinition) error {
	defaults := 0
	isParallel := node.Kind == domain.KindGateway && node.GatewayType == domain.GatewayParallel

	for i := range node.Outgoing {
		tr := &node.Outgoing[i]
		tr.Source = node.ID

		if _, exists := g.transitions[tr.ID]; exists {
			return NewDefinitionError(node.ID, "outgoing",
				fmt.Sprintf("duplicate transition ID: %s", tr.ID), ErrDuplicateTransitionID)
		}
		g.transitions[tr.ID] = tr

		target, exists := g.nodes[tr.Target]
		if !exists {
			return NewDefinitionError(node.ID, "outgoing",
				fmt.Sprintf("transition %s targets unknown node: %s", tr.ID, tr.Target), ErrUnknownTarget)
		}

		if tr.IsDefault {
			defaults++
			if defaults > 1 {
				return NewDefinitionError(node.ID, "outgoing",
					"more than one default transition", ErrMultipleDefaults)
			}
			if tr.HasCondition() {
				return NewDefinitionError(node.ID, "outgoing",
					fmt.Sprintf("default transition %s has a condition", tr.ID), ErrDefaultWithCondition)
			}
		}

		if isParallel && (tr.IsDefault || tr.HasCondition()) {
			return NewDefinitionError(node.ID, "outgoing",
				fmt.Sprintf("parallel gateway transition %s must be unconditional", tr.ID),
				ErrConditionalParallel)
		}

		g.incoming[tr.Target] = append(g.incoming[tr.Target], tr)
		target.Incoming = append(target.Incoming, tr.ID)
	}

	return nil
}

// Node возвращает узел по ID или nil.
func (g *ProcessGraph) Node(id string) *domain.FlowNodeDefinition {
	return g.nodes[id]
}

// Transition возвращает переход по ID или nil.
func (g *ProcessGraph) Transition(id string) *domain.TransitionDefinition {
	return g.transitions[id]
}

// Incoming возвращает входящие переходы узла в порядке объявления источников.
func (g *ProcessGraph) Incoming(nodeID string) []*domain.TransitionDefinition {
	return g.incoming[nodeID]
}

// Size возвращает количество узлов.
func (g *ProcessGraph) Size() int {
	return len(g.nodes)
}

// BackwardClosure возвращает множество узлов, из которых nodeID достижим
// (включая сам nodeID). Используется tracker'ом: ветка, питающая
// входящий переход шлюза, жива, если в обратном замыкании источника
// перехода есть живой экземпляр.
func (g *ProcessGraph) BackwardClosure(nodeID string) map[string]bool {
	g.backwardMu.Lock()
	defer g.backwardMu.Unlock()

	if cached, ok := g.backward[nodeID]; ok {
		return cached
	}

	closure := map[string]bool{nodeID: true}
	queue := []string{nodeID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, tr := range g.incoming[current] {
			if !closure[tr.Source] {
				closure[tr.Source] = true
				queue = append(queue, tr.Source)
			}
		}
	}

	g.backward[nodeID] = closure
	return closure
}

// DownstreamNodes возвращает множество узлов, достижимых из nodeID
// (не включая сам nodeID). Используется при рассылке branch-death
// уведомлений ждущим inclusive-шлюзам ниже по потоку.
func (g *ProcessGraph) DownstreamNodes(nodeID string) map[string]bool {
	reached := make(map[string]bool)
	queue := []string{nodeID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		node := g.nodes[current]
		if node == nil {
			continue
		}
		for i := range node.Outgoing {
			target := node.Outgoing[i].Target
			if !reached[target] {
				reached[target] = true
				queue = append(queue, target)
			}
		}
	}

	return reached
}
