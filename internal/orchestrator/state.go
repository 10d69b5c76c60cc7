package orchestrator

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/shaiso/Gateflow/internal/domain"
	"github.com/shaiso/Gateflow/internal/engine"
)

// InstanceState — состояние выполнения одного process instance в памяти.
//
// InstanceState создаётся когда Engine начинает обработку инстанса
// и удаляется когда инстанс завершается (COMPLETED/FAILED/CANCELLED).
//
// Содержит:
//   - Кэш данных из БД (ProcessInstance, ProcessDefinition)
//   - Построенный граф процесса
//   - Экземпляры узлов по definition ID (включая шлюзы)
//   - MergeCoordinator и BranchTracker для обработки fan-in
//
// Реализует engine.InstanceView: tracker выводит живость веток
// из экземпляров, которые хранятся здесь.
type InstanceState struct {
	// Instance — данные process instance из БД.
	Instance *domain.ProcessInstance

	// Definition — определение процесса.
	Definition *domain.ProcessDefinition

	// Graph — валидированный граф процесса.
	Graph *engine.ProcessGraph

	// Merge — координатор слияний шлюзов этого инстанса.
	Merge *engine.MergeCoordinator

	// Tracker — трекер живых и мёртвых веток.
	Tracker *engine.BranchTracker

	// nodes — все экземпляры узла по definition ID.
	// В циклах у одного определения несколько экземпляров
	// (по одному на поколение); последний — текущий.
	nodes map[string][]*domain.FlowNodeInstance

	// byID — экземпляры по их UUID (для retry и branch death).
	byID map[uuid.UUID]*domain.FlowNodeInstance

	// gateways — экземпляры шлюзов по definition ID.
	// Шлюз один на инстанс: повторный вход по циклу взводит
	// следующее поколение через BeginCycle.
	gateways map[string]*domain.GatewayInstance

	// variables — переменные инстанса для вычисления условий.
	variables map[string]any

	// cancelled — инстанс удаляется; новые токены не выдаются.
	cancelled atomic.Bool

	// mu — мьютекс для потокобезопасного доступа.
	mu sync.RWMutex
}

// NewInstanceState создаёт новый InstanceState.
func NewInstanceState(instance *domain.ProcessInstance, def *domain.ProcessDefinition) *InstanceState {
	return &InstanceState{
		Instance:   instance,
		Definition: def,
		nodes:      make(map[string][]*domain.FlowNodeInstance),
		byID:       make(map[uuid.UUID]*domain.FlowNodeInstance),
		gateways:   make(map[string]*domain.GatewayInstance),
		variables:  instance.Variables,
	}
}

// Initialize валидирует определение, строит граф и инфраструктуру слияний.
func (s *InstanceState) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	graph, err := engine.BuildGraph(s.Definition)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	s.Graph = graph

	if s.variables == nil {
		s.variables = make(map[string]any)
	}

	s.Tracker = engine.NewBranchTracker(graph, s)
	s.Merge = engine.NewMergeCoordinator(graph, s.Tracker)

	return nil
}

// Instances возвращает все экземпляры узла с данным definition ID.
// Часть контракта engine.InstanceView.
func (s *InstanceState) Instances(definitionID string) []*domain.FlowNodeInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.FlowNodeInstance, 0, len(s.nodes[definitionID])+1)
	result = append(result, s.nodes[definitionID]...)
	if gw, ok := s.gateways[definitionID]; ok {
		result = append(result, &gw.FlowNodeInstance)
	}
	return result
}

// CreateNode создаёт новый экземпляр узла текущего поколения.
// При повторном входе по циклу предыдущий экземпляр остаётся
// в истории, новый получает следующий cycle.
func (s *InstanceState) CreateNode(def *domain.FlowNodeDefinition) *domain.FlowNodeInstance {
	s.mu.Lock()
	defer s.mu.Unlock()

	cycle := len(s.nodes[def.ID])
	node := domain.NewFlowNodeInstance(s.Instance.ID, def, cycle)
	s.nodes[def.ID] = append(s.nodes[def.ID], node)
	s.byID[node.ID] = node
	return node
}

// CurrentNode возвращает последний экземпляр узла с данным definition ID.
func (s *InstanceState) CurrentNode(definitionID string) *domain.FlowNodeInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	instances := s.nodes[definitionID]
	if len(instances) == 0 {
		return nil
	}
	return instances[len(instances)-1]
}

// NodeByID возвращает экземпляр узла по UUID.
func (s *InstanceState) NodeByID(id uuid.UUID) *domain.FlowNodeInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id]
}

// Gateway возвращает экземпляр шлюза по definition ID (или nil).
func (s *InstanceState) Gateway(definitionID string) *domain.GatewayInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gateways[definitionID]
}

// EnsureGateway возвращает экземпляр шлюза в состоянии WAITING,
// создавая его или взводя следующее поколение при необходимости.
func (s *InstanceState) EnsureGateway(def *domain.FlowNodeDefinition) (*domain.GatewayInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gw, ok := s.gateways[def.ID]
	if !ok {
		gw = domain.NewGatewayInstance(s.Instance.ID, def, 0)
		if err := gw.MarkReady(); err != nil {
			return nil, err
		}
		if err := gw.MarkWaiting(); err != nil {
			return nil, err
		}
		s.gateways[def.ID] = gw
		s.byID[gw.ID] = &gw.FlowNodeInstance
		return gw, nil
	}

	// Повторный вход в завершённый шлюз — следующее поколение токена.
	if gw.State == domain.NodeStateCompleted {
		if err := gw.BeginCycle(); err != nil {
			return nil, err
		}
	}
	return gw, nil
}

// Gateways возвращает все экземпляры шлюзов инстанса.
func (s *InstanceState) Gateways() []*domain.GatewayInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.GatewayInstance, 0, len(s.gateways))
	for _, gw := range s.gateways {
		result = append(result, gw)
	}
	return result
}

// AllNodes возвращает все экземпляры узлов инстанса (без шлюзов).
func (s *InstanceState) AllNodes() []*domain.FlowNodeInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FlowNodeInstance
	for _, instances := range s.nodes {
		result = append(result, instances...)
	}
	return result
}

// RestoreNodes восстанавливает экземпляры узлов из БД (после рестарта).
//
// Экземпляры шлюзов восстанавливаются в gateways; hit-счётчики
// координатора слияний начинают с нуля — незавершённые прибытия
// повторно доставляются через nodes.completed или polling.
func (s *InstanceState) RestoreNodes(persisted []domain.FlowNodeInstance) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range persisted {
		node := persisted[i]
		def := s.Graph.Node(node.DefinitionID)
		if def == nil {
			continue
		}

		if def.IsGateway() {
			gw := &domain.GatewayInstance{
				FlowNodeInstance: node,
				GatewayType:      def.GatewayType,
			}
			s.gateways[def.ID] = gw
			s.byID[gw.ID] = &gw.FlowNodeInstance
			continue
		}

		restored := node
		s.nodes[def.ID] = append(s.nodes[def.ID], &restored)
		s.byID[restored.ID] = &restored
	}
}

// Variables возвращает снапшот переменных инстанса.
func (s *InstanceState) Variables() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := make(map[string]any, len(s.variables))
	for k, v := range s.variables {
		snapshot[k] = v
	}
	return snapshot
}

// SetVariables сливает переменные в состояние инстанса.
func (s *InstanceState) SetVariables(vars map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range vars {
		s.variables[k] = v
	}
}

// MarkCancelled помечает инстанс как удаляемый.
// После этого токены не выдаются и прибытия не завершают шлюзы.
func (s *InstanceState) MarkCancelled() {
	s.cancelled.Store(true)
}

// IsCancelled проверяет, удаляется ли инстанс.
func (s *InstanceState) IsCancelled() bool {
	return s.cancelled.Load()
}

// InstanceID возвращает ID process instance.
func (s *InstanceState) InstanceID() uuid.UUID {
	return s.Instance.ID
}

// HasLiveWork проверяет, есть ли незавершённая работа:
// узлы в READY/EXECUTING или шлюзы в WAITING с хотя бы одним прибытием.
func (s *InstanceState) HasLiveWork() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, instances := range s.nodes {
		for _, node := range instances {
			switch node.State {
			case domain.NodeStateCreated, domain.NodeStateReady, domain.NodeStateExecuting:
				return true
			}
		}
	}
	for _, gw := range s.gateways {
		if gw.State == domain.NodeStateWaiting {
			return true
		}
	}
	return false
}

// FailedNodes возвращает упавшие экземпляры узлов (ожидающие retry),
// включая шлюзы, у которых не выбрался ни один исходящий переход.
func (s *InstanceState) FailedNodes() []*domain.FlowNodeInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var failed []*domain.FlowNodeInstance
	for _, instances := range s.nodes {
		for _, node := range instances {
			if node.State == domain.NodeStateFailed {
				failed = append(failed, node)
			}
		}
	}
	for _, gw := range s.gateways {
		if gw.State == domain.NodeStateFailed {
			failed = append(failed, &gw.FlowNodeInstance)
		}
	}
	return failed
}

// Stats возвращает статистику выполнения инстанса.
func (s *InstanceState) Stats() InstanceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats InstanceStats
	for _, instances := range s.nodes {
		for _, node := range instances {
			stats.TotalNodes++
			switch node.State {
			case domain.NodeStateCompleted:
				stats.CompletedNodes++
			case domain.NodeStateFailed:
				stats.FailedNodes++
			case domain.NodeStateReady, domain.NodeStateExecuting:
				stats.RunningNodes++
			}
		}
	}
	for _, gw := range s.gateways {
		stats.TotalNodes++
		switch gw.State {
		case domain.NodeStateCompleted:
			stats.CompletedNodes++
		case domain.NodeStateFailed:
			stats.FailedNodes++
		case domain.NodeStateWaiting:
			stats.WaitingGateways++
		}
	}
	return stats
}

// InstanceStats — статистика выполнения process instance.
type InstanceStats struct {
	TotalNodes      int
	CompletedNodes  int
	RunningNodes    int
	FailedNodes     int
	WaitingGateways int
}
