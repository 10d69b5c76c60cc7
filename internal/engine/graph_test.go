package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Gateflow/internal/domain"
)

// defWith собирает определение процесса из узлов для тестов.
func defWith(nodes ...domain.FlowNodeDefinition) *domain.ProcessDefinition {
	return &domain.ProcessDefinition{
		Name:    "test",
		Version: 1,
		Nodes:   nodes,
	}
}

func startNode(id string, outgoing ...domain.TransitionDefinition) domain.FlowNodeDefinition {
	return domain.FlowNodeDefinition{
		ID:        id,
		Kind:      domain.KindEvent,
		EventType: domain.EventStart,
		Outgoing:  outgoing,
	}
}

func endNode(id string) domain.FlowNodeDefinition {
	return domain.FlowNodeDefinition{
		ID:        id,
		Kind:      domain.KindEvent,
		EventType: domain.EventEnd,
	}
}

func activity(id string, outgoing ...domain.TransitionDefinition) domain.FlowNodeDefinition {
	return domain.FlowNodeDefinition{
		ID:       id,
		Kind:     domain.KindActivity,
		Outgoing: outgoing,
	}
}

func gateway(id string, gt domain.GatewayType, outgoing ...domain.TransitionDefinition) domain.FlowNodeDefinition {
	return domain.FlowNodeDefinition{
		ID:          id,
		Kind:        domain.KindGateway,
		GatewayType: gt,
		Outgoing:    outgoing,
	}
}

func tr(id, target string) domain.TransitionDefinition {
	return domain.TransitionDefinition{ID: id, Target: target}
}

func condTr(id, target, condition string) domain.TransitionDefinition {
	return domain.TransitionDefinition{ID: id, Target: target, Condition: condition}
}

func defaultTr(id, target string) domain.TransitionDefinition {
	return domain.TransitionDefinition{ID: id, Target: target, IsDefault: true}
}

func TestBuildGraph_SimpleChain(t *testing.T) {
	def := defWith(
		startNode("start", tr("t1", "work")),
		activity("work", tr("t2", "end")),
		endNode("end"),
	)

	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.Size())
	}

	incoming := g.Incoming("work")
	if len(incoming) != 1 || incoming[0].ID != "t1" {
		t.Errorf("work should have one incoming transition t1, got %v", incoming)
	}

	// Производные входящие заполнены на определениях узлов.
	work := g.Node("work")
	if len(work.Incoming) != 1 || work.Incoming[0] != "t1" {
		t.Errorf("derived incoming mismatch: %v", work.Incoming)
	}
}

func TestBuildGraph_EmptyDefinition(t *testing.T) {
	if _, err := BuildGraph(defWith()); !errors.Is(err, ErrEmptyNodes) {
		t.Errorf("expected ErrEmptyNodes, got %v", err)
	}
	if _, err := BuildGraph(nil); !errors.Is(err, ErrEmptyNodes) {
		t.Errorf("expected ErrEmptyNodes for nil, got %v", err)
	}
}

func TestBuildGraph_DuplicateNodeID(t *testing.T) {
	def := defWith(
		startNode("start", tr("t1", "a")),
		activity("a"),
		activity("a"),
	)

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrDuplicateNodeID) {
		t.Errorf("expected ErrDuplicateNodeID, got %v", err)
	}
}

func TestBuildGraph_UnknownTarget(t *testing.T) {
	def := defWith(
		startNode("start", tr("t1", "ghost")),
	)

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrUnknownTarget) {
		t.Errorf("expected ErrUnknownTarget, got %v", err)
	}
}

func TestBuildGraph_MultipleDefaultsRejected(t *testing.T) {
	def := defWith(
		startNode("start", tr("t1", "split")),
		gateway("split", domain.GatewayExclusive,
			condTr("t2", "a", "x > 1"),
			defaultTr("t3", "a"),
			defaultTr("t4", "b"),
		),
		activity("a"),
		activity("b"),
	)

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrMultipleDefaults) {
		t.Errorf("expected ErrMultipleDefaults, got %v", err)
	}

	var defErr *DefinitionError
	if !errors.As(err, &defErr) {
		t.Fatal("expected DefinitionError")
	}
	if defErr.NodeID != "split" {
		t.Errorf("expected error on node split, got %s", defErr.NodeID)
	}
}

func TestBuildGraph_ParallelWithConditionRejected(t *testing.T) {
	// У PARALLEL-шлюза условный исходящий переход — ошибка деплоя,
	// не времени исполнения.
	def := defWith(
		startNode("start", tr("t1", "fork")),
		gateway("fork", domain.GatewayParallel,
			tr("t2", "a"),
			condTr("t3", "b", "x > 1"),
		),
		activity("a"),
		activity("b"),
	)

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrConditionalParallel) {
		t.Errorf("expected ErrConditionalParallel, got %v", err)
	}
}

func TestBuildGraph_ParallelWithDefaultRejected(t *testing.T) {
	def := defWith(
		startNode("start", tr("t1", "fork")),
		gateway("fork", domain.GatewayParallel,
			tr("t2", "a"),
			defaultTr("t3", "b"),
		),
		activity("a"),
		activity("b"),
	)

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrConditionalParallel) {
		t.Errorf("expected ErrConditionalParallel, got %v", err)
	}
}

func TestBuildGraph_NoStartEvent(t *testing.T) {
	def := defWith(
		activity("a", tr("t1", "b")),
		activity("b"),
	)

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrNoStartNode) {
		t.Errorf("expected ErrNoStartNode, got %v", err)
	}
}

func TestBuildGraph_UnknownGatewayType(t *testing.T) {
	def := defWith(
		startNode("start", tr("t1", "gw")),
		domain.FlowNodeDefinition{ID: "gw", Kind: domain.KindGateway, GatewayType: "BOGUS"},
	)

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrUnknownGatewayType) {
		t.Errorf("expected ErrUnknownGatewayType, got %v", err)
	}
}

func TestBackwardClosure(t *testing.T) {
	// start → a → join ← b ← start (ромб)
	def := defWith(
		startNode("start", tr("t1", "a"), tr("t2", "b")),
		activity("a", tr("t3", "join")),
		activity("b", tr("t4", "join")),
		gateway("join", domain.GatewayParallel, tr("t5", "end")),
		endNode("end"),
	)

	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	closure := g.BackwardClosure("a")
	for _, id := range []string{"a", "start"} {
		if !closure[id] {
			t.Errorf("closure of a should contain %s", id)
		}
	}
	if closure["b"] || closure["join"] {
		t.Errorf("closure of a should not contain b/join: %v", closure)
	}
}

func TestBackwardClosure_Cycle(t *testing.T) {
	// Цикл: a → b → a. Обратный обход не должен зависнуть.
	def := defWith(
		startNode("start", tr("t1", "a")),
		activity("a", tr("t2", "b")),
		activity("b", tr("t3", "a"), tr("t4", "end")),
		endNode("end"),
	)

	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	closure := g.BackwardClosure("a")
	for _, id := range []string{"a", "b", "start"} {
		if !closure[id] {
			t.Errorf("closure of a should contain %s", id)
		}
	}
}

func TestDownstreamNodes(t *testing.T) {
	def := defWith(
		startNode("start", tr("t1", "a")),
		activity("a", tr("t2", "join")),
		gateway("join", domain.GatewayInclusive, tr("t3", "end")),
		endNode("end"),
	)

	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	downstream := g.DownstreamNodes("a")
	if !downstream["join"] || !downstream["end"] {
		t.Errorf("downstream of a should contain join and end: %v", downstream)
	}
	if downstream["a"] || downstream["start"] {
		t.Errorf("downstream of a should not contain a/start: %v", downstream)
	}
}

func TestBuildGraph_RebuildSameDefinition(t *testing.T) {
	def := defWith(
		startNode("start", tr("t1", "work")),
		activity("work", tr("t2", "end")),
		endNode("end"),
	)

	if _, err := BuildGraph(def); err != nil {
		t.Fatalf("first build: %v", err)
	}
	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("second build: %v", err)
	}

	// Повторное построение по тому же определению не накапливает
	// производные входящие на узлах.
	if work := g.Node("work"); len(work.Incoming) != 1 {
		t.Errorf("work.Incoming after rebuild = %v, want [t1]", work.Incoming)
	}
	if end := g.Node("end"); len(end.Incoming) != 1 {
		t.Errorf("end.Incoming after rebuild = %v, want [t2]", end.Incoming)
	}
	if got := len(g.Incoming("work")); got != 1 {
		t.Errorf("graph incoming count after rebuild = %d, want 1", got)
	}
}
