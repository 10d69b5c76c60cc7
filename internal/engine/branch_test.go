package engine

import (
	"testing"

	"github.com/shaiso/Gateflow/internal/domain"
)

func TestBranchTracker_AffectedInclusiveGateways(t *testing.T) {
	// a → inclusive join, a → parallel join: уведомление адресуется
	// только inclusive-шлюзам ниже по потоку.
	def := defWith(
		startNode("start", tr("t1", "a")),
		activity("a", tr("t2", "or_join"), tr("t3", "and_join")),
		gateway("or_join", domain.GatewayInclusive, tr("t4", "end")),
		gateway("and_join", domain.GatewayParallel, tr("t5", "end")),
		endNode("end"),
	)

	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	tracker := NewBranchTracker(g, newFakeView())

	affected := tracker.AffectedInclusiveGateways("a")
	if len(affected) != 1 || affected[0] != "or_join" {
		t.Errorf("expected [or_join], got %v", affected)
	}
}

func TestBranchTracker_UpstreamGatewayNotAffected(t *testing.T) {
	// Шлюз выше по потоку от умершего узла не получает уведомление.
	def := defWith(
		startNode("start", tr("t1", "or_join")),
		gateway("or_join", domain.GatewayInclusive, tr("t2", "a")),
		activity("a", tr("t3", "end")),
		endNode("end"),
	)

	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	tracker := NewBranchTracker(g, newFakeView())

	if affected := tracker.AffectedInclusiveGateways("a"); len(affected) != 0 {
		t.Errorf("expected no affected gateways, got %v", affected)
	}
}

func TestBranchTracker_LiveIncomingCountsArrivedAndLive(t *testing.T) {
	g := fanInGraph(t, 3, domain.GatewayInclusive, domain.GatewayInclusive)
	view := newFakeView()
	tracker := NewBranchTracker(g, view)

	join := g.Node("join")

	// Ни прибытий, ни живых экземпляров: все ветки мертвы.
	if live := tracker.LiveIncoming(join, nil); live != 0 {
		t.Errorf("expected 0 live, got %d", live)
	}

	// Один живой экземпляр держит свою ветку живой.
	view.add("a1", domain.NodeStateExecuting)
	if live := tracker.LiveIncoming(join, nil); live != 1 {
		t.Errorf("expected 1 live, got %d", live)
	}

	// Прибывший переход считается живым даже без живых экземпляров позади.
	arrived := map[string]bool{"join_t2": true}
	if live := tracker.LiveIncoming(join, arrived); live != 2 {
		t.Errorf("expected 2 live, got %d", live)
	}
}

func TestBranchTracker_FailedInstanceKeepsBranchAlive(t *testing.T) {
	// FAILED-узел восстановим через retry — его ветка не мертва.
	g := fanInGraph(t, 2, domain.GatewayInclusive, domain.GatewayInclusive)
	view := newFakeView()
	tracker := NewBranchTracker(g, view)

	view.add("a1", domain.NodeStateFailed)

	if live := tracker.LiveIncoming(g.Node("join"), nil); live != 1 {
		t.Errorf("FAILED instance should keep its branch alive, got %d", live)
	}
}

func TestBranchTracker_GatewayOwnWaitExcluded(t *testing.T) {
	// Цикл через шлюз: собственный WAITING-экземпляр шлюза не должен
	// держать входящую ветку живой.
	def := defWith(
		startNode("start", tr("t1", "join")),
		gateway("join", domain.GatewayInclusive, tr("t2", "a")),
		activity("a", tr("t3", "join"), tr("t4", "end")),
		endNode("end"),
	)

	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	view := newFakeView()
	tracker := NewBranchTracker(g, view)

	view.add("join", domain.NodeStateWaiting)

	// Вход t3 (из a): в обратном замыкании a живых экземпляров нет,
	// кроме самого шлюза — он исключается.
	arrived := map[string]bool{"t1": true}
	if live := tracker.LiveIncoming(g.Node("join"), arrived); live != 1 {
		t.Errorf("expected only the arrived start edge alive, got %d", live)
	}
}

func TestBranchTracker_ArchivedInstancesAreDeadBranches(t *testing.T) {
	g := fanInGraph(t, 2, domain.GatewayInclusive, domain.GatewayInclusive)
	view := newFakeView()
	tracker := NewBranchTracker(g, view)

	view.add("a1", domain.NodeStateArchived)
	view.add("a2", domain.NodeStateCompleted)

	if live := tracker.LiveIncoming(g.Node("join"), nil); live != 0 {
		t.Errorf("archived/completed instances must not keep branches alive, got %d", live)
	}
}
