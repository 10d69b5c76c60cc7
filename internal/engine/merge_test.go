package engine

import (
	"fmt"
	"math/rand"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shaiso/Gateflow/internal/domain"
)

// fakeView — представление экземпляров для tracker'а в тестах.
type fakeView struct {
	mu        sync.Mutex
	instances map[string][]*domain.FlowNodeInstance
}

func newFakeView() *fakeView {
	return &fakeView{instances: make(map[string][]*domain.FlowNodeInstance)}
}

func (v *fakeView) Instances(definitionID string) []*domain.FlowNodeInstance {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.instances[definitionID]
}

func (v *fakeView) add(defID string, state domain.NodeState) *domain.FlowNodeInstance {
	v.mu.Lock()
	defer v.mu.Unlock()

	inst := &domain.FlowNodeInstance{
		ID:           uuid.New(),
		DefinitionID: defID,
		State:        state,
	}
	v.instances[defID] = append(v.instances[defID], inst)
	return inst
}

func (v *fakeView) setState(inst *domain.FlowNodeInstance, state domain.NodeState) {
	v.mu.Lock()
	defer v.mu.Unlock()
	inst.State = state
}

// fanInGraph строит процесс: start → fork → a1..aN → join → end.
func fanInGraph(t *testing.T, n int, forkType, joinType domain.GatewayType) *ProcessGraph {
	t.Helper()

	forkOut := make([]domain.TransitionDefinition, n)
	nodes := []domain.FlowNodeDefinition{}

	for i := 0; i < n; i++ {
		branchID := fmt.Sprintf("a%d", i+1)
		forkOut[i] = tr(fmt.Sprintf("fork_t%d", i+1), branchID)
		nodes = append(nodes, activity(branchID, tr(fmt.Sprintf("join_t%d", i+1), "join")))
	}

	nodes = append(nodes,
		startNode("start", tr("t_start", "fork")),
		gateway("fork", forkType, forkOut...),
		gateway("join", joinType, tr("t_join", "end")),
		endNode("end"),
	)

	g, err := BuildGraph(defWith(nodes...))
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return g
}

func newCoordinator(g *ProcessGraph, view InstanceView) (*MergeCoordinator, *BranchTracker) {
	tracker := NewBranchTracker(g, view)
	return NewMergeCoordinator(g, tracker), tracker
}

func joinInstance(g *ProcessGraph) *domain.GatewayInstance {
	return domain.NewGatewayInstance(uuid.New(), g.Node("join"), 0)
}

func TestMerge_ExclusivePassThrough(t *testing.T) {
	g := fanInGraph(t, 2, domain.GatewayParallel, domain.GatewayExclusive)
	coord, _ := newCoordinator(g, newFakeView())
	gw := joinInstance(g)

	// Каждое прибытие немедленно завершает exclusive-слияние.
	for _, trID := range []string{"join_t1", "join_t2"} {
		arrival := coord.Arrive(gw, trID)
		if !arrival.Completed {
			t.Errorf("exclusive merge should complete on arrival %s", trID)
		}
	}
}

func TestMerge_ParallelCompletesOnLastArrival(t *testing.T) {
	g := fanInGraph(t, 3, domain.GatewayParallel, domain.GatewayParallel)
	coord, _ := newCoordinator(g, newFakeView())
	gw := joinInstance(g)

	a1 := coord.Arrive(gw, "join_t1")
	if a1.Completed || a1.Stale {
		t.Errorf("first arrival must not complete: %+v", a1)
	}
	a2 := coord.Arrive(gw, "join_t2")
	if a2.Completed || a2.Stale {
		t.Errorf("second arrival must not complete: %+v", a2)
	}
	a3 := coord.Arrive(gw, "join_t3")
	if !a3.Completed {
		t.Errorf("third arrival must complete: %+v", a3)
	}
	if a3.Hits != 3 || a3.Expected != 3 {
		t.Errorf("expected hits=3 expected=3, got %+v", a3)
	}
}

func TestMerge_ParallelIdempotentCompletion(t *testing.T) {
	g := fanInGraph(t, 2, domain.GatewayParallel, domain.GatewayParallel)
	coord, _ := newCoordinator(g, newFakeView())
	gw := joinInstance(g)

	coord.Arrive(gw, "join_t1")
	done := coord.Arrive(gw, "join_t2")
	if !done.Completed {
		t.Fatal("second arrival should complete")
	}

	// Прибытия на завершённое поколение поглощаются как no-op.
	late := coord.Arrive(gw, "join_t1")
	if !late.Stale {
		t.Errorf("late arrival should be stale: %+v", late)
	}
	if late.Completed {
		t.Error("late arrival must not complete the gateway twice")
	}
}

func TestMerge_ParallelOrderIndependent(t *testing.T) {
	// Для любой перестановки прибытий шлюз завершается ровно один раз,
	// после последнего прибытия.
	perms := [][]string{
		{"join_t1", "join_t2", "join_t3"},
		{"join_t3", "join_t1", "join_t2"},
		{"join_t2", "join_t3", "join_t1"},
	}

	for _, perm := range perms {
		g := fanInGraph(t, 3, domain.GatewayParallel, domain.GatewayParallel)
		coord, _ := newCoordinator(g, newFakeView())
		gw := joinInstance(g)

		completions := 0
		for _, trID := range perm {
			if coord.Arrive(gw, trID).Completed {
				completions++
			}
		}
		if completions != 1 {
			t.Errorf("permutation %v: expected exactly 1 completion, got %d", perm, completions)
		}
	}
}

func TestMerge_Parallel50ConcurrentBranches(t *testing.T) {
	// 50 автоматических веток из одного PARALLEL-разветвления сходятся
	// в один PARALLEL-join: шлюз срабатывает ровно один раз, после всех
	// 50, независимо от порядка завершения.
	const n = 50

	g := fanInGraph(t, n, domain.GatewayParallel, domain.GatewayParallel)
	coord, _ := newCoordinator(g, newFakeView())
	gw := joinInstance(g)

	order := rand.Perm(n)

	var wg sync.WaitGroup
	var completions int64
	var compMu sync.Mutex

	for _, idx := range order {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			arrival := coord.Arrive(gw, fmt.Sprintf("join_t%d", i+1))
			if arrival.Completed {
				compMu.Lock()
				completions++
				compMu.Unlock()

				if arrival.Hits != n {
					t.Errorf("completion must observe all %d hits, got %d", n, arrival.Hits)
				}
			}
		}(idx)
	}
	wg.Wait()

	if completions != 1 {
		t.Errorf("expected exactly 1 completion among %d concurrent arrivals, got %d", n, completions)
	}
}

func TestMerge_ParallelDeadBranchBlocksForever(t *testing.T) {
	// PARALLEL-join с навсегда мёртвой входящей веткой не завершается:
	// процесс остаётся заблокированным на шлюзе. Это ожидаемое
	// поведение движка, не подлежит автокоррекции.
	g := fanInGraph(t, 2, domain.GatewayParallel, domain.GatewayParallel)
	view := newFakeView()
	coord, tracker := newCoordinator(g, view)
	gw := joinInstance(g)

	deadFrontier := view.add("a2", domain.NodeStateExecuting)

	first := coord.Arrive(gw, "join_t1")
	if first.Completed {
		t.Fatal("must not complete with one of two arrivals")
	}

	// Ветка a2 умирает. PARALLEL-шлюзы не подписаны на смерть веток.
	tracker.MarkDead(deadFrontier.ID)

	reeval := coord.Reevaluate(gw)
	if reeval.Completed {
		t.Error("parallel join must never complete after branch death")
	}
	if !reeval.Stale {
		t.Error("reevaluate on a parallel gateway is a no-op")
	}
}

func TestMerge_InclusiveWaitsForLiveBranches(t *testing.T) {
	g := fanInGraph(t, 2, domain.GatewayInclusive, domain.GatewayInclusive)
	view := newFakeView()
	coord, _ := newCoordinator(g, view)
	gw := joinInstance(g)

	aInst := view.add("a1", domain.NodeStateCompleted)
	bInst := view.add("a2", domain.NodeStateExecuting)
	_ = aInst

	// Первая ветка пришла, вторая ещё выполняется: ждём.
	first := coord.Arrive(gw, "join_t1")
	if first.Completed {
		t.Fatalf("must wait for live branch a2: %+v", first)
	}
	if first.Expected != 2 {
		t.Errorf("expected 2 live branches, got %d", first.Expected)
	}

	// Вторая ветка завершилась и пришла: слияние собрано.
	view.setState(bInst, domain.NodeStateCompleted)
	second := coord.Arrive(gw, "join_t2")
	if !second.Completed {
		t.Errorf("second arrival should complete: %+v", second)
	}
}

func TestMerge_InclusiveBranchDeathReducesExpected(t *testing.T) {
	// Смерть ветки уменьшает ожидание inclusive-шлюза ровно на число
	// умерших веток; шлюз завершается, когда пришли оставшиеся живые —
	// даже если уведомление о смерти пришло после прибытий соседей.
	g := fanInGraph(t, 2, domain.GatewayInclusive, domain.GatewayInclusive)
	view := newFakeView()
	coord, tracker := newCoordinator(g, view)
	gw := joinInstance(g)

	view.add("a1", domain.NodeStateCompleted)
	bInst := view.add("a2", domain.NodeStateExecuting)

	first := coord.Arrive(gw, "join_t1")
	if first.Completed {
		t.Fatal("must wait while a2 is live")
	}

	// Ветка a2 умирает после прибытия соседа.
	if !tracker.MarkDead(bInst.ID) {
		t.Fatal("first MarkDead must return true")
	}

	reeval := coord.Reevaluate(gw)
	if !reeval.Completed {
		t.Fatalf("gateway should complete after branch death: %+v", reeval)
	}
	if reeval.Hits != 1 || reeval.Expected != 1 {
		t.Errorf("expected hits=1 expected=1, got %+v", reeval)
	}
}

func TestMerge_InclusiveDeathIdempotent(t *testing.T) {
	g := fanInGraph(t, 2, domain.GatewayInclusive, domain.GatewayInclusive)
	view := newFakeView()
	coord, tracker := newCoordinator(g, view)
	gw := joinInstance(g)

	view.add("a1", domain.NodeStateCompleted)
	bInst := view.add("a2", domain.NodeStateExecuting)

	coord.Arrive(gw, "join_t1")

	// Повторная доставка сигнала о смерти не даёт двойного декремента
	// и не завершает шлюз дважды.
	if !tracker.MarkDead(bInst.ID) {
		t.Fatal("first MarkDead must return true")
	}
	if tracker.MarkDead(bInst.ID) {
		t.Error("second MarkDead must be a no-op")
	}

	first := coord.Reevaluate(gw)
	if !first.Completed {
		t.Fatal("first reevaluate should complete")
	}

	second := coord.Reevaluate(gw)
	if second.Completed {
		t.Error("second reevaluate must not complete again")
	}
	if !second.Stale {
		t.Error("reevaluate of completed generation is stale")
	}
}

func TestMerge_InclusiveNoCompletionWithoutArrivals(t *testing.T) {
	g := fanInGraph(t, 2, domain.GatewayInclusive, domain.GatewayInclusive)
	view := newFakeView()
	coord, tracker := newCoordinator(g, view)
	gw := joinInstance(g)

	a := view.add("a1", domain.NodeStateExecuting)
	b := view.add("a2", domain.NodeStateExecuting)

	tracker.MarkDead(a.ID)
	tracker.MarkDead(b.ID)

	// Без единого прибытия завершать нечего: токен не выдаётся.
	reeval := coord.Reevaluate(gw)
	if reeval.Completed {
		t.Error("gateway with zero hits must not complete")
	}
}

func TestMerge_CycleGenerationsDoNotInterfere(t *testing.T) {
	// Повторный вход в тот же шлюз по циклу — новое поколение токена.
	// Подсчёт поколения K не взаимодействует с поколением K+1.
	g := fanInGraph(t, 2, domain.GatewayParallel, domain.GatewayParallel)
	coord, _ := newCoordinator(g, newFakeView())
	gw := joinInstance(g)

	// Поколение 0: полный сбор.
	coord.Arrive(gw, "join_t1")
	if !coord.Arrive(gw, "join_t2").Completed {
		t.Fatal("generation 0 should complete")
	}

	// Следующее поколение: счётчик начинается заново.
	gw.State = domain.NodeStateCompleted
	if err := gw.BeginCycle(); err != nil {
		t.Fatalf("begin cycle: %v", err)
	}

	next := coord.Arrive(gw, "join_t1")
	if next.Stale {
		t.Fatal("new generation must not observe the completed previous one")
	}
	if next.Completed {
		t.Fatal("one arrival of two must not complete the new generation")
	}
	if next.Hits != 1 {
		t.Errorf("new generation should start counting from 1, got %d", next.Hits)
	}

	if !coord.Arrive(gw, "join_t2").Completed {
		t.Error("generation 1 should complete after both arrivals")
	}
}

func TestMerge_SelfLoopFourIterationsThenJoin(t *testing.T) {
	// Узел с переходом в самого себя проходится 4 раза, затем выходит
	// к join. Каждый повторный вход — свежее поколение exclusive-шлюза,
	// прибытия не накапливаются между итерациями.
	def := defWith(
		startNode("start", tr("t_start", "loop")),
		gateway("loop", domain.GatewayExclusive,
			condTr("t_again", "loop", "i < 4"),
			defaultTr("t_exit", "join"),
		),
		gateway("join", domain.GatewayParallel, tr("t_end", "end")),
		endNode("end"),
	)

	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	coord, _ := newCoordinator(g, newFakeView())

	loop := domain.NewGatewayInstance(uuid.New(), g.Node("loop"), 0)

	// 4 итерации цикла: каждое прибытие проходит насквозь,
	// поколение инкрементируется между итерациями.
	for i := 0; i < 4; i++ {
		arrival := coord.Arrive(loop, "t_again")
		if !arrival.Completed {
			t.Fatalf("iteration %d: exclusive re-entry should pass through", i)
		}
		loop.Cycle++
	}

	if loop.Cycle != 4 {
		t.Errorf("expected 4 generations, got %d", loop.Cycle)
	}
}

func TestMerge_ForgetFailsClosed(t *testing.T) {
	// Удаление процесса: слияние по удалённому экземпляру не срабатывает.
	g := fanInGraph(t, 2, domain.GatewayParallel, domain.GatewayParallel)
	coord, _ := newCoordinator(g, newFakeView())
	gw := joinInstance(g)

	coord.Arrive(gw, "join_t1")
	coord.Forget(gw.ID)

	late := coord.Arrive(gw, "join_t2")
	if late.Completed {
		t.Error("no completion may fire after deletion")
	}
}
