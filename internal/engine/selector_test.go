package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Gateflow/internal/domain"
	"github.com/shaiso/Gateflow/internal/expr"
)

func selectorEvaluator() expr.Evaluator {
	return expr.NewHCLEvaluator()
}

func transitionIDs(trs []*domain.TransitionDefinition) []string {
	ids := make([]string, len(trs))
	for i, tr := range trs {
		ids[i] = tr.ID
	}
	return ids
}

func TestSelectTransitions_ExclusiveFirstTrueWins(t *testing.T) {
	node := gateway("decide", domain.GatewayExclusive,
		condTr("t1", "a", "amount > 100"),
		condTr("t2", "b", "amount > 10"),
		defaultTr("t3", "c"),
	)

	// Оба условия истинны — берётся первый в авторском порядке.
	selected, err := SelectTransitions(&node, selectorEvaluator(), map[string]any{"amount": 500})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 1 || selected[0].ID != "t1" {
		t.Errorf("expected [t1], got %v", transitionIDs(selected))
	}
}

func TestSelectTransitions_ExclusiveDefaultFallback(t *testing.T) {
	// Сценарий: условия [false, false], default → "step4".
	// Должна появиться ровно одна задача — step4.
	node := gateway("decide", domain.GatewayExclusive,
		condTr("t1", "step2", "false"),
		condTr("t2", "step3", "false"),
		defaultTr("t3", "step4"),
	)

	selected, err := SelectTransitions(&node, selectorEvaluator(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 1 {
		t.Fatalf("expected exactly one transition, got %d", len(selected))
	}
	if selected[0].Target != "step4" {
		t.Errorf("expected target step4, got %s", selected[0].Target)
	}
}

func TestSelectTransitions_ExclusiveNoRouteWithoutDefault(t *testing.T) {
	node := gateway("decide", domain.GatewayExclusive,
		condTr("t1", "a", "false"),
		condTr("t2", "b", "false"),
	)

	_, err := SelectTransitions(&node, selectorEvaluator(), nil)
	if !errors.Is(err, ErrNoRoute) {
		t.Errorf("expected ErrNoRoute, got %v", err)
	}
}

func TestSelectTransitions_ExclusiveUnconditionalShortCircuits(t *testing.T) {
	// Безусловный переход всегда истинен и останавливает выбор.
	node := gateway("decide", domain.GatewayExclusive,
		condTr("t1", "a", "false"),
		tr("t2", "b"),
		condTr("t3", "c", "true"),
	)

	selected, err := SelectTransitions(&node, selectorEvaluator(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 1 || selected[0].ID != "t2" {
		t.Errorf("expected [t2], got %v", transitionIDs(selected))
	}
}

func TestSelectTransitions_InclusiveAllTrue(t *testing.T) {
	// Сценарий: условия [true, true], default присутствует →
	// две задачи, цель default НЕ активируется.
	node := gateway("split", domain.GatewayInclusive,
		condTr("t1", "a", "true"),
		condTr("t2", "b", "true"),
		defaultTr("t3", "c"),
	)

	selected, err := SelectTransitions(&node, selectorEvaluator(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected 2 transitions, got %v", transitionIDs(selected))
	}
	if selected[0].ID != "t1" || selected[1].ID != "t2" {
		t.Errorf("expected [t1 t2] in authored order, got %v", transitionIDs(selected))
	}
	for _, tr := range selected {
		if tr.Target == "c" {
			t.Error("default target must not be activated when conditions matched")
		}
	}
}

func TestSelectTransitions_InclusiveMixed(t *testing.T) {
	// Истинные условия ∪ безусловные не-default переходы.
	node := gateway("split", domain.GatewayInclusive,
		condTr("t1", "a", "amount > 100"),
		tr("t2", "b"),
		condTr("t3", "c", "amount > 1000"),
		defaultTr("t4", "d"),
	)

	selected, err := SelectTransitions(&node, selectorEvaluator(), map[string]any{"amount": 200})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 2 {
		t.Fatalf("expected 2 transitions, got %v", transitionIDs(selected))
	}
	if selected[0].ID != "t1" || selected[1].ID != "t2" {
		t.Errorf("expected [t1 t2], got %v", transitionIDs(selected))
	}
}

func TestSelectTransitions_InclusiveDefaultWhenEmpty(t *testing.T) {
	node := gateway("split", domain.GatewayInclusive,
		condTr("t1", "a", "false"),
		condTr("t2", "b", "false"),
		defaultTr("t3", "c"),
	)

	selected, err := SelectTransitions(&node, selectorEvaluator(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 1 || selected[0].ID != "t3" {
		t.Errorf("expected [t3], got %v", transitionIDs(selected))
	}
}

func TestSelectTransitions_InclusiveNoRoute(t *testing.T) {
	node := gateway("split", domain.GatewayInclusive,
		condTr("t1", "a", "false"),
		condTr("t2", "b", "false"),
	)

	_, err := SelectTransitions(&node, selectorEvaluator(), nil)
	if !errors.Is(err, ErrNoRoute) {
		t.Errorf("expected ErrNoRoute, got %v", err)
	}
}

func TestSelectTransitions_ActivitySplitBehavesLikeInclusive(t *testing.T) {
	node := activity("work",
		condTr("t1", "a", "done"),
		tr("t2", "b"),
	)

	selected, err := SelectTransitions(&node, selectorEvaluator(), map[string]any{"done": true})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 2 {
		t.Errorf("expected 2 transitions, got %v", transitionIDs(selected))
	}
}

func TestSelectTransitions_ParallelTakesAll(t *testing.T) {
	node := gateway("fork", domain.GatewayParallel,
		tr("t1", "a"),
		tr("t2", "b"),
		tr("t3", "c"),
	)

	// Условия не вычисляются: все переходы, каждый раз.
	selected, err := SelectTransitions(&node, selectorEvaluator(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 3 {
		t.Errorf("expected 3 transitions, got %v", transitionIDs(selected))
	}
}

func TestSelectTransitions_EvaluationErrorPropagates(t *testing.T) {
	// Отсутствующая переменная — EvaluationError, не молчаливый false.
	node := gateway("decide", domain.GatewayExclusive,
		condTr("t1", "a", "missing_var > 1"),
		defaultTr("t2", "b"),
	)

	_, err := SelectTransitions(&node, selectorEvaluator(), nil)
	if err == nil {
		t.Fatal("expected error")
	}

	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		t.Fatalf("expected EvaluationError, got %T: %v", err, err)
	}
	if evalErr.TransitionID != "t1" {
		t.Errorf("expected error on t1, got %s", evalErr.TransitionID)
	}
}

func TestSelectTransitions_EndEventHasNoOutgoing(t *testing.T) {
	node := endNode("end")

	selected, err := SelectTransitions(&node, selectorEvaluator(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(selected) != 0 {
		t.Errorf("expected empty selection, got %v", transitionIDs(selected))
	}
}

func TestSelectTransitions_RetryWithUpdatedData(t *testing.T) {
	// FAILED → обновление данных → retry: тот же шаг вычисляется заново
	// и теперь находит маршрут.
	node := gateway("decide", domain.GatewayExclusive,
		condTr("t1", "approve", "approved"),
	)

	_, err := SelectTransitions(&node, selectorEvaluator(), map[string]any{"approved": false})
	if !errors.Is(err, ErrNoRoute) {
		t.Fatalf("expected ErrNoRoute on first pass, got %v", err)
	}

	selected, err := SelectTransitions(&node, selectorEvaluator(), map[string]any{"approved": true})
	if err != nil {
		t.Fatalf("unexpected error after data update: %v", err)
	}
	if len(selected) != 1 || selected[0].ID != "t1" {
		t.Errorf("expected [t1], got %v", transitionIDs(selected))
	}
}
