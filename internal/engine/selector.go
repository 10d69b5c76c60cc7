package engine

import (
	"fmt"

	"github.com/shaiso/Gateflow/internal/domain"
	"github.com/shaiso/Gateflow/internal/expr"
)

// SelectTransitions выбирает исходящие переходы узла для активации.
//
// Алгоритм единый для обычных активностей и EXCLUSIVE/INCLUSIVE шлюзов;
// PARALLEL-шлюз пропускает вычисление условий и берёт все переходы.
//
// Порядок вычисления и выбора — авторский порядок переходов; это
// единственная гарантия порядка, и именно она определяет, какая задача
// станет "первой" при активации нескольких активностей за один шаг.
//
// Возвращает:
//   - выбранные переходы в авторском порядке
//   - EvaluationError, если условие не вычислилось
//   - ErrNoRoute, если переходы есть, но ни один не подошёл и default
//     отсутствует (узел должен перейти в FAILED)
//
// Узел без исходящих переходов (end-событие) даёт пустой выбор без ошибки.
func SelectTransitions(node *domain.FlowNodeDefinition, ev expr.Evaluator, variables map[string]any) ([]*domain.TransitionDefinition, error) {
	if len(node.Outgoing) == 0 {
		return nil, nil
	}

	// PARALLEL: все переходы безусловно, каждый раз.
	// Условные и default переходы отклонены при деплое.
	if node.Kind == domain.KindGateway && node.GatewayType == domain.GatewayParallel {
		selected := make([]*domain.TransitionDefinition, 0, len(node.Outgoing))
		for i := range node.Outgoing {
			selected = append(selected, &node.Outgoing[i])
		}
		return selected, nil
	}

	exclusive := node.Kind == domain.KindGateway && node.GatewayType == domain.GatewayExclusive

	var selected []*domain.TransitionDefinition
	var deflt *domain.TransitionDefinition

	for i := range node.Outgoing {
		tr := &node.Outgoing[i]

		if tr.IsDefault {
			deflt = tr
			continue
		}

		// Переход без условия считается всегда истинным.
		take := true
		if tr.HasCondition() {
			ok, err := ev.EvaluateBool(tr.Condition, variables)
			if err != nil {
				return nil, &EvaluationError{TransitionID: tr.ID, Err: err}
			}
			take = ok
		}

		if !take {
			continue
		}

		selected = append(selected, tr)

		// EXCLUSIVE: первый истинный в авторском порядке, остальные
		// игнорируются, включая default.
		if exclusive {
			return selected, nil
		}
	}

	if len(selected) > 0 {
		return selected, nil
	}

	// Ничего не подошло — берём default, если он есть.
	if deflt != nil {
		return []*domain.TransitionDefinition{deflt}, nil
	}

	return nil, fmt.Errorf("%w: node %s", ErrNoRoute, node.ID)
}
