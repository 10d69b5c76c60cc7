package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/Gateflow/internal/domain"
	"github.com/shaiso/Gateflow/internal/engine"
	"github.com/shaiso/Gateflow/internal/mq"
	"github.com/shaiso/Gateflow/internal/repo"
	"github.com/shaiso/Gateflow/internal/telemetry"
)

// handleInstancePending обрабатывает событие о новом pending инстансе.
func (e *Engine) handleInstancePending(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.InstancePendingPayload](&delivery.Message)
	if err != nil {
		e.logger.Error("failed to parse instance.pending payload", "error", err)
		return err
	}

	e.logger.Debug("received instance.pending event", "instance_id", payload.InstanceID)

	if e.isActive(payload.InstanceID) {
		e.logger.Debug("instance already active, skipping", "instance_id", payload.InstanceID)
		return nil
	}

	if err := e.processInstance(ctx, payload.InstanceID); err != nil {
		if errors.Is(err, ErrInstanceNotRunning) || errors.Is(err, ErrInstanceAlreadyActive) {
			e.logger.Debug("instance not processed", "instance_id", payload.InstanceID, "reason", err)
			return nil
		}
		e.logger.Error("failed to process instance", "instance_id", payload.InstanceID, "error", err)
		return err
	}

	return nil
}

// handleNodeCompleted обрабатывает событие о завершённом узле.
func (e *Engine) handleNodeCompleted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.NodeCompletedPayload](&delivery.Message)
	if err != nil {
		e.logger.Error("failed to parse node.completed payload", "error", err)
		return err
	}

	e.logger.Debug("received node.completed event",
		"node_id", payload.NodeID,
		"instance_id", payload.InstanceID,
		"definition_id", payload.DefinitionID,
		"status", payload.Status,
	)

	if err := e.processNodeCompleted(ctx, payload); err != nil {
		e.logger.Error("failed to process node completion",
			"node_id", payload.NodeID,
			"instance_id", payload.InstanceID,
			"error", err,
		)
		return err
	}

	return nil
}

// handleNodeRetry обрабатывает операторский запрос на retry упавшего узла.
func (e *Engine) handleNodeRetry(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.NodeRetryPayload](&delivery.Message)
	if err != nil {
		e.logger.Error("failed to parse node.retry payload", "error", err)
		return err
	}

	e.logger.Debug("received node.retry event",
		"node_id", payload.NodeID,
		"instance_id", payload.InstanceID,
	)

	if err := e.Retry(ctx, payload.InstanceID, payload.NodeID, payload.Variables); err != nil {
		// Узел уже не FAILED или инстанс исчез — запрос устарел, ack
		if errors.Is(err, ErrNodeNotFailed) ||
			errors.Is(err, ErrNodeNotFound) ||
			errors.Is(err, ErrInstanceNotFound) ||
			errors.Is(err, ErrInstanceCancelled) {
			e.logger.Debug("retry request not applicable",
				"node_id", payload.NodeID,
				"reason", err,
			)
			return nil
		}
		e.logger.Error("failed to retry node",
			"node_id", payload.NodeID,
			"instance_id", payload.InstanceID,
			"error", err,
		)
		return err
	}

	return nil
}

// handleInstanceCancelled обрабатывает уведомление об отмене инстанса.
func (e *Engine) handleInstanceCancelled(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.InstanceCancelledPayload](&delivery.Message)
	if err != nil {
		e.logger.Error("failed to parse instance.cancelled payload", "error", err)
		return err
	}

	e.logger.Debug("received instance.cancelled event", "instance_id", payload.InstanceID)

	if err := e.DeleteInstance(ctx, payload.InstanceID); err != nil {
		// Записи уже удалены инициатором отмены — in-memory состояние
		// сброшено, считаем обработанным
		if errors.Is(err, ErrInstanceNotFound) {
			return nil
		}
		e.logger.Error("failed to cancel instance",
			"instance_id", payload.InstanceID,
			"error", err,
		)
		return err
	}

	return nil
}

// handleBranchDied обрабатывает уведомление о смерти ветви.
func (e *Engine) handleBranchDied(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.BranchDiedPayload](&delivery.Message)
	if err != nil {
		e.logger.Error("failed to parse branch.died payload", "error", err)
		return err
	}

	e.logger.Debug("received branch.died event",
		"node_id", payload.NodeID,
		"instance_id", payload.InstanceID,
		"reason", payload.Reason,
	)

	if err := e.processBranchDied(ctx, payload); err != nil {
		e.logger.Error("failed to process branch death",
			"node_id", payload.NodeID,
			"instance_id", payload.InstanceID,
			"error", err,
		)
		return err
	}

	return nil
}

// processInstance начинает обработку инстанса.
func (e *Engine) processInstance(ctx context.Context, instanceID uuid.UUID) error {
	// 1. Загружаем инстанс из БД
	instance, err := e.processRepo.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return fmt.Errorf("get instance: %w", err)
	}

	// 2. Проверяем статус
	if instance.Status != domain.InstanceStatusRunning {
		return ErrInstanceNotRunning
	}

	// 3. Загружаем определение процесса
	definition, err := e.definitionRepo.GetByID(ctx, instance.DefinitionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return e.failInstance(ctx, instance,
				fmt.Sprintf("definition not found: %s", instance.DefinitionID))
		}
		return fmt.Errorf("get definition: %w", err)
	}

	// 4. Создаём и инициализируем state (валидация, граф, merge-инфраструктура)
	state := NewInstanceState(instance, definition)
	if err := state.Initialize(); err != nil {
		return e.failInstance(ctx, instance, fmt.Sprintf("initialization failed: %v", err))
	}

	// 5. Добавляем в активные
	if err := e.addActive(state); err != nil {
		return err
	}

	// 6. Восстанавливаем экземпляры узлов из БД (после рестарта engine)
	persisted, err := e.nodeRepo.ListByProcessInstance(ctx, instanceID)
	if err != nil {
		e.removeActive(instanceID)
		return fmt.Errorf("list node instances: %w", err)
	}

	logger := telemetry.WithInstanceID(e.logger, instanceID.String())

	if len(persisted) > 0 {
		state.RestoreNodes(persisted)
		logger.Info("instance state restored", "nodes", len(persisted))
		return nil
	}

	logger.Info("instance started",
		"definition", definition.Name,
		"version", definition.Version,
		"nodes", state.Graph.Size(),
	)

	// 7. Запускаем start-события
	for _, start := range definition.StartNodes() {
		if err := e.completeImmediately(ctx, state, start); err != nil {
			logger.Error("failed to fire start node",
				"definition_id", start.ID,
				"error", err,
			)
		}
	}

	return nil
}

// processNodeCompleted обрабатывает завершение узла.
func (e *Engine) processNodeCompleted(ctx context.Context, payload mq.NodeCompletedPayload) error {
	state, err := e.activeOrRestore(ctx, payload.InstanceID)
	if err != nil {
		return err
	}
	if state == nil {
		// Инстанс уже завершён или не существует
		e.logger.Debug("instance not active and cannot restore", "instance_id", payload.InstanceID)
		return nil
	}

	if state.IsCancelled() {
		return nil
	}

	node := state.NodeByID(payload.NodeID)
	if node == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, payload.NodeID)
	}

	// Повторная доставка события для уже обработанного узла: переходы
	// выстрелили при первой доставке, второй раз токены не двигаются
	// и merge-счётчики не инкрементируются
	if node.State == domain.NodeStateCompleted || node.State == domain.NodeStateArchived {
		e.logger.Debug("node completion already processed",
			"node_id", payload.NodeID,
			"state", node.State,
		)
		return nil
	}

	if payload.Status == string(domain.NodeStateFailed) {
		// Узел упал — ждёт retry, ветка остаётся живой
		if node.State != domain.NodeStateFailed {
			if node.State == domain.NodeStateReady {
				if err := node.MarkExecuting(); err != nil {
					return err
				}
			}
			if err := node.MarkFailed(payload.Error); err != nil {
				return err
			}
		}
		if err := e.nodeRepo.SaveState(ctx, node); err != nil {
			return fmt.Errorf("save failed node: %w", err)
		}
		e.logger.Warn("node failed",
			"instance_id", payload.InstanceID,
			"definition_id", node.DefinitionID,
			"attempt", node.Attempt,
			"error", payload.Error,
		)
		return e.finalizeIfQuiescent(ctx, state)
	}

	// Retry мог пройти мимо памяти (запись напрямую в БД):
	// FAILED-узел догоняет фактическое состояние перед завершением
	if node.State == domain.NodeStateFailed {
		if err := node.MarkRetrying(); err != nil {
			return err
		}
		if payload.Attempt > node.Attempt {
			node.Attempt = payload.Attempt
		}
	}
	if node.State == domain.NodeStateReady {
		if err := node.MarkExecuting(); err != nil {
			return err
		}
	}

	// Выходные переменные узла (в БД их уже записал worker) —
	// условия исходящих переходов вычисляются по обновлённым данным
	if len(payload.Outputs) > 0 {
		state.SetVariables(payload.Outputs)
	}

	def := state.Graph.Node(node.DefinitionID)
	if def == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, node.DefinitionID)
	}

	if err := e.completeAndFire(ctx, state, def, node, func(ctx context.Context) error {
		return e.nodeRepo.SaveState(ctx, node)
	}); err != nil {
		return err
	}

	return e.finalizeIfQuiescent(ctx, state)
}

// processBranchDied обрабатывает смерть ветви.
//
// Смерть идемпотентна: повторная доставка уведомления — no-op.
// После регистрации смерти перепроверяются все ждущие inclusive-шлюзы
// ниже по течению: их ожидание могло уменьшиться.
func (e *Engine) processBranchDied(ctx context.Context, payload mq.BranchDiedPayload) error {
	state, err := e.activeOrRestore(ctx, payload.InstanceID)
	if err != nil {
		return err
	}
	if state == nil {
		return nil
	}

	if !state.Tracker.MarkDead(payload.NodeID) {
		e.logger.Debug("branch death already registered", "node_id", payload.NodeID)
		return nil
	}

	telemetry.BranchDeaths.Inc()

	node := state.NodeByID(payload.NodeID)
	if node != nil && node.State.IsLive() {
		// Фронтир мёртвой ветки архивируем: токена у него больше нет
		if err := node.MarkArchived(); err == nil {
			if err := e.nodeRepo.SaveState(ctx, node); err != nil {
				e.logger.Warn("failed to archive dead branch frontier", "error", err)
			}
		}
	}

	e.logger.Info("branch died",
		"instance_id", payload.InstanceID,
		"definition_id", payload.DefinitionID,
		"reason", payload.Reason,
	)

	if err := e.reevaluateAffected(ctx, state, payload.DefinitionID); err != nil {
		return err
	}

	return e.finalizeIfQuiescent(ctx, state)
}

// completeAndFire выбирает исходящие переходы узла в состоянии EXECUTING
// и фиксирует исход: COMPLETED с продвижением токенов по выбранным
// переходам, либо FAILED, если маршрута нет или условие не вычислилось.
//
// Выбор происходит ДО фиксации завершения: упавший роутинг оставляет
// узел в FAILED, инстанс падает и узел можно retry'ить с исправленными
// данными. persist сохраняет узел в его итоговом состоянии.
func (e *Engine) completeAndFire(ctx context.Context, state *InstanceState, def *domain.FlowNodeDefinition, node *domain.FlowNodeInstance, persist func(context.Context) error) error {
	if state.IsCancelled() {
		return nil
	}

	selected, err := engine.SelectTransitions(def, e.evaluator, state.Variables())
	if err != nil {
		var evalErr *engine.EvaluationError
		switch {
		case errors.Is(err, engine.ErrNoRoute):
			e.logger.Warn("no route from node",
				"instance_id", state.InstanceID(),
				"definition_id", def.ID,
			)
		case errors.As(err, &evalErr):
			e.logger.Warn("condition evaluation failed",
				"instance_id", state.InstanceID(),
				"definition_id", def.ID,
				"transition_id", evalErr.TransitionID,
				"error", evalErr,
			)
		default:
			return err
		}

		if err := node.MarkFailed(err.Error()); err != nil {
			return err
		}
		if perr := persist(ctx); perr != nil {
			return fmt.Errorf("save failed node: %w", perr)
		}
		return e.finalizeIfQuiescent(ctx, state)
	}

	if err := node.MarkCompleted(); err != nil {
		return err
	}
	if err := persist(ctx); err != nil {
		return fmt.Errorf("save completed node: %w", err)
	}

	if def.IsGateway() {
		telemetry.GatewaysCompleted.WithLabelValues(string(def.GatewayType)).Inc()
		e.logger.Info("gateway completed",
			"instance_id", state.InstanceID(),
			"gateway", def.ID,
			"type", def.GatewayType,
			"cycle", node.Cycle,
		)
	}

	telemetry.TransitionsFired.Add(float64(len(selected)))

	for _, tr := range selected {
		if err := e.advanceToken(ctx, state, tr); err != nil {
			e.logger.Error("failed to advance token",
				"instance_id", state.InstanceID(),
				"transition_id", tr.ID,
				"target", tr.Target,
				"error", err,
			)
			// Продолжаем с остальными переходами
		}
	}

	return nil
}

// advanceToken двигает токен по переходу к целевому узлу.
func (e *Engine) advanceToken(ctx context.Context, state *InstanceState, tr *domain.TransitionDefinition) error {
	if state.IsCancelled() {
		return nil
	}

	target := state.Graph.Node(tr.Target)
	if target == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, tr.Target)
	}

	switch {
	case target.IsGateway():
		return e.arriveAtGateway(ctx, state, target, tr.ID)

	case target.Kind == domain.KindEvent:
		return e.fireEvent(ctx, state, target)

	default:
		return e.dispatchActivity(ctx, state, target)
	}
}

// arriveAtGateway регистрирует прибытие перехода в шлюз.
//
// Решение о завершении принимает MergeCoordinator; ровно одно
// прибытие поколения наблюдает Completed и продвигает токен дальше.
// Позднее прибытие в завершённое поколение поглощается как stale.
func (e *Engine) arriveAtGateway(ctx context.Context, state *InstanceState, def *domain.FlowNodeDefinition, transitionID string) error {
	gw, err := state.EnsureGateway(def)
	if err != nil {
		return fmt.Errorf("ensure gateway %s: %w", def.ID, err)
	}

	arrival := state.Merge.Arrive(gw, transitionID)

	if arrival.Stale {
		telemetry.StaleArrivals.Inc()
		e.logger.Debug("stale gateway arrival absorbed",
			"instance_id", state.InstanceID(),
			"gateway", def.ID,
			"cycle", gw.Cycle,
			"transition_id", transitionID,
		)
		return nil
	}

	gw.HitCount = arrival.Hits
	gw.Expected = arrival.Expected

	if !arrival.Completed {
		e.logger.Debug("gateway waiting for more arrivals",
			"instance_id", state.InstanceID(),
			"gateway", def.ID,
			"hits", arrival.Hits,
			"expected", arrival.Expected,
		)
		return e.saveGateway(ctx, state, gw)
	}

	return e.completeGateway(ctx, state, def, gw)
}

// completeGateway выбирает исходящие переходы сработавшего шлюза и
// двигает токены. Шлюз без подходящего маршрута остаётся в FAILED:
// принятое решение о слиянии при этом не пересматривается, retry
// повторяет только выбор исходящих.
func (e *Engine) completeGateway(ctx context.Context, state *InstanceState, def *domain.FlowNodeDefinition, gw *domain.GatewayInstance) error {
	if gw.State != domain.NodeStateExecuting {
		if err := gw.MarkExecuting(); err != nil {
			return err
		}
	}

	return e.completeAndFire(ctx, state, def, &gw.FlowNodeInstance, func(ctx context.Context) error {
		return e.saveGateway(ctx, state, gw)
	})
}

// saveGateway персистит состояние шлюза, создавая запись при первом сохранении.
func (e *Engine) saveGateway(ctx context.Context, state *InstanceState, gw *domain.GatewayInstance) error {
	err := e.nodeRepo.SaveGatewayState(ctx, gw)
	if errors.Is(err, repo.ErrNotFound) {
		return e.nodeRepo.CreateGateway(ctx, gw)
	}
	return err
}

// fireEvent обрабатывает прибытие токена в событие.
func (e *Engine) fireEvent(ctx context.Context, state *InstanceState, def *domain.FlowNodeDefinition) error {
	node := state.CreateNode(def)
	if err := node.MarkReady(); err != nil {
		return err
	}
	if err := node.MarkExecuting(); err != nil {
		return err
	}
	if err := node.MarkCompleted(); err != nil {
		return err
	}
	if err := e.nodeRepo.Create(ctx, node); err != nil {
		return fmt.Errorf("create event instance: %w", err)
	}

	if def.IsTerminateEvent() {
		return e.terminateInstance(ctx, state)
	}

	e.logger.Debug("branch reached end event",
		"instance_id", state.InstanceID(),
		"definition_id", def.ID,
	)

	// Токен поглощён: ветка закончилась. Все ждущие inclusive-шлюзы
	// инстанса перепроверяются — сиблинг, ушедший по другому маршруту
	// мимо слияния, мог быть последней живой веткой, которую шлюз ждал.
	if err := e.reevaluateWaiting(ctx, state); err != nil {
		return err
	}

	return e.finalizeIfQuiescent(ctx, state)
}

// dispatchActivity создаёт экземпляр активности и отдаёт его worker'у.
func (e *Engine) dispatchActivity(ctx context.Context, state *InstanceState, def *domain.FlowNodeDefinition) error {
	node := state.CreateNode(def)
	if err := node.MarkReady(); err != nil {
		return err
	}

	if err := e.nodeRepo.Create(ctx, node); err != nil {
		return fmt.Errorf("create node instance: %w", err)
	}

	if e.publisher != nil {
		if err := e.publisher.PublishNodeReady(ctx, node.ID, state.InstanceID()); err != nil {
			e.logger.Warn("failed to publish node.ready",
				"node_id", node.ID,
				"instance_id", state.InstanceID(),
				"error", err,
			)
			// Экземпляр создан в БД — worker может забрать через polling
		}
	}

	e.logger.Debug("activity dispatched",
		"node_id", node.ID,
		"instance_id", state.InstanceID(),
		"definition_id", def.ID,
		"cycle", node.Cycle,
	)

	return nil
}

// completeImmediately завершает узел без участия worker'а (start-события).
func (e *Engine) completeImmediately(ctx context.Context, state *InstanceState, def *domain.FlowNodeDefinition) error {
	node := state.CreateNode(def)
	if err := node.MarkReady(); err != nil {
		return err
	}
	if err := node.MarkExecuting(); err != nil {
		return err
	}
	if err := e.nodeRepo.Create(ctx, node); err != nil {
		return fmt.Errorf("create start instance: %w", err)
	}

	return e.completeAndFire(ctx, state, def, node, func(ctx context.Context) error {
		return e.nodeRepo.SaveState(ctx, node)
	})
}

// reevaluateAffected перепроверяет ждущие inclusive-шлюзы,
// у которых defID лежит выше по течению.
func (e *Engine) reevaluateAffected(ctx context.Context, state *InstanceState, defID string) error {
	for _, gwDefID := range state.Tracker.AffectedInclusiveGateways(defID) {
		gw := state.Gateway(gwDefID)
		if gw == nil {
			continue
		}
		def := state.Graph.Node(gwDefID)
		if err := e.reevaluateGateway(ctx, state, def, gw); err != nil {
			return err
		}
	}
	return nil
}

// reevaluateWaiting перепроверяет все ждущие inclusive-шлюзы инстанса.
// Вызывается при поглощении токена end-событием: мёртвая ветка ниже
// по течению от события не существует, поэтому фильтрация по графу
// здесь не работает — проверяются все ждущие слияния.
func (e *Engine) reevaluateWaiting(ctx context.Context, state *InstanceState) error {
	for _, gw := range state.Gateways() {
		def := state.Graph.Node(gw.DefinitionID)
		if def == nil || def.GatewayType != domain.GatewayInclusive {
			continue
		}
		if err := e.reevaluateGateway(ctx, state, def, gw); err != nil {
			return err
		}
	}
	return nil
}

// reevaluateGateway пересчитывает ожидание одного ждущего inclusive-шлюза
// и завершает его, если все оставшиеся живые ветки уже прибыли.
func (e *Engine) reevaluateGateway(ctx context.Context, state *InstanceState, def *domain.FlowNodeDefinition, gw *domain.GatewayInstance) error {
	if gw.State != domain.NodeStateWaiting {
		return nil
	}

	arrival := state.Merge.Reevaluate(gw)
	if arrival.Stale {
		return nil
	}

	gw.HitCount = arrival.Hits
	gw.Expected = arrival.Expected

	if !arrival.Completed {
		return e.saveGateway(ctx, state, gw)
	}

	e.logger.Info("inclusive gateway unblocked",
		"instance_id", state.InstanceID(),
		"gateway", def.ID,
		"hits", arrival.Hits,
		"expected", arrival.Expected,
	)

	return e.completeGateway(ctx, state, def, gw)
}

// reconcile синхронизирует активный инстанс с БД: узлы, завершённые
// worker'ом без события (polling-only режим), двигают токены так же,
// как если бы событие пришло из очереди.
func (e *Engine) reconcile(ctx context.Context, state *InstanceState) {
	if state.IsCancelled() {
		return
	}

	// Worker мог записать выходные переменные напрямую в БД
	if instance, err := e.processRepo.GetByID(ctx, state.InstanceID()); err == nil {
		state.SetVariables(instance.Variables)
	}

	persisted, err := e.nodeRepo.ListByProcessInstance(ctx, state.InstanceID())
	if err != nil {
		e.logger.Error("failed to list nodes for reconcile",
			"instance_id", state.InstanceID(),
			"error", err,
		)
		return
	}

	for i := range persisted {
		row := persisted[i]

		// Шлюзы и события двигает сам engine, их память авторитетна
		if row.Kind != domain.KindActivity {
			continue
		}
		if row.State != domain.NodeStateCompleted && row.State != domain.NodeStateFailed {
			continue
		}

		node := state.NodeByID(row.ID)
		if node == nil || node.State == row.State || !node.State.IsLive() {
			continue
		}

		payload := mq.NodeCompletedPayload{
			NodeID:       row.ID,
			InstanceID:   state.InstanceID(),
			DefinitionID: row.DefinitionID,
			Status:       string(row.State),
			Error:        row.Error,
			Attempt:      row.Attempt,
		}
		if err := e.processNodeCompleted(ctx, payload); err != nil {
			e.logger.Error("failed to reconcile node completion",
				"node_id", row.ID,
				"error", err,
			)
		}
	}
}

// finalizeIfQuiescent завершает инстанс, если работы не осталось.
//
// Инстанс завершается, когда нет узлов в READY/EXECUTING и нет ждущих
// шлюзов. Если остались FAILED-узлы или шлюзы — инстанс падает; retry
// упавшего узла переоткрывает его обратно в RUNNING. Ждущий
// parallel-шлюз с мёртвой веткой блокирует финализацию: инстанс
// остаётся RUNNING.
func (e *Engine) finalizeIfQuiescent(ctx context.Context, state *InstanceState) error {
	if state.IsCancelled() || state.HasLiveWork() {
		return nil
	}

	instance := state.Instance
	if instance.IsFinished() {
		return nil
	}

	if failed := state.FailedNodes(); len(failed) > 0 {
		ids := make([]string, 0, len(failed))
		for _, node := range failed {
			ids = append(ids, node.DefinitionID)
		}
		instance.MarkFailed(fmt.Sprintf("nodes failed: %v", ids))
		e.logger.Warn("instance failed",
			"instance_id", instance.ID,
			"failed_nodes", ids,
			"duration", instance.Duration(),
		)
	} else {
		instance.MarkCompleted()
		e.logger.Info("instance completed",
			"instance_id", instance.ID,
			"duration", instance.Duration(),
		)
	}

	if err := e.processRepo.Update(ctx, instance); err != nil {
		return fmt.Errorf("update instance status: %w", err)
	}

	telemetry.InstancesFinished.WithLabelValues(string(instance.Status)).Inc()

	e.removeActive(instance.ID)
	return nil
}

// terminateInstance немедленно завершает инстанс (terminate end event).
//
// Все живые токены гасятся, ждущие слияния закрываются fail-closed,
// оставшиеся экземпляры архивируются.
func (e *Engine) terminateInstance(ctx context.Context, state *InstanceState) error {
	state.MarkCancelled()

	for _, gw := range state.Gateways() {
		state.Merge.Forget(gw.ID)
	}

	if err := e.nodeRepo.ArchiveByProcessInstance(ctx, state.InstanceID()); err != nil {
		e.logger.Warn("failed to archive node instances", "error", err)
	}

	instance := state.Instance
	instance.MarkCompleted()
	if err := e.processRepo.Update(ctx, instance); err != nil {
		return fmt.Errorf("update terminated instance: %w", err)
	}

	telemetry.InstancesFinished.WithLabelValues(string(instance.Status)).Inc()

	e.logger.Info("instance terminated",
		"instance_id", instance.ID,
		"duration", instance.Duration(),
	)

	e.removeActive(instance.ID)
	return nil
}

// failInstance переводит инстанс в статус FAILED.
func (e *Engine) failInstance(ctx context.Context, instance *domain.ProcessInstance, errMsg string) error {
	instance.MarkFailed(errMsg)

	if err := e.processRepo.Update(ctx, instance); err != nil {
		return fmt.Errorf("update instance to failed: %w", err)
	}

	e.logger.Warn("instance failed early",
		"instance_id", instance.ID,
		"error", errMsg,
	)

	return fmt.Errorf("instance failed: %s", errMsg)
}

// activeOrRestore возвращает активный InstanceState, при необходимости
// восстанавливая его из БД (после рестарта engine).
// Возвращает (nil, nil), если инстанс завершён или не существует.
func (e *Engine) activeOrRestore(ctx context.Context, instanceID uuid.UUID) (*InstanceState, error) {
	if state := e.getActive(instanceID); state != nil {
		return state, nil
	}

	instance, err := e.processRepo.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get instance: %w", err)
	}

	if instance.IsFinished() {
		return nil, nil
	}

	definition, err := e.definitionRepo.GetByID(ctx, instance.DefinitionID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrDefinitionNotFound, instance.DefinitionID)
		}
		return nil, fmt.Errorf("get definition: %w", err)
	}

	state := NewInstanceState(instance, definition)
	if err := state.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize state: %w", err)
	}

	persisted, err := e.nodeRepo.ListByProcessInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("list node instances: %w", err)
	}
	state.RestoreNodes(persisted)

	if err := e.addActive(state); err != nil {
		if errors.Is(err, ErrInstanceAlreadyActive) {
			// Кто-то уже восстановил — возвращаем его
			return e.getActive(instanceID), nil
		}
		return nil, err
	}

	e.logger.Info("instance state restored",
		"instance_id", instanceID,
		"stats", state.Stats(),
	)

	return state, nil
}

// Retry перезапускает упавший узел.
//
// Узел остаётся тем же экземпляром: attempt увеличивается, ошибка
// очищается, условия и переходы при завершении вычислятся заново по
// обновлённым данным. Завершённые шлюзы НЕ взводятся заново: уже
// принятые решения о слиянии не пересматриваются. Инстанс,
// финализированный как FAILED, возвращается в RUNNING.
//
// variables — исправленные оператором данные; сливаются в контекст
// инстанса перед повторным выполнением.
func (e *Engine) Retry(ctx context.Context, instanceID, nodeID uuid.UUID, variables map[string]any) error {
	if e.IsStopped() {
		return ErrEngineStopped
	}

	state, err := e.activeOrRestore(ctx, instanceID)
	if err != nil {
		return err
	}
	if state == nil {
		state, err = e.reopenFailed(ctx, instanceID)
		if err != nil {
			return err
		}
	}
	if state.IsCancelled() {
		return ErrInstanceCancelled
	}

	node := state.NodeByID(nodeID)
	if node == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}
	if node.State != domain.NodeStateFailed {
		return fmt.Errorf("%w: %s is %s", ErrNodeNotFailed, nodeID, node.State)
	}

	if len(variables) > 0 {
		state.SetVariables(variables)
		state.Instance.Variables = state.Variables()
		if err := e.processRepo.Update(ctx, state.Instance); err != nil {
			return fmt.Errorf("update instance variables: %w", err)
		}
	}

	if err := node.MarkRetrying(); err != nil {
		return err
	}
	if err := e.nodeRepo.SaveState(ctx, node); err != nil {
		return fmt.Errorf("save retrying node: %w", err)
	}

	e.logger.Info("node retry dispatched",
		"instance_id", instanceID,
		"node_id", nodeID,
		"attempt", node.Attempt,
	)

	// Шлюз перевыполняется самим engine: merge-решение уже принято,
	// повторяется только выбор исходящих переходов
	def := state.Graph.Node(node.DefinitionID)
	if def != nil && def.IsGateway() {
		if gw := state.Gateway(node.DefinitionID); gw != nil {
			return e.completeGateway(ctx, state, def, gw)
		}
	}

	if e.publisher != nil {
		if err := e.publisher.PublishNodeReady(ctx, node.ID, instanceID); err != nil {
			e.logger.Warn("failed to publish node.ready for retry",
				"node_id", node.ID,
				"error", err,
			)
		}
	}

	return nil
}

// reopenFailed возвращает FAILED-инстанс в RUNNING и восстанавливает
// его состояние для retry. Завершённые успешно и отменённые инстансы
// не переоткрываются.
func (e *Engine) reopenFailed(ctx context.Context, instanceID uuid.UUID) (*InstanceState, error) {
	instance, err := e.processRepo.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return nil, fmt.Errorf("get instance: %w", err)
	}

	if instance.Status != domain.InstanceStatusFailed {
		return nil, fmt.Errorf("%w: %s is %s", ErrInstanceNotFound, instanceID, instance.Status)
	}

	instance.MarkRunning()
	if err := e.processRepo.Update(ctx, instance); err != nil {
		return nil, fmt.Errorf("reopen instance: %w", err)
	}

	e.logger.Info("failed instance reopened for retry", "instance_id", instanceID)

	state, err := e.activeOrRestore(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}
	return state, nil
}

// KillBranch регистрирует смерть ветки с фронтиром nodeID.
//
// Операторская операция (и путь для interrupting boundary событий):
// публикует branch.died, дальше обычный путь processBranchDied.
func (e *Engine) KillBranch(ctx context.Context, instanceID, nodeID uuid.UUID, reason string) error {
	state, err := e.activeOrRestore(ctx, instanceID)
	if err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
	}

	node := state.NodeByID(nodeID)
	if node == nil {
		return fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	if e.publisher == nil {
		// Без MQ регистрируем смерть напрямую
		return e.processBranchDied(ctx, mq.BranchDiedPayload{
			NodeID:       nodeID,
			InstanceID:   instanceID,
			DefinitionID: node.DefinitionID,
			Reason:       reason,
		})
	}

	return e.publisher.PublishBranchDied(ctx, mq.BranchDiedPayload{
		NodeID:       nodeID,
		InstanceID:   instanceID,
		DefinitionID: node.DefinitionID,
		Reason:       reason,
	})
}

// DeleteInstance удаляет process instance с каскадной архивацией.
//
// Порядок жёсткий: сначала инстанс помечается cancelled (новые токены
// не выдаются), затем слияния закрываются fail-closed, затем экземпляры
// архивируются и удаляются. Прибытие в удалённый шлюз — no-op.
func (e *Engine) DeleteInstance(ctx context.Context, instanceID uuid.UUID) error {
	state := e.getActive(instanceID)
	if state != nil {
		state.MarkCancelled()
		for _, gw := range state.Gateways() {
			state.Merge.Forget(gw.ID)
		}
	}

	instance, err := e.processRepo.GetByID(ctx, instanceID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			e.removeActive(instanceID)
			return fmt.Errorf("%w: %s", ErrInstanceNotFound, instanceID)
		}
		return fmt.Errorf("get instance: %w", err)
	}

	if !instance.IsFinished() {
		instance.MarkCancelled()
		if err := e.processRepo.Update(ctx, instance); err != nil {
			return fmt.Errorf("update cancelled instance: %w", err)
		}
	}

	// Каскад: архив, затем удаление записей
	if err := e.nodeRepo.ArchiveByProcessInstance(ctx, instanceID); err != nil {
		return fmt.Errorf("archive node instances: %w", err)
	}
	if err := e.nodeRepo.DeleteByProcessInstance(ctx, instanceID); err != nil {
		return fmt.Errorf("delete node instances: %w", err)
	}
	if err := e.processRepo.Delete(ctx, instanceID); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}

	e.removeActive(instanceID)

	e.logger.Info("instance deleted", "instance_id", instanceID)
	return nil
}
